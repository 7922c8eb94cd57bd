package sandboxexec

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/clawdbot/gateway/internal/approvals"
	"github.com/clawdbot/gateway/internal/noderegistry"
)

// Engine runs the exec gating pipeline of spec §4.F and owns the exec
// session registry that tracks spawned commands.
type Engine struct {
	sessions  *sessionRegistry
	nodes     NodeInvoker
	container ContainerRunner
	sink      EventSink
}

func NewEngine(nodes NodeInvoker, container ContainerRunner) *Engine {
	return &Engine{
		sessions:  newSessionRegistry(),
		nodes:     nodes,
		container: container,
	}
}

// gated is the state produced by steps 1-6, before host dispatch.
type gated struct {
	host     Host
	security approvals.Security
	ask      approvals.Ask
	env      []string
	workdir  string
}

// Exec runs the full gating pipeline and, once gates pass, spawns the
// command and returns its (possibly still-running) Result.
func (e *Engine) Exec(ctx context.Context, policy AgentPolicy, req Request) (*Result, error) {
	params := req.Params

	g, err := e.runGates(ctx, policy, req)
	if err != nil {
		return nil, err
	}

	switch g.host {
	case HostNode:
		return e.execNode(ctx, policy, params, g)
	case HostSandbox:
		return e.execSandbox(ctx, policy, params, g)
	default:
		return e.execGateway(ctx, policy, params, g)
	}
}

// runGates implements spec §4.F steps 1-6. "configured" security/ask
// come from the agent's resolved exec-approval defaults (spec §4.D);
// "requested" comes from the invocation's Params.
func (e *Engine) runGates(ctx context.Context, policy AgentPolicy, req Request) (*gated, error) {
	params := req.Params

	configuredFile, err := policy.Approvals.Load()
	if err != nil {
		return nil, err
	}
	configured := approvals.ResolveExecApprovals(configuredFile, params.AgentID, approvals.Overrides{})

	host := params.Host
	elevatedAllowed := false

	// Step 1: elevation check.
	if params.Elevated {
		if !policy.ElevatedEnabled || !providerAllowed(policy.ElevatedProviders, req.Provider) {
			return nil, fmt.Errorf("sandboxexec: %w (provider=%s)", ErrElevatedNotAvailable, req.Provider)
		}
		host = HostGateway
		elevatedAllowed = true
	}

	// Step 2: host allowlist.
	if host != policy.ConfiguredHost && !elevatedAllowed {
		return nil, fmt.Errorf("sandboxexec: %w (requested=%s configured=%s)", ErrHostNotAllowed, host, policy.ConfiguredHost)
	}

	// Step 3: security compose.
	effectiveSecurity := approvals.MinSecurity(configured.Security, params.Security)
	if elevatedAllowed {
		effectiveSecurity = approvals.SecurityFull
	}

	// Step 4: ask compose.
	effectiveAsk := approvals.MaxAsk(configured.Ask, params.Ask)

	// Step 5: workdir. params.Workdir is passed on unchanged for every
	// host: no host-to-container path mapping is applied for the sandbox
	// host, here or at spawn time.
	workdir := params.Workdir

	// Step 6: environment merge.
	env := mergeEnvironment(ctx, host, params.Env, policy.PathPrepend)

	return &gated{
		host:     host,
		security: effectiveSecurity,
		ask:      effectiveAsk,
		env:      env,
		workdir:  workdir,
	}, nil
}

func providerAllowed(allowed []string, provider string) bool {
	for _, p := range allowed {
		if p == provider {
			return true
		}
	}
	return false
}

// execGateway implements spec §4.F step 8 followed by spawn/lifecycle.
func (e *Engine) execGateway(ctx context.Context, policy AgentPolicy, params Params, g *gated) (*Result, error) {
	cwd := g.workdir
	if cwd == "" {
		cwd = policy.WorkspaceRoot
	}

	resolvedPath, err := resolveExecutablePath(params.Command, cwd)
	if err != nil {
		return nil, err
	}

	if g.security == approvals.SecurityDeny {
		return nil, ErrSecurityDeny
	}

	if g.security == approvals.SecurityAllowlist {
		decision, err := e.decideAllowlist(ctx, policy, params, resolvedPath, cwd, g)
		if err != nil {
			return nil, err
		}
		if decision == approvals.DecisionDeny {
			return nil, ErrUserDenied
		}
	}

	name, argv := gatewayArgv(params.Command, params.PTY)
	return e.spawn(ctx, spawnRequest{
		agentID:      params.AgentID,
		sessionKey:   params.SessionKey,
		command:      params.Command,
		name:         name,
		argv:         argv,
		dir:          cwd,
		env:          g.env,
		pty:          params.PTY,
		background:   params.Background,
		yieldMs:      params.YieldMs,
		timeout:      params.Timeout,
		notifyOnExit: params.NotifyOnExit,
	})
}

// decideAllowlist runs the allowlist-match-then-ask flow of step 8.
func (e *Engine) decideAllowlist(ctx context.Context, policy AgentPolicy, params Params, resolvedPath, cwd string, g *gated) (approvals.Decision, error) {
	file, err := policy.Approvals.Load()
	if err != nil {
		return approvals.DecisionDeny, err
	}
	resolution := approvals.ResolveExecApprovals(file, params.AgentID, approvals.Overrides{})

	if match := approvals.MatchAllowlist(resolution.Allowlist, resolvedPath); match != nil {
		_ = policy.Approvals.Update(func(f *approvals.File) error {
			approvals.RecordAllowlistUse(f, params.AgentID, match.Pattern, params.Command, resolvedPath, time.Now())
			return nil
		})
		return approvals.DecisionAllowOnce, nil
	}

	if g.ask == approvals.AskOff {
		return approvals.DecisionDeny, ErrAllowlistMiss
	}

	timeoutMs := params.Timeout.Milliseconds()
	if timeoutMs <= 0 {
		timeoutMs = 60_000
	}
	decision, err := policy.Socket.RequestDecision(ctx, approvals.Request{
		Command:      params.Command,
		Cwd:          cwd,
		Host:         string(g.host),
		Security:     g.security.String(),
		Ask:          g.ask.String(),
		AgentID:      params.AgentID,
		ResolvedPath: resolvedPath,
		SessionKey:   params.SessionKey,
		TimeoutMs:    int(timeoutMs),
	}, time.Duration(timeoutMs)*time.Millisecond)
	if err != nil {
		return approvals.DecisionDeny, err
	}

	if decision == "" {
		// No allowlist match preceded this point (an early match would
		// have returned above), so the allowlist branch of the fallback
		// always resolves to deny here.
		decision = approvals.ResolveFallback(resolution.AskFallback, false)
		if decision == approvals.DecisionDeny {
			return decision, ErrApprovalTimeout
		}
		return decision, nil
	}

	if decision == approvals.DecisionAllowAlways {
		_ = policy.Approvals.Update(func(f *approvals.File) error {
			approvals.AddAllowlistEntry(f, params.AgentID, resolvedPath)
			return nil
		})
	}

	return decision, nil
}

func gatewayArgv(command string, pty bool) (string, []string) {
	return "sh", []string{"-lc", command}
}

// nodeArgv implements spec §4.F step 7's platform-dependent wrapping
// for the node-host exec path: unlike gatewayArgv, this command
// travels over the wire as a single string a remote node app hands to
// its own OS shell, so the wrapping has to be baked into that string
// rather than expressed as a separate argv array.
func nodeArgv(platform, command string) string {
	if platform == string(noderegistry.PlatformWindows) {
		return "cmd /s /c " + command
	}
	return "sh -lc " + shellQuote(command)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// execNode implements spec §4.F step 7.
func (e *Engine) execNode(ctx context.Context, policy AgentPolicy, params Params, g *gated) (*Result, error) {
	if e.nodes == nil {
		return nil, ErrNodeNotPaired
	}
	nodeID, platform, err := e.nodes.ResolveRunNode(ctx, params.Node)
	if err != nil {
		return nil, fmt.Errorf("sandboxexec: %w: %v", ErrNodeNotPaired, err)
	}

	timeout := params.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	payload, err := e.nodes.InvokeSystemRun(ctx, nodeID, nodeArgv(platform, params.Command), timeout)
	if err != nil {
		return nil, err
	}

	id := newSessionID()
	return &Result{
		ID:         id,
		Status:     StatusCompleted,
		ExitCode:   0,
		Aggregated: payload,
		Tail:       tailOf(payload, NotifyTailChars),
	}, nil
}

// execSandbox implements spec §4.F step 9's docker-exec path.
func (e *Engine) execSandbox(ctx context.Context, policy AgentPolicy, params Params, g *gated) (*Result, error) {
	if e.container == nil {
		return nil, fmt.Errorf("sandboxexec: no container runner configured for agent %s", params.AgentID)
	}
	containerID, err := e.container.EnsureRunning(ctx, params.AgentID)
	if err != nil {
		return nil, err
	}
	name, argv := e.container.ExecArgv(containerID, params.PTY)
	argv = append(argv, "sh", "-lc", params.Command)

	return e.spawn(ctx, spawnRequest{
		agentID:      params.AgentID,
		sessionKey:   params.SessionKey,
		command:      params.Command,
		name:         name,
		argv:         argv,
		dir:          g.workdir,
		env:          g.env,
		pty:          params.PTY,
		background:   params.Background,
		yieldMs:      params.YieldMs,
		timeout:      params.Timeout,
		notifyOnExit: params.NotifyOnExit,
	})
}
