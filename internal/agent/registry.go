package agent

import (
	"github.com/clawdbot/gateway/internal/approvals"
	"github.com/clawdbot/gateway/internal/sandboxexec"
	"github.com/clawdbot/gateway/internal/toolpolicy"
)

// Config is one agent's static routing configuration: which exec host
// it defaults to, its workspace root, and its tool allow/deny layer.
// Grounded on spec §4.J's routing.agents[id] shape, kept as config
// rather than runtime state since nothing in the spec makes it mutable
// at request time.
type Config struct {
	AgentID string

	Host          sandboxexec.Host
	WorkspaceRoot string
	PathPrepend   []string

	ElevatedEnabled   bool
	ElevatedProviders []string

	ToolAllow []string
	ToolDeny  []string
}

// Registry resolves per-agent policy for the orchestrator's exec
// gating pipeline and tool policy layers, implementing
// orchestrator.AgentResolver. Backed by a static config map loaded
// once at startup rather than a live store.
type Registry struct {
	agents       map[string]Config
	defaultAgent string
	global       toolpolicy.Layer
	allTools     []string
	approvals    *approvals.Store
	socket       *approvals.Server
}

// NewRegistry builds a Registry from a static agent list, the process-
// wide global tool layer, and the full tool universe (spec §4.J's
// "AllTools" starting set).
func NewRegistry(agents []Config, defaultAgent string, global toolpolicy.Layer, allTools []string, approvalsStore *approvals.Store, approvalsSocket *approvals.Server) *Registry {
	m := make(map[string]Config, len(agents))
	for _, a := range agents {
		m[a.AgentID] = a
	}
	return &Registry{
		agents:       m,
		defaultAgent: defaultAgent,
		global:       global,
		allTools:     allTools,
		approvals:    approvalsStore,
		socket:       approvalsSocket,
	}
}

// ResolvePolicy implements orchestrator.AgentResolver: it looks up
// agentID's static config, falling back to the configured default
// agent when agentID is unknown, and composes the tool policy layers
// spec §4.J describes (global narrowed by this agent's own layer).
func (r *Registry) ResolvePolicy(agentID string) (sandboxexec.AgentPolicy, toolpolicy.Layers, error) {
	cfg, ok := r.agents[agentID]
	if !ok {
		cfg = r.agents[r.defaultAgent]
	}

	policy := sandboxexec.AgentPolicy{
		AgentID:           cfg.AgentID,
		ConfiguredHost:    cfg.Host,
		ElevatedEnabled:   cfg.ElevatedEnabled,
		ElevatedProviders: cfg.ElevatedProviders,
		WorkspaceRoot:     cfg.WorkspaceRoot,
		PathPrepend:       cfg.PathPrepend,
		Approvals:         r.approvals,
		Socket:            r.socket,
	}
	layers := toolpolicy.Layers{
		Global:   r.global,
		Agent:    toolpolicy.Layer{Allow: cfg.ToolAllow, Deny: cfg.ToolDeny},
		AllTools: r.allTools,
	}
	return policy, layers, nil
}
