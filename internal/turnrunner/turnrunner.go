// Package turnrunner provides a concrete orchestrator.TurnRunner backed
// by an interactive command-line agent (Claude Code, Codex, or any CLI
// with the same shape) run under a PTY, since the retrieved example
// pack carries no LLM API client to ground a direct-API TurnRunner on.
package turnrunner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/clawdbot/gateway/internal/agent"
	"github.com/clawdbot/gateway/internal/fs"
	"github.com/clawdbot/gateway/internal/orchestrator"
	"github.com/clawdbot/gateway/internal/sessionstore"
)

// CLIRunner drives Command as a one-shot PTY subprocess per turn: the
// coalesced message text is typed into a fresh shell as `Command
// '<prompt>'`, and everything the process prints before Timeout elapses
// becomes the turn's final message. It never itself emits ToolCalls —
// a CLI agent is expected to run its own tools internally, so from the
// orchestrator's point of view every turn is one step.
type CLIRunner struct {
	Shell   string // e.g. "/bin/sh"; defaults to /bin/sh if empty
	Command string // e.g. "claude -p", "codex exec"
	Cols    uint16
	Rows    uint16
	Timeout time.Duration

	// Workspaces maps an agent ID to its filesystem workspace. When set,
	// the CLI process for a turn runs inside that session's own
	// workspace-scoped scratch directory instead of the shell's default
	// cwd, resolved by parsing the agent ID out of sessionKey's
	// "agent:<id>:<suffix>" convention. Nil when an agent has no
	// configured workspace root, in which case the process runs with no
	// cd at all.
	Workspaces map[string]*fs.Workspace

	// Sessions tracks the Controller backing an in-flight Step call, so
	// an operator-attach surface can find and interact with a running
	// turn's PTY. Nil disables tracking.
	Sessions *Registry
}

// Step implements orchestrator.TurnRunner.
func (r *CLIRunner) Step(_ context.Context, _ *sessionstore.Session, sessionKey string, messages []orchestrator.Message, priorResults []orchestrator.ToolResult) (*orchestrator.TurnResult, error) {
	if len(priorResults) > 0 {
		// This runner never requests tool calls, so a second Step for the
		// same turn should not happen; treat it as an empty continuation
		// rather than re-running the CLI.
		return &orchestrator.TurnResult{Final: ""}, nil
	}

	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	cols, rows := r.Cols, r.Rows
	if cols == 0 {
		cols = 120
	}
	if rows == 0 {
		rows = 30
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	ctrl, err := agent.NewController(sessionKey, shell, cols, rows)
	if err != nil {
		return nil, fmt.Errorf("turnrunner: start shell: %w", err)
	}
	defer ctrl.Stop()

	if r.Sessions != nil {
		r.Sessions.Track(sessionKey, ctrl)
		defer r.Sessions.Untrack(sessionKey)
	}

	workDir := r.workDir(sessionKey)

	line := r.Command + " " + shellQuote(transcript(messages))
	output, err := ctrl.RunCommandInWorkspace(sessionKey, workDir, line, timeout)
	if err != nil {
		return nil, fmt.Errorf("turnrunner: run %s: %w", r.Command, err)
	}
	return &orchestrator.TurnResult{Final: strings.TrimSpace(string(output))}, nil
}

// workDir resolves sessionKey's own scratch directory within its
// agent's workspace, per the "agent:<id>:<suffix>" convention
// sessionstore.BuildAgentMainSessionKey establishes. Returns "" if no
// workspace is configured for the agent, or the key doesn't match that
// convention (e.g. it's a raw channel-provided ID with no agent
// prefix), so the CLI process runs in its shell's default cwd instead.
func (r *CLIRunner) workDir(sessionKey string) string {
	if r.Workspaces == nil {
		return ""
	}
	agentID, ok := agentIDFromSessionKey(sessionKey)
	if !ok {
		return ""
	}
	ws, ok := r.Workspaces[agentID]
	if !ok {
		return ""
	}
	dir, err := ws.SessionDir(sessionKey)
	if err != nil {
		return ""
	}
	return dir
}

// agentIDFromSessionKey extracts <id> from a "agent:<id>:<suffix>"
// session key.
func agentIDFromSessionKey(sessionKey string) (string, bool) {
	parts := strings.SplitN(sessionKey, ":", 3)
	if len(parts) != 3 || parts[0] != "agent" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// transcript joins a turn's coalesced messages into the single prompt
// string handed to the CLI agent, in arrival order.
func transcript(messages []orchestrator.Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.Text)
	}
	return b.String()
}

// shellQuote wraps s in single quotes for the target shell, matching
// sandboxexec's own "sh -lc <command>" convention for passing untrusted
// text through a shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
