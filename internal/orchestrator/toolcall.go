package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/clawdbot/gateway/internal/approvals"
	"github.com/clawdbot/gateway/internal/sandboxexec"
	"github.com/clawdbot/gateway/internal/toolpolicy"
	"github.com/clawdbot/gateway/internal/wire"
)

// dispatchToolCall implements spec §4.I's per-tool-call step: check Tool
// Policy Layer, then route to the Sandbox Executor (4.F), the Node
// Invoke Router (4.G), or a side tool.
func (o *Orchestrator) dispatchToolCall(ctx context.Context, policy sandboxexec.AgentPolicy, layers toolpolicy.Layers, call ToolCall) ToolResult {
	if !toolpolicy.Allowed(layers, call.Name) {
		return ToolResult{CallID: call.ID, Err: fmt.Errorf("orchestrator: tool %q not permitted", call.Name)}
	}

	switch call.Name {
	case "exec":
		return o.dispatchExec(ctx, policy, call)
	case "exec.cancel":
		return o.dispatchExecCancel(call)
	case "node.invoke":
		return o.dispatchNodeInvoke(ctx, call)
	default:
		if o.cfg.Side == nil {
			return ToolResult{CallID: call.ID, Err: fmt.Errorf("orchestrator: no handler for side tool %q", call.Name)}
		}
		out, err := o.cfg.Side.RunSideTool(ctx, call.Name, call.Args)
		return ToolResult{CallID: call.ID, Output: out, Err: err}
	}
}

func (o *Orchestrator) dispatchExec(ctx context.Context, policy sandboxexec.AgentPolicy, call ToolCall) ToolResult {
	if o.cfg.Sandbox == nil {
		return ToolResult{CallID: call.ID, Err: fmt.Errorf("orchestrator: sandbox executor not configured")}
	}
	params := paramsFromArgs(policy.AgentID, call.Args)
	result, err := o.cfg.Sandbox.Exec(ctx, policy, sandboxexec.Request{Provider: stringArg(call.Args, "provider"), Params: params})
	if err != nil {
		return ToolResult{CallID: call.ID, Err: err}
	}
	return ToolResult{CallID: call.ID, Output: result.Aggregated}
}

// dispatchExecCancel is the tool-call-level cancel signal of spec §8:
// it kills a still-foreground exec session, but leaves a backgrounded
// one running for the timeout to police instead.
func (o *Orchestrator) dispatchExecCancel(call ToolCall) ToolResult {
	if o.cfg.Sandbox == nil {
		return ToolResult{CallID: call.ID, Err: fmt.Errorf("orchestrator: sandbox executor not configured")}
	}
	id := stringArg(call.Args, "id")
	if id == "" {
		return ToolResult{CallID: call.ID, Err: fmt.Errorf("orchestrator: exec.cancel requires id")}
	}
	if err := o.cfg.Sandbox.Cancel(id); err != nil {
		return ToolResult{CallID: call.ID, Err: err}
	}
	return ToolResult{CallID: call.ID, Output: "cancelled"}
}

func (o *Orchestrator) dispatchNodeInvoke(ctx context.Context, call ToolCall) ToolResult {
	if o.cfg.Nodes == nil {
		return ToolResult{CallID: call.ID, Err: fmt.Errorf("orchestrator: node invoke router not configured")}
	}
	nodeID := stringArg(call.Args, "nodeId")
	command := stringArg(call.Args, "command")
	idempotencyKey := stringArg(call.Args, "idempotencyKey")
	if idempotencyKey == "" {
		idempotencyKey = call.ID
	}
	timeout := 30 * time.Second
	result, err := o.cfg.Nodes.Invoke(ctx, nodeID, command, wire.Null, idempotencyKey, timeout)
	if err != nil {
		return ToolResult{CallID: call.ID, Err: err}
	}
	if !result.OK {
		return ToolResult{CallID: call.ID, Err: fmt.Errorf("node.invoke failed: %s", result.Error)}
	}
	return ToolResult{CallID: call.ID, Output: result.PayloadJSON}
}

func paramsFromArgs(agentID string, args map[string]any) sandboxexec.Params {
	p := sandboxexec.Params{
		AgentID: agentID,
		Command: stringArg(args, "command"),
		Workdir: stringArg(args, "workdir"),
		Host:    sandboxexec.Host(stringArgOr(args, "host", string(sandboxexec.HostSandbox))),
		Node:    stringArg(args, "node"),
	}
	if sec, ok := approvals.ParseSecurity(stringArg(args, "security")); ok {
		p.Security = sec
	}
	if ask, ok := approvals.ParseAsk(stringArg(args, "ask")); ok {
		p.Ask = ask
	}
	if v, ok := args["pty"].(bool); ok {
		p.PTY = v
	}
	if v, ok := args["background"].(bool); ok {
		p.Background = v
	}
	if v, ok := args["elevated"].(bool); ok {
		p.Elevated = v
	}
	if v, ok := args["notifyOnExit"].(bool); ok {
		p.NotifyOnExit = v
	}
	if v, ok := args["yieldMs"].(float64); ok {
		p.YieldMs = int(v)
	}
	return p
}

func stringArg(args map[string]any, key string) string {
	return stringArgOr(args, key, "")
}

func stringArgOr(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return def
}
