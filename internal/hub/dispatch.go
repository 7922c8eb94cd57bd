package hub

import (
	"context"
	"time"

	"github.com/clawdbot/gateway/internal/approvals"
	"github.com/clawdbot/gateway/internal/sessionstore"
	"github.com/clawdbot/gateway/internal/wire"
)

// dispatchRPC looks up env's method in the dispatch table and replies
// with rpc.res, per spec §4.H's "Dispatch table: node.list, node.invoke,
// session.*, exec.approval.request, plus channel-specific RPCs."
func (h *Hub) dispatchRPC(c *Client, env *wire.Envelope) {
	id, _ := env.GetString("id")
	method, _ := env.GetString("method")
	params, _ := env.Get("params")

	handler, ok := h.handlers[method]
	if !ok {
		c.enqueue(wire.NewRPCResponse(id, false, wire.Null, &wire.RPCError{
			Code:    "unknown-method",
			Message: "no handler registered for " + method,
		}))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	payload, rpcErr := handler(ctx, h, c, params)
	c.enqueue(wire.NewRPCResponse(id, rpcErr == nil, payload, rpcErr))
}

func handleNodeList(_ context.Context, h *Hub, _ *Client, _ wire.Value) (wire.Value, *wire.RPCError) {
	nodes := h.nodes.List()
	items := make([]wire.Value, 0, len(nodes))
	for _, n := range nodes {
		commands := make([]wire.Value, 0, len(n.Commands))
		for _, cmd := range n.Commands {
			commands = append(commands, wire.NewString(cmd))
		}
		items = append(items, wire.NewMap(map[string]wire.Value{
			"nodeId":      wire.NewString(n.NodeID),
			"displayName": wire.NewString(n.DisplayName),
			"platform":    wire.NewString(string(n.Platform)),
			"commands":    wire.NewArray(commands),
		}))
	}
	return wire.NewArray(items), nil
}

func handleNodeInvoke(ctx context.Context, h *Hub, _ *Client, params wire.Value) (wire.Value, *wire.RPCError) {
	nodeID, _ := paramString(params, "nodeId")
	command, _ := paramString(params, "command")
	idempotencyKey, _ := paramString(params, "idempotencyKey")
	invokeParams, _ := params.Field("params")
	timeoutMs, _ := paramInt(params, "timeoutMs")

	timeout := 30 * time.Second
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}

	if command == "" || idempotencyKey == "" {
		return wire.Null, &wire.RPCError{Code: "invalid-params", Message: "command and idempotencyKey are required"}
	}

	result, err := h.invoker.Invoke(ctx, nodeID, command, invokeParams, idempotencyKey, timeout)
	if err != nil {
		return wire.Null, &wire.RPCError{Code: "invoke-failed", Message: err.Error()}
	}
	payload := map[string]wire.Value{
		"ok": wire.NewBool(result.OK),
	}
	if result.Error != "" {
		payload["error"] = wire.NewString(result.Error)
	}
	if result.PayloadJSON != "" {
		payload["payloadJSON"] = wire.NewString(result.PayloadJSON)
	}
	return wire.NewMap(payload), nil
}

// handleChatSend is the channel-specific RPC spec §4.H alludes to
// ("plus channel-specific RPCs"): a chat-ui client's inbound message,
// handed to the Session Orchestrator's debounced per-key queue rather
// than answered synchronously — the resulting turn's progress arrives
// as `chat` events over this same connection.
func handleChatSend(_ context.Context, h *Hub, _ *Client, params wire.Value) (wire.Value, *wire.RPCError) {
	orch := h.getOrchestrator()
	if orch == nil {
		return wire.Null, &wire.RPCError{Code: "unavailable", Message: "orchestrator not configured"}
	}
	sessionKey, _ := paramString(params, "sessionId")
	text, _ := paramString(params, "text")
	channel, ok := paramString(params, "channel")
	if !ok || channel == "" {
		channel = "chat"
	}
	if sessionKey == "" || text == "" {
		return wire.Null, &wire.RPCError{Code: "invalid-params", Message: "sessionId and text are required"}
	}
	if err := orch.Submit(sessionKey, channel, text, time.Now()); err != nil {
		return wire.Null, &wire.RPCError{Code: "queue-full", Message: err.Error()}
	}
	return wire.NewBool(true), nil
}

func handleSessionGet(_ context.Context, h *Hub, _ *Client, params wire.Value) (wire.Value, *wire.RPCError) {
	key, _ := paramString(params, "sessionId")
	if key == "" {
		return wire.Null, &wire.RPCError{Code: "invalid-params", Message: "sessionId is required"}
	}
	s, err := sessionstore.Get(h.sessions, key)
	if err != nil {
		return wire.Null, &wire.RPCError{Code: "store-error", Message: err.Error()}
	}
	if s == nil {
		return wire.Null, nil
	}
	return sessionToValue(s), nil
}

func handleSessionSetModel(_ context.Context, h *Hub, _ *Client, params wire.Value) (wire.Value, *wire.RPCError) {
	key, _ := paramString(params, "sessionId")
	provider, _ := paramString(params, "provider")
	model, _ := paramString(params, "model")
	if key == "" || provider == "" || model == "" {
		return wire.Null, &wire.RPCError{Code: "invalid-params", Message: "sessionId, provider, and model are required"}
	}
	err := sessionstore.Update(h.sessions, func(sessions map[string]*sessionstore.Session) error {
		s, ok := sessions[key]
		if !ok {
			s = sessionstore.NewSession(key, sessionstore.ChatDirect, time.Now())
			sessions[key] = s
		}
		s.SetModelOverride(provider, model)
		s.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return wire.Null, &wire.RPCError{Code: "store-error", Message: err.Error()}
	}
	return wire.NewBool(true), nil
}

func handleSessionClearModel(_ context.Context, h *Hub, _ *Client, params wire.Value) (wire.Value, *wire.RPCError) {
	key, _ := paramString(params, "sessionId")
	if key == "" {
		return wire.Null, &wire.RPCError{Code: "invalid-params", Message: "sessionId is required"}
	}
	err := sessionstore.Update(h.sessions, func(sessions map[string]*sessionstore.Session) error {
		s, ok := sessions[key]
		if !ok {
			return nil
		}
		s.ClearModelOverride()
		s.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return wire.Null, &wire.RPCError{Code: "store-error", Message: err.Error()}
	}
	return wire.NewBool(true), nil
}

// handleExecApprovalRequest lets an authenticated chat-ui/cli client
// answer a pending approval inline over the hub connection, as an
// alternative to the out-of-band approval socket responder.
func handleExecApprovalRequest(_ context.Context, h *Hub, _ *Client, params wire.Value) (wire.Value, *wire.RPCError) {
	if h.approver == nil {
		return wire.Null, &wire.RPCError{Code: "unavailable", Message: "approval socket not configured"}
	}
	requestID, _ := paramString(params, "id")
	decisionStr, _ := paramString(params, "decision")
	if requestID == "" || decisionStr == "" {
		return wire.Null, &wire.RPCError{Code: "invalid-params", Message: "id and decision are required"}
	}
	if !h.approver.SubmitDecision(requestID, approvals.Decision(decisionStr)) {
		return wire.Null, &wire.RPCError{Code: "not-found", Message: "no pending approval with that id"}
	}
	return wire.NewBool(true), nil
}

func paramString(params wire.Value, key string) (string, bool) {
	v, ok := params.Field(key)
	if !ok {
		return "", false
	}
	return v.AsString()
}

func paramInt(params wire.Value, key string) (int64, bool) {
	v, ok := params.Field(key)
	if !ok {
		return 0, false
	}
	return v.AsInt()
}

func sessionToValue(s *sessionstore.Session) wire.Value {
	m := map[string]wire.Value{
		"sessionId": wire.NewString(s.SessionID),
		"chatType":  wire.NewString(string(s.ChatType)),
	}
	if s.ProviderOverride != nil {
		m["providerOverride"] = wire.NewString(*s.ProviderOverride)
	}
	if s.ModelOverride != nil {
		m["modelOverride"] = wire.NewString(*s.ModelOverride)
	}
	if s.GroupActivation != "" {
		m["groupActivation"] = wire.NewString(string(s.GroupActivation))
	}
	return wire.NewMap(m)
}
