package hub

import (
	"errors"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/clawdbot/gateway/internal/noderegistry"
	"github.com/clawdbot/gateway/internal/wire"
)

// helloFields is the parsed shape of a client's hello frame, per spec
// §4.H: "hello { role, clientName, clientVersion, platform, mode,
// instanceId?, scopes, commands?, token|password }".
type helloFields struct {
	Role          string
	ClientName    string
	ClientVersion string
	Platform      string
	Mode          string
	InstanceID    string
	Token         string
	PasswordHash  string
	Commands      []string
}

func parseHello(e *wire.Envelope) (helloFields, error) {
	if e.Type != wire.TypeHello {
		return helloFields{}, fmt.Errorf("hub: expected hello, got %s", e.Type)
	}
	f := helloFields{}
	f.Role, _ = e.GetString("role")
	f.ClientName, _ = e.GetString("clientName")
	f.ClientVersion, _ = e.GetString("clientVersion")
	f.Platform, _ = e.GetString("platform")
	f.Mode, _ = e.GetString("mode")
	f.InstanceID, _ = e.GetString("instanceId")
	f.Token, _ = e.GetString("token")
	f.PasswordHash, _ = e.GetString("password")

	if v, ok := e.Get("commands"); ok {
		if arr, ok := v.AsArray(); ok {
			for _, item := range arr {
				if s, ok := item.AsString(); ok {
					f.Commands = append(f.Commands, s)
				}
			}
		}
	}
	if f.Role == "" {
		return helloFields{}, errors.New("hub: hello missing role")
	}
	return f, nil
}

// Handshake reads the first frame off a freshly-upgraded connection,
// requires it to be a valid, authenticated hello, and returns a
// registered Client ready for its ReadPump/WritePump. On any failure the
// connection is closed and an error returned.
func (h *Hub) Handshake(conn *websocket.Conn) (*Client, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("hub: read hello: %w", err)
	}
	env, err := wire.Decode(data)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("hub: decode hello: %w", err)
	}
	hello, err := parseHello(env)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if h.auth != nil && h.auth.IsEnabled() {
		if !h.auth.Authenticate(hello.Token, hello.PasswordHash) {
			conn.Close()
			return nil, errors.New("hub: authentication failed")
		}
	}

	role := Role(hello.Role)
	nodeID := ""
	if role == RoleNode {
		nodeID = hello.InstanceID
		if nodeID == "" {
			conn.Close()
			return nil, errors.New("hub: node hello missing instanceId")
		}
		platform := noderegistry.Platform(hello.Platform)
		h.nodes.Attach(nodeID, hello.ClientName, platform, hello.Commands, nil)
	}

	c := newClient(conn, h, role, nodeID, hello.ClientName, hello.InstanceID)
	h.register(c)

	snap := h.buildSnapshot()
	okEnv := snap.ToHelloOkEnvelope()
	data, err = okEnv.Encode()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("hub: encode hello.ok: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		conn.Close()
		return nil, fmt.Errorf("hub: write hello.ok: %w", err)
	}

	return c, nil
}

func (h *Hub) buildSnapshot() wire.HelloOk {
	if h.snapshot == nil {
		return wire.HelloOk{
			Server:   map[string]wire.Value{"uptimeMs": wire.NewInt(h.uptime().Milliseconds())},
			Features: map[string]wire.Value{},
			Health:   wire.NewMap(map[string]wire.Value{"ok": wire.NewBool(true)}),
			UptimeMs: h.uptime().Milliseconds(),
		}
	}
	snap := h.snapshot()
	snap.UptimeMs = h.uptime().Milliseconds()
	return snap
}

// handleFrame dispatches a decoded frame from an already-handshaked
// client: rpc.req goes through the dispatch table, seqGap triggers a
// full push.snapshot resend, and node.invoke.result frames from node
// clients are routed to the invoke router.
func (h *Hub) handleFrame(c *Client, env *wire.Envelope) {
	switch env.Type {
	case wire.TypeRPCRequest:
		h.dispatchRPC(c, env)
	case wire.TypeSeqGap:
		snap := h.buildSnapshot()
		c.enqueue(snap.ToPushSnapshotEnvelope())
	case wire.TypeNodeInvokeResult:
		result := wire.ParseNodeInvokeResult(env)
		h.invoker.Resolve(c.nodeID, result)
	default:
		// Unknown frame types are dropped, matching the mapper's
		// "unknown event names are dropped silently" rule for the
		// symmetric client-side case.
	}
}
