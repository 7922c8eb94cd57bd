package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/clawdbot/gateway/internal/approvals"
	"github.com/clawdbot/gateway/internal/eventlog"
	"github.com/clawdbot/gateway/internal/hubauth"
	"github.com/clawdbot/gateway/internal/noderegistry"
	"github.com/clawdbot/gateway/internal/wire"
)

// Snapshot builds the current server-state block sent in HelloOk and
// resent on seqGap. The caller (cmd/server's wiring) supplies this so
// the hub itself stays free of orchestrator/session internals.
type Snapshot func() wire.HelloOk

// Hub is the WebSocket multiplexer described by spec §4.H: it accepts
// clients by role, authenticates hello frames, dispatches RPCs, routes
// node.invoke traffic through the node registry, and fans out
// seq-ordered events to every connected chat-ui/cli client.
type Hub struct {
	auth     *hubauth.Authenticator
	nodes    *noderegistry.Registry
	invoker  *noderegistry.Router
	sessions string // sessionstore file path
	approver     *approvals.Server
	snapshot     Snapshot
	log          *eventlog.Log // optional; nil disables durable event history
	orchestrator Submitter     // optional; nil disables chat.send

	startedAt time.Time

	mu          sync.RWMutex
	clients     map[*Client]struct{}
	nodeClients map[string]*Client // nodeId -> client, for SendToNode

	handlers map[string]rpcHandler
}

type rpcHandler func(ctx context.Context, h *Hub, c *Client, params wire.Value) (wire.Value, *wire.RPCError)

// Submitter is the subset of internal/orchestrator the hub needs for
// the chat.send RPC, kept as a local interface so this package never
// imports internal/orchestrator (which imports this package's
// EventPublisher shape the other direction).
type Submitter interface {
	Submit(sessionKey, channel, rawText string, receivedAt time.Time) error
}

// Config wires the hub's collaborators, per spec §4.H and §4.G.
type Config struct {
	Auth           *hubauth.Authenticator
	Nodes          *noderegistry.Registry
	Invoker        *noderegistry.Router
	SessionStore   string
	Approvals      *approvals.Server
	Snapshot       Snapshot
	EventLog       *eventlog.Log
	Orchestrator   Submitter
}

func New(cfg Config) *Hub {
	h := &Hub{
		auth:         cfg.Auth,
		nodes:        cfg.Nodes,
		invoker:      cfg.Invoker,
		sessions:     cfg.SessionStore,
		approver:     cfg.Approvals,
		snapshot:     cfg.Snapshot,
		log:          cfg.EventLog,
		orchestrator: cfg.Orchestrator,
		startedAt:    time.Now(),
		clients:      map[*Client]struct{}{},
		nodeClients:  map[string]*Client{},
	}
	h.handlers = map[string]rpcHandler{
		"node.list":             handleNodeList,
		"node.invoke":           handleNodeInvoke,
		"session.get":           handleSessionGet,
		"session.setModel":      handleSessionSetModel,
		"session.clearModel":    handleSessionClearModel,
		"exec.approval.request": handleExecApprovalRequest,
		"chat.send":             handleChatSend,
	}
	return h
}

// register adds a fully-handshaked client to the hub, tracking it by
// node id when its role is RoleNode so SendToNode can find it later.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	if c.role == RoleNode && c.nodeID != "" {
		h.nodeClients[c.nodeID] = c
	}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	if c.role == RoleNode && c.nodeID != "" {
		if h.nodeClients[c.nodeID] == c {
			delete(h.nodeClients, c.nodeID)
		}
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	close(c.output)
	if c.role == RoleNode && c.nodeID != "" {
		h.nodes.Detach(c.nodeID)
		h.invoker.FailAllForNode(c.nodeID)
	}
}

// SetOrchestrator wires the Submitter after construction, mirroring
// noderegistry.Router.SetSender: cmd/server builds the hub first (the
// orchestrator's EventPublisher), then the orchestrator, then closes
// this remaining direction of their mutual dependency.
func (h *Hub) SetOrchestrator(o Submitter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.orchestrator = o
}

func (h *Hub) getOrchestrator() Submitter {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.orchestrator
}

// SendToNode implements noderegistry.FrameSender by delivering a frame
// to the node's own WebSocket connection.
func (h *Hub) SendToNode(nodeID string, e *wire.Envelope) error {
	h.mu.RLock()
	c, ok := h.nodeClients[nodeID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("hub: node %s not connected", nodeID)
	}
	c.enqueue(e)
	return nil
}

// BroadcastEvent fans an event out to every connected chat-ui/cli
// client, stamping each with that client's own monotonic seq per spec
// §4.H ("Every outbound event has a monotonic seq").
func (h *Hub) BroadcastEvent(event string, payload wire.Value, stateVersion wire.Value) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if c.role != RoleNode {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		seq := c.nextSeq()
		env := wire.NewEvent(event, payload, seq, stateVersion)
		c.enqueue(env)
		h.recordDurable(c.streamID(), seq, event, payload, stateVersion)
	}
}

// recordDurable persists an event to the optional eventlog. Failures are
// logged, not surfaced — durability here is a supplement to the
// in-memory hub, not a requirement for delivery.
func (h *Hub) recordDurable(streamID string, seq int64, event string, payload, stateVersion wire.Value) {
	if h.log == nil {
		return
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		log.Printf("hub: eventlog marshal payload: %v", err)
		return
	}
	stateJSON, err := json.Marshal(stateVersion)
	if err != nil {
		log.Printf("hub: eventlog marshal stateVersion: %v", err)
		return
	}
	if err := h.log.Append(streamID, seq, event, string(payloadJSON), string(stateJSON), time.Now()); err != nil {
		log.Printf("hub: eventlog append: %v", err)
	}
}

// ClientCount reports the number of connected clients, used by health
// reporting.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) uptime() time.Duration {
	return time.Since(h.startedAt)
}
