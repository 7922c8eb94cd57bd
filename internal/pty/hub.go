package pty

import (
	"encoding/json"
	"sync"
)

// HubMessage is one message flowing from a Hub to its clients.
// IsBinary distinguishes raw PTY output (binary WS frame) from JSON
// control events (text WS frame).
type HubMessage struct {
	IsBinary bool
	Data     []byte
}

// ClientInfo holds information about a connected client.
type ClientInfo struct {
	UserID string
	Output chan HubMessage
}

// ControlEvent is a turn-taking or agent-lifecycle event broadcast to
// all clients of a Hub.
type ControlEvent struct {
	Type       string `json:"type"`
	Controller string `json:"controller,omitempty"`
	AgentState string `json:"agent_state,omitempty"`
	From       string `json:"from,omitempty"`
}

// Hub fans out one PTY's output to any number of connected clients and
// arbitrates who may write to it: at most one attached operator (see
// TurnController) may send input, and only while agent mode isn't
// gating input on the agent's own run state (Controller's
// pause/resume/stop cycle).
type Hub struct {
	pty  *PTY
	turn *TurnController

	mu      sync.RWMutex
	clients map[chan HubMessage]*ClientInfo

	agentMode    bool
	agentRunning bool
	agentState   string

	register   chan *ClientInfo
	unregister chan chan HubMessage
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewHub creates a Hub for p. If creatorID is non-empty, they are
// immediately assigned control.
func NewHub(p *PTY, creatorID string) *Hub {
	h := &Hub{
		pty:        p,
		turn:       NewTurnController(),
		clients:    make(map[chan HubMessage]*ClientInfo),
		register:   make(chan *ClientInfo),
		unregister: make(chan chan HubMessage),
		stop:       make(chan struct{}),
	}

	h.turn.SetOnExpire(func(userID string) {
		h.broadcastControlEvent(ControlEvent{
			Type: "control_expired",
			From: userID,
		})
	})

	if creatorID != "" {
		h.turn.TakeControl(creatorID)
	}

	return h
}

// Run starts the hub's event loop. It returns once Stop is called.
func (h *Hub) Run() {
	go h.readLoop()

	for {
		select {
		case info := <-h.register:
			h.mu.Lock()
			h.clients[info.Output] = info
			h.mu.Unlock()
			h.sendControlState(info.Output)

		case client := <-h.unregister:
			h.mu.Lock()
			info, ok := h.clients[client]
			if ok {
				delete(h.clients, client)
				if info.UserID != "" {
					h.turn.Disconnect(info.UserID)
				}
			}
			h.mu.Unlock()

		case <-h.stop:
			h.pty.Close()
			h.mu.Lock()
			h.turn.Stop()
			for client := range h.clients {
				close(client)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) readLoop() {
	buf := make([]byte, 32*1024)

	for {
		n, err := h.pty.Read(buf)
		if err != nil {
			return
		}
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			h.broadcastBinary(data)
		}
	}
}

func (h *Hub) broadcastBinary(data []byte) {
	h.broadcastMessage(HubMessage{IsBinary: true, Data: data})
}

func (h *Hub) broadcastMessage(msg HubMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client <- msg:
		default:
		}
	}
}

// Register adds client to receive PTY output, with no associated user
// (used by callers that only need to observe output, e.g.
// Controller.RunCommand).
func (h *Hub) Register(client chan HubMessage) {
	h.register <- &ClientInfo{Output: client}
}

// RegisterClient adds client under userID, participating in turn-taking.
func (h *Hub) RegisterClient(userID string, client chan HubMessage) {
	h.register <- &ClientInfo{UserID: userID, Output: client}
}

// Unregister removes client.
func (h *Hub) Unregister(client chan HubMessage) {
	h.unregister <- client
}

// Stop shuts the hub down, closing its PTY and every client channel;
// safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Write sends data to the PTY on behalf of userID, honoring turn-taking
// and agent mode: input from a non-controller, or from any human while
// an agent is running, is silently dropped.
func (h *Hub) Write(userID string, data []byte) (int, error) {
	h.mu.RLock()
	blocked := h.agentMode && h.agentRunning
	h.mu.RUnlock()
	if blocked {
		return 0, nil
	}
	if !h.turn.IsController(userID) {
		return 0, nil
	}
	return h.pty.Write(data)
}

// WriteForce writes to the PTY bypassing turn-taking checks, used by
// Controller for programmatic input (e.g. RunCommand).
func (h *Hub) WriteForce(data []byte) (int, error) {
	return h.pty.Write(data)
}

func (h *Hub) Resize(cols, rows uint16) error {
	return h.pty.Resize(cols, rows)
}

func (h *Hub) Signal(sig Signal) error {
	return h.pty.Signal(sig)
}

// TakeControl attempts to make userID the Hub's sole controller,
// succeeding only if no one currently holds control (or their grace
// period, per Reconnect, has expired). Called by cmd/server's attach
// handler when an operator's WebSocket connects.
func (h *Hub) TakeControl(userID string) bool {
	if h.turn.TakeControl(userID) {
		h.broadcastControlEvent(ControlEvent{Type: "control_taken", Controller: userID})
		return true
	}
	return false
}

func (h *Hub) Controller() string {
	return h.turn.Controller()
}

func (h *Hub) IsController(userID string) bool {
	return h.turn.IsController(userID)
}

func (h *Hub) Reconnect(userID string) {
	h.turn.Reconnect(userID)
}

// SetAgentMode enables agent-mode input gating: while the agent is
// running, human writes are dropped regardless of turn-taking state.
// The first time it is enabled the agent is marked running and an
// agent_state "running" event is broadcast.
func (h *Hub) SetAgentMode(enabled bool) {
	h.mu.Lock()
	h.agentMode = enabled
	started := false
	if enabled && h.agentState == "" {
		h.agentState = "running"
		h.agentRunning = true
		started = true
	}
	h.mu.Unlock()
	if started {
		h.broadcastControlEvent(ControlEvent{Type: "agent_state", AgentState: "running"})
	}
}

// SetAgentRunning updates the agent's running state and broadcasts the
// transition, per spec-adjacent Controller.Pause/Resume behavior.
func (h *Hub) SetAgentRunning(running bool) {
	h.mu.Lock()
	h.agentRunning = running
	if running {
		h.agentState = "running"
	} else {
		h.agentState = "paused"
	}
	state := h.agentState
	h.mu.Unlock()

	h.broadcastControlEvent(ControlEvent{Type: "agent_state", AgentState: state})
}

// SetAgentStopped marks the agent stopped and notifies clients before
// the caller tears the PTY down.
func (h *Hub) SetAgentStopped() {
	h.mu.Lock()
	h.agentRunning = false
	h.agentState = "stopped"
	h.mu.Unlock()

	h.broadcastControlEvent(ControlEvent{Type: "agent_state", AgentState: "stopped"})
}

// IsAgentRunning reports whether this hub is in agent mode and the
// agent is currently running.
func (h *Hub) IsAgentRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.agentMode && h.agentRunning
}

func (h *Hub) sendControlState(client chan HubMessage) {
	h.broadcastToOne(client, ControlEvent{
		Type:       "control_state",
		Controller: h.turn.Controller(),
		AgentState: h.agentState,
	})
}

func (h *Hub) broadcastControlEvent(event ControlEvent) {
	data, _ := json.Marshal(event)
	h.broadcastMessage(HubMessage{IsBinary: false, Data: data})
}

func (h *Hub) broadcastToOne(client chan HubMessage, event ControlEvent) {
	data, _ := json.Marshal(event)
	select {
	case client <- HubMessage{IsBinary: false, Data: data}:
	default:
	}
}
