package turnrunner

import (
	"sync"

	"github.com/clawdbot/gateway/internal/agent"
)

// Registry tracks the agent.Controller backing each session's in-flight
// turn, so a process-wide attach surface (see cmd/server's attach
// handler) can find a running turn's PTY by session key and let an
// operator pause it, watch its output, and type into it while it's
// paused — the genuine, wired successor to the teacher's own
// human-attaches-to-a-shared-PTY feature.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]*agent.Controller
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]*agent.Controller)}
}

// Track records ctrl as the controller for sessionKey's in-flight turn.
func (r *Registry) Track(sessionKey string, ctrl *agent.Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[sessionKey] = ctrl
}

// Untrack removes sessionKey's entry, once its turn has finished.
func (r *Registry) Untrack(sessionKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byKey, sessionKey)
}

// Get returns the controller currently running sessionKey's turn, if
// any.
func (r *Registry) Get(sessionKey string) (*agent.Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctrl, ok := r.byKey[sessionKey]
	return ctrl, ok
}
