package pty

import (
	"sync"
	"time"
)

const DefaultGracePeriod = 10 * time.Second

// TurnController arbitrates which single user may write to a PTY. The
// teacher's version let a request queue hand control between many
// simultaneous humans; a Hub here has at most one attached operator at
// a time (see cmd/server's attach handler), so TurnController is
// reduced to that operator's identity plus a reconnect grace period —
// if their WebSocket drops mid-session, TakeControl stays refused for
// the grace period so a stale duplicate connection can't steal control out
// from under a client that's still reconnecting.
type TurnController struct {
	mu sync.RWMutex

	controller   string
	disconnected map[string]bool
	graceTimers  map[string]*time.Timer
	gracePeriod  time.Duration
	onExpire     func(userID string)
}

// NewTurnController creates a new turn controller
func NewTurnController() *TurnController {
	return &TurnController{
		disconnected: make(map[string]bool),
		graceTimers:  make(map[string]*time.Timer),
		gracePeriod:  DefaultGracePeriod,
	}
}

// SetOnExpire sets the callback invoked when a controller's grace period expires
func (tc *TurnController) SetOnExpire(fn func(userID string)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.onExpire = fn
}

// Controller returns the current controller's user ID
func (tc *TurnController) Controller() string {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.controller
}

// IsController checks if the given user is the current controller
func (tc *TurnController) IsController(userID string) bool {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.controller == userID
}

// TakeControl attempts to take control (only succeeds if no one has control)
func (tc *TurnController) TakeControl(userID string) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.controller != "" {
		return false
	}

	tc.controller = userID
	delete(tc.disconnected, userID)
	return true
}

// Disconnect marks a user as disconnected and starts grace period if controller
func (tc *TurnController) Disconnect(userID string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.disconnected[userID] = true

	if tc.controller == userID {
		if timer, ok := tc.graceTimers[userID]; ok {
			timer.Stop()
		}

		tc.graceTimers[userID] = time.AfterFunc(tc.gracePeriod, func() {
			tc.expireGracePeriod(userID)
		})
	}
}

// Reconnect marks a user as reconnected and cancels grace period
func (tc *TurnController) Reconnect(userID string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	delete(tc.disconnected, userID)

	if timer, ok := tc.graceTimers[userID]; ok {
		timer.Stop()
		delete(tc.graceTimers, userID)
	}
}

// expireGracePeriod is called when the grace period expires
func (tc *TurnController) expireGracePeriod(userID string) {
	var expired bool
	var callback func(string)

	tc.mu.Lock()
	if tc.disconnected[userID] && tc.controller == userID {
		tc.controller = ""
		delete(tc.disconnected, userID)
		expired = true
		callback = tc.onExpire
	}
	delete(tc.graceTimers, userID)
	tc.mu.Unlock()

	if expired && callback != nil {
		callback(userID)
	}
}

// Stop cleans up any running timers
func (tc *TurnController) Stop() {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	for _, timer := range tc.graceTimers {
		timer.Stop()
	}
	tc.graceTimers = make(map[string]*time.Timer)
}
