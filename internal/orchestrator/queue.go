// Package orchestrator implements the Session Orchestrator of spec
// §4.I: one logical worker per session key, a bounded debounced inbound
// queue, and the turn loop that dispatches tool calls to the Sandbox
// Executor and Node Invoke Router. Grounded on the teacher's
// internal/pty/turn.go TurnController: the same single-owner-at-a-time
// invariant ("only one turn may be in flight per session key") applied
// to LLM turns instead of PTY input ownership.
package orchestrator

import (
	"sync"
	"time"
)

// DropPolicy controls what happens when a session's inbound queue is at
// capacity, per spec §4.I.
type DropPolicy string

const (
	DropOldest DropPolicy = "oldest"
	DropNewest DropPolicy = "newest"
	DropReject DropPolicy = "reject"
)

// QueueConfig carries the three knobs from spec §4.I: "debounceMs
// (coalesce back-to-back messages before firing a turn), cap (max
// outstanding), dropPolicy".
type QueueConfig struct {
	DebounceMs int
	Cap        int
	DropPolicy DropPolicy
}

func DefaultQueueConfig() QueueConfig {
	return QueueConfig{DebounceMs: 300, Cap: 20, DropPolicy: DropOldest}
}

// Message is one normalized inbound turn trigger for a session key.
type Message struct {
	SessionKey string
	Channel    string
	Text       string
	Directives map[string]string
	ReceivedAt time.Time
}

// sessionQueue is the per-session-key bounded FIFO plus in-flight guard:
// "only one turn may be in flight per session key; a second submission
// while running is queued per the policy."
type sessionQueue struct {
	mu       sync.Mutex
	cfg      QueueConfig
	pending  []Message
	inFlight bool

	debounceTimer *time.Timer
	fire          func()
}

func newSessionQueue(cfg QueueConfig, fire func()) *sessionQueue {
	return &sessionQueue{cfg: cfg, fire: fire}
}

// enqueue appends msg, applying the cap/dropPolicy, and (re)arms the
// debounce timer that eventually invokes fire(). Returns false if the
// message was dropped outright (dropPolicy=newest or reject at capacity).
func (q *sessionQueue) enqueue(msg Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cfg.Cap > 0 && len(q.pending) >= q.cfg.Cap {
		switch q.cfg.DropPolicy {
		case DropNewest, DropReject:
			return false
		default: // DropOldest
			q.pending = q.pending[1:]
		}
	}
	q.pending = append(q.pending, msg)

	if q.debounceTimer != nil {
		q.debounceTimer.Stop()
	}
	debounce := time.Duration(q.cfg.DebounceMs) * time.Millisecond
	q.debounceTimer = time.AfterFunc(debounce, q.fire)
	return true
}

// drain removes and returns everything queued, for the worker to build a
// turn's transcript addition once the debounce window fires.
func (q *sessionQueue) drain() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

// tryStart claims the single in-flight slot for this session key.
func (q *sessionQueue) tryStart() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight {
		return false
	}
	q.inFlight = true
	return true
}

// finish releases the in-flight slot and re-fires if more work queued up
// while the turn was running.
func (q *sessionQueue) finish() {
	q.mu.Lock()
	q.inFlight = false
	hasMore := len(q.pending) > 0
	q.mu.Unlock()
	if hasMore {
		q.fire()
	}
}
