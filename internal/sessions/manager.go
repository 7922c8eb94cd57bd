// Package sessions caches sessionstore.Session records in memory in
// front of the durable JSON store. The hub and orchestrator read and
// update sessionstore directly, not through this cache. Grounded on the teacher's
// internal/sessions.Manager (mutex-guarded map, Create/Get/Delete/List/
// Shutdown lifecycle) with workspace-per-session replaced by
// cache-entry-per-session-key, since workspaces are sandboxexec's
// concern here, not this package's.
package sessions

import (
	"sync"
	"time"

	"github.com/clawdbot/gateway/internal/sessionstore"
)

type cached struct {
	session   *sessionstore.Session
	touchedAt time.Time
}

// Manager is the in-process Session entity cache described in spec §3:
// Get serves a cached record until its TTL expires, then reloads it with
// sessionstore.Get.
type Manager struct {
	mu    sync.RWMutex
	cache map[string]*cached
	path  string
	ttl   time.Duration
}

// NewManager creates a cache backed by the sessionstore file at path.
// Entries untouched for longer than ttl are dropped by EvictIdle.
func NewManager(path string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Manager{cache: make(map[string]*cached), path: path, ttl: ttl}
}

// Get returns the Session for key, loading and caching it from disk on
// a miss. A nil Session with a nil error means no session exists yet
// for key.
func (m *Manager) Get(key string) (*sessionstore.Session, error) {
	m.mu.RLock()
	c, ok := m.cache[key]
	m.mu.RUnlock()
	if ok {
		m.touch(key)
		return c.session, nil
	}

	s, err := sessionstore.Get(m.path, key)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}

	m.mu.Lock()
	m.cache[key] = &cached{session: s, touchedAt: time.Now()}
	m.mu.Unlock()
	return s, nil
}

// Invalidate drops key from the cache. Call after any sessionstore.Update
// touching key so the next Get reloads the fresh record.
func (m *Manager) Invalidate(key string) {
	m.mu.Lock()
	delete(m.cache, key)
	m.mu.Unlock()
}

func (m *Manager) touch(key string) {
	m.mu.Lock()
	if c, ok := m.cache[key]; ok {
		c.touchedAt = time.Now()
	}
	m.mu.Unlock()
}

// EvictIdle drops entries untouched for longer than the manager's ttl,
// returning the number evicted. Intended to run periodically from
// cmd/server.
func (m *Manager) EvictIdle() int {
	cutoff := time.Now().Add(-m.ttl)
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, c := range m.cache {
		if c.touchedAt.Before(cutoff) {
			delete(m.cache, k)
			n++
		}
	}
	return n
}

// List returns the session keys currently cached.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.cache))
	for k := range m.cache {
		keys = append(keys, k)
	}
	return keys
}

// Shutdown clears the cache. The durable store is untouched.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.cache = make(map[string]*cached)
	m.mu.Unlock()
}
