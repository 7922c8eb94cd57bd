package sessionstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// fileLocks guards concurrent read-modify-write cycles against the same
// path, matching spec §4.C ("under a per-path mutex") and the
// single-writer discipline in spec §5. Grounded on the teacher's
// internal/sessions/manager.go map+RWMutex registry pattern, applied
// here to filesystem paths instead of in-memory sessions.
var (
	fileLocksMu sync.Mutex
	fileLocks   = map[string]*sync.Mutex{}
)

func lockFor(path string) *sync.Mutex {
	fileLocksMu.Lock()
	defer fileLocksMu.Unlock()
	m, ok := fileLocks[path]
	if !ok {
		m = &sync.Mutex{}
		fileLocks[path] = m
	}
	return m
}

// data is the on-disk shape of one agent's session file: sessionId -> Session.
type data map[string]*Session

func load(path string) (data, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return data{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessionstore: read %s: %w", path, err)
	}
	if len(b) == 0 {
		return data{}, nil
	}
	var d data
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("sessionstore: parse %s: %w", path, err)
	}
	if d == nil {
		d = data{}
	}
	return d, nil
}

func save(path string, d data) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("sessionstore: mkdir: %w", err)
	}
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("sessionstore: marshal: %w", err)
	}
	tmpFile, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("sessionstore: create temp: %w", err)
	}
	tmp := tmpFile.Name()
	if _, err := tmpFile.Write(b); err != nil {
		tmpFile.Close()
		os.Remove(tmp)
		return fmt.Errorf("sessionstore: write temp: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("sessionstore: close temp: %w", err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("sessionstore: chmod temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("sessionstore: rename: %w", err)
	}
	return nil
}

// Update implements updateSessionStore(path, mutator) from spec §4.C:
// read, parse, invoke mutator, write atomically (temp file + rename)
// under a per-path mutex.
func Update(path string, mutator func(sessions map[string]*Session) error) error {
	lock := lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	d, err := load(path)
	if err != nil {
		return err
	}
	if err := mutator(d); err != nil {
		return err
	}
	return save(path, d)
}

// Get performs a read-only lookup without holding the mutator lock.
func Get(path, sessionID string) (*Session, error) {
	d, err := load(path)
	if err != nil {
		return nil, err
	}
	return d[sessionID], nil
}

// Resolve implements the lookup chain from spec §4.C: k,
// "agent:<default>:k", "agent:<default>:<alias(k)>",
// buildAgentMainSessionKey(main). Returns nil if none match.
func Resolve(path, key, defaultAgent, mainAgent string, alias func(string) string) (*Session, error) {
	d, err := load(path)
	if err != nil {
		return nil, err
	}

	if s, ok := d[key]; ok {
		return s, nil
	}

	prefixed := buildAgentKey(defaultAgent, key)
	if s, ok := d[prefixed]; ok {
		return s, nil
	}

	if alias != nil {
		aliased := buildAgentKey(defaultAgent, alias(key))
		if s, ok := d[aliased]; ok {
			return s, nil
		}
	}

	canonical := BuildAgentMainSessionKey(mainAgent)
	if s, ok := d[canonical]; ok {
		return s, nil
	}

	return nil, nil
}

func buildAgentKey(agentID, suffix string) string {
	return fmt.Sprintf("agent:%s:%s", agentID, suffix)
}

// BuildAgentMainSessionKey builds the canonical session key for an
// agent's "main" (default direct) session.
func BuildAgentMainSessionKey(agentID string) string {
	return fmt.Sprintf("agent:%s:main", agentID)
}
