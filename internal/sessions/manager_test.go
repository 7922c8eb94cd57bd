package sessions

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clawdbot/gateway/internal/sessionstore"
)

func newTestManager(t *testing.T, ttl time.Duration) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.json")
	return NewManager(path, ttl), path
}

func TestGetMissReturnsNilWithoutError(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)
	s, err := m.Get("nobody")
	require.NoError(t, err)
	require.Nil(t, s)
}

func TestGetCachesAfterFirstLoad(t *testing.T) {
	m, path := newTestManager(t, time.Minute)
	require.NoError(t, sessionstore.Update(path, func(sessions map[string]*sessionstore.Session) error {
		sessions["sess-1"] = sessionstore.NewSession("sess-1", sessionstore.ChatDirect, time.Now())
		return nil
	}))

	first, err := m.Get("sess-1")
	require.NoError(t, err)
	require.NotNil(t, first)

	require.Contains(t, m.List(), "sess-1")

	second, err := m.Get("sess-1")
	require.NoError(t, err)
	require.Same(t, first, second, "second Get should return the cached pointer, not reload")
}

func TestInvalidateForcesReload(t *testing.T) {
	m, path := newTestManager(t, time.Minute)
	require.NoError(t, sessionstore.Update(path, func(sessions map[string]*sessionstore.Session) error {
		sessions["sess-2"] = sessionstore.NewSession("sess-2", sessionstore.ChatDirect, time.Now())
		return nil
	}))
	first, err := m.Get("sess-2")
	require.NoError(t, err)

	require.NoError(t, sessionstore.Update(path, func(sessions map[string]*sessionstore.Session) error {
		model := "gpt-5"
		sessions["sess-2"].ModelOverride = &model
		return nil
	}))

	m.Invalidate("sess-2")
	reloaded, err := m.Get("sess-2")
	require.NoError(t, err)
	require.NotSame(t, first, reloaded)
	require.NotNil(t, reloaded.ModelOverride)
	require.Equal(t, "gpt-5", *reloaded.ModelOverride)
}

func TestEvictIdleDropsStaleEntries(t *testing.T) {
	m, path := newTestManager(t, time.Millisecond)
	require.NoError(t, sessionstore.Update(path, func(sessions map[string]*sessionstore.Session) error {
		sessions["sess-3"] = sessionstore.NewSession("sess-3", sessionstore.ChatDirect, time.Now())
		return nil
	}))
	_, err := m.Get("sess-3")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.Equal(t, 1, m.EvictIdle())
	require.Empty(t, m.List())
}

func TestShutdownClearsCache(t *testing.T) {
	m, path := newTestManager(t, time.Minute)
	require.NoError(t, sessionstore.Update(path, func(sessions map[string]*sessionstore.Session) error {
		sessions["sess-4"] = sessionstore.NewSession("sess-4", sessionstore.ChatDirect, time.Now())
		return nil
	}))
	_, err := m.Get("sess-4")
	require.NoError(t, err)

	m.Shutdown()
	require.Empty(t, m.List())
}
