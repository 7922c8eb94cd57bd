package approvals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMatchAllowlistBasenameNoSeparator(t *testing.T) {
	entries := []Entry{{Pattern: "HOSTNAME"}}
	m := MatchAllowlist(entries, "/bin/hostname")
	require.NotNil(t, m)
}

func TestMatchAllowlistFullPathWithSeparator(t *testing.T) {
	entries := []Entry{{Pattern: "/usr/bin/*"}}
	require.NotNil(t, MatchAllowlist(entries, "/usr/bin/uname"))
	require.Nil(t, MatchAllowlist(entries, "/usr/local/bin/uname"))
}

func TestMatchAllowlistStarDoesNotCrossSeparator(t *testing.T) {
	entries := []Entry{{Pattern: "/usr/*/uname"}}
	require.Nil(t, MatchAllowlist(entries, "/usr/bin/local/uname"))
	require.NotNil(t, MatchAllowlist(entries, "/usr/bin/uname"))
}

func TestMatchAllowlistDoubleStarCrossesSeparator(t *testing.T) {
	entries := []Entry{{Pattern: "/usr/**/uname"}}
	require.NotNil(t, MatchAllowlist(entries, "/usr/bin/local/uname"))
}

func TestMatchAllowlistFirstMatchWins(t *testing.T) {
	entries := []Entry{{Pattern: "/bin/*"}, {Pattern: "/bin/hostname"}}
	m := MatchAllowlist(entries, "/bin/hostname")
	require.Equal(t, "/bin/*", m.Pattern)
}

func TestAddAllowlistEntryNoOpWhenPresent(t *testing.T) {
	f := &File{Agents: map[string]AgentSettings{"main": {Allowlist: []Entry{{Pattern: "/bin/ls"}}}}}
	AddAllowlistEntry(f, "main", "/bin/ls")
	require.Len(t, f.Agents["main"].Allowlist, 1)
}

func TestRecordAllowlistUseUpdatesMetadata(t *testing.T) {
	f := &File{Agents: map[string]AgentSettings{"main": {Allowlist: []Entry{{Pattern: "/bin/ls"}}}}}
	now := time.Now()
	RecordAllowlistUse(f, "main", "/bin/ls", "ls -la", "/bin/ls", now)
	require.Equal(t, "ls -la", f.Agents["main"].Allowlist[0].LastUsedCommand)
}

func TestResolveFallback(t *testing.T) {
	require.Equal(t, DecisionAllowOnce, ResolveFallback(FallbackFull, false))
	require.Equal(t, DecisionAllowOnce, ResolveFallback(FallbackAllowlist, true))
	require.Equal(t, DecisionDeny, ResolveFallback(FallbackAllowlist, false))
	require.Equal(t, DecisionDeny, ResolveFallback(FallbackDeny, true))
}
