package toolpolicy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var allTools = []string{"exec", "browser", "memory", "canvas"}

func TestResolveNoLayersAllowsEverything(t *testing.T) {
	got := Resolve(Layers{AllTools: allTools})
	require.True(t, got["exec"])
	require.True(t, got["browser"])
	require.Len(t, got, 4)
}

func TestGlobalDenyRemovesTool(t *testing.T) {
	got := Resolve(Layers{AllTools: allTools, Global: Layer{Deny: []string{"exec"}}})
	require.False(t, got["exec"])
	require.True(t, got["browser"])
}

func TestGlobalAllowRestrictsToNamedSet(t *testing.T) {
	got := Resolve(Layers{AllTools: allTools, Global: Layer{Allow: []string{"exec", "browser"}}})
	require.True(t, got["exec"])
	require.False(t, got["memory"])
}

func TestLaterLayerCannotReGrantEarlierDeny(t *testing.T) {
	got := Resolve(Layers{
		AllTools: allTools,
		Global:   Layer{Deny: []string{"exec"}},
		Agent:    Layer{Allow: []string{"exec", "browser"}},
	})
	require.False(t, got["exec"], "agent allow must not resurrect a global deny")
	require.True(t, got["browser"])
}

func TestLayersNarrowMonotonically(t *testing.T) {
	got := Resolve(Layers{
		AllTools: allTools,
		Global:   Layer{Allow: []string{"exec", "browser", "memory"}},
		Agent:    Layer{Allow: []string{"exec", "browser"}},
		Sandbox:  Layer{Deny: []string{"browser"}},
	})
	require.True(t, got["exec"])
	require.False(t, got["browser"])
	require.False(t, got["memory"])
}

func TestAllowedHelper(t *testing.T) {
	l := Layers{AllTools: allTools, Global: Layer{Deny: []string{"canvas"}}}
	require.False(t, Allowed(l, "canvas"))
	require.True(t, Allowed(l, "exec"))
}

func TestSandboxToolsOverrideReplacesNotMerges(t *testing.T) {
	base := []string{"exec", "browser"}
	override := []string{"exec"}
	require.Equal(t, override, SandboxToolsOverride(base, override))
	require.Equal(t, base, SandboxToolsOverride(base, nil))
}
