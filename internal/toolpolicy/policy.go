// Package toolpolicy composes the layered tool allow/deny sets described
// by spec §4.J: each layer can only narrow what the previous layer
// already allowed, never re-grant something an earlier layer denied.
// Modeled on internal/approvals's ResolveExecApprovals composition,
// applied to sets of tool names instead of scalar settings.
package toolpolicy

// Layer is one allow/deny pair applied in sequence.
type Layer struct {
	Allow []string // if non-empty, intersect the running set with this
	Deny  []string // always subtracted from the running set
}

// Layers is the ordered composition input from spec §4.J:
// globalAllow/Deny, agentAllow/Deny, sandboxAllow/Deny, subagentAllow/Deny.
type Layers struct {
	Global   Layer
	Agent    Layer
	Sandbox  Layer
	Subagent Layer

	// AllTools is the universe a layer's empty Allow implicitly means
	// "no restriction yet" against. Required because a truly-empty
	// running set can't be distinguished from "not yet narrowed".
	AllTools []string
}

// Resolve computes the final permitted tool set: start with "all tools"
// minus globalDeny, intersect with globalAllow if non-empty; repeat with
// each next layer in order. A later layer's allow can never re-grant
// something denied earlier, because each step operates on the running
// set from the previous step, not on AllTools.
func Resolve(l Layers) map[string]bool {
	running := toSet(l.AllTools)
	for _, layer := range []Layer{l.Global, l.Agent, l.Sandbox, l.Subagent} {
		running = applyLayer(running, layer)
	}
	return running
}

func applyLayer(running map[string]bool, layer Layer) map[string]bool {
	for _, name := range layer.Deny {
		delete(running, name)
	}
	if len(layer.Allow) > 0 {
		allow := toSet(layer.Allow)
		for name := range running {
			if !allow[name] {
				delete(running, name)
			}
		}
	}
	return running
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, i := range items {
		m[i] = true
	}
	return m
}

// Allowed reports whether tool survives the composed layers.
func Allowed(l Layers, tool string) bool {
	return Resolve(l)[tool]
}

// SandboxToolsOverride implements spec §4.J's special case:
// "agent.sandbox.tools is replaced (not merged) by
// routing.agents[id].sandbox.tools when the latter exists."
func SandboxToolsOverride(agentDefault, perAgentOverride []string) []string {
	if perAgentOverride != nil {
		return perAgentOverride
	}
	return agentDefault
}
