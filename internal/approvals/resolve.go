package approvals

// Resolution is the effective, fully-composed exec-approval settings for
// one agent, per spec §4.D.
type Resolution struct {
	Security        Security
	Ask             Ask
	AskFallback     AskFallback
	AutoAllowSkills bool
	Allowlist       []Entry
}

// hardcoded is the fail-secure baseline composed under everything else,
// per spec §4.D.
var hardcoded = Resolution{
	Security:        SecurityDeny,
	Ask:             AskOnMiss,
	AskFallback:     FallbackDeny,
	AutoAllowSkills: false,
}

// Overrides carries caller-supplied scalar overrides for
// ResolveExecApprovals, e.g. from a per-invocation request.
type Overrides struct {
	Security        *string
	Ask             *string
	AskFallback     *string
	AutoAllowSkills *bool
}

// ResolveExecApprovals implements spec §4.D's composition:
//
//	defaults = file.defaults ⊕ overrides ⊕ hardcoded(...)
//	agent    = agents[agentId] ⊕ agents["*"] ⊕ defaults
//	allowlist = agents["*"].allowlist ++ agents[agentId].allowlist
func ResolveExecApprovals(f *File, agentID string, overrides Overrides) Resolution {
	defaults := hardcoded
	applyDefaults(&defaults, f.Defaults)
	applyOverrides(&defaults, overrides)

	agent := defaults
	if wildcard, ok := f.Agents["*"]; ok {
		applyDefaults(&agent, wildcard.Defaults)
	}
	if specific, ok := f.Agents[agentID]; ok {
		applyDefaults(&agent, specific.Defaults)
	}

	var allowlist []Entry
	if wildcard, ok := f.Agents["*"]; ok {
		allowlist = append(allowlist, wildcard.Allowlist...)
	}
	if specific, ok := f.Agents[agentID]; ok {
		allowlist = append(allowlist, specific.Allowlist...)
	}
	agent.Allowlist = allowlist

	return agent
}

// applyDefaults overlays d onto r wherever d sets a field, i.e. r ⊕ d
// with d taking precedence.
func applyDefaults(r *Resolution, d Defaults) {
	if d.Security != nil {
		if v, ok := ParseSecurity(*d.Security); ok {
			r.Security = v
		}
	}
	if d.Ask != nil {
		if v, ok := ParseAsk(*d.Ask); ok {
			r.Ask = v
		}
	}
	if d.AskFallback != nil {
		if v, ok := ParseAskFallback(*d.AskFallback); ok {
			r.AskFallback = v
		}
	}
	if d.AutoAllowSkills != nil {
		r.AutoAllowSkills = *d.AutoAllowSkills
	}
}

func applyOverrides(r *Resolution, o Overrides) {
	applyDefaults(r, Defaults{
		Security:        o.Security,
		Ask:             o.Ask,
		AskFallback:     o.AskFallback,
		AutoAllowSkills: o.AutoAllowSkills,
	})
}
