package approvals

import (
	"path/filepath"
	"strings"
	"time"
)

// MatchAllowlist implements spec §4.D / §5's matchAllowlist(entries,
// resolution): entries are tried in order and the first match wins.
// Patterns containing a path separator match the resolved absolute
// path; otherwise they match the executable basename. Matching is
// case-insensitive. Returns the matching entry, or nil if none match.
func MatchAllowlist(entries []Entry, resolvedPath string) *Entry {
	base := filepath.Base(resolvedPath)
	for i := range entries {
		target := base
		if strings.ContainsRune(entries[i].Pattern, '/') {
			target = resolvedPath
		}
		if globMatch(entries[i].Pattern, target) {
			return &entries[i]
		}
	}
	return nil
}

// globMatch implements the pattern language from spec §3: `**` matches
// any characters including `/`; `*` matches anything except `/`; `?`
// matches exactly one character. Matching is case-insensitive.
func globMatch(pattern, s string) bool {
	return matchSegment(strings.ToLower(pattern), strings.ToLower(s))
}

// matchSegment is a small recursive-descent glob matcher supporting *,
// **, and ? with the "* stops at /" semantics that path/filepath.Match
// does not offer (it treats a single path segment only and has no **).
func matchSegment(pattern, s string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			if len(pattern) >= 2 && pattern[1] == '*' {
				rest := pattern[2:]
				if rest == "" {
					return true
				}
				for i := 0; i <= len(s); i++ {
					if matchSegment(rest, s[i:]) {
						return true
					}
				}
				return false
			}
			rest := pattern[1:]
			for i := 0; i <= len(s); i++ {
				if i > 0 && s[i-1] == '/' {
					break
				}
				if matchSegment(rest, s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(s) == 0 || s[0] == '/' {
				return false
			}
			pattern, s = pattern[1:], s[1:]
		default:
			if len(s) == 0 || pattern[0] != s[0] {
				return false
			}
			pattern, s = pattern[1:], s[1:]
		}
	}
	return len(s) == 0
}

// RecordAllowlistUse updates the matched entry's usage metadata
// atomically, per spec §4.D. No-op if the pattern is not present.
func RecordAllowlistUse(f *File, agentID, pattern, command, resolvedPath string, now time.Time) {
	agentKey := agentID
	if _, ok := f.Agents[agentID]; !ok {
		agentKey = "*"
	}
	settings, ok := f.Agents[agentKey]
	if !ok {
		return
	}
	for i := range settings.Allowlist {
		if settings.Allowlist[i].Pattern != pattern {
			continue
		}
		settings.Allowlist[i].LastUsedAt = &now
		settings.Allowlist[i].LastUsedCommand = command
		settings.Allowlist[i].LastResolvedPath = resolvedPath
		f.Agents[agentKey] = settings
		return
	}
}

// AddAllowlistEntry appends pattern to agentID's allowlist. No-op if the
// pattern is already present in that agent's own list, per spec §4.D.
func AddAllowlistEntry(f *File, agentID, pattern string) {
	settings := f.Agents[agentID]
	for _, e := range settings.Allowlist {
		if e.Pattern == pattern {
			return
		}
	}
	settings.Allowlist = append(settings.Allowlist, Entry{Pattern: pattern})
	if f.Agents == nil {
		f.Agents = map[string]AgentSettings{}
	}
	f.Agents[agentID] = settings
}
