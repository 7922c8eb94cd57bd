// Package sessionstore persists per-agent session state as one JSON file
// per agent, with atomic read-modify-write updates, per spec §4.C.
package sessionstore

import "time"

// ChatType classifies the surface a session lives on.
type ChatType string

const (
	ChatDirect  ChatType = "direct"
	ChatGroup   ChatType = "group"
	ChatChannel ChatType = "channel"
)

// GroupActivation controls when the bot responds in a group/channel.
type GroupActivation string

const (
	ActivationMention GroupActivation = "mention"
	ActivationAny      GroupActivation = "any"
	ActivationOff      GroupActivation = "off"
)

// QueueDropPolicy controls what happens when a session's inbound queue
// is at capacity.
type QueueDropPolicy string

const (
	DropOldest QueueDropPolicy = "oldest"
	DropNewest QueueDropPolicy = "newest"
	DropReject QueueDropPolicy = "reject"
)

// AuthProfileOverride records which auth profile a session has pinned,
// where the pin came from, and how many times the transcript has been
// compacted since the pin was set.
type AuthProfileOverride struct {
	Value             string `json:"value"`
	Source            string `json:"source"`
	CompactionCounter int    `json:"compactionCounter"`
}

// Session is the persisted per-(agent,surface,peer) entity described in
// spec §3.
type Session struct {
	SessionID           string               `json:"sessionId"`
	ChatType            ChatType             `json:"chatType"`
	ProviderOverride    *string              `json:"providerOverride,omitempty"`
	ModelOverride       *string              `json:"modelOverride,omitempty"`
	AuthProfileOverride *AuthProfileOverride `json:"authProfileOverride,omitempty"`
	GroupActivation     GroupActivation      `json:"groupActivation,omitempty"`
	QueueDebounceMs     *int                 `json:"queueDebounceMs,omitempty"`
	QueueCap            *int                 `json:"queueCap,omitempty"`
	QueueDrop           *QueueDropPolicy     `json:"queueDrop,omitempty"`
	LastChannel         string               `json:"lastChannel,omitempty"`
	UpdatedAt           time.Time            `json:"updatedAt"`
}

// SetModelOverride sets provider and model together, enforcing the
// invariant that the two are always set or cleared as a pair.
func (s *Session) SetModelOverride(provider, model string) {
	s.ProviderOverride = &provider
	s.ModelOverride = &model
}

// ClearModelOverride clears provider, model, and — per spec §3
// ("resetting model always clears auth-profile override") — the pinned
// auth profile too.
func (s *Session) ClearModelOverride() {
	s.ProviderOverride = nil
	s.ModelOverride = nil
	s.AuthProfileOverride = nil
}

// NewSession creates a session record ready for lazy first-message
// creation, per spec §3 ("Created lazily on first inbound message").
func NewSession(sessionID string, chatType ChatType, now time.Time) *Session {
	return &Session{
		SessionID:       sessionID,
		ChatType:        chatType,
		GroupActivation: ActivationMention,
		UpdatedAt:       now,
	}
}
