package search

import "github.com/concordhq/concord/internal/collab"

// EntityKind discriminates what a candidate refers to.
type EntityKind string

const (
	KindUser         EntityKind = "USER"
	KindConversation EntityKind = "CONVERSATION"
)

// Candidate is a possible referent of a free-text target. Immutable once
// returned for a turn; persisted inside a pending flow between turns.
type Candidate struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Kind  EntityKind `json:"kind"`
	Email string     `json:"email,omitempty"`

	// ConvID is the conversation to operate on: the conversation itself for
	// CONVERSATION candidates, resolved lazily for USER candidates.
	ConvID string `json:"convId,omitempty"`
}

// UserCandidate converts a directory user to a candidate.
func UserCandidate(u collab.User) Candidate {
	return Candidate{
		ID:    u.ID,
		Name:  u.DisplayName,
		Kind:  KindUser,
		Email: u.Email,
	}
}

// ConversationCandidate converts a conversation to a candidate.
func ConversationCandidate(c collab.Conversation) Candidate {
	return Candidate{
		ID:     c.ID,
		Name:   c.Topic,
		Kind:   KindConversation,
		ConvID: c.ID,
	}
}

// Names returns the display names of the candidates, in order.
func Names(candidates []Candidate) []string {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Name
	}
	return names
}
