package agent

import (
	"context"

	"github.com/propflow/ai-services/internal/storage"
)

// Delegate is the message-processing collaborator invoked once per admitted
// turn. Implementations may take multiple seconds; callers bound the call
// with a context deadline.
type Delegate interface {
	Invoke(ctx context.Context, input, userID string, history []storage.Message) (string, error)
}

// Suggestion is a proposed next action for a user.
type Suggestion struct {
	Title       string `json:"title"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// SuggestionsProvider returns suggested actions for a user, most relevant
// first. An empty list is a valid result.
type SuggestionsProvider interface {
	SuggestionsFor(ctx context.Context, userID string) ([]Suggestion, error)
}
