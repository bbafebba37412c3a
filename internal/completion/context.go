package completion

import (
	"context"

	"github.com/example/fintrack/internal/fact"
)

// Context is the ephemeral per-session state between conversational turns:
// which fact is partially filled, which field is being asked for, and which
// transaction was already persisted for the flow. It is reset whenever a
// flow completes or is abandoned.
type Context struct {
	SessionID     string            `json:"session_id"`
	Intent        string            `json:"intent,omitempty"`
	AwaitingField Field             `json:"awaiting_field,omitempty"`
	Partial       *fact.PartialFact `json:"partial,omitempty"`
	TransactionID string            `json:"transaction_id,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
}

// Awaiting reports whether the session is waiting on a follow-up answer.
func (c *Context) Awaiting() bool {
	return c != nil && c.AwaitingField != ""
}

// SessionStore persists conversation contexts between turns. Get returns a
// fresh empty context when the session has no state.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*Context, error)
	Put(ctx context.Context, sess *Context) error
	Clear(ctx context.Context, sessionID string) error
}
