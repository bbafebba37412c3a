package completion

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/fintrack/internal/container"
	"github.com/example/fintrack/internal/fact"
)

// Extractor is the upstream natural-language collaborator. Both calls are
// fallible and are never retried here: a malformed or missing response
// surfaces as a "could not understand" outcome, not a core error.
type Extractor interface {
	Extract(ctx context.Context, text string) (*fact.PartialFact, error)
	Refine(ctx context.Context, partial *fact.PartialFact, missingField, answer string) (*fact.PartialFact, error)
}

// Conversation glues the extractor to the completion handler: one inbound
// message either starts a new flow or answers the pending follow-up.
// Messages for the same session are serialized so a follow-up answer can
// never race the question that produced it.
type Conversation struct {
	handler   *Handler
	extractor Extractor
	locks     sync.Map
}

// NewConversation wires a conversation front over the handler.
func NewConversation(handler *Handler, extractor Extractor) *Conversation {
	return &Conversation{handler: handler, extractor: extractor}
}

const couldNotUnderstand = "Sorry, I could not understand that. Try something like: spent 250 on groceries from my bank account yesterday."

// HandleMessage routes one user message through extraction and the state
// machine.
func (c *Conversation) HandleMessage(ctx context.Context, owner container.Owner, sessionID, text string) (Result, error) {
	lock, _ := c.locks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	sess, err := c.handler.SessionState(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load session: %w", err)
	}

	if sess.Awaiting() {
		refined, err := c.extractor.Refine(ctx, sess.Partial, string(sess.AwaitingField), text)
		if err != nil || refined == nil {
			return Info(couldNotUnderstand), nil
		}
		return c.handler.Resume(ctx, owner, sessionID, refined)
	}

	extracted, err := c.extractor.Extract(ctx, text)
	if err != nil || extracted == nil {
		return Info(couldNotUnderstand), nil
	}
	return c.handler.Handle(ctx, owner, sessionID, extracted)
}
