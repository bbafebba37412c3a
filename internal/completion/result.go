// Package completion implements the transaction-completion state machine:
// given a new or refined fact, it decides whether to save, ask a follow-up
// question, or finalize the financial application.
package completion

import (
	"github.com/example/fintrack/internal/container"
	"github.com/example/fintrack/internal/fact"
)

// ResultKind discriminates the closed set of outcomes the core exposes to
// its callers. Every surface (HTTP endpoint, chat loop) renders these four
// variants without needing core internals.
type ResultKind string

const (
	KindInvalid  ResultKind = "INVALID"
	KindFollowup ResultKind = "FOLLOWUP"
	KindSaved    ResultKind = "SAVED"
	KindInfo     ResultKind = "INFO"
)

// Result is the response contract of the completion handler.
type Result struct {
	Kind ResultKind `json:"kind"`

	// Invalid
	Reason string `json:"reason,omitempty"`

	// Followup
	Question     string            `json:"question,omitempty"`
	MissingField Field             `json:"missing_field,omitempty"`
	Partial      *fact.PartialFact `json:"partial,omitempty"`

	// Saved
	Transaction *fact.Transaction    `json:"transaction,omitempty"`
	Container   *container.Container `json:"container,omitempty"`

	// Info
	Message string `json:"message,omitempty"`
}

// Invalid means the fact failed validation and the user must restate it.
func Invalid(reason string) Result {
	return Result{Kind: KindInvalid, Reason: reason}
}

// Followup asks the user for the next missing field.
func Followup(question string, field Field, partial *fact.PartialFact) Result {
	return Result{Kind: KindFollowup, Question: question, MissingField: field, Partial: partial}
}

// SavedTransaction reports a persisted transaction.
func SavedTransaction(t *fact.Transaction) Result {
	return Result{Kind: KindSaved, Transaction: t}
}

// SavedContainer reports a created or updated container.
func SavedContainer(c *container.Container) Result {
	return Result{Kind: KindSaved, Container: c}
}

// Info carries a message with no state change worth returning.
func Info(message string) Result {
	return Result{Kind: KindInfo, Message: message}
}
