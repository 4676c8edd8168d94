// Package store persists question records keyed by normalized question
// text. The production backend is MongoDB, with an in-memory
// implementation for testing.
//
// Consistency across concurrent memory agents rests entirely on both
// operations being atomic read-modify-write calls against the backend;
// the package holds no cross-process locks.
package store

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrEmptyQuestion is returned when a question normalizes to nothing.
	ErrEmptyQuestion = errors.New("store: empty question")

	// ErrEmptyAnswer is returned when an answer trims to nothing.
	ErrEmptyAnswer = errors.New("store: empty answer")
)

// PendingAsker identifies an asker waiting on an answer.
type PendingAsker struct {
	ReplyTo       string `bson:"reply_to" json:"reply_to"`
	CorrelationID string `bson:"correlation_id" json:"correlation_id"`
}

// Record is one persisted question. The question is always stored in
// normalized form and is unique. While the answer is outstanding the
// record carries the pending askers; once answered the pending set is
// gone for good.
type Record struct {
	Question      string         `bson:"question" json:"question"`
	Answer        string         `bson:"answer,omitempty" json:"answer,omitempty"`
	PendingAskers []PendingAsker `bson:"pending_askers,omitempty" json:"pending_askers,omitempty"`
}

// HasAnswer reports whether an answer has been recorded.
func (r Record) HasAnswer() bool { return r.Answer != "" }

// Store is the persistence contract of the memory agent.
// Implementations must be safe for concurrent use.
type Store interface {
	// EnsureIndexes creates the unique index on the question key.
	EnsureIndexes(ctx context.Context) error

	// EnqueueAsker atomically folds an asker into the record for the
	// question, creating the record if absent. A reply queue already in
	// the pending set is left untouched, so the same asker re-asking
	// never doubles a delivery. Records that already carry an answer
	// are never modified. Returns the record as it stands after the
	// update.
	EnqueueAsker(ctx context.Context, question, replyTo, correlationID string) (Record, error)

	// SetAnswer atomically records the answer for a question unless one
	// is already present, dropping the pending set. The returned record
	// carries the final stored answer together with the pending askers
	// captured immediately before the write, so the caller can fan the
	// answer out exactly once. A second answer for the same question is
	// absorbed: the record keeps the first answer and the returned
	// pending set is empty.
	SetAnswer(ctx context.Context, question, answer string) (Record, error)

	Close(ctx context.Context) error
}

// Normalize returns the canonical form of a question: surrounding
// whitespace trimmed, all characters lowercased. The result is the
// store's primary key. Normalize is idempotent.
func Normalize(question string) string {
	return strings.ToLower(strings.TrimSpace(question))
}
