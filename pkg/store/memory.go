package store

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for testing. The
// single mutex stands in for the backend's per-document atomicity.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) EnsureIndexes(ctx context.Context) error { return nil }

func (s *MemoryStore) EnqueueAsker(ctx context.Context, question, replyTo, correlationID string) (Record, error) {
	key := Normalize(question)
	if key == "" {
		return Record{}, ErrEmptyQuestion
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		rec = &Record{Question: key}
		s.records[key] = rec
	}

	switch {
	case rec.HasAnswer():
		// Cached answer, nothing to record.
	case replyTo == "" || correlationID == "":
		// No way to reply; register the question only.
	case !hasReplyTo(rec.PendingAskers, replyTo):
		rec.PendingAskers = append(rec.PendingAskers, PendingAsker{
			ReplyTo:       replyTo,
			CorrelationID: correlationID,
		})
	}

	return rec.clone(), nil
}

func (s *MemoryStore) SetAnswer(ctx context.Context, question, answer string) (Record, error) {
	key := Normalize(question)
	if key == "" {
		return Record{}, ErrEmptyQuestion
	}
	ans := strings.TrimSpace(answer)
	if ans == "" {
		return Record{}, ErrEmptyAnswer
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		s.records[key] = &Record{Question: key, Answer: ans}
		return Record{Question: key, Answer: ans}, nil
	}
	if rec.HasAnswer() {
		// First answer wins; duplicates are absorbed with no fan-out.
		return Record{Question: key, Answer: rec.Answer}, nil
	}

	pending := rec.PendingAskers
	rec.Answer = ans
	rec.PendingAskers = nil
	return Record{Question: key, Answer: ans, PendingAskers: pending}, nil
}

func (s *MemoryStore) Close(ctx context.Context) error { return nil }

// Get returns a copy of the record for a question, for tests.
func (s *MemoryStore) Get(question string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[Normalize(question)]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// Len returns the number of records, for tests.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (r *Record) clone() Record {
	out := Record{Question: r.Question, Answer: r.Answer}
	if len(r.PendingAskers) > 0 {
		out.PendingAskers = append([]PendingAsker(nil), r.PendingAskers...)
	}
	return out
}

func hasReplyTo(askers []PendingAsker, replyTo string) bool {
	for _, a := range askers {
		if a.ReplyTo == replyTo {
			return true
		}
	}
	return false
}
