package testutil

import (
	"context"
	"sync"

	"github.com/dativo-io/steward/internal/safety"
)

// StaticClassifier implements safety.Client with a fixed verdict.
type StaticClassifier struct {
	Verdict safety.Verdict
	Err     error

	mu   sync.Mutex
	seen []safety.Request
}

// ApprovingClassifier returns a classifier that approves everything as safe.
func ApprovingClassifier() *StaticClassifier {
	return &StaticClassifier{Verdict: safety.Verdict{Approved: true, Level: safety.LevelSafe}}
}

// Classify records req and returns the configured verdict or error.
func (s *StaticClassifier) Classify(_ context.Context, req safety.Request) (safety.Verdict, error) {
	s.mu.Lock()
	s.seen = append(s.seen, req)
	s.mu.Unlock()
	if s.Err != nil {
		return safety.Verdict{}, s.Err
	}
	return s.Verdict, nil
}

// Calls returns how many times Classify was called.
func (s *StaticClassifier) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Requests returns a copy of the requests seen so far.
func (s *StaticClassifier) Requests() []safety.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]safety.Request(nil), s.seen...)
}
