package quality

import (
	"context"
	"sync"

	"github.com/couchcryptid/warehouse-etl/internal/domain"
)

// Scripted is an in-memory oracle. Suites without a scripted verdict pass.
type Scripted struct {
	mu      sync.Mutex
	results map[string]domain.QualityResult
	errs    map[string]error
	calls   []domain.QualitySelector
}

// NewScripted returns an oracle that passes every suite until told otherwise.
func NewScripted() *Scripted {
	return &Scripted{
		results: make(map[string]domain.QualityResult),
		errs:    make(map[string]error),
	}
}

// Fail makes suite report the given violations.
func (s *Scripted) Fail(suite string, violations ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[suite] = domain.QualityResult{Success: false, Violations: violations}
}

// Error makes suite return err instead of a verdict.
func (s *Scripted) Error(suite string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[suite] = err
}

// Reset clears all scripted verdicts and recorded calls.
func (s *Scripted) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.results)
	clear(s.errs)
	s.calls = nil
}

// Evaluate records the selector and returns the scripted verdict.
func (s *Scripted) Evaluate(_ context.Context, sel domain.QualitySelector) (domain.QualityResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sel)
	if err := s.errs[sel.Suite]; err != nil {
		return domain.QualityResult{}, err
	}
	if r, ok := s.results[sel.Suite]; ok {
		return r, nil
	}
	return domain.QualityResult{Success: true}, nil
}

// Calls returns the selectors evaluated so far.
func (s *Scripted) Calls() []domain.QualitySelector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.QualitySelector(nil), s.calls...)
}
