package security

import (
	"strings"
	"sync"

	"github.com/ralphline/ralphline/pkg/models"
)

// ExpectationGenerator produces a SessionExpectation from the session's
// initial user prompt via a lightweight LLM call, per §4.5 step 2.
type ExpectationGenerator interface {
	Generate(sessionID, initialPrompt string) (*models.SessionExpectation, error)
}

// expectationStore holds one SessionExpectation per session for the
// lifetime of that session, scoring each subsequent call against it.
type expectationStore struct {
	mu    sync.RWMutex
	byID  map[string]*models.SessionExpectation
}

func newExpectationStore() *expectationStore {
	return &expectationStore{byID: make(map[string]*models.SessionExpectation)}
}

func (s *expectationStore) set(e *models.SessionExpectation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[e.SessionID] = e
}

func (s *expectationStore) get(sessionID string) (*models.SessionExpectation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[sessionID]
	return e, ok
}

// scoreAgainstExpectation implements §4.5 step 2's scoring table: exact
// match scores 0, outside the permitted set but low-risk category scores
// 0.4, outside and high-risk scores 0.8. A session with no recorded
// expectation yet (e.g. generation still in flight) scores 0 — absence of
// a declared intent is not itself suspicious.
func scoreAgainstExpectation(exp *models.SessionExpectation, toolName string, highRiskCategories []string) float64 {
	if exp == nil {
		return 0
	}
	if exp.AllowsTool(toolName) {
		return 0
	}
	for _, cat := range highRiskCategories {
		if strings.EqualFold(cat, toolName) {
			return 0.8
		}
	}
	if len(highRiskCategories) > 0 {
		return 0.8
	}
	return 0.4
}
