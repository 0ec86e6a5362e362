package memory

import (
	"context"
	"sync"

	"quiz-attempt-service/internal/domain"
)

// ResultStore keeps finished attempts in memory (tests/demos).
type ResultStore struct {
	mu      sync.RWMutex
	records []domain.AttemptRecord
}

func NewResultStore() *ResultStore {
	return &ResultStore{}
}

func (s *ResultStore) Save(_ context.Context, record domain.AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *ResultStore) AttemptCount(_ context.Context, quizID, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, record := range s.records {
		if record.QuizID == quizID && record.UserID == userID {
			count++
		}
	}
	return count, nil
}

// Records returns a snapshot of everything saved so far.
func (s *ResultStore) Records() []domain.AttemptRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AttemptRecord, len(s.records))
	copy(out, s.records)
	return out
}
