package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-attempt-service/internal/app"
)

// AttemptStore is a Redis-aware implementation of app.AttemptStore.
// Notes:
//   - Engines are process-local (they hold timers and subscriber channels),
//     so the map stays in memory and Redis marks attempt liveness.
//   - The liveness key lets an operator see in-flight attempts and could be
//     extended to route cross-instance reconnects.
type AttemptStore struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	attempts map[string]*app.Attempt
}

func NewAttemptStore(client *redis.Client, ttl time.Duration) *AttemptStore {
	return &AttemptStore{
		client:   client,
		ttl:      ttl,
		attempts: make(map[string]*app.Attempt),
	}
}

func (s *AttemptStore) Put(attempt *app.Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := attempt.Engine.ID()
	s.attempts[id] = attempt
	// best-effort liveness marker
	_ = s.client.Set(context.Background(), s.key(id), attempt.Engine.QuizID(), s.ttl).Err()
}

func (s *AttemptStore) Get(attemptID string) (*app.Attempt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attempts[attemptID]
	return attempt, ok
}

func (s *AttemptStore) Delete(attemptID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, attemptID)
	_ = s.client.Del(context.Background(), s.key(attemptID)).Err()
}

func (s *AttemptStore) key(attemptID string) string {
	return "attempt:live:" + attemptID
}
