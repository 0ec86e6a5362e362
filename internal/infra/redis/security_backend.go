package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"quiz-attempt-service/internal/domain"
)

// SecurityBackend stores proctoring sessions in Redis, one hash per session:
// HSET security:session:{id} quizId userId fingerprint status reason lat lng
// Sessions expire after ttl so abandoned monitoring never lingers server-side.
type SecurityBackend struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSecurityBackend(client *redis.Client, ttl time.Duration) *SecurityBackend {
	return &SecurityBackend{client: client, ttl: ttl}
}

func (b *SecurityBackend) StartSession(ctx context.Context, quizID, userID, fingerprint string) (string, error) {
	id := uuid.NewString()
	key := b.key(id)
	pipe := b.client.Pipeline()
	pipe.HSet(ctx, key,
		"quizId", quizID,
		"userId", userID,
		"fingerprint", fingerprint,
		"status", "monitoring",
	)
	if b.ttl > 0 {
		pipe.Expire(ctx, key, b.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return id, nil
}

func (b *SecurityBackend) UpdateLocation(ctx context.Context, sessionID string, loc domain.Location) error {
	return b.client.HSet(ctx, b.key(sessionID),
		"lat", strconv.FormatFloat(loc.Latitude, 'f', -1, 64),
		"lng", strconv.FormatFloat(loc.Longitude, 'f', -1, 64),
		"locatedAt", strconv.FormatInt(time.Now().Unix(), 10),
	).Err()
}

func (b *SecurityBackend) TerminateSession(ctx context.Context, sessionID string, reason domain.TerminationReason) error {
	return b.client.HSet(ctx, b.key(sessionID),
		"status", "terminated",
		"reason", string(reason),
	).Err()
}

func (b *SecurityBackend) key(sessionID string) string {
	return "security:session:" + sessionID
}
