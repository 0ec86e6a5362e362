package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-attempt-service/internal/domain"
)

// ResultStore persists finished attempts: one row per attempt with the
// score and per-question breakdown as JSONB.
type ResultStore struct {
	pool *pgxpool.Pool
}

func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

func (s *ResultStore) Save(ctx context.Context, record domain.AttemptRecord) error {
	score, err := json.Marshal(record.Score)
	if err != nil {
		return fmt.Errorf("marshal score: %w", err)
	}
	breakdown, err := json.Marshal(record.Breakdown)
	if err != nil {
		return fmt.Errorf("marshal breakdown: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO attempt_results (id, quiz_id, user_id, assignment, reason, score, breakdown, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		record.AttemptID, record.QuizID, record.UserID, record.Assignment,
		string(record.Reason), score, breakdown, record.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("save attempt result: %w", err)
	}
	return nil
}

func (s *ResultStore) AttemptCount(ctx context.Context, quizID, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM attempt_results WHERE quiz_id=$1 AND user_id=$2`,
		quizID, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return count, nil
}
