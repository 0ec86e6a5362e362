package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-attempt-service/internal/domain"
)

// QuizLoader loads quiz definition JSONB from Postgres.
type QuizLoader struct {
	pool *pgxpool.Pool
}

func NewQuizLoader(pool *pgxpool.Pool) *QuizLoader {
	return &QuizLoader{pool: pool}
}

func (l *QuizLoader) LoadQuiz(ctx context.Context, quizID string) (domain.QuizDefinition, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM quizzes WHERE id=$1`, quizID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuizDefinition{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.QuizDefinition{}, fmt.Errorf("load quiz: %w", err)
	}
	var quiz domain.QuizDefinition
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.QuizDefinition{}, fmt.Errorf("unmarshal quiz: %w", err)
	}
	return quiz, nil
}

// AssignmentProvider loads teacher-authored attempt policy JSONB. Missing
// optional fields unmarshal to zero values, i.e. "feature disabled".
type AssignmentProvider struct {
	pool *pgxpool.Pool
}

func NewAssignmentProvider(pool *pgxpool.Pool) *AssignmentProvider {
	return &AssignmentProvider{pool: pool}
}

func (p *AssignmentProvider) AssignmentPolicy(ctx context.Context, quizID string) (domain.AssignmentPolicy, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, `SELECT policy FROM assignments WHERE quiz_id=$1`, quizID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AssignmentPolicy{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.AssignmentPolicy{}, fmt.Errorf("load assignment policy: %w", err)
	}
	var policy domain.AssignmentPolicy
	if err := json.Unmarshal(raw, &policy); err != nil {
		return domain.AssignmentPolicy{}, fmt.Errorf("unmarshal assignment policy: %w", err)
	}
	return policy, nil
}
