package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quiz-attempt-service/internal/domain"
)

type countingLoader struct {
	quizzes map[string]domain.QuizDefinition
	calls   int
}

func (l *countingLoader) LoadQuiz(_ context.Context, quizID string) (domain.QuizDefinition, error) {
	l.calls++
	if quiz, ok := l.quizzes[quizID]; ok {
		return quiz, nil
	}
	return domain.QuizDefinition{}, domain.ErrQuizNotFound
}

func TestQuizRepositoryCachesDefinition(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	loader := &countingLoader{quizzes: map[string]domain.QuizDefinition{"quiz-1": sampleQuiz()}}
	repo := NewQuizRepository(client, loader, 5*time.Minute)

	quiz, err := repo.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if quiz.Questions[0].Prompt != "What is 2 + 2?" {
		t.Fatalf("cached form must keep prompts, got %q", quiz.Questions[0].Prompt)
	}
	if !mr.Exists("quiz:quiz-1:def") {
		t.Fatalf("expected definition cached in redis")
	}

	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls)
	}
}

func TestQuizRepositoryRejectsMalformed(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	quiz := sampleQuiz()
	quiz.Questions[0].CorrectAnswerIndex = 7
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := NewQuizRepository(client, &countingLoader{quizzes: map[string]domain.QuizDefinition{"quiz-bad": quiz}}, time.Minute)

	if _, err := repo.GetQuiz(context.Background(), "quiz-bad"); err != domain.ErrInvalidQuiz {
		t.Fatalf("expected ErrInvalidQuiz, got %v", err)
	}
	if mr.Exists("quiz:quiz-bad:def") {
		t.Fatalf("malformed definitions must never be cached")
	}
}
