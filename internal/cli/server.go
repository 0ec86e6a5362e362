package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/config"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/memory"
	pginfra "quiz-attempt-service/internal/infra/postgres"
	redisinfra "quiz-attempt-service/internal/infra/redis"
	"quiz-attempt-service/internal/security"
	transport "quiz-attempt-service/internal/transport/http"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the attempt server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(demoQuizzes())
	if pool != nil {
		loader = pginfra.NewQuizLoader(pool)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisinfra.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var attempts app.AttemptStore
	if redisClient != nil {
		attempts = redisinfra.NewAttemptStore(redisClient, redisTTL)
	} else {
		attempts = memory.NewAttemptStore()
	}

	var assignments app.AssignmentProvider
	if pool != nil {
		assignments = pginfra.NewAssignmentProvider(pool)
	} else {
		assignments = memory.NewStaticAssignmentProvider(demoAssignments())
	}

	var results app.ResultStore
	if pool != nil {
		results = pginfra.NewResultStore(pool)
	} else {
		results = memory.NewResultStore()
	}

	sessionTTL := config.TTLDuration(cfg.Security.SessionTTL, time.Hour)
	var secBackend security.Backend
	if redisClient != nil {
		secBackend = redisinfra.NewSecurityBackend(redisClient, sessionTTL)
	} else {
		secBackend = memory.NewSecurityBackend()
	}

	// No per-quiz override source is wired yet, so every proctored attempt
	// runs under the fail-closed default policy.
	var secConfig security.ConfigProvider

	service := app.NewAttemptService(attempts, quizRepo, assignments, secConfig, secBackend, results)
	wsHandler := transport.NewWSHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting attempt service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// demoQuizzes provides a minimal quiz set for running without Postgres.
func demoQuizzes() map[string]domain.QuizDefinition {
	return map[string]domain.QuizDefinition{
		"quiz-1": {
			ID:                  "quiz-1",
			Title:               "Arithmetic warm-up",
			PassingScorePercent: 50,
			Questions: []domain.Question{
				{
					ID:                 "q1",
					Prompt:             "What is 2 + 2?",
					Options:            []string{"3", "4", "5"},
					CorrectAnswerIndex: 1,
					Points:             1,
				},
				{
					ID:                 "q2",
					Prompt:             "What is 6 x 7?",
					Options:            []string{"42", "36", "48"},
					CorrectAnswerIndex: 0,
					Points:             1,
				},
			},
		},
	}
}

func demoAssignments() map[string]domain.AssignmentPolicy {
	return map[string]domain.AssignmentPolicy{
		"quiz-1": {
			Timer:       domain.TimerPolicy{Mode: domain.TimerTotalQuiz, Seconds: 300},
			MaxAttempts: 3,
		},
	}
}
