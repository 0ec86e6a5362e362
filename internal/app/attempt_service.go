package app

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/engine"
	"quiz-attempt-service/internal/security"
)

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.QuizDefinition, error)
}

// AssignmentProvider resolves the teacher-authored policy for an assignment.
// Missing optional fields in the stored policy mean "feature disabled".
type AssignmentProvider interface {
	AssignmentPolicy(ctx context.Context, quizID string) (domain.AssignmentPolicy, error)
}

// ResultStore persists finished attempts. Save is called once per completed
// attempt; AttemptCount backs the cross-session max-attempts check.
type ResultStore interface {
	Save(ctx context.Context, record domain.AttemptRecord) error
	AttemptCount(ctx context.Context, quizID, userID string) (int, error)
}

// AttemptStore abstracts how live attempts are tracked (in-memory, Redis).
type AttemptStore interface {
	Put(attempt *Attempt)
	Get(attemptID string) (*Attempt, bool)
	Delete(attemptID string)
}

// Attempt pairs a running engine with its host-side bookkeeping: the tick
// loop handle and the persisted-once latch.
type Attempt struct {
	Engine *engine.Engine

	mu        sync.Mutex
	persisted bool
	stopTick  chan struct{}
}

// AttemptService wires the engine to its external collaborators and owns
// the per-attempt one-second tick loop.
type AttemptService struct {
	attempts     AttemptStore
	quizzes      QuizRepository
	assignments  AssignmentProvider
	secConfig    security.ConfigProvider
	secBackend   security.Backend
	results      ResultStore
	tickInterval time.Duration
	now          func() time.Time
}

// ServiceOption customizes the attempt service.
type ServiceOption func(*AttemptService)

// WithTickInterval overrides the one-second scheduler period (tests only).
func WithTickInterval(d time.Duration) ServiceOption {
	return func(s *AttemptService) { s.tickInterval = d }
}

// WithServiceClock injects a deterministic time source.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *AttemptService) { s.now = now }
}

func NewAttemptService(
	attempts AttemptStore,
	quizzes QuizRepository,
	assignments AssignmentProvider,
	secConfig security.ConfigProvider,
	secBackend security.Backend,
	results ResultStore,
	opts ...ServiceOption,
) *AttemptService {
	s := &AttemptService{
		attempts:     attempts,
		quizzes:      quizzes,
		assignments:  assignments,
		secConfig:    secConfig,
		secBackend:   secBackend,
		results:      results,
		tickInterval: time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BeginSelfQuiz configures a practice attempt: no proctoring, single run,
// results saved to the taker's personal record.
func (s *AttemptService) BeginSelfQuiz(ctx context.Context, quizID, userID string, timerPolicy domain.TimerPolicy, shuffle, allowSkip bool) (*Attempt, error) {
	return s.begin(ctx, quizID, userID, domain.SelfQuiz(timerPolicy, shuffle, allowSkip))
}

// BeginAssignment configures a policy-governed attempt. The assignment's
// due date and attempt cap are checked against the clock and previously
// persisted attempts before a new engine is built.
func (s *AttemptService) BeginAssignment(ctx context.Context, quizID, userID string) (*Attempt, error) {
	policy, err := s.assignments.AssignmentPolicy(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if policy.DueDate != nil && s.now().After(*policy.DueDate) {
		return nil, domain.ErrAssignmentClosed
	}
	if policy.MaxAttempts > 0 && s.results != nil {
		used, err := s.results.AttemptCount(ctx, quizID, userID)
		if err != nil {
			log.Printf("attempt count lookup failed for quiz %s user %s: %v", quizID, userID, err)
		} else if used >= policy.MaxAttempts {
			return nil, domain.ErrAttemptsExhausted
		}
	}
	return s.begin(ctx, quizID, userID, domain.Assignment(policy))
}

func (s *AttemptService) begin(ctx context.Context, quizID, userID string, mode domain.Mode) (*Attempt, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{engine.WithClock(s.now)}
	if mode.RequiresSecurity() {
		policy := security.ResolvePolicy(ctx, s.secConfig, quizID)
		backend := s.secBackend
		opts = append(opts, engine.WithMonitorFactory(func() *security.Monitor {
			return security.NewMonitor(policy, backend)
		}))
	}

	eng, err := engine.New(uuid.NewString(), userID, quiz, mode, opts...)
	if err != nil {
		return nil, err
	}
	attempt := &Attempt{Engine: eng}
	s.attempts.Put(attempt)
	return attempt, nil
}

// Get returns a live attempt by id.
func (s *AttemptService) Get(attemptID string) (*Attempt, error) {
	attempt, ok := s.attempts.Get(attemptID)
	if !ok {
		return nil, domain.ErrAttemptNotFound
	}
	return attempt, nil
}

// Start runs the preflight and, on success, launches the tick loop that
// drives the attempt's timer once per scheduler period.
func (s *AttemptService) Start(ctx context.Context, attemptID string, locations engine.LocationSource, device security.FingerprintComponents) error {
	attempt, err := s.Get(attemptID)
	if err != nil {
		return err
	}
	fingerprint := security.Fingerprint(device, s.now())
	if err := attempt.Engine.Start(ctx, locations, fingerprint); err != nil {
		return err
	}

	attempt.mu.Lock()
	attempt.persisted = false
	stop := make(chan struct{})
	attempt.stopTick = stop
	attempt.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if attempt.Engine.Phase() != engine.PhaseActive {
					return
				}
				attempt.Engine.Tick()
			}
		}
	}()
	return nil
}

// Finish completes the attempt on the taker's action, then scores and
// persists it.
func (s *AttemptService) Finish(ctx context.Context, attemptID string) (domain.ScoreResult, error) {
	attempt, err := s.Get(attemptID)
	if err != nil {
		return domain.ScoreResult{}, err
	}
	if err := attempt.Engine.Finish(); err != nil {
		return domain.ScoreResult{}, err
	}
	return s.Score(ctx, attemptID)
}

// Score computes (or returns the cached) result and hands it to the result
// store exactly once. A save failure is surfaced to the caller; the locally
// computed result is never discarded.
func (s *AttemptService) Score(ctx context.Context, attemptID string) (domain.ScoreResult, error) {
	attempt, err := s.Get(attemptID)
	if err != nil {
		return domain.ScoreResult{}, err
	}
	score, err := attempt.Engine.Score()
	if err != nil {
		return domain.ScoreResult{}, err
	}

	attempt.mu.Lock()
	needsSave := !attempt.persisted
	attempt.mu.Unlock()
	if !needsSave || s.results == nil {
		return score, nil
	}

	record, err := attempt.Engine.Record()
	if err != nil {
		return score, err
	}
	if err := s.results.Save(ctx, record); err != nil {
		log.Printf("saving attempt %s failed: %v", attemptID, err)
		return score, err
	}
	attempt.mu.Lock()
	attempt.persisted = true
	attempt.mu.Unlock()
	return score, nil
}

// Retake resets a scored attempt for another run, per policy.
func (s *AttemptService) Retake(attemptID string) error {
	attempt, err := s.Get(attemptID)
	if err != nil {
		return err
	}
	attempt.stopTicker()
	return attempt.Engine.Retake()
}

// persistTimeout bounds the result-store call during teardown, which has no
// request context left to inherit.
const persistTimeout = 5 * time.Second

// Abandon tears an attempt down on navigation away: the tick loop stops,
// the security session is closed and the attempt is dropped from the store.
// An attempt the engine already force-completed (timer expiry, violation
// budget, geofence breach) is scored and persisted first, so the automatic
// submission survives the disconnect.
func (s *AttemptService) Abandon(attemptID string) {
	attempt, ok := s.attempts.Get(attemptID)
	if !ok {
		return
	}
	attempt.stopTicker()
	switch attempt.Engine.Phase() {
	case engine.PhaseCompleted, engine.PhaseScored:
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if _, err := s.Score(ctx, attemptID); err != nil {
			log.Printf("persisting attempt %s on abandon failed: %v", attemptID, err)
		}
		cancel()
	}
	attempt.Engine.Abandon()
	s.attempts.Delete(attemptID)
}

func (a *Attempt) stopTicker() {
	a.mu.Lock()
	stop := a.stopTick
	a.stopTick = nil
	a.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}
