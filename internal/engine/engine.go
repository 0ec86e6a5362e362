// Package engine implements the attempt state machine: configuration,
// preflight, active taking under timer and security constraints, completion
// and scoring. All external collaborators are injected so the machine runs
// without a browser, a network, or a wall clock.
package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/geofence"
	"quiz-attempt-service/internal/progress"
	"quiz-attempt-service/internal/scoring"
	"quiz-attempt-service/internal/security"
	"quiz-attempt-service/internal/timer"
)

// Phase is the top-level state of an attempt.
type Phase string

const (
	PhaseConfiguring Phase = "configuring"
	PhasePreflight   Phase = "preflight"
	PhaseActive      Phase = "active"
	PhaseCompleted   Phase = "completed"
	PhaseScored      Phase = "scored"
)

// backendTimeout bounds security-backend calls made outside any request
// context, so a slow backend cannot pin the engine mutex.
const backendTimeout = 5 * time.Second

// LocationSource is the injected geolocation capability. Current blocks
// until a reading, a permission refusal, or the context deadline. A refusal
// is reported as domain.ErrPermissionDenied.
type LocationSource interface {
	Current(ctx context.Context) (domain.Location, error)
}

// Engine drives one attempt. Every public method takes the engine mutex, so
// callers may race ticks, sensor callbacks and user input freely; each
// reaction runs to completion before the next is processed.
type Engine struct {
	id     string
	userID string
	source domain.QuizDefinition
	mode   domain.Mode

	now        func() time.Time
	rnd        *rand.Rand
	newMonitor func() *security.Monitor

	mu                sync.Mutex
	phase             Phase
	quiz              domain.QuizDefinition // derived (possibly shuffled) copy
	tracker           *progress.Tracker
	clock             *timer.Controller
	fence             *geofence.Tracker
	monitor           *security.Monitor
	questionEnteredAt time.Time
	reason            domain.TerminationReason
	score             *domain.ScoreResult
	attemptsUsed      int
	subscribers       map[chan Event]struct{}
}

// Option customizes engine construction.
type Option func(*Engine)

// WithClock injects a deterministic time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRand injects the shuffle source.
func WithRand(rnd *rand.Rand) Option {
	return func(e *Engine) { e.rnd = rnd }
}

// WithMonitorFactory supplies fresh security monitors; one is created per
// attempt so retakes never inherit violation counts.
func WithMonitorFactory(factory func() *security.Monitor) Option {
	return func(e *Engine) { e.newMonitor = factory }
}

// New validates the definition and builds an engine in the configuring
// phase. Malformed definitions fail here, never mid-attempt.
func New(id, userID string, quiz domain.QuizDefinition, mode domain.Mode, opts ...Option) (*Engine, error) {
	if err := quiz.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		id:          id,
		userID:      userID,
		source:      quiz,
		mode:        mode,
		now:         time.Now,
		subscribers: make(map[chan Event]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rnd == nil {
		e.rnd = rand.New(rand.NewSource(e.now().UnixNano()))
	}
	e.configureLocked()
	return e, nil
}

// configureLocked builds fresh per-attempt state: a derived question order,
// a new tracker, timer and monitor. Nothing from a previous attempt is
// carried over except the immutable source definition.
func (e *Engine) configureLocked() {
	e.quiz = e.source
	if e.mode.Policy.ShuffleQuestions {
		questions := make([]domain.Question, len(e.source.Questions))
		copy(questions, e.source.Questions)
		e.rnd.Shuffle(len(questions), func(i, j int) {
			questions[i], questions[j] = questions[j], questions[i]
		})
		e.quiz.Questions = questions
	}

	e.tracker = progress.NewTracker(len(e.quiz.Questions), e.mode.Policy.SkipQuestions)
	e.clock = timer.New(e.mode.Policy.Timer, nil)
	e.fence = nil
	if e.mode.Policy.Geofence != nil {
		e.fence = geofence.NewTracker(*e.mode.Policy.Geofence)
	}
	e.monitor = nil
	if e.mode.RequiresSecurity() && e.newMonitor != nil {
		e.monitor = e.newMonitor()
	}
	e.score = nil
	e.reason = ""
	e.phase = PhaseConfiguring
}

// ID returns the attempt id.
func (e *Engine) ID() string { return e.id }

// UserID returns the taker.
func (e *Engine) UserID() string { return e.userID }

// QuizID returns the definition id.
func (e *Engine) QuizID() string { return e.source.ID }

// Title returns the quiz title.
func (e *Engine) Title() string { return e.source.Title }

// Mode returns the resolved attempt mode.
func (e *Engine) Mode() domain.Mode { return e.mode }

// Phase returns the current top-level state.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Questions returns the derived (possibly shuffled) question order for this
// attempt. Callers must not mutate the slice.
func (e *Engine) Questions() []domain.Question {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quiz.Questions
}

// Start runs the preflight sequence and enters the active phase. Any abort
// leaves the attempt in configuring so the taker can retry: security session
// creation (best effort), geolocation permission, initial geofence check,
// then the timer. fingerprint may be empty for unproctored attempts.
func (e *Engine) Start(ctx context.Context, locations LocationSource, fingerprint string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseConfiguring {
		return domain.ErrOperationNotAllowed
	}
	e.phase = PhasePreflight

	if e.monitor != nil {
		e.monitor.StartSession(ctx, e.source.ID, e.userID, fingerprint)
	}

	if e.fence != nil {
		if locations == nil {
			e.phase = PhaseConfiguring
			return domain.ErrPermissionDenied
		}
		loc, err := locations.Current(ctx)
		if err != nil {
			e.phase = PhaseConfiguring
			return err
		}
		if err := geofence.CheckInitial(loc, *e.mode.Policy.Geofence); err != nil {
			e.phase = PhaseConfiguring
			return err
		}
	}

	e.clock.Start()
	e.attemptsUsed++
	e.phase = PhaseActive
	e.questionEnteredAt = e.now()
	e.publishLocked(Event{Type: EventState, Phase: PhaseActive, QuestionIndex: e.tracker.Current(), Remaining: e.clock.Remaining()})
	return nil
}

// captureElapsedLocked records the wall-clock delta spent on the current
// question and restarts the visit clock.
func (e *Engine) captureElapsedLocked() {
	now := e.now()
	delta := int(now.Sub(e.questionEnteredAt).Seconds())
	_ = e.tracker.RecordElapsed(e.tracker.Current(), delta)
	e.questionEnteredAt = now
}

// RecordAnswer stores the selected option for a question.
func (e *Engine) RecordAnswer(questionIndex, selectedOption int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseActive {
		return domain.ErrAttemptNotActive
	}
	return e.tracker.RecordAnswer(questionIndex, selectedOption)
}

// Skip clears the answer for a question, policy permitting.
func (e *Engine) Skip(questionIndex int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseActive {
		return domain.ErrAttemptNotActive
	}
	return e.tracker.Skip(questionIndex)
}

// GoTo navigates to a question. Under a per-question timer every move grants
// the target a full budget, regardless of direction or who initiated it.
func (e *Engine) GoTo(questionIndex int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseActive {
		return domain.ErrAttemptNotActive
	}
	return e.goToLocked(questionIndex)
}

func (e *Engine) goToLocked(questionIndex int) error {
	if questionIndex == e.tracker.Current() {
		return nil
	}
	e.captureElapsedLocked()
	if err := e.tracker.GoTo(questionIndex); err != nil {
		return err
	}
	e.clock.ResetForQuestion()
	e.publishLocked(Event{Type: EventQuestion, Phase: PhaseActive, QuestionIndex: questionIndex, Remaining: e.clock.Remaining()})
	return nil
}

// Next advances to the following question.
func (e *Engine) Next() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseActive {
		return domain.ErrAttemptNotActive
	}
	return e.goToLocked(e.tracker.Current() + 1)
}

// Previous steps back one question.
func (e *Engine) Previous() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseActive {
		return domain.ErrAttemptNotActive
	}
	return e.goToLocked(e.tracker.Current() - 1)
}

// Finish completes the attempt on the taker's explicit action. Racing a
// forced termination is resolved idempotently: whichever transition runs
// first wins and the loser is a no-op.
func (e *Engine) Finish() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseActive {
		return nil
	}
	e.completeLocked(domain.ReasonCompleted)
	return nil
}

// Tick consumes one scheduler second. Expiry handling runs to completion
// under the engine mutex, so ticks can never stack.
func (e *Engine) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseActive {
		return
	}
	expired := e.clock.Tick()
	if !expired {
		if e.clock.Mode() != domain.TimerNone {
			e.publishLocked(Event{Type: EventTick, Phase: PhaseActive, QuestionIndex: e.tracker.Current(), Remaining: e.clock.Remaining()})
		}
		return
	}

	switch e.clock.Mode() {
	case domain.TimerTotalQuiz:
		e.completeLocked(domain.ReasonTimeExpired)
	case domain.TimerPerQuestion:
		// The expired question keeps whatever answer exists and is charged
		// its full budget, then the attempt moves on (or finishes).
		e.captureElapsedLocked()
		current := e.tracker.Current()
		if current+1 >= len(e.quiz.Questions) {
			e.completeLocked(domain.ReasonTimeExpired)
			return
		}
		_ = e.tracker.GoTo(current + 1)
		e.clock.ResetForQuestion()
		e.publishLocked(Event{Type: EventQuestion, Phase: PhaseActive, QuestionIndex: current + 1, Remaining: e.clock.Remaining()})
	}
}

// ReportViolation feeds a behavioral sensor event into the security monitor.
// Exceeding the warning budget forces termination.
func (e *Engine) ReportViolation(category domain.ViolationCategory, metadata string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseActive || e.monitor == nil {
		return
	}
	exceeded := e.monitor.ReportViolation(category, metadata)
	if exceeded {
		e.completeLocked(domain.ReasonSecurityViolation)
		return
	}
	e.publishLocked(Event{
		Type:              EventWarning,
		Phase:             PhaseActive,
		Category:          category,
		WarningsRemaining: e.monitor.WarningsRemaining(),
	})
}

// UpdateLocation folds a geolocation reading into the fence tracker and
// forwards it to the security backend. Boundary crossings emit exactly one
// notification per transition; a hard violation terminates the attempt.
func (e *Engine) UpdateLocation(ctx context.Context, loc domain.Location) {
	e.mu.Lock()
	if e.phase != PhaseActive {
		e.mu.Unlock()
		return
	}
	monitor := e.monitor
	if e.fence == nil {
		e.mu.Unlock()
		if monitor != nil {
			go monitor.UpdateLocation(ctx, loc)
		}
		return
	}

	switch e.fence.Observe(loc) {
	case geofence.Hard:
		if monitor != nil {
			monitor.ReportViolation(domain.ViolationLocation, "hard geofence breach")
		}
		e.completeLocked(domain.ReasonLocationViolation)
	case geofence.Entered:
		exceeded := false
		if monitor != nil {
			exceeded = monitor.ReportViolation(domain.ViolationLocation, "left allowed area")
		}
		if exceeded {
			e.completeLocked(domain.ReasonSecurityViolation)
			break
		}
		e.publishLocked(Event{Type: EventGeofence, Phase: PhaseActive, Category: domain.ViolationLocation, GeofenceBreached: true})
	case geofence.Resolved:
		e.publishLocked(Event{Type: EventGeofence, Phase: PhaseActive, Category: domain.ViolationLocation})
	}
	e.mu.Unlock()

	// Fire-and-forget: backend reporting must never block answer recording
	// or timer progression.
	if monitor != nil {
		go monitor.UpdateLocation(ctx, loc)
	}
}

// completeLocked is the single Active -> Completed transition. It pauses the
// timer, charges the current question its final visit delta, closes the
// security session with a reason distinguishing forced termination from a
// normal finish, and tells subscribers why.
func (e *Engine) completeLocked(reason domain.TerminationReason) {
	if e.phase != PhaseActive {
		return
	}
	e.clock.Pause()
	e.captureElapsedLocked()
	e.phase = PhaseCompleted
	e.reason = reason

	if e.monitor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
		e.monitor.Terminate(ctx, reason)
		cancel()
	}
	e.publishLocked(Event{Type: EventTerminated, Phase: PhaseCompleted, Reason: reason, Message: terminationMessage(reason)})
}

// terminationMessage names the cause for the taker; silent auto-submission
// is not acceptable.
func terminationMessage(reason domain.TerminationReason) string {
	switch reason {
	case domain.ReasonCompleted:
		return "quiz submitted"
	case domain.ReasonTimeExpired:
		return "time expired, your answers were submitted automatically"
	case domain.ReasonSecurityViolation:
		return "too many security violations, the quiz was terminated"
	case domain.ReasonLocationViolation:
		return "you left the allowed area, the quiz was terminated"
	case domain.ReasonAbandoned:
		return "quiz abandoned"
	default:
		return string(reason)
	}
}

// Score computes the result exactly once per completed attempt and caches
// it; later calls return the cached value without recomputing.
func (e *Engine) Score() (domain.ScoreResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.score != nil {
		return *e.score, nil
	}
	if e.phase != PhaseCompleted {
		return domain.ScoreResult{}, domain.ErrOperationNotAllowed
	}
	result := scoring.Compute(e.quiz.Questions, e.tracker.Answers(), e.source.NegativeMarkingEnabled, e.source.PassingScorePercent)
	e.score = &result
	e.phase = PhaseScored
	e.publishLocked(Event{Type: EventScore, Phase: PhaseScored, Reason: e.reason, Score: &result})
	return result, nil
}

// Record assembles the persistence payload for a scored attempt.
func (e *Engine) Record() (domain.AttemptRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.score == nil {
		return domain.AttemptRecord{}, domain.ErrOperationNotAllowed
	}
	return domain.AttemptRecord{
		AttemptID:  e.id,
		QuizID:     e.source.ID,
		UserID:     e.userID,
		Assignment: e.mode.Assignment,
		Reason:     e.reason,
		Score:      *e.score,
		Breakdown:  scoring.Breakdown(e.quiz.Questions, e.tracker.Answers(), e.tracker.Elapsed()),
		FinishedAt: e.now(),
	}, nil
}

// Reason returns why the attempt left the active phase.
func (e *Engine) Reason() domain.TerminationReason {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reason
}

// Retake resets the attempt for another run. Only valid once scored; the
// assignment's attempt cap is enforced here.
func (e *Engine) Retake() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseScored {
		return domain.ErrOperationNotAllowed
	}
	if max := e.mode.Policy.MaxAttempts; max > 0 && e.attemptsUsed >= max {
		return domain.ErrAttemptsExhausted
	}
	e.configureLocked()
	e.publishLocked(Event{Type: EventState, Phase: PhaseConfiguring})
	return nil
}

// Abandon tears the attempt down on navigation away. An active attempt is
// completed with the abandoned reason so the security backend never stays
// in monitoring forever; subscribers are then closed.
func (e *Engine) Abandon() {
	e.mu.Lock()
	if e.phase == PhaseActive || e.phase == PhasePreflight {
		e.phase = PhaseActive // preflight teardown shares the completion path
		e.completeLocked(domain.ReasonAbandoned)
	} else if e.monitor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
		e.monitor.Terminate(ctx, domain.ReasonAbandoned)
		cancel()
	}
	subscribers := e.subscribers
	e.subscribers = make(map[chan Event]struct{})
	e.mu.Unlock()

	for ch := range subscribers {
		close(ch)
	}
}

// Remaining reports the seconds left on the active timer budget.
func (e *Engine) Remaining() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock.Remaining()
}

// CurrentQuestion returns the index in view.
func (e *Engine) CurrentQuestion() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracker.Current()
}

// Monitor exposes the security monitor, nil for unproctored attempts.
func (e *Engine) Monitor() *security.Monitor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.monitor
}
