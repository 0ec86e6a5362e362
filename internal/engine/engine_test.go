package engine

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/security"
)

type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1700000000, 0)} }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixedLocation struct {
	loc domain.Location
	err error
}

func (f fixedLocation) Current(context.Context) (domain.Location, error) {
	return f.loc, f.err
}

type stubBackend struct {
	terminates  int
	lastReason  domain.TerminationReason
	deadlineSet bool
}

func (b *stubBackend) StartSession(context.Context, string, string, string) (string, error) {
	return "sess-1", nil
}
func (b *stubBackend) UpdateLocation(context.Context, string, domain.Location) error { return nil }
func (b *stubBackend) TerminateSession(ctx context.Context, _ string, reason domain.TerminationReason) error {
	_, b.deadlineSet = ctx.Deadline()
	b.terminates++
	b.lastReason = reason
	return nil
}

func makeQuiz(count int) domain.QuizDefinition {
	questions := make([]domain.Question, count)
	for i := range questions {
		questions[i] = domain.Question{
			ID:                 "q" + string(rune('1'+i)),
			Prompt:             "prompt",
			Options:            []string{"a", "b", "c"},
			CorrectAnswerIndex: 1,
			Points:             10,
		}
	}
	return domain.QuizDefinition{
		ID:                  "quiz-1",
		Title:               "Sample",
		Questions:           questions,
		PassingScorePercent: 50,
	}
}

func newEngine(t *testing.T, quiz domain.QuizDefinition, mode domain.Mode, clock *fakeClock, backend security.Backend) *Engine {
	t.Helper()
	opts := []Option{
		WithClock(clock.Now),
		WithRand(rand.New(rand.NewSource(1))),
	}
	if mode.RequiresSecurity() {
		opts = append(opts, WithMonitorFactory(func() *security.Monitor {
			return security.NewMonitor(domain.DefaultSecurityPolicy(), backend)
		}))
	}
	e, err := New("attempt-1", "u1", quiz, mode, opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func TestInvalidDefinitionFailsAtLoad(t *testing.T) {
	quiz := makeQuiz(2)
	quiz.Questions[1].CorrectAnswerIndex = 5
	if _, err := New("a", "u", quiz, domain.SelfQuiz(domain.TimerPolicy{Mode: domain.TimerNone}, false, true)); err != domain.ErrInvalidQuiz {
		t.Fatalf("expected ErrInvalidQuiz, got %v", err)
	}
}

func TestPreflightPermissionDeniedLeavesConfiguring(t *testing.T) {
	clock := newFakeClock()
	policy := domain.AssignmentPolicy{
		Geofence: &domain.GeofencePolicy{Latitude: 52, Longitude: 13, RadiusMeters: 100},
	}
	e := newEngine(t, makeQuiz(2), domain.Assignment(policy), clock, &stubBackend{})

	err := e.Start(context.Background(), fixedLocation{err: domain.ErrPermissionDenied}, "fp")
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected permission denial, got %v", err)
	}
	if e.Phase() != PhaseConfiguring {
		t.Fatalf("aborted preflight must return to configuring, got %s", e.Phase())
	}

	// Retry with permission granted succeeds.
	if err := e.Start(context.Background(), fixedLocation{loc: domain.Location{Latitude: 52, Longitude: 13}}, "fp"); err != nil {
		t.Fatalf("retry start: %v", err)
	}
	if e.Phase() != PhaseActive {
		t.Fatalf("expected active, got %s", e.Phase())
	}
}

func TestPreflightOutOfBoundsNamesRadius(t *testing.T) {
	clock := newFakeClock()
	policy := domain.AssignmentPolicy{
		Geofence: &domain.GeofencePolicy{Latitude: 52, Longitude: 13, RadiusMeters: 100},
	}
	e := newEngine(t, makeQuiz(2), domain.Assignment(policy), clock, &stubBackend{})

	far := domain.Location{Latitude: 53, Longitude: 13}
	err := e.Start(context.Background(), fixedLocation{loc: far}, "fp")
	if !errors.Is(err, domain.ErrLocationOutOfBounds) {
		t.Fatalf("expected out-of-bounds, got %v", err)
	}
	var oob *domain.OutOfBoundsError
	if !errors.As(err, &oob) || oob.RadiusMeters != 100 {
		t.Fatalf("refusal must name the required radius, got %v", err)
	}
	if e.Phase() != PhaseConfiguring {
		t.Fatalf("expected configuring, got %s", e.Phase())
	}
}

func TestPerQuestionTimeoutAutoAdvances(t *testing.T) {
	clock := newFakeClock()
	mode := domain.SelfQuiz(domain.TimerPolicy{Mode: domain.TimerPerQuestion, Seconds: 5}, false, true)
	e := newEngine(t, makeQuiz(3), mode, clock, nil)
	if err := e.Start(context.Background(), nil, ""); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Answer question 1 and move on.
	_ = e.RecordAnswer(0, 1)
	clock.Advance(2 * time.Second)
	if err := e.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if e.Remaining() != 5 {
		t.Fatalf("navigation must grant a full budget, got %d", e.Remaining())
	}

	// Let question 2 expire with no answer.
	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		e.Tick()
	}
	if e.CurrentQuestion() != 2 {
		t.Fatalf("expected auto-advance to question 3, got index %d", e.CurrentQuestion())
	}
	if e.Remaining() != 5 {
		t.Fatalf("auto-advance must reset the budget, got %d", e.Remaining())
	}

	_ = e.Finish()
	if _, err := e.Score(); err != nil {
		t.Fatalf("score: %v", err)
	}
	record, err := e.Record()
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if record.Breakdown[1].SelectedOption != -1 {
		t.Fatalf("expired question must stay unanswered: %+v", record.Breakdown[1])
	}
	if record.Breakdown[1].ElapsedSeconds != 5 {
		t.Fatalf("expected ~5s elapsed on the expired question, got %d", record.Breakdown[1].ElapsedSeconds)
	}
}

func TestBackwardNavigationResetsBudget(t *testing.T) {
	clock := newFakeClock()
	mode := domain.SelfQuiz(domain.TimerPolicy{Mode: domain.TimerPerQuestion, Seconds: 4}, false, true)
	e := newEngine(t, makeQuiz(3), mode, clock, nil)
	_ = e.Start(context.Background(), nil, "")

	_ = e.Next()
	clock.Advance(time.Second)
	e.Tick()
	if e.Remaining() != 3 {
		t.Fatalf("expected 3 remaining, got %d", e.Remaining())
	}
	if err := e.Previous(); err != nil {
		t.Fatalf("previous: %v", err)
	}
	if e.Remaining() != 4 {
		t.Fatalf("backward navigation must also reset, got %d", e.Remaining())
	}
}

func TestTotalTimerExpirySubmits(t *testing.T) {
	clock := newFakeClock()
	mode := domain.SelfQuiz(domain.TimerPolicy{Mode: domain.TimerTotalQuiz, Seconds: 3}, false, true)
	e := newEngine(t, makeQuiz(2), mode, clock, nil)
	_ = e.Start(context.Background(), nil, "")
	_ = e.RecordAnswer(0, 1)

	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		e.Tick()
	}
	if e.Phase() != PhaseCompleted {
		t.Fatalf("expected completed on expiry, got %s", e.Phase())
	}
	if e.Reason() != domain.ReasonTimeExpired {
		t.Fatalf("expected time_expired, got %s", e.Reason())
	}

	first, err := e.Score()
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	second, _ := e.Score()
	if first != second {
		t.Fatalf("score must be cached, got %+v vs %+v", first, second)
	}
	if first.PointsEarned != 10 || first.CorrectCount != 1 || first.SkippedCount != 1 {
		t.Fatalf("partial answers must score normally: %+v", first)
	}
}

func TestHardGeofenceViolationTerminates(t *testing.T) {
	clock := newFakeClock()
	backend := &stubBackend{}
	fence := &domain.GeofencePolicy{Latitude: 52, Longitude: 13, RadiusMeters: 100}
	e := newEngine(t, makeQuiz(2), domain.Assignment(domain.AssignmentPolicy{Geofence: fence}), clock, backend)
	_ = e.Start(context.Background(), fixedLocation{loc: domain.Location{Latitude: 52, Longitude: 13}}, "fp")
	_ = e.RecordAnswer(0, 1)

	// ~200m north: beyond 1.5x the 100m radius.
	e.UpdateLocation(context.Background(), domain.Location{Latitude: 52 + 200/111320.0, Longitude: 13})

	if e.Phase() != PhaseCompleted {
		t.Fatalf("hard violation must complete the attempt, got %s", e.Phase())
	}
	if e.Reason() != domain.ReasonLocationViolation {
		t.Fatalf("expected location_violation, got %s", e.Reason())
	}
	score, err := e.Score()
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score.CorrectCount != 1 {
		t.Fatalf("partial answers recorded so far must score normally: %+v", score)
	}
	if backend.lastReason != domain.ReasonLocationViolation {
		t.Fatalf("backend must see the forced reason, got %s", backend.lastReason)
	}
}

func TestSecurityBudgetExhaustionTerminates(t *testing.T) {
	clock := newFakeClock()
	backend := &stubBackend{}
	e := newEngine(t, makeQuiz(2), domain.Assignment(domain.AssignmentPolicy{Proctored: true}), clock, backend)
	_ = e.Start(context.Background(), nil, "fp")

	e.ReportViolation(domain.ViolationTabSwitch, "blur")
	e.ReportViolation(domain.ViolationCopyPaste, "paste")
	if e.Phase() != PhaseActive {
		t.Fatalf("two warnings are still within budget")
	}
	e.ReportViolation(domain.ViolationTabSwitch, "blur")
	if e.Phase() != PhaseCompleted || e.Reason() != domain.ReasonSecurityViolation {
		t.Fatalf("expected forced termination, got %s/%s", e.Phase(), e.Reason())
	}
}

func TestFinishAndTerminateRaceIdempotent(t *testing.T) {
	clock := newFakeClock()
	backend := &stubBackend{}
	e := newEngine(t, makeQuiz(1), domain.Assignment(domain.AssignmentPolicy{Proctored: true}), clock, backend)
	_ = e.Start(context.Background(), nil, "fp")
	_ = e.RecordAnswer(0, 1)

	if err := e.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	// Late violations after completion are no-ops, not errors.
	for i := 0; i < 5; i++ {
		e.ReportViolation(domain.ViolationTabSwitch, "late")
	}
	if err := e.Finish(); err != nil {
		t.Fatalf("second finish must be a no-op, got %v", err)
	}
	if e.Reason() != domain.ReasonCompleted {
		t.Fatalf("first transition wins, got %s", e.Reason())
	}
	if backend.terminates != 1 {
		t.Fatalf("backend must be told exactly once, got %d", backend.terminates)
	}
}

func TestTerminationBoundsBackendCall(t *testing.T) {
	clock := newFakeClock()
	backend := &stubBackend{}
	e := newEngine(t, makeQuiz(1), domain.Assignment(domain.AssignmentPolicy{Proctored: true}), clock, backend)
	_ = e.Start(context.Background(), nil, "fp")

	if err := e.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if backend.terminates != 1 {
		t.Fatalf("expected one termination call, got %d", backend.terminates)
	}
	if !backend.deadlineSet {
		t.Fatalf("session teardown must carry a deadline")
	}
}

func TestScoreBeforeCompletionFails(t *testing.T) {
	clock := newFakeClock()
	e := newEngine(t, makeQuiz(1), domain.SelfQuiz(domain.TimerPolicy{Mode: domain.TimerNone}, false, true), clock, nil)
	_ = e.Start(context.Background(), nil, "")
	if _, err := e.Score(); err != domain.ErrOperationNotAllowed {
		t.Fatalf("expected ErrOperationNotAllowed, got %v", err)
	}
}

func TestRetakeResetsEverything(t *testing.T) {
	clock := newFakeClock()
	backend := &stubBackend{}
	policy := domain.AssignmentPolicy{Proctored: true, MaxAttempts: 2}
	e := newEngine(t, makeQuiz(2), domain.Assignment(policy), clock, backend)
	_ = e.Start(context.Background(), nil, "fp")
	_ = e.RecordAnswer(0, 1)
	e.ReportViolation(domain.ViolationTabSwitch, "")
	_ = e.Finish()
	_, _ = e.Score()

	if err := e.Retake(); err != nil {
		t.Fatalf("retake: %v", err)
	}
	if e.Phase() != PhaseConfiguring {
		t.Fatalf("retake must return to configuring, got %s", e.Phase())
	}
	if err := e.Start(context.Background(), nil, "fp"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if e.Monitor().TotalViolations() != 0 {
		t.Fatalf("retake must not inherit violation counts")
	}
	if _, ok := asAnswered(e); ok {
		t.Fatalf("retake must discard previous answers")
	}

	_ = e.Finish()
	_, _ = e.Score()
	if err := e.Retake(); err != domain.ErrAttemptsExhausted {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}
}

func asAnswered(e *Engine) (int, bool) {
	record, err := e.Record()
	if err != nil {
		return 0, false
	}
	for _, outcome := range record.Breakdown {
		if outcome.SelectedOption != -1 {
			return outcome.SelectedOption, true
		}
	}
	return 0, false
}

func TestShuffleDerivesACopy(t *testing.T) {
	clock := newFakeClock()
	quiz := makeQuiz(10)
	e := newEngine(t, quiz, domain.SelfQuiz(domain.TimerPolicy{Mode: domain.TimerNone}, true, true), clock, nil)

	original := make([]string, len(quiz.Questions))
	for i, q := range quiz.Questions {
		original[i] = q.ID
	}
	for i, q := range quiz.Questions {
		if q.ID != original[i] {
			t.Fatalf("source definition must never be mutated")
		}
	}

	permuted := false
	for i, q := range e.Questions() {
		if q.ID != original[i] {
			permuted = true
			break
		}
	}
	if !permuted {
		t.Fatalf("expected a shuffled order with seed 1")
	}
}

func TestAbandonClosesSubscriptionsAndSession(t *testing.T) {
	clock := newFakeClock()
	backend := &stubBackend{}
	e := newEngine(t, makeQuiz(1), domain.Assignment(domain.AssignmentPolicy{Proctored: true}), clock, backend)
	_ = e.Start(context.Background(), nil, "fp")

	events, _ := e.Subscribe()
	e.Abandon()

	if backend.lastReason != domain.ReasonAbandoned {
		t.Fatalf("backend must be told quiz_abandoned, got %s", backend.lastReason)
	}
	for {
		if _, ok := <-events; !ok {
			break
		}
	}
}

func TestSkipForbiddenByPolicy(t *testing.T) {
	clock := newFakeClock()
	e := newEngine(t, makeQuiz(2), domain.SelfQuiz(domain.TimerPolicy{Mode: domain.TimerNone}, false, false), clock, nil)
	_ = e.Start(context.Background(), nil, "")
	if err := e.Skip(0); err != domain.ErrOperationNotAllowed {
		t.Fatalf("expected ErrOperationNotAllowed, got %v", err)
	}
	if err := e.GoTo(7); err != domain.ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}
