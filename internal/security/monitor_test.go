package security

import (
	"context"
	"errors"
	"testing"
	"time"

	"quiz-attempt-service/internal/domain"
)

type fakeBackend struct {
	startErr    error
	startCalls  int
	locations   int
	terminates  int
	lastReason  domain.TerminationReason
	sessionID   string
	locationErr error
}

func (b *fakeBackend) StartSession(_ context.Context, _, _, _ string) (string, error) {
	b.startCalls++
	if b.startErr != nil {
		return "", b.startErr
	}
	if b.sessionID == "" {
		b.sessionID = "sess-1"
	}
	return b.sessionID, nil
}

func (b *fakeBackend) UpdateLocation(_ context.Context, _ string, _ domain.Location) error {
	b.locations++
	return b.locationErr
}

func (b *fakeBackend) TerminateSession(_ context.Context, _ string, reason domain.TerminationReason) error {
	b.terminates++
	b.lastReason = reason
	return nil
}

type failingConfig struct{}

func (failingConfig) SecurityPolicy(context.Context, string) (domain.SecurityPolicy, error) {
	return domain.SecurityPolicy{}, errors.New("config backend down")
}

func TestResolvePolicyFailsClosed(t *testing.T) {
	policy := ResolvePolicy(context.Background(), failingConfig{}, "quiz-1")
	if !policy.TabSwitchProtection || !policy.CopyPasteProtection || !policy.RightClickProtection || !policy.ShortcutKeyProtection {
		t.Fatalf("fallback must enable every protection: %+v", policy)
	}
	if policy.WarningsAllowed != 2 {
		t.Fatalf("fallback must allow 2 warnings, got %d", policy.WarningsAllowed)
	}
}

func TestViolationsExceedingBudgetTerminate(t *testing.T) {
	monitor := NewMonitor(domain.DefaultSecurityPolicy(), &fakeBackend{})
	monitor.StartSession(context.Background(), "quiz-1", "u1", "fp")

	if monitor.ReportViolation(domain.ViolationTabSwitch, "") {
		t.Fatalf("first violation is a warning, not termination")
	}
	if monitor.ReportViolation(domain.ViolationCopyPaste, "") {
		t.Fatalf("second violation still within budget")
	}
	if !monitor.ReportViolation(domain.ViolationRightClick, "") {
		t.Fatalf("third violation must exceed the 2-warning budget")
	}
	if !monitor.ShouldTerminate() {
		t.Fatalf("expected ShouldTerminate after budget exhausted")
	}
	if monitor.TotalViolations() != 3 {
		t.Fatalf("expected 3 total violations, got %d", monitor.TotalViolations())
	}
	if monitor.ViolationCount(domain.ViolationTabSwitch) != 1 {
		t.Fatalf("categories must be counted independently")
	}
}

func TestDisabledProtectionIgnoresEvents(t *testing.T) {
	policy := domain.DefaultSecurityPolicy()
	policy.RightClickProtection = false
	monitor := NewMonitor(policy, nil)
	monitor.StartSession(context.Background(), "quiz-1", "u1", "fp")

	for i := 0; i < 5; i++ {
		if monitor.ReportViolation(domain.ViolationRightClick, "") {
			t.Fatalf("disabled protection must never terminate")
		}
	}
	if monitor.TotalViolations() != 0 {
		t.Fatalf("disabled protection must not count, got %d", monitor.TotalViolations())
	}
}

func TestTerminateIsIdempotent(t *testing.T) {
	backend := &fakeBackend{}
	monitor := NewMonitor(domain.DefaultSecurityPolicy(), backend)
	monitor.StartSession(context.Background(), "quiz-1", "u1", "fp")

	monitor.Terminate(context.Background(), domain.ReasonSecurityViolation)
	monitor.Terminate(context.Background(), domain.ReasonCompleted)
	monitor.Terminate(context.Background(), domain.ReasonAbandoned)

	if backend.terminates != 1 {
		t.Fatalf("backend must be notified once, got %d", backend.terminates)
	}
	if monitor.Reason() != domain.ReasonSecurityViolation {
		t.Fatalf("first reason wins, got %s", monitor.Reason())
	}
	if monitor.ReportViolation(domain.ViolationTabSwitch, "") {
		t.Fatalf("terminated monitor must ignore further events")
	}
}

func TestStartSessionFailureDoesNotBlock(t *testing.T) {
	backend := &fakeBackend{startErr: errors.New("backend down")}
	monitor := NewMonitor(domain.DefaultSecurityPolicy(), backend)

	sessionID := monitor.StartSession(context.Background(), "quiz-1", "u1", "fp")
	if sessionID != "" {
		t.Fatalf("expected empty session id on backend failure, got %q", sessionID)
	}
	// Monitoring still runs locally.
	monitor.ReportViolation(domain.ViolationTabSwitch, "")
	if monitor.TotalViolations() != 1 {
		t.Fatalf("local monitoring must continue without a remote session")
	}
	// Location pushes are skipped without a session id, never a crash.
	monitor.UpdateLocation(context.Background(), domain.Location{})
	if backend.locations != 0 {
		t.Fatalf("no session id means no location pushes")
	}
}

func TestFingerprintIsCappedAndDeterministic(t *testing.T) {
	components := FingerprintComponents{
		ScreenResolution: "1920x1080",
		Timezone:         "Europe/Berlin",
		Language:         "de-DE",
		Platform:         "Linux x86_64",
		CanvasHash:       "abcdefabcdefabcdefabcdefabcdef",
	}
	at := time.Unix(1700000000, 0)

	first := Fingerprint(components, at)
	second := Fingerprint(components, at)
	if first != second {
		t.Fatalf("same inputs must fingerprint identically")
	}
	if len(first) == 0 || len(first) > 64 {
		t.Fatalf("fingerprint must be capped at 64 chars, got %d", len(first))
	}
	if later := Fingerprint(components, at.Add(time.Second)); later == first {
		t.Fatalf("timestamp must vary the fingerprint")
	}
}
