// Package security aggregates violation events into a bounded counter per
// attempt and decides continue/terminate. It fails closed: when the config
// provider is unreachable the monitor applies the conservative default
// policy rather than disabling itself.
package security

import (
	"context"
	"log"
	"sync"

	"quiz-attempt-service/internal/domain"
)

// Backend is the remote proctoring collaborator. Calls are best-effort:
// failures are logged and never block the attempt.
type Backend interface {
	StartSession(ctx context.Context, quizID, userID, fingerprint string) (string, error)
	UpdateLocation(ctx context.Context, sessionID string, loc domain.Location) error
	TerminateSession(ctx context.Context, sessionID string, reason domain.TerminationReason) error
}

// ConfigProvider resolves the behavioral-protection policy for a quiz.
type ConfigProvider interface {
	SecurityPolicy(ctx context.Context, quizID string) (domain.SecurityPolicy, error)
}

// ResolvePolicy loads the policy from the provider, falling back to the
// fail-closed default on any error.
func ResolvePolicy(ctx context.Context, provider ConfigProvider, quizID string) domain.SecurityPolicy {
	if provider == nil {
		return domain.DefaultSecurityPolicy()
	}
	policy, err := provider.SecurityPolicy(ctx, quizID)
	if err != nil {
		log.Printf("security config fetch failed for quiz %s, applying fail-closed default: %v", quizID, err)
		return domain.DefaultSecurityPolicy()
	}
	return policy
}

type monitorState int

const (
	stateInactive monitorState = iota
	stateMonitoring
	stateTerminated
)

// Monitor tracks violations for one proctored attempt.
type Monitor struct {
	policy  domain.SecurityPolicy
	backend Backend

	mu          sync.Mutex
	state       monitorState
	sessionID   string
	fingerprint string
	counts      map[domain.ViolationCategory]int
	reason      domain.TerminationReason
}

func NewMonitor(policy domain.SecurityPolicy, backend Backend) *Monitor {
	return &Monitor{
		policy:  policy,
		backend: backend,
		counts:  make(map[domain.ViolationCategory]int),
	}
}

// StartSession registers the attempt with the remote backend and begins
// monitoring. A backend failure does not block the student: monitoring
// proceeds without a remote session id.
func (m *Monitor) StartSession(ctx context.Context, quizID, userID, fingerprint string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != stateInactive {
		return m.sessionID
	}
	m.fingerprint = fingerprint
	m.state = stateMonitoring

	if m.backend != nil {
		sessionID, err := m.backend.StartSession(ctx, quizID, userID, fingerprint)
		if err != nil {
			log.Printf("security session start failed for quiz %s: %v", quizID, err)
		} else {
			m.sessionID = sessionID
		}
	}
	return m.sessionID
}

// protectionEnabled maps a category to its policy flag. Location violations
// are always counted: geofencing is governed by the geofence policy, not a
// behavioral protection toggle.
func (m *Monitor) protectionEnabled(category domain.ViolationCategory) bool {
	switch category {
	case domain.ViolationTabSwitch:
		return m.policy.TabSwitchProtection
	case domain.ViolationCopyPaste:
		return m.policy.CopyPasteProtection
	case domain.ViolationRightClick:
		return m.policy.RightClickProtection
	case domain.ViolationShortcutKey:
		return m.policy.ShortcutKeyProtection
	case domain.ViolationLocation:
		return true
	default:
		return false
	}
}

// ReportViolation counts one violation and reports whether the total now
// exceeds the allowed warnings. Events for disabled protections are ignored.
func (m *Monitor) ReportViolation(category domain.ViolationCategory, metadata string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != stateMonitoring || !m.protectionEnabled(category) {
		return false
	}
	m.counts[category]++
	if metadata != "" {
		log.Printf("security violation %s (%s): total %d of %d allowed", category, metadata, m.totalLocked(), m.policy.WarningsAllowed)
	}
	return m.totalLocked() > m.policy.WarningsAllowed
}

func (m *Monitor) totalLocked() int {
	total := 0
	for _, n := range m.counts {
		total += n
	}
	return total
}

// ViolationCount returns the count for one category.
func (m *Monitor) ViolationCount(category domain.ViolationCategory) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[category]
}

// TotalViolations returns the count across all categories.
func (m *Monitor) TotalViolations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalLocked()
}

// WarningsRemaining reports how many more violations the attempt survives.
func (m *Monitor) WarningsRemaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	remaining := m.policy.WarningsAllowed - m.totalLocked()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ShouldTerminate reports whether the violation budget is exhausted.
func (m *Monitor) ShouldTerminate() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == stateTerminated {
		return true
	}
	return m.totalLocked() > m.policy.WarningsAllowed
}

// UpdateLocation forwards a reading to the backend, fire-and-forget.
func (m *Monitor) UpdateLocation(ctx context.Context, loc domain.Location) {
	m.mu.Lock()
	sessionID := m.sessionID
	active := m.state == stateMonitoring
	m.mu.Unlock()
	if !active || sessionID == "" || m.backend == nil {
		return
	}
	if err := m.backend.UpdateLocation(ctx, sessionID, loc); err != nil {
		log.Printf("security location update failed: %v", err)
	}
}

// Terminate closes the session with the given reason. Idempotent: repeated
// calls keep the first reason and do not re-notify the backend.
func (m *Monitor) Terminate(ctx context.Context, reason domain.TerminationReason) {
	m.mu.Lock()
	if m.state == stateTerminated {
		m.mu.Unlock()
		return
	}
	m.state = stateTerminated
	m.reason = reason
	sessionID := m.sessionID
	m.mu.Unlock()

	if sessionID != "" && m.backend != nil {
		if err := m.backend.TerminateSession(ctx, sessionID, reason); err != nil {
			log.Printf("security session terminate failed: %v", err)
		}
	}
}

// Reason returns the termination reason, empty while monitoring.
func (m *Monitor) Reason() domain.TerminationReason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// SessionID returns the backend session id, empty when the remote start
// failed or monitoring runs locally only.
func (m *Monitor) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}
