package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"quiz-attempt-service/internal/domain"
)

// SecuritySession is the in-memory record of one proctoring session.
type SecuritySession struct {
	ID           string
	QuizID       string
	UserID       string
	Fingerprint  string
	LastLocation *domain.Location
	Terminated   bool
	Reason       domain.TerminationReason
}

// SecurityBackend is an in-memory security.Backend (tests/demos).
type SecurityBackend struct {
	mu       sync.Mutex
	sessions map[string]*SecuritySession
}

func NewSecurityBackend() *SecurityBackend {
	return &SecurityBackend{sessions: make(map[string]*SecuritySession)}
}

func (b *SecurityBackend) StartSession(_ context.Context, quizID, userID, fingerprint string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.NewString()
	b.sessions[id] = &SecuritySession{
		ID:          id,
		QuizID:      quizID,
		UserID:      userID,
		Fingerprint: fingerprint,
	}
	return id, nil
}

func (b *SecurityBackend) UpdateLocation(_ context.Context, sessionID string, loc domain.Location) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if session, ok := b.sessions[sessionID]; ok {
		session.LastLocation = &loc
	}
	return nil
}

func (b *SecurityBackend) TerminateSession(_ context.Context, sessionID string, reason domain.TerminationReason) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if session, ok := b.sessions[sessionID]; ok {
		session.Terminated = true
		session.Reason = reason
	}
	return nil
}

// Session returns a session by id, for assertions in tests.
func (b *SecurityBackend) Session(sessionID string) (SecuritySession, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if session, ok := b.sessions[sessionID]; ok {
		return *session, true
	}
	return SecuritySession{}, false
}

// StaticSecurityConfig serves a fixed policy per quiz; quizzes without an
// entry fall back to the default policy.
type StaticSecurityConfig struct {
	policies map[string]domain.SecurityPolicy
}

func NewStaticSecurityConfig(policies map[string]domain.SecurityPolicy) *StaticSecurityConfig {
	return &StaticSecurityConfig{policies: policies}
}

func (c *StaticSecurityConfig) SecurityPolicy(_ context.Context, quizID string) (domain.SecurityPolicy, error) {
	if policy, ok := c.policies[quizID]; ok {
		return policy, nil
	}
	return domain.DefaultSecurityPolicy(), nil
}

// StaticAssignmentProvider serves fixed assignment policies (tests/demos).
type StaticAssignmentProvider struct {
	policies map[string]domain.AssignmentPolicy
}

func NewStaticAssignmentProvider(policies map[string]domain.AssignmentPolicy) *StaticAssignmentProvider {
	return &StaticAssignmentProvider{policies: policies}
}

func (p *StaticAssignmentProvider) AssignmentPolicy(_ context.Context, quizID string) (domain.AssignmentPolicy, error) {
	if policy, ok := p.policies[quizID]; ok {
		return policy, nil
	}
	return domain.AssignmentPolicy{}, domain.ErrQuizNotFound
}
