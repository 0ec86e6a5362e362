package domain

import "time"

// Question models a single-select MCQ question. CorrectAnswerIndex must be a
// valid index into Options; Validate enforces this at load time.
type Question struct {
	ID                 string   `json:"id"`
	Prompt             string   `json:"prompt"`
	Options            []string `json:"options"`
	CorrectAnswerIndex int      `json:"correctAnswerIndex"`
	Points             int      `json:"points"` // defaults to 1 if zero
	Explanation        string   `json:"explanation,omitempty"`
}

// QuizDefinition is immutable once loaded. Shuffling produces a derived copy,
// never an in-place permutation.
type QuizDefinition struct {
	ID                     string     `json:"id"`
	Title                  string     `json:"title"`
	Questions              []Question `json:"questions"`
	TotalPoints            int        `json:"totalPoints"`
	PassingScorePercent    int        `json:"passingScorePercent"`
	NegativeMarkingEnabled bool       `json:"negativeMarkingEnabled"`
}

// TimerMode selects one of the three mutually exclusive timing behaviors.
type TimerMode string

const (
	TimerNone        TimerMode = "none"
	TimerTotalQuiz   TimerMode = "total"
	TimerPerQuestion TimerMode = "per_question"
)

// TimerPolicy is chosen once at configuration and immutable thereafter.
// Seconds is the whole-quiz budget under TimerTotalQuiz and the per-question
// budget under TimerPerQuestion; it is ignored under TimerNone.
type TimerPolicy struct {
	Mode    TimerMode `json:"mode"`
	Seconds int       `json:"seconds"`
}

// Location is a geographic reading from the taker's device.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// GeofencePolicy restricts quiz-taking to a radius around a coordinate.
// Readings beyond RadiusMeters are violations; beyond 1.5x the radius the
// violation is hard and cannot self-heal.
type GeofencePolicy struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radiusMeters"`
}

// SecurityPolicy holds the behavioral protections enforced during a
// proctored attempt. WarningsAllowed is the total violation budget across
// all categories before forced termination.
type SecurityPolicy struct {
	TabSwitchProtection   bool `json:"tabSwitchProtection"`
	CopyPasteProtection   bool `json:"copyPasteProtection"`
	RightClickProtection  bool `json:"rightClickProtection"`
	ShortcutKeyProtection bool `json:"shortcutKeyProtection"`
	WarningsAllowed       int  `json:"warningsAllowed"`
}

// DefaultSecurityPolicy is the fail-closed fallback applied when the security
// config provider is unreachable: every protection on, 2 warnings allowed.
func DefaultSecurityPolicy() SecurityPolicy {
	return SecurityPolicy{
		TabSwitchProtection:   true,
		CopyPasteProtection:   true,
		RightClickProtection:  true,
		ShortcutKeyProtection: true,
		WarningsAllowed:       2,
	}
}

// ViolationCategory labels a detected departure from required behavior.
type ViolationCategory string

const (
	ViolationTabSwitch   ViolationCategory = "tab_switch"
	ViolationCopyPaste   ViolationCategory = "copy_paste"
	ViolationRightClick  ViolationCategory = "right_click"
	ViolationShortcutKey ViolationCategory = "shortcut_key"
	ViolationLocation    ViolationCategory = "location"
)

// TerminationReason records why an attempt left the active state. Forced
// terminations must always be distinguishable from a normal finish.
type TerminationReason string

const (
	ReasonCompleted         TerminationReason = "quiz_completed"
	ReasonAbandoned         TerminationReason = "quiz_abandoned"
	ReasonTimeExpired       TerminationReason = "time_expired"
	ReasonSecurityViolation TerminationReason = "security_violation"
	ReasonLocationViolation TerminationReason = "location_violation"
)

// AssignmentPolicy is the teacher-authored configuration governing an
// assignment-mode attempt. Zero values mean the feature is disabled.
type AssignmentPolicy struct {
	Timer            TimerPolicy     `json:"timer"`
	ShuffleQuestions bool            `json:"shuffleQuestions"`
	SkipQuestions    bool            `json:"skipQuestions"`
	MaxAttempts      int             `json:"maxAttempts"` // 0 = unlimited
	Geofence         *GeofencePolicy `json:"geofence,omitempty"`
	Proctored        bool            `json:"proctored"`
	DueDate          *time.Time      `json:"dueDate,omitempty"`
	Instructions     string          `json:"instructions,omitempty"`
}

// Mode is the tagged attempt mode, resolved once at configuration time.
// Self-quizzes carry no security or geofencing; assignments carry the
// teacher-authored policy.
type Mode struct {
	Assignment bool
	Policy     AssignmentPolicy
}

// SelfQuiz returns the unproctored practice mode with the given timer choice.
func SelfQuiz(timer TimerPolicy, shuffle, allowSkip bool) Mode {
	return Mode{Policy: AssignmentPolicy{
		Timer:            timer,
		ShuffleQuestions: shuffle,
		SkipQuestions:    allowSkip,
	}}
}

// Assignment returns the policy-governed mode.
func Assignment(policy AssignmentPolicy) Mode {
	return Mode{Assignment: true, Policy: policy}
}

// RequiresSecurity reports whether the attempt needs a proctoring session.
func (m Mode) RequiresSecurity() bool {
	return m.Assignment && (m.Policy.Proctored || m.Policy.Geofence != nil)
}

// ScoreResult is derived once per completed attempt and never mutated.
// PointsEarned may be negative under negative marking and is compared
// unclamped against the passing threshold.
type ScoreResult struct {
	PointsEarned   int  `json:"pointsEarned"`
	MaxPoints      int  `json:"maxPoints"`
	CorrectCount   int  `json:"correctCount"`
	IncorrectCount int  `json:"incorrectCount"`
	SkippedCount   int  `json:"skippedCount"`
	IsPassed       bool `json:"isPassed"`
}

// QuestionOutcome is the per-question breakdown handed to persistence
// alongside the ScoreResult.
type QuestionOutcome struct {
	QuestionID     string `json:"questionId"`
	SelectedOption int    `json:"selectedOption"` // -1 when unanswered
	Correct        bool   `json:"correct"`
	ElapsedSeconds int    `json:"elapsedSeconds"`
}

// AttemptRecord is the full outcome of one attempt, the unit handed to the
// result store.
type AttemptRecord struct {
	AttemptID  string            `json:"attemptId"`
	QuizID     string            `json:"quizId"`
	UserID     string            `json:"userId"`
	Assignment bool              `json:"assignment"`
	Reason     TerminationReason `json:"reason"`
	Score      ScoreResult       `json:"score"`
	Breakdown  []QuestionOutcome `json:"breakdown"`
	FinishedAt time.Time         `json:"finishedAt"`
}

// Validate fails fast on malformed definitions so they never surface
// mid-attempt.
func (q QuizDefinition) Validate() error {
	if len(q.Questions) == 0 {
		return ErrInvalidQuiz
	}
	for _, question := range q.Questions {
		if len(question.Options) == 0 {
			return ErrInvalidQuiz
		}
		if question.CorrectAnswerIndex < 0 || question.CorrectAnswerIndex >= len(question.Options) {
			return ErrInvalidQuiz
		}
		if question.Points < 0 {
			return ErrInvalidQuiz
		}
	}
	return nil
}
