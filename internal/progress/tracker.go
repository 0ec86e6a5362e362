// Package progress holds the mutable per-attempt answer and timing state.
// The tracker is owned exclusively by the orchestrator; it carries no locks
// because all mutation funnels through the orchestrator's single event loop.
package progress

import "quiz-attempt-service/internal/domain"

// Tracker records answers and per-question elapsed time for one attempt.
type Tracker struct {
	questionCount int
	allowSkip     bool
	current       int
	answers       map[int]int
	elapsed       map[int]int
}

func NewTracker(questionCount int, allowSkip bool) *Tracker {
	return &Tracker{
		questionCount: questionCount,
		allowSkip:     allowSkip,
		answers:       make(map[int]int),
		elapsed:       make(map[int]int),
	}
}

// Current returns the 0-based index of the question in view.
func (t *Tracker) Current() int { return t.current }

// RecordAnswer stores the selected option, overwriting any previous answer
// for the same question.
func (t *Tracker) RecordAnswer(questionIndex, selectedOption int) error {
	if questionIndex < 0 || questionIndex >= t.questionCount {
		return domain.ErrOutOfRange
	}
	t.answers[questionIndex] = selectedOption
	return nil
}

// RecordElapsed accumulates seconds spent on a question. Revisits add onto
// previously recorded time rather than replacing it.
func (t *Tracker) RecordElapsed(questionIndex, seconds int) error {
	if questionIndex < 0 || questionIndex >= t.questionCount {
		return domain.ErrOutOfRange
	}
	if seconds > 0 {
		t.elapsed[questionIndex] += seconds
	}
	return nil
}

// Skip clears any recorded answer for the question, leaving it unanswered.
// Fails when the attempt policy forbids skipping.
func (t *Tracker) Skip(questionIndex int) error {
	if !t.allowSkip {
		return domain.ErrOperationNotAllowed
	}
	if questionIndex < 0 || questionIndex >= t.questionCount {
		return domain.ErrOutOfRange
	}
	delete(t.answers, questionIndex)
	return nil
}

// GoTo moves the current-question cursor.
func (t *Tracker) GoTo(questionIndex int) error {
	if questionIndex < 0 || questionIndex >= t.questionCount {
		return domain.ErrOutOfRange
	}
	t.current = questionIndex
	return nil
}

// Answer returns the recorded option for a question, if any.
func (t *Tracker) Answer(questionIndex int) (int, bool) {
	selected, ok := t.answers[questionIndex]
	return selected, ok
}

// AnsweredCount reports how many questions currently hold an answer.
func (t *Tracker) AnsweredCount() int { return len(t.answers) }

// Answers returns a copy of the answer map for scoring.
func (t *Tracker) Answers() map[int]int {
	out := make(map[int]int, len(t.answers))
	for k, v := range t.answers {
		out[k] = v
	}
	return out
}

// Elapsed returns a copy of the per-question elapsed seconds.
func (t *Tracker) Elapsed() map[int]int {
	out := make(map[int]int, len(t.elapsed))
	for k, v := range t.elapsed {
		out[k] = v
	}
	return out
}
