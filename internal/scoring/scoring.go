// Package scoring computes marks from answers and question definitions.
// Everything here is pure and deterministic; callers may recompute freely.
package scoring

import "quiz-attempt-service/internal/domain"

// questionPoints applies the default of 1 point for questions authored
// without an explicit value.
func questionPoints(q domain.Question) int {
	if q.Points == 0 {
		return 1
	}
	return q.Points
}

// MaxPoints sums the point values of all questions.
func MaxPoints(questions []domain.Question) int {
	total := 0
	for _, q := range questions {
		total += questionPoints(q)
	}
	return total
}

// Compute scores an attempt. answers maps question index to the selected
// option index; absent entries count as skipped. Under negative marking an
// incorrect answer deducts that question's own point value, so PointsEarned
// may go negative. The pass check compares the raw (possibly negative) total
// against the percentage threshold without clamping.
func Compute(questions []domain.Question, answers map[int]int, negativeMarking bool, passingScorePercent int) domain.ScoreResult {
	result := domain.ScoreResult{}
	for i, q := range questions {
		points := questionPoints(q)
		result.MaxPoints += points

		selected, answered := answers[i]
		if !answered {
			continue
		}
		if selected == q.CorrectAnswerIndex {
			result.PointsEarned += points
			result.CorrectCount++
		} else {
			result.IncorrectCount++
			if negativeMarking {
				result.PointsEarned -= points
			}
		}
	}
	result.SkippedCount = len(questions) - result.CorrectCount - result.IncorrectCount
	result.IsPassed = result.PointsEarned*100 >= result.MaxPoints*passingScorePercent
	return result
}

// Breakdown builds the per-question outcome list handed to persistence.
// elapsed maps question index to accumulated seconds spent on that question.
func Breakdown(questions []domain.Question, answers map[int]int, elapsed map[int]int) []domain.QuestionOutcome {
	outcomes := make([]domain.QuestionOutcome, 0, len(questions))
	for i, q := range questions {
		outcome := domain.QuestionOutcome{
			QuestionID:     q.ID,
			SelectedOption: -1,
			ElapsedSeconds: elapsed[i],
		}
		if selected, ok := answers[i]; ok {
			outcome.SelectedOption = selected
			outcome.Correct = selected == q.CorrectAnswerIndex
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}
