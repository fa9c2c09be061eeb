// Package quiz grades quiz submissions. Grading is pure: no I/O, no ledger calls.
package quiz

import (
	"errors"
	"fmt"
	"math"

	"github.com/RegistryAccord/registryaccord-academy-go/internal/model"
)

// Unanswered marks a question with no selected option.
const Unanswered = -1

// ErrUnanswered is returned when at least one answer is Unanswered.
var ErrUnanswered = errors.New("every question must be answered")

// Result is a graded submission.
type Result struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
	Score   int `json:"score"` // Percentage 0-100
}

// Passed reports whether the score meets threshold. Equal passes.
func (r Result) Passed(threshold int) bool {
	return r.Score >= threshold
}

// Grade scores answers against questions.
// No score is computed when any answer is Unanswered.
func Grade(questions []model.Question, answers []int) (Result, error) {
	if len(questions) == 0 {
		return Result{}, errors.New("quiz has no questions")
	}
	if len(answers) != len(questions) {
		return Result{}, fmt.Errorf("got %d answers for %d questions", len(answers), len(questions))
	}
	for _, a := range answers {
		if a == Unanswered {
			return Result{}, ErrUnanswered
		}
	}

	correct := 0
	for i, q := range questions {
		a := answers[i]
		if a < 0 || a >= model.OptionsPerQuestion {
			return Result{}, fmt.Errorf("answer %d for question %d is out of range", a, i+1)
		}
		if a == q.CorrectAnswer {
			correct++
		}
	}

	score := int(math.Round(100 * float64(correct) / float64(len(questions))))
	return Result{Correct: correct, Total: len(questions), Score: score}, nil
}

// Blank returns n unanswered slots.
func Blank(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = Unanswered
	}
	return out
}
