package placement

import (
	"fmt"
	"math"
	"sort"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/lingua/core"
	"github.com/trezcool/lingua/core/cefr"
)

var (
	optionTag  = "option"
	optionText = "must be one of A, B, C, D"
)

// RegisterValidators registers the placement validators and their translations.
func RegisterValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(optionTag, func(fl validator.FieldLevel) bool {
		return Option(fl.Field().String()).Valid()
	})
	core.RegisterCustomTranslation(validate, translator, optionTag, optionText)
}

// Percentage converts a score out of QuestionCount to a rounded percentage.
func Percentage(score int) int {
	return int(math.Round(float64(score) / QuestionCount * 100))
}

// Grade returns the percentage and level of a score.
func Grade(score int) (int, cefr.Level, error) {
	pct := Percentage(score)
	lvl, err := cefr.FromPercentage(pct)
	if err != nil {
		return 0, "", errors.Wrapf(err, "grading score %d", score)
	}
	return pct, lvl, nil
}

func answersError(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	return core.NewValidationError(errors.New(msg), core.FieldError{Field: "answers", Error: msg})
}

// validateAnswers checks the shape of a submission: exactly one valid answer per question 1..25.
func validateAnswers(answers []Answer) error {
	if len(answers) != QuestionCount {
		return answersError("exactly %d answers are required, got %d", QuestionCount, len(answers))
	}
	seen := make(map[int]bool, QuestionCount)
	for _, a := range answers {
		if a.QuestionID < 1 || a.QuestionID > QuestionCount {
			return answersError("unknown question %d", a.QuestionID)
		}
		if seen[a.QuestionID] {
			return answersError("question %d answered more than once", a.QuestionID)
		}
		seen[a.QuestionID] = true
		if !a.SelectedAnswer.Valid() {
			return answersError("invalid answer %q to question %d", a.SelectedAnswer, a.QuestionID)
		}
	}
	return nil
}

// Score counts the correct answers. Answers must have been validated.
func (t Test) Score(answers []Answer) int {
	correct := make(map[int]Option, len(t.Questions))
	for _, q := range t.Questions {
		correct[q.ID] = q.CorrectAnswer
	}
	var score int
	for _, a := range answers {
		if opt, ok := correct[a.QuestionID]; ok && opt == a.SelectedAnswer {
			score++
		}
	}
	return score
}

// CheckEligibility tells whether a learner whose latest result is `last` may take the test at `now`.
func CheckEligibility(last *Result, now time.Time) Eligibility {
	if last == nil {
		return Eligibility{Eligible: true}
	}
	lastDate := last.CompletedAt.UTC()
	next := lastDate.Add(Cooldown)
	elig := Eligibility{
		Eligible:          !now.Before(next),
		LastTestDate:      &lastDate,
		NextAvailableDate: &next,
	}
	if !elig.Eligible {
		elig.Reason = fmt.Sprintf("the placement test can be taken once every %d days", int(Cooldown.Hours()/24))
	}
	return elig
}

// normalize orders the questions of a new test and fills in their page.
func (nt *NewTest) normalize() error {
	nt.Title = core.CleanString(nt.Title)
	seen := make(map[int]bool, len(nt.Questions))
	for i := range nt.Questions {
		q := &nt.Questions[i]
		q.Text = core.CleanString(q.Text)
		q.CorrectAnswer = Option(core.CleanString(string(q.CorrectAnswer)))
		if seen[q.ID] {
			return core.NewValidationError(nil, core.FieldError{
				Field: "questions", Error: fmt.Sprintf("question %d defined more than once", q.ID),
			})
		}
		seen[q.ID] = true

		page := (q.ID-1)/QuestionsPerPage + 1
		if q.Page != 0 && q.Page != page {
			return core.NewValidationError(nil, core.FieldError{
				Field: "questions", Error: fmt.Sprintf("question %d belongs on page %d", q.ID, page),
			})
		}
		q.Page = page
	}
	sort.Slice(nt.Questions, func(i, j int) bool { return nt.Questions[i].ID < nt.Questions[j].ID })
	return nil
}
