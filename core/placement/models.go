package placement

import (
	"time"

	"github.com/trezcool/lingua/core/cefr"
)

const (
	PageCount        = 5
	QuestionsPerPage = 5
	QuestionCount    = PageCount * QuestionsPerPage

	// Cooldown is the minimum time between two completed attempts of a learner.
	Cooldown = 7 * 24 * time.Hour
)

// Option is one of the four answer letters.
type Option string

const (
	OptionA Option = "A"
	OptionB Option = "B"
	OptionC Option = "C"
	OptionD Option = "D"
)

func (o Option) Valid() bool {
	switch o {
	case OptionA, OptionB, OptionC, OptionD:
		return true
	}
	return false
}

type Choices struct {
	A string `json:"A" yaml:"A" validate:"required"`
	B string `json:"B" yaml:"B" validate:"required"`
	C string `json:"C" yaml:"C" validate:"required"`
	D string `json:"D" yaml:"D" validate:"required"`
}

type Question struct {
	ID            int     `json:"id" yaml:"id" validate:"min=1,max=25"`
	Page          int     `json:"page" yaml:"page" validate:"omitempty,min=1,max=5"`
	Text          string  `json:"text" yaml:"text" validate:"required"`
	Options       Choices `json:"options" yaml:"options"`
	CorrectAnswer Option  `json:"correct_answer" yaml:"correct_answer" validate:"required,option"`
}

// Test is one immutable version of the placement test.
type Test struct {
	ID        string     `json:"id"`
	Version   int        `json:"version"`
	Title     string     `json:"title"`
	IsActive  bool       `json:"is_active"`
	Questions []Question `json:"questions"`
	CreatedBy string     `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
}

type (
	IssuedQuestion struct {
		ID      int     `json:"id"`
		Page    int     `json:"page"`
		Text    string  `json:"text"`
		Options Choices `json:"options"`
	}

	// IssuedTest is a Test as shown to a learner: without the correct answers.
	IssuedTest struct {
		TestID    string           `json:"test_id"`
		Version   int              `json:"version"`
		Title     string           `json:"title"`
		Questions []IssuedQuestion `json:"questions"`
	}
)

func (t Test) Issue() IssuedTest {
	qs := make([]IssuedQuestion, 0, len(t.Questions))
	for _, q := range t.Questions {
		qs = append(qs, IssuedQuestion{ID: q.ID, Page: q.Page, Text: q.Text, Options: q.Options})
	}
	return IssuedTest{TestID: t.ID, Version: t.Version, Title: t.Title, Questions: qs}
}

// NewTest is the content of a new placement test version.
type NewTest struct {
	Title     string     `json:"title" yaml:"title" validate:"required"`
	Questions []Question `json:"questions" yaml:"questions" validate:"len=25,dive"`
}

type (
	Answer struct {
		QuestionID     int    `json:"question_id"`
		SelectedAnswer Option `json:"selected_answer"`
	}

	Submission struct {
		TestID  string   `json:"test_id"`
		Answers []Answer `json:"answers"`
	}

	// Result is one completed attempt. Results are never updated.
	Result struct {
		ID            string     `json:"test_result_id"`
		StudentID     string     `json:"student_id"`
		TestID        string     `json:"test_id"`
		Answers       []Answer   `json:"answers,omitempty"`
		Score         int        `json:"score"`
		Percentage    int        `json:"percentage"`
		AssignedLevel cefr.Level `json:"assigned_level"`
		CompletedAt   time.Time  `json:"completed_at"`
	}

	Eligibility struct {
		Eligible          bool       `json:"eligible"`
		Reason            string     `json:"reason,omitempty"`
		LastTestDate      *time.Time `json:"last_test_date,omitempty"`
		NextAvailableDate *time.Time `json:"next_available_date,omitempty"`
	}
)
