// Package testutil holds fixtures shared by the service and API tests.
package testutil

import (
	"context"
	"fmt"
	"io/ioutil"
	"log"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/lingua/core"
	"github.com/trezcool/lingua/core/billing"
	"github.com/trezcool/lingua/core/cefr"
	"github.com/trezcool/lingua/core/placement"
	"github.com/trezcool/lingua/core/student"
	"github.com/trezcool/lingua/core/user"
	logsvc "github.com/trezcool/lingua/services/logger"
)

// NewValidator returns a validator with every custom tag of the app registered.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.RegisterValidators(validate, translator)
	placement.RegisterValidators(validate, translator)
	return validate, translator
}

// NewLogger returns a silent logger with Rollbar disabled.
func NewLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(log.New(ioutil.Discard, "", 0), conf)
	logger.Enable(false)
	return logger
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	usr.SetActive(isActive)
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

// CreateStudent registers an active learner, optionally with an assigned level.
func CreateStudent(t *testing.T, repo student.Repository, name, email string, assigned *cefr.Level) student.Profile {
	t.Helper()
	now := time.Now().UTC()
	usr := user.User{
		Name:      name,
		Email:     email,
		Roles:     []string{user.RoleStudent},
		CreatedAt: now,
		UpdatedAt: now,
	}
	usr.SetActive(true)
	if err := usr.SetPassword("Tr0ub4dor&3x"); err != nil {
		t.Fatalf("createStudent() failed: %v", err)
	}
	p, err := repo.RegisterStudent(context.Background(), usr, student.Profile{
		AssignedLevel: assigned,
		PaymentStatus: billing.StatusNone,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		t.Fatalf("createStudent() failed: %v", err)
	}
	return p
}

// SetPayment stores a payment of the given status for a learner, as the webhooks would.
func SetPayment(t *testing.T, repo billing.Repository, studentID string, status billing.Status, graceEndsAt *time.Time) billing.Payment {
	t.Helper()
	now := time.Now().UTC()
	p, err := repo.SavePayment(context.Background(), billing.Payment{
		StudentID:                 studentID,
		ProviderCustomerID:        "cus_" + studentID,
		ProviderSubscriptionID:    "sub_" + studentID,
		ProviderCheckoutSessionID: "cs_" + studentID,
		Status:                    status,
		GracePeriodEndsAt:         graceEndsAt,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	})
	if err != nil {
		t.Fatalf("setPayment() failed: %v", err)
	}
	return p
}

// Questions returns a complete question set. The correct answer cycles through A, B, C, D.
func Questions() []placement.Question {
	opts := []placement.Option{placement.OptionA, placement.OptionB, placement.OptionC, placement.OptionD}
	qs := make([]placement.Question, 0, placement.QuestionCount)
	for i := 1; i <= placement.QuestionCount; i++ {
		qs = append(qs, placement.Question{
			ID:   i,
			Text: fmt.Sprintf("Question %d", i),
			Options: placement.Choices{
				A: "first", B: "second", C: "third", D: "fourth",
			},
			CorrectAnswer: opts[(i-1)%len(opts)],
		})
	}
	return qs
}

func PublishTest(t *testing.T, repo placement.Repository, createdBy string) placement.Test {
	t.Helper()
	qs := Questions()
	for i := range qs {
		qs[i].Page = (qs[i].ID-1)/placement.QuestionsPerPage + 1
	}
	pt, err := repo.PublishTest(context.Background(), placement.Test{
		Title:     "General English",
		IsActive:  true,
		Questions: qs,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("publishTest() failed: %v", err)
	}
	return pt
}

// Answers answers every question of pt, the first `correct` of them correctly.
func Answers(pt placement.Test, correct int) []placement.Answer {
	answers := make([]placement.Answer, 0, len(pt.Questions))
	for i, q := range pt.Questions {
		ans := q.CorrectAnswer
		if i >= correct {
			ans = wrong(ans)
		}
		answers = append(answers, placement.Answer{QuestionID: q.ID, SelectedAnswer: ans})
	}
	return answers
}

func wrong(opt placement.Option) placement.Option {
	if opt == placement.OptionA {
		return placement.OptionB
	}
	return placement.OptionA
}
