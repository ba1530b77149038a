package placement

import (
	"context"
	"fmt"
	"net/mail"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/lingua/core"
)

var (
	nowFunc = time.Now // mockable

	// errors
	ErrTestNotFound    = core.NewNotFoundError("placement test not found")
	ErrNoActiveTest    = core.NewNotFoundError("no active placement test")
	ErrResultNotFound  = core.NewNotFoundError("test result not found")
	ErrStudentNotFound = core.NewNotFoundError("student profile not found")
	ErrNotEligible     = core.NewForbiddenError("placement test already taken within the last 7 days")
)

type Repository interface {
	// PublishTest stores t as the next version and makes it the only active one, atomically.
	PublishTest(ctx context.Context, t Test) (Test, error)
	GetActiveTest(ctx context.Context) (Test, error)
	GetTest(ctx context.Context, id string) (Test, error)
	QueryTests(ctx context.Context) ([]Test, error)
	// GetLatestResult returns nil when the learner has no result yet.
	GetLatestResult(ctx context.Context, studentID string) (*Result, error)
	QueryResults(ctx context.Context, studentID string) ([]Result, error)
	GetResult(ctx context.Context, id string) (Result, error)
	// SaveResult stores res and sets it as the learner's assigned level in one transaction.
	// The learner profile is locked first and `check` is called with the latest result under
	// the lock, so that concurrent submissions cannot both pass the cooldown.
	SaveResult(ctx context.Context, res Result, check func(last *Result) error) (Result, error)
}

type Service struct {
	repo     Repository
	contacts core.ContactBook
	mailSvc  core.EmailService
	logger   core.Logger
	validate *validator.Validate
}

func NewService(
	repo Repository,
	contacts core.ContactBook,
	mailSvc core.EmailService,
	logger core.Logger,
	validate *validator.Validate,
) *Service {
	return &Service{
		repo:     repo,
		contacts: contacts,
		mailSvc:  mailSvc,
		logger:   logger,
		validate: validate,
	}
}

func (svc *Service) Eligibility(ctx context.Context, p core.Principal) (Eligibility, error) {
	last, err := svc.repo.GetLatestResult(ctx, p.UserID)
	if err != nil {
		return Eligibility{}, errors.Wrap(err, "getting latest result")
	}
	return CheckEligibility(last, nowFunc()), nil
}

// Start issues the active test, without its answers, to an eligible learner.
func (svc *Service) Start(ctx context.Context, p core.Principal) (IssuedTest, error) {
	elig, err := svc.Eligibility(ctx, p)
	if err != nil {
		return IssuedTest{}, err
	}
	if !elig.Eligible {
		return IssuedTest{}, ErrNotEligible
	}
	t, err := svc.repo.GetActiveTest(ctx)
	if err != nil {
		return IssuedTest{}, err
	}
	return t.Issue(), nil
}

// Submit scores a learner's answers, stores the result and assigns the learner's level.
func (svc *Service) Submit(ctx context.Context, p core.Principal, sub Submission) (Result, error) {
	if sub.TestID == "" {
		return Result{}, core.NewValidationError(nil, core.FieldError{Field: "test_id", Error: "this field is required"})
	}
	if err := validateAnswers(sub.Answers); err != nil {
		return Result{}, err
	}

	t, err := svc.repo.GetTest(ctx, sub.TestID)
	if err != nil {
		return Result{}, err
	}

	now := nowFunc()
	check := func(last *Result) error {
		if !CheckEligibility(last, now).Eligible {
			return ErrNotEligible
		}
		return nil
	}
	last, err := svc.repo.GetLatestResult(ctx, p.UserID)
	if err != nil {
		return Result{}, errors.Wrap(err, "getting latest result")
	}
	if err := check(last); err != nil {
		return Result{}, err
	}

	score := t.Score(sub.Answers)
	pct, lvl, err := Grade(score)
	if err != nil {
		return Result{}, err
	}
	res, err := svc.repo.SaveResult(ctx, Result{
		StudentID:     p.UserID,
		TestID:        t.ID,
		Answers:       sub.Answers,
		Score:         score,
		Percentage:    pct,
		AssignedLevel: lvl,
		CompletedAt:   now.UTC(),
	}, check)
	if err != nil {
		return Result{}, err
	}

	svc.notifyResult(ctx, res)
	return res, nil
}

func (svc *Service) notifyResult(ctx context.Context, res Result) {
	addr, err := svc.contacts.Contact(ctx, res.StudentID)
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("placement: no contact for student %s: %v", res.StudentID, err))
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{addr},
		Subject:      "Your placement test result",
		TemplateName: "placement_result",
		TemplateData: map[string]string{
			"Name":          addr.Name,
			"Score":         strconv.Itoa(res.Score),
			"Percentage":    strconv.Itoa(res.Percentage),
			"Level":         string(res.AssignedLevel),
			"NextAvailable": res.CompletedAt.Add(Cooldown).Format("Mon, 02 Jan 2006"),
		},
	})
}

// History returns the learner's results, latest first.
func (svc *Service) History(ctx context.Context, studentID string) ([]Result, error) {
	return svc.repo.QueryResults(ctx, studentID)
}

// GetResult returns a result owned by the caller. Staff may read any result.
func (svc *Service) GetResult(ctx context.Context, p core.Principal, id string) (Result, error) {
	res, err := svc.repo.GetResult(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if res.StudentID != p.UserID && !p.IsStaff() {
		return Result{}, ErrResultNotFound
	}
	return res, nil
}

// Publish validates a complete question set and makes it the new active version.
func (svc *Service) Publish(ctx context.Context, p core.Principal, nt NewTest) (Test, error) {
	if err := nt.normalize(); err != nil {
		return Test{}, err
	}
	if err := svc.validate.Struct(nt); err != nil {
		return Test{}, err
	}
	return svc.repo.PublishTest(ctx, Test{
		Title:     nt.Title,
		IsActive:  true,
		Questions: nt.Questions,
		CreatedBy: p.UserID,
		CreatedAt: nowFunc().UTC(),
	})
}

func (svc *Service) ActiveTest(ctx context.Context) (Test, error) {
	return svc.repo.GetActiveTest(ctx)
}

func (svc *Service) GetTest(ctx context.Context, id string) (Test, error) {
	return svc.repo.GetTest(ctx, id)
}

func (svc *Service) ListTests(ctx context.Context) ([]Test, error) {
	return svc.repo.QueryTests(ctx)
}
