package student

import (
	"context"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/lingua/core"
	"github.com/trezcool/lingua/core/billing"
	"github.com/trezcool/lingua/core/cefr"
	"github.com/trezcool/lingua/core/user"
)

var ErrNotFound = core.NewNotFoundError("student profile not found")

// Profile is the learner side of a User account.
type Profile struct {
	UserID             string         `json:"user_id"`
	Name               string         `json:"name"`
	Email              string         `json:"email"`
	SelfReportedLevel  *cefr.Level    `json:"self_reported_level"`
	AssignedLevel      *cefr.Level    `json:"assigned_level"`
	PaymentStatus      billing.Status `json:"payment_status"`
	ProviderCustomerID string         `json:"-"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

type (
	// Registration is the self sign-up form of a learner.
	Registration struct {
		Name              string `json:"name" validate:"required"`
		Email             string `json:"email" validate:"required,email"`
		Password          string `json:"password" validate:"required"`
		PasswordConfirm   string `json:"password_confirm" validate:"required,eqfield=Password"`
		SelfReportedLevel string `json:"self_reported_level" validate:"omitempty,cefr"`
	}

	UpdateProfile struct {
		Name              string `json:"name"`
		SelfReportedLevel string `json:"self_reported_level" validate:"omitempty,cefr"`
	}

	QueryFilter struct {
		Search        string         `query:"search"`
		Level         cefr.Level     `query:"level"`
		PaymentStatus billing.Status `query:"payment_status"`
	}
)

type Repository interface {
	// RegisterStudent creates the User and its Profile atomically.
	RegisterStudent(ctx context.Context, usr user.User, p Profile) (Profile, error)
	GetProfile(ctx context.Context, userID string) (Profile, error)
	// UpdateProfile saves the self reported level and the User name.
	UpdateProfile(ctx context.Context, p Profile) (Profile, error)
	QueryProfiles(ctx context.Context, filter *QueryFilter) ([]Profile, error)
}

type Service struct {
	repo     Repository
	usrSvc   *user.Service
	mailSvc  core.EmailService
	validate *validator.Validate
}

var _ core.ContactBook = (*Service)(nil)

func NewService(repo Repository, usrSvc *user.Service, mailSvc core.EmailService, validate *validator.Validate) *Service {
	return &Service{
		repo:     repo,
		usrSvc:   usrSvc,
		mailSvc:  mailSvc,
		validate: validate,
	}
}

func parseOptionalLevel(s string) *cefr.Level {
	if lvl, err := cefr.ParseLevel(s); err == nil {
		return &lvl
	}
	return nil
}

// Register creates a learner account: a User with the student role and an empty Profile.
func (svc *Service) Register(ctx context.Context, reg Registration) (Profile, error) {
	reg.Name = core.CleanString(reg.Name)
	reg.Email = core.CleanString(reg.Email, true /* lower */)
	if err := svc.validate.Struct(reg); err != nil {
		return Profile{}, err
	}

	// the password policy and uniqueness checks live on user.NewUser
	nu := user.NewUser{
		Name:            reg.Name,
		Email:           reg.Email,
		Password:        reg.Password,
		PasswordConfirm: reg.PasswordConfirm,
		Roles:           []string{user.RoleStudent},
	}
	if err := nu.Validate(ctx, svc.validate, svc.usrSvc); err != nil {
		return Profile{}, err
	}
	usr, err := user.Build(nu)
	if err != nil {
		return Profile{}, err
	}

	p, err := svc.repo.RegisterStudent(ctx, usr, Profile{
		SelfReportedLevel: parseOptionalLevel(reg.SelfReportedLevel),
		PaymentStatus:     billing.StatusNone,
		CreatedAt:         usr.CreatedAt,
		UpdatedAt:         usr.UpdatedAt,
	})
	if err != nil {
		if err == user.ErrUserExists {
			return Profile{}, core.NewValidationError(err, core.FieldError{Field: "email", Error: err.Error()})
		}
		return Profile{}, errors.Wrap(err, "registering student")
	}

	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: p.Name, Address: p.Email}},
		Subject:      "Welcome",
		TemplateName: "welcome",
		TemplateData: map[string]string{"Name": p.Name},
	})
	return p, nil
}

func (svc *Service) GetProfile(ctx context.Context, userID string) (Profile, error) {
	return svc.repo.GetProfile(ctx, userID)
}

func (svc *Service) UpdateProfile(ctx context.Context, userID string, data UpdateProfile) (Profile, error) {
	data.Name = core.CleanString(data.Name)
	if err := svc.validate.Struct(data); err != nil {
		return Profile{}, err
	}

	p, err := svc.repo.GetProfile(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	if data.Name != "" {
		p.Name = data.Name
	}
	if lvl := parseOptionalLevel(data.SelfReportedLevel); lvl != nil {
		p.SelfReportedLevel = lvl
	}
	p.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateProfile(ctx, p)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter) ([]Profile, error) {
	if filter != nil {
		filter.Search = core.CleanString(filter.Search)
		if filter.Level != "" {
			lvl, err := cefr.ParseLevel(string(filter.Level))
			if err != nil {
				return nil, core.NewValidationError(err, core.FieldError{Field: "level", Error: err.Error()})
			}
			filter.Level = lvl
		}
		if filter.PaymentStatus != "" && !filter.PaymentStatus.Valid() {
			return nil, core.NewValidationError(nil, core.FieldError{Field: "payment_status", Error: "invalid payment status"})
		}
	}
	return svc.repo.QueryProfiles(ctx, filter)
}

// Contact returns the learner's name and email for notifications.
func (svc *Service) Contact(ctx context.Context, userID string) (mail.Address, error) {
	p, err := svc.repo.GetProfile(ctx, userID)
	if err != nil {
		return mail.Address{}, err
	}
	return mail.Address{Name: p.Name, Address: p.Email}, nil
}
