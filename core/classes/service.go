package classes

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/lingua/core"
	"github.com/trezcool/lingua/core/billing"
	"github.com/trezcool/lingua/core/cefr"
	"github.com/trezcool/lingua/core/student"
)

var (
	nowFunc = time.Now // mockable

	// errors
	ErrSessionNotFound    = core.NewNotFoundError("class session not found")
	ErrEnrollmentNotFound = core.NewNotFoundError("enrollment not found")
	ErrPaymentInactive    = core.NewForbiddenError("an active subscription is required to join classes")
	ErrLevelMismatch      = core.NewForbiddenError("this class is not at your assigned level")
	ErrClassFull          = core.NewConflictError("this class is full")
	ErrAlreadyEnrolled    = core.NewConflictError("already enrolled in this class")
	ErrCapacityTooLow     = core.NewConflictError("capacity cannot be lower than the number of enrolled students")
)

type (
	Repository interface {
		CreateSession(ctx context.Context, s Session) (Session, error)
		GetSession(ctx context.Context, id string) (Session, error)
		// UpdateSession returns ErrCapacityTooLow when s.Capacity is below the stored enrollment count.
		UpdateSession(ctx context.Context, s Session) (Session, error)
		DeleteSession(ctx context.Context, id string) error
		QuerySessions(ctx context.Context, filter *SessionFilter) ([]Session, error)
		// Enroll inserts the enrollment and takes a seat in one transaction.
		// Returns ErrAlreadyEnrolled, ErrClassFull or ErrSessionNotFound, and changes nothing in those cases.
		Enroll(ctx context.Context, e Enrollment) (Enrollment, error)
		QueryEnrollments(ctx context.Context, filter EnrollmentFilter) ([]Enrollment, error)
		SetAttendance(ctx context.Context, sessionID, studentID string, attended bool) (Enrollment, error)
	}

	// Profiles resolves learner profiles.
	Profiles interface {
		GetProfile(ctx context.Context, userID string) (student.Profile, error)
	}

	// AccessChecker tells whether a learner may use paid features.
	AccessChecker interface {
		Access(ctx context.Context, studentID string) (billing.Account, error)
	}

	// MeetingScheduler creates the video meeting of a class and returns its join URL.
	MeetingScheduler interface {
		CreateMeeting(ctx context.Context, m Meeting) (string, error)
	}

	Service struct {
		repo      Repository
		profiles  Profiles
		access    AccessChecker
		scheduler MeetingScheduler
		mailSvc   core.EmailService
		logger    core.Logger
		validate  *validator.Validate
	}
)

// NewService returns a classes Service. scheduler may be nil, in which case sessions keep the URL they are given.
func NewService(
	repo Repository,
	profiles Profiles,
	access AccessChecker,
	scheduler MeetingScheduler,
	mailSvc core.EmailService,
	logger core.Logger,
	validate *validator.Validate,
) *Service {
	return &Service{
		repo:      repo,
		profiles:  profiles,
		access:    access,
		scheduler: scheduler,
		mailSvc:   mailSvc,
		logger:    logger,
		validate:  validate,
	}
}

// Enroll gives a learner a seat in a class and returns its meeting URL.
// Checks, in order: the session exists, the learner has paid access, the session is at the learner's
// assigned level, then (atomically in storage) the learner is not enrolled yet and a seat is left.
func (svc *Service) Enroll(ctx context.Context, studentID, sessionID string) (string, error) {
	sess, err := svc.repo.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	prof, err := svc.profiles.GetProfile(ctx, studentID)
	if err != nil {
		return "", err
	}

	acct, err := svc.access.Access(ctx, studentID)
	if err != nil {
		return "", errors.Wrap(err, "checking access")
	}
	if !acct.HasAccess {
		return "", ErrPaymentInactive
	}
	if prof.AssignedLevel == nil || *prof.AssignedLevel != sess.Level {
		return "", ErrLevelMismatch
	}

	if _, err := svc.repo.Enroll(ctx, Enrollment{
		SessionID:  sess.ID,
		StudentID:  studentID,
		EnrolledAt: nowFunc().UTC(),
	}); err != nil {
		return "", err
	}

	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: prof.Name, Address: prof.Email}},
		Subject:      "Enrollment confirmed: " + sess.Title,
		TemplateName: "enrollment_confirmed",
		TemplateData: map[string]string{
			"Name":     prof.Name,
			"Title":    sess.Title,
			"Level":    string(sess.Level),
			"StartsAt": sess.StartsAt.Format("Mon, 02 Jan 2006 15:04 MST"),
			"ZoomURL":  sess.ZoomURL,
		},
	})
	return sess.ZoomURL, nil
}

func (svc *Service) CreateSession(ctx context.Context, ns NewSession) (Session, error) {
	ns.Title = core.CleanString(ns.Title)
	ns.Description = core.CleanString(ns.Description)
	ns.ZoomURL = core.CleanString(ns.ZoomURL)
	if err := svc.validate.Struct(ns); err != nil {
		return Session{}, err
	}
	lvl, _ := cefr.ParseLevel(ns.Level) // validated

	now := nowFunc().UTC()
	sess := Session{
		Title:           ns.Title,
		Description:     ns.Description,
		Level:           lvl,
		StartsAt:        ns.StartsAt.UTC(),
		DurationMinutes: ns.DurationMinutes,
		Capacity:        ns.Capacity,
		ZoomURL:         ns.ZoomURL,
		TeacherID:       ns.TeacherID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if sess.ZoomURL == "" && svc.scheduler != nil {
		url, err := svc.scheduler.CreateMeeting(ctx, Meeting{
			Topic:    fmt.Sprintf("%s (%s)", sess.Title, sess.Level),
			StartsAt: sess.StartsAt,
			Duration: time.Duration(sess.DurationMinutes) * time.Minute,
		})
		if err != nil {
			return Session{}, core.NewExternalError("meeting scheduler", err)
		}
		sess.ZoomURL = url
	}
	return svc.repo.CreateSession(ctx, sess)
}

func (svc *Service) UpdateSession(ctx context.Context, id string, us UpdateSession) (Session, error) {
	us.Title = core.CleanString(us.Title)
	us.ZoomURL = core.CleanString(us.ZoomURL)
	if err := svc.validate.Struct(us); err != nil {
		return Session{}, err
	}

	sess, err := svc.repo.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if us.Title != "" {
		sess.Title = us.Title
	}
	if us.Description != nil {
		sess.Description = core.CleanString(*us.Description)
	}
	if us.Level != "" {
		sess.Level, _ = cefr.ParseLevel(us.Level)
	}
	if us.StartsAt != nil {
		sess.StartsAt = us.StartsAt.UTC()
	}
	if us.DurationMinutes != 0 {
		sess.DurationMinutes = us.DurationMinutes
	}
	if us.Capacity != 0 {
		if us.Capacity < sess.EnrollmentCount {
			return Session{}, ErrCapacityTooLow
		}
		sess.Capacity = us.Capacity
	}
	if us.ZoomURL != "" {
		sess.ZoomURL = us.ZoomURL
	}
	if us.TeacherID != "" {
		sess.TeacherID = us.TeacherID
	}
	sess.UpdatedAt = nowFunc().UTC()
	return svc.repo.UpdateSession(ctx, sess)
}

func (svc *Service) DeleteSession(ctx context.Context, id string) error {
	return svc.repo.DeleteSession(ctx, id)
}

func (svc *Service) GetSession(ctx context.Context, id string) (Session, error) {
	return svc.repo.GetSession(ctx, id)
}

// ListSessions returns the sessions matching filter. Learners only ever see sessions at their assigned level.
func (svc *Service) ListSessions(ctx context.Context, p core.Principal, filter *SessionFilter) ([]Session, error) {
	if filter == nil {
		filter = new(SessionFilter)
	}
	if filter.Level != "" {
		lvl, err := cefr.ParseLevel(string(filter.Level))
		if err != nil {
			return nil, core.NewValidationError(err, core.FieldError{Field: "level", Error: err.Error()})
		}
		filter.Level = lvl
	}

	if !p.IsStaff() {
		prof, err := svc.profiles.GetProfile(ctx, p.UserID)
		if err != nil {
			return nil, err
		}
		if prof.AssignedLevel == nil {
			return []Session{}, nil
		}
		filter.Level = *prof.AssignedLevel
	}
	return svc.repo.QuerySessions(ctx, filter)
}

func (svc *Service) MyEnrollments(ctx context.Context, studentID string) ([]Enrollment, error) {
	return svc.repo.QueryEnrollments(ctx, EnrollmentFilter{StudentID: studentID})
}

func (svc *Service) ListEnrollments(ctx context.Context, sessionID string) ([]Enrollment, error) {
	if _, err := svc.repo.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return svc.repo.QueryEnrollments(ctx, EnrollmentFilter{SessionID: sessionID})
}

func (svc *Service) MarkAttendance(ctx context.Context, sessionID, studentID string, att Attendance) (Enrollment, error) {
	return svc.repo.SetAttendance(ctx, sessionID, studentID, att.Attended)
}
