package classes

import (
	"time"

	"github.com/trezcool/lingua/core/cefr"
)

// Session is a scheduled live class for one CEFR level.
type Session struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Level           cefr.Level `json:"level"`
	StartsAt        time.Time  `json:"starts_at"`
	DurationMinutes int        `json:"duration_minutes"`
	Capacity        int        `json:"capacity"`
	EnrollmentCount int        `json:"enrollment_count"`
	ZoomURL         string     `json:"zoom_url,omitempty"`
	TeacherID       string     `json:"teacher_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (s Session) IsFull() bool {
	return s.EnrollmentCount >= s.Capacity
}

// Enrollment is a learner's seat in a Session.
type Enrollment struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	StudentID  string    `json:"student_id"`
	Attended   bool      `json:"attended"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

type (
	NewSession struct {
		Title           string    `json:"title" validate:"required"`
		Description     string    `json:"description"`
		Level           string    `json:"level" validate:"required,cefr"`
		StartsAt        time.Time `json:"starts_at" validate:"required"`
		DurationMinutes int       `json:"duration_minutes" validate:"required,min=1"`
		Capacity        int       `json:"capacity" validate:"required,min=1"`
		ZoomURL         string    `json:"zoom_url" validate:"omitempty,url"`
		TeacherID       string    `json:"teacher_id" validate:"omitempty,uuid"`
	}

	// UpdateSession holds the fields to change. Zero values are left untouched.
	UpdateSession struct {
		Title           string     `json:"title"`
		Description     *string    `json:"description"`
		Level           string     `json:"level" validate:"omitempty,cefr"`
		StartsAt        *time.Time `json:"starts_at"`
		DurationMinutes int        `json:"duration_minutes" validate:"omitempty,min=1"`
		Capacity        int        `json:"capacity" validate:"omitempty,min=1"`
		ZoomURL         string     `json:"zoom_url" validate:"omitempty,url"`
		TeacherID       string     `json:"teacher_id" validate:"omitempty,uuid"`
	}

	SessionFilter struct {
		Level     cefr.Level `query:"level"`
		From      time.Time  `query:"from"`
		To        time.Time  `query:"to"`
		TeacherID string     `query:"teacher_id"`
	}

	EnrollmentFilter struct {
		SessionID string
		StudentID string
	}

	Attendance struct {
		Attended bool `json:"attended"`
	}
)

// Meeting is the video meeting requested for a new Session.
type Meeting struct {
	Topic    string
	StartsAt time.Time
	Duration time.Duration
}
