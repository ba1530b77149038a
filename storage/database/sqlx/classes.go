package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/lingua/core"
	"github.com/trezcool/lingua/core/cefr"
	"github.com/trezcool/lingua/core/classes"
)

const (
	sessionColumns = `id, title, description, level, starts_at, duration_minutes, capacity, enrollment_count,
	zoom_url, teacher_id, created_at, updated_at`
	enrollmentColumns = `id, session_id, student_id, attended, enrolled_at`

	foreignKeyViolation = "23503"
	checkViolation      = "23514"
)

type sessionRow struct {
	ID              string      `db:"id"`
	Title           string      `db:"title"`
	Description     string      `db:"description"`
	Level           string      `db:"level"`
	StartsAt        time.Time   `db:"starts_at"`
	DurationMinutes int         `db:"duration_minutes"`
	Capacity        int         `db:"capacity"`
	EnrollmentCount int         `db:"enrollment_count"`
	ZoomURL         string      `db:"zoom_url"`
	TeacherID       null.String `db:"teacher_id"`
	CreatedAt       time.Time   `db:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at"`
}

func toSessionRow(s classes.Session) sessionRow {
	return sessionRow{
		ID:              s.ID,
		Title:           s.Title,
		Description:     s.Description,
		Level:           string(s.Level),
		StartsAt:        s.StartsAt.UTC(),
		DurationMinutes: s.DurationMinutes,
		Capacity:        s.Capacity,
		EnrollmentCount: s.EnrollmentCount,
		ZoomURL:         s.ZoomURL,
		TeacherID:       nullString(s.TeacherID),
		CreatedAt:       s.CreatedAt.UTC(),
		UpdatedAt:       s.UpdatedAt.UTC(),
	}
}

func (r sessionRow) toSession() classes.Session {
	return classes.Session{
		ID:              r.ID,
		Title:           r.Title,
		Description:     r.Description,
		Level:           cefr.Level(r.Level),
		StartsAt:        r.StartsAt,
		DurationMinutes: r.DurationMinutes,
		Capacity:        r.Capacity,
		EnrollmentCount: r.EnrollmentCount,
		ZoomURL:         r.ZoomURL,
		TeacherID:       r.TeacherID.String,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type enrollmentRow struct {
	ID         string    `db:"id"`
	SessionID  string    `db:"session_id"`
	StudentID  string    `db:"student_id"`
	Attended   bool      `db:"attended"`
	EnrolledAt time.Time `db:"enrolled_at"`
}

func (r enrollmentRow) toEnrollment() classes.Enrollment {
	return classes.Enrollment(r)
}

func pqErrCode(err error) (string, string) {
	if pqErr, ok := errors.Cause(err).(*pq.Error); ok {
		return string(pqErr.Code), pqErr.Constraint
	}
	return "", ""
}

type classesRepository struct {
	db core.DB
}

var _ classes.Repository = (*classesRepository)(nil) // interface compliance check

func NewClassesRepository(db core.DB) classes.Repository {
	return &classesRepository{db: db}
}

func (repo *classesRepository) CreateSession(ctx context.Context, s classes.Session) (classes.Session, error) {
	s.ID = uuid.New().String()
	s.EnrollmentCount = 0
	q := `INSERT INTO class_session (` + sessionColumns + `) VALUES (:id, :title, :description, :level, :starts_at,
		:duration_minutes, :capacity, :enrollment_count, :zoom_url, :teacher_id, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, repo.db, q, toSessionRow(s)); err != nil {
		return classes.Session{}, errors.Wrap(err, "inserting class session")
	}
	return s, nil
}

func (repo *classesRepository) GetSession(ctx context.Context, id string) (classes.Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return classes.Session{}, classes.ErrSessionNotFound
	}
	var row sessionRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+sessionColumns+` FROM class_session WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return classes.Session{}, classes.ErrSessionNotFound
		}
		return classes.Session{}, errors.Wrap(err, "getting class session")
	}
	return row.toSession(), nil
}

func (repo *classesRepository) UpdateSession(ctx context.Context, s classes.Session) (classes.Session, error) {
	// the count is never written here: only Enroll changes it
	q := `UPDATE class_session SET title = :title, description = :description, level = :level, starts_at = :starts_at,
		duration_minutes = :duration_minutes, capacity = :capacity, zoom_url = :zoom_url, teacher_id = :teacher_id,
		updated_at = :updated_at
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, repo.db, q, toSessionRow(s))
	if err != nil {
		if code, _ := pqErrCode(err); code == checkViolation {
			return classes.Session{}, classes.ErrCapacityTooLow
		}
		return classes.Session{}, errors.Wrap(err, "updating class session")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return classes.Session{}, classes.ErrSessionNotFound
	}
	return repo.GetSession(ctx, s.ID)
}

func (repo *classesRepository) DeleteSession(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return classes.ErrSessionNotFound
	}
	res, err := repo.db.ExecContext(ctx, `DELETE FROM class_session WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting class session")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return classes.ErrSessionNotFound
	}
	return nil
}

func (repo *classesRepository) QuerySessions(ctx context.Context, filter *classes.SessionFilter) ([]classes.Session, error) {
	var w where
	if filter != nil {
		if filter.Level != "" {
			w.add("level = ?", string(filter.Level))
		}
		if !filter.From.IsZero() {
			w.add("starts_at >= ?", filter.From.UTC())
		}
		if !filter.To.IsZero() {
			w.add("starts_at <= ?", filter.To.UTC())
		}
		if filter.TeacherID != "" {
			w.add("teacher_id::text = ?", filter.TeacherID)
		}
	}

	var rows []sessionRow
	q := repo.db.Rebind(`SELECT ` + sessionColumns + ` FROM class_session` + w.String() + ` ORDER BY starts_at`)
	if err := repo.db.SelectContext(ctx, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying class sessions")
	}
	sessions := make([]classes.Session, 0, len(rows))
	for _, r := range rows {
		sessions = append(sessions, r.toSession())
	}
	return sessions, nil
}

// Enroll inserts the enrollment (the unique constraint rejects duplicates) then takes a seat with a
// conditional update. Concurrent enrollments for the last seat serialize on the session row: the loser's
// update matches no row and its enrollment is rolled back.
func (repo *classesRepository) Enroll(ctx context.Context, e classes.Enrollment) (classes.Enrollment, error) {
	if _, err := uuid.Parse(e.SessionID); err != nil {
		return classes.Enrollment{}, classes.ErrSessionNotFound
	}

	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		e.ID = uuid.New().String()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO enrollment (`+enrollmentColumns+`) VALUES ($1, $2, $3, FALSE, $4)
			ON CONFLICT ON CONSTRAINT enrollment_session_student DO NOTHING`,
			e.ID, e.SessionID, e.StudentID, e.EnrolledAt.UTC(),
		)
		if err != nil {
			if code, constraint := pqErrCode(err); code == foreignKeyViolation && constraint == "enrollment_session_id_fkey" {
				return classes.ErrSessionNotFound
			}
			return errors.Wrap(err, "inserting enrollment")
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return classes.ErrAlreadyEnrolled
		}

		res, err = tx.ExecContext(ctx,
			`UPDATE class_session SET enrollment_count = enrollment_count + 1
			WHERE id = $1 AND enrollment_count < capacity`,
			e.SessionID,
		)
		if err != nil {
			return errors.Wrap(err, "taking a seat")
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return classes.ErrClassFull
		}
		return nil
	})
	if err != nil {
		return classes.Enrollment{}, err
	}
	return e, nil
}

func (repo *classesRepository) QueryEnrollments(ctx context.Context, filter classes.EnrollmentFilter) ([]classes.Enrollment, error) {
	var w where
	if filter.SessionID != "" {
		w.add("session_id::text = ?", filter.SessionID)
	}
	if filter.StudentID != "" {
		w.add("student_id::text = ?", filter.StudentID)
	}

	var rows []enrollmentRow
	q := repo.db.Rebind(`SELECT ` + enrollmentColumns + ` FROM enrollment` + w.String() + ` ORDER BY enrolled_at`)
	if err := repo.db.SelectContext(ctx, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	enrollments := make([]classes.Enrollment, 0, len(rows))
	for _, r := range rows {
		enrollments = append(enrollments, r.toEnrollment())
	}
	return enrollments, nil
}

func (repo *classesRepository) SetAttendance(ctx context.Context, sessionID, studentID string, attended bool) (classes.Enrollment, error) {
	var row enrollmentRow
	err := repo.db.GetContext(ctx, &row,
		`UPDATE enrollment SET attended = $3 WHERE session_id::text = $1 AND student_id::text = $2
		RETURNING `+enrollmentColumns,
		sessionID, studentID, attended,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return classes.Enrollment{}, classes.ErrEnrollmentNotFound
		}
		return classes.Enrollment{}, errors.Wrap(err, "setting attendance")
	}
	return row.toEnrollment(), nil
}
