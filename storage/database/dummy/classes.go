package dummydb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/lingua/core/classes"
)

type classesRepository struct {
	db *DB
}

var _ classes.Repository = (*classesRepository)(nil) // interface compliance check

func NewClassesRepository(db *DB) classes.Repository {
	return &classesRepository{db: db}
}

func (repo *classesRepository) CreateSession(_ context.Context, s classes.Session) (classes.Session, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	s.ID = uuid.New().String()
	s.EnrollmentCount = 0
	repo.db.sessions[s.ID] = &s
	return s, nil
}

func (repo *classesRepository) GetSession(_ context.Context, id string) (classes.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if s, ok := repo.db.sessions[id]; ok {
		return *s, nil
	}
	return classes.Session{}, classes.ErrSessionNotFound
}

func (repo *classesRepository) UpdateSession(_ context.Context, s classes.Session) (classes.Session, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.sessions[s.ID]
	if !ok {
		return classes.Session{}, classes.ErrSessionNotFound
	}
	if s.Capacity < orig.EnrollmentCount {
		return classes.Session{}, classes.ErrCapacityTooLow
	}
	s.EnrollmentCount = orig.EnrollmentCount
	s.CreatedAt = orig.CreatedAt
	repo.db.sessions[s.ID] = &s
	return s, nil
}

func (repo *classesRepository) DeleteSession(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.sessions[id]; !ok {
		return classes.ErrSessionNotFound
	}
	delete(repo.db.sessions, id)
	for eid, e := range repo.db.enrollments {
		if e.SessionID == id {
			delete(repo.db.enrollments, eid)
		}
	}
	return nil
}

func (repo *classesRepository) QuerySessions(_ context.Context, filter *classes.SessionFilter) ([]classes.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	sessions := make([]classes.Session, 0, len(repo.db.sessions))
	for _, s := range repo.db.sessions {
		if filter != nil {
			if filter.Level != "" && s.Level != filter.Level {
				continue
			}
			if !filter.From.IsZero() && s.StartsAt.Before(filter.From) {
				continue
			}
			if !filter.To.IsZero() && s.StartsAt.After(filter.To) {
				continue
			}
			if filter.TeacherID != "" && s.TeacherID != filter.TeacherID {
				continue
			}
		}
		sessions = append(sessions, *s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartsAt.Before(sessions[j].StartsAt) })
	return sessions, nil
}

func (repo *classesRepository) Enroll(_ context.Context, e classes.Enrollment) (classes.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	sess, ok := repo.db.sessions[e.SessionID]
	if !ok {
		return classes.Enrollment{}, classes.ErrSessionNotFound
	}
	for _, other := range repo.db.enrollments {
		if other.SessionID == e.SessionID && other.StudentID == e.StudentID {
			return classes.Enrollment{}, classes.ErrAlreadyEnrolled
		}
	}
	if sess.IsFull() {
		return classes.Enrollment{}, classes.ErrClassFull
	}

	e.ID = uuid.New().String()
	repo.db.enrollments[e.ID] = &e
	sess.EnrollmentCount++
	return e, nil
}

func (repo *classesRepository) QueryEnrollments(_ context.Context, filter classes.EnrollmentFilter) ([]classes.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	enrollments := make([]classes.Enrollment, 0)
	for _, e := range repo.db.enrollments {
		if filter.SessionID != "" && e.SessionID != filter.SessionID {
			continue
		}
		if filter.StudentID != "" && e.StudentID != filter.StudentID {
			continue
		}
		enrollments = append(enrollments, *e)
	}
	sort.Slice(enrollments, func(i, j int) bool { return enrollments[i].EnrolledAt.Before(enrollments[j].EnrolledAt) })
	return enrollments, nil
}

func (repo *classesRepository) SetAttendance(_ context.Context, sessionID, studentID string, attended bool) (classes.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, e := range repo.db.enrollments {
		if e.SessionID == sessionID && e.StudentID == studentID {
			e.Attended = attended
			return *e, nil
		}
	}
	return classes.Enrollment{}, classes.ErrEnrollmentNotFound
}
