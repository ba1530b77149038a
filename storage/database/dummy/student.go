package dummydb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/lingua/core/student"
	"github.com/trezcool/lingua/core/user"
)

type studentRepository struct {
	db    *DB
	users *userRepository
}

var _ student.Repository = (*studentRepository)(nil) // interface compliance check

func NewStudentRepository(db *DB) student.Repository {
	return &studentRepository{db: db, users: &userRepository{db: db}}
}

// profile joins a stored profile with its user. Must be called with the lock held.
func (repo *studentRepository) profile(userID string) (student.Profile, error) {
	p, ok := repo.db.profiles[userID]
	if !ok {
		return student.Profile{}, student.ErrNotFound
	}
	usr, ok := repo.db.users[userID]
	if !ok {
		return student.Profile{}, student.ErrNotFound
	}
	res := *p
	res.Name, res.Email = usr.Name, usr.Email
	return res, nil
}

func (repo *studentRepository) RegisterStudent(_ context.Context, usr user.User, p student.Profile) (student.Profile, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	usr, err := repo.users.create(usr)
	if err != nil {
		return student.Profile{}, err
	}
	p.UserID = usr.ID
	repo.db.profiles[usr.ID] = &p
	return repo.profile(usr.ID)
}

func (repo *studentRepository) GetProfile(_ context.Context, userID string) (student.Profile, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return repo.profile(userID)
}

func (repo *studentRepository) UpdateProfile(_ context.Context, p student.Profile) (student.Profile, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.profiles[p.UserID]
	if !ok {
		return student.Profile{}, student.ErrNotFound
	}
	orig.SelfReportedLevel = p.SelfReportedLevel
	orig.UpdatedAt = p.UpdatedAt
	if usr, ok := repo.db.users[p.UserID]; ok {
		usr.Name = p.Name
		usr.UpdatedAt = p.UpdatedAt
	}
	return repo.profile(p.UserID)
}

func (repo *studentRepository) QueryProfiles(_ context.Context, filter *student.QueryFilter) ([]student.Profile, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	profiles := make([]student.Profile, 0, len(repo.db.profiles))
	for id := range repo.db.profiles {
		p, err := repo.profile(id)
		if err != nil {
			continue
		}
		if filter != nil {
			if filter.Search != "" {
				search := strings.ToLower(filter.Search)
				if !strings.Contains(strings.ToLower(p.Name), search) && !strings.Contains(strings.ToLower(p.Email), search) {
					continue
				}
			}
			if filter.Level != "" && (p.AssignedLevel == nil || *p.AssignedLevel != filter.Level) {
				continue
			}
			if filter.PaymentStatus != "" && p.PaymentStatus != filter.PaymentStatus {
				continue
			}
		}
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].CreatedAt.After(profiles[j].CreatedAt) })
	return profiles, nil
}
