package dummydb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/lingua/core/placement"
)

type placementRepository struct {
	db *DB
}

var _ placement.Repository = (*placementRepository)(nil) // interface compliance check

func NewPlacementRepository(db *DB) placement.Repository {
	return &placementRepository{db: db}
}

func (repo *placementRepository) PublishTest(_ context.Context, t placement.Test) (placement.Test, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var version int
	for _, tst := range repo.db.tests {
		if tst.Version > version {
			version = tst.Version
		}
		tst.IsActive = false
	}
	t.ID = uuid.New().String()
	t.Version = version + 1
	t.IsActive = true
	repo.db.tests[t.ID] = &t
	return t, nil
}

func (repo *placementRepository) GetActiveTest(_ context.Context) (placement.Test, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, t := range repo.db.tests {
		if t.IsActive {
			return *t, nil
		}
	}
	return placement.Test{}, placement.ErrNoActiveTest
}

func (repo *placementRepository) GetTest(_ context.Context, id string) (placement.Test, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if t, ok := repo.db.tests[id]; ok {
		return *t, nil
	}
	return placement.Test{}, placement.ErrTestNotFound
}

func (repo *placementRepository) QueryTests(_ context.Context) ([]placement.Test, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	tests := make([]placement.Test, 0, len(repo.db.tests))
	for _, t := range repo.db.tests {
		tests = append(tests, *t)
	}
	sort.Slice(tests, func(i, j int) bool { return tests[i].Version > tests[j].Version })
	return tests, nil
}

// results returns the learner's results, latest first. Must be called with the lock held.
func (repo *placementRepository) results(studentID string) []placement.Result {
	results := make([]placement.Result, 0)
	for _, r := range repo.db.results {
		if r.StudentID == studentID {
			results = append(results, *r)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].CompletedAt.After(results[j].CompletedAt) })
	return results
}

func (repo *placementRepository) GetLatestResult(_ context.Context, studentID string) (*placement.Result, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if results := repo.results(studentID); len(results) > 0 {
		return &results[0], nil
	}
	return nil, nil
}

func (repo *placementRepository) QueryResults(_ context.Context, studentID string) ([]placement.Result, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return repo.results(studentID), nil
}

func (repo *placementRepository) GetResult(_ context.Context, id string) (placement.Result, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if r, ok := repo.db.results[id]; ok {
		return *r, nil
	}
	return placement.Result{}, placement.ErrResultNotFound
}

func (repo *placementRepository) SaveResult(_ context.Context, res placement.Result, check func(last *placement.Result) error) (placement.Result, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	prof, ok := repo.db.profiles[res.StudentID]
	if !ok {
		return placement.Result{}, placement.ErrStudentNotFound
	}
	if _, ok := repo.db.tests[res.TestID]; !ok {
		return placement.Result{}, placement.ErrTestNotFound
	}

	var last *placement.Result
	if results := repo.results(res.StudentID); len(results) > 0 {
		last = &results[0]
	}
	if check != nil {
		if err := check(last); err != nil {
			return placement.Result{}, err
		}
	}

	res.ID = uuid.New().String()
	repo.db.results[res.ID] = &res
	lvl := res.AssignedLevel
	prof.AssignedLevel = &lvl
	prof.UpdatedAt = res.CompletedAt
	return res, nil
}
