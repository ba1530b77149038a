package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/lingua/core"
	"github.com/trezcool/lingua/core/cefr"
	"github.com/trezcool/lingua/core/placement"
)

const (
	testColumns   = `id, version, title, is_active, questions, created_by, created_at`
	resultColumns = `id, student_id, test_id, answers, score, percentage, assigned_level, completed_at`
)

type testRow struct {
	ID        string         `db:"id"`
	Version   int            `db:"version"`
	Title     string         `db:"title"`
	IsActive  bool           `db:"is_active"`
	Questions types.JSONText `db:"questions"`
	CreatedBy null.String    `db:"created_by"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r testRow) toTest() (placement.Test, error) {
	t := placement.Test{
		ID:        r.ID,
		Version:   r.Version,
		Title:     r.Title,
		IsActive:  r.IsActive,
		CreatedBy: r.CreatedBy.String,
		CreatedAt: r.CreatedAt,
	}
	if err := r.Questions.Unmarshal(&t.Questions); err != nil {
		return placement.Test{}, errors.Wrapf(err, "decoding questions of test %s", r.ID)
	}
	return t, nil
}

type resultRow struct {
	ID            string         `db:"id"`
	StudentID     string         `db:"student_id"`
	TestID        string         `db:"test_id"`
	Answers       types.JSONText `db:"answers"`
	Score         int            `db:"score"`
	Percentage    int            `db:"percentage"`
	AssignedLevel string         `db:"assigned_level"`
	CompletedAt   time.Time      `db:"completed_at"`
}

func (r resultRow) toResult() (placement.Result, error) {
	res := placement.Result{
		ID:            r.ID,
		StudentID:     r.StudentID,
		TestID:        r.TestID,
		Score:         r.Score,
		Percentage:    r.Percentage,
		AssignedLevel: cefr.Level(r.AssignedLevel),
		CompletedAt:   r.CompletedAt,
	}
	if err := r.Answers.Unmarshal(&res.Answers); err != nil {
		return placement.Result{}, errors.Wrapf(err, "decoding answers of result %s", r.ID)
	}
	return res, nil
}

type placementRepository struct {
	db core.DB
}

var _ placement.Repository = (*placementRepository)(nil) // interface compliance check

func NewPlacementRepository(db core.DB) placement.Repository {
	return &placementRepository{db: db}
}

func (repo *placementRepository) PublishTest(ctx context.Context, t placement.Test) (placement.Test, error) {
	questions, err := json.Marshal(t.Questions)
	if err != nil {
		return placement.Test{}, errors.Wrap(err, "encoding questions")
	}

	err = withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		// serializes publishers so that versions stay sequential
		if _, err := tx.ExecContext(ctx, `LOCK TABLE placement_test IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return errors.Wrap(err, "locking placement tests")
		}
		if err := tx.GetContext(ctx, &t.Version, `SELECT COALESCE(MAX(version), 0) + 1 FROM placement_test`); err != nil {
			return errors.Wrap(err, "getting next version")
		}
		if _, err := tx.ExecContext(ctx, `UPDATE placement_test SET is_active = FALSE WHERE is_active`); err != nil {
			return errors.Wrap(err, "deactivating placement tests")
		}

		t.ID = uuid.New().String()
		t.IsActive = true
		_, err := tx.ExecContext(ctx,
			`INSERT INTO placement_test (`+testColumns+`) VALUES ($1, $2, $3, TRUE, $4, $5, $6)`,
			t.ID, t.Version, t.Title, types.JSONText(questions), null.NewString(t.CreatedBy, t.CreatedBy != ""), t.CreatedAt.UTC(),
		)
		return errors.Wrap(err, "inserting placement test")
	})
	if err != nil {
		return placement.Test{}, err
	}
	return t, nil
}

func (repo *placementRepository) getTest(ctx context.Context, notFound error, cond string, args ...interface{}) (placement.Test, error) {
	var row testRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+testColumns+` FROM placement_test WHERE `+cond, args...); err != nil {
		if err == sql.ErrNoRows {
			return placement.Test{}, notFound
		}
		return placement.Test{}, errors.Wrap(err, "getting placement test")
	}
	return row.toTest()
}

func (repo *placementRepository) GetActiveTest(ctx context.Context) (placement.Test, error) {
	return repo.getTest(ctx, placement.ErrNoActiveTest, `is_active`)
}

func (repo *placementRepository) GetTest(ctx context.Context, id string) (placement.Test, error) {
	if _, err := uuid.Parse(id); err != nil {
		return placement.Test{}, placement.ErrTestNotFound
	}
	return repo.getTest(ctx, placement.ErrTestNotFound, `id = $1`, id)
}

func (repo *placementRepository) QueryTests(ctx context.Context) ([]placement.Test, error) {
	var rows []testRow
	if err := repo.db.SelectContext(ctx, &rows, `SELECT `+testColumns+` FROM placement_test ORDER BY version DESC`); err != nil {
		return nil, errors.Wrap(err, "querying placement tests")
	}
	tests := make([]placement.Test, 0, len(rows))
	for _, r := range rows {
		t, err := r.toTest()
		if err != nil {
			return nil, err
		}
		tests = append(tests, t)
	}
	return tests, nil
}

func latestResult(ctx context.Context, exec core.DBExecutor, studentID string) (*placement.Result, error) {
	var row resultRow
	err := exec.GetContext(ctx, &row,
		`SELECT `+resultColumns+` FROM test_result WHERE student_id = $1 ORDER BY completed_at DESC LIMIT 1`, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrap(err, "getting latest result")
	}
	res, err := row.toResult()
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (repo *placementRepository) GetLatestResult(ctx context.Context, studentID string) (*placement.Result, error) {
	if _, err := uuid.Parse(studentID); err != nil {
		return nil, nil
	}
	return latestResult(ctx, repo.db, studentID)
}

func (repo *placementRepository) QueryResults(ctx context.Context, studentID string) ([]placement.Result, error) {
	if _, err := uuid.Parse(studentID); err != nil {
		return []placement.Result{}, nil
	}
	var rows []resultRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT `+resultColumns+` FROM test_result WHERE student_id = $1 ORDER BY completed_at DESC`, studentID)
	if err != nil {
		return nil, errors.Wrap(err, "querying results")
	}
	results := make([]placement.Result, 0, len(rows))
	for _, r := range rows {
		res, err := r.toResult()
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (repo *placementRepository) GetResult(ctx context.Context, id string) (placement.Result, error) {
	if _, err := uuid.Parse(id); err != nil {
		return placement.Result{}, placement.ErrResultNotFound
	}
	var row resultRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+resultColumns+` FROM test_result WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return placement.Result{}, placement.ErrResultNotFound
		}
		return placement.Result{}, errors.Wrap(err, "getting result")
	}
	return row.toResult()
}

func (repo *placementRepository) SaveResult(ctx context.Context, res placement.Result, check func(last *placement.Result) error) (placement.Result, error) {
	if _, err := uuid.Parse(res.StudentID); err != nil {
		return placement.Result{}, placement.ErrStudentNotFound
	}
	if _, err := uuid.Parse(res.TestID); err != nil {
		return placement.Result{}, placement.ErrTestNotFound
	}
	answers, err := json.Marshal(res.Answers)
	if err != nil {
		return placement.Result{}, errors.Wrap(err, "encoding answers")
	}

	err = withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		var locked string
		err := tx.GetContext(ctx, &locked, `SELECT user_id FROM student_profile WHERE user_id = $1 FOR UPDATE`, res.StudentID)
		if err != nil {
			if err == sql.ErrNoRows {
				return placement.ErrStudentNotFound
			}
			return errors.Wrap(err, "locking student profile")
		}

		var testExists bool
		if err := tx.GetContext(ctx, &testExists, `SELECT EXISTS (SELECT 1 FROM placement_test WHERE id = $1)`, res.TestID); err != nil {
			return errors.Wrap(err, "checking placement test")
		}
		if !testExists {
			return placement.ErrTestNotFound
		}

		last, err := latestResult(ctx, tx, res.StudentID)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(last); err != nil {
				return err
			}
		}

		res.ID = uuid.New().String()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO test_result (`+resultColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			res.ID, res.StudentID, res.TestID, types.JSONText(answers), res.Score, res.Percentage,
			string(res.AssignedLevel), res.CompletedAt.UTC(),
		)
		if err != nil {
			return errors.Wrap(err, "inserting result")
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE student_profile SET assigned_level = $2, updated_at = $3 WHERE user_id = $1`,
			res.StudentID, string(res.AssignedLevel), res.CompletedAt.UTC(),
		)
		return errors.Wrap(err, "assigning level")
	})
	if err != nil {
		return placement.Result{}, err
	}
	return res, nil
}
