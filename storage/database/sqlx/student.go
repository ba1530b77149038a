package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/lingua/core"
	"github.com/trezcool/lingua/core/billing"
	"github.com/trezcool/lingua/core/cefr"
	"github.com/trezcool/lingua/core/student"
	"github.com/trezcool/lingua/core/user"
)

const profileSelect = `SELECT p.user_id, u.name, COALESCE(u.email, '') AS email, p.self_reported_level, p.assigned_level,
	p.payment_status, p.provider_customer_id, p.created_at, p.updated_at
	FROM student_profile p JOIN "user" u ON u.id = p.user_id`

type profileRow struct {
	UserID             string      `db:"user_id"`
	Name               string      `db:"name"`
	Email              string      `db:"email"`
	SelfReportedLevel  null.String `db:"self_reported_level"`
	AssignedLevel      null.String `db:"assigned_level"`
	PaymentStatus      string      `db:"payment_status"`
	ProviderCustomerID null.String `db:"provider_customer_id"`
	CreatedAt          time.Time   `db:"created_at"`
	UpdatedAt          time.Time   `db:"updated_at"`
}

func levelPtr(s null.String) *cefr.Level {
	if !s.Valid {
		return nil
	}
	return cefr.Level(s.String).Ptr()
}

func nullLevel(lvl *cefr.Level) null.String {
	if lvl == nil {
		return null.String{}
	}
	return null.StringFrom(string(*lvl))
}

func (r profileRow) toProfile() student.Profile {
	return student.Profile{
		UserID:             r.UserID,
		Name:               r.Name,
		Email:              r.Email,
		SelfReportedLevel:  levelPtr(r.SelfReportedLevel),
		AssignedLevel:      levelPtr(r.AssignedLevel),
		PaymentStatus:      billing.Status(r.PaymentStatus),
		ProviderCustomerID: r.ProviderCustomerID.String,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

type studentRepository struct {
	db    core.DB
	users user.Repository
}

var _ student.Repository = (*studentRepository)(nil) // interface compliance check

func NewStudentRepository(db core.DB) student.Repository {
	return &studentRepository{db: db, users: NewUserRepository(db)}
}

func getProfile(ctx context.Context, exec core.DBExecutor, userID string) (student.Profile, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return student.Profile{}, student.ErrNotFound
	}
	var row profileRow
	if err := exec.GetContext(ctx, &row, profileSelect+` WHERE p.user_id = $1`, userID); err != nil {
		if err == sql.ErrNoRows {
			return student.Profile{}, student.ErrNotFound
		}
		return student.Profile{}, errors.Wrap(err, "getting student profile")
	}
	return row.toProfile(), nil
}

func (repo *studentRepository) RegisterStudent(ctx context.Context, usr user.User, p student.Profile) (student.Profile, error) {
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		var err error
		if usr, err = repo.users.CreateUser(ctx, usr, tx); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO student_profile (user_id, self_reported_level, assigned_level, payment_status, created_at, updated_at)
			VALUES ($1, $2, NULL, $3, $4, $5)`,
			usr.ID, nullLevel(p.SelfReportedLevel), string(p.PaymentStatus), p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
		)
		return errors.Wrap(err, "inserting student profile")
	})
	if err != nil {
		return student.Profile{}, err
	}
	return getProfile(ctx, repo.db, usr.ID)
}

func (repo *studentRepository) GetProfile(ctx context.Context, userID string) (student.Profile, error) {
	return getProfile(ctx, repo.db, userID)
}

func (repo *studentRepository) UpdateProfile(ctx context.Context, p student.Profile) (student.Profile, error) {
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE student_profile SET self_reported_level = $2, updated_at = $3 WHERE user_id = $1`,
			p.UserID, nullLevel(p.SelfReportedLevel), p.UpdatedAt.UTC(),
		)
		if err != nil {
			return errors.Wrap(err, "updating student profile")
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return student.ErrNotFound
		}
		_, err = tx.ExecContext(ctx, `UPDATE "user" SET name = $2, updated_at = $3 WHERE id = $1`, p.UserID, p.Name, p.UpdatedAt.UTC())
		return errors.Wrap(err, "updating student name")
	})
	if err != nil {
		return student.Profile{}, err
	}
	return getProfile(ctx, repo.db, p.UserID)
}

func (repo *studentRepository) QueryProfiles(ctx context.Context, filter *student.QueryFilter) ([]student.Profile, error) {
	var w where
	if filter != nil {
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			w.add("u.name ILIKE ? OR u.email ILIKE ?", val, val)
		}
		if filter.Level != "" {
			w.add("p.assigned_level = ?", string(filter.Level))
		}
		if filter.PaymentStatus != "" {
			w.add("p.payment_status = ?", string(filter.PaymentStatus))
		}
	}

	var rows []profileRow
	q := repo.db.Rebind(profileSelect + w.String() + ` ORDER BY p.created_at DESC`)
	if err := repo.db.SelectContext(ctx, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying student profiles")
	}
	profiles := make([]student.Profile, 0, len(rows))
	for _, r := range rows {
		profiles = append(profiles, r.toProfile())
	}
	return profiles, nil
}
