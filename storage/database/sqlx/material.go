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
	"github.com/trezcool/lingua/core/cefr"
	"github.com/trezcool/lingua/core/material"
)

const materialColumns = `id, title, description, level, object_key, filename, content_type, size, uploaded_by, created_at`

type materialRow struct {
	ID          string      `db:"id"`
	Title       string      `db:"title"`
	Description string      `db:"description"`
	Level       string      `db:"level"`
	ObjectKey   string      `db:"object_key"`
	Filename    string      `db:"filename"`
	ContentType string      `db:"content_type"`
	Size        int64       `db:"size"`
	UploadedBy  null.String `db:"uploaded_by"`
	CreatedAt   time.Time   `db:"created_at"`
}

func (r materialRow) toMaterial() material.Material {
	return material.Material{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Level:       cefr.Level(r.Level),
		ObjectKey:   r.ObjectKey,
		Filename:    r.Filename,
		ContentType: r.ContentType,
		Size:        r.Size,
		UploadedBy:  r.UploadedBy.String,
		CreatedAt:   r.CreatedAt,
	}
}

type materialRepository struct {
	db core.DB
}

var _ material.Repository = (*materialRepository)(nil) // interface compliance check

func NewMaterialRepository(db core.DB) material.Repository {
	return &materialRepository{db: db}
}

func (repo *materialRepository) CreateMaterial(ctx context.Context, m material.Material) (material.Material, error) {
	m.ID = uuid.New().String()
	row := materialRow{
		ID:          m.ID,
		Title:       m.Title,
		Description: m.Description,
		Level:       string(m.Level),
		ObjectKey:   m.ObjectKey,
		Filename:    m.Filename,
		ContentType: m.ContentType,
		Size:        m.Size,
		UploadedBy:  nullString(m.UploadedBy),
		CreatedAt:   m.CreatedAt.UTC(),
	}
	q := `INSERT INTO material (` + materialColumns + `) VALUES (:id, :title, :description, :level, :object_key,
		:filename, :content_type, :size, :uploaded_by, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, repo.db, q, row); err != nil {
		return material.Material{}, errors.Wrap(err, "inserting material")
	}
	return row.toMaterial(), nil
}

func (repo *materialRepository) GetMaterial(ctx context.Context, id string) (material.Material, error) {
	if _, err := uuid.Parse(id); err != nil {
		return material.Material{}, material.ErrNotFound
	}
	var row materialRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+materialColumns+` FROM material WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return material.Material{}, material.ErrNotFound
		}
		return material.Material{}, errors.Wrap(err, "getting material")
	}
	return row.toMaterial(), nil
}

func (repo *materialRepository) QueryMaterials(ctx context.Context, filter *material.QueryFilter) ([]material.Material, error) {
	var w where
	if filter != nil {
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			w.add("title ILIKE ? OR description ILIKE ?", val, val)
		}
		if filter.Level != "" {
			w.add("level = ?", string(filter.Level))
		}
	}

	var rows []materialRow
	q := repo.db.Rebind(`SELECT ` + materialColumns + ` FROM material` + w.String() + ` ORDER BY created_at DESC`)
	if err := repo.db.SelectContext(ctx, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying materials")
	}
	materials := make([]material.Material, 0, len(rows))
	for _, r := range rows {
		materials = append(materials, r.toMaterial())
	}
	return materials, nil
}

func (repo *materialRepository) DeleteMaterial(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return material.ErrNotFound
	}
	res, err := repo.db.ExecContext(ctx, `DELETE FROM material WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting material")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return material.ErrNotFound
	}
	return nil
}
