package material

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/lingua/core"
	"github.com/trezcool/lingua/core/billing"
	"github.com/trezcool/lingua/core/cefr"
	"github.com/trezcool/lingua/core/student"
)

var (
	nowFunc = time.Now // mockable

	// errors
	ErrNotFound        = core.NewNotFoundError("material not found")
	ErrPaymentInactive = core.NewForbiddenError("an active subscription is required to download materials")
	ErrLevelMismatch   = core.NewForbiddenError("this material is not at your assigned level")
)

// Material is a course document stored in the file storage.
type Material struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Level       cefr.Level `json:"level"`
	ObjectKey   string     `json:"-"`
	Filename    string     `json:"filename"`
	ContentType string     `json:"content_type"`
	Size        int64      `json:"size"`
	UploadedBy  string     `json:"uploaded_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type (
	NewMaterial struct {
		Title       string `json:"title" form:"title" validate:"required"`
		Description string `json:"description" form:"description"`
		Level       string `json:"level" form:"level" validate:"required,cefr"`
	}

	// Upload is the file part of a NewMaterial.
	Upload struct {
		Filename    string
		ContentType string
		Size        int64
		Body        io.Reader
	}

	QueryFilter struct {
		Search string     `query:"search"`
		Level  cefr.Level `query:"level"`
	}

	// Download is a time-limited link to a material's file.
	Download struct {
		URL       string    `json:"url"`
		ExpiresAt time.Time `json:"expires_at"`
	}
)

type (
	Repository interface {
		CreateMaterial(ctx context.Context, m Material) (Material, error)
		GetMaterial(ctx context.Context, id string) (Material, error)
		QueryMaterials(ctx context.Context, filter *QueryFilter) ([]Material, error)
		DeleteMaterial(ctx context.Context, id string) error
	}

	// FileStorage is a blob store.
	FileStorage interface {
		Put(ctx context.Context, key, contentType string, body io.Reader) error
		SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
		Delete(ctx context.Context, key string) error
	}

	Profiles interface {
		GetProfile(ctx context.Context, userID string) (student.Profile, error)
	}

	AccessChecker interface {
		Access(ctx context.Context, studentID string) (billing.Account, error)
	}

	Service struct {
		repo      Repository
		files     FileStorage
		profiles  Profiles
		access    AccessChecker
		logger    core.Logger
		validate  *validator.Validate
		urlExpiry time.Duration
	}
)

func NewService(
	conf *core.Config,
	repo Repository,
	files FileStorage,
	profiles Profiles,
	access AccessChecker,
	logger core.Logger,
	validate *validator.Validate,
) *Service {
	return &Service{
		repo:      repo,
		files:     files,
		profiles:  profiles,
		access:    access,
		logger:    logger,
		validate:  validate,
		urlExpiry: conf.Storage.SignedURLExpiry,
	}
}

// objectKey returns a unique storage key for a file, keeping its extension.
func objectKey(lvl cefr.Level, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("materials/%s/%s%s", strings.ToLower(string(lvl)), uuid.New().String(), ext)
}

// Upload stores the file, then records the material. The file is removed again if recording fails.
func (svc *Service) Upload(ctx context.Context, p core.Principal, nm NewMaterial, up Upload) (Material, error) {
	nm.Title = core.CleanString(nm.Title)
	nm.Description = core.CleanString(nm.Description)
	if err := svc.validate.Struct(nm); err != nil {
		return Material{}, err
	}
	if up.Body == nil || up.Filename == "" {
		return Material{}, core.NewValidationError(nil, core.FieldError{Field: "file", Error: "this field is required"})
	}
	lvl, _ := cefr.ParseLevel(nm.Level) // validated

	if up.ContentType == "" {
		up.ContentType = "application/octet-stream"
	}
	m := Material{
		Title:       nm.Title,
		Description: nm.Description,
		Level:       lvl,
		ObjectKey:   objectKey(lvl, up.Filename),
		Filename:    path.Base(up.Filename),
		ContentType: up.ContentType,
		Size:        up.Size,
		UploadedBy:  p.UserID,
		CreatedAt:   nowFunc().UTC(),
	}
	if err := svc.files.Put(ctx, m.ObjectKey, m.ContentType, up.Body); err != nil {
		return Material{}, core.NewExternalError("file storage", err)
	}

	saved, err := svc.repo.CreateMaterial(ctx, m)
	if err != nil {
		svc.removeFile(ctx, m.ObjectKey)
		return Material{}, errors.Wrap(err, "creating material")
	}
	return saved, nil
}

// Delete removes the material record, then its file. A file that cannot be removed is only logged.
func (svc *Service) Delete(ctx context.Context, id string) error {
	m, err := svc.repo.GetMaterial(ctx, id)
	if err != nil {
		return err
	}
	if err := svc.repo.DeleteMaterial(ctx, id); err != nil {
		return err
	}
	svc.removeFile(ctx, m.ObjectKey)
	return nil
}

func (svc *Service) removeFile(ctx context.Context, key string) {
	if err := svc.files.Delete(ctx, key); err != nil {
		svc.logger.Error(fmt.Sprintf("material: removing file %s: %v", key, err))
	}
}

func (svc *Service) Get(ctx context.Context, id string) (Material, error) {
	return svc.repo.GetMaterial(ctx, id)
}

// List returns the materials matching filter. Learners only see materials at their assigned level.
func (svc *Service) List(ctx context.Context, p core.Principal, filter *QueryFilter) ([]Material, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	filter.Search = core.CleanString(filter.Search)
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
			return []Material{}, nil
		}
		filter.Level = *prof.AssignedLevel
	}
	return svc.repo.QueryMaterials(ctx, filter)
}

// Download returns a signed link to the material's file.
// Learners need paid access and the material must be at their assigned level.
func (svc *Service) Download(ctx context.Context, p core.Principal, id string) (Download, error) {
	m, err := svc.repo.GetMaterial(ctx, id)
	if err != nil {
		return Download{}, err
	}

	if !p.IsStaff() {
		prof, err := svc.profiles.GetProfile(ctx, p.UserID)
		if err != nil {
			return Download{}, err
		}
		acct, err := svc.access.Access(ctx, p.UserID)
		if err != nil {
			return Download{}, errors.Wrap(err, "checking access")
		}
		if !acct.HasAccess {
			return Download{}, ErrPaymentInactive
		}
		if prof.AssignedLevel == nil || *prof.AssignedLevel != m.Level {
			return Download{}, ErrLevelMismatch
		}
	}

	expiresAt := nowFunc().UTC().Add(svc.urlExpiry)
	url, err := svc.files.SignedURL(ctx, m.ObjectKey, svc.urlExpiry)
	if err != nil {
		return Download{}, core.NewExternalError("file storage", err)
	}
	return Download{URL: url, ExpiresAt: expiresAt}, nil
}
