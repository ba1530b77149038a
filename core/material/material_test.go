package material_test

import (
	"context"
	"io"
	"io/ioutil"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/lingua/core"
	"github.com/trezcool/lingua/core/billing"
	"github.com/trezcool/lingua/core/cefr"
	"github.com/trezcool/lingua/core/material"
	"github.com/trezcool/lingua/core/student"
	"github.com/trezcool/lingua/core/user"
	emailsvc "github.com/trezcool/lingua/services/email"
	storagesvc "github.com/trezcool/lingua/services/storage"
	dummydb "github.com/trezcool/lingua/storage/database/dummy"
	testutil "github.com/trezcool/lingua/tests"
)

// brokenStorage fails the operations named in `fail`.
type brokenStorage struct {
	material.FileStorage
	fail map[string]bool
}

func (s brokenStorage) Put(ctx context.Context, key, ct string, body io.Reader) error {
	if s.fail["put"] {
		return errors.New("bucket unreachable")
	}
	return s.FileStorage.Put(ctx, key, ct, body)
}

func (s brokenStorage) SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if s.fail["sign"] {
		return "", errors.New("bucket unreachable")
	}
	return s.FileStorage.SignedURL(ctx, key, expiry)
}

func (s brokenStorage) Delete(ctx context.Context, key string) error {
	if s.fail["delete"] {
		return errors.New("bucket unreachable")
	}
	return s.FileStorage.Delete(ctx, key)
}

type fixture struct {
	conf     *core.Config
	svc      *material.Service
	files    *storagesvc.LocalStorage
	students student.Repository
	payments billing.Repository
	newSvc   func(files material.FileStorage) *material.Service
	admin    core.Principal
}

func setup(t *testing.T) fixture {
	t.Helper()
	conf := core.NewTestConfig()
	conf.Storage.MediaDir = t.TempDir()
	validate, _ := testutil.NewValidator()
	logger := testutil.NewLogger(conf)
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)

	db := dummydb.Open()
	repo := dummydb.NewMaterialRepository(db)
	studRepo := dummydb.NewStudentRepository(db)
	billRepo := dummydb.NewBillingRepository(db)
	studSvc := student.NewService(studRepo, user.NewService(conf, dummydb.NewUserRepository(db), mailSvc, validate), mailSvc, validate)
	billSvc := billing.NewService(conf, billRepo, nil, studSvc, mailSvc, logger)
	files := storagesvc.NewLocalStorage(conf)

	newSvc := func(fs material.FileStorage) *material.Service {
		return material.NewService(conf, repo, fs, studRepo, billSvc, logger, validate)
	}
	return fixture{
		conf:     conf,
		svc:      newSvc(files),
		files:    files,
		students: studRepo,
		payments: billRepo,
		newSvc:   newSvc,
		admin:    core.Principal{UserID: "admin-id", Roles: []string{user.RoleAdmin}},
	}
}

func (f fixture) upload(t *testing.T, title string, lvl cefr.Level) material.Material {
	t.Helper()
	m, err := f.svc.Upload(context.Background(), f.admin,
		material.NewMaterial{Title: title, Level: string(lvl)},
		material.Upload{Filename: "Lesson 1.PDF", ContentType: "application/pdf", Size: 8, Body: strings.NewReader("%PDF-1.4")},
	)
	require.NoError(t, err)
	return m
}

func TestService_Upload(t *testing.T) {
	f := setup(t)
	m := f.upload(t, " Phrasal verbs ", cefr.B2)

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "Phrasal verbs", m.Title)
	assert.Equal(t, cefr.B2, m.Level)
	assert.Equal(t, "Lesson 1.PDF", m.Filename)
	assert.Equal(t, "admin-id", m.UploadedBy)
	assert.True(t, strings.HasPrefix(m.ObjectKey, "materials/b2/"), m.ObjectKey)
	assert.True(t, strings.HasSuffix(m.ObjectKey, ".pdf"), m.ObjectKey)

	p, err := f.files.Path(m.ObjectKey)
	require.NoError(t, err)
	data, err := ioutil.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))
}

func TestService_Upload_invalid(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	file := func() material.Upload {
		return material.Upload{Filename: "a.pdf", Body: strings.NewReader("x")}
	}

	tests := []struct {
		name string
		nm   material.NewMaterial
		up   material.Upload
	}{
		{name: "no title", nm: material.NewMaterial{Level: "A1"}, up: file()},
		{name: "bad level", nm: material.NewMaterial{Title: "x", Level: "A0"}, up: file()},
		{name: "no file", nm: material.NewMaterial{Title: "x", Level: "A1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Upload(ctx, f.admin, tt.nm, tt.up)
			assert.Error(t, err)
		})
	}

	broken := f.newSvc(brokenStorage{FileStorage: f.files, fail: map[string]bool{"put": true}})
	_, err := broken.Upload(ctx, f.admin, material.NewMaterial{Title: "x", Level: "A1"}, file())
	assert.IsType(t, &core.ExternalError{}, err)

	list, err := f.svc.List(ctx, f.admin, nil)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestService_Delete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	m := f.upload(t, "Listening", cefr.A2)
	p, err := f.files.Path(m.ObjectKey)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, m.ID))
	_, err = f.svc.Get(ctx, m.ID)
	assert.Equal(t, material.ErrNotFound, err)
	_, err = ioutil.ReadFile(p)
	assert.Error(t, err, "file removed")

	// a storage failure does not undo the deletion
	other := f.upload(t, "Reading", cefr.A2)
	broken := f.newSvc(brokenStorage{FileStorage: f.files, fail: map[string]bool{"delete": true}})
	require.NoError(t, broken.Delete(ctx, other.ID))
	_, err = f.svc.Get(ctx, other.ID)
	assert.Equal(t, material.ErrNotFound, err)

	assert.Equal(t, material.ErrNotFound, f.svc.Delete(ctx, "nope"))
}

func TestService_List(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.upload(t, "Past simple", cefr.A2)
	f.upload(t, "Conditionals", cefr.B1)
	f.upload(t, "Reported speech", cefr.B1)

	all, err := f.svc.List(ctx, f.admin, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	found, err := f.svc.List(ctx, f.admin, &material.QueryFilter{Search: "speech"})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	lrn := testutil.CreateStudent(t, f.students, "Learner", "list@lingua.test", cefr.B1.Ptr())
	mine, err := f.svc.List(ctx, core.Principal{UserID: lrn.UserID, Roles: []string{user.RoleStudent}}, &material.QueryFilter{Level: cefr.A2})
	require.NoError(t, err)
	assert.Len(t, mine, 2, "learners only see their level")
	for _, m := range mine {
		assert.Equal(t, cefr.B1, m.Level)
	}
}

func TestService_Download(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	b1 := f.upload(t, "Conditionals", cefr.B1)
	c1 := f.upload(t, "Idioms", cefr.C1)

	paid := testutil.CreateStudent(t, f.students, "Paid", "paid@lingua.test", cefr.B1.Ptr()).UserID
	testutil.SetPayment(t, f.payments, paid, billing.StatusActive, nil)
	unpaid := testutil.CreateStudent(t, f.students, "Unpaid", "unpaid@lingua.test", cefr.B1.Ptr()).UserID
	learner := func(id string) core.Principal { return core.Principal{UserID: id, Roles: []string{user.RoleStudent}} }

	tests := []struct {
		name    string
		p       core.Principal
		id      string
		wantErr error
	}{
		{name: "paid learner at level", p: learner(paid), id: b1.ID},
		{name: "staff", p: f.admin, id: c1.ID},
		{name: "unpaid", p: learner(unpaid), id: b1.ID, wantErr: material.ErrPaymentInactive},
		{name: "other level", p: learner(paid), id: c1.ID, wantErr: material.ErrLevelMismatch},
		{name: "unknown", p: learner(paid), id: "nope", wantErr: material.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dl, err := f.svc.Download(ctx, tt.p, tt.id)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
				return
			}
			require.NoError(t, err)
			u, err := url.Parse(dl.URL)
			require.NoError(t, err)
			assert.NotEmpty(t, u.Query().Get("signature"))
			assert.WithinDuration(t, time.Now().Add(f.conf.Storage.SignedURLExpiry), dl.ExpiresAt, 5*time.Second)
		})
	}

	broken := f.newSvc(brokenStorage{FileStorage: f.files, fail: map[string]bool{"sign": true}})
	_, err := broken.Download(ctx, f.admin, b1.ID)
	assert.IsType(t, &core.ExternalError{}, err)
}
