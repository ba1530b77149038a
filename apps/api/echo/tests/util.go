package tests

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"

	echoapi "github.com/trezcool/lingua/apps/api/echo"
	"github.com/trezcool/lingua/core"
	"github.com/trezcool/lingua/core/billing"
	"github.com/trezcool/lingua/core/classes"
	"github.com/trezcool/lingua/core/material"
	"github.com/trezcool/lingua/core/placement"
	"github.com/trezcool/lingua/core/student"
	"github.com/trezcool/lingua/core/user"
	emailsvc "github.com/trezcool/lingua/services/email"
	storagesvc "github.com/trezcool/lingua/services/storage"
	stripesvc "github.com/trezcool/lingua/services/stripe"
	dummydb "github.com/trezcool/lingua/storage/database/dummy"
	testutil "github.com/trezcool/lingua/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type httpErr struct {
	Error string `json:"error"`
}

// testApp is an API server over in-memory repositories.
type testApp struct {
	conf      *core.Config
	srv       echoapi.Server
	users     user.Repository
	students  student.Repository
	payments  billing.Repository
	placement placement.Repository
	classes   classes.Repository
}

func newTestApp(t *testing.T) testApp {
	t.Helper()
	conf := core.NewTestConfig()
	conf.Storage.MediaDir = t.TempDir()
	conf.Storage.MediaURL = "http://example.com/media"
	validate, translator := testutil.NewValidator()
	logger := testutil.NewLogger(conf)
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	emailsvc.ClearSentMessages()

	db := dummydb.Open()
	app := testApp{
		conf:      conf,
		users:     dummydb.NewUserRepository(db),
		students:  dummydb.NewStudentRepository(db),
		payments:  dummydb.NewBillingRepository(db),
		placement: dummydb.NewPlacementRepository(db),
		classes:   dummydb.NewClassesRepository(db),
	}

	usrSvc := user.NewService(conf, app.users, mailSvc, validate)
	studSvc := student.NewService(app.students, usrSvc, mailSvc, validate)
	billSvc := billing.NewService(conf, app.payments, stripesvc.NewProvider(conf), studSvc, mailSvc, logger)
	media := storagesvc.NewLocalStorage(conf)

	app.srv = echoapi.NewServer(conf, logger, nil, &echoapi.Deps{
		UserSvc:      usrSvc,
		StudentSvc:   studSvc,
		PlacementSvc: placement.NewService(app.placement, studSvc, mailSvc, logger, validate),
		BillingSvc:   billSvc,
		ClassesSvc:   classes.NewService(app.classes, studSvc, billSvc, nil, mailSvc, logger, validate),
		MaterialSvc:  material.NewService(conf, dummydb.NewMaterialRepository(db), media, studSvc, billSvc, logger, validate),
		Media:        media,
		Validate:     validate,
		Translator:   translator,
	})
	return app
}

// do sends a JSON request (body may be nil, []byte or any value to marshal) and records the response.
func (app testApp) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		r = bytes.NewReader(b)
	default:
		r = bytes.NewReader(marshallObj(t, b))
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return app.serve(req)
}

func (app testApp) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	app.srv.ServeHTTP(rec, req)
	return rec
}

func (app testApp) token(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := echoapi.GenerateToken(app.conf, echoapi.NewUserClaims(app.conf, usr))
	if err != nil {
		t.Fatalf("token(): %v", err)
	}
	return token
}

func (app testApp) studentToken(t *testing.T, p student.Profile) string {
	t.Helper()
	return app.token(t, user.User{ID: p.UserID, Email: p.Email, Roles: []string{user.RoleStudent}})
}

func (app testApp) admin(t *testing.T) (user.User, string) {
	t.Helper()
	admin := testutil.CreateUser(t, app.users, "Admin", "admin", "admin@lingua.test", "", []string{user.RoleAdmin}, true)
	return admin, app.token(t, admin)
}

// signedWebhook signs payload the way the payment provider does.
func (app testApp) signedWebhook(payload string) *http.Request {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    app.conf.Billing.StripeWebhookSecret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/billing/webhook", bytes.NewReader(signed.Payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func marshallObj(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshallObj(): %v", err)
	}
	return data
}

func unmarshall(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("unmarshall(%s): %v", rec.Body.String(), err)
	}
}
