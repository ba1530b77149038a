package tests

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/lingua/apps/api/echo"
	"github.com/trezcool/lingua/core/billing"
	"github.com/trezcool/lingua/core/cefr"
	"github.com/trezcool/lingua/core/classes"
	"github.com/trezcool/lingua/core/user"
	testutil "github.com/trezcool/lingua/tests"
)

const zoomURL = "https://zoom.us/j/123456789"

func createSession(t *testing.T, app testApp, token string, lvl cefr.Level, capacity int) classes.Session {
	t.Helper()
	rec := app.do(t, http.MethodPost, "/v1/classes", token, classes.NewSession{
		Title:           "Conversation " + string(lvl),
		Level:           string(lvl),
		StartsAt:        time.Now().Add(48 * time.Hour),
		DurationMinutes: 60,
		Capacity:        capacity,
		ZoomURL:         zoomURL,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sess classes.Session
	unmarshall(t, rec, &sess)
	return sess
}

func Test_classesApi_enroll(t *testing.T) {
	app := newTestApp(t)
	_, adminToken := app.admin(t)
	b1 := createSession(t, app, adminToken, cefr.B1, 1)
	a2 := createSession(t, app, adminToken, cefr.A2, 10)
	assert.Equal(t, zoomURL, b1.ZoomURL, "staff see the meeting link")

	paid := testutil.CreateStudent(t, app.students, "Paid", "paid@lingua.test", cefr.B1.Ptr())
	testutil.SetPayment(t, app.payments, paid.UserID, billing.StatusActive, nil)
	paidToken := app.studentToken(t, paid)
	unpaid := testutil.CreateStudent(t, app.students, "Unpaid", "unpaid@lingua.test", cefr.B1.Ptr())
	late := testutil.CreateStudent(t, app.students, "Late", "late@lingua.test", cefr.B1.Ptr())
	testutil.SetPayment(t, app.payments, late.UserID, billing.StatusActive, nil)

	// learners only see sessions at their level, without the link
	rec := app.do(t, http.MethodGet, "/v1/classes", paidToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "zoom_url")
	var listed []classes.Session
	unmarshall(t, rec, &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, b1.ID, listed[0].ID)

	tests := []struct {
		name      string
		token     string
		sessionID string
		wantCode  int
	}{
		{name: "staff cannot enroll", token: adminToken, sessionID: b1.ID, wantCode: http.StatusForbidden},
		{name: "unknown session", token: paidToken, sessionID: "nope", wantCode: http.StatusNotFound},
		{name: "unpaid", token: app.studentToken(t, unpaid), sessionID: b1.ID, wantCode: http.StatusForbidden},
		{name: "wrong level", token: paidToken, sessionID: a2.ID, wantCode: http.StatusForbidden},
		{name: "enrolled", token: paidToken, sessionID: b1.ID, wantCode: http.StatusCreated},
		{name: "already enrolled", token: paidToken, sessionID: b1.ID, wantCode: http.StatusConflict},
		{name: "full", token: app.studentToken(t, late), sessionID: b1.ID, wantCode: http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(t, http.MethodPost, "/v1/classes/"+tt.sessionID+"/enroll", tt.token, nil)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode == http.StatusCreated {
				var resp echoapi.EnrollResponse
				unmarshall(t, rec, &resp)
				assert.Equal(t, zoomURL, resp.ZoomURL)
			}
		})
	}

	rec = app.do(t, http.MethodGet, "/v1/classes/enrollments/me", paidToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var mine []classes.Enrollment
	unmarshall(t, rec, &mine)
	require.Len(t, mine, 1)
	assert.Equal(t, b1.ID, mine[0].SessionID)
	assert.False(t, mine[0].Attended)

	rec = app.do(t, http.MethodGet, "/v1/classes/"+b1.ID, adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got classes.Session
	unmarshall(t, rec, &got)
	assert.Equal(t, 1, got.EnrollmentCount)
}

func Test_classesApi_staff(t *testing.T) {
	app := newTestApp(t)
	_, adminToken := app.admin(t)
	teacher := testutil.CreateUser(t, app.users, "Teacher", "teacher", "teacher@lingua.test", "", []string{user.RoleTeacher}, true)
	teacherToken := app.token(t, teacher)
	sess := createSession(t, app, adminToken, cefr.B2, 2)

	p := testutil.CreateStudent(t, app.students, "Learner", "learner@lingua.test", cefr.B2.Ptr())
	testutil.SetPayment(t, app.payments, p.UserID, billing.StatusActive, nil)
	token := app.studentToken(t, p)
	rec := app.do(t, http.MethodPost, "/v1/classes/"+sess.ID+"/enroll", token, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = app.do(t, http.MethodPost, "/v1/classes", teacherToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "only admins schedule classes")

	rec = app.do(t, http.MethodGet, "/v1/classes/"+sess.ID+"/enrollments", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = app.do(t, http.MethodGet, "/v1/classes/"+sess.ID+"/enrollments", teacherToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var enrollments []classes.Enrollment
	unmarshall(t, rec, &enrollments)
	require.Len(t, enrollments, 1)
	assert.Equal(t, p.UserID, enrollments[0].StudentID)

	rec = app.do(t, http.MethodPut, "/v1/classes/"+sess.ID+"/enrollments/"+p.UserID+"/attendance", teacherToken, classes.Attendance{Attended: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var enr classes.Enrollment
	unmarshall(t, rec, &enr)
	assert.True(t, enr.Attended)

	rec = app.do(t, http.MethodPut, "/v1/classes/"+sess.ID+"/enrollments/nobody/attendance", teacherToken, classes.Attendance{Attended: true})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	tests := []struct {
		name     string
		body     classes.UpdateSession
		wantCode int
	}{
		{name: "bad level", body: classes.UpdateSession{Level: "D1"}, wantCode: http.StatusBadRequest},
		{name: "capacity kept", body: classes.UpdateSession{Capacity: 1}, wantCode: http.StatusOK},
		{name: "renamed", body: classes.UpdateSession{Title: "Debate club"}, wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(t, http.MethodPut, "/v1/classes/"+sess.ID, adminToken, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}

	rec = app.do(t, http.MethodDelete, "/v1/classes/"+sess.ID, adminToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = app.do(t, http.MethodGet, "/v1/classes/"+sess.ID, teacherToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func Test_classesApi_capacityTooLow(t *testing.T) {
	app := newTestApp(t)
	_, adminToken := app.admin(t)
	sess := createSession(t, app, adminToken, cefr.A1, 3)

	for _, email := range []string{"one@lingua.test", "two@lingua.test"} {
		p := testutil.CreateStudent(t, app.students, "Learner", email, cefr.A1.Ptr())
		testutil.SetPayment(t, app.payments, p.UserID, billing.StatusActive, nil)
		rec := app.do(t, http.MethodPost, "/v1/classes/"+sess.ID+"/enroll", app.studentToken(t, p), nil)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := app.do(t, http.MethodPut, "/v1/classes/"+sess.ID, adminToken, classes.UpdateSession{Capacity: 1})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = app.do(t, http.MethodGet, "/v1/classes?from=tomorrow", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
