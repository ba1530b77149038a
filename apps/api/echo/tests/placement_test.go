package tests

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/lingua/core/cefr"
	"github.com/trezcool/lingua/core/placement"
	testutil "github.com/trezcool/lingua/tests"
)

func Test_placementApi_flow(t *testing.T) {
	app := newTestApp(t)
	admin, _ := app.admin(t)
	pt := testutil.PublishTest(t, app.placement, admin.ID)
	p := testutil.CreateStudent(t, app.students, "Learner", "learner@lingua.test", nil)
	token := app.studentToken(t, p)

	var elig placement.Eligibility
	rec := app.do(t, http.MethodGet, "/v1/placement/eligibility", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	unmarshall(t, rec, &elig)
	assert.True(t, elig.Eligible)

	rec = app.do(t, http.MethodPost, "/v1/placement/start", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "correct_answer", "answers are never sent to learners")
	var issued placement.IssuedTest
	unmarshall(t, rec, &issued)
	assert.Equal(t, pt.ID, issued.TestID)
	assert.Len(t, issued.Questions, placement.QuestionCount)

	rec = app.do(t, http.MethodPost, "/v1/placement/submit", token, placement.Submission{
		TestID:  pt.ID,
		Answers: testutil.Answers(pt, 17),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res placement.Result
	unmarshall(t, rec, &res)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, 17, res.Score)
	assert.Equal(t, 68, res.Percentage)
	assert.Equal(t, cefr.B2, res.AssignedLevel)

	// cooldown
	rec = app.do(t, http.MethodGet, "/v1/placement/eligibility", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	unmarshall(t, rec, &elig)
	assert.False(t, elig.Eligible)
	assert.NotNil(t, elig.NextAvailableDate)

	rec = app.do(t, http.MethodPost, "/v1/placement/submit", token, placement.Submission{
		TestID:  pt.ID,
		Answers: testutil.Answers(pt, 25),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())

	rec = app.do(t, http.MethodGet, "/v1/placement/results", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []placement.Result
	unmarshall(t, rec, &history)
	require.Len(t, history, 1)

	rec = app.do(t, http.MethodGet, "/v1/placement/results/"+res.ID, token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	other := testutil.CreateStudent(t, app.students, "Other", "other@lingua.test", nil)
	rec = app.do(t, http.MethodGet, "/v1/placement/results/"+res.ID, app.studentToken(t, other), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "results of others look missing")

	rec = app.do(t, http.MethodGet, "/v1/students/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"assigned_level":"B2"`)
}

func Test_placementApi_submit_malformed(t *testing.T) {
	app := newTestApp(t)
	admin, _ := app.admin(t)
	pt := testutil.PublishTest(t, app.placement, admin.ID)
	p := testutil.CreateStudent(t, app.students, "Learner", "learner@lingua.test", nil)
	token := app.studentToken(t, p)

	tests := []struct {
		name     string
		body     interface{}
		wantCode int
	}{
		{name: "not json", body: []byte("{"), wantCode: http.StatusBadRequest},
		{name: "too few answers", body: placement.Submission{TestID: pt.ID, Answers: testutil.Answers(pt, 3)[:24]}, wantCode: http.StatusBadRequest},
		{name: "unknown test", body: placement.Submission{TestID: "nope", Answers: testutil.Answers(pt, 3)}, wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(t, http.MethodPost, "/v1/placement/submit", token, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}

	// still eligible: nothing was recorded
	rec := app.do(t, http.MethodGet, "/v1/placement/eligibility", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"eligible":true`)
}

func Test_placementApi_tests(t *testing.T) {
	app := newTestApp(t)
	_, adminToken := app.admin(t)
	p := testutil.CreateStudent(t, app.students, "Learner", "learner@lingua.test", nil)

	rec := app.do(t, http.MethodPost, "/v1/placement/start", app.studentToken(t, p), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "no active test yet")

	nt := placement.NewTest{Title: "General English", Questions: testutil.Questions()}
	rec = app.do(t, http.MethodPost, "/v1/placement/tests", app.studentToken(t, p), nt)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = app.do(t, http.MethodPost, "/v1/placement/tests", adminToken, nt)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created placement.Test
	unmarshall(t, rec, &created)
	assert.Equal(t, 1, created.Version)
	assert.True(t, created.IsActive)

	rec = app.do(t, http.MethodGet, "/v1/placement/tests/active", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), created.ID))

	rec = app.do(t, http.MethodGet, "/v1/placement/tests/"+created.ID, adminToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	nt.Questions = nt.Questions[:10]
	rec = app.do(t, http.MethodPost, "/v1/placement/tests", adminToken, nt)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(t, http.MethodGet, "/v1/placement/tests", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all []placement.Test
	unmarshall(t, rec, &all)
	assert.Len(t, all, 1)
}
