package tests

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/lingua/apps/api/echo"
	"github.com/trezcool/lingua/core/user"
	emailsvc "github.com/trezcool/lingua/services/email"
	testutil "github.com/trezcool/lingua/tests"
)

func Test_userApi_login(t *testing.T) {
	app := newTestApp(t)
	testutil.CreateUser(t, app.users, "Hero", "hero", "hero@lingua.test", "Tr0ub4dor&3x", []string{user.RoleTeacher}, true)
	testutil.CreateUser(t, app.users, "N Dog", "ndog", "ndog@lingua.test", "Tr0ub4dor&3x", []string{user.RoleStudent}, false)

	tests := []struct {
		name     string
		body     echoapi.LoginRequest
		wantCode int
		wantErr  string
	}{
		{name: "by username", body: echoapi.LoginRequest{Username: " HERO ", Password: "Tr0ub4dor&3x"}, wantCode: http.StatusOK},
		{name: "by email", body: echoapi.LoginRequest{Username: "hero@lingua.test", Password: "Tr0ub4dor&3x"}, wantCode: http.StatusOK},
		{name: "wrong password", body: echoapi.LoginRequest{Username: "hero", Password: "nope"}, wantCode: http.StatusBadRequest, wantErr: "authentication failed"},
		{name: "unknown user", body: echoapi.LoginRequest{Username: "nobody", Password: "nope"}, wantCode: http.StatusBadRequest, wantErr: "authentication failed"},
		{name: "deactivated", body: echoapi.LoginRequest{Username: "ndog", Password: "Tr0ub4dor&3x"}, wantCode: http.StatusForbidden, wantErr: "account deactivated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(t, http.MethodPost, "/v1/users/login", "", tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantErr != "" {
				var got httpErr
				unmarshall(t, rec, &got)
				assert.Equal(t, tt.wantErr, got.Error)
				return
			}

			var resp echoapi.LoginResponse
			unmarshall(t, rec, &resp)
			claims := new(echoapi.Claims)
			_, err := jwt.ParseWithClaims(resp.Token, claims, func(*jwt.Token) (interface{}, error) {
				return []byte(app.conf.SecretKey), nil
			})
			require.NoError(t, err)
			assert.Equal(t, "hero", claims.Username)
			assert.True(t, claims.IsTeacher)
			assert.False(t, claims.IsAdmin)
		})
	}

	// missing fields are reported per field
	rec := app.do(t, http.MethodPost, "/v1/users/login", "", echoapi.LoginRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var fields map[string]string
	unmarshall(t, rec, &fields)
	assert.Contains(t, fields, "username")
	assert.Contains(t, fields, "password")
}

func Test_userApi_refreshToken(t *testing.T) {
	app := newTestApp(t)
	naughty := testutil.CreateUser(t, app.users, "N Dog", "ndog", "ndog@lingua.test", "", []string{user.RoleStudent}, false)
	hero := testutil.CreateUser(t, app.users, "Hero", "hero", "hero@lingua.test", "", []string{user.RoleStudent}, true)

	stale := echoapi.NewUserClaims(app.conf, hero, time.Now().Add(-2*app.conf.Server.JWTRefreshExpirationDelta).Unix())
	staleToken, err := echoapi.GenerateToken(app.conf, stale)
	require.NoError(t, err)

	tests := []struct {
		name     string
		token    string
		wantCode int
		wantErr  string
	}{
		{name: "auth required", wantCode: http.StatusUnauthorized, wantErr: errMissingToken.Error},
		{name: "inactive user", token: app.token(t, naughty), wantCode: http.StatusForbidden, wantErr: "account deactivated"},
		{name: "refresh expired", token: staleToken, wantCode: http.StatusForbidden, wantErr: "refresh has expired"},
		{name: "refreshed", token: app.token(t, hero), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(t, http.MethodPost, "/v1/users/token-refresh", tt.token, nil)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantErr != "" {
				var got httpErr
				unmarshall(t, rec, &got)
				assert.Equal(t, tt.wantErr, got.Error)
				return
			}
			// cannot guess the new token, just check that there is one
			var resp echoapi.LoginResponse
			unmarshall(t, rec, &resp)
			assert.NotEmpty(t, resp.Token)
		})
	}
}

func Test_userApi_adminOnly(t *testing.T) {
	app := newTestApp(t)
	_, adminToken := app.admin(t)
	teacher := testutil.CreateUser(t, app.users, "Teacher", "teacher", "teacher@lingua.test", "", []string{user.RoleTeacher}, true)
	testutil.CreateUser(t, app.users, "Learner", "learner", "learner@lingua.test", "", []string{user.RoleStudent}, true)

	rec := app.do(t, http.MethodGet, "/v1/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = app.do(t, http.MethodGet, "/v1/users", app.token(t, teacher), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	v := url.Values{"role": {user.RoleStudent, user.RoleTeacher}, "ordering": {"name"}}
	rec = app.do(t, http.MethodGet, "/v1/users?"+v.Encode(), adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var users []user.User
	unmarshall(t, rec, &users)
	require.Len(t, users, 2)
	assert.Equal(t, "Learner", users[0].Name)
	assert.Equal(t, "Teacher", users[1].Name)

	rec = app.do(t, http.MethodGet, "/v1/users?created_from=yesterday", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_userApi_create(t *testing.T) {
	app := newTestApp(t)
	_, adminToken := app.admin(t)

	newUser := func(roles ...string) user.NewUser {
		return user.NewUser{
			Name: "Teacher", Username: "teach", Email: "teach@lingua.test",
			Password: "Tr0ub4dor&3x", PasswordConfirm: "Tr0ub4dor&3x", Roles: roles,
		}
	}

	// an admin cannot grant a role above their own
	rec := app.do(t, http.MethodPost, "/v1/users", adminToken, newUser(user.RoleAdminOwner))
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	var fields map[string]string
	unmarshall(t, rec, &fields)
	assert.Contains(t, fields, "roles")

	rec = app.do(t, http.MethodPost, "/v1/users", adminToken, newUser(user.RoleTeacher))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created user.User
	unmarshall(t, rec, &created)
	assert.Equal(t, []string{user.RoleTeacher}, created.Roles)

	rec = app.do(t, http.MethodPost, "/v1/users", adminToken, newUser(user.RoleTeacher))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "duplicate username")
}

func Test_userApi_destroy(t *testing.T) {
	app := newTestApp(t)
	admin, adminToken := app.admin(t)
	other := testutil.CreateUser(t, app.users, "Other", "other", "other@lingua.test", "", nil, true)

	rec := app.do(t, http.MethodDelete, "/v1/users/"+admin.ID, adminToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "cannot delete yourself")

	rec = app.do(t, http.MethodDelete, "/v1/users/"+other.ID, adminToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, err := app.users.GetUser(context.Background(), user.GetFilter{ID: other.ID})
	assert.Equal(t, user.ErrNotFound, err)

	rec = app.do(t, http.MethodGet, "/v1/users/"+other.ID, adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func Test_userApi_destroyMultiple(t *testing.T) {
	app := newTestApp(t)
	admin, adminToken := app.admin(t)
	owner := testutil.CreateUser(t, app.users, "Owner", "owner", "owner@lingua.test", "", []string{user.RoleAdminOwner}, true)
	teacher := testutil.CreateUser(t, app.users, "Teacher", "teacher", "teacher@lingua.test", "", []string{user.RoleTeacher}, true)
	learner := testutil.CreateUser(t, app.users, "Learner", "learner", "learner@lingua.test", "", []string{user.RoleStudent}, true)

	tests := []struct {
		name     string
		ids      []string
		wantCode int
	}{
		{name: "yourself", ids: []string{teacher.ID, admin.ID}, wantCode: http.StatusForbidden},
		{name: "higher role", ids: []string{learner.ID, owner.ID}, wantCode: http.StatusForbidden},
		{name: "lower roles and unknown id", ids: []string{teacher.ID, learner.ID, "nope"}, wantCode: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := make(url.Values)
			for _, id := range tt.ids {
				q.Add("id", id)
			}
			rec := app.do(t, http.MethodDelete, "/v1/users?"+q.Encode(), adminToken, nil)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}

	ctx := context.Background()
	_, err := app.users.GetUser(ctx, user.GetFilter{ID: owner.ID})
	assert.NoError(t, err, "the owner survives")
	_, err = app.users.GetUser(ctx, user.GetFilter{ID: learner.ID})
	assert.Equal(t, user.ErrNotFound, err)

	// the owner outranks everyone
	rec := app.do(t, http.MethodDelete, "/v1/users?id="+admin.ID, app.token(t, owner), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
}

func Test_userApi_resetPassword(t *testing.T) {
	app := newTestApp(t)
	hero := testutil.CreateUser(t, app.users, "Hero", "hero", "hero@lingua.test", "", []string{user.RoleStudent}, true)

	tests := []struct {
		name      string
		email     string
		wantCode  int
		wantEmail bool
	}{
		{name: "invalid email", email: "lol", wantCode: http.StatusBadRequest},
		{name: "unknown email", email: "lol@lingua.test", wantCode: http.StatusOK},
		{name: "known email", email: " HERO@lingua.test", wantCode: http.StatusOK, wantEmail: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emailsvc.ClearSentMessages()
			rec := app.do(t, http.MethodPost, "/v1/users/password-reset", "", echoapi.PasswordResetRequest{Email: tt.email})
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			msgs := emailsvc.GetSentMessages()
			if !tt.wantEmail {
				assert.Empty(t, msgs)
				return
			}
			require.Len(t, msgs, 1)
			assert.Equal(t, hero.Email, msgs[0].To[0].Address)
			assert.Regexp(t, "/password-reset/.+/.+", msgs[0].TextContent)
		})
	}
}

func Test_userApi_confirmPasswordReset(t *testing.T) {
	app := newTestApp(t)
	hero := testutil.CreateUser(t, app.users, "Hero", "hero", "hero@lingua.test", "", []string{user.RoleStudent}, true)

	rec := app.do(t, http.MethodPost, "/v1/users/password-reset-confirm", "", user.ResetUserPassword{
		Token: "HE4TS-sigsig-sig", UID: user.EncodeUID(hero), Password: "LolC@t123", PasswordConfirm: "LolC@t123",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(t, http.MethodPost, "/v1/users/password-reset-confirm", "", user.ResetUserPassword{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var fields map[string]string
	unmarshall(t, rec, &fields)
	assert.Contains(t, fields, "token")
	assert.Contains(t, fields, "uid")
}
