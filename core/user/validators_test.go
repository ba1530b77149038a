package user

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/lingua/core"
)

func newValidator() *validator.Validate {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	RegisterValidators(validate, translator)
	return validate
}

func TestNewUser_passwordPolicy(t *testing.T) {
	validate := newValidator()

	tests := []struct {
		name    string
		pwd     string
		wantTag string
	}{
		{name: "too short", pwd: "Ab1!", wantTag: pwdMinLenTag},
		{name: "whitespace", pwd: "Abcd 1234!", wantTag: pwdNoSpaceTag},
		{name: "all numeric", pwd: "1234567890", wantTag: pwdNotAllNumTag},
		{name: "no special char", pwd: "Abcdefgh1", wantTag: pwdComplexityTag},
		{name: "no upper", pwd: "abcdefg1!", wantTag: pwdComplexityTag},
		{name: "similar to username", pwd: "Learner_01!", wantTag: pwdAttrSimTag},
		{name: "common", pwd: "P@ssw0rd1", wantTag: pwdNoCommonTag},
		{name: "valid", pwd: "Tr0ub4dor&3x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nu := NewUser{
				Name:            "Amani",
				Username:        "learner_01",
				Email:           "amani@test.cd",
				Password:        tt.pwd,
				PasswordConfirm: tt.pwd,
			}
			err := validate.Struct(nu)
			if tt.wantTag == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			vErrs, ok := err.(validator.ValidationErrors)
			require.True(t, ok, "unexpected error type %T", err)
			require.Len(t, vErrs, 1)
			assert.Equal(t, "password", vErrs[0].Field())
			assert.Equal(t, tt.wantTag, vErrs[0].Tag())
		})
	}
}

func TestNewUser_rolesAndIdentity(t *testing.T) {
	validate := newValidator()
	pwd := "Tr0ub4dor&3x"

	tests := []struct {
		name      string
		nu        NewUser
		wantField string
		wantTag   string
	}{
		{
			name:      "unknown role",
			nu:        NewUser{Name: "A", Email: "a@test.cd", Roles: []string{"wizard:"}},
			wantField: "roles", wantTag: allRolesTag,
		},
		{
			name:      "no username nor email",
			nu:        NewUser{Name: "A"},
			wantField: "username", wantTag: usernameOrEmailTag,
		},
		{
			name: "valid",
			nu:   NewUser{Name: "A", Email: "a@test.cd", Roles: []string{RoleStudent, RoleTeacher}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.nu.Password, tt.nu.PasswordConfirm = pwd, pwd
			err := validate.Struct(tt.nu)
			if tt.wantTag == "" {
				assert.NoError(t, err)
				return
			}
			vErrs, ok := err.(validator.ValidationErrors)
			require.True(t, ok, "unexpected error %v", err)
			assert.Equal(t, tt.wantField, vErrs[0].Field())
			assert.Equal(t, tt.wantTag, vErrs[0].Tag())
		})
	}
}

func TestMaxRolePriority(t *testing.T) {
	assert.Equal(t, 0, MaxRolePriority(nil))
	assert.Equal(t, RolePriority(RoleTeacher), MaxRolePriority([]string{RoleStudent, RoleTeacher}))
	assert.Equal(t, RolePriority(RoleAdminOwner), MaxRolePriority(AllRoles))
}
