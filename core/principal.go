package core

import (
	"context"
	"net/mail"
	"strings"
)

// Principal is the authenticated caller of an operation.
// The HTTP layer builds it from the request token and hands it to the services explicitly.
type Principal struct {
	UserID string
	Roles  []string
}

func (p Principal) hasRolePrefix(prefix string) bool {
	for _, role := range p.Roles {
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}

func (p Principal) IsAdmin() bool   { return p.hasRolePrefix("admin:") }
func (p Principal) IsTeacher() bool { return p.hasRolePrefix("teacher:") }
func (p Principal) IsStudent() bool { return p.hasRolePrefix("student:") }
func (p Principal) IsStaff() bool   { return p.IsAdmin() || p.IsTeacher() }

// ContactBook resolves the address notifications about a user are sent to.
type ContactBook interface {
	Contact(ctx context.Context, userID string) (mail.Address, error)
}
