package auth

import (
	"errors"
	"strings"
)

// Role is the coarse role of an authenticated caller.
type Role string

const (
	RoleStudent  Role = "STUDENT"
	RoleLecturer Role = "LECTURER"
	RoleAdmin    Role = "ADMIN"
)

// ParseRole normalises s into a known role.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleStudent:
		return RoleStudent, true
	case RoleLecturer:
		return RoleLecturer, true
	case RoleAdmin:
		return RoleAdmin, true
	}
	return "", false
}

// Actor is the authenticated caller every component receives.
type Actor struct {
	ID    string
	Role  Role
	OrgID string
}

// IsStaff reports whether the actor may act on sessions (lecturer or admin).
func (a Actor) IsStaff() bool {
	return a.Role == RoleLecturer || a.Role == RoleAdmin
}

// Validate checks the actor carries an id, a known role and an organisation.
func (a Actor) Validate() error {
	if a.ID == "" {
		return errors.New("actor id required")
	}
	if _, ok := ParseRole(string(a.Role)); !ok {
		return errors.New("unknown actor role")
	}
	if a.OrgID == "" {
		return errors.New("actor organization required")
	}
	return nil
}
