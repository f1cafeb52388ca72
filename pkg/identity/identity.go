package identity

import (
	"fmt"
	"strings"
)

// RoleType defines which surface an identity acts through.
type RoleType string

const (
	RoleMember RoleType = "member"
	RoleAdmin  RoleType = "admin"
)

// ParseRole converts a raw role claim. Empty input maps to RoleMember.
func ParseRole(s string) (RoleType, error) {
	switch RoleType(strings.ToLower(strings.TrimSpace(s))) {
	case "", RoleMember, "user", "authenticated":
		return RoleMember, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("unknown role: %q", s)
	}
}

// APIPrefix returns the route prefix of the messaging API for this role.
//
//	RoleMember.APIPrefix() => ""
//	RoleAdmin.APIPrefix()  => "/admin"
func (r RoleType) APIPrefix() string {
	if r == RoleAdmin {
		return "/admin"
	}
	return ""
}

// Identity is the signed-in principal a session acts for.
type Identity struct {
	Id    string
	Name  string
	Email string
	Role  RoleType
}

// Validate checks the identity can be used to open a session.
func (i *Identity) Validate() error {
	if i == nil {
		return fmt.Errorf("identity is nil")
	}
	if i.Id == "" {
		return fmt.Errorf("identity id is empty")
	}
	if i.Role != RoleMember && i.Role != RoleAdmin {
		return fmt.Errorf("invalid role: %q", i.Role)
	}
	return nil
}

// DisplayName falls back from name to the local part of the email, then to the id.
func (i *Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	if at := strings.Index(i.Email, "@"); at > 0 {
		return i.Email[:at]
	}
	return i.Id
}
