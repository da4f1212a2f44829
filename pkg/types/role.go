package types

import "fmt"

// Role represents the coarse capability label held by a principal. A
// principal holds at most one role at a time; RoleNone means no role has
// ever been assigned or the prior role was revoked.
type Role string

const (
	RoleNone       Role = ""
	RolePatient    Role = "patient"
	RoleDoctor     Role = "doctor"
	RoleResearcher Role = "researcher"
	RoleAdmin      Role = "admin"
)

// AllRoles lists every assignable role in a stable order.
var AllRoles = []Role{RolePatient, RoleDoctor, RoleResearcher, RoleAdmin}

// ParseRole converts a raw string into a Role. RoleNone and unknown labels
// are rejected: a request for "no role" is never a valid assignment target.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RolePatient, RoleDoctor, RoleResearcher, RoleAdmin:
		return Role(raw), nil
	default:
		return RoleNone, NewValidationError(ErrCodeInvalidRole,
			fmt.Sprintf("unknown role %q", raw))
	}
}

// Assignable reports whether the role is one of the four concrete roles.
func (r Role) Assignable() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleResearcher, RoleAdmin:
		return true
	default:
		return false
	}
}

// String returns the role label, or "none" for the zero role.
func (r Role) String() string {
	if r == RoleNone {
		return "none"
	}
	return string(r)
}
