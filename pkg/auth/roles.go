package auth

import (
	"fmt"
	"strings"
)

// Role is an admin account's privilege tier. The set is closed: admin,
// editor and viewer, ordered admin > editor > viewer.
type Role string

const (
	RoleAdmin  Role = "admin"  // account management plus everything below
	RoleEditor Role = "editor" // catalog writes
	RoleViewer Role = "viewer" // read only
)

// Level returns the role's position in the privilege order. Unknown roles
// are level 0 and satisfy nothing.
func (r Role) Level() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleEditor:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	return r.Level() > 0
}

// AtLeast reports whether r grants at least the privileges of min.
func (r Role) AtLeast(min Role) bool {
	return r.Valid() && r.Level() >= min.Level()
}

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// RoleSet is the set of roles a route accepts.
type RoleSet []Role

// The canonical route predicates.
var (
	AnyRole       = RoleSet{RoleAdmin, RoleEditor, RoleViewer}
	EditorOrAdmin = RoleSet{RoleAdmin, RoleEditor}
	AdminOnly     = RoleSet{RoleAdmin}
)

// Allows reports whether r is a member of the set.
func (s RoleSet) Allows(r Role) bool {
	if !r.Valid() {
		return false
	}
	for _, allowed := range s {
		if allowed == r {
			return true
		}
	}
	return false
}

// String renders the set for messages: "admin or editor".
func (s RoleSet) String() string {
	names := make([]string, len(s))
	for i, r := range s {
		names[i] = string(r)
	}
	return strings.Join(names, " or ")
}
