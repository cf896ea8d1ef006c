package chat

import (
	"fmt"
	"strings"
)

// Role identifies which side of a conversation a participant is on.
type Role string

const (
	RoleTraveler Role = "TRAVELER"
	RoleProvider Role = "PROVIDER"
)

// ParseRole normalizes an account type or wire value into a Role.
func ParseRole(raw string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(RoleTraveler):
		return RoleTraveler, nil
	case string(RoleProvider):
		return RoleProvider, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleTraveler || r == RoleProvider
}

// Other returns the opposite role. The zero Role has no opposite.
func (r Role) Other() Role {
	switch r {
	case RoleTraveler:
		return RoleProvider
	case RoleProvider:
		return RoleTraveler
	default:
		return ""
	}
}

func (r Role) String() string {
	return string(r)
}

// Participant pairs a role with the numeric account id.
type Participant struct {
	Role Role  `json:"role"`
	ID   int64 `json:"id"`
}
