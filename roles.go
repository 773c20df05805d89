package auth

import "strings"

// UserRole is the club role stored on a profile record.
type UserRole string

const (
	RolePlayer UserRole = "player"
	RoleCoach  UserRole = "coach"
	RoleParent UserRole = "parent"
	RoleAdmin  UserRole = "admin"
)

// DefaultRole is assigned when registration does not name one.
const DefaultRole = RolePlayer

// ClubRoles lists the valid roles in display order.
func ClubRoles() []UserRole {
	return []UserRole{RolePlayer, RoleCoach, RoleParent, RoleAdmin}
}

// IsValid checks if the role is one of the predefined club roles
func (r UserRole) IsValid() bool {
	switch r {
	case RolePlayer, RoleCoach, RoleParent, RoleAdmin:
		return true
	default:
		return false
	}
}

func (r UserRole) String() string {
	return string(r)
}

// ParseRole normalizes raw into a UserRole. Empty input yields DefaultRole.
func ParseRole(raw string) (UserRole, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return DefaultRole, true
	}
	role := UserRole(raw)
	return role, role.IsValid()
}
