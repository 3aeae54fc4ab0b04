package auth

// Role describes the access scope granted to an authenticated principal.
type Role string

const (
	// RoleUser grants access to the principal's own resources only.
	RoleUser Role = "user"
	// RoleAdmin grants access across all owners' resources.
	RoleAdmin Role = "admin"
)

// ParseRole normalizes a raw role claim, defaulting to the regular user scope.
func ParseRole(value string) Role {
	if value == string(RoleAdmin) {
		return RoleAdmin
	}
	return RoleUser
}

// Principal is the authenticated identity every core operation receives.
// Authentication itself happens outside the core; the services only decide
// authorization from this pair.
type Principal struct {
	UserID uint64
	Role   Role
}

// IsAdmin reports whether the principal holds the elevated role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// CanAccess implements the owner-or-elevated-role rule shared by the file
// catalog and the backup engine.
func (p Principal) CanAccess(ownerID uint64) bool {
	return p.IsAdmin() || p.UserID == ownerID
}
