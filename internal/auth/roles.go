package auth

import "strings"

// Role is the single role attached to an identity.
type Role string

const (
	RoleViewer    Role = "viewer"
	RoleProducer  Role = "producer"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// roleRank orders roles by privilege. Viewer is the lowest non-anonymous
// role and the fail-safe default everywhere a lookup goes wrong.
var roleRank = map[Role]int{
	RoleViewer:    0,
	RoleProducer:  1,
	RoleModerator: 2,
	RoleAdmin:     3,
}

// ParseRole normalizes a role string. Unknown or empty input resolves to
// viewer — never to admin.
func ParseRole(s string) Role {
	r := Role(strings.TrimSpace(strings.ToLower(s)))
	if _, ok := roleRank[r]; ok {
		return r
	}
	return RoleViewer
}

// AtLeast reports whether r carries at least the privilege of required.
func (r Role) AtLeast(required Role) bool {
	return roleRank[r] >= roleRank[required]
}

func (r Role) String() string { return string(r) }
