package auth

import "context"

// Role is the coarse permission group a principal acts under.
type Role string

const (
	RoleReceptionist Role = "receptionist"
	RoleTechnician   Role = "technician"
	RoleManager      Role = "manager"
	RolePhysician    Role = "physician"
	RolePatient      Role = "patient"
)

var knownRoles = map[Role]bool{
	RoleReceptionist: true,
	RoleTechnician:   true,
	RoleManager:      true,
	RolePhysician:    true,
	RolePatient:      true,
}

func (r Role) Valid() bool { return knownRoles[r] }

// Principal is the authenticated actor behind a request.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// HasRole reports whether the principal holds any of roles.
func (p Principal) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

type contextKey string

const principalKey contextKey = "principal"

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
