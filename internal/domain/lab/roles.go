package lab

import (
	"context"
	"strings"

	"github.com/moazmaksod/LabFlow-sub000/internal/platform/auth"
)

// Role gates per operation. The handler applies them as route middleware and
// the service checks them again so direct callers are gated too.
var (
	CreateOrderRoles = []auth.Role{auth.RoleReceptionist, auth.RoleManager, auth.RolePhysician}
	AccessionRoles   = []auth.Role{auth.RoleTechnician, auth.RoleManager}
	VerifyRoles      = []auth.Role{auth.RoleTechnician, auth.RoleManager}
	PaymentRoles     = []auth.Role{auth.RoleReceptionist, auth.RoleManager}
	WorklistRoles    = []auth.Role{auth.RoleTechnician, auth.RoleManager}
	ReadOrderRoles   = []auth.Role{auth.RoleReceptionist, auth.RoleTechnician, auth.RoleManager, auth.RolePhysician}
	RejectRoles      = []auth.Role{auth.RoleTechnician, auth.RoleManager}
	CancelRoles      = []auth.Role{auth.RoleReceptionist, auth.RoleManager}
	EligibilityRoles = []auth.Role{auth.RoleReceptionist, auth.RoleManager}
)

func authorize(ctx context.Context, roles []auth.Role) (auth.Principal, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return auth.Principal{}, forbidden("no authenticated principal")
	}
	if !p.HasRole(roles...) {
		names := make([]string, len(roles))
		for i, r := range roles {
			names[i] = string(r)
		}
		return p, forbidden("role " + string(p.Role) + " may not perform this action; requires one of " + strings.Join(names, ", "))
	}
	return p, nil
}
