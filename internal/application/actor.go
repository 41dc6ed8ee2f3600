// Package application holds the shared pieces of the service layer.
package application

import "github.com/market-engine/market-engine/internal/apperr"

// Role is the caller's position in a trade.
type Role string

const (
	RoleSeller   Role = "seller"
	RoleBuyer    Role = "buyer"
	RoleOperator Role = "operator"
	RoleArbiter  Role = "arbiter"
	RoleSystem   Role = "system"
)

// Actor identifies who is performing an operation. Services authorize
// against the ID; Role widens what an operator or arbiter may touch.
type Actor struct {
	ID   string
	Role Role
}

// Require fails when the actor has no identity.
func (a Actor) Require() error {
	if a.ID == "" {
		return apperr.AuthRequired("actorId is required for market access")
	}
	return nil
}

// Privileged reports whether the actor may act on records it does not
// own.
func (a Actor) Privileged() bool {
	return a.Role == RoleOperator || a.Role == RoleArbiter || a.Role == RoleSystem
}

// System is the actor used by background sweeps.
var System = Actor{ID: "system", Role: RoleSystem}
