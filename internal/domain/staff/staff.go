// Package staff defines the verified actor the lifecycle trusts. Credential
// verification and JWT handling belong to the identity collaborator; by the
// time an Actor reaches the core it is already authenticated.
package staff

type Role string

const (
	RoleWaiter  Role = "waiter"
	RoleChef    Role = "chef"
	RoleCashier Role = "cashier"
	RoleAdmin   Role = "admin"
	RoleSystem  Role = "system"
)

// Scope is a named permission token checked by the state machine.
type Scope string

const (
	ScopeWaiter   Scope = "waiter"
	ScopeChef     Scope = "chef"
	ScopeCashier  Scope = "cashier"
	ScopeAdmin    Scope = "admin"
	ScopeSystem   Scope = "system"
	ScopeCustomer Scope = "customer"
)

// Actor is an authenticated employee (or the system itself) performing a
// lifecycle operation.
type Actor struct {
	ID     string
	Name   string
	Role   Role
	Scopes []Scope
	Active bool
}

func (a Actor) HasScope(s Scope) bool {
	for _, have := range a.Scopes {
		if have == s {
			return true
		}
	}
	return false
}

// HasAnyScope reports whether the actor holds at least one of the given scopes.
func (a Actor) HasAnyScope(scopes ...Scope) bool {
	for _, s := range scopes {
		if a.HasScope(s) {
			return true
		}
	}
	return false
}

// System is the internal actor used for automatic transitions such as the
// quick-serve advance and session timeout closure.
func System() Actor {
	return Actor{
		ID:     "system",
		Name:   "system",
		Role:   RoleSystem,
		Scopes: []Scope{ScopeSystem},
		Active: true,
	}
}

// Customer is the actor form of an authenticated customer session token.
func Customer(id, name string) Actor {
	return Actor{
		ID:     id,
		Name:   name,
		Scopes: []Scope{ScopeCustomer},
		Active: true,
	}
}

// DefaultScopes returns the scopes a role carries when no explicit allow list
// is configured for the employee.
func DefaultScopes(r Role) []Scope {
	switch r {
	case RoleWaiter:
		return []Scope{ScopeWaiter}
	case RoleChef:
		return []Scope{ScopeChef}
	case RoleCashier:
		return []Scope{ScopeCashier}
	case RoleAdmin:
		return []Scope{ScopeAdmin, ScopeWaiter, ScopeChef, ScopeCashier}
	case RoleSystem:
		return []Scope{ScopeSystem}
	}
	return nil
}
