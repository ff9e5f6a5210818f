// README: Caller roles carried from authentication into the ride core.
package types

type Role string

const (
	RoleCustomer Role = "customer"
	RoleDriver   Role = "driver"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleDriver, RoleAdmin:
		return true
	}
	return false
}

// Actor identifies who is performing an operation.
type Actor struct {
	UserID ID
	Role   Role
}
