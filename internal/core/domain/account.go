package domain

type Role string

const (
	RoleEmployee Role = "employee"
	RoleAdmin    Role = "admin"
	RoleSupplier Role = "supplier"
)

func (r Role) Valid() bool {
	switch r {
	case RoleEmployee, RoleAdmin, RoleSupplier:
		return true
	}
	return false
}

type Account struct {
	ID          string
	Role        Role
	DisplayName string
}

// SystemActor is recorded as the creator of orders raised by automatic restock.
const SystemActor = "system"

type Action string

const (
	ActionListItems       Action = "item:list"
	ActionUploadStock     Action = "item:upload"
	ActionCreateRequest   Action = "request:create"
	ActionReadOwnRequests Action = "request:read_own"
	ActionReadAllRequests Action = "request:read_all"
	ActionDecideRequest   Action = "request:decide"
	ActionCreateOrder     Action = "order:create"
	ActionReadOwnOrders   Action = "order:read_own"
	ActionReadAllOrders   Action = "order:read_all"
	ActionAdvanceOrder    Action = "order:advance"
	ActionListAccounts    Action = "account:list"
	ActionReadAuditLog    Action = "audit:read"
)
