package port

import (
	"context"

	"github.com/rl1809/stock-workflow/internal/core/domain"
)

type ItemCursor struct {
	Name string
	ID   string
}

type ItemQuery struct {
	// Search is matched case-insensitively against item names.
	Search string
	// After resumes a keyset scan strictly after this (name, id) position.
	After  *ItemCursor
	Offset int
	Limit  int
}

type RequestFilter struct {
	EmployeeID string // empty means all employees
}

type OrderFilter struct {
	SupplierID string // empty means all suppliers
}

// Tx is the view of the store inside a per-item transaction. Writes become
// visible to other callers only when the enclosing WithinItem returns nil.
type Tx interface {
	Item(ctx context.Context, id string) (domain.Item, error)

	// AdjustStock adds delta to the item's stock and returns the new value.
	// A result below zero fails with domain.ErrInsufficientStock and changes nothing.
	AdjustStock(ctx context.Context, itemID string, delta int) (int, error)

	Request(ctx context.Context, id string) (domain.Request, error)
	UpdateRequest(ctx context.Context, req domain.Request, from domain.RequestStatus) error

	Order(ctx context.Context, id string) (domain.SupplierOrder, error)
	// OpenOrderForItem returns the pending or shipped order for the item, if any.
	OpenOrderForItem(ctx context.Context, itemID string) (*domain.SupplierOrder, error)
	InsertOrder(ctx context.Context, order domain.SupplierOrder) error
	UpdateOrder(ctx context.Context, order domain.SupplierOrder, from domain.OrderStatus) error
}

type Store interface {
	// WithinItem runs fn in a transaction that is mutually exclusive with every
	// other WithinItem call for the same item. Unknown items fail with domain.ErrNotFound.
	WithinItem(ctx context.Context, itemID string, fn func(ctx context.Context, tx Tx) error) error

	GetItem(ctx context.Context, id string) (domain.Item, error)
	// ListItems returns one window of items ordered by (name, id) and the total match count.
	ListItems(ctx context.Context, q ItemQuery) ([]domain.Item, int, error)
	CreateItem(ctx context.Context, item domain.Item) error

	GetRequest(ctx context.Context, id string) (domain.Request, error)
	InsertRequest(ctx context.Context, req domain.Request) error
	// ListRequests returns requests most recent first.
	ListRequests(ctx context.Context, f RequestFilter) ([]domain.Request, error)

	GetOrder(ctx context.Context, id string) (domain.SupplierOrder, error)
	// ListOrders returns orders most recent first.
	ListOrders(ctx context.Context, f OrderFilter) ([]domain.SupplierOrder, error)

	GetAccount(ctx context.Context, id string) (domain.Account, error)
	ListAccounts(ctx context.Context, role domain.Role) ([]domain.Account, error)

	AppendAudit(ctx context.Context, entries ...domain.AuditEntry) error
	// ListAudit returns at most limit entries, most recent first.
	ListAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error)
}
