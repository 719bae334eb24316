package port

import (
	"context"

	"github.com/rl1809/stock-workflow/internal/core/domain"
)

type Authorizer interface {
	// Authorize fails with domain.ErrForbidden when the account's role may not perform action.
	Authorize(ctx context.Context, account domain.Account, action domain.Action) error
}

type AuditRecorder interface {
	Record(ctx context.Context, entry domain.AuditEntry)
}

// ApprovalObserver runs inside the transaction that approved a request. A
// non-nil order is the supplier order it raised in that transaction.
type ApprovalObserver interface {
	OnRequestApproved(ctx context.Context, tx Tx, itemID string) (*domain.SupplierOrder, error)
}
