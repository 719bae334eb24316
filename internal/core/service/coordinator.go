package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/rl1809/stock-workflow/internal/core/domain"
	"github.com/rl1809/stock-workflow/internal/port"
)

const DefaultRestockMultiplier = 3

// RestockPolicy controls the supplier orders raised when an approval leaves
// an item low on stock.
type RestockPolicy struct {
	// Multiplier sets the restock target to threshold*Multiplier units.
	Multiplier int
	// DefaultSupplierID is used for items without a preferred supplier.
	DefaultSupplierID string
}

// Coordinator is the single authorization gate for every lifecycle service
// and reacts to approvals by raising restock orders.
type Coordinator struct {
	store  port.Store
	gate   port.Authorizer
	policy RestockPolicy
	logger *zap.Logger
}

var (
	_ port.Authorizer       = (*Coordinator)(nil)
	_ port.ApprovalObserver = (*Coordinator)(nil)
)

func NewCoordinator(store port.Store, gate port.Authorizer, policy RestockPolicy, logger *zap.Logger) *Coordinator {
	if policy.Multiplier <= 0 {
		policy.Multiplier = DefaultRestockMultiplier
	}
	return &Coordinator{
		store:  store,
		gate:   gate,
		policy: policy,
		logger: logger.Named("coordinator"),
	}
}

func (c *Coordinator) Authorize(ctx context.Context, account domain.Account, action domain.Action) error {
	return c.gate.Authorize(ctx, account, action)
}

// OnRequestApproved runs inside the approving transaction. When the item is
// at or below its threshold and has no open order, it raises one for enough
// units to reach threshold*Multiplier.
func (c *Coordinator) OnRequestApproved(ctx context.Context, tx port.Tx, itemID string) (*domain.SupplierOrder, error) {
	item, err := tx.Item(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !item.IsLowStock() {
		return nil, nil
	}
	quantity := item.RestockQuantity(c.policy.Multiplier)
	if quantity <= 0 {
		return nil, nil
	}

	open, err := tx.OpenOrderForItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		c.logger.Debug("restock skipped, order already open",
			zap.String("item_id", itemID),
			zap.String("order_id", open.ID),
		)
		return nil, nil
	}

	supplierID, ok := c.restockSupplier(ctx, item)
	if !ok {
		return nil, nil
	}

	order, err := insertOrder(ctx, tx, itemID, supplierID, quantity, domain.SystemActor)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Coordinator) restockSupplier(ctx context.Context, item domain.Item) (string, bool) {
	supplierID := item.SupplierID
	if supplierID == "" {
		supplierID = c.policy.DefaultSupplierID
	}
	if supplierID == "" {
		c.logger.Warn("item is low on stock but has no supplier to restock from",
			zap.String("item_id", item.ID),
			zap.Int("stock", item.Stock),
		)
		return "", false
	}

	acc, err := c.store.GetAccount(ctx, supplierID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.logger.Warn("restock supplier does not exist", zap.String("item_id", item.ID), zap.String("supplier_id", supplierID))
		return "", false
	case err != nil:
		c.logger.Warn("failed to look up restock supplier", zap.String("supplier_id", supplierID), zap.Error(err))
		return "", false
	case acc.Role != domain.RoleSupplier:
		c.logger.Warn("restock account is not a supplier", zap.String("item_id", item.ID), zap.String("supplier_id", supplierID))
		return "", false
	}
	return supplierID, true
}
