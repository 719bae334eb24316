package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/stock-workflow/internal/core/domain"
	"github.com/rl1809/stock-workflow/internal/port"
)

type OrderService struct {
	store  port.Store
	authz  port.Authorizer
	idem   port.IdempotencyStore
	audit  port.AuditRecorder
	logger *zap.Logger
}

func NewOrderService(store port.Store, authz port.Authorizer, idem port.IdempotencyStore, audit port.AuditRecorder, logger *zap.Logger) *OrderService {
	return &OrderService{
		store:  store,
		authz:  authz,
		idem:   idem,
		audit:  audit,
		logger: logger.Named("orders"),
	}
}

// Create raises a pending supplier order. An item can have at most one open
// order; a second one fails with ErrConflict.
func (s *OrderService) Create(ctx context.Context, caller domain.Account, itemID, supplierID string, quantity int, idemKey string) (order domain.SupplierOrder, err error) {
	ctx, span := startSpan(ctx, "OrderService.Create", attribute.String("item_id", itemID))
	defer finish(span, "create_order", &err)

	if err := s.authz.Authorize(ctx, caller, domain.ActionCreateOrder); err != nil {
		return domain.SupplierOrder{}, err
	}
	if quantity <= 0 {
		return domain.SupplierOrder{}, fmt.Errorf("%w: quantity must be positive, got %d", domain.ErrInvalidInput, quantity)
	}
	if err := s.checkSupplier(ctx, supplierID); err != nil {
		return domain.SupplierOrder{}, err
	}

	key := idempotencyKey("order", caller, idemKey)
	order, replayed, err := once(ctx, s.idem, s.logger, key, s.store.GetOrder, func(ctx context.Context) (domain.SupplierOrder, string, error) {
		var created domain.SupplierOrder
		err := s.store.WithinItem(ctx, itemID, func(ctx context.Context, tx port.Tx) error {
			var err error
			created, err = insertOrder(ctx, tx, itemID, supplierID, quantity, caller.ID)
			return err
		})
		return created, created.ID, err
	})
	if err != nil {
		return domain.SupplierOrder{}, err
	}
	if replayed {
		return order, nil
	}

	s.recordCreated(ctx, order, AuditOrderCreated)
	return order, nil
}

func (s *OrderService) checkSupplier(ctx context.Context, supplierID string) error {
	if supplierID == "" {
		return fmt.Errorf("%w: supplier_id is required", domain.ErrInvalidInput)
	}
	acc, err := s.store.GetAccount(ctx, supplierID)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: unknown supplier %s", domain.ErrInvalidInput, supplierID)
	}
	if err != nil {
		return err
	}
	if acc.Role != domain.RoleSupplier {
		return fmt.Errorf("%w: account %s is not a supplier", domain.ErrInvalidInput, supplierID)
	}
	return nil
}

// insertOrder creates a pending order inside tx, which must hold the item's lock.
func insertOrder(ctx context.Context, tx port.Tx, itemID, supplierID string, quantity int, createdBy string) (domain.SupplierOrder, error) {
	open, err := tx.OpenOrderForItem(ctx, itemID)
	if err != nil {
		return domain.SupplierOrder{}, err
	}
	if open != nil {
		return domain.SupplierOrder{}, fmt.Errorf("%w: item %s already has open order %s", domain.ErrConflict, itemID, open.ID)
	}

	id, err := newID()
	if err != nil {
		return domain.SupplierOrder{}, err
	}
	at := now()
	order := domain.SupplierOrder{
		ID:         id,
		ItemID:     itemID,
		SupplierID: supplierID,
		Quantity:   quantity,
		Status:     domain.OrderStatusPending,
		CreatedBy:  createdBy,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
	if err := tx.InsertOrder(ctx, order); err != nil {
		return domain.SupplierOrder{}, err
	}
	return order, nil
}

func (s *OrderService) recordCreated(ctx context.Context, order domain.SupplierOrder, action string) {
	recordTransition("order", string(order.Status))
	s.audit.Record(ctx, domain.AuditEntry{
		ActorID:   order.CreatedBy,
		Action:    action,
		SubjectID: order.ID,
		Details:   fmt.Sprintf("item=%s supplier=%s quantity=%d", order.ItemID, order.SupplierID, order.Quantity),
	})
	s.logger.Info("supplier order created",
		zap.String("order_id", order.ID),
		zap.String("item_id", order.ItemID),
		zap.String("supplier_id", order.SupplierID),
		zap.Int("quantity", order.Quantity),
		zap.String("created_by", order.CreatedBy),
	)
}

// Advance moves an order to target, which must be its immediate successor.
// Delivery credits the order quantity to stock in the same transaction, so a
// retried delivery fails with ErrInvalidState instead of crediting twice.
func (s *OrderService) Advance(ctx context.Context, caller domain.Account, orderID string, target domain.OrderStatus) (order domain.SupplierOrder, err error) {
	ctx, span := startSpan(ctx, "OrderService.Advance",
		attribute.String("order_id", orderID),
		attribute.String("target", string(target)),
	)
	defer finish(span, "advance_order", &err)

	if err := s.authz.Authorize(ctx, caller, domain.ActionAdvanceOrder); err != nil {
		return domain.SupplierOrder{}, err
	}
	if !target.Valid() {
		return domain.SupplierOrder{}, fmt.Errorf("%w: unknown order status %q", domain.ErrInvalidInput, target)
	}

	existing, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return domain.SupplierOrder{}, err
	}
	if existing.SupplierID != caller.ID {
		return domain.SupplierOrder{}, fmt.Errorf("%w: order %s is not assigned to %s", domain.ErrForbidden, orderID, caller.ID)
	}

	var stock int
	err = s.store.WithinItem(ctx, existing.ItemID, func(ctx context.Context, tx port.Tx) error {
		current, err := tx.Order(ctx, orderID)
		if err != nil {
			return err
		}
		next, err := current.Advance(target, now())
		if err != nil {
			return err
		}
		if next.Status == domain.OrderStatusDelivered {
			if stock, err = tx.AdjustStock(ctx, next.ItemID, next.Quantity); err != nil {
				return err
			}
		}
		if err := tx.UpdateOrder(ctx, next, current.Status); err != nil {
			return err
		}
		order = next
		return nil
	})
	if err != nil {
		return domain.SupplierOrder{}, err
	}

	recordTransition("order", string(order.Status))
	s.audit.Record(ctx, domain.AuditEntry{
		ActorID:   caller.ID,
		Action:    AuditOrderAdvanced,
		SubjectID: order.ID,
		Details:   "status=" + string(order.Status),
	})
	fields := []zap.Field{
		zap.String("order_id", order.ID),
		zap.String("item_id", order.ItemID),
		zap.String("status", string(order.Status)),
	}
	if order.Status == domain.OrderStatusDelivered {
		fields = append(fields, zap.Int("stock", stock))
	}
	s.logger.Info("supplier order advanced", fields...)
	return order, nil
}

func (s *OrderService) ListForSupplier(ctx context.Context, caller domain.Account) ([]domain.SupplierOrder, error) {
	if err := s.authz.Authorize(ctx, caller, domain.ActionReadOwnOrders); err != nil {
		return nil, err
	}
	return s.store.ListOrders(ctx, port.OrderFilter{SupplierID: caller.ID})
}

func (s *OrderService) ListAll(ctx context.Context, caller domain.Account) ([]domain.SupplierOrder, error) {
	if err := s.authz.Authorize(ctx, caller, domain.ActionReadAllOrders); err != nil {
		return nil, err
	}
	return s.store.ListOrders(ctx, port.OrderFilter{})
}

// List returns the orders visible to caller: their own for suppliers, all of
// them for admins.
func (s *OrderService) List(ctx context.Context, caller domain.Account) ([]domain.SupplierOrder, error) {
	if caller.Role == domain.RoleSupplier {
		return s.ListForSupplier(ctx, caller)
	}
	return s.ListAll(ctx, caller)
}
