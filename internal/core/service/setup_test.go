package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/stock-workflow/internal/adapter/authz"
	"github.com/rl1809/stock-workflow/internal/adapter/storage"
	"github.com/rl1809/stock-workflow/internal/core/domain"
	"github.com/rl1809/stock-workflow/internal/port"
)

var (
	employee  = domain.Account{ID: "emp-1", Role: domain.RoleEmployee, DisplayName: "Ana"}
	employee2 = domain.Account{ID: "emp-2", Role: domain.RoleEmployee, DisplayName: "Ben"}
	admin     = domain.Account{ID: "admin-1", Role: domain.RoleAdmin, DisplayName: "Chris"}
	supplier  = domain.Account{ID: "sup-1", Role: domain.RoleSupplier, DisplayName: "Acme"}
	supplier2 = domain.Account{ID: "sup-2", Role: domain.RoleSupplier, DisplayName: "Globex"}
)

type testEnv struct {
	store     *storage.MemoryAdapter
	audit     *AuditLog
	coord     *Coordinator
	accounts  *AccountService
	inventory *InventoryService
	requests  *RequestService
	orders    *OrderService
}

func newTestEnv(t *testing.T, policy RestockPolicy) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	store := storage.NewMemoryAdapter()
	for _, acc := range []domain.Account{employee, employee2, admin, supplier, supplier2} {
		store.PutAccount(acc)
	}

	gate, err := authz.NewGate(authz.DefaultPolicy, logger)
	if err != nil {
		t.Fatalf("failed to build gate: %v", err)
	}
	idem := storage.NewMemoryIdempotency(time.Minute)
	coord := NewCoordinator(store, gate, policy, logger)
	audit := NewAuditLog(store, coord, 1000, logger)

	return &testEnv{
		store:     store,
		audit:     audit,
		coord:     coord,
		accounts:  NewAccountService(store, coord),
		inventory: NewInventoryService(store, coord, audit, InventoryConfig{PageSize: 2, MaxPageSize: 3}, logger),
		requests:  NewRequestService(store, coord, idem, audit, coord, logger),
		orders:    NewOrderService(store, coord, idem, audit, logger),
	}
}

func (e *testEnv) addItem(t *testing.T, id string, stock, threshold int, supplierID string) {
	t.Helper()
	at := time.Now().UTC()
	err := e.store.CreateItem(context.Background(), domain.Item{
		ID:                id,
		Name:              "item " + id,
		Stock:             stock,
		LowStockThreshold: threshold,
		SupplierID:        supplierID,
		CreatedAt:         at,
		UpdatedAt:         at,
	})
	if err != nil {
		t.Fatalf("failed to add item: %v", err)
	}
}

func (e *testEnv) stock(t *testing.T, id string) int {
	t.Helper()
	item, err := e.store.GetItem(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to get item: %v", err)
	}
	return item.Stock
}

func (e *testEnv) openOrders(t *testing.T, itemID string) []domain.SupplierOrder {
	t.Helper()
	orders, err := e.store.ListOrders(context.Background(), port.OrderFilter{})
	if err != nil {
		t.Fatalf("failed to list orders: %v", err)
	}
	var open []domain.SupplierOrder
	for _, o := range orders {
		if o.ItemID == itemID && o.Status.Open() {
			open = append(open, o)
		}
	}
	return open
}

// queuedActions drains whatever the audit log has queued so far and counts it
// by action.
func (e *testEnv) queuedActions() map[string]int {
	actions := map[string]int{}
	for {
		select {
		case entry := <-e.audit.Queue():
			actions[entry.Action]++
		default:
			return actions
		}
	}
}
