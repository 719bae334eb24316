package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/stock-workflow/internal/adapter/authz"
	"github.com/rl1809/stock-workflow/internal/adapter/storage"
	"github.com/rl1809/stock-workflow/internal/core/domain"
	"github.com/rl1809/stock-workflow/internal/core/service"
)

const (
	employeeID = "emp-1"
	adminID    = "admin-1"
	supplierID = "sup-1"
)

func newServices(t *testing.T) (Services, *storage.MemoryAdapter) {
	t.Helper()
	logger := zap.NewNop()

	store := storage.NewMemoryAdapter()
	store.PutAccount(domain.Account{ID: employeeID, Role: domain.RoleEmployee, DisplayName: "Ana"})
	store.PutAccount(domain.Account{ID: adminID, Role: domain.RoleAdmin, DisplayName: "Chris"})
	store.PutAccount(domain.Account{ID: supplierID, Role: domain.RoleSupplier, DisplayName: "Acme"})

	at := time.Now().UTC()
	require.NoError(t, store.CreateItem(context.Background(), domain.Item{
		ID:                "widget",
		Name:              "Widget",
		Stock:             12,
		LowStockThreshold: 10,
		SupplierID:        supplierID,
		CreatedAt:         at,
		UpdatedAt:         at,
	}))

	gate, err := authz.NewGate(authz.DefaultPolicy, logger)
	require.NoError(t, err)
	idem := storage.NewMemoryIdempotency(time.Minute)
	coord := service.NewCoordinator(store, gate, service.RestockPolicy{}, logger)
	audit := service.NewAuditLog(store, coord, 100, logger)

	return Services{
		Accounts:  service.NewAccountService(store, coord),
		Inventory: service.NewInventoryService(store, coord, audit, service.InventoryConfig{}, logger),
		Requests:  service.NewRequestService(store, coord, idem, audit, coord, logger),
		Orders:    service.NewOrderService(store, coord, idem, audit, logger),
		Audit:     audit,
	}, store
}
