package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/stock-workflow/internal/adapter/authz"
	"github.com/rl1809/stock-workflow/internal/adapter/storage"
	"github.com/rl1809/stock-workflow/internal/core/domain"
	"github.com/rl1809/stock-workflow/internal/core/service"
	"github.com/rl1809/stock-workflow/internal/port"
)

const (
	itemID        = "stress-item"
	initialStock  = 20
	threshold     = 5
	totalRequests = 50
	queueSize     = 1000
)

func main() {
	ctx := context.Background()
	logger := zap.NewNop()

	store := storage.NewMemoryAdapter()
	admin := domain.Account{ID: "admin", Role: domain.RoleAdmin, DisplayName: "admin"}
	store.PutAccount(admin)
	store.PutAccount(domain.Account{ID: "supplier", Role: domain.RoleSupplier, DisplayName: "supplier"})

	at := time.Now().UTC()
	if err := store.CreateItem(ctx, domain.Item{
		ID:                itemID,
		Name:              "Stress item",
		Stock:             initialStock,
		LowStockThreshold: threshold,
		SupplierID:        "supplier",
		CreatedAt:         at,
		UpdatedAt:         at,
	}); err != nil {
		log.Fatalf("failed to create item: %v", err)
	}

	gate, err := authz.NewGate(authz.DefaultPolicy, logger)
	if err != nil {
		log.Fatalf("failed to build gate: %v", err)
	}
	coord := service.NewCoordinator(store, gate, service.RestockPolicy{}, logger)
	audit := service.NewAuditLog(store, coord, queueSize, logger)
	defer audit.Close()
	go audit.Drain(0, time.Second)

	idem := storage.NewMemoryIdempotency(time.Minute)
	requests := service.NewRequestService(store, coord, idem, audit, coord, logger)

	// File one pending request per employee
	ids := make([]string, 0, totalRequests)
	for i := 0; i < totalRequests; i++ {
		emp := domain.Account{ID: fmt.Sprintf("emp-%d", i), Role: domain.RoleEmployee, DisplayName: "employee"}
		store.PutAccount(emp)
		req, err := requests.Create(ctx, emp, itemID, 1, "stress", "")
		if err != nil {
			log.Fatalf("failed to create request: %v", err)
		}
		ids = append(ids, req.ID)
	}

	// Counters
	var successCount atomic.Int32
	var insufficientCount atomic.Int32
	var otherCount atomic.Int32

	// Approve every request concurrently
	var wg sync.WaitGroup
	start := time.Now()

	for _, id := range ids {
		wg.Add(1)
		go func(requestID string) {
			defer wg.Done()

			_, err := requests.Decide(ctx, admin, requestID, domain.RequestStatusApproved, "")
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				insufficientCount.Add(1)
			default:
				otherCount.Add(1)
			}
		}(id)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	insufficient := insufficientCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Approvals:  %d\n", totalRequests)
	fmt.Printf("Approved:         %d\n", success)
	fmt.Printf("Out of stock:     %d\n", insufficient)
	fmt.Printf("Other errors:     %d\n", otherCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == initialStock && insufficient == totalRequests-initialStock {
		fmt.Printf("PASS: Exactly %d approvals succeeded, %d rejected by the stock check\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d/%d, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, insufficient)
	}

	item, err := store.GetItem(ctx, itemID)
	if err != nil {
		log.Fatalf("failed to read item: %v", err)
	}
	fmt.Printf("Final Stock: %d\n", item.Stock)
	if item.Stock == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", item.Stock)
	}

	orders, err := store.ListOrders(ctx, port.OrderFilter{})
	if err != nil {
		log.Fatalf("failed to list orders: %v", err)
	}
	if len(orders) == 1 {
		fmt.Printf("PASS: One restock order for %d units\n", orders[0].Quantity)
	} else {
		fmt.Printf("FAIL: Expected 1 restock order, got %d\n", len(orders))
	}
}
