package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rl1809/stock-workflow/internal/core/domain"
)

func TestApprove_LowStockRaisesRestockOrder(t *testing.T) {
	env := newTestEnv(t, RestockPolicy{Multiplier: 3})
	env.addItem(t, "stapler", 12, 10, supplier.ID)
	ctx := context.Background()

	req, err := env.requests.Create(ctx, employee, "stapler", 5, "new hire", "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	approved, err := env.requests.Decide(ctx, admin, req.ID, domain.RequestStatusApproved, "ok")
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if approved.Status != domain.RequestStatusApproved || approved.DecidedAt == nil {
		t.Errorf("expected approved request with decision time, got %+v", approved)
	}
	if approved.DecidedBy != admin.ID || approved.AdminResponse != "ok" {
		t.Errorf("unexpected decision fields: %+v", approved)
	}

	if got := env.stock(t, "stapler"); got != 7 {
		t.Errorf("expected stock 7, got %d", got)
	}

	open := env.openOrders(t, "stapler")
	if len(open) != 1 {
		t.Fatalf("expected 1 restock order, got %d", len(open))
	}
	order := open[0]
	if order.Quantity != 23 {
		t.Errorf("expected quantity 23, got %d", order.Quantity)
	}
	if order.Status != domain.OrderStatusPending {
		t.Errorf("expected pending, got %s", order.Status)
	}
	if order.SupplierID != supplier.ID || order.CreatedBy != domain.SystemActor {
		t.Errorf("unexpected order origin: %+v", order)
	}
}

func TestApprove_NoRestockAboveThreshold(t *testing.T) {
	env := newTestEnv(t, RestockPolicy{Multiplier: 3})
	env.addItem(t, "stapler", 20, 10, supplier.ID)
	ctx := context.Background()

	req, _ := env.requests.Create(ctx, employee, "stapler", 5, "", "")
	if _, err := env.requests.Decide(ctx, admin, req.ID, domain.RequestStatusApproved, ""); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if open := env.openOrders(t, "stapler"); len(open) != 0 {
		t.Errorf("expected no restock order, got %d", len(open))
	}
}

func TestApprove_RestockUsesDefaultSupplier(t *testing.T) {
	env := newTestEnv(t, RestockPolicy{Multiplier: 3, DefaultSupplierID: supplier2.ID})
	env.addItem(t, "toner", 3, 10, "")
	ctx := context.Background()

	req, _ := env.requests.Create(ctx, employee, "toner", 1, "", "")
	if _, err := env.requests.Decide(ctx, admin, req.ID, domain.RequestStatusApproved, ""); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	open := env.openOrders(t, "toner")
	if len(open) != 1 || open[0].SupplierID != supplier2.ID || open[0].Quantity != 28 {
		t.Errorf("expected order of 28 from %s, got %+v", supplier2.ID, open)
	}
}

func TestApprove_RestockSkippedWithoutSupplier(t *testing.T) {
	env := newTestEnv(t, RestockPolicy{})
	env.addItem(t, "toner", 3, 10, "")
	ctx := context.Background()

	req, _ := env.requests.Create(ctx, employee, "toner", 1, "", "")
	if _, err := env.requests.Decide(ctx, admin, req.ID, domain.RequestStatusApproved, ""); err != nil {
		t.Fatalf("approval must not fail when restock is skipped: %v", err)
	}
	if got := env.stock(t, "toner"); got != 2 {
		t.Errorf("expected stock 2, got %d", got)
	}
	if open := env.openOrders(t, "toner"); len(open) != 0 {
		t.Errorf("expected no order, got %+v", open)
	}
}

func TestApprove_RestockSkippedWhenOrderOpen(t *testing.T) {
	env := newTestEnv(t, RestockPolicy{Multiplier: 3})
	env.addItem(t, "stapler", 12, 10, supplier.ID)
	ctx := context.Background()

	manual, err := env.orders.Create(ctx, admin, "stapler", supplier.ID, 4, "")
	if err != nil {
		t.Fatalf("manual order failed: %v", err)
	}

	req, _ := env.requests.Create(ctx, employee, "stapler", 5, "", "")
	if _, err := env.requests.Decide(ctx, admin, req.ID, domain.RequestStatusApproved, ""); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	open := env.openOrders(t, "stapler")
	if len(open) != 1 || open[0].ID != manual.ID {
		t.Errorf("expected only the manual order to stay open, got %+v", open)
	}
}

func TestApprove_RestockRacesManualOrder(t *testing.T) {
	env := newTestEnv(t, RestockPolicy{Multiplier: 3})
	ctx := context.Background()

	var manualWins, restockWins atomic.Int32
	for round := 0; round < 100; round++ {
		itemID := fmt.Sprintf("stapler-%d", round)
		env.addItem(t, itemID, 12, 10, supplier.ID)
		req, err := env.requests.Create(ctx, employee, itemID, 5, "", "")
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := env.requests.Decide(ctx, admin, req.ID, domain.RequestStatusApproved, ""); err != nil {
				t.Errorf("approve failed: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			_, err := env.orders.Create(ctx, admin, itemID, supplier.ID, 4, "")
			if err != nil && !errors.Is(err, domain.ErrConflict) {
				t.Errorf("unexpected manual order error: %v", err)
			}
		}()
		wg.Wait()

		if got := env.stock(t, itemID); got != 7 {
			t.Errorf("round %d: expected stock 7, got %d", round, got)
		}
		open := env.openOrders(t, itemID)
		if len(open) != 1 {
			t.Fatalf("round %d: expected exactly 1 open order, got %+v", round, open)
		}
		if open[0].CreatedBy == domain.SystemActor {
			restockWins.Add(1)
		} else {
			manualWins.Add(1)
		}
	}
	t.Logf("manual=%d restock=%d", manualWins.Load(), restockWins.Load())
}

func TestApprove_InsufficientStockLeavesPending(t *testing.T) {
	env := newTestEnv(t, RestockPolicy{Multiplier: 3})
	env.addItem(t, "chair", 3, 1, supplier.ID)
	ctx := context.Background()

	req, _ := env.requests.Create(ctx, employee, "chair", 5, "", "")
	_, err := env.requests.Decide(ctx, admin, req.ID, domain.RequestStatusApproved, "")
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	stored, _ := env.store.GetRequest(ctx, req.ID)
	if stored.Status != domain.RequestStatusPending || stored.DecidedAt != nil {
		t.Errorf("expected request to stay pending, got %+v", stored)
	}
	if got := env.stock(t, "chair"); got != 3 {
		t.Errorf("expected stock 3, got %d", got)
	}
	if open := env.openOrders(t, "chair"); len(open) != 0 {
		t.Errorf("failed approval must not raise orders, got %+v", open)
	}

	// the admin can still reject it
	rejected, err := env.requests.Decide(ctx, admin, req.ID, domain.RequestStatusRejected, "out of stock")
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if rejected.Status != domain.RequestStatusRejected {
		t.Errorf("expected rejected, got %s", rejected.Status)
	}
}

func TestDecide_TerminalStatesAreFinal(t *testing.T) {
	env := newTestEnv(t, RestockPolicy{})
	env.addItem(t, "desk", 50, 10, "")
	ctx := context.Background()

	req, _ := env.requests.Create(ctx, employee, "desk", 2, "", "")
	if _, err := env.requests.Decide(ctx, admin, req.ID, domain.RequestStatusApproved, ""); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	_, err := env.requests.Decide(ctx, admin, req.ID, domain.RequestStatusApproved, "")
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on second approval, got %v", err)
	}
	_, err = env.requests.Decide(ctx, admin, req.ID, domain.RequestStatusRejected, "")
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on reject after approve, got %v", err)
	}
	if got := env.stock(t, "desk"); got != 48 {
		t.Errorf("expected a single decrement to 48, got %d", got)
	}
}

func TestDecide_RejectKeepsStock(t *testing.T) {
	env := newTestEnv(t, RestockPolicy{})
	env.addItem(t, "desk", 5, 10, "")
	ctx := context.Background()

	req, _ := env.requests.Create(ctx, employee, "desk", 2, "", "")
	rejected, err := env.requests.Decide(ctx, admin, req.ID, domain.RequestStatusRejected, "no budget")
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if rejected.AdminResponse != "no budget" {
		t.Errorf("expected response to be stored, got %q", rejected.AdminResponse)
	}
	if got := env.stock(t, "desk"); got != 5 {
		t.Errorf("expected stock 5, got %d", got)
	}
}

func TestDecide_Validation(t *testing.T) {
	env := newTestEnv(t, RestockPolicy{})
	env.addItem(t, "desk", 5, 10, "")
	ctx := context.Background()
	req, _ := env.requests.Create(ctx, employee, "desk", 1, "", "")

	tests := []struct {
		name    string
		caller  domain.Account
		id      string
		outcome domain.RequestStatus
		wantErr error
	}{
		{"employee cannot decide", employee, req.ID, domain.RequestStatusApproved, domain.ErrForbidden},
		{"supplier cannot decide", supplier, req.ID, domain.RequestStatusApproved, domain.ErrForbidden},
		{"pending is not an outcome", admin, req.ID, domain.RequestStatusPending, domain.ErrInvalidInput},
		{"garbage outcome", admin, req.ID, "maybe", domain.ErrInvalidInput},
		{"unknown request", admin, "missing", domain.RequestStatusApproved, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.requests.Decide(ctx, tt.caller, tt.id, tt.outcome, "")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	stored, _ := env.store.GetRequest(ctx, req.ID)
	if stored.Status != domain.RequestStatusPending {
		t.Errorf("failed decisions must not change the request, got %s", stored.Status)
	}
}

func TestDecide_ConcurrentApprovals(t *testing.T) {
	env := newTestEnv(t, RestockPolicy{})
	env.addItem(t, "laptop", 10, 0, "")
	ctx := context.Background()

	first, _ := env.requests.Create(ctx, employee, "laptop", 8, "", "")
	second, _ := env.requests.Create(ctx, employee2, "laptop", 8, "", "")

	var successCount, shortCount atomic.Int32
	var wg sync.WaitGroup
	for _, id := range []string{first.ID, second.ID} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := env.requests.Decide(ctx, admin, id, domain.RequestStatusApproved, "")
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				shortCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	if successCount.Load() != 1 || shortCount.Load() != 1 {
		t.Fatalf("expected 1 success and 1 insufficient stock, got %d and %d", successCount.Load(), shortCount.Load())
	}
	if got := env.stock(t, "laptop"); got != 2 {
		t.Errorf("expected stock 2, got %d", got)
	}

	pending := 0
	for _, id := range []string{first.ID, second.ID} {
		r, _ := env.store.GetRequest(ctx, id)
		if r.Status == domain.RequestStatusPending {
			pending++
		}
	}
	if pending != 1 {
		t.Errorf("expected exactly one request to stay pending, got %d", pending)
	}
}

func TestDecide_ConcurrentSameRequest(t *testing.T) {
	env := newTestEnv(t, RestockPolicy{})
	env.addItem(t, "pen", 100, 0, "")
	ctx := context.Background()
	req, _ := env.requests.Create(ctx, employee, "pen", 3, "", "")

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.requests.Decide(ctx, admin, req.ID, domain.RequestStatusApproved, ""); err == nil {
				successCount.Add(1)
			} else if !errors.Is(err, domain.ErrInvalidState) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 approval, got %d", successCount.Load())
	}
	if got := env.stock(t, "pen"); got != 97 {
		t.Errorf("expected stock 97, got %d", got)
	}
}

func TestCreateRequest_Validation(t *testing.T) {
	env := newTestEnv(t, RestockPolicy{})
	env.addItem(t, "desk", 0, 10, "")
	ctx := context.Background()

	tests := []struct {
		name     string
		caller   domain.Account
		itemID   string
		quantity int
		wantErr  error
	}{
		{"zero quantity", employee, "desk", 0, domain.ErrInvalidInput},
		{"negative quantity", employee, "desk", -2, domain.ErrInvalidInput},
		{"unknown item", employee, "ghost", 1, domain.ErrNotFound},
		{"admin cannot request", admin, "desk", 1, domain.ErrForbidden},
		{"anonymous caller", domain.Account{}, "desk", 1, domain.ErrUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.requests.Create(ctx, tt.caller, tt.itemID, tt.quantity, "", "")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	// stock is not checked at creation time
	if _, err := env.requests.Create(ctx, employee, "desk", 5, "", ""); err != nil {
		t.Errorf("expected request for out-of-stock item to be accepted, got %v", err)
	}
}

func TestCreateRequest_IdempotencyKey(t *testing.T) {
	env := newTestEnv(t, RestockPolicy{})
	env.addItem(t, "desk", 5, 10, "")
	ctx := context.Background()

	first, err := env.requests.Create(ctx, employee, "desk", 1, "", "retry-1")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	second, err := env.requests.Create(ctx, employee, "desk", 1, "", "retry-1")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected retry to return %s, got %s", first.ID, second.ID)
	}
	if _, err := env.requests.Create(ctx, employee, "desk", 1, "", "retry-1"); err != nil {
		t.Fatalf("second retry failed: %v", err)
	}
	if got := env.queuedActions()[AuditRequestCreated]; got != 1 {
		t.Errorf("expected one %s entry across retries, got %d", AuditRequestCreated, got)
	}

	// keys are scoped per caller
	other, err := env.requests.Create(ctx, employee2, "desk", 1, "", "retry-1")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if other.ID == first.ID {
		t.Error("expected a different caller to get a new request")
	}

	all, _ := env.requests.ListAll(ctx, admin)
	if len(all) != 2 {
		t.Errorf("expected 2 requests, got %d", len(all))
	}
}

func TestCreateRequest_InvalidAttemptKeepsKeyFree(t *testing.T) {
	env := newTestEnv(t, RestockPolicy{})
	env.addItem(t, "desk", 5, 10, "")
	ctx := context.Background()

	if _, err := env.requests.Create(ctx, employee, "desk", 0, "", "k"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := env.requests.Create(ctx, employee, "desk", 1, "", "k"); err != nil {
		t.Errorf("expected key to be usable after a failed attempt, got %v", err)
	}
}

func TestListRequests_ByRole(t *testing.T) {
	env := newTestEnv(t, RestockPolicy{})
	env.addItem(t, "desk", 5, 10, "")
	ctx := context.Background()

	older, _ := env.requests.Create(ctx, employee, "desk", 1, "", "")
	newer, _ := env.requests.Create(ctx, employee, "desk", 2, "", "")
	env.requests.Create(ctx, employee2, "desk", 3, "", "")

	own, err := env.requests.List(ctx, employee)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(own) != 2 || own[0].ID != newer.ID || own[1].ID != older.ID {
		t.Errorf("expected own requests newest first, got %+v", own)
	}

	all, err := env.requests.List(ctx, admin)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 requests, got %d", len(all))
	}

	if _, err := env.requests.List(ctx, supplier); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden for supplier, got %v", err)
	}
	if _, err := env.requests.ListAll(ctx, employee); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden for employee listing all, got %v", err)
	}
}
