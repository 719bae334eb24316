package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rl1809/stock-workflow/internal/core/domain"
)

func TestDecrementStock_Concurrent(t *testing.T) {
	env := newTestEnv(t, RestockPolicy{})
	initialStock := 20
	totalRequests := 50
	env.addItem(t, "concurrent-test", initialStock, 0, "")

	var successCount atomic.Int32
	var failCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.inventory.DecrementStock(context.Background(), "concurrent-test", 1)
			if err == nil {
				successCount.Add(1)
			} else if errors.Is(err, domain.ErrInsufficientStock) {
				failCount.Add(1)
			} else {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d successes, got %d", initialStock, successCount.Load())
	}
	if failCount.Load() != int32(totalRequests-initialStock) {
		t.Errorf("expected %d failures, got %d", totalRequests-initialStock, failCount.Load())
	}
	if got := env.stock(t, "concurrent-test"); got != 0 {
		t.Errorf("expected stock 0, got %d", got)
	}
}

func TestDecrementStock_InsufficientLeavesStock(t *testing.T) {
	env := newTestEnv(t, RestockPolicy{})
	env.addItem(t, "chair", 3, 0, "")
	ctx := context.Background()

	if _, err := env.inventory.DecrementStock(ctx, "chair", 4); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if got := env.stock(t, "chair"); got != 3 {
		t.Errorf("expected stock 3, got %d", got)
	}

	stock, err := env.inventory.DecrementStock(ctx, "chair", 3)
	if err != nil || stock != 0 {
		t.Errorf("expected stock 0, got %d (%v)", stock, err)
	}
	if _, err := env.inventory.DecrementStock(ctx, "chair", 0); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for zero amount, got %v", err)
	}
	if _, err := env.inventory.IncrementStock(ctx, "ghost", 1); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestIsLowStock(t *testing.T) {
	env := newTestEnv(t, RestockPolicy{})
	env.addItem(t, "chair", 10, 10, "")
	ctx := context.Background()

	low, err := env.inventory.IsLowStock(ctx, "chair")
	if err != nil || !low {
		t.Errorf("expected stock at threshold to be low, got %v (%v)", low, err)
	}
	env.inventory.IncrementStock(ctx, "chair", 1)
	if low, _ := env.inventory.IsLowStock(ctx, "chair"); low {
		t.Error("expected stock above threshold not to be low")
	}
}

func TestListItems_Paging(t *testing.T) {
	env := newTestEnv(t, RestockPolicy{})
	for _, id := range []string{"d", "b", "a", "c"} {
		env.addItem(t, id, 1, 0, "")
	}
	ctx := context.Background()

	page, err := env.inventory.ListItems(ctx, employee, "", 2, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if page.Total != 4 || page.PageSize != 2 || page.Page != 2 {
		t.Errorf("unexpected page metadata: %+v", page)
	}
	if len(page.Items) != 2 || page.Items[0].ID != "c" || page.Items[1].ID != "d" {
		t.Errorf("unexpected page items: %+v", page.Items)
	}

	page, _ = env.inventory.ListItems(ctx, admin, "ITEM A", 0, 50)
	if page.PageSize != 3 || page.Page != 1 || page.Total != 1 {
		t.Errorf("expected clamped page size and one match, got %+v", page)
	}

	if _, err := env.inventory.ListItems(ctx, supplier, "", 1, 10); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden for supplier, got %v", err)
	}
}

func TestItems_WalksAllBatches(t *testing.T) {
	env := newTestEnv(t, RestockPolicy{})
	for _, id := range []string{"e", "d", "b", "a", "c"} {
		env.addItem(t, id, 1, 0, "")
	}
	ctx := context.Background()

	seq := env.inventory.Items(ctx, "")
	for pass := 0; pass < 2; pass++ {
		var got string
		for item, err := range seq {
			if err != nil {
				t.Fatalf("iteration failed: %v", err)
			}
			got += item.ID
		}
		if got != "abcde" {
			t.Errorf("pass %d: expected abcde, got %s", pass, got)
		}
	}

	var first string
	for item := range seq {
		first = item.ID
		break
	}
	if first != "a" {
		t.Errorf("expected early stop at a, got %s", first)
	}
}

func TestItems_NoSkipUnderInsert(t *testing.T) {
	env := newTestEnv(t, RestockPolicy{})
	for _, id := range []string{"b", "d", "f"} {
		env.addItem(t, id, 1, 0, "")
	}
	ctx := context.Background()

	var got string
	for item, err := range env.inventory.Items(ctx, "") {
		if err != nil {
			t.Fatalf("iteration failed: %v", err)
		}
		got += item.ID
		if item.ID == "b" {
			// lands before the cursor and must not shift later items
			env.addItem(t, "a", 1, 0, "")
		}
	}
	if got != "bdf" {
		t.Errorf("expected bdf, got %s", got)
	}
}

func intPtr(v int) *int { return &v }

func TestBulkUpload_IncrementsAndCreates(t *testing.T) {
	env := newTestEnv(t, RestockPolicy{})
	env.addItem(t, "paper", 4, 10, "")
	ctx := context.Background()

	levels, err := env.inventory.BulkUpload(ctx, admin, []StockRow{
		{ItemID: "paper", Quantity: 6},
		{Name: "Whiteboard marker", Description: "black", Quantity: 30, LowStockThreshold: intPtr(5)},
		{Name: "Sticky notes", Quantity: 0},
	})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if len(levels) != 3 {
		t.Fatalf("expected 3 levels, got %d", len(levels))
	}
	if levels[0].ItemID != "paper" || levels[0].Stock != 10 || levels[0].Created {
		t.Errorf("unexpected increment result: %+v", levels[0])
	}
	if !levels[1].Created || levels[1].Stock != 30 {
		t.Errorf("unexpected create result: %+v", levels[1])
	}

	marker, err := env.inventory.GetItem(ctx, levels[1].ItemID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if marker.LowStockThreshold != 5 || marker.Description != "black" {
		t.Errorf("unexpected created item: %+v", marker)
	}
	notes, _ := env.inventory.GetItem(ctx, levels[2].ItemID)
	if notes.LowStockThreshold != domain.DefaultLowStockThreshold {
		t.Errorf("expected default threshold, got %d", notes.LowStockThreshold)
	}
}

func TestBulkUpload_InvalidRowChangesNothing(t *testing.T) {
	env := newTestEnv(t, RestockPolicy{})
	env.addItem(t, "paper", 4, 10, "")
	ctx := context.Background()

	tests := []struct {
		name    string
		rows    []StockRow
		wantErr error
	}{
		{"negative increment", []StockRow{{ItemID: "paper", Quantity: 2}, {ItemID: "paper", Quantity: -1}}, domain.ErrInvalidInput},
		{"unknown item", []StockRow{{ItemID: "paper", Quantity: 2}, {ItemID: "ghost", Quantity: 1}}, domain.ErrNotFound},
		{"row without name", []StockRow{{ItemID: "paper", Quantity: 2}, {Description: "x", Quantity: 1}}, domain.ErrInvalidInput},
		{"negative threshold", []StockRow{{Name: "Tape", Quantity: 1, LowStockThreshold: intPtr(-1)}}, domain.ErrInvalidInput},
		{"empty upload", nil, domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.inventory.BulkUpload(ctx, admin, tt.rows)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if got := env.stock(t, "paper"); got != 4 {
		t.Errorf("expected stock 4, got %d", got)
	}
	page, _ := env.inventory.ListItems(ctx, admin, "", 1, 3)
	if page.Total != 1 {
		t.Errorf("expected no new items, got %d", page.Total)
	}
	if _, err := env.inventory.BulkUpload(ctx, employee, []StockRow{{ItemID: "paper", Quantity: 1}}); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden for employee, got %v", err)
	}
}
