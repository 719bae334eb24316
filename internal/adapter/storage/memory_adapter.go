package storage

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rl1809/stock-workflow/internal/core/domain"
	"github.com/rl1809/stock-workflow/internal/port"
)

// MemoryAdapter keeps all records in process. Each item has its own lock so
// transactions on different items run in parallel.
type MemoryAdapter struct {
	mu       sync.RWMutex
	items    map[string]domain.Item
	requests map[string]domain.Request
	orders   map[string]domain.SupplierOrder
	accounts map[string]domain.Account
	audit    []domain.AuditEntry

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

var _ port.Store = (*MemoryAdapter)(nil)

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		items:    make(map[string]domain.Item),
		requests: make(map[string]domain.Request),
		orders:   make(map[string]domain.SupplierOrder),
		accounts: make(map[string]domain.Account),
		locks:    make(map[string]chan struct{}),
	}
}

// PutAccount provisions an account. Accounts are managed outside the engine.
func (m *MemoryAdapter) PutAccount(acc domain.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acc.ID] = acc
}

func (m *MemoryAdapter) itemLock(itemID string) chan struct{} {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	lock, ok := m.locks[itemID]
	if !ok {
		lock = make(chan struct{}, 1)
		m.locks[itemID] = lock
	}
	return lock
}

func (m *MemoryAdapter) WithinItem(ctx context.Context, itemID string, fn func(ctx context.Context, tx port.Tx) error) error {
	lock := m.itemLock(itemID)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: lock item %s: %w", domain.ErrUnavailable, itemID, ctx.Err())
	}
	defer func() { <-lock }()

	m.mu.RLock()
	_, ok := m.items[itemID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: item %s", domain.ErrNotFound, itemID)
	}

	tx := &memoryTx{
		store:    m,
		items:    make(map[string]domain.Item),
		requests: make(map[string]domain.Request),
		orders:   make(map[string]domain.SupplierOrder),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: commit item %s: %w", domain.ErrUnavailable, itemID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, item := range tx.items {
		m.items[id] = item
	}
	for id, req := range tx.requests {
		m.requests[id] = req
	}
	for id, order := range tx.orders {
		m.orders[id] = order
	}
	return nil
}

func (m *MemoryAdapter) GetItem(ctx context.Context, id string) (domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[id]
	if !ok {
		return domain.Item{}, fmt.Errorf("%w: item %s", domain.ErrNotFound, id)
	}
	return item, nil
}

func compareItems(a, b domain.Item) int {
	return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
}

func (m *MemoryAdapter) ListItems(ctx context.Context, q port.ItemQuery) ([]domain.Item, int, error) {
	needle := strings.ToLower(q.Search)

	m.mu.RLock()
	matched := make([]domain.Item, 0, len(m.items))
	for _, item := range m.items {
		if needle != "" && !strings.Contains(strings.ToLower(item.Name), needle) {
			continue
		}
		matched = append(matched, item)
	}
	m.mu.RUnlock()

	slices.SortFunc(matched, compareItems)
	total := len(matched)

	if q.After != nil {
		after := domain.Item{Name: q.After.Name, ID: q.After.ID}
		idx, _ := slices.BinarySearchFunc(matched, after, compareItems)
		for idx < len(matched) && compareItems(matched[idx], after) <= 0 {
			idx++
		}
		matched = matched[idx:]
	}
	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return []domain.Item{}, total, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, total, nil
}

func (m *MemoryAdapter) CreateItem(ctx context.Context, item domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.items[item.ID]; exists {
		return fmt.Errorf("%w: item %s already exists", domain.ErrConflict, item.ID)
	}
	m.items[item.ID] = item
	return nil
}

func (m *MemoryAdapter) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req, ok := m.requests[id]
	if !ok {
		return domain.Request{}, fmt.Errorf("%w: request %s", domain.ErrNotFound, id)
	}
	return req, nil
}

func (m *MemoryAdapter) InsertRequest(ctx context.Context, req domain.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.requests[req.ID]; exists {
		return fmt.Errorf("%w: request %s already exists", domain.ErrConflict, req.ID)
	}
	m.requests[req.ID] = req
	return nil
}

func newestFirst(aTime, bTime time.Time, aID, bID string) int {
	return cmp.Or(bTime.Compare(aTime), cmp.Compare(bID, aID))
}

func (m *MemoryAdapter) ListRequests(ctx context.Context, f port.RequestFilter) ([]domain.Request, error) {
	m.mu.RLock()
	out := make([]domain.Request, 0, len(m.requests))
	for _, req := range m.requests {
		if f.EmployeeID != "" && req.EmployeeID != f.EmployeeID {
			continue
		}
		out = append(out, req)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.Request) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	return out, nil
}

func (m *MemoryAdapter) GetOrder(ctx context.Context, id string) (domain.SupplierOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[id]
	if !ok {
		return domain.SupplierOrder{}, fmt.Errorf("%w: supplier order %s", domain.ErrNotFound, id)
	}
	return order, nil
}

func (m *MemoryAdapter) ListOrders(ctx context.Context, f port.OrderFilter) ([]domain.SupplierOrder, error) {
	m.mu.RLock()
	out := make([]domain.SupplierOrder, 0, len(m.orders))
	for _, order := range m.orders {
		if f.SupplierID != "" && order.SupplierID != f.SupplierID {
			continue
		}
		out = append(out, order)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.SupplierOrder) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	return out, nil
}

func (m *MemoryAdapter) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acc, ok := m.accounts[id]
	if !ok {
		return domain.Account{}, fmt.Errorf("%w: account %s", domain.ErrNotFound, id)
	}
	return acc, nil
}

func (m *MemoryAdapter) ListAccounts(ctx context.Context, role domain.Role) ([]domain.Account, error) {
	m.mu.RLock()
	out := make([]domain.Account, 0, len(m.accounts))
	for _, acc := range m.accounts {
		if role != "" && acc.Role != role {
			continue
		}
		out = append(out, acc)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.Account) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *MemoryAdapter) AppendAudit(ctx context.Context, entries ...domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entries...)
	return nil
}

func (m *MemoryAdapter) ListAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	m.mu.RLock()
	out := slices.Clone(m.audit)
	m.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b domain.AuditEntry) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memoryTx stages writes until WithinItem commits them.
type memoryTx struct {
	store    *MemoryAdapter
	items    map[string]domain.Item
	requests map[string]domain.Request
	orders   map[string]domain.SupplierOrder
}

func (t *memoryTx) Item(ctx context.Context, id string) (domain.Item, error) {
	if item, ok := t.items[id]; ok {
		return item, nil
	}
	return t.store.GetItem(ctx, id)
}

func (t *memoryTx) AdjustStock(ctx context.Context, itemID string, delta int) (int, error) {
	item, err := t.Item(ctx, itemID)
	if err != nil {
		return 0, err
	}
	if item.Stock+delta < 0 {
		return item.Stock, fmt.Errorf("%w: item %s has %d, need %d", domain.ErrInsufficientStock, itemID, item.Stock, -delta)
	}
	item.Stock += delta
	item.Version++
	item.UpdatedAt = time.Now().UTC()
	t.items[itemID] = item
	return item.Stock, nil
}

func (t *memoryTx) Request(ctx context.Context, id string) (domain.Request, error) {
	if req, ok := t.requests[id]; ok {
		return req, nil
	}
	return t.store.GetRequest(ctx, id)
}

func (t *memoryTx) UpdateRequest(ctx context.Context, req domain.Request, from domain.RequestStatus) error {
	cur, err := t.Request(ctx, req.ID)
	if err != nil {
		return err
	}
	if cur.Status != from {
		return fmt.Errorf("%w: request %s is %s", domain.ErrInvalidState, req.ID, cur.Status)
	}
	t.requests[req.ID] = req
	return nil
}

func (t *memoryTx) Order(ctx context.Context, id string) (domain.SupplierOrder, error) {
	if order, ok := t.orders[id]; ok {
		return order, nil
	}
	return t.store.GetOrder(ctx, id)
}

func (t *memoryTx) OpenOrderForItem(ctx context.Context, itemID string) (*domain.SupplierOrder, error) {
	for _, order := range t.orders {
		if order.ItemID == itemID && order.Status.Open() {
			return &order, nil
		}
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for id, order := range t.store.orders {
		if _, staged := t.orders[id]; staged {
			continue
		}
		if order.ItemID == itemID && order.Status.Open() {
			return &order, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) InsertOrder(ctx context.Context, order domain.SupplierOrder) error {
	if _, err := t.Order(ctx, order.ID); err == nil {
		return fmt.Errorf("%w: supplier order %s already exists", domain.ErrConflict, order.ID)
	}
	t.orders[order.ID] = order
	return nil
}

func (t *memoryTx) UpdateOrder(ctx context.Context, order domain.SupplierOrder, from domain.OrderStatus) error {
	cur, err := t.Order(ctx, order.ID)
	if err != nil {
		return err
	}
	if cur.Status != from {
		return fmt.Errorf("%w: supplier order %s is %s", domain.ErrInvalidState, order.ID, cur.Status)
	}
	t.orders[order.ID] = order
	return nil
}
