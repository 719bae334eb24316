package service

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/stock-workflow/internal/core/domain"
	"github.com/rl1809/stock-workflow/internal/port"
)

type InventoryConfig struct {
	DefaultLowStockThreshold int
	PageSize                 int
	MaxPageSize              int
}

func (c InventoryConfig) withDefaults() InventoryConfig {
	if c.DefaultLowStockThreshold <= 0 {
		c.DefaultLowStockThreshold = domain.DefaultLowStockThreshold
	}
	if c.PageSize <= 0 {
		c.PageSize = 25
	}
	if c.MaxPageSize < c.PageSize {
		c.MaxPageSize = max(c.PageSize, 100)
	}
	return c
}

type ItemPage struct {
	Items    []domain.Item
	Page     int
	PageSize int
	Total    int
}

// StockRow is one line of a bulk upload. A row naming ItemID adds Quantity to
// that item; a row without ItemID creates a new item from Name, Description,
// Quantity and LowStockThreshold.
type StockRow struct {
	ItemID            string
	Name              string
	Description       string
	Quantity          int
	LowStockThreshold *int
	SupplierID        string
}

type StockLevel struct {
	ItemID  string
	Name    string
	Stock   int
	Created bool
}

type InventoryService struct {
	store  port.Store
	authz  port.Authorizer
	audit  port.AuditRecorder
	cfg    InventoryConfig
	logger *zap.Logger
}

func NewInventoryService(store port.Store, authz port.Authorizer, audit port.AuditRecorder, cfg InventoryConfig, logger *zap.Logger) *InventoryService {
	return &InventoryService{
		store:  store,
		authz:  authz,
		audit:  audit,
		cfg:    cfg.withDefaults(),
		logger: logger.Named("inventory"),
	}
}

func (s *InventoryService) GetItem(ctx context.Context, id string) (domain.Item, error) {
	return s.store.GetItem(ctx, id)
}

// ListItems returns one page of items matching search, ordered by name then id.
func (s *InventoryService) ListItems(ctx context.Context, caller domain.Account, search string, page, pageSize int) (ItemPage, error) {
	if err := s.authz.Authorize(ctx, caller, domain.ActionListItems); err != nil {
		return ItemPage{}, err
	}
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize <= 0:
		pageSize = s.cfg.PageSize
	case pageSize > s.cfg.MaxPageSize:
		pageSize = s.cfg.MaxPageSize
	}

	items, total, err := s.store.ListItems(ctx, port.ItemQuery{
		Search: strings.TrimSpace(search),
		Offset: (page - 1) * pageSize,
		Limit:  pageSize,
	})
	if err != nil {
		return ItemPage{}, err
	}
	return ItemPage{Items: items, Page: page, PageSize: pageSize, Total: total}, nil
}

// Items walks every item matching search in (name, id) order. Batches are
// fetched with a keyset cursor, so items inserted or removed mid-walk never
// cause another item to be skipped or repeated. The sequence can be ranged
// over more than once; each pass starts from the beginning.
func (s *InventoryService) Items(ctx context.Context, search string) iter.Seq2[domain.Item, error] {
	return func(yield func(domain.Item, error) bool) {
		q := port.ItemQuery{Search: strings.TrimSpace(search), Limit: s.cfg.PageSize}
		for {
			batch, _, err := s.store.ListItems(ctx, q)
			if err != nil {
				yield(domain.Item{}, err)
				return
			}
			for _, item := range batch {
				if !yield(item, nil) {
					return
				}
			}
			if len(batch) < q.Limit {
				return
			}
			last := batch[len(batch)-1]
			q.After = &port.ItemCursor{Name: last.Name, ID: last.ID}
		}
	}
}

// DecrementStock removes amount units. It fails with ErrInsufficientStock,
// changing nothing, when fewer than amount units are on hand.
func (s *InventoryService) DecrementStock(ctx context.Context, itemID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive, got %d", domain.ErrInvalidInput, amount)
	}
	return s.adjust(ctx, itemID, -amount)
}

func (s *InventoryService) IncrementStock(ctx context.Context, itemID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive, got %d", domain.ErrInvalidInput, amount)
	}
	return s.adjust(ctx, itemID, amount)
}

func (s *InventoryService) adjust(ctx context.Context, itemID string, delta int) (int, error) {
	var stock int
	err := s.store.WithinItem(ctx, itemID, func(ctx context.Context, tx port.Tx) error {
		var err error
		stock, err = tx.AdjustStock(ctx, itemID, delta)
		return err
	})
	if err != nil {
		return 0, err
	}
	return stock, nil
}

func (s *InventoryService) IsLowStock(ctx context.Context, itemID string) (bool, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return false, err
	}
	return item.IsLowStock(), nil
}

// BulkUpload applies rows in order after validating all of them. Nothing is
// written when any row is malformed or names an unknown item.
func (s *InventoryService) BulkUpload(ctx context.Context, caller domain.Account, rows []StockRow) (levels []StockLevel, err error) {
	ctx, span := startSpan(ctx, "InventoryService.BulkUpload", attribute.Int("rows", len(rows)))
	defer finish(span, "bulk_upload", &err)

	if err := s.authz.Authorize(ctx, caller, domain.ActionUploadStock); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", domain.ErrInvalidInput)
	}
	for i, row := range rows {
		if err := s.validateRow(ctx, row); err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
	}

	levels = make([]StockLevel, 0, len(rows))
	for i, row := range rows {
		level, err := s.applyRow(ctx, row)
		if err != nil {
			s.logger.Error("bulk upload stopped", zap.Int("row", i+1), zap.Int("applied", i), zap.Error(err))
			return levels, fmt.Errorf("row %d: %w", i+1, err)
		}
		levels = append(levels, level)
	}

	s.audit.Record(ctx, domain.AuditEntry{
		ActorID: caller.ID,
		Action:  AuditStockUploaded,
		Details: fmt.Sprintf("%d rows", len(rows)),
	})
	s.logger.Info("stock uploaded", zap.String("admin_id", caller.ID), zap.Int("rows", len(rows)))
	return levels, nil
}

func (s *InventoryService) validateRow(ctx context.Context, row StockRow) error {
	if row.ItemID != "" {
		if row.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive, got %d", domain.ErrInvalidInput, row.Quantity)
		}
		_, err := s.store.GetItem(ctx, row.ItemID)
		return err
	}

	if strings.TrimSpace(row.Name) == "" {
		return fmt.Errorf("%w: item_id or name is required", domain.ErrInvalidInput)
	}
	if row.Quantity < 0 {
		return fmt.Errorf("%w: quantity must not be negative, got %d", domain.ErrInvalidInput, row.Quantity)
	}
	if row.LowStockThreshold != nil && *row.LowStockThreshold < 0 {
		return fmt.Errorf("%w: low_stock_threshold must not be negative", domain.ErrInvalidInput)
	}
	return nil
}

func (s *InventoryService) applyRow(ctx context.Context, row StockRow) (StockLevel, error) {
	if row.ItemID != "" {
		stock, err := s.adjust(ctx, row.ItemID, row.Quantity)
		if err != nil {
			return StockLevel{}, err
		}
		item, err := s.store.GetItem(ctx, row.ItemID)
		if err != nil {
			return StockLevel{}, err
		}
		return StockLevel{ItemID: item.ID, Name: item.Name, Stock: stock}, nil
	}

	id, err := newID()
	if err != nil {
		return StockLevel{}, err
	}
	threshold := s.cfg.DefaultLowStockThreshold
	if row.LowStockThreshold != nil {
		threshold = *row.LowStockThreshold
	}
	at := now()
	item := domain.Item{
		ID:                id,
		Name:              strings.TrimSpace(row.Name),
		Description:       row.Description,
		Stock:             row.Quantity,
		LowStockThreshold: threshold,
		SupplierID:        row.SupplierID,
		CreatedAt:         at,
		UpdatedAt:         at,
	}
	if err := s.store.CreateItem(ctx, item); err != nil {
		return StockLevel{}, err
	}
	return StockLevel{ItemID: item.ID, Name: item.Name, Stock: item.Stock, Created: true}, nil
}
