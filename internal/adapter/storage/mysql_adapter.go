package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/stock-workflow/internal/core/domain"
	"github.com/rl1809/stock-workflow/internal/port"
)

//go:embed schema.sql
var schemaSQL string

const mysqlDuplicateEntry = 1062

const (
	itemColumns    = `id, name, description, stock, low_stock_threshold, supplier_id, version, created_at, updated_at`
	requestColumns = `id, employee_id, item_id, quantity, reason, status, admin_response, decided_by, created_at, decided_at`
	orderColumns   = `id, item_id, supplier_id, quantity, status, created_by, created_at, updated_at, shipped_at, delivered_at`
	auditColumns   = `id, actor_id, action, subject_id, details, created_at`
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type MySQLAdapter struct {
	db *sql.DB
}

var _ port.Store = (*MySQLAdapter)(nil)

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrUnavailable, op, err)
}

func isDuplicate(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}

// Migrate creates the tables used by the adapter when they do not exist yet.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) WithinItem(ctx context.Context, itemID string, fn func(ctx context.Context, tx port.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer tx.Rollback()

	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM items WHERE id = ? FOR UPDATE`, itemID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: item %s", domain.ErrNotFound, itemID)
	}
	if err != nil {
		return unavailable("lock item", err)
	}

	if err := fn(ctx, &mysqlTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

func (m *MySQLAdapter) GetItem(ctx context.Context, id string) (domain.Item, error) {
	return getItem(ctx, m.db, id)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (m *MySQLAdapter) ListItems(ctx context.Context, q port.ItemQuery) ([]domain.Item, int, error) {
	where := `WHERE 1 = 1`
	var args []any
	if q.Search != "" {
		where += ` AND LOWER(name) LIKE ?`
		args = append(args, "%"+escapeLike(strings.ToLower(q.Search))+"%")
	}

	var total int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items `+where, args...).Scan(&total); err != nil {
		return nil, 0, unavailable("count items", err)
	}

	if q.After != nil {
		where += ` AND (name > ? OR (name = ? AND id > ?))`
		args = append(args, q.After.Name, q.After.Name, q.After.ID)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = math.MaxInt32
	}
	args = append(args, limit, q.Offset)

	rows, err := m.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM items `+where+` ORDER BY name, id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, unavailable("query items", err)
	}
	defer rows.Close()

	items := []domain.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, unavailable("scan item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, unavailable("iterate items", err)
	}
	return items, total, nil
}

func (m *MySQLAdapter) CreateItem(ctx context.Context, item domain.Item) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Name, item.Description, item.Stock, item.LowStockThreshold,
		item.SupplierID, item.Version, item.CreatedAt, item.UpdatedAt,
	)
	if isDuplicate(err) {
		return fmt.Errorf("%w: item %s already exists", domain.ErrConflict, item.ID)
	}
	if err != nil {
		return unavailable("insert item", err)
	}
	return nil
}

func (m *MySQLAdapter) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	return getRequest(ctx, m.db, id)
}

func (m *MySQLAdapter) InsertRequest(ctx context.Context, req domain.Request) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO employee_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.EmployeeID, req.ItemID, req.Quantity, req.Reason, req.Status,
		req.AdminResponse, req.DecidedBy, req.CreatedAt, nullTime(req.DecidedAt),
	)
	if isDuplicate(err) {
		return fmt.Errorf("%w: request %s already exists", domain.ErrConflict, req.ID)
	}
	if err != nil {
		return unavailable("insert request", err)
	}
	return nil
}

func (m *MySQLAdapter) ListRequests(ctx context.Context, f port.RequestFilter) ([]domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM employee_requests`
	var args []any
	if f.EmployeeID != "" {
		query += ` WHERE employee_id = ?`
		args = append(args, f.EmployeeID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query requests", err)
	}
	defer rows.Close()

	out := []domain.Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, unavailable("scan request", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate requests", err)
	}
	return out, nil
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, id string) (domain.SupplierOrder, error) {
	return getOrder(ctx, m.db, id)
}

func (m *MySQLAdapter) ListOrders(ctx context.Context, f port.OrderFilter) ([]domain.SupplierOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM supplier_orders`
	var args []any
	if f.SupplierID != "" {
		query += ` WHERE supplier_id = ?`
		args = append(args, f.SupplierID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query orders", err)
	}
	defer rows.Close()

	out := []domain.SupplierOrder{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, unavailable("scan order", err)
		}
		out = append(out, order)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate orders", err)
	}
	return out, nil
}

func (m *MySQLAdapter) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	var acc domain.Account
	err := m.db.QueryRowContext(ctx, `
		SELECT id, role, display_name FROM accounts WHERE id = ?`, id,
	).Scan(&acc.ID, &acc.Role, &acc.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, fmt.Errorf("%w: account %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Account{}, unavailable("query account", err)
	}
	return acc, nil
}

func (m *MySQLAdapter) ListAccounts(ctx context.Context, role domain.Role) ([]domain.Account, error) {
	query := `SELECT id, role, display_name FROM accounts`
	var args []any
	if role != "" {
		query += ` WHERE role = ?`
		args = append(args, role)
	}
	query += ` ORDER BY id`

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query accounts", err)
	}
	defer rows.Close()

	out := []domain.Account{}
	for rows.Next() {
		var acc domain.Account
		if err := rows.Scan(&acc.ID, &acc.Role, &acc.DisplayName); err != nil {
			return nil, unavailable("scan account", err)
		}
		out = append(out, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate accounts", err)
	}
	return out, nil
}

// PutAccount upserts an externally provisioned account.
func (m *MySQLAdapter) PutAccount(ctx context.Context, acc domain.Account) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO accounts (id, role, display_name) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE role = VALUES(role), display_name = VALUES(display_name)`,
		acc.ID, acc.Role, acc.DisplayName,
	)
	if err != nil {
		return unavailable("upsert account", err)
	}
	return nil
}

func (m *MySQLAdapter) AppendAudit(ctx context.Context, entries ...domain.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(entries))
	args := make([]any, 0, len(entries)*6)
	for _, e := range entries {
		placeholders = append(placeholders, `(?, ?, ?, ?, ?, ?)`)
		args = append(args, e.ID, e.ActorID, e.Action, e.SubjectID, e.Details, e.CreatedAt)
	}

	_, err := m.db.ExecContext(ctx,
		`INSERT INTO transaction_logs (`+auditColumns+`) VALUES `+strings.Join(placeholders, ", "),
		args...,
	)
	if err != nil {
		return unavailable("insert audit entries", err)
	}
	return nil
}

func (m *MySQLAdapter) ListAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+auditColumns+` FROM transaction_logs
		ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, unavailable("query audit entries", err)
	}
	defer rows.Close()

	out := []domain.AuditEntry{}
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.SubjectID, &e.Details, &e.CreatedAt); err != nil {
			return nil, unavailable("scan audit entry", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate audit entries", err)
	}
	return out, nil
}

type mysqlTx struct {
	q queryer
}

func (t *mysqlTx) Item(ctx context.Context, id string) (domain.Item, error) {
	return getItem(ctx, t.q, id)
}

func (t *mysqlTx) AdjustStock(ctx context.Context, itemID string, delta int) (int, error) {
	result, err := t.q.ExecContext(ctx, `
		UPDATE items
		SET stock = stock + ?, version = version + 1, updated_at = ?
		WHERE id = ? AND stock + ? >= 0`,
		delta, time.Now().UTC(), itemID, delta,
	)
	if err != nil {
		return 0, unavailable("update stock", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, unavailable("update stock", err)
	}

	var stock int
	if err := t.q.QueryRowContext(ctx, `SELECT stock FROM items WHERE id = ?`, itemID).Scan(&stock); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: item %s", domain.ErrNotFound, itemID)
		}
		return 0, unavailable("read stock", err)
	}
	if rows == 0 {
		return stock, fmt.Errorf("%w: item %s has %d, need %d", domain.ErrInsufficientStock, itemID, stock, -delta)
	}
	return stock, nil
}

func (t *mysqlTx) Request(ctx context.Context, id string) (domain.Request, error) {
	return getRequest(ctx, t.q, id)
}

func (t *mysqlTx) UpdateRequest(ctx context.Context, req domain.Request, from domain.RequestStatus) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE employee_requests
		SET status = ?, admin_response = ?, decided_by = ?, decided_at = ?
		WHERE id = ? AND status = ?`,
		req.Status, req.AdminResponse, req.DecidedBy, nullTime(req.DecidedAt), req.ID, from,
	)
	if err != nil {
		return unavailable("update request", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return unavailable("update request", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: request %s is no longer %s", domain.ErrInvalidState, req.ID, from)
	}
	return nil
}

func (t *mysqlTx) Order(ctx context.Context, id string) (domain.SupplierOrder, error) {
	return getOrder(ctx, t.q, id)
}

func (t *mysqlTx) OpenOrderForItem(ctx context.Context, itemID string) (*domain.SupplierOrder, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM supplier_orders
		WHERE item_id = ? AND status IN (?, ?)
		LIMIT 1`,
		itemID, domain.OrderStatusPending, domain.OrderStatusShipped,
	)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("query open order", err)
	}
	return &order, nil
}

func (t *mysqlTx) InsertOrder(ctx context.Context, o domain.SupplierOrder) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO supplier_orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.ItemID, o.SupplierID, o.Quantity, o.Status, o.CreatedBy,
		o.CreatedAt, o.UpdatedAt, nullTime(o.ShippedAt), nullTime(o.DeliveredAt),
	)
	if isDuplicate(err) {
		return fmt.Errorf("%w: supplier order %s already exists", domain.ErrConflict, o.ID)
	}
	if err != nil {
		return unavailable("insert order", err)
	}
	return nil
}

func (t *mysqlTx) UpdateOrder(ctx context.Context, o domain.SupplierOrder, from domain.OrderStatus) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE supplier_orders
		SET status = ?, updated_at = ?, shipped_at = ?, delivered_at = ?
		WHERE id = ? AND status = ?`,
		o.Status, o.UpdatedAt, nullTime(o.ShippedAt), nullTime(o.DeliveredAt), o.ID, from,
	)
	if err != nil {
		return unavailable("update order", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return unavailable("update order", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: supplier order %s is no longer %s", domain.ErrInvalidState, o.ID, from)
	}
	return nil
}

func getItem(ctx context.Context, q queryer, id string) (domain.Item, error) {
	item, err := scanItem(q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Item{}, fmt.Errorf("%w: item %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Item{}, unavailable("query item", err)
	}
	return item, nil
}

func getRequest(ctx context.Context, q queryer, id string) (domain.Request, error) {
	req, err := scanRequest(q.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM employee_requests WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Request{}, fmt.Errorf("%w: request %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Request{}, unavailable("query request", err)
	}
	return req, nil
}

func getOrder(ctx context.Context, q queryer, id string) (domain.SupplierOrder, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM supplier_orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SupplierOrder{}, fmt.Errorf("%w: supplier order %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.SupplierOrder{}, unavailable("query order", err)
	}
	return order, nil
}

func scanItem(s scanner) (domain.Item, error) {
	var item domain.Item
	err := s.Scan(&item.ID, &item.Name, &item.Description, &item.Stock, &item.LowStockThreshold,
		&item.SupplierID, &item.Version, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func scanRequest(s scanner) (domain.Request, error) {
	var req domain.Request
	var decidedAt sql.NullTime
	err := s.Scan(&req.ID, &req.EmployeeID, &req.ItemID, &req.Quantity, &req.Reason, &req.Status,
		&req.AdminResponse, &req.DecidedBy, &req.CreatedAt, &decidedAt)
	req.DecidedAt = timePtr(decidedAt)
	return req, err
}

func scanOrder(s scanner) (domain.SupplierOrder, error) {
	var o domain.SupplierOrder
	var shippedAt, deliveredAt sql.NullTime
	err := s.Scan(&o.ID, &o.ItemID, &o.SupplierID, &o.Quantity, &o.Status, &o.CreatedBy,
		&o.CreatedAt, &o.UpdatedAt, &shippedAt, &deliveredAt)
	o.ShippedAt = timePtr(shippedAt)
	o.DeliveredAt = timePtr(deliveredAt)
	return o, err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
