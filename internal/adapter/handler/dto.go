package handler

import (
	"context"
	"time"

	"github.com/rl1809/stock-workflow/internal/core/domain"
	"github.com/rl1809/stock-workflow/internal/core/service"
)

// Wire types shared by the HTTP and gRPC transports.

type ItemResponse struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Description       string    `json:"description,omitempty"`
	Stock             int       `json:"stock"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	LowStock          bool      `json:"low_stock"`
	SupplierID        string    `json:"supplier_id,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type ItemPageResponse struct {
	Items    []ItemResponse `json:"items"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Total    int            `json:"total"`
}

type RequestResponse struct {
	ID            string     `json:"id"`
	EmployeeID    string     `json:"employee_id"`
	EmployeeName  string     `json:"employee_name,omitempty"`
	ItemID        string     `json:"item_id"`
	ItemName      string     `json:"item_name,omitempty"`
	Quantity      int        `json:"quantity"`
	Reason        string     `json:"reason,omitempty"`
	Status        string     `json:"status"`
	AdminResponse string     `json:"admin_response,omitempty"`
	DecidedBy     string     `json:"decided_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
}

type OrderResponse struct {
	ID          string     `json:"id"`
	ItemID      string     `json:"item_id"`
	SupplierID  string     `json:"supplier_id"`
	Quantity    int        `json:"quantity"`
	Status      string     `json:"status"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ShippedAt   *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

type AccountResponse struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
}

type AuditResponse struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	Action    string    `json:"action"`
	SubjectID string    `json:"subject_id,omitempty"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type StockLevelResponse struct {
	ItemID  string `json:"item_id"`
	Name    string `json:"name"`
	Stock   int    `json:"stock"`
	Created bool   `json:"created"`
}

type UploadResponse struct {
	Items []StockLevelResponse `json:"items"`
}

type RequestListResponse struct {
	Requests []RequestResponse `json:"requests"`
}

type OrderListResponse struct {
	Orders []OrderResponse `json:"orders"`
}

type Empty struct{}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type CreateRequestBody struct {
	ItemID         string `json:"item_id"`
	Quantity       int    `json:"quantity"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type DecideRequestBody struct {
	RequestID     string `json:"request_id,omitempty"`
	Status        string `json:"status"`
	AdminResponse string `json:"admin_response"`
}

type CreateOrderBody struct {
	ItemID         string `json:"item_id"`
	SupplierID     string `json:"supplier_id"`
	Quantity       int    `json:"quantity"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type AdvanceOrderBody struct {
	OrderID string `json:"order_id,omitempty"`
	Status  string `json:"status"`
}

type ListItemsBody struct {
	Search   string `json:"search"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

type UploadRow struct {
	ItemID            string `json:"item_id"`
	Name              string `json:"name"`
	Description       string `json:"description"`
	Quantity          int    `json:"quantity"`
	LowStockThreshold *int   `json:"low_stock_threshold"`
	SupplierID        string `json:"supplier_id"`
}

type UploadBody struct {
	Rows []UploadRow `json:"rows"`
}

func toItem(i domain.Item) ItemResponse {
	return ItemResponse{
		ID:                i.ID,
		Name:              i.Name,
		Description:       i.Description,
		Stock:             i.Stock,
		LowStockThreshold: i.LowStockThreshold,
		LowStock:          i.IsLowStock(),
		SupplierID:        i.SupplierID,
		UpdatedAt:         i.UpdatedAt,
	}
}

func toItemPage(p service.ItemPage) ItemPageResponse {
	items := make([]ItemResponse, 0, len(p.Items))
	for _, i := range p.Items {
		items = append(items, toItem(i))
	}
	return ItemPageResponse{Items: items, Page: p.Page, PageSize: p.PageSize, Total: p.Total}
}

func toRequest(r domain.Request) RequestResponse {
	return RequestResponse{
		ID:            r.ID,
		EmployeeID:    r.EmployeeID,
		ItemID:        r.ItemID,
		Quantity:      r.Quantity,
		Reason:        r.Reason,
		Status:        string(r.Status),
		AdminResponse: r.AdminResponse,
		DecidedBy:     r.DecidedBy,
		CreatedAt:     r.CreatedAt,
		DecidedAt:     r.DecidedAt,
	}
}

// toRequestList fills in the item and employee names the request screens
// show. Names that no longer resolve are left empty.
func toRequestList(ctx context.Context, svc Services, reqs []domain.Request) []RequestResponse {
	items := map[string]string{}
	people := map[string]string{}
	out := make([]RequestResponse, 0, len(reqs))
	for _, r := range reqs {
		resp := toRequest(r)
		name, ok := items[r.ItemID]
		if !ok {
			if item, err := svc.Inventory.GetItem(ctx, r.ItemID); err == nil {
				name = item.Name
			}
			items[r.ItemID] = name
		}
		resp.ItemName = name

		person, ok := people[r.EmployeeID]
		if !ok {
			if acc, err := svc.Accounts.Resolve(ctx, r.EmployeeID); err == nil {
				person = acc.DisplayName
			}
			people[r.EmployeeID] = person
		}
		resp.EmployeeName = person
		out = append(out, resp)
	}
	return out
}

func toOrder(o domain.SupplierOrder) OrderResponse {
	return OrderResponse{
		ID:          o.ID,
		ItemID:      o.ItemID,
		SupplierID:  o.SupplierID,
		Quantity:    o.Quantity,
		Status:      string(o.Status),
		CreatedBy:   o.CreatedBy,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
		ShippedAt:   o.ShippedAt,
		DeliveredAt: o.DeliveredAt,
	}
}

func mapSlice[T, R any](in []T, fn func(T) R) []R {
	out := make([]R, 0, len(in))
	for _, v := range in {
		out = append(out, fn(v))
	}
	return out
}

func toAccount(a domain.Account) AccountResponse {
	return AccountResponse{ID: a.ID, Role: string(a.Role), DisplayName: a.DisplayName}
}

func toAudit(e domain.AuditEntry) AuditResponse {
	return AuditResponse{
		ID:        e.ID,
		ActorID:   e.ActorID,
		Action:    e.Action,
		SubjectID: e.SubjectID,
		Details:   e.Details,
		CreatedAt: e.CreatedAt,
	}
}

func toStockLevel(l service.StockLevel) StockLevelResponse {
	return StockLevelResponse{ItemID: l.ItemID, Name: l.Name, Stock: l.Stock, Created: l.Created}
}

func toStockRows(rows []UploadRow) []service.StockRow {
	out := make([]service.StockRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, service.StockRow{
			ItemID:            r.ItemID,
			Name:              r.Name,
			Description:       r.Description,
			Quantity:          r.Quantity,
			LowStockThreshold: r.LowStockThreshold,
			SupplierID:        r.SupplierID,
		})
	}
	return out
}
