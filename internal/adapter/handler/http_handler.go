package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/stock-workflow/internal/core/domain"
	"github.com/rl1809/stock-workflow/internal/core/service"
)

const (
	AccountHeader     = "X-Account-ID"
	IdempotencyHeader = "Idempotency-Key"
)

// Services bundles the lifecycle services the transports expose.
type Services struct {
	Accounts  *service.AccountService
	Inventory *service.InventoryService
	Requests  *service.RequestService
	Orders    *service.OrderService
	Audit     *service.AuditLog
}

type HTTPHandler struct {
	svc     Services
	timeout time.Duration
	logger  *zap.Logger
}

func NewHTTPHandler(svc Services, timeout time.Duration, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, timeout: timeout, logger: logger.Named("http")}
}

// Router wires every route. /health and /metrics are public; everything else
// requires a known account in the X-Account-ID header.
func (h *HTTPHandler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(tracedMiddleware)
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(h.authenticate)
	api.HandleFunc("/items", h.ListItems).Methods(http.MethodGet)
	api.HandleFunc("/items/upload", h.UploadStock).Methods(http.MethodPost)
	api.HandleFunc("/requests", h.CreateRequest).Methods(http.MethodPost)
	api.HandleFunc("/requests", h.ListRequests).Methods(http.MethodGet)
	api.HandleFunc("/admin/requests", h.ListAllRequests).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}", h.DecideRequest).Methods(http.MethodPatch)
	api.HandleFunc("/supplier-orders", h.CreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/supplier-orders", h.ListOrders).Methods(http.MethodGet)
	api.HandleFunc("/supplier-orders/{id}", h.AdvanceOrder).Methods(http.MethodPatch)
	api.HandleFunc("/users", h.ListUsers).Methods(http.MethodGet)
	api.HandleFunc("/audit", h.ListAudit).Methods(http.MethodGet)
	return r
}

var tracer = otel.Tracer("github.com/rl1809/stock-workflow/internal/adapter/handler")

func tracedMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.String()),
			),
		)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type accountKey struct{}

func (h *HTTPHandler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		acc, err := h.svc.Accounts.Resolve(ctx, r.Header.Get(AccountHeader))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		ctx = context.WithValue(ctx, accountKey{}, acc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func caller(r *http.Request) domain.Account {
	acc, _ := r.Context().Value(accountKey{}).(domain.Account)
	return acc
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	pageSize, err := intParam(q.Get("page_size"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.svc.Inventory.ListItems(r.Context(), caller(r), q.Get("search"), page, pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemPage(result))
}

func (h *HTTPHandler) UploadStock(w http.ResponseWriter, r *http.Request) {
	var body UploadBody
	if !h.decode(w, r, &body) {
		return
	}

	levels, err := h.svc.Inventory.BulkUpload(r.Context(), caller(r), toStockRows(body.Rows))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UploadResponse{Items: mapSlice(levels, toStockLevel)})
}

func (h *HTTPHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var body CreateRequestBody
	if !h.decode(w, r, &body) {
		return
	}
	key := r.Header.Get(IdempotencyHeader)
	if key == "" {
		key = body.IdempotencyKey
	}

	req, err := h.svc.Requests.Create(r.Context(), caller(r), body.ItemID, body.Quantity, body.Reason, key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequest(req))
}

func (h *HTTPHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.svc.Requests.List(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestList(r.Context(), h.svc, reqs))
}

func (h *HTTPHandler) ListAllRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.svc.Requests.ListAll(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestList(r.Context(), h.svc, reqs))
}

func (h *HTTPHandler) DecideRequest(w http.ResponseWriter, r *http.Request) {
	var body DecideRequestBody
	if !h.decode(w, r, &body) {
		return
	}

	req, err := h.svc.Requests.Decide(r.Context(), caller(r), mux.Vars(r)["id"], domain.RequestStatus(body.Status), body.AdminResponse)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequest(req))
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var body CreateOrderBody
	if !h.decode(w, r, &body) {
		return
	}
	key := r.Header.Get(IdempotencyHeader)
	if key == "" {
		key = body.IdempotencyKey
	}

	order, err := h.svc.Orders.Create(r.Context(), caller(r), body.ItemID, body.SupplierID, body.Quantity, key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrder(order))
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.Orders.List(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(orders, toOrder))
}

func (h *HTTPHandler) AdvanceOrder(w http.ResponseWriter, r *http.Request) {
	var body AdvanceOrderBody
	if !h.decode(w, r, &body) {
		return
	}

	order, err := h.svc.Orders.Advance(r.Context(), caller(r), mux.Vars(r)["id"], domain.OrderStatus(body.Status))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(order))
}

func (h *HTTPHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.svc.Accounts.ListByRole(r.Context(), caller(r), domain.Role(r.URL.Query().Get("role")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(accounts, toAccount))
}

func (h *HTTPHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	entries, err := h.svc.Audit.List(r.Context(), caller(r), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(entries, toAudit))
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Join(domain.ErrInvalidInput, err)
	}
	return v, nil
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   domain.KindOf(domain.ErrInvalidInput),
			Message: "invalid request body",
		})
		return false
	}
	return true
}

// httpStatus maps an error kind to its response status. Unknown errors are 500.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	resp := ErrorResponse{Error: domain.KindOf(err), Message: err.Error()}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		resp.Message = "internal error"
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
