package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/stock-workflow/internal/core/domain"
	"github.com/rl1809/stock-workflow/internal/port"
)

type RequestService struct {
	store    port.Store
	authz    port.Authorizer
	idem     port.IdempotencyStore
	audit    port.AuditRecorder
	observer port.ApprovalObserver
	logger   *zap.Logger
}

func NewRequestService(store port.Store, authz port.Authorizer, idem port.IdempotencyStore, audit port.AuditRecorder, observer port.ApprovalObserver, logger *zap.Logger) *RequestService {
	return &RequestService{
		store:    store,
		authz:    authz,
		idem:     idem,
		audit:    audit,
		observer: observer,
		logger:   logger.Named("requests"),
	}
}

// Create files a pending request. Stock is not checked until the request is
// approved.
func (s *RequestService) Create(ctx context.Context, caller domain.Account, itemID string, quantity int, reason, idemKey string) (req domain.Request, err error) {
	ctx, span := startSpan(ctx, "RequestService.Create", attribute.String("item_id", itemID))
	defer finish(span, "create_request", &err)

	if err := s.authz.Authorize(ctx, caller, domain.ActionCreateRequest); err != nil {
		return domain.Request{}, err
	}
	if quantity <= 0 {
		return domain.Request{}, fmt.Errorf("%w: quantity must be positive, got %d", domain.ErrInvalidInput, quantity)
	}
	if _, err := s.store.GetItem(ctx, itemID); err != nil {
		return domain.Request{}, err
	}

	key := idempotencyKey("request", caller, idemKey)
	req, replayed, err := once(ctx, s.idem, s.logger, key, s.store.GetRequest, func(ctx context.Context) (domain.Request, string, error) {
		id, err := newID()
		if err != nil {
			return domain.Request{}, "", err
		}
		created := domain.Request{
			ID:         id,
			EmployeeID: caller.ID,
			ItemID:     itemID,
			Quantity:   quantity,
			Reason:     strings.TrimSpace(reason),
			Status:     domain.RequestStatusPending,
			CreatedAt:  now(),
		}
		if err := s.store.InsertRequest(ctx, created); err != nil {
			return domain.Request{}, "", err
		}
		return created, id, nil
	})
	if err != nil {
		return domain.Request{}, err
	}
	if replayed {
		return req, nil
	}

	recordTransition("request", string(req.Status))
	s.audit.Record(ctx, domain.AuditEntry{
		ActorID:   caller.ID,
		Action:    AuditRequestCreated,
		SubjectID: req.ID,
		Details:   fmt.Sprintf("item=%s quantity=%d", req.ItemID, req.Quantity),
	})
	s.logger.Info("request created",
		zap.String("request_id", req.ID),
		zap.String("employee_id", caller.ID),
		zap.String("item_id", req.ItemID),
		zap.Int("quantity", req.Quantity),
	)
	return req, nil
}

// Decide approves or rejects a pending request. Approval takes the stock in
// the same transaction that marks the request approved; when stock is short
// the request stays pending and ErrInsufficientStock is returned.
func (s *RequestService) Decide(ctx context.Context, caller domain.Account, requestID string, outcome domain.RequestStatus, response string) (req domain.Request, err error) {
	start := time.Now()
	ctx, span := startSpan(ctx, "RequestService.Decide",
		attribute.String("request_id", requestID),
		attribute.String("outcome", string(outcome)),
	)
	defer finish(span, "decide_request", &err)

	if err := s.authz.Authorize(ctx, caller, domain.ActionDecideRequest); err != nil {
		return domain.Request{}, err
	}
	if outcome != domain.RequestStatusApproved && outcome != domain.RequestStatusRejected {
		return domain.Request{}, fmt.Errorf("%w: outcome must be approved or rejected, got %q", domain.ErrInvalidInput, outcome)
	}

	existing, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return domain.Request{}, err
	}

	var (
		stock     int
		autoOrder *domain.SupplierOrder
	)
	err = s.store.WithinItem(ctx, existing.ItemID, func(ctx context.Context, tx port.Tx) error {
		current, err := tx.Request(ctx, requestID)
		if err != nil {
			return err
		}
		next, err := current.Decide(outcome, caller.ID, strings.TrimSpace(response), now())
		if err != nil {
			return err
		}

		if next.Status == domain.RequestStatusApproved {
			if stock, err = tx.AdjustStock(ctx, next.ItemID, -next.Quantity); err != nil {
				return err
			}
		}
		if err := tx.UpdateRequest(ctx, next, current.Status); err != nil {
			return err
		}
		if next.Status == domain.RequestStatusApproved && s.observer != nil {
			if autoOrder, err = s.observer.OnRequestApproved(ctx, tx, next.ItemID); err != nil {
				return err
			}
		}
		req = next
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			s.logger.Info("approval rejected by stock check",
				zap.String("request_id", requestID),
				zap.String("item_id", existing.ItemID),
				zap.Int("quantity", existing.Quantity),
			)
		}
		return domain.Request{}, err
	}
	decisionLatency.WithLabelValues(string(req.Status)).Observe(time.Since(start).Seconds())

	recordTransition("request", string(req.Status))
	s.audit.Record(ctx, domain.AuditEntry{
		ActorID:   caller.ID,
		Action:    AuditRequestDecided,
		SubjectID: req.ID,
		Details:   "status=" + string(req.Status),
	})
	fields := []zap.Field{
		zap.String("request_id", req.ID),
		zap.String("admin_id", caller.ID),
		zap.String("status", string(req.Status)),
	}
	if req.Status == domain.RequestStatusApproved {
		fields = append(fields, zap.Int("stock", stock))
	}
	s.logger.Info("request decided", fields...)

	if autoOrder != nil {
		autoRestockTotal.Inc()
		recordTransition("order", string(autoOrder.Status))
		s.audit.Record(ctx, domain.AuditEntry{
			ActorID:   domain.SystemActor,
			Action:    AuditOrderAutoRaised,
			SubjectID: autoOrder.ID,
			Details:   fmt.Sprintf("item=%s supplier=%s quantity=%d request=%s", autoOrder.ItemID, autoOrder.SupplierID, autoOrder.Quantity, req.ID),
		})
		s.logger.Info("restock order raised",
			zap.String("order_id", autoOrder.ID),
			zap.String("item_id", autoOrder.ItemID),
			zap.String("supplier_id", autoOrder.SupplierID),
			zap.Int("quantity", autoOrder.Quantity),
		)
	}
	return req, nil
}

func (s *RequestService) ListForEmployee(ctx context.Context, caller domain.Account) ([]domain.Request, error) {
	if err := s.authz.Authorize(ctx, caller, domain.ActionReadOwnRequests); err != nil {
		return nil, err
	}
	return s.store.ListRequests(ctx, port.RequestFilter{EmployeeID: caller.ID})
}

func (s *RequestService) ListAll(ctx context.Context, caller domain.Account) ([]domain.Request, error) {
	if err := s.authz.Authorize(ctx, caller, domain.ActionReadAllRequests); err != nil {
		return nil, err
	}
	return s.store.ListRequests(ctx, port.RequestFilter{})
}

// List returns the requests visible to caller: their own for employees, all
// of them for admins.
func (s *RequestService) List(ctx context.Context, caller domain.Account) ([]domain.Request, error) {
	if caller.Role == domain.RoleEmployee {
		return s.ListForEmployee(ctx, caller)
	}
	return s.ListAll(ctx, caller)
}
