package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/stock-workflow/internal/core/domain"
	"github.com/rl1809/stock-workflow/internal/port"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// Audit actions.
const (
	AuditRequestCreated  = "request.created"
	AuditRequestDecided  = "request.decided"
	AuditOrderCreated    = "order.created"
	AuditOrderAutoRaised = "order.auto_created"
	AuditOrderAdvanced   = "order.advanced"
	AuditStockUploaded   = "stock.uploaded"
)

// AuditLog queues audit entries for asynchronous persistence. Lifecycle
// operations never wait on the audit store; a worker pool drains Queue.
type AuditLog struct {
	store  port.Store
	authz  port.Authorizer
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan domain.AuditEntry
}

var _ port.AuditRecorder = (*AuditLog)(nil)

func NewAuditLog(store port.Store, authz port.Authorizer, queueSize int, logger *zap.Logger) *AuditLog {
	return &AuditLog{
		store:  store,
		authz:  authz,
		logger: logger.Named("audit"),
		queue:  make(chan domain.AuditEntry, queueSize),
	}
}

// Record enqueues entry. A full or closed queue drops the entry with a warning.
func (a *AuditLog) Record(ctx context.Context, entry domain.AuditEntry) {
	if entry.ID == "" {
		id, err := newID()
		if err != nil {
			a.logger.Warn("failed to generate audit id", zap.Error(err))
			return
		}
		entry.ID = id
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		auditDropped.Inc()
		a.logger.Warn("audit log closed, dropping entry", zap.String("action", entry.Action), zap.String("subject_id", entry.SubjectID))
		return
	}
	select {
	case a.queue <- entry:
	default:
		auditDropped.Inc()
		a.logger.Warn("audit queue full, dropping entry", zap.String("action", entry.Action), zap.String("subject_id", entry.SubjectID))
	}
}

func (a *AuditLog) Queue() <-chan domain.AuditEntry {
	return a.queue
}

// Close stops accepting entries and closes the queue so workers can drain it.
func (a *AuditLog) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
}

// Persist writes entries to the store. Workers call it for every entry they
// take off the queue.
func (a *AuditLog) Persist(ctx context.Context, entries ...domain.AuditEntry) error {
	return a.store.AppendAudit(ctx, entries...)
}

// Drain persists entries from the queue until it is closed. Each write gets
// its own timeout so a slow store cannot stall shutdown.
func (a *AuditLog) Drain(workerID int, timeout time.Duration) {
	for entry := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := a.Persist(ctx, entry); err != nil {
			a.logger.Error("failed to persist audit entry",
				zap.Int("worker", workerID),
				zap.String("id", entry.ID),
				zap.String("action", entry.Action),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (a *AuditLog) List(ctx context.Context, caller domain.Account, limit int) ([]domain.AuditEntry, error) {
	if err := a.authz.Authorize(ctx, caller, domain.ActionReadAuditLog); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = defaultAuditLimit
	case limit > maxAuditLimit:
		limit = maxAuditLimit
	}
	return a.store.ListAudit(ctx, limit)
}
