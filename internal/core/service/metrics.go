package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/stock-workflow/internal/core/domain"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflow",
		Name:      "transitions_total",
		Help:      "Lifecycle transitions broken down by entity and resulting status.",
	}, []string{"entity", "status"})

	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflow",
		Name:      "failures_total",
		Help:      "Failed workflow operations broken down by operation and error kind.",
	}, []string{"operation", "kind"})

	autoRestockTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "workflow",
		Name:      "auto_restock_orders_total",
		Help:      "Supplier orders raised automatically after an approval left an item low on stock.",
	})

	decisionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "workflow",
		Name:      "decision_latency_seconds",
		Help:      "Time spent deciding a request, including the stock check and automatic restock.",
		Buckets: []float64{
			0.0005, 0.001, 0.002, 0.005,
			0.01, 0.02, 0.05, 0.1,
			0.2, 0.5, 1, 2,
		},
	}, []string{"outcome"})

	auditDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "workflow",
		Subsystem: "audit",
		Name:      "dropped_total",
		Help:      "Audit entries dropped because the queue was full or closed.",
	})
)

var tracer = otel.Tracer("github.com/rl1809/stock-workflow/internal/core/service")

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// finish ends span and counts err against operation. It is meant to be
// deferred with a pointer to the caller's named error.
func finish(span trace.Span, operation string, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
		failuresTotal.WithLabelValues(operation, domain.KindOf(*err)).Inc()
	}
	span.End()
}

func recordTransition(entity, status string) {
	transitionsTotal.WithLabelValues(entity, status).Inc()
}

func now() time.Time {
	return time.Now().UTC()
}

// newID returns a time-ordered identifier.
func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
