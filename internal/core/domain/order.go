package domain

import (
	"fmt"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
)

// orderTransitions maps each status to the only status that may follow it.
var orderTransitions = map[OrderStatus]OrderStatus{
	OrderStatusPending: OrderStatusShipped,
	OrderStatusShipped: OrderStatusDelivered,
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusShipped, OrderStatusDelivered:
		return true
	}
	return false
}

// Open reports whether an order in this status still blocks a new order for the same item.
func (s OrderStatus) Open() bool {
	return s == OrderStatusPending || s == OrderStatusShipped
}

func (s OrderStatus) Next() (OrderStatus, bool) {
	next, ok := orderTransitions[s]
	return next, ok
}

type SupplierOrder struct {
	ID          string
	ItemID      string
	SupplierID  string
	Quantity    int
	Status      OrderStatus
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time
}

// Advance returns a copy of o moved to target. Only the exact next status in
// the lifecycle is accepted; nothing is chained or skipped.
func (o SupplierOrder) Advance(target OrderStatus, at time.Time) (SupplierOrder, error) {
	next, ok := o.Status.Next()
	if !ok || next != target {
		return o, fmt.Errorf("%w: order %s cannot move from %s to %s", ErrInvalidState, o.ID, o.Status, target)
	}
	o.Status = next
	o.UpdatedAt = at
	switch next {
	case OrderStatusShipped:
		o.ShippedAt = &at
	case OrderStatusDelivered:
		o.DeliveredAt = &at
	}
	return o, nil
}
