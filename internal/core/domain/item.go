package domain

import "time"

const DefaultLowStockThreshold = 10

type Item struct {
	ID                string
	Name              string
	Description       string
	Stock             int
	LowStockThreshold int
	SupplierID        string // preferred supplier for automatic restock, optional
	Version           int    // optimistic locking
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsLowStock reports whether stock has fallen to or below the threshold.
func (i Item) IsLowStock() bool {
	return i.Stock <= i.LowStockThreshold
}

// RestockQuantity returns how many units bring the item back to
// threshold*multiplier. Zero means no order is needed.
func (i Item) RestockQuantity(multiplier int) int {
	target := i.LowStockThreshold * multiplier
	if q := target - i.Stock; q > 0 {
		return q
	}
	return 0
}
