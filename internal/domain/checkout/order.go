package checkout

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Order represents a completed customer order with pricing and discount details.
type Order struct {
	ID            string
	UserID        string
	Items         []OrderItem
	Subtotal      decimal.Decimal
	Shipping      decimal.Decimal
	Discounts     decimal.Decimal
	Total         decimal.Decimal
	Cashback      decimal.Decimal
	CombinationID string
	ReceiptID     string
	CreatedAt     time.Time
}

// OrderItem represents a single line item in an order.
type OrderItem struct {
	ProductID string
	Quantity  int
}

// OrderRepository defines persistence operations for orders. Create must be
// idempotent on the order id.
type OrderRepository interface {
	Create(ctx context.Context, order *Order) error
}
