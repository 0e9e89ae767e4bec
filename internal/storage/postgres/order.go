package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/oolio-coupon-engine/internal/domain/checkout"
)

const createOrderSQL = `INSERT INTO orders
	(id, user_id, items, subtotal, shipping, discounts, total, cashback, combination_id, receipt_id, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO NOTHING`

var _ checkout.OrderRepository = (*OrderRepository)(nil)

// OrderRepository implements checkout.OrderRepository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. The order items are serialized to JSON for
// storage in the JSONB column. Creating an existing order is a no-op.
func (r *OrderRepository) Create(ctx context.Context, o *checkout.Order) error {
	e := &jx.Encoder{}
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()

	_, err := r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, e.Bytes(), o.Subtotal, o.Shipping, o.Discounts, o.Total, o.Cashback,
		o.CombinationID, o.ReceiptID, o.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "create order %q", o.ID)
	}
	return nil
}
