package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/xenking/oolio-coupon-engine/internal/domain/checkout"
	"github.com/xenking/oolio-coupon-engine/internal/domain/product"
)

var (
	_ product.Repository       = (*ProductRepository)(nil)
	_ product.Writer           = (*ProductRepository)(nil)
	_ checkout.OrderRepository = (*OrderRepository)(nil)
)

// ProductRepository is an in-memory product catalog.
type ProductRepository struct {
	mu       sync.RWMutex
	products map[string]product.Product
}

// NewProductRepository returns a catalog holding products.
func NewProductRepository(products ...product.Product) *ProductRepository {
	r := &ProductRepository{products: make(map[string]product.Product, len(products))}
	for _, p := range products {
		r.products[p.ID] = p
	}
	return r
}

// List returns all products ordered by id.
func (r *ProductRepository) List(_ context.Context) ([]product.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]product.Product, 0, len(r.products))
	for _, p := range r.products {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b product.Product) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// GetByID returns a single product.
func (r *ProductRepository) GetByID(_ context.Context, id string) (*product.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

// GetByIDs returns the existing products among ids.
func (r *ProductRepository) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// Save inserts or replaces a product.
func (r *ProductRepository) Save(_ context.Context, p *product.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.products[p.ID] = *p
	return nil
}

// OrderRepository is an in-memory order log.
type OrderRepository struct {
	mu     sync.Mutex
	orders map[string]checkout.Order
}

// NewOrderRepository returns an empty order log.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: map[string]checkout.Order{}}
}

// Create stores the order. A second create with the same id is ignored.
func (r *OrderRepository) Create(_ context.Context, o *checkout.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[o.ID]; !ok {
		r.orders[o.ID] = *o
	}
	return nil
}

// Get returns a stored order.
func (r *OrderRepository) Get(id string) (checkout.Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	return o, ok
}
