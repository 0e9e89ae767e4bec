// Package checkout connects carts to the coupon engine: it prices items,
// previews the best coupon combination, and commits it when an order is
// placed.
package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
	"github.com/xenking/oolio-coupon-engine/internal/domain/product"
	"github.com/xenking/oolio-coupon-engine/internal/domain/redemption"
	"github.com/xenking/oolio-coupon-engine/internal/domain/stacking"
)

// Sentinel errors for cart validation.
var (
	ErrEmptyItems      = errors.New("items required")
	ErrMissingUser     = errors.New("user id required")
	ErrInvalidShipping = errors.New("shipping cost must not be negative")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// Evaluator previews coupon combinations.
type Evaluator interface {
	Evaluate(ctx context.Context, userID string, cart coupon.Cart) (*stacking.Evaluation, error)
}

// Committer commits a combination and looks up committed orders.
type Committer interface {
	Commit(ctx context.Context, req redemption.CommitRequest) (*redemption.Receipt, error)
	Receipt(ctx context.Context, orderID string) (*redemption.Receipt, error)
}

// ProfileSource resolves the profile of the user placing the order.
type ProfileSource interface {
	FindProfile(ctx context.Context, userID string) (coupon.Profile, error)
}

// Config controls quote lifetime and retry behaviour.
type Config struct {
	QuoteTTL time.Duration
	// MaxAttempts bounds the evaluate and commit cycle on conflicts.
	MaxAttempts int
}

// CartRequest is the checkout input. Profile is used as given only when the
// Service has no ProfileSource.
type CartRequest struct {
	UserID        string
	Items         []OrderItem
	ShippingCost  decimal.Decimal
	Profile       coupon.Profile
	PaymentMethod string
	Location      string
}

// PreviewResult is a priced cart with its evaluation. Every combination in
// it can be committed until ExpiresAt.
type PreviewResult struct {
	Cart       coupon.Cart
	Products   []product.Product
	Evaluation *stacking.Evaluation
	ExpiresAt  time.Time
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	CartRequest
	// OrderID makes the request idempotent. Generated when empty.
	OrderID string
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order   *Order
	Receipt *redemption.Receipt
	// Evaluation is nil when the order resumed from an earlier commit.
	Evaluation *stacking.Evaluation
	Products   []product.Product
	Attempts   int
}

// Service encapsulates checkout business logic.
type Service struct {
	products product.Repository
	engine   Evaluator
	ledger   Committer
	quotes   QuoteStore
	orders   OrderRepository
	profiles ProfileSource
	cfg      Config
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithProfiles makes the Service load the user's profile from p instead of
// trusting CartRequest.Profile.
func WithProfiles(p ProfileSource) Option {
	return func(s *Service) { s.profiles = p }
}

// NewService creates a checkout Service with the required domain dependencies.
func NewService(
	products product.Repository,
	engine Evaluator,
	ledger Committer,
	quotes QuoteStore,
	orders OrderRepository,
	cfg Config,
	opts ...Option,
) *Service {
	if cfg.QuoteTTL <= 0 {
		cfg.QuoteTTL = 15 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	s := &Service{
		products: products,
		engine:   engine,
		ledger:   ledger,
		quotes:   quotes,
		orders:   orders,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Preview prices the cart, evaluates the user's wallet against it and stores
// the accepted combination and its alternatives as quotes.
func (s *Service) Preview(ctx context.Context, req CartRequest) (*PreviewResult, error) {
	cart, products, err := s.buildCart(ctx, req)
	if err != nil {
		return nil, err
	}

	ev, err := s.engine.Evaluate(ctx, req.UserID, cart)
	if err != nil {
		return nil, errors.Wrap(err, "evaluate")
	}

	expires := s.now().Add(s.cfg.QuoteTTL)
	quotes := []Quote{newQuote(req.UserID, ev.Accepted, expires)}
	for _, alt := range ev.Alternatives {
		quotes = append(quotes, newQuote(req.UserID, alt, expires))
	}
	if err := s.quotes.SaveQuotes(ctx, quotes, s.cfg.QuoteTTL); err != nil {
		return nil, errors.Wrap(err, "save quotes")
	}

	return &PreviewResult{
		Cart:       cart,
		Products:   products,
		Evaluation: ev,
		ExpiresAt:  expires,
	}, nil
}

// Commit redeems a previously previewed combination against orderID.
func (s *Service) Commit(ctx context.Context, userID, combinationID, orderID string) (*redemption.Receipt, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	q, err := s.quotes.GetQuote(ctx, userID, combinationID)
	if err != nil {
		return nil, err
	}
	if !q.ExpiresAt.IsZero() && !s.now().Before(q.ExpiresAt) {
		return nil, ErrQuoteNotFound
	}
	return s.ledger.Commit(ctx, q.commitRequest(orderID))
}

// PlaceOrder evaluates the cart, commits the accepted combination and
// persists the order. On a redemption conflict the whole evaluate and commit
// cycle is retried up to Config.MaxAttempts times.
//
// An order id that already has a receipt is not evaluated again: the order
// is written from the receipt, so a retry after a failed order write
// completes the order with the coupons already redeemed for it.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	cart, products, err := s.buildCart(ctx, req.CartRequest)
	if err != nil {
		return nil, err
	}
	orderID := req.OrderID
	if orderID == "" {
		orderID = uuid.NewString()
	}
	lg := zctx.From(ctx).With(zap.String("order_id", orderID), zap.String("user_id", req.UserID))

	if req.OrderID != "" {
		receipt, err := s.ledger.Receipt(ctx, orderID)
		switch {
		case err == nil:
			if receipt.UserID != req.UserID {
				return nil, &redemption.ConflictError{OrderID: orderID, Reason: redemption.ConflictOrderCommitted}
			}
			lg.Info("Order already committed, resuming from receipt", zap.String("receipt_id", receipt.ID))
			total := cart.Subtotal.Add(cart.ShippingCost).Sub(receipt.TotalDiscount)
			if total.IsNegative() {
				total = decimal.Zero
			}
			return s.storeOrder(ctx, req, cart, products, receipt, nil, total, 0)
		case !errors.Is(err, redemption.ErrReceiptNotFound):
			return nil, errors.Wrap(err, "find receipt")
		}
	}

	var (
		ev      *stacking.Evaluation
		receipt *redemption.Receipt
		attempt int
	)
	for attempt = 1; ; attempt++ {
		ev, err = s.engine.Evaluate(ctx, req.UserID, cart)
		if err != nil {
			return nil, errors.Wrap(err, "evaluate")
		}
		q := newQuote(req.UserID, ev.Accepted, time.Time{})
		receipt, err = s.ledger.Commit(ctx, q.commitRequest(orderID))
		if err == nil {
			break
		}
		if !errors.Is(err, redemption.ErrConflict) || attempt >= s.cfg.MaxAttempts {
			return nil, err
		}
		lg.Info("Redemption conflict, re-evaluating", zap.Int("attempt", attempt), zap.Error(err))
	}

	return s.storeOrder(ctx, req, cart, products, receipt, ev, ev.Accepted.ResultingTotal, attempt)
}

func (s *Service) storeOrder(
	ctx context.Context,
	req PlaceOrderRequest,
	cart coupon.Cart,
	products []product.Product,
	receipt *redemption.Receipt,
	ev *stacking.Evaluation,
	total decimal.Decimal,
	attempts int,
) (*PlaceOrderResult, error) {
	o := &Order{
		ID:            receipt.OrderID,
		UserID:        req.UserID,
		Items:         req.Items,
		Subtotal:      cart.Subtotal.Round(2),
		Shipping:      cart.ShippingCost.Round(2),
		Discounts:     receipt.TotalDiscount,
		Total:         total.Round(2),
		Cashback:      receipt.Cashback,
		CombinationID: receipt.CombinationID,
		ReceiptID:     receipt.ID,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	return &PlaceOrderResult{
		Order:      o,
		Receipt:    receipt,
		Evaluation: ev,
		Products:   products,
		Attempts:   attempts,
	}, nil
}

// buildCart validates items, fetches products in a single batch and builds
// the cart snapshot the engine evaluates.
func (s *Service) buildCart(ctx context.Context, req CartRequest) (coupon.Cart, []product.Product, error) {
	if req.UserID == "" {
		return coupon.Cart{}, nil, ErrMissingUser
	}
	if len(req.Items) == 0 {
		return coupon.Cart{}, nil, ErrEmptyItems
	}
	if req.ShippingCost.IsNegative() {
		return coupon.Cart{}, nil, ErrInvalidShipping
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return coupon.Cart{}, nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return coupon.Cart{}, nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	products := make([]product.Product, 0, len(req.Items))
	items := make([]coupon.Item, 0, len(req.Items))
	for _, item := range req.Items {
		p, ok := byID[item.ProductID]
		if !ok {
			return coupon.Cart{}, nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		products = append(products, p)
		items = append(items, coupon.Item{
			ProductID: p.ID,
			Category:  p.Category,
			Brand:     p.Brand,
			Price:     p.Price,
			Quantity:  item.Quantity,
		})
	}

	profile := req.Profile
	if s.profiles != nil {
		if profile, err = s.profiles.FindProfile(ctx, req.UserID); err != nil {
			return coupon.Cart{}, nil, errors.Wrap(err, "load profile")
		}
	}
	cart := coupon.NewCart(items, req.ShippingCost, profile)
	cart.PaymentMethod = req.PaymentMethod
	cart.Location = req.Location
	return cart, products, nil
}
