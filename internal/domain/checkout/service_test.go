package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
	"github.com/xenking/oolio-coupon-engine/internal/domain/product"
	"github.com/xenking/oolio-coupon-engine/internal/domain/redemption"
	"github.com/xenking/oolio-coupon-engine/internal/domain/stacking"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID   map[string]*product.Product
	getErr error
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) {
	return nil, nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

type mockEvaluator struct {
	results []*stacking.Evaluation
	err     error
	calls   int
	carts   []coupon.Cart
}

func (m *mockEvaluator) Evaluate(_ context.Context, userID string, cart coupon.Cart) (*stacking.Evaluation, error) {
	m.carts = append(m.carts, cart)
	if m.err != nil {
		return nil, m.err
	}
	ev := m.results[min(m.calls, len(m.results)-1)]
	m.calls++
	ev.UserID = userID
	return ev, nil
}

type mockCommitter struct {
	errs       []error
	requests   []redemption.CommitRequest
	receipts   map[string]*redemption.Receipt
	receiptErr error
}

func (m *mockCommitter) Commit(_ context.Context, req redemption.CommitRequest) (*redemption.Receipt, error) {
	m.requests = append(m.requests, req)
	if n := len(m.requests) - 1; n < len(m.errs) && m.errs[n] != nil {
		return nil, m.errs[n]
	}
	r := &redemption.Receipt{
		ID:            "r-" + req.OrderID,
		OrderID:       req.OrderID,
		UserID:        req.UserID,
		CombinationID: req.CombinationID,
		Members:       req.Members,
		TotalDiscount: req.TotalDiscount,
		Cashback:      req.Cashback,
	}
	if m.receipts == nil {
		m.receipts = map[string]*redemption.Receipt{}
	}
	m.receipts[req.OrderID] = r
	return r, nil
}

func (m *mockCommitter) Receipt(_ context.Context, orderID string) (*redemption.Receipt, error) {
	if m.receiptErr != nil {
		return nil, m.receiptErr
	}
	if r, ok := m.receipts[orderID]; ok {
		return r, nil
	}
	return nil, redemption.ErrReceiptNotFound
}

type mockQuotes struct {
	saved map[string][]byte
	ttl   time.Duration
}

func newMockQuotes() *mockQuotes { return &mockQuotes{saved: map[string][]byte{}} }

// Quotes go through the JSON codec so the test exercises it.
func (m *mockQuotes) SaveQuotes(_ context.Context, quotes []Quote, ttl time.Duration) error {
	m.ttl = ttl
	for i := range quotes {
		e := &jx.Encoder{}
		quotes[i].Encode(e)
		m.saved[quotes[i].UserID+"/"+quotes[i].CombinationID] = e.Bytes()
	}
	return nil
}

func (m *mockQuotes) GetQuote(_ context.Context, userID, combinationID string) (*Quote, error) {
	raw, ok := m.saved[userID+"/"+combinationID]
	if !ok {
		return nil, ErrQuoteNotFound
	}
	var q Quote
	if err := q.Decode(jx.DecodeBytes(raw)); err != nil {
		return nil, err
	}
	return &q, nil
}

type mockOrderRepo struct {
	lastOrder *Order
	err       error
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	m.lastOrder = o
	return m.err
}

// --- Helpers ---

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var testNow = time.Date(2025, time.March, 12, 14, 30, 0, 0, time.UTC)

func newTestProduct(id, category, price string) product.Product {
	return product.Product{
		ID:       id,
		Name:     "Product " + id,
		Price:    d(price),
		Category: category,
		Brand:    "acme",
	}
}

func newProductRepo(products ...product.Product) *mockProductRepo {
	byID := make(map[string]*product.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	return &mockProductRepo{byID: byID}
}

func scored(combinationID string, discount, total string, members ...string) stacking.Scored {
	s := stacking.Scored{
		Combination:    stacking.Combination{ID: combinationID},
		TotalDiscount:  d(discount),
		Cashback:       decimal.Zero,
		ResultingTotal: d(total),
	}
	for _, m := range members {
		s.Lines = append(s.Lines, stacking.Line{
			UserCouponID: m,
			CouponID:     "def-" + m,
			Amount:       d(discount).Div(decimal.NewFromInt(int64(len(members)))),
		})
	}
	return s
}

type fixture struct {
	svc       *Service
	products  *mockProductRepo
	evaluator *mockEvaluator
	committer *mockCommitter
	quotes    *mockQuotes
	orders    *mockOrderRepo
}

func newFixture(evs ...*stacking.Evaluation) *fixture {
	f := &fixture{
		products: newProductRepo(
			newTestProduct("p1", "electronics", "100.00"),
			newTestProduct("p2", "books", "25.50"),
		),
		evaluator: &mockEvaluator{results: evs},
		committer: &mockCommitter{},
		quotes:    newMockQuotes(),
		orders:    &mockOrderRepo{},
	}
	f.svc = NewService(f.products, f.evaluator, f.committer, f.quotes, f.orders, Config{})
	f.svc.now = func() time.Time { return testNow }
	return f
}

func cartRequest(items ...OrderItem) CartRequest {
	return CartRequest{
		UserID:        "u1",
		Items:         items,
		ShippingCost:  d("10.00"),
		Profile:       coupon.Profile{Level: "gold"},
		PaymentMethod: "card",
		Location:      "AU",
	}
}

// --- Tests ---

func TestBuildCart_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  CartRequest
		want error
	}{
		{"missing user", CartRequest{Items: []OrderItem{{ProductID: "p1", Quantity: 1}}}, ErrMissingUser},
		{"empty items", CartRequest{UserID: "u1"}, ErrEmptyItems},
		{"negative shipping", CartRequest{UserID: "u1", Items: []OrderItem{{ProductID: "p1", Quantity: 1}}, ShippingCost: d("-1")}, ErrInvalidShipping},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.svc.Preview(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.want)
			assert.Zero(t, f.evaluator.calls)
		})
	}
}

func TestPreview_InvalidQuantity(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Preview(context.Background(), cartRequest(OrderItem{ProductID: "p1", Quantity: 0}))

	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "p1", iqErr.ProductID)
}

func TestPreview_ProductNotFound(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Preview(context.Background(), cartRequest(OrderItem{ProductID: "missing", Quantity: 1}))

	var pnfErr *ProductNotFoundError
	require.ErrorAs(t, err, &pnfErr)
	assert.Equal(t, "missing", pnfErr.ProductID)
}

func TestPreview_ProductRepoError(t *testing.T) {
	f := newFixture()
	f.products.getErr = errors.New("connection refused")
	_, err := f.svc.Preview(context.Background(), cartRequest(OrderItem{ProductID: "p1", Quantity: 1}))
	require.ErrorContains(t, err, "connection refused")
}

func TestPreview_BuildsCartAndStoresQuotes(t *testing.T) {
	ev := &stacking.Evaluation{
		Accepted:     scored("c-best", "30.00", "96.50", "uc1", "uc2"),
		Alternatives: []stacking.Scored{scored("c-alt", "10.00", "116.50", "uc1")},
	}
	f := newFixture(ev)

	res, err := f.svc.Preview(context.Background(), cartRequest(
		OrderItem{ProductID: "p1", Quantity: 1},
		OrderItem{ProductID: "p2", Quantity: 2},
	))
	require.NoError(t, err)

	cart := f.evaluator.carts[0]
	assert.True(t, d("151.00").Equal(cart.Subtotal))
	assert.Equal(t, 3, cart.TotalQuantity)
	assert.True(t, d("10.00").Equal(cart.ShippingCost))
	assert.Equal(t, "card", cart.PaymentMethod)
	assert.Equal(t, "AU", cart.Location)
	assert.Equal(t, "gold", cart.Profile.Level)
	require.Len(t, cart.Items, 2)
	assert.Equal(t, "books", cart.Items[1].Category)
	assert.Equal(t, "acme", cart.Items[1].Brand)

	assert.Equal(t, testNow.Add(15*time.Minute), res.ExpiresAt)
	assert.Equal(t, 15*time.Minute, f.quotes.ttl)
	assert.Len(t, f.quotes.saved, 2)
	assert.Len(t, res.Products, 2)

	q, err := f.quotes.GetQuote(context.Background(), "u1", "c-best")
	require.NoError(t, err)
	require.Len(t, q.Members, 2)
	assert.Equal(t, "uc1", q.Members[0].UserCouponID)
	assert.Equal(t, "def-uc1", q.Members[0].CouponID)
	assert.True(t, d("30.00").Equal(q.TotalDiscount))
	assert.True(t, res.ExpiresAt.Equal(q.ExpiresAt))
}

func TestCommit_UsesQuote(t *testing.T) {
	ev := &stacking.Evaluation{
		Accepted:     scored("c-best", "30.00", "96.50", "uc1", "uc2"),
		Alternatives: []stacking.Scored{scored("c-alt", "10.00", "116.50", "uc1")},
	}
	f := newFixture(ev)
	_, err := f.svc.Preview(context.Background(), cartRequest(OrderItem{ProductID: "p1", Quantity: 1}))
	require.NoError(t, err)

	receipt, err := f.svc.Commit(context.Background(), "u1", "c-alt", "order-1")
	require.NoError(t, err)
	assert.Equal(t, "c-alt", receipt.CombinationID)

	require.Len(t, f.committer.requests, 1)
	req := f.committer.requests[0]
	assert.Equal(t, "order-1", req.OrderID)
	assert.Equal(t, "u1", req.UserID)
	require.Len(t, req.Members, 1)
	assert.Equal(t, "uc1", req.Members[0].UserCouponID)
}

func TestCommit_UnknownOrExpiredQuote(t *testing.T) {
	f := newFixture(&stacking.Evaluation{Accepted: scored("c-best", "5.00", "105.00", "uc1")})

	_, err := f.svc.Commit(context.Background(), "u1", "c-best", "order-1")
	require.ErrorIs(t, err, ErrQuoteNotFound)

	_, err = f.svc.Preview(context.Background(), cartRequest(OrderItem{ProductID: "p1", Quantity: 1}))
	require.NoError(t, err)

	_, err = f.svc.Commit(context.Background(), "u2", "c-best", "order-1")
	require.ErrorIs(t, err, ErrQuoteNotFound, "quotes are scoped to the user")

	f.svc.now = func() time.Time { return testNow.Add(time.Hour) }
	_, err = f.svc.Commit(context.Background(), "u1", "c-best", "order-1")
	require.ErrorIs(t, err, ErrQuoteNotFound)
	assert.Empty(t, f.committer.requests)
}

func TestPlaceOrder_Success(t *testing.T) {
	f := newFixture(&stacking.Evaluation{Accepted: scored("c-best", "20.00", "90.00", "uc1")})

	res, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		CartRequest: cartRequest(OrderItem{ProductID: "p1", Quantity: 1}),
		OrderID:     "order-9",
	})
	require.NoError(t, err)

	o := res.Order
	assert.Equal(t, "order-9", o.ID)
	assert.Equal(t, "u1", o.UserID)
	assert.Equal(t, "100", o.Subtotal.String())
	assert.Equal(t, "10", o.Shipping.String())
	assert.Equal(t, "20", o.Discounts.String())
	assert.Equal(t, "90", o.Total.String())
	assert.Equal(t, "c-best", o.CombinationID)
	assert.Equal(t, "r-order-9", o.ReceiptID)
	assert.Equal(t, testNow, o.CreatedAt)
	assert.Equal(t, 1, res.Attempts)
	assert.Same(t, o, f.orders.lastOrder)
}

func TestPlaceOrder_GeneratesOrderID(t *testing.T) {
	f := newFixture(&stacking.Evaluation{Accepted: scored("c-empty", "0", "110.00")})

	res, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		CartRequest: cartRequest(OrderItem{ProductID: "p1", Quantity: 1}),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Order.ID)
	assert.Equal(t, res.Order.ID, f.committer.requests[0].OrderID)
}

func TestPlaceOrder_RetriesOnConflict(t *testing.T) {
	f := newFixture(
		&stacking.Evaluation{Accepted: scored("c-first", "20.00", "90.00", "uc1")},
		&stacking.Evaluation{Accepted: scored("c-second", "5.00", "105.00", "uc2")},
	)
	f.committer.errs = []error{&redemption.ConflictError{OrderID: "o", UserCouponID: "uc1", Reason: redemption.ConflictTotalLimit}}

	res, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		CartRequest: cartRequest(OrderItem{ProductID: "p1", Quantity: 1}),
		OrderID:     "o",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, f.evaluator.calls)
	assert.Equal(t, "c-second", res.Order.CombinationID)
	assert.Equal(t, "105", res.Order.Total.String())
}

func TestPlaceOrder_GivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(&stacking.Evaluation{Accepted: scored("c-first", "20.00", "90.00", "uc1")})
	conflict := &redemption.ConflictError{OrderID: "o", Reason: redemption.ConflictInProgress}
	f.committer.errs = []error{conflict, conflict, conflict, conflict}

	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		CartRequest: cartRequest(OrderItem{ProductID: "p1", Quantity: 1}),
		OrderID:     "o",
	})
	require.ErrorIs(t, err, redemption.ErrConflict)
	assert.Len(t, f.committer.requests, 3)
	assert.Nil(t, f.orders.lastOrder)
}

func TestPlaceOrder_NonConflictErrorNotRetried(t *testing.T) {
	f := newFixture(&stacking.Evaluation{Accepted: scored("c-first", "20.00", "90.00", "uc1")})
	f.committer.errs = []error{errors.New("db down")}

	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		CartRequest: cartRequest(OrderItem{ProductID: "p1", Quantity: 1}),
		OrderID:     "o",
	})
	require.ErrorContains(t, err, "db down")
	assert.Len(t, f.committer.requests, 1)
}

func TestPlaceOrder_EvaluateError(t *testing.T) {
	f := newFixture()
	f.evaluator.err = errors.New("wallet unavailable")

	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		CartRequest: cartRequest(OrderItem{ProductID: "p1", Quantity: 1}),
	})
	require.ErrorContains(t, err, "wallet unavailable")
	assert.Empty(t, f.committer.requests)
}

func TestPlaceOrder_OrderRepoError(t *testing.T) {
	f := newFixture(&stacking.Evaluation{Accepted: scored("c-first", "20.00", "90.00", "uc1")})
	f.orders.err = errors.New("disk full")

	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		CartRequest: cartRequest(OrderItem{ProductID: "p1", Quantity: 1}),
	})
	require.ErrorContains(t, err, "disk full")
}

func TestPlaceOrder_ResumesAfterOrderWriteFailure(t *testing.T) {
	f := newFixture(
		&stacking.Evaluation{Accepted: scored("c-first", "20.00", "90.00", "uc1")},
		&stacking.Evaluation{Accepted: scored("c-empty", "0", "110.00")},
	)
	f.orders.err = errors.New("db blip")
	req := PlaceOrderRequest{
		CartRequest: cartRequest(OrderItem{ProductID: "p1", Quantity: 1}),
		OrderID:     "o1",
	}

	_, err := f.svc.PlaceOrder(context.Background(), req)
	require.ErrorContains(t, err, "db blip")

	f.orders.err = nil
	res, err := f.svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, f.evaluator.calls, "committed order is not evaluated again")
	assert.Len(t, f.committer.requests, 1)
	assert.Nil(t, res.Evaluation)
	assert.Equal(t, 0, res.Attempts)

	o := f.orders.lastOrder
	require.NotNil(t, o)
	assert.Equal(t, "o1", o.ID)
	assert.Equal(t, "c-first", o.CombinationID)
	assert.Equal(t, "r-o1", o.ReceiptID)
	assert.Equal(t, "20", o.Discounts.String())
	assert.Equal(t, "90", o.Total.String())
}

func TestPlaceOrder_CommittedOrderOtherUser(t *testing.T) {
	f := newFixture(&stacking.Evaluation{Accepted: scored("c-first", "20.00", "90.00", "uc1")})
	f.committer.receipts = map[string]*redemption.Receipt{
		"o1": {ID: "r-o1", OrderID: "o1", UserID: "someone-else", CombinationID: "c-x"},
	}

	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		CartRequest: cartRequest(OrderItem{ProductID: "p1", Quantity: 1}),
		OrderID:     "o1",
	})
	var conflict *redemption.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, redemption.ConflictOrderCommitted, conflict.Reason)
	assert.Empty(t, f.committer.requests)
	assert.Nil(t, f.orders.lastOrder)
}

func TestPlaceOrder_ReceiptLookupError(t *testing.T) {
	f := newFixture(&stacking.Evaluation{Accepted: scored("c-first", "20.00", "90.00", "uc1")})
	f.committer.receiptErr = errors.New("ledger down")

	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		CartRequest: cartRequest(OrderItem{ProductID: "p1", Quantity: 1}),
		OrderID:     "o1",
	})
	require.ErrorContains(t, err, "ledger down")
	assert.Zero(t, f.evaluator.calls)
}

type mockProfiles struct {
	profiles map[string]coupon.Profile
	err      error
}

func (m *mockProfiles) FindProfile(_ context.Context, userID string) (coupon.Profile, error) {
	return m.profiles[userID], m.err
}

func TestPreview_ProfileFromSource(t *testing.T) {
	f := newFixture(&stacking.Evaluation{Accepted: scored("c-empty", "0", "110.00")})
	profiles := &mockProfiles{profiles: map[string]coupon.Profile{"u1": {Level: "silver"}}}
	f.svc = NewService(f.products, f.evaluator, f.committer, f.quotes, f.orders, Config{}, WithProfiles(profiles))

	// cartRequest claims gold; the stored profile wins.
	_, err := f.svc.Preview(context.Background(), cartRequest(OrderItem{ProductID: "p1", Quantity: 1}))
	require.NoError(t, err)
	require.Len(t, f.evaluator.carts, 1)
	assert.Equal(t, coupon.Profile{Level: "silver"}, f.evaluator.carts[0].Profile)

	profiles.err = errors.New("profiles down")
	_, err = f.svc.Preview(context.Background(), cartRequest(OrderItem{ProductID: "p1", Quantity: 1}))
	require.ErrorContains(t, err, "profiles down")
	assert.Len(t, f.evaluator.carts, 1)
}
