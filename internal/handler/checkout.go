package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-coupon-engine/internal/domain/checkout"
)

// userHeader carries the caller's user id when the body omits it.
const userHeader = "X-User-ID"

// decodeDecimal accepts JSON numbers and numeric strings.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(n.String())
}

// parseDate accepts a calendar date or an RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func decodeItems(d *jx.Decoder) ([]checkout.OrderItem, error) {
	var items []checkout.OrderItem
	err := d.Arr(func(d *jx.Decoder) error {
		var it checkout.OrderItem
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "productId":
				it.ProductID, err = d.Str()
			case "quantity":
				it.Quantity, err = d.Int()
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		items = append(items, it)
		return nil
	})
	return items, err
}

// cartField decodes one key of a cart payload. It reports false for keys it
// does not own. A "profile" key is not among them: the profile conditions
// match on is loaded server-side, so a client cannot claim a level or
// new-customer status.
func cartField(d *jx.Decoder, key string, req *checkout.CartRequest) (bool, error) {
	var err error
	switch key {
	case "userId":
		req.UserID, err = d.Str()
	case "items":
		req.Items, err = decodeItems(d)
	case "shippingCost":
		req.ShippingCost, err = decodeDecimal(d)
	case "paymentMethod":
		req.PaymentMethod, err = d.Str()
	case "location":
		req.Location, err = d.Str()
	default:
		return false, nil
	}
	if err != nil {
		return true, errors.Wrap(err, key)
	}
	return true, nil
}

func (h *Handler) decodeCart(r *http.Request, extra func(d *jx.Decoder, key string) error) (checkout.CartRequest, error) {
	var req checkout.CartRequest
	err := h.decodeBody(r, func(d *jx.Decoder, key string) error {
		ok, err := cartField(d, key, &req)
		if ok || err != nil {
			return err
		}
		if extra != nil {
			return extra(d, key)
		}
		return d.Skip()
	})
	if req.UserID == "" {
		req.UserID = r.Header.Get(userHeader)
	}
	return req, err
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := h.decodeCart(r, nil)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	res, err := h.checkout.Preview(ctx, req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeObject(w, http.StatusOK, func(e *jx.Encoder) {
		str(e, "userId", req.UserID)
		money(e, "subtotal", res.Cart.Subtotal)
		money(e, "shippingCost", res.Cart.ShippingCost)
		e.FieldStart("totalQuantity")
		e.Int(res.Cart.TotalQuantity)
		timestamp(e, "expiresAt", res.ExpiresAt)
		encodeEvaluation(e, res.Evaluation)
		h.encodeProducts(e, "products", res.Products)
	})
}

func (h *Handler) commit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var userID, combinationID, orderID string
	err := h.decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "userId":
			userID, err = d.Str()
		case "combinationId":
			combinationID, err = d.Str()
		case "orderId":
			orderID, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if userID == "" {
		userID = r.Header.Get(userHeader)
	}
	if userID == "" {
		writeError(ctx, w, checkout.ErrMissingUser)
		return
	}
	if combinationID == "" || orderID == "" {
		writeError(ctx, w, badRequest(errors.New("combinationId and orderId are required")))
		return
	}

	receipt, err := h.checkout.Commit(ctx, userID, combinationID, orderID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeReceipt(e, receipt)
	})
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var orderID string
	cart, err := h.decodeCart(r, func(d *jx.Decoder, key string) error {
		if key != "orderId" {
			return d.Skip()
		}
		var err error
		orderID, err = d.Str()
		return err
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	res, err := h.checkout.PlaceOrder(ctx, checkout.PlaceOrderRequest{
		CartRequest: cart,
		OrderID:     orderID,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeObject(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, res.Order)
		e.FieldStart("breakdown")
		e.ArrStart()
		for _, l := range res.Evaluation.Breakdown() {
			encodeLine(e, l)
		}
		e.ArrEnd()
		if res.Receipt != nil {
			e.FieldStart("receipt")
			encodeReceipt(e, res.Receipt)
		}
		e.FieldStart("attempts")
		e.Int(res.Attempts)
		h.encodeProducts(e, "products", res.Products)
	})
}

func (h *Handler) userWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entries, err := h.catalog.Wallet(ctx, chiParam(r, "userID"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, en := range entries {
			encodeUserCoupon(e, en.Coupon, en.Definition)
		}
		e.ArrEnd()
	})
}
