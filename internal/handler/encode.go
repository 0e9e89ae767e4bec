package handler

import (
	"sort"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-coupon-engine/internal/domain/catalog"
	"github.com/xenking/oolio-coupon-engine/internal/domain/checkout"
	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
	"github.com/xenking/oolio-coupon-engine/internal/domain/product"
	"github.com/xenking/oolio-coupon-engine/internal/domain/redemption"
	"github.com/xenking/oolio-coupon-engine/internal/domain/stacking"
)

func money(e *jx.Encoder, name string, v decimal.Decimal) {
	e.FieldStart(name)
	e.Str(v.StringFixed(2))
}

func str(e *jx.Encoder, name, v string) {
	e.FieldStart(name)
	e.Str(v)
}

func timestamp(e *jx.Encoder, name string, t time.Time) {
	if t.IsZero() {
		return
	}
	e.FieldStart(name)
	e.Str(t.UTC().Format(time.RFC3339))
}

func (h *Handler) encodeProduct(e *jx.Encoder, p product.Product) {
	base := h.imageBaseURL
	e.ObjStart()
	str(e, "id", p.ID)
	str(e, "name", p.Name)
	money(e, "price", p.Price)
	str(e, "category", p.Category)
	if p.Brand != "" {
		str(e, "brand", p.Brand)
	}
	e.Field("image", func(e *jx.Encoder) {
		e.ObjStart()
		str(e, "thumbnail", base+p.Image.Thumbnail)
		str(e, "mobile", base+p.Image.Mobile)
		str(e, "tablet", base+p.Image.Tablet)
		str(e, "desktop", base+p.Image.Desktop)
		e.ObjEnd()
	})
	e.ObjEnd()
}

func (h *Handler) encodeProducts(e *jx.Encoder, name string, ps []product.Product) {
	e.FieldStart(name)
	e.ArrStart()
	for _, p := range ps {
		h.encodeProduct(e, p)
	}
	e.ArrEnd()
}

func encodeLine(e *jx.Encoder, l stacking.Line) {
	e.ObjStart()
	str(e, "userCouponId", l.UserCouponID)
	str(e, "couponId", l.CouponID)
	str(e, "code", l.Code)
	str(e, "type", string(l.Type))
	str(e, "target", string(l.Target))
	money(e, "amount", l.Amount)
	money(e, "baseBefore", l.BaseBefore)
	money(e, "baseAfter", l.BaseAfter)
	if l.Clamped {
		e.FieldStart("clamped")
		e.Bool(true)
	}
	e.ObjEnd()
}

func encodeScored(e *jx.Encoder, s stacking.Scored) {
	e.ObjStart()
	str(e, "combinationId", s.Combination.ID)
	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range s.Lines {
		encodeLine(e, l)
	}
	e.ArrEnd()
	money(e, "totalDiscount", s.TotalDiscount)
	money(e, "subtotalDiscount", s.SubtotalDiscount)
	money(e, "shippingDiscount", s.ShippingDiscount)
	money(e, "cashback", s.Cashback)
	money(e, "resultingSubtotal", s.ResultingSubtotal)
	money(e, "resultingShipping", s.ResultingShipping)
	money(e, "resultingTotal", s.ResultingTotal)
	if len(s.Warnings) > 0 {
		e.FieldStart("warnings")
		e.ArrStart()
		for _, w := range s.Warnings {
			e.Str(w)
		}
		e.ArrEnd()
	}
	e.ObjEnd()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// encodeEvaluation writes the evaluation fields into an open object.
func encodeEvaluation(e *jx.Encoder, ev *stacking.Evaluation) {
	e.FieldStart("accepted")
	encodeScored(e, ev.Accepted)
	e.FieldStart("alternatives")
	e.ArrStart()
	for _, s := range ev.Alternatives {
		encodeScored(e, s)
	}
	e.ArrEnd()
	e.Field("rejections", func(e *jx.Encoder) {
		e.ObjStart()
		for _, id := range sortedKeys(ev.Rejections) {
			str(e, id, string(ev.Rejections[id]))
		}
		e.ObjEnd()
	})
	if len(ev.Invalid) > 0 {
		e.Field("invalid", func(e *jx.Encoder) {
			e.ObjStart()
			for _, id := range sortedKeys(ev.Invalid) {
				str(e, id, ev.Invalid[id].Error())
			}
			e.ObjEnd()
		})
	}
	if len(ev.Unknown) > 0 {
		e.FieldStart("unknownConditions")
		e.ArrStart()
		for _, u := range ev.Unknown {
			e.ObjStart()
			str(e, "userCouponId", u.UserCouponID)
			str(e, "couponId", u.CouponID)
			str(e, "kind", u.Kind)
			e.ObjEnd()
		}
		e.ArrEnd()
	}
	e.FieldStart("candidates")
	e.Int(ev.Candidates)
	e.FieldStart("combinations")
	e.Int(ev.Combinations)
	if ev.Truncated {
		e.FieldStart("truncated")
		e.Bool(true)
	}
	timestamp(e, "evaluatedAt", ev.EvaluatedAt)
}

func encodeReceipt(e *jx.Encoder, r *redemption.Receipt) {
	e.ObjStart()
	str(e, "id", r.ID)
	str(e, "orderId", r.OrderID)
	str(e, "userId", r.UserID)
	str(e, "combinationId", r.CombinationID)
	e.FieldStart("members")
	e.ArrStart()
	for _, m := range r.Members {
		e.ObjStart()
		str(e, "userCouponId", m.UserCouponID)
		str(e, "couponId", m.CouponID)
		money(e, "amount", m.Amount)
		e.ObjEnd()
	}
	e.ArrEnd()
	money(e, "totalDiscount", r.TotalDiscount)
	money(e, "cashback", r.Cashback)
	timestamp(e, "committedAt", r.CommittedAt)
	e.ObjEnd()
}

func encodeOrder(e *jx.Encoder, o *checkout.Order) {
	str(e, "id", o.ID)
	str(e, "userId", o.UserID)
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		str(e, "productId", it.ProductID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
	money(e, "subtotal", o.Subtotal)
	money(e, "shipping", o.Shipping)
	money(e, "discounts", o.Discounts)
	money(e, "total", o.Total)
	money(e, "cashback", o.Cashback)
	if o.CombinationID != "" {
		str(e, "combinationId", o.CombinationID)
	}
	if o.ReceiptID != "" {
		str(e, "receiptId", o.ReceiptID)
	}
	timestamp(e, "createdAt", o.CreatedAt)
}

func encodeUserCoupon(e *jx.Encoder, uc coupon.UserCoupon, def *coupon.Definition) {
	e.ObjStart()
	str(e, "id", uc.ID)
	str(e, "userId", uc.UserID)
	str(e, "couponId", uc.CouponID)
	str(e, "status", string(uc.Status))
	timestamp(e, "obtainedAt", uc.ObtainedAt)
	timestamp(e, "expiresAt", uc.ExpiresAt)
	if uc.UsedAt != nil {
		timestamp(e, "usedAt", *uc.UsedAt)
	}
	if uc.OrderID != "" {
		str(e, "orderId", uc.OrderID)
		money(e, "discountAmount", uc.DiscountAmount)
	}
	if uc.Source != "" {
		str(e, "source", uc.Source)
	}
	if def != nil {
		e.FieldStart("coupon")
		def.Encode(e)
	}
	e.ObjEnd()
}

func encodeRule(e *jx.Encoder, r coupon.RegistryRule) {
	types := func(name string, ts []coupon.DiscountType) {
		e.FieldStart(name)
		e.ArrStart()
		for _, t := range ts {
			e.Str(string(t))
		}
		e.ArrEnd()
	}
	e.ObjStart()
	str(e, "id", r.ID)
	str(e, "name", r.Name)
	types("appliesTo", r.AppliesTo)
	str(e, "stackingType", string(r.Type))
	types("compatibleTypes", r.CompatibleTypes)
	types("incompatibleTypes", r.IncompatibleTypes)
	e.FieldStart("maxStackCount")
	e.Int(r.MaxStackCount)
	e.FieldStart("priority")
	e.Int(r.Priority)
	e.FieldStart("active")
	e.Bool(r.Active)
	e.ObjEnd()
}

func encodeStats(e *jx.Encoder, st *catalog.Stats) {
	e.ObjStart()
	str(e, "couponId", st.CouponID)
	e.FieldStart("totalIssued")
	e.Int(st.TotalIssued)
	e.FieldStart("totalUsed")
	e.Int(st.TotalUsed)
	str(e, "usageRate", st.UsageRate.String())
	e.ObjEnd()
}
