package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/oolio-coupon-engine/internal/domain/catalog"
	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
)

func chiParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

func definitionInput(def *coupon.Definition) catalog.DefinitionInput {
	return catalog.DefinitionInput{
		ID:                def.ID,
		Code:              def.Code,
		Name:              def.Name,
		Description:       def.Description,
		Type:              def.Type,
		Discount:          def.Discount,
		Conditions:        def.Conditions,
		TotalUsageLimit:   def.Limits.TotalUsage,
		PerUserLimit:      def.Limits.PerUser,
		DailyLimit:        def.Limits.Daily,
		Validity:          def.Validity,
		Priority:          def.Stacking.Priority,
		StackingType:      def.Stacking.Type,
		CompatibleTypes:   def.Stacking.CompatibleTypes,
		IncompatibleTypes: def.Stacking.IncompatibleTypes,
		MaxStackCount:     def.Stacking.MaxStackCount,
		Status:            def.Status,
	}
}

func writeDefinition(w http.ResponseWriter, status int, def *coupon.Definition) {
	writeJSON(w, status, def.Encode)
}

func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data, err := h.readBody(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	var in coupon.Definition
	if err := in.Decode(jx.DecodeBytes(data)); err != nil {
		writeError(ctx, w, badRequest(err))
		return
	}

	def, err := h.catalog.CreateDefinition(ctx, definitionInput(&in))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeDefinition(w, http.StatusCreated, def)
}

func (h *Handler) listCoupons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defs, err := h.catalog.List(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	status := coupon.Status(r.URL.Query().Get("status"))
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range defs {
			if status != "" && defs[i].Status != status {
				continue
			}
			defs[i].Encode(e)
		}
		e.ArrEnd()
	})
}

func (h *Handler) getCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	def, err := h.catalog.Get(ctx, chiParam(r, "couponID"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeDefinition(w, http.StatusOK, def)
}

func (h *Handler) updateCouponStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var to string
	err := h.decodeBody(r, func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		var err error
		to, err = d.Str()
		return err
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	def, err := h.catalog.UpdateStatus(ctx, chiParam(r, "couponID"), coupon.Status(to))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeDefinition(w, http.StatusOK, def)
}

func (h *Handler) couponStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := h.catalog.Stats(ctx, chiParam(r, "couponID"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeStats(e, st)
	})
}

func (h *Handler) issueCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	source := "admin"
	var userID string
	err := h.decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "userId":
			userID, err = d.Str()
		case "source":
			source, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	uc, err := h.catalog.Issue(ctx, chiParam(r, "couponID"), userID, source)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		encodeUserCoupon(e, *uc, nil)
	})
}

func decodeRuleInput(d *jx.Decoder, key string, in *catalog.RuleInput) error {
	var err error
	switch key {
	case "name":
		in.Name, err = d.Str()
	case "appliesTo":
		in.AppliesTo, err = coupon.DecodeTypes(d)
	case "stackingType":
		var s string
		s, err = d.Str()
		in.Type = coupon.StackingType(s)
	case "compatibleTypes":
		in.CompatibleTypes, err = coupon.DecodeTypes(d)
	case "incompatibleTypes":
		in.IncompatibleTypes, err = coupon.DecodeTypes(d)
	case "maxStackCount":
		in.MaxStackCount, err = d.Int()
	case "priority":
		in.Priority, err = d.Int()
	case "active":
		var v bool
		v, err = d.Bool()
		in.Active = &v
	default:
		err = d.Skip()
	}
	return err
}

func (h *Handler) createStackingRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var in catalog.RuleInput
	if err := h.decodeBody(r, func(d *jx.Decoder, key string) error {
		return decodeRuleInput(d, key, &in)
	}); err != nil {
		writeError(ctx, w, err)
		return
	}

	rule, err := h.catalog.CreateStackingRule(ctx, in)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		encodeRule(e, *rule)
	})
}

func (h *Handler) listStackingRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rules, err := h.catalog.ListStackingRules(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, rule := range rules {
			encodeRule(e, rule)
		}
		e.ArrEnd()
	})
}
