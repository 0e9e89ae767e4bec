package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/oolio-coupon-engine/internal/domain/catalog"
	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
)

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chiParam(r, "userID")
	p, err := h.catalog.Profile(ctx, userID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeProfile(w, userID, p)
}

func (h *Handler) setProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	in := catalog.ProfileInput{UserID: chiParam(r, "userID")}
	err := h.decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "level":
			in.Level, err = d.Str()
		case "isNewCustomer":
			in.IsNewCustomer, err = d.Bool()
		case "birthday":
			in.Birthday, err = decodeBirthday(d)
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	p, err := h.catalog.SetProfile(ctx, in)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeProfile(w, in.UserID, p)
}

func decodeBirthday(d *jx.Decoder) (*time.Time, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := parseDate(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func writeProfile(w http.ResponseWriter, userID string, p coupon.Profile) {
	writeObject(w, http.StatusOK, func(e *jx.Encoder) {
		str(e, "userId", userID)
		str(e, "level", p.Level)
		e.FieldStart("isNewCustomer")
		e.Bool(p.IsNewCustomer)
		e.FieldStart("birthday")
		if p.Birthday == nil {
			e.Null()
		} else {
			e.Str(p.Birthday.Format(time.DateOnly))
		}
	})
}
