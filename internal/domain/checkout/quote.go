package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-coupon-engine/internal/domain/redemption"
	"github.com/xenking/oolio-coupon-engine/internal/domain/stacking"
)

// ErrQuoteNotFound is returned when a combination was never previewed for
// the user or its quote has expired.
var ErrQuoteNotFound = errors.New("quote not found or expired")

// Quote is a previewed combination the user may commit until ExpiresAt.
type Quote struct {
	UserID        string
	CombinationID string
	Members       []redemption.Member
	TotalDiscount decimal.Decimal
	Cashback      decimal.Decimal
	ExpiresAt     time.Time
}

// QuoteStore keeps previewed combinations between preview and commit.
type QuoteStore interface {
	SaveQuotes(ctx context.Context, quotes []Quote, ttl time.Duration) error
	GetQuote(ctx context.Context, userID, combinationID string) (*Quote, error)
}

func newQuote(userID string, s stacking.Scored, expires time.Time) Quote {
	q := Quote{
		UserID:        userID,
		CombinationID: s.Combination.ID,
		TotalDiscount: s.TotalDiscount,
		Cashback:      s.Cashback,
		ExpiresAt:     expires,
	}
	for _, l := range s.Lines {
		q.Members = append(q.Members, redemption.Member{
			UserCouponID: l.UserCouponID,
			CouponID:     l.CouponID,
			Amount:       l.Amount,
		})
	}
	return q
}

func (q *Quote) commitRequest(orderID string) redemption.CommitRequest {
	return redemption.CommitRequest{
		UserID:        q.UserID,
		OrderID:       orderID,
		CombinationID: q.CombinationID,
		Members:       q.Members,
		TotalDiscount: q.TotalDiscount,
		Cashback:      q.Cashback,
	}
}

// Encode writes the quote as JSON.
func (q *Quote) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("userId")
	e.Str(q.UserID)
	e.FieldStart("combinationId")
	e.Str(q.CombinationID)
	e.FieldStart("members")
	e.ArrStart()
	for _, m := range q.Members {
		e.ObjStart()
		e.FieldStart("userCouponId")
		e.Str(m.UserCouponID)
		e.FieldStart("couponId")
		e.Str(m.CouponID)
		e.FieldStart("amount")
		e.Str(m.Amount.String())
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("totalDiscount")
	e.Str(q.TotalDiscount.String())
	e.FieldStart("cashback")
	e.Str(q.Cashback.String())
	e.FieldStart("expiresAt")
	e.Str(q.ExpiresAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
}

// Decode reads a quote written by Encode.
func (q *Quote) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "userId":
			v, err := d.Str()
			q.UserID = v
			return err
		case "combinationId":
			v, err := d.Str()
			q.CombinationID = v
			return err
		case "members":
			return d.Arr(func(d *jx.Decoder) error {
				var m redemption.Member
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					switch key {
					case "userCouponId":
						v, err := d.Str()
						m.UserCouponID = v
						return err
					case "couponId":
						v, err := d.Str()
						m.CouponID = v
						return err
					case "amount":
						v, err := decodeDecimal(d)
						m.Amount = v
						return err
					default:
						return d.Skip()
					}
				}); err != nil {
					return err
				}
				q.Members = append(q.Members, m)
				return nil
			})
		case "totalDiscount":
			v, err := decodeDecimal(d)
			q.TotalDiscount = v
			return err
		case "cashback":
			v, err := decodeDecimal(d)
			q.Cashback = v
			return err
		case "expiresAt":
			s, err := d.Str()
			if err != nil {
				return err
			}
			q.ExpiresAt, err = time.Parse(time.RFC3339Nano, s)
			return err
		default:
			return d.Skip()
		}
	})
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	s, err := d.Str()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(s)
}
