// Package handler exposes the checkout and admin HTTP API.
package handler

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oolio-coupon-engine/internal/domain/auth"
	"github.com/xenking/oolio-coupon-engine/internal/domain/catalog"
	"github.com/xenking/oolio-coupon-engine/internal/domain/checkout"
	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
	"github.com/xenking/oolio-coupon-engine/internal/domain/product"
	"github.com/xenking/oolio-coupon-engine/internal/domain/redemption"
)

const defaultMaxBodyBytes = 1 << 20

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

// badRequestError marks malformed input.
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return &badRequestError{err: err}
}

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// ImageBaseURL is prepended to relative image paths in product responses.
	ImageBaseURL string
	// MaxBodyBytes bounds request bodies. Defaults to 1 MiB.
	MaxBodyBytes int64
}

// Handler serves the HTTP API on top of the checkout and catalog services.
type Handler struct {
	checkout     *checkout.Service
	catalog      *catalog.Service
	products     product.Repository
	auth         *auth.Authenticator
	imageBaseURL string
	maxBody      int64
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg HandlerConfig,
	checkoutSvc *checkout.Service,
	catalogSvc *catalog.Service,
	products product.Repository,
	authn *auth.Authenticator,
) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Handler{
		checkout:     checkoutSvc,
		catalog:      catalogSvc,
		products:     products,
		auth:         authn,
		imageBaseURL: cfg.ImageBaseURL,
		maxBody:      cfg.MaxBodyBytes,
	}
}

// Routes mounts the API under /api. Admin routes require an API key with
// the admin scope.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.listProducts)
		r.Get("/products/{productID}", h.getProduct)

		r.Post("/checkout/preview", h.preview)
		r.Post("/checkout/commit", h.commit)
		r.Post("/orders", h.placeOrder)
		r.Get("/users/{userID}/coupons", h.userWallet)

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.RequireAPIKey(auth.ScopeAdmin))

			r.Post("/coupons", h.createCoupon)
			r.Get("/coupons", h.listCoupons)
			r.Get("/coupons/{couponID}", h.getCoupon)
			r.Put("/coupons/{couponID}/status", h.updateCouponStatus)
			r.Get("/coupons/{couponID}/stats", h.couponStats)
			r.Post("/coupons/{couponID}/issue", h.issueCoupon)

			r.Post("/stacking-rules", h.createStackingRule)
			r.Get("/stacking-rules", h.listStackingRules)

			r.Get("/users/{userID}/profile", h.getProfile)
			r.Put("/users/{userID}/profile", h.setProfile)
		})
	})
}

func (h *Handler) readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, badRequest(errEmptyBody)
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody+1))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, badRequest(errEmptyBody)
	}
	if int64(len(data)) > h.maxBody {
		return nil, badRequest(errBodyTooLarge)
	}
	return data, nil
}

// decodeBody reads the body and walks its top-level object.
func (h *Handler) decodeBody(r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	data, err := h.readBody(r)
	if err != nil {
		return err
	}
	if err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		return fn(d, string(key))
	}); err != nil {
		return badRequest(err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	e := &jx.Encoder{}
	fn(e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeObject writes a JSON object whose fields are produced by fn.
func writeObject(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		fn(e)
		e.ObjEnd()
	})
}

type apiError struct {
	status int
	msg    string
	reason string
	fields map[string]string
}

// classify maps domain errors to HTTP responses. Anything unrecognised is an
// internal error.
func classify(err error) apiError {
	var (
		bad        *badRequestError
		validation *catalog.ValidationError
		quantity   *checkout.InvalidQuantityError
		missing    *checkout.ProductNotFoundError
		transition *catalog.InvalidTransitionError
		conflict   *redemption.ConflictError
	)
	switch {
	case errors.As(err, &bad):
		return apiError{status: http.StatusBadRequest, msg: bad.Error()}
	case errors.As(err, &validation):
		return apiError{status: http.StatusBadRequest, msg: "validation failed", fields: validation.Fields}
	case errors.Is(err, checkout.ErrEmptyItems),
		errors.Is(err, checkout.ErrMissingUser),
		errors.Is(err, checkout.ErrInvalidShipping),
		errors.Is(err, redemption.ErrInvalidRequest):
		return apiError{status: http.StatusBadRequest, msg: err.Error()}
	case errors.As(err, &quantity):
		return apiError{status: http.StatusUnprocessableEntity, msg: quantity.Error()}
	case errors.As(err, &missing):
		return apiError{status: http.StatusUnprocessableEntity, msg: missing.Error()}
	case errors.Is(err, auth.ErrUnauthorized):
		return apiError{status: http.StatusUnauthorized, msg: "unauthorized"}
	case errors.Is(err, auth.ErrForbidden):
		return apiError{status: http.StatusForbidden, msg: "forbidden"}
	case errors.Is(err, coupon.ErrNotFound),
		errors.Is(err, product.ErrNotFound),
		errors.Is(err, checkout.ErrQuoteNotFound):
		return apiError{status: http.StatusNotFound, msg: err.Error()}
	case errors.As(err, &conflict):
		return apiError{status: http.StatusConflict, msg: conflict.Error(), reason: conflict.Reason}
	case errors.Is(err, redemption.ErrConflict),
		errors.Is(err, coupon.ErrDuplicateCode),
		errors.Is(err, catalog.ErrNotIssuable):
		return apiError{status: http.StatusConflict, msg: err.Error()}
	case errors.As(err, &transition):
		return apiError{status: http.StatusConflict, msg: transition.Error()}
	case errors.Is(err, coupon.ErrInvalidDefinition),
		errors.Is(err, catalog.ErrInvalidRule):
		return apiError{status: http.StatusUnprocessableEntity, msg: err.Error()}
	case errors.Is(err, catalog.ErrNoProfiles):
		return apiError{status: http.StatusNotImplemented, msg: err.Error()}
	}
	return apiError{status: http.StatusInternalServerError, msg: "internal error"}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	ae := classify(err)
	if ae.status == http.StatusInternalServerError {
		zctx.From(ctx).Error("Request failed", zap.Error(err))
	}
	writeObject(w, ae.status, func(e *jx.Encoder) {
		e.FieldStart("code")
		e.Int(ae.status)
		str(e, "message", ae.msg)
		if ae.reason != "" {
			str(e, "reason", ae.reason)
		}
		if len(ae.fields) > 0 {
			e.Field("fields", func(e *jx.Encoder) {
				e.ObjStart()
				for _, k := range sortedKeys(ae.fields) {
					str(e, k, ae.fields[k])
				}
				e.ObjEnd()
			})
		}
	})
}
