package httpmiddleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// RequestIDHeader is the default request id header.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLen = 128

type ctxRequestID struct{}

// RequestIDFromContext returns the id stored by RequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxRequestID{}).(string)
	return id
}

// RequestIDConfig configures RequestIDWith.
type RequestIDConfig struct {
	// Header is read from the request and written to the response.
	// Defaults to RequestIDHeader.
	Header string
	// Generate returns a new id. Defaults to a time-ordered UUIDv7, so ids
	// in commit and order logs sort by arrival.
	Generate func() string
}

// RequestID is RequestIDWith using the defaults.
func RequestID() Middleware {
	return RequestIDWith(RequestIDConfig{})
}

// RequestIDWith tags every request with an id. A well-formed incoming id is
// kept; anything else is replaced. The id is echoed on the response.
func RequestIDWith(cfg RequestIDConfig) Middleware {
	if cfg.Header == "" {
		cfg.Header = RequestIDHeader
	}
	if cfg.Generate == nil {
		cfg.Generate = newRequestID
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(cfg.Header)
			if !wellFormedRequestID(id) {
				id = cfg.Generate()
			}
			w.Header().Set(cfg.Header, id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxRequestID{}, id)))
		})
	}
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// wellFormedRequestID accepts short printable ASCII ids, which keeps
// control characters out of headers and logs.
func wellFormedRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	return strings.IndexFunc(id, func(r rune) bool { return r < ' ' || r > '~' }) < 0
}
