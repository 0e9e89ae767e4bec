package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passing() CheckFunc {
	return func(context.Context) error { return nil }
}

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func runN(c *check, n int) {
	for range n {
		c.run(context.Background())
	}
}

func serve(t *testing.T, fn http.HandlerFunc) (int, string) {
	t.Helper()
	w := httptest.NewRecorder()
	fn(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	return w.Code, w.Body.String()
}

func TestLiveEndpoint(t *testing.T) {
	tests := []struct {
		name  string
		fails int
		code  int
		body  string
	}{
		{name: "healthy", fails: 0, code: http.StatusOK, body: `{"status":"ok"}`},
		{name: "below threshold", fails: failureThreshold - 1, code: http.StatusOK, body: `{"status":"ok"}`},
		{
			name:  "unhealthy",
			fails: failureThreshold,
			code:  http.StatusServiceUnavailable,
			body:  `{"status":"unhealthy","checks":{"db":"connection refused"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			h.AddLivenessCheck("db", time.Second, failing("connection refused"))
			runN(h.liveness[0], tt.fails)

			code, body := serve(t, h.LiveEndpoint)
			assert.Equal(t, tt.code, code)
			assert.JSONEq(t, tt.body, body)
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	h := New()
	h.AddReadinessCheck("cache", time.Second, passing())
	h.AddReadinessCheck("postgres", time.Second, failing("timeout"))

	code, body := serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"_readiness":"service is not ready"}}`, body)
	assert.False(t, h.IsReady())

	h.SetReady(true)
	code, _ = serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, h.IsReady())

	runN(h.readiness[1], failureThreshold)
	code, body = serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"postgres":"timeout"}}`, body)
	assert.False(t, h.IsReady())

	h.SetReady(false)
	_, body = serve(t, h.ReadyEndpoint)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"_readiness":"service is not ready","postgres":"timeout"}}`, body)
}

func TestCheckRecovers(t *testing.T) {
	var (
		mu  sync.Mutex
		err = errors.New("down")
	)
	h := New()
	h.AddLivenessCheck("flaky", time.Second, func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		return err
	})
	c := h.liveness[0]

	runN(c, failureThreshold)
	code, _ := serve(t, h.LiveEndpoint)
	require.Equal(t, http.StatusServiceUnavailable, code)

	mu.Lock()
	err = nil
	mu.Unlock()
	runN(c, successThreshold)
	code, _ = serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code)
}

func TestStartStop(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, failing("down"))
	h.SetReady(true)

	h.Start(context.Background(), 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !h.IsReady() }, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
}

func TestPingCheck(t *testing.T) {
	ok := PingCheck("redis", pingerFunc(func(context.Context) error { return nil }))
	require.NoError(t, ok(context.Background()))

	bad := PingCheck("redis", pingerFunc(func(context.Context) error { return errors.New("refused") }))
	err := bad(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis")
}

func TestGoroutineCountCheck(t *testing.T) {
	require.NoError(t, GoroutineCountCheck(100000)(context.Background()))
	require.Error(t, GoroutineCountCheck(0)(context.Background()))
}

func TestGCMaxPauseCheck(t *testing.T) {
	require.NoError(t, GCMaxPauseCheck(time.Hour)(context.Background()))
}
