// Package redis keeps previewed quotes and per-order commit locks in Redis.
package redis

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/oolio-coupon-engine/internal/domain/checkout"
	"github.com/xenking/oolio-coupon-engine/internal/domain/redemption"
)

const (
	keyNamespace = "coupon"
	quotePrefix  = "quote"
	lockPrefix   = "lock"
)

// unlockScript deletes the key only while it still holds the caller's token.
var unlockScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

type cmdable interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

var (
	_ checkout.QuoteStore = (*Client)(nil)
	_ redemption.Locker   = (*Client)(nil)
)

// Client implements checkout.QuoteStore and redemption.Locker.
type Client struct {
	store cmdable
	raw   *redis.Client

	mu     sync.Mutex
	tokens map[string]string
}

// New connects to the Redis server at url and verifies connectivity.
func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return &Client{store: raw, raw: raw, tokens: map[string]string{}}, nil
}

// Ping verifies the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.store.Ping(ctx).Err()
}

// Close shuts down the underlying client.
func (c *Client) Close() error {
	if c.raw == nil {
		return nil
	}
	return c.raw.Close()
}

// SaveQuotes stores every quote under its own key for ttl.
func (c *Client) SaveQuotes(ctx context.Context, quotes []checkout.Quote, ttl time.Duration) error {
	for i := range quotes {
		q := &quotes[i]
		e := &jx.Encoder{}
		q.Encode(e)
		if err := c.store.Set(ctx, QuoteKey(q.UserID, q.CombinationID), e.Bytes(), ttl).Err(); err != nil {
			return errors.Wrap(err, "set quote")
		}
	}
	return nil
}

// GetQuote returns the stored quote or checkout.ErrQuoteNotFound.
func (c *Client) GetQuote(ctx context.Context, userID, combinationID string) (*checkout.Quote, error) {
	raw, err := c.store.Get(ctx, QuoteKey(userID, combinationID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, checkout.ErrQuoteNotFound
		}
		return nil, errors.Wrap(err, "get quote")
	}
	var q checkout.Quote
	if err := q.Decode(jx.DecodeBytes(raw)); err != nil {
		return nil, errors.Wrap(err, "decode quote")
	}
	return &q, nil
}

// Lock takes key with SET NX and a random owner token.
func (c *Client) Lock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := c.store.SetNX(ctx, LockKey(key), token, ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "setnx")
	}
	if ok {
		c.mu.Lock()
		c.tokens[key] = token
		c.mu.Unlock()
	}
	return ok, nil
}

// Unlock releases key if this client still owns it.
func (c *Client) Unlock(ctx context.Context, key string) error {
	c.mu.Lock()
	token, ok := c.tokens[key]
	delete(c.tokens, key)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if err := c.store.Eval(ctx, unlockScript, []string{LockKey(key)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return errors.Wrap(err, "release lock")
	}
	return nil
}

// QuoteKey returns the namespaced key of a quote.
func QuoteKey(userID, combinationID string) string {
	return buildKey(quotePrefix, userID, combinationID)
}

// LockKey returns the namespaced key of a lock.
func LockKey(name string) string {
	return buildKey(lockPrefix, name)
}

func buildKey(parts ...string) string {
	clean := []string{keyNamespace}
	for _, part := range parts {
		if part == "" {
			continue
		}
		clean = append(clean, strings.TrimSpace(part))
	}
	return strings.Join(clean, ":")
}
