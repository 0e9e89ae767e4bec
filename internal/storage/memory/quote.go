package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xenking/oolio-coupon-engine/internal/domain/checkout"
	"github.com/xenking/oolio-coupon-engine/internal/domain/redemption"
)

var (
	_ checkout.QuoteStore = (*QuoteStore)(nil)
	_ redemption.Locker   = (*Locker)(nil)
)

type quoteEntry struct {
	quote   checkout.Quote
	expires time.Time
}

// QuoteStore keeps quotes until their TTL passes.
type QuoteStore struct {
	mu     sync.Mutex
	quotes map[string]quoteEntry
	now    func() time.Time
}

// NewQuoteStore returns an empty QuoteStore.
func NewQuoteStore() *QuoteStore {
	return &QuoteStore{quotes: map[string]quoteEntry{}, now: time.Now}
}

func quoteKey(userID, combinationID string) string {
	return userID + "|" + combinationID
}

// SaveQuotes stores quotes for ttl, replacing earlier ones with the same key.
func (s *QuoteStore) SaveQuotes(_ context.Context, quotes []checkout.Quote, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.quotes {
		if !now.Before(e.expires) {
			delete(s.quotes, k)
		}
	}
	for _, q := range quotes {
		s.quotes[quoteKey(q.UserID, q.CombinationID)] = quoteEntry{quote: q, expires: now.Add(ttl)}
	}
	return nil
}

// GetQuote returns a live quote or checkout.ErrQuoteNotFound.
func (s *QuoteStore) GetQuote(_ context.Context, userID, combinationID string) (*checkout.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.quotes[quoteKey(userID, combinationID)]
	if !ok || !s.now().Before(e.expires) {
		return nil, checkout.ErrQuoteNotFound
	}
	return &e.quote, nil
}

// Locker is a process-local redemption.Locker.
type Locker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

// NewLocker returns an empty Locker.
func NewLocker() *Locker {
	return &Locker{held: map[string]time.Time{}, now: time.Now}
}

// Lock takes key for ttl unless another holder has it.
func (l *Locker) Lock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if until, ok := l.held[key]; ok && now.Before(until) {
		return false, nil
	}
	l.held[key] = now.Add(ttl)
	return true, nil
}

// Unlock releases key.
func (l *Locker) Unlock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.held, key)
	return nil
}
