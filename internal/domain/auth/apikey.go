// Package auth authenticates admin API keys.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/go-faster/errors"
)

// ScopeAdmin grants access to the coupon administration endpoints.
const ScopeAdmin = "admin"

var (
	// ErrUnauthorized is returned for unknown, revoked or mismatched keys.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when the key lacks the required scope.
	ErrForbidden = errors.New("forbidden")
	// ErrKeyNotFound is returned by repositories for unknown hashes.
	ErrKeyNotFound = errors.New("api key not found")
)

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key carries scope.
func (i *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(i.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// Authenticator checks raw keys against a Repository.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

// NewAuthenticator creates an Authenticator. pepper is the HMAC key used to
// hash raw API keys before lookup.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Hash returns the hex HMAC-SHA256 of key.
func (a *Authenticator) Hash(key string) string {
	return HashKey(a.pepper, key)
}

// HashKey returns the hex HMAC-SHA256 of key under pepper.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticate resolves a raw key and requires scope on it.
func (a *Authenticator) Authenticate(ctx context.Context, key, scope string) (*APIKeyInfo, error) {
	if key == "" {
		return nil, ErrUnauthorized
	}
	mac := hmac.New(sha256.New, a.pepper)
	mac.Write([]byte(key))
	hash := mac.Sum(nil)

	info, err := a.keys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, errors.Wrap(err, "find api key")
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, ErrUnauthorized
	}
	if scope != "" && !info.HasScope(scope) {
		return nil, ErrForbidden
	}
	return info, nil
}

// StaticKeys is a Repository over a fixed key set, used when no database is
// configured.
type StaticKeys map[string]APIKeyInfo

// NewStaticKeys hashes raw keys with pepper. Every key gets the admin scope.
func NewStaticKeys(pepper []byte, raw ...string) StaticKeys {
	keys := make(StaticKeys, len(raw))
	for i, k := range raw {
		if k == "" {
			continue
		}
		h := HashKey(pepper, k)
		keys[h] = APIKeyInfo{
			ID:      fmt.Sprintf("static-%d", i+1),
			KeyHash: h,
			Name:    "static",
			Scopes:  []string{ScopeAdmin},
		}
	}
	return keys
}

// FindByHash implements Repository.
func (s StaticKeys) FindByHash(_ context.Context, hash string) (*APIKeyInfo, error) {
	info, ok := s[hash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return &info, nil
}
