// Package auth verifies the RS256 session tokens minted by the matchmaking
// API. Public keys come from the API's JWKS endpoint and are cached with a
// bounded refresh rate so a key rotation never turns into a fetch storm.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"
)

var errKeyNotFound = errors.New("jwks: key id not found")

// jwk is one RSA key entry of a JWKS document.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

// JWKSCache fetches and caches the RSA public keys of a JWKS endpoint.
// Keys are served from cache for up to maxAge; refreshes are rate limited
// by cooldown so unknown-kid probes cannot hammer the endpoint.
type JWKSCache struct {
	url      string
	maxAge   time.Duration
	cooldown time.Duration
	client   *http.Client
	logger   *slog.Logger

	mu          sync.Mutex
	keys        map[string]*rsa.PublicKey
	fetchedAt   time.Time
	lastAttempt time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewJWKSCache builds a cache over the given JWKS URL.
func NewJWKSCache(url string, logger *slog.Logger) *JWKSCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &JWKSCache{
		url:      url,
		maxAge:   5 * time.Minute,
		cooldown: time.Second,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   logger.With("component", "jwks"),
		keys:     map[string]*rsa.PublicKey{},
		now:      time.Now,
	}
}

// Key returns the public key for a kid, refreshing the cache when the entry
// is stale or absent.
func (c *JWKSCache) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key, ok := c.keys[kid]; ok && c.now().Sub(c.fetchedAt) < c.maxAge {
		return key, nil
	}
	if err := c.refreshLocked(ctx); err != nil {
		// A stale key beats no key when the endpoint is down.
		if key, ok := c.keys[kid]; ok {
			c.logger.Warn("serving stale jwks key", "kid", kid, "error", err)
			return key, nil
		}
		return nil, err
	}
	if key, ok := c.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %q", errKeyNotFound, kid)
}

// ForceRefresh drops the freshness window and refetches, still subject to
// the cooldown. Used once when verification hits an unknown kid or a
// signature mismatch, to pick up a rotation without waiting out maxAge.
func (c *JWKSCache) ForceRefresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *JWKSCache) refreshLocked(ctx context.Context) error {
	if c.now().Sub(c.lastAttempt) < c.cooldown {
		return nil
	}
	c.lastAttempt = c.now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("jwks request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("jwks fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks fetch: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("jwks read: %w", err)
	}
	var doc jwksDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("jwks decode: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			c.logger.Warn("skipping malformed jwks entry", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = pub
	}
	c.keys = keys
	c.fetchedAt = c.now()
	c.logger.Debug("jwks refreshed", "keys", len(keys))
	return nil
}

func (k jwk) publicKey() (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	e := 0
	for _, b := range eb {
		e = e<<8 | int(b)
	}
	if e <= 1 {
		return nil, errors.New("exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}
