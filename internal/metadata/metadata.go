// Package metadata caches per-token exchange parameters: tick size, negative-risk flag and fee rate.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/daszybak/polytrader/internal/price"
)

// ErrMetadataUnavailable is returned to every waiter of a failed upstream fetch.
var ErrMetadataUnavailable = errors.New("metadata unavailable")

const defaultFetchTimeout = 10 * time.Second

// TokenMetadata holds the exchange parameters of one outcome token.
type TokenMetadata struct {
	TokenID    string      `json:"token_id"`
	TickSize   price.Price `json:"tick_size"`
	NegRisk    bool        `json:"neg_risk"`
	FeeRateBps int         `json:"fee_rate_bps"`
}

// Validate checks that the metadata can be used to build orders.
func (m TokenMetadata) Validate() error {
	if m.TokenID == "" {
		return errors.New("empty token id")
	}
	if !ValidTickSize(m.TickSize) {
		return fmt.Errorf("unsupported tick size %s", m.TickSize)
	}
	if m.FeeRateBps < 0 {
		return fmt.Errorf("negative fee rate %d", m.FeeRateBps)
	}
	return nil
}

// ValidTickSize reports whether tick is one of 0.1, 0.01, 0.001 or 0.0001.
func ValidTickSize(tick price.Price) bool {
	switch tick {
	case 100_000, 10_000, 1_000, 100:
		return true
	default:
		return false
	}
}

// Fetcher loads metadata for a token from upstream.
type Fetcher interface {
	FetchMetadata(ctx context.Context, tokenID string) (TokenMetadata, error)
}

// Invalidator is implemented by fetchers that keep their own copy of metadata.
type Invalidator interface {
	Invalidate(ctx context.Context, tokenID string) error
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, tokenID string) (TokenMetadata, error)

func (f FetcherFunc) FetchMetadata(ctx context.Context, tokenID string) (TokenMetadata, error) {
	return f(ctx, tokenID)
}

// Cache memoizes TokenMetadata per token for its lifetime.
// Concurrent misses for one token share a single upstream fetch.
// Failed fetches are not cached.
type Cache struct {
	fetcher      Fetcher
	fetchTimeout time.Duration
	logger       *slog.Logger

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]TokenMetadata
	// gens is bumped on every invalidation so a fetch that started before it is not stored.
	gens map[string]uint64
}

type Option func(*Cache)

// WithFetchTimeout bounds every upstream fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		c.fetchTimeout = d
	}
}

func New(f Fetcher, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		fetcher:      f,
		fetchTimeout: defaultFetchTimeout,
		logger:       logger.With("component", "metadata_cache"),
		entries:      make(map[string]TokenMetadata),
		gens:         make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the metadata for tokenID, fetching it on first access.
// Cancelling ctx stops the wait but not the shared fetch.
func (c *Cache) Get(ctx context.Context, tokenID string) (TokenMetadata, error) {
	c.mu.RLock()
	md, ok := c.entries[tokenID]
	gen := c.gens[tokenID]
	c.mu.RUnlock()
	if ok {
		return md, nil
	}

	ch := c.group.DoChan(tokenID, func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), tokenID, gen)
	})

	select {
	case <-ctx.Done():
		return TokenMetadata{}, fmt.Errorf("waiting for metadata of %s: %w", tokenID, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return TokenMetadata{}, res.Err
		}
		return res.Val.(TokenMetadata), nil
	}
}

func (c *Cache) fetch(ctx context.Context, tokenID string, gen uint64) (TokenMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	md, err := c.fetcher.FetchMetadata(ctx, tokenID)
	if err == nil {
		err = md.Validate()
	}
	if err != nil {
		c.logger.Warn("couldn't fetch metadata", "token", tokenID, "error", err)
		return TokenMetadata{}, fmt.Errorf("token %s: %w: %w", tokenID, ErrMetadataUnavailable, err)
	}

	c.mu.Lock()
	if c.gens[tokenID] == gen {
		c.entries[tokenID] = md
	}
	c.mu.Unlock()

	c.logger.Debug("cached metadata", "token", tokenID, "tick_size", md.TickSize, "neg_risk", md.NegRisk, "fee_rate_bps", md.FeeRateBps)
	return md, nil
}

// Peek returns the cached metadata without fetching.
func (c *Cache) Peek(tokenID string) (TokenMetadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	md, ok := c.entries[tokenID]
	return md, ok
}

// Invalidate drops the cached entry so the next Get refetches it.
// Fetchers implementing Invalidator are invalidated too.
func (c *Cache) Invalidate(ctx context.Context, tokenID string) error {
	c.mu.Lock()
	delete(c.entries, tokenID)
	c.gens[tokenID]++
	c.mu.Unlock()
	// Later callers must not join a fetch that started before the invalidation.
	c.group.Forget(tokenID)

	c.logger.Debug("invalidated metadata", "token", tokenID)

	if inv, ok := c.fetcher.(Invalidator); ok {
		if err := inv.Invalidate(ctx, tokenID); err != nil {
			return fmt.Errorf("couldn't invalidate upstream metadata for %s: %w", tokenID, err)
		}
	}
	return nil
}
