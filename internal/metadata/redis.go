package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "polytrader:metadata:"

// RedisFetcher shares fetched metadata between processes through Redis.
// Redis failures are logged and fall through to the next fetcher.
type RedisFetcher struct {
	rdb    redis.Cmdable
	next   Fetcher
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

var (
	_ Fetcher     = (*RedisFetcher)(nil)
	_ Invalidator = (*RedisFetcher)(nil)
)

// NewRedisFetcher wraps next. A zero ttl keeps entries until invalidated.
func NewRedisFetcher(rdb redis.Cmdable, next Fetcher, ttl time.Duration, logger *slog.Logger) *RedisFetcher {
	return &RedisFetcher{
		rdb:    rdb,
		next:   next,
		ttl:    ttl,
		prefix: defaultKeyPrefix,
		logger: logger.With("component", "metadata_redis"),
	}
}

func (r *RedisFetcher) key(tokenID string) string {
	return r.prefix + tokenID
}

func (r *RedisFetcher) FetchMetadata(ctx context.Context, tokenID string) (TokenMetadata, error) {
	raw, err := r.rdb.Get(ctx, r.key(tokenID)).Bytes()
	switch {
	case err == nil:
		var md TokenMetadata
		if err := json.Unmarshal(raw, &md); err == nil {
			return md, nil
		}
		r.logger.Warn("dropping undecodable metadata entry", "token", tokenID)
	case errors.Is(err, redis.Nil):
	default:
		r.logger.Warn("redis get failed", "token", tokenID, "error", err)
	}

	md, err := r.next.FetchMetadata(ctx, tokenID)
	if err != nil {
		return TokenMetadata{}, err
	}

	b, err := json.Marshal(md)
	if err != nil {
		return md, nil
	}
	if err := r.rdb.Set(ctx, r.key(tokenID), b, r.ttl).Err(); err != nil {
		r.logger.Warn("redis set failed", "token", tokenID, "error", err)
	}
	return md, nil
}

func (r *RedisFetcher) Invalidate(ctx context.Context, tokenID string) error {
	if err := r.rdb.Del(ctx, r.key(tokenID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
