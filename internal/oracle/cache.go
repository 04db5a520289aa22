package oracle

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"LendLedger/internal/ledger"
)

// CachedSource is a Redis read-through wrapper around another source. Each
// asset's quote is stored as a hash at "oracle:price:{asset}" with fields
// "price" and "ts", expiring after the configured TTL so the ledger never
// values positions against a quote older than the TTL.
type CachedSource struct {
	inner Source
	rdb   *redis.Client
	ttl   time.Duration
}

func NewCachedSource(inner Source, rdb *redis.Client, ttl time.Duration) *CachedSource {
	return &CachedSource{inner: inner, rdb: rdb, ttl: ttl}
}

func cacheKey(asset ledger.AssetID) string {
	return "oracle:price:" + string(asset)
}

func (c *CachedSource) GetPrice(ctx context.Context, asset ledger.AssetID) (Quote, error) {
	if q, ok := c.lookup(ctx, asset); ok {
		return q, nil
	}

	q, err := c.inner.GetPrice(ctx, asset)
	if err != nil {
		return Quote{}, err
	}
	c.store(ctx, asset, q)
	return q, nil
}

func (c *CachedSource) lookup(ctx context.Context, asset ledger.AssetID) (Quote, bool) {
	vals, err := c.rdb.HGetAll(ctx, cacheKey(asset)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		// Cache trouble falls through to the inner source.
		return Quote{}, false
	}
	if len(vals) == 0 {
		return Quote{}, false
	}
	price, err := strconv.ParseInt(vals["price"], 10, 64)
	if err != nil {
		return Quote{}, false
	}
	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return Quote{}, false
	}
	return Quote{Price: price, AsOf: time.Unix(0, ts)}, true
}

func (c *CachedSource) store(ctx context.Context, asset ledger.AssetID, q Quote) {
	key := cacheKey(asset)
	fields := map[string]interface{}{
		"price": strconv.FormatInt(q.Price, 10),
		"ts":    strconv.FormatInt(q.AsOf.UnixNano(), 10),
	}
	// Best-effort: the quote is already in hand, a failed cache write is not
	// an operation failure.
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, c.ttl)
	_, _ = pipe.Exec(ctx)
}
