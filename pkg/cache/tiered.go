package cache

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// Builder produces the value for a cache miss.
type Builder func(ctx context.Context) ([]byte, error)

// Tiered composes L1/L2/(optional L3) into a single read-through cache. A
// hit at tier N populates every tier 1..N-1 on the way back out ("fill
// down"), and concurrent misses for the same key collapse into one Builder
// call via singleflight, satisfying the backbone's single-flight build
// invariant: N concurrent get_or_build calls for the same fingerprint invoke
// the builder exactly once.
//
// A tier error is never fatal: Get and Put log it and degrade to the next
// tier, and GetOrBuild falls all the way through to build when every tier
// is down, so a transient L2/L3 outage costs performance, not correctness.
type Tiered struct {
	tiers  []Tier
	group  singleflight.Group
	ttl    time.Duration
	logger *slog.Logger
}

// NewTiered composes tiers in precedence order (fastest first). A nil entry
// in tiers is skipped, so callers can pass an absent L3 directly.
func NewTiered(defaultTTL time.Duration, logger *slog.Logger, tiers ...Tier) *Tiered {
	active := make([]Tier, 0, len(tiers))
	for _, t := range tiers {
		if t != nil {
			active = append(active, t)
		}
	}
	return &Tiered{tiers: active, ttl: defaultTTL, logger: logger}
}

func (t *Tiered) logDegrade(op, key string, index int, err error) {
	if t.logger == nil {
		return
	}
	t.logger.Warn("cache tier degraded", "op", op, "tier", index, "key", key, "err", err)
}

// Get checks each tier in order, backfilling every faster tier it skipped
// past on the way to a hit. A tier that errors is logged and skipped rather
// than treated as a cache failure, per the cache's degrade-to-next-tier
// contract.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	for i, tier := range t.tiers {
		value, ok, err := tier.Get(ctx, key)
		if err != nil {
			t.logDegrade("get", key, i, err)
			continue
		}
		if ok {
			for _, faster := range t.tiers[:i] {
				_ = faster.Put(ctx, key, value, t.ttl)
			}
			return value, true, nil
		}
	}
	return nil, false, nil
}

// Put writes key to every configured tier, logging and continuing past any
// tier that errors rather than aborting the whole write.
func (t *Tiered) Put(ctx context.Context, key string, value []byte) error {
	for i, tier := range t.tiers {
		if err := tier.Put(ctx, key, value, t.ttl); err != nil {
			t.logDegrade("put", key, i, err)
		}
	}
	return nil
}

// GetOrBuild returns the cached value for key, or calls build exactly once
// per overlapping set of concurrent callers and fills every tier with the
// result before returning it. Get never errors (tier failures are
// logged and skipped), so the only way build runs is a genuine miss across every
// tier — including every tier being down, which is the spec's "bypass
// cache, call builder directly" path.
func (t *Tiered) GetOrBuild(ctx context.Context, key string, build Builder) ([]byte, error) {
	if value, ok, _ := t.Get(ctx, key); ok {
		return value, nil
	}

	result, err, _ := t.group.Do(key, func() (any, error) {
		if value, ok, _ := t.Get(ctx, key); ok {
			return value, nil
		}
		value, err := build(ctx)
		if err != nil {
			return nil, err
		}
		_ = t.Put(ctx, key, value)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// Invalidate removes key from every tier, used when a document's source
// content changes under an id the cache already keyed on.
func (t *Tiered) Invalidate(ctx context.Context, key string) error {
	for i, tier := range t.tiers {
		if err := tier.Put(ctx, key, nil, -time.Nanosecond); err != nil {
			t.logDegrade("invalidate", key, i, err)
		}
	}
	return nil
}
