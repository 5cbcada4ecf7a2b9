package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// L1Mem is the in-process, size-bounded first cache tier.
type L1Mem struct {
	cache *lru.Cache[string, Entry]
}

// NewL1Mem constructs an L1 tier holding at most capacity entries,
// evicting least-recently-used on overflow.
func NewL1Mem(capacity int) (*L1Mem, error) {
	c, err := lru.New[string, Entry](capacity)
	if err != nil {
		return nil, err
	}
	return &L1Mem{cache: c}, nil
}

func (l *L1Mem) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, ok := l.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	if entry.expired(time.Now()) {
		l.cache.Remove(key)
		return nil, false, nil
	}
	return entry.Value, true, nil
}

func (l *L1Mem) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := Entry{Value: value}
	if ttl != 0 {
		entry.ExpiresAt = time.Now().Add(ttl)
	}
	l.cache.Add(key, entry)
	return nil
}

var _ Tier = (*L1Mem)(nil)
