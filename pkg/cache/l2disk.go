package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var l2Bucket = []byte("cache_entries")

// L2Disk is the local-disk second cache tier, a single bbolt bucket keyed
// by fingerprint with per-entry TTL.
type L2Disk struct {
	db *bolt.DB
}

// NewL2Disk opens (creating if absent) a bbolt database at path for use as
// an L2 tier.
func NewL2Disk(path string) (*L2Disk, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("l2disk: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(l2Bucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("l2disk: create bucket: %w", err)
	}
	return &L2Disk{db: db}, nil
}

func (l *L2Disk) Close() error { return l.db.Close() }

func (l *L2Disk) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var entry Entry
	found := false
	err := l.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(l2Bucket).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &entry)
	})
	if err != nil || !found {
		return nil, false, err
	}
	if entry.expired(time.Now()) {
		_ = l.Evict(ctx, key)
		return nil, false, nil
	}
	return entry.Value, true, nil
}

func (l *L2Disk) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := Entry{Value: value}
	if ttl != 0 {
		entry.ExpiresAt = time.Now().Add(ttl)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(l2Bucket).Put([]byte(key), data)
	})
}

func (l *L2Disk) Evict(ctx context.Context, key string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(l2Bucket).Delete([]byte(key))
	})
}

// SweepExpired deletes every entry whose TTL has elapsed, run periodically
// by the background cron sweeper.
func (l *L2Disk) SweepExpired(ctx context.Context) (int, error) {
	now := time.Now()
	var expiredKeys [][]byte
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(l2Bucket).ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return nil
			}
			if entry.expired(now) {
				expiredKeys = append(expiredKeys, append([]byte(nil), k...))
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	if len(expiredKeys) == 0 {
		return 0, nil
	}
	err = l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(l2Bucket)
		for _, k := range expiredKeys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return len(expiredKeys), err
}

var _ Tier = (*L2Disk)(nil)
