package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltRepo is a generic embedded-KV repository backed by a single bbolt
// bucket, for components that don't need Neo4j's graph traversal (upload
// sessions, checkpoints, pipeline runs).
type BoltRepo[T any, ID comparable] struct {
	db         *bolt.DB
	bucket     []byte
	idOf       func(T) ID
	keyOf      func(ID) []byte
	toProps    func(T) map[string]any
}

// OpenBolt opens (creating if absent) a bbolt database at path.
func OpenBolt(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltrepo: open %s: %w", path, err)
	}
	return db, nil
}

// NewBoltRepo constructs a BoltRepo, creating its bucket if needed. toProps
// returns a flat property map used only by List's in-memory filter/sort
// evaluation (Filter.Match); the entity itself is stored as its own JSON
// encoding so Get/Create/Update round-trip losslessly.
func NewBoltRepo[T any, ID comparable](db *bolt.DB, bucket string, idOf func(T) ID, keyOf func(ID) []byte, toProps func(T) map[string]any) (*BoltRepo[T, ID], error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("boltrepo: create bucket %s: %w", bucket, err)
	}
	return &BoltRepo[T, ID]{db: db, bucket: []byte(bucket), idOf: idOf, keyOf: keyOf, toProps: toProps}, nil
}

var _ Repository[any, string] = (*BoltRepo[any, string])(nil)

func (r *BoltRepo[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	var out T
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(r.bucket)
		data := b.Get(r.keyOf(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &out)
	})
	return out, err
}

func (r *BoltRepo[T, ID]) Create(ctx context.Context, entity T) (T, error) {
	id := r.idOf(entity)
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(r.bucket)
		key := r.keyOf(id)
		if b.Get(key) != nil {
			return ErrDuplicateKey
		}
		data, err := json.Marshal(entity)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	return entity, err
}

func (r *BoltRepo[T, ID]) Update(ctx context.Context, entity T) (T, error) {
	id := r.idOf(entity)
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(r.bucket)
		key := r.keyOf(id)
		if b.Get(key) == nil {
			return ErrNotFound
		}
		data, err := json.Marshal(entity)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	return entity, err
}

func (r *BoltRepo[T, ID]) Delete(ctx context.Context, id ID) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(r.bucket).Delete(r.keyOf(id))
	})
}

func (r *BoltRepo[T, ID]) List(ctx context.Context, opts ListOpts) (ListResult[T], error) {
	var matched []T
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(r.bucket)
		return b.ForEach(func(k, v []byte) error {
			var item T
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			props := r.toProps(item)
			for _, f := range opts.Filters {
				if !f.Match(props) {
					return nil
				}
			}
			matched = append(matched, item)
			return nil
		})
	})
	if err != nil {
		return ListResult[T]{}, err
	}

	if len(opts.Sort) > 0 {
		sortItems(matched, r.toProps, opts.Sort)
	}

	total := len(matched)
	offset := opts.Offset
	if offset > len(matched) {
		offset = len(matched)
	}
	end := offset + opts.limit()
	if end > len(matched) {
		end = len(matched)
	}
	return ListResult[T]{Items: matched[offset:end], Total: total}, nil
}

func sortItems[T any](items []T, toProps func(T) map[string]any, sorts []Sort) {
	sort.SliceStable(items, func(i, j int) bool {
		pi, pj := toProps(items[i]), toProps(items[j])
		for _, s := range sorts {
			ai, aj := fmt.Sprint(pi[s.Field]), fmt.Sprint(pj[s.Field])
			if ai == aj {
				continue
			}
			if s.Dir == SortDesc {
				return ai > aj
			}
			return ai < aj
		}
		return false
	})
}
