package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mtappler/focusgate/internal/storage"
	"go.etcd.io/bbolt"
)

const (
	bucketSites       = "sites"
	bucketGroups      = "groups"
	bucketUsage       = "usage_daily"
	bucketExtensions  = "extensions_daily"
	bucketSession     = "tracking_session"
	bucketPreferences = "preferences"

	keySessionCurrent = "current"
	keyPreferences    = "display"
)

// Store implements the storage.Store interface using bbolt.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store.
func Open(path string) (*Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return storage.EnsureDir(dir)
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{
			[]byte(bucketSites),
			[]byte(bucketGroups),
			[]byte(bucketUsage),
			[]byte(bucketExtensions),
			[]byte(bucketSession),
			[]byte(bucketPreferences),
		}

		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}

		return nil
	})
}

// Close closes the underlying store database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Sites returns the site store.
func (s *Store) Sites() storage.SiteStore { return &siteStore{db: s.db} }

// Groups returns the group store.
func (s *Store) Groups() storage.GroupStore { return &groupStore{db: s.db} }

// Usage returns the usage store.
func (s *Store) Usage() storage.UsageStore { return &usageStore{db: s.db} }

// Extensions returns the extension store.
func (s *Store) Extensions() storage.ExtensionStore { return &extensionStore{db: s.db} }

// Session returns the tracking session store.
func (s *Store) Session() storage.SessionStore { return &sessionStore{db: s.db} }

// Preferences returns the preference store.
func (s *Store) Preferences() storage.PreferenceStore { return &preferenceStore{db: s.db} }

func marshal(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return data, nil
}

func unmarshal(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	return nil
}

func listBucket[T any](ctx context.Context, db *bbolt.DB, bucket string) ([]T, error) {
	items := make([]T, 0)
	return items, db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var item T
			if err := unmarshal(v, &item); err != nil {
				return err
			}
			items = append(items, item)
			return nil
		})
	})
}

func getBucketValue[T any](ctx context.Context, db *bbolt.DB, bucket string, key string) (*T, error) {
	var item *T
	err := db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return storage.ErrNotFound
		}
		value := b.Get([]byte(key))
		if value == nil {
			return storage.ErrNotFound
		}
		var result T
		if err := unmarshal(value, &result); err != nil {
			return err
		}
		item = &result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func putBucketValue(ctx context.Context, db *bbolt.DB, bucket string, key string, value any) error {
	data, err := marshal(value)
	if err != nil {
		return err
	}
	return db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket missing: %s", bucket)
		}
		return b.Put([]byte(key), data)
	})
}

func deleteBucketValue(ctx context.Context, db *bbolt.DB, bucket string, key string) error {
	return db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return storage.ErrNotFound
		}
		value := b.Get([]byte(key))
		if value == nil {
			return storage.ErrNotFound
		}
		return b.Delete([]byte(key))
	})
}

// dayBucket returns the per-date sub-bucket under root, or nil if the
// date has no document yet.
func dayBucket(tx *bbolt.Tx, root, date string) *bbolt.Bucket {
	b := tx.Bucket([]byte(root))
	if b == nil {
		return nil
	}
	return b.Bucket([]byte(date))
}

func ensureDayBucket(tx *bbolt.Tx, root, date string) (*bbolt.Bucket, error) {
	b := tx.Bucket([]byte(root))
	if b == nil {
		return nil, fmt.Errorf("bucket missing: %s", root)
	}
	day, err := b.CreateBucketIfNotExists([]byte(date))
	if err != nil {
		return nil, fmt.Errorf("create day bucket %s/%s: %w", root, date, err)
	}
	return day, nil
}

func listDayDoc[T any](ctx context.Context, db *bbolt.DB, root, date string) (map[string]T, error) {
	doc := make(map[string]T)
	return doc, db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		day := dayBucket(tx, root, date)
		if day == nil {
			return nil
		}
		return day.ForEach(func(k, v []byte) error {
			var item T
			if err := unmarshal(v, &item); err != nil {
				return err
			}
			doc[string(k)] = item
			return nil
		})
	})
}

func listDayDates(ctx context.Context, db *bbolt.DB, root string) ([]string, error) {
	dates := make([]string, 0)
	return dates, db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(root))
		if b == nil {
			return nil
		}
		return b.ForEachBucket(func(name []byte) error {
			dates = append(dates, string(name))
			return nil
		})
	})
}

func deleteDay(ctx context.Context, db *bbolt.DB, root, date string) error {
	return db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(root))
		if b == nil {
			return nil
		}
		if b.Bucket([]byte(date)) == nil {
			return nil
		}
		return b.DeleteBucket([]byte(date))
	})
}
