package bolt

import (
	"context"

	"github.com/mtappler/focusgate/internal/storage"
	"go.etcd.io/bbolt"
)

type extensionStore struct {
	db *bbolt.DB
}

func (s *extensionStore) Day(ctx context.Context, date string) (map[string]storage.Extension, error) {
	return listDayDoc[storage.Extension](ctx, s.db, bucketExtensions, date)
}

func (s *extensionStore) Get(ctx context.Context, date, siteID string) (*storage.Extension, error) {
	var ext *storage.Extension
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		day := dayBucket(tx, bucketExtensions, date)
		if day == nil {
			return storage.ErrNotFound
		}
		value := day.Get([]byte(siteID))
		if value == nil {
			return storage.ErrNotFound
		}
		var result storage.Extension
		if err := unmarshal(value, &result); err != nil {
			return err
		}
		ext = &result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ext, nil
}

func (s *extensionStore) Put(ctx context.Context, date string, ext storage.Extension) error {
	data, err := marshal(ext)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		day, err := ensureDayBucket(tx, bucketExtensions, date)
		if err != nil {
			return err
		}
		return day.Put([]byte(ext.SiteID), data)
	})
}

func (s *extensionStore) ListDates(ctx context.Context) ([]string, error) {
	return listDayDates(ctx, s.db, bucketExtensions)
}

func (s *extensionStore) DeleteDay(ctx context.Context, date string) error {
	return deleteDay(ctx, s.db, bucketExtensions, date)
}
