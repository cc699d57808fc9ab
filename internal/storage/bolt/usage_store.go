package bolt

import (
	"context"

	"github.com/mtappler/focusgate/internal/storage"
	"go.etcd.io/bbolt"
)

type usageStore struct {
	db *bbolt.DB
}

func (s *usageStore) Day(ctx context.Context, date string) (map[string]storage.UsageStat, error) {
	return listDayDoc[storage.UsageStat](ctx, s.db, bucketUsage, date)
}

func (s *usageStore) Get(ctx context.Context, date, siteID string) (*storage.UsageStat, error) {
	var stat *storage.UsageStat
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		day := dayBucket(tx, bucketUsage, date)
		if day == nil {
			return storage.ErrNotFound
		}
		value := day.Get([]byte(siteID))
		if value == nil {
			return storage.ErrNotFound
		}
		var result storage.UsageStat
		if err := unmarshal(value, &result); err != nil {
			return err
		}
		stat = &result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stat, nil
}

func (s *usageStore) AddTime(ctx context.Context, date, siteID string, seconds int64) (int64, error) {
	var total int64
	err := s.mutate(ctx, date, siteID, func(stat *storage.UsageStat) {
		stat.TimeSpentSeconds += seconds
		total = stat.TimeSpentSeconds
	})
	return total, err
}

func (s *usageStore) AddOpen(ctx context.Context, date, siteID string) (int, error) {
	var opens int
	err := s.mutate(ctx, date, siteID, func(stat *storage.UsageStat) {
		stat.Opens++
		opens = stat.Opens
	})
	return opens, err
}

// mutate runs a read-modify-write of one site's stat inside a single
// bolt update transaction, so interleaved writers cannot lose updates.
func (s *usageStore) mutate(ctx context.Context, date, siteID string, fn func(*storage.UsageStat)) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		day, err := ensureDayBucket(tx, bucketUsage, date)
		if err != nil {
			return err
		}
		var stat storage.UsageStat
		if existing := day.Get([]byte(siteID)); existing != nil {
			if err := unmarshal(existing, &stat); err != nil {
				return err
			}
		}
		fn(&stat)
		data, err := marshal(stat)
		if err != nil {
			return err
		}
		return day.Put([]byte(siteID), data)
	})
}

func (s *usageStore) ListDates(ctx context.Context) ([]string, error) {
	return listDayDates(ctx, s.db, bucketUsage)
}

func (s *usageStore) DeleteDay(ctx context.Context, date string) error {
	return deleteDay(ctx, s.db, bucketUsage, date)
}
