package redis

import (
	"context"

	"github.com/mtappler/focusgate/internal/storage"
	"github.com/redis/go-redis/v9"
)

type usageStore struct {
	client *redis.Client
}

func (s *usageStore) Day(ctx context.Context, date string) (map[string]storage.UsageStat, error) {
	siteIDs, err := s.client.SMembers(ctx, usageIndexKey(date)).Result()
	if err != nil {
		return nil, err
	}

	doc := make(map[string]storage.UsageStat, len(siteIDs))
	if len(siteIDs) == 0 {
		return doc, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(siteIDs))
	for i, siteID := range siteIDs {
		cmds[i] = pipe.HGetAll(ctx, usageKey(date, siteID))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		stat, err := parseUsageStat(data)
		if err != nil {
			continue
		}
		doc[siteIDs[i]] = *stat
	}
	return doc, nil
}

func (s *usageStore) Get(ctx context.Context, date, siteID string) (*storage.UsageStat, error) {
	data, err := s.client.HGetAll(ctx, usageKey(date, siteID)).Result()
	if err != nil {
		return nil, err
	}
	return parseUsageStat(data)
}

func (s *usageStore) AddTime(ctx context.Context, date, siteID string, seconds int64) (int64, error) {
	return s.increment(ctx, date, siteID, fieldTimeSpent, seconds)
}

func (s *usageStore) AddOpen(ctx context.Context, date, siteID string) (int, error) {
	opens, err := s.increment(ctx, date, siteID, fieldOpens, 1)
	return int(opens), err
}

func (s *usageStore) increment(ctx context.Context, date, siteID, field string, delta int64) (int64, error) {
	script := redis.NewScript(addUsageScript)

	keys := []string{usageKey(date, siteID), usageIndexKey(date), usageDatesKey}
	args := []interface{}{date, siteID, field, delta}

	total, err := script.Run(ctx, s.client, keys, args...).Int64()
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *usageStore) ListDates(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, usageDatesKey).Result()
}

func (s *usageStore) DeleteDay(ctx context.Context, date string) error {
	siteIDs, err := s.client.SMembers(ctx, usageIndexKey(date)).Result()
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(siteIDs)+1)
	for _, siteID := range siteIDs {
		keys = append(keys, usageKey(date, siteID))
	}
	keys = append(keys, usageIndexKey(date))

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return err
	}
	return s.client.SRem(ctx, usageDatesKey, date).Err()
}
