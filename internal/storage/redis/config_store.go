package redis

import (
	"context"
	"sort"

	"github.com/mtappler/focusgate/internal/storage"
	"github.com/redis/go-redis/v9"
)

type siteStore struct {
	client *redis.Client
}

func (s *siteStore) Get(ctx context.Context, id string) (*storage.Site, error) {
	raw, err := s.client.HGet(ctx, sitesKey, id).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var site storage.Site
	if err := unmarshalJSON(raw, &site); err != nil {
		return nil, err
	}
	return &site, nil
}

func (s *siteStore) List(ctx context.Context) ([]storage.Site, error) {
	data, err := s.client.HGetAll(ctx, sitesKey).Result()
	if err != nil {
		return nil, err
	}

	sites := make([]storage.Site, 0, len(data))
	for _, raw := range data {
		var site storage.Site
		if err := unmarshalJSON(raw, &site); err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}

	// Hash fields come back unordered; matching needs creation order.
	sort.SliceStable(sites, func(i, j int) bool {
		if sites[i].CreatedAt.Equal(sites[j].CreatedAt) {
			return sites[i].ID < sites[j].ID
		}
		return sites[i].CreatedAt.Before(sites[j].CreatedAt)
	})
	return sites, nil
}

func (s *siteStore) Upsert(ctx context.Context, site storage.Site) error {
	raw, err := marshalJSON(site)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, sitesKey, site.ID, raw).Err()
}

func (s *siteStore) Delete(ctx context.Context, id string) error {
	removed, err := s.client.HDel(ctx, sitesKey, id).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type groupStore struct {
	client *redis.Client
}

func (s *groupStore) Get(ctx context.Context, id string) (*storage.Group, error) {
	raw, err := s.client.HGet(ctx, groupsKey, id).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var group storage.Group
	if err := unmarshalJSON(raw, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

func (s *groupStore) List(ctx context.Context) ([]storage.Group, error) {
	data, err := s.client.HGetAll(ctx, groupsKey).Result()
	if err != nil {
		return nil, err
	}

	groups := make([]storage.Group, 0, len(data))
	for _, raw := range data {
		var group storage.Group
		if err := unmarshalJSON(raw, &group); err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].CreatedAt.Equal(groups[j].CreatedAt) {
			return groups[i].ID < groups[j].ID
		}
		return groups[i].CreatedAt.Before(groups[j].CreatedAt)
	})
	return groups, nil
}

func (s *groupStore) Upsert(ctx context.Context, group storage.Group) error {
	raw, err := marshalJSON(group)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, groupsKey, group.ID, raw).Err()
}

func (s *groupStore) Delete(ctx context.Context, id string) error {
	removed, err := s.client.HDel(ctx, groupsKey, id).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return storage.ErrNotFound
	}
	return nil
}
