package bolt

import (
	"context"
	"sort"

	"github.com/mtappler/focusgate/internal/storage"
	"go.etcd.io/bbolt"
)

type siteStore struct {
	db *bbolt.DB
}

func (s *siteStore) Get(ctx context.Context, id string) (*storage.Site, error) {
	return getBucketValue[storage.Site](ctx, s.db, bucketSites, id)
}

func (s *siteStore) List(ctx context.Context) ([]storage.Site, error) {
	sites, err := listBucket[storage.Site](ctx, s.db, bucketSites)
	if err != nil {
		return nil, err
	}
	// Bolt iterates keys lexicographically; matching needs creation order.
	sort.SliceStable(sites, func(i, j int) bool {
		if sites[i].CreatedAt.Equal(sites[j].CreatedAt) {
			return sites[i].ID < sites[j].ID
		}
		return sites[i].CreatedAt.Before(sites[j].CreatedAt)
	})
	return sites, nil
}

func (s *siteStore) Upsert(ctx context.Context, site storage.Site) error {
	return putBucketValue(ctx, s.db, bucketSites, site.ID, site)
}

func (s *siteStore) Delete(ctx context.Context, id string) error {
	return deleteBucketValue(ctx, s.db, bucketSites, id)
}
