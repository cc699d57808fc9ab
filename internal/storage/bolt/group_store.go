package bolt

import (
	"context"
	"sort"

	"github.com/mtappler/focusgate/internal/storage"
	"go.etcd.io/bbolt"
)

type groupStore struct {
	db *bbolt.DB
}

func (s *groupStore) Get(ctx context.Context, id string) (*storage.Group, error) {
	return getBucketValue[storage.Group](ctx, s.db, bucketGroups, id)
}

func (s *groupStore) List(ctx context.Context) ([]storage.Group, error) {
	groups, err := listBucket[storage.Group](ctx, s.db, bucketGroups)
	if err != nil {
		return nil, err
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
	return putBucketValue(ctx, s.db, bucketGroups, group.ID, group)
}

func (s *groupStore) Delete(ctx context.Context, id string) error {
	return deleteBucketValue(ctx, s.db, bucketGroups, id)
}
