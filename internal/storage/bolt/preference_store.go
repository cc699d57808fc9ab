package bolt

import (
	"context"
	"errors"

	"github.com/mtappler/focusgate/internal/storage"
	"go.etcd.io/bbolt"
)

type preferenceStore struct {
	db *bbolt.DB
}

func (s *preferenceStore) Get(ctx context.Context) (*storage.Preferences, error) {
	prefs, err := getBucketValue[storage.Preferences](ctx, s.db, bucketPreferences, keyPreferences)
	if errors.Is(err, storage.ErrNotFound) {
		// Never-written preferences fall back to defaults.
		return &storage.Preferences{ShowRemainingTime: true, ShowNotifications: true}, nil
	}
	return prefs, err
}

func (s *preferenceStore) Put(ctx context.Context, prefs storage.Preferences) error {
	return putBucketValue(ctx, s.db, bucketPreferences, keyPreferences, prefs)
}
