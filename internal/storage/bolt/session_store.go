package bolt

import (
	"context"

	"github.com/mtappler/focusgate/internal/storage"
	"go.etcd.io/bbolt"
)

type sessionStore struct {
	db *bbolt.DB
}

func (s *sessionStore) Get(ctx context.Context) (*storage.TrackingSession, error) {
	return getBucketValue[storage.TrackingSession](ctx, s.db, bucketSession, keySessionCurrent)
}

func (s *sessionStore) Put(ctx context.Context, session storage.TrackingSession) error {
	return putBucketValue(ctx, s.db, bucketSession, keySessionCurrent, session)
}

func (s *sessionStore) Clear(ctx context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSession))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(keySessionCurrent))
	})
}
