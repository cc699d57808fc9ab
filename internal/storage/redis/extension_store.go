package redis

import (
	"context"

	"github.com/mtappler/focusgate/internal/storage"
	"github.com/redis/go-redis/v9"
)

type extensionStore struct {
	client *redis.Client
}

func (s *extensionStore) Day(ctx context.Context, date string) (map[string]storage.Extension, error) {
	data, err := s.client.HGetAll(ctx, extensionDayKey(date)).Result()
	if err != nil {
		return nil, err
	}

	doc := make(map[string]storage.Extension, len(data))
	for siteID, raw := range data {
		var ext storage.Extension
		if err := unmarshalJSON(raw, &ext); err != nil {
			return nil, err
		}
		doc[siteID] = ext
	}
	return doc, nil
}

func (s *extensionStore) Get(ctx context.Context, date, siteID string) (*storage.Extension, error) {
	raw, err := s.client.HGet(ctx, extensionDayKey(date), siteID).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var ext storage.Extension
	if err := unmarshalJSON(raw, &ext); err != nil {
		return nil, err
	}
	return &ext, nil
}

func (s *extensionStore) Put(ctx context.Context, date string, ext storage.Extension) error {
	raw, err := marshalJSON(ext)
	if err != nil {
		return err
	}

	script := redis.NewScript(putExtensionScript)
	keys := []string{extensionDayKey(date), extensionDatesKey}
	args := []interface{}{date, ext.SiteID, raw}

	return script.Run(ctx, s.client, keys, args...).Err()
}

func (s *extensionStore) ListDates(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, extensionDatesKey).Result()
}

func (s *extensionStore) DeleteDay(ctx context.Context, date string) error {
	if err := s.client.Del(ctx, extensionDayKey(date)).Err(); err != nil {
		return err
	}
	return s.client.SRem(ctx, extensionDatesKey, date).Err()
}

type sessionStore struct {
	client *redis.Client
}

func (s *sessionStore) Get(ctx context.Context) (*storage.TrackingSession, error) {
	raw, err := s.client.Get(ctx, sessionKey).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var session storage.TrackingSession
	if err := unmarshalJSON(raw, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *sessionStore) Put(ctx context.Context, session storage.TrackingSession) error {
	raw, err := marshalJSON(session)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, sessionKey, raw, 0).Err()
}

func (s *sessionStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, sessionKey).Err()
}

type preferenceStore struct {
	client *redis.Client
}

func (s *preferenceStore) Get(ctx context.Context) (*storage.Preferences, error) {
	raw, err := s.client.Get(ctx, preferencesKey).Result()
	if err == redis.Nil {
		return &storage.Preferences{ShowRemainingTime: true, ShowNotifications: true}, nil
	}
	if err != nil {
		return nil, err
	}
	var prefs storage.Preferences
	if err := unmarshalJSON(raw, &prefs); err != nil {
		return nil, err
	}
	return &prefs, nil
}

func (s *preferenceStore) Put(ctx context.Context, prefs storage.Preferences) error {
	raw, err := marshalJSON(prefs)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, preferencesKey, raw, 0).Err()
}
