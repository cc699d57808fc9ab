package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/mtappler/focusgate/internal/config"
	"github.com/mtappler/focusgate/internal/storage"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "focusgate:"

// Store implements the storage.Store interface using Redis.
type Store struct {
	client *redis.Client
}

// Open creates a new Redis-backed storage instance.
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client}, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Sites returns the SiteStore implementation.
func (s *Store) Sites() storage.SiteStore { return &siteStore{client: s.client} }

// Groups returns the GroupStore implementation.
func (s *Store) Groups() storage.GroupStore { return &groupStore{client: s.client} }

// Usage returns the UsageStore implementation.
func (s *Store) Usage() storage.UsageStore { return &usageStore{client: s.client} }

// Extensions returns the ExtensionStore implementation.
func (s *Store) Extensions() storage.ExtensionStore { return &extensionStore{client: s.client} }

// Session returns the SessionStore implementation.
func (s *Store) Session() storage.SessionStore { return &sessionStore{client: s.client} }

// Preferences returns the PreferenceStore implementation.
func (s *Store) Preferences() storage.PreferenceStore { return &preferenceStore{client: s.client} }
