package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Sites() SiteStore
	Groups() GroupStore
	Usage() UsageStore
	Extensions() ExtensionStore
	Session() SessionStore
	Preferences() PreferenceStore
}

// SiteStore manages configured sites.
type SiteStore interface {
	Get(ctx context.Context, id string) (*Site, error)
	// List returns all sites ordered by creation time. Matching walks
	// this order, so it must be stable.
	List(ctx context.Context) ([]Site, error)
	Upsert(ctx context.Context, site Site) error
	Delete(ctx context.Context, id string) error
}

// GroupStore manages site groups.
type GroupStore interface {
	Get(ctx context.Context, id string) (*Group, error)
	List(ctx context.Context) ([]Group, error)
	Upsert(ctx context.Context, group Group) error
	Delete(ctx context.Context, id string) error
}

// UsageStore manages the date-partitioned per-site usage documents.
// All mutations are atomic per day document; concurrent increments for
// the same day never lose an update.
type UsageStore interface {
	// Day returns the full usage document for a date, keyed by site ID.
	// A date with no recorded usage yields an empty map, not ErrNotFound.
	Day(ctx context.Context, date string) (map[string]UsageStat, error)
	Get(ctx context.Context, date, siteID string) (*UsageStat, error)
	// AddTime adds seconds to a site's time for the given date and
	// returns the new cumulative total.
	AddTime(ctx context.Context, date, siteID string, seconds int64) (int64, error)
	// AddOpen increments a site's open count for the given date and
	// returns the new count.
	AddOpen(ctx context.Context, date, siteID string) (int, error)
	ListDates(ctx context.Context) ([]string, error)
	DeleteDay(ctx context.Context, date string) error
}

// ExtensionStore manages the date-partitioned grace extension documents.
// At most one extension exists per site per date; Put overwrites.
type ExtensionStore interface {
	Day(ctx context.Context, date string) (map[string]Extension, error)
	Get(ctx context.Context, date, siteID string) (*Extension, error)
	Put(ctx context.Context, date string, ext Extension) error
	ListDates(ctx context.Context) ([]string, error)
	DeleteDay(ctx context.Context, date string) error
}

// SessionStore persists the singleton tracking session so it survives
// process restarts.
type SessionStore interface {
	Get(ctx context.Context) (*TrackingSession, error)
	Put(ctx context.Context, session TrackingSession) error
	Clear(ctx context.Context) error
}

// PreferenceStore persists display preferences.
type PreferenceStore interface {
	Get(ctx context.Context) (*Preferences, error)
	Put(ctx context.Context, prefs Preferences) error
}
