package extensions

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mtappler/focusgate/internal/session"
	"github.com/mtappler/focusgate/internal/storage"
	"github.com/mtappler/focusgate/internal/storage/bolt"
	"github.com/rs/zerolog"
)

func setupService(t *testing.T) (*Service, *session.TestClock, storage.Store) {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "extensions_test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clock := &session.TestClock{CurrentTime: time.Date(2024, 6, 15, 14, 0, 0, 0, time.Local)}
	svc := NewService(store, nil, nil, clock, zerolog.Nop())
	return svc, clock, store
}

func seedSite(t *testing.T, store storage.Store, site storage.Site) {
	t.Helper()
	if err := store.Sites().Upsert(context.Background(), site); err != nil {
		t.Fatalf("Failed to seed site: %v", err)
	}
}

func TestGrantSnapshotsCurrentUsage(t *testing.T) {
	svc, clock, store := setupService(t)
	ctx := context.Background()

	seedSite(t, store, storage.Site{ID: "s1", URLPattern: "example.com", DailyLimitSeconds: 600, Enabled: true})
	if _, err := store.Usage().AddTime(ctx, storage.DateKey(clock.Now()), "s1", 450); err != nil {
		t.Fatalf("Seed usage failed: %v", err)
	}

	ext, err := svc.Grant(ctx, Request{SiteID: "s1", ExtendedMinutes: 10, Excuse: "finishing an article"})
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	if ext.AppliedCount != 1 {
		t.Errorf("Expected applied count 1, got %d", ext.AppliedCount)
	}
	if ext.UsageAtGrant == nil || ext.UsageAtGrant.TimeSpentSeconds != 450 {
		t.Errorf("Expected grant snapshot of 450 seconds, got %+v", ext.UsageAtGrant)
	}
	if !ext.GrantedAt.Equal(clock.Now()) {
		t.Errorf("Expected grant time %v, got %v", clock.Now(), ext.GrantedAt)
	}
}

func TestGrantSnapshotsGroupAggregate(t *testing.T) {
	svc, clock, store := setupService(t)
	ctx := context.Background()

	seedSite(t, store, storage.Site{ID: "a", URLPattern: "alpha.example", DailyLimitSeconds: 600, Enabled: true, GroupID: "g1"})
	seedSite(t, store, storage.Site{ID: "b", URLPattern: "beta.example", DailyLimitSeconds: 600, Enabled: true, GroupID: "g1"})
	if err := store.Groups().Upsert(ctx, storage.Group{
		ID: "g1", Name: "Social", DailyLimitSeconds: 1200, Enabled: true, SiteIDs: []string{"a", "b"},
	}); err != nil {
		t.Fatalf("Seed group failed: %v", err)
	}

	date := storage.DateKey(clock.Now())
	if _, err := store.Usage().AddTime(ctx, date, "a", 100); err != nil {
		t.Fatalf("Seed usage failed: %v", err)
	}
	if _, err := store.Usage().AddTime(ctx, date, "b", 50); err != nil {
		t.Fatalf("Seed usage failed: %v", err)
	}

	ext, err := svc.Grant(ctx, Request{SiteID: "a", ExtendedMinutes: 5})
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	if ext.UsageAtGrant.TimeSpentSeconds != 150 {
		t.Errorf("Expected aggregated snapshot of 150 seconds, got %d", ext.UsageAtGrant.TimeSpentSeconds)
	}
}

func TestRegrantOverwritesAndCountsApplications(t *testing.T) {
	svc, clock, store := setupService(t)
	ctx := context.Background()

	seedSite(t, store, storage.Site{ID: "s1", URLPattern: "example.com", DailyLimitSeconds: 600, Enabled: true})

	if _, err := svc.Grant(ctx, Request{SiteID: "s1", ExtendedMinutes: 10}); err != nil {
		t.Fatalf("First grant failed: %v", err)
	}
	second, err := svc.Grant(ctx, Request{SiteID: "s1", ExtendedMinutes: 5, ExtendedOpens: 2})
	if err != nil {
		t.Fatalf("Second grant failed: %v", err)
	}

	if second.AppliedCount != 2 {
		t.Errorf("Expected applied count 2, got %d", second.AppliedCount)
	}

	stored, err := store.Extensions().Get(ctx, storage.DateKey(clock.Now()), "s1")
	if err != nil {
		t.Fatalf("Get extension failed: %v", err)
	}
	if stored.ExtendedMinutes != 5 || stored.ExtendedOpens != 2 {
		t.Errorf("Expected second grant to overwrite, got %+v", stored)
	}
}

func TestGrantValidation(t *testing.T) {
	svc, _, store := setupService(t)
	ctx := context.Background()

	seedSite(t, store, storage.Site{ID: "s1", URLPattern: "example.com", DailyLimitSeconds: 600, Enabled: true})

	tests := []struct {
		name string
		req  Request
	}{
		{"missing site", Request{ExtendedMinutes: 10}},
		{"unknown site", Request{SiteID: "nope", ExtendedMinutes: 10}},
		{"no amounts", Request{SiteID: "s1"}},
		{"negative minutes", Request{SiteID: "s1", ExtendedMinutes: -5}},
	}
	for _, tt := range tests {
		if _, err := svc.Grant(ctx, tt.req); !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: expected ErrInvalid, got %v", tt.name, err)
		}
	}

	// Nothing was written.
	if _, err := svc.ForSite(ctx, "s1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected no extension stored, got err=%v", err)
	}
}
