package settings

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/mtappler/focusgate/internal/events"
	"github.com/mtappler/focusgate/internal/storage"
	"github.com/mtappler/focusgate/internal/storage/bolt"
	"github.com/rs/zerolog"
)

type countingReevaluator struct {
	calls atomic.Int64
}

func (c *countingReevaluator) Reevaluate(ctx context.Context) error {
	c.calls.Add(1)
	return nil
}

func setupService(t *testing.T) (*Service, *countingReevaluator, storage.Store) {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "settings_test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	reeval := &countingReevaluator{}
	svc := NewService(store, events.NewBus(zerolog.Nop()), reeval, zerolog.Nop())
	return svc, reeval, store
}

func TestNormalizePattern(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"example.com", "example.com", false},
		{"https://www.Example.com/feed?x=1", "example.com", false},
		{"http://news.example.com:8080/", "news.example.com", false},
		{"  WWW.EXAMPLE.COM  ", "example.com", false},
		{"https://", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizePattern(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("NormalizePattern(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizePattern(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizePattern(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAddSiteNormalizesAndTriggersReevaluation(t *testing.T) {
	svc, reeval, _ := setupService(t)

	site, err := svc.AddSite(context.Background(), SiteInput{
		URLPattern:        "https://www.Example.com/some/path",
		DailyLimitSeconds: 600,
	})
	if err != nil {
		t.Fatalf("AddSite failed: %v", err)
	}
	if site.URLPattern != "example.com" {
		t.Errorf("Expected normalized pattern example.com, got %q", site.URLPattern)
	}
	if !site.Enabled {
		t.Error("Expected new site enabled by default")
	}
	if reeval.calls.Load() != 1 {
		t.Errorf("Expected 1 re-evaluation, got %d", reeval.calls.Load())
	}
}

func TestAddSiteRequiresALimit(t *testing.T) {
	svc, reeval, _ := setupService(t)

	_, err := svc.AddSite(context.Background(), SiteInput{URLPattern: "example.com"})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Expected ErrInvalid, got %v", err)
	}
	if reeval.calls.Load() != 0 {
		t.Error("Validation failure must not trigger re-evaluation")
	}
}

func TestDeleteSiteKeepsUsageAndDetachesFromGroup(t *testing.T) {
	svc, _, store := setupService(t)
	ctx := context.Background()

	site, err := svc.AddSite(ctx, SiteInput{URLPattern: "example.com", DailyLimitSeconds: 600})
	if err != nil {
		t.Fatalf("AddSite failed: %v", err)
	}
	group, err := svc.AddGroup(ctx, GroupInput{Name: "Social", DailyLimitSeconds: 1200, SiteIDs: []string{site.ID}})
	if err != nil {
		t.Fatalf("AddGroup failed: %v", err)
	}

	if _, err := store.Usage().AddTime(ctx, "2024-06-15", site.ID, 100); err != nil {
		t.Fatalf("Seed usage failed: %v", err)
	}

	if err := svc.DeleteSite(ctx, site.ID); err != nil {
		t.Fatalf("DeleteSite failed: %v", err)
	}

	if _, err := store.Sites().Get(ctx, site.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected site gone, got err=%v", err)
	}

	// Usage history survives; the group no longer lists the site.
	stat, err := store.Usage().Get(ctx, "2024-06-15", site.ID)
	if err != nil {
		t.Fatalf("Expected usage history preserved: %v", err)
	}
	if stat.TimeSpentSeconds != 100 {
		t.Errorf("Expected 100 seconds preserved, got %d", stat.TimeSpentSeconds)
	}

	updated, err := store.Groups().Get(ctx, group.ID)
	if err != nil {
		t.Fatalf("Get group failed: %v", err)
	}
	if len(updated.SiteIDs) != 0 {
		t.Errorf("Expected site removed from group members, got %v", updated.SiteIDs)
	}
}

func TestAddGroupClaimsMembers(t *testing.T) {
	svc, _, store := setupService(t)
	ctx := context.Background()

	site, err := svc.AddSite(ctx, SiteInput{URLPattern: "alpha.example", DailyLimitSeconds: 600})
	if err != nil {
		t.Fatalf("AddSite failed: %v", err)
	}

	group, err := svc.AddGroup(ctx, GroupInput{Name: "Social", DailyOpenLimit: 5, SiteIDs: []string{site.ID}})
	if err != nil {
		t.Fatalf("AddGroup failed: %v", err)
	}

	stored, err := store.Sites().Get(ctx, site.ID)
	if err != nil {
		t.Fatalf("Get site failed: %v", err)
	}
	if stored.GroupID != group.ID {
		t.Errorf("Expected site claimed by group %s, got %q", group.ID, stored.GroupID)
	}
}

type failingGroupStore struct {
	storage.GroupStore
}

func (failingGroupStore) Upsert(ctx context.Context, group storage.Group) error {
	return errors.New("disk full")
}

type groupFailStore struct {
	storage.Store
}

func (s groupFailStore) Groups() storage.GroupStore {
	return failingGroupStore{s.Store.Groups()}
}

func TestAddGroupStoreFailureLeavesSitesUnclaimed(t *testing.T) {
	svc, _, store := setupService(t)
	ctx := context.Background()

	site, err := svc.AddSite(ctx, SiteInput{URLPattern: "alpha.example", DailyLimitSeconds: 600})
	if err != nil {
		t.Fatalf("AddSite failed: %v", err)
	}

	broken := NewService(groupFailStore{store}, events.NewBus(zerolog.Nop()), &countingReevaluator{}, zerolog.Nop())
	if _, err := broken.AddGroup(ctx, GroupInput{Name: "Social", DailyOpenLimit: 5, SiteIDs: []string{site.ID}}); err == nil {
		t.Fatal("Expected AddGroup to fail when the group store fails")
	}

	stored, err := store.Sites().Get(ctx, site.ID)
	if err != nil {
		t.Fatalf("Get site failed: %v", err)
	}
	if stored.GroupID != "" {
		t.Errorf("Expected site unclaimed after failed group write, got group %q", stored.GroupID)
	}
}

func TestAddGroupRejectsUnknownMember(t *testing.T) {
	svc, reeval, store := setupService(t)
	ctx := context.Background()

	if _, err := svc.AddGroup(ctx, GroupInput{Name: "Social", DailyOpenLimit: 5, SiteIDs: []string{"no-such-site"}}); err == nil {
		t.Fatal("Expected AddGroup to fail for an unknown member site")
	}

	groups, err := store.Groups().List(ctx)
	if err != nil {
		t.Fatalf("List groups failed: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("Expected no group written, got %d", len(groups))
	}
	if reeval.calls.Load() != 0 {
		t.Error("Failed AddGroup must not trigger re-evaluation")
	}
}

func TestUpdateGroupMovesMembership(t *testing.T) {
	svc, reeval, store := setupService(t)
	ctx := context.Background()

	a, _ := svc.AddSite(ctx, SiteInput{URLPattern: "alpha.example", DailyLimitSeconds: 600})
	b, _ := svc.AddSite(ctx, SiteInput{URLPattern: "beta.example", DailyLimitSeconds: 600})
	group, err := svc.AddGroup(ctx, GroupInput{Name: "Social", DailyLimitSeconds: 1200, SiteIDs: []string{a.ID}})
	if err != nil {
		t.Fatalf("AddGroup failed: %v", err)
	}
	before := reeval.calls.Load()

	if _, err := svc.UpdateGroup(ctx, group.ID, GroupInput{
		DailyLimitSeconds: 1200,
		SiteIDs:           []string{b.ID},
	}); err != nil {
		t.Fatalf("UpdateGroup failed: %v", err)
	}

	detached, _ := store.Sites().Get(ctx, a.ID)
	if detached.GroupID != "" {
		t.Errorf("Expected site a detached, got group %q", detached.GroupID)
	}
	attached, _ := store.Sites().Get(ctx, b.ID)
	if attached.GroupID != group.ID {
		t.Errorf("Expected site b attached to %s, got %q", group.ID, attached.GroupID)
	}
	if reeval.calls.Load() != before+1 {
		t.Errorf("Expected one re-evaluation for the membership change")
	}
}

func TestDeleteGroupDetachesMembers(t *testing.T) {
	svc, _, store := setupService(t)
	ctx := context.Background()

	site, _ := svc.AddSite(ctx, SiteInput{URLPattern: "alpha.example", DailyLimitSeconds: 600})
	group, err := svc.AddGroup(ctx, GroupInput{Name: "Social", DailyLimitSeconds: 1200, SiteIDs: []string{site.ID}})
	if err != nil {
		t.Fatalf("AddGroup failed: %v", err)
	}

	if err := svc.DeleteGroup(ctx, group.ID); err != nil {
		t.Fatalf("DeleteGroup failed: %v", err)
	}

	standalone, err := store.Sites().Get(ctx, site.ID)
	if err != nil {
		t.Fatalf("Expected member site to survive group deletion: %v", err)
	}
	if standalone.GroupID != "" {
		t.Errorf("Expected member site standalone, got group %q", standalone.GroupID)
	}
}

func TestUpdatePreferencesDoesNotReevaluate(t *testing.T) {
	svc, reeval, _ := setupService(t)
	ctx := context.Background()

	if err := svc.UpdatePreferences(ctx, storage.Preferences{ShowRemainingTime: false, ShowNotifications: true}); err != nil {
		t.Fatalf("UpdatePreferences failed: %v", err)
	}
	if reeval.calls.Load() != 0 {
		t.Error("Preference changes must not trigger re-evaluation")
	}

	prefs, err := svc.GetPreferences(ctx)
	if err != nil {
		t.Fatalf("GetPreferences failed: %v", err)
	}
	if prefs.ShowRemainingTime {
		t.Error("Expected ShowRemainingTime false")
	}
}
