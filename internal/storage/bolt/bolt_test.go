package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mtappler/focusgate/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "focusgate.bolt"))
	if err != nil {
		t.Fatalf("open bolt store: %v", err)
	}
	return store
}

func TestSiteStoreListOrder(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sites := []storage.Site{
		{ID: "z-site", URLPattern: "example.com", Enabled: true, CreatedAt: base},
		{ID: "a-site", URLPattern: "news.test", Enabled: true, CreatedAt: base.Add(time.Minute)},
		{ID: "m-site", URLPattern: "video.test", Enabled: true, CreatedAt: base.Add(2 * time.Minute)},
	}

	for _, site := range sites {
		if err := store.Sites().Upsert(context.Background(), site); err != nil {
			t.Fatalf("upsert site: %v", err)
		}
	}

	listed, err := store.Sites().List(context.Background())
	if err != nil {
		t.Fatalf("list sites: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("expected 3 sites, got %d", len(listed))
	}
	for i, want := range []string{"z-site", "a-site", "m-site"} {
		if listed[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, listed[i].ID)
		}
	}
}

func TestSiteStoreDelete(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	site := storage.Site{ID: "site-1", URLPattern: "example.com", Enabled: true}
	if err := store.Sites().Upsert(context.Background(), site); err != nil {
		t.Fatalf("upsert site: %v", err)
	}

	if err := store.Sites().Delete(context.Background(), "site-1"); err != nil {
		t.Fatalf("delete site: %v", err)
	}

	if _, err := store.Sites().Get(context.Background(), "site-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.Sites().Delete(context.Background(), "site-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestUsageStoreIncrements(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	usage := store.Usage()
	date := "2024-01-02"

	total, err := usage.AddTime(context.Background(), date, "site-a", 120)
	if err != nil {
		t.Fatalf("add time: %v", err)
	}
	if total != 120 {
		t.Fatalf("expected total 120, got %d", total)
	}

	total, err = usage.AddTime(context.Background(), date, "site-a", 30)
	if err != nil {
		t.Fatalf("add time: %v", err)
	}
	if total != 150 {
		t.Fatalf("expected total 150, got %d", total)
	}

	opens, err := usage.AddOpen(context.Background(), date, "site-a")
	if err != nil {
		t.Fatalf("add open: %v", err)
	}
	if opens != 1 {
		t.Fatalf("expected 1 open, got %d", opens)
	}

	stat, err := usage.Get(context.Background(), date, "site-a")
	if err != nil {
		t.Fatalf("get usage: %v", err)
	}
	if stat.TimeSpentSeconds != 150 || stat.Opens != 1 {
		t.Fatalf("unexpected stat: %+v", stat)
	}
}

func TestUsageStoreConcurrentIncrements(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	usage := store.Usage()
	date := "2024-01-02"

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				if _, err := usage.AddTime(context.Background(), date, "site-a", 1); err != nil {
					errs <- err
					return
				}
				if _, err := usage.AddOpen(context.Background(), date, "site-a"); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent increment: %v", err)
	}

	stat, err := usage.Get(context.Background(), date, "site-a")
	if err != nil {
		t.Fatalf("get usage: %v", err)
	}
	if stat.TimeSpentSeconds != writers*perWriter {
		t.Errorf("expected %d seconds, got %d (lost updates)", writers*perWriter, stat.TimeSpentSeconds)
	}
	if stat.Opens != writers*perWriter {
		t.Errorf("expected %d opens, got %d (lost updates)", writers*perWriter, stat.Opens)
	}
}

func TestUsageStoreDayEmpty(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	doc, err := store.Usage().Day(context.Background(), "2024-06-01")
	if err != nil {
		t.Fatalf("day: %v", err)
	}
	if len(doc) != 0 {
		t.Fatalf("expected empty day document, got %d entries", len(doc))
	}
}

func TestUsageStoreDeleteDay(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	usage := store.Usage()
	if _, err := usage.AddTime(context.Background(), "2024-01-01", "site-a", 60); err != nil {
		t.Fatalf("add time: %v", err)
	}
	if _, err := usage.AddTime(context.Background(), "2024-01-02", "site-a", 60); err != nil {
		t.Fatalf("add time: %v", err)
	}

	if err := usage.DeleteDay(context.Background(), "2024-01-01"); err != nil {
		t.Fatalf("delete day: %v", err)
	}

	dates, err := usage.ListDates(context.Background())
	if err != nil {
		t.Fatalf("list dates: %v", err)
	}
	if len(dates) != 1 || dates[0] != "2024-01-02" {
		t.Fatalf("expected only 2024-01-02 to remain, got %v", dates)
	}

	// Deleting an absent day is a no-op.
	if err := usage.DeleteDay(context.Background(), "2024-01-01"); err != nil {
		t.Fatalf("delete absent day: %v", err)
	}
}

func TestExtensionStoreOverwrite(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	exts := store.Extensions()
	date := "2024-01-02"

	first := storage.Extension{
		SiteID:          "site-a",
		ExtendedMinutes: 10,
		Excuse:          "finishing an article",
		AppliedCount:    1,
	}
	if err := exts.Put(context.Background(), date, first); err != nil {
		t.Fatalf("put extension: %v", err)
	}

	second := first
	second.ExtendedMinutes = 5
	second.AppliedCount = 2
	if err := exts.Put(context.Background(), date, second); err != nil {
		t.Fatalf("put extension: %v", err)
	}

	got, err := exts.Get(context.Background(), date, "site-a")
	if err != nil {
		t.Fatalf("get extension: %v", err)
	}
	if got.ExtendedMinutes != 5 || got.AppliedCount != 2 {
		t.Fatalf("expected overwrite, got %+v", got)
	}

	day, err := exts.Day(context.Background(), date)
	if err != nil {
		t.Fatalf("day: %v", err)
	}
	if len(day) != 1 {
		t.Fatalf("expected 1 extension for the day, got %d", len(day))
	}
}

func TestSessionStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	sessions := store.Session()

	if _, err := sessions.Get(context.Background()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before put, got %v", err)
	}

	session := storage.TrackingSession{
		SiteID:    "site-a",
		TabID:     7,
		StartedAt: time.Now().Truncate(time.Second),
		LastSeen:  time.Now().Truncate(time.Second),
		Active:    true,
	}
	if err := sessions.Put(context.Background(), session); err != nil {
		t.Fatalf("put session: %v", err)
	}

	got, err := sessions.Get(context.Background())
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.SiteID != "site-a" || got.TabID != 7 || !got.Active {
		t.Fatalf("unexpected session: %+v", got)
	}

	if err := sessions.Clear(context.Background()); err != nil {
		t.Fatalf("clear session: %v", err)
	}
	if _, err := sessions.Get(context.Background()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after clear, got %v", err)
	}

	// Clearing twice is safe.
	if err := sessions.Clear(context.Background()); err != nil {
		t.Fatalf("second clear: %v", err)
	}
}

func TestPreferenceStoreDefaults(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	prefs, err := store.Preferences().Get(context.Background())
	if err != nil {
		t.Fatalf("get preferences: %v", err)
	}
	if !prefs.ShowRemainingTime || !prefs.ShowNotifications {
		t.Fatalf("expected defaults enabled, got %+v", prefs)
	}

	if err := store.Preferences().Put(context.Background(), storage.Preferences{ShowRemainingTime: false, ShowNotifications: true}); err != nil {
		t.Fatalf("put preferences: %v", err)
	}
	prefs, err = store.Preferences().Get(context.Background())
	if err != nil {
		t.Fatalf("get preferences: %v", err)
	}
	if prefs.ShowRemainingTime {
		t.Fatal("expected show_remaining_time to be false")
	}
}
