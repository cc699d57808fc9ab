package host

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mtappler/focusgate/internal/detector"
	"github.com/mtappler/focusgate/internal/enforce"
	"github.com/mtappler/focusgate/internal/reset"
	"github.com/mtappler/focusgate/internal/session"
	"github.com/mtappler/focusgate/internal/storage"
	"github.com/mtappler/focusgate/internal/storage/bolt"
	"github.com/rs/zerolog"
)

type recordingTabs struct {
	mu        sync.Mutex
	redirects map[int]string
}

func (r *recordingTabs) List(ctx context.Context) ([]enforce.Tab, error) { return nil, nil }

func (r *recordingTabs) Redirect(ctx context.Context, tabID int, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redirects[tabID] = url
	return nil
}

func (r *recordingTabs) SetBadge(ctx context.Context, tabID int, text, color string) error {
	return nil
}

func (r *recordingTabs) Notify(ctx context.Context, title, message string) error { return nil }

type fixture struct {
	dispatcher *Dispatcher
	tracker    *session.Tracker
	store      storage.Store
	clock      *session.TestClock
	tabs       *recordingTabs
}

func setup(t *testing.T, sites ...storage.Site) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "host_test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	for _, site := range sites {
		if err := store.Sites().Upsert(ctx, site); err != nil {
			t.Fatalf("Failed to seed site: %v", err)
		}
	}

	clock := &session.TestClock{CurrentTime: time.Date(2024, 6, 15, 10, 0, 0, 0, time.Local)}
	det := detector.New(store.Sites(), store.Groups(), zerolog.Nop())
	if err := det.Reload(ctx); err != nil {
		t.Fatalf("Failed to load detector: %v", err)
	}

	tracker := session.NewTracker(store.Usage(), store.Session(), clock, session.Config{}, zerolog.Nop())
	tabs := &recordingTabs{redirects: make(map[int]string)}
	orch := enforce.NewOrchestrator(det, tracker, store, nil, tabs, nil, clock,
		enforce.Config{BlockPageURL: "http://127.0.0.1:8347/blocked"}, zerolog.Nop())
	sched, err := reset.NewScheduler(store.Usage(), store.Extensions(), nil, clock, "00:00", zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	return &fixture{
		dispatcher: NewDispatcher(det, tracker, orch, sched, zerolog.Nop()),
		tracker:    tracker,
		store:      store,
		clock:      clock,
		tabs:       tabs,
	}
}

func trackedSite(id, pattern string) storage.Site {
	return storage.Site{ID: id, URLPattern: pattern, DailyLimitSeconds: 3600, Enabled: true}
}

func TestNavigationStartsTracking(t *testing.T) {
	fx := setup(t, trackedSite("s1", "example.com"))
	ctx := context.Background()

	if err := fx.dispatcher.OnBeforeNavigate(ctx, 1, "https://example.com/feed", 0); err != nil {
		t.Fatalf("OnBeforeNavigate failed: %v", err)
	}

	info := fx.tracker.Info()
	if !info.Active || info.SiteID != "s1" || info.TabID != 1 {
		t.Errorf("Expected tracking s1 on tab 1, got %+v", info)
	}
}

func TestSubframeNavigationIgnored(t *testing.T) {
	fx := setup(t, trackedSite("s1", "example.com"))

	if err := fx.dispatcher.OnBeforeNavigate(context.Background(), 1, "https://example.com/ad", 2); err != nil {
		t.Fatalf("OnBeforeNavigate failed: %v", err)
	}
	if fx.tracker.Info().Active {
		t.Error("Expected subframe navigation to be ignored")
	}
}

func TestNavigatingAwayStopsTracking(t *testing.T) {
	fx := setup(t, trackedSite("s1", "example.com"))
	ctx := context.Background()

	if err := fx.dispatcher.OnBeforeNavigate(ctx, 1, "https://example.com/feed", 0); err != nil {
		t.Fatalf("OnBeforeNavigate failed: %v", err)
	}
	fx.clock.Advance(30 * time.Second)

	if err := fx.dispatcher.OnBeforeNavigate(ctx, 1, "https://work.example.org/docs", 0); err != nil {
		t.Fatalf("OnBeforeNavigate failed: %v", err)
	}

	if fx.tracker.Info().Active {
		t.Error("Expected tracking stopped after leaving the site")
	}

	stat, err := fx.store.Usage().Get(ctx, storage.DateKey(fx.clock.Now()), "s1")
	if err != nil {
		t.Fatalf("Get usage failed: %v", err)
	}
	if stat.TimeSpentSeconds != 30 {
		t.Errorf("Expected 30 seconds flushed, got %d", stat.TimeSpentSeconds)
	}
}

func TestBlockedNavigationDoesNotTrack(t *testing.T) {
	fx := setup(t, storage.Site{ID: "s1", URLPattern: "example.com", DailyLimitSeconds: 60, Enabled: true})
	ctx := context.Background()

	if _, err := fx.store.Usage().AddTime(ctx, storage.DateKey(fx.clock.Now()), "s1", 120); err != nil {
		t.Fatalf("Seed usage failed: %v", err)
	}

	if err := fx.dispatcher.OnBeforeNavigate(ctx, 1, "https://example.com/feed", 0); err != nil {
		t.Fatalf("OnBeforeNavigate failed: %v", err)
	}

	if fx.tracker.Info().Active {
		t.Error("Expected no session for a blocked navigation")
	}
	if got := fx.tabs.redirects[1]; !strings.Contains(got, "blocked") {
		t.Errorf("Expected redirect to interstitial, got %q", got)
	}
}

func TestWindowFocusLossStopsTracking(t *testing.T) {
	fx := setup(t, trackedSite("s1", "example.com"))
	ctx := context.Background()

	if err := fx.dispatcher.OnBeforeNavigate(ctx, 1, "https://example.com/feed", 0); err != nil {
		t.Fatalf("OnBeforeNavigate failed: %v", err)
	}

	if err := fx.dispatcher.OnWindowFocusChanged(ctx, WindowIDNone); err != nil {
		t.Fatalf("OnWindowFocusChanged failed: %v", err)
	}
	if fx.tracker.Info().Active {
		t.Error("Expected tracking stopped on focus loss")
	}
}

func TestTabActivationSwitchesTracking(t *testing.T) {
	fx := setup(t, trackedSite("s1", "example.com"), trackedSite("s2", "other.example"))
	ctx := context.Background()

	if err := fx.dispatcher.OnBeforeNavigate(ctx, 1, "https://example.com/feed", 0); err != nil {
		t.Fatalf("OnBeforeNavigate failed: %v", err)
	}
	if err := fx.dispatcher.OnBeforeNavigate(ctx, 2, "https://other.example/", 0); err != nil {
		t.Fatalf("OnBeforeNavigate failed: %v", err)
	}

	// Tab 2 is now tracked. Switching back to tab 1 moves the session.
	if err := fx.dispatcher.OnTabActivated(ctx, 1); err != nil {
		t.Fatalf("OnTabActivated failed: %v", err)
	}

	info := fx.tracker.Info()
	if info.SiteID != "s1" || info.TabID != 1 {
		t.Errorf("Expected tracking back on s1/tab 1, got %+v", info)
	}
}

func TestUsageTickAlarmFlushes(t *testing.T) {
	fx := setup(t, trackedSite("s1", "example.com"))
	ctx := context.Background()

	if err := fx.dispatcher.OnBeforeNavigate(ctx, 1, "https://example.com/feed", 0); err != nil {
		t.Fatalf("OnBeforeNavigate failed: %v", err)
	}
	fx.clock.Advance(10 * time.Second)

	if err := fx.dispatcher.OnAlarm(ctx, AlarmUsageTick); err != nil {
		t.Fatalf("OnAlarm failed: %v", err)
	}

	stat, err := fx.store.Usage().Get(ctx, storage.DateKey(fx.clock.Now()), "s1")
	if err != nil {
		t.Fatalf("Get usage failed: %v", err)
	}
	if stat.TimeSpentSeconds != 10 {
		t.Errorf("Expected 10 seconds flushed by tick alarm, got %d", stat.TimeSpentSeconds)
	}
}

func TestStartupResumesAndPrunes(t *testing.T) {
	fx := setup(t, trackedSite("s1", "example.com"))
	ctx := context.Background()

	if _, err := fx.store.Usage().AddTime(ctx, "2024-06-14", "s1", 500); err != nil {
		t.Fatalf("Seed usage failed: %v", err)
	}
	if err := fx.store.Session().Put(ctx, storage.TrackingSession{
		SiteID:   "s1",
		TabID:    1,
		LastSeen: fx.clock.Now().Add(-10 * time.Second),
		Active:   true,
	}); err != nil {
		t.Fatalf("Seed session failed: %v", err)
	}

	if err := fx.dispatcher.OnStarted(ctx); err != nil {
		t.Fatalf("OnStarted failed: %v", err)
	}

	if !fx.tracker.Info().Active {
		t.Error("Expected fresh persisted session resumed")
	}
	if _, err := fx.store.Usage().Get(ctx, "2024-06-14", "s1"); err != storage.ErrNotFound {
		t.Errorf("Expected yesterday's usage pruned at startup, got err=%v", err)
	}
}
