package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/mtappler/focusgate/internal/config"
	"github.com/mtappler/focusgate/internal/detector"
	"github.com/mtappler/focusgate/internal/enforce"
	"github.com/mtappler/focusgate/internal/events"
	"github.com/mtappler/focusgate/internal/extensions"
	"github.com/mtappler/focusgate/internal/host"
	"github.com/mtappler/focusgate/internal/reset"
	"github.com/mtappler/focusgate/internal/session"
	"github.com/mtappler/focusgate/internal/settings"
	"github.com/mtappler/focusgate/internal/storage"
	"github.com/mtappler/focusgate/internal/storage/bolt"
	"github.com/rs/zerolog"
)

type apiFixture struct {
	server *Server
	store  storage.Store
	clock  *session.TestClock
	queue  *CommandQueue
}

func setupAPI(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "api_test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clock := &session.TestClock{CurrentTime: time.Date(2024, 6, 15, 10, 0, 0, 0, time.Local)}
	bus := events.NewBus(logger)
	det := detector.New(store.Sites(), store.Groups(), logger)
	if err := det.Reload(ctx); err != nil {
		t.Fatalf("Failed to load detector: %v", err)
	}

	tracker := session.NewTracker(store.Usage(), store.Session(), clock, session.Config{}, logger)
	queue := NewCommandQueue(logger)
	orch := enforce.NewOrchestrator(det, tracker, store, nil, queue, bus, clock,
		enforce.Config{BlockPageURL: "http://127.0.0.1:8347/blocked"}, logger)
	settingsSvc := settings.NewService(store, bus, orch, logger)
	extensionsSvc := extensions.NewService(store, bus, orch, clock, logger)
	sched, err := reset.NewScheduler(store.Usage(), store.Extensions(), bus, clock, "00:00", logger)
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}
	dispatcher := host.NewDispatcher(det, tracker, orch, sched, logger)

	cfg := config.APIConfig{Port: 8347, BindAddress: "127.0.0.1", PublicURL: "http://127.0.0.1:8347"}
	server := NewServer(cfg, dispatcher, settingsSvc, extensionsSvc, queue, bus, tracker, orch, store, logger)

	return &apiFixture{server: server, store: store, clock: clock, queue: queue}
}

func (fx *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	fx.server.router.ServeHTTP(rec, req)
	return rec
}

func TestSiteCRUD(t *testing.T) {
	fx := setupAPI(t)

	rec := fx.do(t, "POST", "/v1/sites", map[string]interface{}{
		"urlPattern":        "https://www.example.com/",
		"dailyLimitSeconds": 600,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var site storage.Site
	if err := json.Unmarshal(rec.Body.Bytes(), &site); err != nil {
		t.Fatalf("Failed to decode site: %v", err)
	}
	if site.URLPattern != "example.com" {
		t.Errorf("Expected normalized pattern, got %q", site.URLPattern)
	}

	rec = fx.do(t, "GET", "/v1/sites/"+site.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	rec = fx.do(t, "DELETE", "/v1/sites/"+site.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", rec.Code)
	}

	rec = fx.do(t, "GET", "/v1/sites/"+site.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", rec.Code)
	}
}

func TestAddSiteValidationError(t *testing.T) {
	fx := setupAPI(t)

	rec := fx.do(t, "POST", "/v1/sites", map[string]interface{}{"urlPattern": "example.com"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a site without limits, got %d", rec.Code)
	}
}

func TestBlockedNavigationQueuesRedirect(t *testing.T) {
	fx := setupAPI(t)
	ctx := context.Background()

	rec := fx.do(t, "POST", "/v1/sites", map[string]interface{}{
		"urlPattern":        "example.com",
		"dailyLimitSeconds": 60,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", rec.Code)
	}
	var site storage.Site
	_ = json.Unmarshal(rec.Body.Bytes(), &site)

	if _, err := fx.store.Usage().AddTime(ctx, storage.DateKey(fx.clock.Now()), site.ID, 120); err != nil {
		t.Fatalf("Seed usage failed: %v", err)
	}

	rec = fx.do(t, "POST", "/v1/events", host.Event{
		Kind:  host.KindBeforeNavigate,
		TabID: 1,
		URL:   "https://example.com/feed",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = fx.do(t, "GET", "/v1/commands", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var payload struct {
		Commands []Command `json:"commands"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("Failed to decode commands: %v", err)
	}

	var redirect *Command
	for i := range payload.Commands {
		if payload.Commands[i].Kind == CommandRedirect {
			redirect = &payload.Commands[i]
		}
	}
	if redirect == nil {
		t.Fatalf("Expected a queued redirect, got %+v", payload.Commands)
	}
	if redirect.TabID != 1 {
		t.Errorf("Expected redirect for tab 1, got %d", redirect.TabID)
	}

	// Draining empties the queue.
	rec = fx.do(t, "GET", "/v1/commands", nil)
	_ = json.Unmarshal(rec.Body.Bytes(), &payload)
	if len(payload.Commands) != 0 {
		t.Errorf("Expected empty queue after drain, got %d commands", len(payload.Commands))
	}
}

func TestCheckEndpoint(t *testing.T) {
	fx := setupAPI(t)

	rec := fx.do(t, "POST", "/v1/sites", map[string]interface{}{
		"urlPattern":        "example.com",
		"dailyLimitSeconds": 600,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", rec.Code)
	}

	rec = fx.do(t, "GET", "/v1/check?url="+"https%3A%2F%2Fexample.com%2Ffeed", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var decision struct {
		ShouldBlock      bool  `json:"shouldBlock"`
		RemainingSeconds int64 `json:"remainingSeconds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &decision); err != nil {
		t.Fatalf("Failed to decode decision: %v", err)
	}
	if decision.ShouldBlock {
		t.Error("Expected allow with no usage")
	}
	if decision.RemainingSeconds != 600 {
		t.Errorf("Expected 600 remaining seconds, got %d", decision.RemainingSeconds)
	}
}

func TestGrantExtensionUnblocks(t *testing.T) {
	fx := setupAPI(t)
	ctx := context.Background()

	rec := fx.do(t, "POST", "/v1/sites", map[string]interface{}{
		"urlPattern":        "example.com",
		"dailyLimitSeconds": 600,
	})
	var site storage.Site
	_ = json.Unmarshal(rec.Body.Bytes(), &site)

	if _, err := fx.store.Usage().AddTime(ctx, storage.DateKey(fx.clock.Now()), site.ID, 700); err != nil {
		t.Fatalf("Seed usage failed: %v", err)
	}

	check := func() bool {
		rec := fx.do(t, "GET", "/v1/check?url=https%3A%2F%2Fexample.com%2F", nil)
		var decision struct {
			ShouldBlock bool `json:"shouldBlock"`
		}
		_ = json.Unmarshal(rec.Body.Bytes(), &decision)
		return decision.ShouldBlock
	}

	if !check() {
		t.Fatal("Expected block before extension")
	}

	rec = fx.do(t, "POST", "/v1/extensions", map[string]interface{}{
		"siteId":          site.ID,
		"extendedMinutes": 10,
		"excuse":          "one more video",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	if check() {
		t.Error("Expected allow after a 10 minute extension")
	}
}

func TestBlockedPageRenders(t *testing.T) {
	fx := setupAPI(t)

	rec := fx.do(t, "GET", "/blocked?blockedUrl=https%3A%2F%2Fexample.com&reason=Daily+time+limit+reached&limitType=time", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"Daily time limit reached", "https://example.com"} {
		if !bytes.Contains([]byte(body), []byte(want)) {
			t.Errorf("Expected %q in blocked page", want)
		}
	}
}

func TestUsageEndpoint(t *testing.T) {
	fx := setupAPI(t)
	ctx := context.Background()

	date := storage.DateKey(fx.clock.Now())
	if _, err := fx.store.Usage().AddTime(ctx, date, "s1", 42); err != nil {
		t.Fatalf("Seed usage failed: %v", err)
	}

	rec := fx.do(t, "GET", fmt.Sprintf("/v1/usage?date=%s", date), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var payload struct {
		Date  string                       `json:"date"`
		Usage map[string]storage.UsageStat `json:"usage"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("Failed to decode usage: %v", err)
	}
	if payload.Usage["s1"].TimeSpentSeconds != 42 {
		t.Errorf("Expected 42 seconds for s1, got %+v", payload.Usage)
	}

	rec = fx.do(t, "GET", "/v1/usage?date=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid date, got %d", rec.Code)
	}
}
