package enforce

import (
	"context"
	"fmt"
	"sync"

	"github.com/mtappler/focusgate/internal/detector"
	"github.com/mtappler/focusgate/internal/events"
	"github.com/mtappler/focusgate/internal/limits"
	"github.com/mtappler/focusgate/internal/metrics"
	"github.com/mtappler/focusgate/internal/override"
	"github.com/mtappler/focusgate/internal/session"
	"github.com/mtappler/focusgate/internal/storage"
	"github.com/rs/zerolog"
)

const (
	badgeColorOK      = "#4CAF50"
	badgeColorWarn    = "#FF9800"
	badgeColorBlocked = "#F44336"

	warnThresholdSeconds = 5 * 60
)

// Config holds orchestrator configuration.
type Config struct {
	// BlockPageURL is the interstitial base URL blocked tabs are
	// redirected to.
	BlockPageURL string
	// RestoredNotifyCap bounds restored-access notifications per
	// re-evaluation sweep.
	RestoredNotifyCap int
}

// Orchestrator ties the detector, tracker, and calculator together:
// it decides navigations, advances the tick loop, and re-evaluates
// every open tab after a configuration change. All decision errors
// resolve to allow.
type Orchestrator struct {
	detector  *detector.Detector
	tracker   *session.Tracker
	store     storage.Store
	overrides *override.Engine // nil when no policy dir is configured
	tabs      TabController
	bus       *events.Bus
	clock     session.Clock
	cfg       Config
	logger    zerolog.Logger

	// Last known URL per tab, for tick-time redirects.
	mu      sync.Mutex
	tabURLs map[int]string
}

// NewOrchestrator creates a blocking orchestrator.
func NewOrchestrator(det *detector.Detector, tracker *session.Tracker, store storage.Store, overrides *override.Engine, tabs TabController, bus *events.Bus, clock session.Clock, cfg Config, logger zerolog.Logger) *Orchestrator {
	if cfg.RestoredNotifyCap <= 0 {
		cfg.RestoredNotifyCap = 3
	}
	if clock == nil {
		clock = session.RealClock{}
	}
	return &Orchestrator{
		detector:  det,
		tracker:   tracker,
		store:     store,
		overrides: overrides,
		tabs:      tabs,
		bus:       bus,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.With().Str("component", "enforce").Logger(),
		tabURLs:   make(map[int]string),
	}
}

// NoteTabURL records a tab's current URL. The host dispatcher calls
// this on every navigation and tab update.
func (o *Orchestrator) NoteTabURL(tabID int, url string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tabURLs[tabID] = url
}

// ForgetTab drops a closed tab from the registry.
func (o *Orchestrator) ForgetTab(tabID int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.tabURLs, tabID)
}

// TabURL returns the last known URL for a tab, or "".
func (o *Orchestrator) TabURL(tabID int) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tabURLs[tabID]
}

// CheckNavigation decides a main-frame navigation. When the
// navigating tab is the one currently tracked, the session is flushed
// first so the decision uses fresh usage. Blocked tabs are redirected
// to the interstitial and their session is stopped.
func (o *Orchestrator) CheckNavigation(ctx context.Context, tabID int, rawURL string) limits.Decision {
	o.NoteTabURL(tabID, rawURL)

	if info := o.tracker.Info(); info.Active && info.TabID == tabID {
		if _, err := o.tracker.Tick(ctx); err != nil {
			o.logger.Warn().Err(err).Msg("Pre-decision flush failed")
		}
	}

	decision := o.Evaluate(ctx, rawURL)
	if !decision.ShouldBlock {
		if decision.SiteID != "" {
			o.refreshBadge(ctx, tabID, decision)
		}
		return decision
	}

	metrics.BlockedNavigations.WithLabelValues(decision.SiteID, string(decision.LimitType)).Inc()
	o.logger.Info().
		Int("tab_id", tabID).
		Str("site_id", decision.SiteID).
		Str("limit_type", string(decision.LimitType)).
		Str("reason", decision.Reason).
		Msg("Blocking navigation")

	if err := o.tabs.Redirect(ctx, tabID, BlockPageURL(o.cfg.BlockPageURL, rawURL, decision)); err != nil {
		o.logger.Error().Err(err).Int("tab_id", tabID).Msg("Failed to redirect blocked tab")
	}

	if info := o.tracker.Info(); info.Active && info.TabID == tabID {
		if err := o.tracker.Stop(ctx); err != nil {
			o.logger.Error().Err(err).Msg("Failed to stop session for blocked tab")
		}
	}

	o.refreshBadge(ctx, tabID, decision)
	return decision
}

// HandleTick advances the active session and blocks its tab if the
// flush pushed usage over the limit.
func (o *Orchestrator) HandleTick(ctx context.Context) error {
	total, err := o.tracker.Tick(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("Tick flush failed")
	}

	info := o.tracker.Info()
	if !info.Active {
		return nil
	}

	in, err := o.loadInput(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("Skipping tick evaluation, store unavailable")
		return nil
	}

	if o.bus != nil {
		o.bus.Publish(events.UsageUpdated, map[string]interface{}{
			"siteId":           info.SiteID,
			"timeSpentSeconds": total,
		})
	}

	decision := o.applyOverride(ctx, o.TabURL(info.TabID), limits.EvaluateSite(info.SiteID, in))
	if !decision.ShouldBlock {
		o.refreshBadge(ctx, info.TabID, decision)
		return nil
	}

	metrics.BlockedNavigations.WithLabelValues(decision.SiteID, string(decision.LimitType)).Inc()
	o.logger.Info().
		Int("tab_id", info.TabID).
		Str("site_id", info.SiteID).
		Str("reason", decision.Reason).
		Msg("Limit crossed mid-session, blocking tab")

	blockedURL := o.TabURL(info.TabID)
	if err := o.tabs.Redirect(ctx, info.TabID, BlockPageURL(o.cfg.BlockPageURL, blockedURL, decision)); err != nil {
		o.logger.Error().Err(err).Int("tab_id", info.TabID).Msg("Failed to redirect tab at limit")
	}
	if err := o.tracker.Stop(ctx); err != nil {
		o.logger.Error().Err(err).Msg("Failed to stop session at limit")
	}
	o.refreshBadge(ctx, info.TabID, decision)
	return nil
}

// Reevaluate reloads the detector cache and re-decides every open
// tab. Called after any site or group mutation so no tab keeps a
// stale blocked or unblocked state. Per-tab failures are isolated.
func (o *Orchestrator) Reevaluate(ctx context.Context) error {
	if err := o.detector.Reload(ctx); err != nil {
		o.logger.Error().Err(err).Msg("Detector reload failed, re-evaluating with previous tables")
	}

	tabs, err := o.tabs.List(ctx)
	if err != nil {
		return fmt.Errorf("list tabs: %w", err)
	}

	metrics.Reevaluations.Inc()
	notified := 0

	for _, tab := range tabs {
		if err := o.reevaluateTab(ctx, tab, &notified); err != nil {
			o.logger.Warn().Err(err).Int("tab_id", tab.ID).Msg("Tab re-evaluation failed")
		}
	}
	return nil
}

func (o *Orchestrator) reevaluateTab(ctx context.Context, tab Tab, notified *int) error {
	if IsBlockPage(o.cfg.BlockPageURL, tab.URL) {
		target := BlockedTarget(tab.URL)
		if target == "" {
			return nil
		}
		decision := o.Evaluate(ctx, target)
		if decision.ShouldBlock {
			return nil
		}
		// The condition that blocked this tab no longer holds.
		if *notified < o.cfg.RestoredNotifyCap {
			*notified++
			if err := o.tabs.Notify(ctx, "Access restored", fmt.Sprintf("You can open %s again.", target)); err != nil {
				o.logger.Debug().Err(err).Msg("Restored-access notification failed")
			}
		}
		return o.tabs.SetBadge(ctx, tab.ID, "", "")
	}

	if _, ok := detector.Hostname(tab.URL); !ok {
		// Internal and browser pages are never evaluated.
		return nil
	}

	decision := o.Evaluate(ctx, tab.URL)
	if decision.ShouldBlock {
		if err := o.tabs.Redirect(ctx, tab.ID, BlockPageURL(o.cfg.BlockPageURL, tab.URL, decision)); err != nil {
			return err
		}
		if info := o.tracker.Info(); info.Active && info.TabID == tab.ID {
			if err := o.tracker.Stop(ctx); err != nil {
				o.logger.Error().Err(err).Msg("Failed to stop session for re-blocked tab")
			}
		}
	}
	o.refreshBadge(ctx, tab.ID, decision)
	return nil
}

// Evaluate runs the full decision pipeline for a URL: limit
// calculation over today's usage, then any operator override. Store
// failures resolve to allow.
func (o *Orchestrator) Evaluate(ctx context.Context, rawURL string) limits.Decision {
	in, err := o.loadInput(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("Evaluation store read failed, allowing")
		metrics.LimitEvaluations.WithLabelValues("error").Inc()
		return limits.Decision{RemainingSeconds: limits.NoLimit, RemainingOpens: limits.NoLimit}
	}

	decision := o.applyOverride(ctx, rawURL, limits.Evaluate(rawURL, in))
	if decision.ShouldBlock {
		metrics.LimitEvaluations.WithLabelValues("block").Inc()
	} else {
		metrics.LimitEvaluations.WithLabelValues("allow").Inc()
	}
	return decision
}

func (o *Orchestrator) loadInput(ctx context.Context) (limits.Input, error) {
	tables := o.detector.Tables()
	if tables == nil {
		tables = &detector.Tables{}
	}

	date := storage.DateKey(o.clock.Now())
	usage, err := o.store.Usage().Day(ctx, date)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("usage_day").Inc()
		return limits.Input{}, fmt.Errorf("load usage: %w", err)
	}
	exts, err := o.store.Extensions().Day(ctx, date)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("extensions_day").Inc()
		return limits.Input{}, fmt.Errorf("load extensions: %w", err)
	}

	return limits.Input{
		Sites:      tables.Sites,
		Groups:     tables.Groups,
		Usage:      usage,
		Extensions: exts,
	}, nil
}

// applyOverride lets operator rego policies force a decision for a
// matched site. Policy errors keep the calculator's decision.
func (o *Orchestrator) applyOverride(ctx context.Context, rawURL string, decision limits.Decision) limits.Decision {
	if o.overrides == nil || decision.SiteID == "" {
		return decision
	}

	hostname, _ := detector.Hostname(rawURL)
	now := o.clock.Now()
	result, err := o.overrides.Evaluate(ctx, map[string]interface{}{
		"site_id":  decision.SiteID,
		"group_id": decision.GroupID,
		"url":      rawURL,
		"hostname": hostname,
		"blocked":  decision.ShouldBlock,
		"time": map[string]interface{}{
			"day_of_week": int(now.Weekday()),
			"hour":        now.Hour(),
			"minute":      now.Minute(),
		},
	})
	if err != nil {
		o.logger.Warn().Err(err).Msg("Override evaluation failed, keeping calculator decision")
		metrics.OverrideDecisions.WithLabelValues("error").Inc()
		return decision
	}

	switch result.Action {
	case override.ActionAllow:
		metrics.OverrideDecisions.WithLabelValues("allow").Inc()
		decision.ShouldBlock = false
		decision.LimitType = ""
		decision.Reason = result.Reason
	case override.ActionBlock:
		metrics.OverrideDecisions.WithLabelValues("block").Inc()
		decision.ShouldBlock = true
		decision.Reason = result.Reason
		if decision.LimitType == "" {
			decision.LimitType = limits.LimitTypeTime
		}
	default:
		metrics.OverrideDecisions.WithLabelValues("none").Inc()
	}
	return decision
}

// refreshBadge renders the remaining allowance onto a tab's badge.
func (o *Orchestrator) refreshBadge(ctx context.Context, tabID int, decision limits.Decision) {
	prefs, err := o.store.Preferences().Get(ctx)
	if err != nil {
		o.logger.Debug().Err(err).Msg("Preference read failed, using defaults")
		prefs = &storage.Preferences{ShowRemainingTime: true, ShowNotifications: true}
	}

	text, color := badgeFor(decision, prefs.ShowRemainingTime)
	if err := o.tabs.SetBadge(ctx, tabID, text, color); err != nil {
		o.logger.Debug().Err(err).Int("tab_id", tabID).Msg("Badge update failed")
	}
}

func badgeFor(decision limits.Decision, showRemaining bool) (string, string) {
	if decision.SiteID == "" || !showRemaining {
		return "", ""
	}
	if decision.ShouldBlock {
		return "0", badgeColorBlocked
	}
	switch {
	case decision.RemainingSeconds != limits.NoLimit:
		minutes := decision.RemainingSeconds / 60
		color := badgeColorOK
		if decision.RemainingSeconds < warnThresholdSeconds {
			color = badgeColorWarn
		}
		return fmt.Sprintf("%dm", minutes), color
	case decision.RemainingOpens != limits.NoLimit:
		color := badgeColorOK
		if decision.RemainingOpens <= 1 {
			color = badgeColorWarn
		}
		return fmt.Sprintf("%dx", decision.RemainingOpens), color
	default:
		return "", ""
	}
}
