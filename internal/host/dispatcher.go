package host

import (
	"context"
	"fmt"

	"github.com/mtappler/focusgate/internal/detector"
	"github.com/mtappler/focusgate/internal/enforce"
	"github.com/mtappler/focusgate/internal/metrics"
	"github.com/mtappler/focusgate/internal/reset"
	"github.com/mtappler/focusgate/internal/session"
	"github.com/rs/zerolog"
)

// Kind identifies a browser host event.
type Kind string

const (
	KindBeforeNavigate     Kind = "beforeNavigate"
	KindTabActivated       Kind = "tabActivated"
	KindTabUpdated         Kind = "tabUpdated"
	KindTabRemoved         Kind = "tabRemoved"
	KindWindowFocusChanged Kind = "windowFocusChanged"
	KindAlarm              Kind = "alarm"
	KindStarted            Kind = "started"
)

// Alarm names the client is expected to fire.
const (
	AlarmUsageTick  = "usageTick"
	AlarmDailyReset = "dailyReset"
)

// WindowIDNone is the focus-changed payload meaning no window has
// focus.
const WindowIDNone = -1

// Event is a host event as posted by the browser client.
type Event struct {
	Kind     Kind   `json:"kind"`
	TabID    int    `json:"tabId,omitempty"`
	URL      string `json:"url,omitempty"`
	FrameID  int    `json:"frameId,omitempty"`
	Status   string `json:"status,omitempty"`
	WindowID int    `json:"windowId,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Dispatcher maps host events onto the tracking and enforcement core.
// It keeps the browser-shaped plumbing out of the decision components.
type Dispatcher struct {
	detector *detector.Detector
	tracker  *session.Tracker
	orch     *enforce.Orchestrator
	reset    *reset.Scheduler
	logger   zerolog.Logger
}

// NewDispatcher creates a host event dispatcher.
func NewDispatcher(det *detector.Detector, tracker *session.Tracker, orch *enforce.Orchestrator, sched *reset.Scheduler, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		detector: det,
		tracker:  tracker,
		orch:     orch,
		reset:    sched,
		logger:   logger.With().Str("component", "host").Logger(),
	}
}

// Dispatch routes one event to its handler.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	metrics.EventsReceived.WithLabelValues(string(ev.Kind)).Inc()

	switch ev.Kind {
	case KindBeforeNavigate:
		return d.OnBeforeNavigate(ctx, ev.TabID, ev.URL, ev.FrameID)
	case KindTabActivated:
		return d.OnTabActivated(ctx, ev.TabID)
	case KindTabUpdated:
		return d.OnTabUpdated(ctx, ev.TabID, ev.URL, ev.Status)
	case KindTabRemoved:
		return d.OnTabRemoved(ctx, ev.TabID)
	case KindWindowFocusChanged:
		return d.OnWindowFocusChanged(ctx, ev.WindowID)
	case KindAlarm:
		return d.OnAlarm(ctx, ev.Name)
	case KindStarted:
		return d.OnStarted(ctx)
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

// OnBeforeNavigate handles a main-frame navigation about to commit.
// Subframe navigations are ignored.
func (d *Dispatcher) OnBeforeNavigate(ctx context.Context, tabID int, url string, frameID int) error {
	if frameID != 0 {
		return nil
	}
	d.checkAndTrack(ctx, tabID, url)
	return nil
}

// OnTabActivated handles the user switching tabs. Tracking follows
// the focused tab: switching onto a matched site starts a session,
// switching away stops the current one.
func (d *Dispatcher) OnTabActivated(ctx context.Context, tabID int) error {
	info := d.tracker.Info()
	if info.Active && info.TabID == tabID {
		return nil
	}
	url := d.orch.TabURL(tabID)
	if url == "" {
		// Never seen this tab navigate; just stop whatever was tracked.
		d.stopTracked(ctx)
		return nil
	}
	d.checkAndTrack(ctx, tabID, url)
	return nil
}

// OnTabUpdated handles in-tab URL changes reported after the fact
// (history API navigations, redirects). Updates for a URL already
// decided by OnBeforeNavigate are skipped.
func (d *Dispatcher) OnTabUpdated(ctx context.Context, tabID int, url string, status string) error {
	if url == "" || status != "complete" {
		return nil
	}
	if d.orch.TabURL(tabID) == url {
		return nil
	}
	d.checkAndTrack(ctx, tabID, url)
	return nil
}

// OnTabRemoved drops a closed tab and stops its session.
func (d *Dispatcher) OnTabRemoved(ctx context.Context, tabID int) error {
	if info := d.tracker.Info(); info.Active && info.TabID == tabID {
		d.stopTracked(ctx)
	}
	d.orch.ForgetTab(tabID)
	return nil
}

// OnWindowFocusChanged stops tracking when the browser loses focus.
// Focus moving to another window is followed by a tab-activated
// event, which restarts tracking as needed.
func (d *Dispatcher) OnWindowFocusChanged(ctx context.Context, windowID int) error {
	if windowID == WindowIDNone {
		d.stopTracked(ctx)
	}
	return nil
}

// OnAlarm handles the client's periodic timers.
func (d *Dispatcher) OnAlarm(ctx context.Context, name string) error {
	switch name {
	case AlarmUsageTick:
		return d.orch.HandleTick(ctx)
	case AlarmDailyReset:
		return d.reset.Run(ctx)
	default:
		d.logger.Debug().Str("name", name).Msg("Ignoring unknown alarm")
		return nil
	}
}

// OnStarted handles client startup: load the detector tables, resume
// a persisted session if it is still fresh, and self-heal missed
// daily resets.
func (d *Dispatcher) OnStarted(ctx context.Context) error {
	if err := d.detector.Reload(ctx); err != nil {
		d.logger.Error().Err(err).Msg("Detector load on startup failed")
	}
	if err := d.tracker.Resume(ctx); err != nil {
		d.logger.Error().Err(err).Msg("Session resume failed")
	}
	return d.reset.Run(ctx)
}

// checkAndTrack runs the navigation decision and aligns the session
// with the outcome: track matched allowed sites, stop when the tab
// leaves a matched site, leave blocked tabs to the orchestrator.
func (d *Dispatcher) checkAndTrack(ctx context.Context, tabID int, url string) {
	match := d.detector.Match(url)
	if !match.IsMatch {
		d.orch.NoteTabURL(tabID, url)
		if info := d.tracker.Info(); info.Active && info.TabID == tabID {
			d.stopTracked(ctx)
		}
		return
	}

	decision := d.orch.CheckNavigation(ctx, tabID, url)
	if decision.ShouldBlock {
		return
	}

	if err := d.tracker.Start(ctx, tabID, match.SiteID); err != nil {
		d.logger.Error().Err(err).Str("site_id", match.SiteID).Msg("Failed to start tracking")
	}
}

func (d *Dispatcher) stopTracked(ctx context.Context) {
	if err := d.tracker.Stop(ctx); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop tracking")
	}
}
