package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/mtappler/focusgate/internal/metrics"
	"github.com/mtappler/focusgate/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultStaleAfter is the liveness threshold beyond which a
	// persisted session found at startup is discarded as orphaned
	// instead of resumed.
	DefaultStaleAfter = 60 * time.Second

	persistAttempts = 3
	persistBackoff  = 100 * time.Millisecond
)

// Tracker is the process-wide single-slot session state machine. At
// most one (tab, site) pair is timed at any moment; starting a session
// for a different pair flushes and supersedes the previous one. All
// transitions and ticks are serialized by one mutex, so a tick that
// fires after a stop observes the idle state and discards itself.
type Tracker struct {
	usage    storage.UsageStore
	sessions storage.SessionStore

	clock      Clock
	staleAfter time.Duration
	logger     zerolog.Logger

	mu      sync.Mutex
	current *activeSession
}

type activeSession struct {
	siteID    string
	tabID     int
	startedAt time.Time
}

// Info is a read-only snapshot of the tracker state.
type Info struct {
	Active    bool
	SiteID    string
	TabID     int
	StartedAt time.Time
}

// Config holds tracker configuration.
type Config struct {
	StaleAfter time.Duration
}

// NewTracker creates a session tracker.
func NewTracker(usage storage.UsageStore, sessions storage.SessionStore, clock Clock, config Config, logger zerolog.Logger) *Tracker {
	if config.StaleAfter == 0 {
		config.StaleAfter = DefaultStaleAfter
	}
	if clock == nil {
		clock = RealClock{}
	}

	return &Tracker{
		usage:      usage,
		sessions:   sessions,
		clock:      clock,
		staleAfter: config.StaleAfter,
		logger:     logger.With().Str("component", "session-tracker").Logger(),
	}
}

// Start begins timing a (tab, site) pair, superseding any prior
// session after flushing its elapsed time. Every start records one
// "open" for the site.
func (t *Tracker) Start(ctx context.Context, tabID int, siteID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()

	if t.current != nil {
		if t.current.tabID == tabID && t.current.siteID == siteID {
			// Same pair: flush and keep the session running.
			if _, err := t.flushLocked(ctx, now); err != nil {
				t.logger.Error().Err(err).Msg("Failed to flush before restart")
			}
		} else {
			if err := t.stopLocked(ctx, now); err != nil {
				t.logger.Error().Err(err).Msg("Failed to stop superseded session")
			}
		}
	}

	t.current = &activeSession{siteID: siteID, tabID: tabID, startedAt: now}
	metrics.SessionsStarted.Inc()
	metrics.ActiveSession.Set(1)

	var firstErr error
	if err := t.persistLocked(ctx, now); err != nil {
		t.logger.Error().Err(err).Msg("Failed to persist new session")
		firstErr = err
	}

	opens, err := t.addOpen(ctx, now, siteID)
	if err != nil {
		t.logger.Error().Err(err).Str("site_id", siteID).Msg("Failed to record open")
		if firstErr == nil {
			firstErr = err
		}
	} else {
		metrics.SiteOpens.WithLabelValues(siteID).Inc()
	}

	t.logger.Info().
		Str("site_id", siteID).
		Int("tab_id", tabID).
		Int("opens_today", opens).
		Msg("Started tracking session")

	return firstErr
}

// Tick flushes the elapsed time of the active session into today's
// usage and continues timing from now. Returns the site's cumulative
// seconds for today, or 0 when idle.
func (t *Tracker) Tick(ctx context.Context) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return 0, nil
	}

	now := t.clock.Now()
	total, err := t.flushLocked(ctx, now)
	if err != nil {
		return total, err
	}

	if perr := t.persistLocked(ctx, now); perr != nil {
		t.logger.Warn().Err(perr).Msg("Failed to refresh session liveness")
	}

	return total, nil
}

// Stop flushes once and transitions to idle. The persisted session is
// cleared even when the flush write fails; at most one interval of
// usage may be lost. Stopping an idle tracker is a no-op.
func (t *Tracker) Stop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return nil
	}
	return t.stopLocked(ctx, t.clock.Now())
}

// Resume restores a persisted session after a process restart. A
// session whose liveness timestamp is older than the staleness
// threshold is discarded as orphaned.
func (t *Tracker) Resume(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	persisted, err := t.sessions.Get(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load persisted session: %w", err)
	}

	now := t.clock.Now()

	if !persisted.Active || now.Sub(persisted.LastSeen) > t.staleAfter {
		t.logger.Info().
			Str("site_id", persisted.SiteID).
			Time("last_seen", persisted.LastSeen).
			Msg("Discarding orphaned session")
		return t.sessions.Clear(ctx)
	}

	// Resume timing from now; time while the process was down is not
	// counted.
	t.current = &activeSession{
		siteID:    persisted.SiteID,
		tabID:     persisted.TabID,
		startedAt: now,
	}
	metrics.ActiveSession.Set(1)

	if err := t.persistLocked(ctx, now); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to refresh resumed session")
	}

	t.logger.Info().
		Str("site_id", persisted.SiteID).
		Int("tab_id", persisted.TabID).
		Msg("Resumed tracking session")

	return nil
}

// Info returns a read-only snapshot of the current state.
func (t *Tracker) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return Info{}
	}
	return Info{
		Active:    true,
		SiteID:    t.current.siteID,
		TabID:     t.current.tabID,
		StartedAt: t.current.startedAt,
	}
}

// flushLocked adds the elapsed seconds since the last flush to today's
// usage and resets the segment start. Must be called with the lock
// held and an active session.
func (t *Tracker) flushLocked(ctx context.Context, now time.Time) (int64, error) {
	elapsed := now.Sub(t.current.startedAt)
	seconds := int64(math.Round(elapsed.Seconds()))
	date := storage.DateKey(now)
	siteID := t.current.siteID

	t.current.startedAt = now

	if seconds <= 0 {
		stat, err := t.usage.Get(ctx, date, siteID)
		if errors.Is(err, storage.ErrNotFound) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		return stat.TimeSpentSeconds, nil
	}

	var total int64
	err := withRetry(ctx, func() error {
		var addErr error
		total, addErr = t.usage.AddTime(ctx, date, siteID, seconds)
		return addErr
	})
	if err != nil {
		return 0, fmt.Errorf("flush usage: %w", err)
	}

	metrics.UsageSeconds.WithLabelValues(siteID).Add(float64(seconds))

	t.logger.Debug().
		Str("site_id", siteID).
		Int64("seconds", seconds).
		Int64("total_today", total).
		Msg("Flushed session time")

	return total, nil
}

// stopLocked flushes once and clears the session. Cleanup is never
// blocked by a failed flush.
func (t *Tracker) stopLocked(ctx context.Context, now time.Time) error {
	siteID := t.current.siteID

	if _, err := t.flushLocked(ctx, now); err != nil {
		t.logger.Error().Err(err).Str("site_id", siteID).Msg("Flush failed during stop, clearing session anyway")
	}

	t.current = nil
	metrics.ActiveSession.Set(0)

	if err := t.sessions.Clear(ctx); err != nil {
		return fmt.Errorf("clear persisted session: %w", err)
	}

	t.logger.Info().Str("site_id", siteID).Msg("Stopped tracking session")
	return nil
}

func (t *Tracker) persistLocked(ctx context.Context, now time.Time) error {
	return t.sessions.Put(ctx, storage.TrackingSession{
		SiteID:    t.current.siteID,
		TabID:     t.current.tabID,
		StartedAt: t.current.startedAt,
		LastSeen:  now,
		Active:    true,
	})
}

func (t *Tracker) addOpen(ctx context.Context, now time.Time, siteID string) (int, error) {
	var opens int
	err := withRetry(ctx, func() error {
		var addErr error
		opens, addErr = t.usage.AddOpen(ctx, storage.DateKey(now), siteID)
		return addErr
	})
	return opens, err
}

// withRetry retries a store write a bounded number of times so a
// transiently failing store does not stall the tick loop.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < persistAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(persistBackoff):
		}
	}
	return err
}
