package reset

import (
	"context"
	"time"

	"github.com/mtappler/focusgate/internal/events"
	"github.com/mtappler/focusgate/internal/metrics"
	"github.com/mtappler/focusgate/internal/session"
	"github.com/mtappler/focusgate/internal/storage"
	"github.com/rs/zerolog"
)

// Scheduler prunes date-partitioned usage and extension documents
// whose date is no longer today. It fires at the configured local
// time each day; callers also run it once at startup to self-heal
// after missed boundaries.
type Scheduler struct {
	usage      storage.UsageStore
	extensions storage.ExtensionStore
	bus        *events.Bus
	clock      session.Clock
	resetTime  time.Time // Only hour and minute are used
	logger     zerolog.Logger
	stopChan   chan struct{}
}

// NewScheduler creates a reset scheduler. resetTime is HH:MM local.
func NewScheduler(usage storage.UsageStore, extensions storage.ExtensionStore, bus *events.Bus, clock session.Clock, resetTime string, logger zerolog.Logger) (*Scheduler, error) {
	parsedTime, err := time.Parse("15:04", resetTime)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = session.RealClock{}
	}

	return &Scheduler{
		usage:      usage,
		extensions: extensions,
		bus:        bus,
		clock:      clock,
		resetTime:  parsedTime,
		logger:     logger.With().Str("component", "reset-scheduler").Logger(),
		stopChan:   make(chan struct{}),
	}, nil
}

// Start begins the reset scheduler
func (s *Scheduler) Start() {
	go s.loop()
	s.logger.Info().
		Str("reset_time", s.resetTime.Format("15:04")).
		Msg("Daily reset scheduler started")
}

// Stop stops the reset scheduler
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.logger.Info().Msg("Daily reset scheduler stopped")
}

func (s *Scheduler) loop() {
	for {
		nextReset := s.calculateNextReset()
		waitDuration := time.Until(nextReset)

		s.logger.Info().
			Time("next_reset", nextReset).
			Dur("wait_duration", waitDuration).
			Msg("Scheduled next daily reset")

		select {
		case <-time.After(waitDuration):
			if err := s.Run(context.Background()); err != nil {
				s.logger.Error().Err(err).Msg("Daily reset failed")
			}
		case <-s.stopChan:
			return
		}
	}
}

// calculateNextReset calculates the next reset time
func (s *Scheduler) calculateNextReset() time.Time {
	now := s.clock.Now()

	todayReset := time.Date(
		now.Year(), now.Month(), now.Day(),
		s.resetTime.Hour(), s.resetTime.Minute(), 0, 0,
		now.Location(),
	)

	if now.After(todayReset) {
		return todayReset.AddDate(0, 0, 1)
	}
	return todayReset
}

// Run deletes every usage and extension document whose date is not
// today's. Today's documents are never touched, so running twice in
// one day is a no-op the second time.
func (s *Scheduler) Run(ctx context.Context) error {
	today := storage.DateKey(s.clock.Now())
	s.logger.Info().Str("today", today).Msg("Performing daily reset")

	pruned := 0
	if n, err := s.pruneDates(ctx, s.usage.ListDates, s.usage.DeleteDay, today); err != nil {
		return err
	} else {
		pruned += n
	}
	if n, err := s.pruneDates(ctx, s.extensions.ListDates, s.extensions.DeleteDay, today); err != nil {
		return err
	} else {
		pruned += n
	}

	metrics.DailyResets.Inc()
	if s.bus != nil && pruned > 0 {
		s.bus.Publish(events.DailyReset, map[string]interface{}{"prunedDays": pruned})
	}

	s.logger.Info().Int("pruned_days", pruned).Msg("Daily reset complete")
	return nil
}

func (s *Scheduler) pruneDates(ctx context.Context, list func(context.Context) ([]string, error), deleteDay func(context.Context, string) error, today string) (int, error) {
	dates, err := list(ctx)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, date := range dates {
		if date == today {
			continue
		}
		if err := deleteDay(ctx, date); err != nil {
			s.logger.Error().Err(err).Str("date", date).Msg("Failed to delete day document")
			continue
		}
		pruned++
	}
	return pruned, nil
}
