package extensions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mtappler/focusgate/internal/events"
	"github.com/mtappler/focusgate/internal/limits"
	"github.com/mtappler/focusgate/internal/metrics"
	"github.com/mtappler/focusgate/internal/session"
	"github.com/mtappler/focusgate/internal/storage"
	"github.com/rs/zerolog"
)

// ErrInvalid marks validation failures on extension requests.
var ErrInvalid = errors.New("extensions: invalid request")

// Reevaluator re-decides every open tab after a grant, so a blocked
// interstitial unblocks immediately.
type Reevaluator interface {
	Reevaluate(ctx context.Context) error
}

// Service grants same-day grace extensions. A site holds at most one
// extension per day; granting again overwrites it and bumps the
// applied count.
type Service struct {
	store  storage.Store
	bus    *events.Bus
	reeval Reevaluator
	clock  session.Clock
	logger zerolog.Logger
}

// NewService creates an extension service.
func NewService(store storage.Store, bus *events.Bus, reeval Reevaluator, clock session.Clock, logger zerolog.Logger) *Service {
	if clock == nil {
		clock = session.RealClock{}
	}
	return &Service{
		store:  store,
		bus:    bus,
		reeval: reeval,
		clock:  clock,
		logger: logger.With().Str("component", "extensions").Logger(),
	}
}

// Request is the payload for granting an extension.
type Request struct {
	SiteID          string `json:"siteId"`
	ExtendedMinutes int    `json:"extendedMinutes"`
	ExtendedOpens   int    `json:"extendedOpens"`
	Excuse          string `json:"excuse"`
}

// Grant validates and stores an extension for today. The grant
// snapshots the site's effective usage so the calculator can measure
// usage accrued since the grant.
func (s *Service) Grant(ctx context.Context, req Request) (*storage.Extension, error) {
	if req.SiteID == "" {
		return nil, fmt.Errorf("%w: site id is required", ErrInvalid)
	}
	if req.ExtendedMinutes < 0 || req.ExtendedOpens < 0 {
		return nil, fmt.Errorf("%w: extension amounts must not be negative", ErrInvalid)
	}
	if req.ExtendedMinutes == 0 && req.ExtendedOpens == 0 {
		return nil, fmt.Errorf("%w: extension must add time or opens", ErrInvalid)
	}

	if _, err := s.store.Sites().Get(ctx, req.SiteID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown site %s", ErrInvalid, req.SiteID)
		}
		return nil, fmt.Errorf("load site: %w", err)
	}

	now := s.clock.Now()
	date := storage.DateKey(now)

	snapshot, err := s.effectiveUsage(ctx, req.SiteID, date)
	if err != nil {
		return nil, err
	}

	appliedCount := 1
	if existing, err := s.store.Extensions().Get(ctx, date, req.SiteID); err == nil {
		appliedCount = existing.AppliedCount + 1
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load existing extension: %w", err)
	}

	ext := storage.Extension{
		SiteID:          req.SiteID,
		ExtendedMinutes: req.ExtendedMinutes,
		ExtendedOpens:   req.ExtendedOpens,
		Excuse:          strings.TrimSpace(req.Excuse),
		GrantedAt:       now,
		AppliedCount:    appliedCount,
		UsageAtGrant:    &snapshot,
	}

	if err := s.store.Extensions().Put(ctx, date, ext); err != nil {
		return nil, fmt.Errorf("store extension: %w", err)
	}

	metrics.ExtensionsGranted.WithLabelValues(req.SiteID).Inc()
	s.logger.Info().
		Str("site_id", req.SiteID).
		Int("extended_minutes", req.ExtendedMinutes).
		Int("extended_opens", req.ExtendedOpens).
		Int("applied_count", appliedCount).
		Msg("Extension granted")

	if s.bus != nil {
		s.bus.Publish(events.ExtensionGranted, ext)
	}
	if s.reeval != nil {
		if err := s.reeval.Reevaluate(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Re-evaluation after extension grant failed")
		}
	}

	return &ext, nil
}

// Today returns all of today's extensions keyed by site ID.
func (s *Service) Today(ctx context.Context) (map[string]storage.Extension, error) {
	return s.store.Extensions().Day(ctx, storage.DateKey(s.clock.Now()))
}

// ForSite returns today's extension for one site, or ErrNotFound.
func (s *Service) ForSite(ctx context.Context, siteID string) (*storage.Extension, error) {
	return s.store.Extensions().Get(ctx, storage.DateKey(s.clock.Now()), siteID)
}

// effectiveUsage snapshots the usage the calculator would compare
// against the site's limits: the group aggregate when the site is in
// an enabled group, the site's own usage otherwise.
func (s *Service) effectiveUsage(ctx context.Context, siteID, date string) (storage.UsageSnapshot, error) {
	sites, err := s.store.Sites().List(ctx)
	if err != nil {
		return storage.UsageSnapshot{}, fmt.Errorf("load sites: %w", err)
	}
	groupList, err := s.store.Groups().List(ctx)
	if err != nil {
		return storage.UsageSnapshot{}, fmt.Errorf("load groups: %w", err)
	}
	usage, err := s.store.Usage().Day(ctx, date)
	if err != nil {
		return storage.UsageSnapshot{}, fmt.Errorf("load usage: %w", err)
	}

	groups := make(map[string]storage.Group, len(groupList))
	for _, g := range groupList {
		groups[g.ID] = g
	}

	return limits.EffectiveUsage(siteID, limits.Input{
		Sites:  sites,
		Groups: groups,
		Usage:  usage,
	}), nil
}
