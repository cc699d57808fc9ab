package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mtappler/focusgate/internal/events"
	"github.com/mtappler/focusgate/internal/storage"
	"github.com/rs/zerolog"
)

// ErrInvalid marks validation failures. Nothing is written when a
// request fails validation.
var ErrInvalid = errors.New("settings: invalid input")

// Reevaluator re-decides every open tab after a configuration change.
type Reevaluator interface {
	Reevaluate(ctx context.Context) error
}

// Service owns site and group configuration. Every mutation publishes
// a broadcast event and triggers a cross-tab re-evaluation so blocking
// state never goes stale.
type Service struct {
	store  storage.Store
	bus    *events.Bus
	reeval Reevaluator
	logger zerolog.Logger
}

// NewService creates a settings service.
func NewService(store storage.Store, bus *events.Bus, reeval Reevaluator, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		bus:    bus,
		reeval: reeval,
		logger: logger.With().Str("component", "settings").Logger(),
	}
}

// SiteInput is the payload for creating or updating a site.
type SiteInput struct {
	URLPattern        string `json:"urlPattern"`
	DailyLimitSeconds int64  `json:"dailyLimitSeconds"`
	DailyOpenLimit    int    `json:"dailyOpenLimit"`
	Enabled           *bool  `json:"enabled,omitempty"`
}

// GroupInput is the payload for creating or updating a group.
type GroupInput struct {
	Name              string   `json:"name"`
	Color             string   `json:"color"`
	DailyLimitSeconds int64    `json:"dailyLimitSeconds"`
	DailyOpenLimit    int      `json:"dailyOpenLimit"`
	Enabled           *bool    `json:"enabled,omitempty"`
	SiteIDs           []string `json:"siteIds"`
}

// NormalizePattern reduces raw user input to a hostname fragment:
// lowercase, no scheme, no leading www., no path or port.
func NormalizePattern(raw string) (string, error) {
	pattern := strings.ToLower(strings.TrimSpace(raw))
	if idx := strings.Index(pattern, "://"); idx >= 0 {
		pattern = pattern[idx+3:]
	}
	pattern = strings.TrimPrefix(pattern, "www.")
	if idx := strings.IndexAny(pattern, "/?#"); idx >= 0 {
		pattern = pattern[:idx]
	}
	if idx := strings.Index(pattern, ":"); idx >= 0 {
		pattern = pattern[:idx]
	}
	if pattern == "" {
		return "", fmt.Errorf("%w: empty URL pattern", ErrInvalid)
	}
	return pattern, nil
}

func validateLimits(limitSeconds int64, openLimit int) error {
	if limitSeconds < 0 || openLimit < 0 {
		return fmt.Errorf("%w: limits must not be negative", ErrInvalid)
	}
	if limitSeconds == 0 && openLimit == 0 {
		return fmt.Errorf("%w: at least one of time or open limit is required", ErrInvalid)
	}
	return nil
}

// AddSite validates and stores a new site, then re-evaluates open tabs.
func (s *Service) AddSite(ctx context.Context, in SiteInput) (*storage.Site, error) {
	pattern, err := NormalizePattern(in.URLPattern)
	if err != nil {
		return nil, err
	}
	if err := validateLimits(in.DailyLimitSeconds, in.DailyOpenLimit); err != nil {
		return nil, err
	}

	now := time.Now()
	site := storage.Site{
		ID:                uuid.NewString(),
		URLPattern:        pattern,
		DailyLimitSeconds: in.DailyLimitSeconds,
		DailyOpenLimit:    in.DailyOpenLimit,
		Enabled:           true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if in.Enabled != nil {
		site.Enabled = *in.Enabled
	}

	if err := s.store.Sites().Upsert(ctx, site); err != nil {
		return nil, fmt.Errorf("store site: %w", err)
	}

	s.logger.Info().Str("site_id", site.ID).Str("pattern", pattern).Msg("Site added")
	s.changed(ctx, events.SiteAdded, site)
	return &site, nil
}

// UpdateSite applies changes to an existing site.
func (s *Service) UpdateSite(ctx context.Context, id string, in SiteInput) (*storage.Site, error) {
	site, err := s.store.Sites().Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.URLPattern != "" {
		pattern, err := NormalizePattern(in.URLPattern)
		if err != nil {
			return nil, err
		}
		site.URLPattern = pattern
	}
	site.DailyLimitSeconds = in.DailyLimitSeconds
	site.DailyOpenLimit = in.DailyOpenLimit
	if in.Enabled != nil {
		site.Enabled = *in.Enabled
	}
	if err := validateLimits(site.DailyLimitSeconds, site.DailyOpenLimit); err != nil {
		return nil, err
	}
	site.UpdatedAt = time.Now()

	if err := s.store.Sites().Upsert(ctx, *site); err != nil {
		return nil, fmt.Errorf("store site: %w", err)
	}

	s.logger.Info().Str("site_id", id).Msg("Site updated")
	s.changed(ctx, events.SiteUpdated, site)
	return site, nil
}

// DeleteSite removes a site and detaches it from its group. Usage
// history is kept.
func (s *Service) DeleteSite(ctx context.Context, id string) error {
	site, err := s.store.Sites().Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.store.Sites().Delete(ctx, id); err != nil {
		return fmt.Errorf("delete site: %w", err)
	}

	if site.GroupID != "" {
		if err := s.removeFromGroup(ctx, site.GroupID, id); err != nil {
			s.logger.Warn().Err(err).Str("group_id", site.GroupID).Msg("Failed to detach deleted site from group")
		}
	}

	s.logger.Info().Str("site_id", id).Msg("Site deleted")
	s.changed(ctx, events.SiteDeleted, map[string]string{"id": id})
	return nil
}

// ListSites returns all configured sites in creation order.
func (s *Service) ListSites(ctx context.Context) ([]storage.Site, error) {
	return s.store.Sites().List(ctx)
}

// GetSite returns one site by ID.
func (s *Service) GetSite(ctx context.Context, id string) (*storage.Site, error) {
	return s.store.Sites().Get(ctx, id)
}

// AddGroup validates and stores a new group and claims its member
// sites.
func (s *Service) AddGroup(ctx context.Context, in GroupInput) (*storage.Group, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: group name is required", ErrInvalid)
	}
	if err := validateLimits(in.DailyLimitSeconds, in.DailyOpenLimit); err != nil {
		return nil, err
	}
	// Member sites must exist before anything is written.
	for _, siteID := range in.SiteIDs {
		if _, err := s.store.Sites().Get(ctx, siteID); err != nil {
			return nil, fmt.Errorf("load member site %s: %w", siteID, err)
		}
	}

	now := time.Now()
	group := storage.Group{
		ID:                uuid.NewString(),
		Name:              strings.TrimSpace(in.Name),
		Color:             in.Color,
		DailyLimitSeconds: in.DailyLimitSeconds,
		DailyOpenLimit:    in.DailyOpenLimit,
		Enabled:           true,
		SiteIDs:           in.SiteIDs,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if in.Enabled != nil {
		group.Enabled = *in.Enabled
	}

	// The group goes in first so member sites never reference a group
	// that was not created.
	if err := s.store.Groups().Upsert(ctx, group); err != nil {
		return nil, fmt.Errorf("store group: %w", err)
	}
	if err := s.claimMembers(ctx, group.ID, nil, group.SiteIDs); err != nil {
		return nil, err
	}

	s.logger.Info().Str("group_id", group.ID).Str("name", group.Name).Msg("Group added")
	s.changed(ctx, events.GroupAdded, group)
	return &group, nil
}

// UpdateGroup applies changes to an existing group, including
// membership moves.
func (s *Service) UpdateGroup(ctx context.Context, id string, in GroupInput) (*storage.Group, error) {
	group, err := s.store.Groups().Get(ctx, id)
	if err != nil {
		return nil, err
	}

	previous := group.SiteIDs
	if in.Name != "" {
		group.Name = strings.TrimSpace(in.Name)
	}
	if in.Color != "" {
		group.Color = in.Color
	}
	group.DailyLimitSeconds = in.DailyLimitSeconds
	group.DailyOpenLimit = in.DailyOpenLimit
	if in.Enabled != nil {
		group.Enabled = *in.Enabled
	}
	if in.SiteIDs != nil {
		group.SiteIDs = in.SiteIDs
	}
	if err := validateLimits(group.DailyLimitSeconds, group.DailyOpenLimit); err != nil {
		return nil, err
	}
	group.UpdatedAt = time.Now()

	if err := s.claimMembers(ctx, id, previous, group.SiteIDs); err != nil {
		return nil, err
	}
	if err := s.store.Groups().Upsert(ctx, *group); err != nil {
		return nil, fmt.Errorf("store group: %w", err)
	}

	s.logger.Info().Str("group_id", id).Msg("Group updated")
	s.changed(ctx, events.GroupUpdated, group)
	return group, nil
}

// DeleteGroup removes a group. Member sites become standalone and
// their own limits apply again.
func (s *Service) DeleteGroup(ctx context.Context, id string) error {
	group, err := s.store.Groups().Get(ctx, id)
	if err != nil {
		return err
	}

	for _, siteID := range group.SiteIDs {
		if err := s.setSiteGroup(ctx, siteID, ""); err != nil {
			s.logger.Warn().Err(err).Str("site_id", siteID).Msg("Failed to detach member site")
		}
	}

	if err := s.store.Groups().Delete(ctx, id); err != nil {
		return fmt.Errorf("delete group: %w", err)
	}

	s.logger.Info().Str("group_id", id).Msg("Group deleted")
	s.changed(ctx, events.GroupDeleted, map[string]string{"id": id})
	return nil
}

// ListGroups returns all groups.
func (s *Service) ListGroups(ctx context.Context) ([]storage.Group, error) {
	return s.store.Groups().List(ctx)
}

// GetGroup returns one group by ID.
func (s *Service) GetGroup(ctx context.Context, id string) (*storage.Group, error) {
	return s.store.Groups().Get(ctx, id)
}

// GetPreferences returns the display preferences.
func (s *Service) GetPreferences(ctx context.Context) (*storage.Preferences, error) {
	return s.store.Preferences().Get(ctx)
}

// UpdatePreferences stores display preferences and broadcasts the
// change. No re-evaluation: preferences never affect blocking.
func (s *Service) UpdatePreferences(ctx context.Context, prefs storage.Preferences) error {
	if err := s.store.Preferences().Put(ctx, prefs); err != nil {
		return fmt.Errorf("store preferences: %w", err)
	}
	if s.bus != nil {
		s.bus.Publish(events.PreferencesUpdated, prefs)
	}
	return nil
}

// claimMembers moves sites between groups: removed members are
// detached, added members are attached.
func (s *Service) claimMembers(ctx context.Context, groupID string, previous, next []string) error {
	inNext := make(map[string]bool, len(next))
	for _, id := range next {
		inNext[id] = true
	}
	for _, id := range previous {
		if !inNext[id] {
			if err := s.setSiteGroup(ctx, id, ""); err != nil {
				return err
			}
		}
	}
	for _, id := range next {
		if err := s.setSiteGroup(ctx, id, groupID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) setSiteGroup(ctx context.Context, siteID, groupID string) error {
	site, err := s.store.Sites().Get(ctx, siteID)
	if err != nil {
		return fmt.Errorf("load member site %s: %w", siteID, err)
	}
	if site.GroupID == groupID {
		return nil
	}
	site.GroupID = groupID
	return s.store.Sites().Upsert(ctx, *site)
}

// removeFromGroup drops a site ID from a group's member list.
func (s *Service) removeFromGroup(ctx context.Context, groupID, siteID string) error {
	group, err := s.store.Groups().Get(ctx, groupID)
	if err != nil {
		return err
	}
	members := group.SiteIDs[:0:0]
	for _, id := range group.SiteIDs {
		if id != siteID {
			members = append(members, id)
		}
	}
	group.SiteIDs = members
	return s.store.Groups().Upsert(ctx, *group)
}

// changed publishes the broadcast and re-evaluates open tabs.
func (s *Service) changed(ctx context.Context, event events.Event, data interface{}) {
	if s.bus != nil {
		s.bus.Publish(event, data)
	}
	if s.reeval != nil {
		if err := s.reeval.Reevaluate(ctx); err != nil {
			s.logger.Error().Err(err).Str("event", string(event)).Msg("Re-evaluation after configuration change failed")
		}
	}
}
