package detector

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mtappler/focusgate/internal/storage"
	"github.com/rs/zerolog"
)

const matchCacheSize = 512

// Match is the result of testing a URL against the configured sites.
type Match struct {
	IsMatch bool
	SiteID  string
	GroupID string
	Pattern string
}

// Tables is an immutable snapshot of the configured sites and groups.
// Sites are in creation order; matching returns the first hit.
type Tables struct {
	Sites  []storage.Site
	Groups map[string]storage.Group
}

// Detector answers "does this URL match a configured site?" from an
// in-memory cache of the site and group tables. The cache is replaced
// atomically by Reload; readers never observe a half-updated table.
type Detector struct {
	sites  storage.SiteStore
	groups storage.GroupStore

	tables     atomic.Pointer[Tables]
	matchCache *lru.Cache[string, Match]

	logger zerolog.Logger
}

// New creates a detector. Match answers no-match until the first
// successful Reload.
func New(sites storage.SiteStore, groups storage.GroupStore, logger zerolog.Logger) *Detector {
	cache, err := lru.New[string, Match](matchCacheSize)
	if err != nil {
		// Only reachable with a non-positive size constant.
		panic(fmt.Sprintf("create match cache: %v", err))
	}

	return &Detector{
		sites:      sites,
		groups:     groups,
		matchCache: cache,
		logger:     logger.With().Str("component", "detector").Logger(),
	}
}

// Reload fetches the site and group tables from storage and swaps the
// cache. Invoked at startup and whenever configuration changes.
func (d *Detector) Reload(ctx context.Context) error {
	sites, err := d.sites.List(ctx)
	if err != nil {
		return fmt.Errorf("load sites: %w", err)
	}

	groups, err := d.groups.List(ctx)
	if err != nil {
		return fmt.Errorf("load groups: %w", err)
	}

	tables := &Tables{
		Sites:  sites,
		Groups: make(map[string]storage.Group, len(groups)),
	}
	for _, group := range groups {
		tables.Groups[group.ID] = group
	}

	d.tables.Store(tables)
	d.matchCache.Purge()

	d.logger.Debug().
		Int("sites", len(sites)).
		Int("groups", len(groups)).
		Msg("Detector cache reloaded")

	return nil
}

// Loaded reports whether the cache has been populated at least once.
func (d *Detector) Loaded() bool {
	return d.tables.Load() != nil
}

// Tables returns the current snapshot, or nil before the first load.
func (d *Detector) Tables() *Tables {
	return d.tables.Load()
}

// Match tests a URL against the enabled configured sites.
func (d *Detector) Match(rawURL string) Match {
	tables := d.tables.Load()
	if tables == nil {
		d.logger.Warn().Str("url", rawURL).Msg("Match requested before detector load, treating as no-match")
		return Match{}
	}

	if cached, ok := d.matchCache.Get(rawURL); ok {
		return cached
	}

	match := MatchTables(rawURL, tables, false)
	d.matchCache.Add(rawURL, match)
	return match
}

// MatchConfigured tests a URL against all configured sites, ignoring
// the enabled flag. It distinguishes "no configuration exists" from
// "configuration exists but is paused".
func (d *Detector) MatchConfigured(rawURL string) Match {
	tables := d.tables.Load()
	if tables == nil {
		d.logger.Warn().Str("url", rawURL).Msg("Match requested before detector load, treating as no-match")
		return Match{}
	}
	return MatchTables(rawURL, tables, true)
}

// MatchTables applies the matching rule to an explicit table snapshot:
// the first site (in table order) whose pattern is a substring of the
// URL's hostname wins. Non-http(s) and unparsable URLs never match.
func MatchTables(rawURL string, tables *Tables, includeDisabled bool) Match {
	host, ok := Hostname(rawURL)
	if !ok {
		return Match{}
	}

	for _, site := range tables.Sites {
		if !includeDisabled && !site.Enabled {
			continue
		}
		if site.URLPattern == "" {
			continue
		}
		if strings.Contains(host, site.URLPattern) {
			match := Match{
				IsMatch: true,
				SiteID:  site.ID,
				Pattern: site.URLPattern,
			}
			if site.GroupID != "" {
				if _, ok := tables.Groups[site.GroupID]; ok {
					match.GroupID = site.GroupID
				}
			}
			return match
		}
	}
	return Match{}
}

// Hostname extracts the lowercase hostname from an http(s) URL.
func Hostname(rawURL string) (string, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", false
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", false
	}
	return host, true
}
