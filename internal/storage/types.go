package storage

import "time"

// Site is a configured distracting site with optional daily limits.
// URLPattern is a normalized hostname fragment (no scheme, no leading
// "www.", lowercase); a URL matches when the pattern is a substring of
// its hostname.
type Site struct {
	ID                string    `json:"id"`
	URLPattern        string    `json:"url_pattern"`
	DailyLimitSeconds int64     `json:"daily_limit_seconds,omitempty"`
	DailyOpenLimit    int       `json:"daily_open_limit,omitempty"`
	Enabled           bool      `json:"enabled"`
	GroupID           string    `json:"group_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// HasTimeLimit reports whether the site carries its own time limit.
func (s *Site) HasTimeLimit() bool { return s.DailyLimitSeconds > 0 }

// HasOpenLimit reports whether the site carries its own open limit.
func (s *Site) HasOpenLimit() bool { return s.DailyOpenLimit > 0 }

// Group pools sites under one shared set of limits. While the group is
// enabled its limits supersede the members' own limits and usage is
// aggregated across all members.
type Group struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Color             string    `json:"color"`
	DailyLimitSeconds int64     `json:"daily_limit_seconds"`
	DailyOpenLimit    int       `json:"daily_open_limit,omitempty"`
	Enabled           bool      `json:"enabled"`
	SiteIDs           []string  `json:"site_ids"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// UsageStat is one site's recorded usage for a single day.
type UsageStat struct {
	TimeSpentSeconds int64 `json:"time_spent_seconds"`
	Opens            int   `json:"opens"`
}

// UsageSnapshot captures usage at a point in time. Extensions store one
// so usage since the grant can be measured.
type UsageSnapshot struct {
	TimeSpentSeconds int64 `json:"time_spent_seconds"`
	Opens            int   `json:"opens"`
}

// Extension is a same-day grace increase to a site's limits. A new
// grant for the same site on the same day overwrites the previous one.
type Extension struct {
	SiteID          string         `json:"site_id"`
	ExtendedMinutes int            `json:"extended_minutes"`
	ExtendedOpens   int            `json:"extended_opens"`
	Excuse          string         `json:"excuse"`
	GrantedAt       time.Time      `json:"granted_at"`
	AppliedCount    int            `json:"applied_count"`
	UsageAtGrant    *UsageSnapshot `json:"usage_at_grant,omitempty"`
}

// TrackingSession is the persisted form of the singleton tracking slot.
// LastSeen is a liveness timestamp; a restarting process discards a
// session whose LastSeen is older than the staleness threshold.
type TrackingSession struct {
	SiteID    string    `json:"site_id"`
	TabID     int       `json:"tab_id"`
	StartedAt time.Time `json:"started_at"`
	LastSeen  time.Time `json:"last_seen"`
	Active    bool      `json:"active"`
}

// Preferences holds display flags consumed by the UI layer.
type Preferences struct {
	ShowRemainingTime bool `json:"show_remaining_time"`
	ShowNotifications bool `json:"show_notifications"`
}
