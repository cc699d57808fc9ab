package limits

import (
	"fmt"

	"github.com/mtappler/focusgate/internal/detector"
	"github.com/mtappler/focusgate/internal/storage"
)

// LimitType names which configured limit triggered a block.
type LimitType string

const (
	LimitTypeTime  LimitType = "time"
	LimitTypeOpens LimitType = "opens"
	LimitTypeBoth  LimitType = "both"
)

// NoLimit is the remaining-value sentinel for an unconfigured limit.
const NoLimit = -1

// Decision is the outcome of a limit evaluation.
type Decision struct {
	ShouldBlock bool      `json:"shouldBlock"`
	SiteID      string    `json:"siteId,omitempty"`
	GroupID     string    `json:"groupId,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	LimitType   LimitType `json:"limitType,omitempty"`

	// Remaining allowance under the effective limits, floored at 0.
	// NoLimit when the corresponding limit is not configured.
	RemainingSeconds int64 `json:"remainingSeconds"`
	RemainingOpens   int   `json:"remainingOpens"`
}

// Input carries everything an evaluation needs. All fields are
// snapshots; the calculator performs no I/O.
type Input struct {
	Sites      []storage.Site
	Groups     map[string]storage.Group
	Usage      map[string]storage.UsageStat
	Extensions map[string]storage.Extension
}

func allow() Decision {
	return Decision{RemainingSeconds: NoLimit, RemainingOpens: NoLimit}
}

// Evaluate decides whether navigating to rawURL should be blocked.
// Unparsable URLs and unmatched hostnames resolve to allow.
func Evaluate(rawURL string, in Input) Decision {
	tables := &detector.Tables{Sites: in.Sites, Groups: in.Groups}
	match := detector.MatchTables(rawURL, tables, false)
	if !match.IsMatch {
		return allow()
	}
	return EvaluateSite(match.SiteID, in)
}

// EvaluateSite decides whether the given site is over its effective
// limits. Used directly on the tick path, where the active session
// already names the site.
func EvaluateSite(siteID string, in Input) Decision {
	site, ok := findSite(siteID, in.Sites)
	if !ok || !site.Enabled {
		return allow()
	}

	cfg := resolveEffective(site, in)

	timeLimit := cfg.timeLimit
	openLimit := cfg.openLimit
	timeUsage := cfg.usage.TimeSpentSeconds
	openUsage := cfg.usage.Opens

	// Extensions are per site even when the site is grouped.
	if ext, ok := in.Extensions[site.ID]; ok {
		if timeLimit > 0 {
			timeLimit += int64(ext.ExtendedMinutes) * 60
		}
		if openLimit > 0 {
			openLimit += ext.ExtendedOpens
		}
		// With a grant-time snapshot, only usage accrued since the
		// grant counts against the extended limit. The delta is
		// compared against the full extended limit rather than the
		// remaining allowance; see the extensions package for the
		// snapshot's provenance.
		if ext.UsageAtGrant != nil {
			timeUsage = maxInt64(0, timeUsage-ext.UsageAtGrant.TimeSpentSeconds)
			openUsage = maxInt(0, openUsage-ext.UsageAtGrant.Opens)
		}
	}

	timeExceeded := cfg.timeLimit > 0 && timeUsage >= timeLimit
	opensExceeded := cfg.openLimit > 0 && openUsage >= openLimit

	decision := Decision{
		SiteID:           site.ID,
		GroupID:          cfg.groupID,
		RemainingSeconds: NoLimit,
		RemainingOpens:   NoLimit,
	}
	if cfg.timeLimit > 0 {
		decision.RemainingSeconds = maxInt64(0, timeLimit-timeUsage)
	}
	if cfg.openLimit > 0 {
		decision.RemainingOpens = maxInt(0, openLimit-openUsage)
	}

	if !timeExceeded && !opensExceeded {
		return decision
	}

	decision.ShouldBlock = true
	switch {
	case timeExceeded && opensExceeded:
		decision.LimitType = LimitTypeBoth
		decision.Reason = fmt.Sprintf("%s and %s",
			timeReason(cfg.name, timeUsage, timeLimit),
			opensReason("", openUsage, openLimit))
	case timeExceeded:
		decision.LimitType = LimitTypeTime
		decision.Reason = timeReason(cfg.name, timeUsage, timeLimit)
	default:
		decision.LimitType = LimitTypeOpens
		decision.Reason = opensReason(cfg.name, openUsage, openLimit)
	}
	return decision
}

// EffectiveUsage returns today's usage under the site's effective
// limit configuration: the group aggregate when the site belongs to an
// enabled group, the site's own usage otherwise. Extension grants
// snapshot this value.
func EffectiveUsage(siteID string, in Input) storage.UsageSnapshot {
	site, ok := findSite(siteID, in.Sites)
	if !ok {
		return storage.UsageSnapshot{}
	}
	cfg := resolveEffective(site, in)
	return storage.UsageSnapshot{
		TimeSpentSeconds: cfg.usage.TimeSpentSeconds,
		Opens:            cfg.usage.Opens,
	}
}

// effectiveConfig is the resolved limit source for a site: either the
// site itself or its enabled group with aggregated member usage.
type effectiveConfig struct {
	name      string
	groupID   string
	timeLimit int64
	openLimit int
	usage     storage.UsageStat
}

func resolveEffective(site storage.Site, in Input) effectiveConfig {
	if site.GroupID != "" {
		if group, ok := in.Groups[site.GroupID]; ok && group.Enabled {
			return effectiveConfig{
				name:      group.Name,
				groupID:   group.ID,
				timeLimit: group.DailyLimitSeconds,
				openLimit: group.DailyOpenLimit,
				usage:     aggregateUsage(group.SiteIDs, in.Usage),
			}
		}
	}
	return effectiveConfig{
		name:      site.URLPattern,
		timeLimit: site.DailyLimitSeconds,
		openLimit: site.DailyOpenLimit,
		usage:     in.Usage[site.ID],
	}
}

func aggregateUsage(siteIDs []string, usage map[string]storage.UsageStat) storage.UsageStat {
	var total storage.UsageStat
	for _, id := range siteIDs {
		stat := usage[id]
		total.TimeSpentSeconds += stat.TimeSpentSeconds
		total.Opens += stat.Opens
	}
	return total
}

func findSite(siteID string, sites []storage.Site) (storage.Site, bool) {
	for _, site := range sites {
		if site.ID == siteID {
			return site, true
		}
	}
	return storage.Site{}, false
}

func timeReason(name string, used, limit int64) string {
	if name == "" {
		return fmt.Sprintf("time limit reached (%d of %d minutes)", used/60, limit/60)
	}
	return fmt.Sprintf("Daily time limit reached for %s (%d of %d minutes)", name, used/60, limit/60)
}

func opensReason(name string, used, limit int) string {
	if name == "" {
		return fmt.Sprintf("open limit reached (%d of %d opens)", used, limit)
	}
	return fmt.Sprintf("Daily open limit reached for %s (%d of %d opens)", name, used, limit)
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
