package redis

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mtappler/focusgate/internal/storage"
)

func usageKey(date, siteID string) string {
	return keyPrefix + "usage:" + date + ":" + siteID
}

func usageIndexKey(date string) string {
	return keyPrefix + "usage:index:" + date
}

func extensionDayKey(date string) string {
	return keyPrefix + "extensions:" + date
}

const (
	sitesKey          = keyPrefix + "sites"
	groupsKey         = keyPrefix + "groups"
	usageDatesKey     = keyPrefix + "usage:dates"
	extensionDatesKey = keyPrefix + "extensions:dates"
	sessionKey        = keyPrefix + "session"
	preferencesKey    = keyPrefix + "preferences"
)

const (
	fieldTimeSpent = "time_spent_seconds"
	fieldOpens     = "opens"
)

// parseUsageStat converts a Redis usage hash to a UsageStat.
func parseUsageStat(data map[string]string) (*storage.UsageStat, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	stat := &storage.UsageStat{}
	if raw, ok := data[fieldTimeSpent]; ok {
		seconds, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", fieldTimeSpent, err)
		}
		stat.TimeSpentSeconds = seconds
	}
	if raw, ok := data[fieldOpens]; ok {
		opens, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", fieldOpens, err)
		}
		stat.Opens = opens
	}
	return stat, nil
}

func marshalJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

func unmarshalJSON(data string, out any) error {
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	return nil
}
