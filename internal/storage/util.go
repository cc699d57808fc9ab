package storage

import (
	"os"
	"time"
)

// DateLayout is the layout used for date-partitioned keys.
const DateLayout = "2006-01-02"

// DateKey formats a time as a local-timezone date key.
func DateKey(t time.Time) string {
	return t.Local().Format(DateLayout)
}

// ValidDateKey reports whether s parses as a date key.
func ValidDateKey(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// EnsureDir ensures a directory exists with default permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
