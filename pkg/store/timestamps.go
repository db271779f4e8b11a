package store

import (
	"fmt"
	"time"
)

// timestampLayout is the text form written by the store
const timestampLayout = time.RFC3339Nano

// formatTimestamp renders t in UTC for storage
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// ParseTimestamp parses a stored heartbeat timestamp. Values written by
// older deployments may lack a zone; those are read as UTC.
func ParseTimestamp(v string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}

	for _, layout := range layouts {
		// time.Parse without a zone in the layout yields UTC.
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse time string: %s", v)
}
