package timeplus

import (
	"fmt"
)

// DefaultJournalStream is the stream alerts are journaled to unless configured otherwise
const DefaultJournalStream = "watchdog_alerts"

// journalColumns is the insert order of a journal row
var journalColumns = []string{
	"alert_id", "kind", "entity", "sub_entity", "message", "triggered_at", "delivered", "last_error",
}

// GetJournalSchema returns the schema for the alert journal stream
func GetJournalSchema() []Column {
	return []Column{
		{Name: "alert_id", Type: "string"},
		{Name: "kind", Type: "string"},
		{Name: "entity", Type: "string"},
		{Name: "sub_entity", Type: "string"},
		{Name: "message", Type: "string"},
		{Name: "triggered_at", Type: "datetime64(3)"},
		{Name: "delivered", Type: "bool"},
		{Name: "last_error", Type: "string"},
	}
}

// GetRecentAlertsQuery returns a bounded query over the historical part of the stream
func GetRecentAlertsQuery(stream string, limit int) string {
	return fmt.Sprintf(
		"SELECT alert_id, kind, entity, sub_entity, message, triggered_at, delivered, last_error "+
			"FROM table(`%s`) ORDER BY triggered_at DESC LIMIT %d", stream, limit)
}
