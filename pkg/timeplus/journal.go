package timeplus

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/timeplus-io/tp-watchdog/pkg/models"
)

// Journal appends every dispatched alert to a Timeplus stream so the
// history can be queried or fed into other streaming pipelines
type Journal struct {
	client TimeplusClient
	stream string
}

// NewJournal creates the journal stream if needed
func NewJournal(ctx context.Context, client TimeplusClient, stream string) (*Journal, error) {
	if stream == "" {
		stream = DefaultJournalStream
	}

	exists, err := client.StreamExists(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("failed to check journal stream: %w", err)
	}
	if !exists {
		logrus.Infof("Creating alert journal stream: %s", stream)
		if err := client.CreateStream(ctx, stream, GetJournalSchema()); err != nil {
			return nil, err
		}
	}

	return &Journal{client: client, stream: stream}, nil
}

// Record appends alert to the journal
func (j *Journal) Record(ctx context.Context, alert *models.Alert) error {
	values := []interface{}{
		alert.ID,
		string(alert.Kind),
		alert.EntityName,
		alert.SubEntity,
		alert.Message,
		alert.TriggeredAt,
		alert.Delivered,
		alert.LastError,
	}
	if err := j.client.InsertIntoStream(ctx, j.stream, journalColumns, values); err != nil {
		return fmt.Errorf("failed to journal alert %s: %w", alert.ID, err)
	}
	return nil
}

// Recent returns up to limit alerts, newest first
func (j *Journal) Recent(ctx context.Context, limit int) ([]models.Alert, error) {
	results, err := j.client.ExecuteQuery(ctx, GetRecentAlertsQuery(j.stream, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read alert journal: %w", err)
	}

	alerts := make([]models.Alert, 0, len(results))
	for _, result := range results {
		alert := models.Alert{
			ID:         getString(result, "alert_id"),
			Kind:       models.AlertKind(getString(result, "kind")),
			EntityName: getString(result, "entity"),
			SubEntity:  getString(result, "sub_entity"),
			Message:    getString(result, "message"),
			LastError:  getString(result, "last_error"),
		}
		if delivered, ok := result["delivered"].(bool); ok {
			alert.Delivered = delivered
		}
		alert.TriggeredAt = getTime(result, "triggered_at")
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

// Helper function to safely get string values from query results
func getString(result map[string]interface{}, key string) string {
	if val, ok := result[key].(string); ok {
		return val
	}
	return ""
}

// getTime extracts a time value, accepting driver times and text
func getTime(result map[string]interface{}, key string) time.Time {
	switch v := result[key].(type) {
	case time.Time:
		return v.UTC()
	case string:
		layouts := []string{
			time.RFC3339Nano,
			"2006-01-02 15:04:05.999999999",
			"2006-01-02 15:04:05",
		}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}
