package models

import (
	"time"
)

// AlertKind is the edge an alert reports
type AlertKind string

const (
	AlertDown      AlertKind = "down"
	AlertRecovered AlertKind = "recovered"
	AlertError     AlertKind = "error"
)

// Alert represents one dispatched notification
type Alert struct {
	ID          string    `json:"id"`
	Kind        AlertKind `json:"kind"`
	EntityName  string    `json:"entityName"`
	SubEntity   string    `json:"subEntity,omitempty"` // empty for parent-level alerts
	Message     string    `json:"message"`
	TriggeredAt time.Time `json:"triggeredAt"`
	Delivered   bool      `json:"delivered"`
	LastError   string    `json:"lastError,omitempty"`
}
