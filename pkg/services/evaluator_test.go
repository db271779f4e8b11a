package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsActive(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	threshold := 300 * time.Second
	at := func(ago time.Duration) *time.Time {
		ts := now.Add(-ago)
		return &ts
	}

	tests := []struct {
		name   string
		last   *time.Time
		paused bool
		want   bool
	}{
		{"never reported", nil, false, false},
		{"fresh", at(10 * time.Second), false, true},
		{"exactly at threshold", at(threshold), false, true},
		{"just past threshold", at(threshold + time.Nanosecond), false, false},
		{"stale", at(time.Hour), false, false},
		{"paused and fresh", at(time.Second), true, false},
		{"paused and never reported", nil, true, false},
		{"heartbeat from the future", at(-time.Minute), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsActive(tt.last, now, threshold, tt.paused))
		})
	}
}

func TestIsActiveIgnoresZone(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	berlin := time.FixedZone("CEST", 2*60*60)
	last := time.Date(2024, 5, 1, 13, 58, 0, 0, berlin) // 11:58 UTC

	assert.True(t, IsActive(&last, now, 3*time.Minute, false))
	assert.False(t, IsActive(&last, now, time.Minute, false))
}
