package services

import (
	"time"
)

// IsActive reports whether a leaf is alive at now. A paused leaf and a leaf
// that never reported are inactive; otherwise the leaf is active while the
// time since its last heartbeat does not exceed threshold.
func IsActive(lastHeartbeat *time.Time, now time.Time, threshold time.Duration, paused bool) bool {
	if paused || lastHeartbeat == nil {
		return false
	}
	return now.Sub(lastHeartbeat.UTC()) <= threshold
}
