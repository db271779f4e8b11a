package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/timeplus-io/tp-watchdog/pkg/clock"
	"github.com/timeplus-io/tp-watchdog/pkg/models"
	"github.com/timeplus-io/tp-watchdog/pkg/store"
)

// WatchdogService implements ingestion, status queries and the control
// commands on top of the heartbeat store
type WatchdogService struct {
	store        store.Store
	clock        clock.Clock
	allowedDelay time.Duration
	journal      AlertJournal
	apiKeys      []string
}

// ServiceOption customises a WatchdogService
type ServiceOption func(*WatchdogService)

// WithServiceClock replaces the wall clock, for tests
func WithServiceClock(c clock.Clock) ServiceOption {
	return func(s *WatchdogService) { s.clock = c }
}

// WithAlertHistory exposes j through RecentAlerts
func WithAlertHistory(j AlertJournal) ServiceOption {
	return func(s *WatchdogService) { s.journal = j }
}

// WithAPIKeys restricts ingestion to the given keys. An empty list disables the check.
func WithAPIKeys(keys []string) ServiceOption {
	return func(s *WatchdogService) {
		for _, k := range keys {
			if k = strings.TrimSpace(k); k != "" {
				s.apiKeys = append(s.apiKeys, k)
			}
		}
	}
}

// NewWatchdogService creates a new watchdog service
func NewWatchdogService(st store.Store, allowedDelay time.Duration, opts ...ServiceOption) *WatchdogService {
	s := &WatchdogService{
		store:        st,
		clock:        clock.Real(),
		allowedDelay: allowedDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authorize checks an ingestion credential against the configured keys
func (s *WatchdogService) Authorize(key string) error {
	if len(s.apiKeys) == 0 {
		return nil
	}
	for _, k := range s.apiKeys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return nil
		}
	}
	return ErrUnauthorized
}

// RecordHeartbeat stores "now" as the last heartbeat of the named pair,
// creating the parent and child on first sight
func (s *WatchdogService) RecordHeartbeat(ctx context.Context, req *models.HeartbeatRequest) error {
	parent, child := req.Names()
	return s.Heartbeat(ctx, parent, child)
}

// Heartbeat records a heartbeat for parent/child
func (s *WatchdogService) Heartbeat(ctx context.Context, parent, child string) error {
	parent, child = strings.TrimSpace(parent), strings.TrimSpace(child)
	if parent == "" {
		return &ValidationError{Field: "object_name", Message: "is required"}
	}
	if child == "" {
		return &ValidationError{Field: "sub_object_name", Message: "is required"}
	}

	if err := s.store.RecordHeartbeat(ctx, parent, child, s.clock.Now()); err != nil {
		return fmt.Errorf("failed to record heartbeat for %s/%s: %w", parent, child, err)
	}
	logrus.Debugf("Heartbeat recorded for %s/%s", parent, child)
	return nil
}

// StatusTree returns every entity with freshly computed status, in natural order
func (s *WatchdogService) StatusTree(ctx context.Context) ([]models.EntityView, error) {
	entities, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read status tree: %w", err)
	}
	return BuildTree(entities, s.clock.Now(), s.allowedDelay), nil
}

// GetStatus returns the computed status of one entity
func (s *WatchdogService) GetStatus(ctx context.Context, name string) (*models.EntityView, error) {
	e, err := s.store.GetEntity(ctx, name)
	if err != nil {
		return nil, err
	}
	view := BuildView(e, s.clock.Now(), s.allowedDelay)
	return &view, nil
}

// Pause excludes an entity, or one of its children when child is set, from
// evaluation and notification
func (s *WatchdogService) Pause(ctx context.Context, parent, child string) error {
	return s.setPaused(ctx, parent, child, true)
}

// Resume reverses Pause
func (s *WatchdogService) Resume(ctx context.Context, parent, child string) error {
	return s.setPaused(ctx, parent, child, false)
}

func (s *WatchdogService) setPaused(ctx context.Context, parent, child string, paused bool) error {
	if parent == "" {
		return &ValidationError{Field: "object_name", Message: "is required"}
	}

	var err error
	if child == "" {
		err = s.store.SetEntityPaused(ctx, parent, paused)
	} else {
		err = s.store.SetSubEntityPaused(ctx, parent, child, paused)
	}
	if err != nil {
		return err
	}

	action := "resumed"
	if paused {
		action = "paused"
	}
	logrus.Infof("Monitoring %s for %s", action, displayName(parent, child))
	return nil
}

// Delete removes an entity with all its children, or one child when child is set
func (s *WatchdogService) Delete(ctx context.Context, parent, child string) error {
	if parent == "" {
		return &ValidationError{Field: "object_name", Message: "is required"}
	}

	var err error
	if child == "" {
		err = s.store.DeleteEntity(ctx, parent)
	} else {
		err = s.store.DeleteSubEntity(ctx, parent, child)
	}
	if err != nil {
		return err
	}

	logrus.Infof("Deleted %s", displayName(parent, child))
	return nil
}

// ToggleNotification flips the alert gate of an entity, or of one child when
// child is set, and returns the new state. The latch is re-initialised from
// the current activity so re-enabling never reports an outage that started
// while alerts were off.
func (s *WatchdogService) ToggleNotification(ctx context.Context, parent, child string) (bool, error) {
	if parent == "" {
		return false, &ValidationError{Field: "object_name", Message: "is required"}
	}

	e, err := s.store.GetEntity(ctx, parent)
	if err != nil {
		return false, err
	}
	// A paused node's latch is frozen, so it is rebuilt from the activity the
	// node will have once resumed rather than from its paused status.
	parentActive, childActive := ResumedActivity(e, s.clock.Now(), s.allowedDelay)

	if child == "" {
		enabled := !e.NotifyEnabled
		if err := s.store.SetEntityNotify(ctx, parent, enabled, LatchFor(parentActive)); err != nil {
			return false, err
		}
		logrus.Infof("Notifications for %s set to %t", parent, enabled)
		return enabled, nil
	}

	for _, sub := range e.Children {
		if sub.Name != child {
			continue
		}
		enabled := !sub.NotifyEnabled
		if err := s.store.SetSubEntityNotify(ctx, parent, child, enabled, LatchFor(childActive[sub.ID])); err != nil {
			return false, err
		}
		logrus.Infof("Notifications for %s set to %t", displayName(parent, child), enabled)
		return enabled, nil
	}
	return false, fmt.Errorf("sub-entity %q: %w", parent+"/"+child, store.ErrNotFound)
}

// RecentAlerts returns up to limit journaled alerts, newest first
func (s *WatchdogService) RecentAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	if s.journal == nil {
		return nil, ErrJournalDisabled
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return s.journal.Recent(ctx, limit)
}

// IsNotFound reports whether err names an unknown entity or sub-entity
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func displayName(parent, child string) string {
	if child == "" {
		return parent
	}
	return parent + "::" + child
}
