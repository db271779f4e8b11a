package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/timeplus-io/tp-watchdog/pkg/clock"
	"github.com/timeplus-io/tp-watchdog/pkg/models"
	"github.com/timeplus-io/tp-watchdog/pkg/notifier"
	"github.com/timeplus-io/tp-watchdog/pkg/store"
)

// AlertJournal keeps a history of dispatched alerts
type AlertJournal interface {
	Record(ctx context.Context, alert *models.Alert) error
	Recent(ctx context.Context, limit int) ([]models.Alert, error)
}

// Lease guards the scheduler so only one process in a fleet ticks at a time
type Lease interface {
	// Acquire takes or renews the lease, reporting whether this process holds it
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// sendTimeout bounds a single notifier call so a hung destination cannot stall the loop
const sendTimeout = 15 * time.Second

// Monitor is the periodic driver of the watchdog. Each tick takes one
// snapshot of the store, evaluates and aggregates it, runs every latch,
// commits the result in one transaction and only then delivers alerts.
type Monitor struct {
	store        store.Store
	notifier     notifier.Notifier
	journal      AlertJournal
	lease        Lease
	clock        clock.Clock
	interval     time.Duration
	allowedDelay time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// MonitorOption customises a Monitor
type MonitorOption func(*Monitor)

// WithJournal records every alert in j
func WithJournal(j AlertJournal) MonitorOption {
	return func(m *Monitor) { m.journal = j }
}

// WithLease makes each tick conditional on holding l
func WithLease(l Lease) MonitorOption {
	return func(m *Monitor) { m.lease = l }
}

// WithClock replaces the wall clock, for tests
func WithClock(c clock.Clock) MonitorOption {
	return func(m *Monitor) { m.clock = c }
}

// NewMonitor creates a new monitor
func NewMonitor(st store.Store, n notifier.Notifier, interval, allowedDelay time.Duration, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		store:        st,
		notifier:     n,
		clock:        clock.Real(),
		interval:     interval,
		allowedDelay: allowedDelay,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs the first tick immediately and then one tick per interval until
// ctx is cancelled or Shutdown is called
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		logrus.Warn("Monitor already started")
		return
	}

	logrus.Infof("Starting monitor (check interval: %s, allowed delay: %s)", m.interval, m.allowedDelay)

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	ticker := m.clock.NewTicker(m.interval)

	go func() {
		defer close(m.done)
		defer ticker.Stop()

		m.runTick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.runTick(ctx)
			}
		}
	}()
}

// Shutdown stops the loop, waits for an in-flight tick and releases the lease
func (m *Monitor) Shutdown() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}

	logrus.Info("Shutting down monitor")
	cancel()
	<-done

	if m.lease != nil {
		ctx, cancelRelease := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelRelease()
		if err := m.lease.Release(ctx); err != nil {
			logrus.Warnf("Failed to release scheduler lease: %v", err)
		}
	}
}

// runTick is the per-tick error boundary: a failed tick is logged, reported
// once and the loop carries on
func (m *Monitor) runTick(ctx context.Context) {
	err := m.Tick(ctx)
	if err == nil || ctx.Err() != nil {
		return
	}

	var tickErr *TickError
	if errors.As(err, &tickErr) {
		logrus.WithField("stage", tickErr.Stage).Errorf("Monitoring tick failed: %v", tickErr.Err)
	} else {
		logrus.Errorf("Monitoring tick failed: %v", err)
	}

	alert := &models.Alert{
		ID:          newAlertID(),
		Kind:        models.AlertError,
		Message:     ErrorMessage(err),
		TriggeredAt: m.clock.Now(),
	}
	m.deliver(ctx, alert)
}

// Tick runs one evaluate-aggregate-dispatch pass. It is exported so tests can
// drive synthetic ticks.
func (m *Monitor) Tick(ctx context.Context) error {
	if m.lease != nil {
		held, err := m.lease.Acquire(ctx)
		if err != nil {
			return &TickError{Stage: "lease", Err: err}
		}
		if !held {
			logrus.Debug("Scheduler lease held elsewhere, skipping tick")
			return nil
		}
	}

	entities, err := m.store.Snapshot(ctx)
	if err != nil {
		return &TickError{Stage: "snapshot", Err: err}
	}

	now := m.clock.Now()
	plan := planTick(entities, now, m.allowedDelay)

	applied, err := m.store.ApplyTick(ctx, plan.updates)
	if err != nil {
		return &TickError{Stage: "commit", Err: err}
	}

	committed := make(map[nodeKey]struct{}, len(applied))
	for _, u := range applied {
		committed[keyOf(u)] = struct{}{}
	}

	for _, p := range plan.alerts {
		if _, ok := committed[keyOf(p.update)]; !ok {
			logrus.Infof("Skipping %s alert for %s: removed during tick", p.alert.Kind, p.alert.EntityName)
			continue
		}
		m.deliver(ctx, p.alert)
	}

	logrus.WithFields(logrus.Fields{
		"entities": len(entities),
		"updates":  len(applied),
		"alerts":   len(plan.alerts),
	}).Debug("Monitoring tick complete")
	return nil
}

// deliver sends alert and journals the outcome. Failures are logged only;
// the latch has already moved.
func (m *Monitor) deliver(ctx context.Context, alert *models.Alert) {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	err := m.notifier.Send(sendCtx, alert.Message)
	cancel()

	if err != nil {
		logrus.Warnf("Failed to deliver alert %q: %v", alert.Message, err)
		alert.LastError = err.Error()
	} else {
		alert.Delivered = true
		logrus.Infof("Alert sent: %s", alert.Message)
	}

	if m.journal != nil {
		if err := m.journal.Record(ctx, alert); err != nil {
			logrus.Warnf("Failed to journal alert %s: %v", alert.ID, err)
		}
	}
}

type nodeKey struct {
	entityID, subEntityID int64
}

func keyOf(u models.NodeUpdate) nodeKey {
	return nodeKey{entityID: u.EntityID, subEntityID: u.SubEntityID}
}
