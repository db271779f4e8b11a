package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/timeplus-io/tp-watchdog/pkg/clock"
	"github.com/timeplus-io/tp-watchdog/pkg/models"
)

var epoch = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

type monitorFixture struct {
	clock    *clock.FakeClock
	notifier *MockNotifier
	service  *WatchdogService
	monitor  *Monitor
}

func newMonitorFixture(t *testing.T, opts ...MonitorOption) *monitorFixture {
	st := newTestStore(t)
	clk := clock.Fake(epoch)
	n := &MockNotifier{}

	opts = append([]MonitorOption{WithClock(clk)}, opts...)
	return &monitorFixture{
		clock:    clk,
		notifier: n,
		service:  NewWatchdogService(st, 300*time.Second, WithServiceClock(clk)),
		monitor:  NewMonitor(st, n, 30*time.Second, 300*time.Second, opts...),
	}
}

func (f *monitorFixture) at(seconds int) {
	f.clock.Set(epoch.Add(time.Duration(seconds) * time.Second))
}

func TestMonitorOutageScenario(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()

	f.at(0)
	require.NoError(t, f.service.Heartbeat(ctx, "Energy", "PLC1"))

	// t=100: fresh, nothing to say
	f.at(100)
	require.NoError(t, f.monitor.Tick(ctx))
	f.notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)

	// t=400: the only child is stale, child and parent go down once each
	f.notifier.On("Send", mock.Anything, "🔴 Energy::PLC1 is not responding").Return(nil).Once()
	f.notifier.On("Send", mock.Anything, "🔴 Energy is down: no active components").Return(nil).Once()
	f.at(400)
	require.NoError(t, f.monitor.Tick(ctx))
	f.notifier.AssertExpectations(t)

	// t=450: still down, steady state
	f.at(450)
	require.NoError(t, f.monitor.Tick(ctx))
	f.notifier.AssertNumberOfCalls(t, "Send", 2)

	// heartbeat at t=460, tick at t=500: both recover once
	f.at(460)
	require.NoError(t, f.service.Heartbeat(ctx, "Energy", "PLC1"))
	f.notifier.On("Send", mock.Anything, "🟢 Energy::PLC1 recovered").Return(nil).Once()
	f.notifier.On("Send", mock.Anything, "🟢 Energy recovered").Return(nil).Once()
	f.at(500)
	require.NoError(t, f.monitor.Tick(ctx))
	f.notifier.AssertExpectations(t)
	f.notifier.AssertNumberOfCalls(t, "Send", 4)

	view, err := f.service.GetStatus(ctx, "Energy")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, view.Status)
}

func TestMonitorReenableDoesNotReplayOutage(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()

	f.at(0)
	require.NoError(t, f.service.Heartbeat(ctx, "Energy", "PLC1"))
	require.NoError(t, f.service.Heartbeat(ctx, "Energy", "PLC2"))
	require.NoError(t, f.monitor.Tick(ctx))

	enabled, err := f.service.ToggleNotification(ctx, "Energy", "PLC1")
	require.NoError(t, err)
	assert.False(t, enabled)

	// PLC1 goes silent while its alerts are off; PLC2 keeps the parent alive.
	f.at(250)
	require.NoError(t, f.service.Heartbeat(ctx, "Energy", "PLC2"))
	f.at(400)
	require.NoError(t, f.monitor.Tick(ctx))
	f.notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)

	f.at(410)
	enabled, err = f.service.ToggleNotification(ctx, "Energy", "PLC1")
	require.NoError(t, err)
	assert.True(t, enabled)

	f.at(420)
	require.NoError(t, f.monitor.Tick(ctx))
	f.notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)

	// Future transitions are reported.
	f.notifier.On("Send", mock.Anything, "🟢 Energy::PLC1 recovered").Return(nil).Once()
	require.NoError(t, f.service.Heartbeat(ctx, "Energy", "PLC1"))
	f.at(430)
	require.NoError(t, f.monitor.Tick(ctx))
	f.notifier.AssertExpectations(t)
}

func TestMonitorReenableWhileHealthy(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.Heartbeat(ctx, "Energy", "PLC1"))
	_, err := f.service.ToggleNotification(ctx, "Energy", "PLC1")
	require.NoError(t, err)
	_, err = f.service.ToggleNotification(ctx, "Energy", "PLC1")
	require.NoError(t, err)

	f.notifier.On("Send", mock.Anything, "🔴 Energy::PLC1 is not responding").Return(nil).Once()
	f.notifier.On("Send", mock.Anything, "🔴 Energy is down: no active components").Return(nil).Once()
	f.at(301)
	require.NoError(t, f.monitor.Tick(ctx))
	f.notifier.AssertExpectations(t)
}

func TestMonitorToggleWhileParentPaused(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.Heartbeat(ctx, "Energy", "PLC1"))
	f.at(10)
	require.NoError(t, f.monitor.Tick(ctx))

	require.NoError(t, f.service.Pause(ctx, "Energy", ""))
	_, err := f.service.ToggleNotification(ctx, "Energy", "")
	require.NoError(t, err)
	_, err = f.service.ToggleNotification(ctx, "Energy", "")
	require.NoError(t, err)
	require.NoError(t, f.service.Resume(ctx, "Energy", ""))

	require.NoError(t, f.service.Heartbeat(ctx, "Energy", "PLC1"))
	f.at(20)
	require.NoError(t, f.monitor.Tick(ctx))
	f.notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestMonitorToggleWhileChildPaused(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.Heartbeat(ctx, "Energy", "PLC1"))
	require.NoError(t, f.service.Heartbeat(ctx, "Energy", "PLC2"))
	f.at(10)
	require.NoError(t, f.monitor.Tick(ctx))

	require.NoError(t, f.service.Pause(ctx, "Energy", "PLC1"))
	_, err := f.service.ToggleNotification(ctx, "Energy", "PLC1")
	require.NoError(t, err)
	_, err = f.service.ToggleNotification(ctx, "Energy", "PLC1")
	require.NoError(t, err)
	require.NoError(t, f.service.Resume(ctx, "Energy", "PLC1"))

	require.NoError(t, f.service.Heartbeat(ctx, "Energy", "PLC1"))
	f.at(20)
	require.NoError(t, f.monitor.Tick(ctx))
	f.notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)

	// the restored latch still reports a real outage
	f.notifier.On("Send", mock.Anything, "🔴 Energy::PLC1 is not responding").Return(nil).Once()
	f.notifier.On("Send", mock.Anything, "🔴 Energy::PLC2 is not responding").Return(nil).Once()
	f.notifier.On("Send", mock.Anything, "🔴 Energy is down: no active components").Return(nil).Once()
	f.at(400)
	require.NoError(t, f.monitor.Tick(ctx))
	f.notifier.AssertExpectations(t)
}

func TestMonitorSendFailureKeepsLatch(t *testing.T) {
	journal := &MockJournal{}
	f := newMonitorFixture(t, WithJournal(journal))
	ctx := context.Background()

	require.NoError(t, f.service.Heartbeat(ctx, "Energy", "PLC1"))
	_, err := f.service.ToggleNotification(ctx, "Energy", "")
	require.NoError(t, err)

	f.notifier.On("Send", mock.Anything, "🔴 Energy::PLC1 is not responding").
		Return(errors.New("telegram unreachable")).Once()
	journal.On("Record", mock.Anything, mock.MatchedBy(func(a *models.Alert) bool {
		return a.Kind == models.AlertDown && !a.Delivered && a.LastError == "telegram unreachable" &&
			a.EntityName == "Energy" && a.SubEntity == "PLC1" && a.ID != ""
	})).Return(nil).Once()

	f.at(400)
	require.NoError(t, f.monitor.Tick(ctx))

	f.at(430)
	require.NoError(t, f.monitor.Tick(ctx))

	f.notifier.AssertNumberOfCalls(t, "Send", 1)
	journal.AssertExpectations(t)
}

func TestMonitorSkipsNodesDeletedMidTick(t *testing.T) {
	st := newTestStore(t)
	clk := clock.Fake(epoch)
	n := &MockNotifier{}
	svc := NewWatchdogService(st, 300*time.Second, WithServiceClock(clk))
	ctx := context.Background()

	require.NoError(t, svc.Heartbeat(ctx, "Energy", "PLC1"))

	hooked := &hookStore{Store: st, afterSnapshot: func() {
		require.NoError(t, svc.Delete(ctx, "Energy", ""))
	}}
	m := NewMonitor(hooked, n, 30*time.Second, 300*time.Second, WithClock(clk))

	clk.Set(epoch.Add(time.Hour))
	require.NoError(t, m.Tick(ctx))
	n.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)

	tree, err := svc.StatusTree(ctx)
	require.NoError(t, err)
	assert.Empty(t, tree)
}

func TestMonitorTickErrorBoundary(t *testing.T) {
	n := &MockNotifier{}
	m := NewMonitor(&failingStore{err: errors.New("disk I/O error")}, n, time.Second, time.Minute,
		WithClock(clock.Fake(epoch)))

	err := m.Tick(context.Background())
	var tickErr *TickError
	require.True(t, errors.As(err, &tickErr))
	assert.Equal(t, "snapshot", tickErr.Stage)

	n.On("Send", mock.Anything, "Monitoring error: tick failed during snapshot: disk I/O error").
		Return(errors.New("still unreachable")).Once()
	m.runTick(context.Background())
	n.AssertExpectations(t)
}

func TestMonitorLeaseHeldElsewhere(t *testing.T) {
	lease := &stubLease{held: false}
	f := newMonitorFixture(t, WithLease(lease))
	ctx := context.Background()

	require.NoError(t, f.service.Heartbeat(ctx, "Energy", "PLC1"))
	f.at(1000)
	require.NoError(t, f.monitor.Tick(ctx))
	f.notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)

	lease.held = true
	f.notifier.On("Send", mock.Anything, mock.Anything).Return(nil).Twice()
	require.NoError(t, f.monitor.Tick(ctx))
	f.notifier.AssertExpectations(t)
}

// chanNotifier forwards messages to a channel
type chanNotifier struct {
	ch chan string
}

func (n *chanNotifier) Send(ctx context.Context, text string) error {
	n.ch <- text
	return nil
}

func TestMonitorStartAndShutdown(t *testing.T) {
	st := newTestStore(t)
	clk := clock.Fake(epoch)
	n := &chanNotifier{ch: make(chan string, 16)}
	lease := &stubLease{held: true}
	ctx := context.Background()

	require.NoError(t, st.RecordHeartbeat(ctx, "Energy", "PLC1", epoch))
	m := NewMonitor(st, n, 30*time.Second, 300*time.Second, WithClock(clk), WithLease(lease))

	m.Start(ctx)
	// The first tick runs immediately and sees a fresh heartbeat.
	require.NoError(t, st.RecordHeartbeat(ctx, "Energy", "PLC2", epoch))

	clk.Set(epoch.Add(10 * time.Minute))
	received := map[string]bool{}
	deadline := time.After(5 * time.Second)
	for len(received) < 3 {
		clk.Advance(30 * time.Second)
		select {
		case msg := <-n.ch:
			received[msg] = true
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for alerts, got %v", received)
		}
	}

	m.Shutdown()
	assert.True(t, received["🔴 Energy::PLC1 is not responding"])
	assert.True(t, received["🔴 Energy::PLC2 is not responding"])
	assert.True(t, received["🔴 Energy is down: no active components"])
	assert.True(t, lease.released)

	// A second shutdown is a no-op.
	m.Shutdown()
}
