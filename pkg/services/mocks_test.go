package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/timeplus-io/tp-watchdog/pkg/models"
	"github.com/timeplus-io/tp-watchdog/pkg/notifier"
	"github.com/timeplus-io/tp-watchdog/pkg/store"
)

// MockNotifier is a mock implementation of the Notifier interface
type MockNotifier struct {
	mock.Mock
}

var _ notifier.Notifier = (*MockNotifier)(nil)

func (m *MockNotifier) Send(ctx context.Context, text string) error {
	args := m.Called(ctx, text)
	return args.Error(0)
}

// MockJournal is a mock implementation of the AlertJournal interface
type MockJournal struct {
	mock.Mock
}

var _ AlertJournal = (*MockJournal)(nil)

func (m *MockJournal) Record(ctx context.Context, alert *models.Alert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

func (m *MockJournal) Recent(ctx context.Context, limit int) ([]models.Alert, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]models.Alert), args.Error(1)
}

// stubLease reports a fixed ownership
type stubLease struct {
	held     bool
	released bool
}

func (l *stubLease) Acquire(ctx context.Context) (bool, error) { return l.held, nil }
func (l *stubLease) Release(ctx context.Context) error {
	l.released = true
	return nil
}

// hookStore runs a hook after every snapshot, to simulate concurrent writers
type hookStore struct {
	store.Store
	afterSnapshot func()
}

func (s *hookStore) Snapshot(ctx context.Context) ([]*models.Entity, error) {
	entities, err := s.Store.Snapshot(ctx)
	if s.afterSnapshot != nil {
		s.afterSnapshot()
	}
	return entities, err
}

// failingStore fails every snapshot
type failingStore struct {
	store.Store
	err error
}

func (s *failingStore) Snapshot(ctx context.Context) ([]*models.Entity, error) {
	return nil, s.err
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "monitoring.db"), 2)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}
