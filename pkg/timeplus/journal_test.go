package timeplus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/timeplus-io/tp-watchdog/pkg/models"
)

// MockClient is a mock implementation of the TimeplusClient interface
type MockClient struct {
	mock.Mock
}

// Ensure MockClient implements TimeplusClient
var _ TimeplusClient = (*MockClient)(nil)

func (m *MockClient) StreamExists(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *MockClient) CreateStream(ctx context.Context, name string, schema []Column) error {
	args := m.Called(ctx, name, schema)
	return args.Error(0)
}

func (m *MockClient) ExecuteQuery(ctx context.Context, query string) ([]map[string]interface{}, error) {
	args := m.Called(ctx, query)
	return args.Get(0).([]map[string]interface{}), args.Error(1)
}

func (m *MockClient) InsertIntoStream(ctx context.Context, streamName string, columns []string, values []interface{}) error {
	args := m.Called(ctx, streamName, columns, values)
	return args.Error(0)
}

func (m *MockClient) Close() error {
	return m.Called().Error(0)
}

func TestNewJournalCreatesStream(t *testing.T) {
	ctx := context.Background()
	client := new(MockClient)
	client.On("StreamExists", ctx, DefaultJournalStream).Return(false, nil)
	client.On("CreateStream", ctx, DefaultJournalStream, GetJournalSchema()).Return(nil)

	j, err := NewJournal(ctx, client, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultJournalStream, j.stream)
	client.AssertExpectations(t)
}

func TestNewJournalReusesStream(t *testing.T) {
	ctx := context.Background()
	client := new(MockClient)
	client.On("StreamExists", ctx, "alerts").Return(true, nil)

	_, err := NewJournal(ctx, client, "alerts")
	require.NoError(t, err)
	client.AssertNotCalled(t, "CreateStream", mock.Anything, mock.Anything, mock.Anything)
}

func TestNewJournalFailsWhenUnreachable(t *testing.T) {
	ctx := context.Background()
	client := new(MockClient)
	client.On("StreamExists", ctx, "alerts").Return(false, errors.New("EOF"))

	_, err := NewJournal(ctx, client, "alerts")
	assert.Error(t, err)
}

func TestJournalRecord(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	alert := &models.Alert{
		ID:          "a-1",
		Kind:        models.AlertDown,
		EntityName:  "Energy",
		SubEntity:   "PLC1",
		Message:     "🔴 Energy::PLC1 is not responding",
		TriggeredAt: at,
		LastError:   "timeout",
	}

	client := new(MockClient)
	client.On("InsertIntoStream", ctx, "alerts", journalColumns, []interface{}{
		"a-1", "down", "Energy", "PLC1", "🔴 Energy::PLC1 is not responding", at, false, "timeout",
	}).Return(nil)

	j := &Journal{client: client, stream: "alerts"}
	require.NoError(t, j.Record(ctx, alert))
	client.AssertExpectations(t)
}

func TestJournalRecent(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	client := new(MockClient)
	client.On("ExecuteQuery", ctx, GetRecentAlertsQuery("alerts", 2)).Return([]map[string]interface{}{
		{"alert_id": "a-2", "kind": "recovered", "entity": "Energy", "sub_entity": "", "message": "🟢 Energy recovered",
			"triggered_at": at, "delivered": true, "last_error": ""},
		{"alert_id": "a-1", "kind": "down", "entity": "Energy", "sub_entity": "PLC1", "message": "🔴",
			"triggered_at": "2024-05-01 09:00:00.000", "delivered": false, "last_error": "timeout"},
	}, nil)

	j := &Journal{client: client, stream: "alerts"}
	alerts, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	assert.Equal(t, models.AlertRecovered, alerts[0].Kind)
	assert.True(t, alerts[0].Delivered)
	assert.True(t, at.Equal(alerts[0].TriggeredAt))

	assert.Equal(t, "PLC1", alerts[1].SubEntity)
	assert.False(t, alerts[1].Delivered)
	assert.Equal(t, "timeout", alerts[1].LastError)
	assert.True(t, at.Add(-time.Hour).Equal(alerts[1].TriggeredAt))
}

func TestGetRecentAlertsQuery(t *testing.T) {
	q := GetRecentAlertsQuery("watchdog_alerts", 50)
	assert.Contains(t, q, "FROM table(`watchdog_alerts`)")
	assert.Contains(t, q, "ORDER BY triggered_at DESC LIMIT 50")
}
