package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timeplus-io/tp-watchdog/pkg/models"
)

func TestStep(t *testing.T) {
	tests := []struct {
		name                            string
		latched, active, notify, paused bool
		want                            Transition
	}{
		{"healthy steady state", false, true, true, false, Transition{Latched: false}},
		{"goes down", false, false, true, false, Transition{Latched: true, Kind: models.AlertDown, Emit: true}},
		{"stays down", true, false, true, false, Transition{Latched: true}},
		{"recovers", true, true, true, false, Transition{Latched: false, Kind: models.AlertRecovered, Emit: true}},
		{"goes down silently", false, false, false, false, Transition{Latched: true, Kind: models.AlertDown}},
		{"recovers silently", true, true, false, false, Transition{Latched: false, Kind: models.AlertRecovered}},
		{"paused keeps latch", true, true, true, true, Transition{Latched: true}},
		{"paused never latches", false, false, true, true, Transition{Latched: false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Step(tt.latched, tt.active, tt.notify, tt.paused))
		})
	}
}

func TestStepSteadyStateNeverEmits(t *testing.T) {
	latched := false
	emitted := 0
	for i := 0; i < 50; i++ {
		tr := Step(latched, false, true, false)
		latched = tr.Latched
		if tr.Emit {
			emitted++
		}
	}
	assert.Equal(t, 1, emitted)
	assert.True(t, latched)
}

func TestPlanTickPausedParentFreezesSubtree(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	stale := now.Add(-time.Hour)

	entities := []*models.Entity{{
		ID: 1, Name: "Energy", Paused: true, NotifyEnabled: true,
		Children: []*models.SubEntity{
			{ID: 7, ParentID: 1, Name: "PLC1", LastHeartbeat: &stale, NotifyEnabled: true},
		},
	}}

	plan := planTick(entities, now, time.Minute)
	assert.Empty(t, plan.alerts)
	require.Len(t, plan.updates, 2)
	for _, u := range plan.updates {
		assert.False(t, u.AlertLatched)
		assert.Equal(t, models.StatusInactive, u.Status)
	}
}

func TestPlanTickIndependentLatches(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-time.Second)
	stale := now.Add(-time.Hour)

	entities := []*models.Entity{{
		ID: 1, Name: "Energy", NotifyEnabled: true,
		Children: []*models.SubEntity{
			{ID: 1, Name: "PLC1", LastHeartbeat: &fresh, NotifyEnabled: true},
			{ID: 2, Name: "PLC2", LastHeartbeat: &stale, NotifyEnabled: true},
			{ID: 3, Name: "PLC3", LastHeartbeat: &stale, NotifyEnabled: false},
		},
	}}

	plan := planTick(entities, now, time.Minute)
	require.Len(t, plan.alerts, 1, "parent stays active while PLC1 reports")
	assert.Equal(t, "🔴 Energy::PLC2 is not responding", plan.alerts[0].alert.Message)
	assert.Equal(t, int64(2), plan.alerts[0].update.SubEntityID)

	latched := map[int64]bool{}
	for _, u := range plan.updates {
		latched[u.SubEntityID] = u.AlertLatched
	}
	assert.False(t, latched[0])
	assert.False(t, latched[1])
	assert.True(t, latched[2])
	assert.True(t, latched[3], "latch tracks truth while notifications are off")
}

func TestPlanTickParentDownWhenOnlyChildPausedOrGone(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-time.Second)

	entities := []*models.Entity{
		{
			ID: 1, Name: "Energy", NotifyEnabled: true,
			Children: []*models.SubEntity{
				{ID: 7, ParentID: 1, Name: "PLC1", LastHeartbeat: &fresh, Paused: true, NotifyEnabled: true},
			},
		},
		{ID: 2, Name: "Water", NotifyEnabled: true},
	}

	plan := planTick(entities, now, time.Minute)
	require.Len(t, plan.alerts, 2)
	assert.Equal(t, "🔴 Energy is down: no active components", plan.alerts[0].alert.Message)
	assert.Equal(t, "🔴 Water is down: no active components", plan.alerts[1].alert.Message)
	for _, p := range plan.alerts {
		assert.Zero(t, p.update.SubEntityID, "the paused child itself stays quiet")
	}
}

func TestAlertMessage(t *testing.T) {
	assert.Equal(t, "🔴 Energy::PLC1 is not responding", AlertMessage(models.AlertDown, "Energy", "PLC1"))
	assert.Equal(t, "🟢 Energy::PLC1 recovered", AlertMessage(models.AlertRecovered, "Energy", "PLC1"))
	assert.Equal(t, "🔴 Energy is down: no active components", AlertMessage(models.AlertDown, "Energy", ""))
	assert.Equal(t, "🟢 Energy recovered", AlertMessage(models.AlertRecovered, "Energy", ""))
	assert.Equal(t, "Monitoring error: boom", ErrorMessage(errors.New("boom")))
}
