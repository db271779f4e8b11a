package services

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/timeplus-io/tp-watchdog/pkg/models"
)

// Transition is the outcome of running one node's latch for a tick
type Transition struct {
	Latched bool
	// Kind is the edge crossed this tick, empty in steady state
	Kind models.AlertKind
	// Emit is set when the edge must be delivered
	Emit bool
}

// Step advances a node's latch. The latch always follows ground truth:
// an unlatched node going inactive latches ("down"), a latched node going
// active unlatches ("recovered"). notifyEnabled only gates delivery. A
// paused node keeps its latch and never emits.
func Step(latched, active, notifyEnabled, paused bool) Transition {
	if paused {
		return Transition{Latched: latched}
	}

	switch {
	case !latched && !active:
		return Transition{Latched: true, Kind: models.AlertDown, Emit: notifyEnabled}
	case latched && active:
		return Transition{Latched: false, Kind: models.AlertRecovered, Emit: notifyEnabled}
	default:
		return Transition{Latched: latched}
	}
}

// LatchFor returns the latch a node must carry when its notifications are
// (re)enabled, so that no transition from the disabled period is replayed
func LatchFor(active bool) bool {
	return !active
}

// pendingAlert pairs an alert with the node update that must commit before it is sent
type pendingAlert struct {
	update models.NodeUpdate
	alert  *models.Alert
}

// tickPlan is everything one tick decided: the rows to write and the alerts
// to deliver once they are written
type tickPlan struct {
	updates []models.NodeUpdate
	alerts  []pendingAlert
}

// planTick runs aggregation and the latches for every entity in the snapshot.
// A paused entity freezes its own latch and the latches of all its children.
func planTick(entities []*models.Entity, now time.Time, threshold time.Duration) tickPlan {
	var plan tickPlan

	for _, e := range entities {
		agg := Aggregate(e, now, threshold)

		for _, child := range e.Children {
			active := agg.ChildActive[child.ID]
			tr := Step(child.AlertLatched, active, child.NotifyEnabled, child.Paused || e.Paused)

			update := models.NodeUpdate{
				EntityID:     e.ID,
				SubEntityID:  child.ID,
				Status:       models.StatusOf(active),
				AlertLatched: tr.Latched,
			}
			plan.updates = append(plan.updates, update)
			if tr.Emit {
				plan.alerts = append(plan.alerts, pendingAlert{
					update: update,
					alert:  newAlert(tr.Kind, e.Name, child.Name, now),
				})
			}
		}

		tr := Step(e.AlertLatched, agg.Active, e.NotifyEnabled, e.Paused)
		update := models.NodeUpdate{
			EntityID:     e.ID,
			Status:       models.StatusOf(agg.Active),
			AlertLatched: tr.Latched,
		}
		plan.updates = append(plan.updates, update)
		if tr.Emit {
			plan.alerts = append(plan.alerts, pendingAlert{
				update: update,
				alert:  newAlert(tr.Kind, e.Name, "", now),
			})
		}
	}

	return plan
}

func newAlert(kind models.AlertKind, entity, sub string, at time.Time) *models.Alert {
	return &models.Alert{
		ID:          newAlertID(),
		Kind:        kind,
		EntityName:  entity,
		SubEntity:   sub,
		Message:     AlertMessage(kind, entity, sub),
		TriggeredAt: at,
	}
}

func newAlertID() string {
	return uuid.New().String()
}

// AlertMessage renders the notification text for a transition
func AlertMessage(kind models.AlertKind, entity, sub string) string {
	name := entity
	if sub != "" {
		name = entity + "::" + sub
	}

	switch kind {
	case models.AlertDown:
		if sub == "" {
			return fmt.Sprintf("🔴 %s is down: no active components", name)
		}
		return fmt.Sprintf("🔴 %s is not responding", name)
	case models.AlertRecovered:
		return fmt.Sprintf("🟢 %s recovered", name)
	default:
		return name
	}
}

// ErrorMessage renders the best-effort alert sent when a tick fails
func ErrorMessage(err error) string {
	return fmt.Sprintf("Monitoring error: %v", err)
}
