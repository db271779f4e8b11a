package services

import (
	"time"

	"github.com/timeplus-io/tp-watchdog/pkg/models"
)

// Aggregation is the reduction of one entity's children at a point in time
type Aggregation struct {
	Active bool
	Stats  models.Stats
	// ChildActive holds the evaluated activity of every child, keyed by id
	ChildActive map[int64]bool
}

// Aggregate evaluates every child of e and derives the parent activity.
// The entity is active iff it is not paused and at least one non-paused
// child is active; an entity without children is inactive.
func Aggregate(e *models.Entity, now time.Time, threshold time.Duration) Aggregation {
	agg := Aggregation{ChildActive: make(map[int64]bool, len(e.Children))}

	anyActive := false
	for _, child := range e.Children {
		active := IsActive(child.LastHeartbeat, now, threshold, child.Paused)
		agg.ChildActive[child.ID] = active

		agg.Stats.TotalChildren++
		if active {
			agg.Stats.ActiveChildren++
			anyActive = true
		} else {
			agg.Stats.InactiveChildren++
		}
	}

	agg.Active = !e.Paused && anyActive
	return agg
}

// ResumedActivity evaluates e the way the first tick after a resume does:
// the parent ignores its own pause and every child ignores its own pause.
// Children that are paused still do not count towards the parent.
func ResumedActivity(e *models.Entity, now time.Time, threshold time.Duration) (parent bool, children map[int64]bool) {
	children = make(map[int64]bool, len(e.Children))
	for _, child := range e.Children {
		active := IsActive(child.LastHeartbeat, now, threshold, false)
		children[child.ID] = active
		if active && !child.Paused {
			parent = true
		}
	}
	return parent, children
}

// BuildView renders e for the status query, children in natural order
func BuildView(e *models.Entity, now time.Time, threshold time.Duration) models.EntityView {
	agg := Aggregate(e, now, threshold)

	children := make([]models.ChildView, 0, len(e.Children))
	for _, child := range e.Children {
		children = append(children, models.ChildView{
			Name:                child.Name,
			LastHeartbeat:       child.LastHeartbeat,
			Status:              models.StatusOf(agg.ChildActive[child.ID]),
			Paused:              child.Paused,
			NotificationEnabled: child.NotifyEnabled,
		})
	}
	SortChildViews(children)

	return models.EntityView{
		Name:                e.Name,
		Paused:              e.Paused,
		Status:              models.StatusOf(agg.Active),
		NotificationEnabled: e.NotifyEnabled,
		Stats:               agg.Stats,
		Children:            children,
	}
}

// BuildTree renders every entity, parents in natural order
func BuildTree(entities []*models.Entity, now time.Time, threshold time.Duration) []models.EntityView {
	views := make([]models.EntityView, 0, len(entities))
	for _, e := range entities {
		views = append(views, BuildView(e, now, threshold))
	}
	SortEntityViews(views)
	return views
}
