package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timeplus-io/tp-watchdog/pkg/config"
	"github.com/timeplus-io/tp-watchdog/pkg/models"
)

// ErrNotFound is returned when an operation names an unknown entity or sub-entity
var ErrNotFound = errors.New("not found")

// Store is the durable heartbeat store shared by ingestion and the monitor.
// Every read-modify-write sequence is a single store-level atomic operation,
// so callers never need an in-process lock.
type Store interface {
	// RecordHeartbeat creates the parent and child if absent and sets the
	// child's last heartbeat to at.
	RecordHeartbeat(ctx context.Context, parent, child string, at time.Time) error

	// Snapshot returns every entity with its children as of one point in time.
	Snapshot(ctx context.Context) ([]*models.Entity, error)

	// GetEntity returns one entity with its children.
	GetEntity(ctx context.Context, name string) (*models.Entity, error)

	SetEntityPaused(ctx context.Context, name string, paused bool) error
	SetSubEntityPaused(ctx context.Context, parent, child string, paused bool) error

	// SetEntityNotify and SetSubEntityNotify set the emission gate together
	// with the latch so re-enabling never replays an old transition.
	SetEntityNotify(ctx context.Context, name string, enabled, latched bool) error
	SetSubEntityNotify(ctx context.Context, parent, child string, enabled, latched bool) error

	// DeleteEntity removes the entity and all of its children.
	DeleteEntity(ctx context.Context, name string) error
	DeleteSubEntity(ctx context.Context, parent, child string) error

	// ApplyTick persists the statuses and latches computed by one tick in a
	// single transaction. Updates naming rows that vanished mid-tick are
	// skipped; the updates that matched a row are returned.
	ApplyTick(ctx context.Context, updates []models.NodeUpdate) ([]models.NodeUpdate, error)

	Close() error
}

// Open creates the store selected by cfg.Driver
func Open(cfg *config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLiteStore(cfg.Path, cfg.PoolSize)
	case "postgres":
		return NewPostgresStore(&cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}

func notFound(kind, name string) error {
	return fmt.Errorf("%s %q: %w", kind, name, ErrNotFound)
}
