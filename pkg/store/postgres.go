package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/timeplus-io/tp-watchdog/pkg/config"
	"github.com/timeplus-io/tp-watchdog/pkg/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS entities (
	id             BIGSERIAL PRIMARY KEY,
	name           TEXT NOT NULL UNIQUE,
	paused         BOOLEAN NOT NULL DEFAULT FALSE,
	status         TEXT NOT NULL DEFAULT 'inactive',
	notify_enabled BOOLEAN NOT NULL DEFAULT TRUE,
	alert_latched  BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS sub_entities (
	id             BIGSERIAL PRIMARY KEY,
	entity_id      BIGINT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	name           TEXT NOT NULL,
	last_heartbeat TIMESTAMPTZ,
	paused         BOOLEAN NOT NULL DEFAULT FALSE,
	status         TEXT NOT NULL DEFAULT 'inactive',
	notify_enabled BOOLEAN NOT NULL DEFAULT TRUE,
	alert_latched  BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE(entity_id, name)
);
`

// PostgresStore is a Store backed by Postgres through lib/pq
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// DSN renders the lib/pq connection string
func DSN(cfg *config.PostgresConfig) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)
}

// NewPostgresStore connects, applies the pool limits and ensures the schema
func NewPostgresStore(cfg *config.PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := NewPostgresStoreFromDB(db)
	if err := s.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	logrus.Infof("Connected to Postgres at %s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
	return s, nil
}

// NewPostgresStoreFromDB wraps an existing handle
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the tables if they do not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// RecordHeartbeat upserts the parent and child rows in one transaction
func (s *PostgresStore) RecordHeartbeat(ctx context.Context, parent, child string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entities (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, parent); err != nil {
		return fmt.Errorf("failed to upsert entity %q: %w", parent, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sub_entities (entity_id, name, last_heartbeat)
		SELECT id, $1, $2 FROM entities WHERE name = $3
		ON CONFLICT (entity_id, name) DO UPDATE SET last_heartbeat = EXCLUDED.last_heartbeat`,
		child, at.UTC(), parent); err != nil {
		return fmt.Errorf("failed to upsert sub-entity %q/%q: %w", parent, child, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit heartbeat: %w", err)
	}
	return nil
}

// Snapshot reads the whole tree with a single statement
func (s *PostgresStore) Snapshot(ctx context.Context) ([]*models.Entity, error) {
	rows, err := s.db.QueryContext(ctx, treeColumns+` ORDER BY e.id, s.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read entity tree: %w", err)
	}
	defer rows.Close()
	return scanTree(rows)
}

// GetEntity returns the named entity with its children
func (s *PostgresStore) GetEntity(ctx context.Context, name string) (*models.Entity, error) {
	rows, err := s.db.QueryContext(ctx, treeColumns+` WHERE e.name = $1 ORDER BY s.id`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read entity %q: %w", name, err)
	}
	defer rows.Close()

	entities, err := scanTree(rows)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, notFound("entity", name)
	}
	return entities[0], nil
}

func scanTree(rows *sql.Rows) ([]*models.Entity, error) {
	var entities []*models.Entity
	var current *models.Entity

	for rows.Next() {
		var (
			e         models.Entity
			status    string
			childID   sql.NullInt64
			childName sql.NullString
			lastBeat  sql.NullTime
			cPaused   sql.NullBool
			cStatus   sql.NullString
			cNotify   sql.NullBool
			cLatched  sql.NullBool
		)
		if err := rows.Scan(&e.ID, &e.Name, &e.Paused, &status, &e.NotifyEnabled, &e.AlertLatched,
			&childID, &childName, &lastBeat, &cPaused, &cStatus, &cNotify, &cLatched); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if current == nil || current.ID != e.ID {
			e.Status = models.Status(status)
			e.Children = []*models.SubEntity{}
			current = &e
			entities = append(entities, current)
		}
		if !childID.Valid {
			continue
		}

		child := &models.SubEntity{
			ID:            childID.Int64,
			ParentID:      current.ID,
			Name:          childName.String,
			Paused:        cPaused.Bool,
			Status:        models.Status(cStatus.String),
			NotifyEnabled: cNotify.Bool,
			AlertLatched:  cLatched.Bool,
		}
		if lastBeat.Valid {
			last := lastBeat.Time.UTC()
			child.LastHeartbeat = &last
		}
		current.Children = append(current.Children, child)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return entities, nil
}

// SetEntityPaused pauses or resumes a whole entity
func (s *PostgresStore) SetEntityPaused(ctx context.Context, name string, paused bool) error {
	return s.exec(ctx, "entity", name,
		`UPDATE entities SET paused = $1 WHERE name = $2`, paused, name)
}

// SetSubEntityPaused pauses or resumes one child
func (s *PostgresStore) SetSubEntityPaused(ctx context.Context, parent, child string, paused bool) error {
	return s.exec(ctx, "sub-entity", parent+"/"+child, `
		UPDATE sub_entities SET paused = $1
		WHERE name = $2 AND entity_id = (SELECT id FROM entities WHERE name = $3)`,
		paused, child, parent)
}

// SetEntityNotify sets the parent emission gate and latch
func (s *PostgresStore) SetEntityNotify(ctx context.Context, name string, enabled, latched bool) error {
	return s.exec(ctx, "entity", name,
		`UPDATE entities SET notify_enabled = $1, alert_latched = $2 WHERE name = $3`,
		enabled, latched, name)
}

// SetSubEntityNotify sets a child's emission gate and latch
func (s *PostgresStore) SetSubEntityNotify(ctx context.Context, parent, child string, enabled, latched bool) error {
	return s.exec(ctx, "sub-entity", parent+"/"+child, `
		UPDATE sub_entities SET notify_enabled = $1, alert_latched = $2
		WHERE name = $3 AND entity_id = (SELECT id FROM entities WHERE name = $4)`,
		enabled, latched, child, parent)
}

// DeleteEntity removes the entity; children go with it through ON DELETE CASCADE
func (s *PostgresStore) DeleteEntity(ctx context.Context, name string) error {
	return s.exec(ctx, "entity", name, `DELETE FROM entities WHERE name = $1`, name)
}

// DeleteSubEntity removes one child
func (s *PostgresStore) DeleteSubEntity(ctx context.Context, parent, child string) error {
	return s.exec(ctx, "sub-entity", parent+"/"+child, `
		DELETE FROM sub_entities
		WHERE name = $1 AND entity_id = (SELECT id FROM entities WHERE name = $2)`,
		child, parent)
}

// ApplyTick writes every node update inside one transaction
func (s *PostgresStore) ApplyTick(ctx context.Context, updates []models.NodeUpdate) ([]models.NodeUpdate, error) {
	if len(updates) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var applied []models.NodeUpdate
	for _, u := range updates {
		var res sql.Result
		if u.SubEntityID == 0 {
			res, err = tx.ExecContext(ctx,
				`UPDATE entities SET status = $1, alert_latched = $2 WHERE id = $3`,
				string(u.Status), u.AlertLatched, u.EntityID)
		} else {
			res, err = tx.ExecContext(ctx,
				`UPDATE sub_entities SET status = $1, alert_latched = $2 WHERE id = $3 AND entity_id = $4`,
				string(u.Status), u.AlertLatched, u.SubEntityID, u.EntityID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to apply tick update: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n > 0 {
			applied = append(applied, u)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit tick: %w", err)
	}
	return applied, nil
}

// Close closes the database handle
func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *PostgresStore) exec(ctx context.Context, kind, name, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s %q: %w", kind, name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound(kind, name)
	}
	return nil
}
