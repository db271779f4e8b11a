package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/timeplus-io/tp-watchdog/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entities (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	name           TEXT NOT NULL UNIQUE,
	paused         INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL DEFAULT 'inactive',
	notify_enabled INTEGER NOT NULL DEFAULT 1,
	alert_latched  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sub_entities (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id      INTEGER NOT NULL,
	name           TEXT NOT NULL,
	last_heartbeat TEXT,
	paused         INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL DEFAULT 'inactive',
	notify_enabled INTEGER NOT NULL DEFAULT 1,
	alert_latched  INTEGER NOT NULL DEFAULT 0,
	UNIQUE(entity_id, name)
);

CREATE INDEX IF NOT EXISTS sub_entities_entity_id ON sub_entities(entity_id);
`

// treeColumns selects an entity joined with its children. Child columns
// are NULL for an entity without children.
const treeColumns = `
SELECT e.id, e.name, e.paused, e.status, e.notify_enabled, e.alert_latched,
       s.id, s.name, s.last_heartbeat, s.paused, s.status, s.notify_enabled, s.alert_latched
FROM entities e
LEFT JOIN sub_entities s ON s.entity_id = e.id`

// SQLiteStore is the default Store, backed by an embedded SQLite file
type SQLiteStore struct {
	pool *sqlitePool
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and if needed creates) the database at path
func NewSQLiteStore(path string, poolSize int) (*SQLiteStore, error) {
	pool, err := openSQLitePool(path, poolSize, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, sqliteSchema, nil)
	})
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{pool: pool}, nil
}

// RecordHeartbeat upserts the parent and child rows in one transaction
func (s *SQLiteStore) RecordHeartbeat(ctx context.Context, parent, child string, at time.Time) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlite store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	if err = sqlitex.Execute(conn,
		`INSERT INTO entities (name) VALUES (?) ON CONFLICT(name) DO NOTHING`,
		&sqlitex.ExecOptions{Args: []any{parent}}); err != nil {
		return fmt.Errorf("failed to upsert entity %q: %w", parent, err)
	}

	if err = sqlitex.Execute(conn, `
		INSERT INTO sub_entities (entity_id, name, last_heartbeat)
		SELECT id, ?, ? FROM entities WHERE name = ?
		ON CONFLICT(entity_id, name) DO UPDATE SET last_heartbeat = excluded.last_heartbeat`,
		&sqlitex.ExecOptions{Args: []any{child, formatTimestamp(at), parent}}); err != nil {
		return fmt.Errorf("failed to upsert sub-entity %q/%q: %w", parent, child, err)
	}
	return nil
}

// Snapshot reads the whole tree with a single statement
func (s *SQLiteStore) Snapshot(ctx context.Context) ([]*models.Entity, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	return s.readTree(conn, treeColumns+` ORDER BY e.id, s.id`, nil)
}

// GetEntity returns the named entity with its children
func (s *SQLiteStore) GetEntity(ctx context.Context, name string) (*models.Entity, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	entities, err := s.readTree(conn, treeColumns+` WHERE e.name = ? ORDER BY s.id`, []any{name})
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, notFound("entity", name)
	}
	return entities[0], nil
}

func (s *SQLiteStore) readTree(conn *sqlite.Conn, query string, args []any) ([]*models.Entity, error) {
	var entities []*models.Entity
	var current *models.Entity

	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			id := stmt.ColumnInt64(0)
			if current == nil || current.ID != id {
				current = &models.Entity{
					ID:            id,
					Name:          stmt.ColumnText(1),
					Paused:        stmt.ColumnInt(2) != 0,
					Status:        models.Status(stmt.ColumnText(3)),
					NotifyEnabled: stmt.ColumnInt(4) != 0,
					AlertLatched:  stmt.ColumnInt(5) != 0,
					Children:      []*models.SubEntity{},
				}
				entities = append(entities, current)
			}
			if stmt.ColumnIsNull(6) {
				return nil
			}

			child := &models.SubEntity{
				ID:            stmt.ColumnInt64(6),
				ParentID:      id,
				Name:          stmt.ColumnText(7),
				Paused:        stmt.ColumnInt(9) != 0,
				Status:        models.Status(stmt.ColumnText(10)),
				NotifyEnabled: stmt.ColumnInt(11) != 0,
				AlertLatched:  stmt.ColumnInt(12) != 0,
			}
			if !stmt.ColumnIsNull(8) {
				last, err := ParseTimestamp(stmt.ColumnText(8))
				if err != nil {
					logrus.Warnf("Ignoring unreadable heartbeat for %s/%s: %v", current.Name, child.Name, err)
				} else {
					child.LastHeartbeat = &last
				}
			}
			current.Children = append(current.Children, child)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read entity tree: %w", err)
	}
	return entities, nil
}

// SetEntityPaused pauses or resumes a whole entity
func (s *SQLiteStore) SetEntityPaused(ctx context.Context, name string, paused bool) error {
	return s.update(ctx, "entity", name,
		`UPDATE entities SET paused = ? WHERE name = ?`, boolInt(paused), name)
}

// SetSubEntityPaused pauses or resumes one child
func (s *SQLiteStore) SetSubEntityPaused(ctx context.Context, parent, child string, paused bool) error {
	return s.update(ctx, "sub-entity", parent+"/"+child, `
		UPDATE sub_entities SET paused = ?
		WHERE name = ? AND entity_id = (SELECT id FROM entities WHERE name = ?)`,
		boolInt(paused), child, parent)
}

// SetEntityNotify sets the parent emission gate and latch
func (s *SQLiteStore) SetEntityNotify(ctx context.Context, name string, enabled, latched bool) error {
	return s.update(ctx, "entity", name,
		`UPDATE entities SET notify_enabled = ?, alert_latched = ? WHERE name = ?`,
		boolInt(enabled), boolInt(latched), name)
}

// SetSubEntityNotify sets a child's emission gate and latch
func (s *SQLiteStore) SetSubEntityNotify(ctx context.Context, parent, child string, enabled, latched bool) error {
	return s.update(ctx, "sub-entity", parent+"/"+child, `
		UPDATE sub_entities SET notify_enabled = ?, alert_latched = ?
		WHERE name = ? AND entity_id = (SELECT id FROM entities WHERE name = ?)`,
		boolInt(enabled), boolInt(latched), child, parent)
}

// DeleteSubEntity removes one child
func (s *SQLiteStore) DeleteSubEntity(ctx context.Context, parent, child string) error {
	return s.update(ctx, "sub-entity", parent+"/"+child, `
		DELETE FROM sub_entities
		WHERE name = ? AND entity_id = (SELECT id FROM entities WHERE name = ?)`,
		child, parent)
}

// DeleteEntity removes the entity and cascades to its children
func (s *SQLiteStore) DeleteEntity(ctx context.Context, name string) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlite store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	if err = sqlitex.Execute(conn,
		`DELETE FROM sub_entities WHERE entity_id = (SELECT id FROM entities WHERE name = ?)`,
		&sqlitex.ExecOptions{Args: []any{name}}); err != nil {
		return fmt.Errorf("failed to delete children of %q: %w", name, err)
	}
	if err = sqlitex.Execute(conn, `DELETE FROM entities WHERE name = ?`,
		&sqlitex.ExecOptions{Args: []any{name}}); err != nil {
		return fmt.Errorf("failed to delete entity %q: %w", name, err)
	}
	if conn.Changes() == 0 {
		return notFound("entity", name)
	}
	return nil
}

// ApplyTick writes every node update inside one immediate transaction
func (s *SQLiteStore) ApplyTick(ctx context.Context, updates []models.NodeUpdate) (applied []models.NodeUpdate, err error) {
	if len(updates) == 0 {
		return nil, nil
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for _, u := range updates {
		if u.SubEntityID == 0 {
			err = sqlitex.Execute(conn,
				`UPDATE entities SET status = ?, alert_latched = ? WHERE id = ?`,
				&sqlitex.ExecOptions{Args: []any{string(u.Status), boolInt(u.AlertLatched), u.EntityID}})
		} else {
			err = sqlitex.Execute(conn,
				`UPDATE sub_entities SET status = ?, alert_latched = ? WHERE id = ? AND entity_id = ?`,
				&sqlitex.ExecOptions{Args: []any{string(u.Status), boolInt(u.AlertLatched), u.SubEntityID, u.EntityID}})
		}
		if err != nil {
			return nil, fmt.Errorf("failed to apply tick update: %w", err)
		}
		if conn.Changes() > 0 {
			applied = append(applied, u)
		}
	}
	return applied, nil
}

// Close closes the connection pool
func (s *SQLiteStore) Close() error {
	return s.pool.Close()
}

// update runs a single-statement write and maps zero affected rows to ErrNotFound
func (s *SQLiteStore) update(ctx context.Context, kind, name, query string, args ...any) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
		return fmt.Errorf("failed to update %s %q: %w", kind, name, err)
	}
	if conn.Changes() == 0 {
		return notFound(kind, name)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
