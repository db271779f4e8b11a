package store

import (
	"context"
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// sqlitePool is a fixed-size pool of SQLite connections sharing one set
// of pragmas. Connections are not safe for concurrent use; each caller
// takes its own and puts it back.
type sqlitePool struct {
	inner *sqlitex.Pool
	path  string
}

// openSQLitePool opens a pool on path and runs onConnect once per
// connection after the standard pragmas.
func openSQLitePool(path string, poolSize int, onConnect func(conn *sqlite.Conn) error) (*sqlitePool, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store: path is required")
	}

	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
		if poolSize < 4 {
			poolSize = 4
		}
	}

	inner, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn, onConnect)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: opening %s: %w", path, err)
	}

	logrus.Infof("SQLite pool opened (path: %s, pool size: %d)", path, poolSize)

	return &sqlitePool{inner: inner, path: path}, nil
}

// Take borrows a connection. The caller must Put it back.
func (p *sqlitePool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool
func (p *sqlitePool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Close waits for borrowed connections and closes the pool
func (p *sqlitePool) Close() error {
	if err := p.inner.Close(); err != nil {
		logrus.Errorf("SQLite pool close error (path: %s): %v", p.path, err)
		return fmt.Errorf("sqlite store: closing %s: %w", p.path, err)
	}
	logrus.Infof("SQLite pool closed (path: %s)", p.path)
	return nil
}

func prepareConnection(conn *sqlite.Conn, onConnect func(*sqlite.Conn) error) error {
	// foreign_keys stays OFF: cascades are issued explicitly inside the
	// delete transaction.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=OFF",
		"PRAGMA cache_size=-8192",
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlite store: %s: %w", pragma, err)
		}
	}

	if onConnect != nil {
		if err := onConnect(conn); err != nil {
			return fmt.Errorf("sqlite store: OnConnect: %w", err)
		}
	}
	return nil
}
