package timeplus

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/timeplus-io/proton-go-driver/v2"
	"github.com/timeplus-io/proton-go-driver/v2/lib/driver"

	"github.com/timeplus-io/tp-watchdog/pkg/config"
)

const (
	defaultNativePort = "8464"
	maxAttempts       = 3
	queryTimeout      = 15 * time.Second
)

// Column represents a column definition
type Column struct {
	Name     string
	Type     string
	Nullable bool // Whether the column can be NULL
}

// Client is a wrapper around the Timeplus Proton Go driver connection
type Client struct {
	mu   sync.RWMutex
	conn driver.Conn
	opts *proton.Options // kept for reconnects
}

// Address normalises a configured Timeplus address into host:port for the
// native protocol
func Address(raw string) string {
	address := strings.TrimPrefix(raw, "http://")
	address = strings.TrimPrefix(address, "https://")
	address = strings.TrimSuffix(address, "/")

	if !strings.Contains(address, ":") {
		return address + ":" + defaultNativePort
	}
	return address
}

// NewClient creates a new Timeplus client and waits until the server answers a ping
func NewClient(cfg *config.TimeplusConfig) (*Client, error) {
	addr := Address(cfg.Address)
	logrus.Infof("Connecting to Timeplus native protocol at %s (workspace: %s)", addr, cfg.Workspace)

	opts := &proton.Options{
		Addr: []string{addr},
		Auth: proton.Auth{
			Database: cfg.Workspace,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		Compression: &proton.Compression{
			Method: proton.CompressionLZ4,
		},
	}

	conn, err := dial(context.Background(), opts, 5)
	if err != nil {
		return nil, err
	}

	logrus.Info("Successfully connected to Timeplus")
	return &Client{conn: conn, opts: opts}, nil
}

// dial opens a connection and pings it, backing off between attempts
func dial(ctx context.Context, opts *proton.Options, attempts int) (driver.Conn, error) {
	conn, err := proton.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection to Timeplus: %w", err)
	}

	var pingErr error
	for i := 0; i < attempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pingErr = conn.Ping(pingCtx)
		cancel()
		if pingErr == nil {
			return conn, nil
		}

		logrus.Warnf("Failed to ping Timeplus (attempt %d/%d): %v", i+1, attempts, pingErr)
		if i < attempts-1 {
			time.Sleep(backoff(i))
		}
	}

	conn.Close()
	return nil, fmt.Errorf("failed to ping Timeplus after %d attempts: %w", attempts, pingErr)
}

// backoff returns the delay before retry n, doubling from one second up to ten
func backoff(n int) time.Duration {
	d := time.Duration(1<<uint(n)) * time.Second
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	return d
}

func (c *Client) current() driver.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// reconnect replaces the connection after the server dropped it
func (c *Client) reconnect(ctx context.Context) error {
	logrus.Info("Attempting to reconnect to Timeplus...")

	conn, err := dial(ctx, c.opts, 3)
	if err != nil {
		return err
	}

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	logrus.Info("Successfully reconnected to Timeplus")
	return nil
}

// withRetry runs op up to maxAttempts times, reconnecting after EOF errors
func (c *Client) withRetry(ctx context.Context, what string, op func(ctx context.Context, conn driver.Conn) error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			logrus.Warnf("Retrying %s (attempt %d/%d) after error: %v", what, attempt+1, maxAttempts, lastErr)
			if strings.Contains(lastErr.Error(), "EOF") {
				if err := c.reconnect(ctx); err != nil {
					logrus.Errorf("Failed to reconnect: %v", err)
				}
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(attempt - 1)):
			}
		}

		opCtx, cancel := context.WithTimeout(ctx, queryTimeout)
		lastErr = op(opCtx, c.current())
		cancel()
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("failed to %s after %d attempts: %w", what, maxAttempts, lastErr)
}

// CreateStream creates a new stream with the given name and schema
func (c *Client) CreateStream(ctx context.Context, name string, schema []Column) error {
	query := fmt.Sprintf("CREATE STREAM IF NOT EXISTS `%s` %s", name, columnList(schema))
	if err := c.current().Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create stream '%s': %w", name, err)
	}
	return nil
}

func columnList(schema []Column) string {
	if len(schema) == 0 {
		return ""
	}
	fields := make([]string, len(schema))
	for i, col := range schema {
		if col.Nullable {
			fields[i] = fmt.Sprintf("%s nullable(%s)", col.Name, col.Type)
		} else {
			fields[i] = fmt.Sprintf("%s %s", col.Name, col.Type)
		}
	}
	return "(" + strings.Join(fields, ", ") + ")"
}

// StreamExists checks if a stream exists
func (c *Client) StreamExists(ctx context.Context, name string) (bool, error) {
	query := fmt.Sprintf("SHOW STREAMS LIKE '%s'", escape(name))
	rows, err := c.current().Query(ctx, query)
	if err != nil {
		return false, fmt.Errorf("failed to execute SHOW STREAMS: %w", err)
	}
	defer rows.Close()

	exists := rows.Next()
	if rows.Err() != nil {
		return false, fmt.Errorf("error checking rows from SHOW STREAMS: %w", rows.Err())
	}
	return exists, nil
}

// ExecuteQuery executes a bounded query and returns the result rows
func (c *Client) ExecuteQuery(ctx context.Context, query string) ([]map[string]interface{}, error) {
	var result []map[string]interface{}

	err := c.withRetry(ctx, "execute query", func(ctx context.Context, conn driver.Conn) error {
		rows, err := conn.Query(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		columnNames := rows.Columns()
		columnTypes := rows.ColumnTypes()

		result = make([]map[string]interface{}, 0)
		for rows.Next() {
			scanArgs := make([]interface{}, len(columnNames))
			for i, ct := range columnTypes {
				scanArgs[i] = reflect.New(ct.ScanType()).Interface()
			}
			if err := rows.Scan(scanArgs...); err != nil {
				return fmt.Errorf("failed to scan row: %w", err)
			}

			rowMap := make(map[string]interface{}, len(columnNames))
			for i, name := range columnNames {
				rowMap[name] = reflect.ValueOf(scanArgs[i]).Elem().Interface()
			}
			result = append(result, rowMap)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	logrus.Debugf("Executed query with %d rows", len(result))
	return result, nil
}

// InsertIntoStream inserts one row into a stream
func (c *Client) InsertIntoStream(ctx context.Context, streamName string, columns []string, values []interface{}) error {
	if len(columns) != len(values) {
		return fmt.Errorf("insert into %s: %d columns but %d values", streamName, len(columns), len(values))
	}

	query := fmt.Sprintf("INSERT INTO `%s` (%s) VALUES (%s)",
		streamName, strings.Join(columns, ", "), formatValues(values))

	return c.withRetry(ctx, "insert into "+streamName, func(ctx context.Context, conn driver.Conn) error {
		return conn.Exec(ctx, query)
	})
}

// formatValues renders values as a SQL literal list
func formatValues(values []interface{}) string {
	formatted := make([]string, len(values))
	for i, val := range values {
		switch v := val.(type) {
		case nil:
			formatted[i] = "null"
		case string:
			formatted[i] = fmt.Sprintf("'%s'", escape(v))
		case time.Time:
			formatted[i] = fmt.Sprintf("'%s'", v.UTC().Format("2006-01-02 15:04:05.000"))
		case bool:
			formatted[i] = fmt.Sprintf("%t", v)
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			formatted[i] = fmt.Sprintf("%d", v)
		case float32, float64:
			formatted[i] = fmt.Sprintf("%f", v)
		default:
			formatted[i] = fmt.Sprintf("'%s'", escape(fmt.Sprint(v)))
		}
	}
	return strings.Join(formatted, ", ")
}

func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "'", "''")
}

// Close closes the connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
