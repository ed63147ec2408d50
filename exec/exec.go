// Package exec is the execution facade: it feeds translated SQL to a
// PostgreSQL pool and streams the resulting rows. The translation core in
// the parent package performs no I/O; everything that touches the network
// lives here.
package exec

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	cypher "github.com/pgraf/go-cypher"
)

// Config holds connection settings for a Client.
type Config struct {
	// URI is the PostgreSQL DSN (e.g. "postgres://localhost:5432/graph").
	URI string

	// Translator options; zero value selects the defaults.
	Options cypher.Options

	// Logger receives one debug line per translation and execution.
	// Nil disables logging.
	Logger *zap.Logger
}

// Client executes Cypher queries against a PostgreSQL graph database.
type Client struct {
	pool       *pgxpool.Pool
	translator *cypher.Translator
	logger     *zap.Logger
}

// New connects a Client and verifies connectivity before returning it.
func New(ctx context.Context, cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("exec: failed to create pool: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()

		return nil, fmt.Errorf("exec: failed to connect: %w", err)
	}

	return &Client{
		pool:       pool,
		translator: cypher.New(cfg.Options),
		logger:     logger,
	}, nil
}

// Translate exposes the underlying translator.
func (c *Client) Translate(source string) (string, *cypher.Params, error) {
	return c.translator.Translate(source)
}

// Query translates source and opens a cursor over the result rows. The
// bindings map must supply a value for every $name parameter in the source.
// Cancelling ctx aborts the query; Close returns the connection to the pool
// and discards in-flight rows.
func (c *Client) Query(ctx context.Context, source string, bindings map[string]any) (*Cursor, error) {
	sql, params, err := c.translator.Translate(source)
	if err != nil {
		return nil, err
	}

	args, err := params.Args(bindings)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("translated query",
		zap.String("sql", sql),
		zap.Strings("parameters", params.Names()),
	)

	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("exec: query failed: %w", err)
	}

	return &Cursor{rows: rows}, nil
}

// Execute runs source and collects every row.
func (c *Client) Execute(ctx context.Context, source string, bindings map[string]any) ([]map[string]any, error) {
	start := time.Now()

	cursor, err := c.Query(ctx, source, bindings)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var out []map[string]any

	for cursor.Next() {
		row, err := cursor.Row()
		if err != nil {
			return nil, err
		}

		out = append(out, row)
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("exec: reading rows: %w", err)
	}

	c.logger.Debug("executed query",
		zap.Int("rows", len(out)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return out, nil
}

// Close releases the connection pool.
func (c *Client) Close() {
	c.pool.Close()
}

// Cursor streams result rows one at a time.
type Cursor struct {
	rows pgx.Rows
}

// Next advances to the next row.
func (c *Cursor) Next() bool {
	return c.rows.Next()
}

// Row decodes the current row into a column-name map. Graph id columns
// (uuid) decode to uuid.UUID; JSONB property bags decode to their unmarshaled
// Go values. Duplicate column names (two .* expansions) are disambiguated
// with a positional suffix.
func (c *Cursor) Row() (map[string]any, error) {
	values, err := c.rows.Values()
	if err != nil {
		return nil, fmt.Errorf("exec: reading row: %w", err)
	}

	fields := c.rows.FieldDescriptions()
	row := make(map[string]any, len(values))

	for i, value := range values {
		name := fields[i].Name
		if _, taken := row[name]; taken {
			name = fmt.Sprintf("%s_%d", name, i)
		}

		row[name] = decodeValue(value)
	}

	return row, nil
}

// Err returns any error seen while iterating.
func (c *Cursor) Err() error {
	return c.rows.Err()
}

// Close discards remaining rows and returns the connection to the pool.
func (c *Cursor) Close() {
	c.rows.Close()
}

// decodeValue normalizes driver values: uuid bytes become uuid.UUID, nested
// arrays are decoded element-wise.
func decodeValue(value any) any {
	switch v := value.(type) {
	case [16]byte:
		return uuid.UUID(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = decodeValue(item)
		}

		return out
	default:
		return value
	}
}
