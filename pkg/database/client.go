// Package database provides the SQLite client, migrations, and snapshot
// utilities backing the persistence layer.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Register cgo-free sqlite driver for database/sql

	"github.com/tableflow/tableflow/pkg/config"
)

// Client wraps the sql.DB handle for the single-file store.
//
// SQLite allows a single writer at a time; writes are serialized through a
// dedicated connection (MaxOpenConns on the write handle is 1) while reads go
// through a separate read-only pool so they proceed in parallel with an
// active writer under WAL.
type Client struct {
	db     *sql.DB // write handle, serialized
	readDB *sql.DB // read pool
	path   string
}

// DB returns the serialized write handle.
func (c *Client) DB() *sql.DB { return c.db }

// ReadDB returns the parallel read pool.
func (c *Client) ReadDB() *sql.DB { return c.readDB }

// Path returns the database file path.
func (c *Client) Path() string { return c.path }

// Close closes both handles.
func (c *Client) Close() error {
	rerr := c.readDB.Close()
	werr := c.db.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// NewClient opens the SQLite database, configures pragmas, and applies all
// pending migrations.
func NewClient(ctx context.Context, cfg *config.DatabaseConfig) (*Client, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	busyMillis := cfg.BusyTimeout.Milliseconds()
	if busyMillis <= 0 {
		busyMillis = 5000
	}
	dsn := fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)",
		cfg.Path, busyMillis,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single writer connection — SQLite serializes writes anyway; funneling
	// them through one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	readDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open read pool: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetConnMaxIdleTime(5 * time.Minute)

	if err := readDB.PingContext(ctx); err != nil {
		_ = readDB.Close()
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping read pool: %w", err)
	}

	return &Client{db: db, readDB: readDB, path: cfg.Path}, nil
}

// NewMemoryClient opens an in-memory database with migrations applied.
// Used by tests; the shared-cache DSN keeps all connections on one store.
func NewMemoryClient(ctx context.Context) (*Client, error) {
	dsn := fmt.Sprintf(
		"file:memdb_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)",
		time.Now().UnixNano(),
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	readDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	readDB.SetMaxOpenConns(2)
	return &Client{db: db, readDB: readDB, path: ":memory:"}, nil
}
