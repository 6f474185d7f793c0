// Package store persists users, encrypted settings, analysis history and the
// file access audit log in SQLite or PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/tuannvm/ado-ai/internal/logging"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Driver names as registered with database/sql.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

var placeholderRe = regexp.MustCompile(`\$\d+`)

// Store wraps a database handle. Queries are written with $N placeholders and
// rebound for SQLite.
type Store struct {
	db     *sql.DB
	driver string
	ids    *snowflake.Node
	now    func() time.Time
}

// DriverFor picks the driver for a DSN: postgres URLs use pgx, anything else
// is a SQLite path or URI.
func DriverFor(dsn string) (driver, source string) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return DriverPostgres, dsn
	case strings.HasPrefix(dsn, "sqlite://"):
		return DriverSQLite, strings.TrimPrefix(dsn, "sqlite://")
	default:
		return DriverSQLite, dsn
	}
}

// Open connects to dsn, applies the schema and returns a Store. nodeID
// seeds the snowflake id generator and must be unique per process writing
// to the same database.
func Open(ctx context.Context, dsn string, nodeID int64) (*Store, error) {
	driver, source := DriverFor(dsn)

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// One connection keeps :memory: databases shared and serializes writers.
		db.SetMaxOpenConns(1)
		for _, p := range []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
			if _, err := db.ExecContext(ctx, p); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to set pragma %s: %w", p, err)
			}
		}
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create id generator: %w", err)
	}

	s := &Store{db: db, driver: driver, ids: node, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logging.Infof("Database ready (driver=%s)", driver)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the database/sql driver name in use.
func (s *Store) Driver() string { return s.driver }

func (s *Store) rebind(query string) string {
	if s.driver == DriverSQLite {
		return placeholderRe.ReplaceAllString(query, "?")
	}
	return query
}

func (s *Store) nextID() int64 {
	return s.ids.Generate().Int64()
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// schema is portable between SQLite and PostgreSQL. JSON columns are TEXT.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT PRIMARY KEY,
		username VARCHAR(100) NOT NULL UNIQUE,
		email VARCHAR(255) UNIQUE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL,
		last_login TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS user_settings (
		id BIGINT PRIMARY KEY,
		user_id BIGINT NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
		azure_devops_pat_encrypted TEXT NOT NULL,
		anthropic_api_key_encrypted TEXT,
		azure_devops_org_url VARCHAR(500) NOT NULL,
		azure_devops_project VARCHAR(255) NOT NULL,
		claude_model VARCHAR(100) NOT NULL,
		work_folder_path VARCHAR(1000),
		auto_approve BOOLEAN NOT NULL DEFAULT FALSE,
		max_tokens INTEGER NOT NULL DEFAULT 4096,
		temperature DOUBLE PRECISION NOT NULL DEFAULT 0.7,
		max_retries INTEGER NOT NULL DEFAULT 3,
		timeout_seconds INTEGER NOT NULL DEFAULT 30,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS work_item_history (
		id BIGINT PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		work_item_id INTEGER NOT NULL,
		work_item_type VARCHAR(100),
		title VARCHAR(500),
		analysis_result TEXT,
		custom_prompt TEXT,
		work_folder_path VARCHAR(1000),
		status VARCHAR(50) NOT NULL DEFAULT 'pending',
		error_message TEXT,
		token_usage TEXT,
		cost DOUBLE PRECISION,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_work_item ON work_item_history (work_item_id)`,
	`CREATE INDEX IF NOT EXISTS idx_history_created ON work_item_history (created_at)`,
	`CREATE TABLE IF NOT EXISTS file_access_logs (
		id BIGINT PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		work_item_id INTEGER,
		file_path VARCHAR(1000) NOT NULL,
		operation VARCHAR(50) NOT NULL,
		success BOOLEAN NOT NULL,
		error_message TEXT,
		timestamp TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_file_access_timestamp ON file_access_logs (timestamp)`,
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
