package data

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DataFileName = "data.db"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	createSchemaVersionSQL = `CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL PRIMARY KEY,
			applied_at BIGINT NOT NULL
		)`

	selectSchemaVersionSQL = `SELECT COALESCE(MAX(version), 0) FROM schema_version`
	insertSchemaVersionSQL = `INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`
)

var (
	//go:embed sql/*
	f embed.FS

	errDBNotInitialized = errors.New("database not initialized")

	// ErrNotFound is returned when a record does not exist or belongs to another user.
	ErrNotFound = errors.New("record not found")
)

// Store persists loan applications in sqlite or postgres.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the database and applies any pending migrations.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("database dsn not specified")
	}

	db, err := GetDB(driver, dsn)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return s, nil
}

// GetDB opens a connection pool for the given driver without touching the schema.
func GetDB(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", driver)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %s: %w", driver, err)
	}

	// sqlite allows a single writer
	if driver == DriverSQLite {
		conn.SetMaxOpenConns(1)
	}
	return conn, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Driver() string {
	return s.driver
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createSchemaVersionSQL); err != nil {
		return fmt.Errorf("failed to create schema version table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, selectSchemaVersionSQL).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	dir := path.Join("sql", s.driver)
	entries, err := f.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations for %s: %w", s.driver, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		v, err := migrationVersion(e.Name())
		if err != nil {
			return err
		}
		if v <= current {
			continue
		}

		b, err := f.ReadFile(path.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", e.Name(), err)
		}

		slog.Debug("applying migration", "driver", s.driver, "version", v)
		if err := s.applyMigration(ctx, v, string(b)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, version int, ddl string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.rebind(insertSchemaVersionSQL), version, time.Now().UTC().Unix()); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return tx.Commit()
}

func migrationVersion(name string) (int, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, fmt.Errorf("invalid migration file name: %s", name)
	}
	v, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, fmt.Errorf("invalid migration version in %s: %w", name, err)
	}
	return v, nil
}

// rebind converts ? placeholders to the $N form postgres expects.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Contains checks for val in list
func Contains[T comparable](list []T, val T) bool {
	for _, item := range list {
		if item == val {
			return true
		}
	}
	return false
}
