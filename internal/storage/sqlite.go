// Package storage is the SQLite persistence layer: users, conversation turns,
// standing instructions, tasks, indexed documents and the background job queue.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store owns the database handle. All access funnels through one connection,
// so SQLite never sees two writers.
type Store struct {
	db *sql.DB
}

// Open opens dataDir/aide.db, creating the directory if needed, and brings
// the schema up to date. dataDir ":memory:" gives a throwaway database.
func Open(dataDir string) (*Store, error) {
	dsn := ":memory:"
	if dataDir != ":memory:" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = "file:" + filepath.Join(dataDir, "aide.db") +
			"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.upgrade(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB is shared with the knowledge store so both stay on the one connection.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// withTx runs fn in a transaction, committing only when fn returns nil.
func (s *Store) withTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// upgrade applies every embedded NNN_name.sql file newer than the highest
// version recorded in schema_version, each in its own transaction.
func (s *Store) upgrade() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("schema_version: %w", err)
	}
	applied, err := s.AppliedMigrations()
	if err != nil {
		return err
	}

	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	slices.Sort(files)
	for _, f := range files {
		version, err := parseMigrationVersion(path.Base(f))
		if err != nil {
			return err
		}
		if slices.Contains(applied, version) {
			continue
		}
		ddl, err := migrations.ReadFile(f)
		if err != nil {
			return err
		}
		err = s.withTx(func(tx *sql.Tx) error {
			if _, err := tx.Exec(string(ddl)); err != nil {
				return err
			}
			_, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, version)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", path.Base(f), err)
		}
	}
	return nil
}

func parseMigrationVersion(name string) (int, error) {
	prefix, _, ok := strings.Cut(name, "_")
	v, err := strconv.Atoi(prefix)
	if !ok || err != nil {
		return 0, fmt.Errorf("migration %q lacks a numeric NNN_ prefix", name)
	}
	return v, nil
}

// AppliedMigrations lists recorded schema versions, lowest first.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query(`SELECT version FROM schema_version ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("schema versions: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Timestamps are stored as RFC 3339 text in UTC, which sorts lexically.

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func unstamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
