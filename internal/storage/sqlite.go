package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLite is the local-area store. Every process that opens the same data
// directory shares its contents, and each write is appended to a change log
// tagged with the writer's origin so other contexts can observe it.
type SQLite struct {
	db     *sql.DB
	handle Handle
	origin string
	quota  int64
}

// SQLiteOption configures Open.
type SQLiteOption func(*SQLite)

// WithOrigin tags writes with the given context origin.
func WithOrigin(origin string) SQLiteOption {
	return func(s *SQLite) { s.origin = origin }
}

// WithQuota caps the total bytes of keys plus values. Zero means unlimited.
func WithQuota(bytes int64) SQLiteOption {
	return func(s *SQLite) { s.quota = bytes }
}

// Open opens (or creates) the local store in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for a private in-memory database (used by tests).
func Open(dataDir string, opts ...SQLiteOption) (*SQLite, error) {
	var dsn, id string
	if dataDir == ":memory:" {
		dsn = ":memory:"
		id = "memory-" + uuid.NewString()
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "tabstate.db")
		if abs, err := filepath.Abs(dsn); err == nil {
			dsn = abs
		}
		id = dsn
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Other processes hold the same file; wait for their locks instead of failing.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &SQLite{
		db:     db,
		handle: Handle{Kind: KindLocal, ID: id},
		origin: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Handle() Handle { return s.handle }

// Origin returns the tag recorded with this handle's writes.
func (s *SQLite) Origin() string { return s.origin }

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *SQLite) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *SQLite) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Key/value ---

func (s *SQLite) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &BackendError{Op: "get", Key: key, Err: err}
	}
	return value, true, nil
}

func (s *SQLite) Set(key, value string) error {
	if err := s.set(key, value); err != nil {
		return wrapBackend("set", key, err)
	}
	return nil
}

func (s *SQLite) set(key, value string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var old sql.NullString
	if err := tx.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&old); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	if s.quota > 0 {
		var used int64
		if err := tx.QueryRow(
			"SELECT COALESCE(SUM(length(CAST(key AS BLOB)) + length(CAST(value AS BLOB))), 0) FROM kv WHERE key != ?", key,
		).Scan(&used); err != nil {
			return err
		}
		if used+int64(len(key)+len(value)) > s.quota {
			return ErrQuotaExceeded
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.Exec(`
		INSERT INTO kv (key, value, origin, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, origin = excluded.origin, updated_at = excluded.updated_at`,
		key, value, s.origin, now,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO changes (key, old_value, new_value, origin, changed_at) VALUES (?, ?, ?, ?, ?)",
		key, old, value, s.origin, now,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) Delete(key string) error {
	if err := s.delete(key); err != nil {
		return wrapBackend("delete", key, err)
	}
	return nil
}

func (s *SQLite) delete(key string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var old string
	err = tx.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&old)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO changes (key, old_value, new_value, origin, changed_at) VALUES (?, ?, NULL, ?, ?)",
		key, old, s.origin, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Clear removes every key and records a key-less change.
func (s *SQLite) Clear() error {
	tx, err := s.db.Begin()
	if err != nil {
		return &BackendError{Op: "clear", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM kv"); err != nil {
		return &BackendError{Op: "clear", Err: err}
	}
	if _, err := tx.Exec(
		"INSERT INTO changes (key, old_value, new_value, origin, changed_at) VALUES (NULL, NULL, NULL, ?, ?)",
		s.origin, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return &BackendError{Op: "clear", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &BackendError{Op: "clear", Err: err}
	}
	return nil
}

func (s *SQLite) Keys() ([]string, error) {
	rows, err := s.db.Query("SELECT key FROM kv ORDER BY key ASC")
	if err != nil {
		return nil, &BackendError{Op: "keys", Err: err}
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, &BackendError{Op: "keys", Err: err}
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- Change log ---

// LastSeq returns the sequence number of the newest change, or 0.
func (s *SQLite) LastSeq() (int64, error) {
	var seq int64
	if err := s.db.QueryRow("SELECT COALESCE(MAX(seq), 0) FROM changes").Scan(&seq); err != nil {
		return 0, fmt.Errorf("reading last change: %w", err)
	}
	return seq, nil
}

// ChangesSince returns up to limit changes with seq greater than after, oldest first.
func (s *SQLite) ChangesSince(after int64, limit int) ([]ChangeEvent, error) {
	rows, err := s.db.Query(`
		SELECT seq, key, old_value, new_value, origin
		FROM changes WHERE seq > ? ORDER BY seq ASC LIMIT ?`, after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("reading changes: %w", err)
	}
	defer rows.Close()

	var out []ChangeEvent
	for rows.Next() {
		var (
			ev                    ChangeEvent
			key, oldVal, newVal sql.NullString
		)
		if err := rows.Scan(&ev.Seq, &key, &oldVal, &newVal, &ev.Origin); err != nil {
			return nil, fmt.Errorf("scanning change: %w", err)
		}
		ev.Key = nullable(key)
		ev.OldValue = nullable(oldVal)
		ev.NewValue = nullable(newVal)
		area := s.handle
		ev.Area = &area
		out = append(out, ev)
	}
	return out, rows.Err()
}

// PruneChanges deletes change rows older than the newest keep entries.
func (s *SQLite) PruneChanges(keep int) (int64, error) {
	res, err := s.db.Exec(
		"DELETE FROM changes WHERE seq <= (SELECT COALESCE(MAX(seq), 0) FROM changes) - ?", keep,
	)
	if err != nil {
		return 0, fmt.Errorf("pruning changes: %w", err)
	}
	return res.RowsAffected()
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return strPtr(ns.String)
}
