// Package cache is the client's local durable buffer: at most one pending
// edit per document, persisted outside the request/response flow so edits
// survive crashes and offline stretches until they can be replayed.
package cache

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultMaxAttempts bounds replay retries. A record that fails this many
// flushes is dropped rather than retried forever.
const DefaultMaxAttempts = 3

// PendingSave is one buffered edit awaiting replay.
type PendingSave struct {
	DocID   string
	Content string
	// BaseUpdatedAt is the server timestamp the edit was based on; zero if
	// the document had never been saved.
	BaseUpdatedAt time.Time
	Attempts      int
}

// Store wraps a SQLite database holding pending saves, keyed by document id.
type Store struct {
	db          *sql.DB
	maxAttempts int
}

// Open opens (or creates) the cache database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string, maxAttempts int) (*Store, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "draftsync.db")
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

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, maxAttempts: maxAttempts}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts the pending record for a document: any prior buffered edit
// for the same id is overwritten and the attempt counter resets to zero.
func (s *Store) Save(docID, content string, baseUpdatedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO pending_saves (doc_id, content, base_updated_at, attempts)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(doc_id) DO UPDATE SET
			content = excluded.content,
			base_updated_at = excluded.base_updated_at,
			attempts = 0,
			queued_at = CURRENT_TIMESTAMP
	`, docID, content, baseUpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving pending record: %w", err)
	}
	return nil
}

// Get returns the pending record for a document, or nil if none exists.
func (s *Store) Get(docID string) (*PendingSave, error) {
	row := s.db.QueryRow(`
		SELECT doc_id, content, base_updated_at, attempts
		FROM pending_saves WHERE doc_id = ?
	`, docID)

	save, err := scanPending(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading pending record: %w", err)
	}
	return save, nil
}

// GetAll returns every pending record, oldest first. Used at startup and on
// the reconnect sweep.
func (s *Store) GetAll() ([]PendingSave, error) {
	rows, err := s.db.Query(`
		SELECT doc_id, content, base_updated_at, attempts
		FROM pending_saves ORDER BY queued_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing pending records: %w", err)
	}
	defer rows.Close()

	var saves []PendingSave
	for rows.Next() {
		save, err := scanPending(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning pending record: %w", err)
		}
		saves = append(saves, *save)
	}
	return saves, rows.Err()
}

// Remove deletes the pending record for a document after a successful flush
// or an explicit discard. Removing a missing record is not an error.
func (s *Store) Remove(docID string) error {
	if _, err := s.db.Exec(`DELETE FROM pending_saves WHERE doc_id = ?`, docID); err != nil {
		return fmt.Errorf("removing pending record: %w", err)
	}
	return nil
}

// IncrementAttempts records a failed flush. Once attempts reach the
// configured maximum the record is deleted rather than incremented further;
// the returned bool reports whether the record was dropped.
func (s *Store) IncrementAttempts(docID string) (dropped bool, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts int
	err = tx.QueryRow(`SELECT attempts FROM pending_saves WHERE doc_id = ?`, docID).Scan(&attempts)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading attempts: %w", err)
	}

	attempts++
	if attempts >= s.maxAttempts {
		if _, err := tx.Exec(`DELETE FROM pending_saves WHERE doc_id = ?`, docID); err != nil {
			return false, fmt.Errorf("dropping exhausted record: %w", err)
		}
		dropped = true
	} else {
		if _, err := tx.Exec(`UPDATE pending_saves SET attempts = ? WHERE doc_id = ?`, attempts, docID); err != nil {
			return false, fmt.Errorf("updating attempts: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing: %w", err)
	}
	return dropped, nil
}

func scanPending(scan func(dest ...any) error) (*PendingSave, error) {
	var save PendingSave
	var baseStr string
	if err := scan(&save.DocID, &save.Content, &baseStr, &save.Attempts); err != nil {
		return nil, err
	}
	if baseStr != "" {
		base, err := time.Parse(time.RFC3339Nano, baseStr)
		if err != nil {
			return nil, fmt.Errorf("parsing base timestamp %q: %w", baseStr, err)
		}
		save.BaseUpdatedAt = base
	}
	return &save, nil
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
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
			return fmt.Errorf("beginning migration %d: %w", version, err)
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

// parseMigrationVersion extracts the numeric prefix from names like
// "0001_pending_saves.sql".
func parseMigrationVersion(name string) (int, error) {
	idx := strings.Index(name, "_")
	if idx < 0 {
		return 0, fmt.Errorf("migration %s: missing version prefix", name)
	}
	version, err := strconv.Atoi(name[:idx])
	if err != nil {
		return 0, fmt.Errorf("migration %s: bad version prefix: %w", name, err)
	}
	return version, nil
}
