package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned by point lookups that find no row.
var ErrNotFound = errors.New("not found")

// Store is the persisted state of the pipeline: content, validation limbo,
// the integrated index, derived metadata and receipts.
type Store struct {
	db *sql.DB
}

// pragma is a connection setting and the value SQLite reports once it is
// in effect.
type pragma struct {
	name, value, reported string
}

var pragmas = []pragma{
	{"journal_mode", "WAL", "wal"},
	{"synchronous", "NORMAL", "1"},
	{"busy_timeout", "5000", "5000"},
	{"foreign_keys", "ON", "1"},
}

// memoryPath opens a private in-memory database.
const memoryPath = ":memory:"

// migration brings a database created by an older schema.sql up to date.
// New databases already have everything from schema.sql; the statements
// must therefore be idempotent.
type migration struct {
	version int
	stmt    string
}

var migrations = []migration{
	// withdrawal of an action's dependents looks ops up by action
	{1, `CREATE INDEX IF NOT EXISTS idx_operation_action ON operation(action_hash)`},
	// requeueing limbo after a verdict change scans dependency edges
	{2, `CREATE INDEX IF NOT EXISTS idx_op_dependency_dep ON op_dependency(dep_action)`},
}

func schemaVersion() int { return migrations[len(migrations)-1].version }

// Open creates or opens the SQLite database at path, applies connection
// pragmas and checks they took effect, and brings the schema up to date. Opening an existing database
// again is safe.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time. A single connection also
	// serializes every transaction, which is what makes the integration
	// guard in IntegrateOp race-free.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", p.name, err)
		}
	}
	s := &Store{db: db}
	if err := s.checkPragmas(path == memoryPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("connection settings not in effect: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// migrate applies every migration newer than user_version, each with its
// version bump in one transaction.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: set user_version: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
	}
	return nil
}

// checkPragmas reports the first connection setting that is not in effect.
// An in-memory database has no journal file, so its journal mode is not
// checked.
func (s *Store) checkPragmas(memory bool) error {
	for _, p := range pragmas {
		if memory && p.name == "journal_mode" {
			continue
		}
		var got string
		if err := s.db.QueryRow("PRAGMA " + p.name).Scan(&got); err != nil {
			return fmt.Errorf("query %s: %w", p.name, err)
		}
		if got != p.reported {
			return fmt.Errorf("%s = %q, expected %q", p.name, got, p.reported)
		}
	}
	return nil
}

// inTx runs fn inside a transaction, committing on success.
func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
