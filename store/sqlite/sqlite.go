/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces in ledger/store.go.

PURPOSE:
  Implements TxRunner/Tx for the save path and PatientStore/SessionStore
  for the read side, all over a single database file.

KEY TABLES:
  patients:      demographics + debt lifecycle columns (this core's fields)
  sessions:      one row per visit with its financial snapshot
  session_items: line items, replaced wholesale on every save
  payments:      standalone patient payments outside the session flow
  audit_log:     append-only record of save/toggle/repair transactions

CONCURRENCY:
  The pool is capped at ONE live connection (SetMaxOpenConns(1)), so at
  most one write transaction executes at a time system-wide. A competing
  caller blocks on the connection, bounded by SQLite's busy timeout, then
  fails with ledger.ErrStoreBusy instead of deadlocking. Long-running
  unrelated work must use its own resources, not this pool.

WAL MODE:
  The database is opened with WAL journaling for crash recovery; with a
  single connection the reader/writer concurrency WAL enables is unused,
  which is intentional here.

MONEY:
  Columns are REAL so SQL aggregates (the cumulative anchor sums, the
  debt-report window query) stay in the database. The boundary converts
  to decimal.Decimal on scan and back on bind; all arithmetic that feeds
  stored values happens in decimals on the Go side.

USAGE:
  store, err := sqlite.New("./clinic.db", 5000)
  if err != nil { ... }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: interface contracts
  - clinic/coordinator.go: the save transaction built on WithTx
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/clinica/session-engine/ledger"
)

// Store implements ledger.TxRunner, ledger.PatientStore and
// ledger.SessionStore using SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database. busyTimeoutMS bounds how long
// a write waits for the single connection before failing busy.
func New(dbPath string, busyTimeoutMS int) (*Store, error) {
	if busyTimeoutMS <= 0 {
		busyTimeoutMS = 5000
	}
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d", dbPath, busyTimeoutMS)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One live connection: serializes every write transaction system-wide.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS patients (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		full_name TEXT NOT NULL,
		doc_id TEXT NOT NULL DEFAULT '',
		email TEXT,
		phone TEXT NOT NULL DEFAULT '',
		emergency_phone TEXT,
		date_of_birth TEXT,
		anamnesis TEXT,
		allergy_detail TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		debt_opened_at TEXT,
		debt_archived INTEGER NOT NULL DEFAULT 0,
		debt_archived_at TEXT,
		last_contact_at TEXT,
		last_contact_type TEXT,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE INDEX IF NOT EXISTS idx_patients_status
		ON patients(status);
	CREATE INDEX IF NOT EXISTS idx_patients_debt
		ON patients(debt_archived, debt_opened_at);

	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		patient_id INTEGER NOT NULL REFERENCES patients(id),
		date TEXT NOT NULL,
		reason_type TEXT,
		reason_detail TEXT,
		clinical_notes TEXT,
		signer TEXT,
		budget REAL NOT NULL DEFAULT 0,
		discount REAL NOT NULL DEFAULT 0,
		payment REAL NOT NULL DEFAULT 0,
		balance REAL NOT NULL DEFAULT 0,
		cumulative_balance REAL NOT NULL DEFAULT 0,
		payment_notes TEXT,
		is_saved INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	);

	-- Hot path: cumulative anchor sums and the latest-snapshot lookups
	CREATE INDEX IF NOT EXISTS idx_sessions_patient_saved
		ON sessions(patient_id, is_saved, id);
	CREATE INDEX IF NOT EXISTS idx_sessions_patient_date
		ON sessions(patient_id, date DESC, id DESC);

	CREATE TABLE IF NOT EXISTS session_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		name TEXT NOT NULL DEFAULT '',
		unit_price REAL NOT NULL DEFAULT 0,
		quantity INTEGER NOT NULL DEFAULT 0,
		subtotal REAL NOT NULL DEFAULT 0,
		is_active INTEGER,
		sort_order INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE INDEX IF NOT EXISTS idx_items_session
		ON session_items(session_id, sort_order);

	CREATE TABLE IF NOT EXISTS payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		patient_id INTEGER NOT NULL REFERENCES patients(id),
		date TEXT NOT NULL,
		amount REAL NOT NULL,
		payment_method TEXT,
		notes TEXT,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE INDEX IF NOT EXISTS idx_payments_patient
		ON payments(patient_id, date DESC);

	-- Append-only: no UPDATE or DELETE statements target this table
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		at TEXT NOT NULL,
		action TEXT NOT NULL,
		patient_id INTEGER NOT NULL,
		session_id INTEGER,
		detail TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_patient
		ON audit_log(patient_id, at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTION GUARD (ledger.TxRunner)
// =============================================================================

// WithTx executes fn within one database transaction. Rollback is deferred
// so every exit path - success, early return, error, panic - resolves the
// transaction; Commit on the success path makes the rollback a no-op.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapBusy(fmt.Errorf("failed to begin transaction: %w", err), err)
	}
	defer sqlTx.Rollback()

	if err := fn(&tx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return wrapBusy(fmt.Errorf("failed to commit transaction: %w", err), err)
	}
	return nil
}

// tx implements ledger.Tx over one *sql.Tx. Methods live in patients.go
// and sessions.go next to their read-side counterparts.
type tx struct {
	tx *sql.Tx
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isBusyError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "database is locked") ||
		strings.Contains(err.Error(), "SQLITE_BUSY"))
}

// wrapBusy swaps a driver busy/locked failure for the sentinel the
// contract promises, keeping the wrapped detail otherwise.
func wrapBusy(wrapped, cause error) error {
	if isBusyError(cause) {
		return fmt.Errorf("%w: %v", ledger.ErrStoreBusy, cause)
	}
	return wrapped
}
