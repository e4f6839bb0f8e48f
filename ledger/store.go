/*
store.go - Persistence interfaces consumed by the clinic engine

PURPOSE:
  Defines the boundary between domain logic and the database. The write
  path is transactional: everything the save coordinator does happens
  against a Tx handed out by TxRunner.WithTx, which guarantees
  commit-or-rollback on every exit path.

KEY INTERFACES:
  TxRunner:     scoped transaction guard (the only way to write)
  Tx:           per-transaction operations for the save path
  PatientStore: reads and the narrow patient-level writes outside a save
  SessionStore: session/item reads and the guarded unsaved-delete

CONCURRENCY CONTRACT:
  Implementations hold at most one live connection, so one write
  transaction runs at a time system-wide. A second concurrent WithTx
  blocks up to the busy timeout, then fails with ErrStoreBusy.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store

SEE ALSO:
  - clinic/coordinator.go: the only consumer of Tx
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TRANSACTION GUARD
// =============================================================================

// TxRunner executes fn inside one database transaction. If fn returns an
// error the transaction is rolled back and the error surfaced; otherwise
// it is committed. No sub-operation may commit independently.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the write surface available inside one save/toggle transaction.
type Tx interface {
	// UpsertPatient inserts when p.ID == 0, updates otherwise.
	// Debt fields are NOT written here; they move only via UpdateDebtFields.
	UpsertPatient(ctx context.Context, p Patient) (PatientID, error)

	// PatientDebtFields reads the current lifecycle columns.
	PatientDebtFields(ctx context.Context, id PatientID) (DebtFields, error)

	// UpdateDebtFields applies a lifecycle change to the patient row.
	UpdateDebtFields(ctx context.Context, id PatientID, f DebtFields) error

	// SavedBalanceTotal sums balance over all saved sessions of a patient.
	SavedBalanceTotal(ctx context.Context, id PatientID) (decimal.Decimal, error)

	// SavedBalanceTotalBefore sums balance over saved sessions whose id
	// sorts before the anchor (identity order, see cumulative.go).
	SavedBalanceTotalBefore(ctx context.Context, id PatientID, anchor SessionID) (decimal.Decimal, error)

	// UpsertSession writes the session row (inserting when s.ID == 0) with
	// is_saved forced on, returning its identity.
	UpsertSession(ctx context.Context, s Session) (SessionID, error)

	// ReplaceItems deletes the session's items and inserts the given ones
	// in order, stamping zero-based sort_order from position.
	ReplaceItems(ctx context.Context, id SessionID, items []SessionItem) error

	// LatestCumulative returns the cumulative snapshot of the most recently
	// saved session (date DESC, id DESC), zero when none exist.
	LatestCumulative(ctx context.Context, id PatientID) (decimal.Decimal, error)

	// LatestCumulativeBefore is LatestCumulative restricted to sessions
	// with id < anchor: the ledger value strictly before this save call.
	LatestCumulativeBefore(ctx context.Context, id PatientID, anchor SessionID) (decimal.Decimal, error)

	// SessionDate reads a session's date, for stamping debt_opened_at.
	SessionDate(ctx context.Context, id SessionID) (string, error)

	// DebtRepairCandidates returns active patients whose latest cumulative
	// is positive but whose debt_opened_at is empty (pre-invariant rows).
	DebtRepairCandidates(ctx context.Context) ([]DebtRepairRow, error)

	// AppendAudit records what the transaction did. Append-only.
	AppendAudit(ctx context.Context, e AuditEntry) error
}

// =============================================================================
// READ-SIDE INTERFACES
// =============================================================================

// PatientStore covers reads and the patient-level writes that happen
// outside a save transaction.
type PatientStore interface {
	GetPatient(ctx context.Context, id PatientID) (*Patient, error)
	UpdatePatient(ctx context.Context, p Patient) error // requires p.ID
	ListActivePatients(ctx context.Context) ([]PatientSummary, error)
	SearchPatients(ctx context.Context, query string) ([]Patient, error)
	MarkContacted(ctx context.Context, id PatientID, contactType string, at time.Time) error
	DebtSummaries(ctx context.Context, now time.Time) ([]DebtSummary, error)
}

// SessionStore covers session reads and the guarded delete.
type SessionStore interface {
	SessionsByPatient(ctx context.Context, id PatientID) ([]SessionDraft, error)

	// DeleteSession removes an UNSAVED session. Deleting a saved session
	// returns ErrSessionSaved: the ledger's snapshots depend on saved rows
	// never disappearing.
	DeleteSession(ctx context.Context, id SessionID) error
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// AuditAction tags what a transaction did.
type AuditAction string

const (
	AuditSessionsSaved  AuditAction = "sessions_saved"
	AuditDebtArchived   AuditAction = "debt_archived"
	AuditDebtUnarchived AuditAction = "debt_unarchived"
	AuditDebtRepaired   AuditAction = "debt_repaired"
)

// AuditEntry is one append-only record of a write. ID is a UUID minted by
// the caller so retried transactions cannot double-insert silently.
type AuditEntry struct {
	ID        string
	At        time.Time
	Action    AuditAction
	PatientID PatientID
	SessionID SessionID // zero when not session-scoped
	Detail    string
}
