/*
errors.go - Centralized error types for the ledger core

PURPOSE:
  All sentinel and structured errors in one place. Callers match with
  errors.Is / errors.As; the store and coordinator wrap these with
  fmt.Errorf("...: %w", err) for context.

ERROR CATEGORIES:
  1. Precondition errors - rejected before any storage is touched
  2. Not-found errors    - referenced rows missing
  3. Guard violations    - operations the immutability rules forbid
  4. Store errors        - database-level failures (busy/timeout included)

SEE ALSO:
  - clinic/coordinator.go: surfaces these to callers
  - store/sqlite: wraps driver errors into ErrStoreBusy where applicable
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrPatientIDRequired is returned by update-only operations called
	// without a persisted patient identity. Checked before any storage access.
	ErrPatientIDRequired = errors.New("patient id required for update")

	// ErrPatientNotFound is returned when a referenced patient doesn't exist.
	ErrPatientNotFound = errors.New("patient not found")

	// ErrSessionNotFound is returned when a referenced session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionSaved is returned when trying to delete a saved session.
	// Saved sessions are immutable-by-deletion: the ledger relies on them
	// never disappearing underneath the cumulative snapshots.
	ErrSessionSaved = errors.New("saved session cannot be deleted")

	// ErrNoDrafts is returned when a save call carries no session drafts.
	ErrNoDrafts = errors.New("no session drafts to save")

	// ErrStoreBusy is returned when the single write connection could not be
	// acquired within the configured busy timeout.
	ErrStoreBusy = errors.New("store busy: concurrent save in progress")
)

// =============================================================================
// DIAGNOSTICS - Soft validation, logged but never fatal
// =============================================================================

// BudgetMismatch reports that a caller-submitted budget drifted from the
// recomputed one by more than Tolerance. It is logged, not returned: the
// recomputed value always wins and the save proceeds.
type BudgetMismatch struct {
	SessionID SessionID
	Submitted decimal.Decimal
	Computed  decimal.Decimal
}

func (m BudgetMismatch) String() string {
	return fmt.Sprintf("budget mismatch for session %d: submitted=%s computed=%s",
		m.SessionID, m.Submitted.StringFixed(2), m.Computed.StringFixed(2))
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsPrecondition reports whether the error was raised before any storage
// was touched (the caller can fix the input and resubmit as-is).
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrPatientIDRequired) || errors.Is(err, ErrNoDrafts)
}

// IsNotFound reports whether the error indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPatientNotFound) || errors.Is(err, ErrSessionNotFound)
}
