/*
Package ledger provides the financial core of the clinic engine.

PURPOSE:
  This package contains the domain types and pure algorithms for a
  patient's running treatment ledger: per-session balances, the
  patient-wide cumulative total, and the debt lifecycle derived from it.
  Nothing in this package touches SQL; persistence is behind the
  interfaces in store.go.

KEY CONCEPTS IN THIS FILE (types.go):
  - Patient: demographic record plus the debt-state fields this core owns
  - Session: one billable visit with its financial snapshot
  - SessionItem: a line item (procedure) belonging to a session
  - SessionDraft: a session plus its submitted items, as received from a caller

DESIGN PRINCIPLES:
  1. Precision: money is decimal.Decimal, never float64, inside the domain
  2. Recompute, don't trust: submitted budgets are always recalculated
  3. Snapshots: cumulative_balance is stored per session for historical reporting
  4. Single writer: debt fields are mutated only by the save path and the
     archive/unarchive toggles

SEE ALSO:
  - balance.go: per-session budget/balance calculation
  - cumulative.go: patient-wide running total
  - debt.go: debt lifecycle state machine
  - store.go: persistence interfaces
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// PatientID and SessionID are SQLite rowids. Zero means "not yet persisted".
type PatientID int64
type SessionID int64

// DateLayout is the wire and storage format for clinical dates.
const DateLayout = "2006-01-02"

// =============================================================================
// MONEY
// =============================================================================

// Tolerance is the maximum drift allowed between a caller-submitted budget
// and the recomputed one before a mismatch diagnostic is emitted.
var Tolerance = decimal.NewFromFloat(0.01)

func Money(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// =============================================================================
// PATIENT
// =============================================================================

// Patient is the demographic record plus the ledger-state fields owned by
// this core. Invariant: DebtOpenedAt is empty iff the patient has no open
// debt (cumulative total <= 0), modulo rows predating the invariant that
// the save path self-heals (see debt.go).
type Patient struct {
	ID             PatientID
	FullName       string
	DocID          string
	Email          string
	Phone          string
	EmergencyPhone string
	DateOfBirth    string
	Anamnesis      string
	AllergyDetail  string
	Status         string // "active" | "inactive"; empty defaults to active

	Debt            DebtFields
	LastContactAt   string
	LastContactType string
}

// =============================================================================
// SESSION
// =============================================================================

// Session is one billable clinical visit. Invariant (within Tolerance):
// Balance = Budget - Discount - Payment. Only sessions with IsSaved
// participate in ledger math; saved sessions are never silently deleted.
type Session struct {
	ID        SessionID
	PatientID PatientID
	Date      string // DateLayout

	ReasonType    string
	ReasonDetail  string
	ClinicalNotes string
	Signer        string

	Budget            decimal.Decimal
	Discount          decimal.Decimal
	Payment           decimal.Decimal
	Balance           decimal.Decimal
	CumulativeBalance decimal.Decimal
	PaymentNotes      string

	IsSaved bool
}

// SessionItem is one line item of a session. Active is tri-state: when the
// caller omits the flag, activity falls back to Quantity > 0.
type SessionItem struct {
	ID        int64
	SessionID SessionID
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int64
	Subtotal  decimal.Decimal
	Active    *bool
	SortOrder int
}

// IsActive resolves the tri-state flag.
func (it SessionItem) IsActive() bool {
	if it.Active != nil {
		return *it.Active
	}
	return it.Quantity > 0
}

// SessionDraft is a session as submitted by a caller, carrying its items.
// The draft's financial fields are advisory: the engine recomputes them.
type SessionDraft struct {
	Session Session
	Items   []SessionItem
}

// =============================================================================
// READ MODELS
// =============================================================================

// PatientSummary is one row of the active-patient listing.
type PatientSummary struct {
	ID             PatientID
	FullName       string
	DocID          string
	Phone          string
	AllergyDetail  string
	Status         string
	LastVisitDate  string
	PendingBalance decimal.Decimal // sum of balances over saved sessions
}

// DebtSummary is one row of the open-debt report: patients with an open,
// non-archived debt and a positive latest cumulative balance.
type DebtSummary struct {
	PatientID       PatientID
	FullName        string
	Phone           string
	DocID           string
	CurrentBalance  decimal.Decimal
	DebtOpenedAt    string
	LastContactAt   string
	LastContactType string
	DaysOverdue     int
	ContactStatus   ContactStatus
}

// DebtRepairRow identifies a patient needing the one-shot debt_opened_at
// repair: positive latest cumulative, empty opened_at. Date is the date of
// the session carrying that latest snapshot.
type DebtRepairRow struct {
	PatientID PatientID
	Date      string
}

// ContactStatus buckets how recently a debtor was contacted.
type ContactStatus string

const (
	ContactNone   ContactStatus = "not_contacted"
	ContactRecent ContactStatus = "recently_contacted"
	ContactStale  ContactStatus = "long_ago"
)

// ContactStatusFor buckets a last-contact timestamp relative to now.
// Contacts within the last 7 days count as recent.
func ContactStatusFor(lastContactAt string, now time.Time) ContactStatus {
	if lastContactAt == "" {
		return ContactNone
	}
	t, err := time.Parse(DateLayout, lastContactAt[:min(len(lastContactAt), len(DateLayout))])
	if err != nil {
		return ContactNone
	}
	if now.Sub(t) <= 7*24*time.Hour {
		return ContactRecent
	}
	return ContactStale
}
