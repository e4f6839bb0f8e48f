/*
debt.go - Debt lifecycle state machine

PURPOSE:
  Derives a patient's debt state from the movement of their cumulative
  ledger total across one save call. Runs exactly once per save, after all
  sessions are persisted, inside the same transaction.

STATES:
  NoDebt   - debt_opened_at empty
  Open     - debt_opened_at set, not archived
  Archived - archived flag set (visibility only, excludes the patient from
             active-debt reporting)

TRANSITION TABLE (priority order, first match wins):
  1. prev <= 0 and new > 0            -> Open      (opened_at = last session date)
  2. prev >  0 and new <= 0           -> NoDebt    (everything cleared)
  3. new  >  0 and archived           -> Unarchive (opened_at untouched)
  4. new  >  0 and opened_at empty    -> SelfHeal  (repairs pre-invariant rows)
  5. otherwise                        -> no change

  The rules are deliberately a table rather than nested conditionals: the
  five cases must stay mutually exclusive and exhaustive, and the table
  makes the priority explicit.

ARCHIVE TOGGLES:
  Operator-triggered Archive/Unarchive commands flip the archived flag
  outside this evaluation. They never touch opened_at or any balance.

SEE ALSO:
  - clinic/coordinator.go: feeds the before/after totals
  - clinic/debts.go: the operator toggles and the batch self-heal
*/
package ledger

import "github.com/shopspring/decimal"

// =============================================================================
// DEBT STATE
// =============================================================================

// DebtFields are the patient columns the lifecycle owns.
type DebtFields struct {
	OpenedAt   string // DateLayout, empty = no open debt
	Archived   bool
	ArchivedAt string
}

// DebtState is the derived lifecycle state.
type DebtState string

const (
	StateNoDebt   DebtState = "no_debt"
	StateOpen     DebtState = "open"
	StateArchived DebtState = "archived"
)

// State derives the lifecycle state from the raw fields.
func (f DebtFields) State() DebtState {
	switch {
	case f.Archived:
		return StateArchived
	case f.OpenedAt != "":
		return StateOpen
	default:
		return StateNoDebt
	}
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// DebtTransition names the rule that fired, for logs and metrics.
type DebtTransition string

const (
	TransitionOpen      DebtTransition = "open"
	TransitionClose     DebtTransition = "close"
	TransitionUnarchive DebtTransition = "unarchive"
	TransitionSelfHeal  DebtTransition = "self_heal"
	TransitionNone      DebtTransition = "none"
)

// DebtInput is everything one evaluation needs.
type DebtInput struct {
	// Previous is the cumulative snapshot of the saved session immediately
	// preceding the last one saved; Current is the snapshot of the latest
	// saved session.
	Previous decimal.Decimal
	Current  decimal.Decimal

	Fields DebtFields

	// LastSessionDate stamps opened_at when a debt opens or self-heals.
	LastSessionDate string
}

// DebtChange is the evaluation outcome. Fields holds the resulting column
// values; when Transition is TransitionNone they equal the input unchanged.
type DebtChange struct {
	Transition DebtTransition
	Fields     DebtFields
}

// Changed reports whether the patient row needs an update.
func (c DebtChange) Changed() bool { return c.Transition != TransitionNone }

type debtRule struct {
	name DebtTransition
	when func(DebtInput) bool
	next func(DebtInput) DebtFields
}

// Rules in priority order. Each guard is written against the raw input so
// the table can be read top to bottom as the lifecycle itself.
var debtRules = []debtRule{
	{
		name: TransitionOpen,
		when: func(in DebtInput) bool {
			return !in.Previous.IsPositive() && in.Current.IsPositive()
		},
		next: func(in DebtInput) DebtFields {
			return DebtFields{OpenedAt: in.LastSessionDate}
		},
	},
	{
		name: TransitionClose,
		when: func(in DebtInput) bool {
			return in.Previous.IsPositive() && !in.Current.IsPositive()
		},
		next: func(DebtInput) DebtFields {
			return DebtFields{}
		},
	},
	{
		name: TransitionUnarchive,
		when: func(in DebtInput) bool {
			return in.Current.IsPositive() && in.Fields.Archived
		},
		next: func(in DebtInput) DebtFields {
			return DebtFields{OpenedAt: in.Fields.OpenedAt}
		},
	},
	{
		name: TransitionSelfHeal,
		when: func(in DebtInput) bool {
			return in.Current.IsPositive() && in.Fields.OpenedAt == ""
		},
		next: func(in DebtInput) DebtFields {
			// Stamps opened_at and clears the archived flag; the archive
			// timestamp alone is left as found. Rule 3 consumes archived
			// rows first, so this only sees the flag already false.
			next := in.Fields
			next.OpenedAt = in.LastSessionDate
			next.Archived = false
			return next
		},
	},
}

// EvaluateDebt walks the transition table and returns the first match,
// or a no-op change when nothing fires.
func EvaluateDebt(in DebtInput) DebtChange {
	for _, r := range debtRules {
		if r.when(in) {
			return DebtChange{Transition: r.name, Fields: r.next(in)}
		}
	}
	return DebtChange{Transition: TransitionNone, Fields: in.Fields}
}
