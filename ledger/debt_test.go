package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clinica/session-engine/ledger"
)

// =============================================================================
// LIFECYCLE STATE
// =============================================================================

func TestDebtFields_State(t *testing.T) {
	assert.Equal(t, ledger.StateNoDebt, ledger.DebtFields{}.State())
	assert.Equal(t, ledger.StateOpen, ledger.DebtFields{OpenedAt: "2026-03-10"}.State())
	assert.Equal(t, ledger.StateArchived,
		ledger.DebtFields{OpenedAt: "2026-03-10", Archived: true}.State())
}

// =============================================================================
// TRANSITION TABLE
// =============================================================================

func TestEvaluateDebt_Opens(t *testing.T) {
	// GIVEN: no outstanding debt; the latest save pushed the total positive
	change := ledger.EvaluateDebt(ledger.DebtInput{
		Previous:        money(0),
		Current:         money(120),
		LastSessionDate: "2026-03-10",
	})

	// THEN: debt opens stamped with the triggering session's date,
	// archived flags cleared
	assert.Equal(t, ledger.TransitionOpen, change.Transition)
	assert.Equal(t, "2026-03-10", change.Fields.OpenedAt)
	assert.False(t, change.Fields.Archived)
	assert.Empty(t, change.Fields.ArchivedAt)
}

func TestEvaluateDebt_Closes(t *testing.T) {
	// GIVEN: an open debt fully paid off by the latest save
	change := ledger.EvaluateDebt(ledger.DebtInput{
		Previous:        money(120),
		Current:         money(0),
		Fields:          ledger.DebtFields{OpenedAt: "2026-03-10"},
		LastSessionDate: "2026-04-01",
	})

	assert.Equal(t, ledger.TransitionClose, change.Transition)
	assert.Empty(t, change.Fields.OpenedAt)
	assert.False(t, change.Fields.Archived)
}

func TestEvaluateDebt_CloseClearsArchiveToo(t *testing.T) {
	change := ledger.EvaluateDebt(ledger.DebtInput{
		Previous: money(50),
		Current:  money(-10),
		Fields: ledger.DebtFields{
			OpenedAt: "2026-03-10", Archived: true, ArchivedAt: "2026-03-20",
		},
	})

	assert.Equal(t, ledger.TransitionClose, change.Transition)
	assert.Equal(t, ledger.DebtFields{}, change.Fields)
}

func TestEvaluateDebt_UnarchivesKeepingOpenedAt(t *testing.T) {
	// GIVEN: an archived debt that is still positive after a save
	change := ledger.EvaluateDebt(ledger.DebtInput{
		Previous: money(120),
		Current:  money(150),
		Fields: ledger.DebtFields{
			OpenedAt: "2026-03-10", Archived: true, ArchivedAt: "2026-03-20",
		},
		LastSessionDate: "2026-05-01",
	})

	// THEN: archiving is undone but the original opened date survives
	assert.Equal(t, ledger.TransitionUnarchive, change.Transition)
	assert.Equal(t, "2026-03-10", change.Fields.OpenedAt)
	assert.False(t, change.Fields.Archived)
	assert.Empty(t, change.Fields.ArchivedAt)
}

func TestEvaluateDebt_SelfHealsMissingOpenedAt(t *testing.T) {
	// GIVEN: a positive total but opened_at was never stamped (legacy row)
	change := ledger.EvaluateDebt(ledger.DebtInput{
		Previous:        money(80),
		Current:         money(90),
		Fields:          ledger.DebtFields{},
		LastSessionDate: "2026-06-15",
	})

	assert.Equal(t, ledger.TransitionSelfHeal, change.Transition)
	assert.Equal(t, "2026-06-15", change.Fields.OpenedAt)
}

func TestEvaluateDebt_SelfHeal_KeepsStrayArchiveTimestamp(t *testing.T) {
	// GIVEN: an inconsistent legacy row: archived flag off but a stale
	// archive timestamp left behind, no opened date
	change := ledger.EvaluateDebt(ledger.DebtInput{
		Previous:        money(80),
		Current:         money(90),
		Fields:          ledger.DebtFields{ArchivedAt: "2026-01-05"},
		LastSessionDate: "2026-06-15",
	})

	// THEN: opened_at is stamped, the flag stays off, the timestamp is
	// left as found
	assert.Equal(t, ledger.TransitionSelfHeal, change.Transition)
	assert.Equal(t, "2026-06-15", change.Fields.OpenedAt)
	assert.False(t, change.Fields.Archived)
	assert.Equal(t, "2026-01-05", change.Fields.ArchivedAt)
}

func TestEvaluateDebt_NoChange(t *testing.T) {
	// GIVEN: an open debt that stays positive, opened_at already set
	fields := ledger.DebtFields{OpenedAt: "2026-03-10"}
	change := ledger.EvaluateDebt(ledger.DebtInput{
		Previous: money(120),
		Current:  money(100),
		Fields:   fields,
	})

	assert.Equal(t, ledger.TransitionNone, change.Transition)
	assert.False(t, change.Changed())
	assert.Equal(t, fields, change.Fields)
}

func TestEvaluateDebt_ZeroIsNotPositive(t *testing.T) {
	// GIVEN: totals moving from zero to zero
	change := ledger.EvaluateDebt(ledger.DebtInput{
		Previous: money(0),
		Current:  money(0),
	})

	assert.Equal(t, ledger.TransitionNone, change.Transition)
}

func TestEvaluateDebt_OpenWinsOverSelfHeal(t *testing.T) {
	// GIVEN: input matching both rule 1 (open) and rule 4 (self-heal);
	// the table's priority must pick open
	change := ledger.EvaluateDebt(ledger.DebtInput{
		Previous:        money(-10),
		Current:         money(5),
		Fields:          ledger.DebtFields{},
		LastSessionDate: "2026-07-01",
	})

	assert.Equal(t, ledger.TransitionOpen, change.Transition)
}
