/*
coordinator.go - The composite save transaction

PURPOSE:
  Persists a patient together with a batch of session drafts as ONE atomic
  unit. This is the single write path for clinical data: patient upsert,
  per-session financial recompute, item replacement, the debt lifecycle
  evaluation and the audit record all commit together or not at all.

SAVE PIPELINE (inside one transaction):
  1. Upsert the patient (insert when ID is zero).
  2. For each draft, in submission order:
     a. Recompute budget and balance from the items (never trust the caller).
     b. Read the cumulative anchor: sum of saved balances before this
        session's identity, or over all saved sessions when it is new.
     c. Upsert the session with is_saved forced on.
     d. Replace its items wholesale.
  3. Evaluate the debt lifecycle once, from the cumulative movement across
     the whole batch, and apply the resulting field change.
  4. Append the audit entry.

  A failure at any step rolls back every prior step.

SOFT DIAGNOSTICS:
  A submitted budget drifting beyond the tolerance is logged and corrected,
  never rejected. Historical clients round differently; the recomputed
  value is authoritative either way.

SEE ALSO:
  - ledger/balance.go, ledger/cumulative.go, ledger/debt.go: the math
  - store/sqlite: the transaction guard this builds on
*/
package clinic

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinica/session-engine/ledger"
)

// Coordinator drives the composite save transaction.
type Coordinator struct {
	runner ledger.TxRunner

	logger *log.Logger
	now    func() time.Time

	// transitionHook, when set, observes every applied debt transition.
	// The server wires metrics through it.
	transitionHook func(ledger.DebtTransition)
}

// NewCoordinator returns a Coordinator writing through runner.
func NewCoordinator(runner ledger.TxRunner) *Coordinator {
	return &Coordinator{
		runner: runner,
		logger: log.Default(),
		now:    time.Now,
	}
}

// SetLogger overrides the diagnostic logger.
func (c *Coordinator) SetLogger(l *log.Logger) { c.logger = l }

// SetTransitionHook registers an observer for applied debt transitions.
func (c *Coordinator) SetTransitionHook(fn func(ledger.DebtTransition)) {
	c.transitionHook = fn
}

// Save persists the patient and all drafts atomically and returns the
// patient's identity plus the identity of the last session saved.
//
// Precondition failures (no drafts) surface before any storage is touched.
// Everything else is transactional: the first error rolls the whole batch
// back.
func (c *Coordinator) Save(ctx context.Context, patient ledger.Patient, drafts []ledger.SessionDraft) (ledger.PatientID, ledger.SessionID, error) {
	if len(drafts) == 0 {
		return 0, 0, ledger.ErrNoDrafts
	}

	var (
		patientID ledger.PatientID
		lastID    ledger.SessionID
	)

	err := c.runner.WithTx(ctx, func(tx ledger.Tx) error {
		id, err := tx.UpsertPatient(ctx, patient)
		if err != nil {
			return fmt.Errorf("failed to upsert patient: %w", err)
		}
		patientID = id

		for i, draft := range drafts {
			sessionID, err := c.saveDraft(ctx, tx, patientID, draft)
			if err != nil {
				return fmt.Errorf("failed to save session %d of %d: %w", i+1, len(drafts), err)
			}
			lastID = sessionID
		}

		transition, err := c.settleDebt(ctx, tx, patientID, lastID)
		if err != nil {
			return fmt.Errorf("failed to settle debt state: %w", err)
		}

		entry := ledger.AuditEntry{
			ID:        uuid.NewString(),
			At:        c.now(),
			Action:    ledger.AuditSessionsSaved,
			PatientID: patientID,
			SessionID: lastID,
			Detail:    fmt.Sprintf("sessions=%d transition=%s", len(drafts), transition),
		}
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return fmt.Errorf("failed to append audit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return patientID, lastID, nil
}

// saveDraft recomputes one draft's financials and persists it with its items.
func (c *Coordinator) saveDraft(ctx context.Context, tx ledger.Tx, patientID ledger.PatientID, draft ledger.SessionDraft) (ledger.SessionID, error) {
	result := ledger.Recompute(draft)
	if result.Mismatch != nil {
		c.logger.Printf("WARN %s", result.Mismatch)
	}

	// Anchor: existing sessions sum what sorts before them, new sessions
	// sum everything saved so far (including earlier drafts of this batch).
	var previous decimal.Decimal
	var err error
	if draft.Session.ID > 0 {
		previous, err = tx.SavedBalanceTotalBefore(ctx, patientID, draft.Session.ID)
	} else {
		previous, err = tx.SavedBalanceTotal(ctx, patientID)
	}
	if err != nil {
		return 0, err
	}

	session := draft.Session
	session.PatientID = patientID
	session.Budget = result.Budget
	session.Balance = result.Balance
	session.CumulativeBalance = ledger.NextCumulative(previous, result.Balance)
	session.IsSaved = true

	sessionID, err := tx.UpsertSession(ctx, session)
	if err != nil {
		return 0, err
	}
	if err := tx.ReplaceItems(ctx, sessionID, draft.Items); err != nil {
		return 0, err
	}
	return sessionID, nil
}

// settleDebt evaluates the lifecycle once for the whole batch and applies
// the resulting field change. Returns the transition that fired.
func (c *Coordinator) settleDebt(ctx context.Context, tx ledger.Tx, patientID ledger.PatientID, lastID ledger.SessionID) (ledger.DebtTransition, error) {
	previous, err := tx.LatestCumulativeBefore(ctx, patientID, lastID)
	if err != nil {
		return ledger.TransitionNone, err
	}
	current, err := tx.LatestCumulative(ctx, patientID)
	if err != nil {
		return ledger.TransitionNone, err
	}
	lastDate, err := tx.SessionDate(ctx, lastID)
	if err != nil {
		return ledger.TransitionNone, err
	}
	fields, err := tx.PatientDebtFields(ctx, patientID)
	if err != nil {
		return ledger.TransitionNone, err
	}

	change := ledger.EvaluateDebt(ledger.DebtInput{
		Previous:        previous,
		Current:         current,
		Fields:          fields,
		LastSessionDate: lastDate,
	})
	if !change.Changed() {
		return change.Transition, nil
	}

	if err := tx.UpdateDebtFields(ctx, patientID, change.Fields); err != nil {
		return ledger.TransitionNone, err
	}
	if c.transitionHook != nil {
		c.transitionHook(change.Transition)
	}
	return change.Transition, nil
}
