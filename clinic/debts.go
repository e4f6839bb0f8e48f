/*
debts.go - Operator-facing debt commands

PURPOSE:
  The debt operations that happen outside a save: the archive/unarchive
  visibility toggles, contact tracking, the open-debt report and the
  one-shot repair pass for rows predating the opened_at invariant.

TOGGLE SEMANTICS:
  Archive and Unarchive flip ONLY the archived flag and its timestamp.
  They never touch opened_at or any balance: archiving hides a debt from
  the report, it does not forgive it. The save path may unarchive
  automatically when new debt accrues (see ledger/debt.go rule 3).

SEE ALSO:
  - coordinator.go: the save-path debt evaluation
  - store/sqlite/patients.go: the report and repair queries
*/
package clinic

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinica/session-engine/ledger"
)

// ContactTypes are the accepted values for MarkContacted.
var ContactTypes = map[string]bool{
	"whatsapp":  true,
	"call":      true,
	"email":     true,
	"in_person": true,
}

// DebtService groups the operator-facing debt commands.
type DebtService struct {
	runner   ledger.TxRunner
	patients ledger.PatientStore
	now      func() time.Time
}

// NewDebtService returns a DebtService over the given stores.
func NewDebtService(runner ledger.TxRunner, patients ledger.PatientStore) *DebtService {
	return &DebtService{runner: runner, patients: patients, now: time.Now}
}

// Archive hides the patient's debt from the open-debt report.
func (s *DebtService) Archive(ctx context.Context, id ledger.PatientID) error {
	return s.toggle(ctx, id, true)
}

// Unarchive restores the patient's debt to the open-debt report.
func (s *DebtService) Unarchive(ctx context.Context, id ledger.PatientID) error {
	return s.toggle(ctx, id, false)
}

func (s *DebtService) toggle(ctx context.Context, id ledger.PatientID, archived bool) error {
	return s.runner.WithTx(ctx, func(tx ledger.Tx) error {
		fields, err := tx.PatientDebtFields(ctx, id)
		if err != nil {
			return err
		}
		fields.Archived = archived
		if archived {
			fields.ArchivedAt = s.now().Format(ledger.DateLayout)
		} else {
			fields.ArchivedAt = ""
		}
		if err := tx.UpdateDebtFields(ctx, id, fields); err != nil {
			return err
		}

		action := ledger.AuditDebtUnarchived
		if archived {
			action = ledger.AuditDebtArchived
		}
		return tx.AppendAudit(ctx, ledger.AuditEntry{
			ID:        uuid.NewString(),
			At:        s.now(),
			Action:    action,
			PatientID: id,
		})
	})
}

// MarkContacted records that the patient was reached about their debt.
func (s *DebtService) MarkContacted(ctx context.Context, id ledger.PatientID, contactType string) error {
	if !ContactTypes[contactType] {
		return fmt.Errorf("unknown contact type %q", contactType)
	}
	return s.patients.MarkContacted(ctx, id, contactType, s.now())
}

// Summaries returns the open-debt report.
func (s *DebtService) Summaries(ctx context.Context) ([]ledger.DebtSummary, error) {
	return s.patients.DebtSummaries(ctx, s.now())
}

// RepairOpenedDates backfills debt_opened_at for patients whose latest
// cumulative is positive but whose opened_at was never stamped (rows
// written before the invariant existed). A repaired debt is an open debt:
// the archive columns are cleared so it reappears in the report. Returns
// how many were repaired.
func (s *DebtService) RepairOpenedDates(ctx context.Context) (int, error) {
	repaired := 0
	err := s.runner.WithTx(ctx, func(tx ledger.Tx) error {
		candidates, err := tx.DebtRepairCandidates(ctx)
		if err != nil {
			return err
		}
		for _, c := range candidates {
			if err := tx.UpdateDebtFields(ctx, c.PatientID, ledger.DebtFields{OpenedAt: c.Date}); err != nil {
				return err
			}
			if err := tx.AppendAudit(ctx, ledger.AuditEntry{
				ID:        uuid.NewString(),
				At:        s.now(),
				Action:    ledger.AuditDebtRepaired,
				PatientID: c.PatientID,
				Detail:    fmt.Sprintf("opened_at=%s", c.Date),
			}); err != nil {
				return err
			}
			repaired++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return repaired, nil
}
