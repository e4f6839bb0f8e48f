/*
patients.go - Patient rows: transactional writes and the read side

PURPOSE:
  Implements the patient-facing half of ledger.Tx (upsert, debt fields,
  repair candidates, audit append) plus ledger.PatientStore (get, update,
  listing, search, contact tracking, the open-debt report).

KEY QUERIES:
  - ListActivePatients joins a per-patient aggregate of saved-session
    balances so the listing can show a pending total without N+1 reads.
  - DebtSummaries uses a window function to pick each debtor's latest
    saved snapshot (date DESC, id DESC) in a single pass.

SEE ALSO:
  - sessions.go: the session half of the same interfaces
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clinica/session-engine/ledger"
)

// =============================================================================
// TRANSACTIONAL WRITES (ledger.Tx)
// =============================================================================

func (t *tx) UpsertPatient(ctx context.Context, p ledger.Patient) (ledger.PatientID, error) {
	status := p.Status
	if status == "" {
		status = "active"
	}

	if p.ID == 0 {
		res, err := t.tx.ExecContext(ctx, `
			INSERT INTO patients (full_name, doc_id, email, phone, emergency_phone,
				date_of_birth, anamnesis, allergy_detail, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.FullName, p.DocID, nullString(p.Email), p.Phone, nullString(p.EmergencyPhone),
			nullString(p.DateOfBirth), nullString(p.Anamnesis), nullString(p.AllergyDetail), status)
		if err != nil {
			return 0, fmt.Errorf("failed to insert patient: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("failed to read patient id: %w", err)
		}
		return ledger.PatientID(id), nil
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE patients SET full_name = ?, doc_id = ?, email = ?, phone = ?,
			emergency_phone = ?, date_of_birth = ?, anamnesis = ?, allergy_detail = ?,
			status = ?, updated_at = datetime('now')
		WHERE id = ?`,
		p.FullName, p.DocID, nullString(p.Email), p.Phone, nullString(p.EmergencyPhone),
		nullString(p.DateOfBirth), nullString(p.Anamnesis), nullString(p.AllergyDetail),
		status, int64(p.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to update patient: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check patient update: %w", err)
	}
	if n == 0 {
		return 0, ledger.ErrPatientNotFound
	}
	return p.ID, nil
}

func (t *tx) PatientDebtFields(ctx context.Context, id ledger.PatientID) (ledger.DebtFields, error) {
	var f ledger.DebtFields
	var openedAt, archivedAt sql.NullString
	err := t.tx.QueryRowContext(ctx, `
		SELECT debt_opened_at, debt_archived, debt_archived_at
		FROM patients WHERE id = ?`, int64(id)).
		Scan(&openedAt, &f.Archived, &archivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return f, ledger.ErrPatientNotFound
	}
	if err != nil {
		return f, fmt.Errorf("failed to read debt fields: %w", err)
	}
	f.OpenedAt = openedAt.String
	f.ArchivedAt = archivedAt.String
	return f, nil
}

func (t *tx) UpdateDebtFields(ctx context.Context, id ledger.PatientID, f ledger.DebtFields) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE patients SET debt_opened_at = ?, debt_archived = ?,
			debt_archived_at = ?, updated_at = datetime('now')
		WHERE id = ?`,
		nullString(f.OpenedAt), f.Archived, nullString(f.ArchivedAt), int64(id))
	if err != nil {
		return fmt.Errorf("failed to update debt fields: %w", err)
	}
	return nil
}

func (t *tx) DebtRepairCandidates(ctx context.Context) ([]ledger.DebtRepairRow, error) {
	// Latest snapshot per patient via window rank; qualify on positive
	// cumulative with opened_at still empty.
	rows, err := t.tx.QueryContext(ctx, `
		SELECT patient_id, date FROM (
			SELECT s.patient_id, s.date, s.cumulative_balance,
				ROW_NUMBER() OVER (
					PARTITION BY s.patient_id
					ORDER BY s.date DESC, s.id DESC
				) AS rn
			FROM sessions s
			JOIN patients p ON p.id = s.patient_id
			WHERE s.is_saved = 1
				AND p.status = 'active'
				AND (p.debt_opened_at IS NULL OR p.debt_opened_at = '')
		)
		WHERE rn = 1 AND cumulative_balance > 0`)
	if err != nil {
		return nil, fmt.Errorf("failed to query repair candidates: %w", err)
	}
	defer rows.Close()

	var out []ledger.DebtRepairRow
	for rows.Next() {
		var r ledger.DebtRepairRow
		if err := rows.Scan(&r.PatientID, &r.Date); err != nil {
			return nil, fmt.Errorf("failed to scan repair candidate: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *tx) AppendAudit(ctx context.Context, e ledger.AuditEntry) error {
	var sessionID any
	if e.SessionID != 0 {
		sessionID = int64(e.SessionID)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO audit_log (id, at, action, patient_id, session_id, detail)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.At.UTC().Format(time.RFC3339), string(e.Action),
		int64(e.PatientID), sessionID, nullString(e.Detail))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// =============================================================================
// READ SIDE (ledger.PatientStore)
// =============================================================================

func (s *Store) GetPatient(ctx context.Context, id ledger.PatientID) (*ledger.Patient, error) {
	var p ledger.Patient
	var email, emergency, dob, anamnesis, allergy sql.NullString
	var openedAt, archivedAt, contactAt, contactType sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, full_name, doc_id, email, phone, emergency_phone,
			date_of_birth, anamnesis, allergy_detail, status,
			debt_opened_at, debt_archived, debt_archived_at,
			last_contact_at, last_contact_type
		FROM patients WHERE id = ?`, int64(id)).
		Scan(&p.ID, &p.FullName, &p.DocID, &email, &p.Phone, &emergency,
			&dob, &anamnesis, &allergy, &p.Status,
			&openedAt, &p.Debt.Archived, &archivedAt,
			&contactAt, &contactType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	p.Email = email.String
	p.EmergencyPhone = emergency.String
	p.DateOfBirth = dob.String
	p.Anamnesis = anamnesis.String
	p.AllergyDetail = allergy.String
	p.Debt.OpenedAt = openedAt.String
	p.Debt.ArchivedAt = archivedAt.String
	p.LastContactAt = contactAt.String
	p.LastContactType = contactType.String
	return &p, nil
}

func (s *Store) UpdatePatient(ctx context.Context, p ledger.Patient) error {
	if p.ID == 0 {
		return ledger.ErrPatientIDRequired
	}
	return s.WithTx(ctx, func(t ledger.Tx) error {
		_, err := t.UpsertPatient(ctx, p)
		return err
	})
}

func (s *Store) ListActivePatients(ctx context.Context) ([]ledger.PatientSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.full_name, p.doc_id, p.phone,
			COALESCE(p.allergy_detail, ''), p.status,
			COALESCE(MAX(s.date), ''),
			COALESCE(SUM(CASE WHEN s.is_saved = 1 THEN s.balance ELSE 0 END), 0)
		FROM patients p
		LEFT JOIN sessions s ON s.patient_id = p.id
		WHERE p.status = 'active'
		GROUP BY p.id
		ORDER BY p.full_name COLLATE NOCASE`)
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	defer rows.Close()

	var out []ledger.PatientSummary
	for rows.Next() {
		var ps ledger.PatientSummary
		var pending float64
		if err := rows.Scan(&ps.ID, &ps.FullName, &ps.DocID, &ps.Phone,
			&ps.AllergyDetail, &ps.Status, &ps.LastVisitDate, &pending); err != nil {
			return nil, fmt.Errorf("failed to scan patient summary: %w", err)
		}
		ps.PendingBalance = decimal.NewFromFloat(pending)
		out = append(out, ps)
	}
	return out, rows.Err()
}

func (s *Store) SearchPatients(ctx context.Context, query string) ([]ledger.Patient, error) {
	like := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, full_name, doc_id, email, phone, emergency_phone,
			date_of_birth, anamnesis, allergy_detail, status,
			debt_opened_at, debt_archived, debt_archived_at,
			last_contact_at, last_contact_type
		FROM patients
		WHERE full_name LIKE ? OR doc_id LIKE ? OR phone LIKE ?
		ORDER BY full_name COLLATE NOCASE
		LIMIT 50`, like, like, like)
	if err != nil {
		return nil, fmt.Errorf("failed to search patients: %w", err)
	}
	defer rows.Close()

	var out []ledger.Patient
	for rows.Next() {
		var p ledger.Patient
		var email, emergency, dob, anamnesis, allergy sql.NullString
		var openedAt, archivedAt, contactAt, contactType sql.NullString
		if err := rows.Scan(&p.ID, &p.FullName, &p.DocID, &email, &p.Phone, &emergency,
			&dob, &anamnesis, &allergy, &p.Status,
			&openedAt, &p.Debt.Archived, &archivedAt,
			&contactAt, &contactType); err != nil {
			return nil, fmt.Errorf("failed to scan patient: %w", err)
		}
		p.Email = email.String
		p.EmergencyPhone = emergency.String
		p.DateOfBirth = dob.String
		p.Anamnesis = anamnesis.String
		p.AllergyDetail = allergy.String
		p.Debt.OpenedAt = openedAt.String
		p.Debt.ArchivedAt = archivedAt.String
		p.LastContactAt = contactAt.String
		p.LastContactType = contactType.String
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) MarkContacted(ctx context.Context, id ledger.PatientID, contactType string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE patients SET last_contact_at = ?, last_contact_type = ?,
			updated_at = datetime('now')
		WHERE id = ?`,
		at.Format(ledger.DateLayout), contactType, int64(id))
	if err != nil {
		return fmt.Errorf("failed to mark patient contacted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check contact update: %w", err)
	}
	if n == 0 {
		return ledger.ErrPatientNotFound
	}
	return nil
}

// DebtSummaries returns the open-debt report: active patients with an
// open, non-archived debt whose latest saved snapshot is still positive,
// most overdue first, largest balance first among same-day debtors.
func (s *Store) DebtSummaries(ctx context.Context, now time.Time) ([]ledger.DebtSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.full_name, p.phone, p.doc_id,
			latest.cumulative_balance, p.debt_opened_at,
			COALESCE(p.last_contact_at, ''), COALESCE(p.last_contact_type, '')
		FROM patients p
		JOIN (
			SELECT patient_id, cumulative_balance FROM (
				SELECT patient_id, cumulative_balance,
					ROW_NUMBER() OVER (
						PARTITION BY patient_id
						ORDER BY date DESC, id DESC
					) AS rn
				FROM sessions
				WHERE is_saved = 1
			)
			WHERE rn = 1
		) latest ON latest.patient_id = p.id
		WHERE p.status = 'active'
			AND p.debt_archived = 0
			AND p.debt_opened_at IS NOT NULL AND p.debt_opened_at != ''
			AND latest.cumulative_balance > 0
		ORDER BY p.debt_opened_at ASC, latest.cumulative_balance DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query debt summaries: %w", err)
	}
	defer rows.Close()

	var out []ledger.DebtSummary
	for rows.Next() {
		var d ledger.DebtSummary
		var balance float64
		if err := rows.Scan(&d.PatientID, &d.FullName, &d.Phone, &d.DocID,
			&balance, &d.DebtOpenedAt, &d.LastContactAt, &d.LastContactType); err != nil {
			return nil, fmt.Errorf("failed to scan debt summary: %w", err)
		}
		d.CurrentBalance = decimal.NewFromFloat(balance)
		if opened, err := time.Parse(ledger.DateLayout, d.DebtOpenedAt); err == nil {
			d.DaysOverdue = int(now.Sub(opened).Hours() / 24)
		}
		d.ContactStatus = ledger.ContactStatusFor(d.LastContactAt, now)
		out = append(out, d)
	}
	return out, rows.Err()
}
