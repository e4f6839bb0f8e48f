/*
sessions.go - Session rows, line items and standalone payments

PURPOSE:
  Implements the session half of ledger.Tx (balance sums, session upsert,
  item replacement, cumulative snapshots) plus ledger.SessionStore and the
  standalone payment operations.

CUMULATIVE QUERIES:
  The "before anchor" variants restrict to rows with id < anchor so a save
  call can read the ledger exactly as it stood before the sessions being
  saved existed. Anchor zero means no restriction.

ITEM REPLACEMENT:
  Items are replaced wholesale on every save: delete all, insert the
  submitted ones in order with a zero-based sort_order. Rows with no
  quantity AND no name are dropped on the way in; they are UI filler, not
  line items.

SEE ALSO:
  - patients.go: the patient half of the same interfaces
  - ledger/cumulative.go: the pure-math counterpart of the anchor sums
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/clinica/session-engine/ledger"
)

// =============================================================================
// TRANSACTIONAL WRITES (ledger.Tx)
// =============================================================================

func (t *tx) SavedBalanceTotal(ctx context.Context, id ledger.PatientID) (decimal.Decimal, error) {
	var total float64
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(balance), 0) FROM sessions
		WHERE patient_id = ? AND is_saved = 1`, int64(id)).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum saved balances: %w", err)
	}
	return decimal.NewFromFloat(total), nil
}

func (t *tx) SavedBalanceTotalBefore(ctx context.Context, id ledger.PatientID, anchor ledger.SessionID) (decimal.Decimal, error) {
	var total float64
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(balance), 0) FROM sessions
		WHERE patient_id = ? AND is_saved = 1 AND id < ?`,
		int64(id), int64(anchor)).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum saved balances before anchor: %w", err)
	}
	return decimal.NewFromFloat(total), nil
}

func (t *tx) UpsertSession(ctx context.Context, s ledger.Session) (ledger.SessionID, error) {
	budget, _ := s.Budget.Float64()
	discount, _ := s.Discount.Float64()
	payment, _ := s.Payment.Float64()
	balance, _ := s.Balance.Float64()
	cumulative, _ := s.CumulativeBalance.Float64()

	if s.ID == 0 {
		res, err := t.tx.ExecContext(ctx, `
			INSERT INTO sessions (patient_id, date, reason_type, reason_detail,
				clinical_notes, signer, budget, discount, payment, balance,
				cumulative_balance, payment_notes, is_saved)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			int64(s.PatientID), s.Date, nullString(s.ReasonType), nullString(s.ReasonDetail),
			nullString(s.ClinicalNotes), nullString(s.Signer),
			budget, discount, payment, balance, cumulative, nullString(s.PaymentNotes))
		if err != nil {
			return 0, fmt.Errorf("failed to insert session: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("failed to read session id: %w", err)
		}
		return ledger.SessionID(id), nil
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE sessions SET date = ?, reason_type = ?, reason_detail = ?,
			clinical_notes = ?, signer = ?, budget = ?, discount = ?, payment = ?,
			balance = ?, cumulative_balance = ?, payment_notes = ?,
			is_saved = 1, updated_at = datetime('now')
		WHERE id = ?`,
		s.Date, nullString(s.ReasonType), nullString(s.ReasonDetail),
		nullString(s.ClinicalNotes), nullString(s.Signer),
		budget, discount, payment, balance, cumulative, nullString(s.PaymentNotes),
		int64(s.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check session update: %w", err)
	}
	if n == 0 {
		return 0, ledger.ErrSessionNotFound
	}
	return s.ID, nil
}

func (t *tx) ReplaceItems(ctx context.Context, id ledger.SessionID, items []ledger.SessionItem) error {
	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM session_items WHERE session_id = ?`, int64(id)); err != nil {
		return fmt.Errorf("failed to clear session items: %w", err)
	}

	order := 0
	for _, it := range items {
		if it.Quantity <= 0 && strings.TrimSpace(it.Name) == "" {
			continue
		}
		unitPrice, _ := it.UnitPrice.Float64()
		subtotal, _ := it.Subtotal.Float64()
		var active any
		if it.Active != nil {
			active = *it.Active
		}
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO session_items (session_id, name, unit_price, quantity,
				subtotal, is_active, sort_order)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			int64(id), it.Name, unitPrice, it.Quantity, subtotal, active, order)
		if err != nil {
			return fmt.Errorf("failed to insert session item: %w", err)
		}
		order++
	}
	return nil
}

func (t *tx) LatestCumulative(ctx context.Context, id ledger.PatientID) (decimal.Decimal, error) {
	return t.latestCumulative(ctx, id, 0)
}

func (t *tx) LatestCumulativeBefore(ctx context.Context, id ledger.PatientID, anchor ledger.SessionID) (decimal.Decimal, error) {
	return t.latestCumulative(ctx, id, anchor)
}

func (t *tx) latestCumulative(ctx context.Context, id ledger.PatientID, anchor ledger.SessionID) (decimal.Decimal, error) {
	q := `SELECT cumulative_balance FROM sessions
		WHERE patient_id = ? AND is_saved = 1`
	args := []any{int64(id)}
	if anchor > 0 {
		q += ` AND id < ?`
		args = append(args, int64(anchor))
	}
	q += ` ORDER BY date DESC, id DESC LIMIT 1`

	var v float64
	err := t.tx.QueryRowContext(ctx, q, args...).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read latest cumulative: %w", err)
	}
	return decimal.NewFromFloat(v), nil
}

func (t *tx) SessionDate(ctx context.Context, id ledger.SessionID) (string, error) {
	var date string
	err := t.tx.QueryRowContext(ctx,
		`SELECT date FROM sessions WHERE id = ?`, int64(id)).Scan(&date)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ledger.ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read session date: %w", err)
	}
	return date, nil
}

// =============================================================================
// READ SIDE (ledger.SessionStore)
// =============================================================================

func (s *Store) SessionsByPatient(ctx context.Context, id ledger.PatientID) ([]ledger.SessionDraft, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, patient_id, date,
			COALESCE(reason_type, ''), COALESCE(reason_detail, ''),
			COALESCE(clinical_notes, ''), COALESCE(signer, ''),
			budget, discount, payment, balance, cumulative_balance,
			COALESCE(payment_notes, ''), is_saved
		FROM sessions
		WHERE patient_id = ?
		ORDER BY date DESC, id DESC`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var drafts []ledger.SessionDraft
	index := map[ledger.SessionID]int{}
	for rows.Next() {
		var sess ledger.Session
		var budget, discount, payment, balance, cumulative float64
		if err := rows.Scan(&sess.ID, &sess.PatientID, &sess.Date,
			&sess.ReasonType, &sess.ReasonDetail, &sess.ClinicalNotes, &sess.Signer,
			&budget, &discount, &payment, &balance, &cumulative,
			&sess.PaymentNotes, &sess.IsSaved); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sess.Budget = decimal.NewFromFloat(budget)
		sess.Discount = decimal.NewFromFloat(discount)
		sess.Payment = decimal.NewFromFloat(payment)
		sess.Balance = decimal.NewFromFloat(balance)
		sess.CumulativeBalance = decimal.NewFromFloat(cumulative)
		index[sess.ID] = len(drafts)
		drafts = append(drafts, ledger.SessionDraft{Session: sess})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return drafts, nil
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.session_id, i.name, i.unit_price, i.quantity,
			i.subtotal, i.is_active, i.sort_order
		FROM session_items i
		JOIN sessions s ON s.id = i.session_id
		WHERE s.patient_id = ?
		ORDER BY i.session_id, i.sort_order`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("failed to list session items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var it ledger.SessionItem
		var unitPrice, subtotal float64
		var active sql.NullBool
		if err := itemRows.Scan(&it.ID, &it.SessionID, &it.Name, &unitPrice,
			&it.Quantity, &subtotal, &active, &it.SortOrder); err != nil {
			return nil, fmt.Errorf("failed to scan session item: %w", err)
		}
		it.UnitPrice = decimal.NewFromFloat(unitPrice)
		it.Subtotal = decimal.NewFromFloat(subtotal)
		if active.Valid {
			v := active.Bool
			it.Active = &v
		}
		if pos, ok := index[it.SessionID]; ok {
			drafts[pos].Items = append(drafts[pos].Items, it)
		}
	}
	return drafts, itemRows.Err()
}

func (s *Store) DeleteSession(ctx context.Context, id ledger.SessionID) error {
	// Check and delete share one transaction; with a single connection a
	// second db handle here would self-deadlock, so use the raw tx.
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapBusy(fmt.Errorf("failed to begin transaction: %w", err), err)
	}
	defer sqlTx.Rollback()

	var saved bool
	err = sqlTx.QueryRowContext(ctx,
		`SELECT is_saved FROM sessions WHERE id = ?`, int64(id)).Scan(&saved)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	if saved {
		return ledger.ErrSessionSaved
	}
	if _, err := sqlTx.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = ?`, int64(id)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if err := sqlTx.Commit(); err != nil {
		return wrapBusy(fmt.Errorf("failed to commit transaction: %w", err), err)
	}
	return nil
}

// =============================================================================
// STANDALONE PAYMENTS
// =============================================================================

// Payment is a patient payment recorded outside the session flow.
type Payment struct {
	ID            int64
	PatientID     ledger.PatientID
	Date          string
	Amount        decimal.Decimal
	PaymentMethod string
	Notes         string
}

func (s *Store) AddPayment(ctx context.Context, p Payment) (int64, error) {
	amount, _ := p.Amount.Float64()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (patient_id, date, amount, payment_method, notes)
		VALUES (?, ?, ?, ?, ?)`,
		int64(p.PatientID), p.Date, amount, nullString(p.PaymentMethod), nullString(p.Notes))
	if err != nil {
		return 0, fmt.Errorf("failed to insert payment: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) PaymentsByPatient(ctx context.Context, id ledger.PatientID) ([]Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, patient_id, date, amount,
			COALESCE(payment_method, ''), COALESCE(notes, '')
		FROM payments
		WHERE patient_id = ?
		ORDER BY date DESC, id DESC`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		var p Payment
		var amount float64
		if err := rows.Scan(&p.ID, &p.PatientID, &p.Date, &amount,
			&p.PaymentMethod, &p.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.Amount = decimal.NewFromFloat(amount)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeletePayment(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM payments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check payment delete: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("payment %d not found", id)
	}
	return nil
}
