package sqlite_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinica/session-engine/ledger"
	"github.com/clinica/session-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:", 1000)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func money(v float64) decimal.Decimal { return ledger.Money(v) }

func insertPatient(t *testing.T, store *sqlite.Store, p ledger.Patient) ledger.PatientID {
	var id ledger.PatientID
	err := store.WithTx(context.Background(), func(tx ledger.Tx) error {
		var err error
		id, err = tx.UpsertPatient(context.Background(), p)
		return err
	})
	require.NoError(t, err)
	return id
}

func insertSession(t *testing.T, store *sqlite.Store, s ledger.Session) ledger.SessionID {
	var id ledger.SessionID
	err := store.WithTx(context.Background(), func(tx ledger.Tx) error {
		var err error
		id, err = tx.UpsertSession(context.Background(), s)
		return err
	})
	require.NoError(t, err)
	return id
}

// =============================================================================
// PATIENTS
// =============================================================================

func TestUpsertPatient_InsertThenUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id := insertPatient(t, store, ledger.Patient{FullName: "Maria Lopez", Phone: "555-0101"})
	require.NotZero(t, id)

	err := store.WithTx(ctx, func(tx ledger.Tx) error {
		_, err := tx.UpsertPatient(ctx, ledger.Patient{
			ID: id, FullName: "Maria Lopez-Garcia", Phone: "555-0101",
		})
		return err
	})
	require.NoError(t, err)

	p, err := store.GetPatient(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Maria Lopez-Garcia", p.FullName)
	assert.Equal(t, "active", p.Status)
}

func TestUpsertPatient_UpdateMissing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx ledger.Tx) error {
		_, err := tx.UpsertPatient(ctx, ledger.Patient{ID: 9999, FullName: "Ghost"})
		return err
	})

	assert.ErrorIs(t, err, ledger.ErrPatientNotFound)
}

func TestUpdatePatient_RequiresID(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdatePatient(context.Background(), ledger.Patient{FullName: "Nobody"})

	assert.ErrorIs(t, err, ledger.ErrPatientIDRequired)
}

func TestGetPatient_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetPatient(context.Background(), 42)

	assert.ErrorIs(t, err, ledger.ErrPatientNotFound)
}

func TestSearchPatients_MatchesNameDocAndPhone(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	insertPatient(t, store, ledger.Patient{FullName: "Maria Lopez", DocID: "A-1001", Phone: "555-0101"})
	insertPatient(t, store, ledger.Patient{FullName: "Ana Silva", DocID: "B-2002", Phone: "555-0102"})

	byName, err := store.SearchPatients(ctx, "Lope")
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "Maria Lopez", byName[0].FullName)

	byDoc, err := store.SearchPatients(ctx, "B-2002")
	require.NoError(t, err)
	require.Len(t, byDoc, 1)
	assert.Equal(t, "Ana Silva", byDoc[0].FullName)

	byPhone, err := store.SearchPatients(ctx, "555-01")
	require.NoError(t, err)
	assert.Len(t, byPhone, 2)
}

func TestListActivePatients_PendingBalanceAndLastVisit(t *testing.T) {
	// GIVEN: a patient with one saved session and a standalone payment
	store := newTestStore(t)
	ctx := context.Background()
	id := insertPatient(t, store, ledger.Patient{FullName: "Maria Lopez", Phone: "555-0101"})
	insertSession(t, store, ledger.Session{
		PatientID: id, Date: "2026-03-10", Balance: money(120),
	})
	_, err := store.AddPayment(ctx, sqlite.Payment{PatientID: id, Date: "2026-03-11", Amount: money(30)})
	require.NoError(t, err)

	// WHEN: listing
	list, err := store.ListActivePatients(ctx)
	require.NoError(t, err)

	// THEN: the pending balance sums saved sessions only
	require.Len(t, list, 1)
	assert.True(t, list[0].PendingBalance.Equal(money(120)), "pending = %s", list[0].PendingBalance)
	assert.Equal(t, "2026-03-10", list[0].LastVisitDate)
}

// =============================================================================
// SESSIONS AND ITEMS
// =============================================================================

func TestUpsertSession_ForcesIsSaved(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	pid := insertPatient(t, store, ledger.Patient{FullName: "Maria Lopez"})

	// Submitted with IsSaved false; the write path marks it saved anyway.
	insertSession(t, store, ledger.Session{
		PatientID: pid, Date: "2026-03-10", Balance: money(50), IsSaved: false,
	})

	drafts, err := store.SessionsByPatient(ctx, pid)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.True(t, drafts[0].Session.IsSaved)
}

func TestReplaceItems_DestructiveWithSkipRule(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	pid := insertPatient(t, store, ledger.Patient{FullName: "Maria Lopez"})
	sid := insertSession(t, store, ledger.Session{PatientID: pid, Date: "2026-03-10"})

	first := []ledger.SessionItem{
		{Name: "Old A", Quantity: 1, Subtotal: money(10)},
		{Name: "Old B", Quantity: 1, Subtotal: money(20)},
	}
	second := []ledger.SessionItem{
		{Name: "", Quantity: 0},                              // filler, dropped
		{Name: "New", Quantity: 2, Subtotal: money(60)},      // kept
		{Name: "Held", Quantity: 0, Subtotal: money(15)},     // named, kept
	}

	err := store.WithTx(ctx, func(tx ledger.Tx) error {
		if err := tx.ReplaceItems(ctx, sid, first); err != nil {
			return err
		}
		return tx.ReplaceItems(ctx, sid, second)
	})
	require.NoError(t, err)

	drafts, err := store.SessionsByPatient(ctx, pid)
	require.NoError(t, err)
	items := drafts[0].Items
	require.Len(t, items, 2, "old items gone, filler dropped")
	assert.Equal(t, "New", items[0].Name)
	assert.Equal(t, 0, items[0].SortOrder)
	assert.Equal(t, "Held", items[1].Name)
	assert.Equal(t, 1, items[1].SortOrder)
}

func TestCumulativeQueries_AnchoringAndOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	pid := insertPatient(t, store, ledger.Patient{FullName: "Maria Lopez"})

	s1 := insertSession(t, store, ledger.Session{
		PatientID: pid, Date: "2026-03-10", Balance: money(100), CumulativeBalance: money(100),
	})
	s2 := insertSession(t, store, ledger.Session{
		PatientID: pid, Date: "2026-04-01", Balance: money(-30), CumulativeBalance: money(70),
	})
	require.Less(t, int64(s1), int64(s2))

	err := store.WithTx(ctx, func(tx ledger.Tx) error {
		total, err := tx.SavedBalanceTotal(ctx, pid)
		require.NoError(t, err)
		assert.True(t, total.Equal(money(70)))

		before, err := tx.SavedBalanceTotalBefore(ctx, pid, s2)
		require.NoError(t, err)
		assert.True(t, before.Equal(money(100)))

		latest, err := tx.LatestCumulative(ctx, pid)
		require.NoError(t, err)
		assert.True(t, latest.Equal(money(70)))

		prior, err := tx.LatestCumulativeBefore(ctx, pid, s2)
		require.NoError(t, err)
		assert.True(t, prior.Equal(money(100)))
		return nil
	})
	require.NoError(t, err)
}

func TestLatestCumulative_NoSessions_Zero(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	pid := insertPatient(t, store, ledger.Patient{FullName: "Maria Lopez"})

	err := store.WithTx(ctx, func(tx ledger.Tx) error {
		latest, err := tx.LatestCumulative(ctx, pid)
		require.NoError(t, err)
		assert.True(t, latest.IsZero())
		return nil
	})
	require.NoError(t, err)
}

func TestDeleteSession_SavedGuard(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	pid := insertPatient(t, store, ledger.Patient{FullName: "Maria Lopez"})
	sid := insertSession(t, store, ledger.Session{PatientID: pid, Date: "2026-03-10"})

	// Saved sessions are immutable by deletion.
	err := store.DeleteSession(ctx, sid)
	assert.ErrorIs(t, err, ledger.ErrSessionSaved)

	err = store.DeleteSession(ctx, 9999)
	assert.ErrorIs(t, err, ledger.ErrSessionNotFound)
}

// =============================================================================
// TRANSACTION ATOMICITY
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: a transaction that inserts a patient then fails
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx ledger.Tx) error {
		if _, err := tx.UpsertPatient(ctx, ledger.Patient{FullName: "Rolled Back"}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	// THEN: nothing was persisted
	list, err := store.ListActivePatients(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestPayments_AddListDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	pid := insertPatient(t, store, ledger.Patient{FullName: "Maria Lopez"})

	id, err := store.AddPayment(ctx, sqlite.Payment{
		PatientID: pid, Date: "2026-03-15", Amount: money(45), PaymentMethod: "cash",
	})
	require.NoError(t, err)

	payments, err := store.PaymentsByPatient(ctx, pid)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.True(t, payments[0].Amount.Equal(money(45)))
	assert.Equal(t, "cash", payments[0].PaymentMethod)

	require.NoError(t, store.DeletePayment(ctx, id))
	assert.Error(t, store.DeletePayment(ctx, id))
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func TestAppendAudit_WritesInsideTransaction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	pid := insertPatient(t, store, ledger.Patient{FullName: "Maria Lopez"})

	err := store.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.AppendAudit(ctx, ledger.AuditEntry{
			ID:        "0c9b8f7e-1111-2222-3333-444455556666",
			Action:    ledger.AuditSessionsSaved,
			PatientID: pid,
			Detail:    "sessions=1",
		})
	})
	require.NoError(t, err)

	// Duplicate ids violate the primary key: retries cannot double-insert.
	err = store.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.AppendAudit(ctx, ledger.AuditEntry{
			ID:        "0c9b8f7e-1111-2222-3333-444455556666",
			Action:    ledger.AuditSessionsSaved,
			PatientID: pid,
		})
	})
	assert.Error(t, err)
}
