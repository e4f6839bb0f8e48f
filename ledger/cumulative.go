/*
cumulative.go - Patient-wide running ledger total

PURPOSE:
  Each saved session stores a cumulative_balance: the patient's total
  outstanding debt as of that session. Snapshotting the running total per
  row makes historical reporting a plain read instead of a recomputation.

ANCHORING:
  The anchor decides which sessions count as "before" the one being saved:
    - existing session (id > 0): saved sessions whose id sorts before it
    - new session:               all currently saved sessions
  Row-insertion identity, not the date field, is the ordering proxy. The
  two diverge when sessions are back-dated after later rows exist; the
  behavior is kept for compatibility with existing ledgers (changing it
  would rewrite historical snapshots).

SEE ALSO:
  - store/sqlite/sessions.go: the SQL mirror of PreviousCumulative
  - debt.go: compares the before/after totals this produces
*/
package ledger

import "github.com/shopspring/decimal"

// =============================================================================
// CUMULATIVE BALANCE ACCUMULATOR
// =============================================================================

// PreviousCumulative computes the running-total anchor for a session from
// the patient's saved sessions. anchor == 0 means the session is new and
// every saved session counts; otherwise only sessions with ID < anchor do.
// Unsaved sessions never participate.
func PreviousCumulative(saved []Session, anchor SessionID) decimal.Decimal {
	total := decimal.Zero
	for _, s := range saved {
		if !s.IsSaved {
			continue
		}
		if anchor > 0 && s.ID >= anchor {
			continue
		}
		total = total.Add(s.Balance)
	}
	return total
}

// NextCumulative produces the snapshot stored on the session being saved.
func NextCumulative(previous, balance decimal.Decimal) decimal.Decimal {
	return previous.Add(balance)
}
