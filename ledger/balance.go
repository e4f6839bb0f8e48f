/*
balance.go - Per-session budget and balance calculation

PURPOSE:
  Computes the authoritative financial fields of a single session from its
  items. This is the only place budget/balance math lives; the coordinator
  and every storage path go through it.

KEY RULE:
  The caller-submitted budget is NEVER trusted. It is recomputed from the
  active items; a drift beyond Tolerance is reported as a soft diagnostic
  and the recomputed value wins.

FORMULAS:
  budget  = sum(subtotal) over active items
  balance = budget - discount - payment

  An item is active when its explicit flag says so, or - if the flag was
  omitted - when quantity > 0.

SEE ALSO:
  - cumulative.go: rolls per-session balances into the patient ledger
  - clinic/coordinator.go: calls Recompute during the save transaction
*/
package ledger

import "github.com/shopspring/decimal"

// =============================================================================
// BALANCE CALCULATOR
// =============================================================================

// BalanceResult carries the recomputed financials of one draft.
type BalanceResult struct {
	Budget  decimal.Decimal
	Balance decimal.Decimal

	// Mismatch is non-nil when the submitted budget drifted beyond Tolerance.
	// It is diagnostic only; Budget above is already the corrected value.
	Mismatch *BudgetMismatch
}

// ActiveItems filters a draft's items down to the ones that count
// toward the budget.
func ActiveItems(items []SessionItem) []SessionItem {
	var active []SessionItem
	for _, it := range items {
		if it.IsActive() {
			active = append(active, it)
		}
	}
	return active
}

// ComputeBudget sums subtotals over the active items.
func ComputeBudget(items []SessionItem) decimal.Decimal {
	budget := decimal.Zero
	for _, it := range ActiveItems(items) {
		budget = budget.Add(it.Subtotal)
	}
	return budget
}

// ComputeBalance applies discount and payment to a budget.
func ComputeBalance(budget, discount, payment decimal.Decimal) decimal.Decimal {
	return budget.Sub(discount).Sub(payment)
}

// Recompute derives the authoritative budget and balance for a draft,
// comparing against the submitted budget for the mismatch diagnostic.
func Recompute(d SessionDraft) BalanceResult {
	budget := ComputeBudget(d.Items)
	res := BalanceResult{
		Budget:  budget,
		Balance: ComputeBalance(budget, d.Session.Discount, d.Session.Payment),
	}

	if budget.Sub(d.Session.Budget).Abs().GreaterThan(Tolerance) {
		res.Mismatch = &BudgetMismatch{
			SessionID: d.Session.ID,
			Submitted: d.Session.Budget,
			Computed:  budget,
		}
	}
	return res
}
