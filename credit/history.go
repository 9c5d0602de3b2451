/*
history.go - Customer-level payment history with running balances

PURPOSE:
  Payments are stored per sale. The operator wants one chronological
  ledger for the customer: "paid 10,000 on Jan 15, owed 5,000 after".

STEPS:
  1. Flatten every sale's payments, tagging each with its sale id and
     sale date
  2. Sort ascending by paid_at (created_at when paid_at is absent)
  3. baseOpen := sum of original_amount over ALL the group's sales
  4. Walk the payments accumulating runningPaid;
     open_after = max(0, baseOpen - runningPaid)

  Totals are recomputed from the detail rows with the same fold that
  Aggregate uses.

KNOWN LIMITATION:
  baseOpen is an all-time aggregate, not the open amount at the moment of
  each payment. If a sale joined the group after earlier payments were
  made, open_after for those earlier payments is higher than the true
  historical value. Kept as is pending product confirmation.
*/
package credit

import (
	"sort"
	"time"
)

// LedgerEntry is one payment in the customer's chronological history.
type LedgerEntry struct {
	Payment
	CreditSaleDate        string `json:"credit_sale_date,omitempty"`
	RunningPaid           Money  `json:"running_paid"`
	GroupOpenBalanceAfter Money  `json:"group_open_balance_after"`
}

// CustomerLedgerView is the full ledger of one customer group.
type CustomerLedgerView struct {
	Key           CustomerKey        `json:"key"`
	CustomerName  string             `json:"customer_name"`
	CustomerPhone string             `json:"customer_phone"`
	Totals        Totals             `json:"totals"`
	OpenCount     int                `json:"open_count"`
	ClosedCount   int                `json:"closed_count"`
	OverdueCount  int                `json:"overdue_count"`
	NextDueDate   string             `json:"next_due_date,omitempty"`
	Status        GroupStatus        `json:"status"`
	Sales         []CreditSaleDetail `json:"sales"`
	Payments      []LedgerEntry      `json:"payments"`
}

// Reconstruct builds the ledger view for one group's fully loaded sales.
func Reconstruct(details []CreditSaleDetail, today time.Time) CustomerLedgerView {
	view := CustomerLedgerView{
		Sales:    details,
		Payments: []LedgerEntry{},
		Totals:   Totals{OriginalAmount: Zero, PaidAmount: Zero, OpenBalance: Zero},
	}
	if len(details) == 0 {
		view.Status = GroupClosed
		return view
	}

	group := newGroup(details[0].Key(), details[0].CreditSale)
	baseOpen := Zero
	for _, d := range details {
		group.add(d.CreditSale, today)
		baseOpen = baseOpen.Add(d.OriginalAmount)

		for _, p := range d.Payments {
			if p.SaleID == "" {
				p.SaleID = d.SaleID
			}
			view.Payments = append(view.Payments, LedgerEntry{Payment: p, CreditSaleDate: d.SaleDate})
		}
	}

	loc := today.Location()
	sort.SliceStable(view.Payments, func(i, j int) bool {
		ti, okI := paymentTime(view.Payments[i].Payment, loc)
		tj, okJ := paymentTime(view.Payments[j].Payment, loc)
		switch {
		case okI && okJ:
			return ti.Before(tj)
		default:
			return okI && !okJ
		}
	})

	runningPaid := Zero
	for i := range view.Payments {
		runningPaid = runningPaid.Add(view.Payments[i].Amount)
		after := baseOpen.Sub(runningPaid)
		if after.IsNegative() {
			after = Zero
		}
		view.Payments[i].RunningPaid = runningPaid
		view.Payments[i].GroupOpenBalanceAfter = after
	}

	view.Key = group.Key
	view.CustomerName = group.CustomerName
	view.CustomerPhone = group.CustomerPhone
	view.Totals = group.Totals
	view.OpenCount = group.OpenCount
	view.ClosedCount = group.ClosedCount
	view.OverdueCount = group.OverdueCount
	view.NextDueDate = group.NextDueDate
	view.Status = group.Status()
	return view
}

func paymentTime(p Payment, loc *time.Location) (time.Time, bool) {
	if t, ok := ParseDate(p.PaidAt, loc); ok {
		return t, true
	}
	return ParseDate(p.CreatedAt, loc)
}
