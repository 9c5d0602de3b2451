/*
aggregate.go - Folds credit-sale rows into per-customer groups

PURPOSE:
  The Ledger Store is normalized by sale; the operator works by customer.
  Aggregate turns a flat []CreditSale into []CustomerGroup with totals,
  date range, next due date, and open/closed/overdue counts.

ALGORITHM:
  Single pass over the sales:
  1. Resolve the customer key (key.go)
  2. Upsert the group; first-seen sale supplies name/phone
  3. Add original/paid amounts; add balance if the sale is open
  4. Count open/closed; for open sales with a due date, track the
     earliest due date and count overdue ones
  5. Widen oldest/newest sale date, skipping unparsable dates

  Then sort by open balance descending (largest debt first). The sort is
  stable so equal balances keep first-seen order, which makes the output
  a pure function of the input.

SEE ALSO:
  - status.go: IsOpen / IsOverdue
  - history.go: Reuses the same fold for fully loaded detail rows
*/
package credit

import (
	"sort"
	"time"
)

// Aggregate groups sales by customer. today anchors overdue checks and the
// zone for zone-less dates.
func Aggregate(sales []CreditSale, today time.Time) []CustomerGroup {
	index := make(map[CustomerKey]int)
	var groups []CustomerGroup

	for _, sale := range sales {
		key := sale.Key()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, newGroup(key, sale))
		}
		groups[i].add(sale, today)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Totals.OpenBalance.GreaterThan(groups[j].Totals.OpenBalance)
	})
	return groups
}

// FindGroup returns the group with the given key.
func FindGroup(groups []CustomerGroup, key CustomerKey) (CustomerGroup, bool) {
	for _, g := range groups {
		if g.Key == key {
			return g, true
		}
	}
	return CustomerGroup{}, false
}

func newGroup(key CustomerKey, first CreditSale) CustomerGroup {
	return CustomerGroup{
		Key:           key,
		CustomerName:  first.CustomerName,
		CustomerPhone: first.CustomerPhone,
		Totals: Totals{
			OriginalAmount: Zero,
			PaidAmount:     Zero,
			OpenBalance:    Zero,
		},
	}
}

// add folds one sale into the group.
func (g *CustomerGroup) add(sale CreditSale, today time.Time) {
	loc := today.Location()

	g.Credits = append(g.Credits, sale)
	g.Totals.CreditsCount++
	g.Totals.OriginalAmount = g.Totals.OriginalAmount.Add(sale.OriginalAmount)
	g.Totals.PaidAmount = g.Totals.PaidAmount.Add(sale.PaidAmount)

	if IsOpen(sale) {
		g.OpenCount++
		g.Totals.OpenBalance = g.Totals.OpenBalance.Add(sale.Balance)

		if due, ok := ParseDate(sale.DueDate, loc); ok {
			if cur, ok := ParseDate(g.NextDueDate, loc); !ok || due.Before(cur) {
				g.NextDueDate = sale.DueDate
			}
			if IsOverdue(sale, today) {
				g.OverdueCount++
			}
		}
	} else {
		g.ClosedCount++
	}

	if at, ok := ParseDate(sale.SaleDate, loc); ok {
		if cur, ok := ParseDate(g.OldestDate, loc); !ok || at.Before(cur) {
			g.OldestDate = sale.SaleDate
		}
		if cur, ok := ParseDate(g.NewestDate, loc); !ok || at.After(cur) {
			g.NewestDate = sale.SaleDate
		}
	}
}
