package credit_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iclas/credit-engine/credit"
)

func mixedBook() []credit.CreditSale {
	return []credit.CreditSale{
		withDue(sale("1", "Jane", "0788111222", "2024-01-01", 10000, 10000), "2024-01-20"),
		withDue(sale("2", "jane", "0788111222", "2024-01-10", 5000, 5000), "2024-03-01"),
		sale("3", "Bob", "", "2024-01-05", 2000, 0),
		sale("4", "BOB ", "", "garbage", 3000, 1000),
		sale("5", "", "", "2024-01-07", 700, 700),
	}
}

func TestAggregate_TotalsAndCounts(t *testing.T) {
	groups := credit.Aggregate(mixedBook(), testToday)
	require.Len(t, groups, 3)

	// Largest open balance first
	jane := groups[0]
	assert.Equal(t, "phone:0788111222", jane.Key.String())
	assert.Equal(t, "Jane", jane.CustomerName, "first-seen sale supplies the name")
	assert.Equal(t, 2, jane.Totals.CreditsCount)
	assert.True(t, jane.Totals.OriginalAmount.Equal(money(15000)))
	assert.True(t, jane.Totals.OpenBalance.Equal(money(15000)))
	assert.Equal(t, "2024-01-01", jane.OldestDate)
	assert.Equal(t, "2024-01-10", jane.NewestDate)
	assert.Equal(t, "2024-01-20", jane.NextDueDate)
	assert.Equal(t, 1, jane.OverdueCount)
	assert.Equal(t, credit.GroupOverdue, jane.Status())

	bob := groups[1]
	assert.Equal(t, "name:bob", bob.Key.String())
	assert.Equal(t, 1, bob.OpenCount)
	assert.Equal(t, 1, bob.ClosedCount)
	assert.True(t, bob.Totals.PaidAmount.Equal(money(4000)))
	assert.Equal(t, "2024-01-05", bob.OldestDate, "unparsable dates are skipped")
	assert.Equal(t, "2024-01-05", bob.NewestDate)

	anon := groups[2]
	assert.Equal(t, "unknown:5", anon.Key.String())
}

func TestAggregate_Invariants(t *testing.T) {
	for _, g := range credit.Aggregate(mixedBook(), testToday) {
		assert.Equal(t, g.Totals.CreditsCount, g.OpenCount+g.ClosedCount, g.Key.String())

		sum := credit.Zero
		for _, c := range g.Credits {
			if c.Balance.IsPositive() {
				sum = sum.Add(c.Balance)
			}
		}
		assert.True(t, sum.Equal(g.Totals.OpenBalance), g.Key.String())
		assert.True(t, sum.Equal(g.OpenOnlyBalance()), g.Key.String())
	}
}

func TestAggregate_IsPure(t *testing.T) {
	book := mixedBook()
	first := credit.Aggregate(book, testToday)
	second := credit.Aggregate(book, testToday)

	assert.Equal(t, first, second)
}

func TestAggregate_NullNumbersAreZero(t *testing.T) {
	// GIVEN: A store row with null amounts
	var s credit.CreditSale
	require.NoError(t, json.Unmarshal([]byte(`{
		"sale_id": 9, "customer_name": "Ann",
		"original_amount": null, "paid_amount": null, "balance": null
	}`), &s))

	groups := credit.Aggregate([]credit.CreditSale{s}, testToday)
	require.Len(t, groups, 1)
	assert.Equal(t, credit.SaleID("9"), groups[0].Credits[0].SaleID)
	assert.True(t, groups[0].Totals.OpenBalance.IsZero())
	assert.Equal(t, 1, groups[0].ClosedCount)
	assert.Equal(t, credit.GroupClosed, groups[0].Status())
}

func TestCreditList_SummaryFallback(t *testing.T) {
	groups := credit.Aggregate(mixedBook(), testToday)

	computed := credit.CreditList{}.SummaryOr(groups)
	assert.Equal(t, 5, computed.CreditsCount)
	assert.Equal(t, 3, computed.CustomersCount)
	assert.True(t, computed.OpenBalance.Equal(money(16700)))

	server := credit.CreditSummary{CreditsCount: 42}
	assert.Equal(t, 42, credit.CreditList{Summary: &server}.SummaryOr(groups).CreditsCount)
}
