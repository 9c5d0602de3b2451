package credit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iclas/credit-engine/credit"
)

func payment(id, saleID, paidAt string, amount int64) credit.Payment {
	return credit.Payment{
		ID:     credit.PaymentID(id),
		SaleID: credit.SaleID(saleID),
		Amount: money(amount),
		Method: credit.MethodCash,
		PaidAt: paidAt,
	}
}

func TestReconstruct_ChronologicalRunningBalance(t *testing.T) {
	// GIVEN: Two sales (10,000 and 5,000) with payments interleaved in time
	// WHEN: Reconstructing the customer ledger
	// THEN: Payments are merged by paid_at and open-after counts down from
	//       the all-time original total

	details := []credit.CreditSaleDetail{
		{
			CreditSale: sale("1", "Jane", "0788111222", "2024-01-01", 10000, 4000),
			Items:      []credit.SaleItem{{Name: "Rice 25kg", Quantity: money(2), UnitPrice: money(5000), LineTotal: money(10000)}},
			Payments: []credit.Payment{
				payment("p1", "1", "2024-01-05T09:00:00Z", 3000),
				payment("p3", "1", "2024-01-20T09:00:00Z", 3000),
			},
		},
		{
			CreditSale: sale("2", "Jane", "0788111222", "2024-01-10", 5000, 4000),
			Payments: []credit.Payment{
				payment("p2", "", "2024-01-12T09:00:00Z", 1000),
			},
		},
	}

	view := credit.Reconstruct(details, testToday)

	require.Len(t, view.Payments, 3)
	assert.Equal(t, credit.PaymentID("p1"), view.Payments[0].ID)
	assert.Equal(t, credit.PaymentID("p2"), view.Payments[1].ID)
	assert.Equal(t, credit.PaymentID("p3"), view.Payments[2].ID)

	assert.Equal(t, credit.SaleID("2"), view.Payments[1].SaleID, "owning sale is tagged")
	assert.Equal(t, "2024-01-10", view.Payments[1].CreditSaleDate)

	assert.True(t, view.Payments[0].GroupOpenBalanceAfter.Equal(money(12000)))
	assert.True(t, view.Payments[1].GroupOpenBalanceAfter.Equal(money(11000)))
	assert.True(t, view.Payments[2].GroupOpenBalanceAfter.Equal(money(8000)))
	assert.True(t, view.Payments[2].RunningPaid.Equal(money(7000)))

	assert.Equal(t, "phone:0788111222", view.Key.String())
	assert.True(t, view.Totals.OriginalAmount.Equal(money(15000)))
	assert.True(t, view.Totals.OpenBalance.Equal(money(8000)))
	assert.Equal(t, 2, view.OpenCount)
	require.Len(t, view.Sales, 2)
	assert.Len(t, view.Sales[0].Items, 1)
}

func TestReconstruct_CreatedAtFallbackAndClamp(t *testing.T) {
	noPaidAt := payment("late", "1", "", 600)
	noPaidAt.CreatedAt = "2024-01-03 08:00:00"

	details := []credit.CreditSaleDetail{{
		CreditSale: sale("1", "Ann", "", "2024-01-01", 1000, 0),
		Payments: []credit.Payment{
			payment("first", "1", "2024-01-02", 500),
			noPaidAt,
		},
	}}

	view := credit.Reconstruct(details, testToday)

	require.Len(t, view.Payments, 2)
	assert.Equal(t, credit.PaymentID("first"), view.Payments[0].ID)
	assert.Equal(t, credit.PaymentID("late"), view.Payments[1].ID)
	// 1000 - 1100 clamps at zero
	assert.True(t, view.Payments[1].GroupOpenBalanceAfter.IsZero())
	assert.Equal(t, credit.GroupClosed, view.Status)
}

func TestReconstruct_Empty(t *testing.T) {
	view := credit.Reconstruct(nil, testToday)

	assert.Empty(t, view.Payments)
	assert.Equal(t, credit.GroupClosed, view.Status)
	assert.True(t, view.Totals.OpenBalance.IsZero())
}
