package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iclas/credit-engine/credit"
	"github.com/iclas/credit-engine/credit/store"
)

func creditSale(id, date string, original, paid int64) credit.CreditSaleDetail {
	return credit.CreditSaleDetail{CreditSale: credit.CreditSale{
		SaleID:         credit.SaleID(id),
		ShopID:         "shop-1",
		CustomerName:   "Jane",
		SaleDate:       date,
		OriginalAmount: decimal.NewFromInt(original),
		PaidAmount:     decimal.NewFromInt(paid),
	}}
}

func TestMemory_ListOrderAndFilter(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.SaveCreditSale(ctx, creditSale("b", "2024-01-02", 100, 0)))
	require.NoError(t, m.SaveCreditSale(ctx, creditSale("c", "2024-01-01", 100, 100)))
	require.NoError(t, m.SaveCreditSale(ctx, creditSale("a", "2024-01-02", 100, 40)))

	all, err := m.ListCredits(ctx, "shop-1", credit.FilterAll)
	require.NoError(t, err)
	require.Len(t, all.Credits, 3)
	assert.Equal(t, credit.SaleID("c"), all.Credits[0].SaleID)
	assert.Equal(t, credit.SaleID("a"), all.Credits[1].SaleID)
	assert.Equal(t, credit.SaleID("b"), all.Credits[2].SaleID)
	assert.Nil(t, all.Summary)

	open, err := m.ListCredits(ctx, "shop-1", credit.FilterOpen)
	require.NoError(t, err)
	assert.Len(t, open.Credits, 2)
	assert.True(t, open.Credits[0].Balance.Equal(decimal.NewFromInt(60)), "balance derived from paid")

	other, err := m.ListCredits(ctx, "shop-2", credit.FilterAll)
	require.NoError(t, err)
	assert.Empty(t, other.Credits)
}

func TestMemory_RecordPayment(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	m := store.NewMemory()
	m.Clock = func() time.Time { return fixed }
	require.NoError(t, m.SaveCreditSale(ctx, creditSale("s1", "2024-01-01", 100, 0)))

	p, err := m.RecordPayment(ctx, credit.PaymentRequest{SaleID: "s1", Amount: decimal.NewFromInt(70), Method: credit.MethodPOS})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, fixed.Format(time.RFC3339Nano), p.PaidAt)

	d, err := m.GetCreditDetail(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, d.PaidAmount.Equal(decimal.NewFromInt(70)))
	assert.True(t, d.Balance.Equal(decimal.NewFromInt(30)))
	require.Len(t, d.Payments, 1)

	// Detail is a copy
	d.Payments[0].Note = "mutated"
	again, _ := m.GetCreditDetail(ctx, "s1")
	assert.Empty(t, again.Payments[0].Note)
}

func TestMemory_RecordPaymentRejects(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.SaveCreditSale(ctx, creditSale("s1", "2024-01-01", 100, 0)))

	tests := []struct {
		name string
		req  credit.PaymentRequest
		want error
	}{
		{"zero", credit.PaymentRequest{SaleID: "s1", Method: credit.MethodCash}, credit.ErrInvalidAmount},
		{"bad method", credit.PaymentRequest{SaleID: "s1", Amount: decimal.NewFromInt(1), Method: "BARTER"}, credit.ErrInvalidMethod},
		{"unknown sale", credit.PaymentRequest{SaleID: "nope", Amount: decimal.NewFromInt(1), Method: credit.MethodCash}, credit.ErrSaleNotFound},
		{"overpayment", credit.PaymentRequest{SaleID: "s1", Amount: decimal.NewFromInt(101), Method: credit.MethodCash}, credit.ErrOverpayment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.RecordPayment(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	d, _ := m.GetCreditDetail(ctx, "s1")
	assert.Empty(t, d.Payments)
}

func TestMemory_Intents(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	require.NoError(t, m.RecordIntent(ctx, credit.AllocationIntent{ID: "i1", Status: credit.IntentPending}))
	require.NoError(t, m.RecordIntent(ctx, credit.AllocationIntent{ID: "i2", Status: credit.IntentPending}))
	assert.Error(t, m.RecordIntent(ctx, credit.AllocationIntent{ID: "i1"}))

	require.NoError(t, m.ResolveIntent(ctx, "i1", credit.IntentApplied, "p1", ""))
	assert.Error(t, m.ResolveIntent(ctx, "missing", credit.IntentFailed, "", "x"))

	pending := m.Intents(credit.IntentPending)
	require.Len(t, pending, 1)
	assert.Equal(t, "i2", pending[0].ID)
	assert.Len(t, m.Intents(""), 2)
}
