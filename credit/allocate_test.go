package credit_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iclas/credit-engine/credit"
	"github.com/iclas/credit-engine/credit/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// seeded returns a memory store holding sales and the group they form.
func seeded(t *testing.T, sales ...credit.CreditSale) (*store.Memory, *credit.CustomerGroup) {
	t.Helper()
	mem := store.NewMemory()
	for _, s := range sales {
		require.NoError(t, mem.SaveCreditSale(context.Background(), credit.CreditSaleDetail{CreditSale: s}))
	}
	return mem, groupOf(sales...)
}

func balanceOf(t *testing.T, mem *store.Memory, id string) credit.Money {
	t.Helper()
	d, err := mem.GetCreditDetail(context.Background(), credit.SaleID(id))
	require.NoError(t, err)
	return d.Balance
}

func threeSales() []credit.CreditSale {
	// Deliberately out of date order
	return []credit.CreditSale{
		sale("s2", "Jane", "0788", "2024-01-02", 30, 30),
		sale("s1", "Jane", "0788", "2024-01-01", 50, 50),
		sale("s3", "Jane", "0788", "2024-01-03", 20, 20),
	}
}

// =============================================================================
// PLAN
// =============================================================================

func TestPlan_FIFO(t *testing.T) {
	// GIVEN: Sales d1 < d2 < d3 with balances 50, 30, 20
	// WHEN: Planning 60
	// THEN: 50 to d1, 10 to d2, nothing to d3

	a := credit.NewAllocator(nil)
	steps, err := a.Plan(groupOf(threeSales()...), money(60))
	require.NoError(t, err)

	require.Len(t, steps, 2)
	assert.Equal(t, credit.SaleID("s1"), steps[0].Sale.SaleID)
	assert.True(t, steps[0].Amount.Equal(money(50)))
	assert.Equal(t, credit.SaleID("s2"), steps[1].Sale.SaleID)
	assert.True(t, steps[1].Amount.Equal(money(10)))
}

func TestPlan_SkipsClosedSales(t *testing.T) {
	sales := []credit.CreditSale{
		sale("old-paid", "Jane", "", "2023-12-01", 80, 0),
		sale("s1", "Jane", "", "2024-01-01", 50, 50),
	}
	steps, err := credit.NewAllocator(nil).Plan(groupOf(sales...), money(20))
	require.NoError(t, err)

	require.Len(t, steps, 1)
	assert.Equal(t, credit.SaleID("s1"), steps[0].Sale.SaleID)
}

func TestPlan_UndatedSalesGoLast(t *testing.T) {
	sales := []credit.CreditSale{
		sale("undated", "Jane", "", "", 50, 50),
		sale("dated", "Jane", "", "2024-01-05", 50, 50),
	}
	steps, err := credit.NewAllocator(nil).Plan(groupOf(sales...), money(60))
	require.NoError(t, err)

	require.Len(t, steps, 2)
	assert.Equal(t, credit.SaleID("dated"), steps[0].Sale.SaleID)
	assert.True(t, steps[1].Amount.Equal(money(10)))
}

func TestPlan_Validation(t *testing.T) {
	g := groupOf(threeSales()...)
	a := credit.NewAllocator(nil)

	tests := []struct {
		name   string
		group  *credit.CustomerGroup
		amount credit.Money
		want   error
	}{
		{"no group", nil, money(10), credit.ErrNoGroupSelected},
		{"zero", g, money(0), credit.ErrInvalidAmount},
		{"negative", g, money(-5), credit.ErrInvalidAmount},
		{"over open balance", g, money(101), credit.ErrExceedsOpenBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Plan(tt.group, tt.amount)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, credit.IsClientError(err))
		})
	}
}

// =============================================================================
// ALLOCATE
// =============================================================================

func TestAllocate_FIFOWrites(t *testing.T) {
	mem, g := seeded(t, threeSales()...)
	a := credit.NewAllocator(mem)

	result, err := a.Allocate(context.Background(), g, money(60), credit.MethodCash, "counter")
	require.NoError(t, err)

	assert.True(t, result.Applied.Equal(money(60)))
	assert.Len(t, result.Payments, 2)
	assert.True(t, balanceOf(t, mem, "s1").IsZero())
	assert.True(t, balanceOf(t, mem, "s2").Equal(money(20)))
	assert.True(t, balanceOf(t, mem, "s3").Equal(money(20)))

	d, _ := mem.GetCreditDetail(context.Background(), "s1")
	require.Len(t, d.Payments, 1)
	assert.Equal(t, credit.MethodCash, d.Payments[0].Method)
	assert.Equal(t, "counter", d.Payments[0].Note)
}

func TestAllocate_ExactBalanceClosesEverySale(t *testing.T) {
	mem, g := seeded(t, threeSales()...)

	_, err := credit.NewAllocator(mem).Allocate(context.Background(), g, g.OpenOnlyBalance(), credit.MethodMomo, "")
	require.NoError(t, err)

	for _, id := range []string{"s1", "s2", "s3"} {
		assert.True(t, balanceOf(t, mem, id).IsZero(), id)
	}
}

func TestAllocate_OverAllocationMakesNoWrites(t *testing.T) {
	mem, g := seeded(t, threeSales()...)
	writes := 0
	mem.BeforePayment = func(credit.PaymentRequest) error { writes++; return nil }

	over := g.OpenOnlyBalance().Add(money(1))
	_, err := credit.NewAllocator(mem).Allocate(context.Background(), g, over, credit.MethodCash, "")

	var verr *credit.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, credit.ErrExceedsOpenBalance)
	assert.Zero(t, writes)
}

func TestAllocate_InvalidMethod(t *testing.T) {
	mem, g := seeded(t, threeSales()...)

	_, err := credit.NewAllocator(mem).Allocate(context.Background(), g, money(10), "CHEQUE", "")
	assert.ErrorIs(t, err, credit.ErrInvalidMethod)
}

func TestAllocate_PartialFailureLeavesEarlierWrites(t *testing.T) {
	// GIVEN: The second write fails
	// WHEN: Allocating across three sales
	// THEN: The first sale stays paid, the call reports a RemoteError for
	//       the second sale, the third is never attempted

	mem, g := seeded(t, threeSales()...)
	boom := errors.New("connection reset")
	mem.BeforePayment = func(req credit.PaymentRequest) error {
		if req.SaleID == "s2" {
			return boom
		}
		return nil
	}
	a := credit.NewAllocator(mem)
	a.Intents = mem

	result, err := a.Allocate(context.Background(), g, money(100), credit.MethodCash, "")
	assert.Nil(t, result)

	var remote *credit.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, credit.SaleID("s2"), remote.SaleID)
	assert.ErrorIs(t, err, credit.ErrRemote)
	assert.ErrorIs(t, err, boom)

	assert.True(t, balanceOf(t, mem, "s1").IsZero())
	assert.True(t, balanceOf(t, mem, "s2").Equal(money(30)))
	assert.True(t, balanceOf(t, mem, "s3").Equal(money(20)))

	intents := mem.Intents("")
	require.Len(t, intents, 2)
	assert.Equal(t, credit.IntentApplied, intents[0].Status)
	assert.NotEmpty(t, intents[0].PaymentID)
	assert.Equal(t, credit.IntentFailed, intents[1].Status)
	assert.Contains(t, intents[1].Error, "connection reset")
}

func TestAllocate_CancelledContextStopsBetweenWrites(t *testing.T) {
	mem, g := seeded(t, threeSales()...)
	ctx, cancel := context.WithCancel(context.Background())
	mem.BeforePayment = func(credit.PaymentRequest) error { cancel(); return nil }

	_, err := credit.NewAllocator(mem).Allocate(ctx, g, money(100), credit.MethodCash, "")
	assert.ErrorIs(t, err, context.Canceled)

	// First write went through, the rest never started
	assert.True(t, balanceOf(t, mem, "s1").IsZero())
	assert.True(t, balanceOf(t, mem, "s2").Equal(money(30)))
}

func TestAllocate_RecordsMetrics(t *testing.T) {
	mem, g := seeded(t, threeSales()...)
	reg := prometheus.NewRegistry()
	a := credit.NewAllocator(mem)
	a.Metrics = credit.NewMetrics(reg)

	_, err := a.Allocate(context.Background(), g, money(60), credit.MethodMomo, "")
	require.NoError(t, err)
	_, err = a.Allocate(context.Background(), g, money(0), credit.MethodMomo, "")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.Metrics.Allocations.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Metrics.Allocations.WithLabelValues("rejected")))
	assert.Equal(t, 2.0, testutil.ToFloat64(a.Metrics.PaymentWrites.WithLabelValues("ok")))
	assert.Equal(t, 60.0, testutil.ToFloat64(a.Metrics.AppliedAmount))
}
