package credit_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iclas/credit-engine/credit"
)

// slowFetcher answers later requests faster and records peak concurrency.
type slowFetcher struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	failOn   credit.SaleID

	mu    sync.Mutex
	calls []credit.SaleID
}

func (f *slowFetcher) GetCreditDetail(ctx context.Context, id credit.SaleID) (credit.CreditSaleDetail, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, id)
	idx := len(f.calls)
	f.mu.Unlock()

	select {
	case <-time.After(time.Duration(20-idx%20) * time.Millisecond):
	case <-ctx.Done():
		return credit.CreditSaleDetail{}, ctx.Err()
	}
	if id == f.failOn {
		return credit.CreditSaleDetail{}, errors.New("503 from ledger")
	}
	return credit.CreditSaleDetail{CreditSale: credit.CreditSale{SaleID: id}}, nil
}

func manySales(n int) []credit.CreditSale {
	sales := make([]credit.CreditSale, n)
	for i := range sales {
		sales[i] = credit.CreditSale{SaleID: credit.SaleID(fmt.Sprintf("s%02d", i))}
	}
	return sales
}

func TestDetailLoader_PreservesOrderAndBoundsConcurrency(t *testing.T) {
	f := &slowFetcher{}
	loader := credit.NewDetailLoader(f, 3)

	sales := manySales(12)
	details, err := loader.Load(context.Background(), sales)
	require.NoError(t, err)

	require.Len(t, details, len(sales))
	for i := range sales {
		assert.Equal(t, sales[i].SaleID, details[i].SaleID)
	}
	assert.LessOrEqual(t, f.peak.Load(), int32(3))
	assert.Len(t, f.calls, 12)
}

func TestDetailLoader_DefaultLimit(t *testing.T) {
	f := &slowFetcher{}
	_, err := credit.NewDetailLoader(f, 0).Load(context.Background(), manySales(20))
	require.NoError(t, err)

	assert.LessOrEqual(t, f.peak.Load(), int32(credit.DefaultDetailConcurrency))
}

func TestDetailLoader_FailureIsRemoteError(t *testing.T) {
	f := &slowFetcher{failOn: "s04"}
	_, err := credit.NewDetailLoader(f, 2).Load(context.Background(), manySales(8))

	var remote *credit.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "getCreditDetail", remote.Op)
	assert.Equal(t, credit.SaleID("s04"), remote.SaleID)
}
