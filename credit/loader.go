package credit

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultDetailConcurrency caps in-flight getCreditDetail calls per group load.
const DefaultDetailConcurrency = 6

// DetailLoader fetches the details of a group's sales through a bounded
// worker pool. Results come back in input order regardless of completion
// order. The first failure cancels the remaining fetches.
type DetailLoader struct {
	Store       DetailFetcher
	Concurrency int
	Metrics     *Metrics
}

func NewDetailLoader(store DetailFetcher, concurrency int) *DetailLoader {
	return &DetailLoader{Store: store, Concurrency: concurrency}
}

// Load fetches one detail per sale.
func (l *DetailLoader) Load(ctx context.Context, sales []CreditSale) ([]CreditSaleDetail, error) {
	defer l.Metrics.observeDetailLoad(time.Now())

	limit := l.Concurrency
	if limit <= 0 {
		limit = DefaultDetailConcurrency
	}

	details := make([]CreditSaleDetail, len(sales))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, sale := range sales {
		g.Go(func() error {
			d, err := l.Store.GetCreditDetail(gctx, sale.SaleID)
			if err != nil {
				return asRemote("getCreditDetail", sale.SaleID, err)
			}
			details[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return details, nil
}
