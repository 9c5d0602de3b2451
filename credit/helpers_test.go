package credit_test

import (
	"time"

	"github.com/iclas/credit-engine/credit"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

var testToday = time.Date(2024, time.February, 1, 10, 30, 0, 0, time.UTC)

func money(units int64) credit.Money { return credit.NewMoney(units) }

func sale(id, name, phone, date string, original, balance int64) credit.CreditSale {
	return credit.CreditSale{
		SaleID:         credit.SaleID(id),
		ShopID:         "shop-1",
		CustomerName:   name,
		CustomerPhone:  phone,
		SaleDate:       date,
		OriginalAmount: money(original),
		PaidAmount:     money(original - balance),
		Balance:        money(balance),
	}
}

func withDue(s credit.CreditSale, due string) credit.CreditSale {
	s.DueDate = due
	return s
}

func groupOf(sales ...credit.CreditSale) *credit.CustomerGroup {
	groups := credit.Aggregate(sales, testToday)
	if len(groups) != 1 {
		panic("fixture sales must share one customer key")
	}
	return &groups[0]
}
