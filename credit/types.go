/*
Package credit provides the credit ledger and payment allocation engine.

PURPOSE:
  A retail shop sells on credit: a POS sale that is not paid in full leaves
  an open debt against a customer, and later payments reduce it. The Ledger
  Store keeps one row per credit sale, but the operator works per CUSTOMER.
  This package bridges the two:
  - groups sale rows into customers despite unreliable identifiers
  - totals each customer's debt and due/overdue status
  - spreads one lump payment across open sales, oldest first
  - rebuilds a chronological payment history with running balances

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal amount, never float
  - CreditSale: one row per unpaid POS sale, owned by the Ledger Store
  - Payment: one payment event against exactly one CreditSale
  - CustomerGroup: derived per-customer view, rebuilt on every load

DESIGN PRINCIPLES:
  1. The Ledger Store is the system of record. Nothing here is persisted.
  2. Balance is supplied by the store and trusted, never recomputed.
  3. Missing numbers are zero. Missing or unparsable dates are "absent".
  4. After any write the caller reloads; results are never authoritative.

SEE ALSO:
  - key.go: Customer key derivation
  - aggregate.go: Sales → customer groups
  - allocate.go: FIFO payment allocation
  - history.go: Payment history reconstruction
*/
package credit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// Money is a currency amount. The engine performs no currency conversion.
type Money = decimal.Decimal

// Zero is the zero amount.
var Zero = decimal.Zero

// NewMoney builds an amount from an integer number of currency units.
func NewMoney(units int64) Money { return decimal.NewFromInt(units) }

// MustParseMoney parses s, returning zero on malformed input.
func MustParseMoney(s string) Money {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ShopID string
type PaymentID string

// SaleID identifies a credit sale. Ledger Stores emit it either as a JSON
// string or a JSON number; both decode to the same value.
type SaleID string

func (id *SaleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = SaleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("sale_id: %w", err)
	}
	*id = SaleID(n.String())
	return nil
}

// =============================================================================
// PAYMENT METHOD
// =============================================================================

type PaymentMethod string

const (
	MethodCash PaymentMethod = "CASH"
	MethodMomo PaymentMethod = "MOMO" // mobile money
	MethodPOS  PaymentMethod = "POS"  // card terminal
)

// ParsePaymentMethod accepts CASH, MOMO or POS in any case.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	m := PaymentMethod(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", &ValidationError{Code: ErrInvalidMethod, Message: fmt.Sprintf("unknown payment method %q", s)}
	}
	return m, nil
}

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodMomo, MethodPOS:
		return true
	}
	return false
}

// =============================================================================
// CREDIT SALE - One row per POS sale not fully paid at checkout
// =============================================================================

// CreditSale is created upstream when a POS sale is marked credit and mutated
// upstream on every payment. Balance = OriginalAmount - PaidAmount is kept by
// the Ledger Store; the engine trusts it.
type CreditSale struct {
	SaleID        SaleID `json:"sale_id"`
	ShopID        ShopID `json:"shop_id,omitempty"`
	CustomerName  string `json:"customer_name,omitempty"`
	CustomerPhone string `json:"customer_phone,omitempty"`

	// Raw date strings as returned by the store. See ParseDate.
	SaleDate  string `json:"sale_date,omitempty"`
	DueDate   string `json:"due_date,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`

	OriginalAmount Money               `json:"original_amount"`
	PaidAmount     Money               `json:"paid_amount"`
	Balance        Money               `json:"balance"`
	Profit         decimal.NullDecimal `json:"profit"`
}

// Key resolves the customer grouping key for this sale.
func (s CreditSale) Key() CustomerKey {
	return DeriveKey(s.CustomerName, s.CustomerPhone, s.SaleID)
}

// SaleItem is a line of the original POS sale, carried for display only.
type SaleItem struct {
	ItemID    string `json:"item_id,omitempty"`
	Name      string `json:"name"`
	Quantity  Money  `json:"quantity"`
	UnitPrice Money  `json:"unit_price"`
	LineTotal Money  `json:"line_total"`
}

// CreditSaleDetail is a credit sale with its item lines and payments.
type CreditSaleDetail struct {
	CreditSale
	Items    []SaleItem `json:"items"`
	Payments []Payment  `json:"payments"`
}

// =============================================================================
// PAYMENT - Immutable, owned by the sale it was applied to
// =============================================================================

type Payment struct {
	ID        PaymentID     `json:"id"`
	SaleID    SaleID        `json:"sale_id"`
	Amount    Money         `json:"amount"`
	Method    PaymentMethod `json:"payment_method"`
	PaidAt    string        `json:"paid_at,omitempty"`
	CreatedAt string        `json:"created_at,omitempty"`
	Note      string        `json:"note,omitempty"`
}

// PaymentRequest is the body of a recordPayment call.
type PaymentRequest struct {
	SaleID SaleID        `json:"sale_id"`
	Amount Money         `json:"amount"`
	Method PaymentMethod `json:"payment_method"`
	Note   string        `json:"note,omitempty"`
}

// =============================================================================
// CREDIT LIST - listCredits response (bare array or summary + credits)
// =============================================================================

// CreditSummary is the shop-wide rollup some Ledger Stores return alongside
// the rows.
type CreditSummary struct {
	CreditsCount   int   `json:"credits_count"`
	CustomersCount int   `json:"customers_count"`
	OriginalAmount Money `json:"original_amount"`
	PaidAmount     Money `json:"paid_amount"`
	OpenBalance    Money `json:"open_balance"`
	OverdueCount   int   `json:"overdue_count"`
}

type CreditList struct {
	Summary *CreditSummary `json:"summary,omitempty"`
	Credits []CreditSale   `json:"credits"`
}

// SummaryOr returns the store-supplied summary, or one folded from groups
// when the store did not send it.
func (l CreditList) SummaryOr(groups []CustomerGroup) CreditSummary {
	if l.Summary != nil {
		return *l.Summary
	}
	return Summarize(groups)
}

// Summarize folds customer groups into a shop-wide summary.
func Summarize(groups []CustomerGroup) CreditSummary {
	sum := CreditSummary{
		CustomersCount: len(groups),
		OriginalAmount: Zero,
		PaidAmount:     Zero,
		OpenBalance:    Zero,
	}
	for _, g := range groups {
		sum.CreditsCount += g.Totals.CreditsCount
		sum.OriginalAmount = sum.OriginalAmount.Add(g.Totals.OriginalAmount)
		sum.PaidAmount = sum.PaidAmount.Add(g.Totals.PaidAmount)
		sum.OpenBalance = sum.OpenBalance.Add(g.Totals.OpenBalance)
		sum.OverdueCount += g.OverdueCount
	}
	return sum
}

// =============================================================================
// CUSTOMER GROUP - Derived, never persisted
// =============================================================================

type Totals struct {
	CreditsCount   int   `json:"credits_count"`
	OriginalAmount Money `json:"original_amount"`
	PaidAmount     Money `json:"paid_amount"`
	OpenBalance    Money `json:"open_balance"`
}

// CustomerGroup is every credit sale sharing one customer key.
//
// INVARIANTS:
//   - OpenCount + ClosedCount == Totals.CreditsCount
//   - Totals.OpenBalance == sum of Balance over credits with Balance > 0
type CustomerGroup struct {
	Key           CustomerKey  `json:"key"`
	CustomerName  string       `json:"customer_name"`
	CustomerPhone string       `json:"customer_phone"`
	Credits       []CreditSale `json:"credits"`
	Totals        Totals       `json:"totals"`

	// Raw dates of the oldest/newest sale and earliest open due date.
	OldestDate  string `json:"oldest_date,omitempty"`
	NewestDate  string `json:"newest_date,omitempty"`
	NextDueDate string `json:"next_due_date,omitempty"`

	OverdueCount int `json:"overdue_count"`
	OpenCount    int `json:"open_count"`
	ClosedCount  int `json:"closed_count"`
}

// OpenOnlyBalance sums Balance over the group's open sales. It is the upper
// bound for a single allocation.
func (g CustomerGroup) OpenOnlyBalance() Money {
	total := Zero
	for _, c := range g.Credits {
		if IsOpen(c) {
			total = total.Add(c.Balance)
		}
	}
	return total
}
