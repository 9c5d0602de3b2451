/*
store.go - Interfaces the engine consumes

LEDGER STORE:
  The external system of record for credit sales and payments. The engine
  is its client, not its implementation. Three calls:
  - ListCredits(shop, status)   rows for a shop, optionally with a summary
  - GetCreditDetail(sale)       one row plus item lines and payments
  - RecordPayment(request)      append one payment; the store updates the
                                sale's paid amount and balance

  Each RecordPayment commits on its own. There is NO multi-sale transaction.

INTENT LOG:
  Optional. When configured, the allocator writes an intent before every
  payment and resolves it afterwards, so a sequence interrupted mid-way can
  be found and reconciled instead of staying silently partial.

IMPLEMENTATIONS:
  - credit/store/memory.go: In-memory, for tests and dev
  - store/sqlite/sqlite.go: SQLite reference Ledger Store
  - ledgerclient/client.go: HTTP client for a remote Ledger Store
*/
package credit

import (
	"context"
	"time"
)

// CreditLister returns a shop's credit rows filtered by status.
type CreditLister interface {
	ListCredits(ctx context.Context, shopID ShopID, status StatusFilter) (CreditList, error)
}

// DetailFetcher returns one sale with items and payments.
type DetailFetcher interface {
	GetCreditDetail(ctx context.Context, saleID SaleID) (CreditSaleDetail, error)
}

// PaymentWriter records one payment against one sale.
type PaymentWriter interface {
	RecordPayment(ctx context.Context, req PaymentRequest) (Payment, error)
}

// LedgerStore is the full Ledger Store surface the engine consumes.
type LedgerStore interface {
	CreditLister
	DetailFetcher
	PaymentWriter
}

// =============================================================================
// ALLOCATION INTENTS
// =============================================================================

type IntentStatus string

const (
	IntentPending IntentStatus = "pending"
	IntentApplied IntentStatus = "applied"
	IntentFailed  IntentStatus = "failed"
)

// AllocationIntent records one planned payment write of an allocation.
type AllocationIntent struct {
	ID           string        `json:"id"`
	AllocationID string        `json:"allocation_id"`
	Seq          int           `json:"seq"`
	CustomerKey  CustomerKey   `json:"customer_key"`
	SaleID       SaleID        `json:"sale_id"`
	Amount       Money         `json:"amount"`
	Method       PaymentMethod `json:"payment_method"`
	Note         string        `json:"note,omitempty"`
	Status       IntentStatus  `json:"status"`
	PaymentID    PaymentID     `json:"payment_id,omitempty"`
	Error        string        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// IntentLog persists allocation intents.
type IntentLog interface {
	RecordIntent(ctx context.Context, intent AllocationIntent) error
	ResolveIntent(ctx context.Context, id string, status IntentStatus, paymentID PaymentID, errMsg string) error
}
