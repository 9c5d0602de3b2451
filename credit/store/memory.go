// Package store provides in-process Ledger Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iclas/credit-engine/credit"
)

// =============================================================================
// MEMORY STORE - In-memory Ledger Store (for testing/dev)
// =============================================================================

// Memory keeps credit sales per shop in sale-date order, payments per sale,
// and allocation intents. It implements credit.LedgerStore and
// credit.IntentLog.
type Memory struct {
	mu       sync.RWMutex
	sales    map[credit.ShopID][]credit.SaleID
	details  map[credit.SaleID]*credit.CreditSaleDetail
	intents  map[string]credit.AllocationIntent
	intentIx []string

	// BeforePayment, when set, runs before each RecordPayment is applied.
	// A non-nil error fails that write. Used to simulate remote failures.
	BeforePayment func(req credit.PaymentRequest) error

	Clock func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		sales:   make(map[credit.ShopID][]credit.SaleID),
		details: make(map[credit.SaleID]*credit.CreditSaleDetail),
		intents: make(map[string]credit.AllocationIntent),
	}
}

// SaveCreditSale inserts or replaces a sale. Balance is derived from the
// original and paid amounts when not set.
func (m *Memory) SaveCreditSale(_ context.Context, d credit.CreditSaleDetail) error {
	if d.SaleID == "" {
		return fmt.Errorf("sale_id is required")
	}
	if d.Balance.IsZero() && d.PaidAmount.LessThan(d.OriginalAmount) {
		d.Balance = d.OriginalAmount.Sub(d.PaidAmount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.details[d.SaleID]; !exists {
		m.insertLocked(d.ShopID, d.CreditSale)
	}
	stored := d
	stored.Items = append([]credit.SaleItem(nil), d.Items...)
	stored.Payments = append([]credit.Payment(nil), d.Payments...)
	m.details[d.SaleID] = &stored
	return nil
}

// insertLocked keeps each shop's sale list ordered by (sale_date, sale_id).
func (m *Memory) insertLocked(shopID credit.ShopID, sale credit.CreditSale) {
	ids := m.sales[shopID]
	i := sort.Search(len(ids), func(i int) bool {
		other := m.details[ids[i]]
		if other.SaleDate != sale.SaleDate {
			return other.SaleDate > sale.SaleDate
		}
		return other.SaleID > sale.SaleID
	})
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = sale.SaleID
	m.sales[shopID] = ids
}

// ListCredits returns the shop's sales matching status. No summary is sent,
// so callers exercise their own aggregation.
func (m *Memory) ListCredits(_ context.Context, shopID credit.ShopID, status credit.StatusFilter) (credit.CreditList, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := credit.CreditList{Credits: []credit.CreditSale{}}
	for _, id := range m.sales[shopID] {
		sale := m.details[id].CreditSale
		if status.Matches(sale) {
			list.Credits = append(list.Credits, sale)
		}
	}
	return list, nil
}

func (m *Memory) GetCreditDetail(_ context.Context, saleID credit.SaleID) (credit.CreditSaleDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.details[saleID]
	if !ok {
		return credit.CreditSaleDetail{}, credit.ErrSaleNotFound
	}
	out := *d
	out.Items = append([]credit.SaleItem(nil), d.Items...)
	out.Payments = append([]credit.Payment(nil), d.Payments...)
	return out, nil
}

// RecordPayment appends a payment and updates the sale's paid amount and
// balance under one lock.
func (m *Memory) RecordPayment(_ context.Context, req credit.PaymentRequest) (credit.Payment, error) {
	if !req.Amount.IsPositive() {
		return credit.Payment{}, credit.ErrInvalidAmount
	}
	if !req.Method.Valid() {
		return credit.Payment{}, credit.ErrInvalidMethod
	}
	if m.BeforePayment != nil {
		if err := m.BeforePayment(req); err != nil {
			return credit.Payment{}, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.details[req.SaleID]
	if !ok {
		return credit.Payment{}, credit.ErrSaleNotFound
	}
	if req.Amount.GreaterThan(d.Balance) {
		return credit.Payment{}, credit.ErrOverpayment
	}

	now := m.now().Format(time.RFC3339Nano)
	p := credit.Payment{
		ID:        credit.PaymentID(uuid.NewString()),
		SaleID:    req.SaleID,
		Amount:    req.Amount,
		Method:    req.Method,
		PaidAt:    now,
		CreatedAt: now,
		Note:      req.Note,
	}
	d.PaidAmount = d.PaidAmount.Add(req.Amount)
	d.Balance = d.Balance.Sub(req.Amount)
	d.Payments = append(d.Payments, p)
	return p, nil
}

// =============================================================================
// INTENT LOG
// =============================================================================

func (m *Memory) RecordIntent(_ context.Context, intent credit.AllocationIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.intents[intent.ID]; exists {
		return fmt.Errorf("intent %s already recorded", intent.ID)
	}
	m.intents[intent.ID] = intent
	m.intentIx = append(m.intentIx, intent.ID)
	return nil
}

func (m *Memory) ResolveIntent(_ context.Context, id string, status credit.IntentStatus, paymentID credit.PaymentID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[id]
	if !ok {
		return fmt.Errorf("intent %s not found", id)
	}
	intent.Status = status
	intent.PaymentID = paymentID
	intent.Error = errMsg
	intent.UpdatedAt = m.now()
	m.intents[id] = intent
	return nil
}

// Intents returns intents in recording order, optionally filtered by status.
func (m *Memory) Intents(status credit.IntentStatus) []credit.AllocationIntent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []credit.AllocationIntent
	for _, id := range m.intentIx {
		if in := m.intents[id]; status == "" || in.Status == status {
			out = append(out, in)
		}
	}
	return out
}

func (m *Memory) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now().UTC()
}
