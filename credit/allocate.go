/*
allocate.go - Spreads one lump payment across a customer's open sales

PURPOSE:
  The operator records "Jane paid 12,000". The Ledger Store only accepts
  payments against single sales. The allocator decides how much goes to
  each open sale and issues the writes.

FIFO SETTLEMENT:
  Oldest debt first. Sales sorted ascending by sale date:

    sales:    #1 (Jan 01) bal 10,000   #2 (Jan 10) bal 5,000
    payment:  12,000
    plan:     #1 ← 10,000              #2 ← 2,000

  Each step pays min(balance, remaining). A sale is never paid beyond its
  balance, and the total never exceeds the group's open-only balance.

TWO PHASES:
  Plan:     pure. Validates and yields ordered (sale, amount) steps.
  Allocate: the driver. Issues one RecordPayment per step, strictly in
            order, one at a time, checking ctx between writes.

NOT ATOMIC:
  Every write commits on its own. If write k fails, writes 1..k-1 are
  already durable; Allocate stops and returns a RemoteError for sale k.
  The partial amount is not reported in the result. Callers MUST reload
  the group from the Ledger Store after every attempt, success or failure.
  With an IntentLog configured, each write is bracketed by a pending →
  applied/failed intent so interrupted allocations can be reconciled.

SEE ALSO:
  - session.go: Pay = Allocate + mandatory reload
  - store.go: PaymentWriter, IntentLog
*/
package credit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// PLAN
// =============================================================================

// AllocationStep is the amount to apply to one sale.
type AllocationStep struct {
	Sale   CreditSale `json:"sale"`
	Amount Money      `json:"amount"`
}

// AllocationResult describes a completed allocation. It reflects what was
// sent, not the store's resulting state.
type AllocationResult struct {
	AllocationID string           `json:"allocation_id"`
	Key          CustomerKey      `json:"customer_key"`
	Requested    Money            `json:"requested"`
	Applied      Money            `json:"applied"`
	Method       PaymentMethod    `json:"payment_method"`
	Steps        []AllocationStep `json:"steps"`
	Payments     []Payment        `json:"payments"`
}

// Allocator applies lump payments to customer groups.
type Allocator struct {
	Store   PaymentWriter
	Intents IntentLog // optional
	Log     logrus.FieldLogger
	Metrics *Metrics
	Clock   func() time.Time
}

func NewAllocator(store PaymentWriter) *Allocator {
	return &Allocator{Store: store}
}

// Plan validates amount against the group and returns the FIFO steps.
// No remote call is made.
func (a *Allocator) Plan(group *CustomerGroup, amount Money) ([]AllocationStep, error) {
	if group == nil || group.Key.IsZero() {
		return nil, &ValidationError{Code: ErrNoGroupSelected, Message: "select a customer before recording a payment"}
	}
	if !amount.IsPositive() {
		return nil, &ValidationError{Code: ErrInvalidAmount, Message: "payment amount must be greater than zero"}
	}
	open := group.OpenOnlyBalance()
	if amount.GreaterThan(open) {
		return nil, &ValidationError{
			Code:    ErrExceedsOpenBalance,
			Message: fmt.Sprintf("payment %s exceeds open balance %s", amount.String(), open.String()),
		}
	}

	var steps []AllocationStep
	remaining := amount
	for _, sale := range oldestFirst(group.Credits) {
		if !remaining.IsPositive() {
			break
		}
		if !IsOpen(sale) {
			continue
		}
		payNow := decimalMin(sale.Balance, remaining)
		steps = append(steps, AllocationStep{Sale: sale, Amount: payNow})
		remaining = remaining.Sub(payNow)
	}
	return steps, nil
}

// oldestFirst returns a copy of sales sorted ascending by sale date. Sales
// with unparsable dates go last; ties keep their input order.
func oldestFirst(sales []CreditSale) []CreditSale {
	sorted := make([]CreditSale, len(sales))
	copy(sorted, sales)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, okI := ParseDate(sorted[i].SaleDate, time.UTC)
		tj, okJ := ParseDate(sorted[j].SaleDate, time.UTC)
		switch {
		case okI && okJ:
			return ti.Before(tj)
		default:
			return okI && !okJ
		}
	})
	return sorted
}

func decimalMin(a, b Money) Money {
	if a.LessThan(b) {
		return a
	}
	return b
}

// =============================================================================
// ALLOCATE - Sequential driver
// =============================================================================

// Allocate validates, plans, and writes one payment per step in order.
func (a *Allocator) Allocate(ctx context.Context, group *CustomerGroup, amount Money, method PaymentMethod, note string) (*AllocationResult, error) {
	if !method.Valid() {
		a.Metrics.allocation("rejected")
		return nil, &ValidationError{Code: ErrInvalidMethod, Message: fmt.Sprintf("unknown payment method %q", method)}
	}
	steps, err := a.Plan(group, amount)
	if err != nil {
		a.Metrics.allocation("rejected")
		return nil, err
	}

	result := &AllocationResult{
		AllocationID: uuid.NewString(),
		Key:          group.Key,
		Requested:    amount,
		Applied:      Zero,
		Method:       method,
		Steps:        steps,
	}
	log := a.logger().WithFields(logrus.Fields{
		"allocation_id": result.AllocationID,
		"customer":      group.Key.String(),
		"amount":        amount.String(),
		"method":        method,
	})
	log.WithField("steps", len(steps)).Info("allocating payment")

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			a.Metrics.allocation("interrupted")
			return nil, fmt.Errorf("allocation %s interrupted before sale %s: %w", result.AllocationID, step.Sale.SaleID, err)
		}

		payment, err := a.apply(ctx, result, i, step, note, log)
		if err != nil {
			a.Metrics.allocation("failed")
			return nil, err
		}
		result.Payments = append(result.Payments, payment)
		result.Applied = result.Applied.Add(step.Amount)
	}

	a.Metrics.allocation("ok")
	log.WithField("applied", result.Applied.String()).Info("payment allocated")
	return result, nil
}

// apply writes one step, bracketed by an intent when an IntentLog is set.
func (a *Allocator) apply(ctx context.Context, result *AllocationResult, seq int, step AllocationStep, note string, log logrus.FieldLogger) (Payment, error) {
	saleID := step.Sale.SaleID
	log = log.WithFields(logrus.Fields{"sale_id": saleID, "pay_now": step.Amount.String()})

	var intentID string
	if a.Intents != nil {
		now := a.now()
		intentID = uuid.NewString()
		intent := AllocationIntent{
			ID:           intentID,
			AllocationID: result.AllocationID,
			Seq:          seq,
			CustomerKey:  result.Key,
			SaleID:       saleID,
			Amount:       step.Amount,
			Method:       result.Method,
			Note:         note,
			Status:       IntentPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := a.Intents.RecordIntent(ctx, intent); err != nil {
			return Payment{}, fmt.Errorf("record allocation intent for sale %s: %w", saleID, err)
		}
	}

	payment, err := a.Store.RecordPayment(ctx, PaymentRequest{
		SaleID: saleID,
		Amount: step.Amount,
		Method: result.Method,
		Note:   note,
	})
	if err != nil {
		a.Metrics.paymentWrite("failed", step.Amount)
		log.WithError(err).Warn("payment write failed; earlier writes of this allocation remain applied")
		a.resolve(intentID, IntentFailed, "", err.Error(), log)
		return Payment{}, asRemote("recordPayment", saleID, err)
	}

	a.Metrics.paymentWrite("ok", step.Amount)
	log.WithField("payment_id", payment.ID).Debug("payment written")
	a.resolve(intentID, IntentApplied, payment.ID, "", log)
	return payment, nil
}

// resolve marks an intent. It runs detached from the request context so a
// cancelled caller still leaves an accurate log.
func (a *Allocator) resolve(intentID string, status IntentStatus, paymentID PaymentID, errMsg string, log logrus.FieldLogger) {
	if a.Intents == nil || intentID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Intents.ResolveIntent(ctx, intentID, status, paymentID, errMsg); err != nil {
		log.WithError(err).WithField("intent_id", intentID).Error("failed to resolve allocation intent")
	}
}

func (a *Allocator) logger() logrus.FieldLogger {
	if a.Log == nil {
		return discardLogger
	}
	return a.Log
}

func (a *Allocator) now() time.Time {
	if a.Clock != nil {
		return a.Clock()
	}
	return time.Now().UTC()
}
