/*
scheduler.go - Allocation intent reconciliation scheduler

PURPOSE:
  An allocation writes one payment per sale and brackets each write with
  an intent (pending → applied|failed). If the process dies between the
  payment write and the intent update, the intent stays pending. This
  scheduler periodically settles such leftovers against the payments that
  actually landed.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Only looks at pending intents older than Grace, so in-flight
    allocations are left alone
  - A pending intent is marked applied when its sale carries a payment
    with the same amount, method and note, created no earlier than the
    intent, and not already claimed by another applied intent
  - Otherwise it is marked failed

CONFIGURATION:
  - CheckInterval: How often to check (default: 5 minutes)
  - Grace:         Minimum intent age before it is reconciled (default: 2 minutes)
  - Enabled:       Whether scheduler is active (default: true)

USAGE:
  scheduler := NewIntentScheduler(store, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - credit/allocate.go: Writes the intents
  - handlers.go: ListIntents endpoint
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iclas/credit-engine/credit"
	"github.com/iclas/credit-engine/store/sqlite"
)

// clockSkew tolerates payment timestamps written slightly before the intent.
const clockSkew = time.Second

// IntentScheduler reconciles stale pending allocation intents.
type IntentScheduler struct {
	Store         *sqlite.Store
	Log           logrus.FieldLogger
	CheckInterval time.Duration
	Grace         time.Duration
	Enabled       bool
	Clock         func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// ReconcileReport summarises one pass.
type ReconcileReport struct {
	Checked int `json:"checked"`
	Applied int `json:"applied"`
	Failed  int `json:"failed"`
}

// NewIntentScheduler creates a new scheduler.
func NewIntentScheduler(store *sqlite.Store, log logrus.FieldLogger) *IntentScheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &IntentScheduler{
		Store:         store,
		Log:           log.WithField("component", "intent-scheduler"),
		CheckInterval: 5 * time.Minute,
		Grace:         2 * time.Minute,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (s *IntentScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Log.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.Log.WithField("interval", s.CheckInterval).Info("started")
}

// Stop stops the scheduler.
func (s *IntentScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Log.Info("stopped")
	}
}

func (s *IntentScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.runOnce()

	for {
		select {
		case <-ticker.C:
			s.runOnce()
		case <-stop:
			return
		}
	}
}

func (s *IntentScheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.CheckInterval)
	defer cancel()

	report, err := s.Reconcile(ctx)
	if err != nil {
		s.Log.WithError(err).Error("reconciliation pass failed")
		return
	}
	if report.Checked > 0 {
		s.Log.WithFields(logrus.Fields{
			"checked": report.Checked,
			"applied": report.Applied,
			"failed":  report.Failed,
		}).Info("reconciled pending intents")
	}
}

// Reconcile runs one pass over the pending intents.
func (s *IntentScheduler) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	pending, err := s.Store.ListIntents(ctx, credit.IntentPending)
	if err != nil {
		return report, err
	}
	if len(pending) == 0 {
		return report, nil
	}

	applied, err := s.Store.ListIntents(ctx, credit.IntentApplied)
	if err != nil {
		return report, err
	}
	claimed := make(map[credit.PaymentID]bool, len(applied))
	for _, in := range applied {
		if in.PaymentID != "" {
			claimed[in.PaymentID] = true
		}
	}

	cutoff := s.now().Add(-s.Grace)
	for _, in := range pending {
		if in.CreatedAt.After(cutoff) {
			continue
		}
		report.Checked++
		log := s.Log.WithFields(logrus.Fields{"intent_id": in.ID, "allocation_id": in.AllocationID, "sale_id": in.SaleID})

		paymentID, reason, err := s.match(ctx, in, claimed)
		if err != nil {
			log.WithError(err).Warn("could not inspect sale")
			continue
		}

		if paymentID != "" {
			claimed[paymentID] = true
			err = s.Store.ResolveIntent(ctx, in.ID, credit.IntentApplied, paymentID, "")
			report.Applied++
		} else {
			err = s.Store.ResolveIntent(ctx, in.ID, credit.IntentFailed, "", reason)
			report.Failed++
		}
		if err != nil {
			return report, err
		}
		log.WithField("payment_id", paymentID).Info("intent reconciled")
	}
	return report, nil
}

// match finds the unclaimed payment an intent produced, if any.
func (s *IntentScheduler) match(ctx context.Context, in credit.AllocationIntent, claimed map[credit.PaymentID]bool) (credit.PaymentID, string, error) {
	detail, err := s.Store.GetCreditDetail(ctx, in.SaleID)
	if credit.IsNotFound(err) {
		return "", "sale no longer exists", nil
	}
	if err != nil {
		return "", "", err
	}

	for _, p := range detail.Payments {
		if claimed[p.ID] || !p.Amount.Equal(in.Amount) || p.Method != in.Method || p.Note != in.Note {
			continue
		}
		created, ok := credit.ParseDate(p.CreatedAt, time.UTC)
		if !ok || created.Before(in.CreatedAt.Add(-clockSkew)) {
			continue
		}
		return p.ID, "", nil
	}
	return "", "no matching payment recorded", nil
}

func (s *IntentScheduler) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}
