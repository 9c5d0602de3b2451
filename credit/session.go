/*
session.go - One operator's view of a shop's credit book

PURPOSE:
  Drives the engine the way the operator uses it:
    LoadGroups(filter) → Select(customer) → Pay(amount) → reload

STALENESS:
  Every load takes a fresh token from a monotonically increasing counter.
  When its response arrives, the load applies it only if its token is
  still the newest. Otherwise the response is dropped and the load
  returns a StaleResponseError. A slow "open" list can never overwrite a
  newer "all" list, and a slow ledger for customer A can never replace
  the ledger of customer B selected afterwards.

PESSIMISTIC RELOAD:
  Pay never patches balances locally. After every allocation attempt,
  success or failure, the session reloads the groups and the selected
  customer's ledger from the Ledger Store.

CONCURRENCY:
  Methods may be called from several goroutines (e.g. a UI event loop
  and a refresh timer). State is guarded by mu; network calls run
  without holding it.
*/
package credit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

type Session struct {
	Store     LedgerStore
	ShopID    ShopID
	Loader    *DetailLoader
	Allocator *Allocator
	Log       logrus.FieldLogger
	Metrics   *Metrics
	Clock     func() time.Time

	token atomic.Uint64

	mu       sync.Mutex
	filter   StatusFilter
	list     CreditList
	groups   []CustomerGroup
	selected *CustomerGroup
	view     *CustomerLedgerView
}

// NewSession wires a session with default loader and allocator.
func NewSession(store LedgerStore, shopID ShopID) *Session {
	return &Session{
		Store:     store,
		ShopID:    shopID,
		Loader:    NewDetailLoader(store, DefaultDetailConcurrency),
		Allocator: NewAllocator(store),
		filter:    FilterOpen,
	}
}

// =============================================================================
// LOADS
// =============================================================================

// LoadGroups fetches the shop's credits for filter and regroups them.
func (s *Session) LoadGroups(ctx context.Context, filter StatusFilter) ([]CustomerGroup, error) {
	tok := s.token.Add(1)
	s.mu.Lock()
	s.filter = filter
	s.mu.Unlock()

	list, err := s.Store.ListCredits(ctx, s.ShopID, filter)
	if err != nil {
		return nil, asRemote("listCredits", "", err)
	}
	groups := Aggregate(list.Credits, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkToken(tok); err != nil {
		return nil, err
	}
	s.list = list
	s.groups = groups
	if s.selected != nil {
		if g, ok := FindGroup(groups, s.selected.Key); ok {
			s.selected = &g
		} else {
			s.selected, s.view = nil, nil
		}
	}
	return groups, nil
}

// Select makes key the current customer and loads its full ledger.
func (s *Session) Select(ctx context.Context, key CustomerKey) (CustomerLedgerView, error) {
	tok := s.token.Add(1)

	s.mu.Lock()
	group, ok := FindGroup(s.groups, key)
	s.mu.Unlock()
	if !ok {
		return CustomerLedgerView{}, &ValidationError{Code: ErrNoGroupSelected, Message: "customer " + key.String() + " is not in the current list"}
	}

	details, err := s.loader().Load(ctx, group.Credits)
	if err != nil {
		return CustomerLedgerView{}, err
	}
	view := Reconstruct(details, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkToken(tok); err != nil {
		return CustomerLedgerView{}, err
	}
	s.selected = &group
	s.view = &view
	return view, nil
}

// Reload refreshes the groups for the current filter and, if a customer is
// selected and still listed, its ledger.
func (s *Session) Reload(ctx context.Context) error {
	s.mu.Lock()
	filter := s.filter
	s.mu.Unlock()

	if _, err := s.LoadGroups(ctx, filter); err != nil {
		return err
	}

	s.mu.Lock()
	var key CustomerKey
	if s.selected != nil {
		key = s.selected.Key
		if _, ok := FindGroup(s.groups, key); !ok {
			s.selected, s.view = nil, nil
			key = CustomerKey{}
		}
	}
	s.mu.Unlock()

	if key.IsZero() {
		return nil
	}
	_, err := s.Select(ctx, key)
	return err
}

// =============================================================================
// PAY
// =============================================================================

// Pay allocates amount across the selected customer's open sales, then
// reloads. The returned result describes what was sent; the reloaded state
// (Groups, Selected, View) is authoritative.
func (s *Session) Pay(ctx context.Context, amount Money, method PaymentMethod, note string) (*AllocationResult, error) {
	s.mu.Lock()
	var group *CustomerGroup
	if s.selected != nil {
		g := *s.selected
		group = &g
	}
	s.mu.Unlock()

	result, allocErr := s.allocator().Allocate(ctx, group, amount, method, note)
	if IsClientError(allocErr) {
		return nil, allocErr
	}

	reloadErr := s.Reload(ctx)
	if IsStale(reloadErr) {
		reloadErr = nil
	}
	if reloadErr != nil {
		s.logger().WithError(reloadErr).Warn("reload after allocation failed")
	}
	if allocErr != nil {
		return nil, errors.Join(allocErr, reloadErr)
	}
	return result, reloadErr
}

// =============================================================================
// ACCESSORS
// =============================================================================

func (s *Session) Filter() StatusFilter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

func (s *Session) Groups() []CustomerGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CustomerGroup(nil), s.groups...)
}

// Summary returns the store summary for the last list, or one computed from
// the groups when the store sent none.
func (s *Session) Summary() CreditSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list.SummaryOr(s.groups)
}

func (s *Session) Selected() (CustomerGroup, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return CustomerGroup{}, false
	}
	return *s.selected, true
}

func (s *Session) View() (CustomerLedgerView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.view == nil {
		return CustomerLedgerView{}, false
	}
	return *s.view, true
}

// =============================================================================
// HELPERS
// =============================================================================

// checkToken must be called with mu held.
func (s *Session) checkToken(tok uint64) error {
	if cur := s.token.Load(); cur != tok {
		s.Metrics.stale()
		s.logger().WithFields(logrus.Fields{"token": tok, "current": cur}).Debug("dropping stale response")
		return &StaleResponseError{Token: tok, Current: cur}
	}
	return nil
}

func (s *Session) loader() *DetailLoader {
	if s.Loader == nil {
		return &DetailLoader{Store: s.Store, Concurrency: DefaultDetailConcurrency, Metrics: s.Metrics}
	}
	return s.Loader
}

func (s *Session) allocator() *Allocator {
	if s.Allocator == nil {
		return &Allocator{Store: s.Store, Log: s.Log, Metrics: s.Metrics, Clock: s.Clock}
	}
	return s.Allocator
}

func (s *Session) logger() logrus.FieldLogger {
	if s.Log == nil {
		return discardLogger
	}
	return s.Log
}

func (s *Session) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}
