/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built credit books that populate the database with
	realistic data for testing and demos. Each scenario creates credit
	sales (with item lines and, where useful, earlier payments) that
	exercise a specific part of the engine.

AVAILABLE SCENARIOS:

	jane-two-sales: One customer, two open sales. Paying 12,000 closes the
	                first and leaves 3,000 on the second.
	market-day:     A busy shop. Name spellings differ for one phone, a
	                name-only regular, anonymous walk-ins, partial payments,
	                a closed sale.
	overdue-book:   Several customers past their due dates.

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Save credit sales through the store's intake hook
 3. Historical payments are saved with their sale

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "jane-two-sales"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description, shop
 2. Create builder function: xxxScenario(now) []credit.CreditSaleDetail
 3. Add case to scenarioSales

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Ledger and engine handlers
  - store/sqlite/sqlite.go: SaveCreditSale
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iclas/credit-engine/credit"
	"github.com/iclas/credit-engine/store/sqlite"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "jane-two-sales",
		Name:        "Jane, Two Sales",
		Description: "One customer owing 10,000 and 5,000; a 12,000 payment spans both",
		ShopID:      "shop-1",
	},
	{
		ID:          "market-day",
		Name:        "Market Day",
		Description: "Mixed book: phone and name-only customers, walk-ins, partial and closed sales",
		ShopID:      "kimironko",
	},
	{
		ID:          "overdue-book",
		Name:        "Overdue Book",
		Description: "Customers past their due dates, one of them partially paid",
		ShopID:      "remera",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	sales, ok := scenarioSales(req.ScenarioID, h.now())
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown scenario", nil)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	if err := SeedStore(r.Context(), h.Store, sales); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load scenario: %v", err), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	h.logger().WithField("scenario", req.ScenarioID).WithField("sales", len(sales)).Info("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset database", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// LoadScenarioByID resets store and seeds the named scenario. Used by
// cmd/server's -scenario flag.
func LoadScenarioByID(ctx context.Context, store *sqlite.Store, id string, now time.Time) error {
	sales, ok := scenarioSales(id, now)
	if !ok {
		return fmt.Errorf("unknown scenario %q", id)
	}
	return SeedStore(ctx, store, sales)
}

// SeedStore resets store and saves every sale.
func SeedStore(ctx context.Context, store *sqlite.Store, sales []credit.CreditSaleDetail) error {
	if err := store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	for _, s := range sales {
		if err := store.SaveCreditSale(ctx, s); err != nil {
			return fmt.Errorf("save sale %s: %w", s.SaleID, err)
		}
	}
	return nil
}

func scenarioSales(id string, now time.Time) ([]credit.CreditSaleDetail, bool) {
	switch id {
	case "jane-two-sales":
		return janeTwoSalesScenario(), true
	case "market-day":
		return marketDayScenario(now), true
	case "overdue-book":
		return overdueBookScenario(now), true
	}
	return nil, false
}

// =============================================================================
// SCENARIO BUILDERS
// =============================================================================

func janeTwoSalesScenario() []credit.CreditSaleDetail {
	return []credit.CreditSaleDetail{
		newSale("shop-1", "1001", "Jane", "0788111222", "2024-01-01", "", 10000, 0,
			item("Rice 25kg", 2, 5000)),
		newSale("shop-1", "1002", "Jane", "0788111222", "2024-01-10", "", 5000, 0,
			item("Cooking oil 5L", 1, 5000)),
	}
}

func marketDayScenario(now time.Time) []credit.CreditSaleDetail {
	day := func(offset int) string { return now.AddDate(0, 0, offset).Format("2006-01-02") }

	partial := newSale("kimironko", "2001", "Eric Mugisha", "0722000111", day(-20), day(10), 8000, 3000,
		item("Sugar 10kg", 2, 4000))
	partial.Payments = []credit.Payment{
		{SaleID: "2001", Amount: money(3000), Method: credit.MethodMomo, PaidAt: day(-15) + "T10:00:00Z"},
	}

	closed := newSale("kimironko", "2002", "Eric", "0722000111", day(-40), "", 2500, 2500,
		item("Soap bar", 5, 500))
	closed.Payments = []credit.Payment{
		{SaleID: "2002", Amount: money(1000), Method: credit.MethodCash, PaidAt: day(-35) + "T09:00:00Z"},
		{SaleID: "2002", Amount: money(1500), Method: credit.MethodCash, PaidAt: day(-30) + "T09:00:00Z"},
	}

	return []credit.CreditSaleDetail{
		partial,
		closed,
		newSale("kimironko", "2003", "ERIC M.", "0722000111", day(-5), day(25), 4500, 0,
			item("Beans 5kg", 3, 1500)),
		newSale("kimironko", "2004", "Mama Grace", "", day(-12), day(-2), 6000, 0,
			item("Maize flour 10kg", 2, 3000)),
		newSale("kimironko", "2005", "mama grace ", "", day(-3), "", 1200, 0,
			item("Salt 1kg", 4, 300)),
		newSale("kimironko", "2006", "", "", day(-1), "", 700, 0,
			item("Bread", 1, 700)),
		newSale("kimironko", "2007", "", "", day(0), "", 900, 0,
			item("Milk 1L", 1, 900)),
	}
}

func overdueBookScenario(now time.Time) []credit.CreditSaleDetail {
	day := func(offset int) string { return now.AddDate(0, 0, offset).Format("2006-01-02") }

	paidDown := newSale("remera", "3003", "Claudine", "0733555666", day(-60), day(-30), 20000, 12000,
		item("Cement bag", 4, 5000))
	paidDown.Payments = []credit.Payment{
		{SaleID: "3003", Amount: money(5000), Method: credit.MethodPOS, PaidAt: day(-50) + "T14:00:00Z"},
		{SaleID: "3003", Amount: money(7000), Method: credit.MethodMomo, PaidAt: day(-20) + "T14:00:00Z"},
	}

	return []credit.CreditSaleDetail{
		newSale("remera", "3001", "Patrick", "0788999000", day(-45), day(-15), 15000, 0,
			item("Paint 4L", 3, 5000)),
		newSale("remera", "3002", "Patrick", "0788999000", day(-10), day(20), 3000, 0,
			item("Brush", 2, 1500)),
		paidDown,
		newSale("remera", "3004", "Jean Bosco", "", day(-8), day(-1), 2000, 0,
			item("Nails 1kg", 2, 1000)),
	}
}

func newSale(shop, id, name, phone, date, due string, original, paid int64, items ...credit.SaleItem) credit.CreditSaleDetail {
	return credit.CreditSaleDetail{
		CreditSale: credit.CreditSale{
			SaleID:         credit.SaleID(id),
			ShopID:         credit.ShopID(shop),
			CustomerName:   name,
			CustomerPhone:  phone,
			SaleDate:       date,
			DueDate:        due,
			OriginalAmount: money(original),
			PaidAmount:     money(paid),
			Balance:        money(original - paid),
		},
		Items: items,
	}
}

func item(name string, qty, unitPrice int64) credit.SaleItem {
	return credit.SaleItem{
		Name:      name,
		Quantity:  money(qty),
		UnitPrice: money(unitPrice),
		LineTotal: money(qty * unitPrice),
	}
}

func money(v int64) credit.Money { return decimal.NewFromInt(v) }

func (h *Handler) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}
