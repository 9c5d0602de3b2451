/*
handlers.go - HTTP API handlers for the credit ledger

PURPOSE:
  Exposes the SQLite Ledger Store and the allocation engine via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to the
  credit package.

ENDPOINTS:
  Ledger Store:
    GET    /api/shops/{shopID}/credits?status=   List credit sales
    GET    /api/credits/{saleID}                 Credit sale detail
    POST   /api/payments                         Record one payment on one sale

  Engine:
    GET    /api/shops/{shopID}/customers?status=                Customer groups
    GET    /api/shops/{shopID}/customers/{key}/ledger?status=   Customer ledger
    POST   /api/shops/{shopID}/customers/{key}/payments         Allocate a payment

  Allocation intents:
    GET    /api/allocations/intents?status=      Intent log

  Scenarios:
    GET    /api/scenarios              List demo scenarios
    POST   /api/scenarios/load         Load a demo scenario
    POST   /api/scenarios/reset        Clear the database

CUSTOMER KEYS IN URLS:
  {key} is CustomerKey.String() path-escaped, e.g. phone:0788111222 or
  name:jane%20doe.

REQUEST FLOW (engine endpoints):
  Each request builds a credit.Session over the store, loads the groups
  for the requested filter, selects the customer and, for payments,
  allocates then reloads. Nothing is cached between requests.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Unknown sale or customer
  - 409: Payment exceeds the sale balance
  - 502: A Ledger Store write failed during an allocation
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/iclas/credit-engine/credit"
	"github.com/iclas/credit-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store             *sqlite.Store
	Log               logrus.FieldLogger
	Metrics           *credit.Metrics
	DetailConcurrency int
	Clock             func() time.Time

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store, log logrus.FieldLogger, metrics *credit.Metrics) *Handler {
	return &Handler{
		Store:             store,
		Log:               log,
		Metrics:           metrics,
		DetailConcurrency: credit.DefaultDetailConcurrency,
	}
}

// newSession builds a per-request engine session over the store.
func (h *Handler) newSession(shopID credit.ShopID) *credit.Session {
	s := credit.NewSession(h.Store, shopID)
	s.Log = h.logger()
	s.Metrics = h.Metrics
	s.Clock = h.Clock
	s.Loader = &credit.DetailLoader{Store: h.Store, Concurrency: h.DetailConcurrency, Metrics: h.Metrics}
	s.Allocator = &credit.Allocator{
		Store:   h.Store,
		Intents: h.Store,
		Log:     h.logger(),
		Metrics: h.Metrics,
		Clock:   h.Clock,
	}
	return s
}

// =============================================================================
// LEDGER STORE HANDLERS
// =============================================================================

// ListCredits returns a shop's credit sales with a summary.
func (h *Handler) ListCredits(w http.ResponseWriter, r *http.Request) {
	filter, err := credit.ParseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid status filter", err)
		return
	}

	list, err := h.Store.ListCredits(r.Context(), credit.ShopID(chi.URLParam(r, "shopID")), filter)
	if err != nil {
		h.writeDomainError(w, r, "failed to list credits", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetCreditDetail returns one sale with items and payments.
func (h *Handler) GetCreditDetail(w http.ResponseWriter, r *http.Request) {
	saleID := credit.SaleID(chi.URLParam(r, "saleID"))

	detail, err := h.Store.GetCreditDetail(r.Context(), saleID)
	if err != nil {
		h.writeDomainError(w, r, "failed to get credit sale", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// RecordPayment applies one payment to one sale.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req credit.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.SaleID == "" {
		writeError(w, http.StatusBadRequest, "sale_id is required", nil)
		return
	}
	method, err := credit.ParsePaymentMethod(string(req.Method))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payment method", err)
		return
	}
	req.Method = method

	payment, err := h.Store.RecordPayment(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, r, "failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

// =============================================================================
// ENGINE HANDLERS
// =============================================================================

// ListCustomers groups a shop's credit sales by customer.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	shopID := credit.ShopID(chi.URLParam(r, "shopID"))
	filter, err := credit.ParseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid status filter", err)
		return
	}

	session := h.newSession(shopID)
	groups, err := session.LoadGroups(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, "failed to load customers", err)
		return
	}

	writeJSON(w, http.StatusOK, CustomersResponse{
		ShopID:    shopID,
		Filter:    filter,
		Summary:   session.Summary(),
		Customers: toGroupDTOs(groups),
	})
}

// GetCustomerLedger returns one customer's sales and chronological payments.
func (h *Handler) GetCustomerLedger(w http.ResponseWriter, r *http.Request) {
	key, ok := customerKeyParam(w, r)
	if !ok {
		return
	}
	filter, err := credit.ParseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid status filter", err)
		return
	}

	session := h.newSession(credit.ShopID(chi.URLParam(r, "shopID")))
	if _, err := session.LoadGroups(r.Context(), filter); err != nil {
		h.writeDomainError(w, r, "failed to load customers", err)
		return
	}
	view, err := session.Select(r.Context(), key)
	if err != nil {
		h.writeDomainError(w, r, "failed to load customer ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// AllocatePayment spreads one lump-sum payment over the customer's open
// sales, oldest first, and returns the reloaded customer.
func (h *Handler) AllocatePayment(w http.ResponseWriter, r *http.Request) {
	key, ok := customerKeyParam(w, r)
	if !ok {
		return
	}
	var req AllocatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	method, err := credit.ParsePaymentMethod(req.Method)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payment method", err)
		return
	}
	filter, err := credit.ParseStatusFilter(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid status filter", err)
		return
	}

	ctx := r.Context()
	session := h.newSession(credit.ShopID(chi.URLParam(r, "shopID")))
	if _, err := session.LoadGroups(ctx, filter); err != nil {
		h.writeDomainError(w, r, "failed to load customers", err)
		return
	}
	if _, err := session.Select(ctx, key); err != nil {
		h.writeDomainError(w, r, "failed to load customer ledger", err)
		return
	}

	result, err := session.Pay(ctx, req.Amount, method, req.Note)
	if err != nil {
		h.writeDomainError(w, r, "payment allocation failed", err)
		return
	}

	resp := AllocationResponse{Allocation: result}
	if g, ok := session.Selected(); ok {
		resp.Customer = &CustomerGroupDTO{CustomerGroup: g, Status: g.Status()}
	}
	if v, ok := session.View(); ok {
		resp.Ledger = &v
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ListIntents returns the allocation intent log.
func (h *Handler) ListIntents(w http.ResponseWriter, r *http.Request) {
	status := credit.IntentStatus(r.URL.Query().Get("status"))
	switch status {
	case "", credit.IntentPending, credit.IntentApplied, credit.IntentFailed:
	default:
		writeError(w, http.StatusBadRequest, "invalid intent status", nil)
		return
	}

	intents, err := h.Store.ListIntents(r.Context(), status)
	if err != nil {
		h.writeDomainError(w, r, "failed to list intents", err)
		return
	}
	writeJSON(w, http.StatusOK, IntentsResponse{Intents: intents})
}

// =============================================================================
// HELPERS
// =============================================================================

// customerKeyParam reads the {key} segment. chi matches on RawPath when the
// request has one, leaving the param escaped; otherwise it is already decoded.
func customerKeyParam(w http.ResponseWriter, r *http.Request) (credit.CustomerKey, bool) {
	raw := chi.URLParam(r, "key")
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid customer key", err)
			return credit.CustomerKey{}, false
		}
		raw = unescaped
	}
	key, err := credit.ParseCustomerKey(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid customer key", err)
		return credit.CustomerKey{}, false
	}
	return key, true
}

// statusFor maps an engine or store error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, credit.ErrSaleNotFound), errors.Is(err, credit.ErrNoGroupSelected):
		return http.StatusNotFound
	case errors.Is(err, credit.ErrOverpayment):
		return http.StatusConflict
	case credit.IsClientError(err),
		errors.Is(err, credit.ErrInvalidAmount),
		errors.Is(err, credit.ErrInvalidMethod):
		return http.StatusBadRequest
	case errors.Is(err, credit.ErrRemote):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger().WithError(err).WithField("path", r.URL.Path).Error(message)
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func (h *Handler) logger() logrus.FieldLogger {
	if h.Log == nil {
		return logrus.StandardLogger()
	}
	return h.Log
}
