/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. The Ledger Store
  endpoints (credits, payments) speak the credit package types directly,
  since that wire format is shared with ledgerclient. The engine endpoints
  (customers, ledger, allocation) wrap derived values in DTOs.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Customers:
    CustomerGroupDTO, CustomersResponse

  Allocation:
    AllocatePaymentRequest, AllocationResponse

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - credit/types.go: Shared wire types
*/
package api

import (
	"github.com/iclas/credit-engine/credit"
)

// =============================================================================
// CUSTOMERS
// =============================================================================

// CustomerGroupDTO is a customer group with its computed status.
type CustomerGroupDTO struct {
	credit.CustomerGroup
	Status credit.GroupStatus `json:"status"`
}

// CustomersResponse is the grouped view of a shop's credit book.
type CustomersResponse struct {
	ShopID    credit.ShopID        `json:"shop_id"`
	Filter    credit.StatusFilter  `json:"filter"`
	Summary   credit.CreditSummary `json:"summary"`
	Customers []CustomerGroupDTO   `json:"customers"`
}

func toGroupDTOs(groups []credit.CustomerGroup) []CustomerGroupDTO {
	out := make([]CustomerGroupDTO, len(groups))
	for i, g := range groups {
		out[i] = CustomerGroupDTO{CustomerGroup: g, Status: g.Status()}
	}
	return out
}

// =============================================================================
// ALLOCATION
// =============================================================================

// AllocatePaymentRequest is one lump-sum payment from a customer.
type AllocatePaymentRequest struct {
	Amount credit.Money `json:"amount"`
	Method string       `json:"payment_method"`
	Note   string       `json:"note,omitempty"`

	// Filter the customer is looked up under. Empty means open.
	Status string `json:"status,omitempty"`
}

// AllocationResponse reports what was written and the reloaded state.
// Customer and Ledger are nil when the payment settled the customer and the
// filter no longer lists them.
type AllocationResponse struct {
	Allocation *credit.AllocationResult   `json:"allocation"`
	Customer   *CustomerGroupDTO          `json:"customer,omitempty"`
	Ledger     *credit.CustomerLedgerView `json:"ledger,omitempty"`
}

// =============================================================================
// INTENTS
// =============================================================================

type IntentsResponse struct {
	Intents []credit.AllocationIntent `json:"intents"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ShopID      string `json:"shop_id"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
