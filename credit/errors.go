/*
errors.go - Error taxonomy for the credit engine

ERROR CATEGORIES:
  1. ValidationError - bad input, raised before any remote call, no state
     change. Message is shown to the operator verbatim.
  2. RemoteError - a Ledger Store call failed. Aborts the operation at the
     point of failure. Earlier allocation writes stay applied.
  3. StaleResponseError - internal. A response arrived for a request that
     has since been superseded; it is dropped, never shown.

RECOVERY:
  The engine holds no durable state. The only recovery is "reload from the
  Ledger Store", which callers do after every allocation attempt anyway.

USAGE:
  if errors.Is(err, credit.ErrExceedsOpenBalance) { ... }

  var remote *credit.RemoteError
  if errors.As(err, &remote) { log remote.SaleID }
*/
package credit

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidAmount      = errors.New("amount must be greater than zero")
	ErrExceedsOpenBalance = errors.New("amount exceeds open balance")
	ErrNoGroupSelected    = errors.New("no customer selected")
	ErrInvalidMethod      = errors.New("invalid payment method")
	ErrInvalidFilter      = errors.New("invalid status filter")
	ErrInvalidKey         = errors.New("invalid customer key")

	// ErrSaleNotFound is returned by Ledger Stores for an unknown sale id.
	ErrSaleNotFound = errors.New("credit sale not found")

	// ErrOverpayment is returned by Ledger Stores when a single payment is
	// larger than the sale's balance.
	ErrOverpayment = errors.New("payment exceeds sale balance")

	// ErrRemote marks every RemoteError.
	ErrRemote = errors.New("ledger store call failed")

	// ErrStaleResponse marks every StaleResponseError.
	ErrStaleResponse = errors.New("stale response")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError rejects an operation before any remote call.
type ValidationError struct {
	Code    error // one of the Err* sentinels above
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code.Error()
}

func (e *ValidationError) Unwrap() error { return e.Code }

// RemoteError wraps a failed Ledger Store call.
type RemoteError struct {
	Op         string // listCredits, getCreditDetail, recordPayment
	SaleID     SaleID // empty for listCredits
	StatusCode int    // HTTP status, 0 when the call never got a response
	Err        error
}

func (e *RemoteError) Error() string {
	msg := e.Op
	if e.SaleID != "" {
		msg += " sale " + string(e.SaleID)
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRemote}
	}
	return []error{ErrRemote, e.Err}
}

// asRemote wraps err in a RemoteError unless it already is one.
func asRemote(op string, saleID SaleID, err error) error {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return err
	}
	return &RemoteError{Op: op, SaleID: saleID, Err: err}
}

// StaleResponseError reports a response whose request token is outdated.
type StaleResponseError struct {
	Token   uint64
	Current uint64
}

func (e *StaleResponseError) Error() string {
	return fmt.Sprintf("stale response: token %d superseded by %d", e.Token, e.Current)
}

func (e *StaleResponseError) Unwrap() error { return ErrStaleResponse }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid operator input.
func IsClientError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound returns true if the error indicates a missing sale.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSaleNotFound)
}

// IsStale returns true for dropped, superseded responses.
func IsStale(err error) bool {
	return errors.Is(err, ErrStaleResponse)
}
