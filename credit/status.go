package credit

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// STATUS CLASSIFIER - Pure predicates, no side effects
// =============================================================================

// IsOpen reports whether the sale still carries debt.
func IsOpen(s CreditSale) bool {
	return s.Balance.IsPositive()
}

// IsOverdue reports whether an open sale's due date is strictly before the
// start of today's day. Closed sales are never overdue.
func IsOverdue(s CreditSale, today time.Time) bool {
	if !IsOpen(s) {
		return false
	}
	due, ok := ParseDate(s.DueDate, today.Location())
	if !ok {
		return false
	}
	return due.Before(StartOfDay(today))
}

type GroupStatus string

const (
	GroupOpen    GroupStatus = "OPEN"
	GroupOverdue GroupStatus = "OVERDUE"
	GroupClosed  GroupStatus = "CLOSED"
)

// Status classifies the group. CLOSED takes precedence over OVERDUE.
func (g CustomerGroup) Status() GroupStatus {
	switch {
	case !g.Totals.OpenBalance.IsPositive():
		return GroupClosed
	case g.OverdueCount > 0:
		return GroupOverdue
	default:
		return GroupOpen
	}
}

// =============================================================================
// STATUS FILTER - What the caller asks the Ledger Store for
// =============================================================================

type StatusFilter string

const (
	FilterOpen   StatusFilter = "open"
	FilterClosed StatusFilter = "closed"
	FilterAll    StatusFilter = "all"
)

// ParseStatusFilter accepts open, closed or all. Empty means open, the
// operator's default tab.
func ParseStatusFilter(s string) (StatusFilter, error) {
	switch f := StatusFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FilterOpen, nil
	case FilterOpen, FilterClosed, FilterAll:
		return f, nil
	}
	return "", &ValidationError{Code: ErrInvalidFilter, Message: fmt.Sprintf("unknown status filter %q", s)}
}

// Matches applies the filter to a single row.
func (f StatusFilter) Matches(s CreditSale) bool {
	switch f {
	case FilterOpen:
		return IsOpen(s)
	case FilterClosed:
		return !IsOpen(s)
	default:
		return true
	}
}
