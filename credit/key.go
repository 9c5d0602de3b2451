package credit

import (
	"fmt"
	"strings"
)

// =============================================================================
// CUSTOMER KEY - Display-time grouping identity, never persisted
// =============================================================================

type KeyKind string

const (
	KeyPhone   KeyKind = "phone"
	KeyName    KeyKind = "name"
	KeyUnknown KeyKind = "unknown"
)

// CustomerKey is a tagged key compared structurally. Two sales belong to the
// same customer iff their keys are ==. Raw name/phone data can never collide
// with the tag because the tag is a separate field.
type CustomerKey struct {
	Kind  KeyKind
	Value string
}

const noSale = "nosale"

// DeriveKey resolves a sale's customer fields to a key:
//  1. trimmed phone, if any
//  2. else trimmed, lowercased name, if any
//  3. else the sale id, so anonymous sales are never merged
//
// It is total: the result always has a non-empty Value.
func DeriveKey(name, phone string, saleID SaleID) CustomerKey {
	if p := strings.TrimSpace(phone); p != "" {
		return CustomerKey{Kind: KeyPhone, Value: p}
	}
	if n := strings.ToLower(strings.TrimSpace(name)); n != "" {
		return CustomerKey{Kind: KeyName, Value: n}
	}
	id := strings.TrimSpace(string(saleID))
	if id == "" {
		id = noSale
	}
	return CustomerKey{Kind: KeyUnknown, Value: id}
}

func (k CustomerKey) IsZero() bool { return k.Kind == "" && k.Value == "" }

// String renders the key as "kind:value" for URLs and display.
func (k CustomerKey) String() string {
	return string(k.Kind) + ":" + k.Value
}

// ParseCustomerKey is the inverse of String. Only the first ':' separates the
// kind, so values may contain colons.
func ParseCustomerKey(s string) (CustomerKey, error) {
	kind, value, ok := strings.Cut(s, ":")
	if !ok || value == "" {
		return CustomerKey{}, &ValidationError{Code: ErrInvalidKey, Message: fmt.Sprintf("malformed customer key %q", s)}
	}
	switch KeyKind(kind) {
	case KeyPhone, KeyName, KeyUnknown:
		return CustomerKey{Kind: KeyKind(kind), Value: value}, nil
	}
	return CustomerKey{}, &ValidationError{Code: ErrInvalidKey, Message: fmt.Sprintf("unknown customer key kind %q", kind)}
}

func (k CustomerKey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *CustomerKey) UnmarshalText(text []byte) error {
	parsed, err := ParseCustomerKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
