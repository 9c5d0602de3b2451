package credit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iclas/credit-engine/credit"
)

func TestDeriveKey_Policy(t *testing.T) {
	tests := []struct {
		name   string
		cname  string
		phone  string
		saleID credit.SaleID
		want   string
	}{
		{"phone wins over name", "Jane", "0788111222", "1", "phone:0788111222"},
		{"phone is trimmed", "", "  0788111222 ", "1", "phone:0788111222"},
		{"blank phone falls back to name", "Jane Doe", "   ", "1", "name:jane doe"},
		{"name is trimmed and lowercased", "  JANE ", "", "1", "name:jane"},
		{"anonymous uses sale id", "", "", "77", "unknown:77"},
		{"all empty", "", "", "", "unknown:nosale"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := credit.DeriveKey(tt.cname, tt.phone, tt.saleID)
			assert.Equal(t, tt.want, got.String())
			assert.NotEmpty(t, got.Value, "key must never be empty")
		})
	}
}

func TestDeriveKey_AnonymousSalesAreNotMerged(t *testing.T) {
	// GIVEN: Two sales with no name and no phone
	// WHEN: Grouping them
	// THEN: Each sale is its own customer

	a := credit.DeriveKey("", "", "77")
	b := credit.DeriveKey("", "", "78")

	assert.Equal(t, "unknown:77", a.String())
	assert.Equal(t, "unknown:78", b.String())
	assert.NotEqual(t, a, b)

	groups := credit.Aggregate([]credit.CreditSale{
		sale("77", "", "", "2024-01-01", 100, 100),
		sale("78", "", "", "2024-01-02", 100, 100),
	}, testToday)
	assert.Len(t, groups, 2)
}

func TestDeriveKey_DelimiterInsideNameDoesNotCollide(t *testing.T) {
	// A name that looks like a phone key must not merge with that phone.
	byName := credit.DeriveKey("phone:0788", "", "1")
	byPhone := credit.DeriveKey("", "0788", "2")

	assert.NotEqual(t, byName, byPhone)
	assert.Equal(t, credit.KeyName, byName.Kind)
}

func TestParseCustomerKey_RoundTrip(t *testing.T) {
	for _, k := range []credit.CustomerKey{
		{Kind: credit.KeyPhone, Value: "0788111222"},
		{Kind: credit.KeyName, Value: "jane: the elder"},
		{Kind: credit.KeyUnknown, Value: "77"},
	} {
		parsed, err := credit.ParseCustomerKey(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	_, err := credit.ParseCustomerKey("email:jane@example.com")
	assert.ErrorIs(t, err, credit.ErrInvalidKey)
	_, err = credit.ParseCustomerKey("phone:")
	assert.ErrorIs(t, err, credit.ErrInvalidKey)
}
