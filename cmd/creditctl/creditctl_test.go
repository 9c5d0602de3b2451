package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iclas/credit-engine/api"
	"github.com/iclas/credit-engine/credit"
	"github.com/iclas/credit-engine/store/sqlite"
)

var testNow = time.Date(2024, time.February, 1, 12, 0, 0, 0, time.UTC)

func newLedgerServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	store.Clock = func() time.Time { return testNow }
	t.Cleanup(func() { store.Close() })
	require.NoError(t, api.LoadScenarioByID(context.Background(), store, "jane-two-sales", testNow))

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	h := api.NewHandler(store, log, credit.NewMetrics(prometheus.NewRegistry()))

	srv := httptest.NewServer(api.NewRouter(h, api.RouterOptions{}))
	t.Cleanup(srv.Close)
	return srv
}

// run executes one creditctl invocation against url and returns stdout.
func run(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetArgs(append([]string{"--url", url, "--shop", "shop-1", "--log-level", "warn"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestGroups(t *testing.T) {
	t.Chdir(t.TempDir())
	srv := newLedgerServer(t)

	out, err := run(t, srv.URL, "groups")
	require.NoError(t, err)

	assert.Contains(t, out, "Shop shop-1 (open): 2 credits, 1 customers, open 15000 RWF")
	assert.Contains(t, out, "phone:0788111222")
	assert.Contains(t, out, "Jane")
	assert.Contains(t, out, "OPEN")
}

func TestLedger(t *testing.T) {
	t.Chdir(t.TempDir())
	srv := newLedgerServer(t)

	out, err := run(t, srv.URL, "ledger", "--customer", "phone:0788111222")
	require.NoError(t, err)

	assert.Contains(t, out, "1001")
	assert.Contains(t, out, "1002")
	assert.Contains(t, out, "Rice 25kg x2")
	assert.Contains(t, out, "No payments yet.")
}

func TestPay(t *testing.T) {
	// GIVEN: Jane owes 10,000 and 5,000
	// WHEN: creditctl pay --amount 12000
	// THEN: Both sales are paid oldest first and 3,000 remains

	t.Chdir(t.TempDir())
	srv := newLedgerServer(t)

	out, err := run(t, srv.URL, "pay", "--customer", "phone:0788111222", "--amount", "12000", "--method", "momo", "--note", "market day")
	require.NoError(t, err)

	assert.Contains(t, out, "Applied 12000 RWF by MOMO to phone:0788111222")
	assert.Contains(t, out, "Remaining open balance: 3000 RWF")

	out, err = run(t, srv.URL, "ledger", "--customer", "phone:0788111222")
	require.NoError(t, err)
	assert.Contains(t, out, "market day")
	assert.NotContains(t, out, "No payments yet.")
}

func TestPay_DryRunWritesNothing(t *testing.T) {
	t.Chdir(t.TempDir())
	srv := newLedgerServer(t)

	out, err := run(t, srv.URL, "pay", "--customer", "phone:0788111222", "--amount", "12000", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Plan (nothing written):")
	assert.Contains(t, out, "1001")

	out, err = run(t, srv.URL, "groups")
	require.NoError(t, err)
	assert.Contains(t, out, "open 15000 RWF")
}

func TestPay_Rejects(t *testing.T) {
	t.Chdir(t.TempDir())
	srv := newLedgerServer(t)

	tests := []struct {
		name string
		args []string
	}{
		{"exceeds open balance", []string{"--amount", "15001"}},
		{"zero amount", []string{"--amount", "0"}},
		{"not a number", []string{"--amount", "ten"}},
		{"bad method", []string{"--amount", "100", "--method", "cheque"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"pay", "--customer", "phone:0788111222"}, tt.args...)
			_, err := run(t, srv.URL, args...)
			assert.Error(t, err)
		})
	}

	out, err := run(t, srv.URL, "groups")
	require.NoError(t, err)
	assert.Contains(t, out, "open 15000 RWF", "rejected payments write nothing")
}

func TestRequiresShop(t *testing.T) {
	t.Chdir(t.TempDir())

	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetArgs([]string{"groups"})
	assert.Error(t, root.Execute())
}
