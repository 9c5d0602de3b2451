/*
Package ledgerclient is the HTTP transport to a remote Ledger Store.

PURPOSE:
  Implements credit.LedgerStore over the JSON API served by cmd/server, so
  the engine (Session, Allocator, DetailLoader) can run in a different
  process from the system of record. creditctl is its main user.

WIRE FORMAT:
  GET  /api/shops/{shopID}/credits?status=open|closed|all
       → {"summary": {...}, "credits": [...]}  or a bare [...] array
  GET  /api/credits/{saleID}   → credit sale detail
  POST /api/payments           → created payment

ERRORS:
  Every failed call returns a *credit.RemoteError carrying the op, the sale
  id and the HTTP status (0 when no response arrived). Known statuses also
  wrap the matching sentinel:
    404 → credit.ErrSaleNotFound
    409 → credit.ErrOverpayment
*/
package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iclas/credit-engine/credit"
)

const DefaultTimeout = 15 * time.Second

// Client talks to one Ledger Store base URL.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Log     logrus.FieldLogger
}

// New creates a client. A zero timeout uses DefaultTimeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

var _ credit.LedgerStore = (*Client)(nil)

// errorBody mirrors the server's error response.
type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// LEDGER STORE
// =============================================================================

// ListCredits fetches the shop's credit sales. Both response shapes are
// accepted; a bare array leaves Summary nil.
func (c *Client) ListCredits(ctx context.Context, shopID credit.ShopID, status credit.StatusFilter) (credit.CreditList, error) {
	path := "/api/shops/" + url.PathEscape(string(shopID)) + "/credits?status=" + url.QueryEscape(string(status))

	var raw json.RawMessage
	if err := c.do(ctx, "listCredits", "", http.MethodGet, path, nil, &raw); err != nil {
		return credit.CreditList{}, err
	}

	list, err := decodeCreditList(raw)
	if err != nil {
		return credit.CreditList{}, &credit.RemoteError{Op: "listCredits", Err: err}
	}
	return list, nil
}

func decodeCreditList(raw json.RawMessage) (credit.CreditList, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var sales []credit.CreditSale
		if err := json.Unmarshal(trimmed, &sales); err != nil {
			return credit.CreditList{}, fmt.Errorf("decode credit array: %w", err)
		}
		return credit.CreditList{Credits: sales}, nil
	}
	var list credit.CreditList
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return credit.CreditList{}, fmt.Errorf("decode credit list: %w", err)
	}
	return list, nil
}

func (c *Client) GetCreditDetail(ctx context.Context, saleID credit.SaleID) (credit.CreditSaleDetail, error) {
	var detail credit.CreditSaleDetail
	err := c.do(ctx, "getCreditDetail", saleID, http.MethodGet, "/api/credits/"+url.PathEscape(string(saleID)), nil, &detail)
	return detail, err
}

func (c *Client) RecordPayment(ctx context.Context, req credit.PaymentRequest) (credit.Payment, error) {
	var payment credit.Payment
	err := c.do(ctx, "recordPayment", req.SaleID, http.MethodPost, "/api/payments", req, &payment)
	return payment, err
}

// =============================================================================
// TRANSPORT
// =============================================================================

func (c *Client) do(ctx context.Context, op string, saleID credit.SaleID, method, path string, body, out any) error {
	fail := func(status int, err error) error {
		return &credit.RemoteError{Op: op, SaleID: saleID, StatusCode: status, Err: err}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fail(0, fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fail(0, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log := c.logger().WithFields(logrus.Fields{"op": op, "request_id": requestID, "path": path})
	start := time.Now()
	resp, err := c.httpClient().Do(req)
	if err != nil {
		log.WithError(err).Warn("ledger store unreachable")
		return fail(0, err)
	}
	defer resp.Body.Close()
	log.WithFields(logrus.Fields{"status": resp.StatusCode, "took": time.Since(start)}).Debug("ledger store call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(resp.StatusCode, statusError(resp))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fail(resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// statusError turns an error response into an error wrapping the sentinel
// its status stands for.
func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(data))
	var eb errorBody
	if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
		msg = eb.Error
		if eb.Details != "" {
			msg += ": " + eb.Details
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", credit.ErrSaleNotFound, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", credit.ErrOverpayment, msg)
	}
	return errors.New(msg)
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}

var discard = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

func (c *Client) logger() logrus.FieldLogger {
	if c.Log == nil {
		return discard
	}
	return c.Log
}
