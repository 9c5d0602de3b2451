/*
Package sqlite provides a SQLite-backed Ledger Store.

PURPOSE:
  The reference system of record for credit sales and their payments. It
  implements credit.LedgerStore (listCredits, getCreditDetail,
  recordPayment) and credit.IntentLog, and is what cmd/server exposes
  over HTTP. In production the same schema ports to PostgreSQL with only
  dialect changes.

KEY TABLES:
  credit_sales:        One row per credit sale. Balance is kept here.
  sale_items:          POS lines of each sale, display only
  payments:            Immutable, one row per payment applied to a sale
  allocation_intents:  Planned payment writes of an allocation and their outcome

MONEY:
  Amounts are stored as TEXT decimal strings and scanned back into
  decimal.Decimal, so no value ever passes through float64.

  is_open mirrors balance > 0 so the status filter runs in SQL.

PAYMENTS:
  RecordPayment runs in a single SQL transaction: read the sale, reject an
  overpayment, insert the payment, update paid_amount and balance. A sale
  can never go below zero.

CONCURRENCY:
  Uses sync.RWMutex around the connection. SQLite allows one writer;
  WAL mode lets readers proceed alongside it.

USAGE:
  store, err := sqlite.New("./data/credit.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  session := credit.NewSession(store, "shop-1")

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - credit/store.go: Interface definitions
  - credit/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/iclas/credit-engine/credit"
)

// Store implements credit.LedgerStore and credit.IntentLog using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	// Clock stamps payments and intents. Defaults to time.Now in UTC.
	Clock func() time.Time
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS credit_sales (
		sale_id TEXT PRIMARY KEY,
		shop_id TEXT NOT NULL,
		customer_name TEXT,
		customer_phone TEXT,
		sale_date TEXT,
		due_date TEXT,
		created_at TEXT NOT NULL,
		original_amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		balance TEXT NOT NULL,
		profit TEXT,
		is_open INTEGER NOT NULL
	);

	-- listCredits hot path
	CREATE INDEX IF NOT EXISTS idx_credit_sales_shop_open_date
		ON credit_sales(shop_id, is_open, sale_date, sale_id);

	CREATE TABLE IF NOT EXISTS sale_items (
		sale_id TEXT NOT NULL REFERENCES credit_sales(sale_id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		item_id TEXT,
		name TEXT NOT NULL,
		quantity TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		line_total TEXT NOT NULL,
		PRIMARY KEY (sale_id, position)
	);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL REFERENCES credit_sales(sale_id) ON DELETE CASCADE,
		amount TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		paid_at TEXT,
		created_at TEXT NOT NULL,
		note TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_payments_sale
		ON payments(sale_id, paid_at);

	CREATE TABLE IF NOT EXISTS allocation_intents (
		id TEXT PRIMARY KEY,
		allocation_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		customer_key TEXT NOT NULL,
		sale_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		note TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		payment_id TEXT,
		error TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_allocation_intents_status
		ON allocation_intents(status, created_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_allocation_intents_seq
		ON allocation_intents(allocation_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CREDIT SALES (intake)
// =============================================================================

// SaveCreditSale inserts or replaces a sale together with its item lines and
// any historical payments. Balance is derived from the original and paid
// amounts when not set.
func (s *Store) SaveCreditSale(ctx context.Context, d credit.CreditSaleDetail) error {
	if d.SaleID == "" {
		return fmt.Errorf("sale_id is required")
	}
	if d.Balance.IsZero() && d.PaidAmount.LessThan(d.OriginalAmount) {
		d.Balance = d.OriginalAmount.Sub(d.PaidAmount)
	}
	createdAt := d.CreatedAt
	if createdAt == "" {
		createdAt = s.now().Format(time.RFC3339)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	// Replacing a sale replaces its children
	if _, err := sqlTx.ExecContext(ctx, `DELETE FROM credit_sales WHERE sale_id = ?`, d.SaleID); err != nil {
		return fmt.Errorf("failed to replace credit sale: %w", err)
	}

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO credit_sales
		(sale_id, shop_id, customer_name, customer_phone, sale_date, due_date, created_at,
		 original_amount, paid_amount, balance, profit, is_open)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.SaleID,
		d.ShopID,
		nullString(d.CustomerName),
		nullString(d.CustomerPhone),
		nullString(d.SaleDate),
		nullString(d.DueDate),
		createdAt,
		d.OriginalAmount.String(),
		d.PaidAmount.String(),
		d.Balance.String(),
		d.Profit,
		boolInt(d.Balance.IsPositive()),
	)
	if err != nil {
		return fmt.Errorf("failed to insert credit sale: %w", err)
	}

	for i, item := range d.Items {
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, position, item_id, name, quantity, unit_price, line_total)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, d.SaleID, i, nullString(item.ItemID), item.Name,
			item.Quantity.String(), item.UnitPrice.String(), item.LineTotal.String())
		if err != nil {
			return fmt.Errorf("failed to insert sale item: %w", err)
		}
	}

	for _, p := range d.Payments {
		if p.ID == "" {
			p.ID = credit.PaymentID(uuid.NewString())
		}
		if p.CreatedAt == "" {
			p.CreatedAt = createdAt
		}
		p.SaleID = d.SaleID
		if err := insertPayment(ctx, sqlTx, p); err != nil {
			return err
		}
	}

	return sqlTx.Commit()
}

// =============================================================================
// LEDGER STORE (credit.LedgerStore interface)
// =============================================================================

const saleColumns = `
	sale_id, shop_id, customer_name, customer_phone, sale_date, due_date, created_at,
	original_amount, paid_amount, balance, profit`

// ListCredits returns the shop's sales matching status, ordered by
// (sale_date, sale_id), with a shop-wide summary of the returned rows.
func (s *Store) ListCredits(ctx context.Context, shopID credit.ShopID, status credit.StatusFilter) (credit.CreditList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + saleColumns + ` FROM credit_sales WHERE shop_id = ?`
	args := []any{shopID}
	switch status {
	case credit.FilterOpen:
		query += ` AND is_open = 1`
	case credit.FilterClosed:
		query += ` AND is_open = 0`
	}
	query += ` ORDER BY sale_date ASC, sale_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return credit.CreditList{}, fmt.Errorf("failed to list credits: %w", err)
	}
	defer rows.Close()

	sales := []credit.CreditSale{}
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return credit.CreditList{}, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return credit.CreditList{}, err
	}

	summary := credit.Summarize(credit.Aggregate(sales, s.now()))
	return credit.CreditList{Summary: &summary, Credits: sales}, nil
}

// GetCreditDetail returns one sale with its items and payments in paid_at
// order.
func (s *Store) GetCreditDetail(ctx context.Context, saleID credit.SaleID) (credit.CreditSaleDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM credit_sales WHERE sale_id = ?`, saleID)
	sale, err := scanSale(row)
	if errors.Is(err, sql.ErrNoRows) {
		return credit.CreditSaleDetail{}, credit.ErrSaleNotFound
	}
	if err != nil {
		return credit.CreditSaleDetail{}, err
	}

	detail := credit.CreditSaleDetail{CreditSale: sale, Items: []credit.SaleItem{}}
	if detail.Items, err = s.loadItems(ctx, saleID); err != nil {
		return credit.CreditSaleDetail{}, err
	}
	if detail.Payments, err = s.loadPayments(ctx, saleID); err != nil {
		return credit.CreditSaleDetail{}, err
	}
	return detail, nil
}

func (s *Store) loadItems(ctx context.Context, saleID credit.SaleID) ([]credit.SaleItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, name, quantity, unit_price, line_total
		FROM sale_items WHERE sale_id = ? ORDER BY position
	`, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sale items: %w", err)
	}
	defer rows.Close()

	items := []credit.SaleItem{}
	for rows.Next() {
		var item credit.SaleItem
		var itemID sql.NullString
		if err := rows.Scan(&itemID, &item.Name, &item.Quantity, &item.UnitPrice, &item.LineTotal); err != nil {
			return nil, fmt.Errorf("failed to scan sale item: %w", err)
		}
		item.ItemID = itemID.String
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) loadPayments(ctx context.Context, saleID credit.SaleID) ([]credit.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, amount, payment_method, paid_at, created_at, note
		FROM payments WHERE sale_id = ?
		ORDER BY COALESCE(paid_at, created_at) ASC, created_at ASC
	`, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payments: %w", err)
	}
	defer rows.Close()

	payments := []credit.Payment{}
	for rows.Next() {
		var p credit.Payment
		var paidAt, note sql.NullString
		if err := rows.Scan(&p.ID, &p.SaleID, &p.Amount, &p.Method, &paidAt, &p.CreatedAt, &note); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.PaidAt = paidAt.String
		p.Note = note.String
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// RecordPayment applies one payment to one sale atomically.
func (s *Store) RecordPayment(ctx context.Context, req credit.PaymentRequest) (credit.Payment, error) {
	if !req.Amount.IsPositive() {
		return credit.Payment{}, credit.ErrInvalidAmount
	}
	if !req.Method.Valid() {
		return credit.Payment{}, credit.ErrInvalidMethod
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return credit.Payment{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	var paid, balance decimal.Decimal
	err = sqlTx.QueryRowContext(ctx,
		`SELECT paid_amount, balance FROM credit_sales WHERE sale_id = ?`, req.SaleID,
	).Scan(&paid, &balance)
	if errors.Is(err, sql.ErrNoRows) {
		return credit.Payment{}, credit.ErrSaleNotFound
	}
	if err != nil {
		return credit.Payment{}, fmt.Errorf("failed to read sale: %w", err)
	}
	if req.Amount.GreaterThan(balance) {
		return credit.Payment{}, credit.ErrOverpayment
	}

	now := s.now().Format(time.RFC3339Nano)
	p := credit.Payment{
		ID:        credit.PaymentID(uuid.NewString()),
		SaleID:    req.SaleID,
		Amount:    req.Amount,
		Method:    req.Method,
		PaidAt:    now,
		CreatedAt: now,
		Note:      req.Note,
	}
	if err := insertPayment(ctx, sqlTx, p); err != nil {
		return credit.Payment{}, err
	}

	paid = paid.Add(req.Amount)
	balance = balance.Sub(req.Amount)
	_, err = sqlTx.ExecContext(ctx,
		`UPDATE credit_sales SET paid_amount = ?, balance = ?, is_open = ? WHERE sale_id = ?`,
		paid.String(), balance.String(), boolInt(balance.IsPositive()), req.SaleID,
	)
	if err != nil {
		return credit.Payment{}, fmt.Errorf("failed to update sale balance: %w", err)
	}

	if err := sqlTx.Commit(); err != nil {
		return credit.Payment{}, fmt.Errorf("failed to commit payment: %w", err)
	}
	return p, nil
}

func insertPayment(ctx context.Context, db interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, p credit.Payment) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO payments (id, sale_id, amount, payment_method, paid_at, created_at, note)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.SaleID, p.Amount.String(), p.Method, nullString(p.PaidAt), p.CreatedAt, nullString(p.Note))
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// =============================================================================
// INTENT LOG (credit.IntentLog interface)
// =============================================================================

func (s *Store) RecordIntent(ctx context.Context, in credit.AllocationIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.CreatedAt.IsZero() {
		in.CreatedAt = s.now()
	}
	if in.UpdatedAt.IsZero() {
		in.UpdatedAt = in.CreatedAt
	}
	if in.Status == "" {
		in.Status = credit.IntentPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO allocation_intents
		(id, allocation_id, seq, customer_key, sale_id, amount, payment_method, note,
		 status, payment_id, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		in.ID, in.AllocationID, in.Seq, in.CustomerKey.String(), in.SaleID,
		in.Amount.String(), in.Method, nullString(in.Note), in.Status,
		nullString(string(in.PaymentID)), nullString(in.Error),
		in.CreatedAt.UTC().Format(time.RFC3339Nano), in.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("intent %s already recorded", in.ID)
		}
		return fmt.Errorf("failed to record intent: %w", err)
	}
	return nil
}

func (s *Store) ResolveIntent(ctx context.Context, id string, status credit.IntentStatus, paymentID credit.PaymentID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE allocation_intents SET status = ?, payment_id = ?, error = ?, updated_at = ?
		WHERE id = ?
	`, status, nullString(string(paymentID)), nullString(errMsg), s.now().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to resolve intent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("intent %s not found", id)
	}
	return nil
}

// ListIntents returns intents oldest first, optionally filtered by status.
func (s *Store) ListIntents(ctx context.Context, status credit.IntentStatus) ([]credit.AllocationIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, allocation_id, seq, customer_key, sale_id, amount, payment_method, note,
		       status, payment_id, error, created_at, updated_at
		FROM allocation_intents`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC, allocation_id ASC, seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list intents: %w", err)
	}
	defer rows.Close()

	intents := []credit.AllocationIntent{}
	for rows.Next() {
		var in credit.AllocationIntent
		var key, createdAt, updatedAt string
		var note, paymentID, errMsg sql.NullString
		if err := rows.Scan(
			&in.ID, &in.AllocationID, &in.Seq, &key, &in.SaleID, &in.Amount, &in.Method, &note,
			&in.Status, &paymentID, &errMsg, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan intent: %w", err)
		}
		in.CustomerKey, _ = credit.ParseCustomerKey(key)
		in.Note = note.String
		in.PaymentID = credit.PaymentID(paymentID.String)
		in.Error = errMsg.String
		in.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		in.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		intents = append(intents, in)
	}
	return intents, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"allocation_intents", "payments", "sale_items", "credit_sales"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (credit.CreditSale, error) {
	var sale credit.CreditSale
	var name, phone, saleDate, dueDate sql.NullString
	err := row.Scan(
		&sale.SaleID, &sale.ShopID, &name, &phone, &saleDate, &dueDate, &sale.CreatedAt,
		&sale.OriginalAmount, &sale.PaidAmount, &sale.Balance, &sale.Profit,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sale, err
		}
		return sale, fmt.Errorf("failed to scan credit sale: %w", err)
	}
	sale.CustomerName = name.String
	sale.CustomerPhone = phone.String
	sale.SaleDate = saleDate.String
	sale.DueDate = dueDate.String
	return sale, nil
}

func (s *Store) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY"))
}
