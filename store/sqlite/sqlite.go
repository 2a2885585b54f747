/*
Package sqlite provides the SQLite-backed implementation of the ledger
storage interface and the shared-storage leader lease.

PURPOSE:
  One database file holds everything the reconciliation engine
  persists: the primary sales table, the derived task-id and
  invoice-id index tables, the single-row leader lease, withdrawal
  records, their terminal completion markers, and the append-only
  withdrawal audit log.

MERGE-PATCH ENFORCEMENT:
  Sales are updated only through UpdateSaleByOrderID. The patch is
  merged in Go under a per-key mutex and written back with an UPDATE
  that sets ONLY the columns the patch actually changed, so two
  processes patching disjoint fields of the same row cannot lose each
  other's writes.

DERIVED INDEXES:
  sale_task_idx and sale_invoice_idx are caches over the sales table.
  They are maintained on every write and can be reconstructed from
  scratch with RebuildIndexes; the sales table is the only source of
  truth.

LEASE GUARANTEE:
  TryAcquireOrRenew is a single conditional upsert, atomic under
  SQLite's writer lock. This is strict mutual exclusion for processes
  sharing one database file. Over a networked filesystem SQLite's
  locking is unreliable, so there the lease degrades to advisory; use
  the Redis lease for genuinely distributed deployments.

WAL MODE:
  The database is opened with WAL so readers do not block the single
  writer.

SEE ALSO:
  - ledger/store.go: interface definitions
  - ledger/merge.go: patch semantics
  - cluster/redislease.go: the multi-instance lease
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/kbeggemot/fiscal-engine/cluster"
	"github.com/kbeggemot/fiscal-engine/ledger"
)

// Store implements ledger.Store and cluster.Lease on SQLite.
type Store struct {
	db    *sql.DB
	locks keyMutex
}

// New opens (and migrates) the database at path. Use ":memory:" for an
// in-memory database.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	-- Primary sales table. (user_id, order_id) is the sale identity.
	CREATE TABLE IF NOT EXISTS sales (
		user_id            TEXT NOT NULL,
		order_id           TEXT NOT NULL,
		task_id            TEXT NOT NULL DEFAULT '',
		org_id             TEXT NOT NULL DEFAULT '',
		amount             TEXT NOT NULL DEFAULT '0',
		status             TEXT NOT NULL DEFAULT '',
		prepay_invoice_id  TEXT NOT NULL DEFAULT '',
		offset_invoice_id  TEXT NOT NULL DEFAULT '',
		full_invoice_id    TEXT NOT NULL DEFAULT '',
		prepay_receipt_id  TEXT NOT NULL DEFAULT '',
		prepay_receipt_url TEXT NOT NULL DEFAULT '',
		offset_receipt_id  TEXT NOT NULL DEFAULT '',
		offset_receipt_url TEXT NOT NULL DEFAULT '',
		full_receipt_id    TEXT NOT NULL DEFAULT '',
		full_receipt_url   TEXT NOT NULL DEFAULT '',
		prepay_resolved_at TEXT,
		token_fp           TEXT NOT NULL DEFAULT '',
		hidden             INTEGER NOT NULL DEFAULT 0,
		created_at         TEXT NOT NULL,
		updated_at         TEXT NOT NULL,
		PRIMARY KEY (user_id, order_id)
	);

	CREATE INDEX IF NOT EXISTS idx_sales_user
		ON sales(user_id, created_at DESC);

	-- Derived index: payout task id -> sale. Cache, rebuildable.
	CREATE TABLE IF NOT EXISTS sale_task_idx (
		task_id  TEXT PRIMARY KEY,
		user_id  TEXT NOT NULL,
		order_id TEXT NOT NULL
	);

	-- Derived index: per-stage invoice id -> sale. Cache, rebuildable.
	CREATE TABLE IF NOT EXISTS sale_invoice_idx (
		invoice_id TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		order_id   TEXT NOT NULL,
		kind       TEXT NOT NULL
	);

	-- Single-row leader lease. Times are unix milliseconds.
	CREATE TABLE IF NOT EXISTS lease (
		id          INTEGER PRIMARY KEY CHECK (id = 1),
		holder      TEXT NOT NULL,
		acquired_at INTEGER NOT NULL,
		expires_at  INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS withdrawals (
		user_id    TEXT NOT NULL,
		task_id    TEXT NOT NULL,
		status     TEXT NOT NULL DEFAULT '',
		amount     TEXT NOT NULL DEFAULT '0',
		paid_at    TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, task_id)
	);

	-- Terminal completion markers. Rows are inserted once and never
	-- deleted or updated.
	CREATE TABLE IF NOT EXISTS withdrawal_markers (
		user_id      TEXT NOT NULL,
		task_id      TEXT NOT NULL,
		completed_at TEXT NOT NULL,
		PRIMARY KEY (user_id, task_id)
	);

	-- Append-only audit trail, one free-text line per event.
	CREATE TABLE IF NOT EXISTS withdrawal_audit (
		id      INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		at      TEXT NOT NULL,
		line    TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_withdrawal_audit
		ON withdrawal_audit(user_id, task_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SALES
// =============================================================================

const saleCols = `user_id, order_id, task_id, org_id, amount, status,
	prepay_invoice_id, offset_invoice_id, full_invoice_id,
	prepay_receipt_id, prepay_receipt_url,
	offset_receipt_id, offset_receipt_url,
	full_receipt_id, full_receipt_url,
	prepay_resolved_at, token_fp, hidden, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(r rowScanner) (ledger.Sale, error) {
	var s ledger.Sale
	var amount string
	var resolvedAt sql.NullString
	var hidden int
	var createdAt, updatedAt string
	err := r.Scan(
		&s.UserID, &s.OrderID, &s.TaskID, &s.OrgID, &amount, &s.Status,
		&s.PrepayInvoiceID, &s.OffsetInvoiceID, &s.FullInvoiceID,
		&s.PrepayReceiptID, &s.PrepayReceiptURL,
		&s.OffsetReceiptID, &s.OffsetReceiptURL,
		&s.FullReceiptID, &s.FullReceiptURL,
		&resolvedAt, &s.TokenFP, &hidden, &createdAt, &updatedAt,
	)
	if err != nil {
		return s, err
	}
	if s.Amount, err = decimal.NewFromString(amount); err != nil {
		return s, fmt.Errorf("bad amount %q: %w", amount, err)
	}
	if resolvedAt.Valid && resolvedAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, resolvedAt.String)
		if err != nil {
			return s, fmt.Errorf("bad prepay_resolved_at %q: %w", resolvedAt.String, err)
		}
		s.PrepayResolvedAt = &t
	}
	s.Hidden = hidden != 0
	if s.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return s, err
	}
	if s.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return s, err
	}
	return s, nil
}

// InsertSale implements ledger.Store.
func (s *Store) InsertSale(ctx context.Context, sale ledger.Sale) error {
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now()
	}
	sale.UpdatedAt = sale.CreatedAt

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sales (`+saleCols+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sale.UserID, sale.OrderID, sale.TaskID, sale.OrgID,
		sale.Amount.String(), sale.Status,
		sale.PrepayInvoiceID, sale.OffsetInvoiceID, sale.FullInvoiceID,
		sale.PrepayReceiptID, sale.PrepayReceiptURL,
		sale.OffsetReceiptID, sale.OffsetReceiptURL,
		sale.FullReceiptID, sale.FullReceiptURL,
		nullableTime(sale.PrepayResolvedAt), sale.TokenFP, boolInt(sale.Hidden),
		sale.CreatedAt.Format(time.RFC3339Nano), sale.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrDuplicateSale
	}
	return s.indexSale(ctx, sale)
}

// indexSale refreshes the derived index rows for one sale.
func (s *Store) indexSale(ctx context.Context, sale ledger.Sale) error {
	if sale.TaskID != "" {
		if _, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO sale_task_idx (task_id, user_id, order_id)
			VALUES (?,?,?)`, sale.TaskID, sale.UserID, sale.OrderID); err != nil {
			return err
		}
	}
	for _, kind := range ledger.Kinds() {
		inv := sale.InvoiceID(kind)
		if inv == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO sale_invoice_idx (invoice_id, user_id, order_id, kind)
			VALUES (?,?,?,?)`, inv, sale.UserID, sale.OrderID, string(kind)); err != nil {
			return err
		}
	}
	return nil
}

// GetSale implements ledger.Store.
func (s *Store) GetSale(ctx context.Context, userID, orderID string) (*ledger.Sale, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+saleCols+` FROM sales WHERE user_id = ? AND order_id = ?`,
		userID, orderID)
	sale, err := scanSale(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrSaleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// ListSales implements ledger.Store. Newest first.
func (s *Store) ListSales(ctx context.Context, userID string) ([]ledger.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleCols+` FROM sales
		WHERE user_id = ?
		ORDER BY created_at DESC, order_id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSales(rows)
}

// ListUnresolvedSales implements ledger.Store: every sale with at
// least one unresolved receipt kind that has a queryable handle.
func (s *Store) ListUnresolvedSales(ctx context.Context) ([]ledger.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleCols+` FROM sales
		WHERE (prepay_receipt_url = '' AND (prepay_receipt_id <> '' OR prepay_invoice_id <> ''))
		   OR (offset_receipt_url = '' AND (offset_receipt_id <> '' OR offset_invoice_id <> ''))
		   OR (full_receipt_url   = '' AND (full_receipt_id   <> '' OR full_invoice_id   <> ''))
		ORDER BY user_id, order_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSales(rows)
}

func collectSales(rows *sql.Rows) ([]ledger.Sale, error) {
	var out []ledger.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sale)
	}
	return out, rows.Err()
}

// FindSaleByTaskID implements ledger.Store. Resolves through the task
// index; a miss is a value, never a placeholder insert.
func (s *Store) FindSaleByTaskID(ctx context.Context, userID, taskID string) (*ledger.Sale, error) {
	var idxUser, orderID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, order_id FROM sale_task_idx WHERE task_id = ?`,
		taskID).Scan(&idxUser, &orderID)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrSaleNotFound
	}
	if err != nil {
		return nil, err
	}
	if idxUser != userID {
		return nil, ledger.ErrSaleNotFound
	}
	return s.GetSale(ctx, userID, orderID)
}

// UpdateSaleByOrderID implements ledger.Store. Merge-only: the patch
// is applied under the record's key mutex and only the columns that
// changed are written back.
func (s *Store) UpdateSaleByOrderID(ctx context.Context, userID, orderID string, p ledger.SalePatch) (*ledger.Sale, error) {
	unlock := s.locks.lock(userID + "\x00" + orderID)
	defer unlock()

	sale, err := s.GetSale(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	changed := ledger.ApplyPatch(sale, p, time.Now())
	if len(changed) == 0 {
		return sale, nil
	}

	set := make([]string, 0, len(changed))
	args := make([]any, 0, len(changed)+2)
	for _, col := range changed {
		set = append(set, col+" = ?")
		args = append(args, saleColumnValue(sale, col))
	}
	args = append(args, userID, orderID)

	_, err = s.db.ExecContext(ctx,
		"UPDATE sales SET "+strings.Join(set, ", ")+" WHERE user_id = ? AND order_id = ?",
		args...)
	if err != nil {
		return nil, err
	}
	if err := s.indexSale(ctx, *sale); err != nil {
		return nil, err
	}
	return sale, nil
}

// saleColumnValue maps a changed column name back to its value.
func saleColumnValue(s *ledger.Sale, col string) any {
	switch col {
	case "task_id":
		return s.TaskID
	case "org_id":
		return s.OrgID
	case "amount":
		return s.Amount.String()
	case "status":
		return s.Status
	case "prepay_invoice_id":
		return s.PrepayInvoiceID
	case "offset_invoice_id":
		return s.OffsetInvoiceID
	case "full_invoice_id":
		return s.FullInvoiceID
	case "prepay_receipt_id":
		return s.PrepayReceiptID
	case "prepay_receipt_url":
		return s.PrepayReceiptURL
	case "offset_receipt_id":
		return s.OffsetReceiptID
	case "offset_receipt_url":
		return s.OffsetReceiptURL
	case "full_receipt_id":
		return s.FullReceiptID
	case "full_receipt_url":
		return s.FullReceiptURL
	case "prepay_resolved_at":
		return nullableTime(s.PrepayResolvedAt)
	case "token_fp":
		return s.TokenFP
	case "hidden":
		return boolInt(s.Hidden)
	case "updated_at":
		return s.UpdatedAt.Format(time.RFC3339Nano)
	}
	panic("unknown sale column: " + col)
}

// RebuildIndexes implements ledger.Store. Drops and re-derives both
// index tables from the primary sales table in one transaction.
func (s *Store) RebuildIndexes(ctx context.Context) (ledger.RebuildReport, error) {
	var rep ledger.RebuildReport

	sales, err := s.ListAllSales(ctx)
	if err != nil {
		return rep, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rep, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sale_task_idx`); err != nil {
		return rep, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sale_invoice_idx`); err != nil {
		return rep, err
	}

	for _, sale := range sales {
		ok := true
		if sale.TaskID != "" {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO sale_task_idx (task_id, user_id, order_id)
				VALUES (?,?,?)`, sale.TaskID, sale.UserID, sale.OrderID); err != nil {
				ok = false
			}
		}
		for _, kind := range ledger.Kinds() {
			inv := sale.InvoiceID(kind)
			if inv == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO sale_invoice_idx (invoice_id, user_id, order_id, kind)
				VALUES (?,?,?,?)`, inv, sale.UserID, sale.OrderID, string(kind)); err != nil {
				ok = false
			}
		}
		if ok {
			rep.Processed++
		} else {
			rep.Errors++
		}
	}
	if err := tx.Commit(); err != nil {
		return rep, err
	}
	return rep, nil
}

// ListAllSales returns every sale in deterministic order. Used by the
// index rebuild and administrative tooling.
func (s *Store) ListAllSales(ctx context.Context) ([]ledger.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleCols+` FROM sales ORDER BY user_id, order_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSales(rows)
}

// =============================================================================
// LEADER LEASE
// =============================================================================

// TryAcquireOrRenew implements cluster.Lease with one conditional
// upsert, atomic under SQLite's writer lock.
func (s *Store) TryAcquireOrRenew(ctx context.Context, instanceID string, now time.Time, ttl time.Duration) (cluster.State, error) {
	nowMs := now.UnixMilli()
	expMs := now.Add(ttl).UnixMilli()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO lease (id, holder, acquired_at, expires_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			holder      = excluded.holder,
			acquired_at = excluded.acquired_at,
			expires_at  = excluded.expires_at
		WHERE lease.holder = excluded.holder OR lease.expires_at <= ?`,
		instanceID, nowMs, expMs, nowMs)
	if err != nil {
		return cluster.State{}, fmt.Errorf("lease upsert: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return cluster.State{IsLeader: true, Holder: instanceID, ExpiresAt: time.UnixMilli(expMs)}, nil
	}

	var holder string
	var curExp int64
	err = s.db.QueryRowContext(ctx, `SELECT holder, expires_at FROM lease WHERE id = 1`).
		Scan(&holder, &curExp)
	if err != nil {
		return cluster.State{}, fmt.Errorf("lease read: %w", err)
	}
	return cluster.State{IsLeader: false, Holder: holder, ExpiresAt: time.UnixMilli(curExp)}, nil
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

// InsertWithdrawal implements ledger.Store.
func (s *Store) InsertWithdrawal(ctx context.Context, w ledger.Withdrawal) error {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	w.UpdatedAt = w.CreatedAt
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO withdrawals
			(user_id, task_id, status, amount, paid_at, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?)`,
		w.UserID, w.TaskID, w.Status, w.Amount.String(),
		nullableTime(w.PaidAt),
		w.CreatedAt.Format(time.RFC3339Nano), w.UpdatedAt.Format(time.RFC3339Nano))
	return err
}

// GetWithdrawal implements ledger.Store.
func (s *Store) GetWithdrawal(ctx context.Context, userID, taskID string) (*ledger.Withdrawal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, task_id, status, amount, paid_at, created_at, updated_at
		FROM withdrawals WHERE user_id = ? AND task_id = ?`, userID, taskID)

	var w ledger.Withdrawal
	var amount string
	var paidAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&w.UserID, &w.TaskID, &w.Status, &amount, &paidAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, err
	}
	if w.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if paidAt.Valid && paidAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, paidAt.String)
		if err != nil {
			return nil, err
		}
		w.PaidAt = &t
	}
	if w.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if w.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

// UpdateWithdrawal implements ledger.Store.
func (s *Store) UpdateWithdrawal(ctx context.Context, userID, taskID string, p ledger.WithdrawalPatch) (*ledger.Withdrawal, error) {
	unlock := s.locks.lock("w\x00" + userID + "\x00" + taskID)
	defer unlock()

	w, err := s.GetWithdrawal(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if !ledger.ApplyWithdrawalPatch(w, p, time.Now()) {
		return w, nil
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE withdrawals SET status = ?, paid_at = ?, updated_at = ?
		WHERE user_id = ? AND task_id = ?`,
		w.Status, nullableTime(w.PaidAt), w.UpdatedAt.Format(time.RFC3339Nano),
		userID, taskID)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// MarkWithdrawalComplete implements ledger.Store. INSERT OR IGNORE
// makes the first writer win; the marker is never cleared.
func (s *Store) MarkWithdrawalComplete(ctx context.Context, userID, taskID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO withdrawal_markers (user_id, task_id, completed_at)
		VALUES (?,?,?)`,
		userID, taskID, time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// IsWithdrawalComplete implements ledger.Store.
func (s *Store) IsWithdrawalComplete(ctx context.Context, userID, taskID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM withdrawal_markers WHERE user_id = ? AND task_id = ?`,
		userID, taskID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AppendWithdrawalAudit implements ledger.Store.
func (s *Store) AppendWithdrawalAudit(ctx context.Context, userID, taskID, text string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO withdrawal_audit (user_id, task_id, at, line)
		VALUES (?,?,?,?)`,
		userID, taskID, time.Now().Format(time.RFC3339Nano), text)
	return err
}

// ListWithdrawalAudit implements ledger.Store.
func (s *Store) ListWithdrawalAudit(ctx context.Context, userID, taskID string) ([]ledger.AuditLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT at, line FROM withdrawal_audit
		WHERE user_id = ? AND task_id = ? ORDER BY id`, userID, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.AuditLine
	for rows.Next() {
		var at, line string
		if err := rows.Scan(&at, &line); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, err
		}
		out = append(out, ledger.AuditLine{At: t, Text: line})
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var (
	_ ledger.Store  = (*Store)(nil)
	_ cluster.Lease = (*Store)(nil)
)
