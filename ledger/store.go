/*
store.go - Persistence interface for the sales ledger

PURPOSE:
  Defines the interface between reconciliation logic and the storage
  backend. Different implementations can use SQLite or in-memory
  storage; workers and HTTP handlers only ever see this interface.

MERGE-ONLY CONTRACT:
  Sales are mutated exclusively through UpdateSaleByOrderID, which
  applies a whitelisted merge-patch inside a per-key critical section
  (see merge.go). There is no whole-record save for existing sales.

SECONDARY INDEXES:
  Lookups by task id and invoice id go through derived indexes. The
  indexes are caches: always re-derivable from the primary list via
  RebuildIndexes, which is idempotent and safe to re-run.

IMPLEMENTATIONS:
  - store/sqlite: production backend (also hosts the leader lease)
  - store/memory: in-memory backend for tests and development

SEE ALSO:
  - merge.go: patch semantics
  - ../cluster/lease.go: lease interface sharing the same backend
*/
package ledger

import "context"

// Store is the durable home of sales, withdrawals, completion markers
// and the withdrawal audit trail.
type Store interface {
	// InsertSale creates a new sale. Returns ErrDuplicateSale if the
	// (user, order) pair already exists.
	InsertSale(ctx context.Context, s Sale) error

	// GetSale returns one sale or ErrSaleNotFound.
	GetSale(ctx context.Context, userID, orderID string) (*Sale, error)

	// ListSales returns all sales of a user, newest first.
	ListSales(ctx context.Context, userID string) ([]Sale, error)

	// ListUnresolvedSales returns every sale (across users) with at
	// least one queryable unresolved receipt kind. Repair-pass scan.
	ListUnresolvedSales(ctx context.Context) ([]Sale, error)

	// FindSaleByTaskID resolves a payout task id to its single sale
	// through the task index. ErrSaleNotFound on miss; never creates
	// a placeholder.
	FindSaleByTaskID(ctx context.Context, userID, taskID string) (*Sale, error)

	// UpdateSaleByOrderID applies a merge-patch and returns the
	// merged record. ErrSaleNotFound if the sale does not exist.
	UpdateSaleByOrderID(ctx context.Context, userID, orderID string, p SalePatch) (*Sale, error)

	// RebuildIndexes reconstructs the task-id and invoice-id indexes
	// from the primary sales list. Idempotent.
	RebuildIndexes(ctx context.Context) (RebuildReport, error)

	// InsertWithdrawal records a new payout task.
	InsertWithdrawal(ctx context.Context, w Withdrawal) error

	// GetWithdrawal returns one withdrawal or ErrWithdrawalNotFound.
	GetWithdrawal(ctx context.Context, userID, taskID string) (*Withdrawal, error)

	// UpdateWithdrawal applies a merge-patch to a withdrawal.
	UpdateWithdrawal(ctx context.Context, userID, taskID string, p WithdrawalPatch) (*Withdrawal, error)

	// MarkWithdrawalComplete sets the terminal completion marker for
	// (user, task). Returns true only for the first caller to set it;
	// the marker is never cleared.
	MarkWithdrawalComplete(ctx context.Context, userID, taskID string) (bool, error)

	// IsWithdrawalComplete reads the completion marker.
	IsWithdrawalComplete(ctx context.Context, userID, taskID string) (bool, error)

	// AppendWithdrawalAudit appends one free-text line to the
	// per-withdrawal append-only log.
	AppendWithdrawalAudit(ctx context.Context, userID, taskID, text string) error

	// ListWithdrawalAudit returns the audit trail in append order.
	ListWithdrawalAudit(ctx context.Context, userID, taskID string) ([]AuditLine, error)

	Close() error
}
