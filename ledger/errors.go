/*
errors.go - Centralized error types for the ledger and workers

PURPOSE:
  All sentinel errors in one place. Callers classify with errors.Is;
  background passes treat retryable errors as "try again next pass"
  and never surface them to users.

SEE ALSO:
  - store.go: operations returning these errors
  - ../fiscal/client.go: provider-side error classification
*/
package ledger

import "errors"

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrSaleNotFound is returned for lookups that match no sale.
	// Lookups never create placeholder records.
	ErrSaleNotFound = errors.New("sale not found")

	// ErrWithdrawalNotFound is returned for lookups that match no withdrawal.
	ErrWithdrawalNotFound = errors.New("withdrawal not found")

	// ErrDuplicateSale is returned when inserting a (user, order) pair
	// that already exists.
	ErrDuplicateSale = errors.New("sale already exists")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("store closed")
)

// IsNotFound reports whether err indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSaleNotFound) || errors.Is(err, ErrWithdrawalNotFound)
}
