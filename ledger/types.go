/*
types.go - Core record types for the sales ledger

PURPOSE:
  Defines the durable records the reconciliation engine operates on:
  sales, withdrawals and their audit trail. A sale is keyed by
  (user, order) and carries up to three fiscal receipts - one per
  stage of a prepay -> offset -> full chain.

RECEIPT STATE MACHINE:
  Each receipt kind advances monotonically and never regresses:

    absent -> id-known -> resolved

  "absent"   : no remote receipt id is known yet
  "id-known" : the provider assigned a receipt id, URL still pending
  "resolved" : a public receipt URL is known (terminal)

  The transition rules live in merge.go; nothing outside this package
  writes receipt fields directly.

SEE ALSO:
  - store.go: persistence interface
  - merge.go: merge-patch semantics and monotonicity guard
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RECEIPT KINDS AND STATES
// =============================================================================

// ReceiptKind identifies one stage of the fiscalization chain.
type ReceiptKind string

const (
	KindPrepay ReceiptKind = "prepay"
	KindOffset ReceiptKind = "offset"
	KindFull   ReceiptKind = "full"
)

// Kinds lists all receipt kinds in chain order.
func Kinds() []ReceiptKind {
	return []ReceiptKind{KindPrepay, KindOffset, KindFull}
}

// ValidKind reports whether k names a known receipt kind.
func ValidKind(k ReceiptKind) bool {
	switch k {
	case KindPrepay, KindOffset, KindFull:
		return true
	}
	return false
}

// ReceiptState is the reconciliation state of one receipt kind.
type ReceiptState string

const (
	StateAbsent   ReceiptState = "absent"
	StateIDKnown  ReceiptState = "id-known"
	StateResolved ReceiptState = "resolved"
)

// rank orders states for the monotonicity guard.
func (s ReceiptState) rank() int {
	switch s {
	case StateIDKnown:
		return 1
	case StateResolved:
		return 2
	}
	return 0
}

// =============================================================================
// SALE RECORD
// =============================================================================

// Sale is the durable record of one sale. (UserID, OrderID) uniquely
// identifies a sale; TaskID resolves to exactly one sale.
type Sale struct {
	UserID  string
	OrderID string
	TaskID  string
	OrgID   string

	Amount decimal.Decimal
	Status string

	// Invoice ids are the per-stage external references used to query
	// receipt status before a receipt id is known.
	PrepayInvoiceID string
	OffsetInvoiceID string
	FullInvoiceID   string

	PrepayReceiptID  string
	PrepayReceiptURL string
	OffsetReceiptID  string
	OffsetReceiptURL string
	FullReceiptID    string
	FullReceiptURL   string

	// PrepayResolvedAt is set when the prepay receipt resolves; the
	// offset step becomes due a configured delay after this instant.
	PrepayResolvedAt *time.Time

	// TokenFP fingerprints the provider token the sale was created
	// with, for operator-side correlation.
	TokenFP string

	Hidden    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReceiptID returns the remote receipt id for a kind ("" if unknown).
func (s *Sale) ReceiptID(k ReceiptKind) string {
	switch k {
	case KindPrepay:
		return s.PrepayReceiptID
	case KindOffset:
		return s.OffsetReceiptID
	case KindFull:
		return s.FullReceiptID
	}
	return ""
}

// ReceiptURL returns the public receipt URL for a kind ("" if unresolved).
func (s *Sale) ReceiptURL(k ReceiptKind) string {
	switch k {
	case KindPrepay:
		return s.PrepayReceiptURL
	case KindOffset:
		return s.OffsetReceiptURL
	case KindFull:
		return s.FullReceiptURL
	}
	return ""
}

// InvoiceID returns the per-stage invoice id for a kind.
func (s *Sale) InvoiceID(k ReceiptKind) string {
	switch k {
	case KindPrepay:
		return s.PrepayInvoiceID
	case KindOffset:
		return s.OffsetInvoiceID
	case KindFull:
		return s.FullInvoiceID
	}
	return ""
}

// ReceiptStateFor derives the state of one receipt kind from the record.
func (s *Sale) ReceiptStateFor(k ReceiptKind) ReceiptState {
	if s.ReceiptURL(k) != "" {
		return StateResolved
	}
	if s.ReceiptID(k) != "" {
		return StateIDKnown
	}
	return StateAbsent
}

// Unresolved reports whether any receipt kind with a queryable handle
// (invoice id or receipt id) has not resolved yet.
func (s *Sale) Unresolved() bool {
	for _, k := range Kinds() {
		if s.ReceiptStateFor(k) == StateResolved {
			continue
		}
		if s.ReceiptID(k) != "" || s.InvoiceID(k) != "" {
			return true
		}
	}
	return false
}

// OffsetDueAt derives the due time of the offset step. The second
// return is false until the prepay receipt has resolved.
func (s *Sale) OffsetDueAt(delay time.Duration) (time.Time, bool) {
	if s.ReceiptStateFor(KindPrepay) != StateResolved || s.PrepayResolvedAt == nil {
		return time.Time{}, false
	}
	return s.PrepayResolvedAt.Add(delay), true
}

// OffsetDue reports whether the offset step should run now: prepay
// resolved, offset unresolved, derived due time passed. Pure function
// of (now, sale state); there is no durable job queue behind it.
func (s *Sale) OffsetDue(now time.Time, delay time.Duration) bool {
	if s.ReceiptStateFor(KindOffset) == StateResolved {
		return false
	}
	if s.OffsetInvoiceID == "" && s.OffsetReceiptID == "" {
		return false
	}
	due, ok := s.OffsetDueAt(delay)
	return ok && !due.After(now)
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

// Withdrawal tracks one payout task for a user. The completion marker
// is stored separately (see Store); once set it is never cleared.
type Withdrawal struct {
	UserID    string
	TaskID    string
	Status    string
	Amount    decimal.Decimal
	PaidAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AuditLine is one free-text entry of a withdrawal's append-only log.
type AuditLine struct {
	At   time.Time
	Text string
}

// RebuildReport summarizes one secondary-index rebuild.
type RebuildReport struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}
