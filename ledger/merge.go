/*
merge.go - Merge-patch semantics for sale records

PURPOSE:
  The single mutation path for sales. Every writer - repair pass,
  schedule pass, withdrawal poller, manual admin action - builds a
  SalePatch and the store applies it here inside a per-key critical
  section. Nothing performs a raw read-modify-write of a stored sale.

MERGE RULES:
  - Only whitelisted fields exist on SalePatch; a nil field is "leave
    unchanged". Field-level merge: concurrent patches touching
    disjoint fields of the same record both survive.
  - Receipt and invoice fields never regress: an empty value in a
    patch is ignored, so a receipt can move absent -> id-known ->
    resolved but never back.
  - PrepayResolvedAt is write-once. When a patch first resolves the
    prepay URL without supplying the timestamp, the merge stamps it,
    which is what makes the offset step's due time derivable.

SEE ALSO:
  - types.go: Sale, ReceiptState
  - ../store/memory, ../store/sqlite: callers
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// SalePatch is a partial update of a sale. Nil means "leave unchanged".
// The field set is the complete mutation whitelist; there is no way to
// touch CreatedAt, UserID or OrderID through a patch.
type SalePatch struct {
	Status  *string
	TaskID  *string
	OrgID   *string
	Amount  *decimal.Decimal
	TokenFP *string
	Hidden  *bool

	PrepayInvoiceID  *string
	OffsetInvoiceID  *string
	FullInvoiceID    *string
	PrepayReceiptID  *string
	PrepayReceiptURL *string
	OffsetReceiptID  *string
	OffsetReceiptURL *string
	FullReceiptID    *string
	FullReceiptURL   *string

	PrepayResolvedAt *time.Time
}

// IsZero reports whether the patch sets nothing.
func (p SalePatch) IsZero() bool {
	return p.Status == nil && p.TaskID == nil && p.OrgID == nil &&
		p.Amount == nil && p.TokenFP == nil && p.Hidden == nil &&
		p.PrepayInvoiceID == nil && p.OffsetInvoiceID == nil && p.FullInvoiceID == nil &&
		p.PrepayReceiptID == nil && p.PrepayReceiptURL == nil &&
		p.OffsetReceiptID == nil && p.OffsetReceiptURL == nil &&
		p.FullReceiptID == nil && p.FullReceiptURL == nil &&
		p.PrepayResolvedAt == nil
}

// ReceiptPatch builds a patch setting the receipt id and/or URL of one
// kind. Empty strings are left out so the monotonicity guard never
// sees a clearing write.
func ReceiptPatch(k ReceiptKind, receiptID, receiptURL string) SalePatch {
	var p SalePatch
	id, url := &receiptID, &receiptURL
	if receiptID == "" {
		id = nil
	}
	if receiptURL == "" {
		url = nil
	}
	switch k {
	case KindPrepay:
		p.PrepayReceiptID, p.PrepayReceiptURL = id, url
	case KindOffset:
		p.OffsetReceiptID, p.OffsetReceiptURL = id, url
	case KindFull:
		p.FullReceiptID, p.FullReceiptURL = id, url
	}
	return p
}

// ApplyPatch merges p into s and returns the names of the fields that
// actually changed (store column names). Must be called with the
// record's key serialized by the store.
func ApplyPatch(s *Sale, p SalePatch, now time.Time) []string {
	var changed []string

	setStr := func(dst *string, v *string, col string, advanceOnly bool) {
		if v == nil {
			return
		}
		if advanceOnly && *v == "" {
			return
		}
		if *dst == *v {
			return
		}
		*dst = *v
		changed = append(changed, col)
	}

	setStr(&s.Status, p.Status, "status", false)
	setStr(&s.TaskID, p.TaskID, "task_id", true)
	setStr(&s.OrgID, p.OrgID, "org_id", true)
	setStr(&s.TokenFP, p.TokenFP, "token_fp", false)

	if p.Amount != nil && !s.Amount.Equal(*p.Amount) {
		s.Amount = *p.Amount
		changed = append(changed, "amount")
	}
	if p.Hidden != nil && s.Hidden != *p.Hidden {
		s.Hidden = *p.Hidden
		changed = append(changed, "hidden")
	}

	// Receipt and invoice fields: advance-only, never cleared.
	setStr(&s.PrepayInvoiceID, p.PrepayInvoiceID, "prepay_invoice_id", true)
	setStr(&s.OffsetInvoiceID, p.OffsetInvoiceID, "offset_invoice_id", true)
	setStr(&s.FullInvoiceID, p.FullInvoiceID, "full_invoice_id", true)
	setStr(&s.PrepayReceiptID, p.PrepayReceiptID, "prepay_receipt_id", true)
	setStr(&s.PrepayReceiptURL, p.PrepayReceiptURL, "prepay_receipt_url", true)
	setStr(&s.OffsetReceiptID, p.OffsetReceiptID, "offset_receipt_id", true)
	setStr(&s.OffsetReceiptURL, p.OffsetReceiptURL, "offset_receipt_url", true)
	setStr(&s.FullReceiptID, p.FullReceiptID, "full_receipt_id", true)
	setStr(&s.FullReceiptURL, p.FullReceiptURL, "full_receipt_url", true)

	// Write-once resolution timestamp. Stamped implicitly the first
	// time the prepay URL lands so the offset due time is derivable.
	if s.PrepayResolvedAt == nil {
		switch {
		case p.PrepayResolvedAt != nil:
			t := *p.PrepayResolvedAt
			s.PrepayResolvedAt = &t
			changed = append(changed, "prepay_resolved_at")
		case s.PrepayReceiptURL != "":
			t := now
			s.PrepayResolvedAt = &t
			changed = append(changed, "prepay_resolved_at")
		}
	}

	if len(changed) > 0 {
		s.UpdatedAt = now
		changed = append(changed, "updated_at")
	}
	return changed
}

// WithdrawalPatch is a partial update of a withdrawal record.
type WithdrawalPatch struct {
	Status *string
	PaidAt *time.Time
}

// ApplyWithdrawalPatch merges p into w. PaidAt is write-once.
func ApplyWithdrawalPatch(w *Withdrawal, p WithdrawalPatch, now time.Time) bool {
	changed := false
	if p.Status != nil && w.Status != *p.Status {
		w.Status = *p.Status
		changed = true
	}
	if p.PaidAt != nil && w.PaidAt == nil {
		t := *p.PaidAt
		w.PaidAt = &t
		changed = true
	}
	if changed {
		w.UpdatedAt = now
	}
	return changed
}
