/*
dto.go - Request/response data structures for the HTTP API
*/
package api

import (
	"time"

	"github.com/kbeggemot/fiscal-engine/ledger"
)

// ErrorResponse is the JSON error envelope. Code is a stable machine
// code: missing_param, not_found, forbidden, provider_error, internal.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// ReceiptDTO is the per-kind receipt slice of a sale.
type ReceiptDTO struct {
	State     string `json:"state"`
	ReceiptID string `json:"receiptId,omitempty"`
	URL       string `json:"url,omitempty"`
	InvoiceID string `json:"invoiceId,omitempty"`
}

// SaleDTO is the wire shape of a sale.
type SaleDTO struct {
	UserID    string                `json:"userId"`
	OrderID   string                `json:"orderId"`
	TaskID    string                `json:"taskId,omitempty"`
	OrgID     string                `json:"orgId,omitempty"`
	Amount    string                `json:"amount"`
	Status    string                `json:"status"`
	Hidden    bool                  `json:"hidden,omitempty"`
	Receipts  map[string]ReceiptDTO `json:"receipts"`
	CreatedAt string                `json:"createdAt"`
	UpdatedAt string                `json:"updatedAt"`
}

func saleDTO(s *ledger.Sale) SaleDTO {
	receipts := make(map[string]ReceiptDTO, 3)
	for _, k := range ledger.Kinds() {
		receipts[string(k)] = ReceiptDTO{
			State:     string(s.ReceiptStateFor(k)),
			ReceiptID: s.ReceiptID(k),
			URL:       s.ReceiptURL(k),
			InvoiceID: s.InvoiceID(k),
		}
	}
	return SaleDTO{
		UserID:    s.UserID,
		OrderID:   s.OrderID,
		TaskID:    s.TaskID,
		OrgID:     s.OrgID,
		Amount:    s.Amount.String(),
		Status:    s.Status,
		Hidden:    s.Hidden,
		Receipts:  receipts,
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
		UpdatedAt: s.UpdatedAt.Format(time.RFC3339),
	}
}

// ResyncRequest selects the receipt kind for a manual resync.
type ResyncRequest struct {
	UserID string `json:"userId"`
	Kind   string `json:"kind"`
}

// RunNowResponse reports the outcome of an admin "run due jobs now".
type RunNowResponse struct {
	Leader bool `json:"leader"`
}

// AuditLineDTO is one audit-trail entry.
type AuditLineDTO struct {
	At   string `json:"at"`
	Text string `json:"text"`
}
