/*
handlers.go - HTTP handlers for the reconciliation engine

PURPOSE:
  Exposes the inbound triggers: sale reads, the manual admin resync
  (bypasses the lease gate), the "run due schedule jobs now" trigger
  (normal lease gate applies), index rebuild, the synchronous
  withdrawal refresh, and the per-user SSE event stream.

ERROR HANDLING:
  Synchronous callers get structured JSON errors with stable codes:
  - 400 missing_param:  absent or invalid parameters
  - 404 not_found:      unknown sale/withdrawal
  - 502 provider_error: an external provider call failed
  - 500 internal:       everything else
  Periodic background passes never surface errors here; their failures
  live in the logs only.

SEE ALSO:
  - dto.go: wire shapes
  - server.go: routing
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kbeggemot/fiscal-engine/bus"
	"github.com/kbeggemot/fiscal-engine/cluster"
	"github.com/kbeggemot/fiscal-engine/ledger"
	"github.com/kbeggemot/fiscal-engine/worker"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger ledger.Store
	Repair *worker.Repair
	Poller *worker.Poller
	Loop   *cluster.LeaderLoop
	Bus    *bus.Bus
	Log    *zap.Logger
}

// =============================================================================
// SALES
// =============================================================================

// ListSales returns all sales of a user, newest first.
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_param", "user query parameter is required", nil)
		return
	}
	sales, err := h.Ledger.ListSales(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to list sales", err)
		return
	}
	dtos := make([]SaleDTO, len(sales))
	for i := range sales {
		dtos[i] = saleDTO(&sales[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSaleByTask resolves a payout task id to its sale. A miss is 404;
// no placeholder record is ever created.
func (h *Handler) GetSaleByTask(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	taskID := chi.URLParam(r, "taskID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_param", "user query parameter is required", nil)
		return
	}
	sale, err := h.Ledger.FindSaleByTaskID(r.Context(), userID, taskID)
	if ledger.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "not_found", "no sale for task "+taskID, nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to find sale", err)
		return
	}
	writeJSON(w, http.StatusOK, saleDTO(sale))
}

// =============================================================================
// ADMIN
// =============================================================================

// ResyncSale resolves one receipt kind of one sale right now. This is
// an explicit operator action: it bypasses the lease gate but goes
// through the same merge-patch path as the periodic pass.
func (h *Handler) ResyncSale(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	var req ResyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "missing_param", "invalid request body", err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing_param", "userId is required", nil)
		return
	}
	kind := ledger.ReceiptKind(req.Kind)
	if !ledger.ValidKind(kind) {
		writeError(w, http.StatusBadRequest, "missing_param",
			fmt.Sprintf("kind must be one of prepay, offset, full (got %q)", req.Kind), nil)
		return
	}

	sale, err := h.Repair.ResyncSale(r.Context(), req.UserID, orderID, kind)
	if ledger.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "not_found", "sale not found", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, "provider_error", "resync failed", err)
		return
	}
	writeJSON(w, http.StatusOK, saleDTO(sale))
}

// RunScheduleNow triggers the leader passes immediately. The normal
// lease gate applies: on a non-leader instance this is a no-op answer,
// not an error.
func (h *Handler) RunScheduleNow(w http.ResponseWriter, r *http.Request) {
	ran, err := h.Loop.RunNow(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "run-now failed", err)
		return
	}
	writeJSON(w, http.StatusOK, RunNowResponse{Leader: ran})
}

// RebuildIndexes reconstructs the derived secondary indexes from the
// primary sales list. Idempotent administrative repair.
func (h *Handler) RebuildIndexes(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Ledger.RebuildIndexes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "rebuild failed", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

// RefreshWithdrawal invokes the completion poller synchronously.
func (h *Handler) RefreshWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	taskID := chi.URLParam(r, "taskID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_param", "user query parameter is required", nil)
		return
	}
	res, err := h.Poller.Refresh(r.Context(), userID, taskID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "provider_error", "withdrawal refresh failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// WithdrawalAudit returns the append-only audit trail of a withdrawal.
func (h *Handler) WithdrawalAudit(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	taskID := chi.URLParam(r, "taskID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_param", "user query parameter is required", nil)
		return
	}
	lines, err := h.Ledger.ListWithdrawalAudit(r.Context(), userID, taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to read audit trail", err)
		return
	}
	dtos := make([]AuditLineDTO, len(lines))
	for i, l := range lines {
		dtos[i] = AuditLineDTO{At: l.At.Format(http.TimeFormat), Text: l.Text}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// EVENTS (SSE)
// =============================================================================

// Events streams the user's reconciliation outcomes as server-sent
// events. Closing the connection tears down only this subscription;
// in-flight worker passes are unaffected.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_param", "user query parameter is required", nil)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported", nil)
		return
	}

	events, cancel := h.Bus.Subscribe(userID)
	defer cancel()

	// The stream outlives the server-wide write timeout; clear the
	// per-request deadline or the connection is cut off mid-stream
	// once it passes that age.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		h.Log.Debug("clearing write deadline failed", zap.Error(err))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
