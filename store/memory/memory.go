/*
Package memory provides an in-memory implementation of the ledger
storage interface, for tests and single-process development.

The whole store is guarded by one RWMutex, which trivially satisfies
the per-key serialization the merge-patch contract requires. Secondary
indexes are ordinary maps maintained on write and reconstructed by
RebuildIndexes, mirroring the SQLite backend's behavior byte for byte
where tests compare the two.
*/
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kbeggemot/fiscal-engine/ledger"
)

type saleKey struct {
	UserID  string
	OrderID string
}

type wKey struct {
	UserID string
	TaskID string
}

// Store implements ledger.Store in memory.
type Store struct {
	mu         sync.RWMutex
	sales      map[saleKey]ledger.Sale
	taskIdx    map[string]saleKey // task id -> sale key
	invoiceIdx map[string]saleKey // invoice id -> sale key

	withdrawals map[wKey]ledger.Withdrawal
	markers     map[wKey]bool
	audit       map[wKey][]ledger.AuditLine

	closed bool
}

// New creates an empty store.
func New() *Store {
	return &Store{
		sales:       make(map[saleKey]ledger.Sale),
		taskIdx:     make(map[string]saleKey),
		invoiceIdx:  make(map[string]saleKey),
		withdrawals: make(map[wKey]ledger.Withdrawal),
		markers:     make(map[wKey]bool),
		audit:       make(map[wKey][]ledger.AuditLine),
	}
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// =============================================================================
// SALES
// =============================================================================

// InsertSale implements ledger.Store.
func (s *Store) InsertSale(_ context.Context, sale ledger.Sale) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ledger.ErrStoreClosed
	}
	k := saleKey{sale.UserID, sale.OrderID}
	if _, ok := s.sales[k]; ok {
		return ledger.ErrDuplicateSale
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now()
	}
	sale.UpdatedAt = sale.CreatedAt
	s.sales[k] = sale
	s.indexLocked(k, sale)
	return nil
}

func (s *Store) indexLocked(k saleKey, sale ledger.Sale) {
	if sale.TaskID != "" {
		s.taskIdx[sale.TaskID] = k
	}
	for _, kind := range ledger.Kinds() {
		if inv := sale.InvoiceID(kind); inv != "" {
			s.invoiceIdx[inv] = k
		}
	}
}

// GetSale implements ledger.Store.
func (s *Store) GetSale(_ context.Context, userID, orderID string) (*ledger.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sale, ok := s.sales[saleKey{userID, orderID}]
	if !ok {
		return nil, ledger.ErrSaleNotFound
	}
	cp := sale
	return &cp, nil
}

// ListSales implements ledger.Store. Newest first.
func (s *Store) ListSales(_ context.Context, userID string) ([]ledger.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Sale
	for k, sale := range s.sales {
		if k.UserID == userID {
			out = append(out, sale)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].OrderID > out[j].OrderID
	})
	return out, nil
}

// ListUnresolvedSales implements ledger.Store.
func (s *Store) ListUnresolvedSales(_ context.Context) ([]ledger.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Sale
	for _, sale := range s.sales {
		if sale.Unresolved() {
			out = append(out, sale)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].OrderID < out[j].OrderID
	})
	return out, nil
}

// FindSaleByTaskID implements ledger.Store. Index lookup only.
func (s *Store) FindSaleByTaskID(_ context.Context, userID, taskID string) (*ledger.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.taskIdx[taskID]
	if !ok || k.UserID != userID {
		return nil, ledger.ErrSaleNotFound
	}
	sale := s.sales[k]
	cp := sale
	return &cp, nil
}

// UpdateSaleByOrderID implements ledger.Store.
func (s *Store) UpdateSaleByOrderID(_ context.Context, userID, orderID string, p ledger.SalePatch) (*ledger.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ledger.ErrStoreClosed
	}
	k := saleKey{userID, orderID}
	sale, ok := s.sales[k]
	if !ok {
		return nil, ledger.ErrSaleNotFound
	}
	ledger.ApplyPatch(&sale, p, time.Now())
	s.sales[k] = sale
	s.indexLocked(k, sale)
	cp := sale
	return &cp, nil
}

// RebuildIndexes implements ledger.Store.
func (s *Store) RebuildIndexes(_ context.Context) (ledger.RebuildReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskIdx = make(map[string]saleKey)
	s.invoiceIdx = make(map[string]saleKey)
	var rep ledger.RebuildReport
	for k, sale := range s.sales {
		s.indexLocked(k, sale)
		rep.Processed++
	}
	return rep, nil
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

// InsertWithdrawal implements ledger.Store.
func (s *Store) InsertWithdrawal(_ context.Context, w ledger.Withdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	w.UpdatedAt = w.CreatedAt
	s.withdrawals[wKey{w.UserID, w.TaskID}] = w
	return nil
}

// GetWithdrawal implements ledger.Store.
func (s *Store) GetWithdrawal(_ context.Context, userID, taskID string) (*ledger.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.withdrawals[wKey{userID, taskID}]
	if !ok {
		return nil, ledger.ErrWithdrawalNotFound
	}
	cp := w
	return &cp, nil
}

// UpdateWithdrawal implements ledger.Store.
func (s *Store) UpdateWithdrawal(_ context.Context, userID, taskID string, p ledger.WithdrawalPatch) (*ledger.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := wKey{userID, taskID}
	w, ok := s.withdrawals[k]
	if !ok {
		return nil, ledger.ErrWithdrawalNotFound
	}
	ledger.ApplyWithdrawalPatch(&w, p, time.Now())
	s.withdrawals[k] = w
	cp := w
	return &cp, nil
}

// MarkWithdrawalComplete implements ledger.Store. First caller wins.
func (s *Store) MarkWithdrawalComplete(_ context.Context, userID, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := wKey{userID, taskID}
	if s.markers[k] {
		return false, nil
	}
	s.markers[k] = true
	return true, nil
}

// IsWithdrawalComplete implements ledger.Store.
func (s *Store) IsWithdrawalComplete(_ context.Context, userID, taskID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.markers[wKey{userID, taskID}], nil
}

// AppendWithdrawalAudit implements ledger.Store.
func (s *Store) AppendWithdrawalAudit(_ context.Context, userID, taskID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := wKey{userID, taskID}
	s.audit[k] = append(s.audit[k], ledger.AuditLine{At: time.Now(), Text: text})
	return nil
}

// ListWithdrawalAudit implements ledger.Store.
func (s *Store) ListWithdrawalAudit(_ context.Context, userID, taskID string) ([]ledger.AuditLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k := wKey{userID, taskID}
	out := make([]ledger.AuditLine, len(s.audit[k]))
	copy(out, s.audit[k])
	return out, nil
}

var _ ledger.Store = (*Store)(nil)
