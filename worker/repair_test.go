package worker_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kbeggemot/fiscal-engine/bus"
	"github.com/kbeggemot/fiscal-engine/fiscal"
	"github.com/kbeggemot/fiscal-engine/ledger"
	"github.com/kbeggemot/fiscal-engine/store/memory"
	"github.com/kbeggemot/fiscal-engine/worker"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// fakeStatusClient serves scripted status results keyed by query id.
type fakeStatusClient struct {
	mu      sync.Mutex
	results map[string]fiscal.StatusResult
	errs    map[string]error
	calls   atomic.Int64
}

func (f *fakeStatusClient) ReceiptStatus(_ context.Context, id string) (fiscal.StatusResult, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[id]; ok {
		return fiscal.StatusResult{}, err
	}
	if res, ok := f.results[id]; ok {
		return res, nil
	}
	return fiscal.StatusResult{Outcome: fiscal.OutcomePending}, nil
}

func newRepair(store ledger.Store, client *fakeStatusClient, b *bus.Bus) *worker.Repair {
	return &worker.Repair{
		Ledger:      store,
		Fiscal:      client,
		Bus:         b,
		Log:         zap.NewNop(),
		Concurrency: 2,
	}
}

func insertSale(t *testing.T, store ledger.Store, sale ledger.Sale) {
	t.Helper()
	if sale.Amount.IsZero() {
		sale.Amount = decimal.NewFromInt(100)
	}
	require.NoError(t, store.InsertSale(context.Background(), sale))
}

func resolved(id, url string) fiscal.StatusResult {
	return fiscal.StatusResult{Outcome: fiscal.OutcomeResolved, ReceiptID: id, URL: url}
}

// =============================================================================
// REPAIR PASS
// =============================================================================

func TestRepair_ResolvesPendingReceipt(t *testing.T) {
	// GIVEN: A sale whose prepay receipt resolved on the provider side
	store := memory.New()
	client := &fakeStatusClient{results: map[string]fiscal.StatusResult{
		"inv-prepay-1": resolved("rcpt-1", "https://receipt.example/1"),
	}}
	b := bus.New()
	events, cancel := b.Subscribe("u-1")
	defer cancel()

	insertSale(t, store, ledger.Sale{
		UserID: "u-1", OrderID: "o-1", PrepayInvoiceID: "inv-prepay-1",
	})

	// WHEN: The repair pass runs
	require.NoError(t, newRepair(store, client, b).Run(context.Background()))

	// THEN: The resolution is merged and announced
	sale, err := store.GetSale(context.Background(), "u-1", "o-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StateResolved, sale.ReceiptStateFor(ledger.KindPrepay))
	assert.Equal(t, "https://receipt.example/1", sale.PrepayReceiptURL)
	assert.NotNil(t, sale.PrepayResolvedAt)

	select {
	case ev := <-events:
		assert.Equal(t, "receipt.resolved", ev.Type)
		assert.Equal(t, "o-1", ev.OrderID)
	default:
		t.Fatal("expected a receipt.resolved event")
	}
}

func TestRepair_AdvancesToIDKnown(t *testing.T) {
	store := memory.New()
	client := &fakeStatusClient{results: map[string]fiscal.StatusResult{
		"inv-prepay-1": {Outcome: fiscal.OutcomeIDKnown, ReceiptID: "rcpt-1"},
	}}

	insertSale(t, store, ledger.Sale{
		UserID: "u-1", OrderID: "o-1", PrepayInvoiceID: "inv-prepay-1",
	})
	require.NoError(t, newRepair(store, client, nil).Run(context.Background()))

	sale, err := store.GetSale(context.Background(), "u-1", "o-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StateIDKnown, sale.ReceiptStateFor(ledger.KindPrepay))
	assert.Empty(t, sale.PrepayReceiptURL)
}

func TestRepair_ResolvedSale_ZeroProviderCalls(t *testing.T) {
	// A fully resolved sale must cost nothing: it is not even scanned.
	store := memory.New()
	client := &fakeStatusClient{}

	insertSale(t, store, ledger.Sale{
		UserID: "u-1", OrderID: "o-1",
		PrepayInvoiceID: "inv-prepay-1", PrepayReceiptURL: "https://receipt.example/1",
	})
	require.NoError(t, newRepair(store, client, nil).Run(context.Background()))

	assert.Zero(t, client.calls.Load())
}

func TestRepair_QueriesOnlyUnresolvedKinds(t *testing.T) {
	store := memory.New()
	client := &fakeStatusClient{results: map[string]fiscal.StatusResult{}}

	insertSale(t, store, ledger.Sale{
		UserID: "u-1", OrderID: "o-1",
		PrepayInvoiceID: "inv-prepay-1", PrepayReceiptURL: "https://receipt.example/1",
		OffsetInvoiceID: "inv-offset-1",
	})
	require.NoError(t, newRepair(store, client, nil).Run(context.Background()))

	assert.Equal(t, int64(1), client.calls.Load(), "only the offset kind is queried")
}

func TestRepair_PrefersReceiptIDOverInvoiceID(t *testing.T) {
	store := memory.New()
	client := &fakeStatusClient{results: map[string]fiscal.StatusResult{
		"rcpt-1": resolved("rcpt-1", "https://receipt.example/1"),
	}}

	insertSale(t, store, ledger.Sale{
		UserID: "u-1", OrderID: "o-1",
		PrepayInvoiceID: "inv-prepay-1", PrepayReceiptID: "rcpt-1",
	})
	require.NoError(t, newRepair(store, client, nil).Run(context.Background()))

	sale, err := store.GetSale(context.Background(), "u-1", "o-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StateResolved, sale.ReceiptStateFor(ledger.KindPrepay))
}

func TestRepair_TransientFailureLeavesSaleUnchanged(t *testing.T) {
	store := memory.New()
	client := &fakeStatusClient{errs: map[string]error{
		"inv-prepay-1": &fiscal.TransientError{Op: "receipt status", Err: assert.AnError},
	}}

	insertSale(t, store, ledger.Sale{
		UserID: "u-1", OrderID: "o-1", PrepayInvoiceID: "inv-prepay-1",
	})
	require.NoError(t, newRepair(store, client, nil).Run(context.Background()),
		"pass errors are per-sale, the pass itself succeeds")

	sale, err := store.GetSale(context.Background(), "u-1", "o-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StateAbsent, sale.ReceiptStateFor(ledger.KindPrepay))
}

func TestRepair_SecondPassIsNoOp(t *testing.T) {
	store := memory.New()
	client := &fakeStatusClient{results: map[string]fiscal.StatusResult{
		"inv-prepay-1": resolved("rcpt-1", "https://receipt.example/1"),
	}}
	repair := newRepair(store, client, nil)

	insertSale(t, store, ledger.Sale{
		UserID: "u-1", OrderID: "o-1", PrepayInvoiceID: "inv-prepay-1",
	})

	require.NoError(t, repair.Run(context.Background()))
	afterFirst := client.calls.Load()
	require.NoError(t, repair.Run(context.Background()))

	assert.Equal(t, afterFirst, client.calls.Load(), "a resolved sale is never re-queried")
}

// =============================================================================
// MANUAL RESYNC
// =============================================================================

func TestResyncSale_ResolvesNow(t *testing.T) {
	store := memory.New()
	client := &fakeStatusClient{results: map[string]fiscal.StatusResult{
		"inv-prepay-1": resolved("rcpt-1", "https://receipt.example/1"),
	}}
	repair := newRepair(store, client, nil)

	insertSale(t, store, ledger.Sale{
		UserID: "u-1", OrderID: "o-1", PrepayInvoiceID: "inv-prepay-1",
	})

	sale, err := repair.ResyncSale(context.Background(), "u-1", "o-1", ledger.KindPrepay)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateResolved, sale.ReceiptStateFor(ledger.KindPrepay))
}

func TestResyncSale_AlreadyResolved_NoProviderCall(t *testing.T) {
	store := memory.New()
	client := &fakeStatusClient{}
	repair := newRepair(store, client, nil)

	insertSale(t, store, ledger.Sale{
		UserID: "u-1", OrderID: "o-1",
		PrepayInvoiceID: "inv-prepay-1", PrepayReceiptURL: "https://receipt.example/1",
	})

	sale, err := repair.ResyncSale(context.Background(), "u-1", "o-1", ledger.KindPrepay)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateResolved, sale.ReceiptStateFor(ledger.KindPrepay))
	assert.Zero(t, client.calls.Load())
}

func TestResyncSale_SurfacesProviderError(t *testing.T) {
	store := memory.New()
	client := &fakeStatusClient{errs: map[string]error{
		"inv-prepay-1": &fiscal.TransientError{Op: "receipt status", Err: assert.AnError},
	}}
	repair := newRepair(store, client, nil)

	insertSale(t, store, ledger.Sale{
		UserID: "u-1", OrderID: "o-1", PrepayInvoiceID: "inv-prepay-1",
	})

	// Unlike the periodic pass, the synchronous path reports failures.
	_, err := repair.ResyncSale(context.Background(), "u-1", "o-1", ledger.KindPrepay)
	assert.Error(t, err)
}

func TestResyncSale_UnknownSale(t *testing.T) {
	repair := newRepair(memory.New(), &fakeStatusClient{}, nil)
	_, err := repair.ResyncSale(context.Background(), "u-1", "missing", ledger.KindPrepay)
	assert.ErrorIs(t, err, ledger.ErrSaleNotFound)
}
