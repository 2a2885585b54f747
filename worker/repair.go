/*
repair.go - Receipt repair pass

PURPOSE:
  Walks every sale with an unresolved receipt kind that has a
  queryable handle (remote receipt id or invoice id), asks the fiscal
  provider for its current state, and merge-patches any progress into
  the ledger. Per sale and kind this is the state machine

    absent -> (query provider) -> id-known | resolved

  Already-resolved kinds are skipped unconditionally, so re-running
  the pass over a fully resolved sale issues zero provider calls.

RETRY MODEL:
  There is no attempt counter. A transient provider failure leaves the
  sale unchanged and the next pass rescans it; a content error is
  logged and the sale stays unresolved because external fiscalization
  can still complete later. Nothing is ever marked permanently failed.

CONCURRENCY:
  Sales are processed under a bounded semaphore - the scarce resource
  is the provider API, not CPU.

LEASE:
  Run is leader-gated through cluster.LeaderLoop. ResyncSale is the
  manual admin path: it bypasses the lease gate (explicit operator
  action) but goes through the identical merge-patch path.

SEE ALSO:
  - ../cluster/loop.go: the gate driving Run
  - schedule.go: the offset-step sibling pass
*/
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kbeggemot/fiscal-engine/bus"
	"github.com/kbeggemot/fiscal-engine/fiscal"
	"github.com/kbeggemot/fiscal-engine/ledger"
)

// StatusClient is the slice of the fiscal client the repair pass uses.
type StatusClient interface {
	ReceiptStatus(ctx context.Context, id string) (fiscal.StatusResult, error)
}

// Repair is the leader-gated receipt reconciliation pass.
type Repair struct {
	Ledger      ledger.Store
	Fiscal      StatusClient
	Bus         *bus.Bus
	Log         *zap.Logger
	Concurrency int
}

// Name implements cluster.Pass.
func (r *Repair) Name() string { return "repair" }

// Run implements cluster.Pass: one full scan-and-reconcile pass.
func (r *Repair) Run(ctx context.Context) error {
	sales, err := r.Ledger.ListUnresolvedSales(ctx)
	if err != nil {
		return fmt.Errorf("repair: list unresolved: %w", err)
	}
	if len(sales) == 0 {
		return nil
	}

	conc := r.Concurrency
	if conc <= 0 {
		conc = 4
	}
	sem := make(chan struct{}, conc)
	var wg sync.WaitGroup
	var resolved, advanced, failed atomic.Int64

	for _, sale := range sales {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}
		wg.Add(1)
		go func(sale ledger.Sale) {
			defer wg.Done()
			defer func() { <-sem }()
			res, adv, fail := r.repairSale(ctx, sale)
			resolved.Add(int64(res))
			advanced.Add(int64(adv))
			failed.Add(int64(fail))
		}(sale)
	}
	wg.Wait()

	r.Log.Info("repair pass complete",
		zap.Int("scanned", len(sales)),
		zap.Int64("resolved", resolved.Load()),
		zap.Int64("advanced", advanced.Load()),
		zap.Int64("failed", failed.Load()))
	return nil
}

// repairSale reconciles every unresolved kind of one sale.
func (r *Repair) repairSale(ctx context.Context, sale ledger.Sale) (resolved, advanced, failed int) {
	for _, kind := range ledger.Kinds() {
		if sale.ReceiptStateFor(kind) == ledger.StateResolved {
			continue // idempotent no-op, no provider call
		}
		queryID := sale.ReceiptID(kind)
		if queryID == "" {
			queryID = sale.InvoiceID(kind)
		}
		if queryID == "" {
			continue // nothing to ask the provider about yet
		}

		res, err := r.Fiscal.ReceiptStatus(ctx, queryID)
		if err != nil {
			if fiscal.IsRetryable(err) {
				// Silent to periodic callers; rescanned next pass.
				r.Log.Debug("receipt status transient failure",
					zap.String("user_id", sale.UserID),
					zap.String("order_id", sale.OrderID),
					zap.String("kind", string(kind)),
					zap.Error(err))
			} else {
				r.Log.Warn("receipt status content error",
					zap.String("user_id", sale.UserID),
					zap.String("order_id", sale.OrderID),
					zap.String("kind", string(kind)),
					zap.Error(err))
			}
			failed++
			continue
		}

		switch res.Outcome {
		case fiscal.OutcomePending:
			// Not available yet. Normal; revisited next pass.
		case fiscal.OutcomeIDKnown:
			if _, err := r.applyResult(ctx, sale, kind, res); err != nil {
				failed++
				continue
			}
			advanced++
		case fiscal.OutcomeResolved:
			if _, err := r.applyResult(ctx, sale, kind, res); err != nil {
				failed++
				continue
			}
			resolved++
			if r.Bus != nil {
				r.Bus.Publish(bus.Event{
					Type:    "receipt.resolved",
					UserID:  sale.UserID,
					OrderID: sale.OrderID,
					Payload: map[string]any{"kind": string(kind), "url": res.URL},
				})
			}
		}
	}
	return resolved, advanced, failed
}

// applyResult merge-patches one provider outcome into the ledger.
func (r *Repair) applyResult(ctx context.Context, sale ledger.Sale, kind ledger.ReceiptKind, res fiscal.StatusResult) (*ledger.Sale, error) {
	p := ledger.ReceiptPatch(kind, res.ReceiptID, res.URL)
	updated, err := r.Ledger.UpdateSaleByOrderID(ctx, sale.UserID, sale.OrderID, p)
	if err != nil {
		r.Log.Warn("merge-patch failed",
			zap.String("user_id", sale.UserID),
			zap.String("order_id", sale.OrderID),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return nil, err
	}
	return updated, nil
}

// ResyncSale is the manual admin path: resolve one receipt kind of one
// sale right now, bypassing the lease gate. Errors are surfaced to the
// synchronous caller instead of being swallowed.
func (r *Repair) ResyncSale(ctx context.Context, userID, orderID string, kind ledger.ReceiptKind) (*ledger.Sale, error) {
	sale, err := r.Ledger.GetSale(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if sale.ReceiptStateFor(kind) == ledger.StateResolved {
		return sale, nil
	}
	queryID := sale.ReceiptID(kind)
	if queryID == "" {
		queryID = sale.InvoiceID(kind)
	}
	if queryID == "" {
		return nil, fmt.Errorf("repair: sale %s/%s has no %s handle to query", userID, orderID, kind)
	}

	res, err := r.Fiscal.ReceiptStatus(ctx, queryID)
	if err != nil {
		return nil, err
	}
	if res.Outcome == fiscal.OutcomePending {
		return sale, nil
	}
	updated, err := r.applyResult(ctx, *sale, kind, res)
	if err != nil {
		return nil, err
	}
	if res.Outcome == fiscal.OutcomeResolved && r.Bus != nil {
		r.Bus.Publish(bus.Event{
			Type:    "receipt.resolved",
			UserID:  userID,
			OrderID: orderID,
			Payload: map[string]any{"kind": string(kind), "url": res.URL},
		})
	}
	return updated, nil
}
