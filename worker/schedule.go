/*
schedule.go - Deferred offset-receipt pass

PURPOSE:
  In a prepay -> offset -> full chain the offset receipt must be
  issued a configured delay after the prepay receipt resolves. "Due"
  is a pure function of (now, sale state) - prepay resolved, offset
  unresolved, derived due time passed - so there is no durable job
  queue and a missed run is simply picked up by the next pass.

RACES:
  The periodic pass and the manual "run due jobs now" trigger can
  reach the same due sale concurrently. Each execution re-reads the
  sale immediately before calling the provider; the loser observes the
  winner's merge-patch and becomes a no-op. A residual double call in
  the window between re-read and create is converged by the
  merge-patch's monotonicity.

SEE ALSO:
  - repair.go: resolves offset receipts created here but still pending
  - ../ledger/types.go: OffsetDue derivation
*/
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kbeggemot/fiscal-engine/bus"
	"github.com/kbeggemot/fiscal-engine/fiscal"
	"github.com/kbeggemot/fiscal-engine/ledger"
)

// CreateClient is the slice of the fiscal client the schedule pass uses.
type CreateClient interface {
	CreateReceipt(ctx context.Context, req fiscal.CreateReceiptRequest) (fiscal.StatusResult, error)
}

// Schedule executes time-due offset fiscalizations.
type Schedule struct {
	Ledger      ledger.Store
	Fiscal      CreateClient
	Bus         *bus.Bus
	Log         *zap.Logger
	OffsetDelay time.Duration
	Concurrency int

	// Now is swappable for tests; nil means time.Now.
	Now func() time.Time
}

// Name implements cluster.Pass.
func (s *Schedule) Name() string { return "schedule" }

func (s *Schedule) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Run implements cluster.Pass: execute every due offset step.
func (s *Schedule) Run(ctx context.Context) error {
	sales, err := s.Ledger.ListUnresolvedSales(ctx)
	if err != nil {
		return fmt.Errorf("schedule: list unresolved: %w", err)
	}

	now := s.now()
	var due []ledger.Sale
	for _, sale := range sales {
		if sale.OffsetDue(now, s.OffsetDelay) {
			due = append(due, sale)
		}
	}
	if len(due) == 0 {
		return nil
	}

	conc := s.Concurrency
	if conc <= 0 {
		conc = 4
	}
	sem := make(chan struct{}, conc)
	var wg sync.WaitGroup
	var executed, skipped, failed atomic.Int64

	for _, sale := range due {
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
			switch err := s.runOffset(ctx, sale.UserID, sale.OrderID); {
			case err == nil:
				executed.Add(1)
			case err == errOffsetNotDue:
				skipped.Add(1)
			default:
				failed.Add(1)
				s.Log.Warn("offset fiscalization failed",
					zap.String("user_id", sale.UserID),
					zap.String("order_id", sale.OrderID),
					zap.Error(err))
			}
		}(sale)
	}
	wg.Wait()

	s.Log.Info("schedule pass complete",
		zap.Int("due", len(due)),
		zap.Int64("executed", executed.Load()),
		zap.Int64("skipped", skipped.Load()),
		zap.Int64("failed", failed.Load()))
	return nil
}

// errOffsetNotDue marks the losing side of a race: the sale stopped
// being due between the scan and the execution. Not an error.
var errOffsetNotDue = fmt.Errorf("offset step no longer due")

// runOffset executes the offset fiscalization for one sale. The sale
// is re-read first so a concurrent winner turns this call into a no-op.
func (s *Schedule) runOffset(ctx context.Context, userID, orderID string) error {
	sale, err := s.Ledger.GetSale(ctx, userID, orderID)
	if err != nil {
		return err
	}
	if !sale.OffsetDue(s.now(), s.OffsetDelay) {
		return errOffsetNotDue
	}

	res, err := s.Fiscal.CreateReceipt(ctx, fiscal.CreateReceiptRequest{
		UserID:    sale.UserID,
		OrderID:   sale.OrderID,
		OrgID:     sale.OrgID,
		InvoiceID: sale.OffsetInvoiceID,
		Kind:      string(ledger.KindOffset),
	})
	if err != nil {
		return err
	}
	if res.Outcome == fiscal.OutcomePending {
		// Provider accepted the call but assigned nothing yet; the
		// repair pass will pick the receipt up once it exists.
		return nil
	}

	if _, err := s.Ledger.UpdateSaleByOrderID(ctx, userID, orderID,
		ledger.ReceiptPatch(ledger.KindOffset, res.ReceiptID, res.URL)); err != nil {
		return err
	}
	if res.Outcome == fiscal.OutcomeResolved && s.Bus != nil {
		s.Bus.Publish(bus.Event{
			Type:    "receipt.resolved",
			UserID:  userID,
			OrderID: orderID,
			Payload: map[string]any{"kind": string(ledger.KindOffset), "url": res.URL},
		})
	}
	return nil
}
