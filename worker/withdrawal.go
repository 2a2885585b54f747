/*
withdrawal.go - Idempotent withdrawal-completion poller

PURPOSE:
  Request-triggered (never periodic) check of payout completion. The
  persisted completion marker is consulted first; once it exists the
  external call is skipped forever. Completion is strictly
  type == "withdrawal" AND root status == "paid".

CONVERGENCE:
  Concurrent callers for the same (user, task) may both reach the
  remote API, but only one wins the marker write. The marker
  read-after-write is authoritative, not the remote response, so every
  caller that saw a paid task reports done=true while exactly one
  appends the audit line and publishes the event.

SEE ALSO:
  - ../payout/client.go: task-status API
  - ../ledger/store.go: marker and audit operations
*/
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kbeggemot/fiscal-engine/bus"
	"github.com/kbeggemot/fiscal-engine/ledger"
	"github.com/kbeggemot/fiscal-engine/payout"
)

// TaskClient is the slice of the payout client the poller uses.
type TaskClient interface {
	GetTask(ctx context.Context, taskID string) (payout.Task, error)
}

// Poller resolves withdrawal completion on demand.
type Poller struct {
	Ledger ledger.Store
	Payout TaskClient
	Bus    *bus.Bus
	Log    *zap.Logger
}

// PollResult is the synchronous outcome of one refresh.
type PollResult struct {
	Done   bool   `json:"done"`
	Status string `json:"status,omitempty"`
}

// Refresh checks one withdrawal. Safe to call concurrently for the
// same (user, task); all callers converge on the marker.
func (p *Poller) Refresh(ctx context.Context, userID, taskID string) (PollResult, error) {
	done, err := p.Ledger.IsWithdrawalComplete(ctx, userID, taskID)
	if err != nil {
		return PollResult{}, err
	}
	if done {
		// Terminal marker: short-circuit, no external call.
		return PollResult{Done: true, Status: "paid"}, nil
	}

	task, err := p.Payout.GetTask(ctx, taskID)
	if err != nil {
		return PollResult{}, err
	}
	if !task.Completed() {
		// Record the observed status but keep the withdrawal open.
		if _, err := p.Ledger.UpdateWithdrawal(ctx, userID, taskID,
			ledger.WithdrawalPatch{Status: &task.Status}); err != nil && !ledger.IsNotFound(err) {
			return PollResult{}, err
		}
		return PollResult{Done: false, Status: task.Status}, nil
	}

	first, err := p.Ledger.MarkWithdrawalComplete(ctx, userID, taskID)
	if err != nil {
		return PollResult{}, err
	}
	if first {
		paidAt := parsePaidAt(task.PaidAt)
		status := "paid"
		if _, err := p.Ledger.UpdateWithdrawal(ctx, userID, taskID,
			ledger.WithdrawalPatch{Status: &status, PaidAt: &paidAt}); err != nil {
			if !ledger.IsNotFound(err) {
				return PollResult{}, err
			}
			// Withdrawal initiated before this engine saw it; record it now.
			if err := p.Ledger.InsertWithdrawal(ctx, ledger.Withdrawal{
				UserID: userID, TaskID: taskID, Status: status, PaidAt: &paidAt,
			}); err != nil {
				return PollResult{}, err
			}
		}
		line := fmt.Sprintf("withdrawal %s confirmed paid at %s", taskID, paidAt.Format(time.RFC3339))
		if err := p.Ledger.AppendWithdrawalAudit(ctx, userID, taskID, line); err != nil {
			p.Log.Warn("audit append failed",
				zap.String("user_id", userID), zap.String("task_id", taskID), zap.Error(err))
		}
		if p.Bus != nil {
			p.Bus.Publish(bus.Event{Type: "withdrawal.paid", UserID: userID, TaskID: taskID})
		}
	}

	// The marker, not the remote response, is the authority.
	done, err = p.Ledger.IsWithdrawalComplete(ctx, userID, taskID)
	if err != nil {
		return PollResult{}, err
	}
	return PollResult{Done: done, Status: "paid"}, nil
}

func parsePaidAt(raw string) time.Time {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Now()
}
