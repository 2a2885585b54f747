/*
lease.go - Leader lease interface and the advisory in-process backend

PURPOSE:
  At most one of N horizontally-scaled instances may run the
  side-effecting reconciliation passes at a time. The lease grants
  that exclusivity for a bounded period; non-holders no-op.

BACKENDS:
  - RedisLease (redislease.go): strict conditional-write backend.
    Safe for multi-instance deployments.
  - store/sqlite.Store: conditional upsert on the shared database
    file. Strict only for processes sharing that one file.
  - MemoryLease (below): ADVISORY. Single-process only; two processes
    using separate MemoryLease values will both believe they lead.
    Exists for development and tests, never for horizontal scaling.

TTL RULE:
  The TTL must exceed one worker-pass duration plus a renewal margin,
  so a lease cannot be believed held by two instances during a single
  pass. If renewal fails mid-pass the pass may finish: every mutation
  behind it is idempotent, so a brief double-execution window during
  handoff is tolerable.

SEE ALSO:
  - loop.go: the ticker-driven runner gating passes on the lease
*/
package cluster

import (
	"context"
	"sync"
	"time"
)

// State is the observable outcome of one acquire-or-renew attempt.
type State struct {
	IsLeader  bool
	Holder    string
	ExpiresAt time.Time
}

// Lease is distributed mutual exclusion over shared storage.
// TryAcquireOrRenew succeeds when no lease exists, the existing one
// has expired, or its holder equals the caller (renewal).
type Lease interface {
	TryAcquireOrRenew(ctx context.Context, instanceID string, now time.Time, ttl time.Duration) (State, error)
}

// =============================================================================
// ADVISORY IN-PROCESS LEASE
// =============================================================================

// MemoryLease is an advisory single-process lease. It provides the
// Lease semantics between goroutines of one process and nothing more.
type MemoryLease struct {
	mu        sync.Mutex
	holder    string
	expiresAt time.Time
}

// NewMemoryLease creates an advisory lease.
func NewMemoryLease() *MemoryLease { return &MemoryLease{} }

// TryAcquireOrRenew implements Lease.
func (l *MemoryLease) TryAcquireOrRenew(_ context.Context, instanceID string, now time.Time, ttl time.Duration) (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holder == "" || l.holder == instanceID || !l.expiresAt.After(now) {
		l.holder = instanceID
		l.expiresAt = now.Add(ttl)
		return State{IsLeader: true, Holder: instanceID, ExpiresAt: l.expiresAt}, nil
	}
	return State{IsLeader: false, Holder: l.holder, ExpiresAt: l.expiresAt}, nil
}
