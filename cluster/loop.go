/*
loop.go - Leader-gated worker loop

PURPOSE:
  Drives the periodic reconciliation passes. Every tick the loop
  attempts to acquire or renew the lease; only while holding it does
  the instance run the registered passes. Non-leaders no-op silently -
  lease contention is a normal branch, not an error.

LIFECYCLE:
  loop := cluster.NewLeaderLoop(lease, cfg, log, passes...)
  loop.Start()
  ...
  loop.Stop()

  RunNow() serves the admin "run due jobs now" trigger; the normal
  lease gate applies, so a non-leader instance answers ran=false.

RENEWAL:
  The lease is renewed between passes so a long repair pass cannot let
  the lease lapse before the schedule pass. If renewal fails mid-tick
  the remaining passes are skipped; the in-flight pass is never
  cancelled because every mutation behind it is idempotent.
*/
package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Pass is one unit of leader-gated periodic work.
type Pass interface {
	Name() string
	Run(ctx context.Context) error
}

// LoopConfig configures the leader loop timing.
type LoopConfig struct {
	// Interval between ticks.
	Interval time.Duration
	// TTL of the lease. Must exceed Interval plus the duration of one
	// full tick (all passes) with margin.
	TTL time.Duration
	// PassTimeout bounds a single pass.
	PassTimeout time.Duration
}

// LeaderLoop runs passes on a timer while holding the lease.
type LeaderLoop struct {
	lease      Lease
	cfg        LoopConfig
	log        *zap.Logger
	passes     []Pass
	instanceID string

	mu     sync.Mutex
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewLeaderLoop creates a loop. Instance identity is random and stable
// for the process lifetime only.
func NewLeaderLoop(lease Lease, cfg LoopConfig, log *zap.Logger, passes ...Pass) *LeaderLoop {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 3 * cfg.Interval
	}
	if cfg.PassTimeout <= 0 || cfg.PassTimeout > cfg.TTL/2 {
		cfg.PassTimeout = cfg.TTL / 2
	}
	return &LeaderLoop{
		lease:      lease,
		cfg:        cfg,
		log:        log,
		passes:     passes,
		instanceID: uuid.NewString(),
		stop:       make(chan struct{}),
	}
}

// InstanceID returns the loop's stable process identity.
func (l *LeaderLoop) InstanceID() string { return l.instanceID }

// Start begins ticking.
func (l *LeaderLoop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ticker != nil {
		return
	}
	l.ticker = time.NewTicker(l.cfg.Interval)
	// Stop closes the previous channel; a fresh one makes the loop
	// restartable instead of a silent no-op on the second Start.
	l.stop = make(chan struct{})
	l.wg.Add(1)
	go l.run()
	l.log.Info("leader loop started",
		zap.String("instance_id", l.instanceID),
		zap.Duration("interval", l.cfg.Interval),
		zap.Duration("lease_ttl", l.cfg.TTL))
}

// Stop stops ticking and waits for an in-flight tick to finish.
func (l *LeaderLoop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ticker == nil {
		return
	}
	l.ticker.Stop()
	close(l.stop)
	l.wg.Wait()
	l.ticker = nil
	l.log.Info("leader loop stopped")
}

func (l *LeaderLoop) run() {
	defer l.wg.Done()

	// First attempt immediately so a fresh deployment does not wait a
	// full interval before reconciling.
	l.tick(context.Background())

	for {
		select {
		case <-l.ticker.C:
			l.tick(context.Background())
		case <-l.stop:
			return
		}
	}
}

// RunNow executes the passes once, subject to the normal lease gate.
// Returns ran=false when this instance is not the leader.
func (l *LeaderLoop) RunNow(ctx context.Context) (bool, error) {
	st, err := l.lease.TryAcquireOrRenew(ctx, l.instanceID, time.Now(), l.cfg.TTL)
	if err != nil {
		return false, err
	}
	if !st.IsLeader {
		return false, nil
	}
	return true, l.runPasses(ctx)
}

func (l *LeaderLoop) tick(ctx context.Context) {
	st, err := l.lease.TryAcquireOrRenew(ctx, l.instanceID, time.Now(), l.cfg.TTL)
	if err != nil {
		l.log.Warn("lease acquire failed", zap.Error(err))
		return
	}
	if !st.IsLeader {
		l.log.Debug("not leader, skipping tick", zap.String("holder", st.Holder))
		return
	}
	if err := l.runPasses(ctx); err != nil {
		l.log.Warn("pass failed", zap.Error(err))
	}
}

func (l *LeaderLoop) runPasses(ctx context.Context) error {
	for i, p := range l.passes {
		if i > 0 {
			// Renew between passes; skip the rest on lost leadership.
			st, err := l.lease.TryAcquireOrRenew(ctx, l.instanceID, time.Now(), l.cfg.TTL)
			if err != nil || !st.IsLeader {
				l.log.Warn("leadership lost between passes",
					zap.String("next_pass", p.Name()), zap.Error(err))
				return err
			}
		}
		passCtx, cancel := context.WithTimeout(ctx, l.cfg.PassTimeout)
		start := time.Now()
		err := p.Run(passCtx)
		cancel()
		if err != nil {
			// Background failures stay in the logs; the next pass
			// rescans and retries implicitly.
			l.log.Warn("pass error", zap.String("pass", p.Name()),
				zap.Duration("took", time.Since(start)), zap.Error(err))
			continue
		}
		l.log.Debug("pass complete", zap.String("pass", p.Name()),
			zap.Duration("took", time.Since(start)))
	}
	return nil
}
