package cluster_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kbeggemot/fiscal-engine/cluster"
)

// countingPass records how often it ran.
type countingPass struct {
	name string
	runs atomic.Int64
	err  error
}

func (p *countingPass) Name() string { return p.name }

func (p *countingPass) Run(context.Context) error {
	p.runs.Add(1)
	return p.err
}

// =============================================================================
// MEMORY LEASE
// =============================================================================

func TestMemoryLease_SingleHolder(t *testing.T) {
	lease := cluster.NewMemoryLease()
	ctx := context.Background()
	now := time.Now()

	a, err := lease.TryAcquireOrRenew(ctx, "a", now, time.Minute)
	require.NoError(t, err)
	assert.True(t, a.IsLeader)

	b, err := lease.TryAcquireOrRenew(ctx, "b", now.Add(time.Second), time.Minute)
	require.NoError(t, err)
	assert.False(t, b.IsLeader)
	assert.Equal(t, "a", b.Holder)
}

func TestMemoryLease_RenewalAndExpiry(t *testing.T) {
	lease := cluster.NewMemoryLease()
	ctx := context.Background()
	now := time.Now()

	a, err := lease.TryAcquireOrRenew(ctx, "a", now, time.Minute)
	require.NoError(t, err)
	require.True(t, a.IsLeader)

	// Holder renews past the original expiry.
	renewed, err := lease.TryAcquireOrRenew(ctx, "a", now.Add(50*time.Second), time.Minute)
	require.NoError(t, err)
	assert.True(t, renewed.IsLeader)
	assert.True(t, renewed.ExpiresAt.After(a.ExpiresAt))

	// Expired lease is up for grabs.
	b, err := lease.TryAcquireOrRenew(ctx, "b", renewed.ExpiresAt, time.Minute)
	require.NoError(t, err)
	assert.True(t, b.IsLeader)

	// And the old holder is now the outsider.
	back, err := lease.TryAcquireOrRenew(ctx, "a", renewed.ExpiresAt.Add(time.Second), time.Minute)
	require.NoError(t, err)
	assert.False(t, back.IsLeader)
	assert.Equal(t, "b", back.Holder)
}

// =============================================================================
// LEADER LOOP
// =============================================================================

func TestLeaderLoop_RunsPassesWhileLeading(t *testing.T) {
	lease := cluster.NewMemoryLease()
	repair := &countingPass{name: "repair"}
	schedule := &countingPass{name: "schedule"}

	loop := cluster.NewLeaderLoop(lease, cluster.LoopConfig{
		Interval: 10 * time.Millisecond,
		TTL:      time.Second,
	}, zap.NewNop(), repair, schedule)

	loop.Start()
	// The first tick fires immediately; wait for at least one more.
	assert.Eventually(t, func() bool {
		return repair.runs.Load() >= 2 && schedule.runs.Load() >= 2
	}, time.Second, 5*time.Millisecond)
	loop.Stop()

	after := repair.runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, repair.runs.Load(), "no ticks after Stop")
}

func TestLeaderLoop_Restart(t *testing.T) {
	lease := cluster.NewMemoryLease()
	pass := &countingPass{name: "repair"}
	loop := cluster.NewLeaderLoop(lease, cluster.LoopConfig{
		Interval: 10 * time.Millisecond,
		TTL:      time.Second,
	}, zap.NewNop(), pass)

	loop.Start()
	assert.Eventually(t, func() bool {
		return pass.runs.Load() >= 1
	}, time.Second, 5*time.Millisecond)
	loop.Stop()

	// A stopped loop must come back up and keep ticking.
	stopped := pass.runs.Load()
	loop.Start()
	assert.Eventually(t, func() bool {
		return pass.runs.Load() > stopped
	}, time.Second, 5*time.Millisecond)
	loop.Stop()
}

func TestLeaderLoop_NonLeaderSkipsPasses(t *testing.T) {
	// GIVEN: The lease is held by another instance, far from expiry
	lease := cluster.NewMemoryLease()
	_, err := lease.TryAcquireOrRenew(context.Background(), "other", time.Now(), time.Hour)
	require.NoError(t, err)

	pass := &countingPass{name: "repair"}
	loop := cluster.NewLeaderLoop(lease, cluster.LoopConfig{
		Interval: 10 * time.Millisecond,
		TTL:      time.Second,
	}, zap.NewNop(), pass)

	// WHEN: The non-leader loop ticks a few times
	loop.Start()
	time.Sleep(60 * time.Millisecond)
	loop.Stop()

	// THEN: The passes never ran
	assert.Zero(t, pass.runs.Load())
}

func TestLeaderLoop_RunNow(t *testing.T) {
	lease := cluster.NewMemoryLease()
	pass := &countingPass{name: "repair"}
	loop := cluster.NewLeaderLoop(lease, cluster.LoopConfig{
		Interval: time.Hour, // effectively never ticks on its own
		TTL:      time.Hour,
	}, zap.NewNop(), pass)

	ran, err := loop.RunNow(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, int64(1), pass.runs.Load())
}

func TestLeaderLoop_RunNow_NotLeader(t *testing.T) {
	lease := cluster.NewMemoryLease()
	_, err := lease.TryAcquireOrRenew(context.Background(), "other", time.Now(), time.Hour)
	require.NoError(t, err)

	pass := &countingPass{name: "repair"}
	loop := cluster.NewLeaderLoop(lease, cluster.LoopConfig{
		Interval: time.Hour,
		TTL:      time.Hour,
	}, zap.NewNop(), pass)

	// The normal lease gate applies: a no-op answer, not an error.
	ran, err := loop.RunNow(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Zero(t, pass.runs.Load())
}

func TestLeaderLoop_PassErrorDoesNotStopOthers(t *testing.T) {
	lease := cluster.NewMemoryLease()
	failing := &countingPass{name: "repair", err: assert.AnError}
	healthy := &countingPass{name: "schedule"}

	loop := cluster.NewLeaderLoop(lease, cluster.LoopConfig{
		Interval: time.Hour,
		TTL:      time.Hour,
	}, zap.NewNop(), failing, healthy)

	ran, err := loop.RunNow(context.Background())
	require.NoError(t, err, "a pass error is logged, not surfaced")
	assert.True(t, ran)
	assert.Equal(t, int64(1), failing.runs.Load())
	assert.Equal(t, int64(1), healthy.runs.Load())
}
