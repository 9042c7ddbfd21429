package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfpulse/correlate/store"
)

func newTestLedger(t *testing.T, clock Clock, cfg Config) (*Ledger, func()) {
	t.Helper()
	kv, err := store.OpenBoltKV(t.TempDir() + "/ledger.db")
	require.NoError(t, err)
	return New(kv, cfg, clock, nil), func() { kv.Close() }
}

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestReserveCommit_UpdatesSpentAndCounters(t *testing.T) {
	cfg := DefaultConfig(10.0)
	l, done := newTestLedger(t, fixedClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)), cfg)
	defer done()
	ctx := context.Background()

	h, err := l.Reserve(ctx, FromUSD(1.0))
	require.NoError(t, err)

	snap, err := l.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, FromUSD(1.0), snap.Reserved)
	assert.Equal(t, Micros(0), snap.Spent)

	err = l.Commit(ctx, h, FromUSD(0.8), Counters{LLMTokens: 500, LLMRequests: 1})
	require.NoError(t, err)

	snap, err = l.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, Micros(0), snap.Reserved)
	assert.Equal(t, FromUSD(0.8), snap.Spent)
	assert.Equal(t, int64(500), snap.Counters.LLMTokens)
	assert.Equal(t, int64(1), snap.Counters.LLMRequests)
}

func TestRelease_ReturnsReservationWithoutSpend(t *testing.T) {
	cfg := DefaultConfig(10.0)
	l, done := newTestLedger(t, fixedClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)), cfg)
	defer done()
	ctx := context.Background()

	h, err := l.Reserve(ctx, FromUSD(2.0))
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, h))

	snap, err := l.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, Micros(0), snap.Reserved)
	assert.Equal(t, Micros(0), snap.Spent)
}

func TestReserve_DeniedOverCap(t *testing.T) {
	cfg := DefaultConfig(1.0)
	l, done := newTestLedger(t, fixedClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)), cfg)
	defer done()
	ctx := context.Background()

	_, err := l.Reserve(ctx, FromUSD(1.5))
	require.Error(t, err)
	var denied *ErrBudgetDenied
	require.ErrorAs(t, err, &denied)
}

func TestDegradationLadder_Thresholds(t *testing.T) {
	cfg := DefaultConfig(10.0)
	l, done := newTestLedger(t, fixedClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)), cfg)
	defer done()
	ctx := context.Background()

	h, err := l.Reserve(ctx, FromUSD(8.0))
	require.NoError(t, err)
	require.NoError(t, l.Commit(ctx, h, FromUSD(8.0), Counters{}))

	// 8.00 of 10.00 is 80%: past the 0.75 warn threshold, short of the 0.90
	// LLM cutoff.
	status, err := l.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusWarn, status)
}

func TestMonthlyRollover_FreshEntry(t *testing.T) {
	cfg := DefaultConfig(10.0)
	kv, err := store.OpenBoltKV(t.TempDir() + "/ledger.db")
	require.NoError(t, err)
	defer kv.Close()

	march := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	l := New(kv, cfg, fixedClock(march), nil)
	ctx := context.Background()
	h, err := l.Reserve(ctx, FromUSD(5.0))
	require.NoError(t, err)
	require.NoError(t, l.Commit(ctx, h, FromUSD(5.0), Counters{}))

	april := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	l2 := New(kv, cfg, fixedClock(april), nil)
	snap, err := l2.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "202504", snap.Month)
	assert.Equal(t, Micros(0), snap.Spent)
}

func TestProject_DoesNotMutateState(t *testing.T) {
	cfg := DefaultConfig(10.0)
	l, done := newTestLedger(t, fixedClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)), cfg)
	defer done()
	ctx := context.Background()

	ok, err := l.Project(ctx, FromUSD(5.0))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Project(ctx, FromUSD(50.0))
	require.NoError(t, err)
	assert.False(t, ok)

	snap, err := l.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, Micros(0), snap.Spent)
	assert.Equal(t, Micros(0), snap.Reserved)
}

// TestConcurrentReservations_NeverExceedCap exercises spec.md §8's universal
// budget-safety property under randomized concurrent reservations: many
// goroutines race Reserve/Commit/Release against one Ledger and committed
// spend must never exceed the cap, regardless of interleaving. Run with
// -race to catch any unguarded access to the ledger's shared state.
func TestConcurrentReservations_NeverExceedCap(t *testing.T) {
	const capUSD = 5.0
	cfg := DefaultConfig(capUSD)
	l, done := newTestLedger(t, fixedClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)), cfg)
	defer done()
	ctx := context.Background()

	const workers = 32
	const attemptsPerWorker = 50
	var perAttempt = FromUSD(0.03)

	var wg sync.WaitGroup
	var denied, committed int64
	for w := 0; w < workers; w++ {
		seed := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < attemptsPerWorker; i++ {
				h, err := l.Reserve(ctx, perAttempt)
				if err != nil {
					atomic.AddInt64(&denied, 1)
					continue
				}
				// Alternate between committing and releasing across attempts
				// and workers so both code paths race concurrently.
				if (seed+i)%3 == 0 {
					require.NoError(t, l.Release(ctx, h))
					continue
				}
				require.NoError(t, l.Commit(ctx, h, perAttempt, Counters{}))
				atomic.AddInt64(&committed, 1)
			}
		}()
	}
	wg.Wait()

	snap, err := l.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, Micros(0), snap.Reserved)
	assert.LessOrEqual(t, int64(snap.Spent), int64(FromUSD(capUSD)))
	assert.Equal(t, int64(committed)*int64(perAttempt), int64(snap.Spent))
	assert.Greater(t, denied, int64(0))
}
