package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigotlabs/spigot/internal/core"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(offset time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(offset)
}

func (c *fakeClock) At(offset time.Duration) time.Time {
	return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(offset)
}

func newTestLimiter(t *testing.T, window time.Duration) (*ClaimLimiter, *MemoryLimitStore, *fakeClock) {
	t.Helper()
	store := NewMemoryLimitStore()
	limiter, err := NewClaimLimiter(store, window)
	require.NoError(t, err)
	clock := newFakeClock()
	limiter.Clock = clock.Now
	return limiter, store, clock
}

func TestNewClaimLimiterValidation(t *testing.T) {
	_, err := NewClaimLimiter(nil, time.Hour)
	require.Error(t, err)
	_, err = NewClaimLimiter(NewMemoryLimitStore(), 0)
	require.Error(t, err)
}

func TestReserveCommitBlocksUntilWindowEnds(t *testing.T) {
	ctx := context.Background()
	limiter, _, clock := newTestLimiter(t, time.Hour)

	res, err := limiter.Reserve(ctx, "fp:x")
	require.NoError(t, err)

	eligibleAt, err := limiter.Commit(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, clock.At(time.Hour), eligibleAt)

	clock.Set(30 * time.Minute)
	_, err = limiter.Reserve(ctx, "fp:x")
	var limited *core.RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, clock.At(time.Hour), limited.RetryAt)
	assert.ErrorIs(t, err, core.ErrRateLimited)

	decision, err := limiter.Check(ctx, "fp:x")
	require.NoError(t, err)
	assert.False(t, decision.Eligible)
	assert.Equal(t, clock.At(time.Hour), decision.RetryAt)

	// Other identities are unaffected.
	_, err = limiter.Reserve(ctx, "fp:y")
	require.NoError(t, err)
}

func TestCheckSweepsExpiredEntries(t *testing.T) {
	ctx := context.Background()
	limiter, store, clock := newTestLimiter(t, time.Hour)

	require.NoError(t, limiter.Record(ctx, "ip:1"))
	clock.Set(10 * time.Minute)
	require.NoError(t, limiter.Record(ctx, "ip:2"))
	require.Equal(t, 2, store.Len())

	// eligible-at == now counts as expired.
	clock.Set(time.Hour)
	decision, err := limiter.Check(ctx, "ip:1")
	require.NoError(t, err)
	assert.True(t, decision.Eligible)
	assert.Equal(t, 1, store.Len())

	clock.Set(2 * time.Hour)
	decision, err = limiter.Check(ctx, "ip:2")
	require.NoError(t, err)
	assert.True(t, decision.Eligible)
	assert.Zero(t, store.Len())
}

func TestPendingReservationBlocksSecondReserve(t *testing.T) {
	ctx := context.Background()
	limiter, _, _ := newTestLimiter(t, time.Hour)

	_, err := limiter.Reserve(ctx, "fp:x")
	require.NoError(t, err)

	_, err = limiter.Reserve(ctx, "fp:x")
	assert.ErrorIs(t, err, core.ErrRateLimited)
}

func TestPendingReservationHasNoRetryTime(t *testing.T) {
	ctx := context.Background()
	limiter, _, clock := newTestLimiter(t, time.Hour)

	res, err := limiter.Reserve(ctx, "fp:x")
	require.NoError(t, err)

	_, err = limiter.Reserve(ctx, "fp:x")
	var limited *core.RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.True(t, limited.Pending)
	assert.True(t, limited.RetryAt.IsZero())

	decision, err := limiter.Check(ctx, "fp:x")
	require.NoError(t, err)
	assert.False(t, decision.Eligible)
	assert.True(t, decision.Pending)
	assert.True(t, decision.RetryAt.IsZero())

	_, err = limiter.Commit(ctx, res)
	require.NoError(t, err)

	_, err = limiter.Reserve(ctx, "fp:x")
	require.ErrorAs(t, err, &limited)
	assert.False(t, limited.Pending)
	assert.Equal(t, clock.At(time.Hour), limited.RetryAt)
}

func TestReleaseFreesSlot(t *testing.T) {
	ctx := context.Background()
	limiter, store, _ := newTestLimiter(t, time.Hour)

	res, err := limiter.Reserve(ctx, "fp:x")
	require.NoError(t, err)
	require.NoError(t, limiter.Release(ctx, res))
	assert.Zero(t, store.Len())

	_, err = limiter.Reserve(ctx, "fp:x")
	require.NoError(t, err)
}

func TestReleaseLeavesOtherWritersAlone(t *testing.T) {
	ctx := context.Background()
	limiter, store, _ := newTestLimiter(t, time.Hour)

	stale, err := limiter.Reserve(ctx, "fp:x")
	require.NoError(t, err)
	_, err = limiter.Commit(ctx, stale)
	require.NoError(t, err)

	// Committed entries are not reservations any more.
	require.NoError(t, limiter.Release(ctx, stale))
	assert.Equal(t, 1, store.Len())

	require.NoError(t, limiter.Release(ctx, &Reservation{Key: "fp:x", ID: "someone-else"}))
	assert.Equal(t, 1, store.Len())
	require.NoError(t, limiter.Release(ctx, nil))
}

func TestConcurrentReserveGrantsOneSlot(t *testing.T) {
	ctx := context.Background()
	limiter, _, _ := newTestLimiter(t, time.Hour)

	const workers = 50
	var granted atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			if _, err := limiter.Reserve(ctx, "fp:same"); err == nil {
				granted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), granted.Load())
}

func TestSweepAndJanitor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter, store, clock := newTestLimiter(t, time.Minute)

	require.NoError(t, limiter.Record(ctx, "a"))
	require.NoError(t, limiter.Record(ctx, "b"))
	clock.Set(2 * time.Minute)

	swept := make(chan int, 1)
	go limiter.RunJanitor(ctx, 5*time.Millisecond, func(removed int, err error) {
		if err == nil && removed > 0 {
			select {
			case swept <- removed:
			default:
			}
		}
	})

	select {
	case removed := <-swept:
		assert.Equal(t, 2, removed)
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not sweep")
	}
	assert.Zero(t, store.Len())
}
