package agentpool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() Config {
	return Config{
		HourlyQuota: 3,
		Validity:    time.Hour,
		Backoff:     time.Hour,
	}
}

func TestNewRequiresPositiveQuotaAndValidity(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	_, err := New(Config{HourlyQuota: 0, Validity: time.Hour}, clock, zap.NewNop())
	require.Error(t, err)

	_, err = New(Config{HourlyQuota: 1, Validity: 0}, clock, zap.NewNop())
	require.Error(t, err)
}

func TestConsumeRequestDecrementsBudget(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pool, err := New(testConfig(), clock, zap.NewNop())
	require.NoError(t, err)

	require.True(t, pool.CanMakeRequest())
	require.Equal(t, StatusIdle, pool.Status())

	for i := 0; i < 3; i++ {
		require.NoError(t, pool.ConsumeRequest())
	}
	require.Equal(t, StatusActive, pool.Status())
	require.Zero(t, pool.Remaining())

	require.False(t, pool.CanMakeRequest())
	require.ErrorIs(t, pool.ConsumeRequest(), ErrNoCapacity)
}

func TestExpiredTokenRotates(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pool, err := New(testConfig(), clock, zap.NewNop())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, pool.ConsumeRequest())
	}
	require.False(t, pool.CanMakeRequest())

	clock.Advance(2 * time.Hour)
	require.True(t, pool.CanMakeRequest())
	require.Equal(t, StatusIdle, pool.Status())
	require.Equal(t, 3, pool.Remaining())
}

func TestRateLimitBlocksUntilBackoffElapses(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pool, err := New(testConfig(), clock, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, pool.ConsumeRequest())
	pool.HandleRateLimitError()
	require.Equal(t, StatusRateLimited, pool.Status())
	require.False(t, pool.CanMakeRequest())
	require.ErrorIs(t, pool.ConsumeRequest(), ErrNoCapacity)

	// Expiry never rescues a rate-limited token.
	clock.Advance(2 * time.Hour)
	require.False(t, pool.CanMakeRequest())

	require.NoError(t, pool.RecoverFromRateLimit())
	require.Equal(t, StatusRecovered, pool.Status())
	require.Equal(t, 3, pool.Remaining())
	require.True(t, pool.CanMakeRequest())
}

func TestRecoverFromRateLimitGuards(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pool, err := New(testConfig(), clock, zap.NewNop())
	require.NoError(t, err)

	require.ErrorIs(t, pool.RecoverFromRateLimit(), ErrNotRateLimited)

	pool.HandleRateLimitError()
	clock.Advance(30 * time.Minute)
	require.ErrorIs(t, pool.RecoverFromRateLimit(), ErrBackoffActive)

	clock.Advance(31 * time.Minute)
	require.NoError(t, pool.RecoverFromRateLimit())
}
