package backoff

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withDeterministicRNG(t *testing.T, seed int64, fn func()) {
	t.Helper()
	rngMu.Lock()
	old := rng
	rng = rand.New(rand.NewSource(seed))
	rngMu.Unlock()
	t.Cleanup(func() {
		rngMu.Lock()
		rng = old
		rngMu.Unlock()
	})
	fn()
}

func TestRandInt63n_EdgeCases(t *testing.T) {
	assert.Equal(t, int64(0), randInt63n(0))
	assert.Equal(t, int64(0), randInt63n(-1))
}

func TestApplyJitter_NoJitter(t *testing.T) {
	base := 1500 * time.Millisecond
	assert.Equal(t, base, ApplyJitter(base, 0))
	assert.Equal(t, base, ApplyJitter(base, -10*time.Millisecond))
}

func TestApplyJitter_RangeAndNonNegative(t *testing.T) {
	withDeterministicRNG(t, 1, func() {
		base := 200 * time.Millisecond
		jitter := 50 * time.Millisecond
		for i := 0; i < 200; i++ {
			got := ApplyJitter(base, jitter)
			require.GreaterOrEqual(t, got, base-jitter)
			require.LessOrEqual(t, got, base+jitter)
		}
	})
}

func TestApplyJitter_DoesNotGoNegative(t *testing.T) {
	withDeterministicRNG(t, 2, func() {
		for i := 0; i < 200; i++ {
			require.GreaterOrEqual(t, ApplyJitter(time.Millisecond, 10*time.Millisecond), time.Duration(0))
		}
	})
}

func TestPolicy_DelayGrowsAndCaps(t *testing.T) {
	p := Policy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Factor: 2}
	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 400*time.Millisecond, p.Delay(3))
	assert.Equal(t, time.Second, p.Delay(10))
}

func TestPolicy_WithDefaults(t *testing.T) {
	p := Policy{MaxAttempts: 3}.WithDefaults()
	d := DefaultPolicy()
	assert.Equal(t, d.InitialDelay, p.InitialDelay)
	assert.Equal(t, d.MaxDelay, p.MaxDelay)
	assert.Equal(t, d.Factor, p.Factor)
	assert.Equal(t, 3, p.MaxAttempts)
}

func TestPolicy_Exhausted(t *testing.T) {
	assert.False(t, Policy{}.Exhausted(1000))
	p := Policy{MaxAttempts: 2}
	assert.False(t, p.Exhausted(2))
	assert.True(t, p.Exhausted(3))
}

func TestSleep_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, Sleep(context.Background(), time.Millisecond))
}
