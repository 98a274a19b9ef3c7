package vdf

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chorus-fed/conductor/common"
	"github.com/chorus-fed/conductor/conderrors"
)

func TestComputeDeterministic(t *testing.T) {
	e := NewEngine(GenesisSeed, 100)
	seed := e.DeriveSeed(1)

	a, err := e.Compute(context.Background(), seed, TestDifficulty)
	require.NoError(t, err)
	b, err := e.Compute(context.Background(), seed, TestDifficulty)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestComputeMatchesManualChain(t *testing.T) {
	e := NewEngine([]byte("G"), 100)
	seed := common.Blake2HashConcat([]byte("day-seed"), common.Uint64ToBytesBE(1), []byte("G"))
	require.Equal(t, seed, e.DeriveSeed(1))

	current := seed
	for i := 0; i < 1000; i++ {
		current = common.Blake2Hash(current.Bytes())
	}

	out, err := e.Compute(context.Background(), seed, 1000)
	require.NoError(t, err)
	require.Equal(t, current, out)
}

func TestVerifyRoundTrip(t *testing.T) {
	e := NewEngine(GenesisSeed, 100)
	seed := e.DeriveSeed(7)

	out, err := e.Compute(context.Background(), seed, TestDifficulty)
	require.NoError(t, err)

	ok, err := e.Verify(context.Background(), seed, TestDifficulty, out)
	require.NoError(t, err)
	require.True(t, ok)

	var wrong common.Hash
	wrong[0] = 0xff
	ok, err = e.Verify(context.Background(), seed, TestDifficulty, wrong)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSeedIndependentOfPriorDays(t *testing.T) {
	e := NewEngine(GenesisSeed, 100)
	// seeds are a pure function of (day, genesis)
	require.NotEqual(t, e.DeriveSeed(1), e.DeriveSeed(2))
	require.Equal(t, e.DeriveSeed(5), NewEngine(GenesisSeed, 999).DeriveSeed(5))
}

func TestComputeCancellation(t *testing.T) {
	e := NewEngine(GenesisSeed, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Compute(ctx, e.DeriveSeed(1), 1_000_000)
	require.ErrorIs(t, err, conderrors.ErrFCancelled)
}

func TestComputeZeroDifficulty(t *testing.T) {
	e := NewEngine(GenesisSeed, 10)
	_, err := e.Compute(context.Background(), e.DeriveSeed(1), 0)
	require.ErrorIs(t, err, conderrors.ErrFBadDifficulty)
}

func TestProgressCallback(t *testing.T) {
	e := NewEngine(GenesisSeed, 100)
	var calls int
	e.SetProgressFunc(func(done, total uint64) { calls++ })

	_, err := e.Compute(context.Background(), e.DeriveSeed(1), 1000)
	require.NoError(t, err)
	require.Equal(t, 9, calls)
}

func TestRetune(t *testing.T) {
	day := 24 * time.Hour

	// within deadband: unchanged
	require.Equal(t, uint64(1000), Retune(1000, []time.Duration{day, day + time.Hour, day - time.Hour}, day))

	// median twice as slow: halve
	require.Equal(t, uint64(500), Retune(1000, []time.Duration{2 * day, 2 * day, 2 * day}, day))

	// median much too fast: capped at x2
	require.Equal(t, uint64(2000), Retune(1000, []time.Duration{day / 10, day / 10, day / 10}, day))

	// outliers do not move the median
	obs := []time.Duration{day, day, day, time.Minute, 100 * day}
	require.Equal(t, uint64(1000), Retune(1000, obs, day))

	// no observations: unchanged
	require.Equal(t, uint64(1000), Retune(1000, nil, day))
}

func TestAnomalyClockTooFast(t *testing.T) {
	c := NewAnomalyClock()

	// below minimum samples: threshold is 5% of target
	require.True(t, c.TooFast(time.Second, time.Hour))
	require.False(t, c.TooFast(30*time.Minute, time.Hour))

	c.Zeroize()
	require.False(t, c.TooFast(time.Second, time.Hour))
}
