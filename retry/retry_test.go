package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chorus-fed/conductor/common"
)

func TestDoEventuallySucceeds(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestDoPermanentStopsImmediately(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func() error {
		attempts++
		return Permanent(errors.New("terminal"))
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(5, time.Hour)
	for i := 0; i < 4; i++ {
		b.Failure()
		require.True(t, b.Allow())
	}
	b.Failure()
	require.Equal(t, StateOpen, b.State())
	require.False(t, b.Allow())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker(2, 30*time.Millisecond)
	b.Failure()
	b.Failure()
	require.False(t, b.Allow())

	time.Sleep(50 * time.Millisecond)
	// first request after the open interval is the probe
	require.True(t, b.Allow())
	require.Equal(t, StateHalfOpen, b.State())
	// no second probe while one is in flight
	require.False(t, b.Allow())

	b.Success()
	require.Equal(t, StateClosed, b.State())
	require.True(t, b.Allow())
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	b := NewBreaker(2, 20*time.Millisecond)
	b.Failure()
	b.Failure()
	time.Sleep(40 * time.Millisecond)
	require.True(t, b.Allow())

	b.Failure()
	require.Equal(t, StateOpen, b.State())
	require.False(t, b.Allow())
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewBreaker(3, time.Hour)
	b.Failure()
	b.Failure()
	b.Success()
	b.Failure()
	b.Failure()
	require.Equal(t, StateClosed, b.State())
}

func TestBreakerSet(t *testing.T) {
	s := NewBreakerSet(1, time.Hour)
	peerA := common.HexToHash("0x0a")
	peerB := common.HexToHash("0x0b")

	s.For(peerA).Failure()
	require.Equal(t, StateOpen, s.For(peerA).State())
	require.Equal(t, StateClosed, s.For(peerB).State())
	require.Equal(t, 1, s.OpenCount())
}
