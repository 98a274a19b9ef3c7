package vdf

import (
	"sort"
	"time"

	"github.com/chorus-fed/conductor/log"
)

const (
	// DefaultAdjustmentIntervalDays is how often difficulty is retuned.
	DefaultAdjustmentIntervalDays uint32 = 10
	// TargetDayDuration is the completion time difficulty aims for.
	TargetDayDuration = 24 * time.Hour
	// retuneDeadband is the relative divergence below which no adjustment
	// happens.
	retuneDeadband = 0.10
)

// Retune returns the difficulty for the next interval given the median
// completion durations observed across validators in the last interval.
// Only the median is consulted, so outliers cannot steer the adjustment,
// and each retune is bounded to [x0.5, x2].
func Retune(current uint64, observed []time.Duration, target time.Duration) uint64 {
	if len(observed) == 0 || current == 0 {
		return current
	}
	median := medianDuration(observed)
	if median <= 0 {
		return current
	}

	ratio := float64(target) / float64(median)
	divergence := ratio - 1
	if divergence < 0 {
		divergence = -divergence
	}
	if divergence <= retuneDeadband {
		return current
	}

	if ratio > 2 {
		ratio = 2
	}
	if ratio < 0.5 {
		ratio = 0.5
	}
	next := uint64(float64(current) * ratio)
	if next == 0 {
		next = 1
	}
	log.Info(log.VDFMonitoring, "difficulty retuned",
		"current", current, "next", next, "median", median, "target", target)
	return next
}

func medianDuration(samples []time.Duration) time.Duration {
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
