package vdf

import (
	"sort"
	"sync"
	"time"
)

// AnomalyClock is the memory-resident wall-clock reference used only for
// byzantine detection. It is initialized at process start and MUST NOT be
// persisted or serialized into any outbound message; it carries no consensus
// meaning. Zeroize releases it on shutdown.
type AnomalyClock struct {
	mu sync.Mutex

	start       time.Time
	localRuns   map[uint64]runWindow // day -> local compute window
	arrivals    map[uint64]time.Time // day -> first peer proof arrival
	interDeltas []time.Duration      // observed peer proof inter-arrival gaps
	zeroized    bool
}

type runWindow struct {
	beganAt    time.Duration // offsets from clock start, never absolute time
	finishedAt time.Duration
}

// NewAnomalyClock captures the process-start reference point.
func NewAnomalyClock() *AnomalyClock {
	return &AnomalyClock{
		start:     time.Now(),
		localRuns: make(map[uint64]runWindow),
		arrivals:  make(map[uint64]time.Time),
	}
}

func (c *AnomalyClock) elapsed() time.Duration {
	return time.Since(c.start)
}

// RecordLocalRun records the local computation window for a day.
func (c *AnomalyClock) RecordLocalRun(day uint64, began, finished time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.zeroized {
		return
	}
	c.localRuns[day] = runWindow{beganAt: began, finishedAt: finished}
}

// Now returns the offset since process start, for bracketing local runs.
func (c *AnomalyClock) Now() time.Duration {
	return c.elapsed()
}

// RecordPeerArrival notes the arrival of a peer proof for a day and returns
// the gap since the previous day's first arrival, or false when no baseline
// exists yet.
func (c *AnomalyClock) RecordPeerArrival(day uint64) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.zeroized {
		return 0, false
	}
	now := time.Now()
	if _, seen := c.arrivals[day]; !seen {
		c.arrivals[day] = now
	}
	prev, ok := c.arrivals[day-1]
	if !ok {
		return 0, false
	}
	delta := now.Sub(prev)
	c.interDeltas = append(c.interDeltas, delta)
	return delta, true
}

// minCalibrationSamples is the number of inter-arrival observations needed
// before the percentile window is trusted.
const minCalibrationSamples = 8

// TooFast reports whether a measured inter-arrival gap is below the 5th
// percentile of the calibration window. With too few samples it falls back
// to 5% of the nominal target duration.
func (c *AnomalyClock) TooFast(delta time.Duration, target time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.zeroized {
		return false
	}
	if len(c.interDeltas) < minCalibrationSamples {
		return delta < target/20
	}
	sorted := make([]time.Duration, len(c.interDeltas))
	copy(sorted, c.interDeltas)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	p5 := sorted[len(sorted)/20]
	return delta < p5
}

// Zeroize clears all recorded observations. Called on the shutdown path so
// no trace of the reference outlives the process intentionally.
func (c *AnomalyClock) Zeroize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zeroized = true
	c.localRuns = make(map[uint64]runWindow)
	c.arrivals = make(map[uint64]time.Time)
	c.interDeltas = nil
	c.start = time.Time{}
}
