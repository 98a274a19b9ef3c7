package retry

import (
	"sync"
	"time"

	"github.com/chorus-fed/conductor/common"
	"github.com/chorus-fed/conductor/log"
)

// Breaker states.
const (
	StateClosed uint8 = iota
	StateOpen
	StateHalfOpen
)

// Breaker is a per-peer circuit breaker. It opens after a configured number
// of consecutive failures inside the failure window, transitions to
// half-open after the open interval, and closes again on a successful
// request.
type Breaker struct {
	mu sync.Mutex

	threshold    int
	openInterval time.Duration
	failWindow   time.Duration

	state        uint8
	failures     int
	firstFailure time.Time
	openedAt     time.Time
}

// NewBreaker builds a breaker with the given thresholds.
func NewBreaker(threshold int, openInterval time.Duration) *Breaker {
	return &Breaker{
		threshold:    threshold,
		openInterval: openInterval,
		failWindow:   time.Minute,
		state:        StateClosed,
	}
}

// Allow reports whether a request may proceed. An open breaker admits a
// single probe once the open interval has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.openInterval {
			b.state = StateHalfOpen
			return true
		}
		return false
	default: // half-open: one probe in flight
		return false
	}
}

// Success records a successful request and closes the breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
}

// Failure records a failed request; enough consecutive failures inside the
// window open the breaker.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.openedAt = time.Now()
		return
	}

	now := time.Now()
	if b.failures == 0 || now.Sub(b.firstFailure) > b.failWindow {
		b.failures = 0
		b.firstFailure = now
	}
	b.failures++
	if b.failures >= b.threshold {
		b.state = StateOpen
		b.openedAt = now
	}
}

// State returns the current breaker state.
func (b *Breaker) State() uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerSet tracks one breaker per peer.
type BreakerSet struct {
	mu           sync.Mutex
	threshold    int
	openInterval time.Duration
	breakers     map[common.Hash]*Breaker
}

// NewBreakerSet builds an empty set with shared thresholds.
func NewBreakerSet(threshold int, openInterval time.Duration) *BreakerSet {
	return &BreakerSet{
		threshold:    threshold,
		openInterval: openInterval,
		breakers:     make(map[common.Hash]*Breaker),
	}
}

// For returns the breaker for a peer, creating it on first use.
func (s *BreakerSet) For(peer common.Hash) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[peer]
	if !ok {
		b = NewBreaker(s.threshold, s.openInterval)
		s.breakers[peer] = b
	}
	return b
}

// OpenCount returns the number of currently open breakers, for metrics.
func (s *BreakerSet) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	open := 0
	for peer, b := range s.breakers {
		if b.State() == StateOpen {
			log.Trace(log.NetMonitoring, "breaker open", "peer", peer.Str())
			open++
		}
	}
	return open
}
