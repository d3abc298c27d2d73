package gateway

import (
	"sync"
	"time"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// Breaker trips after a run of consecutive transport failures and blocks
// further calls until a cool-down elapses. While half-open it admits a
// single probe; the probe's outcome decides whether the breaker closes
// again or re-opens.
type Breaker struct {
	mu        sync.Mutex
	state     breakerState
	failRun   int
	threshold int
	coolDown  time.Duration
	retryAt   time.Time
	probing   bool
}

func NewBreaker(threshold int, coolDown time.Duration) *Breaker {
	return &Breaker{threshold: threshold, coolDown: coolDown}
}

// Allow reports whether a call may proceed, claiming the probe slot when
// the breaker is open and the cool-down has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if time.Now().After(b.retryAt) && !b.probing {
			b.state = stateHalfOpen
			b.probing = true
			return true
		}
		return false
	case stateHalfOpen:
		if !b.probing {
			b.probing = true
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	b.failRun = 0
	b.state = stateClosed
	b.probing = false
	b.mu.Unlock()
}

func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateHalfOpen {
		b.state = stateOpen
		b.retryAt = time.Now().Add(b.coolDown)
		b.probing = false
		return
	}

	b.failRun++
	if b.failRun >= b.threshold {
		b.state = stateOpen
		b.retryAt = time.Now().Add(b.coolDown)
	}
}
