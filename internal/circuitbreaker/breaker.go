package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the guarded function while the
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// Breaker stops calling a failing dependency for OpenTimeout once
// FailureThreshold consecutive failures were observed. In half-open state
// a single probe is let through at a time.
type Breaker struct {
	mu               sync.Mutex
	state            State
	failureCount     int
	successCount     int
	probing          bool
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	openedAt         time.Time
	trips            func(error) bool
	onStateChange    func(from, to State)
	nowFn            func() time.Time
}

type Config struct {
	FailureThreshold int           // default 5
	SuccessThreshold int           // successes in half-open before closing, default 2
	OpenTimeout      time.Duration // default 30s
	// Trips reports whether err counts as a failure. Nil counts every error.
	Trips         func(error) bool
	OnStateChange func(from, to State)
	Now           func() time.Time
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		openTimeout:      cfg.OpenTimeout,
		trips:            cfg.Trips,
		onStateChange:    cfg.OnStateChange,
		nowFn:            cfg.Now,
	}
}

// Do runs fn unless the breaker rejects the call, and records the outcome.
func (b *Breaker) Do(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn()
	if err != nil && (b.trips == nil || b.trips(err)) {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return err
}

// Allow reports whether a call may proceed. A nil return in half-open state
// reserves the probe slot until the outcome is recorded.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkTimeout()
	switch b.state {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	if b.state == StateHalfOpen {
		b.probing = false
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.setState(StateClosed)
		}
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	b.successCount = 0
	switch b.state {
	case StateHalfOpen:
		b.open()
	case StateClosed:
		if b.failureCount >= b.failureThreshold {
			b.open()
		}
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkTimeout()
	return b.state
}

func (b *Breaker) open() {
	b.openedAt = b.nowFn()
	b.probing = false
	b.setState(StateOpen)
}

func (b *Breaker) checkTimeout() {
	if b.state == StateOpen && b.nowFn().Sub(b.openedAt) >= b.openTimeout {
		b.setState(StateHalfOpen)
	}
}

func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.successCount = 0
	if to == StateClosed {
		b.failureCount = 0
	}
	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
