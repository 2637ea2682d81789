// Package breaker implements the per-dependency circuit breaker: a finite
// state machine that tracks call outcomes, trips to a fail-fast mode under
// sustained pressure, probes for recovery, and exposes its internals for
// observability. It is the ~45% core of recoguard.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brightlane/recoguard/internal/clock"
)

// State is one of the three breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Kind classifies why a call did not produce a value.
type Kind string

const (
	KindTimeout         Kind = "timeout"
	KindUpstreamError   Kind = "upstream_error"
	KindTransportError  Kind = "transport_error"
	KindRejectedOpen    Kind = "rejected_open"
)

// Failure is the breaker's uniform error shape. Outbound callers construct
// timeout/upstream_error/transport_error failures; the breaker itself
// constructs timeout (on its own inner deadline) and rejected_open, plus
// transport_error when AsFailure wraps a plain error returned by an op.
type Failure struct {
	Kind   Kind
	Detail string
	Status int   // set for upstream_error
	State  State // set for rejected_open
}

func (f *Failure) Error() string {
	if f.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d)", f.Kind, f.Detail, f.Status)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
}

// AsFailure unwraps err into a *Failure, classifying anything unrecognized
// as a transport_error. Outbound callers should already return a *Failure;
// this exists so Execute never has to special-case a plain error.
func AsFailure(err error) *Failure {
	if f, ok := err.(*Failure); ok {
		return f
	}
	return &Failure{Kind: KindTransportError, Detail: err.Error()}
}

// Config is a breaker's immutable configuration. Zero values are replaced by
// the documented defaults in WithDefaults.
type Config struct {
	Name                        string
	RequestTimeout              time.Duration
	WindowSize                  int
	FailureRateThreshold        float64
	ConsecutiveFailureThreshold int
	OpenStateDuration           time.Duration
	HalfOpenMaxTrials           int
}

// WithDefaults returns a copy of cfg with every unset field replaced by its
// documented default. The recognized fields are exactly these six; any
// other knob is out of scope.
func (c Config) WithDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 2 * time.Second
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 10
	}
	if c.FailureRateThreshold <= 0 {
		c.FailureRateThreshold = 0.5
	}
	if c.ConsecutiveFailureThreshold <= 0 {
		c.ConsecutiveFailureThreshold = 5
	}
	if c.OpenStateDuration <= 0 {
		c.OpenStateDuration = 30 * time.Second
	}
	if c.HalfOpenMaxTrials <= 0 {
		c.HalfOpenMaxTrials = 3
	}
	return c
}

// Breaker wraps one upstream dependency. It is safe for concurrent use: all
// mutations to state, window, counters, and timestamps are serialized by mu.
// The downstream call itself runs outside that lock — see Execute.
type Breaker struct {
	cfg   Config
	clock clock.Clock

	mu                sync.Mutex
	state             State
	window            []bool
	consecutiveFails  int
	openedAt          time.Time
	hasOpenedAt       bool
	halfOpenTrials    int
	halfOpenSuccesses int
	totalSuccess      int64
	totalFailure      int64
}

// New creates a Breaker in the CLOSED state.
func New(cfg Config, clk clock.Clock) *Breaker {
	if clk == nil {
		clk = clock.Real
	}
	return &Breaker{
		cfg:   cfg.WithDefaults(),
		clock: clk,
		state: Closed,
	}
}

// Name returns the breaker's configured label.
func (b *Breaker) Name() string { return b.cfg.Name }

// Execute runs op under the breaker's admission and timeout policy. op
// receives a context derived from ctx that is cancelled when Execute
// returns, including on the breaker's own request_timeout; op itself may
// keep running past that point. A late result is discarded and never
// reaches window/counters.
func Execute[T any](ctx context.Context, b *Breaker, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if !b.admit() {
		state := b.CurrentState()
		return zero, &Failure{
			Kind:   KindRejectedOpen,
			Detail: fmt.Sprintf("circuit %q is %s", b.cfg.Name, state),
			State:  state,
		}
	}

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	timer := b.clock.NewTimer(b.cfg.RequestTimeout)
	defer timer.Stop()

	go func() {
		v, err := op(opCtx)
		done <- outcome{v, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			b.recordFailure()
			return zero, AsFailure(res.err)
		}
		b.recordSuccess()
		return res.val, nil
	case <-timer.C():
		b.recordFailure()
		return zero, &Failure{
			Kind:   KindTimeout,
			Detail: fmt.Sprintf("exceeded request_timeout of %s", b.cfg.RequestTimeout),
		}
	}
}

// admit applies the time-driven OPEN->HALF_OPEN transition and then the
// admission rule for the resulting state. Admission and the half-open
// trial increment happen atomically under mu.
func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeExpireOpenLocked()

	switch b.state {
	case Closed:
		return true
	case Open:
		return false
	case HalfOpen:
		if b.halfOpenTrials < b.cfg.HalfOpenMaxTrials {
			b.halfOpenTrials++
			return true
		}
		return false
	default:
		return false
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalSuccess++
	b.consecutiveFails = 0
	b.appendWindowLocked(true)

	if b.state == HalfOpen {
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.HalfOpenMaxTrials {
			b.transitionToLocked(Closed)
		}
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailure++
	b.consecutiveFails++
	b.appendWindowLocked(false)

	switch b.state {
	case HalfOpen:
		b.transitionToLocked(Open)
	case Closed:
		if b.consecutiveFails >= b.cfg.ConsecutiveFailureThreshold {
			b.transitionToLocked(Open)
		} else if len(b.window) >= b.cfg.WindowSize && failureRate(b.window) >= b.cfg.FailureRateThreshold {
			b.transitionToLocked(Open)
		}
	}
}

func (b *Breaker) appendWindowLocked(success bool) {
	b.window = append(b.window, success)
	if len(b.window) > b.cfg.WindowSize {
		b.window = b.window[len(b.window)-b.cfg.WindowSize:]
	}
}

func failureRate(window []bool) float64 {
	if len(window) == 0 {
		return 0
	}
	failures := 0
	for _, ok := range window {
		if !ok {
			failures++
		}
	}
	return float64(failures) / float64(len(window))
}

// maybeExpireOpenLocked transitions OPEN->HALF_OPEN once open_state_duration
// has elapsed. Caller must hold mu.
func (b *Breaker) maybeExpireOpenLocked() {
	if b.state != Open || !b.hasOpenedAt {
		return
	}
	if b.clock.Now().Sub(b.openedAt) >= b.cfg.OpenStateDuration {
		b.transitionToLocked(HalfOpen)
	}
}

// transitionToLocked performs the bookkeeping required for each transition.
// Caller must hold mu.
func (b *Breaker) transitionToLocked(s State) {
	b.state = s
	switch s {
	case Open:
		b.openedAt = b.clock.Now()
		b.hasOpenedAt = true
		b.halfOpenTrials = 0
		b.halfOpenSuccesses = 0
	case HalfOpen:
		b.hasOpenedAt = false
		b.halfOpenTrials = 0
		b.halfOpenSuccesses = 0
	case Closed:
		b.hasOpenedAt = false
		b.window = b.window[:0]
		b.consecutiveFails = 0
		b.halfOpenTrials = 0
		b.halfOpenSuccesses = 0
	}
}

// CurrentState returns the state, performing the time-driven transition
// first so a caller never observes a stale OPEN past its deadline.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeExpireOpenLocked()
	return b.state
}

// Reset forces CLOSED and zeros every counter and the window. Safe in any
// state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = Closed
	b.window = nil
	b.consecutiveFails = 0
	b.hasOpenedAt = false
	b.openedAt = time.Time{}
	b.halfOpenTrials = 0
	b.halfOpenSuccesses = 0
	b.totalSuccess = 0
	b.totalFailure = 0
}
