// Package clock gives the circuit breaker an injectable source of "now" so
// its state-machine transitions can be driven by a fake clock in tests
// instead of real sleeps.
package clock

import "github.com/zoobzio/clockz"

// Clock provides the time operations the breaker needs. The health checker,
// rate limiter, and trending cache use the time package directly.
// Production code uses Real; tests use a FakeClock.
type Clock = clockz.Clock

// Timer is a single-shot, cancellable timer returned by Clock.NewTimer.
type Timer = clockz.Timer

// Ticker delivers repeated ticks, returned by Clock.NewTicker.
type Ticker = clockz.Ticker

// Real is the production Clock, backed by the standard library.
var Real Clock = clockz.RealClock
