// Package promexport bridges the circuit breaker's plain Metrics() snapshot
// into Prometheus gauges. The breaker package itself never imports
// Prometheus; only this package knows about both sides.
package promexport

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/brightlane/recoguard/internal/breaker"
)

// State numbering exported as a gauge: 0=CLOSED, 1=OPEN, 2=HALF_OPEN.
const (
	stateClosed float64 = iota
	stateOpen
	stateHalfOpen
)

// Collector implements prometheus.Collector over a fixed set of named
// breakers, pulling a fresh Snapshot on every scrape.
type Collector struct {
	breakers map[string]*breaker.Breaker

	state               *prometheus.Desc
	successfulCalls     *prometheus.Desc
	failedCalls         *prometheus.Desc
	consecutiveFailures *prometheus.Desc
}

// New builds a Collector over breakers, keyed by label (e.g.
// "user_profile", "content" — exported as the "breaker" label).
func New(breakers map[string]*breaker.Breaker) *Collector {
	return &Collector{
		breakers: breakers,
		state: prometheus.NewDesc(
			"recoguard_circuit_breaker_state",
			"Circuit breaker state: 0=CLOSED, 1=OPEN, 2=HALF_OPEN.",
			[]string{"breaker"}, nil,
		),
		successfulCalls: prometheus.NewDesc(
			"recoguard_circuit_breaker_successful_calls_total",
			"Total calls the breaker recorded as successful.",
			[]string{"breaker"}, nil,
		),
		failedCalls: prometheus.NewDesc(
			"recoguard_circuit_breaker_failed_calls_total",
			"Total calls the breaker recorded as failed.",
			[]string{"breaker"}, nil,
		),
		consecutiveFailures: prometheus.NewDesc(
			"recoguard_circuit_breaker_consecutive_failures",
			"Current consecutive failure count.",
			[]string{"breaker"}, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.successfulCalls
	ch <- c.failedCalls
	ch <- c.consecutiveFailures
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for name, b := range c.breakers {
		snap := b.Metrics()

		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, stateValue(snap.State), name)
		ch <- prometheus.MustNewConstMetric(c.successfulCalls, prometheus.CounterValue, float64(snap.SuccessfulCalls), name)
		ch <- prometheus.MustNewConstMetric(c.failedCalls, prometheus.CounterValue, float64(snap.FailedCalls), name)
		ch <- prometheus.MustNewConstMetric(c.consecutiveFailures, prometheus.GaugeValue, float64(snap.ConsecutiveFailures), name)
	}
}

func stateValue(s string) float64 {
	switch s {
	case "OPEN":
		return stateOpen
	case "HALF_OPEN":
		return stateHalfOpen
	default:
		return stateClosed
	}
}
