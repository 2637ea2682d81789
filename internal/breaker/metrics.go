package breaker

import "fmt"

// Snapshot is the read-only view of a breaker's internals exposed by
// Metrics(). Field names match the JSON the HTTP surface serves verbatim.
type Snapshot struct {
	State               string `json:"state"`
	FailureRate         string `json:"failureRate"`
	SuccessfulCalls     int64  `json:"successfulCalls"`
	FailedCalls         int64  `json:"failedCalls"`
	WindowFailureRate   string `json:"windowFailureRate"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	HalfOpenTrials      string `json:"halfOpenTrials"`
}

// Metrics takes the time-driven transition first, then snapshots the
// breaker's internals. It never mutates anything the transition itself
// doesn't.
func (b *Breaker) Metrics() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeExpireOpenLocked()

	halfOpenTrials := "N/A"
	if b.state == HalfOpen {
		halfOpenTrials = fmt.Sprintf("%d/%d", b.halfOpenSuccesses, b.cfg.HalfOpenMaxTrials)
	}

	return Snapshot{
		State:               b.state.String(),
		FailureRate:         formatPercent(float64(b.totalFailure), float64(b.totalSuccess+b.totalFailure)),
		SuccessfulCalls:     b.totalSuccess,
		FailedCalls:         b.totalFailure,
		WindowFailureRate:   formatPercent(windowFailures(b.window), float64(len(b.window))),
		ConsecutiveFailures: b.consecutiveFails,
		HalfOpenTrials:      halfOpenTrials,
	}
}

func windowFailures(window []bool) float64 {
	n := 0
	for _, ok := range window {
		if !ok {
			n++
		}
	}
	return float64(n)
}

func formatPercent(numerator, denominator float64) string {
	if denominator == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", numerator/denominator*100)
}
