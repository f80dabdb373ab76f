package poller

import (
	"math"
	"time"
)

// Backoff computes the delay schedule between poll attempts:
// delay(attempt) = min(Max, Initial * Multiplier^attempt).
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Delay returns the delay for the given 0-based attempt index, rounded
// to whole milliseconds so the schedule is deterministic.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	ms := float64(b.Initial.Milliseconds()) * math.Pow(b.Multiplier, float64(attempt))
	// Clamp while still in the float domain; converting an out-of-range
	// float to Duration is implementation-defined and can go negative.
	if ms >= float64(b.Max.Milliseconds()) {
		return b.Max
	}
	return time.Duration(math.Round(ms)) * time.Millisecond
}
