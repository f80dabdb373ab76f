// Package reporting aggregates terminal reconciliation runs into a
// retrospective report for operators.
package reporting

import (
	"sync"
	"time"
)

// LogEntry records one terminal reconciliation run.
type LogEntry struct {
	Timestamp   time.Time
	RunID       string
	Gateway     string // "vnpay", "payos", "unknown"
	FinalStatus string // "paid", "still_pending", "failed", "unknown", "cancelled"
	OrderID     string
	RetriesUsed int
	Duration    time.Duration
}

// RetrospectiveReport summarizes reconciliation activity over a window
// of log entries.
type RetrospectiveReport struct {
	TotalRuns       int
	StatusBreakdown map[string]int
	GatewayUsage    map[string]int
	TotalRetries    int
	// MaxRetriesUsed is the worst retry count seen, a proxy for how far
	// behind the webhook is lagging.
	MaxRetriesUsed  int
	AverageRetries  float64
	AverageDuration time.Duration
	DateFrom        time.Time
	DateTo          time.Time
}

// Recorder collects log entries from the orchestrator. Safe for
// concurrent use.
type Recorder struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends one terminal run.
func (r *Recorder) Record(entry LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

// Entries returns a copy of all recorded entries.
func (r *Recorder) Entries() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// GenerateRetrospective analyzes log entries into a report.
func GenerateRetrospective(logs []LogEntry) *RetrospectiveReport {
	report := &RetrospectiveReport{
		StatusBreakdown: make(map[string]int),
		GatewayUsage:    make(map[string]int),
	}
	if len(logs) == 0 {
		return report
	}

	report.TotalRuns = len(logs)
	report.DateFrom = logs[0].Timestamp
	report.DateTo = logs[0].Timestamp

	var totalDuration time.Duration
	for _, entry := range logs {
		report.StatusBreakdown[entry.FinalStatus]++
		report.GatewayUsage[entry.Gateway]++
		report.TotalRetries += entry.RetriesUsed
		if entry.RetriesUsed > report.MaxRetriesUsed {
			report.MaxRetriesUsed = entry.RetriesUsed
		}
		totalDuration += entry.Duration

		if entry.Timestamp.Before(report.DateFrom) {
			report.DateFrom = entry.Timestamp
		}
		if entry.Timestamp.After(report.DateTo) {
			report.DateTo = entry.Timestamp
		}
	}

	report.AverageRetries = float64(report.TotalRetries) / float64(report.TotalRuns)
	report.AverageDuration = totalDuration / time.Duration(report.TotalRuns)
	return report
}
