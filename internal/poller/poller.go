// Package poller drives the bounded retry loop against the settlement
// lookup collaborator: one in-flight lookup at a time, exponential
// backoff between attempts, cancellable at every suspension point.
package poller

import (
	"context"
	"log/slog"

	"github.com/yourorg/settlement-reconciler/internal/lookup"
	"github.com/yourorg/settlement-reconciler/internal/settlement"
)

// TerminalKind classifies why a poll run stopped.
type TerminalKind int

const (
	// TerminalPaid means a record classified Paid was observed.
	TerminalPaid TerminalKind = iota
	// TerminalNonPaid means a record classified cancelled/failed/
	// refunded/unrecognized was observed; retrying cannot change it.
	TerminalNonPaid
	// TerminalExhaustedPending means the retry budget ran out while the
	// settlement was still pending or not yet visible.
	TerminalExhaustedPending
	// TerminalExhaustedErrors means the retry budget ran out and every
	// single attempt failed at the transport level.
	TerminalExhaustedErrors
)

func (k TerminalKind) String() string {
	switch k {
	case TerminalPaid:
		return "paid"
	case TerminalNonPaid:
		return "non_paid"
	case TerminalExhaustedPending:
		return "exhausted_pending"
	default:
		return "exhausted_errors"
	}
}

// Result is the outcome of one poll run.
type Result struct {
	// Record is the last settlement record observed, or nil.
	Record *settlement.Record
	// Terminal is why the run stopped.
	Terminal TerminalKind
	// Attempts is the number of lookup calls issued (retries + 1).
	Attempts int
}

// RetriesUsed is Attempts minus the initial call.
func (r Result) RetriesUsed() int {
	if r.Attempts == 0 {
		return 0
	}
	return r.Attempts - 1
}

// attemptOutcome is the transient per-attempt classification, logged
// and discarded.
type attemptOutcome string

const (
	outcomePaid      attemptOutcome = "paid"
	outcomeNonPaid   attemptOutcome = "terminal_non_paid"
	outcomePending   attemptOutcome = "pending"
	outcomeNotFound  attemptOutcome = "not_found"
	outcomeTransport attemptOutcome = "transport_error"
)

// Config bounds a poll run.
type Config struct {
	Backoff    Backoff
	MaxRetries int
}

// Poller runs the lookup retry loop. Poll runs for different orders are
// independent; a Poller is safe for concurrent use.
type Poller struct {
	client lookup.Client
	cfg    Config
	clock  Clock
}

// New creates a Poller. A nil clock defaults to real time.
func New(client lookup.Client, cfg Config, clock Clock) *Poller {
	if client == nil {
		panic("lookup client cannot be nil")
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Poller{client: client, cfg: cfg, clock: clock}
}

// Run polls the lookup collaborator for the order until a terminal
// classification is reached or the retry budget is exhausted. The
// backoff delay is applied before every attempt after the first; the
// initial grace wait belongs to the caller. Run issues at most
// MaxRetries+1 lookups and returns ctx's error if cancelled.
func (p *Poller) Run(ctx context.Context, orderID string) (Result, error) {
	var (
		last      *settlement.Record
		anyLookup bool // at least one attempt reached the collaborator
	)

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if err := p.clock.Sleep(ctx, p.cfg.Backoff.Delay(attempt)); err != nil {
				return Result{Record: last, Attempts: attempt}, err
			}
		} else if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		records, err := p.client.FindByOrder(ctx, orderID)

		outcome := outcomeNotFound
		if err != nil {
			if ctx.Err() != nil {
				return Result{Record: last, Attempts: attempt + 1}, ctx.Err()
			}
			outcome = outcomeTransport
			slog.Warn("settlement_lookup_failed",
				"order_id", orderID,
				"attempt", attempt,
				"error", err,
			)
		} else {
			anyLookup = true
			if rec := settlement.Select(records); rec != nil {
				last = rec
				switch settlement.Classify(rec.Status) {
				case settlement.StatusPaid:
					outcome = outcomePaid
				case settlement.StatusPending:
					outcome = outcomePending
				default:
					outcome = outcomeNonPaid
				}
			}
		}

		slog.Debug("poll_attempt",
			"order_id", orderID,
			"attempt", attempt,
			"delay_ms", delayBeforeMs(p.cfg.Backoff, attempt),
			"outcome", string(outcome),
		)

		switch outcome {
		case outcomePaid:
			return Result{Record: last, Terminal: TerminalPaid, Attempts: attempt + 1}, nil
		case outcomeNonPaid:
			return Result{Record: last, Terminal: TerminalNonPaid, Attempts: attempt + 1}, nil
		}

		if attempt >= p.cfg.MaxRetries {
			kind := TerminalExhaustedPending
			if !anyLookup {
				kind = TerminalExhaustedErrors
			}
			return Result{Record: last, Terminal: kind, Attempts: attempt + 1}, nil
		}
	}
}

func delayBeforeMs(b Backoff, attempt int) int64 {
	if attempt == 0 {
		return 0
	}
	return b.Delay(attempt).Milliseconds()
}
