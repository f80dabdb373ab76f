// Package orchestrator reconciles the two asynchronous signals of a
// payment's outcome: the gateway's browser redirect and the settlement
// record its webhook updates out of band. A run converges both into a
// single terminal ReconciliationResult within a bounded amount of time.
package orchestrator

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/settlement-reconciler/internal/metrics"
	"github.com/yourorg/settlement-reconciler/internal/pending"
	"github.com/yourorg/settlement-reconciler/internal/policy"
	"github.com/yourorg/settlement-reconciler/internal/poller"
	"github.com/yourorg/settlement-reconciler/internal/redirect"
	"github.com/yourorg/settlement-reconciler/internal/reporting"
	"github.com/yourorg/settlement-reconciler/internal/settlement"
)

// FinalStatus is the single classification a run terminates with.
type FinalStatus string

const (
	StatusPaid         FinalStatus = "paid"
	StatusStillPending FinalStatus = "still_pending"
	StatusFailed       FinalStatus = "failed"
	StatusUnknown      FinalStatus = "unknown"
	StatusCancelled    FinalStatus = "cancelled"
)

// Failure sub-reasons surfaced to the presenter.
const (
	ReasonGatewayDeclined = "gateway_declined"
	ReasonUserCancelled   = "user_cancelled"
	ReasonNoOrderID       = "no_order_identifier"
)

// Result is the engine's sole output. It is created exactly once, at
// termination, and never mutated afterwards.
type Result struct {
	RunID       string              `json:"runId"`
	Gateway     string              `json:"gateway"`
	FinalStatus FinalStatus         `json:"finalStatus"`
	Settlement  *settlement.Record  `json:"settlement,omitempty"`
	RetriesUsed int                 `json:"retriesUsed"`
	Reason      string              `json:"reason,omitempty"`
}

// SettlementPoller is the retry loop collaborator (see internal/poller).
type SettlementPoller interface {
	Run(ctx context.Context, orderID string) (poller.Result, error)
}

// state names the run's position in its lifecycle, for logs and spans.
// Terminal is absorbing: no lookup is ever issued after it.
type state string

const (
	stateIdle          state = "idle"
	stateShortCircuit  state = "short_circuit_failure"
	stateAwaitingGrace state = "awaiting_grace"
	statePolling       state = "polling"
	stateTerminal      state = "terminal"
)

// Orchestrator runs reconciliations. Runs for different orders are
// fully independent; an Orchestrator is safe for concurrent use.
type Orchestrator struct {
	poller       SettlementPoller
	pendingStore pending.Store
	enforcer     *policy.Enforcer
	recorder     *reporting.Recorder
	clock        poller.Clock
	graceDelay   time.Duration
}

// New creates an Orchestrator. The pending store and recorder are
// optional; clock defaults to real time.
func New(p SettlementPoller, enforcer *policy.Enforcer, store pending.Store, recorder *reporting.Recorder, clock poller.Clock, graceDelay time.Duration) *Orchestrator {
	if p == nil {
		panic("settlement poller cannot be nil")
	}
	if enforcer == nil {
		panic("policy enforcer cannot be nil")
	}
	if clock == nil {
		clock = poller.RealClock{}
	}
	return &Orchestrator{
		poller:       p,
		pendingStore: store,
		enforcer:     enforcer,
		recorder:     recorder,
		clock:        clock,
		graceDelay:   graceDelay,
	}
}

// Reconcile drives one run from a return redirect to a terminal
// result. All retryable conditions are absorbed; the returned error is
// non-nil only when ctx was cancelled, in which case the result's
// FinalStatus is StatusCancelled.
func (o *Orchestrator) Reconcile(ctx context.Context, sessionID string, params url.Values) (Result, error) {
	tracer := otel.Tracer("reconciler")
	ctx, span := tracer.Start(ctx, "Orchestrator.Reconcile")
	defer span.End()

	start := o.clock.Now()
	run := Result{RunID: uuid.NewString()}

	rc := redirect.Interpret(params)
	run.Gateway = rc.Gateway.String()
	o.logState(run.RunID, stateIdle, "gateway", run.Gateway, "provisional", rc.Outcome.String())

	// A gateway-declared failure or cancellation is authoritative:
	// terminate without a single lookup.
	if rc.Outcome == redirect.OutcomeFailure {
		o.logState(run.RunID, stateShortCircuit)
		run.FinalStatus = StatusFailed
		run.Reason = ReasonGatewayDeclined
		if rc.Cancelled {
			run.Reason = ReasonUserCancelled
		}
		return o.finish(span, start, run, 0), nil
	}

	orderID := o.resolveOrderID(ctx, rc, sessionID, run.RunID)
	if orderID == "" {
		run.FinalStatus = StatusUnknown
		run.Reason = ReasonNoOrderID
		return o.finish(span, start, run, 0), nil
	}

	// Give the webhook a head start; an immediate lookup races it and
	// wastes a retry.
	o.logState(run.RunID, stateAwaitingGrace, "delay_ms", o.graceDelay.Milliseconds())
	if err := o.clock.Sleep(ctx, o.graceDelay); err != nil {
		run.FinalStatus = StatusCancelled
		return o.finish(span, start, run, 0), err
	}

	o.logState(run.RunID, statePolling, "order_id", orderID)
	pollRes, err := o.poller.Run(ctx, orderID)
	run.Settlement = pollRes.Record
	run.RetriesUsed = pollRes.RetriesUsed()
	if err != nil {
		run.FinalStatus = StatusCancelled
		return o.finish(span, start, run, pollRes.Attempts), err
	}

	run.FinalStatus = o.classifyTerminal(rc, pollRes, run.RunID)
	return o.finish(span, start, run, pollRes.Attempts), nil
}

// resolveOrderID prefers the redirect's own identifiers and falls back
// to the session's pending-payment marker (PayOS redirects omit the
// application's ids).
func (o *Orchestrator) resolveOrderID(ctx context.Context, rc redirect.Context, sessionID, runID string) string {
	if rc.OrderID != "" {
		return rc.OrderID
	}
	if rc.OrderCode != "" {
		return rc.OrderCode
	}
	if o.pendingStore == nil || sessionID == "" {
		return ""
	}

	marker, ok, err := o.pendingStore.Get(ctx, sessionID)
	if err != nil {
		slog.Warn("pending_marker_lookup_failed", "run_id", runID, "error", err)
		return ""
	}
	if !ok {
		return ""
	}
	if marker.OrderID != "" {
		return marker.OrderID
	}
	return marker.OrderCode
}

// classifyTerminal maps the poller's terminal kind to a final status.
func (o *Orchestrator) classifyTerminal(rc redirect.Context, pollRes poller.Result, runID string) FinalStatus {
	switch pollRes.Terminal {
	case poller.TerminalPaid:
		return StatusPaid
	case poller.TerminalNonPaid:
		return StatusFailed
	}

	decision, err := o.enforcer.Evaluate(policy.Parameters{
		ProvisionalSuccess:       rc.Outcome == redirect.OutcomeSuccess,
		ProvisionalIndeterminate: rc.Outcome == redirect.OutcomeIndeterminate,
		Terminal:                 pollRes.Terminal.String(),
		RetriesUsed:              pollRes.RetriesUsed(),
		SettlementSeen:           pollRes.Record != nil,
	})
	if err != nil {
		slog.Error("exhaustion_policy_failed", "run_id", runID, "error", err)
	}
	if decision.TrustProvisional {
		slog.Info("provisional_outcome_trusted", "run_id", runID, "rule", decision.Rule)
		return StatusPaid
	}

	if pollRes.Terminal == poller.TerminalExhaustedErrors {
		return StatusUnknown
	}
	if rc.Outcome == redirect.OutcomeSuccess && pollRes.Record != nil {
		// Settlement was seen and is genuinely still pending; without
		// the trust rule the honest answer is "still pending".
		return StatusStillPending
	}
	return StatusUnknown
}

// finish seals the run. attempts is the number of lookup calls actually
// issued; runs that never reached the polling state pass zero.
func (o *Orchestrator) finish(span trace.Span, start time.Time, run Result, attempts int) Result {
	o.logState(run.RunID, stateTerminal)
	duration := o.clock.Now().Sub(start)

	span.SetAttributes(
		attribute.String("reconcile.gateway", run.Gateway),
		attribute.String("reconcile.final_status", string(run.FinalStatus)),
		attribute.Int("reconcile.retries_used", run.RetriesUsed),
	)
	metrics.ObserveRun(run.Gateway, string(run.FinalStatus), attempts, duration)
	if o.recorder != nil {
		orderID := ""
		if run.Settlement != nil {
			orderID = run.Settlement.OrderID
		}
		o.recorder.Record(reporting.LogEntry{
			Timestamp:   o.clock.Now(),
			RunID:       run.RunID,
			Gateway:     run.Gateway,
			FinalStatus: string(run.FinalStatus),
			OrderID:     orderID,
			RetriesUsed: run.RetriesUsed,
			Duration:    duration,
		})
	}

	slog.Info("reconciliation_terminal",
		"run_id", run.RunID,
		"gateway", run.Gateway,
		"final_status", string(run.FinalStatus),
		"retries_used", run.RetriesUsed,
		"reason", run.Reason,
		"duration_ms", duration.Milliseconds(),
	)
	return run
}

func (o *Orchestrator) logState(runID string, s state, args ...any) {
	kv := append([]any{"run_id", runID, "state", string(s)}, args...)
	slog.Debug("reconciliation_state", kv...)
}
