package orchestrator

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/settlement-reconciler/internal/metrics"
	"github.com/yourorg/settlement-reconciler/internal/pending"
	"github.com/yourorg/settlement-reconciler/internal/policy"
	"github.com/yourorg/settlement-reconciler/internal/poller"
	"github.com/yourorg/settlement-reconciler/internal/settlement"
)

const testGraceDelay = 1500 * time.Millisecond

// fakeClock advances a millisecond per Now call and records sleeps
// instead of waiting. cancel, when set, fires during the Nth sleep.
type fakeClock struct {
	mu          sync.Mutex
	now         time.Time
	sleeps      []time.Duration
	cancelAfter int
	cancel      context.CancelFunc
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), cancelAfter: -1}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	n := len(c.sleeps)
	c.mu.Unlock()
	if c.cancel != nil && n == c.cancelAfter+1 {
		c.cancel()
	}
	return ctx.Err()
}

func (c *fakeClock) recordedSleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// fakePoller returns a canned result and records calls.
type fakePoller struct {
	mu      sync.Mutex
	result  poller.Result
	err     error
	orderID string
	calls   int
}

func (p *fakePoller) Run(ctx context.Context, orderID string) (poller.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.orderID = orderID
	return p.result, p.err
}

func (p *fakePoller) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newTestOrchestrator(t *testing.T, p SettlementPoller, store pending.Store, clock poller.Clock) *Orchestrator {
	t.Helper()
	enforcer, err := policy.NewEnforcer(policy.DefaultRules())
	require.NoError(t, err)
	return New(p, enforcer, store, nil, clock, testGraceDelay)
}

func vnpayParams(code, orderID string) url.Values {
	return url.Values{"vnp_ResponseCode": {code}, "orderId": {orderID}}
}

func paidRecord(orderID string) *settlement.Record {
	return &settlement.Record{InvoiceID: "inv-1", OrderID: orderID, InvoiceType: "RENTAL_PAYMENT", Status: "SUCCEEDED"}
}

func TestReconcile_GatewayFailureShortCircuits(t *testing.T) {
	for _, code := range []string{"24", "07", "99", "1"} {
		t.Run("code_"+code, func(t *testing.T) {
			fp := &fakePoller{}
			clock := newFakeClock()
			o := newTestOrchestrator(t, fp, nil, clock)

			res, err := o.Reconcile(context.Background(), "sess-1", vnpayParams(code, "ORD-1"))

			require.NoError(t, err)
			assert.Equal(t, StatusFailed, res.FinalStatus)
			assert.Equal(t, ReasonGatewayDeclined, res.Reason)
			assert.Equal(t, "vnpay", res.Gateway)
			assert.Zero(t, fp.callCount(), "declared failure must not trigger any lookup")
			assert.Empty(t, clock.recordedSleeps(), "declared failure must not wait")
		})
	}
}

func TestReconcile_UserCancellationIsDistinguished(t *testing.T) {
	fp := &fakePoller{}
	o := newTestOrchestrator(t, fp, nil, newFakeClock())

	params := url.Values{"code": {"00"}, "cancel": {"true"}, "orderCode": {"123"}}
	res, err := o.Reconcile(context.Background(), "sess-1", params)

	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.FinalStatus)
	assert.Equal(t, ReasonUserCancelled, res.Reason)
	assert.Equal(t, "payos", res.Gateway)
	assert.Zero(t, fp.callCount())
}

func TestReconcile_GraceWaitPrecedesFirstPoll(t *testing.T) {
	fp := &fakePoller{result: poller.Result{Record: paidRecord("ORD-1"), Terminal: poller.TerminalPaid, Attempts: 1}}
	clock := newFakeClock()
	o := newTestOrchestrator(t, fp, nil, clock)

	res, err := o.Reconcile(context.Background(), "sess-1", vnpayParams("00", "ORD-1"))

	require.NoError(t, err)
	assert.Equal(t, StatusPaid, res.FinalStatus)
	require.Len(t, clock.recordedSleeps(), 1)
	assert.Equal(t, testGraceDelay, clock.recordedSleeps()[0])
	assert.Equal(t, "ORD-1", fp.orderID)
}

func TestReconcile_PaidSettlement(t *testing.T) {
	fp := &fakePoller{result: poller.Result{Record: paidRecord("ORD-1"), Terminal: poller.TerminalPaid, Attempts: 3}}
	o := newTestOrchestrator(t, fp, nil, newFakeClock())

	res, err := o.Reconcile(context.Background(), "sess-1", vnpayParams("00", "ORD-1"))

	require.NoError(t, err)
	assert.Equal(t, StatusPaid, res.FinalStatus)
	require.NotNil(t, res.Settlement)
	assert.Equal(t, "ORD-1", res.Settlement.OrderID)
	assert.Equal(t, 2, res.RetriesUsed)
	assert.NotEmpty(t, res.RunID)
}

func TestReconcile_TerminalNonPaidSettlementFails(t *testing.T) {
	rec := &settlement.Record{InvoiceID: "inv-2", OrderID: "ORD-2", Status: "REFUNDED"}
	fp := &fakePoller{result: poller.Result{Record: rec, Terminal: poller.TerminalNonPaid, Attempts: 1}}
	o := newTestOrchestrator(t, fp, nil, newFakeClock())

	res, err := o.Reconcile(context.Background(), "sess-1", vnpayParams("00", "ORD-2"))

	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.FinalStatus)
}

func TestReconcile_ExhaustedPendingTrustsGatewaySuccess(t *testing.T) {
	rec := &settlement.Record{InvoiceID: "inv-3", OrderID: "ORD-3", Status: "PENDING"}
	fp := &fakePoller{result: poller.Result{Record: rec, Terminal: poller.TerminalExhaustedPending, Attempts: 11}}
	o := newTestOrchestrator(t, fp, nil, newFakeClock())

	res, err := o.Reconcile(context.Background(), "sess-1", vnpayParams("00", "ORD-3"))

	require.NoError(t, err)
	assert.Equal(t, StatusPaid, res.FinalStatus, "gateway-declared success wins on exhaustion")
	assert.Equal(t, 10, res.RetriesUsed)
}

func TestReconcile_ExhaustedPendingIndeterminateIsUnknown(t *testing.T) {
	fp := &fakePoller{result: poller.Result{Terminal: poller.TerminalExhaustedPending, Attempts: 11}}
	store := pending.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "sess-1",
		pending.Marker{OrderID: "ORD-4", Gateway: "unknown"}, time.Minute))
	o := newTestOrchestrator(t, fp, store, newFakeClock())

	// No recognizable gateway parameters: provisional outcome stays
	// indeterminate and the order id comes from the pending marker.
	res, err := o.Reconcile(context.Background(), "sess-1", url.Values{"ref": {"abc"}})

	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, res.FinalStatus)
	assert.Equal(t, "ORD-4", fp.orderID)
}

func TestReconcile_ExhaustedErrorsNeverTrusted(t *testing.T) {
	fp := &fakePoller{result: poller.Result{Terminal: poller.TerminalExhaustedErrors, Attempts: 11}}
	o := newTestOrchestrator(t, fp, nil, newFakeClock())

	res, err := o.Reconcile(context.Background(), "sess-1", vnpayParams("00", "ORD-5"))

	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, res.FinalStatus)
}

func TestReconcile_StillPendingWhenTrustRuleDisabled(t *testing.T) {
	rec := &settlement.Record{InvoiceID: "inv-6", OrderID: "ORD-6", Status: "PENDING"}
	fp := &fakePoller{result: poller.Result{Record: rec, Terminal: poller.TerminalExhaustedPending, Attempts: 11}}
	enforcer, err := policy.NewEnforcer(nil)
	require.NoError(t, err)
	o := New(fp, enforcer, nil, nil, newFakeClock(), testGraceDelay)

	res, err := o.Reconcile(context.Background(), "sess-1", vnpayParams("00", "ORD-6"))

	require.NoError(t, err)
	assert.Equal(t, StatusStillPending, res.FinalStatus)
}

func TestReconcile_MissingOrderIdentifierIsUnknown(t *testing.T) {
	fp := &fakePoller{}
	clock := newFakeClock()
	o := newTestOrchestrator(t, fp, nil, clock)

	// PayOS success redirect carrying no usable identifier and no
	// pending marker to fall back on.
	res, err := o.Reconcile(context.Background(), "", url.Values{"code": {"00"}, "status": {"PAID"}})

	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, res.FinalStatus)
	assert.Equal(t, ReasonNoOrderID, res.Reason)
	assert.Zero(t, fp.callCount())
	assert.Empty(t, clock.recordedSleeps())
}

func TestReconcile_PendingMarkerFallback(t *testing.T) {
	fp := &fakePoller{result: poller.Result{Record: paidRecord("ORD-7"), Terminal: poller.TerminalPaid, Attempts: 2}}
	store := pending.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "sess-7",
		pending.Marker{OrderID: "ORD-7", Gateway: "payos"}, time.Minute))
	o := newTestOrchestrator(t, fp, store, newFakeClock())

	res, err := o.Reconcile(context.Background(), "sess-7", url.Values{"code": {"00"}, "status": {"PAID"}})

	require.NoError(t, err)
	assert.Equal(t, StatusPaid, res.FinalStatus)
	assert.Equal(t, "ORD-7", fp.orderID)
}

func TestReconcile_CancelledDuringGraceWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fp := &fakePoller{}
	clock := newFakeClock()
	clock.cancelAfter = 0
	clock.cancel = cancel
	o := newTestOrchestrator(t, fp, nil, clock)

	res, err := o.Reconcile(ctx, "sess-1", vnpayParams("00", "ORD-8"))

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusCancelled, res.FinalStatus)
	assert.Zero(t, fp.callCount(), "no lookup may fire after cancellation")
}

// perOrderPoller scripts a result per order id, safely across
// goroutines.
type perOrderPoller struct {
	mu      sync.Mutex
	results map[string]poller.Result
	calls   map[string]int
}

func (p *perOrderPoller) Run(_ context.Context, orderID string) (poller.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[orderID]++
	return p.results[orderID], nil
}

func TestReconcile_ConcurrentRunsAreIndependent(t *testing.T) {
	fp := &perOrderPoller{
		results: map[string]poller.Result{
			"ORD-A": {Record: paidRecord("ORD-A"), Terminal: poller.TerminalPaid, Attempts: 2},
			"ORD-B": {Record: &settlement.Record{InvoiceID: "inv-b", OrderID: "ORD-B", Status: "REFUNDED"}, Terminal: poller.TerminalNonPaid, Attempts: 1},
		},
		calls: make(map[string]int),
	}
	o := newTestOrchestrator(t, fp, nil, newFakeClock())

	var (
		wg         sync.WaitGroup
		resA, resB Result
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		resA, _ = o.Reconcile(context.Background(), "sess-a", vnpayParams("00", "ORD-A"))
	}()
	go func() {
		defer wg.Done()
		resB, _ = o.Reconcile(context.Background(), "sess-b", vnpayParams("00", "ORD-B"))
	}()
	wg.Wait()

	assert.Equal(t, StatusPaid, resA.FinalStatus)
	assert.Equal(t, StatusFailed, resB.FinalStatus)
	assert.Equal(t, 1, fp.calls["ORD-A"], "each order polled exactly once")
	assert.Equal(t, 1, fp.calls["ORD-B"], "each order polled exactly once")
	assert.NotEqual(t, resA.RunID, resB.RunID)
}

// pollAttemptsStats reads the global attempts histogram; tests assert
// on deltas so ordering does not matter.
func pollAttemptsStats(t *testing.T) (uint64, float64) {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.GetPollAttempts().Write(&m))
	return m.GetHistogram().GetSampleCount(), m.GetHistogram().GetSampleSum()
}

func TestReconcile_ShortCircuitObservesZeroLookupAttempts(t *testing.T) {
	countBefore, sumBefore := pollAttemptsStats(t)

	fp := &fakePoller{}
	o := newTestOrchestrator(t, fp, nil, newFakeClock())
	_, err := o.Reconcile(context.Background(), "sess-1", vnpayParams("24", "ORD-1"))
	require.NoError(t, err)

	countAfter, sumAfter := pollAttemptsStats(t)
	assert.Equal(t, countBefore+1, countAfter)
	assert.Equal(t, sumBefore, sumAfter, "a run that issued no lookups must observe zero attempts")
}

func TestReconcile_ObservesActualLookupAttempts(t *testing.T) {
	_, sumBefore := pollAttemptsStats(t)

	fp := &fakePoller{result: poller.Result{Record: paidRecord("ORD-1"), Terminal: poller.TerminalPaid, Attempts: 3}}
	o := newTestOrchestrator(t, fp, nil, newFakeClock())
	_, err := o.Reconcile(context.Background(), "sess-1", vnpayParams("00", "ORD-1"))
	require.NoError(t, err)

	_, sumAfter := pollAttemptsStats(t)
	assert.Equal(t, sumBefore+3, sumAfter)
}

func TestReconcile_CancelledDuringPolling(t *testing.T) {
	fp := &fakePoller{
		result: poller.Result{Attempts: 3},
		err:    context.Canceled,
	}
	o := newTestOrchestrator(t, fp, nil, newFakeClock())

	res, err := o.Reconcile(context.Background(), "sess-1", vnpayParams("00", "ORD-9"))

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusCancelled, res.FinalStatus)
	assert.Equal(t, 2, res.RetriesUsed)
}
