package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveRun_IncrementsCounter(t *testing.T) {
	// Metrics are global; assert on increments so test order does not
	// matter.
	initial := testutil.ToFloat64(GetReconciliationsTotal("vnpay", "paid"))

	ObserveRun("vnpay", "paid", 3, 5*time.Second)

	assert.Equal(t, initial+1, testutil.ToFloat64(GetReconciliationsTotal("vnpay", "paid")))
}

func TestObserveRun_LabelsArePerGatewayAndStatus(t *testing.T) {
	initialFailed := testutil.ToFloat64(GetReconciliationsTotal("payos", "failed"))
	initialPaid := testutil.ToFloat64(GetReconciliationsTotal("payos", "paid"))

	ObserveRun("payos", "failed", 0, 10*time.Millisecond)

	assert.Equal(t, initialFailed+1, testutil.ToFloat64(GetReconciliationsTotal("payos", "failed")))
	assert.Equal(t, initialPaid, testutil.ToFloat64(GetReconciliationsTotal("payos", "paid")))

	// Histograms only need to be registered and observable.
	assert.Equal(t, 1, testutil.CollectAndCount(GetPollAttempts()))
	assert.Equal(t, 1, testutil.CollectAndCount(GetRunDurationSeconds()))
}
