package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_RecordsOnCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "dentalclinic")

	m.PaymentTransition("callback", "SUCCESS")
	m.PaymentTransition("callback", "SUCCESS")
	m.Sweep("payment_expired", 3)
	m.GatewayCall("create_session", "ok", time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PaymentTransitions.WithLabelValues("callback", "SUCCESS")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SweepActions.WithLabelValues("payment_expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayRequests.WithLabelValues("create_session", "ok")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.PaymentTransition("poll", "FAILED")
		m.Callback("ok")
		m.Reservation("slot_taken")
		m.GatewayCall("fetch_status", "error", time.Now())
		m.Sweep("completed", 1)
		m.Reconciliation("LATE_CAPTURE")
		m.NotificationDropped()
	})
}
