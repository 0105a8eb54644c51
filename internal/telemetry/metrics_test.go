package telemetry

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.EventAccepted("score_changed")
	m.EventAccepted("score_changed")
	m.EventRejected("validation")
	m.NotificationSent("email-sales")
	m.NotificationRetried("email-sales")
	m.NotificationFailed("sms-oncall")
	m.AlertRaised("drift", "high")
	m.SetOpenAlerts(3)
	m.SetOutboxDepth(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsAccepted.WithLabelValues("score_changed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsRejected.WithLabelValues("validation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notificationsSent.WithLabelValues("email-sales")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notificationsRetried.WithLabelValues("email-sales")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notificationsFailed.WithLabelValues("sms-oncall")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alertsRaised.WithLabelValues("drift", "high")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.alertsOpen))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.outboxDepth))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.EventAccepted("lead_updated")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rr.Code)
	assert.Contains(t, rr.Body.String(), "lead_alerts_events_accepted_total")
}
