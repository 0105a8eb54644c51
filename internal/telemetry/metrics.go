// Package telemetry registers the engine's Prometheus metrics and
// serves them over promhttp. One Metrics value is shared by the event
// gateway, the alert lifecycle, and the notification dispatcher.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument the engine emits. It satisfies the
// metrics interfaces of the gateway and dispatcher packages.
type Metrics struct {
	registry *prometheus.Registry

	eventsAccepted *prometheus.CounterVec
	eventsRejected *prometheus.CounterVec

	alertsRaised *prometheus.CounterVec
	alertsOpen   prometheus.Gauge

	notificationsSent    *prometheus.CounterVec
	notificationsRetried *prometheus.CounterVec
	notificationsFailed  *prometheus.CounterVec

	outboxDepth prometheus.Gauge
}

// New builds a Metrics value backed by its own registry. Everything is
// registered at construction; MustRegister panics only on duplicate
// registration, which would be a programming error.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		eventsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lead_alerts_events_accepted_total",
			Help: "Scoring events accepted by the gateway",
		}, []string{"type"}),
		eventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lead_alerts_events_rejected_total",
			Help: "Scoring events rejected by validation",
		}, []string{"reason"}),

		alertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lead_alerts_alerts_raised_total",
			Help: "Alerts created, by type and severity",
		}, []string{"type", "severity"}),
		alertsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lead_alerts_alerts_open",
			Help: "Alerts currently in a non-resolved state",
		}),

		notificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lead_alerts_notifications_sent_total",
			Help: "Notifications delivered, by channel",
		}, []string{"channel"}),
		notificationsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lead_alerts_notifications_retried_total",
			Help: "Notification delivery retries, by channel",
		}, []string{"channel"}),
		notificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lead_alerts_notifications_failed_total",
			Help: "Notifications that exhausted delivery, by channel",
		}, []string{"channel"}),

		outboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lead_alerts_outbox_pending",
			Help: "Outbox entries awaiting delivery",
		}),
	}

	m.registry.MustRegister(
		m.eventsAccepted,
		m.eventsRejected,
		m.alertsRaised,
		m.alertsOpen,
		m.notificationsSent,
		m.notificationsRetried,
		m.notificationsFailed,
		m.outboxDepth,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// EventAccepted counts an event the gateway admitted.
func (m *Metrics) EventAccepted(eventType string) {
	m.eventsAccepted.WithLabelValues(eventType).Inc()
}

// EventRejected counts an event dropped by validation.
func (m *Metrics) EventRejected(reason string) {
	m.eventsRejected.WithLabelValues(reason).Inc()
}

// AlertRaised counts a newly created alert.
func (m *Metrics) AlertRaised(alertType, severity string) {
	m.alertsRaised.WithLabelValues(alertType, severity).Inc()
}

// SetOpenAlerts records how many alerts are currently unresolved.
func (m *Metrics) SetOpenAlerts(n int) {
	m.alertsOpen.Set(float64(n))
}

// NotificationSent counts a successful delivery on the channel.
func (m *Metrics) NotificationSent(channelID string) {
	m.notificationsSent.WithLabelValues(channelID).Inc()
}

// NotificationRetried counts a delivery attempt that will be retried.
func (m *Metrics) NotificationRetried(channelID string) {
	m.notificationsRetried.WithLabelValues(channelID).Inc()
}

// NotificationFailed counts a delivery that will not be retried.
func (m *Metrics) NotificationFailed(channelID string) {
	m.notificationsFailed.WithLabelValues(channelID).Inc()
}

// SetOutboxDepth records the number of pending outbox entries.
func (m *Metrics) SetOutboxDepth(n int) {
	m.outboxDepth.Set(float64(n))
}
