package reminders

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the reminder loop.
type Metrics struct {
	RemindersSentTotal   *prometheus.CounterVec
	ReminderSendDuration prometheus.Histogram
	ReminderRetries      prometheus.Counter
	RemindersDue         prometheus.Gauge
}

// NewMetrics creates the collectors without registering them.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		RemindersSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminders_sent_total",
				Help:      "Reminders processed, by outcome.",
			},
			[]string{"status"},
		),
		ReminderSendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reminder_send_duration_seconds",
				Help:      "Time to deliver one reminder, retries included.",
				Buckets:   []float64{.01, .05, .1, .5, 1, 2, 5, 30},
			},
		),
		ReminderRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminder_retries_total",
				Help:      "Reminder delivery retry attempts.",
			},
		),
		RemindersDue: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reminders_due",
				Help:      "Reminders found due in the last check.",
			},
		),
	}
}

// MustRegister registers all collectors with reg.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.RemindersSentTotal, m.ReminderSendDuration, m.ReminderRetries, m.RemindersDue)
}

func (m *Metrics) IncSent(status string) {
	m.RemindersSentTotal.WithLabelValues(status).Inc()
}
