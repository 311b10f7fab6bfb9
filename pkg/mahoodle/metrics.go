package mahoodle

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Mahoodle/mahara-module-mahoodle/pkg/webservice"
)

type Metrics struct {
	forwards *prometheus.CounterVec
	calls    *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mahoodle",
			Name:      "forward_total",
			Help:      "Notification events handled, by event and outcome.",
		}, []string{"event", "outcome"}),
		calls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mahoodle",
			Name:      "webservice_call_seconds",
			Help:      "Duration of webservice calls, by event and result.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.forwards, m.calls)
	}
	return m
}

func (m *Metrics) observe(kind EventKind, outcome OutcomeKind, resp *webservice.Response) {
	if m == nil {
		return
	}
	m.forwards.WithLabelValues(string(kind), string(outcome)).Inc()
	if resp == nil {
		return
	}
	result := "ok"
	switch {
	case resp.Error != "":
		result = "transport_error"
	case !resp.OK():
		result = "http_error"
	case resp.Exception() != nil:
		result = "remote_exception"
	}
	m.calls.WithLabelValues(string(kind), result).Observe(resp.Duration.Seconds())
}
