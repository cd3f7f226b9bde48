package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the transport's Prometheus collectors.
type Metrics struct {
	Requests    *prometheus.CounterVec
	CSRFFetches prometheus.Counter
	Refreshes   *prometheus.CounterVec
	Recoveries  *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. A nil reg uses a private
// registry so that several clients can live in one process (tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gophdine",
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "Outbound API requests by method and status class",
		}, []string{"method", "status"}),

		CSRFFetches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gophdine",
			Subsystem: "client",
			Name:      "csrf_fetches_total",
			Help:      "CSRF token acquisitions sent to the server",
		}),

		Refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gophdine",
			Subsystem: "client",
			Name:      "token_refreshes_total",
			Help:      "Access token refresh exchanges by result",
		}, []string{"result"}),

		Recoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gophdine",
			Subsystem: "client",
			Name:      "recoveries_total",
			Help:      "Requests resent after a recoverable failure",
		}, []string{"class"}),
	}
}

func statusClass(code int) string {
	switch {
	case code == 0:
		return "error"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
