package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPClientRequestsTotal counts outgoing HTTP requests by status code
	// and method.
	HTTPClientRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_http_client_requests_total",
			Help: "Outgoing HTTP requests",
		},
		[]string{"code", "method"},
	)

	// HTTPClientDuration records time to response headers for outgoing
	// requests. Streamed bodies are not included.
	HTTPClientDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_http_client_duration_seconds",
			Help:    "Outgoing HTTP request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method"},
	)
)

// InstrumentTransport wraps next with request counting and latency
// observation. A nil next uses http.DefaultTransport.
func InstrumentTransport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return promhttp.InstrumentRoundTripperCounter(HTTPClientRequestsTotal,
		promhttp.InstrumentRoundTripperDuration(HTTPClientDuration, next))
}
