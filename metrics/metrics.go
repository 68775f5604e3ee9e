// Package metrics provides Prometheus metrics for the exchange adapters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Requests 按交易所与操作计数的请求总量。
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_requests_total",
		Help: "REST requests issued per venue and operation",
	}, []string{"venue", "op"})

	// Errors 以 VenueError 收场的操作计数。
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_errors_total",
		Help: "operations that surfaced a venue error",
	}, []string{"venue", "op"})

	// NonceRetries nonce 被拒后换新重发的次数。
	NonceRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_nonce_retries_total",
		Help: "signed requests resubmitted with a fresh nonce",
	}, []string{"venue"})
)

// Observe 记录一次操作结果。
func Observe(venue, op string, err error) {
	Requests.WithLabelValues(venue, op).Inc()
	if err != nil {
		Errors.WithLabelValues(venue, op).Inc()
	}
}

// StartMetricsServer 启动 Prometheus 指标服务器。
func StartMetricsServer(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, nil)
	}()
}
