package rpc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rpcCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainprojector_rpc_requests_total",
		Help: "Node calls by method",
	}, []string{"method"})

	rpcFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainprojector_rpc_errors_total",
		Help: "Failed node calls by method and class (not_found, retryable, too_many_results, other)",
	}, []string{"method", "error_type"})

	rpcLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chainprojector_rpc_request_duration_seconds",
		Help:    "Latency of node calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	// rpcRetries is labelled by chain client operation rather than JSON-RPC method.
	rpcRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainprojector_rpc_retries_total",
		Help: "Retried chain client operations",
	}, []string{"operation"})

	rpcRangeSplits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainprojector_rpc_log_range_splits_total",
		Help: "eth_getLogs ranges split after the node refused them as too large",
	})
)

// recordCall counts one node call. An empty class means success.
func recordCall(method string, elapsed time.Duration, class string) {
	rpcCalls.WithLabelValues(method).Inc()
	rpcLatency.WithLabelValues(method).Observe(elapsed.Seconds())
	if class != "" {
		rpcFailures.WithLabelValues(method, class).Inc()
	}
}
