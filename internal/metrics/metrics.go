// Package metrics Prometheus 指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pes"

var (
	// OperationsTotal 引擎操作次数，result 为 ok 或错误类型
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Total engine operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	// WarningsTotal 成功结果上附带的外部依赖告警
	WarningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "warnings_total",
			Help:      "Total external dependency warnings attached to successful results",
		},
		[]string{"operation"},
	)

	// ExternalCallsTotal 外部协作方调用次数
	ExternalCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "external",
			Name:      "calls_total",
			Help:      "Total calls to payment and payout collaborators",
		},
		[]string{"collaborator", "result"},
	)

	// ExternalCallDuration 外部协作方调用耗时
	ExternalCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "external",
			Name:      "call_duration_seconds",
			Help:      "Latency of calls to payment and payout collaborators",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"collaborator"},
	)

	// HTTPRequestsTotal HTTP 请求数
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration HTTP 请求耗时
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// ObserveOperation 记录一次引擎操作
func ObserveOperation(operation string, err error, kind func(error) string) {
	result := "ok"
	if err != nil {
		result = kind(err)
	}
	OperationsTotal.WithLabelValues(operation, result).Inc()
}

// ObserveExternal 记录一次外部调用
func ObserveExternal(collaborator string, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ExternalCallsTotal.WithLabelValues(collaborator, result).Inc()
	ExternalCallDuration.WithLabelValues(collaborator).Observe(time.Since(started).Seconds())
}
