// Package metrics 提供视觉问答服务的Prometheus指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Requests 按HTTP状态码统计问答请求
var Requests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vqa",
	Name:      "requests_total",
	Help:      "Total answer_question requests by HTTP status.",
}, []string{"status"})

// InferenceLatency 推理耗时（秒）
var InferenceLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "vqa",
	Name:      "inference_latency_seconds",
	Help:      "Inference call duration in seconds.",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
}, []string{"provider"})

// InferenceFailures 推理失败次数
var InferenceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vqa",
	Name:      "inference_failures_total",
	Help:      "Total failed inference calls.",
}, []string{"provider"})

// TempFileCleanupFailures 临时文件删除失败次数，持续增长意味着磁盘会被占满
var TempFileCleanupFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "vqa",
	Name:      "tempfile_cleanup_failures_total",
	Help:      "Total temporary image files that could not be removed.",
})

// InflightRequests 正在处理的问答请求数
var InflightRequests = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "vqa",
	Name:      "inflight_requests",
	Help:      "Number of answer_question requests currently being processed.",
})
