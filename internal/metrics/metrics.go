// Package metrics 汇总缓存、发现与流式组件的 Prometheus 指标。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "llmd_polaris"

var (
	cacheFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "fetches_total",
		Help:      "Cache fetches by key and result (success, empty, failure).",
	}, []string{"key", "result"})

	cacheConsecutiveFailures = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "consecutive_failures",
		Help:      "Current consecutive failure count per cache key.",
	}, []string{"key"})

	cacheDroppedRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "dropped_refreshes_total",
		Help:      "Refresh requests dropped because a fetch was already in flight.",
	}, []string{"key"})

	discoveryCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "discovery",
		Name:      "cycles_total",
		Help:      "Discovery cycles by result (settled, rejected, cancelled).",
	}, []string{"result"})

	discoveryClusterOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "discovery",
		Name:      "cluster_outcomes_total",
		Help:      "Per-cluster discovery outcomes.",
	}, []string{"cluster", "outcome", "reason"})

	discoveryQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "discovery",
		Name:      "query_duration_seconds",
		Help:      "Remote sub-query latency.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	}, []string{"resource", "result"})

	discoveryStacks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "discovery",
		Name:      "stacks",
		Help:      "Stacks currently known across all clusters.",
	})

	streamSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "active_sessions",
		Help:      "Active websocket stream sessions by stream name.",
	}, []string{"stream"})

	streamItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "items_total",
		Help:      "Items delivered in stream batches.",
	}, []string{"stream"})
)

// RecordCacheFetch 记录一次缓存拉取结果
func RecordCacheFetch(key, result string, failures int) {
	cacheFetches.WithLabelValues(key, result).Inc()
	cacheConsecutiveFailures.WithLabelValues(key).Set(float64(failures))
}

// RecordDroppedRefresh 记录被丢弃的刷新请求
func RecordDroppedRefresh(key string) {
	cacheDroppedRefreshes.WithLabelValues(key).Inc()
}

// ForgetCacheKey 缓存条目被驱逐时清理标签
func ForgetCacheKey(key string) {
	cacheConsecutiveFailures.DeleteLabelValues(key)
}

// RecordDiscoveryCycle 记录一次发现周期
func RecordDiscoveryCycle(result string) {
	discoveryCycles.WithLabelValues(result).Inc()
}

// RecordClusterOutcome 记录单个集群的发现结果
func RecordClusterOutcome(cluster, outcome, reason string) {
	discoveryClusterOutcomes.WithLabelValues(cluster, outcome, reason).Inc()
}

// ObserveQuery 记录远程子查询耗时
func ObserveQuery(resource, result string, d time.Duration) {
	discoveryQueryDuration.WithLabelValues(resource, result).Observe(d.Seconds())
}

// SetStackCount 更新已知 stack 数量
func SetStackCount(n int) {
	discoveryStacks.Set(float64(n))
}

// StreamOpened 流会话开始
func StreamOpened(stream string) {
	streamSessions.WithLabelValues(stream).Inc()
}

// StreamClosed 流会话结束
func StreamClosed(stream string) {
	streamSessions.WithLabelValues(stream).Dec()
}

// RecordStreamItems 记录流批次条目数
func RecordStreamItems(stream string, n int) {
	streamItems.WithLabelValues(stream).Add(float64(n))
}
