package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 节假日数据源调用延迟（毫秒）
	CalendarFetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "calendar_fetch_latency_ms",
			Help:    "Holiday calendar source call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"status"},
	)

	// 节假日缓存查询结果
	CalendarCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calendar_cache_lookups_total",
			Help: "Holiday cache lookups by result",
		},
		[]string{"result"}, // result: hit, miss, stale, empty
	)

	// 里程碑生命周期事件计数
	MilestoneTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "milestone_transitions_total",
			Help: "Milestone lifecycle transitions",
		},
		[]string{"transition", "trigger"}, // transition: instantiated, activated, completed, reopened
	)

	// 看板查询延迟（秒）
	DashboardQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dashboard_query_duration_seconds",
			Help:    "Alert and dashboard projection latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"view"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
		[]string{"routing_key", "queue", "outcome"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Queries slower than the configured threshold",
		},
		[]string{"sql"},
	)
)

// RecordCalendarFetch 记录节假日数据源调用延迟
func RecordCalendarFetch(status string, duration time.Duration) {
	CalendarFetchLatency.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

// IncrementCalendarCache 增加缓存查询计数
func IncrementCalendarCache(result string) {
	CalendarCacheLookups.WithLabelValues(result).Inc()
}

// IncrementMilestoneTransition 增加里程碑状态变化计数
func IncrementMilestoneTransition(transition, trigger string, n int) {
	MilestoneTransitions.WithLabelValues(transition, trigger).Add(float64(n))
}

// RecordDashboardQuery 记录看板查询延迟
func RecordDashboardQuery(view string, duration time.Duration) {
	DashboardQueryDuration.WithLabelValues(view).Observe(duration.Seconds())
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue, outcome string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue, outcome).Observe(float64(duration.Milliseconds()))
}

// IncrementSlowQuery 增加慢查询计数
func IncrementSlowQuery(sql string) {
	SlowQueryCount.WithLabelValues(sql).Inc()
}
