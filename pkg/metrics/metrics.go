package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12), // 10ms to ~40s
		},
		[]string{"routing_key", "queue", "result"},
	)

	// 模型调用延迟（毫秒）
	ModelCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "model_call_latency_ms",
			Help:    "Classification model call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"endpoint", "status"},
	)

	// 数据库慢查询
	DBSlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Number of queries slower than the configured threshold",
		},
		[]string{"command"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"command"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)

	// 分类结果计数
	ClassificationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_classified_total",
			Help: "Total number of classification decisions",
		},
		[]string{"category", "source"}, // source: model, rule, fallback
	)

	ClassificationConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "email_classification_confidence",
			Help:    "Confidence of final classification decisions",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	// 邮件处理计数
	EmailProcessedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_processed_count",
			Help: "Total number of emails processed",
		},
		[]string{"status"}, // status: success, skipped, retry, error
	)

	RuleMatchCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_match_total",
			Help: "Rule overrides applied, by rule id",
		},
		[]string{"rule_id"},
	)

	EmailsByCategory = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "emails_by_category",
			Help: "Stored emails per category, refreshed by the stats job",
		},
		[]string{"category"},
	)

	MaintenanceRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maintenance_rows_total",
			Help: "Rows touched by scheduled maintenance jobs",
		},
		[]string{"job"},
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue, result string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue, result).Observe(float64(duration.Milliseconds()))
}

// RecordModelCallLatency 记录模型调用延迟
func RecordModelCallLatency(endpoint, status string, duration time.Duration) {
	ModelCallLatency.WithLabelValues(endpoint, status).Observe(float64(duration.Milliseconds()))
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(command string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// IncrementSlowQuery 记录慢查询
func IncrementSlowQuery(command string) {
	DBSlowQueryCount.WithLabelValues(command).Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordClassification 记录一次分类决策
func RecordClassification(category, source string, confidence int) {
	ClassificationCount.WithLabelValues(category, source).Inc()
	ClassificationConfidence.Observe(float64(confidence))
}

// IncrementEmailProcessed 增加邮件处理计数
func IncrementEmailProcessed(status string) {
	EmailProcessedCount.WithLabelValues(status).Inc()
}

// IncrementRuleMatch 记录规则命中
func IncrementRuleMatch(ruleID int64) {
	RuleMatchCount.WithLabelValues(strconv.FormatInt(ruleID, 10)).Inc()
}

// SetEmailsByCategory 刷新分类统计
func SetEmailsByCategory(category string, count int64) {
	EmailsByCategory.WithLabelValues(category).Set(float64(count))
}

// AddMaintenanceRows 记录维护任务影响的行数
func AddMaintenanceRows(job string, n int64) {
	MaintenanceRows.WithLabelValues(job).Add(float64(n))
}
