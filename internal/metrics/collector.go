// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器. 所有 Record 方法在 nil 接收者上为空操作，
// 便于在测试与未启用指标时直接传 nil.
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 转发指标
	turnsTotal        *prometheus.CounterVec
	turnDuration      *prometheus.HistogramVec
	timeToFirstChunk  *prometheus.HistogramVec
	tokensUsed        *prometheus.CounterVec
	streamEventsTotal *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec

	// 会话指标
	activeSessions   prometheus.Gauge
	inFlightRequests prometheus.Gauge

	// 限流指标
	throttleWait      *prometheus.HistogramVec
	throttleRejection *prometheus.CounterVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Redis 服务端指标（取自 INFO，为绝对值）
	redisKeyspaceHits   prometheus.Gauge
	redisKeyspaceMisses prometheus.Gauge
	redisClients        prometheus.Gauge

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	// 交互日志指标
	interactionsDropped *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到默认 registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegistry 创建指标收集器并注册到指定 registry.
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 转发指标
	c.turnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_turns_total",
			Help:      "Total number of relayed chat turns by outcome",
		},
		[]string{"provider", "model", "mode", "outcome"}, // mode: stream, sync
	)

	c.turnDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_turn_duration_seconds",
			Help:      "Relayed chat turn duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "model"},
	)

	c.timeToFirstChunk = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_time_to_first_chunk_seconds",
			Help:      "Time from dispatch to the first streamed chunk",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "model"},
	)

	c.tokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"provider", "model", "type"}, // type: prompt, completion
	)

	c.streamEventsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_stream_events_total",
			Help:      "Total number of wire events delivered to client transports",
		},
		[]string{"event"},
	)

	c.errorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_errors_total",
			Help:      "Total number of classified relay errors",
		},
		[]string{"kind", "code"},
	)

	// 会话指标
	c.activeSessions = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_active_sessions",
			Help:      "Number of registered client sessions",
		},
	)

	c.inFlightRequests = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_inflight_requests",
			Help:      "Number of in-flight upstream requests",
		},
	)

	// 限流指标
	c.throttleWait = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "throttle_wait_seconds",
			Help:      "Time spent waiting for a model concurrency slot",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"model"},
	)

	c.throttleRejection = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttle_rejections_total",
			Help:      "Total number of requests rejected by the model throttler",
		},
		[]string{"model"},
	)

	// 缓存指标
	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	c.redisKeyspaceHits = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "redis_keyspace_hits",
			Help:      "Keyspace hits reported by the Redis server",
		},
	)

	c.redisKeyspaceMisses = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "redis_keyspace_misses",
			Help:      "Keyspace misses reported by the Redis server",
		},
	)

	c.redisClients = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "redis_connected_clients",
			Help:      "Client connections reported by the Redis server",
		},
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	c.interactionsDropped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interactions_dropped_total",
			Help:      "Interaction log records dropped because the write queue was full",
		},
		[]string{"kind"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🔁 转发指标记录
// =============================================================================

// RecordTurn 记录一次转发的结果. outcome: complete, error, timeout, stopped, superseded, client_gone
func (c *Collector) RecordTurn(provider, model, mode, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.turnsTotal.WithLabelValues(provider, model, mode, outcome).Inc()
	c.turnDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// RecordFirstChunk 记录首个文本块的延迟
func (c *Collector) RecordFirstChunk(provider, model string, latency time.Duration) {
	if c == nil {
		return
	}
	c.timeToFirstChunk.WithLabelValues(provider, model).Observe(latency.Seconds())
}

// RecordTokens 记录 Token 用量
func (c *Collector) RecordTokens(provider, model string, promptTokens, completionTokens int) {
	if c == nil {
		return
	}
	c.tokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	c.tokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
}

// RecordStreamEvent 记录一次线路事件投递
func (c *Collector) RecordStreamEvent(event string) {
	if c == nil {
		return
	}
	c.streamEventsTotal.WithLabelValues(event).Inc()
}

// RecordError 记录一次分类后的错误
func (c *Collector) RecordError(kind, code string) {
	if c == nil {
		return
	}
	c.errorsTotal.WithLabelValues(kind, code).Inc()
}

// SetActiveSessions 设置已注册会话数
func (c *Collector) SetActiveSessions(n int) {
	if c == nil {
		return
	}
	c.activeSessions.Set(float64(n))
}

// AddInFlight 调整进行中的上游请求数
func (c *Collector) AddInFlight(delta int) {
	if c == nil {
		return
	}
	c.inFlightRequests.Add(float64(delta))
}

// =============================================================================
// 🚦 限流指标记录
// =============================================================================

// RecordThrottleWait 记录等待并发槽位的耗时
func (c *Collector) RecordThrottleWait(model string, wait time.Duration) {
	if c == nil {
		return
	}
	c.throttleWait.WithLabelValues(model).Observe(wait.Seconds())
}

// RecordThrottleRejection 记录被限流拒绝的请求
func (c *Collector) RecordThrottleRejection(model string) {
	if c == nil {
		return
	}
	c.throttleRejection.WithLabelValues(model).Inc()
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordRedisStats 记录 Redis INFO 中的命中、未命中与连接数
func (c *Collector) RecordRedisStats(hits, misses uint64, clients int) {
	if c == nil {
		return
	}
	c.redisKeyspaceHits.Set(float64(hits))
	c.redisKeyspaceMisses.Set(float64(misses))
	c.redisClients.Set(float64(clients))
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	if c == nil {
		return
	}
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	if c == nil {
		return
	}
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// RecordInteractionDropped 记录因队列已满被丢弃的交互日志
func (c *Collector) RecordInteractionDropped(kind string) {
	if c == nil {
		return
	}
	c.interactionsDropped.WithLabelValues(kind).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
