package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// readyTimeout 是就绪检查的总超时。
const readyTimeout = 5 * time.Second

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthHandler 健康检查处理器
type HealthHandler struct {
	logger  *zap.Logger
	version string
	checks  []HealthCheck
	mu      sync.RWMutex
}

// HealthCheck 健康检查接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status  string `json:"status"` // "pass", "fail"
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger, version string) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:  logger.With(zap.String("component", "health_handler")),
		version: version,
	}
}

// RegisterCheck 注册健康检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// Register 在 mux 上注册健康检查路由。
func (h *HealthHandler) Register(mux *http.ServeMux, buildTime, gitCommit string) {
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.HandleFunc("GET /ready", h.HandleReady)
	mux.HandleFunc("GET /readyz", h.HandleReady)
	mux.HandleFunc("GET /version", h.HandleVersion(h.version, buildTime, gitCommit))
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 处理 /health 请求（简单健康检查）
// @Summary 健康检查
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务正常"
// @Router /health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   h.version,
	})
}

// HandleHealthz 处理 /healthz 请求（Kubernetes 活跃度探针，只检查进程存活）
// @Summary Kubernetes 活跃度探针
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务处于活动状态"
// @Router /healthz [get]
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// HandleReady 处理 /ready 或 /readyz 请求（就绪检查）
// @Summary 准备情况检查
// @Description 依次执行已注册的依赖检查（数据库、Redis 等）
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务已准备就绪"
// @Failure 503 {object} HealthStatus "服务尚未准备好"
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   h.version,
		Checks:    make(map[string]CheckResult, len(checks)),
	}

	allHealthy := true
	for _, check := range checks {
		start := time.Now()
		err := check.Check(ctx)
		latency := time.Since(start)

		result := CheckResult{Status: "pass", Latency: latency.String()}
		if err != nil {
			result.Status = "fail"
			result.Message = err.Error()
			allHealthy = false

			h.logger.Warn("health check failed",
				zap.String("check", check.Name()),
				zap.Error(err),
				zap.Duration("latency", latency),
			)
		}
		status.Checks[check.Name()] = result
	}

	if !allHealthy {
		status.Status = "unhealthy"
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// HandleVersion 处理 /version 请求
// @Summary 版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} map[string]string "版本信息"
// @Router /version [get]
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// =============================================================================
// 🔧 内置健康检查实现
// =============================================================================

// PingCheck 以一个 ping 函数实现 HealthCheck
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewDatabaseHealthCheck 创建数据库健康检查
func NewDatabaseHealthCheck(ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: "database", ping: ping}
}

// NewRedisHealthCheck 创建 Redis 健康检查
func NewRedisHealthCheck(ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: "redis", ping: ping}
}

// NewPingCheck 创建任意名称的健康检查
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

// Name 实现 HealthCheck
func (c *PingCheck) Name() string { return c.name }

// Check 实现 HealthCheck
func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }
