package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/BaSui01/chatrelay/api/handlers"
	"github.com/BaSui01/chatrelay/config"
	"github.com/BaSui01/chatrelay/internal/cache"
	"github.com/BaSui01/chatrelay/internal/catalog"
	"github.com/BaSui01/chatrelay/internal/database"
	"github.com/BaSui01/chatrelay/internal/keystore"
	"github.com/BaSui01/chatrelay/internal/metrics"
	"github.com/BaSui01/chatrelay/internal/server"
	"github.com/BaSui01/chatrelay/internal/store"
	"github.com/BaSui01/chatrelay/internal/telemetry"
	"github.com/BaSui01/chatrelay/llm/factory"
	"github.com/BaSui01/chatrelay/llm/providers"
	"github.com/BaSui01/chatrelay/llm/throttle"
	"github.com/BaSui01/chatrelay/llm/tokenizer"
	"github.com/BaSui01/chatrelay/relay"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// poolStatsInterval 是数据库连接池与 Redis 指标的上报间隔.
const poolStatsInterval = 15 * time.Second

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 ChatRelay 的主服务器，持有全部运行时依赖.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 基础设施
	telemetry *telemetry.Providers
	collector *metrics.Collector
	db        *database.PoolManager
	cache     *cache.Manager
	recorder  *store.Recorder
	catalog   *catalog.Catalog

	// 中继
	relay *relay.Relay

	// Handlers
	healthHandler *handlers.HealthHandler
	chatHandler   *handlers.ChatHandler

	// 后台任务生命周期
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 按依赖顺序初始化组件并启动 HTTP 与 Metrics 服务器.
// 失败时调用方负责执行 Shutdown 释放已创建的资源.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	// 1. 遥测与指标
	otelProviders, err := telemetry.Init(ctx, s.cfg.Telemetry, Version, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.telemetry = otelProviders
	s.collector = metrics.NewCollector("chatrelay", s.logger)

	// 2. 存储
	if err := s.initStorage(ctx); err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}

	// 3. 模型目录
	if err := s.initCatalog(ctx); err != nil {
		return fmt.Errorf("failed to init catalog: %w", err)
	}

	// 4. 中继
	if err := s.initRelay(ctx); err != nil {
		return fmt.Errorf("failed to init relay: %w", err)
	}

	// 5. Handlers
	s.initHandlers()

	// 6. HTTP 服务器
	if err := s.startHTTPServer(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 7. Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("database", s.db != nil),
		zap.Bool("redis", s.cache != nil),
		zap.Bool("catalog_hot_reload", s.cfg.Catalog.ReloadInterval > 0),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initStorage 打开可选的数据库与 Redis. 未配置时对应功能退化为环境变量与日志.
func (s *Server) initStorage(ctx context.Context) error {
	if s.cfg.Database.Driver != "" {
		pm, err := database.Open(ctx, s.cfg.Database, s.logger)
		if err != nil {
			return err
		}
		s.db = pm

		if err := store.Migrate(pm.DB()); err != nil {
			return fmt.Errorf("auto-migrate: %w", err)
		}
		s.recorder = store.NewRecorder(pm.DB(), s.cfg.Database.RecorderQueueSize,
			store.WithRecorderMetrics(s.collector),
			store.WithRecorderLogger(s.logger))
		s.logger.Info("Database connected", zap.String("driver", s.cfg.Database.Driver))
	} else {
		s.logger.Info("Database not configured, API keys come from the environment only")
	}

	if s.cfg.Redis.Addr != "" {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.Addr = s.cfg.Redis.Addr
		cacheCfg.Password = s.cfg.Redis.Password
		cacheCfg.DB = s.cfg.Redis.DB
		if s.cfg.Redis.PoolSize > 0 {
			cacheCfg.PoolSize = s.cfg.Redis.PoolSize
		}
		if s.cfg.Redis.MinIdleConns > 0 {
			cacheCfg.MinIdleConns = s.cfg.Redis.MinIdleConns
		}
		if s.cfg.Redis.KeyTTL > 0 {
			cacheCfg.DefaultTTL = s.cfg.Redis.KeyTTL
		}

		cm, err := cache.NewManager(ctx, cacheCfg, s.logger)
		if err != nil {
			return err
		}
		s.cache = cm
	}

	if s.db != nil || s.cache != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.reportPoolStats(ctx)
		}()
	}
	return nil
}

// initCatalog 加载模型目录并按需启动热更新.
func (s *Server) initCatalog(ctx context.Context) error {
	cat, err := catalog.Load(s.cfg.Catalog.Path, s.logger)
	if err != nil {
		return err
	}
	s.catalog = cat

	if s.cfg.Catalog.ReloadInterval > 0 {
		if err := cat.Watch(ctx, s.cfg.Catalog.ReloadInterval); err != nil {
			return fmt.Errorf("watch catalog: %w", err)
		}
	}
	return nil
}

// initRelay 组装提供商注册表、限流器、Key 链并创建中继.
func (s *Server) initRelay(ctx context.Context) error {
	registry, err := factory.NewRegistry(s.providerConfig(), s.logger)
	if err != nil {
		return err
	}

	keyOpts := []keystore.Option{
		keystore.WithMetrics(s.collector),
		keystore.WithLogger(s.logger),
	}
	if s.cache != nil {
		keyOpts = append(keyOpts, keystore.WithCache(s.cache, s.cfg.Redis.KeyTTL))
	}
	if s.db != nil {
		keyOpts = append(keyOpts, keystore.WithStore(store.NewKeyStore(s.db.DB())))
	}

	var recorder relay.InteractionRecorder = relay.NewLogRecorder(s.logger)
	if s.recorder != nil {
		recorder = s.recorder
	}

	throttleCfg := s.cfg.Relay.Throttle
	throttler := throttle.New(throttle.Config{
		Mode:              throttle.Mode(throttleCfg.Mode),
		DefaultLimit:      throttleCfg.DefaultLimit,
		PerModel:          throttleCfg.PerModel,
		RequestsPerSecond: throttleCfg.RequestsPerSecond,
		Burst:             throttleCfg.Burst,
	}, s.logger)

	r, err := relay.New(registry, s.catalog, relay.Config{
		RequestTimeout:     s.cfg.Relay.RequestTimeout,
		HeartbeatInterval:  s.cfg.Relay.HeartbeatInterval,
		SessionIdleTimeout: s.cfg.Relay.SessionIdleTimeout,
		SweepInterval:      s.cfg.Relay.SweepInterval,
	},
		relay.WithKeyResolver(keystore.New(keyOpts...)),
		relay.WithPermissionChecker(s.catalog),
		relay.WithRecorder(recorder),
		relay.WithThrottler(throttler),
		relay.WithTokenizer(tokenizer.NewRegistry(s.logger)),
		relay.WithMetrics(s.collector),
		relay.WithLogger(s.logger),
	)
	if err != nil {
		return err
	}
	s.relay = r

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		r.RunJanitor(ctx)
	}()
	return nil
}

func (s *Server) providerConfig() factory.Config {
	llmCfg := s.cfg.LLM
	base := func(p config.ProviderConfig) providers.BaseProviderConfig {
		return providers.BaseProviderConfig{BaseURL: p.BaseURL}
	}

	var fc factory.Config
	fc.DefaultTemperature = s.cfg.Relay.DefaultTemperature
	fc.OpenAI.BaseProviderConfig = base(llmCfg.OpenAI)
	fc.Anthropic.BaseProviderConfig = base(llmCfg.Anthropic)
	fc.Google.BaseProviderConfig = base(llmCfg.Google)
	fc.Mistral.BaseProviderConfig = base(llmCfg.Mistral)
	fc.Local.BaseProviderConfig = base(llmCfg.Local)
	return fc
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger, Version)
	if s.db != nil {
		s.healthHandler.RegisterCheck(handlers.NewDatabaseHealthCheck(s.db.Ping))
	}
	if s.cache != nil {
		s.healthHandler.RegisterCheck(handlers.NewRedisHealthCheck(s.cache.Ping))
	}
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("catalog", func(context.Context) error {
		if s.catalog.Snapshot() == nil {
			return errors.New("catalog not loaded")
		}
		return nil
	}))

	chatOpts := []handlers.ChatOption{handlers.WithHeartbeat(s.cfg.Relay.HeartbeatInterval)}
	if len(s.cfg.Server.CORSAllowedOrigins) > 0 {
		chatOpts = append(chatOpts, handlers.WithWebSocketOrigins(s.cfg.Server.CORSAllowedOrigins...))
	}
	s.chatHandler = handlers.NewChatHandler(s.relay, s.logger, chatOpts...)

	s.logger.Info("Handlers initialized")
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// skipAuthPaths 不需要认证的探针路径
var skipAuthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

// buildHandler 注册路由并构建中间件链
func (s *Server) buildHandler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	s.healthHandler.Register(mux, BuildTime, GitCommit)
	s.chatHandler.Register(mux)

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
	}
	if len(s.cfg.Server.APIKeys) > 0 {
		middlewares = append(middlewares, APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.logger))
	}
	if s.cfg.Server.JWT.Enabled() {
		middlewares = append(middlewares, JWTAuth(s.cfg.Server.JWT, skipAuthPaths, s.logger))
	}
	// 限流放在认证之后，已认证用户按用户 ID 计数
	middlewares = append(middlewares,
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger))

	return Chain(mux, middlewares...)
}

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer(ctx context.Context) error {
	serverConfig := server.DefaultConfig()
	serverConfig.Addr = fmt.Sprintf(":%d", s.cfg.Server.HTTPPort)
	serverConfig.ReadTimeout = s.cfg.Server.ReadTimeout
	serverConfig.WriteTimeout = s.cfg.Server.WriteTimeout
	serverConfig.ShutdownTimeout = s.cfg.Server.ShutdownTimeout

	s.httpManager = server.NewManager(s.buildHandler(ctx), serverConfig, s.logger)
	// 关闭开始时结束所有会话，SSE 与 WebSocket 长连接随之返回
	s.httpManager.OnShutdown(s.relay.Close)

	if err := s.httpManager.Start(); err != nil {
		return err
	}
	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器. 端口为 0 时不启动.
func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.DefaultConfig()
	serverConfig.Addr = fmt.Sprintf(":%d", s.cfg.Server.MetricsPort)
	serverConfig.ReadTimeout = s.cfg.Server.ReadTimeout
	serverConfig.WriteTimeout = s.cfg.Server.ReadTimeout
	serverConfig.ShutdownTimeout = s.cfg.Server.ShutdownTimeout

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}
	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// reportPoolStats 定期上报数据库连接池与 Redis 状态
func (s *Server) reportPoolStats(ctx context.Context) {
	ticker := time.NewTicker(poolStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collectPoolStats(ctx)
		}
	}
}

func (s *Server) collectPoolStats(ctx context.Context) {
	if s.db != nil {
		stats := s.db.GetStats()
		s.collector.RecordDBConnections(s.cfg.Database.Driver, stats.OpenConnections, stats.Idle)
	}
	if s.cache != nil {
		statsCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		stats, err := s.cache.GetStats(statsCtx)
		if err != nil {
			s.logger.Debug("redis stats unavailable", zap.Error(err))
			return
		}
		s.collector.RecordRedisStats(stats.Hits, stats.Misses, stats.Connections)
	}
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Wait 阻塞直到 ctx 结束（收到信号）或 HTTP 服务器异常退出，随后关闭 HTTP 服务器.
func (s *Server) Wait(ctx context.Context) error {
	return s.httpManager.Wait(ctx)
}

// Shutdown 按与启动相反的顺序释放资源. 可以重复调用.
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 停止 janitor、目录监听、限流清理与连接池上报
	if s.cancel != nil {
		s.cancel()
	}
	if s.relay != nil {
		s.relay.Close()
	}
	s.wg.Wait()

	if s.catalog != nil {
		if err := s.catalog.Close(); err != nil {
			s.logger.Error("Catalog watcher shutdown error", zap.Error(err))
		}
	}
	if s.recorder != nil {
		if err := s.recorder.Close(ctx); err != nil {
			s.logger.Error("Interaction recorder flush error", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("Redis close error", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Database close error", zap.Error(err))
		}
	}
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.cfg.Server.ShutdownTimeout > 0 {
		return s.cfg.Server.ShutdownTimeout
	}
	return 15 * time.Second
}
