// Package cache provides internal cache management.
// This package is internal and should not be imported by external projects.
package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 💾 缓存管理器
// =============================================================================

// Manager 缓存管理器
type Manager struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
}

// Config 缓存配置
type Config struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 默认过期时间
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`

	// 键前缀，用于与其他服务共享同一 Redis 实例
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// 最小空闲连接数
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`

	// 健康检查间隔，0 表示不启用
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		DefaultTTL:          5 * time.Minute,
		KeyPrefix:           "chatrelay:",
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 30 * time.Second,
	}
}

// NewManager 创建缓存管理器并验证连接
func NewManager(ctx context.Context, config Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := &Manager{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "cache")),
		stop:   make(chan struct{}),
	}

	if config.HealthCheckInterval > 0 {
		go m.healthCheckLoop()
	}

	m.logger.Info("cache manager initialized",
		zap.String("addr", config.Addr),
		zap.Int("pool_size", config.PoolSize),
		zap.String("key_prefix", config.KeyPrefix),
	)
	return m, nil
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

func (m *Manager) key(k string) string { return m.config.KeyPrefix + k }

// Get 获取缓存值
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return "", ErrClosed
	}

	val, err := m.redis.Get(ctx, m.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		m.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("cache get failed: %w", err)
	}
	return val, nil
}

// Set 设置缓存值. ttl 为 0 时使用默认过期时间.
func (m *Manager) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	if ttl == 0 {
		ttl = m.config.DefaultTTL
	}

	if err := m.redis.Set(ctx, m.key(key), value, ttl).Err(); err != nil {
		m.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

// Ping 检查 Redis 连接
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	return m.redis.Ping(ctx).Err()
}

// Close 关闭缓存管理器并停止健康检查
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	close(m.stop)
	m.logger.Info("closing cache manager")

	return m.redis.Close()
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

func (m *Manager) healthCheckLoop() {
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := m.Ping(ctx); err != nil && !errors.Is(err, ErrClosed) {
				m.logger.Error("cache health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// =============================================================================
// 📊 统计信息
// =============================================================================

// Stats 缓存统计信息
type Stats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Connections int    `json:"connections"`
}

// GetStats 从默认 INFO 输出（含 stats 与 clients 段）解析统计信息
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	info, err := m.redis.Info(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get redis info: %w", err)
	}
	return parseInfo(info), nil
}

func parseInfo(info string) *Stats {
	stats := &Stats{}
	sc := bufio.NewScanner(strings.NewReader(info))
	for sc.Scan() {
		name, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), ":")
		if !ok {
			continue
		}
		switch name {
		case "keyspace_hits":
			stats.Hits, _ = strconv.ParseUint(value, 10, 64)
		case "keyspace_misses":
			stats.Misses, _ = strconv.ParseUint(value, 10, 64)
		case "connected_clients":
			stats.Connections, _ = strconv.Atoi(value)
		}
	}
	return stats
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

var (
	// ErrCacheMiss 缓存未命中错误
	ErrCacheMiss = errors.New("cache miss")
	// ErrClosed 管理器已关闭
	ErrClosed = errors.New("cache manager is closed")
)

// IsCacheMiss 判断是否为缓存未命中错误
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
