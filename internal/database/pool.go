package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/chatrelay/config"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrPoolClosed 连接池已关闭
var ErrPoolClosed = errors.New("pool is closed")

// =============================================================================
// 🔌 连接建立
// =============================================================================

// Dialector 根据驱动名返回 GORM 方言.
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	dsn := cfg.DSN()
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}
}

// Open 打开数据库连接并创建连接池管理器.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*PoolManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	pool := DefaultPoolConfig()
	if cfg.MaxOpenConns > 0 {
		pool.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		pool.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.ConnMaxLifetime > 0 {
		pool.ConnMaxLifetime = cfg.ConnMaxLifetime
	}

	pm, err := NewPoolManager(db, pool, logger)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pm.Ping(pingCtx); err != nil {
		_ = pm.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.Driver, err)
	}
	return pm, nil
}

// =============================================================================
// 🗄️ 数据库连接池管理器
// =============================================================================

// PoolManager 数据库连接池管理器
type PoolManager struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	config PoolConfig
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
}

// PoolConfig 连接池配置
type PoolConfig struct {
	// 最大空闲连接数
	MaxIdleConns int `yaml:"max_idle_conns" json:"max_idle_conns"`

	// 最大打开连接数
	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns"`

	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`

	// 连接最大空闲时间
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`

	// 健康检查间隔，0 表示不启用
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultPoolConfig 返回默认连接池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        5,
		MaxOpenConns:        25,
		ConnMaxLifetime:     5 * time.Minute,
		ConnMaxIdleTime:     time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Validate 校验连接池配置
func (c PoolConfig) Validate() error {
	if c.MaxOpenConns <= 0 {
		return fmt.Errorf("max_open_conns must be positive")
	}
	if c.MaxIdleConns <= 0 {
		return fmt.Errorf("max_idle_conns must be positive")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("max_idle_conns (%d) exceeds max_open_conns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	return nil
}

// NewPoolManager 创建连接池管理器
func NewPoolManager(db *gorm.DB, config PoolConfig, logger *zap.Logger) (*PoolManager, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	pm := &PoolManager{
		db:     db,
		sqlDB:  sqlDB,
		config: config,
		logger: logger.With(zap.String("component", "db_pool")),
		stop:   make(chan struct{}),
	}

	if config.HealthCheckInterval > 0 {
		go pm.healthCheckLoop()
	}

	pm.logger.Info("database pool initialized",
		zap.String("dialect", db.Dialector.Name()),
		zap.Int("max_idle_conns", config.MaxIdleConns),
		zap.Int("max_open_conns", config.MaxOpenConns),
	)
	return pm, nil
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// DB 返回 GORM 数据库实例
func (pm *PoolManager) DB() *gorm.DB {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.db
}

// Ping 检查数据库连接
func (pm *PoolManager) Ping(ctx context.Context) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if pm.closed {
		return ErrPoolClosed
	}
	return pm.sqlDB.PingContext(ctx)
}

// Close 关闭连接池并停止健康检查
func (pm *PoolManager) Close() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.closed {
		return nil
	}
	pm.closed = true
	close(pm.stop)
	pm.logger.Info("closing database pool")

	return pm.sqlDB.Close()
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

func (pm *PoolManager) healthCheckLoop() {
	ticker := time.NewTicker(pm.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pm.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := pm.Ping(ctx)
			cancel()
			switch {
			case errors.Is(err, ErrPoolClosed):
				return
			case err != nil:
				pm.logger.Error("database health check failed", zap.Error(err))
			default:
				stats := pm.GetStats()
				pm.logger.Debug("database health check passed",
					zap.Int("open_connections", stats.OpenConnections),
					zap.Int("in_use", stats.InUse),
					zap.Int("idle", stats.Idle),
				)
			}
		}
	}
}

// =============================================================================
// 📊 统计信息
// =============================================================================

// PoolStats 连接池统计信息
type PoolStats struct {
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
}

// GetStats 获取连接池统计信息
func (pm *PoolManager) GetStats() PoolStats {
	stats := pm.sqlDB.Stats()
	return PoolStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,
	}
}
