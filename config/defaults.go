// =============================================================================
// 📦 ChatRelay 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Relay:     DefaultRelayConfig(),
		Catalog:   DefaultCatalogConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    0,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultRelayConfig 返回默认中继配置
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		RequestTimeout:     60 * time.Second,
		DefaultTemperature: 0.7,
		HeartbeatInterval:  15 * time.Second,
		SessionIdleTimeout: 30 * time.Minute,
		SweepInterval:      time.Minute,
		Throttle: ThrottleConfig{
			Mode: "queue",
		},
	}
}

// DefaultCatalogConfig 返回默认目录配置
func DefaultCatalogConfig() CatalogConfig {
	return CatalogConfig{
		Path:           "catalog.yaml",
		ReloadInterval: 5 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置（Addr 为空，不启用）
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		KeyTTL:       5 * time.Minute,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置（Driver 为空，不启用）
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:            "",
		Host:              "localhost",
		Port:              5432,
		User:              "chatrelay",
		Password:          "",
		Name:              "chatrelay",
		SSLMode:           "disable",
		MaxOpenConns:      25,
		MaxIdleConns:      5,
		ConnMaxLifetime:   5 * time.Minute,
		RecorderQueueSize: 1024,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "chatrelay",
		SampleRate:   0.1,
		Insecure:     true,
	}
}
