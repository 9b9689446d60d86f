// =============================================================================
// 📦 ChatRelay 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("CHATRELAY").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 ChatRelay 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Relay 会话中继配置
	Relay RelayConfig `yaml:"relay" env:"RELAY"`

	// Catalog 模型与应用目录
	Catalog CatalogConfig `yaml:"catalog" env:"CATALOG"`

	// Redis 缓存配置（API Key 缓存）
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库配置（API Key 表与交互日志）
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// LLM 提供商端点配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时，0 表示不限制（SSE 长连接需要）
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 允许的 CORS 来源，空表示不启用 CORS
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// 静态 API Key（X-API-Key），空表示不校验
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// 每个客户端 IP 的请求速率
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 速率突发
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// JWT 认证
	JWT JWTConfig `yaml:"jwt" env:"JWT"`
}

// JWTConfig JWT 认证配置. Secret 与 PublicKey 都为空时不启用.
type JWTConfig struct {
	// HMAC 密钥（HS256）
	Secret string `yaml:"secret" env:"SECRET"`
	// RSA 公钥 PEM（RS256）
	PublicKey string `yaml:"public_key" env:"PUBLIC_KEY"`
	// 期望的签发者
	Issuer string `yaml:"issuer" env:"ISSUER"`
	// 期望的受众
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// Enabled 报告是否配置了 JWT 校验密钥.
func (c JWTConfig) Enabled() bool {
	return c.Secret != "" || c.PublicKey != ""
}

// RelayConfig 会话中继配置
type RelayConfig struct {
	// 单次上游请求的截止时间
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	// 全局默认温度
	DefaultTemperature float64 `yaml:"default_temperature" env:"DEFAULT_TEMPERATURE"`
	// SSE 保活间隔
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	// 会话空闲超时，0 表示不清理
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout" env:"SESSION_IDLE_TIMEOUT"`
	// 空闲清理间隔
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	// 按模型的并发限制
	Throttle ThrottleConfig `yaml:"throttle" env:"THROTTLE"`
}

// ThrottleConfig 按模型的并发与速率限制
type ThrottleConfig struct {
	// 模式: queue, reject
	Mode string `yaml:"mode" env:"MODE"`
	// 默认并发上限，0 表示不限制
	DefaultLimit int64 `yaml:"default_limit" env:"DEFAULT_LIMIT"`
	// 按模型 ID 的并发上限，环境变量格式 "gpt-4o=4,claude=2"
	PerModel map[string]int64 `yaml:"per_model" env:"PER_MODEL"`
	// 每个模型每秒请求数，0 表示不限制
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	// 速率突发
	Burst int `yaml:"burst" env:"BURST"`
}

// CatalogConfig 模型与应用目录配置
type CatalogConfig struct {
	// 目录文件路径（YAML 或 JSON）
	Path string `yaml:"path" env:"PATH"`
	// 文件变更轮询间隔，0 表示不热更新
	ReloadInterval time.Duration `yaml:"reload_interval" env:"RELOAD_INTERVAL"`
}

// RedisConfig Redis 配置. Addr 为空时不启用缓存.
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// API Key 缓存时间
	KeyTTL time.Duration `yaml:"key_ttl" env:"KEY_TTL"`
}

// DatabaseConfig 数据库配置. Driver 为空时不启用数据库.
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 交互日志异步队列长度
	RecorderQueueSize int `yaml:"recorder_queue_size" env:"RECORDER_QUEUE_SIZE"`
}

// LLMConfig 提供商端点配置. 模型自身的 URL 优先于这里的 BaseURL.
type LLMConfig struct {
	OpenAI    ProviderConfig `yaml:"openai" env:"OPENAI"`
	Anthropic ProviderConfig `yaml:"anthropic" env:"ANTHROPIC"`
	Google    ProviderConfig `yaml:"google" env:"GOOGLE"`
	Mistral   ProviderConfig `yaml:"mistral" env:"MISTRAL"`
	Local     ProviderConfig `yaml:"local" env:"LOCAL"`
}

// ProviderConfig 单个提供商的端点配置
type ProviderConfig struct {
	// 基础 URL（可选）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
	// 是否使用明文 gRPC 连接 collector
	Insecure bool `yaml:"insecure" env:"INSECURE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "CHATRELAY",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			field.Set(reflect.ValueOf(splitList(value)))
		}

	case reflect.Map:
		// 支持 "key=value,key=value" 形式的 map[string]int64
		if field.Type().Key().Kind() != reflect.String || field.Type().Elem().Kind() != reflect.Int64 {
			return nil
		}
		m := reflect.MakeMap(field.Type())
		for _, pair := range splitList(value) {
			k, v, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Errorf("invalid map entry %q", pair)
			}
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid map entry %q: %w", pair, err)
			}
			m.SetMapIndex(reflect.ValueOf(strings.TrimSpace(k)), reflect.ValueOf(n))
		}
		field.Set(m)
	}

	return nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置，收集全部错误后一起返回
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, "rate_limit_rps must not be negative")
	}

	if c.Relay.RequestTimeout <= 0 {
		errs = append(errs, "relay.request_timeout must be positive")
	}
	if c.Relay.DefaultTemperature < 0 || c.Relay.DefaultTemperature > 2 {
		errs = append(errs, "relay.default_temperature must be between 0 and 2")
	}
	if c.Relay.HeartbeatInterval <= 0 {
		errs = append(errs, "relay.heartbeat_interval must be positive")
	}
	switch c.Relay.Throttle.Mode {
	case "", "queue", "reject":
	default:
		errs = append(errs, fmt.Sprintf("relay.throttle.mode %q must be queue or reject", c.Relay.Throttle.Mode))
	}
	if c.Relay.Throttle.DefaultLimit < 0 {
		errs = append(errs, "relay.throttle.default_limit must not be negative")
	}
	for model, limit := range c.Relay.Throttle.PerModel {
		if limit < 0 {
			errs = append(errs, fmt.Sprintf("relay.throttle.per_model[%s] must not be negative", model))
		}
	}

	if c.Catalog.Path == "" {
		errs = append(errs, "catalog.path is required")
	}

	switch c.Database.Driver {
	case "", "postgres", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
