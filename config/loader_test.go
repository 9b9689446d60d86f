// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Zero(t, cfg.Server.WriteTimeout, "SSE 连接不能有写超时")
	assert.False(t, cfg.Server.JWT.Enabled())

	assert.Equal(t, 60*time.Second, cfg.Relay.RequestTimeout)
	assert.Equal(t, 0.7, cfg.Relay.DefaultTemperature)
	assert.Equal(t, 15*time.Second, cfg.Relay.HeartbeatInterval)
	assert.Equal(t, 30*time.Minute, cfg.Relay.SessionIdleTimeout)
	assert.Equal(t, "queue", cfg.Relay.Throttle.Mode)

	assert.Equal(t, "catalog.yaml", cfg.Catalog.Path)

	// Redis 与数据库默认关闭
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Redis.KeyTTL)
	assert.Empty(t, cfg.Database.Driver)
	assert.Equal(t, 1024, cfg.Database.RecorderQueueSize)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "chatrelay", cfg.Telemetry.ServiceName)

	require.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s
  cors_allowed_origins: ["https://app.example.com"]
  jwt:
    secret: "s3cret"
    issuer: "auth.example.com"

relay:
  request_timeout: 90s
  default_temperature: 0.3
  throttle:
    mode: reject
    default_limit: 8
    per_model:
      gpt-4o: 2

catalog:
  path: /etc/chatrelay/catalog.yaml
  reload_interval: 10s

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

database:
  driver: sqlite
  name: /var/lib/chatrelay.db

llm:
  local:
    base_url: http://localhost:11434

log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSAllowedOrigins)
	assert.True(t, cfg.Server.JWT.Enabled())
	assert.Equal(t, "auth.example.com", cfg.Server.JWT.Issuer)

	assert.Equal(t, 90*time.Second, cfg.Relay.RequestTimeout)
	assert.Equal(t, 0.3, cfg.Relay.DefaultTemperature)
	// 未在 YAML 中出现的字段保留默认值
	assert.Equal(t, 15*time.Second, cfg.Relay.HeartbeatInterval)
	assert.Equal(t, "reject", cfg.Relay.Throttle.Mode)
	assert.Equal(t, int64(8), cfg.Relay.Throttle.DefaultLimit)
	assert.Equal(t, map[string]int64{"gpt-4o": 2}, cfg.Relay.Throttle.PerModel)

	assert.Equal(t, "/etc/chatrelay/catalog.yaml", cfg.Catalog.Path)
	assert.Equal(t, 10*time.Second, cfg.Catalog.ReloadInterval)

	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, 1, cfg.Redis.DB)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "http://localhost:11434", cfg.LLM.Local.BaseURL)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("CHATRELAY_SERVER_HTTP_PORT", "7777")
	t.Setenv("CHATRELAY_SERVER_API_KEYS", "k1, k2")
	t.Setenv("CHATRELAY_RELAY_REQUEST_TIMEOUT", "2m")
	t.Setenv("CHATRELAY_RELAY_DEFAULT_TEMPERATURE", "0.9")
	t.Setenv("CHATRELAY_RELAY_THROTTLE_PER_MODEL", "gpt-4o=4, claude=2")
	t.Setenv("CHATRELAY_REDIS_ADDR", "env-redis:6379")
	t.Setenv("CHATRELAY_LLM_OPENAI_BASE_URL", "https://proxy.example.com")
	t.Setenv("CHATRELAY_LOG_LEVEL", "warn")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)
	assert.Equal(t, 2*time.Minute, cfg.Relay.RequestTimeout)
	assert.Equal(t, 0.9, cfg.Relay.DefaultTemperature)
	assert.Equal(t, map[string]int64{"gpt-4o": 4, "claude": 2}, cfg.Relay.Throttle.PerModel)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "https://proxy.example.com", cfg.LLM.OpenAI.BaseURL)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_InvalidEnvMap(t *testing.T) {
	t.Setenv("CHATRELAY_RELAY_THROTTLE_PER_MODEL", "gpt-4o")
	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
server:
  http_port: 8888
catalog:
  path: yaml-catalog.yaml
  reload_interval: 3s
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	t.Setenv("CHATRELAY_SERVER_HTTP_PORT", "9999")
	t.Setenv("CHATRELAY_CATALOG_PATH", "env-catalog.yaml")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "env-catalog.yaml", cfg.Catalog.Path)
	assert.Equal(t, 3*time.Second, cfg.Catalog.ReloadInterval)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 6666, cfg.Server.HTTPPort)
}

func TestLoader_WithValidator(t *testing.T) {
	validator := func(cfg *Config) error {
		if cfg.Server.HTTPPort < 1024 {
			return assert.AnError
		}
		return nil
	}
	t.Setenv("CHATRELAY_SERVER_HTTP_PORT", "80")

	_, err := NewLoader().WithValidator(validator).Load()
	assert.Error(t, err)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/non/existent/path/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")
	invalidYAML := `
server:
  http_port: [invalid
  this is not valid yaml
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidYAML), 0o644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{
			name:    "invalid HTTP port",
			modify:  func(c *Config) { c.Server.HTTPPort = 70000 },
			wantErr: "invalid HTTP port",
		},
		{
			name:    "zero request timeout",
			modify:  func(c *Config) { c.Relay.RequestTimeout = 0 },
			wantErr: "request_timeout",
		},
		{
			name:    "temperature too high",
			modify:  func(c *Config) { c.Relay.DefaultTemperature = 3 },
			wantErr: "default_temperature",
		},
		{
			name:    "unknown throttle mode",
			modify:  func(c *Config) { c.Relay.Throttle.Mode = "drop" },
			wantErr: "throttle.mode",
		},
		{
			name:    "negative per-model limit",
			modify:  func(c *Config) { c.Relay.Throttle.PerModel = map[string]int64{"x": -1} },
			wantErr: "per_model[x]",
		},
		{
			name:    "missing catalog",
			modify:  func(c *Config) { c.Catalog.Path = "" },
			wantErr: "catalog.path",
		},
		{
			name:    "unknown database driver",
			modify:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: "oracle",
		},
		{
			name:    "sample rate out of range",
			modify:  func(c *Config) { c.Telemetry.SampleRate = 2 },
			wantErr: "sample_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateCollectsAll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.HTTPPort = 0
	cfg.Catalog.Path = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP port")
	assert.Contains(t, err.Error(), "catalog.path")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "postgres DSN",
			config: DatabaseConfig{
				Driver:   "postgres",
				Host:     "localhost",
				Port:     5432,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
				SSLMode:  "disable",
			},
			expected: "host=localhost port=5432 user=user password=pass dbname=dbname sslmode=disable",
		},
		{
			name: "mysql DSN",
			config: DatabaseConfig{
				Driver:   "mysql",
				Host:     "localhost",
				Port:     3306,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
			},
			expected: "user:pass@tcp(localhost:3306)/dbname?parseTime=true",
		},
		{
			name:     "sqlite DSN",
			config:   DatabaseConfig{Driver: "sqlite", Name: "/path/to/db.sqlite"},
			expected: "/path/to/db.sqlite",
		},
		{
			name:     "unknown driver",
			config:   DatabaseConfig{Driver: "unknown"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

// --- MustLoad 测试 ---

func TestMustLoad(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "config.yaml")
	bad := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(good, []byte("server:\n  http_port: 8081\n"), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte("invalid: [yaml"), 0o644))

	assert.NotPanics(t, func() {
		assert.Equal(t, 8081, MustLoad(good).Server.HTTPPort)
	})
	assert.Panics(t, func() { MustLoad(bad) })
}

func TestLoadFromEnv_Function(t *testing.T) {
	t.Setenv("CHATRELAY_CATALOG_PATH", "env-only.yaml")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "env-only.yaml", cfg.Catalog.Path)
}
