// =============================================================================
// ChatRelay 主入口
// =============================================================================
// 完整服务入口点，包含 HTTP 服务、健康检查、Prometheus 指标
//
// 使用方法:
//
//	chatrelay serve                       # 启动服务
//	chatrelay serve --config config.yaml  # 指定配置文件
//	chatrelay version                     # 显示版本信息
//	chatrelay health                      # 健康检查
// =============================================================================

// @title ChatRelay API
// @version 1.0.0
// @description ChatRelay relays chat turns to OpenAI, Anthropic, Gemini, Mistral and local OpenAI-compatible models.
// @description
// @description ## Features
// @description - One normalized chunk stream for every provider
// @description - Session-bound streaming over SSE or WebSocket
// @description - Synchronous completions when no session is open
// @description - Per-model concurrency limits and classified errors

// @contact.name ChatRelay Team
// @contact.url https://github.com/BaSui01/chatrelay

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @description API key for authentication

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/chatrelay/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		os.Exit(runServe(os.Args[2:]))
	case "version":
		printVersion()
	case "health":
		os.Exit(runHealthCheck(os.Args[2:]))
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		return 1
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ChatRelay",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := NewServer(cfg, logger)
	if err := srv.Start(ctx); err != nil {
		logger.Error("Failed to start server", zap.Error(err))
		srv.Shutdown()
		return 1
	}

	code := 0
	if err := srv.Wait(ctx); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		code = 1
	}
	srv.Shutdown()

	logger.Info("ChatRelay stopped")
	return code
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) int {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	path := fs.String("path", "/health", "Health endpoint path (/health or /ready)")
	_ = fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + *path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	fmt.Println("OK")
	return 0
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("ChatRelay %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`ChatRelay - Chat completion relay

Usage:
  chatrelay <command> [options]

Commands:
  serve     Start the ChatRelay server
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Options for 'health':
  --addr <url>      Server address (default http://localhost:8080)
  --path <path>     Endpoint to probe (default /health)

Examples:
  chatrelay serve
  chatrelay serve --config /etc/chatrelay/config.yaml
  chatrelay health --addr http://localhost:8080 --path /ready
  chatrelay version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
