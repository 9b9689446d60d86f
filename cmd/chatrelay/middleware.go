package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/chatrelay/api/handlers"
	"github.com/BaSui01/chatrelay/config"
	"github.com/BaSui01/chatrelay/internal/metrics"
	"github.com/BaSui01/chatrelay/types"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Middleware 类型定义
type Middleware func(http.Handler) http.Handler

// Chain 将多个中间件串联，第一个中间件在最外层
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Recovery panic 恢复中间件
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						zap.Any("error", err),
						zap.String("path", r.URL.Path),
						zap.Stack("stack"))
					handlers.WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "internal server error", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger 请求日志中间件
func RequestLogger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)

			requestID, _ := types.RequestID(r.Context())
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.StatusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("request_id", requestID),
			)
		})
	}
}

// =============================================================================
// 📊 MetricsMiddleware
// =============================================================================

// metricsResponseWriter 记录状态码与响应体大小. 实现 Flusher 与 Hijacker，
// SSE 与 WebSocket 路由可以穿过它.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	wroteHeader  bool
	bytesWritten int64
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher.
func (w *metricsResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker. A hijacked connection is reported as 101.
func (w *metricsResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
	}
	conn, buf, err := hj.Hijack()
	if err == nil {
		w.statusCode = http.StatusSwitchingProtocols
		w.wroteHeader = true
	}
	return conn, buf, err
}

// Unwrap 供 http.ResponseController 使用.
func (w *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// MetricsMiddleware 通过 metrics.Collector 记录请求耗时、状态码和大小.
// 路径会先经过 normalizePath，app 与 chat ID 不进入标签.
func MetricsMiddleware(collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			mrw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(mrw, r)

			requestSize := r.ContentLength
			if requestSize < 0 {
				requestSize = 0
			}
			collector.RecordHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				mrw.statusCode,
				time.Since(start),
				requestSize,
				mrw.bytesWritten,
			)
		})
	}
}

// normalizePath 把会话路由中的 ID 替换为占位符:
//
//	/api/apps/a1/chat/c9      -> /api/apps/:appId/chat/:chatId
//	/api/apps/a1/chat/c9/stop -> /api/apps/:appId/chat/:chatId/stop
//
// 其他未知路径统一归为 "other"，防止扫描请求撑爆时间序列.
func normalizePath(path string) string {
	switch path {
	case "/health", "/healthz", "/ready", "/readyz", "/version", "/metrics":
		return path
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) >= 5 && segments[0] == "api" && segments[1] == "apps" && segments[3] == "chat" {
		normalized := "/api/apps/:appId/chat/:chatId"
		switch {
		case len(segments) == 5:
			return normalized
		case len(segments) == 6 && (segments[5] == "stop" || segments[5] == "status" || segments[5] == "ws"):
			return normalized + "/" + segments[5]
		}
	}
	return "other"
}

// =============================================================================
// 🔭 OTelTracing
// =============================================================================

// OTelTracing 为每个请求创建服务端 span，并从请求头提取上游 trace 上下文.
func OTelTracing() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			propagator := otel.GetTextMapPropagator()
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			tracer := otel.Tracer("chatrelay/http")
			route := normalizePath(r.URL.Path)
			ctx, span := tracer.Start(ctx, r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.HTTPRoute(route),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			if sc := span.SpanContext(); sc.HasTraceID() {
				ctx = types.WithTraceID(ctx, sc.TraceID().String())
			}

			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.response.status_code", rw.StatusCode))
		})
	}
}

// =============================================================================
// 🔐 认证
// =============================================================================

// isWebSocketUpgrade 报告请求是否为 WebSocket 握手. 浏览器握手无法设置自定义请求头，
// 此时允许从查询参数读取凭据.
func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// APIKeyAuth API Key 认证中间件
// skipPaths 中的路径不需要认证（如 /health, /ready, /version）
func APIKeyAuth(validKeys []string, skipPaths []string, logger *zap.Logger) Middleware {
	keySet := make(map[string]struct{}, len(validKeys))
	for _, k := range validKeys {
		keySet[k] = struct{}{}
	}
	skipSet := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skipSet[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := skipSet[r.URL.Path]; skip {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("X-API-Key")
			if key == "" && isWebSocketUpgrade(r) {
				key = r.URL.Query().Get("api_key")
			}
			if _, ok := keySet[key]; !ok {
				logger.Debug("api key rejected", zap.String("path", r.URL.Path))
				handlers.WriteErrorMessage(w, http.StatusUnauthorized, types.ErrUnauthorized, "invalid or missing API key", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// JWTAuth 校验 Authorization: Bearer 令牌，并把 user_id、tenant_id、roles 写入请求上下文.
// 支持 HS256 与 RS256. WebSocket 握手可改用 access_token 查询参数.
func JWTAuth(cfg config.JWTConfig, skipPaths []string, logger *zap.Logger) Middleware {
	skipSet := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skipSet[p] = struct{}{}
	}

	var rsaKey *rsa.PublicKey
	if cfg.PublicKey != "" {
		block, _ := pem.Decode([]byte(cfg.PublicKey))
		if block != nil {
			pub, err := x509.ParsePKIXPublicKey(block.Bytes)
			if err == nil {
				if k, ok := pub.(*rsa.PublicKey); ok {
					rsaKey = k
				}
			}
			if rsaKey == nil {
				logger.Warn("failed to parse RSA public key, RSA verification disabled")
			}
		} else {
			logger.Warn("failed to decode PEM block for RSA public key")
		}
	}

	hmacSecret := []byte(cfg.Secret)

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "RS256"})}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(cfg.Audience))
	}

	keyFunc := func(token *jwt.Token) (any, error) {
		switch token.Method.Alg() {
		case "HS256":
			if len(hmacSecret) == 0 {
				return nil, fmt.Errorf("HMAC secret not configured")
			}
			return hmacSecret, nil
		case "RS256":
			if rsaKey == nil {
				return nil, fmt.Errorf("RSA public key not configured")
			}
			return rsaKey, nil
		default:
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := skipSet[r.URL.Path]; skip {
				next.ServeHTTP(w, r)
				return
			}

			tokenStr, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !found && isWebSocketUpgrade(r) {
				tokenStr = r.URL.Query().Get("access_token")
				found = tokenStr != ""
			}
			if !found {
				handlers.WriteErrorMessage(w, http.StatusUnauthorized, types.ErrAuthentication, "missing or malformed Authorization header", nil)
				return
			}

			token, err := jwt.Parse(tokenStr, keyFunc, parserOpts...)
			if err != nil {
				logger.Debug("JWT validation failed", zap.Error(err))
				handlers.WriteErrorMessage(w, http.StatusUnauthorized, types.ErrAuthentication, "invalid or expired token", nil)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok || !token.Valid {
				handlers.WriteErrorMessage(w, http.StatusUnauthorized, types.ErrAuthentication, "invalid token claims", nil)
				return
			}

			ctx := r.Context()
			if tenantID, ok := claims["tenant_id"].(string); ok && tenantID != "" {
				ctx = types.WithTenantID(ctx, tenantID)
			}
			userID, _ := claims["user_id"].(string)
			if userID == "" {
				userID, _ = claims.GetSubject()
			}
			if userID != "" {
				ctx = types.WithUserID(ctx, userID)
			}
			if rolesRaw, ok := claims["roles"].([]any); ok {
				roles := make([]string, 0, len(rolesRaw))
				for _, role := range rolesRaw {
					if s, ok := role.(string); ok {
						roles = append(roles, s)
					}
				}
				if len(roles) > 0 {
					ctx = types.WithRoles(ctx, roles)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// =============================================================================
// 🚦 限流
// =============================================================================

// RateLimiter 按调用方限流. 已认证请求按用户计，其余按客户端 IP 计.
// rps 不大于 0 时不限流. ctx 结束时停止后台清理.
func RateLimiter(ctx context.Context, rps float64, burst int, logger *zap.Logger) Middleware {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst <= 0 {
		burst = 1
	}

	type visitor struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitor)
	)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mu.Lock()
				for key, v := range visitors {
					if time.Since(v.lastSeen) > 3*time.Minute {
						delete(visitors, key)
					}
				}
				mu.Unlock()
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateLimitKey(r)

			mu.Lock()
			v, exists := visitors[key]
			if !exists {
				v = &visitor{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
				visitors[key] = v
			}
			v.lastSeen = time.Now()
			mu.Unlock()

			if !v.limiter.Allow() {
				logger.Debug("request rate limited", zap.String("key", key))
				w.Header().Set("Retry-After", "1")
				handlers.WriteErrorMessage(w, http.StatusTooManyRequests, types.ErrRateLimit, "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if userID, ok := types.UserID(r.Context()); ok && userID != "" {
		return "user:" + userID
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return "ip:" + ip
}

// =============================================================================
// 🌐 通用头
// =============================================================================

// CORS 跨域中间件. allowedOrigins 为空时不设置任何 CORS 头.
func CORS(allowedOrigins []string) Middleware {
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if len(originSet) == 0 {
				if origin != "" && r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := originSet[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, Authorization, X-Request-ID")
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.Header().Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID 为每个请求分配 X-Request-ID 并写入上下文. 客户端提供的 ID 会被保留.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = generateRequestID()
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), id)))
		})
	}
}

// SecurityHeaders 添加常用安全响应头
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Content-Security-Policy", "default-src 'none'")
			next.ServeHTTP(w, r)
		})
	}
}

func generateRequestID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return "req-" + hex.EncodeToString(b)
}
