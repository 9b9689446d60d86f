package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BaSui01/chatrelay/internal/metrics"
	"github.com/BaSui01/chatrelay/internal/tlsutil"
	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/llm/throttle"
	"github.com/BaSui01/chatrelay/llm/tokenizer"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// maxErrorBody 是读取提供商错误响应体的上限.
	maxErrorBody = 64 << 10
	// maxCompletionBody 是非流式响应体的上限.
	maxCompletionBody = 16 << 20
)

// Config 是中继的运行参数.
type Config struct {
	// RequestTimeout 是单次上游请求的挂钟截止时间.
	RequestTimeout time.Duration
	// HeartbeatInterval 是传输层保活间隔，由 SSE 传输使用.
	HeartbeatInterval time.Duration
	// SessionIdleTimeout 之后无在途请求的会话会被清理，0 表示不清理.
	SessionIdleTimeout time.Duration
	// SweepInterval 是空闲清理的轮询间隔.
	SweepInterval time.Duration
}

// DefaultConfig 返回默认配置.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:     60 * time.Second,
		HeartbeatInterval:  15 * time.Second,
		SessionIdleTimeout: 30 * time.Minute,
		SweepInterval:      time.Minute,
	}
}

// Option 配置 Relay.
type Option func(*Relay)

// WithKeyResolver 设置 API Key 解析器.
func WithKeyResolver(k KeyResolver) Option {
	return func(r *Relay) { r.keys = k }
}

// WithPermissionChecker 设置模型权限检查.
func WithPermissionChecker(p PermissionChecker) Option {
	return func(r *Relay) { r.perms = p }
}

// WithRecorder 设置交互记录器.
func WithRecorder(rec InteractionRecorder) Option {
	return func(r *Relay) { r.recorder = rec }
}

// WithThrottler 设置按模型的并发限制器.
func WithThrottler(t *throttle.Throttler) Option {
	return func(r *Relay) { r.throttle = t }
}

// WithHTTPClient 设置访问提供商的 HTTP 客户端.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Relay) { r.client = c }
}

// WithMetrics 设置指标收集器.
func WithMetrics(m *metrics.Collector) Option {
	return func(r *Relay) { r.metrics = m }
}

// WithTokenizer 设置 token 计数器缓存.
func WithTokenizer(t *tokenizer.Registry) Option {
	return func(r *Relay) { r.tokens = t }
}

// WithSessionRegistry 设置会话注册表.
func WithSessionRegistry(s *SessionRegistry) Option {
	return func(r *Relay) { r.sessions = s }
}

// WithLogger 设置日志记录器.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Relay 将聊天会话与上游模型请求连接起来.
// 每个 chatId 同一时刻最多一个在途请求；新的轮次取消并替换旧请求.
type Relay struct {
	cfg      Config
	registry *llm.Registry
	catalog  ModelCatalog
	keys     KeyResolver
	perms    PermissionChecker
	recorder InteractionRecorder
	throttle *throttle.Throttler
	tokens   *tokenizer.Registry
	sessions *SessionRegistry
	client   *http.Client
	metrics  *metrics.Collector
	tracer   trace.Tracer
	logger   *zap.Logger
}

// New 创建中继. registry 与 catalog 必填.
func New(registry *llm.Registry, catalog ModelCatalog, cfg Config, opts ...Option) (*Relay, error) {
	if registry == nil {
		return nil, errors.New("relay: provider registry is required")
	}
	if catalog == nil {
		return nil, errors.New("relay: model catalog is required")
	}
	def := DefaultConfig()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}

	r := &Relay{
		cfg:      cfg,
		registry: registry,
		catalog:  catalog,
		keys:     KeyResolverFunc(func(context.Context, llm.ModelDescriptor) (string, error) { return "", nil }),
		perms:    AllowAll{},
		recorder: NopRecorder{},
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("github.com/BaSui01/chatrelay/relay"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "relay"))
	if r.throttle == nil {
		r.throttle = throttle.New(throttle.DefaultConfig(), r.logger)
	}
	if r.tokens == nil {
		r.tokens = tokenizer.NewRegistry(r.logger)
	}
	if r.sessions == nil {
		r.sessions = NewSessionRegistry()
	}
	if r.client == nil {
		// 流式响应不能设置整体超时，截止时间由请求 ctx 控制
		r.client = tlsutil.SecureHTTPClient(0)
	}
	return r, nil
}

// Config 返回生效的配置.
func (r *Relay) Config() Config { return r.cfg }

// Sessions 返回会话注册表.
func (r *Relay) Sessions() *SessionRegistry { return r.sessions }

// RegisterSession 为 chatID 绑定传输. 后注册者生效，旧传输不会被关闭.
// 首个事件为 connected{chatId}.
func (r *Relay) RegisterSession(chatID, appID string, t Transport) error {
	if prev := r.sessions.Register(chatID, appID, t); prev != nil && prev != t {
		r.logger.Info("session transport replaced", zap.String("chat_id", chatID))
	}
	r.metrics.SetActiveSessions(r.sessions.Len())

	if err := t.Send(connectedEvent(chatID)); err != nil {
		r.UnregisterOnDisconnect(chatID, t)
		return fmt.Errorf("send connected event: %w", err)
	}
	r.metrics.RecordStreamEvent(EventConnected)
	r.logger.Debug("session registered", zap.String("chat_id", chatID), zap.String("app_id", appID))
	return nil
}

// HasSession 报告 chatID 是否有已注册的传输.
func (r *Relay) HasSession(chatID string) bool {
	_, ok := r.sessions.Transport(chatID)
	return ok
}

// Status 返回 chatID 的状态.
func (r *Relay) Status(chatID string) SessionStatus {
	return r.sessions.Status(chatID)
}

// DispatchTurn 为已连接的会话发起流式轮次，并立即返回.
// 配置类错误同步返回；之后的结果都以事件形式推送到传输.
func (r *Relay) DispatchTurn(ctx context.Context, chatID string, turn Turn) error {
	if !r.HasSession(chatID) {
		return noActiveSession(chatID)
	}

	p, err := r.prepare(ctx, turn, true)
	if err != nil {
		r.recordFailure(ctx, chatID, turn, err)
		return err
	}

	req := newCancellableRequest(context.WithoutCancel(ctx), chatID, r.cfg.RequestTimeout)
	prev, ok := r.sessions.BeginTurn(chatID, req)
	if !ok {
		req.finish()
		return noActiveSession(chatID)
	}
	if prev != nil {
		prev.Cancel(ErrSuperseded)
		r.logger.Debug("in-flight request superseded",
			zap.String("chat_id", chatID),
			zap.String("request_id", prev.ID))
	}

	r.metrics.AddInFlight(1)
	r.recorder.Record(ctx, RecordChatRequest, p.payload(chatID))
	r.logger.Info("turn dispatched",
		append(p.request.LogFields(),
			zap.String("chat_id", chatID),
			zap.String("request_id", req.ID))...)

	go r.run(req, prev, p)
	return nil
}

// Stop 取消 chatID 的在途请求，发送一次 stopped 事件，关闭并移除会话.
func (r *Relay) Stop(chatID string) error {
	s, req := r.sessions.Take(chatID)
	if s == nil && req == nil {
		return sessionNotFound(chatID)
	}
	if req != nil {
		// Cancel 返回后该请求不会再投递任何事件
		req.Cancel(ErrStopped)
	}
	if s != nil {
		if err := s.Transport.Send(stoppedEvent()); err != nil {
			r.logger.Debug("send stopped event failed", zap.String("chat_id", chatID), zap.Error(err))
		} else {
			r.metrics.RecordStreamEvent(EventStopped)
		}
		_ = s.Transport.Close()
		r.metrics.SetActiveSessions(r.sessions.Len())
	}

	r.recorder.Record(context.Background(), RecordChatStopped, map[string]any{
		"chat_id":     chatID,
		"had_request": req != nil,
	})
	r.logger.Info("chat stopped", zap.String("chat_id", chatID), zap.Bool("had_request", req != nil))
	return nil
}

// UnregisterOnDisconnect 在客户端断开时清理会话并取消在途请求.
// 若 t 已不是 chatID 当前的传输（已被重连替换），则不做任何事.
func (r *Relay) UnregisterOnDisconnect(chatID string, t Transport) {
	_, req, ok := r.sessions.Unregister(chatID, t)
	if !ok {
		return
	}
	if req != nil {
		req.Cancel(ErrClientGone)
	}
	r.metrics.SetActiveSessions(r.sessions.Len())
	r.logger.Debug("session unregistered", zap.String("chat_id", chatID), zap.Bool("had_request", req != nil))
}

// Complete 同步执行一次非流式轮次. 与流式轮次共享每个 chatId 的在途槽位.
func (r *Relay) Complete(ctx context.Context, chatID string, turn Turn) (*llm.Completion, error) {
	p, err := r.prepare(ctx, turn, false)
	if err != nil {
		r.recordFailure(ctx, chatID, turn, err)
		return nil, err
	}

	req := newCancellableRequest(ctx, chatID, r.cfg.RequestTimeout)
	prev := r.sessions.BeginRequest(chatID, req)
	if prev != nil {
		prev.Cancel(ErrSuperseded)
	}
	r.metrics.AddInFlight(1)
	defer func() {
		r.sessions.EndRequest(chatID, req)
		req.finish()
		r.metrics.AddInFlight(-1)
	}()

	r.recorder.Record(ctx, RecordChatRequest, p.payload(chatID))
	start := time.Now()

	completion, err := r.complete(req, prev, p)
	if err != nil {
		err = r.syncError(req, err)
		c := llm.Classify(err)
		r.metrics.RecordTurn(string(p.model.Provider), p.model.ID, "sync", outcome(req, c), time.Since(start))
		r.metrics.RecordError(string(c.Kind), c.Code)
		r.recordError(ctx, chatID, p, c, time.Since(start))
		return nil, c.ToError(err)
	}

	duration := time.Since(start)
	r.metrics.RecordTurn(string(p.model.Provider), p.model.ID, "sync", "complete", duration)
	if completion.Usage != nil {
		r.metrics.RecordTokens(string(p.model.Provider), p.model.ID, completion.Usage.PromptTokens, completion.Usage.CompletionTokens)
	}
	payload := p.payload(chatID)
	payload["duration_ms"] = duration.Milliseconds()
	payload["finish_reason"] = completion.FinishReason
	payload["tool_calls"] = len(completion.ToolCalls)
	r.recorder.Record(ctx, RecordChatResponse, payload)
	return completion, nil
}

func (r *Relay) complete(req *CancellableRequest, prev *CancellableRequest, p *prepared) (*llm.Completion, error) {
	ctx := req.Context()
	if err := waitPrevious(ctx, prev); err != nil {
		return nil, err
	}

	release, err := r.acquire(ctx, p)
	if err != nil {
		return nil, err
	}
	defer release()

	resp, err := r.send(ctx, p)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCompletionBody))
	if err != nil {
		return nil, fmt.Errorf("read completion body: %w", err)
	}
	return r.registry.ParseCompletion(p.model.Provider, body)
}

// syncError 把取消原因折算进同步调用的错误.
func (r *Relay) syncError(req *CancellableRequest, err error) error {
	cause := req.Cause()
	switch {
	case cause == nil:
		return err
	case errors.Is(cause, ErrRequestTimeout):
		return ErrRequestTimeout
	case isSilentCause(cause):
		return fmt.Errorf("%w: %w", context.Canceled, cause)
	default:
		return cause
	}
}

// Close 取消所有在途请求并关闭所有会话，用于进程退出.
func (r *Relay) Close() {
	sessions, reqs := r.sessions.TakeAll()
	for _, req := range reqs {
		req.Cancel(ErrClientGone)
	}
	for _, s := range sessions {
		_ = s.Transport.Close()
	}
	r.metrics.SetActiveSessions(0)
	r.logger.Info("relay closed", zap.Int("sessions", len(sessions)), zap.Int("requests", len(reqs)))
}

func waitPrevious(ctx context.Context, prev *CancellableRequest) error {
	if prev == nil {
		return nil
	}
	select {
	case <-prev.Done():
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (r *Relay) recordFailure(ctx context.Context, chatID string, turn Turn, err error) {
	c := llm.Classify(err)
	r.metrics.RecordError(string(c.Kind), c.Code)
	r.recorder.Record(ctx, RecordChatError, map[string]any{
		"app_id":   turn.AppID,
		"chat_id":  chatID,
		"model_id": turn.ModelID,
		"user_id":  turn.User.ID,
		"kind":     string(c.Kind),
		"code":     c.Code,
		"message":  c.Message,
	})
}

func (r *Relay) recordError(ctx context.Context, chatID string, p *prepared, c llm.Classification, d time.Duration) {
	payload := p.payload(chatID)
	payload["kind"] = string(c.Kind)
	payload["code"] = c.Code
	payload["message"] = c.Message
	payload["duration_ms"] = d.Milliseconds()
	r.recorder.Record(ctx, RecordChatError, payload)
}

// outcome 是 RecordTurn 的 outcome 标签.
func outcome(req *CancellableRequest, c llm.Classification) string {
	cause := req.Cause()
	switch {
	case errors.Is(cause, ErrStopped):
		return "stopped"
	case errors.Is(cause, ErrSuperseded):
		return "superseded"
	case errors.Is(cause, ErrClientGone):
		return "client_gone"
	case c.Kind == llm.KindTimeout:
		return "timeout"
	default:
		return "error"
	}
}
