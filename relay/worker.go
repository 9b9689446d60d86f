package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/llm/providers"
	"github.com/BaSui01/chatrelay/llm/streaming"
	"github.com/BaSui01/chatrelay/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var errNoTransport = errors.New("no transport registered")

// run 是一次流式轮次的工作协程. 它拥有 req，退出时释放在途槽位.
func (r *Relay) run(req *CancellableRequest, prev *CancellableRequest, p *prepared) {
	start := time.Now()
	ctx, span := r.tracer.Start(req.Context(), "relay.turn",
		trace.WithAttributes(
			attribute.String("chat.id", req.ChatID),
			attribute.String("app.id", p.app.ID),
			attribute.String("llm.provider", string(p.model.Provider)),
			attribute.String("llm.model", p.model.ID),
		))
	logger := r.logger.With(zap.String("chat_id", req.ChatID), zap.String("request_id", req.ID))

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("relay worker panic", zap.Any("panic", rec), zap.Stack("stack"))
			r.fail(req, p, fmt.Errorf("internal error: %v", rec), start)
		}
		span.End()
		r.sessions.EndRequest(req.ChatID, req)
		req.finish()
		r.metrics.AddInFlight(-1)
	}()

	if err := waitPrevious(ctx, prev); err != nil {
		r.abort(req, p, err, start)
		return
	}

	if !r.emit(req, Event{Name: EventProcessing, Data: ProcessingData{}}) {
		r.abort(req, p, context.Cause(ctx), start)
		return
	}

	release, err := r.acquire(ctx, p)
	if err != nil {
		r.abort(req, p, err, start)
		return
	}
	defer release()

	resp, err := r.send(ctx, p)
	if err != nil {
		span.RecordError(err)
		r.abort(req, p, err, start)
		return
	}
	defer resp.Body.Close()

	decoder, err := r.registry.NewStreamDecoder(p.model.Provider)
	if err != nil {
		r.fail(req, p, err, start)
		return
	}

	normalizer := streaming.NewNormalizer(p.model.Provider, decoder, logger)
	firstChunk := true
	for ev := range normalizer.Run(ctx, resp.Body) {
		switch e := ev.(type) {
		case llm.TextDelta:
			if firstChunk {
				firstChunk = false
				r.metrics.RecordFirstChunk(string(p.model.Provider), p.model.ID, time.Since(start))
			}
			if !r.emit(req, chunkEvent(e.Text)) {
				return
			}
		case llm.ToolCallDelta:
			logger.Debug("tool call delta",
				zap.Int("index", e.Index),
				zap.String("name", e.Name),
				zap.Int("fragment_bytes", len(e.ArgumentsDelta)))
		case llm.Complete:
			r.done(req, p, e, start)
			return
		case llm.ProviderError:
			span.SetStatus(codes.Error, "provider error")
			r.fail(req, p, e.Err, start)
			return
		}
	}

	// 通道在没有终止事件的情况下关闭：请求被取消
	r.abort(req, p, context.Cause(ctx), start)
}

// acquire 获取模型的并发槽位并记录等待与拒绝.
func (r *Relay) acquire(ctx context.Context, p *prepared) (func(), error) {
	waitStart := time.Now()
	release, err := r.throttle.Acquire(ctx, p.model.ID)
	if err != nil {
		if types.GetErrorCode(err) == types.ErrModelBusy {
			r.metrics.RecordThrottleRejection(p.model.ID)
		}
		return nil, err
	}
	r.metrics.RecordThrottleWait(p.model.ID, time.Since(waitStart))
	return release, nil
}

// send 发出上游请求. 非 2xx 响应读取错误体后转换为 *llm.APIError.
func (r *Relay) send(ctx context.Context, p *prepared) (*http.Response, error) {
	httpReq, err := p.request.HTTPRequest(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, providers.NewAPIError(p.model.Provider, resp.StatusCode, body)
	}
	return resp, nil
}

// emit 向当前传输投递事件. 传输在发送时查找，以便重连后的新传输接收后续事件.
// 返回 false 表示请求已被静默或客户端已离开.
func (r *Relay) emit(req *CancellableRequest, ev Event) bool {
	err := req.deliver(func() error {
		t, ok := r.sessions.Transport(req.ChatID)
		if !ok {
			return errNoTransport
		}
		return t.Send(ev)
	})
	switch {
	case err == nil:
		r.sessions.Touch(req.ChatID)
		r.metrics.RecordStreamEvent(ev.Name)
		return true
	case errors.Is(err, errSilenced):
		return false
	default:
		r.logger.Debug("event delivery failed, cancelling request",
			zap.String("chat_id", req.ChatID),
			zap.String("event", ev.Name),
			zap.Error(err))
		req.Cancel(ErrClientGone)
		return false
	}
}

func (r *Relay) done(req *CancellableRequest, p *prepared, c llm.Complete, start time.Time) {
	duration := time.Since(start)
	if !r.emit(req, Event{Name: EventDone, Data: DoneData{FinishReason: c.FinishReason, ToolCalls: c.ToolCalls}}) {
		r.metrics.RecordTurn(string(p.model.Provider), p.model.ID, "stream", outcome(req, llm.Classification{}), duration)
		return
	}
	r.metrics.RecordTurn(string(p.model.Provider), p.model.ID, "stream", "complete", duration)
	if c.Usage != nil {
		r.metrics.RecordTokens(string(p.model.Provider), p.model.ID, c.Usage.PromptTokens, c.Usage.CompletionTokens)
	}

	payload := p.payload(req.ChatID)
	payload["duration_ms"] = duration.Milliseconds()
	payload["finish_reason"] = c.FinishReason
	payload["tool_calls"] = len(c.ToolCalls)
	if c.Usage != nil {
		payload["completion_tokens"] = c.Usage.CompletionTokens
	}
	r.recorder.Record(context.Background(), RecordChatResponse, payload)
}

// abort 处理没有正常结束的轮次. 截止时间到期发送一次 TimeoutError，
// stop / 替换 / 断开则不发送任何事件.
func (r *Relay) abort(req *CancellableRequest, p *prepared, err error, start time.Time) {
	cause := req.Cause()
	switch {
	case cause == nil:
		if err == nil {
			err = llm.ErrUnexpectedEOF
		}
		r.fail(req, p, err, start)
	case isSilentCause(cause):
		r.metrics.RecordTurn(string(p.model.Provider), p.model.ID, "stream", outcome(req, llm.Classification{}), time.Since(start))
		r.logger.Debug("turn cancelled",
			zap.String("chat_id", req.ChatID),
			zap.String("request_id", req.ID),
			zap.NamedError("cause", cause))
	default:
		r.fail(req, p, cause, start)
	}
}

// fail 分类错误并发送终止 error 事件.
func (r *Relay) fail(req *CancellableRequest, p *prepared, err error, start time.Time) {
	c := llm.Classify(err)
	duration := time.Since(start)
	r.metrics.RecordTurn(string(p.model.Provider), p.model.ID, "stream", outcome(req, c), duration)
	r.metrics.RecordError(string(c.Kind), c.Code)
	r.logger.Warn("turn failed",
		zap.String("chat_id", req.ChatID),
		zap.String("request_id", req.ID),
		zap.String("kind", string(c.Kind)),
		zap.String("code", c.Code),
		zap.Error(err))

	r.emit(req, Event{Name: EventError, Data: ErrorData{
		Message:        c.Message,
		Code:           c.Code,
		Kind:           string(c.Kind),
		Recommendation: c.Recommendation,
	}})
	r.recordError(context.Background(), req.ChatID, p, c, duration)
}
