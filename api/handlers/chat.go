package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/BaSui01/chatrelay/api"
	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/relay"
	"github.com/BaSui01/chatrelay/types"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// maxIDLength 是 appId / chatId 的长度上限。
const maxIDLength = 128

// =============================================================================
// 💬 聊天处理器
// =============================================================================

// ChatHandler 将聊天路由连接到中继。
type ChatHandler struct {
	relay     *relay.Relay
	logger    *zap.Logger
	heartbeat time.Duration
	wsOrigins []string
	wsWrite   time.Duration
}

// ChatOption 配置 ChatHandler。
type ChatOption func(*ChatHandler)

// WithHeartbeat 覆盖 SSE 保活间隔，默认取中继配置。
func WithHeartbeat(d time.Duration) ChatOption {
	return func(h *ChatHandler) { h.heartbeat = d }
}

// WithWebSocketOrigins 设置允许跨域发起 WebSocket 的 Origin 模式。
func WithWebSocketOrigins(patterns ...string) ChatOption {
	return func(h *ChatHandler) { h.wsOrigins = patterns }
}

// WithWebSocketWriteTimeout 设置单帧写超时。
func WithWebSocketWriteTimeout(d time.Duration) ChatOption {
	return func(h *ChatHandler) { h.wsWrite = d }
}

// NewChatHandler 创建聊天处理器
func NewChatHandler(r *relay.Relay, logger *zap.Logger, opts ...ChatOption) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &ChatHandler{
		relay:     r,
		logger:    logger.With(zap.String("component", "chat_handler")),
		heartbeat: r.Config().HeartbeatInterval,
		wsWrite:   10 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register 在 mux 上注册聊天路由。
func (h *ChatHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/apps/{appId}/chat/{chatId}", h.HandleStream)
	mux.HandleFunc("POST /api/apps/{appId}/chat/{chatId}", h.HandleTurn)
	mux.HandleFunc("POST /api/apps/{appId}/chat/{chatId}/stop", h.HandleStop)
	mux.HandleFunc("GET /api/apps/{appId}/chat/{chatId}/status", h.HandleStatus)
	mux.HandleFunc("GET /api/apps/{appId}/chat/{chatId}/ws", h.HandleWebSocket)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleStream 处理 SSE 连接
// @Summary 订阅聊天事件流
// @Description 首个事件为 connected，之后推送 processing / chunk / done / error / stopped
// @Tags 聊天
// @Produce text/event-stream
// @Param appId path string true "应用 ID"
// @Param chatId path string true "会话 ID"
// @Router /api/apps/{appId}/chat/{chatId} [get]
func (h *ChatHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	appID, chatID, ok := h.pathIDs(w, r)
	if !ok {
		return
	}

	t, err := NewSSETransport(w)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, err.Error(), h.logger)
		return
	}
	if err := h.relay.RegisterSession(chatID, appID, t); err != nil {
		h.logger.Debug("register SSE session failed", zap.String("chat_id", chatID), zap.Error(err))
		_ = t.Close()
		return
	}

	var tick <-chan time.Time
	if h.heartbeat > 0 {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-t.Done():
			// Stop、空闲清理或进程退出关闭了传输
			return
		case <-r.Context().Done():
			h.relay.UnregisterOnDisconnect(chatID, t)
			_ = t.Close()
			return
		case <-tick:
			if err := t.Heartbeat(); err != nil {
				h.relay.UnregisterOnDisconnect(chatID, t)
				_ = t.Close()
				return
			}
		}
	}
}

// HandleWebSocket 处理 WebSocket 连接
// @Summary 以 WebSocket 订阅聊天事件
// @Description 帧格式为 {"event": ..., "data": ...}；客户端发送 {"type":"stop"} 停止生成
// @Tags 聊天
// @Param appId path string true "应用 ID"
// @Param chatId path string true "会话 ID"
// @Router /api/apps/{appId}/chat/{chatId}/ws [get]
func (h *ChatHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	appID, chatID, ok := h.pathIDs(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.wsOrigins})
	if err != nil {
		// Accept 已写出错误响应
		h.logger.Debug("websocket accept failed", zap.String("chat_id", chatID), zap.Error(err))
		return
	}

	t := NewWSTransport(conn, h.wsWrite)
	if err := h.relay.RegisterSession(chatID, appID, t); err != nil {
		h.logger.Debug("register websocket session failed", zap.String("chat_id", chatID), zap.Error(err))
		_ = t.Close()
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	if h.heartbeat > 0 {
		go h.pingLoop(ctx, conn, t)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			h.relay.UnregisterOnDisconnect(chatID, t)
			_ = t.Close()
			return
		}

		var msg api.WSClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("ignoring malformed websocket message", zap.String("chat_id", chatID), zap.Error(err))
			continue
		}
		if msg.Type == api.WSMessageStop {
			if err := h.relay.Stop(chatID); err != nil {
				h.logger.Debug("websocket stop failed", zap.String("chat_id", chatID), zap.Error(err))
				_ = t.Close()
			}
			return
		}
	}
}

// pingLoop 周期性发送 ping，失败时关闭传输。
func (h *ChatHandler) pingLoop(ctx context.Context, conn *websocket.Conn, t *WSTransport) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, h.heartbeat)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				_ = t.Close()
				return
			}
		}
	}
}

// HandleTurn 处理轮次提交
// @Summary 提交一个聊天轮次
// @Description 有已连接的流时立即返回 {status:"streaming"}，否则同步返回完整补全
// @Tags 聊天
// @Accept json
// @Produce json
// @Param appId path string true "应用 ID"
// @Param chatId path string true "会话 ID"
// @Param request body api.ChatTurnRequest true "轮次请求"
// @Success 200 {object} api.CompletionResponse "同步补全；已派发到流时为 api.StreamingResponse"
// @Failure 400 {object} Response "请求无效或配置错误"
// @Failure 403 {object} Response "模型不允许使用"
// @Failure 404 {object} Response "应用或模型不存在"
// @Failure 502 {object} Response "上游错误"
// @Failure 504 {object} Response "上游超时"
// @Router /api/apps/{appId}/chat/{chatId} [post]
func (h *ChatHandler) HandleTurn(w http.ResponseWriter, r *http.Request) {
	appID, chatID, ok := h.pathIDs(w, r)
	if !ok {
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.ChatTurnRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := req.Validate(); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, err.Error(), h.logger)
		return
	}
	choice, err := api.ParseToolChoice(req.ToolChoice)
	if err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, err.Error(), h.logger)
		return
	}

	turn := relay.Turn{
		AppID:       appID,
		Messages:    req.Messages,
		ModelID:     req.ModelID,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       req.Tools,
		ToolChoice:  choice,
		User:        userFromContext(r.Context()),
	}

	if h.relay.HasSession(chatID) {
		err := h.relay.DispatchTurn(r.Context(), chatID, turn)
		if err == nil {
			WriteJSON(w, http.StatusOK, api.StreamingResponse{Status: "streaming", ChatID: chatID})
			return
		}
		// 会话在检查之后断开时退回同步补全
		if types.GetErrorCode(err) != types.ErrNoActiveSession {
			WriteClassifiedError(w, err, h.logger)
			return
		}
	}

	completion, err := h.relay.Complete(r.Context(), chatID, turn)
	if err != nil {
		if errors.Is(r.Context().Err(), context.Canceled) {
			// 客户端已离开
			return
		}
		WriteClassifiedError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, completionResponse(chatID, completion))
}

// HandleStop 处理停止请求
// @Summary 停止生成
// @Tags 聊天
// @Produce json
// @Param appId path string true "应用 ID"
// @Param chatId path string true "会话 ID"
// @Success 200 {object} api.StopResponse "已停止"
// @Failure 404 {object} Response "会话不存在"
// @Router /api/apps/{appId}/chat/{chatId}/stop [post]
func (h *ChatHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	_, chatID, ok := h.pathIDs(w, r)
	if !ok {
		return
	}
	if err := h.relay.Stop(chatID); err != nil {
		WriteClassifiedError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, api.StopResponse{Success: true})
}

// HandleStatus 处理状态查询
// @Summary 查询会话状态
// @Tags 聊天
// @Produce json
// @Param appId path string true "应用 ID"
// @Param chatId path string true "会话 ID"
// @Success 200 {object} api.StatusResponse "会话状态"
// @Router /api/apps/{appId}/chat/{chatId}/status [get]
func (h *ChatHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	_, chatID, ok := h.pathIDs(w, r)
	if !ok {
		return
	}
	s := h.relay.Status(chatID)
	resp := api.StatusResponse{Active: s.Active, Processing: s.Processing}
	if !s.LastActivity.IsZero() {
		last := s.LastActivity
		resp.LastActivity = &last
	}
	WriteJSON(w, http.StatusOK, resp)
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func (h *ChatHandler) pathIDs(w http.ResponseWriter, r *http.Request) (appID, chatID string, ok bool) {
	appID, chatID = r.PathValue("appId"), r.PathValue("chatId")
	if appID == "" || chatID == "" || len(appID) > maxIDLength || len(chatID) > maxIDLength {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "invalid appId or chatId", h.logger)
		return "", "", false
	}
	return appID, chatID, true
}

// userFromContext 读取认证中间件写入的用户身份。
func userFromContext(ctx context.Context) relay.User {
	var u relay.User
	u.ID, _ = types.UserID(ctx)
	u.Roles, _ = types.Roles(ctx)
	return u
}

func completionResponse(chatID string, c *llm.Completion) api.CompletionResponse {
	resp := api.CompletionResponse{
		ChatID:       chatID,
		Model:        c.Model,
		Content:      c.Content,
		ToolCalls:    c.ToolCalls,
		FinishReason: c.FinishReason,
	}
	if c.Usage != nil {
		resp.Usage = &api.Usage{
			PromptTokens:     c.Usage.PromptTokens,
			CompletionTokens: c.Usage.CompletionTokens,
			TotalTokens:      c.Usage.TotalTokens,
		}
	}
	return resp
}
