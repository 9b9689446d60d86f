package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/BaSui01/chatrelay/api"
	"github.com/BaSui01/chatrelay/relay"
	"github.com/coder/websocket"
)

// ErrTransportClosed 表示传输已关闭，客户端不再接收事件。
var ErrTransportClosed = errors.New("transport closed")

// =============================================================================
// 📡 SSE 传输
// =============================================================================

// SSETransport 将中继事件写成 text/event-stream。
// 写操作由互斥锁串行化；Close 之后的 Send 返回 ErrTransportClosed。
type SSETransport struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
	done    chan struct{}
}

// NewSSETransport 写出 SSE 响应头并创建传输。w 必须支持 http.Flusher。
func NewSSETransport(w http.ResponseWriter) (*SSETransport, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSETransport{w: w, flusher: flusher, done: make(chan struct{})}, nil
}

// Send 实现 relay.Transport。
func (t *SSETransport) Send(ev relay.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Name, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	if _, err := fmt.Fprintf(t.w, "event: %s\ndata: %s\n\n", ev.Name, data); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

// Heartbeat 写出一行注释以保持连接。
func (t *SSETransport) Heartbeat() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	if _, err := fmt.Fprint(t.w, ": keep-alive\n\n"); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

// Close 实现 relay.Transport。处理函数在 Done 关闭后返回，从而结束响应。
func (t *SSETransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	return nil
}

// Done 在传输关闭后关闭。
func (t *SSETransport) Done() <-chan struct{} { return t.done }

// =============================================================================
// 🔌 WebSocket 传输
// =============================================================================

// WSTransport 将中继事件以 JSON 帧 {event, data} 写到 WebSocket。
type WSTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewWSTransport 包装已建立的 WebSocket 连接。
func NewWSTransport(conn *websocket.Conn, writeTimeout time.Duration) *WSTransport {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WSTransport{conn: conn, writeTimeout: writeTimeout, done: make(chan struct{})}
}

// Send 实现 relay.Transport。
func (t *WSTransport) Send(ev relay.Event) error {
	data, err := json.Marshal(api.WSEnvelope{Event: ev.Name, Data: ev.Data})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Name, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.writeTimeout)
	defer cancel()
	if err := t.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close 实现 relay.Transport。
func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()

	return t.conn.Close(websocket.StatusNormalClosure, "closing")
}

// Done 在传输关闭后关闭。
func (t *WSTransport) Done() <-chan struct{} { return t.done }

var (
	_ relay.Transport = (*SSETransport)(nil)
	_ relay.Transport = (*WSTransport)(nil)
)
