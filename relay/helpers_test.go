package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/llm/factory"
	"github.com/BaSui01/chatrelay/llm/providers"
	"github.com/BaSui01/chatrelay/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errTransportClosed = errors.New("transport closed")

// recordingTransport 记录收到的事件.
type recordingTransport struct {
	mu      sync.Mutex
	events  []Event
	closed  bool
	sendErr error
}

func (t *recordingTransport) Send(ev Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errTransportClosed
	}
	if t.sendErr != nil {
		return t.sendErr
	}
	t.events = append(t.events, ev)
	return nil
}

func (t *recordingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *recordingTransport) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Event(nil), t.events...)
}

func (t *recordingTransport) Names() []string {
	var names []string
	for _, ev := range t.Events() {
		names = append(names, ev.Name)
	}
	return names
}

func (t *recordingTransport) Count(name string) int {
	n := 0
	for _, ev := range t.Events() {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func (t *recordingTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func waitEvent(t *testing.T, tr *recordingTransport, name string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return tr.Count(name) >= n },
		2*time.Second, 5*time.Millisecond, "waiting for %d %q events, got %v", n, name, tr.Names())
}

// fakeCatalog 是内存模型目录.
type fakeCatalog struct {
	models       map[string]llm.ModelDescriptor
	apps         map[string]App
	defaultModel string
}

func (c *fakeCatalog) GetModel(_ context.Context, id string) (llm.ModelDescriptor, bool) {
	m, ok := c.models[id]
	return m, ok
}

func (c *fakeCatalog) GetApp(_ context.Context, id string) (App, bool) {
	a, ok := c.apps[id]
	return a, ok
}

func (c *fakeCatalog) DefaultModel(context.Context) string { return c.defaultModel }

// recordingRecorder 记录交互类型.
type recordingRecorder struct {
	mu    sync.Mutex
	kinds []string
}

func (r *recordingRecorder) Record(_ context.Context, kind string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

func (r *recordingRecorder) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.kinds...)
}

// countingTransport 统计同时进行中的上游请求（从发出到响应体关闭）.
type countingTransport struct {
	base    http.RoundTripper
	active  atomic.Int32
	max     atomic.Int32
	started atomic.Int32
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	n := c.active.Add(1)
	c.started.Add(1)
	for {
		m := c.max.Load()
		if n <= m || c.max.CompareAndSwap(m, n) {
			break
		}
	}
	resp, err := c.base.RoundTrip(req)
	if err != nil {
		c.active.Add(-1)
		return nil, err
	}
	resp.Body = &countingBody{ReadCloser: resp.Body, done: func() { c.active.Add(-1) }}
	return resp, nil
}

type countingBody struct {
	io.ReadCloser
	once sync.Once
	done func()
}

func (b *countingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.done)
	return err
}

const (
	testApp   = "app-1"
	testModel = "gpt-x"
)

type harness struct {
	relay    *Relay
	upstream *httptest.Server
	client   *countingTransport
	recorder *recordingRecorder
	catalog  *fakeCatalog
	requests atomic.Int32
	bodies   chan []byte
}

// newHarness 启动假上游并创建指向它的 Relay. handler 收到的 n 从 1 开始.
func newHarness(t *testing.T, cfg Config, handler func(n int, w http.ResponseWriter, r *http.Request), opts ...Option) *harness {
	t.Helper()
	h := &harness{bodies: make(chan []byte, 16)}
	h.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(h.requests.Add(1))
		body, _ := io.ReadAll(r.Body)
		select {
		case h.bodies <- body:
		default:
		}
		handler(n, w, r)
	}))
	t.Cleanup(h.upstream.Close)

	h.catalog = &fakeCatalog{
		models: map[string]llm.ModelDescriptor{
			testModel: {
				ID:            testModel,
				Provider:      llm.ProviderLocal,
				URL:           h.upstream.URL + "/v1/chat/completions",
				TokenLimit:    4096,
				SupportsTools: true,
			},
			"other": {
				ID:       "other",
				Provider: llm.ProviderLocal,
				URL:      h.upstream.URL + "/v1/chat/completions",
			},
		},
		apps: map[string]App{
			testApp: {ID: testApp, Name: "test", SystemPrompt: "be brief"},
		},
		defaultModel: testModel,
	}

	registry := llm.NewRegistry(llm.WithLogger(zap.NewNop()))
	registry.Register(factory.NewLocalProvider(providers.LocalConfig{}))

	h.client = &countingTransport{base: http.DefaultTransport}
	h.recorder = &recordingRecorder{}
	all := append([]Option{
		WithHTTPClient(&http.Client{Transport: h.client}),
		WithRecorder(h.recorder),
		WithLogger(zap.NewNop()),
	}, opts...)

	r, err := New(registry, h.catalog, cfg, all...)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	h.relay = r
	return h
}

func (h *harness) turn(text string) Turn {
	return Turn{AppID: testApp, Messages: []types.Message{types.NewUserMessage(text)}}
}

// writeSSE 写出 OpenAI 格式的数据帧并刷新.
func writeSSE(w http.ResponseWriter, payloads ...string) {
	for _, p := range payloads {
		fmt.Fprintf(w, "data: %s\n\n", p)
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func textChunk(s string) string {
	return fmt.Sprintf(`{"choices":[{"index":0,"delta":{"content":%q}}]}`, s)
}

const finishChunk = `{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`

func streamReply(w http.ResponseWriter, parts ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for _, p := range parts {
		writeSSE(w, textChunk(p))
	}
	writeSSE(w, finishChunk, "[DONE]")
}

// blockUntilGone 写出响应头后阻塞，直到客户端断开.
func blockUntilGone(w http.ResponseWriter, r *http.Request, first ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for _, p := range first {
		writeSSE(w, textChunk(p))
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
}
