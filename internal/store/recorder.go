package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/chatrelay/internal/metrics"
	"github.com/BaSui01/chatrelay/relay"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultQueueSize = 1024
	maxBatchSize     = 64
)

// RecorderOption 配置 Recorder
type RecorderOption func(*Recorder)

// WithRecorderMetrics 设置指标收集器
func WithRecorderMetrics(m *metrics.Collector) RecorderOption {
	return func(r *Recorder) { r.metrics = m }
}

// WithRecorderLogger 设置日志记录器
func WithRecorderLogger(logger *zap.Logger) RecorderOption {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Recorder 将交互日志异步写入 interaction_logs 表.
// Record 从不阻塞：队列已满时记录被丢弃.
type Recorder struct {
	db      *gorm.DB
	queue   chan InteractionLog
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewRecorder 创建并启动异步写入协程
func NewRecorder(db *gorm.DB, queueSize int, opts ...RecorderOption) *Recorder {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	r := &Recorder{
		db:     db,
		queue:  make(chan InteractionLog, queueSize),
		logger: zap.NewNop(),
		now:    time.Now,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "interaction_recorder"))

	go r.loop()
	return r
}

// Record 实现 relay.InteractionRecorder
func (r *Recorder) Record(_ context.Context, kind string, payload map[string]any) {
	entry, err := r.entry(kind, payload)
	if err != nil {
		r.logger.Warn("encode interaction payload failed", zap.String("kind", kind), zap.Error(err))
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- entry:
	default:
		r.metrics.RecordInteractionDropped(kind)
		r.logger.Warn("interaction queue full, dropping record",
			zap.String("kind", kind),
			zap.String("chat_id", entry.ChatID))
	}
}

func (r *Recorder) entry(kind string, payload map[string]any) (InteractionLog, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return InteractionLog{}, err
	}
	return InteractionLog{
		Kind:      kind,
		ChatID:    stringField(payload, "chat_id"),
		AppID:     stringField(payload, "app_id"),
		ModelID:   stringField(payload, "model_id"),
		UserID:    stringField(payload, "user_id"),
		Payload:   string(data),
		CreatedAt: r.now(),
	}, nil
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

// loop 批量写入，队列关闭后写完剩余记录退出
func (r *Recorder) loop() {
	defer close(r.done)

	batch := make([]InteractionLog, 0, maxBatchSize)
	for entry := range r.queue {
		batch = append(batch[:0], entry)
	drain:
		for len(batch) < maxBatchSize {
			select {
			case next, ok := <-r.queue:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		r.flush(batch)
	}
}

func (r *Recorder) flush(batch []InteractionLog) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.db.WithContext(ctx).CreateInBatches(batch, maxBatchSize).Error; err != nil {
		r.logger.Error("write interaction logs failed", zap.Int("count", len(batch)), zap.Error(err))
		return
	}
	r.metrics.RecordDBQuery("interaction_logs", "insert", time.Since(start))
}

// Close 停止接收新记录，等待队列写完或 ctx 结束
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("interaction recorder flush: %w", ctx.Err())
	}
}

var _ relay.InteractionRecorder = (*Recorder)(nil)
