// 目录文件变更监听器实现。
//
// 轮询文件的修改时间与大小，防抖后触发重载回调。
package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 文件监听器类型定义 ---

// FileWatcher 轮询一组文件，在其变更时回调.
type FileWatcher struct {
	mu sync.RWMutex

	// 配置
	paths         []string
	pollInterval  time.Duration
	debounceDelay time.Duration

	// 状态
	running   bool
	stopChan  chan struct{}
	eventChan chan FileEvent

	// 回调
	callbacks []func(event FileEvent)

	logger *zap.Logger

	// 上次观察到的文件状态
	states map[string]fileState
}

type fileState struct {
	modTime time.Time
	size    int64
}

// FileEvent 是一次文件变更
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// FileOp 是文件变更类型
type FileOp int

const (
	// FileOpCreate 表示文件出现
	FileOpCreate FileOp = iota
	// FileOpWrite 表示文件内容变化
	FileOpWrite
	// FileOpRemove 表示文件被删除
	FileOpRemove
)

// String 返回 FileOp 的名称
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// --- 文件监听器选项 ---

// WatcherOption 配置 FileWatcher
type WatcherOption func(*FileWatcher)

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithDebounceDelay 设置防抖延迟
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.debounceDelay = d
	}
}

// WithWatcherLogger 设置日志记录器
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// --- 文件监听器实现 ---

// NewFileWatcher 创建文件监听器. 不存在的路径会被监听其创建.
func NewFileWatcher(paths []string, opts ...WatcherOption) (*FileWatcher, error) {
	w := &FileWatcher{
		paths:         append([]string(nil), paths...),
		pollInterval:  time.Second,
		debounceDelay: 100 * time.Millisecond,
		stopChan:      make(chan struct{}),
		eventChan:     make(chan FileEvent, 16),
		states:        make(map[string]fileState),
		logger:        zap.NewNop(),
	}

	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "file_watcher"))

	for _, path := range w.paths {
		if _, err := os.Stat(path); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to stat path %s: %w", path, err)
			}
			w.logger.Warn("watched file does not exist, will watch for creation",
				zap.String("path", path))
		}
	}

	return w, nil
}

// OnChange 注册变更回调. 回调在监听器的协程中串行执行.
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start 开始监听，直到 ctx 结束或调用 Stop.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	for _, path := range w.paths {
		if info, err := os.Stat(path); err == nil {
			w.states[path] = fileState{modTime: info.ModTime(), size: info.Size()}
		}
	}
	w.mu.Unlock()

	go w.pollLoop(ctx)
	go w.dispatchLoop(ctx)

	w.logger.Info("file watcher started",
		zap.Strings("paths", w.paths),
		zap.Duration("poll_interval", w.pollInterval))
	return nil
}

// Stop 停止监听. 重复调用无副作用.
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	close(w.stopChan)
	w.running = false

	w.logger.Info("file watcher stopped")
	return nil
}

func (w *FileWatcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			for _, evt := range w.checkFiles() {
				select {
				case w.eventChan <- evt:
				case <-ctx.Done():
					return
				case <-w.stopChan:
					return
				}
			}
		}
	}
}

// checkFiles 对比文件状态并返回变更事件.
func (w *FileWatcher) checkFiles() []FileEvent {
	w.mu.Lock()
	defer w.mu.Unlock()

	var events []FileEvent
	now := time.Now()
	for _, path := range w.paths {
		prev, existed := w.states[path]
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) && existed {
				delete(w.states, path)
				events = append(events, FileEvent{Path: path, Op: FileOpRemove, Timestamp: now})
			}
			continue
		}

		cur := fileState{modTime: info.ModTime(), size: info.Size()}
		switch {
		case !existed:
			events = append(events, FileEvent{Path: path, Op: FileOpCreate, Timestamp: now})
		case !cur.modTime.Equal(prev.modTime) || cur.size != prev.size:
			events = append(events, FileEvent{Path: path, Op: FileOpWrite, Timestamp: now})
		default:
			continue
		}
		w.states[path] = cur
	}
	return events
}

// dispatchLoop 合并同一路径的事件，在防抖窗口结束后回调.
// 待处理事件只在本协程中访问.
func (w *FileWatcher) dispatchLoop(ctx context.Context) {
	pending := make(map[string]FileEvent)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case evt := <-w.eventChan:
			pending[evt.Path] = evt
			timer.Reset(w.debounceDelay)
		case <-timer.C:
			w.mu.RLock()
			callbacks := append([]func(FileEvent){}, w.callbacks...)
			w.mu.RUnlock()

			for path, evt := range pending {
				w.logger.Debug("dispatching file event",
					zap.String("path", path),
					zap.String("op", evt.Op.String()))
				for _, cb := range callbacks {
					cb(evt)
				}
			}
			pending = make(map[string]FileEvent)
		}
	}
}

// Paths 返回监听的路径
func (w *FileWatcher) Paths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.paths...)
}

// IsRunning 报告监听器是否在运行
func (w *FileWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
