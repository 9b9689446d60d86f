package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/chatrelay/config"
	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/relay"
	"github.com/BaSui01/chatrelay/types"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// AnonymousGroup 是未携带角色的调用方所属的分组.
const AnonymousGroup = "anonymous"

// =============================================================================
// 📒 目录文件格式
// =============================================================================

type fileFormat struct {
	DefaultModel string                `yaml:"default_model"`
	Models       []llm.ModelDescriptor `yaml:"models"`
	Apps         []appEntry            `yaml:"apps"`
	Groups       map[string][]string   `yaml:"groups"`
}

type appEntry struct {
	ID             string      `yaml:"id"`
	Name           string      `yaml:"name"`
	SystemPrompt   string      `yaml:"system_prompt"`
	PreferredModel string      `yaml:"preferred_model"`
	Temperature    *float64    `yaml:"temperature"`
	MaxTokens      int         `yaml:"max_tokens"`
	Tools          []toolEntry `yaml:"tools"`
}

type toolEntry struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters"`
	Special     bool           `yaml:"special"`
}

// =============================================================================
// 📸 快照
// =============================================================================

// Snapshot 是一次解析得到的目录内容，创建后只读.
type Snapshot struct {
	defaultModel string
	models       map[string]llm.ModelDescriptor
	apps         map[string]relay.App
	groups       map[string][]string
}

// Parse 解析并校验目录文件内容.
func Parse(data []byte) (*Snapshot, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	s := &Snapshot{
		models: make(map[string]llm.ModelDescriptor, len(f.Models)),
		apps:   make(map[string]relay.App, len(f.Apps)),
		groups: make(map[string][]string, len(f.Groups)),
	}

	var errs []error
	for i, m := range f.Models {
		if m.ID == "" {
			errs = append(errs, fmt.Errorf("models[%d]: id is required", i))
			continue
		}
		if _, dup := s.models[m.ID]; dup {
			errs = append(errs, fmt.Errorf("models[%d]: duplicate id %q", i, m.ID))
			continue
		}
		if m.TokenLimit < 0 {
			errs = append(errs, fmt.Errorf("model %q: token_limit must be >= 0", m.ID))
		}
		m.Provider = llm.ParseProviderID(string(m.Provider))
		if m.Default && s.defaultModel == "" {
			s.defaultModel = m.ID
		}
		s.models[m.ID] = m
	}

	if f.DefaultModel != "" {
		if _, ok := s.models[f.DefaultModel]; !ok {
			errs = append(errs, fmt.Errorf("default_model %q is not defined", f.DefaultModel))
		}
		s.defaultModel = f.DefaultModel
	}
	if s.defaultModel == "" && len(f.Models) > 0 {
		s.defaultModel = f.Models[0].ID
	}

	for i, a := range f.Apps {
		if a.ID == "" {
			errs = append(errs, fmt.Errorf("apps[%d]: id is required", i))
			continue
		}
		if _, dup := s.apps[a.ID]; dup {
			errs = append(errs, fmt.Errorf("apps[%d]: duplicate id %q", i, a.ID))
			continue
		}
		if a.PreferredModel != "" {
			if _, ok := s.models[a.PreferredModel]; !ok {
				errs = append(errs, fmt.Errorf("app %q: preferred_model %q is not defined", a.ID, a.PreferredModel))
			}
		}
		tools, err := convertTools(a.Tools)
		if err != nil {
			errs = append(errs, fmt.Errorf("app %q: %w", a.ID, err))
			continue
		}
		s.apps[a.ID] = relay.App{
			ID:             a.ID,
			Name:           a.Name,
			SystemPrompt:   a.SystemPrompt,
			PreferredModel: a.PreferredModel,
			Temperature:    a.Temperature,
			MaxTokens:      a.MaxTokens,
			Tools:          tools,
		}
	}

	for group, models := range f.Groups {
		for _, id := range models {
			if id == relay.AllModels {
				continue
			}
			if _, ok := s.models[id]; !ok {
				errs = append(errs, fmt.Errorf("group %q: model %q is not defined", group, id))
			}
		}
		key := strings.ToLower(group)
		s.groups[key] = append(s.groups[key], models...)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return s, nil
}

func convertTools(entries []toolEntry) ([]types.ToolDefinition, error) {
	out := make([]types.ToolDefinition, 0, len(entries))
	for i, t := range entries {
		if t.ID == "" && t.Name == "" {
			return nil, fmt.Errorf("tools[%d]: id or name is required", i)
		}
		def := types.ToolDefinition{
			ID:            t.ID,
			Name:          t.Name,
			Description:   t.Description,
			IsSpecialTool: t.Special,
		}
		if len(t.Parameters) > 0 {
			raw, err := json.Marshal(t.Parameters)
			if err != nil {
				return nil, fmt.Errorf("tool %q parameters: %w", def.Key(), err)
			}
			def.Parameters = raw
		}
		out = append(out, def)
	}
	return out, nil
}

// ModelIDs 返回按字母排序的模型 ID.
func (s *Snapshot) ModelIDs() []string {
	ids := make([]string, 0, len(s.models))
	for id := range s.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// permittedModels 合并角色对应分组的模型列表. 未配置任何分组时允许全部模型.
func (s *Snapshot) permittedModels(roles []string) []string {
	if len(s.groups) == 0 {
		return []string{relay.AllModels}
	}
	if len(roles) == 0 {
		roles = []string{AnonymousGroup}
	}
	seen := make(map[string]struct{})
	var out []string
	for _, role := range roles {
		for _, id := range s.groups[strings.ToLower(role)] {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// =============================================================================
// 📚 Catalog
// =============================================================================

// Catalog 持有当前快照，支持从文件重新加载.
type Catalog struct {
	path   string
	logger *zap.Logger

	mu       sync.RWMutex
	snapshot *Snapshot
	loadedAt time.Time

	watcher *config.FileWatcher
}

// Load 从文件加载目录.
func Load(path string, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Catalog{
		path:   path,
		logger: logger.With(zap.String("component", "catalog")),
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// New 使用已解析的快照创建目录，不关联文件.
func New(s *Snapshot) *Catalog {
	return &Catalog{snapshot: s, loadedAt: time.Now(), logger: zap.NewNop()}
}

// Reload 重新读取文件. 失败时保留当前快照.
func (c *Catalog) Reload() error {
	if c.path == "" {
		return fmt.Errorf("catalog has no backing file")
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("read catalog %s: %w", c.path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.snapshot = s
	c.loadedAt = time.Now()
	c.mu.Unlock()

	c.logger.Info("catalog loaded",
		zap.String("path", c.path),
		zap.Int("models", len(s.models)),
		zap.Int("apps", len(s.apps)),
		zap.Int("groups", len(s.groups)))
	return nil
}

// Watch 轮询目录文件，变更后重新加载. ctx 结束时停止.
func (c *Catalog) Watch(ctx context.Context, interval time.Duration) error {
	w, err := config.NewFileWatcher([]string{c.path},
		config.WithPollInterval(interval),
		config.WithWatcherLogger(c.logger))
	if err != nil {
		return err
	}
	w.OnChange(func(evt config.FileEvent) {
		if evt.Op == config.FileOpRemove {
			c.logger.Warn("catalog file removed, keeping last snapshot", zap.String("path", evt.Path))
			return
		}
		if err := c.Reload(); err != nil {
			c.logger.Error("catalog reload failed, keeping last snapshot", zap.Error(err))
		}
	})
	if err := w.Start(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.watcher = w
	c.mu.Unlock()
	return nil
}

// Close 停止文件监听.
func (c *Catalog) Close() error {
	c.mu.Lock()
	w := c.watcher
	c.watcher = nil
	c.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Stop()
}

// Snapshot 返回当前快照.
func (c *Catalog) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// LoadedAt 返回最近一次成功加载的时间.
func (c *Catalog) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}

// GetModel 实现 relay.ModelCatalog.
func (c *Catalog) GetModel(_ context.Context, modelID string) (llm.ModelDescriptor, bool) {
	m, ok := c.Snapshot().models[modelID]
	return m, ok
}

// GetApp 实现 relay.ModelCatalog.
func (c *Catalog) GetApp(_ context.Context, appID string) (relay.App, bool) {
	a, ok := c.Snapshot().apps[appID]
	return a, ok
}

// DefaultModel 实现 relay.ModelCatalog.
func (c *Catalog) DefaultModel(context.Context) string {
	return c.Snapshot().defaultModel
}

// PermittedModels 实现 relay.PermissionChecker.
func (c *Catalog) PermittedModels(_ context.Context, user relay.User) []string {
	return c.Snapshot().permittedModels(user.Roles)
}

var (
	_ relay.ModelCatalog      = (*Catalog)(nil)
	_ relay.PermissionChecker = (*Catalog)(nil)
)
