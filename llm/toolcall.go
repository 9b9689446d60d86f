package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/chatrelay/types"
)

// NormalizeArguments 校验并压缩工具参数 JSON。空参数视为 {}。
func NormalizeArguments(raw []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return json.RawMessage(`{}`), nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	return json.RawMessage(buf.Bytes()), nil
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// ToolCallAccumulator 按索引缓存流式工具调用片段，直到终止信号才解析参数。
// 在此之前的不完整 JSON 不视为错误。
type ToolCallAccumulator struct {
	provider ProviderID
	calls    map[int]*pendingCall
}

// NewToolCallAccumulator 创建累加器。
func NewToolCallAccumulator(provider ProviderID) *ToolCallAccumulator {
	return &ToolCallAccumulator{provider: provider, calls: make(map[int]*pendingCall)}
}

// Merge 合并一个片段并返回对应的增量事件。id 与 name 只在首次出现时记录。
func (a *ToolCallAccumulator) Merge(index int, id, name, fragment string) ToolCallDelta {
	pc, ok := a.calls[index]
	if !ok {
		pc = &pendingCall{}
		a.calls[index] = pc
	}
	delta := ToolCallDelta{Index: index, ArgumentsDelta: fragment}
	if id != "" && pc.id == "" {
		pc.id = id
		delta.ID = id
	}
	if name != "" && pc.name == "" {
		pc.name = name
		delta.Name = name
	}
	pc.args.WriteString(fragment)
	return delta
}

// Has 报告索引是否已有调用。
func (a *ToolCallAccumulator) Has(index int) bool {
	_, ok := a.calls[index]
	return ok
}

// ID 返回索引处已记录的调用 ID，不存在时为空。
func (a *ToolCallAccumulator) ID(index int) string {
	if pc, ok := a.calls[index]; ok {
		return pc.id
	}
	return ""
}

// NextIndex 返回大于所有已用索引的最小索引。
func (a *ToolCallAccumulator) NextIndex() int {
	next := 0
	for i := range a.calls {
		if i >= next {
			next = i + 1
		}
	}
	return next
}

// Len 返回已缓存的调用数。
func (a *ToolCallAccumulator) Len() int { return len(a.calls) }

// Finalize 按索引顺序输出完整调用。任一参数不是合法 JSON 时返回 NormalizationError。
func (a *ToolCallAccumulator) Finalize() ([]types.ToolCall, error) {
	if len(a.calls) == 0 {
		return nil, nil
	}
	indexes := make([]int, 0, len(a.calls))
	for i := range a.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]types.ToolCall, 0, len(indexes))
	for _, i := range indexes {
		pc := a.calls[i]
		raw := pc.args.String()
		args, err := NormalizeArguments([]byte(raw))
		if err != nil {
			return nil, NewNormalizationError(a.provider, raw, fmt.Errorf("tool call %q: %w", pc.name, err))
		}
		out = append(out, types.ToolCall{
			ID:        pc.id,
			Name:      pc.name,
			Arguments: args,
			Provider:  string(a.provider),
			Status:    types.ToolCallComplete,
		})
	}
	return out, nil
}
