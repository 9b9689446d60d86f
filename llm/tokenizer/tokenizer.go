package tokenizer

import (
	"strings"
	"sync"

	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/types"
	"go.uber.org/zap"
)

// Counter 估算文本与消息的 token 数. 结果用于交互记录与日志，
// 不参与 max_tokens 的计算.
type Counter interface {
	// CountText 返回文本的 token 数.
	CountText(text string) int

	// CountMessages 返回消息列表的 token 数，包含每条消息的角色与分隔开销.
	CountMessages(messages []types.Message) int

	// Name 返回计数器名称，写入交互记录.
	Name() string
}

const (
	perMessageOverhead      = 4
	conversationEndOverhead = 3
)

// Registry 按编码缓存计数器. 零值不可用，使用 NewRegistry 创建.
type Registry struct {
	mu        sync.Mutex
	tiktokens map[string]Counter
	estimator Counter
	logger    *zap.Logger
}

// NewRegistry 创建计数器缓存.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tiktokens: make(map[string]Counter),
		estimator: NewEstimator(),
		logger:    logger.With(zap.String("component", "tokenizer")),
	}
}

// ForModel 返回适用于模型的计数器. OpenAI 兼容协议的模型使用 tiktoken，
// 其余模型以及编码加载失败时回退到字符估算器.
func (r *Registry) ForModel(model llm.ModelDescriptor) Counter {
	switch model.Provider {
	case llm.ProviderOpenAI, llm.ProviderMistral, llm.ProviderLocal:
	default:
		return r.estimator
	}

	encoding := EncodingForModel(model.ProviderModel())
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.tiktokens[encoding]; ok {
		return c
	}
	c, err := newTiktokenCounter(encoding)
	if err != nil {
		r.logger.Warn("tiktoken unavailable, falling back to estimator",
			zap.String("encoding", encoding),
			zap.Error(err))
		r.tiktokens[encoding] = r.estimator
		return r.estimator
	}
	r.tiktokens[encoding] = c
	return c
}

// o200kPrefixes 是使用 o200k_base 编码的模型名前缀.
var o200kPrefixes = []string{"gpt-4o", "gpt-4.1", "gpt-5", "o1", "o3", "o4"}

// EncodingForModel 按模型名选择 tiktoken 编码，未知模型使用 cl100k_base.
func EncodingForModel(name string) string {
	name = strings.ToLower(name)
	for _, p := range o200kPrefixes {
		if strings.HasPrefix(name, p) {
			return "o200k_base"
		}
	}
	return "cl100k_base"
}

func countMessages(c Counter, messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += perMessageOverhead + c.CountText(string(m.Role)) + c.CountText(m.Text())
		for _, tc := range m.ToolCalls {
			total += c.CountText(tc.Name) + c.CountText(string(tc.Arguments))
		}
	}
	return total + conversationEndOverhead
}
