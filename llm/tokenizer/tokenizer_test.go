package tokenizer

import (
	"errors"
	"testing"

	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/types"
	"github.com/pkoukk/tiktoken-go"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestEstimator_CountText(t *testing.T) {
	e := NewEstimator()
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "short ascii rounds up to one", text: "hi", want: 1},
		{name: "ascii", text: "abcdefghijklmnop", want: 4},
		{name: "cjk", text: "你好世界你好", want: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.CountText(tt.text))
		})
	}
}

func TestEstimator_CountMessages(t *testing.T) {
	e := NewEstimator()
	msgs := []types.Message{
		types.NewSystemMessage("abcdefgh"),
		types.NewUserMessage("abcd"),
	}
	// 4+"system"(1)+"abcdefgh"(2) + 4+"user"(1)+"abcd"(1) + 3
	assert.Equal(t, 16, e.CountMessages(msgs))
}

func TestEncodingForModel(t *testing.T) {
	assert.Equal(t, "o200k_base", EncodingForModel("gpt-4o-mini"))
	assert.Equal(t, "o200k_base", EncodingForModel("o3-mini"))
	assert.Equal(t, "cl100k_base", EncodingForModel("gpt-3.5-turbo"))
	assert.Equal(t, "cl100k_base", EncodingForModel("mistral-large-latest"))
}

func TestRegistry_ForModel(t *testing.T) {
	orig := getEncoding
	t.Cleanup(func() { getEncoding = orig })

	calls := 0
	getEncoding = func(string) (*tiktoken.Tiktoken, error) {
		calls++
		return nil, errors.New("offline")
	}

	r := NewRegistry(zap.NewNop())

	c := r.ForModel(llm.ModelDescriptor{ID: "claude", Provider: llm.ProviderAnthropic})
	assert.Equal(t, "estimator", c.Name())
	assert.Equal(t, 0, calls)

	// 编码加载失败时回退，且结果被缓存
	c = r.ForModel(llm.ModelDescriptor{ID: "gpt", Name: "gpt-4o", Provider: llm.ProviderOpenAI})
	assert.Equal(t, "estimator", c.Name())
	r.ForModel(llm.ModelDescriptor{ID: "gpt2", Name: "gpt-4o-mini", Provider: llm.ProviderOpenAI})
	assert.Equal(t, 1, calls)
}
