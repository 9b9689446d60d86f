package tokenizer

import (
	"fmt"

	"github.com/BaSui01/chatrelay/types"
	"github.com/pkoukk/tiktoken-go"
)

// getEncoding 首次使用时可能需要下载 BPE 数据.
var getEncoding = tiktoken.GetEncoding

type tiktokenCounter struct {
	encoding string
	enc      *tiktoken.Tiktoken
}

func newTiktokenCounter(encoding string) (*tiktokenCounter, error) {
	enc, err := getEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("init tiktoken encoding %s: %w", encoding, err)
	}
	return &tiktokenCounter{encoding: encoding, enc: enc}, nil
}

func (t *tiktokenCounter) CountText(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

func (t *tiktokenCounter) CountMessages(messages []types.Message) int {
	return countMessages(t, messages)
}

func (t *tiktokenCounter) Name() string {
	return "tiktoken[" + t.encoding + "]"
}
