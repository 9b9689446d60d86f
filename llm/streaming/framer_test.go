package streaming

import (
	"strings"
	"testing"

	"github.com/BaSui01/chatrelay/llm"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestFramer(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []llm.Frame
	}{
		{
			name:  "single data frame",
			input: "data: hello\n\n",
			want:  []llm.Frame{{Data: "hello"}},
		},
		{
			name:  "crlf line endings",
			input: "event: ping\r\ndata: {}\r\n\r\n",
			want:  []llm.Frame{{Event: "ping", Data: "{}"}},
		},
		{
			name:  "multi-line data joined",
			input: "data: a\ndata: b\n\n",
			want:  []llm.Frame{{Data: "a\nb"}},
		},
		{
			name:  "comment keep-alive dropped",
			input: ": keep-alive\n\ndata: x\n\n",
			want:  []llm.Frame{{Data: "x"}},
		},
		{
			name:  "no space after colon",
			input: "data:[DONE]\n\n",
			want:  []llm.Frame{{Data: "[DONE]"}},
		},
		{
			name:  "event without data is not dispatched",
			input: "event: message_stop\n\ndata: y\n\n",
			want:  []llm.Frame{{Data: "y"}},
		},
		{
			name:  "id and retry ignored",
			input: "id: 7\nretry: 100\ndata: z\n\n",
			want:  []llm.Frame{{Data: "z"}},
		},
		{
			name:  "partial frame waits for flush",
			input: "data: tail",
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFramer()
			assert.Equal(t, tt.want, f.Write([]byte(tt.input)))
		})
	}
}

func TestFramer_Flush(t *testing.T) {
	f := NewFramer()
	assert.Empty(t, f.Write([]byte("data: {\"a\":1}\r\ndata: tail")))
	assert.True(t, f.Pending())
	assert.Equal(t, []llm.Frame{{Data: "{\"a\":1}\ntail"}}, f.Flush())
	assert.False(t, f.Pending())
	assert.Empty(t, f.Flush())
}

func TestFramer_SplitCRLF(t *testing.T) {
	f := NewFramer()
	assert.Empty(t, f.Write([]byte("data: a\r")))
	assert.Empty(t, f.Write([]byte("\n\r")))
	assert.Equal(t, []llm.Frame{{Data: "a"}}, f.Write([]byte("\n")))
}

func TestFramer_ChunkingProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "frames")
		newline := rapid.SampledFrom([]string{"\n", "\r\n"}).Draw(t, "newline")

		var sb strings.Builder
		var want []llm.Frame
		for i := 0; i < n; i++ {
			if rapid.Bool().Draw(t, "comment") {
				sb.WriteString(": ping" + newline)
			}
			event := rapid.SampledFrom([]string{"", "message", "content_block_delta"}).Draw(t, "event")
			if event != "" {
				sb.WriteString("event: " + event + newline)
			}
			lines := rapid.SliceOfN(rapid.StringMatching(`[a-zA-Z0-9{}":,\[\] ]{0,20}`), 1, 3).Draw(t, "lines")
			for _, l := range lines {
				sb.WriteString("data: " + l + newline)
			}
			sb.WriteString(newline)
			want = append(want, llm.Frame{Event: event, Data: strings.Join(lines, "\n")})
		}
		body := []byte(sb.String())

		size := rapid.IntRange(1, len(body)).Draw(t, "chunk")
		f := NewFramer()
		var got []llm.Frame
		for start := 0; start < len(body); start += size {
			end := min(start+size, len(body))
			got = append(got, f.Write(body[start:end])...)
		}
		got = append(got, f.Flush()...)

		if !assert.ObjectsAreEqual(want, got) {
			t.Fatalf("chunk size %d: want %v, got %v", size, want, got)
		}
	})
}
