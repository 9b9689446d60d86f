package streaming

import (
	"bytes"
	"strings"

	"github.com/BaSui01/chatrelay/llm"
)

// Framer splits an arbitrarily chunked byte stream into Server-Sent Events
// frames. Partial lines are retained between Write calls, so the frames
// produced do not depend on how the body was chunked.
//
// Supported subset of the SSE format:
//   - "\n" and "\r\n" line endings
//   - "event:" and "data:" fields; multiple data lines are joined with "\n"
//   - comment lines starting with ":" (keep-alives) are dropped
//   - a blank line dispatches the pending frame
type Framer struct {
	partial []byte
	event   string
	data    []string
	hasData bool
}

// NewFramer creates an empty framer.
func NewFramer() *Framer {
	return &Framer{}
}

// Write consumes a chunk and returns the frames completed by it.
func (f *Framer) Write(chunk []byte) []llm.Frame {
	var frames []llm.Frame
	f.partial = append(f.partial, chunk...)
	for {
		i := bytes.IndexByte(f.partial, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimSuffix(f.partial[:i], []byte{'\r'}))
		f.partial = f.partial[i+1:]
		if frame, ok := f.line(line); ok {
			frames = append(frames, frame)
		}
	}
	if len(f.partial) == 0 {
		f.partial = nil
	}
	return frames
}

// Flush is called at end of body. A trailing unterminated line is processed
// and any pending frame is dispatched.
func (f *Framer) Flush() []llm.Frame {
	var frames []llm.Frame
	if len(f.partial) > 0 {
		line := strings.TrimSuffix(string(f.partial), "\r")
		f.partial = nil
		if frame, ok := f.line(line); ok {
			frames = append(frames, frame)
		}
	}
	if frame, ok := f.dispatch(); ok {
		frames = append(frames, frame)
	}
	return frames
}

// Pending reports whether a partial line or frame is buffered.
func (f *Framer) Pending() bool {
	return len(f.partial) > 0 || f.hasData
}

func (f *Framer) line(line string) (llm.Frame, bool) {
	if line == "" {
		return f.dispatch()
	}
	if strings.HasPrefix(line, ":") {
		return llm.Frame{}, false
	}

	field, value, found := strings.Cut(line, ":")
	if found {
		value = strings.TrimPrefix(value, " ")
	}
	switch field {
	case "data":
		f.data = append(f.data, value)
		f.hasData = true
	case "event":
		f.event = value
	}
	// id / retry 以及未知字段忽略
	return llm.Frame{}, false
}

func (f *Framer) dispatch() (llm.Frame, bool) {
	defer func() {
		f.event = ""
		f.data = f.data[:0]
		f.hasData = false
	}()
	if !f.hasData {
		return llm.Frame{}, false
	}
	return llm.Frame{Event: f.event, Data: strings.Join(f.data, "\n")}, true
}
