package streaming

import (
	"context"
	"errors"
	"io"

	"github.com/BaSui01/chatrelay/llm"
	"go.uber.org/zap"
)

// State is the lifecycle state of a Normalizer.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateComplete
	StateFailed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further events can be produced.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed || s == StateAborted
}

const readBufferSize = 4096

// Normalizer turns one provider response body into the unified event
// sequence. It owns the framer and the provider decoder for that body and
// is not safe for concurrent use.
//
// Exactly one terminal event (Complete or ProviderError) is produced unless
// the stream is aborted, in which case nothing further is produced.
type Normalizer struct {
	provider llm.ProviderID
	framer   *Framer
	decoder  llm.StreamDecoder
	state    State
	logger   *zap.Logger
}

// NewNormalizer creates a normalizer for one response body.
func NewNormalizer(provider llm.ProviderID, decoder llm.StreamDecoder, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		provider: provider,
		framer:   NewFramer(),
		decoder:  decoder,
		logger:   logger.With(zap.String("component", "stream_normalizer"), zap.String("provider", string(provider))),
	}
}

// State returns the current state.
func (n *Normalizer) State() State { return n.state }

// Feed consumes a raw body chunk and returns the events it completes.
func (n *Normalizer) Feed(chunk []byte) []llm.StreamEvent {
	if n.state.Terminal() {
		return nil
	}
	n.state = StateStreaming
	return n.decodeFrames(n.framer.Write(chunk))
}

// Finish is called at end of body. It flushes the framer and lets the
// decoder decide whether the stream ended cleanly.
func (n *Normalizer) Finish() []llm.StreamEvent {
	if n.state.Terminal() {
		return nil
	}
	n.state = StateStreaming

	events := n.decodeFrames(n.framer.Flush())
	if n.state.Terminal() {
		return events
	}

	tail, err := n.decoder.Finish()
	if err != nil {
		return append(events, n.fail(err))
	}
	for _, ev := range tail {
		events = append(events, ev)
		if llm.IsTerminal(ev) {
			n.terminate(ev)
			return events
		}
	}
	return append(events, n.fail(llm.ErrUnexpectedEOF))
}

// Abort moves a non-terminal normalizer to Aborted.
func (n *Normalizer) Abort() {
	if !n.state.Terminal() {
		n.state = StateAborted
	}
}

func (n *Normalizer) decodeFrames(frames []llm.Frame) []llm.StreamEvent {
	var events []llm.StreamEvent
	for _, frame := range frames {
		decoded, done, err := n.decoder.Decode(frame)
		if err != nil {
			return append(events, n.fail(err))
		}
		for _, ev := range decoded {
			events = append(events, ev)
			if llm.IsTerminal(ev) {
				n.terminate(ev)
				return events
			}
		}
		if done {
			// 解码器声明结束但未给出终止事件时，由 Finish 补齐
			tail, err := n.decoder.Finish()
			if err != nil {
				return append(events, n.fail(err))
			}
			for _, ev := range tail {
				events = append(events, ev)
				if llm.IsTerminal(ev) {
					n.terminate(ev)
					return events
				}
			}
			return append(events, n.fail(llm.ErrUnexpectedEOF))
		}
	}
	return events
}

func (n *Normalizer) terminate(ev llm.StreamEvent) {
	if pe, ok := ev.(llm.ProviderError); ok {
		n.state = StateFailed
		n.logger.Warn("provider reported stream error",
			zap.Int("status", pe.HTTPStatus),
			zap.Error(pe.Err))
		return
	}
	n.state = StateComplete
}

func (n *Normalizer) fail(err error) llm.StreamEvent {
	n.state = StateFailed
	pe := llm.ProviderError{Err: err}
	var normErr *llm.NormalizationError
	if errors.As(err, &normErr) {
		pe.RawBody = normErr.Payload
		n.logger.Warn("malformed stream payload",
			zap.String("payload", normErr.Payload),
			zap.Error(normErr.Err))
	} else {
		n.logger.Warn("stream ended abnormally", zap.Error(err))
	}
	return pe
}

// Run reads body until a terminal event, EOF, a read error or ctx
// cancellation, and delivers events on the returned channel in provider
// order. The channel is closed after the terminal event. On cancellation
// the normalizer is Aborted and the channel is closed without a terminal
// event.
func (n *Normalizer) Run(ctx context.Context, body io.Reader) <-chan llm.StreamEvent {
	out := make(chan llm.StreamEvent)
	go func() {
		defer close(out)

		emit := func(events []llm.StreamEvent) bool {
			for _, ev := range events {
				select {
				case <-ctx.Done():
					n.Abort()
					return false
				case out <- ev:
				}
			}
			return !n.state.Terminal()
		}

		buf := make([]byte, readBufferSize)
		for {
			if ctx.Err() != nil {
				n.Abort()
				return
			}
			nr, err := body.Read(buf)
			if nr > 0 {
				if !emit(n.Feed(buf[:nr])) {
					return
				}
			}
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				n.Abort()
				return
			}
			if errors.Is(err, io.EOF) {
				emit(n.Finish())
				return
			}
			n.state = StateFailed
			n.logger.Warn("stream read failed", zap.Error(err))
			emit([]llm.StreamEvent{llm.ProviderError{Err: err}})
			return
		}
	}()
	return out
}
