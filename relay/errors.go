package relay

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/types"
)

// Cancellation causes attached to an in-flight request's context.
var (
	// ErrStopped is the cause when the client asked to stop generation.
	ErrStopped = errors.New("generation stopped by client")
	// ErrSuperseded is the cause when a newer turn replaced the request.
	ErrSuperseded = errors.New("request superseded by a newer turn")
	// ErrClientGone is the cause when the client transport disconnected.
	ErrClientGone = errors.New("client disconnected")
	// ErrRequestTimeout is the cause when the request deadline expired.
	ErrRequestTimeout = llm.ErrTimeout
)

// isSilentCause reports whether a cancellation cause ends the request
// without an error event.
func isSilentCause(cause error) bool {
	return errors.Is(cause, ErrStopped) || errors.Is(cause, ErrSuperseded) || errors.Is(cause, ErrClientGone)
}

func noActiveSession(chatID string) *types.Error {
	return types.NewError(types.ErrNoActiveSession, fmt.Sprintf("no active session for chat %s", chatID)).
		WithHTTPStatus(http.StatusConflict)
}

func sessionNotFound(chatID string) *types.Error {
	return types.NewError(types.ErrSessionNotFound, fmt.Sprintf("session %s not found", chatID)).
		WithHTTPStatus(http.StatusNotFound)
}
