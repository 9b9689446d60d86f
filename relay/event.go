package relay

import "github.com/BaSui01/chatrelay/types"

// Wire event names sent to client transports.
const (
	EventConnected  = "connected"
	EventProcessing = "processing"
	EventChunk      = "chunk"
	EventError      = "error"
	EventDone       = "done"
	EventStopped    = "stopped"
)

// Event is one wire event. Data is JSON-encoded by the transport.
type Event struct {
	Name string
	Data any
}

// ConnectedData is the payload of the connected event.
type ConnectedData struct {
	ChatID string `json:"chatId"`
}

// ProcessingData is the payload of the processing event.
type ProcessingData struct{}

// ChunkData is the payload of the chunk event.
type ChunkData struct {
	Content string `json:"content"`
}

// ErrorData is the payload of the error event.
type ErrorData struct {
	Message        string `json:"message"`
	Code           string `json:"code"`
	Kind           string `json:"kind"`
	Recommendation string `json:"recommendation,omitempty"`
}

// DoneData is the payload of the done event.
type DoneData struct {
	FinishReason string           `json:"finishReason"`
	ToolCalls    []types.ToolCall `json:"toolCalls,omitempty"`
}

// StoppedData is the payload of the stopped event.
type StoppedData struct {
	Message string `json:"message"`
}

func connectedEvent(chatID string) Event {
	return Event{Name: EventConnected, Data: ConnectedData{ChatID: chatID}}
}

func chunkEvent(text string) Event {
	return Event{Name: EventChunk, Data: ChunkData{Content: text}}
}

func stoppedEvent() Event {
	return Event{Name: EventStopped, Data: StoppedData{Message: "Generation stopped"}}
}
