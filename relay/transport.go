package relay

// Transport is the push channel to one connected client (an SSE response or
// a WebSocket). Implementations must be safe for concurrent use; Send and
// Close may be called from different goroutines.
//
// Transports are compared by identity, so implementations should be
// pointer types.
type Transport interface {
	// Send writes one event. An error means the client is gone.
	Send(ev Event) error
	// Close ends the connection. It must be idempotent.
	Close() error
}
