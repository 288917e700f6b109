package connection

// Events receives a socket's lifecycle notifications. A socket delivers them
// from a single goroutine: OnOpen at most once, then OnMessage any number of
// times, and finally OnClose exactly once (optionally preceded by OnError).
type Events interface {
	OnOpen()
	OnClose(ev CloseEvent)
	OnError(err error)
	OnMessage(data []byte)
}

// Socket is one connection attempt.
type Socket interface {
	// ReadyState reports the socket's readiness at the time of the call.
	ReadyState() ReadyState

	// Send writes a text frame. It fails with ErrNotConnected unless open.
	Send(data []byte) error

	// Close starts the closing handshake with the given code. Idempotent.
	// It must not invoke events synchronously.
	Close(code int, reason string) error
}

// Transport opens sockets. Open returns immediately; the connection proceeds
// asynchronously and reports through events. Implementations must not call
// events before Open returns.
type Transport interface {
	Open(url string, events Events) Socket
}
