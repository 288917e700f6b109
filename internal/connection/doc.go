// Package connection manages the realtime WebSocket session.
//
// A Supervisor owns at most one live socket. It authenticates the socket by
// appending the access token to the URL, forwards every inbound frame to a
// Dispatcher, and publishes each state transition to a StatusSink.
//
// Close handling:
//
//	intentional (Disconnect)      -> disconnected, no retry
//	terminal code (4401, 4403)    -> disconnected with error, no retry
//	code 1000 or clean close      -> disconnected, no retry
//	anything else (e.g. 1006)     -> reconnecting, retry with backoff
//
// Reconnect delays start at 1s and double up to 30s, plus up to 50% jitter.
// After 10 consecutive failed attempts the Supervisor goes idle with
// ErrMaxAttempts until Connect is called again.
//
// The Transport interface decouples the Supervisor from gorilla/websocket;
// WSTransport is the production implementation.
package connection
