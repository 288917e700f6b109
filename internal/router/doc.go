// Package router implements the Message Router component.
//
// The Message Router:
//   - Parses inbound realtime frames as JSON {type, payload} envelopes
//   - Validates the envelope and each kind's payload against a JSON schema
//   - Drops malformed frames silently (counted in Stats, never surfaced)
//   - Delivers typed payloads to handlers in registration order
//   - Keeps its handler registry across reconnects
package router
