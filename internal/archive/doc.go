// Package archive persists inbound chat messages to PostgreSQL.
//
// ChatWriter registers as a router handler for chat.message. Messages are
// queued and written in batches; duplicate ids (redeliveries after a
// reconnect) are skipped with ON CONFLICT DO NOTHING.
package archive
