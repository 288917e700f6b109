package router

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Errors
var (
	ErrNilHandler           = errors.New("router: nil handler")
	ErrHandlerNotComparable = errors.New("router: handler must be comparable (use a pointer)")
	ErrEmptyKind            = errors.New("router: empty message kind")
)

// Kind is the envelope "type" discriminator.
type Kind string

const (
	KindChatMessage  Kind = "chat.message"
	KindChatAck      Kind = "chat.ack"
	KindChatRead     Kind = "chat.read"
	KindNotification Kind = "notification"
)

// ChatMessage is the payload of a chat.message frame.
type ChatMessage struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
}

// ChatAck is the payload of a chat.ack frame.
type ChatAck struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// ChatRead is the payload of a chat.read frame.
type ChatRead struct {
	ConversationID string `json:"conversationId"`
	ReadAt         string `json:"readAt"`
}

// Notification is the payload of a notification frame.
type Notification struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // like, match, block, report, ...
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Read      bool   `json:"read"`
}

// Envelope is the outbound wire wrapper. Inbound frames share the shape.
type Envelope struct {
	Type    Kind `json:"type"`
	Payload any  `json:"payload"`
}

// NewEnvelope wraps a payload for sending.
func NewEnvelope(kind Kind, payload any) Envelope {
	return Envelope{Type: kind, Payload: payload}
}

// NewChatMessage builds an outbound chat.message with a fresh id and UTC timestamp.
func NewChatMessage(senderID, receiverID, content string) Envelope {
	return NewEnvelope(KindChatMessage, ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

// wireEnvelope is used to pull the raw payload bytes out of a validated frame.
type wireEnvelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Stats contains runtime statistics.
type Stats struct {
	Received         int64 // Frames handed to Dispatch
	Delivered        int64 // Frames delivered to at least one handler
	ParseErrors      int64 // Not JSON
	InvalidEnvelopes int64 // Not {type, payload} or unknown type
	InvalidPayloads  int64 // Known type, payload failed its schema
	HandlerPanics    int64
}
