package router

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validChatFrame = `{"type":"chat.message","payload":{"id":"1","senderId":"a","receiverId":"b","content":"hi","timestamp":"t"}}`

// recorder collects every payload it is handed.
type recorder struct {
	mu    sync.Mutex
	calls []any
}

func (r *recorder) Handle(_ Kind, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, payload)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestRouter_DispatchChatMessage(t *testing.T) {
	r := NewRouter(nil)

	chat1, chat2 := &recorder{}, &recorder{}
	other := &recorder{}
	require.NoError(t, r.Register(KindChatMessage, chat1))
	require.NoError(t, r.Register(KindChatMessage, chat2))
	require.NoError(t, r.Register(KindNotification, other))
	require.NoError(t, r.Register(KindChatAck, other))

	r.Dispatch([]byte(validChatFrame))

	want := ChatMessage{ID: "1", SenderID: "a", ReceiverID: "b", Content: "hi", Timestamp: "t"}
	require.Equal(t, 1, chat1.count())
	require.Equal(t, 1, chat2.count())
	assert.Equal(t, want, chat1.calls[0])
	assert.Equal(t, want, chat2.calls[0])
	assert.Equal(t, 0, other.count())

	stats := r.Stats()
	assert.Equal(t, int64(1), stats.Received)
	assert.Equal(t, int64(1), stats.Delivered)
}

func TestRouter_DropsMalformedFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `this is not json`},
		{"truncated json", `{"type":"chat.message"`},
		{"json scalar", `"chat.message"`},
		{"json array", `[1,2,3]`},
		{"unknown type", `{"type":"unknown"}`},
		{"missing type", `{"payload":{}}`},
		{"non-string type", `{"type":42,"payload":{}}`},
		{"empty chat payload", `{"type":"chat.message","payload":{}}`},
		{"missing payload", `{"type":"chat.message"}`},
		{"wrong field type", `{"type":"chat.message","payload":{"id":1,"senderId":"a","receiverId":"b","content":"hi","timestamp":"t"}}`},
		{"notification read as string", `{"type":"notification","payload":{"id":"n1","type":"like","message":"m","timestamp":"t","read":"no"}}`},
		{"ack missing status", `{"type":"chat.ack","payload":{"messageId":"1"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(nil)
			rec := &recorder{}
			for _, k := range r.Kinds() {
				require.NoError(t, r.Register(k, rec))
			}

			require.NotPanics(t, func() { r.Dispatch([]byte(tt.frame)) })
			assert.Equal(t, 0, rec.count())
			assert.Equal(t, int64(0), r.Stats().Delivered)
		})
	}
}

func TestRouter_StatsClassification(t *testing.T) {
	r := NewRouter(nil)

	r.Dispatch([]byte(`nope`))
	r.Dispatch([]byte(`{"type":"unknown"}`))
	r.Dispatch([]byte(`{"type":"chat.message","payload":{}}`))
	r.Dispatch([]byte(validChatFrame)) // valid but no handlers

	stats := r.Stats()
	assert.Equal(t, int64(4), stats.Received)
	assert.Equal(t, int64(1), stats.ParseErrors)
	assert.Equal(t, int64(1), stats.InvalidEnvelopes)
	assert.Equal(t, int64(1), stats.InvalidPayloads)
	assert.Equal(t, int64(0), stats.Delivered)
}

func TestRouter_AllDefaultKinds(t *testing.T) {
	r := NewRouter(nil)

	var ack ChatAck
	var read ChatRead
	var note Notification
	require.NoError(t, r.Register(KindChatAck, On(func(v ChatAck) { ack = v })))
	require.NoError(t, r.Register(KindChatRead, On(func(v ChatRead) { read = v })))
	require.NoError(t, r.Register(KindNotification, On(func(v Notification) { note = v })))

	r.Dispatch([]byte(`{"type":"chat.ack","payload":{"messageId":"m1","status":"delivered"}}`))
	r.Dispatch([]byte(`{"type":"chat.read","payload":{"conversationId":"c1","readAt":"2024-01-15T12:00:00Z"}}`))
	r.Dispatch([]byte(`{"type":"notification","payload":{"id":"n1","type":"match","message":"You matched!","timestamp":"t","read":false,"extra":"ignored"}}`))

	assert.Equal(t, ChatAck{MessageID: "m1", Status: "delivered"}, ack)
	assert.Equal(t, ChatRead{ConversationID: "c1", ReadAt: "2024-01-15T12:00:00Z"}, read)
	assert.Equal(t, Notification{ID: "n1", Type: "match", Message: "You matched!", Timestamp: "t"}, note)
}

func TestRouter_RegisterTwiceSingleInvocation(t *testing.T) {
	r := NewRouter(nil)
	rec := &recorder{}

	require.NoError(t, r.Register(KindChatMessage, rec))
	require.NoError(t, r.Register(KindChatMessage, rec))
	assert.Equal(t, 1, r.HandlerCount(KindChatMessage))

	r.Dispatch([]byte(validChatFrame))
	assert.Equal(t, 1, rec.count())
}

func TestRouter_FuncHandlersAreDistinct(t *testing.T) {
	r := NewRouter(nil)

	calls := 0
	fn := func(Kind, any) { calls++ }
	h1, h2 := Func(fn), Func(fn)

	require.NoError(t, r.Register(KindChatMessage, h1))
	require.NoError(t, r.Register(KindChatMessage, h2))
	require.NoError(t, r.Register(KindChatMessage, h1))

	r.Dispatch([]byte(validChatFrame))
	assert.Equal(t, 2, calls)
}

type sliceHandler []string

func (sliceHandler) Handle(Kind, any) {}

func TestRouter_RegisterRejects(t *testing.T) {
	r := NewRouter(nil)

	assert.ErrorIs(t, r.Register(KindChatMessage, nil), ErrNilHandler)
	assert.ErrorIs(t, r.Register(KindChatMessage, sliceHandler{"x"}), ErrHandlerNotComparable)
	assert.Equal(t, 0, r.HandlerCount(KindChatMessage))
}

type boxedHandler struct {
	hook any
}

func (boxedHandler) Handle(Kind, any) {}

func TestRouter_RegisterRejectsFuncInInterfaceField(t *testing.T) {
	r := NewRouter(nil)
	h := boxedHandler{hook: func() {}}

	require.NotPanics(t, func() {
		assert.ErrorIs(t, r.Register(KindChatMessage, h), ErrHandlerNotComparable)
		assert.ErrorIs(t, r.Register(KindChatMessage, h), ErrHandlerNotComparable)
		r.Unregister(KindChatMessage, h)
	})
	assert.Equal(t, 0, r.HandlerCount(KindChatMessage))

	// The same type holding a comparable value is fine
	ok := boxedHandler{hook: 7}
	require.NoError(t, r.Register(KindChatMessage, ok))
	require.NoError(t, r.Register(KindChatMessage, ok))
	assert.Equal(t, 1, r.HandlerCount(KindChatMessage))
}

func TestRouter_Unregister(t *testing.T) {
	r := NewRouter(nil)
	first, second := &recorder{}, &recorder{}

	require.NoError(t, r.Register(KindChatMessage, first))
	require.NoError(t, r.Register(KindChatMessage, second))

	r.Unregister(KindChatMessage, first)
	assert.Equal(t, 1, r.HandlerCount(KindChatMessage))

	r.Dispatch([]byte(validChatFrame))
	assert.Equal(t, 0, first.count())
	assert.Equal(t, 1, second.count())

	r.Unregister(KindChatMessage, second)
	assert.Equal(t, 0, r.HandlerCount(KindChatMessage))
	r.mu.RLock()
	_, present := r.handlers[KindChatMessage]
	r.mu.RUnlock()
	assert.False(t, present, "empty kind entry should be removed")

	// Removing something that is not registered is harmless.
	r.Unregister(KindChatMessage, second)
	r.Unregister(KindChatRead, first)
}

func TestRouter_RegistrationOrder(t *testing.T) {
	r := NewRouter(nil)

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		require.NoError(t, r.Register(KindChatMessage, Func(func(Kind, any) { order = append(order, i) })))
	}

	r.Dispatch([]byte(validChatFrame))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestRouter_HandlerPanicIsolated(t *testing.T) {
	r := NewRouter(nil)
	after := &recorder{}

	require.NoError(t, r.Register(KindChatMessage, Func(func(Kind, any) { panic("handler bug") })))
	require.NoError(t, r.Register(KindChatMessage, after))

	require.NotPanics(t, func() { r.Dispatch([]byte(validChatFrame)) })
	assert.Equal(t, 1, after.count())
	assert.Equal(t, int64(1), r.Stats().HandlerPanics)
}

func TestRouter_RegistrationDuringDispatch(t *testing.T) {
	r := NewRouter(nil)
	late := &recorder{}

	var self Handler
	self = Func(func(Kind, any) {
		// Changes made while dispatching only affect later dispatches.
		_ = r.Register(KindChatMessage, late)
		r.Unregister(KindChatMessage, self)
	})
	require.NoError(t, r.Register(KindChatMessage, self))

	r.Dispatch([]byte(validChatFrame))
	assert.Equal(t, 0, late.count())
	assert.Equal(t, 1, r.HandlerCount(KindChatMessage))

	r.Dispatch([]byte(validChatFrame))
	assert.Equal(t, 1, late.count())
}

func TestRouter_ClearAll(t *testing.T) {
	r := NewRouter(nil)
	rec := &recorder{}

	require.NoError(t, r.Register(KindChatMessage, rec))
	require.NoError(t, r.Register(KindNotification, rec))

	r.ClearAll()
	assert.Equal(t, 0, r.HandlerCount(KindChatMessage))
	assert.Equal(t, 0, r.HandlerCount(KindNotification))

	r.Dispatch([]byte(validChatFrame))
	assert.Equal(t, 0, rec.count())
}

func TestRouter_RegisterKind(t *testing.T) {
	r := NewRouter(nil)

	schema := &jsonschema.Schema{
		Type:       "object",
		Required:   []string{"userId"},
		Properties: map[string]*jsonschema.Schema{"userId": {Type: "string"}},
	}
	require.NoError(t, r.RegisterKind("presence.online", schema))
	require.NoError(t, r.RegisterKind("ping", nil))
	assert.ErrorIs(t, r.RegisterKind("", nil), ErrEmptyKind)
	assert.Contains(t, r.Kinds(), Kind("presence.online"))

	var got []json.RawMessage
	h := On(func(m json.RawMessage) { got = append(got, m) })
	require.NoError(t, r.Register("presence.online", h))
	require.NoError(t, r.Register("ping", h))

	r.Dispatch([]byte(`{"type":"presence.online","payload":{"userId":"u1"}}`))
	r.Dispatch([]byte(`{"type":"presence.online","payload":{}}`))
	r.Dispatch([]byte(`{"type":"ping"}`))

	require.Len(t, got, 2)
	assert.JSONEq(t, `{"userId":"u1"}`, string(got[0]))
	assert.Nil(t, got[1])
}

func TestRouter_TypedHandlerIgnoresOtherPayloads(t *testing.T) {
	r := NewRouter(nil)

	calls := 0
	h := On(func(ChatAck) { calls++ })
	require.NoError(t, r.Register(KindChatMessage, h))

	r.Dispatch([]byte(validChatFrame))
	assert.Equal(t, 0, calls)
}

func TestNewChatMessage(t *testing.T) {
	env := NewChatMessage("me", "you", "hello")
	assert.Equal(t, KindChatMessage, env.Type)

	msg, ok := env.Payload.(ChatMessage)
	require.True(t, ok)
	assert.NotEmpty(t, msg.ID)
	assert.NotEmpty(t, msg.Timestamp)
	assert.Equal(t, "me", msg.SenderID)
	assert.Equal(t, "you", msg.ReceiverID)

	// An outbound frame is accepted by an inbound router.
	data, err := json.Marshal(env)
	require.NoError(t, err)

	r := NewRouter(nil)
	rec := &recorder{}
	require.NoError(t, r.Register(KindChatMessage, rec))
	r.Dispatch(data)
	require.Equal(t, 1, rec.count())
	assert.Equal(t, msg, rec.calls[0])
}
