package router

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/jsonschema-go/jsonschema"
)

// Handler receives validated payloads for the kinds it is registered for.
//
// Handlers are identified by value, so they must be comparable. Func and On
// return pointers and can always be registered.
type Handler interface {
	Handle(kind Kind, payload any)
}

type funcHandler struct {
	fn func(Kind, any)
}

func (h *funcHandler) Handle(kind Kind, payload any) { h.fn(kind, payload) }

// Func adapts a plain function into a Handler.
func Func(fn func(kind Kind, payload any)) Handler {
	return &funcHandler{fn: fn}
}

type typedHandler[T any] struct {
	fn func(T)
}

func (h *typedHandler[T]) Handle(_ Kind, payload any) {
	if v, ok := payload.(T); ok {
		h.fn(v)
	}
}

// On adapts a typed function into a Handler. Payloads of another type are ignored.
//
//	r.Register(router.KindChatMessage, router.On(func(m router.ChatMessage) { ... }))
func On[T any](fn func(T)) Handler {
	return &typedHandler[T]{fn: fn}
}

// Router validates inbound frames and dispatches them to registered handlers.
//
// The handler registry lives as long as the Router: it survives reconnects
// and is wiped only by ClearAll.
type Router struct {
	logger *slog.Logger

	mu       sync.RWMutex
	kinds    map[Kind]kindSpec
	envelope *jsonschema.Resolved
	handlers map[Kind][]Handler

	received         atomic.Int64
	delivered        atomic.Int64
	parseErrors      atomic.Int64
	invalidEnvelopes atomic.Int64
	invalidPayloads  atomic.Int64
	handlerPanics    atomic.Int64
}

// NewRouter creates a router that knows the default chat and notification kinds.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{
		logger:   logger.With("component", "router"),
		kinds:    make(map[Kind]kindSpec),
		handlers: make(map[Kind][]Handler),
	}

	defaults := []struct {
		kind   Kind
		schema *jsonschema.Schema
		decode func(json.RawMessage) (any, error)
	}{
		{KindChatMessage, chatMessageSchema(), decodeAs[ChatMessage]},
		{KindChatAck, chatAckSchema(), decodeAs[ChatAck]},
		{KindChatRead, chatReadSchema(), decodeAs[ChatRead]},
		{KindNotification, notificationSchema(), decodeAs[Notification]},
	}
	for _, d := range defaults {
		if err := r.addKind(d.kind, d.schema, d.decode); err != nil {
			// Built-in schemas are static; failing to resolve them is a programming error.
			panic(err)
		}
	}

	return r
}

// RegisterKind adds a message kind to the accepted set. A nil schema accepts
// any payload. Payloads of custom kinds are delivered as json.RawMessage.
func (r *Router) RegisterKind(kind Kind, schema *jsonschema.Schema) error {
	if kind == "" {
		return ErrEmptyKind
	}
	return r.addKind(kind, schema, decodeRaw)
}

func (r *Router) addKind(kind Kind, schema *jsonschema.Schema, decode func(json.RawMessage) (any, error)) error {
	resolved, err := resolve(schema)
	if err != nil {
		return fmt.Errorf("kind %s: %w", kind, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.kinds[kind] = kindSpec{schema: resolved, decode: decode}

	kinds := make([]Kind, 0, len(r.kinds))
	for k := range r.kinds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	envelope, err := resolve(envelopeSchema(kinds))
	if err != nil {
		delete(r.kinds, kind)
		return fmt.Errorf("envelope: %w", err)
	}
	r.envelope = envelope
	return nil
}

// Kinds returns the accepted message kinds in sorted order.
func (r *Router) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.kinds))
	for k := range r.kinds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Register adds a handler for kind. Registering the same handler twice is a no-op.
func (r *Router) Register(kind Kind, h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	if !isComparable(h) {
		return ErrHandlerNotComparable
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.handlers[kind]
	for _, existing := range list {
		if existing == h {
			return nil
		}
	}
	r.handlers[kind] = append(list, h)
	return nil
}

// Unregister removes exactly h from kind. The kind entry is dropped once empty.
func (r *Router) Unregister(kind Kind, h Handler) {
	if h == nil || !isComparable(h) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.handlers[kind]
	for i, existing := range list {
		if existing != h {
			continue
		}
		// Rebuild rather than shift in place: in-flight dispatches hold the old slice.
		next := make([]Handler, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.handlers, kind)
		} else {
			r.handlers[kind] = next
		}
		return
	}
}

// isComparable reports whether h can be used with ==. A comparable type can
// still hold a func or map in an interface field, so compare h with itself.
func isComparable(h Handler) (ok bool) {
	if !reflect.TypeOf(h).Comparable() {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	other := h
	return other == h
}

// ClearAll removes every handler. Used at full logout only.
func (r *Router) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[Kind][]Handler)
}

// HandlerCount returns the number of handlers registered for kind.
func (r *Router) HandlerCount(kind Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[kind])
}

// Dispatch validates a raw frame and delivers its payload to the handlers of
// its kind, in registration order. Malformed frames are dropped silently.
func (r *Router) Dispatch(raw []byte) {
	r.received.Add(1)

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		r.parseErrors.Add(1)
		r.logger.Debug("dropping non-json frame", "error", err, "size", len(raw))
		return
	}

	r.mu.RLock()
	envelope := r.envelope
	r.mu.RUnlock()

	if err := envelope.Validate(doc); err != nil {
		r.invalidEnvelopes.Add(1)
		r.logger.Debug("dropping invalid envelope", "error", err)
		return
	}

	obj := doc.(map[string]any)
	kind := Kind(obj["type"].(string))

	r.mu.RLock()
	ks, ok := r.kinds[kind]
	r.mu.RUnlock()
	if !ok {
		// Unknown kind.
		r.invalidEnvelopes.Add(1)
		return
	}

	if ks.schema != nil {
		if err := ks.schema.Validate(obj["payload"]); err != nil {
			r.invalidPayloads.Add(1)
			r.logger.Debug("dropping invalid payload", "type", kind, "error", err)
			return
		}
	}

	var wire wireEnvelope
	if err := json.Unmarshal(raw, &wire); err != nil {
		r.invalidPayloads.Add(1)
		return
	}
	payload, err := ks.decode(wire.Payload)
	if err != nil {
		r.invalidPayloads.Add(1)
		r.logger.Debug("dropping undecodable payload", "type", kind, "error", err)
		return
	}

	r.mu.RLock()
	handlers := r.handlers[kind]
	r.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}
	for _, h := range handlers {
		r.invoke(kind, h, payload)
	}
	r.delivered.Add(1)
}

// invoke runs one handler, isolating its panic from the rest of the dispatch.
func (r *Router) invoke(kind Kind, h Handler, payload any) {
	defer func() {
		if rec := recover(); rec != nil {
			r.handlerPanics.Add(1)
			r.logger.Error("message handler panicked", "type", kind, "panic", rec)
		}
	}()
	h.Handle(kind, payload)
}

// Stats returns current statistics.
func (r *Router) Stats() Stats {
	return Stats{
		Received:         r.received.Load(),
		Delivered:        r.delivered.Load(),
		ParseErrors:      r.parseErrors.Load(),
		InvalidEnvelopes: r.invalidEnvelopes.Load(),
		InvalidPayloads:  r.invalidPayloads.Load(),
		HandlerPanics:    r.handlerPanics.Load(),
	}
}
