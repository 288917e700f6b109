// Package status publishes the connection state of the realtime channel.
//
// Exactly one writer (the connection Supervisor) publishes; any number of
// observers read. Each published Status fully replaces the previous one.
package status

import (
	"log/slog"
	"sync"
)

// State is the connection state reported to observers.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Reconnecting State = "reconnecting"
)

// Status is the tuple delivered on every transition.
type Status struct {
	ConnectionStatus State  `json:"connectionStatus"`
	Error            string `json:"error,omitempty"`
}

// Observer receives every published Status.
type Observer func(Status)

type subscriber struct {
	id uint64
	fn Observer
}

// Publisher holds the latest Status and fans it out to observers.
type Publisher struct {
	logger *slog.Logger

	mu        sync.RWMutex
	current   Status
	observers []subscriber
	nextID    uint64

	// Serializes notification so observers see transitions in publish order.
	notifyMu sync.Mutex
}

// NewPublisher creates a publisher whose initial state is Disconnected.
func NewPublisher(logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		logger:  logger.With("component", "status"),
		current: Status{ConnectionStatus: Disconnected},
	}
}

// Publish replaces the current status and notifies observers.
func (p *Publisher) Publish(s Status) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	p.current = s
	observers := make([]subscriber, len(p.observers))
	copy(observers, p.observers)
	p.mu.Unlock()

	for _, o := range observers {
		p.notify(o, s)
	}
}

// Current returns the most recently published status.
func (p *Publisher) Current() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Subscribe registers an observer. The returned func removes it.
func (p *Publisher) Subscribe(fn Observer) (cancel func()) {
	if fn == nil {
		return func() {}
	}

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.observers = append(p.observers, subscriber{id: id, fn: fn})
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { p.remove(id) })
	}
}

func (p *Publisher) remove(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, o := range p.observers {
		if o.id == id {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			return
		}
	}
}

func (p *Publisher) notify(o subscriber, s Status) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("status observer panicked",
				"observer", o.id,
				"status", s.ConnectionStatus,
				"panic", r,
			)
		}
	}()
	o.fn(s)
}
