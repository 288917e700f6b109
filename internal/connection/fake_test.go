package connection

import (
	"sort"
	"sync"
	"time"

	"github.com/rickgao/matchline/internal/status"
)

// fakeClock fires timers only when Advance is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
	delays []time.Duration
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, fn: f}
	c.timers = append(c.timers, t)
	c.delays = append(c.delays, d)
	return t
}

// Advance moves time forward, firing due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due []*fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && t.at <= target {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			c.now = target
			c.mu.Unlock()
			return
		}
		sort.Slice(due, func(i, j int) bool { return due[i].at < due[j].at })
		next := due[0]
		next.fired = true
		c.now = next.at
		c.mu.Unlock()

		next.fn()
	}
}

// Pending returns the number of armed timers.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (c *fakeClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

type fakeSocket struct {
	mu          sync.Mutex
	url         string
	events      Events
	state       ReadyState
	sent        [][]byte
	closeCode   int
	closeCalled bool
}

func (s *fakeSocket) ReadyState() ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSocket) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != ReadyOpen {
		return ErrNotConnected
	}
	s.sent = append(s.sent, data)
	return nil
}

func (s *fakeSocket) Close(code int, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closeCalled {
		s.closeCalled = true
		s.closeCode = code
		s.state = ReadyClosing
	}
	return nil
}

func (s *fakeSocket) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sent...)
}

// open simulates the server accepting the connection.
func (s *fakeSocket) open() {
	s.mu.Lock()
	s.state = ReadyOpen
	s.mu.Unlock()
	s.events.OnOpen()
}

// drop simulates the connection ending with code.
func (s *fakeSocket) drop(code int, clean bool) {
	s.mu.Lock()
	s.state = ReadyClosed
	s.mu.Unlock()
	s.events.OnClose(CloseEvent{Code: code, Clean: clean})
}

func (s *fakeSocket) receive(data string) {
	s.events.OnMessage([]byte(data))
}

type fakeTransport struct {
	mu      sync.Mutex
	sockets []*fakeSocket
}

func (t *fakeTransport) Open(url string, events Events) Socket {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &fakeSocket{url: url, events: events, state: ReadyConnecting}
	t.sockets = append(t.sockets, s)
	return s
}

func (t *fakeTransport) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sockets)
}

func (t *fakeTransport) Last() *fakeSocket {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sockets) == 0 {
		return nil
	}
	return t.sockets[len(t.sockets)-1]
}

func (t *fakeTransport) Socket(i int) *fakeSocket {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sockets[i]
}

type staticToken string

func (s staticToken) AccessToken() string { return string(s) }

type recordingSink struct {
	mu       sync.Mutex
	statuses []status.Status
}

func (r *recordingSink) Publish(s status.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recordingSink) Last() status.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return status.Status{}
	}
	return r.statuses[len(r.statuses)-1]
}

func (r *recordingSink) States() []status.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]status.State, len(r.statuses))
	for i, s := range r.statuses {
		out[i] = s.ConnectionStatus
	}
	return out
}

type recordingDispatcher struct {
	mu     sync.Mutex
	frames []string
}

func (d *recordingDispatcher) Dispatch(raw []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = append(d.frames, string(raw))
}

func (d *recordingDispatcher) Frames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.frames...)
}
