package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_InitialState(t *testing.T) {
	p := NewPublisher(nil)
	assert.Equal(t, Status{ConnectionStatus: Disconnected}, p.Current())
}

func TestPublisher_LastWriteWins(t *testing.T) {
	p := NewPublisher(nil)

	p.Publish(Status{ConnectionStatus: Connecting})
	p.Publish(Status{ConnectionStatus: Disconnected, Error: "boom"})

	assert.Equal(t, Status{ConnectionStatus: Disconnected, Error: "boom"}, p.Current())

	// A later publish without an error clears it; it is a replacement, not a patch.
	p.Publish(Status{ConnectionStatus: Connected})
	assert.Equal(t, "", p.Current().Error)
}

func TestPublisher_ObserversInOrder(t *testing.T) {
	p := NewPublisher(nil)

	var a, b []State
	p.Subscribe(func(s Status) { a = append(a, s.ConnectionStatus) })
	p.Subscribe(func(s Status) { b = append(b, s.ConnectionStatus) })

	p.Publish(Status{ConnectionStatus: Connecting})
	p.Publish(Status{ConnectionStatus: Connected})
	p.Publish(Status{ConnectionStatus: Reconnecting})

	want := []State{Connecting, Connected, Reconnecting}
	assert.Equal(t, want, a)
	assert.Equal(t, want, b)
}

func TestPublisher_Cancel(t *testing.T) {
	p := NewPublisher(nil)

	calls := 0
	cancel := p.Subscribe(func(Status) { calls++ })

	p.Publish(Status{ConnectionStatus: Connecting})
	cancel()
	cancel() // idempotent
	p.Publish(Status{ConnectionStatus: Connected})

	assert.Equal(t, 1, calls)
}

func TestPublisher_ObserverPanicIsolated(t *testing.T) {
	p := NewPublisher(nil)

	var got []State
	p.Subscribe(func(Status) { panic("observer bug") })
	p.Subscribe(func(s Status) { got = append(got, s.ConnectionStatus) })

	require.NotPanics(t, func() {
		p.Publish(Status{ConnectionStatus: Connected})
	})
	assert.Equal(t, []State{Connected}, got)
	assert.Equal(t, Connected, p.Current().ConnectionStatus)
}

func TestPublisher_NilObserver(t *testing.T) {
	p := NewPublisher(nil)
	cancel := p.Subscribe(nil)
	require.NotNil(t, cancel)
	cancel()
	p.Publish(Status{ConnectionStatus: Connecting})
}
