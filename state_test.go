package mqttclient

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateIdle:          "idle",
		StateConnecting:    "connecting",
		StateConnected:     "connected",
		StateDisconnecting: "disconnecting",
		StateClosed:        "closed",
		State(99):          "unknown",
	}
	for s, want := range tests {
		assert.Equal(t, want, s.String())
	}
}

func TestConnStateTransitions(t *testing.T) {
	var s connState
	assert.Equal(t, StateIdle, s.get())

	assert.False(t, s.transition(StateConnected, StateDisconnecting))
	assert.True(t, s.transition(StateIdle, StateConnecting))
	assert.Equal(t, StateConnecting, s.get())

	assert.True(t, s.transition(StateConnecting, StateClosed))
	assert.False(t, s.transition(StateConnecting, StateConnected))
	assert.Equal(t, StateClosed, s.get())

	s.set(StateIdle)
	assert.Equal(t, StateIdle, s.get())
}

func TestConnStateSingleWinner(t *testing.T) {
	var s connState
	s.set(StateConnected)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.transition(StateConnected, StateDisconnecting) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestBufferPool(t *testing.T) {
	w := getBuffer()
	w.writeRaw([]byte("abc"))
	putBuffer(w)

	again := getBuffer()
	assert.Zero(t, again.Len())
	putBuffer(again)

	big := &buffer{b: make([]byte, 0, maxPooledBuffer+1)}
	putBuffer(big)
	putBuffer(nil)
}
