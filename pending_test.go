package mqttclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingAllocate(t *testing.T) {
	s := newPendingStore()

	r1 := newResult(OpPublish, false)
	id1, err := s.allocate(r1)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), id1)
	assert.Equal(t, id1, r1.PacketID())

	id2, err := s.allocate(newResult(OpSubscribe, false))
	require.NoError(t, err)
	assert.Equal(t, uint16(2), id2)
	assert.Equal(t, 2, s.outboundLen())
}

func TestPendingAllocateWraps(t *testing.T) {
	s := newPendingStore()
	s.nextID = maxUint16
	require.NoError(t, s.register(1, newResult(OpPublish, false)))

	id, err := s.allocate(newResult(OpPublish, false))
	require.NoError(t, err)
	assert.Equal(t, uint16(maxUint16), id)

	id, err = s.allocate(newResult(OpPublish, false))
	require.NoError(t, err)
	assert.Equal(t, uint16(2), id, "0 is never used and 1 is taken")
}

func TestPendingAllocateExhausted(t *testing.T) {
	s := newPendingStore()
	for range maxUint16 {
		_, err := s.allocate(newResult(OpPublish, false))
		require.NoError(t, err)
	}

	_, err := s.allocate(newResult(OpPublish, false))
	assert.ErrorIs(t, err, ErrPacketIDExhausted)
}

func TestPendingResolve(t *testing.T) {
	s := newPendingStore()
	r := newResult(OpSubscribe, false)
	id, err := s.allocate(r)
	require.NoError(t, err)

	_, ok := s.resolve(id, phaseAwaitingAck, OpUnsubscribe)
	assert.False(t, ok, "kind mismatch")
	_, ok = s.resolve(id, phaseAwaitingPubcomp, OpSubscribe)
	assert.False(t, ok, "phase mismatch")
	_, ok = s.resolve(id+1, phaseAwaitingAck, OpSubscribe)
	assert.False(t, ok, "unknown id")

	got, ok := s.resolve(id, phaseAwaitingAck, OpSubscribe)
	assert.True(t, ok)
	assert.Same(t, r, got)
	assert.Zero(t, s.outboundLen())
}

func TestPendingRegister(t *testing.T) {
	s := newPendingStore()
	require.NoError(t, s.register(0, newResult(OpConnect, false)))
	assert.ErrorIs(t, s.register(0, newResult(OpConnect, false)), ErrPacketIDInUse)
}

func TestPendingQoS2Phases(t *testing.T) {
	s := newPendingStore()

	r := newResult(OpPublish, false)
	r.qos = 2
	id, err := s.allocate(r)
	require.NoError(t, err)

	qos1 := newResult(OpPublish, false)
	qos1.qos = 1
	id1, err := s.allocate(qos1)
	require.NoError(t, err)

	_, ok := s.advance(id1, phaseAwaitingAck, phaseAwaitingPubcomp)
	assert.False(t, ok, "QoS 1 never advances")

	got, ok := s.advance(id, phaseAwaitingAck, phaseAwaitingPubcomp)
	assert.True(t, ok)
	assert.Same(t, r, got)

	_, phase, ok := s.lookup(id)
	assert.True(t, ok)
	assert.Equal(t, phaseAwaitingPubcomp, phase)
	assert.Equal(t, "awaitingPubcomp", phase.String())

	_, ok = s.take(id, func(_ *Result, p pendingPhase) bool { return p == phaseAwaitingAck })
	assert.False(t, ok)
	_, ok = s.take(id, func(_ *Result, p pendingPhase) bool { return p == phaseAwaitingPubcomp })
	assert.True(t, ok)

	_, _, ok = s.lookup(id)
	assert.False(t, ok)
}

func TestPendingRemove(t *testing.T) {
	s := newPendingStore()
	r := newResult(OpPublish, false)
	id, err := s.allocate(r)
	require.NoError(t, err)

	assert.False(t, s.remove(id, newResult(OpPublish, false)), "entry belongs to another result")
	assert.True(t, s.remove(id, r))
	assert.False(t, s.remove(id, r))
}

func TestPendingInbound(t *testing.T) {
	s := newPendingStore()

	_, dup := s.markInbound(7, phaseAwaitingPubrel)
	assert.False(t, dup)
	prev, dup := s.markInbound(7, phaseAwaitingLocalAck)
	assert.True(t, dup)
	assert.Equal(t, phaseAwaitingPubrel, prev)

	_, dup = s.markInbound(8, phaseAwaitingLocalAck)
	assert.False(t, dup)
	assert.Equal(t, 2, s.inboundLen())
	assert.Equal(t, []uint16{7}, s.inboundAwaitingPubrel())

	assert.False(t, s.releaseInbound(7, phaseAwaitingLocalAck))
	assert.True(t, s.releaseInbound(7, phaseAwaitingPubrel))
	assert.False(t, s.releaseInbound(9, phaseAwaitingPubrel))

	s.resetInbound()
	assert.Zero(t, s.inboundLen())

	s.inheritAwaitingPubrel([]uint16{3, 4})
	assert.ElementsMatch(t, []uint16{3, 4}, s.inboundAwaitingPubrel())
}

func TestPendingDrain(t *testing.T) {
	s := newPendingStore()
	for range 3 {
		_, err := s.allocate(newResult(OpPublish, false))
		require.NoError(t, err)
	}
	s.markInbound(5, phaseAwaitingPubrel)

	assert.Len(t, s.drain(true), 3)
	assert.Zero(t, s.outboundLen())
	assert.Equal(t, 1, s.inboundLen())

	s.drain(false)
	assert.Zero(t, s.inboundLen())
}
