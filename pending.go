package mqttclient

import (
	"errors"
	"sync"
)

var (
	ErrPacketIDExhausted = errors.New("no available packet IDs")
	ErrPacketIDInUse     = errors.New("packet ID already in use")
)

// pendingPhase is the acknowledgment a pending entry is waiting for.
type pendingPhase uint8

const (
	// Outbound: the first acknowledgment (CONNACK, PUBACK, PUBREC, SUBACK, UNSUBACK).
	phaseAwaitingAck pendingPhase = iota + 1

	// Outbound QoS 2 after PUBREC and PUBREL.
	phaseAwaitingPubcomp

	// Inbound QoS 1 delivered but not yet acknowledged by the consumer.
	phaseAwaitingLocalAck

	// Inbound QoS 2 after PUBREC, waiting for the server's PUBREL.
	phaseAwaitingPubrel
)

func (p pendingPhase) String() string {
	switch p {
	case phaseAwaitingAck:
		return "awaitingAck"
	case phaseAwaitingPubcomp:
		return "awaitingPubcomp"
	case phaseAwaitingLocalAck:
		return "awaitingLocalAck"
	case phaseAwaitingPubrel:
		return "awaitingPubrel"
	default:
		return "unknown"
	}
}

type pendingEntry struct {
	result *Result
	phase  pendingPhase
}

// pendingStore correlates packet identifiers with in-flight operations. Outbound
// and inbound identifiers are separate key spaces, since each side allocates its
// own. One mutex covers both maps and the identifier counter.
type pendingStore struct {
	mu       sync.Mutex
	nextID   uint16
	outbound map[uint16]*pendingEntry
	inbound  map[uint16]pendingPhase
}

func newPendingStore() *pendingStore {
	return &pendingStore{
		nextID:   1,
		outbound: make(map[uint16]*pendingEntry),
		inbound:  make(map[uint16]pendingPhase),
	}
}

// allocate picks a free packet identifier for r and registers it awaiting its
// first acknowledgment.
func (s *pendingStore) allocate(r *Result) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for range maxUint16 {
		id := s.nextID
		s.nextID++
		if s.nextID == 0 {
			s.nextID = 1
		}

		if _, used := s.outbound[id]; !used {
			s.outbound[id] = &pendingEntry{result: r, phase: phaseAwaitingAck}
			r.setPacketID(id)
			return id, nil
		}
	}

	return 0, ErrPacketIDExhausted
}

// register adds r under a fixed identifier. CONNECT uses id 0.
func (s *pendingStore) register(id uint16, r *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, used := s.outbound[id]; used {
		return ErrPacketIDInUse
	}
	s.outbound[id] = &pendingEntry{result: r, phase: phaseAwaitingAck}
	r.setPacketID(id)
	return nil
}

// resolve removes and returns the entry for id if it belongs to an operation
// of kind and is in phase.
func (s *pendingStore) resolve(id uint16, phase pendingPhase, kind OpKind) (*Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.outbound[id]
	if !ok || e.phase != phase || e.result.kind != kind {
		return nil, false
	}
	delete(s.outbound, id)
	return e.result, true
}

// take removes and returns the entry for id if match accepts it.
func (s *pendingStore) take(id uint16, match func(r *Result, phase pendingPhase) bool) (*Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.outbound[id]
	if !ok || !match(e.result, e.phase) {
		return nil, false
	}
	delete(s.outbound, id)
	return e.result, true
}

// lookup returns the entry for id without removing it.
func (s *pendingStore) lookup(id uint16) (*Result, pendingPhase, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.outbound[id]
	if !ok {
		return nil, 0, false
	}
	return e.result, e.phase, true
}

// advance moves a QoS 2 publish from one phase to the next, keeping the same Result.
func (s *pendingStore) advance(id uint16, from, to pendingPhase) (*Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.outbound[id]
	if !ok || e.phase != from || e.result.kind != OpPublish || e.result.qos != 2 {
		return nil, false
	}
	e.phase = to
	return e.result, true
}

// remove drops id only if it still belongs to r.
func (s *pendingStore) remove(id uint16, r *Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.outbound[id]
	if !ok || e.result != r {
		return false
	}
	delete(s.outbound, id)
	return true
}

// drain removes every outbound entry and returns the results. Inbound state is
// dropped unless keepInbound is set.
func (s *pendingStore) drain(keepInbound bool) []*Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]*Result, 0, len(s.outbound))
	for id, e := range s.outbound {
		results = append(results, e.result)
		delete(s.outbound, id)
	}

	if !keepInbound {
		clear(s.inbound)
	}
	return results
}

// outboundLen returns the number of outbound entries.
func (s *pendingStore) outboundLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outbound)
}

// markInbound records an inbound identifier. It returns the previous phase if
// the identifier was already tracked.
func (s *pendingStore) markInbound(id uint16, phase pendingPhase) (pendingPhase, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.inbound[id]
	if !ok {
		s.inbound[id] = phase
	}
	return prev, ok
}

// releaseInbound forgets id if it is in phase.
func (s *pendingStore) releaseInbound(id uint16, phase pendingPhase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inbound[id] != phase {
		return false
	}
	delete(s.inbound, id)
	return true
}

// inboundLen returns the number of inbound identifiers still tracked.
func (s *pendingStore) inboundLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inbound)
}

// inboundAwaitingPubrel returns the identifiers of QoS 2 messages waiting for PUBREL.
func (s *pendingStore) inboundAwaitingPubrel() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uint16
	for id, phase := range s.inbound {
		if phase == phaseAwaitingPubrel {
			ids = append(ids, id)
		}
	}
	return ids
}

// resetInbound forgets all inbound identifiers. Used when the server did not
// resume the session.
func (s *pendingStore) resetInbound() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.inbound)
}

// inheritAwaitingPubrel seeds the inbound table of a renewed connection.
func (s *pendingStore) inheritAwaitingPubrel(ids []uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.inbound[id] = phaseAwaitingPubrel
	}
}
