package mqttclient

import (
	"errors"
	"fmt"
	"sync"
)

var ErrTopicAliasInvalid = errors.New("topic alias invalid")

// topicAliases holds the two alias tables of a connection. Each table has a
// fixed size equal to the negotiated maximum for its direction; size 0
// disables aliasing that way.
type topicAliases struct {
	mu sync.Mutex

	// outbound[alias-1] is the topic we bound to alias.
	outbound   []string
	outboundBy map[string]uint16

	// inbound[alias-1] is the topic the server bound to alias.
	inbound []string
}

func newTopicAliases(inboundMax, outboundMax uint16) *topicAliases {
	return &topicAliases{
		outbound:   make([]string, 0, outboundMax),
		outboundBy: make(map[string]uint16, outboundMax),
		inbound:    make([]string, inboundMax),
	}
}

// outboundFor returns the alias for topic. bound is false when the alias was
// just assigned, in which case the full topic must accompany it. alias is 0
// when aliasing is off or the table is full.
func (a *topicAliases) outboundFor(topic string) (alias uint16, bound bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if alias, ok := a.outboundBy[topic]; ok {
		return alias, true
	}

	if len(a.outbound) == cap(a.outbound) {
		return 0, false
	}

	a.outbound = append(a.outbound, topic)
	alias = uint16(len(a.outbound))
	a.outboundBy[topic] = alias
	return alias, false
}

// resolveInbound applies the alias of an inbound PUBLISH. A non-empty topic
// (re)binds the alias; an empty one is looked up.
func (a *topicAliases) resolveInbound(alias uint16, topic string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if alias == 0 || int(alias) > len(a.inbound) {
		return "", fmt.Errorf("%w: alias %d outside 1..%d", ErrTopicAliasInvalid, alias, len(a.inbound))
	}

	if topic != "" {
		a.inbound[alias-1] = topic
		return topic, nil
	}

	bound := a.inbound[alias-1]
	if bound == "" {
		return "", fmt.Errorf("%w: alias %d not bound", ErrTopicAliasInvalid, alias)
	}
	return bound, nil
}

// release undoes the assignment of alias to topic when the PUBLISH carrying
// the binding was not written. Only the most recent assignment can be
// released.
func (a *topicAliases) release(topic string, alias uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if int(alias) != len(a.outbound) || a.outbound[alias-1] != topic {
		return
	}
	a.outbound = a.outbound[:alias-1]
	delete(a.outboundBy, topic)
}

// outboundMax returns the outbound table size.
func (a *topicAliases) outboundMax() uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return uint16(cap(a.outbound))
}
