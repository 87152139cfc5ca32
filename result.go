package mqttclient

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// OpKind identifies the request a Result belongs to.
type OpKind uint8

// Operation kinds.
const (
	OpConnect OpKind = iota + 1
	OpPublish
	OpSubscribe
	OpUnsubscribe
	OpDisconnect
	OpAuth
)

// String returns the operation name.
func (k OpKind) String() string {
	switch k {
	case OpConnect:
		return "connect"
	case OpPublish:
		return "publish"
	case OpSubscribe:
		return "subscribe"
	case OpUnsubscribe:
		return "unsubscribe"
	case OpDisconnect:
		return "disconnect"
	case OpAuth:
		return "auth"
	default:
		return fmt.Sprintf("op(%d)", uint8(k))
	}
}

// Result tracks one in-flight request. It is completed exactly once, by the
// receive loop, the keep-alive watchdog or a local timeout, and then its Done
// channel is closed.
type Result struct {
	kind    OpKind
	async   bool
	qos     byte
	expect  int // filters in a SUBSCRIBE or UNSUBSCRIBE
	started time.Time
	done    chan struct{}

	mu             sync.Mutex
	packetID       uint16
	completed      bool
	reasonCode     ReasonCode
	reasonCodes    []ReasonCode
	reasonString   string
	userProps      []StringPair
	sessionPresent bool
	err            error
	hooks          []func(*Result)
}

func newResult(kind OpKind, async bool) *Result {
	return &Result{
		kind:    kind,
		async:   async,
		started: time.Now(),
		done:    make(chan struct{}),
	}
}

// Kind returns the operation kind.
func (r *Result) Kind() OpKind { return r.kind }

// PacketID returns the packet identifier used by the request, 0 for CONNECT and QoS 0.
func (r *Result) PacketID() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.packetID
}

// Async reports whether completion is delivered through the handler.
func (r *Result) Async() bool { return r.async }

// Done is closed when the result completes.
func (r *Result) Done() <-chan struct{} { return r.done }

// IsDone reports whether the result has completed.
func (r *Result) IsDone() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Wait blocks until completion or until timeout elapses. A zero timeout waits forever.
// On timeout ErrTimeout is returned and the result stays pending.
func (r *Result) Wait(timeout time.Duration) error {
	if timeout <= 0 {
		<-r.done
		return r.Err()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-r.done:
		return r.Err()
	case <-timer.C:
		return ErrTimeout
	}
}

// WaitContext blocks until completion or until ctx is done.
func (r *Result) WaitContext(ctx context.Context) error {
	select {
	case <-r.done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the failure, if any. A failing reason code is reported as *OperationError.
func (r *Result) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// ReasonCode returns the reason code of the acknowledgment.
func (r *Result) ReasonCode() ReasonCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reasonCode
}

// ReasonCodes returns the per-filter codes of SUBACK or UNSUBACK.
func (r *Result) ReasonCodes() []ReasonCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ReasonCode(nil), r.reasonCodes...)
}

// ReasonString returns the server's reason string (v5).
func (r *Result) ReasonString() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reasonString
}

// UserProperties returns the user properties of the acknowledgment (v5).
func (r *Result) UserProperties() []StringPair {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StringPair(nil), r.userProps...)
}

// SessionPresent returns the CONNACK session present flag.
func (r *Result) SessionPresent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionPresent
}

// String describes the result for logs.
func (r *Result) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("Result{%s id=%d done=%t rc=%#02x err=%v}",
		r.kind, r.packetID, r.completed, byte(r.reasonCode), r.err)
}

func (r *Result) setPacketID(id uint16) {
	r.mu.Lock()
	r.packetID = id
	r.mu.Unlock()
}

// onComplete registers fn to run after completion. If the result is already
// complete fn runs immediately.
func (r *Result) onComplete(fn func(*Result)) {
	r.mu.Lock()
	if !r.completed {
		r.hooks = append(r.hooks, fn)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	fn(r)
}

// complete applies set and signals waiters. Only the first call has any effect.
func (r *Result) complete(set func(*Result)) bool {
	r.mu.Lock()
	if r.completed {
		r.mu.Unlock()
		return false
	}
	r.completed = true
	if set != nil {
		set(r)
	}
	hooks := r.hooks
	r.hooks = nil
	r.mu.Unlock()

	close(r.done)

	for _, fn := range hooks {
		fn(r)
	}
	return true
}

// fail completes the result with err.
func (r *Result) fail(err error) bool {
	return r.complete(func(r *Result) { r.err = err })
}

// The propertyTarget methods run inside complete, with r.mu held.

func (r *Result) onInt(id PropertyID, _ uint32) error {
	return fmt.Errorf("%w: %s in acknowledgment", ErrPropertyNotAllowed, id)
}

func (r *Result) onString(id PropertyID, v string) error {
	if id != PropReasonString {
		return fmt.Errorf("%w: %s in acknowledgment", ErrPropertyNotAllowed, id)
	}
	r.reasonString = v
	return nil
}

func (r *Result) onBytes(id PropertyID, _ []byte) error {
	return fmt.Errorf("%w: %s in acknowledgment", ErrPropertyNotAllowed, id)
}

func (r *Result) onNamePair(_ PropertyID, v StringPair) error {
	r.userProps = append(r.userProps, v)
	return nil
}
