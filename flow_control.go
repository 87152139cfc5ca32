package mqttclient

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrQuotaExceeded          = errors.New("send quota exceeded")
	ErrReceiveMaximumExceeded = errors.New("server exceeded receive maximum")
)

const defaultReceiveMaximum = 65535

// flowController bounds the number of outbound QoS > 0 publishes that are sent
// but not yet acknowledged. The bound is the smaller of the local setting and
// the server's Receive Maximum.
type flowController struct {
	mu       sync.Mutex
	maximum  uint16
	inFlight uint16
	released chan struct{}
}

func newFlowController(maximum uint16) *flowController {
	if maximum == 0 {
		maximum = defaultReceiveMaximum
	}
	return &flowController{
		maximum:  maximum,
		released: make(chan struct{}),
	}
}

// Maximum returns the current quota.
func (f *flowController) Maximum() uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maximum
}

// clamp lowers the quota to limit. It never raises it.
func (f *flowController) clamp(limit uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit != 0 && limit < f.maximum {
		f.maximum = limit
	}
}

// InFlight returns the current number of in-flight messages.
func (f *flowController) InFlight() uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}

// Acquire takes one slot, waiting for a Release while the quota is used up.
func (f *flowController) Acquire(ctx context.Context) error {
	for {
		f.mu.Lock()
		if f.inFlight < f.maximum {
			f.inFlight++
			f.mu.Unlock()
			return nil
		}
		wait := f.released
		f.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return errors.Join(ErrQuotaExceeded, ctx.Err())
		}
	}
}

// Release returns one slot and wakes waiters.
func (f *flowController) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.inFlight > 0 {
		f.inFlight--
	}
	close(f.released)
	f.released = make(chan struct{})
}

// Reset drops all slots and wakes waiters.
func (f *flowController) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.inFlight = 0
	close(f.released)
	f.released = make(chan struct{})
}
