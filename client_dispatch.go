package mqttclient

import (
	"context"
	"fmt"
)

// Handler receives messages and events on the client's dispatch goroutine.
// Calls are serialized, in arrival order.
type Handler interface {
	// OnMessage is called for each inbound message. For QoS 1 with auto-ack
	// enabled, the returned code is sent in PUBACK (v5).
	OnMessage(c *Client, msg *Message) ReasonCode

	// OnDisconnect is called once after the client closes, with the error
	// that closed it.
	OnDisconnect(c *Client, err error)

	// OnComplete is called when an operation started with WithAsync or
	// ConnectAsync completes.
	OnComplete(c *Client, r *Result)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Message    func(c *Client, msg *Message) ReasonCode
	Disconnect func(c *Client, err error)
	Complete   func(c *Client, r *Result)
}

// OnMessage implements Handler.
func (h HandlerFuncs) OnMessage(c *Client, msg *Message) ReasonCode {
	if h.Message == nil {
		return ReasonSuccess
	}
	return h.Message(c, msg)
}

// OnDisconnect implements Handler.
func (h HandlerFuncs) OnDisconnect(c *Client, err error) {
	if h.Disconnect != nil {
		h.Disconnect(c, err)
	}
}

// OnComplete implements Handler.
func (h HandlerFuncs) OnComplete(c *Client, r *Result) {
	if h.Complete != nil {
		h.Complete(c, r)
	}
}

// delivery is one item on the delivery queue: a message or a completed
// asynchronous result.
type delivery struct {
	msg    *Message
	result *Result
}

// watchAsync queues r for Handler.OnComplete once it completes.
func (c *Client) watchAsync(r *Result) {
	if !r.async || c.options.handler == nil {
		return
	}
	r.onComplete(func(r *Result) {
		c.enqueue(delivery{result: r})
	})
}

// deliver hands msg to the consumer. Without a handler or blocking receive
// the message is acknowledged and dropped.
func (c *Client) deliver(msg *Message) {
	c.metrics.delivered(msg.QoS)

	if c.options.handler == nil && !c.options.blockingReceive {
		c.logger.Debug("message dropped, no consumer", LogFields{
			LogFieldTopic:    msg.Topic,
			LogFieldPacketID: msg.PacketID,
		})
		if msg.QoS == 1 {
			if err := c.ackMessage(msg, ReasonSuccess); err != nil {
				c.logger.Debug("PUBACK not sent", LogFields{LogFieldError: err.Error()})
			}
		}
		return
	}

	c.enqueue(delivery{msg: msg})
}

// enqueue blocks while the queue is full, so a slow consumer stops the
// receive loop. Nothing is queued after the client closes.
func (c *Client) enqueue(d delivery) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.deliveries <- d:
		c.metrics.queueDepth(len(c.deliveries))
		return true
	case <-c.closed:
		return false
	}
}

func (c *Client) dispatchLoop() {
	defer close(c.dispatchDone)

	h := c.options.handler
	for {
		select {
		case d := <-c.deliveries:
			c.dispatch(h, d)
		case <-c.closed:
			for {
				select {
				case d := <-c.deliveries:
					c.dispatch(h, d)
				default:
					h.OnDisconnect(c, c.Err())
					return
				}
			}
		}
	}
}

func (c *Client) dispatch(h Handler, d delivery) {
	c.metrics.queueDepth(len(c.deliveries))

	if d.result != nil {
		h.OnComplete(c, d.result)
		return
	}

	code := h.OnMessage(c, d.msg)
	if !c.options.autoAck || d.msg.QoS != 1 {
		return
	}
	if !code.ValidFor(PacketPUBACK) {
		code = ReasonUnspecifiedError
	}
	if err := c.ackMessage(d.msg, code); err != nil {
		c.logger.Debug("PUBACK not sent", LogFields{
			LogFieldPacketID: d.msg.PacketID,
			LogFieldError:    err.Error(),
		})
	}
}

// Receive returns the next inbound message, waiting until one arrives, ctx
// is done or the client closes. Messages already queued are still returned
// after the client closes; then the closing error is. Requires
// WithBlockingReceive.
func (c *Client) Receive(ctx context.Context) (*Message, error) {
	if c.options.handler != nil {
		return nil, ErrHandlerConfigured
	}
	if !c.options.blockingReceive {
		return nil, fmt.Errorf("%w: blocking receive not enabled", ErrInvalidOption)
	}

	var d delivery
	select {
	case d = <-c.deliveries:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		select {
		case d = <-c.deliveries:
		default:
			return nil, c.Err()
		}
	}

	c.metrics.queueDepth(len(c.deliveries))
	if c.options.autoAck && d.msg.QoS == 1 {
		if err := c.ackMessage(d.msg, ReasonSuccess); err != nil {
			c.logger.Debug("PUBACK not sent", LogFields{
				LogFieldPacketID: d.msg.PacketID,
				LogFieldError:    err.Error(),
			})
		}
	}
	return d.msg, nil
}

// Acknowledge sends PUBACK for a QoS 1 message when auto-ack is disabled. The
// code is ignored before v5. QoS 0 and QoS 2 messages need no acknowledgment
// from the consumer.
func (c *Client) Acknowledge(msg *Message, code ReasonCode) error {
	if msg == nil || msg.QoS != 1 {
		return nil
	}
	if !code.ValidFor(PacketPUBACK) {
		return fmt.Errorf("%w: PUBACK reason code %s", ErrInvalidOption, code)
	}
	return c.ackMessage(msg, code)
}

func (c *Client) ackMessage(msg *Message, code ReasonCode) error {
	if err := c.checkConnected(); err != nil {
		return err
	}
	if !c.pending.releaseInbound(msg.PacketID, phaseAwaitingLocalAck) {
		return ErrAckNotPending
	}
	return c.sendAck(PacketPUBACK, msg.PacketID, code)
}
