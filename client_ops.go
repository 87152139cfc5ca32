package mqttclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrFeatureNotSupported is returned when a request uses a feature the
// server announced it does not support.
var ErrFeatureNotSupported = errors.New("feature not supported by server")

// Publish sends msg. QoS 0 completes as soon as the packet is written. QoS 1
// and 2 wait for PUBACK or PUBCOMP unless WithAsync is given; the number of
// unacknowledged publishes is bounded by the server's Receive Maximum, and
// Publish blocks on ctx while that quota is used up.
func (c *Client) Publish(ctx context.Context, msg *Message, opts ...OpOption) (*Result, error) {
	if err := c.checkConnected(); err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrInvalidOption)
	}
	if err := ValidateTopicName(msg.Topic); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}
	if err := validQoS(msg.QoS); err != nil {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQoS, msg.QoS)
	}

	info := c.ConnectionInfo()
	if msg.QoS > info.MaximumQoS {
		return nil, fmt.Errorf("%w: QoS %d, server maximum %d", ErrQoSNotSupported, msg.QoS, info.MaximumQoS)
	}
	if msg.Retain && !info.RetainAvailable {
		return nil, ErrRetainNotSupported
	}

	if l := c.options.publishLimiter; l != nil {
		if err := l.Wait(ctx); err != nil {
			return nil, err
		}
	}

	o := applyOpOptions(opts)
	pkt := &PublishPacket{
		Topic:   msg.Topic,
		QoS:     msg.QoS,
		Retain:  msg.Retain,
		Payload: msg.Payload,
	}
	if c.options.version >= ProtocolV5 {
		pkt.Props = msg.properties()
	}

	if msg.QoS == 0 {
		r := newResult(OpPublish, o.async)
		c.traceResult(ctx, r, attrTopic.String(msg.Topic), attrQoS.Int(0))
		c.watchAsync(r)
		err := c.writePublish(pkt)
		if err == nil {
			c.metrics.published(0)
		}
		r.fail(err)
		return r, err
	}

	if err := c.flow.Acquire(ctx); err != nil {
		return nil, err
	}
	c.metrics.inFlight(c.flow.InFlight())

	r := newResult(OpPublish, o.async)
	r.qos = msg.QoS
	r.onComplete(func(*Result) {
		c.flow.Release()
		c.metrics.inFlight(c.flow.InFlight())
	})
	c.traceResult(ctx, r, attrTopic.String(msg.Topic), attrQoS.Int(int(msg.QoS)))
	c.watchAsync(r)

	id, err := c.pending.allocate(r)
	if err != nil {
		r.fail(err)
		return r, err
	}
	pkt.PacketID = id

	if err := c.writePublish(pkt); err != nil {
		c.pending.remove(id, r)
		r.fail(err)
		return r, err
	}
	c.metrics.published(msg.QoS)

	c.logger.Debug("PUBLISH sent", LogFields{
		LogFieldTopic:    msg.Topic,
		LogFieldQoS:      msg.QoS,
		LogFieldPacketID: id,
	})

	if o.async {
		return r, nil
	}
	return r, c.await(ctx, r)
}

// writePublish writes pkt, replacing its topic with an outbound alias once
// the alias is bound. Assignment and write happen under aliasMu so the
// binding frame always precedes frames that use the alias; an alias assigned
// to a frame that was never written is released.
func (c *Client) writePublish(pkt *PublishPacket) error {
	aliases := c.aliases.Load()
	if c.options.version < ProtocolV5 || aliases.outboundMax() == 0 {
		return c.writePacket(pkt)
	}

	c.aliasMu.Lock()
	defer c.aliasMu.Unlock()

	topic := pkt.Topic
	alias, bound := aliases.outboundFor(topic)
	if alias != 0 {
		pkt.Props.Add(PropTopicAlias, alias)
		if bound {
			pkt.Topic = ""
		}
	}

	err := c.writePacket(pkt)
	if err != nil && alias != 0 && !bound {
		aliases.release(topic, alias)
	}
	return err
}

// Subscribe sends SUBSCRIBE and, unless WithAsync is given, waits for SUBACK.
// A Result with one reason code per filter is returned even when some
// filters were refused; Err reports the first refusal.
func (c *Client) Subscribe(ctx context.Context, subs []Subscription, opts ...OpOption) (*Result, error) {
	if err := c.checkConnected(); err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ErrNoSubscriptions
	}

	o := applyOpOptions(opts)
	info := c.ConnectionInfo()

	filters := make([]string, 0, len(subs))
	for _, s := range subs {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTopic, err)
		}
		if !info.WildcardAvailable && containsWildcard(s.Filter) {
			return nil, fmt.Errorf("%w: wildcard subscriptions", ErrFeatureNotSupported)
		}
		if !info.SharedAvailable && isSharedSubscription(s.Filter) {
			return nil, fmt.Errorf("%w: shared subscriptions", ErrFeatureNotSupported)
		}
		filters = append(filters, s.Filter)
	}

	pkt := &SubscribePacket{Subscriptions: subs}
	if o.subscriptionID != 0 {
		if !info.SubIDAvailable {
			return nil, fmt.Errorf("%w: subscription identifiers", ErrFeatureNotSupported)
		}
		if o.subscriptionID > maxVarint {
			return nil, fmt.Errorf("%w: subscription identifier %d", ErrInvalidOption, o.subscriptionID)
		}
		pkt.Props.Add(PropSubscriptionIdentifier, o.subscriptionID)
	}
	if c.options.version >= ProtocolV5 {
		for _, up := range o.userProperties {
			pkt.Props.Add(PropUserProperty, up)
		}
	}

	r := newResult(OpSubscribe, o.async)
	r.expect = len(subs)
	c.traceResult(ctx, r, attrFilters.String(strings.Join(filters, ",")))

	if err := c.send(r, func(id uint16) packet {
		pkt.PacketID = id
		return pkt
	}); err != nil {
		return r, err
	}

	c.logger.Debug("SUBSCRIBE sent", LogFields{
		LogFieldPacketID: r.PacketID(),
		"filters":        filters,
	})

	if o.async {
		return r, nil
	}
	return r, c.await(ctx, r)
}

// Unsubscribe sends UNSUBSCRIBE and, unless WithAsync is given, waits for UNSUBACK.
func (c *Client) Unsubscribe(ctx context.Context, filters []string, opts ...OpOption) (*Result, error) {
	if err := c.checkConnected(); err != nil {
		return nil, err
	}
	if len(filters) == 0 {
		return nil, ErrNoSubscriptions
	}
	for _, f := range filters {
		if err := ValidateTopicFilter(f); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTopic, err)
		}
	}

	o := applyOpOptions(opts)
	pkt := &UnsubscribePacket{Filters: filters}
	if c.options.version >= ProtocolV5 {
		for _, up := range o.userProperties {
			pkt.Props.Add(PropUserProperty, up)
		}
	}

	r := newResult(OpUnsubscribe, o.async)
	r.expect = len(filters)
	c.traceResult(ctx, r, attrFilters.String(strings.Join(filters, ",")))

	if err := c.send(r, func(id uint16) packet {
		pkt.PacketID = id
		return pkt
	}); err != nil {
		return r, err
	}

	if o.async {
		return r, nil
	}
	return r, c.await(ctx, r)
}

// send allocates a packet identifier for r and writes the packet build returns.
func (c *Client) send(r *Result, build func(id uint16) packet) error {
	c.watchAsync(r)

	id, err := c.pending.allocate(r)
	if err != nil {
		r.fail(err)
		return err
	}

	if err := c.writePacket(build(id)); err != nil {
		c.pending.remove(id, r)
		r.fail(err)
		return err
	}
	return nil
}

// await waits for r, bounded by ctx and the acknowledgment timeout. A local
// timeout fails r and forgets its packet identifier; the connection stays up.
func (c *Client) await(ctx context.Context, r *Result) error {
	timer := time.NewTimer(c.options.ackTimeout)
	defer timer.Stop()

	select {
	case <-r.Done():
		return r.Err()
	case <-timer.C:
		c.abandon(r, ErrTimeout)
	case <-ctx.Done():
		c.abandon(r, ctx.Err())
	}
	return r.Err()
}

func (c *Client) abandon(r *Result, err error) {
	c.pending.remove(r.PacketID(), r)
	if r.fail(err) {
		c.logger.Warn("operation abandoned", LogFields{
			LogFieldPacketID: r.PacketID(),
			"operation":      r.Kind().String(),
			LogFieldError:    err.Error(),
		})
	}
}

// Reauthenticate starts a v5 re-authentication with the configured
// authenticator and waits for the server's AUTH with Success.
func (c *Client) Reauthenticate(ctx context.Context) (*Result, error) {
	if err := c.checkConnected(); err != nil {
		return nil, err
	}
	if c.auth == nil {
		return nil, fmt.Errorf("%w: no enhanced authenticator configured", ErrInvalidOption)
	}

	r := newResult(OpAuth, false)
	c.mu.Lock()
	if c.reauth != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: re-authentication in progress", ErrInvalidOption)
	}
	c.reauth = r
	c.mu.Unlock()
	c.traceResult(ctx, r)

	data, err := c.auth.start(ctx)
	if err == nil {
		err = c.writePacket(c.auth.authPacket(ReasonReAuth, data))
	}
	if err != nil {
		c.clearReauth(r)
		r.fail(err)
		return r, err
	}

	timer := time.NewTimer(c.options.ackTimeout)
	defer timer.Stop()

	select {
	case <-r.Done():
	case <-timer.C:
		c.clearReauth(r)
		r.fail(ErrTimeout)
	case <-ctx.Done():
		c.clearReauth(r)
		r.fail(ctx.Err())
	}
	return r, r.Err()
}

func (c *Client) clearReauth(r *Result) {
	c.mu.Lock()
	if c.reauth == r {
		c.reauth = nil
	}
	c.mu.Unlock()
}
