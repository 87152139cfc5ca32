package mqttclient

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// readLoop reads frames until the transport fails or the client closes.
func (c *Client) readLoop() {
	defer close(c.receiveDone)

	for {
		f, err := c.transport.Receive()
		if err != nil {
			c.receiveFailed(err)
			return
		}

		size := frameSize(len(f.Payload))
		c.lastInbound.Store(time.Now().UnixNano())
		c.metrics.packetReceived(f.Type, size)

		if limit := c.options.maxPacketSize; limit > 0 && uint32(size) > limit {
			c.protocolFailure(fmt.Errorf("%w: %s of %d bytes, limit %d", ErrPacketTooLarge, f.Type, size, limit))
			return
		}

		if err := c.handleFrame(f); err != nil {
			c.protocolFailure(err)
			return
		}

		if c.state.get() == StateClosed {
			return
		}
	}
}

func (c *Client) receiveFailed(err error) {
	select {
	case <-c.closed:
		return
	default:
	}

	switch {
	case c.timedOut.Load():
		c.teardown(ErrKeepAliveTimeout)
	case c.state.get() == StateDisconnecting:
		c.teardown(ErrDisconnected)
	case errors.Is(err, ErrPacketTooLarge), errors.Is(err, ErrMalformedPacket),
		errors.Is(err, ErrUnknownPacketType), errors.Is(err, ErrProtocolError):
		c.protocolFailure(err)
	default:
		c.teardown(NewConnectionLostError(err))
	}
}

// protocolFailure closes the connection after the server broke the protocol.
// On v5 the server is told why with a DISCONNECT first.
func (c *Client) protocolFailure(err error) {
	if !errors.Is(err, ErrProtocolError) {
		err = fmt.Errorf("%w: %w", ErrProtocolError, err)
	}

	code := reasonForError(err)
	c.logger.Error("protocol violation", LogFields{
		LogFieldClientID:   c.ClientID(),
		LogFieldReasonCode: code.String(),
		LogFieldError:      err.Error(),
	})

	if c.options.version >= ProtocolV5 && c.state.get() == StateConnected {
		if werr := c.writePacket(&DisconnectPacket{ReasonCode: code}); werr != nil {
			c.logger.Debug("DISCONNECT not sent", LogFields{LogFieldError: werr.Error()})
		}
	}
	c.teardown(err)
}

func (c *Client) handleFrame(f Frame) error {
	if c.state.get() == StateConnecting {
		switch f.Type {
		case PacketCONNACK, PacketAUTH, PacketDISCONNECT:
		default:
			return newProtocolError(f.Type, errors.New("received before CONNACK"))
		}
	}

	pkt, err := decodePacket(f, c.options.version)
	if err != nil {
		return newProtocolError(f.Type, err)
	}

	if err := c.handlePacket(pkt); err != nil {
		return newProtocolError(f.Type, err)
	}
	return nil
}

func (c *Client) handlePacket(pkt packet) error {
	switch p := pkt.(type) {
	case *ConnackPacket:
		return c.handleConnack(p)
	case *PublishPacket:
		return c.handlePublish(p)
	case *AckPacket:
		switch p.PacketType {
		case PacketPUBACK:
			return c.handlePuback(p)
		case PacketPUBREC:
			return c.handlePubrec(p)
		case PacketPUBREL:
			return c.handlePubrel(p)
		case PacketPUBCOMP:
			return c.handlePubcomp(p)
		}
	case *SubackPacket:
		return c.handleSuback(p)
	case *UnsubackPacket:
		return c.handleUnsuback(p)
	case *PingPacket:
		if p.PacketType == PacketPINGRESP {
			select {
			case c.pingResp <- struct{}{}:
			default:
			}
			return nil
		}
	case *DisconnectPacket:
		return c.handleDisconnect(p)
	case *AuthPacket:
		return c.handleAuth(p)
	}

	return fmt.Errorf("%w: client does not accept %s", ErrInvalidPacketType, pkt.Type())
}

func (c *Client) handleConnack(p *ConnackPacket) error {
	r, ok := c.pending.resolve(0, phaseAwaitingAck, OpConnect)
	if !ok {
		return errors.New("unexpected CONNACK")
	}
	c.stopConnectTimer()

	c.mu.Lock()
	info := c.info
	c.mu.Unlock()
	info.UserProperties = nil

	if err := p.Props.Visit(&info); err != nil {
		r.fail(err)
		return err
	}
	info.SessionPresent = p.SessionPresent

	c.mu.Lock()
	c.info = info
	c.mu.Unlock()

	if p.ReasonCode.IsError() {
		err := NewOperationError(OpConnect, 0, p.ReasonCode, info.ReasonString)
		r.complete(func(r *Result) {
			r.reasonCode = p.ReasonCode
			r.reasonString = info.ReasonString
			r.userProps = info.UserProperties
			r.err = err
		})
		c.metrics.operationFailed(OpConnect, p.ReasonCode)
		c.teardown(err)
		return nil
	}

	if p.SessionPresent && c.options.cleanStart {
		err := errors.New("session present with clean start")
		r.fail(newProtocolError(PacketCONNACK, err))
		return err
	}

	if c.auth != nil {
		if info.AuthMethod != "" && info.AuthMethod != c.auth.auth.AuthMethod() {
			err := fmt.Errorf("%w: server used method %q", ErrAuthFailed, info.AuthMethod)
			r.fail(err)
			c.teardown(err)
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.options.ackTimeout)
		_, err := c.auth.step(ctx, ReasonSuccess, &p.Props)
		cancel()
		if err != nil {
			r.fail(err)
			c.teardown(err)
			return nil
		}
	}

	if !p.SessionPresent {
		c.pending.resetInbound()
	}

	c.flow.clamp(info.ReceiveMaximum)
	if c.options.version >= ProtocolV5 {
		c.aliases.Store(newTopicAliases(c.options.topicAliasMaximum,
			min(c.options.outboundTopicAliasMaximum, info.TopicAliasMaximum)))
	}

	if !c.state.transition(StateConnecting, StateConnected) {
		r.fail(ErrDisconnected)
		return nil
	}

	if info.KeepAlive > 0 {
		go c.keepAliveLoop(time.Duration(info.KeepAlive) * time.Second)
	}

	c.metrics.connected()
	c.logger.Info("connected", LogFields{
		LogFieldClientID:   info.ClientID,
		LogFieldVersion:    c.options.version.String(),
		LogFieldKeepAlive:  info.KeepAlive,
		"session_present":  p.SessionPresent,
		LogFieldReasonCode: p.ReasonCode.String(),
	})

	r.complete(func(r *Result) {
		r.reasonCode = p.ReasonCode
		r.sessionPresent = p.SessionPresent
		r.reasonString = info.ReasonString
		r.userProps = info.UserProperties
	})
	return nil
}

func (c *Client) handlePublish(p *PublishPacket) error {
	msg, err := p.message()
	if err != nil {
		return err
	}

	if msg.TopicAlias != 0 {
		topic, err := c.aliases.Load().resolveInbound(msg.TopicAlias, msg.Topic)
		if err != nil {
			return err
		}
		msg.Topic = topic
	} else if msg.Topic == "" {
		return fmt.Errorf("%w: empty topic without alias", ErrMalformedPacket)
	}

	if err := ValidateTopicName(msg.Topic); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedPacket, err)
	}

	switch msg.QoS {
	case 1:
		if prev, existed := c.pending.markInbound(msg.PacketID, phaseAwaitingLocalAck); existed {
			c.logger.Debug("PUBLISH for unacknowledged packet ID dropped", LogFields{
				LogFieldPacketID: msg.PacketID,
				LogFieldState:    prev.String(),
			})
			return nil
		}
		if err := c.checkReceiveMaximum(); err != nil {
			return err
		}

	case 2:
		prev, existed := c.pending.markInbound(msg.PacketID, phaseAwaitingPubrel)
		if existed {
			code := ReasonSuccess
			if prev != phaseAwaitingPubrel {
				code = ReasonPacketIDInUse
			}
			return c.sendAck(PacketPUBREC, msg.PacketID, code)
		}
		if err := c.checkReceiveMaximum(); err != nil {
			return err
		}
		if err := c.sendAck(PacketPUBREC, msg.PacketID, ReasonSuccess); err != nil {
			return err
		}
	}

	c.deliver(msg)
	return nil
}

func (c *Client) checkReceiveMaximum() error {
	if c.options.version < ProtocolV5 {
		return nil
	}
	if n := c.pending.inboundLen(); n > int(c.options.receiveMaximum) {
		return fmt.Errorf("%w: %d unacknowledged, maximum %d", ErrReceiveMaximumExceeded, n, c.options.receiveMaximum)
	}
	return nil
}

// sendAck writes PUBACK, PUBREC, PUBREL or PUBCOMP. Before v5 the reason code
// is not on the wire.
func (c *Client) sendAck(t PacketType, id uint16, code ReasonCode) error {
	return c.writePacket(&AckPacket{PacketType: t, PacketID: id, ReasonCode: code})
}

func (c *Client) handlePuback(p *AckPacket) error {
	r, ok := c.pending.take(p.PacketID, func(r *Result, phase pendingPhase) bool {
		return r.kind == OpPublish && r.qos == 1 && phase == phaseAwaitingAck
	})
	if !ok {
		c.logger.Debug("PUBACK for unknown packet ID", LogFields{LogFieldPacketID: p.PacketID})
		return nil
	}
	return c.completeAck(r, p)
}

func (c *Client) handlePubrec(p *AckPacket) error {
	if p.ReasonCode.IsError() {
		r, ok := c.pending.take(p.PacketID, func(r *Result, phase pendingPhase) bool {
			return r.kind == OpPublish && r.qos == 2 && phase == phaseAwaitingAck
		})
		if ok {
			return c.completeAck(r, p)
		}
		return nil
	}

	if _, ok := c.pending.advance(p.PacketID, phaseAwaitingAck, phaseAwaitingPubcomp); ok {
		return c.sendAck(PacketPUBREL, p.PacketID, ReasonSuccess)
	}

	if r, phase, ok := c.pending.lookup(p.PacketID); ok && r.kind == OpPublish && phase == phaseAwaitingPubcomp {
		return c.sendAck(PacketPUBREL, p.PacketID, ReasonSuccess)
	}

	c.logger.Debug("PUBREC for unknown packet ID ignored", LogFields{LogFieldPacketID: p.PacketID})
	return nil
}

func (c *Client) handlePubcomp(p *AckPacket) error {
	r, ok := c.pending.take(p.PacketID, func(r *Result, phase pendingPhase) bool {
		return r.kind == OpPublish && phase == phaseAwaitingPubcomp
	})
	if !ok {
		c.logger.Debug("PUBCOMP for unknown packet ID", LogFields{LogFieldPacketID: p.PacketID})
		return nil
	}
	return c.completeAck(r, p)
}

func (c *Client) handlePubrel(p *AckPacket) error {
	if c.pending.releaseInbound(p.PacketID, phaseAwaitingPubrel) {
		return c.sendAck(PacketPUBCOMP, p.PacketID, ReasonSuccess)
	}

	c.logger.Debug("PUBREL for unknown packet ID", LogFields{LogFieldPacketID: p.PacketID})
	return c.sendAck(PacketPUBCOMP, p.PacketID, ReasonPacketIDNotFound)
}

// completeAck finishes a publish with the acknowledgment that ended its flow.
func (c *Client) completeAck(r *Result, p *AckPacket) error {
	var perr error
	r.complete(func(r *Result) {
		r.reasonCode = p.ReasonCode
		if perr = p.Props.Visit(r); perr != nil {
			r.err = newProtocolError(p.PacketType, perr)
			return
		}
		if p.ReasonCode.IsError() {
			r.err = NewOperationError(OpPublish, p.PacketID, p.ReasonCode, r.reasonString)
		}
	})
	if perr != nil {
		return perr
	}

	c.metrics.publishLatency(time.Since(r.started))
	if p.ReasonCode.IsError() {
		c.metrics.operationFailed(OpPublish, p.ReasonCode)
	}
	return nil
}

func (c *Client) handleSuback(p *SubackPacket) error {
	r, ok := c.pending.resolve(p.PacketID, phaseAwaitingAck, OpSubscribe)
	if !ok {
		c.logger.Debug("SUBACK for unknown packet ID", LogFields{LogFieldPacketID: p.PacketID})
		return nil
	}
	return c.completeMulti(r, PacketSUBACK, p.ReasonCodes, &p.Props)
}

func (c *Client) handleUnsuback(p *UnsubackPacket) error {
	r, ok := c.pending.resolve(p.PacketID, phaseAwaitingAck, OpUnsubscribe)
	if !ok {
		c.logger.Debug("UNSUBACK for unknown packet ID", LogFields{LogFieldPacketID: p.PacketID})
		return nil
	}

	codes := p.ReasonCodes
	if c.options.version < ProtocolV5 {
		codes = make([]ReasonCode, r.expect)
	}
	return c.completeMulti(r, PacketUNSUBACK, codes, &p.Props)
}

// completeMulti finishes SUBSCRIBE and UNSUBSCRIBE, which get one reason code
// per filter. The first failing code becomes the Result's reason code.
func (c *Client) completeMulti(r *Result, t PacketType, codes []ReasonCode, props *Properties) error {
	if len(codes) != r.expect {
		err := fmt.Errorf("%w: %d reason codes for %d filters", ErrMalformedPacket, len(codes), r.expect)
		r.fail(newProtocolError(t, err))
		return err
	}

	var perr error
	failed := false
	r.complete(func(r *Result) {
		r.reasonCodes = codes
		r.reasonCode = codes[0]
		for _, code := range codes {
			if code.IsError() {
				r.reasonCode = code
				failed = true
				break
			}
		}
		if perr = props.Visit(r); perr != nil {
			r.err = newProtocolError(t, perr)
			return
		}
		if failed {
			r.err = NewOperationError(r.kind, r.packetID, r.reasonCode, r.reasonString)
		}
	})
	if perr != nil {
		return perr
	}

	if failed {
		c.metrics.operationFailed(r.kind, r.ReasonCode())
	}
	return nil
}

func (c *Client) handleDisconnect(p *DisconnectPacket) error {
	var info ConnectionInfo
	if err := p.Props.Visit(&info); err != nil {
		return err
	}

	err := NewDisconnectError(p.ReasonCode, info.ReasonString, info.ServerReference)
	c.logger.Warn("server sent DISCONNECT", LogFields{
		LogFieldClientID:   c.ClientID(),
		LogFieldReasonCode: p.ReasonCode.String(),
	})
	c.teardown(err)
	return nil
}

func (c *Client) handleAuth(p *AuthPacket) error {
	if c.auth == nil {
		return errors.New("AUTH without enhanced authentication")
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.options.ackTimeout)
	defer cancel()

	switch p.ReasonCode {
	case ReasonContinueAuth:
		res, err := c.auth.step(ctx, p.ReasonCode, &p.Props)
		if err != nil {
			c.failAuth(err)
			return nil
		}
		return c.writePacket(c.auth.authPacket(ReasonContinueAuth, res.AuthData))

	case ReasonSuccess:
		c.mu.Lock()
		r := c.reauth
		c.reauth = nil
		c.mu.Unlock()
		if r == nil {
			return errors.New("AUTH success without re-authentication")
		}

		if _, err := c.auth.step(ctx, p.ReasonCode, &p.Props); err != nil {
			r.fail(err)
			c.teardown(err)
			return nil
		}

		r.complete(func(r *Result) {
			r.reasonCode = ReasonSuccess
			r.reasonString = p.Props.GetString(PropReasonString)
			r.userProps = p.Props.UserProperties()
		})
		c.logger.Info("re-authenticated", LogFields{LogFieldClientID: c.ClientID()})
		return nil

	default:
		return fmt.Errorf("AUTH reason code %s", p.ReasonCode)
	}
}

// failAuth ends the connection when the authenticator rejects a server step.
func (c *Client) failAuth(err error) {
	if c.state.get() == StateConnected {
		if werr := c.writePacket(&DisconnectPacket{ReasonCode: ReasonNotAuthorized}); werr != nil {
			c.logger.Debug("DISCONNECT not sent", LogFields{LogFieldError: werr.Error()})
		}
	}
	c.teardown(err)
}
