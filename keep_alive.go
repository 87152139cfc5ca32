package mqttclient

import "time"

// keepAliveLoop sends PINGREQ once no packet has crossed the connection in
// either direction for the keep-alive interval, then waits one more interval
// for PINGRESP. A missing PINGRESP closes the connection with
// ErrKeepAliveTimeout.
func (c *Client) keepAliveLoop(interval time.Duration) {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
		case <-c.watchdogStop:
			return
		case <-c.closed:
			return
		}

		if wait := time.Until(c.idleSince().Add(interval)); wait > 0 {
			timer.Reset(wait)
			continue
		}

		select {
		case <-c.pingResp:
		default:
		}

		if err := c.writePacket(&PingPacket{PacketType: PacketPINGREQ}); err != nil {
			c.logger.Debug("PINGREQ not sent", LogFields{LogFieldError: err.Error()})
			return
		}

		if !c.awaitPingResp(interval) {
			return
		}
		timer.Reset(max(time.Until(c.idleSince().Add(interval)), time.Millisecond))
	}
}

// awaitPingResp reports whether PINGRESP arrived in time. It closes the
// connection when it did not.
func (c *Client) awaitPingResp(timeout time.Duration) bool {
	wait := time.NewTimer(timeout)
	defer wait.Stop()

	select {
	case <-c.pingResp:
		return true
	case <-c.watchdogStop:
		return false
	case <-c.closed:
		return false
	case <-wait.C:
	}

	c.timedOut.Store(true)
	c.metrics.keepAliveTimeout()
	c.logger.Warn("no PINGRESP within keep-alive", LogFields{
		LogFieldClientID:  c.ClientID(),
		LogFieldKeepAlive: timeout.String(),
	})
	c.transport.Terminate()
	c.teardown(ErrKeepAliveTimeout)
	return false
}

// idleSince returns the time of the most recent inbound or outbound packet.
func (c *Client) idleSince() time.Time {
	return time.Unix(0, max(c.lastInbound.Load(), c.lastOutbound.Load()))
}

func (c *Client) stopWatchdog() {
	c.watchdogOnce.Do(func() {
		close(c.watchdogStop)
	})
}
