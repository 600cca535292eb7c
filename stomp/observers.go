package stomp

import "gostomp/frame"

// Protocol returns the negotiated STOMP version of the current (or most
// recently established) connection.
func (c *Connection) Protocol() frame.Version { return c.protocolVersion() }

// SessionID returns the broker-assigned session identifier, empty if
// never connected or the broker omitted it.
func (c *Connection) SessionID() string {
	if st := c.state.Load(); st != nil {
		return st.SessionID
	}
	return ""
}

// ConnectionFrame returns the CONNECTED frame from the most recent
// successful negotiation.
func (c *Connection) ConnectionFrame() *frame.Frame {
	if st := c.state.Load(); st != nil {
		return st.ConnectFrame
	}
	return nil
}

// DisconnectReceipt returns the RECEIPT frame Disconnect waited for, nil
// until Disconnect completes one.
func (c *Connection) DisconnectReceipt() *frame.Frame {
	if st := c.state.Load(); st != nil {
		return st.DisconnectReceipt
	}
	return nil
}

// HBReceived reports whether the heartbeat monitor currently considers
// the peer alive.
func (c *Connection) HBReceived() bool {
	if hb := c.hb.Load(); hb != nil {
		return hb.Received()
	}
	return false
}

// HBSent reports whether the most recent outbound write, a heartbeat
// byte or a frame, succeeded; false after a failed heartbeat tick.
func (c *Connection) HBSent() bool {
	if hb := c.hb.Load(); hb != nil {
		return hb.Sent()
	}
	return false
}

// HBSendInterval returns the negotiated outbound heartbeat interval.
func (c *Connection) HBSendInterval() int64 {
	if hb := c.hb.Load(); hb != nil {
		return hb.SendInterval().Milliseconds()
	}
	return 0
}

// HBRecvInterval returns the negotiated inbound heartbeat monitor
// interval.
func (c *Connection) HBRecvInterval() int64 {
	if hb := c.hb.Load(); hb != nil {
		return hb.RecvInterval().Milliseconds()
	}
	return 0
}

// HBSendCount returns the number of heartbeat bytes sent by the current
// engine.
func (c *Connection) HBSendCount() int64 {
	if hb := c.hb.Load(); hb != nil {
		return hb.SendCount()
	}
	return 0
}

// HBRecvCount returns the number of frames or heartbeat bytes observed
// by the current engine.
func (c *Connection) HBRecvCount() int64 {
	if hb := c.hb.Load(); hb != nil {
		return hb.RecvCount()
	}
	return 0
}

// ReconnectAttempts returns the host pool's attempt counter since its
// last reset.
func (c *Connection) ReconnectAttempts() int {
	return c.pool.Attempts()
}
