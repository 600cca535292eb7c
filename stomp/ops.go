package stomp

import (
	"context"
	"strings"

	"gostomp/frame"
	"gostomp/internal/errs"
)

// transmitFrame encodes and writes f over the current transport under
// transmitMu, marking the heartbeat engine's send timestamp on success.
// A transport failure triggers a synchronous reconnect sweep: if that
// sweep lands a new connection, the original error surfaces as
// KindRetryPending so the caller knows to resend (subscriptions replay
// automatically; ordinary sends don't, since only the caller knows
// whether re-sending a SEND is safe). If the sweep itself fails, its
// error is returned instead.
func (c *Connection) transmitFrame(f *frame.Frame) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := validateOutboundHeaders(f.Headers); err != nil {
		return err
	}

	c.transmitMu.Lock()
	tr := c.tr.Load()
	if tr == nil {
		c.transmitMu.Unlock()
		return errs.ErrNoCurrentConnection
	}
	err := c.writeFrame(tr, f, c.protocolVersion())
	if err == nil {
		if hb := c.hb.Load(); hb != nil {
			hb.MarkSent()
		}
	}
	c.transmitMu.Unlock()

	if err != nil {
		return c.handleTransmitFailure(err)
	}
	return nil
}

func (c *Connection) handleTransmitFailure(err error) error {
	c.logger.Warnw("transmit failed, attempting reconnect", "error", err)
	if rerr := c.reconnect(context.Background()); rerr != nil {
		return rerr
	}
	return errs.Wrap(errs.KindRetryPending, err)
}

// validateOutboundHeaders rejects a header key or value containing an
// embedded NUL — the wire format uses NUL exclusively as the frame
// terminator, so one inside a header would silently truncate the frame
// on the broker's side.
func validateOutboundHeaders(h *frame.Headers) error {
	var bad error
	h.Each(func(k, v string) {
		if bad != nil {
			return
		}
		if strings.IndexByte(k, 0) >= 0 || strings.IndexByte(v, 0) >= 0 {
			bad = errs.New(errs.KindMalformedFrame, "header contains embedded NUL: "+k)
		}
	})
	return bad
}

func mergeHeaders(f *frame.Frame, extra map[string]string) {
	for k, v := range extra {
		f.Headers.Set(k, v)
	}
}

// Subscribe sends SUBSCRIBE for destination and tracks it for replay on
// reconnect (spec.md §4.3, §4.6). Under 1.0, a missing "id" header is
// filled in automatically; from 1.1 onward the id is mandatory (spec.md
// §3, §8: "∀ 1.1+ subscribe lacking both header id and subId: fails")
// and its absence is SubscriptionRequiredError, not a generated value.
// ackMode is sent as the "ack" header when non-empty.
func (c *Connection) Subscribe(destination, ackMode string, headers map[string]string) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}

	id := headers["id"]
	if id == "" {
		if c.protocolVersion().AtLeast11() {
			return "", errs.ErrSubscriptionRequired
		}
		id = c.nextID("sub")
	}

	c.subsMu.Lock()
	if _, exists := c.subs[id]; exists {
		c.subsMu.Unlock()
		return "", errs.ErrDuplicateSubscription
	}
	c.subsMu.Unlock()

	f := frame.New("SUBSCRIBE")
	f.Headers.Set("destination", destination)
	f.Headers.Set("id", id)
	if ackMode != "" {
		f.Headers.Set("ack", ackMode)
	}
	mergeHeaders(f, headers)
	f.Headers.Set("id", id) // headers map must never override the id we tracked

	if err := c.transmitFrame(f); err != nil {
		return "", err
	}

	c.subsMu.Lock()
	c.subs[id] = &subscriptionRecord{id: id, headers: f.Headers.Clone()}
	c.subSeq = append(c.subSeq, id)
	c.subsMu.Unlock()
	return id, nil
}

// Unsubscribe sends UNSUBSCRIBE and stops tracking id for replay.
func (c *Connection) Unsubscribe(id string, headers map[string]string) error {
	if id == "" {
		return errs.ErrSubscriptionRequired
	}
	f := frame.New("UNSUBSCRIBE")
	f.Headers.Set("id", id)
	mergeHeaders(f, headers)

	if err := c.transmitFrame(f); err != nil {
		return err
	}

	c.subsMu.Lock()
	delete(c.subs, id)
	for i, sid := range c.subSeq {
		if sid == id {
			c.subSeq = append(c.subSeq[:i], c.subSeq[i+1:]...)
			break
		}
	}
	c.subsMu.Unlock()
	return nil
}

// ackHeaderKey returns the header STOMP uses to name the message being
// (n)acked: "message-id" under 1.0 and 1.1, "id" only from 1.2 onward
// (spec.md §4.6's per-version ACK/NACK header table).
func ackHeaderKey(v frame.Version) string {
	if v == frame.V1_2 {
		return "id"
	}
	return "message-id"
}

// ackOrNack requires subscription under 1.1 (spec.md §4.6, scenario 3):
// a 1.1 ACK/NACK with no subscription id fails locally as
// SubscriptionRequiredError before anything is written to the wire.
// 1.0 has no subscription concept to attach, and 1.2's "id" ack
// identifier is already scoped to its subscription, so neither version
// needs or accepts the header.
func (c *Connection) ackOrNack(command, ackID, subscription, transaction string) error {
	if ackID == "" {
		return errs.ErrMessageIDRequired
	}
	version := c.protocolVersion()
	if version == frame.V1_1 && subscription == "" {
		return errs.ErrSubscriptionRequired
	}

	f := frame.New(command)
	f.Headers.Set(ackHeaderKey(version), ackID)
	if version == frame.V1_1 {
		f.Headers.Set("subscription", subscription)
	}
	if transaction != "" {
		f.Headers.Set("transaction", transaction)
	}
	return c.transmitFrame(f)
}

// Ack acknowledges the message identified by ackID on subscription
// (spec.md scenario 2: under 1.2 this is the MESSAGE frame's "ack" header
// value echoed back as "id"; under 1.0/1.1 it's the message's
// "message-id", with 1.1 additionally requiring "subscription").
func (c *Connection) Ack(ackID, subscription, transaction string) error {
	return c.ackOrNack("ACK", ackID, subscription, transaction)
}

// Nack is rejected outright pre-1.1 (spec.md scenario 3): STOMP 1.0 has
// no NACK frame.
func (c *Connection) Nack(ackID, subscription, transaction string) error {
	if !c.protocolVersion().AtLeast11() {
		return errs.ErrUnsupportedProtocol
	}
	return c.ackOrNack("NACK", ackID, subscription, transaction)
}

func (c *Connection) txOp(command, transaction string) error {
	if transaction == "" {
		return errs.New(errs.KindProtocolError, "transaction id is required")
	}
	f := frame.New(command)
	f.Headers.Set("transaction", transaction)
	return c.transmitFrame(f)
}

func (c *Connection) Begin(transaction string) error  { return c.txOp("BEGIN", transaction) }
func (c *Connection) Commit(transaction string) error { return c.txOp("COMMIT", transaction) }
func (c *Connection) Abort(transaction string) error  { return c.txOp("ABORT", transaction) }

// Send publishes body to destination. contentType, when non-empty,
// becomes the content-type header; transaction, when non-empty, ties the
// SEND to an open transaction.
func (c *Connection) Send(destination, contentType string, body []byte, headers map[string]string, transaction string) error {
	f := frame.New("SEND")
	f.Headers.Set("destination", destination)
	if contentType != "" {
		f.Headers.Set("content-type", contentType)
	}
	if transaction != "" {
		f.Headers.Set("transaction", transaction)
	}
	mergeHeaders(f, headers)
	f.Body = body
	return c.transmitFrame(f)
}

// Disconnect sends a receipted DISCONNECT, waits for the matching
// RECEIPT (other frames read meanwhile are discarded; the wait for each
// frame's first byte has no deadline, the parse timeout bounds the rest
// of that frame, and a read error ends the wait), then tears the connection down
// for good — no further reconnect sweep will run. Safe to call more than
// once; later calls are no-ops.
func (c *Connection) Disconnect(headers map[string]string) error {
	if c.closed.Swap(true) {
		return nil
	}

	receiptID := c.nextID("disco")
	f := frame.New("DISCONNECT")
	f.Headers.Set("receipt", receiptID)
	mergeHeaders(f, headers)

	c.transmitMu.Lock()
	tr := c.tr.Load()
	var writeErr error
	if tr != nil {
		writeErr = c.writeFrame(tr, f, c.protocolVersion())
	}
	c.transmitMu.Unlock()

	if writeErr == nil && tr != nil {
		c.readMu.Lock()
		for {
			reply, _, rerr := tr.ReadFrame(c.protocolVersion())
			if rerr != nil {
				writeErr = rerr
				break
			}
			if reply.Command == "RECEIPT" {
				if rid, _ := reply.Headers.Get("receipt-id"); rid == receiptID {
					if st := c.state.Load(); st != nil {
						st.DisconnectReceipt = reply
					}
					break
				}
			}
		}
		c.readMu.Unlock()
	}

	if hb := c.hb.Load(); hb != nil {
		hb.Stop()
	}
	if tr := c.tr.Swap(nil); tr != nil {
		tr.Close()
	}
	c.hooks.fire(LifecycleEvent{Kind: EventDisconnected, Err: writeErr})
	return writeErr
}

// Receive blocks for the next inbound frame, transparently reconnecting
// and retrying exactly once on a transport failure (spec.md §4.6: the
// open question of whether a second consecutive failure should reconnect
// again is resolved here as no — a second failure within the same call
// surfaces directly, since retrying forever inside a single blocking
// call would hide an unreachable broker from the caller indefinitely).
func (c *Connection) Receive() (*frame.Frame, error) {
	return c.receiveInternal(false)
}

func (c *Connection) receiveInternal(isRetry bool) (*frame.Frame, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	c.readMu.Lock()
	tr := c.tr.Load()
	if tr == nil {
		c.readMu.Unlock()
		return nil, errs.ErrNoCurrentConnection
	}
	f, hb, err := tr.ReadFrame(c.protocolVersion())
	if eng := c.hb.Load(); eng != nil {
		for i := 0; i < hb; i++ {
			eng.MarkReceived()
		}
		if err == nil {
			eng.MarkReceived()
		}
	}
	c.readMu.Unlock()

	if err != nil {
		if isRetry {
			return nil, err
		}
		c.logger.Warnw("receive failed, attempting reconnect", "error", err)
		if rerr := c.reconnect(context.Background()); rerr != nil {
			return nil, rerr
		}
		return c.receiveInternal(true)
	}

	if f.Command == "ERROR" {
		fault := &errs.BrokerFault{Command: f.Command, Body: f.Body}
		f.Headers.Each(func(k, v string) { fault.Headers = append(fault.Headers, [2]string{k, v}) })
		return f, errs.Broker(fault)
	}
	return f, nil
}

// Poll returns the next inbound frame without blocking when none is
// available: (nil, nil) means nothing was waiting.
func (c *Connection) Poll() (*frame.Frame, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	tr := c.tr.Load()
	if tr == nil {
		return nil, errs.ErrNoCurrentConnection
	}
	if !tr.Ready() {
		return nil, nil
	}
	return c.receiveInternal(false)
}
