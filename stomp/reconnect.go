package stomp

import (
	"context"

	"go.uber.org/multierr"

	"gostomp/internal/errs"
)

// reconnect implements spec.md §4.3's failover sweep: tear down whatever
// is left of the dead transport and heartbeat engine, dial a fresh host
// under the pool's backoff/attempt bookkeeping, then replay every live
// subscription in registration order before releasing transmitMu — so no
// caller can get a frame onto the new transport ahead of the
// subscriptions it depends on (spec.md scenario 4).
//
// socketMu is held for the whole sweep so a concurrent reconnect can't
// be triggered twice; transmitMu is held from the transport teardown
// through dial, install and replay so no ordinary Send/Subscribe/Ack
// slips a frame in before replay finishes. The heartbeat engine is
// stopped before transmitMu is taken, since its sender loop takes
// transmitMu itself. Per the connection-wide lock order (socket,
// transmit, read) this is always acquired outermost-first.
func (c *Connection) reconnect(ctx context.Context) error {
	c.socketMu.Lock()
	defer c.socketMu.Unlock()

	if c.closed.Load() {
		return errs.ErrConnectionClosed
	}

	if hb := c.hb.Load(); hb != nil {
		hb.Stop()
	}

	c.transmitMu.Lock()
	defer c.transmitMu.Unlock()

	if old := c.tr.Swap(nil); old != nil {
		old.Close()
	}
	c.hooks.fire(LifecycleEvent{Kind: EventReconnecting})

	return c.logOp("reconnect", func() error {
		if err := c.establish(ctx); err != nil {
			c.hooks.fire(LifecycleEvent{Kind: EventReconnectFailed, Err: err})
			return err
		}
		if err := c.replaySubscriptions(); err != nil {
			c.logger.Errorw("subscription replay failed after reconnect", "error", err)
			return err
		}
		return nil
	})
}

// reconnectAsync runs reconnect in the background for triggers that
// aren't already inside a caller's goroutine (heartbeat lapse, a failed
// heartbeat send). Errors are logged, not returned, since nothing is
// waiting on this path for a result.
func (c *Connection) reconnectAsync() {
	if err := c.reconnect(context.Background()); err != nil {
		c.logger.Errorw("background reconnect failed", "error", err)
	}
}

// replaySubscriptions resends every tracked SUBSCRIBE, in the order
// subscriptions were first registered, over the freshly installed
// transport. Caller must hold transmitMu. Failures on independent
// subscriptions are accumulated with multierr rather than abandoning
// the sweep after the first one — a broker that rejects one destination
// shouldn't prevent replay of the rest.
func (c *Connection) replaySubscriptions() error {
	tr, err := c.currentTransport()
	if err != nil {
		return err
	}
	version := c.protocolVersion()

	c.subsMu.Lock()
	order := make([]string, len(c.subSeq))
	copy(order, c.subSeq)
	records := make(map[string]*subscriptionRecord, len(c.subs))
	for k, v := range c.subs {
		records[k] = v
	}
	c.subsMu.Unlock()

	var combined error
	for _, id := range order {
		rec, ok := records[id]
		if !ok {
			continue
		}
		f := newFrameFromHeaders("SUBSCRIBE", rec.headers)
		if werr := c.writeFrame(tr, f, version); werr != nil {
			combined = multierr.Append(combined, werr)
			continue
		}
		if hb := c.hb.Load(); hb != nil {
			hb.MarkSent()
		}
	}
	return combined
}
