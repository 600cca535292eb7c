package stomp

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"gostomp/frame"
	"gostomp/heartbeat"
	"gostomp/hostpool"
	"gostomp/internal/errs"
	"gostomp/session"
	"gostomp/transport"
)

// subscriptionRecord is a replayable SUBSCRIBE: the exact headers sent
// the first time, stashed in registration order so a reconnect sweep can
// resend them before any queued user frame (spec.md §4.3, scenario 4).
type subscriptionRecord struct {
	id      string
	headers *frame.Headers
}

// Connection is spec.md §4.6, C6: the single public handle wrapping one
// logical STOMP session across however many physical reconnects it
// takes to keep it alive. Three independent locks guard the pieces that
// genuinely need independent access — transmitMu serializes writers,
// readMu serializes receive()/Poll() callers, socketMu guards swapping
// the transport/session/heartbeat triple out from under them during a
// reconnect. Lock order when more than one is held: socketMu, then
// transmitMu, then readMu — reconnect takes socketMu first and, for the
// rest of the sweep (teardown, dial, install, replay), transmitMu second;
// nothing ever needs readMu while holding transmitMu in the other
// order, so that path never arises.
//
// Grounded on the teacher's client.Client, which bundles a
// loadbalance.Balancer, a transport.ClientTransport and its own
// request/response plumbing behind one exported type with the same
// "reconnect transparently, replay what the caller can't see" contract.
type Connection struct {
	cfg    Config
	pool   *hostpool.Pool
	logger *zap.SugaredLogger
	hooks  *Hooks

	socketMu   sync.Mutex
	transmitMu sync.Mutex
	readMu     sync.Mutex

	tr    atomic.Pointer[transport.Transport]
	state atomic.Pointer[session.State]
	hb    atomic.Pointer[heartbeat.Engine]

	subsMu sync.Mutex
	subs   map[string]*subscriptionRecord
	subSeq []string // registration order, for replay

	closed atomic.Bool
	idSeq  atomic.Int64
}

// nextID returns a connection-unique identifier for subscriptions,
// transactions, and receipts that the caller didn't supply one for.
func (c *Connection) nextID(prefix string) string {
	n := c.idSeq.Add(1)
	return prefix + "-" + itoa64(n)
}

// NewConnection dials the first reachable host from hosts (in the fixed,
// optionally-shuffled order spec.md §4.3 describes), negotiates a STOMP
// session, and starts its heartbeat engine. If cfg.Reliable is set, a
// failed first attempt behaves exactly like a mid-session reconnect
// sweep: backoff, rotate hosts, until MaxReconnectAttempts (0 =
// unlimited) is exhausted.
func NewConnection(hosts []hostpool.HostSpec, opts ...Option) (*Connection, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	c := &Connection{
		cfg:    cfg,
		pool:   hostpool.New(hosts, cfg.hostPoolOptions()),
		logger: logger,
		hooks:  newHooks(),
		subs:   make(map[string]*subscriptionRecord),
	}

	if err := c.establish(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

// Use registers a lifecycle hook (see hooks.go).
func (c *Connection) Use(fn HookFunc) { c.hooks.Use(fn) }

// establish performs the dial-CONNECT-negotiate sequence, retrying
// across the host pool under cfg.Reliable exactly the way a later
// reconnect sweep does. Called both from NewConnection and from
// reconnect() after an established connection drops.
func (c *Connection) establish(ctx context.Context) error {
	for {
		host, err := c.pool.NextHost()
		if err != nil {
			return err
		}

		tr, st, err := c.dialAndNegotiate(ctx, host)
		if err != nil {
			c.logger.Warnw("connect attempt failed", "host", host.Host, "port", host.Port, "error", err)
			if !c.cfg.Reliable {
				return err
			}
			if werr := c.pool.Wait(ctx); werr != nil {
				return werr
			}
			continue
		}

		c.installConnection(tr, st)
		c.pool.ResetAttempts()
		c.logger.Infow("connected", "host", host.Host, "port", host.Port, "version", st.Protocol, "session", st.SessionID)
		c.hooks.fire(LifecycleEvent{Kind: EventConnected, Host: host, State: st})
		return nil
	}
}

// dialAndNegotiate opens one transport and runs CONNECT/STOMP against
// it, bounding the dial, the CONNECT write and the wait for the reply by
// cfg.ConnectTimeout the way the teacher's timeout middleware bounds a
// single RPC call; once the reply's first byte arrives, the parse
// timeout (when set) bounds the rest of that frame.
func (c *Connection) dialAndNegotiate(parent context.Context, host hostpool.HostSpec) (*transport.Transport, *session.State, error) {
	ctx, cancel := mergeTimeout(parent, c.cfg.ConnectTimeout)
	defer cancel()

	tr, err := transport.Open(ctx, host, c.cfg.ConnectTimeout)
	if err != nil {
		return nil, nil, err
	}
	tr.SetParseTimeout(c.cfg.ParseTimeout)
	if deadline, ok := ctx.Deadline(); ok {
		tr.Conn().SetDeadline(deadline)
		defer tr.Conn().SetDeadline(time.Time{})
	}

	if strings.Contains(host.Login, "://") {
		c.logger.Warnw("login looks like a URL, not a username", "login", host.Login)
	}

	sessCfg := session.Config{
		UseStomp:       c.cfg.StompConnect,
		AcceptVersions: c.cfg.AcceptVersions,
		VHost:          c.cfg.VHost,
		Login:          host.Login,
		Passcode:       host.Passcode,
		ConnectHeaders: c.cfg.ConnectHeaders,
		DevModeHeader:  c.cfg.DevModeHeader,
	}
	if c.cfg.HeartBeatCX != 0 || c.cfg.HeartBeatCY != 0 {
		sessCfg.HeartBeat = heartbeatHeader(c.cfg.HeartBeatCX, c.cfg.HeartBeatCY)
	}
	req := session.BuildConnectFrame(sessCfg)

	if err := c.writeFrame(tr, req, frame.V1_0); err != nil {
		tr.Close()
		return nil, nil, err
	}
	reply, _, err := tr.ReadFrame(frame.V1_2)
	if err != nil {
		tr.Close()
		return nil, nil, err
	}
	st, err := session.Negotiate(reply)
	if err != nil {
		tr.Close()
		return nil, nil, err
	}
	return tr, st, nil
}

func (c *Connection) installConnection(tr *transport.Transport, st *session.State) {
	tr.SetParseTimeout(c.cfg.ParseTimeout)
	c.tr.Store(tr)
	c.state.Store(st)

	sendMS, recvMS := c.negotiatedIntervals(st)
	eng := heartbeat.New(
		msToDuration(sendMS), msToDuration(recvMS),
		heartbeat.WithTolerance(c.cfg.HeartbeatTolerance),
		heartbeat.WithSender(func() error { return c.sendHeartbeatByte() }),
		heartbeat.WithSendFailureHandler(func(err error) { c.handleHeartbeatSendFailure(err) }),
		heartbeat.WithLapseHandler(func() { c.handleHeartbeatLapse() }),
	)
	if old := c.hb.Swap(eng); old != nil {
		old.Stop()
	}
	eng.Start()
}

// negotiatedIntervals applies spec.md §4.4's max(a,b)-unless-zero rule
// in both directions: the interval we must send at, and the interval we
// must expect to receive at.
func (c *Connection) negotiatedIntervals(st *session.State) (sendMS, recvMS int) {
	sendMS = session.NegotiateInterval(c.cfg.HeartBeatCX, st.PeerHeartbeatRecv)
	recvMS = session.NegotiateInterval(c.cfg.HeartBeatCY, st.PeerHeartbeatSend)
	return
}

func (c *Connection) writeFrame(tr *transport.Transport, f *frame.Frame, version frame.Version) error {
	opts := frame.EncodeOptions{Version: version, CRLF: c.cfg.UseCRLF}
	var buf bytes.Buffer
	if err := frame.Encode(&buf, f, opts); err != nil {
		return err
	}
	_, err := tr.Write(buf.Bytes())
	return err
}

func (c *Connection) sendHeartbeatByte() error {
	c.transmitMu.Lock()
	defer c.transmitMu.Unlock()
	tr := c.tr.Load()
	if tr == nil {
		return errs.ErrNoCurrentConnection
	}
	_, err := tr.Write([]byte{'\n'})
	return err
}

func (c *Connection) handleHeartbeatSendFailure(err error) {
	hberr := errs.Wrap(errs.KindHeartbeatSend, err)
	c.logger.Errorw("heartbeat send failed", "error", err)
	if c.cfg.HeartbeatSendErrors {
		c.hooks.fire(LifecycleEvent{Kind: EventHeartbeatLapse, Err: hberr})
		go c.reconnectAsync()
	}
}

func (c *Connection) handleHeartbeatLapse() {
	hberr := errs.New(errs.KindHeartbeatRecv, "heartbeat lapse detected, peer presumed dead")
	c.logger.Warnw("heartbeat lapse detected, peer presumed dead")
	c.hooks.fire(LifecycleEvent{Kind: EventHeartbeatLapse, Err: hberr})
	go c.reconnectAsync()
}

// Closed reports whether Disconnect has been called.
func (c *Connection) Closed() bool { return c.closed.Load() }

func (c *Connection) checkOpen() error {
	if c.cfg.ClosedCheck && c.closed.Load() {
		return errs.ErrNoCurrentConnection
	}
	return nil
}

func (c *Connection) currentTransport() (*transport.Transport, error) {
	tr := c.tr.Load()
	if tr == nil {
		return nil, errs.ErrNoCurrentConnection
	}
	return tr, nil
}

func (c *Connection) protocolVersion() frame.Version {
	if st := c.state.Load(); st != nil {
		return st.Protocol
	}
	return frame.V1_0
}
