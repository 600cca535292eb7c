// Package transport owns the byte stream to one broker host: opening,
// reading, writing, closing. This is spec.md §4.2's C2. It's a thin
// wrapper, adapted from the teacher's transport.ClientTransport (the
// single net.Conn plus a buffered reader feeding a frame decoder), with
// the multiplexing/sequence-number machinery stripped out — STOMP
// frames aren't correlated by sequence id, and the connection core above
// this layer owns the send/receive locking (spec.md §5) directly instead
// of a per-transport mutex.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"time"

	"gostomp/frame"
	"gostomp/hostpool"
	"gostomp/internal/errs"
)

// Transport wraps one net.Conn to a single broker host.
type Transport struct {
	conn         net.Conn
	reader       *bufio.Reader
	parseTimeout time.Duration
}

// Open dials host, honoring connectTimeout (0 means no timeout) and the
// host's SSL flag.
func Open(ctx context.Context, host hostpool.HostSpec, connectTimeout time.Duration) (*Transport, error) {
	dialer := &net.Dialer{Timeout: connectTimeout}
	addr := host.Address()

	var conn net.Conn
	var err error
	if host.SSL {
		tlsDialer := &tls.Dialer{NetDialer: dialer}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindTransportError, err)
	}

	return &Transport{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// SetParseTimeout bounds how long ReadFrame may take to assemble one
// frame once its first byte has arrived (spec.md §4.2).
func (t *Transport) SetParseTimeout(d time.Duration) {
	t.parseTimeout = d
}

// Write sends raw bytes — a fully-encoded frame or a single heartbeat
// byte. Callers are responsible for holding the transmit lock around the
// whole logical write so two frames never interleave on the wire.
func (t *Transport) Write(p []byte) (int, error) {
	n, err := t.conn.Write(p)
	if err != nil {
		return n, errs.Wrap(errs.KindTransportError, err)
	}
	return n, nil
}

// ReadFrame blocks until the first byte of the next frame (or heartbeat)
// arrives with no deadline, then applies the parse timeout for the rest
// of the read — matching spec.md §4.2's "reads honor a parse timeout
// that bounds the time to assemble a single frame once the first byte
// arrives" precisely; the wait for that first byte is unbounded by
// design (that's what a blocking receive() means).
func (t *Transport) ReadFrame(version frame.Version) (*frame.Frame, int, error) {
	if _, err := t.reader.Peek(1); err != nil {
		return nil, 0, classifyReadErr(err)
	}
	if t.parseTimeout > 0 {
		t.conn.SetReadDeadline(time.Now().Add(t.parseTimeout))
		defer t.conn.SetReadDeadline(time.Time{})
	}
	f, hb, err := frame.Decode(t.reader, version)
	if err != nil {
		if ce, ok := err.(*errs.ConnError); ok {
			return nil, hb, ce
		}
		return nil, hb, classifyReadErr(err)
	}
	return f, hb, nil
}

func classifyReadErr(err error) error {
	if err == nil {
		return nil
	}
	return errs.Wrap(errs.KindTransportError, err)
}

// Ready reports whether a subsequent read would return data without
// blocking, used by Poll().
func (t *Transport) Ready() bool {
	if err := t.conn.SetReadDeadline(time.Now()); err != nil {
		return false
	}
	defer t.conn.SetReadDeadline(time.Time{})
	_, err := t.reader.Peek(1)
	return err == nil
}

// Close tears down the underlying connection.
func (t *Transport) Close() error {
	return t.conn.Close()
}

// Conn exposes the underlying net.Conn for callers that need it
// (TLS state inspection, local/remote address logging).
func (t *Transport) Conn() net.Conn {
	return t.conn
}
