package stomp_test

import (
	"bufio"
	"net"
	"testing"
	"time"

	"gostomp/frame"
	"gostomp/hostpool"
	"gostomp/internal/errs"
	"gostomp/stomp"
)

// fakeBroker accepts exactly one connection and hands the raw frames it
// reads/writes to a test-supplied handler, so each scenario can script
// the exact exchange spec.md describes without a real broker.
type fakeBroker struct {
	ln net.Listener
}

func newFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return &fakeBroker{ln: ln}
}

func (b *fakeBroker) hostSpec() hostpool.HostSpec {
	addr := b.ln.Addr().(*net.TCPAddr)
	return hostpool.HostSpec{Host: "127.0.0.1", Port: addr.Port}
}

func (b *fakeBroker) close() { b.ln.Close() }

// serve accepts one connection and runs handler against it on a
// background goroutine.
func (b *fakeBroker) serve(t *testing.T, handler func(conn net.Conn, r *bufio.Reader)) {
	t.Helper()
	go func() {
		conn, err := b.ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn, bufio.NewReader(conn))
	}()
}

func writeFrame(t *testing.T, conn net.Conn, f *frame.Frame, v frame.Version) {
	t.Helper()
	if err := frame.Encode(conn, f, frame.EncodeOptions{Version: v}); err != nil {
		t.Errorf("encode: %v", err)
	}
}

func readFrame(t *testing.T, r *bufio.Reader, v frame.Version) *frame.Frame {
	t.Helper()
	f, _, err := frame.Decode(r, v)
	if err != nil {
		t.Errorf("decode: %v", err)
		return nil
	}
	return f
}

// TestConnectNegotiatesVersion12 reproduces spec.md's scenario 1: a
// client offering 1.0,1.1,1.2 against a broker that accepts 1.2 and
// negotiates heart-beat 0,20000 against the client's 10000,10000 ends up
// with a 20000ms send interval and no receive monitoring.
func TestConnectNegotiatesVersion12(t *testing.T) {
	broker := newFakeBroker(t)
	defer broker.close()

	broker.serve(t, func(conn net.Conn, r *bufio.Reader) {
		connectFrame := readFrame(t, r, frame.V1_0)
		if connectFrame == nil {
			return
		}
		reply := frame.New("CONNECTED")
		reply.Headers.Set("version", "1.2")
		reply.Headers.Set("session", "sess-1")
		reply.Headers.Set("heart-beat", "0,20000")
		writeFrame(t, conn, reply, frame.V1_2)
	})

	conn, err := stomp.NewConnection([]hostpool.HostSpec{broker.hostSpec()},
		stomp.WithHeartBeat(10000, 10000),
		stomp.WithConnectTimeout(2*time.Second),
	)
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	defer conn.Disconnect(nil)

	if conn.Protocol() != frame.V1_2 {
		t.Errorf("protocol = %s, want 1.2", conn.Protocol())
	}
	if conn.SessionID() != "sess-1" {
		t.Errorf("session = %s", conn.SessionID())
	}
	if got := conn.HBSendInterval(); got != 20000 {
		t.Errorf("send interval = %d, want 20000", got)
	}
	if got := conn.HBRecvInterval(); got != 0 {
		t.Errorf("recv interval = %d, want 0", got)
	}
}

// TestAckUsesIdHeaderUnder12 reproduces scenario 2: under 1.2, ACK
// carries the message's ack value under the "id" header.
func TestAckUsesIdHeaderUnder12(t *testing.T) {
	broker := newFakeBroker(t)
	defer broker.close()

	ackSeen := make(chan *frame.Frame, 1)
	broker.serve(t, func(conn net.Conn, r *bufio.Reader) {
		readFrame(t, r, frame.V1_0) // CONNECT
		reply := frame.New("CONNECTED")
		reply.Headers.Set("version", "1.2")
		writeFrame(t, conn, reply, frame.V1_2)

		f := readFrame(t, r, frame.V1_2) // ACK
		ackSeen <- f
	})

	conn, err := stomp.NewConnection([]hostpool.HostSpec{broker.hostSpec()})
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	defer conn.Disconnect(nil)

	if err := conn.Ack("a-7", "", ""); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	select {
	case f := <-ackSeen:
		if f.Command != "ACK" {
			t.Errorf("command = %s", f.Command)
		}
		if id, ok := f.Headers.Get("id"); !ok || id != "a-7" {
			t.Errorf("id header = %q, ok=%v", id, ok)
		}
		if _, ok := f.Headers.Get("message-id"); ok {
			t.Error("did not expect message-id header under 1.2")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ACK")
	}
}

// TestNackRejectedUnder10 reproduces scenario 3: STOMP 1.0 has no NACK
// frame, so Nack must fail locally without writing anything.
func TestNackRejectedUnder10(t *testing.T) {
	broker := newFakeBroker(t)
	defer broker.close()

	broker.serve(t, func(conn net.Conn, r *bufio.Reader) {
		readFrame(t, r, frame.V1_0)
		writeFrame(t, conn, frame.New("CONNECTED"), frame.V1_0)
	})

	conn, err := stomp.NewConnection([]hostpool.HostSpec{broker.hostSpec()})
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	defer conn.Disconnect(nil)

	err = conn.Nack("m-1", "", "")
	if err == nil {
		t.Fatal("expected error")
	}
	ce, ok := err.(*errs.ConnError)
	if !ok || ce.Kind != errs.KindUnsupportedProtocol {
		t.Fatalf("got %v, want KindUnsupportedProtocol", err)
	}
}

// TestAckRequiresSubscriptionUnder11 reproduces scenario 3's 1.1 half: an
// ACK issued against a 1.1 connection without a subscription id fails
// locally as SubscriptionRequiredError, and nothing reaches the broker.
func TestAckRequiresSubscriptionUnder11(t *testing.T) {
	broker := newFakeBroker(t)
	defer broker.close()

	sawFrame := make(chan struct{}, 1)
	broker.serve(t, func(conn net.Conn, r *bufio.Reader) {
		readFrame(t, r, frame.V1_0) // CONNECT
		reply := frame.New("CONNECTED")
		reply.Headers.Set("version", "1.1")
		writeFrame(t, conn, reply, frame.V1_1)

		if f := readFrame(t, r, frame.V1_1); f != nil {
			sawFrame <- struct{}{}
		}
	})

	conn, err := stomp.NewConnection([]hostpool.HostSpec{broker.hostSpec()})
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	defer conn.Disconnect(nil)

	err = conn.Ack("m-1", "", "")
	if err == nil {
		t.Fatal("expected error")
	}
	ce, ok := err.(*errs.ConnError)
	if !ok || ce.Kind != errs.KindSubscriptionRequired {
		t.Fatalf("got %v, want KindSubscriptionRequired", err)
	}

	select {
	case <-sawFrame:
		t.Fatal("ACK must not reach the broker without a subscription")
	case <-time.After(100 * time.Millisecond):
	}
}

// TestReconnectReplaysSubscriptionsInOrder reproduces scenario 4: after
// the broker drops the connection, two subscriptions registered in order
// A then B must be replayed A then B on the new connection, before any
// further user frame.
func TestReconnectReplaysSubscriptionsInOrder(t *testing.T) {
	broker := newFakeBroker(t)
	defer broker.close()

	firstDone := make(chan struct{})
	broker.serve(t, func(conn net.Conn, r *bufio.Reader) {
		readFrame(t, r, frame.V1_0)
		writeFrame(t, conn, frame.New("CONNECTED"), frame.V1_0)
		readFrame(t, r, frame.V1_0) // SUBSCRIBE A
		readFrame(t, r, frame.V1_0) // SUBSCRIBE B
		close(firstDone)
		conn.Close() // drop the connection to force a reconnect
	})

	var replayOrder []string
	secondDone := make(chan struct{})
	broker.serve(t, func(conn net.Conn, r *bufio.Reader) {
		readFrame(t, r, frame.V1_0)
		writeFrame(t, conn, frame.New("CONNECTED"), frame.V1_0)
		for i := 0; i < 2; i++ {
			f := readFrame(t, r, frame.V1_0)
			if f != nil {
				if id, ok := f.Headers.Get("id"); ok {
					replayOrder = append(replayOrder, id)
				}
			}
		}
		// Give the connection's background Receive() something to
		// return so it doesn't sit blocked on readMu past this test.
		msg := frame.New("MESSAGE")
		msg.Headers.Set("destination", "/queue/a")
		msg.Headers.Set("message-id", "m-1")
		writeFrame(t, conn, msg, frame.V1_0)
		close(secondDone)
	})

	conn, err := stomp.NewConnection([]hostpool.HostSpec{broker.hostSpec()}, stomp.WithReliable())
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	defer conn.Disconnect(nil)

	if _, err := conn.Subscribe("/queue/a", "auto", map[string]string{"id": "sub-A"}); err != nil {
		t.Fatalf("Subscribe A: %v", err)
	}
	if _, err := conn.Subscribe("/queue/b", "auto", map[string]string{"id": "sub-B"}); err != nil {
		t.Fatalf("Subscribe B: %v", err)
	}

	// Nothing in this test drives an explicit read loop, so give the
	// connection one in the background: it's what notices the broker's
	// EOF and drives the reconnect sweep that replays the subscriptions.
	go conn.Receive()

	select {
	case <-firstDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for initial subscriptions")
	}

	select {
	case <-secondDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for replay")
	}

	if len(replayOrder) != 2 || replayOrder[0] != "sub-A" || replayOrder[1] != "sub-B" {
		t.Errorf("replay order = %v, want [sub-A sub-B]", replayOrder)
	}
}

// TestUnreceiveDeadLetters reproduces scenario 6: a message that has
// already exhausted its retries, and whose subscription is client-ack, is
// ACKed and then published to the dead-letter destination inside one
// transaction named after the message, then committed.
func TestUnreceiveDeadLetters(t *testing.T) {
	broker := newFakeBroker(t)
	defer broker.close()

	var seen []string
	var dlqHeaders *frame.Frame
	var txIDs []string
	done := make(chan struct{})
	broker.serve(t, func(conn net.Conn, r *bufio.Reader) {
		readFrame(t, r, frame.V1_0)
		reply := frame.New("CONNECTED")
		reply.Headers.Set("version", "1.2")
		writeFrame(t, conn, reply, frame.V1_2)

		for i := 0; i < 4; i++ {
			f := readFrame(t, r, frame.V1_2)
			if f != nil {
				seen = append(seen, f.Command)
				if tx, ok := f.Headers.Get("transaction"); ok {
					txIDs = append(txIDs, tx)
				}
				if f.Command == "SEND" {
					dlqHeaders = f
				}
			}
		}
		close(done)
	})

	conn, err := stomp.NewConnection([]hostpool.HostSpec{broker.hostSpec()})
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	defer conn.Disconnect(nil)

	msg := stomp.ConsumedMessage{
		MessageID:    "m-99",
		AckID:        "m-99",
		Destination:  "/queue/orders",
		Subscription: "sub-1",
		AckMode:      "client",
		RetryCount:   6,
		Headers:      map[string]string{"content-type": "text/plain"},
		Body:         []byte("payload"),
	}
	if err := conn.Unreceive(msg, stomp.DefaultUnreceiveOptions()); err != nil {
		t.Fatalf("Unreceive: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broker to see the transaction")
	}

	want := []string{"BEGIN", "ACK", "SEND", "COMMIT"}
	if len(seen) != len(want) {
		t.Fatalf("commands = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("commands = %v, want %v", seen, want)
			break
		}
	}

	for _, tx := range txIDs {
		if tx != "transaction-m-99-6" {
			t.Errorf("transaction id = %q, want transaction-m-99-6", tx)
		}
	}

	if dlqHeaders != nil {
		if dest, _ := dlqHeaders.Headers.Get("destination"); dest != "/queue/dead-letter" {
			t.Errorf("dlq destination = %q", dest)
		}
		if v, _ := dlqHeaders.Headers.Get("original_destination"); v != "/queue/orders" {
			t.Errorf("original_destination = %q, want /queue/orders", v)
		}
		if v, _ := dlqHeaders.Headers.Get("persistent"); v != "true" {
			t.Errorf("persistent = %q, want true", v)
		}
		if v, _ := dlqHeaders.Headers.Get("retry_count"); v != "6" {
			t.Errorf("retry_count = %q, want 6", v)
		}
	}
}
