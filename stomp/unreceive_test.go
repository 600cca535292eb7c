package stomp_test

import (
	"bufio"
	"net"
	"testing"
	"time"

	"gostomp/frame"
	"gostomp/hostpool"
	"gostomp/stomp"
)

// TestUnreceiveRedeliversBelowMaxRetries reproduces the redeliver side of
// spec.md §4.7: a message under the retry ceiling is republished to its
// ORIGINAL destination, not the dead-letter queue, with retry_count
// incremented. Its subscription isn't client-ack, so no ACK is sent.
func TestUnreceiveRedeliversBelowMaxRetries(t *testing.T) {
	broker := newFakeBroker(t)
	defer broker.close()

	var sendDest, retryCount string
	done := make(chan struct{})
	broker.serve(t, func(conn net.Conn, r *bufio.Reader) {
		readFrame(t, r, frame.V1_0)
		reply := frame.New("CONNECTED")
		reply.Headers.Set("version", "1.2")
		writeFrame(t, conn, reply, frame.V1_2)

		readFrame(t, r, frame.V1_2) // BEGIN
		if send := readFrame(t, r, frame.V1_2); send != nil {
			sendDest, _ = send.Headers.Get("destination")
			retryCount, _ = send.Headers.Get("retry_count")
		}
		readFrame(t, r, frame.V1_2) // COMMIT
		close(done)
	})

	conn, err := stomp.NewConnection([]hostpool.HostSpec{broker.hostSpec()})
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	defer conn.Disconnect(nil)

	msg := stomp.ConsumedMessage{
		MessageID:   "m-5",
		AckID:       "m-5",
		Destination: "/queue/orders",
		RetryCount:  2,
		Body:        []byte("payload"),
	}
	if err := conn.Unreceive(msg, stomp.DefaultUnreceiveOptions()); err != nil {
		t.Fatalf("Unreceive: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broker exchange")
	}

	if sendDest != "/queue/orders" {
		t.Errorf("redelivered to %q, want /queue/orders", sendDest)
	}
	if retryCount != "3" {
		t.Errorf("retry_count = %q, want 3", retryCount)
	}
}

// TestNewConsumedMessageExtractsAckID checks that NewConsumedMessage
// picks the 1.2 "ack" header, not "message-id", as the ack identifier.
func TestNewConsumedMessageExtractsAckID(t *testing.T) {
	broker := newFakeBroker(t)
	defer broker.close()
	broker.serve(t, func(conn net.Conn, r *bufio.Reader) {
		readFrame(t, r, frame.V1_0)
		reply := frame.New("CONNECTED")
		reply.Headers.Set("version", "1.2")
		writeFrame(t, conn, reply, frame.V1_2)
	})

	conn, err := stomp.NewConnection([]hostpool.HostSpec{broker.hostSpec()})
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	defer conn.Disconnect(nil)

	f := frame.New("MESSAGE")
	f.Headers.Set("destination", "/queue/a")
	f.Headers.Set("message-id", "m-1")
	f.Headers.Set("subscription", "sub-A")
	f.Headers.Set("ack", "ack-1")
	f.Body = []byte("hello")

	msg, err := conn.NewConsumedMessage(f, 0)
	if err != nil {
		t.Fatalf("NewConsumedMessage: %v", err)
	}
	if msg.AckID != "ack-1" {
		t.Errorf("AckID = %q, want ack-1", msg.AckID)
	}
	if msg.Destination != "/queue/a" || string(msg.Body) != "hello" {
		t.Errorf("msg = %+v", msg)
	}
}
