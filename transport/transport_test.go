package transport

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"gostomp/frame"
)

func pipeTransport() (*Transport, net.Conn) {
	client, server := net.Pipe()
	return &Transport{conn: client, reader: bufio.NewReader(client)}, server
}

func TestReadFrameBlocksThenParses(t *testing.T) {
	tr, server := pipeTransport()
	defer server.Close()

	go func() {
		server.Write([]byte("CONNECTED\nversion:1.2\n\n\x00"))
	}()

	f, hb, err := tr.ReadFrame(frame.V1_2)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if hb != 0 {
		t.Errorf("heartbeats = %d, want 0", hb)
	}
	if f.Command != "CONNECTED" {
		t.Errorf("command = %q", f.Command)
	}
}

func TestReadFrameEOFPropagates(t *testing.T) {
	tr, server := pipeTransport()
	server.Close()

	_, _, err := tr.ReadFrame(frame.V1_2)
	if err == nil {
		t.Fatal("expected error on closed pipe")
	}
	if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("expected EOF-ish error, got %v", err)
	}
}

func TestReadyReflectsBufferedBytes(t *testing.T) {
	tr, server := pipeTransport()
	defer server.Close()

	if tr.Ready() {
		t.Error("expected not ready with nothing written")
	}

	done := make(chan struct{})
	go func() {
		server.Write([]byte("\n"))
		close(done)
	}()
	<-done
	time.Sleep(10 * time.Millisecond)

	if !tr.Ready() {
		t.Error("expected ready after a byte was written")
	}
}

func TestWriteWritesExactBytes(t *testing.T) {
	tr, server := pipeTransport()
	defer server.Close()

	payload := []byte("SEND\ndestination:/q\n\nbody\x00")
	errCh := make(chan error, 1)
	go func() {
		_, err := tr.Write(payload)
		errCh <- err
	}()

	buf := make([]byte, len(payload))
	if _, err := io.ReadFull(server, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !bytes.Equal(buf, payload) {
		t.Errorf("got %q, want %q", buf, payload)
	}
}
