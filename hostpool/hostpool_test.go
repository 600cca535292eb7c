package hostpool

import (
	"context"
	"testing"
	"time"

	"gostomp/internal/errs"
)

func TestNextHostListOrder(t *testing.T) {
	hosts := []HostSpec{{Host: "a"}, {Host: "b"}, {Host: "c"}}
	p := New(hosts, Options{})

	var got []string
	for i := 0; i < 6; i++ {
		h, err := p.NextHost()
		if err != nil {
			t.Fatalf("NextHost: %v", err)
		}
		got = append(got, h.Host)
	}
	want := []string{"a", "b", "c", "a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestMaxReconnectAttempts(t *testing.T) {
	p := New([]HostSpec{{Host: "a"}}, Options{MaxReconnectAttempts: 2})
	if _, err := p.NextHost(); err != nil {
		t.Fatalf("attempt 1: %v", err)
	}
	if _, err := p.NextHost(); err != nil {
		t.Fatalf("attempt 2: %v", err)
	}
	_, err := p.NextHost()
	if err == nil {
		t.Fatal("expected MaxReconnectAttempts error")
	}
	ce, ok := err.(*errs.ConnError)
	if !ok || ce.Kind != errs.KindMaxReconnectAttempts {
		t.Fatalf("got %v, want KindMaxReconnectAttempts", err)
	}
}

func TestResetAttempts(t *testing.T) {
	p := New([]HostSpec{{Host: "a"}}, Options{MaxReconnectAttempts: 1})
	if _, err := p.NextHost(); err != nil {
		t.Fatalf("attempt 1: %v", err)
	}
	p.ResetAttempts()
	if _, err := p.NextHost(); err != nil {
		t.Fatalf("attempt after reset: %v", err)
	}
}

func TestBackoffCapsAtMax(t *testing.T) {
	p := New([]HostSpec{{Host: "a"}}, Options{
		InitialReconnectDelay: time.Millisecond,
		MaxReconnectDelay:     4 * time.Millisecond,
		BackOffMultiplier:     10,
		UseExponentialBackOff: true,
	})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if p.delay != p.opts.MaxReconnectDelay {
		t.Errorf("delay = %v, want capped at %v", p.delay, p.opts.MaxReconnectDelay)
	}
}

func TestAddressDefaultPorts(t *testing.T) {
	plain := HostSpec{Host: "mq"}
	if got := plain.Address(); got != "mq:61613" {
		t.Errorf("plain address = %q", got)
	}
	ssl := HostSpec{Host: "mq", SSL: true}
	if got := ssl.Address(); got != "mq:61612" {
		t.Errorf("ssl address = %q", got)
	}
}
