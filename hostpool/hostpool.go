// Package hostpool implements the ordered host list, failover selection,
// and reconnect backoff described in spec.md §4.3: C3, Host Pool &
// Backoff. Host selection itself is adapted from the teacher's
// round-robin load balancer (see roundrobin.go); this file adds the
// shuffle-once-at-construction, exponential backoff, and bounded-attempt
// behavior spec.md layers on top of plain round robin.
package hostpool

import (
	"context"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"gostomp/internal/errs"
)

// HostSpec is one candidate broker endpoint. Immutable once constructed,
// per spec.md §3's data model.
type HostSpec struct {
	Login    string
	Passcode string
	Host     string
	Port     int
	SSL      bool
}

// Address returns the host:port pair to dial, applying the default STOMP
// ports (61613 plaintext, 61612 TLS) when Port is unset.
func (h HostSpec) Address() string {
	port := h.Port
	if port == 0 {
		if h.SSL {
			port = 61612
		} else {
			port = 61613
		}
	}
	return net.JoinHostPort(h.Host, strconv.Itoa(port))
}

// Options configures backoff and selection, mirroring spec.md §6's
// configuration surface for reconnect.
type Options struct {
	Randomize             bool
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	BackOffMultiplier     float64
	UseExponentialBackOff bool
	MaxReconnectAttempts  int // 0 = unlimited
}

func (o *Options) setDefaults() {
	if o.InitialReconnectDelay <= 0 {
		o.InitialReconnectDelay = 10 * time.Millisecond
	}
	if o.MaxReconnectDelay <= 0 {
		o.MaxReconnectDelay = 30 * time.Second
	}
	if o.BackOffMultiplier <= 0 {
		o.BackOffMultiplier = 2
	}
}

// Pool holds the ordered (optionally shuffled) host list and the
// mutable backoff/attempt state advanced across reconnect sweeps.
type Pool struct {
	mu       sync.Mutex
	hosts    []HostSpec
	selector *roundRobin
	opts     Options
	delay    time.Duration
	attempts int
	limiter  *reconnectLimiter
}

// New builds a Pool over hosts. hosts is copied and, if Randomize is
// set, shuffled once — the order is then fixed for the Pool's lifetime,
// per spec.md §4.3's "shuffle the list once at construction".
func New(hosts []HostSpec, opts Options) *Pool {
	opts.setDefaults()
	hs := make([]HostSpec, len(hosts))
	copy(hs, hosts)
	if opts.Randomize {
		rand.Shuffle(len(hs), func(i, j int) { hs[i], hs[j] = hs[j], hs[i] })
	}
	return &Pool{
		hosts:    hs,
		selector: newRoundRobin(len(hs)),
		opts:     opts,
		delay:    opts.InitialReconnectDelay,
		limiter:  newReconnectLimiter(),
	}
}

// NextHost returns the next host in the fixed rotation, failing with
// MaxReconnectAttempts once the configured bound is reached. 0 means
// unlimited attempts.
func (p *Pool) NextHost() (HostSpec, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.hosts) == 0 {
		return HostSpec{}, errs.New(errs.KindTransportError, "host pool is empty")
	}
	if p.opts.MaxReconnectAttempts > 0 && p.attempts >= p.opts.MaxReconnectAttempts {
		return HostSpec{}, errs.Newf(errs.KindMaxReconnectAttempts,
			"exhausted %d reconnect attempts", p.opts.MaxReconnectAttempts)
	}
	p.attempts++
	idx := p.selector.next()
	return p.hosts[idx], nil
}

// Wait blocks for the current backoff delay before the next connect
// attempt, advancing the delay for next time under exponential backoff.
// A reconnect-rate ceiling (independent of the configured delay) guards
// against a misconfigured initial_reconnect_delay of 0 spinning the CPU.
func (p *Pool) Wait(ctx context.Context) error {
	p.mu.Lock()
	delay := p.delay
	if p.opts.UseExponentialBackOff {
		next := time.Duration(float64(p.delay) * p.opts.BackOffMultiplier)
		if next > p.opts.MaxReconnectDelay {
			next = p.opts.MaxReconnectDelay
		}
		p.delay = next
	}
	p.mu.Unlock()

	if err := p.limiter.wait(ctx); err != nil {
		return errs.Wrap(errs.KindTransportError, err)
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResetAttempts clears the attempt counter and backoff delay, called
// after a reconnect sweep lands a new connection successfully.
func (p *Pool) ResetAttempts() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts = 0
	p.delay = p.opts.InitialReconnectDelay
}

// Attempts returns the number of NextHost calls since the last reset,
// for SessionState's connection_attempts observable.
func (p *Pool) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// Hosts returns a copy of the fixed (post-shuffle) host order.
func (p *Pool) Hosts() []HostSpec {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]HostSpec, len(p.hosts))
	copy(out, p.hosts)
	return out
}

// SetHosts replaces the host list, used by an optional HostSource (see
// etcd_source.go) that discovers endpoints dynamically. The fixed
// round-robin cursor is reset since the index space changed shape.
func (p *Pool) SetHosts(hosts []HostSpec) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hosts = make([]HostSpec, len(hosts))
	copy(p.hosts, hosts)
	p.selector = newRoundRobin(len(p.hosts))
}
