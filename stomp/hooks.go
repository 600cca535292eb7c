package stomp

import (
	"sync"

	"gostomp/hostpool"
	"gostomp/session"
)

// EventKind identifies the lifecycle moment a hook fired for.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventReconnecting
	EventReconnectFailed
	EventHeartbeatLapse
)

// LifecycleEvent is passed to every registered hook. Fields not relevant
// to Kind are left zero.
type LifecycleEvent struct {
	Kind  EventKind
	Host  hostpool.HostSpec
	State *session.State
	Err   error
}

// HookFunc observes a Connection lifecycle event. Hooks run synchronously
// on whatever goroutine triggered the event (the reconnect sweep, the
// heartbeat monitor); a hook that blocks blocks that path, so hooks
// should hand off real work to their own goroutine or channel.
type HookFunc func(LifecycleEvent)

// Hooks is a simple observer list, adapted from the teacher's
// middleware.Chain: where the teacher's chain wraps a call (each
// middleware can short-circuit or transform it), a Connection's
// lifecycle is announce-only, so this keeps the "compose a list of
// independently registered behaviors" idea but drops the onion-wrapping
// and short-circuit control flow that a request/response pipeline needs
// and an observer list doesn't.
type Hooks struct {
	mu  sync.Mutex
	fns []HookFunc
}

func newHooks() *Hooks { return &Hooks{} }

// Use appends fn to the list of hooks notified on every lifecycle event.
func (h *Hooks) Use(fn HookFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns = append(h.fns, fn)
}

func (h *Hooks) fire(ev LifecycleEvent) {
	h.mu.Lock()
	fns := make([]HookFunc, len(h.fns))
	copy(fns, h.fns)
	h.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() { recover() }()
			fn(ev)
		}()
	}
}
