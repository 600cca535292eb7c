// Package frame implements the STOMP wire frame: command line, headers,
// blank line, body, NUL terminator. It covers protocol versions 1.0,
// 1.1, and 1.2, whose header-escaping rules differ subtly (see Encode
// and Decode in codec.go).
package frame

// Version identifies a negotiated STOMP protocol revision.
type Version string

const (
	V1_0 Version = "1.0"
	V1_1 Version = "1.1"
	V1_2 Version = "1.2"
)

// Supported returns whether v is one of the three versions this module
// implements.
func (v Version) Supported() bool {
	return v == V1_0 || v == V1_1 || v == V1_2
}

// AtLeast11 reports whether v is 1.1 or 1.2 — the threshold spec.md uses
// for NACK, heartbeats, and mandatory subscription ids.
func (v Version) AtLeast11() bool {
	return v == V1_1 || v == V1_2
}

// Header is a single key/value pair in wire order.
type Header struct {
	Key   string
	Value string
}

// Headers is an ordered sequence of header pairs. Lookups return the
// first occurrence, matching STOMP 1.1/1.2's "first occurrence wins"
// rule; duplicate values remain reachable via All for the parallel
// multi-valued view spec.md's data model calls for.
type Headers struct {
	pairs []Header
}

// NewHeaders returns an empty, ready-to-use header list.
func NewHeaders() *Headers {
	return &Headers{}
}

// HeadersFromMap builds a Headers list from a map. Map iteration order is
// unspecified by Go, so callers that care about wire order (anything
// outbound where order is user-visible) should build one pair at a time
// with Add instead.
func HeadersFromMap(m map[string]string) *Headers {
	h := &Headers{pairs: make([]Header, 0, len(m))}
	for k, v := range m {
		h.pairs = append(h.pairs, Header{k, v})
	}
	return h
}

// Add appends a pair without checking for an existing key. Used when
// copying inbound headers (where duplicates are legal under 1.1/1.2) and
// when callers are known not to collide.
func (h *Headers) Add(key, value string) {
	h.pairs = append(h.pairs, Header{Key: key, Value: value})
}

// Set replaces the first existing occurrence of key, or appends if absent.
// This is how operation-required headers (destination, id, transaction,
// ...) are injected without producing a duplicate key.
func (h *Headers) Set(key, value string) {
	for i, p := range h.pairs {
		if p.Key == key {
			h.pairs[i].Value = value
			return
		}
	}
	h.Add(key, value)
}

// Get returns the first value for key.
func (h *Headers) Get(key string) (string, bool) {
	for _, p := range h.pairs {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// All returns every value stored under key, in wire order.
func (h *Headers) All(key string) []string {
	var vals []string
	for _, p := range h.pairs {
		if p.Key == key {
			vals = append(vals, p.Value)
		}
	}
	return vals
}

// Each calls fn once per pair, in wire order.
func (h *Headers) Each(fn func(key, value string)) {
	for _, p := range h.pairs {
		fn(p.Key, p.Value)
	}
}

// Len returns the number of pairs, including duplicates.
func (h *Headers) Len() int {
	if h == nil {
		return 0
	}
	return len(h.pairs)
}

// Clone returns an independent copy, used when a subscription's headers
// are stashed for replay after reconnect.
func (h *Headers) Clone() *Headers {
	c := &Headers{pairs: make([]Header, len(h.pairs))}
	copy(c.pairs, h.pairs)
	return c
}

// Frame is a single STOMP protocol message.
type Frame struct {
	Command string
	Headers *Headers
	Body    []byte

	// SuppressContentLength mirrors the :suppress_content_length send
	// option: the encoder omits the auto-added content-length header,
	// used for text bodies that contain no NUL bytes and are meant to
	// be read until the terminator instead.
	SuppressContentLength bool
}

// New creates a frame with the given command and an empty header list.
func New(command string) *Frame {
	return &Frame{Command: command, Headers: NewHeaders()}
}
