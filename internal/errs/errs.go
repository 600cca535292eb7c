// Package errs defines the error taxonomy shared by every layer of the
// STOMP connection: frame codec, transport, host pool, and connection
// core. Each failure mode is a Kind rather than a distinct Go type, so
// callers match with errors.Is against the exported sentinels.
package errs

import "fmt"

// Kind identifies which of the connection's failure categories an error
// belongs to.
type Kind int

const (
	KindUnknown Kind = iota
	KindNoCurrentConnection
	KindMessageIDRequired
	KindSubscriptionRequired
	KindDuplicateSubscription
	KindUnsupportedProtocol
	KindMalformedFrame
	KindProtocolError
	KindBrokerError
	KindHeartbeatSend
	KindHeartbeatRecv
	KindMaxReconnectAttempts
	KindTransportError
	KindConnectionClosed
	// KindRetryPending signals a user-initiated transmit that failed,
	// triggered a successful reconnect, and must be re-driven by the
	// caller rather than silently retried (spec: transmits re-raise,
	// receives retry once internally).
	KindRetryPending
)

var kindNames = map[Kind]string{
	KindUnknown:               "unknown",
	KindNoCurrentConnection:   "no_current_connection",
	KindMessageIDRequired:     "message_id_required",
	KindSubscriptionRequired:  "subscription_required",
	KindDuplicateSubscription: "duplicate_subscription",
	KindUnsupportedProtocol:   "unsupported_protocol",
	KindMalformedFrame:        "malformed_frame",
	KindProtocolError:         "protocol_error",
	KindBrokerError:           "broker_error",
	KindHeartbeatSend:         "heartbeat_send_exception",
	KindHeartbeatRecv:         "heartbeat_recv_exception",
	KindMaxReconnectAttempts:  "max_reconnect_attempts",
	KindTransportError:        "transport_error",
	KindConnectionClosed:      "connection_closed",
	KindRetryPending:          "retry_pending",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// BrokerFault carries the headers and body of a broker ERROR frame, for
// the KindBrokerError case where the caller needs the frame contents.
type BrokerFault struct {
	Command string
	Headers [][2]string
	Body    []byte
}

// ConnError is the concrete error type for every failure this module
// raises. It wraps an optional underlying cause and, for BrokerError,
// the offending frame.
type ConnError struct {
	Kind    Kind
	Message string
	Broker  *BrokerFault
	Err     error
}

func (e *ConnError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("stomp: %s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("stomp: %s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("stomp: %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("stomp: %s", e.Kind)
	}
}

func (e *ConnError) Unwrap() error { return e.Err }

// Is matches another *ConnError sharing the same Kind, so callers can
// write errors.Is(err, errs.ErrDuplicateSubscription) without caring
// about the message or wrapped cause.
func (e *ConnError) Is(target error) bool {
	t, ok := target.(*ConnError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a ConnError carrying a human-readable message.
func New(kind Kind, msg string) *ConnError {
	return &ConnError{Kind: kind, Message: msg}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(kind Kind, format string, args ...any) *ConnError {
	return &ConnError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an underlying error, preserving it for
// errors.Unwrap/errors.As.
func Wrap(kind Kind, err error) *ConnError {
	return &ConnError{Kind: kind, Err: err}
}

// Broker builds a KindBrokerError from the broker's ERROR frame contents.
func Broker(fault *BrokerFault) *ConnError {
	return &ConnError{Kind: KindBrokerError, Broker: fault, Message: "broker sent ERROR frame"}
}

// Sentinels for errors.Is matching against a bare kind.
var (
	ErrNoCurrentConnection   = New(KindNoCurrentConnection, "connection is closed")
	ErrMessageIDRequired     = New(KindMessageIDRequired, "message id is required")
	ErrSubscriptionRequired  = New(KindSubscriptionRequired, "subscription id is required")
	ErrDuplicateSubscription = New(KindDuplicateSubscription, "subscription id already in use")
	ErrUnsupportedProtocol   = New(KindUnsupportedProtocol, "operation unsupported at negotiated protocol version")
	ErrMaxReconnectAttempts  = New(KindMaxReconnectAttempts, "host pool exhausted reconnect attempts")
	ErrConnectionClosed      = New(KindConnectionClosed, "connection closed")
)
