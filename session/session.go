// Package session implements spec.md §4.4, C4: building the
// CONNECT/STOMP request and negotiating the broker's CONNECTED reply
// into a SessionState (protocol version, session id, heartbeat caps).
package session

import (
	"strconv"
	"strings"

	"gostomp/frame"
	"gostomp/internal/errs"
)

// Config carries everything needed to build the initial connect frame.
type Config struct {
	UseStomp       bool // stompconn: send STOMP instead of CONNECT on 1.1+
	AcceptVersions string
	VHost          string
	Login          string
	Passcode       string
	HeartBeat      string // "cx,cy", empty to omit the header entirely
	ConnectHeaders map[string]string
	DevModeHeader  bool // dmh: pass a vendor header downstream
}

// BuildConnectFrame assembles the CONNECT (or STOMP) request per
// spec.md §4.4: accept-version, host, login, passcode, heart-beat, with
// caller-supplied connect_headers merged in first so explicit fields
// below always win over a colliding caller header.
func BuildConnectFrame(cfg Config) *frame.Frame {
	command := "CONNECT"
	if cfg.UseStomp {
		command = "STOMP"
	}
	f := frame.New(command)

	for k, v := range cfg.ConnectHeaders {
		f.Headers.Add(k, v)
	}

	accept := cfg.AcceptVersions
	if accept == "" {
		accept = "1.0,1.1,1.2"
	}
	f.Headers.Set("accept-version", accept)
	f.Headers.Set("host", cfg.VHost)
	if cfg.Login != "" {
		f.Headers.Set("login", cfg.Login)
	}
	if cfg.Passcode != "" {
		f.Headers.Set("passcode", cfg.Passcode)
	}
	if cfg.HeartBeat != "" {
		f.Headers.Set("heart-beat", cfg.HeartBeat)
	}
	if cfg.DevModeHeader {
		f.Headers.Set("x-dmh", "true")
	}
	return f
}

// State is spec.md §3's SessionState.
type State struct {
	Protocol          frame.Version
	SessionID         string
	PeerHeartbeatSend int // sx: ms between frames the broker promises to send
	PeerHeartbeatRecv int // sy: ms between frames the broker wants to receive
	ConnectFrame      *frame.Frame
	DisconnectReceipt *frame.Frame
	Closed            bool
	Failure           error
}

// Negotiate validates the broker's reply to CONNECT/STOMP and derives a
// State from it. An ERROR reply becomes a BrokerError; anything else
// that isn't CONNECTED is a ProtocolError.
func Negotiate(reply *frame.Frame) (*State, error) {
	if reply.Command == "ERROR" {
		return nil, errs.Broker(brokerFaultFrom(reply))
	}
	if reply.Command != "CONNECTED" {
		return nil, errs.New(errs.KindProtocolError, "expected CONNECTED, got "+reply.Command)
	}

	st := &State{ConnectFrame: reply, Protocol: frame.V1_0}
	if v, ok := reply.Headers.Get("version"); ok {
		version := frame.Version(v)
		if !version.Supported() {
			return nil, errs.New(errs.KindProtocolError, "unsupported protocol version: "+v)
		}
		st.Protocol = version
	}
	if sid, ok := reply.Headers.Get("session"); ok {
		st.SessionID = sid
	}
	if hb, ok := reply.Headers.Get("heart-beat"); ok {
		sx, sy, err := ParseHeartBeat(hb)
		if err != nil {
			return nil, err
		}
		st.PeerHeartbeatSend = sx
		st.PeerHeartbeatRecv = sy
	}
	return st, nil
}

// ParseHeartBeat parses a "cx,cy" heart-beat header value.
func ParseHeartBeat(value string) (x, y int, err error) {
	parts := strings.Split(value, ",")
	if len(parts) != 2 {
		return 0, 0, errs.New(errs.KindMalformedFrame, "invalid heart-beat header: "+value)
	}
	x, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	y, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || x < 0 || y < 0 {
		return 0, 0, errs.New(errs.KindMalformedFrame, "invalid heart-beat header: "+value)
	}
	return x, y, nil
}

// NegotiateInterval implements spec.md §4.4's max(a,b)-unless-either-is-zero
// rule used for both the send and receive interval derivations.
func NegotiateInterval(a, b int) int {
	if a != 0 && b != 0 {
		if a > b {
			return a
		}
		return b
	}
	return 0
}

func brokerFaultFrom(f *frame.Frame) *errs.BrokerFault {
	fault := &errs.BrokerFault{Command: f.Command, Body: f.Body}
	f.Headers.Each(func(k, v string) {
		fault.Headers = append(fault.Headers, [2]string{k, v})
	})
	return fault
}
