// Package stomp implements spec.md §4.6, C6: the public Connection
// operations (CONNECT, SUBSCRIBE, SEND, ACK, NACK, BEGIN, COMMIT, ABORT,
// UNSUBSCRIBE, DISCONNECT, receive/poll), the reconnect state machine,
// and the unreceive/redelivery helper. It wires the frame, transport,
// hostpool, heartbeat, and session packages together the way the
// teacher's client.Client wired registry, loadbalance, and transport
// into one call path.
package stomp

import (
	"time"

	"go.uber.org/zap"

	"gostomp/hostpool"
)

// Config is the full set of options from spec.md §6. Built via
// functional options on top of NewConnection's required hosts argument,
// the idiomatic Go answer to a surface this wide — the teacher's
// NewClient/NewConnPool/NewConsistentHashBalancer pattern of one
// explicit constructor scales to four parameters; this one needs ~20.
type Config struct {
	Reliable bool

	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	UseExponentialBackOff bool
	BackOffMultiplier     float64
	MaxReconnectAttempts  int
	Randomize             bool

	ConnectTimeout time.Duration
	ParseTimeout   time.Duration

	ConnectHeaders map[string]string
	Logger         *zap.SugaredLogger
	ClosedCheck    bool

	HeartbeatSendErrors bool // hbser
	HeartbeatTolerance  float64
	StompConnect        bool // stompconn
	UseCRLF             bool // usecrlf
	DevModeHeader       bool // dmh

	AcceptVersions string
	VHost          string
	HeartBeatCX    int
	HeartBeatCY    int

	// AutoFlush mirrors the "autoflush" knob client libraries expose for
	// buffered transports. transport.Write is unbuffered, so this is
	// accepted for configuration compatibility rather than acted on.
	AutoFlush bool
}

func defaultConfig() Config {
	return Config{
		InitialReconnectDelay: 10 * time.Millisecond,
		MaxReconnectDelay:     30 * time.Second,
		UseExponentialBackOff: true,
		BackOffMultiplier:     2,
		ParseTimeout:          5 * time.Second,
		ClosedCheck:           true,
		HeartbeatTolerance:    2.0,
		AcceptVersions:        "1.0,1.1,1.2",
		AutoFlush:             true,
	}
}

// Option configures a Connection at construction time.
type Option func(*Config)

func WithReliable() Option { return func(c *Config) { c.Reliable = true } }

func WithBackoff(initial, max time.Duration, multiplier float64, exponential bool) Option {
	return func(c *Config) {
		c.InitialReconnectDelay = initial
		c.MaxReconnectDelay = max
		c.BackOffMultiplier = multiplier
		c.UseExponentialBackOff = exponential
	}
}

func WithMaxReconnectAttempts(n int) Option {
	return func(c *Config) { c.MaxReconnectAttempts = n }
}

func WithRandomize() Option { return func(c *Config) { c.Randomize = true } }

func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) { c.ConnectTimeout = d }
}

func WithParseTimeout(d time.Duration) Option {
	return func(c *Config) { c.ParseTimeout = d }
}

func WithConnectHeaders(h map[string]string) Option {
	return func(c *Config) { c.ConnectHeaders = h }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Config) { c.Logger = l }
}

func WithClosedCheck(enabled bool) Option {
	return func(c *Config) { c.ClosedCheck = enabled }
}

func WithHeartbeatSendErrors() Option {
	return func(c *Config) { c.HeartbeatSendErrors = true }
}

func WithHeartbeatTolerance(k float64) Option {
	return func(c *Config) { c.HeartbeatTolerance = k }
}

func WithHeartBeat(cx, cy int) Option {
	return func(c *Config) { c.HeartBeatCX, c.HeartBeatCY = cx, cy }
}

func WithStompConnect() Option { return func(c *Config) { c.StompConnect = true } }

func WithCRLF() Option { return func(c *Config) { c.UseCRLF = true } }

func WithDevModeHeader() Option { return func(c *Config) { c.DevModeHeader = true } }

func WithAcceptVersions(v string) Option {
	return func(c *Config) { c.AcceptVersions = v }
}

func WithVHost(v string) Option {
	return func(c *Config) { c.VHost = v }
}

// WithAutoFlush sets the autoflush knob. transport.Write is unbuffered,
// so this has no observable effect today; it exists so callers porting
// config from a buffered client don't need to drop the setting.
func WithAutoFlush(enabled bool) Option {
	return func(c *Config) { c.AutoFlush = enabled }
}

func (c Config) hostPoolOptions() hostpool.Options {
	return hostpool.Options{
		Randomize:             c.Randomize,
		InitialReconnectDelay: c.InitialReconnectDelay,
		MaxReconnectDelay:     c.MaxReconnectDelay,
		BackOffMultiplier:     c.BackOffMultiplier,
		UseExponentialBackOff: c.UseExponentialBackOff,
		MaxReconnectAttempts:  c.MaxReconnectAttempts,
	}
}
