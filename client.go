// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: The deskbridge Authors

package rfb

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// ButtonMask represents the state of pointer buttons in a pointer event.
type ButtonMask uint8

// Button mask constants for standard mouse buttons and scroll wheel events.
const (
	ButtonLeft ButtonMask = 1 << iota
	ButtonMiddle
	ButtonRight
	Button4
	Button5
	Button6
	Button7
	Button8
)

// Client-to-server message types (RFC 6143 §7.5).
const (
	msgSetPixelFormat           uint8 = 0
	msgSetEncodings             uint8 = 2
	msgFramebufferUpdateRequest uint8 = 3
	msgKeyEvent                 uint8 = 4
	msgPointerEvent             uint8 = 5
)

// Protocol limits.
const (
	protoVersionLen       = 12
	maxRectanglesPerBatch = 10000
	maxReasonLength       = 4096
	maxDesktopNameLength  = 1024 * 1024
)

// clientVersion is the only protocol version the client speaks. It is sent
// regardless of the server's advertised minor version; macOS servers report
// versions like 003.889 and still expect a 3.8 reply.
var clientVersion = []byte("RFB 003.008\n")

// State describes where a client is in its connection lifecycle.
type State int

const (
	// StateDisconnected means no usable session exists.
	StateDisconnected State = iota
	// StateNegotiating means the version and security handshake is in progress.
	StateNegotiating
	// StateAuthenticated means security completed but init has not.
	StateAuthenticated
	// StateReady means the session is established and operations may be issued.
	StateReady
)

// String returns the lifecycle state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateNegotiating:
		return "negotiating"
	case StateAuthenticated:
		return "authenticated"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Config carries client connection settings. Most callers use the functional
// options instead of building a Config directly.
type Config struct {
	// Username is sent by VeNCrypt Plain authentication. Other schemes ignore it.
	Username string

	// Password is used by VNC Authentication and the VeNCrypt credential
	// sub-types. Security types that need it are skipped when it is empty.
	Password string

	// Shared requests a shared session, leaving other clients connected.
	Shared bool

	// ConnectTimeout bounds the TCP dial and the whole handshake.
	ConnectTimeout time.Duration

	// IOTimeout bounds each read and write after the handshake.
	IOTimeout time.Duration

	// TypeDelay is the pause between characters typed by TypeText.
	TypeDelay time.Duration

	// KeyDelay is the pause between key transitions in KeyCombination.
	KeyDelay time.Duration

	// Logger receives connection lifecycle and protocol logging.
	Logger Logger

	// Metrics receives connection and operation metrics.
	Metrics MetricsCollector
}

// Default timing values.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultIOTimeout      = 10 * time.Second
	DefaultTypeDelay      = 20 * time.Millisecond
	DefaultKeyDelay       = 50 * time.Millisecond
)

// defaultConfig returns the baseline configuration options are applied over.
func defaultConfig() *Config {
	return &Config{
		Shared:         true,
		ConnectTimeout: DefaultConnectTimeout,
		IOTimeout:      DefaultIOTimeout,
		TypeDelay:      DefaultTypeDelay,
		KeyDelay:       DefaultKeyDelay,
		Logger:         &NoOpLogger{},
		Metrics:        &NoOpMetrics{},
	}
}

// Option is a functional option for configuring a client connection.
type Option func(*Config)

// WithUsername sets the username for VeNCrypt Plain authentication.
func WithUsername(username string) Option {
	return func(cfg *Config) {
		cfg.Username = username
	}
}

// WithPassword sets the password used by password-bearing security types.
// Leaving it unset restricts negotiation to types that need no credentials.
func WithPassword(password string) Option {
	return func(cfg *Config) {
		cfg.Password = password
	}
}

// WithShared sets whether the client requests a shared session. When false
// the server disconnects other clients on accept.
func WithShared(shared bool) Option {
	return func(cfg *Config) {
		cfg.Shared = shared
	}
}

// WithConnectTimeout sets the deadline covering the TCP dial and the
// complete handshake through ServerInit.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(cfg *Config) {
		cfg.ConnectTimeout = timeout
	}
}

// WithIOTimeout sets the per-operation read and write deadline used once
// the session is established.
func WithIOTimeout(timeout time.Duration) Option {
	return func(cfg *Config) {
		cfg.IOTimeout = timeout
	}
}

// WithTypeDelay sets the pause between characters sent by TypeText.
func WithTypeDelay(delay time.Duration) Option {
	return func(cfg *Config) {
		cfg.TypeDelay = delay
	}
}

// WithKeyDelay sets the pause between key transitions in KeyCombination.
func WithKeyDelay(delay time.Duration) Option {
	return func(cfg *Config) {
		cfg.KeyDelay = delay
	}
}

// WithLogger sets the logger for the client connection.
// Use NoOpLogger to disable logging or provide a custom implementation.
func WithLogger(logger Logger) Option {
	return func(cfg *Config) {
		if logger != nil {
			cfg.Logger = logger
		}
	}
}

// WithMetrics sets the metrics collector for connection monitoring.
// Use NoOpMetrics to disable metrics collection or provide a custom implementation.
func WithMetrics(metrics MetricsCollector) Option {
	return func(cfg *Config) {
		if metrics != nil {
			cfg.Metrics = metrics
		}
	}
}

// Client is a synchronous RFB 3.8 client connection. All protocol exchanges
// happen on the caller's goroutine: a capture is a request followed by reads
// until the update is consumed, and input operations are single writes.
//
// A Client is not safe for concurrent use. The one sanctioned cross-goroutine
// call is Close, which unblocks a pending read by closing the socket.
type Client struct {
	conn    net.Conn
	cfg     *Config
	logger  Logger
	metrics MetricsCollector

	state        State
	protoVersion string
	width        int
	height       int
	desktopName  string
	format       PixelFormat
	serverFormat PixelFormat
	encodings    []Encoding
	canvas       *Canvas

	handshakeDeadline time.Time
	closed            bool
}

// Dial connects to addr (host:port), performs the complete handshake, and
// returns a client in the Ready state. The configured ConnectTimeout bounds
// the dial and the handshake together; ctx can end it earlier.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	const op = "Dial"
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		cfg.Metrics.IncCounter(MetricConnects, "error")
		if isTimeout(err) {
			return nil, timeoutError(op, fmt.Sprintf("connecting to %s timed out", addr), err)
		}
		return nil, refusedError(op, fmt.Sprintf("connecting to %s failed", addr), err)
	}

	client, err := connect(ctx, conn, cfg)
	if err != nil {
		return nil, err
	}
	client.logger.Info("session established",
		Field{Key: "addr", Value: addr},
		Field{Key: "desktop", Value: client.desktopName},
		Field{Key: "width", Value: client.width},
		Field{Key: "height", Value: client.height})
	return client, nil
}

// Connect performs the handshake over an already established stream. This
// admits transports other than plain TCP, such as a websockify tunnel or an
// in-memory pipe in tests.
func Connect(ctx context.Context, conn net.Conn, opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return connect(ctx, conn, cfg)
}

// connect drives the handshake and classifies the outcome for metrics. The
// caller owns conn on entry; connect closes it on any failure.
func connect(ctx context.Context, conn net.Conn, cfg *Config) (*Client, error) {
	c := &Client{
		conn:    conn,
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		state:   StateNegotiating,
	}

	deadline := time.Now().Add(cfg.ConnectTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	c.handshakeDeadline = deadline
	if err := conn.SetDeadline(deadline); err != nil {
		c.metrics.IncCounter(MetricConnects, "error")
		_ = conn.Close()
		return nil, refusedError("Connect", "failed to arm handshake deadline", err)
	}

	start := time.Now()
	if err := c.handshake(); err != nil {
		c.metrics.IncCounter(MetricConnects, "error")
		c.state = StateDisconnected
		_ = conn.Close()
		c.closed = true
		return nil, err
	}

	c.handshakeDeadline = time.Time{}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		c.metrics.IncCounter(MetricConnects, "error")
		_ = conn.Close()
		c.closed = true
		return nil, refusedError("Connect", "failed to clear handshake deadline", err)
	}

	c.state = StateReady
	c.metrics.IncCounter(MetricConnects, "ok")
	c.metrics.ObserveHistogram(MetricHandshakeTime, time.Since(start).Seconds())
	c.metrics.SetGauge(MetricSessionsActive, 1)
	return c, nil
}

// Close tears down the connection. It is idempotent: closing an already
// closed client is a no-op, and Close never reports an error.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.state == StateReady {
		c.metrics.SetGauge(MetricSessionsActive, 0)
	}
	c.state = StateDisconnected
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("socket close failed", Field{Key: "error", Value: err})
		}
	}
	c.logger.Debug("session closed")
	return nil
}

// abort poisons the connection after a fatal mid-stream error. The session
// drops to Disconnected and the socket is closed; the caller must reconnect.
func (c *Client) abort(err error) {
	c.logger.Warn("connection is no longer usable", Field{Key: "error", Value: err})
	_ = c.Close()
}

// State returns the connection lifecycle state.
func (c *Client) State() State {
	return c.state
}

// ProtocolVersion returns the version string the server greeted with,
// without the trailing newline.
func (c *Client) ProtocolVersion() string {
	return c.protoVersion
}

// FramebufferSize returns the current remote framebuffer dimensions.
func (c *Client) FramebufferSize() (width, height int) {
	return c.width, c.height
}

// Encodings returns the encodings advertised to the server, in preference
// order.
func (c *Client) Encodings() []Encoding {
	return append([]Encoding(nil), c.encodings...)
}

// DesktopName returns the desktop name from ServerInit.
func (c *Client) DesktopName() string {
	return c.desktopName
}

// PixelFormat returns the pixel format rectangle data is decoded with.
func (c *Client) PixelFormat() PixelFormat {
	return c.format
}

// ServerPixelFormat returns the format the server advertised in ServerInit,
// before the client requested its own.
func (c *Client) ServerPixelFormat() PixelFormat {
	return c.serverFormat
}

// requireReady gates operations that need an established session.
func (c *Client) requireReady(op string) error {
	if c.state != StateReady {
		return notConnectedError(op)
	}
	return nil
}

// isTimeout reports whether err is a network timeout.
func isTimeout(err error) bool {
	var netErr net.Error
	if ok := asNetError(err, &netErr); ok {
		return netErr.Timeout()
	}
	return false
}

// asNetError unwraps err looking for a net.Error.
func asNetError(err error, target *net.Error) bool {
	for err != nil {
		if ne, ok := err.(net.Error); ok {
			*target = ne
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// readFull reads exactly len(buf) bytes, arming the appropriate deadline
// first. During the handshake the connection-wide deadline is already set;
// afterwards each read gets IOTimeout.
func (c *Client) readFull(buf []byte) (int, error) {
	if c.handshakeDeadline.IsZero() && c.cfg.IOTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.IOTimeout)); err != nil {
			return 0, err
		}
	}
	return io.ReadFull(c.conn, buf)
}

// writeRaw writes all of data, arming the write deadline outside the
// handshake window.
func (c *Client) writeRaw(data []byte) error {
	if c.handshakeDeadline.IsZero() && c.cfg.IOTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.IOTimeout)); err != nil {
			return err
		}
	}
	_, err := c.conn.Write(data)
	return err
}

// readHandshake reads exactly len(buf) bytes during the handshake phase,
// mapping failures to the connect error taxonomy.
func (c *Client) readHandshake(op string, buf []byte) error {
	if _, err := c.readFull(buf); err != nil {
		if isTimeout(err) {
			return timeoutError(op, "timed out waiting for server data", err)
		}
		return protocolError(op, "connection ended during handshake", err)
	}
	return nil
}

// readStream reads exactly len(buf) bytes of an established session's
// stream. Any failure, including a timeout, leaves the stream misframed and
// is reported as a short read.
func (c *Client) readStream(op string, buf []byte) error {
	if n, err := c.readFull(buf); err != nil {
		return shortReadError(op, fmt.Sprintf("stream ended %d bytes into a %d byte read", n, len(buf)), err)
	}
	return nil
}

// write sends data, mapping failures onto the send taxonomy.
func (c *Client) write(op string, data []byte) error {
	if err := c.writeRaw(data); err != nil {
		if isTimeout(err) {
			return timeoutError(op, "timed out writing to server", err)
		}
		return sendFailedError(op, "failed to write to server", err)
	}
	return nil
}

// writeMessage builds a client message from big-endian fields and sends it.
func (c *Client) writeMessage(op string, fields []interface{}) error {
	var buf bytes.Buffer
	for _, val := range fields {
		if err := binary.Write(&buf, binary.BigEndian, val); err != nil {
			return sendFailedError(op, "failed to encode message field", err)
		}
	}
	return c.write(op, buf.Bytes())
}
