// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: The deskbridge Authors

// Package bridge turns the rfb client into one-shot remote-desktop actions.
//
// Every action dials the configured target, performs the full handshake,
// does its work, and closes the connection. The remote desktop itself is
// the only state carried between actions, which keeps long automation runs
// recoverable: whatever happened to the previous connection, the next
// action starts from a fresh session.
//
// Callers address the screen in a fixed reference resolution (1366x768 by
// default). Screenshots are scaled down to it and incoming coordinates are
// scaled up to the real framebuffer, so automation logic never has to know
// the target's actual display mode.
package bridge

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net"

	"github.com/google/uuid"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	rfb "github.com/deskbridge/go-rfb"
	"github.com/deskbridge/go-rfb/keysym"
)

// Dialer opens the transport a session runs over. The zero value of Bridge
// dials plain TCP to the configured target; DialWebsocket provides a
// websockify alternative.
type Dialer func(ctx context.Context) (net.Conn, error)

// Bridge executes remote-desktop actions against one configured target.
// Building one is cheap and holds no connection; each action opens and
// closes its own session.
type Bridge struct {
	cfg     Config
	logger  rfb.Logger
	metrics rfb.MetricsCollector
	dialer  Dialer
}

// Option adjusts how a Bridge runs its sessions.
type Option func(*Bridge)

// WithLogger routes session and protocol logging through logger.
func WithLogger(logger rfb.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics attaches a collector to every session the bridge opens.
func WithMetrics(metrics rfb.MetricsCollector) Option {
	return func(b *Bridge) {
		if metrics != nil {
			b.metrics = metrics
		}
	}
}

// WithDialer replaces the TCP transport, for example with DialWebsocket
// for targets behind a websockify proxy.
func WithDialer(dialer Dialer) Option {
	return func(b *Bridge) {
		b.dialer = dialer
	}
}

// New returns a Bridge for the configured target.
func New(cfg Config, opts ...Option) *Bridge {
	b := &Bridge{
		cfg:     cfg,
		logger:  &rfb.NoOpLogger{},
		metrics: &rfb.NoOpMetrics{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// withClient runs one action on a fresh session. The generated session id
// correlates the action's log lines across connect, work, and teardown.
func (b *Bridge) withClient(ctx context.Context, action string, fn func(*rfb.Client) error) error {
	logger := b.logger.With(
		rfb.Field{Key: "session", Value: uuid.NewString()},
		rfb.Field{Key: "action", Value: action})

	client, err := b.connect(ctx, logger)
	if err != nil {
		return errors.Wrapf(err, "%s: connect %s", action, b.cfg.Target.Addr())
	}
	actErr := fn(client)
	if actErr != nil {
		actErr = errors.Wrap(actErr, action)
	}
	return multierr.Append(actErr, client.Close())
}

func (b *Bridge) connect(ctx context.Context, logger rfb.Logger) (*rfb.Client, error) {
	opts := []rfb.Option{
		rfb.WithUsername(b.cfg.Target.Username),
		rfb.WithPassword(b.cfg.Target.Password),
		rfb.WithTypeDelay(b.cfg.Input.TypeDelay()),
		rfb.WithKeyDelay(b.cfg.Input.KeyDelay()),
		rfb.WithLogger(logger),
		rfb.WithMetrics(b.metrics),
	}
	if b.dialer != nil {
		conn, err := b.dialer(ctx)
		if err != nil {
			return nil, err
		}
		return rfb.Connect(ctx, conn, opts...)
	}
	return rfb.Dial(ctx, b.cfg.Target.Addr(), opts...)
}

// toTarget maps reference-space coordinates onto the live framebuffer.
func (b *Bridge) toTarget(client *rfb.Client, x, y int) (int, int) {
	width, height := client.FramebufferSize()
	return ScalePoint(x, y, b.cfg.Capture.Reference(), Size{Width: width, Height: height})
}

// Screenshot is one captured frame scaled to the reference resolution.
// SourceWidth and SourceHeight report the display mode the frame was
// captured at; Width and Height are the dimensions of the encoded PNG.
type Screenshot struct {
	PNG          []byte
	Width        int
	Height       int
	SourceWidth  int
	SourceHeight int
}

// CaptureScreen captures one full frame and scales it to the reference
// resolution with Lanczos resampling. A target already running at the
// reference resolution is encoded as-is.
func (b *Bridge) CaptureScreen(ctx context.Context) (*Screenshot, error) {
	var shot *Screenshot
	err := b.withClient(ctx, "capture_screen", func(client *rfb.Client) error {
		img, err := client.CaptureScreen()
		if err != nil {
			return err
		}
		srcWidth, srcHeight := client.FramebufferSize()
		ref := b.cfg.Capture.Reference()

		var scaled image.Image = img
		if ref.Width > 0 && ref.Height > 0 && (srcWidth != ref.Width || srcHeight != ref.Height) {
			// #nosec G115 - Reference dimensions were checked positive
			scaled = resize.Resize(uint(ref.Width), uint(ref.Height), img, resize.Lanczos3)
		}
		bounds := scaled.Bounds()

		var buf bytes.Buffer
		if err := png.Encode(&buf, scaled); err != nil {
			return errors.Wrap(err, "encode png")
		}
		shot = &Screenshot{
			PNG:          buf.Bytes(),
			Width:        bounds.Dx(),
			Height:       bounds.Dy(),
			SourceWidth:  srcWidth,
			SourceHeight: srcHeight,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return shot, nil
}

// Click presses and releases a mouse button at a reference-space position.
// Buttons follow the device numbering: 1 left, 2 middle, 3 right.
func (b *Bridge) Click(ctx context.Context, x, y int, button uint8) error {
	return b.withClient(ctx, "click", func(client *rfb.Client) error {
		targetX, targetY := b.toTarget(client, x, y)
		return client.MouseClick(targetX, targetY, button, false, b.cfg.Input.ClickDelay())
	})
}

// DoubleClick clicks a button twice at a reference-space position, paced
// so the target reads the pair as a double click.
func (b *Bridge) DoubleClick(ctx context.Context, x, y int, button uint8) error {
	return b.withClient(ctx, "double_click", func(client *rfb.Client) error {
		targetX, targetY := b.toTarget(client, x, y)
		return client.MouseClick(targetX, targetY, button, true, b.cfg.Input.ClickDelay())
	})
}

// MoveMouse moves the pointer to a reference-space position with no
// buttons held.
func (b *Bridge) MoveMouse(ctx context.Context, x, y int) error {
	return b.withClient(ctx, "move_mouse", func(client *rfb.Client) error {
		targetX, targetY := b.toTarget(client, x, y)
		return client.PointerEvent(0, targetX, targetY)
	})
}

// Drag holds a button down from one reference-space position to another.
func (b *Bridge) Drag(ctx context.Context, fromX, fromY, toX, toY int, button uint8) error {
	return b.withClient(ctx, "drag", func(client *rfb.Client) error {
		startX, startY := b.toTarget(client, fromX, fromY)
		endX, endY := b.toTarget(client, toX, toY)
		return client.MouseDrag(startX, startY, endX, endY, button)
	})
}

// Scroll rolls the wheel at a reference-space position.
func (b *Bridge) Scroll(ctx context.Context, x, y int, up bool, clicks int) error {
	return b.withClient(ctx, "scroll", func(client *rfb.Client) error {
		targetX, targetY := b.toTarget(client, x, y)
		return client.MouseScroll(targetX, targetY, up, clicks)
	})
}

// TypeText types literal text on the target.
func (b *Bridge) TypeText(ctx context.Context, text string) error {
	return b.withClient(ctx, "type_text", func(client *rfb.Client) error {
		return client.TypeText(text)
	})
}

// PressKeys presses a named key or combination such as "enter" or
// "ctrl+shift+t". Modifiers listed first are held for the duration and
// released last.
func (b *Bridge) PressKeys(ctx context.Context, combination string) error {
	keysyms, err := keysym.ParseCombination(combination)
	if err != nil {
		return errors.Wrap(err, "press_keys")
	}
	return b.withClient(ctx, "press_keys", func(client *rfb.Client) error {
		return client.KeyCombination(keysyms...)
	})
}

// TargetInfo describes the remote desktop an established session sees.
type TargetInfo struct {
	Addr            string
	DesktopName     string
	Width           int
	Height          int
	ProtocolVersion string
}

// Info connects, reads the target's identity, and disconnects without
// sending any input.
func (b *Bridge) Info(ctx context.Context) (*TargetInfo, error) {
	var info *TargetInfo
	err := b.withClient(ctx, "info", func(client *rfb.Client) error {
		width, height := client.FramebufferSize()
		info = &TargetInfo{
			Addr:            b.cfg.Target.Addr(),
			DesktopName:     client.DesktopName(),
			Width:           width,
			Height:          height,
			ProtocolVersion: client.ProtocolVersion(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}
