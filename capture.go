// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: The deskbridge Authors

package rfb

import (
	"encoding/binary"
	"fmt"
	"image"
	"time"
)

// msgFramebufferUpdate is the server-to-client message type a capture
// expects in response to its update request (RFC 6143 §7.6).
const msgFramebufferUpdate uint8 = 0

// Sentinel fill painted over rectangles whose pixel data frames correctly
// but cannot be color-decoded. Magenta, so the degradation is visible in
// the snapshot instead of silently wrong.
const (
	sentinelRed   = 255
	sentinelGreen = 0
	sentinelBlue  = 255
)

// CaptureScreen requests a framebuffer update and returns a snapshot of the
// canvas after applying it. The first capture on a connection requests the
// full framebuffer; once a canvas exists, later captures ask only for the
// pixels that changed and compose them onto it.
//
// A short read or a framing violation mid-update leaves the stream
// unparseable, so those errors poison the connection: the client drops to
// Disconnected and the caller must reconnect.
func (c *Client) CaptureScreen() (*image.RGBA, error) {
	const op = "Client.CaptureScreen"
	if err := c.requireReady(op); err != nil {
		return nil, err
	}

	start := time.Now()
	if err := c.captureUpdate(op); err != nil {
		c.metrics.IncCounter(MetricCaptures, "error")
		c.abort(err)
		return nil, err
	}
	c.metrics.IncCounter(MetricCaptures, "ok")
	c.metrics.ObserveHistogram(MetricCaptureTime, time.Since(start).Seconds())

	return c.canvas.Snapshot(), nil
}

// CaptureScreenPNG captures the screen and encodes the snapshot as PNG.
func (c *Client) CaptureScreenPNG() ([]byte, error) {
	if _, err := c.CaptureScreen(); err != nil {
		return nil, err
	}
	return c.canvas.EncodePNG()
}

// captureUpdate issues one update request and consumes the server's reply.
func (c *Client) captureUpdate(op string) error {
	incremental := c.canvas != nil
	if !incremental {
		c.canvas = newCanvas(c.width, c.height)
	}

	if err := c.sendUpdateRequest(op, incremental); err != nil {
		return err
	}

	var header [4]byte
	if err := c.readStream(op, header[:]); err != nil {
		return err
	}
	if header[0] != msgFramebufferUpdate {
		return protocolError(op,
			fmt.Sprintf("server sent message type %d while an update was expected", header[0]), nil)
	}
	count := int(binary.BigEndian.Uint16(header[2:4]))
	if count > maxRectanglesPerBatch {
		return protocolError(op,
			fmt.Sprintf("update declares %d rectangles, limit is %d", count, maxRectanglesPerBatch), nil)
	}
	c.logger.Debug("framebuffer update received",
		Field{Key: "incremental", Value: incremental},
		Field{Key: "rectangles", Value: count})

	for i := 0; i < count; i++ {
		if err := c.readRectangle(op); err != nil {
			return err
		}
	}
	return nil
}

// sendUpdateRequest asks for the whole framebuffer, incrementally or not.
func (c *Client) sendUpdateRequest(op string, incremental bool) error {
	flag := uint8(0)
	if incremental {
		flag = 1
	}
	return c.writeMessage(op, []interface{}{
		msgFramebufferUpdateRequest, flag,
		uint16(0), uint16(0),
		uint16(c.width), uint16(c.height), // #nosec G115 - Bounded by maxFramebufferDim
	})
}

// readRectangle consumes one rectangle header and its payload, applying the
// rectangle to the canvas according to its encoding. Rectangles in encodings
// the client never advertised carry an unknowable payload length, so they
// are skipped without consuming anything beyond the header.
func (c *Client) readRectangle(op string) error {
	var header [12]byte
	if err := c.readStream(op, header[:]); err != nil {
		return err
	}
	x := int(binary.BigEndian.Uint16(header[0:2]))
	y := int(binary.BigEndian.Uint16(header[2:4]))
	width := int(binary.BigEndian.Uint16(header[4:6]))
	height := int(binary.BigEndian.Uint16(header[6:8]))
	enc := Encoding(int32(binary.BigEndian.Uint32(header[8:12]))) // #nosec G115 - Two's complement wire form of the signed code

	c.metrics.IncCounter(MetricCaptureRects, enc.String())

	switch enc {
	case EncodingRaw:
		return c.readRawRect(op, x, y, width, height)
	case EncodingCopyRect:
		return c.readCopyRect(op, x, y, width, height)
	case EncodingDesktopSize:
		return c.applyDesktopSize(op, width, height)
	default:
		c.logger.Warn("skipping rectangle in unadvertised encoding",
			Field{Key: "encoding", Value: int32(enc)},
			Field{Key: "x", Value: x},
			Field{Key: "y", Value: y},
			Field{Key: "width", Value: width},
			Field{Key: "height", Value: height})
		return nil
	}
}

// readRawRect reads width*height pixels in the negotiated format and paints
// them at (x, y). The payload length follows from the negotiated format, so
// framing survives even when the pixels cannot be color-decoded; in that
// case the rectangle degrades to the sentinel fill and the capture
// continues.
func (c *Client) readRawRect(op string, x, y, width, height int) error {
	if err := checkRectBounds(op, x, y, width, height, c.canvas.Width(), c.canvas.Height()); err != nil {
		return err
	}

	bpp := c.format.BytesPerPixel()
	payload := make([]byte, width*height*bpp)
	if err := c.readStream(op, payload); err != nil {
		return err
	}
	c.metrics.AddCounter(MetricCaptureBytes, float64(len(payload)))

	decoder, err := newPixelDecoder(c.format)
	if err != nil {
		c.logger.Warn("rectangle cannot be decoded, painting sentinel fill",
			Field{Key: "error", Value: err},
			Field{Key: "x", Value: x},
			Field{Key: "y", Value: y},
			Field{Key: "width", Value: width},
			Field{Key: "height", Value: height})
		c.canvas.fillRect(x, y, width, height, sentinelRed, sentinelGreen, sentinelBlue)
		return nil
	}

	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			offset := (row*width + col) * bpp
			r, g, b := decoder.rgb(decoder.pixel(payload[offset:]))
			c.canvas.setRGB(x+col, y+row, r, g, b)
		}
	}
	return nil
}

// readCopyRect copies a region already on the canvas. Only the source
// coordinates travel on the wire.
func (c *Client) readCopyRect(op string, x, y, width, height int) error {
	var coords [4]byte
	if err := c.readStream(op, coords[:]); err != nil {
		return err
	}
	c.metrics.AddCounter(MetricCaptureBytes, float64(len(coords)))

	if err := checkRectBounds(op, x, y, width, height, c.canvas.Width(), c.canvas.Height()); err != nil {
		return err
	}
	srcX := int(binary.BigEndian.Uint16(coords[0:2]))
	srcY := int(binary.BigEndian.Uint16(coords[2:4]))
	c.canvas.copyRect(srcX, srcY, x, y, width, height)
	return nil
}

// applyDesktopSize resizes the canvas to the announced dimensions. Existing
// content stays anchored at the origin; a grown canvas exposes black until
// the server repaints it.
func (c *Client) applyDesktopSize(op string, width, height int) error {
	if err := checkFramebufferSize(op, width, height); err != nil {
		return err
	}
	if width == c.width && height == c.height {
		return nil
	}
	c.logger.Info("desktop resized",
		Field{Key: "width", Value: width},
		Field{Key: "height", Value: height},
		Field{Key: "previous_width", Value: c.width},
		Field{Key: "previous_height", Value: c.height})

	c.canvas = c.canvas.resized(width, height)
	c.width = width
	c.height = height
	return nil
}
