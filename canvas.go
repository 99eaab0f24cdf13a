// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: The deskbridge Authors

package rfb

import (
	"bytes"
	"image"
	"image/png"
)

// Canvas is the client-owned framebuffer: an RGB pixel buffer sized to the
// remote desktop. It accumulates rectangle updates across captures so that
// incremental updates compose onto the previous content.
//
// Pixels are stored RGBA with alpha fixed at 255 so snapshots map directly
// onto image.RGBA without a conversion pass.
type Canvas struct {
	width  int
	height int
	pix    []uint8
}

// newCanvas allocates a black canvas of the given dimensions.
func newCanvas(width, height int) *Canvas {
	c := &Canvas{
		width:  width,
		height: height,
		pix:    make([]uint8, width*height*4),
	}
	for i := 3; i < len(c.pix); i += 4 {
		c.pix[i] = 255
	}
	return c
}

// Width returns the canvas width in pixels.
func (c *Canvas) Width() int { return c.width }

// Height returns the canvas height in pixels.
func (c *Canvas) Height() int { return c.height }

// setRGB writes one pixel. Callers must keep x and y in bounds.
func (c *Canvas) setRGB(x, y int, r, g, b uint8) {
	off := (y*c.width + x) * 4
	c.pix[off] = r
	c.pix[off+1] = g
	c.pix[off+2] = b
}

// fillRect paints the intersection of the rectangle and the canvas with a
// solid color. Used for placeholder fills when a rectangle cannot be decoded.
func (c *Canvas) fillRect(x, y, w, h int, r, g, b uint8) {
	x0, y0, x1, y1 := c.clip(x, y, w, h)
	for py := y0; py < y1; py++ {
		off := (py*c.width + x0) * 4
		for px := x0; px < x1; px++ {
			c.pix[off] = r
			c.pix[off+1] = g
			c.pix[off+2] = b
			off += 4
		}
	}
}

// copyRect copies a w x h region from (srcX, srcY) to (dstX, dstY). The
// source region is staged into a temporary buffer first so overlapping
// source and destination produce the same result as a double-buffered copy.
func (c *Canvas) copyRect(srcX, srcY, dstX, dstY, w, h int) {
	sx0, sy0, sx1, sy1 := c.clip(srcX, srcY, w, h)
	w = sx1 - sx0
	h = sy1 - sy0
	dx0, dy0, dx1, dy1 := c.clip(dstX, dstY, w, h)
	if dx1-dx0 < w {
		w = dx1 - dx0
	}
	if dy1-dy0 < h {
		h = dy1 - dy0
	}
	if w <= 0 || h <= 0 {
		return
	}

	rowBytes := w * 4
	tmp := make([]uint8, rowBytes*h)
	for row := 0; row < h; row++ {
		srcOff := ((sy0+row)*c.width + sx0) * 4
		copy(tmp[row*rowBytes:(row+1)*rowBytes], c.pix[srcOff:srcOff+rowBytes])
	}
	for row := 0; row < h; row++ {
		dstOff := ((dy0+row)*c.width + dx0) * 4
		copy(c.pix[dstOff:dstOff+rowBytes], tmp[row*rowBytes:(row+1)*rowBytes])
	}
}

// resized returns a new canvas of the given dimensions with this canvas's
// content copied at the origin, clipped to whichever dimensions are smaller.
func (c *Canvas) resized(width, height int) *Canvas {
	out := newCanvas(width, height)
	copyW := c.width
	if width < copyW {
		copyW = width
	}
	copyH := c.height
	if height < copyH {
		copyH = height
	}
	rowBytes := copyW * 4
	for row := 0; row < copyH; row++ {
		srcOff := row * c.width * 4
		dstOff := row * width * 4
		copy(out.pix[dstOff:dstOff+rowBytes], c.pix[srcOff:srcOff+rowBytes])
	}
	return out
}

// clip intersects a rectangle with the canvas bounds, returning the
// half-open pixel range [x0,x1) x [y0,y1).
func (c *Canvas) clip(x, y, w, h int) (x0, y0, x1, y1 int) {
	x0, y0 = x, y
	x1, y1 = x+w, y+h
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > c.width {
		x1 = c.width
	}
	if y1 > c.height {
		y1 = c.height
	}
	if x1 < x0 {
		x1 = x0
	}
	if y1 < y0 {
		y1 = y0
	}
	return x0, y0, x1, y1
}

// rgbAt returns the pixel at (x, y). Used by tests and snapshot assertions.
func (c *Canvas) rgbAt(x, y int) (r, g, b uint8) {
	off := (y*c.width + x) * 4
	return c.pix[off], c.pix[off+1], c.pix[off+2]
}

// Snapshot returns a deep copy of the canvas as an image. Later captures do
// not mutate a returned snapshot.
func (c *Canvas) Snapshot() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	copy(img.Pix, c.pix)
	return img
}

// EncodePNG returns the canvas content losslessly encoded as PNG.
func (c *Canvas) EncodePNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, c.Snapshot()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
