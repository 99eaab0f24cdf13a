// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: The deskbridge Authors

package rfb

import (
	"encoding/binary"
	"fmt"
)

// PixelFormat describes how pixel color data is encoded and interpreted on
// an RFB connection. It mirrors the 16-byte wire record from RFC 6143 §7.4.
type PixelFormat struct {
	// BPP (bits-per-pixel) specifies how many bits are used to represent each pixel.
	BPP uint8

	// Depth specifies the number of useful bits within each pixel value.
	Depth uint8

	// BigEndian determines the byte order for multi-byte pixel values.
	BigEndian bool

	// TrueColor determines whether pixels represent direct RGB values (true)
	// or indices into a color map (false).
	TrueColor bool

	// RedMax specifies the maximum value for the red color component.
	RedMax uint16

	// GreenMax specifies the maximum value for the green color component.
	GreenMax uint16

	// BlueMax specifies the maximum value for the blue color component.
	BlueMax uint16

	// RedShift specifies how many bits to right-shift a pixel value
	// to position the red color component at the least significant bits.
	RedShift uint8

	// GreenShift specifies how many bits to right-shift a pixel value
	// to position the green color component at the least significant bits.
	GreenShift uint8

	// BlueShift specifies how many bits to right-shift a pixel value
	// to position the blue color component at the least significant bits.
	BlueShift uint8
}

// pixelFormatSize is the wire size of the pixel format record.
const pixelFormatSize = 16

// parsePixelFormat decodes the 16-byte pixel format record. The record is
// fixed-size; the color fields are parsed even when the true-color flag is
// clear (they are simply meaningless then).
func parsePixelFormat(data []byte) (PixelFormat, error) {
	if len(data) != pixelFormatSize {
		return PixelFormat{}, protocolError("parsePixelFormat",
			fmt.Sprintf("pixel format record must be %d bytes, got %d", pixelFormatSize, len(data)), nil)
	}

	pf := PixelFormat{
		BPP:        data[0],
		Depth:      data[1],
		BigEndian:  data[2] != 0,
		TrueColor:  data[3] != 0,
		RedMax:     binary.BigEndian.Uint16(data[4:6]),
		GreenMax:   binary.BigEndian.Uint16(data[6:8]),
		BlueMax:    binary.BigEndian.Uint16(data[8:10]),
		RedShift:   data[10],
		GreenShift: data[11],
		BlueShift:  data[12],
	}
	// data[13:16] is padding.

	if err := pf.validate(); err != nil {
		return PixelFormat{}, err
	}
	return pf, nil
}

// bytes encodes the pixel format into its 16-byte wire record.
func (pf *PixelFormat) bytes() [pixelFormatSize]byte {
	var out [pixelFormatSize]byte
	out[0] = pf.BPP
	out[1] = pf.Depth
	if pf.BigEndian {
		out[2] = 1
	}
	if pf.TrueColor {
		out[3] = 1
	}
	binary.BigEndian.PutUint16(out[4:6], pf.RedMax)
	binary.BigEndian.PutUint16(out[6:8], pf.GreenMax)
	binary.BigEndian.PutUint16(out[8:10], pf.BlueMax)
	out[10] = pf.RedShift
	out[11] = pf.GreenShift
	out[12] = pf.BlueShift
	return out
}

// BytesPerPixel returns the number of bytes each pixel occupies on the wire.
func (pf *PixelFormat) BytesPerPixel() int {
	return int(pf.BPP) / 8
}

// validate rejects pixel formats the decoder cannot frame. Formats that
// frame correctly but cannot be color-decoded (indexed color, 8-bit depth)
// pass validation; the decoder degrades those per rectangle instead.
func (pf *PixelFormat) validate() error {
	if pf.BPP != 8 && pf.BPP != 16 && pf.BPP != 32 {
		return protocolError("PixelFormat.validate",
			fmt.Sprintf("bits per pixel must be 8, 16, or 32, got %d", pf.BPP), nil)
	}
	if pf.Depth == 0 || pf.Depth > pf.BPP {
		return protocolError("PixelFormat.validate",
			fmt.Sprintf("depth %d invalid for %d bits per pixel", pf.Depth, pf.BPP), nil)
	}
	if pf.TrueColor {
		maxShift := pf.BPP - 1
		if pf.RedShift > maxShift || pf.GreenShift > maxShift || pf.BlueShift > maxShift {
			return protocolError("PixelFormat.validate",
				fmt.Sprintf("color shifts exceed %d-bit pixel", pf.BPP), nil)
		}
	}
	return nil
}

// Common pixel format presets.
var (
	// PixelFormatRGB32 is the format the client requests after ServerInit:
	// 32 bits per pixel, 24-bit depth, big-endian, true color, 8 bits per
	// channel with red in the high channel.
	PixelFormatRGB32 = PixelFormat{
		BPP:        32,
		Depth:      24,
		BigEndian:  true,
		TrueColor:  true,
		RedMax:     255,
		GreenMax:   255,
		BlueMax:    255,
		RedShift:   16,
		GreenShift: 8,
		BlueShift:  0,
	}

	// PixelFormatRGB565 is the common 16-bit format servers fall back to
	// when they ignore the requested format.
	PixelFormatRGB565 = PixelFormat{
		BPP:        16,
		Depth:      16,
		BigEndian:  false,
		TrueColor:  true,
		RedMax:     31,
		GreenMax:   63,
		BlueMax:    31,
		RedShift:   11,
		GreenShift: 5,
		BlueShift:  0,
	}
)

// pixelDecoder converts raw framebuffer bytes into 8-bit RGB according to a
// pixel format. It handles the 32-bit requested format and arbitrary 16-bit
// true-color formats, honoring the advertised byte order and rescaling each
// channel from its max to the 0-255 display range.
type pixelDecoder struct {
	format PixelFormat
	bpp    int
	order  binary.ByteOrder
}

// newPixelDecoder builds a decoder for the format. Formats that cannot be
// color-decoded (indexed color, 8-bit pixels) are rejected so the caller can
// degrade the affected rectangle instead of aborting the capture.
func newPixelDecoder(format PixelFormat) (*pixelDecoder, error) {
	if !format.TrueColor {
		return nil, pixelDepthError("newPixelDecoder", "indexed color formats are not supported")
	}
	if format.BPP != 16 && format.BPP != 32 {
		return nil, pixelDepthError("newPixelDecoder",
			fmt.Sprintf("no decode path for %d bits per pixel", format.BPP))
	}

	var order binary.ByteOrder = binary.LittleEndian
	if format.BigEndian {
		order = binary.BigEndian
	}
	return &pixelDecoder{format: format, bpp: format.BytesPerPixel(), order: order}, nil
}

// pixel reads one pixel value from buf, which must hold at least
// BytesPerPixel bytes.
func (d *pixelDecoder) pixel(buf []byte) uint32 {
	if d.bpp == 2 {
		return uint32(d.order.Uint16(buf))
	}
	return d.order.Uint32(buf)
}

// rgb extracts 8-bit RGB components from a raw pixel value, rescaling each
// channel from the format's component range.
func (d *pixelDecoder) rgb(pixel uint32) (r, g, b uint8) {
	rv := (pixel >> d.format.RedShift) & uint32(d.format.RedMax)
	gv := (pixel >> d.format.GreenShift) & uint32(d.format.GreenMax)
	bv := (pixel >> d.format.BlueShift) & uint32(d.format.BlueMax)

	if d.format.RedMax > 0 {
		r = uint8(rv * 255 / uint32(d.format.RedMax)) // #nosec G115 - result is always <= 255
	}
	if d.format.GreenMax > 0 {
		g = uint8(gv * 255 / uint32(d.format.GreenMax)) // #nosec G115 - result is always <= 255
	}
	if d.format.BlueMax > 0 {
		b = uint8(bv * 255 / uint32(d.format.BlueMax)) // #nosec G115 - result is always <= 255
	}
	return r, g, b
}
