// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: The deskbridge Authors

package rfb

import "fmt"

// Encoding identifies how a rectangle's content is represented on the wire.
// The protocol carries it as a signed 32-bit code; negative values are
// pseudo-encodings that signal an event rather than pixel data.
type Encoding int32

// Encodings the client understands.
const (
	// EncodingRaw carries width*height pixels in the negotiated format,
	// row by row, left to right.
	EncodingRaw Encoding = 0

	// EncodingCopyRect moves a region already on the canvas; the payload is
	// only the source coordinates.
	EncodingCopyRect Encoding = 1

	// EncodingDesktopSize announces a framebuffer resize. It carries no
	// pixel payload; the rectangle's width and height are the new size.
	EncodingDesktopSize Encoding = -223
)

// clientEncodings is the SetEncodings list, in preference order: Raw and
// CopyRect for pixel content, DesktopSize so resizes are announced instead
// of silently misframing updates.
var clientEncodings = []Encoding{EncodingRaw, EncodingCopyRect, EncodingDesktopSize}

// String returns the encoding name, or the numeric code for encodings the
// client does not implement.
func (e Encoding) String() string {
	switch e {
	case EncodingRaw:
		return "raw"
	case EncodingCopyRect:
		return "copyrect"
	case EncodingDesktopSize:
		return "desktop-size"
	default:
		return fmt.Sprintf("unsupported(%d)", int32(e))
	}
}
