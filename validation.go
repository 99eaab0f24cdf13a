// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: The deskbridge Authors

package rfb

import "fmt"

// maxFramebufferDim bounds the dimensions a server may declare, either in
// ServerInit or through a DesktopSize rectangle. The protocol field is a
// uint16, but anything near that ceiling is a hostile or broken server, and
// the canvas allocation behind it would be gigabytes.
const maxFramebufferDim = 32768

// checkFramebufferSize rejects framebuffer dimensions outside the accepted
// range.
func checkFramebufferSize(op string, width, height int) error {
	if width < 1 || height < 1 {
		return protocolError(op,
			fmt.Sprintf("framebuffer dimensions %dx%d must be positive", width, height), nil)
	}
	if width > maxFramebufferDim || height > maxFramebufferDim {
		return protocolError(op,
			fmt.Sprintf("framebuffer dimensions %dx%d exceed the %d limit", width, height, maxFramebufferDim), nil)
	}
	return nil
}

// checkRectBounds rejects a rectangle that is not fully inside the
// framebuffer. Coordinates come off the wire as uint16, so only the far
// edges can be out of range.
func checkRectBounds(op string, x, y, width, height, fbWidth, fbHeight int) error {
	if x+width > fbWidth || y+height > fbHeight {
		return protocolError(op,
			fmt.Sprintf("rectangle %dx%d at (%d, %d) extends beyond the %dx%d framebuffer",
				width, height, x, y, fbWidth, fbHeight), nil)
	}
	return nil
}
