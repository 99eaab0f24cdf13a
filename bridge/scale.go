// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: The deskbridge Authors

package bridge

// Size is a pixel extent, used for both the reference resolution and the
// target's real framebuffer mode.
type Size struct {
	Width  int
	Height int
}

// ScalePoint maps (x, y) from one coordinate space onto another with
// truncating integer arithmetic, so a point never lands past the far edge
// of the destination space. Identical spaces and degenerate sources pass
// coordinates through unchanged.
func ScalePoint(x, y int, from, to Size) (int, int) {
	if from == to || from.Width <= 0 || from.Height <= 0 {
		return x, y
	}
	return x * to.Width / from.Width, y * to.Height / from.Height
}
