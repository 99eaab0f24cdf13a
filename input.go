// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: The deskbridge Authors

package rfb

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Keysyms for the control characters TypeText translates and for the Shift
// modifier it wraps shifted characters in.
const (
	keysymBackSpace uint32 = 0xff08
	keysymTab       uint32 = 0xff09
	keysymReturn    uint32 = 0xff0d
	keysymShiftLeft uint32 = 0xffe1
)

// shiftedPunctuation is the punctuation reached through Shift on a US
// layout. Together with the uppercase letters it defines which characters
// TypeText wraps in a Shift hold.
const shiftedPunctuation = "~!@#$%^&*()_+{}|:\"<>?"

// KeyEvent sends a single key press or release for an X11 keysym. A failed
// send leaves the last transmitted key state unknown, so it poisons the
// connection.
func (c *Client) KeyEvent(keysym uint32, down bool) error {
	const op = "Client.KeyEvent"
	if err := c.requireReady(op); err != nil {
		return err
	}

	downFlag := uint8(0)
	if down {
		downFlag = 1
	}
	if err := c.writeMessage(op, []interface{}{
		msgKeyEvent, downFlag, uint16(0), keysym,
	}); err != nil {
		c.abort(err)
		return err
	}
	c.metrics.IncCounter(MetricInputEvents, "key")
	return nil
}

// PointerEvent moves the pointer to (x, y) with the given button state.
// Coordinates outside the framebuffer are clamped onto it rather than
// rejected, so gesture math that lands a pixel outside still works.
func (c *Client) PointerEvent(mask ButtonMask, x, y int) error {
	const op = "Client.PointerEvent"
	if err := c.requireReady(op); err != nil {
		return err
	}

	px := uint16(clampCoord(x, c.width))  // #nosec G115 - Clamped to [0, width-1]
	py := uint16(clampCoord(y, c.height)) // #nosec G115 - Clamped to [0, height-1]
	if err := c.writeMessage(op, []interface{}{
		msgPointerEvent, uint8(mask), px, py,
	}); err != nil {
		c.abort(err)
		return err
	}
	c.metrics.IncCounter(MetricInputEvents, "pointer")
	return nil
}

// MouseClick clicks button at (x, y): a move with no buttons, then a press
// and release. With double set, the press-release pair is sent twice with
// delay between the halves, which most desktops read as a double click.
// Buttons are numbered 1 (left), 2 (middle), 3 (right).
func (c *Client) MouseClick(x, y int, button uint8, double bool, delay time.Duration) error {
	const op = "Client.MouseClick"
	if err := c.requireReady(op); err != nil {
		return err
	}
	mask, err := buttonBit(op, button)
	if err != nil {
		return err
	}

	if err := c.PointerEvent(0, x, y); err != nil {
		return err
	}
	presses := 1
	if double {
		presses = 2
	}
	for i := 0; i < presses; i++ {
		if err := c.PointerEvent(mask, x, y); err != nil {
			return err
		}
		pause(delay)
		if err := c.PointerEvent(0, x, y); err != nil {
			return err
		}
		if i+1 < presses {
			pause(delay)
		}
	}
	return nil
}

// MouseDrag drags with button held from (fromX, fromY) to (toX, toY): move,
// press, move with the button held, release at the destination.
func (c *Client) MouseDrag(fromX, fromY, toX, toY int, button uint8) error {
	const op = "Client.MouseDrag"
	if err := c.requireReady(op); err != nil {
		return err
	}
	mask, err := buttonBit(op, button)
	if err != nil {
		return err
	}

	if err := c.PointerEvent(0, fromX, fromY); err != nil {
		return err
	}
	if err := c.PointerEvent(mask, fromX, fromY); err != nil {
		return err
	}
	if err := c.PointerEvent(mask, toX, toY); err != nil {
		return err
	}
	return c.PointerEvent(0, toX, toY)
}

// MouseScroll rolls the scroll wheel at (x, y). Wheel motion travels in RFB
// as presses of button 4 (up, away from the user) or button 5 (down), one
// press-release pair per click.
func (c *Client) MouseScroll(x, y int, up bool, clicks int) error {
	const op = "Client.MouseScroll"
	if err := c.requireReady(op); err != nil {
		return err
	}

	mask := Button5
	if up {
		mask = Button4
	}
	if clicks < 1 {
		clicks = 1
	}
	for i := 0; i < clicks; i++ {
		if err := c.PointerEvent(mask, x, y); err != nil {
			return err
		}
		if err := c.PointerEvent(0, x, y); err != nil {
			return err
		}
	}
	return nil
}

// TypeText types text one character at a time: a press and release of each
// character's keysym, wrapped in a Shift hold for uppercase letters and
// shifted punctuation, with the configured TypeDelay between characters.
// The first failed key aborts the call; the error reports how far typing
// got before the connection became unusable.
func (c *Client) TypeText(text string) error {
	const op = "Client.TypeText"
	if err := c.requireReady(op); err != nil {
		return err
	}

	total := utf8.RuneCountInString(text)
	typed := 0
	for _, ch := range text {
		if err := c.typeChar(ch); err != nil {
			return sendFailedError(op,
				fmt.Sprintf("typing aborted after %d of %d characters", typed, total), err)
		}
		typed++
		pause(c.cfg.TypeDelay)
	}
	return nil
}

// typeChar emits the key transitions for one character.
func (c *Client) typeChar(ch rune) error {
	keysym := charKeysym(ch)
	shifted := needsShift(ch)

	if shifted {
		if err := c.KeyEvent(keysymShiftLeft, true); err != nil {
			return err
		}
	}
	if err := c.KeyEvent(keysym, true); err != nil {
		return err
	}
	if err := c.KeyEvent(keysym, false); err != nil {
		return err
	}
	if shifted {
		return c.KeyEvent(keysymShiftLeft, false)
	}
	return nil
}

// KeyCombination presses every keysym in the given order and releases them
// in reverse, so modifiers pressed first are released last. The configured
// KeyDelay separates the transitions.
func (c *Client) KeyCombination(keysyms ...uint32) error {
	const op = "Client.KeyCombination"
	if err := c.requireReady(op); err != nil {
		return err
	}
	if len(keysyms) == 0 {
		return sendFailedError(op, "no keys to press", nil)
	}

	for _, keysym := range keysyms {
		if err := c.KeyEvent(keysym, true); err != nil {
			return err
		}
		pause(c.cfg.KeyDelay)
	}
	for i := len(keysyms) - 1; i >= 0; i-- {
		if err := c.KeyEvent(keysyms[i], false); err != nil {
			return err
		}
		if i > 0 {
			pause(c.cfg.KeyDelay)
		}
	}
	return nil
}

// charKeysym maps a text character onto the keysym TypeText sends for it.
// Control characters map to their editing keys; everything else uses the
// Unicode code point, which X11 keysyms mirror for the Latin-1 range.
func charKeysym(ch rune) uint32 {
	switch ch {
	case '\n', '\r':
		return keysymReturn
	case '\t':
		return keysymTab
	case '\b':
		return keysymBackSpace
	default:
		return uint32(ch)
	}
}

// needsShift reports whether typing ch requires holding Shift.
func needsShift(ch rune) bool {
	if ch >= 'A' && ch <= 'Z' {
		return true
	}
	return strings.ContainsRune(shiftedPunctuation, ch)
}

// buttonBit converts a 1-based button number to its event mask bit.
func buttonBit(op string, button uint8) (ButtonMask, error) {
	if button < 1 || button > 8 {
		return 0, sendFailedError(op,
			fmt.Sprintf("button %d is outside the 1-8 device range", button), nil)
	}
	return ButtonMask(1) << (button - 1), nil
}

// clampCoord clamps a coordinate to [0, size-1].
func clampCoord(v, size int) int {
	if v < 0 {
		return 0
	}
	if v >= size {
		return size - 1
	}
	return v
}

// pause sleeps for d when it is positive.
func pause(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}
