// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: The deskbridge Authors

// Package rfb implements an RFB 3.8 client for driving remote desktops:
// screen capture, keyboard input, and pointer input over the protocol
// defined in RFC 6143.
//
// The client is synchronous. Every exchange happens on the caller's
// goroutine: a capture is a request followed by reads until the update is
// fully consumed, and input operations are single writes. There is no
// background message pump.
//
// # Basic Usage
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	client, err := rfb.Dial(ctx, "localhost:5900",
//		rfb.WithPassword("secret"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
// # Screen Capture
//
//	img, err := client.CaptureScreen()
//	if err != nil {
//		log.Fatal(err)
//	}
//	// img is an *image.RGBA snapshot of the remote framebuffer. The first
//	// capture transfers the whole screen; later captures are incremental.
//
// # Input Events
//
//	// Click the left button at (100, 100).
//	client.MouseClick(100, 100, 1, false, 100*time.Millisecond)
//
//	// Type text; uppercase and shifted punctuation get a Shift hold.
//	client.TypeText("Hello, world!")
//
//	// Press a chord: held keys release in reverse order.
//	client.KeyCombination(0xffe3, 0x63) // Ctrl+C
//
// # Security
//
// The handshake negotiates the strongest security type both sides support:
// VeNCrypt (including TLS-tunneled sub-types), then classic VNC
// Authentication, then None. A password is required for the
// credential-bearing types and is never required to connect to an open
// server.
//
// # Error Handling
//
// Failures carry a machine-readable kind:
//
//	if rfb.IsRFBError(err, rfb.ErrAuthRejected) {
//		log.Printf("wrong password: %v", err)
//	}
//
// A failure in the middle of an update or an input send leaves the byte
// stream unusable, so the client drops to the Disconnected state and must
// be replaced by a new connection.

package rfb
