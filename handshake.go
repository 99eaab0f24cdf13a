// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: The deskbridge Authors

package rfb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// handshake drives the protocol exchange from the version greeting through
// the post-init messages that pin down the session's pixel format and
// encoding list. Any error aborts the attempt; there is no partial retry.
func (c *Client) handshake() error {
	if err := c.exchangeVersions(); err != nil {
		return err
	}
	if err := c.negotiateSecurity(); err != nil {
		return err
	}
	c.state = StateAuthenticated

	if err := c.exchangeInit(); err != nil {
		return err
	}
	if err := c.sendPixelFormat(); err != nil {
		return err
	}
	return c.sendEncodings()
}

// exchangeVersions reads the server's 12-byte version greeting and answers
// with the fixed client version. The reply is pinned to 3.8 whatever minor
// version the server advertises; macOS servers report strings like
// "RFB 003.889" and still expect a 3.8 client.
func (c *Client) exchangeVersions() error {
	const op = "Client.exchangeVersions"

	version := make([]byte, protoVersionLen)
	if err := c.readHandshake(op, version); err != nil {
		return err
	}
	if !bytes.HasPrefix(version, []byte("RFB ")) {
		return protocolError(op,
			fmt.Sprintf("server greeting %q is not an RFB version string", version), nil)
	}
	c.protoVersion = strings.TrimSuffix(string(version), "\n")
	c.logger.Debug("server version received", Field{Key: "version", Value: c.protoVersion})

	return c.write(op, clientVersion)
}

// negotiateSecurity runs the 3.8 security handshake: the server offers a set
// of security types, the client picks one by fixed preference and completes
// that type's sub-exchange.
func (c *Client) negotiateSecurity() error {
	const op = "Client.negotiateSecurity"

	var count [1]byte
	if err := c.readHandshake(op, count[:]); err != nil {
		return err
	}
	if count[0] == 0 {
		// The server aborts the handshake and explains why in a
		// length-prefixed reason string.
		reason := c.readReason()
		if reason == "" {
			reason = "server offered no security types"
		}
		return serverRejectedError(op, reason, nil)
	}

	offered := make([]uint8, count[0])
	if err := c.readHandshake(op, offered); err != nil {
		return err
	}
	c.logger.Debug("security types offered", Field{Key: "types", Value: offered})

	chosen, err := selectSecurityType(offered, c.cfg.Password != "")
	if err != nil {
		return err
	}
	c.logger.Info("security type selected", Field{Key: "type", Value: securityTypeName(chosen)})

	if err := c.write(op, []byte{chosen}); err != nil {
		return err
	}

	switch chosen {
	case SecurityTypeVeNCrypt:
		return c.vencryptHandshake()
	case SecurityTypeVNCAuth:
		return c.vncAuthHandshake(op)
	default:
		// None: nothing further to exchange.
		return nil
	}
}

// vncAuthHandshake performs the VNC Authentication challenge-response and
// consumes the security result that follows it.
func (c *Client) vncAuthHandshake(op string) error {
	challenge := make([]byte, challengeSize)
	if err := c.readHandshake(op, challenge); err != nil {
		return err
	}

	response, err := vncAuthResponse(c.cfg.Password, challenge)
	if err != nil {
		return err
	}
	if err := c.write(op, response); err != nil {
		return err
	}
	return c.readSecurityResult(op)
}

// readSecurityResult consumes the 4-byte security result. On failure the
// server's reason string, when it sends one, rides along in the error.
func (c *Client) readSecurityResult(op string) error {
	var result [4]byte
	if err := c.readHandshake(op, result[:]); err != nil {
		return err
	}
	code := binary.BigEndian.Uint32(result[:])
	if code == 0 {
		return nil
	}

	reason := c.readReason()
	if reason == "" {
		reason = fmt.Sprintf("server reported security result %d", code)
	}
	return authRejectedError(op, reason, nil)
}

// readReason reads the length-prefixed reason string servers attach to
// handshake failures. Best effort: a missing or malformed reason yields the
// empty string rather than masking the failure being reported.
func (c *Client) readReason() string {
	var lenBuf [4]byte
	if _, err := c.readFull(lenBuf[:]); err != nil {
		return ""
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 || length > maxReasonLength {
		return ""
	}
	reason := make([]byte, length)
	if _, err := c.readFull(reason); err != nil {
		return ""
	}
	return strings.ToValidUTF8(string(reason), "�")
}

// exchangeInit sends ClientInit and parses ServerInit: framebuffer
// dimensions, the server's native pixel format, and the desktop name.
func (c *Client) exchangeInit() error {
	const op = "Client.exchangeInit"

	shared := byte(0)
	if c.cfg.Shared {
		shared = 1
	}
	if err := c.write(op, []byte{shared}); err != nil {
		return err
	}

	header := make([]byte, 24)
	if err := c.readHandshake(op, header); err != nil {
		return err
	}
	width := int(binary.BigEndian.Uint16(header[0:2]))
	height := int(binary.BigEndian.Uint16(header[2:4]))
	if err := checkFramebufferSize(op, width, height); err != nil {
		return err
	}
	format, err := parsePixelFormat(header[4:20])
	if err != nil {
		return err
	}
	nameLen := binary.BigEndian.Uint32(header[20:24])
	if nameLen > maxDesktopNameLength {
		return protocolError(op,
			fmt.Sprintf("desktop name length %d exceeds the %d byte limit", nameLen, maxDesktopNameLength), nil)
	}
	name := make([]byte, nameLen)
	if err := c.readHandshake(op, name); err != nil {
		return err
	}

	c.width = width
	c.height = height
	c.serverFormat = format
	c.desktopName = strings.ToValidUTF8(string(name), "�")

	c.logger.Debug("server init received",
		Field{Key: "width", Value: width},
		Field{Key: "height", Value: height},
		Field{Key: "desktop", Value: c.desktopName},
		Field{Key: "server_bpp", Value: format.BPP})
	return nil
}

// sendPixelFormat asks the server for 32-bit true color regardless of the
// format it advertised. Fixing the format here reduces rectangle decoding to
// two known layouts instead of one per server.
func (c *Client) sendPixelFormat() error {
	const op = "Client.sendPixelFormat"

	msg := make([]byte, 0, 20)
	msg = append(msg, msgSetPixelFormat, 0, 0, 0)
	record := PixelFormatRGB32.bytes()
	msg = append(msg, record[:]...)

	if err := c.write(op, msg); err != nil {
		return err
	}
	c.format = PixelFormatRGB32
	return nil
}

// sendEncodings advertises the encodings the client decodes, in preference
// order.
func (c *Client) sendEncodings() error {
	const op = "Client.sendEncodings"

	msg := make([]byte, 0, 4+4*len(clientEncodings))
	msg = append(msg, msgSetEncodings, 0)
	msg = binary.BigEndian.AppendUint16(msg, uint16(len(clientEncodings))) // #nosec G115 - The list is three entries long
	for _, enc := range clientEncodings {
		msg = binary.BigEndian.AppendUint32(msg, uint32(int32(enc))) // #nosec G115 - Two's complement wire form of the signed code
	}

	if err := c.write(op, msg); err != nil {
		return err
	}
	c.encodings = append([]Encoding(nil), clientEncodings...)
	return nil
}
