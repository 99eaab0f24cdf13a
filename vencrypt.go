// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: The deskbridge Authors

package rfb

import (
	"crypto/tls"
	"encoding/binary"
	"fmt"
)

// VeNCrypt sub-type identifiers (VeNCrypt extension, version 0.2).
const (
	VeNCryptPlain     uint32 = 256
	VeNCryptTLSNone   uint32 = 257
	VeNCryptTLSVnc    uint32 = 258
	VeNCryptTLSPlain  uint32 = 259
	VeNCryptX509None  uint32 = 260
	VeNCryptX509Vnc   uint32 = 261
	VeNCryptX509Plain uint32 = 262
)

// vencryptVersion is the protocol version the client speaks, sent as
// major, minor bytes. The server must echo it back.
var vencryptVersion = [2]byte{0, 2}

// vencryptSubtypeName returns a human-readable sub-type name for logging.
func vencryptSubtypeName(s uint32) string {
	switch s {
	case VeNCryptPlain:
		return "plain"
	case VeNCryptTLSNone:
		return "tls-none"
	case VeNCryptTLSVnc:
		return "tls-vnc"
	case VeNCryptTLSPlain:
		return "tls-plain"
	case VeNCryptX509None:
		return "x509-none"
	case VeNCryptX509Vnc:
		return "x509-vnc"
	case VeNCryptX509Plain:
		return "x509-plain"
	default:
		return fmt.Sprintf("subtype-%d", s)
	}
}

// vencryptNeedsTLS reports whether the sub-type wraps the stream in TLS
// before its inner exchange.
func vencryptNeedsTLS(s uint32) bool {
	switch s {
	case VeNCryptTLSNone, VeNCryptTLSVnc, VeNCryptTLSPlain, VeNCryptX509None, VeNCryptX509Vnc, VeNCryptX509Plain:
		return true
	default:
		return false
	}
}

// selectVeNCryptSubtype picks the sub-type from the server's offer using the
// fixed preference TLSVnc > X509Vnc > TLSNone > Plain. Sub-types that carry
// credentials (TLSVnc, X509Vnc, Plain) are only eligible when a password is
// configured.
func selectVeNCryptSubtype(offered []uint32, hasPassword bool) (uint32, error) {
	has := func(s uint32) bool {
		for _, o := range offered {
			if o == s {
				return true
			}
		}
		return false
	}

	if hasPassword {
		if has(VeNCryptTLSVnc) {
			return VeNCryptTLSVnc, nil
		}
		if has(VeNCryptX509Vnc) {
			return VeNCryptX509Vnc, nil
		}
	}
	if has(VeNCryptTLSNone) {
		return VeNCryptTLSNone, nil
	}
	if hasPassword && has(VeNCryptPlain) {
		return VeNCryptPlain, nil
	}

	if has(VeNCryptTLSVnc) || has(VeNCryptX509Vnc) || has(VeNCryptPlain) {
		return 0, missingPasswordError("selectVeNCryptSubtype",
			"server requires credentials for every offered VeNCrypt sub-type and no password is configured")
	}
	return 0, unsupportedAuthError("selectVeNCryptSubtype",
		fmt.Sprintf("no supported VeNCrypt sub-type in server offer %v", offered))
}

// vencryptHandshake performs the type 19 sub-negotiation: version exchange,
// sub-type selection, optional TLS wrap, then the inner authentication.
func (c *Client) vencryptHandshake() error {
	const op = "Client.vencryptHandshake"

	if err := c.write(op, vencryptVersion[:]); err != nil {
		return err
	}

	var echoed [2]byte
	if err := c.readHandshake(op, echoed[:]); err != nil {
		return err
	}
	if echoed != vencryptVersion {
		return protocolError(op,
			fmt.Sprintf("server negotiated VeNCrypt %d.%d, only 0.2 is supported", echoed[0], echoed[1]), nil)
	}

	var countByte [1]byte
	if err := c.readHandshake(op, countByte[:]); err != nil {
		return err
	}
	count := int(countByte[0])
	if count == 0 {
		return protocolError(op, "server offered zero VeNCrypt sub-types", nil)
	}

	raw := make([]byte, count*4)
	if err := c.readHandshake(op, raw); err != nil {
		return err
	}
	offered := make([]uint32, count)
	for i := 0; i < count; i++ {
		offered[i] = binary.BigEndian.Uint32(raw[i*4 : i*4+4])
	}
	c.logger.Debug("vencrypt sub-types offered", Field{Key: "subtypes", Value: offered})

	subtype, err := selectVeNCryptSubtype(offered, c.cfg.Password != "")
	if err != nil {
		return err
	}
	c.logger.Info("vencrypt sub-type selected", Field{Key: "subtype", Value: vencryptSubtypeName(subtype)})

	var choice [4]byte
	binary.BigEndian.PutUint32(choice[:], subtype)
	if err := c.write(op, choice[:]); err != nil {
		return err
	}

	if vencryptNeedsTLS(subtype) {
		if err := c.startTLS(op); err != nil {
			return err
		}
	}

	switch subtype {
	case VeNCryptTLSVnc, VeNCryptX509Vnc:
		return c.vncAuthHandshake(op)
	case VeNCryptTLSNone, VeNCryptX509None:
		return nil
	case VeNCryptPlain:
		return c.plainAuthHandshake(op)
	default:
		return unsupportedAuthError(op,
			fmt.Sprintf("no continuation for VeNCrypt sub-type %s", vencryptSubtypeName(subtype)))
	}
}

// startTLS wraps the connection in TLS. Remote desktop servers almost
// universally present self-signed certificates, so verification is disabled;
// VeNCrypt's TLS protects against passive capture of credentials, not active
// impersonation.
func (c *Client) startTLS(op string) error {
	tlsConn := tls.Client(c.conn, &tls.Config{
		InsecureSkipVerify: true, // #nosec G402 - self-signed server certificates are the norm for RFB
	})
	if err := tlsConn.Handshake(); err != nil {
		return tlsSetupError(op, "TLS handshake with server failed", err)
	}
	c.conn = tlsConn
	c.logger.Debug("stream wrapped in TLS",
		Field{Key: "cipher_suite", Value: tls.CipherSuiteName(tlsConn.ConnectionState().CipherSuite)})
	return nil
}

// plainAuthHandshake performs the VeNCrypt Plain exchange: length-prefixed
// username and password, then the result code.
func (c *Client) plainAuthHandshake(op string) error {
	if c.cfg.Password == "" {
		return missingPasswordError(op, "VeNCrypt plain authentication requires a password")
	}

	user := []byte(c.cfg.Username)
	pass := []byte(c.cfg.Password)
	msg := make([]byte, 0, 8+len(user)+len(pass))
	msg = binary.BigEndian.AppendUint32(msg, uint32(len(user))) // #nosec G115 - Credential strings are short
	msg = append(msg, user...)
	msg = binary.BigEndian.AppendUint32(msg, uint32(len(pass))) // #nosec G115 - Credential strings are short
	msg = append(msg, pass...)
	defer zeroBytes(msg)

	if err := c.write(op, msg); err != nil {
		return err
	}
	return c.readSecurityResult(op)
}
