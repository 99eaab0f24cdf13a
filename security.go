// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: The deskbridge Authors

package rfb

import (
	"crypto/des" // #nosec G502 - DES is required by the RFB authentication scheme (RFC 6143)
	"fmt"
)

// DES is cryptographically obsolete; it appears here because RFB's VNC
// Authentication scheme is defined in terms of it (RFC 6143 §7.2.2) and
// servers still speak nothing else. The VeNCrypt path wraps the stream in
// TLS before any credentials move, and is preferred whenever offered.

// Security type identifiers from RFC 6143 and the VeNCrypt extension.
const (
	SecurityTypeInvalid  uint8 = 0
	SecurityTypeNone     uint8 = 1
	SecurityTypeVNCAuth  uint8 = 2
	SecurityTypeVeNCrypt uint8 = 19
)

// VNC Authentication constants.
const (
	challengeSize     = 16
	desKeySize        = 8
	maxPasswordLength = 8
)

// securityTypeName returns a human-readable name for logging.
func securityTypeName(t uint8) string {
	switch t {
	case SecurityTypeInvalid:
		return "invalid"
	case SecurityTypeNone:
		return "none"
	case SecurityTypeVNCAuth:
		return "vnc-auth"
	case SecurityTypeVeNCrypt:
		return "vencrypt"
	default:
		return fmt.Sprintf("type-%d", t)
	}
}

// selectSecurityType picks the security type from the server's offer using
// the fixed preference VeNCrypt > VNC Authentication > None. VNC
// Authentication is only eligible when a password is configured.
//
// When nothing is usable the error distinguishes two cases: the server
// offered a password-requiring type and no password is configured
// (ErrMissingPassword), or there is simply no overlap (ErrUnsupportedAuth).
func selectSecurityType(offered []uint8, hasPassword bool) (uint8, error) {
	has := func(t uint8) bool {
		for _, o := range offered {
			if o == t {
				return true
			}
		}
		return false
	}

	if has(SecurityTypeVeNCrypt) {
		return SecurityTypeVeNCrypt, nil
	}
	if has(SecurityTypeVNCAuth) && hasPassword {
		return SecurityTypeVNCAuth, nil
	}
	if has(SecurityTypeNone) {
		return SecurityTypeNone, nil
	}

	if has(SecurityTypeVNCAuth) {
		return 0, missingPasswordError("selectSecurityType",
			"server requires password authentication and no password is configured")
	}
	return 0, unsupportedAuthError("selectSecurityType",
		fmt.Sprintf("no supported security type in server offer %v", offered))
}

// desKeyFromPassword derives the 8-byte DES key from a password using RFB's
// convention: the password is truncated or zero-padded to 8 bytes and the
// bit order of every byte is reversed.
func desKeyFromPassword(password string) [desKeySize]byte {
	var key [desKeySize]byte
	n := len(password)
	if n > maxPasswordLength {
		n = maxPasswordLength
	}
	for i := 0; i < n; i++ {
		key[i] = reverseBits(password[i])
	}
	return key
}

// vncAuthResponse computes the 16-byte VNC Authentication response: the
// challenge encrypted as two independent DES-ECB blocks under the key
// derived from the password.
func vncAuthResponse(password string, challenge []byte) ([]byte, error) {
	if password == "" {
		return nil, missingPasswordError("vncAuthResponse",
			"VNC authentication requires a password")
	}
	if len(challenge) != challengeSize {
		return nil, protocolError("vncAuthResponse",
			fmt.Sprintf("challenge must be exactly %d bytes, got %d", challengeSize, len(challenge)), nil)
	}

	key := desKeyFromPassword(password)
	defer zeroBytes(key[:])

	block, err := des.NewCipher(key[:]) // #nosec G405 - DES is required by the RFB authentication scheme
	if err != nil {
		return nil, authRejectedError("vncAuthResponse", "failed to create DES cipher", err)
	}

	response := make([]byte, challengeSize)
	block.Encrypt(response[0:desKeySize], challenge[0:desKeySize])
	block.Encrypt(response[desKeySize:challengeSize], challenge[desKeySize:challengeSize])
	return response, nil
}

// zeroBytes clears key material after use.
func zeroBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

// reverseBitsLookup maps every byte to its bit-reversed value.
var reverseBitsLookup = [256]byte{
	0x00, 0x80, 0x40, 0xc0, 0x20, 0xa0, 0x60, 0xe0,
	0x10, 0x90, 0x50, 0xd0, 0x30, 0xb0, 0x70, 0xf0,
	0x08, 0x88, 0x48, 0xc8, 0x28, 0xa8, 0x68, 0xe8,
	0x18, 0x98, 0x58, 0xd8, 0x38, 0xb8, 0x78, 0xf8,
	0x04, 0x84, 0x44, 0xc4, 0x24, 0xa4, 0x64, 0xe4,
	0x14, 0x94, 0x54, 0xd4, 0x34, 0xb4, 0x74, 0xf4,
	0x0c, 0x8c, 0x4c, 0xcc, 0x2c, 0xac, 0x6c, 0xec,
	0x1c, 0x9c, 0x5c, 0xdc, 0x3c, 0xbc, 0x7c, 0xfc,
	0x02, 0x82, 0x42, 0xc2, 0x22, 0xa2, 0x62, 0xe2,
	0x12, 0x92, 0x52, 0xd2, 0x32, 0xb2, 0x72, 0xf2,
	0x0a, 0x8a, 0x4a, 0xca, 0x2a, 0xaa, 0x6a, 0xea,
	0x1a, 0x9a, 0x5a, 0xda, 0x3a, 0xba, 0x7a, 0xfa,
	0x06, 0x86, 0x46, 0xc6, 0x26, 0xa6, 0x66, 0xe6,
	0x16, 0x96, 0x56, 0xd6, 0x36, 0xb6, 0x76, 0xf6,
	0x0e, 0x8e, 0x4e, 0xce, 0x2e, 0xae, 0x6e, 0xee,
	0x1e, 0x9e, 0x5e, 0xde, 0x3e, 0xbe, 0x7e, 0xfe,
	0x01, 0x81, 0x41, 0xc1, 0x21, 0xa1, 0x61, 0xe1,
	0x11, 0x91, 0x51, 0xd1, 0x31, 0xb1, 0x71, 0xf1,
	0x09, 0x89, 0x49, 0xc9, 0x29, 0xa9, 0x69, 0xe9,
	0x19, 0x99, 0x59, 0xd9, 0x39, 0xb9, 0x79, 0xf9,
	0x05, 0x85, 0x45, 0xc5, 0x25, 0xa5, 0x65, 0xe5,
	0x15, 0x95, 0x55, 0xd5, 0x35, 0xb5, 0x75, 0xf5,
	0x0d, 0x8d, 0x4d, 0xcd, 0x2d, 0xad, 0x6d, 0xed,
	0x1d, 0x9d, 0x5d, 0xdd, 0x3d, 0xbd, 0x7d, 0xfd,
	0x03, 0x83, 0x43, 0xc3, 0x23, 0xa3, 0x63, 0xe3,
	0x13, 0x93, 0x53, 0xd3, 0x33, 0xb3, 0x73, 0xf3,
	0x0b, 0x8b, 0x4b, 0xcb, 0x2b, 0xab, 0x6b, 0xeb,
	0x1b, 0x9b, 0x5b, 0xdb, 0x3b, 0xbb, 0x7b, 0xfb,
	0x07, 0x87, 0x47, 0xc7, 0x27, 0xa7, 0x67, 0xe7,
	0x17, 0x97, 0x57, 0xd7, 0x37, 0xb7, 0x77, 0xf7,
	0x0f, 0x8f, 0x4f, 0xcf, 0x2f, 0xaf, 0x6f, 0xef,
	0x1f, 0x9f, 0x5f, 0xdf, 0x3f, 0xbf, 0x7f, 0xff,
}

// reverseBits reverses the bit order of a single byte.
func reverseBits(b byte) byte {
	return reverseBitsLookup[b]
}
