// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: The deskbridge Authors

package rfb

import (
	"errors"
	"fmt"
)

// ErrorKind represents specific error categories for RFB operations.
type ErrorKind int

const (
	// ErrRefused indicates the server refused the TCP connection.
	ErrRefused ErrorKind = iota
	// ErrTimeout indicates a dial or handshake deadline expired.
	ErrTimeout
	// ErrProtocol indicates a protocol violation or malformed framing.
	ErrProtocol
	// ErrServerRejected indicates the server aborted the handshake with a reason string.
	ErrServerRejected
	// ErrMissingPassword indicates the negotiated security type needs a password and none is configured.
	ErrMissingPassword
	// ErrAuthRejected indicates the server rejected the submitted credentials.
	ErrAuthRejected
	// ErrUnsupportedAuth indicates no overlap between offered and supported security types.
	ErrUnsupportedAuth
	// ErrTLSSetup indicates the VeNCrypt TLS wrap failed.
	ErrTLSSetup
	// ErrNotConnected indicates the operation requires an established session.
	ErrNotConnected
	// ErrShortRead indicates the stream ended mid-message; the connection is unusable.
	ErrShortRead
	// ErrUnsupportedPixelDepth indicates pixel data in a depth the decoder cannot interpret.
	ErrUnsupportedPixelDepth
	// ErrSendFailed indicates an input event could not be written to the wire.
	ErrSendFailed
)

// String returns the string representation of the error kind.
func (e ErrorKind) String() string {
	switch e {
	case ErrRefused:
		return "refused"
	case ErrTimeout:
		return "timeout"
	case ErrProtocol:
		return "protocol"
	case ErrServerRejected:
		return "server-rejected"
	case ErrMissingPassword:
		return "missing-password"
	case ErrAuthRejected:
		return "auth-rejected"
	case ErrUnsupportedAuth:
		return "unsupported-auth"
	case ErrTLSSetup:
		return "tls-setup"
	case ErrNotConnected:
		return "not-connected"
	case ErrShortRead:
		return "short-read"
	case ErrUnsupportedPixelDepth:
		return "pixel-depth"
	case ErrSendFailed:
		return "send-failed"
	default:
		return "unknown"
	}
}

// RFBError provides structured error information with operation context,
// error kinds, and message wrapping for comprehensive error handling.
//
// For handshake rejections (ErrServerRejected, ErrAuthRejected) the Message
// field carries the server's reason string verbatim.
type RFBError struct {
	Op      string
	Kind    ErrorKind
	Message string
	Err     error
}

// Error returns the formatted error message.
func (e *RFBError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rfb %s: %s: %s: %v", e.Kind.String(), e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("rfb %s: %s: %s", e.Kind.String(), e.Op, e.Message)
}

// Unwrap returns the underlying error for error chain unwrapping.
func (e *RFBError) Unwrap() error {
	return e.Err
}

// Is reports whether this error matches the target error.
func (e *RFBError) Is(target error) bool {
	var rfbErr *RFBError
	if errors.As(target, &rfbErr) {
		return e.Kind == rfbErr.Kind && e.Op == rfbErr.Op
	}
	return false
}

// NewRFBError creates a new RFBError with the specified parameters.
// This is the primary constructor for structured RFB errors.
func NewRFBError(op string, kind ErrorKind, message string, err error) *RFBError {
	return &RFBError{
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// IsRFBError checks if an error is an RFBError and optionally matches specific kinds.
// If no kinds are provided, returns true for any RFBError. If kinds are provided,
// returns true only if the error matches one of the specified kinds.
func IsRFBError(err error, kind ...ErrorKind) bool {
	var rfbErr *RFBError
	if !errors.As(err, &rfbErr) {
		return false
	}

	if len(kind) == 0 {
		return true
	}

	for _, k := range kind {
		if rfbErr.Kind == k {
			return true
		}
	}
	return false
}

// GetErrorKind extracts the error kind from an RFBError.
// Returns the kind if the error is an RFBError, otherwise returns -1.
func GetErrorKind(err error) ErrorKind {
	var rfbErr *RFBError
	if errors.As(err, &rfbErr) {
		return rfbErr.Kind
	}
	return ErrorKind(-1)
}

// ServerReason extracts the server-supplied reason string from a handshake
// rejection. Returns the empty string for other errors.
func ServerReason(err error) string {
	var rfbErr *RFBError
	if !errors.As(err, &rfbErr) {
		return ""
	}
	switch rfbErr.Kind {
	case ErrServerRejected, ErrAuthRejected:
		return rfbErr.Message
	default:
		return ""
	}
}

// refusedError creates a new connection-refused error.
func refusedError(op, message string, err error) error {
	return NewRFBError(op, ErrRefused, message, err)
}

// timeoutError creates a new timeout error.
func timeoutError(op, message string, err error) error {
	return NewRFBError(op, ErrTimeout, message, err)
}

// protocolError creates a new protocol violation error.
func protocolError(op, message string, err error) error {
	return NewRFBError(op, ErrProtocol, message, err)
}

// serverRejectedError creates a new server-rejected error carrying the server's reason.
func serverRejectedError(op, reason string, err error) error {
	return NewRFBError(op, ErrServerRejected, reason, err)
}

// missingPasswordError creates a new missing-password error.
func missingPasswordError(op, message string) error {
	return NewRFBError(op, ErrMissingPassword, message, nil)
}

// authRejectedError creates a new credentials-rejected error carrying the server's reason.
func authRejectedError(op, reason string, err error) error {
	return NewRFBError(op, ErrAuthRejected, reason, err)
}

// unsupportedAuthError creates a new no-usable-security-type error.
func unsupportedAuthError(op, message string) error {
	return NewRFBError(op, ErrUnsupportedAuth, message, nil)
}

// tlsSetupError creates a new TLS setup error.
func tlsSetupError(op, message string, err error) error {
	return NewRFBError(op, ErrTLSSetup, message, err)
}

// notConnectedError creates a new not-connected error.
func notConnectedError(op string) error {
	return NewRFBError(op, ErrNotConnected, "session is not established", nil)
}

// shortReadError creates a new short-read error.
func shortReadError(op, message string, err error) error {
	return NewRFBError(op, ErrShortRead, message, err)
}

// pixelDepthError creates a new unsupported-pixel-depth error.
func pixelDepthError(op, message string) error {
	return NewRFBError(op, ErrUnsupportedPixelDepth, message, nil)
}

// sendFailedError creates a new input-send error.
func sendFailedError(op, message string, err error) error {
	return NewRFBError(op, ErrSendFailed, message, err)
}
