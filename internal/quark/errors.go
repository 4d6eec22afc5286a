// Package quark provides an HTTP client for the Quark cloud drive web API
// with bounded retry, share-token exchange, paginated listing, directory
// creation, and the multi-host share save fallback.
package quark

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for failure classification.
// Use errors.Is(err, quark.ErrAuth) to check.
var (
	// ErrAuth means the credential or share passcode was rejected. Not retried.
	ErrAuth = errors.New("quark: authentication failed")
	// ErrNetwork means a transport failure or timeout. Retried with backoff.
	ErrNetwork = errors.New("quark: network failure")
	// ErrAPI means a well-formed rejection from the remote. Not retried.
	ErrAPI = errors.New("quark: api error")
)

// Error wraps a sentinel with the operation, HTTP status, remote error code,
// and message for debugging.
type Error struct {
	Op         string
	StatusCode int
	Code       int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *Error) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "quark: %s", e.Op)

	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}

	if e.Code != 0 {
		fmt.Fprintf(&b, " (code %d)", e.Code)
	}

	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func authError(op, msg string) *Error {
	return &Error{Op: op, Message: msg, Err: ErrAuth}
}

func apiError(op string, status, code int, msg string) *Error {
	return &Error{Op: op, StatusCode: status, Code: code, Message: msg, Err: ErrAPI}
}

// Class returns a short label for the error's class: "auth", "network",
// "api", or "" when err is not a gateway error.
func Class(err error) string {
	switch {
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrAPI):
		return "api"
	default:
		return ""
	}
}

// isLoginRequired reports whether a remote message says the session is not
// logged in. These are always fatal, whichever request produced them.
func isLoginRequired(msg string) bool {
	lower := strings.ToLower(msg)

	return strings.Contains(lower, "require login") || strings.Contains(lower, "guest")
}

// isPasscodeFailure reports whether a token exchange message refers to the
// share passcode.
func isPasscodeFailure(msg string) bool {
	lower := strings.ToLower(msg)

	return strings.Contains(lower, "passcode") || strings.Contains(msg, "密码")
}
