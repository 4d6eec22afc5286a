package transfer

import (
	"errors"

	"github.com/tonimelisma/quark-mirror/internal/quark"
)

// ErrValidation marks a job that can never succeed as queued. Such jobs are
// logged and dropped, never requeued.
var ErrValidation = errors.New("transfer: invalid job")

// ValidationError describes why a job payload was rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "transfer: invalid job: " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// errorClass decides both the persisted message prefix and the queue route.
type errorClass int

const (
	classUnexpected errorClass = iota
	classAuth
	classNetwork
	classAPI
	classValidation
)

func classOf(err error) errorClass {
	if errors.Is(err, ErrValidation) {
		return classValidation
	}

	switch quark.Class(err) {
	case "auth":
		return classAuth
	case "network":
		return classNetwork
	case "api":
		return classAPI
	default:
		return classUnexpected
	}
}

func (c errorClass) String() string {
	switch c {
	case classAuth:
		return "auth"
	case classNetwork:
		return "network"
	case classAPI:
		return "api"
	case classValidation:
		return "validation"
	default:
		return "unexpected"
	}
}

// message is the human-readable form persisted on the media record.
func (c errorClass) message(err error) string {
	var prefix string

	switch c {
	case classAuth:
		prefix = "Authentication error: "
	case classNetwork:
		prefix = "Network error: "
	case classAPI:
		prefix = "API error: "
	case classValidation:
		prefix = "Validation error: "
	default:
		prefix = "Unexpected error: "
	}

	return prefix + err.Error()
}
