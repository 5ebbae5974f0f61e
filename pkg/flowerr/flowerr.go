// Package flowerr defines the error taxonomy shared by every FlowStore
// component, matching the kinds (not concrete types) enumerated by the
// service's error-handling design: invalid-value, invalid-version,
// future-version, not-found, policy-error, transport, and fatal.
package flowerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the taxonomy's error kinds.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidValue
	KindInvalidVersion
	KindFutureVersion
	KindNotFound
	KindPolicyError
	KindTransport
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidValue:
		return "invalid-value"
	case KindInvalidVersion:
		return "invalid-version"
	case KindFutureVersion:
		return "future-version"
	case KindNotFound:
		return "not-found"
	case KindPolicyError:
		return "policy-error"
	case KindTransport:
		return "transport"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinel errors. Wrap these with fmt.Errorf("...: %w", ErrX) to add
// context while keeping errors.Is/Kind working.
var (
	ErrInvalidValue   = errors.New("invalid-value")
	ErrInvalidVersion = errors.New("invalid-version")
	ErrFutureVersion  = errors.New("future-version")
	ErrNotFound       = errors.New("not-found")
	ErrPolicyError    = errors.New("policy-error")
	ErrTransport      = errors.New("transport")
	ErrFatal          = errors.New("fatal")
)

var sentinelKinds = map[error]Kind{
	ErrInvalidValue:   KindInvalidValue,
	ErrInvalidVersion: KindInvalidVersion,
	ErrFutureVersion:  KindFutureVersion,
	ErrNotFound:       KindNotFound,
	ErrPolicyError:    KindPolicyError,
	ErrTransport:      KindTransport,
	ErrFatal:          KindFatal,
}

// Of unwraps err down to its taxonomy Kind, or KindUnknown if it doesn't
// wrap one of the sentinels.
func Of(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for sentinel, kind := range sentinelKinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnknown
}

// Wrap attaches context to a sentinel, e.g. Wrap(ErrNotFound, "get %d", version).
func Wrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}
