package ibgw

import (
	"errors"
	"fmt"
)

// ErrorKind classifies upstream failures so the fetch layer can decide
// between retry and immediate surfacing.
type ErrorKind string

const (
	KindRateLimited       ErrorKind = "rate_limited"
	KindNoSubscription    ErrorKind = "no_subscription"
	KindTimeout           ErrorKind = "timeout"
	KindInvalidInstrument ErrorKind = "invalid_instrument"
	KindConnectionLost    ErrorKind = "connection_lost"
)

// Error is a classified upstream failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("ibgw: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("ibgw: %s", e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the classification from an error chain; empty when the
// error did not come from the gateway client.
func KindOf(err error) ErrorKind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return ""
}

// Transient reports whether the failure is worth retrying with backoff.
// Rate limits, timeouts, and dropped connections clear on their own;
// missing entitlements and unknown instruments do not.
func Transient(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindTimeout, KindConnectionLost:
		return true
	}
	return false
}

// Permanent reports whether the failure should surface immediately.
func Permanent(err error) bool {
	switch KindOf(err) {
	case KindNoSubscription, KindInvalidInstrument:
		return true
	}
	return false
}
