package fetch

import (
	"errors"
	"fmt"
)

// Class is the fetch-level error classification. Only these three classes
// propagate out of Fetch; everything else is absorbed into result metadata.
type Class string

const (
	// ClassRetryable marks transient failures whose retries are
	// exhausted. The surrounding API maps it to a 503-equivalent with a
	// retry-after hint.
	ClassRetryable Class = "retryable"
	// ClassPermanent marks failures retrying cannot fix (unknown
	// instrument, missing market-data entitlement).
	ClassPermanent Class = "permanent"
	// ClassNoValidData marks a fetch whose upstream response contained
	// bars, all of which failed validation.
	ClassNoValidData Class = "no_valid_data"
)

// Error is a classified fetch failure carrying the last underlying cause.
type Error struct {
	Class Class
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.Class, e.Err)
	}
	return fmt.Sprintf("fetch %s", e.Class)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ClassOf extracts the classification from an error chain; empty for
// errors that did not come out of Fetch (e.g. a caller-side context
// cancellation).
func ClassOf(err error) Class {
	var fErr *Error
	if errors.As(err, &fErr) {
		return fErr.Class
	}
	return ""
}
