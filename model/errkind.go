package model

import (
	"github.com/arborwatch/httpmeta/errors"
)

// ErrKind classifies a failure into one of the kinds this pipeline's
// components are allowed to return. The HTTP layer maps a kind to a status
// code; the worker maps a kind to an ack/nack decision. Keeping the kind a
// plain comparable value (rather than a family of sentinel error values)
// lets every layer classify an error with a single type switch instead of
// a chain of `errors.Is` comparisons.
type ErrKind string

const (
	// ErrValidation marks a bad URL or missing parameter. Surfaced as 422
	// (POST body) or 400 (GET query) at the API.
	ErrValidation ErrKind = "VALIDATION"

	// ErrPublisherNotReady marks a publish attempted while the broker
	// publisher state is not READY.
	ErrPublisherNotReady ErrKind = "PUBLISHER_NOT_READY"

	// ErrQueueRejected marks a broker nack, typically due to queue overflow.
	ErrQueueRejected ErrKind = "QUEUE_REJECTED"

	// ErrConnectionLost marks a connection drop observed during a publish
	// attempt; drives the publisher's reconnect loop.
	ErrConnectionLost ErrKind = "CONNECTION_LOST"

	// ErrPublisherTimeout marks a publish confirm that did not arrive
	// within the configured bound.
	ErrPublisherTimeout ErrKind = "PUBLISHER_TIMEOUT"

	// ErrStoreUnavailable marks a document store ping or operation failure.
	ErrStoreUnavailable ErrKind = "STORE_UNAVAILABLE"

	// ErrFetchRetryable marks a transient fetch failure: connect/read
	// timeout, DNS failure, network error, or HTTP 5xx.
	ErrFetchRetryable ErrKind = "FETCH_RETRYABLE"

	// ErrFetchPermanent marks a non-transient fetch failure: HTTP 4xx,
	// body-decoding failure, or a scheme/host invariant violation.
	ErrFetchPermanent ErrKind = "FETCH_PERMANENT"

	// ErrMalformedMessage marks a delivery missing a usable url/request_id.
	ErrMalformedMessage ErrKind = "MALFORMED_MESSAGE"
)

// KindError pairs a classification with the underlying cause. It satisfies
// the standard `error` interface and unwraps to the wrapped cause, so it
// composes with errors.Is/errors.As and with this module's own errors
// package.
type KindError struct {
	kind ErrKind
	err  error
}

// NewKindError builds a KindError from a plain message.
func NewKindError(kind ErrKind, msg string) error {
	return &KindError{kind: kind, err: errors.New(msg)}
}

// WrapKind attaches a classification to an existing error, preserving it
// as the cause.
func WrapKind(kind ErrKind, err error, prefix string) error {
	if err == nil {
		return nil
	}
	return &KindError{kind: kind, err: errors.Wrap(err, prefix)}
}

func (e *KindError) Error() string {
	return e.err.Error()
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *KindError) Unwrap() error {
	return e.err
}

// Kind returns the classification carried by the error.
func (e *KindError) Kind() ErrKind {
	return e.kind
}

// KindOf extracts the ErrKind carried by err, if any was attached.
func KindOf(err error) (ErrKind, bool) {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.kind, true
	}
	return "", false
}
