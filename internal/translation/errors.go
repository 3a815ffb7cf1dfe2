package translation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Kind classifies a pipeline failure. Every raw adapter or transport error is
// normalized into exactly one Kind at the gateway/resilience boundary; callers
// never see an unclassified error.
type Kind string

const (
	KindNetwork            Kind = "network"
	KindTimeout            Kind = "timeout"
	KindServiceUnavailable Kind = "service_unavailable"
	KindRateLimited        Kind = "rate_limited"
	KindQuotaExceeded      Kind = "quota_exceeded"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindInvalidRequest     Kind = "invalid_request"
	KindTextTooLong        Kind = "text_too_long"
	KindParsing            Kind = "parsing"
	KindCache              Kind = "cache"
	KindBatch              Kind = "batch"
	KindCancelled          Kind = "cancelled"
	KindUnknown            Kind = "unknown"
)

// Retryable reports whether failures of this kind are worth retrying.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindServiceUnavailable, KindRateLimited:
		return true
	default:
		return false
	}
}

// Error is the classified error surfaced by the translation pipeline.
type Error struct {
	Kind       Kind
	Service    string
	Message    string
	HTTPStatus int
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s: %s: %s", e.Service, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Retryable reports whether the error's kind is transient.
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// NewError builds a classified error without an underlying cause.
func NewError(kind Kind, service, message string) *Error {
	return &Error{Kind: kind, Service: service, Message: message}
}

// WrapError classifies err under the given kind, preserving it as the cause.
func WrapError(kind Kind, service string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Service: service, Message: err.Error(), cause: err}
}

// Classify normalizes an arbitrary error into the taxonomy. Already-classified
// errors pass through with their service filled in when empty.
func Classify(err error, service string) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		if classified.Service == "" {
			classified.Service = service
		}
		return classified
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return WrapError(KindTimeout, service, err)
	case errors.Is(err, context.Canceled):
		return WrapError(KindCancelled, service, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return WrapError(KindTimeout, service, err)
		}
		return WrapError(KindNetwork, service, err)
	}

	return WrapError(KindUnknown, service, err)
}

// ClassifyHTTPStatus maps a backend HTTP status to a classified error.
func ClassifyHTTPStatus(status int, service, message string) *Error {
	kind := KindUnknown
	switch {
	case status == http.StatusRequestTimeout:
		kind = KindTimeout
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusUnauthorized:
		kind = KindUnauthorized
	case status == http.StatusForbidden:
		kind = KindForbidden
	case status == http.StatusPaymentRequired:
		kind = KindQuotaExceeded
	case status == http.StatusRequestEntityTooLarge:
		kind = KindTextTooLong
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		kind = KindInvalidRequest
	case status == http.StatusServiceUnavailable || status == http.StatusBadGateway || status == http.StatusGatewayTimeout:
		kind = KindServiceUnavailable
	case status >= 500:
		kind = KindNetwork
	}

	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Kind: kind, Service: service, Message: message, HTTPStatus: status}
}
