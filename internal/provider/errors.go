package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// FailureKind is the normalized classification every adapter must apply to
// its own errors before returning to the dispatcher.
type FailureKind string

const (
	// FailureRetryable covers timeouts, 5xx, connection resets: worth a
	// same-attempt failover and a later retry.
	FailureRetryable FailureKind = "retryable"
	// FailureRateLimited is a 429 or equivalent: a scheduling delay, never a
	// provider-health event.
	FailureRateLimited FailureKind = "rate_limited"
	// FailurePermanent means the provider rejected this message for good
	// (invalid or blocked address); retrying the same input cannot help.
	FailurePermanent FailureKind = "permanent"
)

// DeliveryError classifies a provider call failure.
type DeliveryError struct {
	StatusCode int
	Message    string
	Kind       FailureKind
	Cause      error
}

func (e *DeliveryError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "delivery error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *DeliveryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Classify maps any error from a provider call to its failure kind.
// Unclassified errors default to permanent so a buggy adapter cannot hot-loop
// retries against an unknown failure mode.
func Classify(err error) FailureKind {
	if err == nil {
		return FailurePermanent
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return FailureRetryable
	}
	if errors.Is(err, context.Canceled) {
		return FailurePermanent
	}

	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) {
		return deliveryErr.Kind
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureRetryable
	}

	return FailurePermanent
}

// IsRetryable reports whether the dispatcher may fail over to the next
// provider within the same attempt.
func IsRetryable(err error) bool {
	return Classify(err) == FailureRetryable
}

// IsRateLimited reports whether the failure was a provider-side throttle.
func IsRateLimited(err error) bool {
	return Classify(err) == FailureRateLimited
}
