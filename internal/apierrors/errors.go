// Package apierrors defines the error taxonomy shared by the session
// client, identity manager and payment orchestrator.
package apierrors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnauthenticated reports a 401/403 from the identity check. It is a
// valid "no identity" outcome, not a failure, and must never trigger the
// CSRF retry path.
var ErrUnauthenticated = errors.New("unauthenticated")

// NetworkError wraps a transport-level failure (connection refused, DNS,
// timeout) as opposed to an HTTP error response.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError is a non-2xx HTTP response from the backend.
type APIError struct {
	StatusCode int
	Detail     string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("api error %d", e.StatusCode)
}

// CSRFInvalid reports whether the response is the 403-with-CSRF-indicator
// that triggers the session client's single refresh-and-retry.
func (e *APIError) CSRFInvalid() bool {
	return e.StatusCode == 403 && strings.Contains(e.Detail, "CSRF")
}

// ValidationError is a client-side input rejection raised before any
// network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// GatewayLoadError reports a failure to load the external gateway's
// client library.
type GatewayLoadError struct {
	Err error
}

func (e *GatewayLoadError) Error() string {
	return fmt.Sprintf("failed to load payment gateway: %v", e.Err)
}

func (e *GatewayLoadError) Unwrap() error { return e.Err }

// PaymentRejectedError is a gateway-reported failure or a user dismissal
// of the gateway modal. Terminal for the attempt.
type PaymentRejectedError struct {
	Reason    string
	Dismissed bool
}

func (e *PaymentRejectedError) Error() string {
	if e.Dismissed {
		return "payment dismissed by user"
	}
	return fmt.Sprintf("payment rejected: %s", e.Reason)
}

// VerificationRejectedError reports that the backend rejected the
// verification payload (or the verification call itself failed).
// Terminal for the attempt; never retried.
type VerificationRejectedError struct {
	Err error
}

func (e *VerificationRejectedError) Error() string {
	return fmt.Sprintf("payment verification rejected: %v", e.Err)
}

func (e *VerificationRejectedError) Unwrap() error { return e.Err }
