// Package gateway abstracts the external payment-authorization UI. The
// vendor SDK's constructor-plus-event-handler surface is wrapped behind
// a capability interface whose Open resolves to a single typed outcome,
// so the orchestrator can be tested without a real browser modal.
package gateway

import (
	"context"

	"paygate-client/internal/models"
)

// OutcomeKind classifies how a checkout attempt ended.
type OutcomeKind string

const (
	// OutcomeAuthorized carries a signed payment assertion.
	OutcomeAuthorized OutcomeKind = "AUTHORIZED"
	// OutcomeRejected is a gateway-reported failure.
	OutcomeRejected OutcomeKind = "REJECTED"
	// OutcomeDismissed means the user closed the modal. No payload.
	OutcomeDismissed OutcomeKind = "DISMISSED"
)

// Outcome is the terminal result of one checkout. Exactly one outcome is
// produced per Open call.
type Outcome struct {
	Kind    OutcomeKind
	Payload *models.VerificationPayload // set only when authorized
	Reason  string                      // set only when rejected
}

// Prefill seeds the gateway's customer fields.
type Prefill struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Contact string `json:"contact"`
}

// Methods toggles the payment instruments offered by the gateway.
type Methods struct {
	UPI        bool `json:"upi"`
	Card       bool `json:"card"`
	Netbanking bool `json:"netbanking"`
	Wallet     bool `json:"wallet"`
}

// DefaultMethods enables every instrument, matching the hosted checkout
// defaults.
func DefaultMethods() Methods {
	return Methods{UPI: true, Card: true, Netbanking: true, Wallet: true}
}

// CheckoutRequest is everything the gateway needs to open a checkout.
type CheckoutRequest struct {
	KeyID       string
	AmountMinor int64
	Currency    string
	OrderID     string
	Description string
	Prefill     Prefill
	Methods     Methods
}

// Gateway is the capability boundary around the external checkout.
type Gateway interface {
	// Load ensures the gateway's client library is present. Repeated
	// calls after a successful load are no-ops.
	Load(ctx context.Context) error

	// Open hands control to the gateway and blocks until it reports an
	// outcome or ctx is done. The gateway's success, failure and dismiss
	// callbacks are mutually exclusive and collapse into the returned
	// Outcome; at most one is acted upon.
	Open(ctx context.Context, req CheckoutRequest) (Outcome, error)
}
