package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"paygate-client/internal/models"
)

// Fake is a deterministic Gateway for tests and demo runs. It records
// every checkout request and replays scripted outcomes in order.
type Fake struct {
	mu       sync.Mutex
	loadErr  error
	loads    int
	outcomes []Outcome
	signWith string // when set, authorized outcomes get a valid HMAC signature
	Requests []CheckoutRequest
}

// NewFake returns a fake that yields the given outcomes, one per Open
// call. The last outcome is repeated when Open is called more often.
func NewFake(outcomes ...Outcome) *Fake {
	return &Fake{outcomes: outcomes}
}

// NewSigningFake returns a fake whose authorized outcomes carry a
// signature computed the way the backend verifies it: HMAC-SHA256 over
// "orderID|paymentID" with keySecret.
func NewSigningFake(keySecret string) *Fake {
	return &Fake{
		outcomes: []Outcome{{Kind: OutcomeAuthorized}},
		signWith: keySecret,
	}
}

// FailLoad makes every Load call fail with err.
func (f *Fake) FailLoad(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadErr = err
}

// Loads reports how many times Load was invoked.
func (f *Fake) Loads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

func (f *Fake) Load(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return f.loadErr
}

func (f *Fake) Open(ctx context.Context, req CheckoutRequest) (Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Requests = append(f.Requests, req)

	idx := len(f.Requests) - 1
	if idx >= len(f.outcomes) {
		idx = len(f.outcomes) - 1
	}
	if idx < 0 {
		return Outcome{Kind: OutcomeDismissed}, nil
	}

	out := f.outcomes[idx]
	if out.Kind == OutcomeAuthorized && out.Payload == nil {
		paymentID := fmt.Sprintf("pay_fake_%d", len(f.Requests))
		payload := &models.VerificationPayload{
			GatewayOrderID:   req.OrderID,
			GatewayPaymentID: paymentID,
		}
		if f.signWith != "" {
			payload.Signature = Sign(req.OrderID, paymentID, f.signWith)
		} else {
			payload.Signature = "sig_fake"
		}
		out.Payload = payload
	}
	return out, nil
}

// Sign computes the gateway's payment signature: HMAC-SHA256 over
// "orderID|paymentID" keyed with the key secret.
func Sign(orderID, paymentID, keySecret string) string {
	mac := hmac.New(sha256.New, []byte(keySecret))
	fmt.Fprintf(mac, "%s|%s", orderID, paymentID)
	return hex.EncodeToString(mac.Sum(nil))
}
