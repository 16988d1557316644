package models

import "time"

// Identity represents the authenticated user as returned by /auth/user/
// and embedded in login responses. Absence of an Identity means
// "unauthenticated", which is a valid outcome rather than an error.
type Identity struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Transaction mirrors the backend transaction record. Status is
// authoritative on the backend; the client only observes it.
type Transaction struct {
	ID               int64  `json:"id"`
	OrderID          string `json:"order_id"`
	GatewayOrderID   string `json:"razorpay_order_id"`
	GatewayPaymentID string `json:"razorpay_payment_id,omitempty"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	Description      string `json:"description"`
	Status           string `json:"status"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

// Transaction statuses
const (
	StatusPending  = "PENDING"
	StatusSuccess  = "SUCCESS"
	StatusFailed   = "FAILED"
	StatusRefunded = "REFUNDED"
)

// OrderDescriptor is the create-order response. It is created once per
// payment attempt by the backend and immutable once returned.
type OrderDescriptor struct {
	Transaction    Transaction `json:"transaction"`
	GatewayKeyID   string      `json:"razorpay_key_id"`
	GatewayOrderID string      `json:"razorpay_order_id"`
	Amount         string      `json:"amount"`
	AmountMinor    int64       `json:"amount_in_paise"`
	Currency       string      `json:"currency"`
	Description    string      `json:"description"`
	UserName       string      `json:"user_name"`
	UserEmail      string      `json:"user_email"`
}

// VerificationPayload is the signed assertion produced by a successful
// gateway callback, posted exactly once to /payments/verify/.
type VerificationPayload struct {
	GatewayOrderID   string `json:"razorpay_order_id"`
	GatewayPaymentID string `json:"razorpay_payment_id"`
	Signature        string `json:"razorpay_signature"`
}

// CreatedAtTime parses the backend's ISO-8601 created_at timestamp.
func (t *Transaction) CreatedAtTime() (time.Time, error) {
	return time.Parse(time.RFC3339, t.CreatedAt)
}
