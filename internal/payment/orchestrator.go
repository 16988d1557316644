// Package payment drives one payment attempt from order creation through
// the external gateway handoff to a verified terminal outcome.
package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"paygate-client/internal/apierrors"
	"paygate-client/internal/gateway"
	"paygate-client/internal/models"
	"paygate-client/internal/session"
	"paygate-client/internal/util"

	"go.uber.org/zap"
)

const (
	createOrderPath = "/payments/create-order/"
	verifyPath      = "/payments/verify/"
)

// State is the orchestrator's position in one payment attempt.
type State string

const (
	StateIdle           State = "IDLE"
	StateOrderRequested State = "ORDER_REQUESTED"
	StateOrderCreated   State = "ORDER_CREATED"
	StateGatewayLoading State = "GATEWAY_LOADING"
	StateGatewayReady   State = "GATEWAY_READY"
	StateAuthorizing    State = "AUTHORIZING"
	StateVerifying      State = "VERIFYING"
	StateSucceeded      State = "SUCCEEDED"
	StateFailed         State = "FAILED"
)

// Terminal reports whether no further transitions may occur for the
// attempt.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Orchestrator runs a single payment attempt. Construct a fresh one per
// attempt; terminal states latch and the attempt cannot be resumed.
type Orchestrator struct {
	client        *session.Client
	gw            gateway.Gateway
	logger        *zap.Logger
	verifyTimeout time.Duration
	onTransition  func(State)

	mu       sync.Mutex
	state    State
	order    *models.OrderDescriptor
	failure  error
	verified bool // guards the at-most-one verification POST
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithVerifyTimeout bounds the verification call. The default is the
// session client's own request timeout.
func WithVerifyTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.verifyTimeout = d }
}

// WithOrchestratorLogger injects a diagnostic sink.
func WithOrchestratorLogger(l *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTransitionObserver registers a hook called after every state
// change, for the presentation layer to render progress.
func WithTransitionObserver(fn func(State)) OrchestratorOption {
	return func(o *Orchestrator) { o.onTransition = fn }
}

func NewOrchestrator(client *session.Client, gw gateway.Gateway, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		client:        client,
		gw:            gw,
		logger:        util.NamedLogger("payment"),
		verifyTimeout: client.Timeout(),
		state:         StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current attempt state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Order returns the descriptor created for this attempt, if any.
func (o *Orchestrator) Order() *models.OrderDescriptor {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.order
}

// TransactionID returns the backend transaction id for this attempt, or
// zero before an order exists. Terminal states carry this id.
func (o *Orchestrator) TransactionID() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.order == nil {
		return 0
	}
	return o.order.Transaction.ID
}

// Err returns the failure that drove the attempt to Failed, if any.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failure
}

// transition moves the attempt to next unless a terminal state has
// already latched. It returns the resulting state.
func (o *Orchestrator) transition(next State) State {
	o.mu.Lock()
	if o.state.Terminal() {
		cur := o.state
		o.mu.Unlock()
		o.logger.Warn("transition after terminal state ignored",
			zap.String("from", string(cur)),
			zap.String("to", string(next)))
		return cur
	}
	o.state = next
	o.mu.Unlock()

	if o.onTransition != nil {
		o.onTransition(next)
	}
	return next
}

func (o *Orchestrator) fail(reason string, err error) error {
	o.mu.Lock()
	if o.failure == nil {
		o.failure = err
	}
	o.mu.Unlock()

	o.transition(StateFailed)
	util.PaymentFailedTotal.WithLabelValues(reason).Inc()
	o.logger.Warn("payment attempt failed",
		zap.Int64("transaction_id", o.TransactionID()),
		zap.String("reason", reason),
		zap.Error(err))
	return err
}

// CreateOrder validates the amount, posts the creation request and
// stores the immutable order descriptor. The returned transaction is
// PENDING. No client-side deduplication of concurrent identical
// requests is performed.
func (o *Orchestrator) CreateOrder(ctx context.Context, amount float64, description string) (*models.OrderDescriptor, error) {
	ctx, span := util.StartSpan(ctx, "payment.Orchestrator.CreateOrder")
	defer span.End()

	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, &apierrors.ValidationError{Field: "amount", Reason: "must be a positive number"}
	}

	o.mu.Lock()
	if o.state != StateIdle {
		cur := o.state
		o.mu.Unlock()
		return nil, fmt.Errorf("order already requested for this attempt (state %s)", cur)
	}
	o.mu.Unlock()

	o.transition(StateOrderRequested)
	util.PaymentAttemptsTotal.Inc()

	req := struct {
		Amount      float64 `json:"amount"`
		Description string  `json:"description"`
	}{Amount: amount, Description: description}

	var order models.OrderDescriptor
	if err := o.client.Post(ctx, createOrderPath, req, &order); err != nil {
		// The attempt never started on the backend; allow a clean retry.
		o.transition(StateIdle)
		return nil, err
	}

	o.mu.Lock()
	o.order = &order
	o.mu.Unlock()
	o.transition(StateOrderCreated)

	o.logger.Info("order created",
		zap.Int64("transaction_id", order.Transaction.ID),
		zap.String("gateway_order_id", order.GatewayOrderID),
		zap.Int64("amount_minor", order.AmountMinor))
	return &order, nil
}

// LoadGateway ensures the gateway client library is present. Success
// moves the attempt to GatewayReady; failure is terminal.
func (o *Orchestrator) LoadGateway(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "payment.Orchestrator.LoadGateway")
	defer span.End()

	o.transition(StateGatewayLoading)
	if err := o.gw.Load(ctx); err != nil {
		var loadErr *apierrors.GatewayLoadError
		if !errors.As(err, &loadErr) {
			err = &apierrors.GatewayLoadError{Err: err}
		}
		return o.fail("gateway_load", err)
	}
	o.transition(StateGatewayReady)
	return nil
}

// Authorize opens the gateway for the created order and drives the
// attempt to a terminal state from the gateway's outcome. A success
// callback triggers exactly one verification POST; failure and dismissal
// never contact the backend.
func (o *Orchestrator) Authorize(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "payment.Orchestrator.Authorize")
	defer span.End()

	o.mu.Lock()
	order := o.order
	o.mu.Unlock()
	if order == nil {
		return fmt.Errorf("no order created for this attempt")
	}

	// Reject before opening the gateway and without changing state.
	if order.AmountMinor <= 0 {
		return &apierrors.ValidationError{Field: "amount_in_paise", Reason: "must be a positive integer"}
	}

	o.transition(StateAuthorizing)

	outcome, err := o.gw.Open(ctx, gateway.CheckoutRequest{
		KeyID:       order.GatewayKeyID,
		AmountMinor: order.AmountMinor,
		Currency:    order.Currency,
		OrderID:     order.GatewayOrderID,
		Description: orderDescription(order),
		Prefill: gateway.Prefill{
			Name:  order.UserName,
			Email: order.UserEmail,
		},
		Methods: gateway.DefaultMethods(),
	})
	if err != nil {
		return o.fail("gateway_open", err)
	}

	switch outcome.Kind {
	case gateway.OutcomeAuthorized:
		return o.verify(ctx, outcome.Payload)
	case gateway.OutcomeRejected:
		return o.fail("gateway_rejected", &apierrors.PaymentRejectedError{Reason: outcome.Reason})
	case gateway.OutcomeDismissed:
		return o.fail("dismissed", &apierrors.PaymentRejectedError{Dismissed: true})
	default:
		return o.fail("gateway_outcome", fmt.Errorf("unknown gateway outcome %q", outcome.Kind))
	}
}

// verify posts the signed assertion. It runs at most once per attempt;
// rejection (including transport failure) is terminal with no retry.
func (o *Orchestrator) verify(ctx context.Context, payload *models.VerificationPayload) error {
	o.mu.Lock()
	if o.verified {
		o.mu.Unlock()
		o.logger.Warn("duplicate verification suppressed",
			zap.Int64("transaction_id", o.TransactionID()))
		return nil
	}
	o.verified = true
	o.mu.Unlock()

	o.transition(StateVerifying)

	vctx, cancel := context.WithTimeout(ctx, o.verifyTimeout)
	defer cancel()

	start := time.Now()
	var resp struct {
		Message     string             `json:"message"`
		Transaction models.Transaction `json:"transaction"`
	}
	err := o.client.Post(vctx, verifyPath, payload, &resp)
	util.VerificationLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return o.fail("verification_rejected", &apierrors.VerificationRejectedError{Err: err})
	}

	// The backend's status is authoritative; record the terminal view so
	// it never regresses to PENDING for this attempt.
	o.mu.Lock()
	if o.order != nil && resp.Transaction.ID == o.order.Transaction.ID {
		o.order.Transaction.Status = resp.Transaction.Status
		o.order.Transaction.GatewayPaymentID = resp.Transaction.GatewayPaymentID
	}
	o.mu.Unlock()

	o.transition(StateSucceeded)
	util.PaymentSucceededTotal.Inc()
	o.logger.Info("payment verified",
		zap.Int64("transaction_id", o.TransactionID()),
		zap.String("gateway_payment_id", payload.GatewayPaymentID))
	return nil
}

func orderDescription(order *models.OrderDescriptor) string {
	if order.Description != "" {
		return order.Description
	}
	return "Payment"
}
