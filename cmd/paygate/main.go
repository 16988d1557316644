// Command paygate drives one full payment attempt against a PayGate
// backend: bootstrap, login (registering first when needed), order
// creation, gateway checkout and verification, then prints the
// transaction history.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"paygate-client/config"
	"paygate-client/internal/apierrors"
	"paygate-client/internal/gateway"
	"paygate-client/internal/identity"
	"paygate-client/internal/payment"
	"paygate-client/internal/session"
	"paygate-client/internal/util"

	"go.uber.org/zap"
)

func main() {
	var (
		email       = flag.String("email", "demo@example.com", "account email")
		password    = flag.String("password", "demo-password-123", "account password")
		amount      = flag.Float64("amount", 500, "payment amount in major units")
		description = flag.String("description", "Demo payment", "payment description")
		useFake     = flag.Bool("fake-gateway", true, "use the scripted gateway instead of the hosted checkout")
	)
	flag.Parse()

	cfg := config.Load()

	if err := util.InitLogger(cfg.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()
	logger := util.GetLogger()

	tp, err := util.InitTracer("paygate-client", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	ctx := context.Background()

	state := session.NewState()
	client, err := session.New(cfg.API.BaseURL, state,
		session.WithTimeout(cfg.API.RequestTimeout),
		session.WithRetryDelay(cfg.API.CSRFRetryDelay))
	if err != nil {
		log.Fatalf("Failed to create session client: %v", err)
	}

	store := identity.NewStore()
	store.Subscribe(func(snap identity.Snapshot) {
		if snap.Identity != nil {
			logger.Info("identity changed", zap.String("email", snap.Identity.Email))
		}
	})
	manager := identity.NewManager(client, store, nil)

	if err := manager.Initialize(ctx); err != nil {
		log.Fatalf("Initialization failed: %v", err)
	}

	if store.Identity() == nil {
		if err := ensureAccount(ctx, manager, *email, *password); err != nil {
			log.Fatalf("Login failed: %v", err)
		}
	}

	var gw gateway.Gateway
	if *useFake {
		gw = gateway.NewSigningFake(cfg.Stub.KeySecret)
	} else {
		gw = gateway.NewHostedCheckout(cfg.Gateway.ScriptURL, nil)
	}

	orchestrator := payment.NewOrchestrator(client, gw,
		payment.WithVerifyTimeout(cfg.API.VerifyTimeout),
		payment.WithTransitionObserver(func(s payment.State) {
			logger.Info("payment state", zap.String("state", string(s)))
		}))

	order, err := orchestrator.CreateOrder(ctx, *amount, *description)
	if err != nil {
		log.Fatalf("Order creation failed: %v", err)
	}
	fmt.Printf("Order created: transaction=%d gateway_order=%s amount=%s %s\n",
		order.Transaction.ID, order.GatewayOrderID, order.Amount, order.Currency)

	if err := orchestrator.LoadGateway(ctx); err != nil {
		log.Fatalf("Gateway load failed: %v", err)
	}

	if err := orchestrator.Authorize(ctx); err != nil {
		fmt.Printf("Payment failed: %v\n", err)
	}
	fmt.Printf("Attempt finished: state=%s transaction=%d\n",
		orchestrator.State(), orchestrator.TransactionID())

	history := payment.NewHistory(client)
	txs, err := history.List(ctx)
	if err != nil {
		log.Fatalf("Failed to fetch transactions: %v", err)
	}
	fmt.Printf("Transaction history (%d):\n", len(txs))
	for _, tx := range txs {
		fmt.Printf("  #%d %s %s %s %s\n", tx.ID, tx.OrderID, tx.Amount, tx.Currency, tx.Status)
	}
}

// ensureAccount logs in, registering the account first when the login is
// rejected for unknown credentials.
func ensureAccount(ctx context.Context, manager *identity.Manager, email, password string) error {
	creds := identity.Credentials{Email: email, Password: password}

	_, err := manager.Login(ctx, creds)
	if err == nil {
		return nil
	}

	var apiErr *apierrors.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 401 {
		return err
	}

	if _, err := manager.Signup(ctx, identity.SignupRequest{
		FirstName: "Demo",
		LastName:  "User",
		Email:     email,
		Password1: password,
		Password2: password,
	}); err != nil {
		return fmt.Errorf("signup failed: %w", err)
	}

	_, err = manager.Login(ctx, creds)
	return err
}
