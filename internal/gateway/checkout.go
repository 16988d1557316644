package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"paygate-client/internal/apierrors"
	"paygate-client/internal/util"

	"go.uber.org/zap"
)

// HostedCheckout adapts the vendor's hosted checkout. Load fetches the
// checkout client library exactly once per adapter; Open blocks until
// the embedding presentation layer reports the first callback through
// Resolve. Later callbacks for the same checkout are ignored.
type HostedCheckout struct {
	scriptURL string
	http      *http.Client
	logger    *zap.Logger

	mu      sync.Mutex
	loaded  bool
	pending chan Outcome
}

// NewHostedCheckout creates the adapter for the library at scriptURL.
func NewHostedCheckout(scriptURL string, logger *zap.Logger) *HostedCheckout {
	if logger == nil {
		logger = util.NamedLogger("gateway")
	}
	return &HostedCheckout{
		scriptURL: scriptURL,
		http:      &http.Client{Timeout: 15 * time.Second},
		logger:    logger,
	}
}

// Load fetches the checkout library. A second call after success is a
// no-op; a failed load may be attempted again.
func (h *HostedCheckout) Load(ctx context.Context) error {
	h.mu.Lock()
	if h.loaded {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.scriptURL, nil)
	if err != nil {
		return &apierrors.GatewayLoadError{Err: err}
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return &apierrors.GatewayLoadError{Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &apierrors.GatewayLoadError{
			Err: fmt.Errorf("checkout script fetch returned status %d", resp.StatusCode),
		}
	}

	h.mu.Lock()
	h.loaded = true
	h.mu.Unlock()

	util.GatewayLoadsTotal.Inc()
	h.logger.Info("gateway client library loaded", zap.String("url", h.scriptURL))
	return nil
}

// Open hands control to the checkout and waits for the first outcome
// delivered via Resolve.
func (h *HostedCheckout) Open(ctx context.Context, req CheckoutRequest) (Outcome, error) {
	h.mu.Lock()
	if !h.loaded {
		h.mu.Unlock()
		return Outcome{}, &apierrors.GatewayLoadError{Err: fmt.Errorf("checkout library not loaded")}
	}
	if h.pending != nil {
		h.mu.Unlock()
		return Outcome{}, fmt.Errorf("a checkout is already open")
	}
	ch := make(chan Outcome, 1)
	h.pending = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.pending = nil
		h.mu.Unlock()
	}()

	h.logger.Info("opening checkout",
		zap.String("order_id", req.OrderID),
		zap.Int64("amount_minor", req.AmountMinor),
		zap.String("currency", req.Currency))

	select {
	case out := <-ch:
		return out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Resolve reports a gateway callback for the open checkout. The first
// report wins; anything after it, and reports with no checkout open,
// are dropped.
func (h *HostedCheckout) Resolve(out Outcome) {
	h.mu.Lock()
	ch := h.pending
	h.mu.Unlock()

	if ch == nil {
		h.logger.Warn("gateway callback with no open checkout", zap.String("kind", string(out.Kind)))
		return
	}
	select {
	case ch <- out:
	default:
		h.logger.Warn("duplicate gateway callback ignored", zap.String("kind", string(out.Kind)))
	}
}
