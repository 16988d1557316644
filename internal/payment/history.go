package payment

import (
	"context"
	"fmt"

	"paygate-client/internal/models"
	"paygate-client/internal/session"
	"paygate-client/internal/util"

	"go.uber.org/zap"
)

const transactionsPath = "/payments/transactions/"

// History reads the authenticated user's transaction records. The
// dashboard re-fetches through it; status transitions are only ever
// observed, never written, from here.
type History struct {
	client *session.Client
	logger *zap.Logger
}

func NewHistory(client *session.Client) *History {
	return &History{
		client: client,
		logger: util.NamedLogger("history"),
	}
}

// List returns the user's transactions, newest first (backend ordering).
func (h *History) List(ctx context.Context) ([]models.Transaction, error) {
	ctx, span := util.StartSpan(ctx, "payment.History.List")
	defer span.End()

	var out []models.Transaction
	if err := h.client.Get(ctx, transactionsPath, &out); err != nil {
		return nil, err
	}
	h.logger.Debug("transactions fetched", zap.Int("count", len(out)))
	return out, nil
}

// Get returns a single transaction by id.
func (h *History) Get(ctx context.Context, id int64) (*models.Transaction, error) {
	ctx, span := util.StartSpan(ctx, "payment.History.Get")
	defer span.End()

	var out models.Transaction
	path := fmt.Sprintf("%s%d/", transactionsPath, id)
	if err := h.client.Get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
