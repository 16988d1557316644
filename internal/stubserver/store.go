package stubserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// StoredTransaction is the stub backend's transaction record.
type StoredTransaction struct {
	ID               int64     `json:"id"`
	UserID           int64     `json:"user_id"`
	OrderID          string    `json:"order_id"`
	GatewayOrderID   string    `json:"razorpay_order_id"`
	GatewayPaymentID string    `json:"razorpay_payment_id"`
	Signature        string    `json:"razorpay_signature"`
	Amount           string    `json:"amount"`
	Currency         string    `json:"currency"`
	Description      string    `json:"description"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TransactionStore persists stub transactions. The memory implementation
// is the default; the Redis one keeps history across stub restarts.
type TransactionStore interface {
	NextID(ctx context.Context) (int64, error)
	Create(ctx context.Context, tx *StoredTransaction) error
	Update(ctx context.Context, tx *StoredTransaction) error
	Get(ctx context.Context, id int64) (*StoredTransaction, error)
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*StoredTransaction, error)
	ListByUser(ctx context.Context, userID int64) ([]*StoredTransaction, error)
	Count(ctx context.Context) (int64, error)
}

// MemoryStore is a thread-safe in-memory TransactionStore.
type MemoryStore struct {
	mu      sync.RWMutex
	seq     int64
	txs     map[int64]*StoredTransaction
	byOrder map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txs:     make(map[int64]*StoredTransaction),
		byOrder: make(map[string]int64),
	}
}

func (m *MemoryStore) NextID(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq, nil
}

func (m *MemoryStore) Create(ctx context.Context, tx *StoredTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.txs[tx.ID]; exists {
		return fmt.Errorf("transaction %d already exists", tx.ID)
	}
	cp := *tx
	m.txs[tx.ID] = &cp
	if tx.GatewayOrderID != "" {
		m.byOrder[tx.GatewayOrderID] = tx.ID
	}
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, tx *StoredTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.txs[tx.ID]; !exists {
		return fmt.Errorf("transaction %d not found", tx.ID)
	}
	cp := *tx
	m.txs[tx.ID] = &cp
	if tx.GatewayOrderID != "" {
		m.byOrder[tx.GatewayOrderID] = tx.ID
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id int64) (*StoredTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, exists := m.txs[id]
	if !exists {
		return nil, ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (m *MemoryStore) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*StoredTransaction, error) {
	m.mu.RLock()
	id, exists := m.byOrder[gatewayOrderID]
	m.mu.RUnlock()
	if !exists {
		return nil, ErrTransactionNotFound
	}
	return m.Get(ctx, id)
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID int64) ([]*StoredTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*StoredTransaction, 0)
	for _, tx := range m.txs {
		if tx.UserID == userID {
			cp := *tx
			out = append(out, &cp)
		}
	}
	// Newest first, matching the backend ordering.
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.txs)), nil
}

// ErrTransactionNotFound is returned for unknown transaction lookups.
var ErrTransactionNotFound = fmt.Errorf("transaction not found")

// RedisStore keeps stub transactions in Redis so history survives stub
// restarts during development.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}

func txKey(id int64) string          { return fmt.Sprintf("paygate:tx:%d", id) }
func orderKey(orderID string) string { return fmt.Sprintf("paygate:order:%s", orderID) }
func userTxKey(userID int64) string  { return fmt.Sprintf("paygate:user:%d:txs", userID) }

func (r *RedisStore) NextID(ctx context.Context) (int64, error) {
	return r.rdb.Incr(ctx, "paygate:tx:seq").Result()
}

func (r *RedisStore) Create(ctx context.Context, tx *StoredTransaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}

	pipe := r.rdb.Pipeline()
	pipe.Set(ctx, txKey(tx.ID), data, 0)
	pipe.RPush(ctx, userTxKey(tx.UserID), tx.ID)
	if tx.GatewayOrderID != "" {
		pipe.Set(ctx, orderKey(tx.GatewayOrderID), tx.ID, 0)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Update(ctx context.Context, tx *StoredTransaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}

	pipe := r.rdb.Pipeline()
	pipe.Set(ctx, txKey(tx.ID), data, 0)
	if tx.GatewayOrderID != "" {
		pipe.Set(ctx, orderKey(tx.GatewayOrderID), tx.ID, 0)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Get(ctx context.Context, id int64) (*StoredTransaction, error) {
	data, err := r.rdb.Get(ctx, txKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}

	var tx StoredTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction %d: %w", id, err)
	}
	return &tx, nil
}

func (r *RedisStore) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*StoredTransaction, error) {
	id, err := r.rdb.Get(ctx, orderKey(gatewayOrderID)).Int64()
	if err == redis.Nil {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r *RedisStore) ListByUser(ctx context.Context, userID int64) ([]*StoredTransaction, error) {
	ids, err := r.rdb.LRange(ctx, userTxKey(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*StoredTransaction, 0, len(ids))
	// Stored oldest first; walk backwards for newest-first ordering.
	for i := len(ids) - 1; i >= 0; i-- {
		var id int64
		if _, err := fmt.Sscanf(ids[i], "%d", &id); err != nil {
			continue
		}
		tx, err := r.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (r *RedisStore) Count(ctx context.Context) (int64, error) {
	n, err := r.rdb.Get(ctx, "paygate:tx:seq").Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}
