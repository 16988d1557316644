package stubserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"paygate-client/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Payment event types, matching the backend's payment log entries.
const (
	EventTypeOrderCreated    = "ORDER_CREATED"
	EventTypePaymentSuccess  = "PAYMENT_SUCCESS"
	EventTypePaymentFailed   = "PAYMENT_FAILED"
	EventTypeSignatureFailed = "SIGNATURE_FAILED"
)

// PaymentEvent is the stub's payment-log record published for each
// transaction lifecycle step.
type PaymentEvent struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	TransactionID int64     `json:"transaction_id"`
	OrderID       string    `json:"order_id"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
}

// EventPublisher records payment lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, tx *StoredTransaction, message string) error
	Close() error
}

// KafkaPublisher writes payment events to a Kafka topic.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	return &KafkaPublisher{
		writer: writer,
		logger: util.NamedLogger("events"),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType string, tx *StoredTransaction, message string) error {
	event := PaymentEvent{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		TransactionID: tx.ID,
		OrderID:       tx.OrderID,
		Message:       message,
		Timestamp:     time.Now(),
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal payment event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("tx-%d", tx.ID)),
		Value: value,
		Time:  event.Timestamp,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write payment event: %w", err)
	}

	p.logger.Debug("payment event published",
		zap.String("event_type", eventType),
		zap.Int64("transaction_id", tx.ID))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops events; used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, eventType string, tx *StoredTransaction, message string) error {
	return nil
}

func (NopPublisher) Close() error { return nil }
