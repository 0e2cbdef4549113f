// Package notification delivers booking lifecycle notifications. Delivery is
// fire-and-forget: a failed publish is logged and counted, never propagated
// into the operation that triggered it.
package notification

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Message is a single notification addressed to one recipient.
type Message struct {
	RecipientID string                 `json:"recipientId"`
	Kind        string                 `json:"kind"`
	Title       string                 `json:"title"`
	Body        string                 `json:"body"`
	Data        map[string]interface{} `json:"data,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
}

// Notification kinds emitted by the platform.
const (
	KindLateArrivalPrompt  = "LATE_ARRIVAL_PROMPT"
	KindBookingCancelled   = "BOOKING_CANCELLED"
	KindGroupConfirmed     = "GROUP_BOOKING_CONFIRMED"
	KindGroupExpired       = "GROUP_BOOKING_EXPIRED"
	KindGroupContribution  = "GROUP_CONTRIBUTION_RECEIVED"
	KindPaymentReceived    = "PAYMENT_RECEIVED"
)

// Notifier publishes notifications.
type Notifier interface {
	Notify(ctx context.Context, msg Message)
}

// KafkaNotifier publishes notifications to a Kafka topic, keyed by recipient
// so per-user ordering is preserved.
type KafkaNotifier struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaNotifier creates a Notifier backed by the given brokers and topic.
func NewKafkaNotifier(logger *zap.Logger, brokers []string, topic string) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}
	return &KafkaNotifier{writer: writer, logger: logger}
}

func (n *KafkaNotifier) Notify(ctx context.Context, msg Message) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		n.logger.Error("failed to marshal notification", zap.Error(err))
		return
	}
	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.RecipientID),
		Value: payload,
	})
	if err != nil {
		n.logger.Error("failed to publish notification",
			zap.String("kind", msg.Kind),
			zap.String("recipient_id", msg.RecipientID),
			zap.Error(err))
	}
}

// Close flushes and closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// NopNotifier discards notifications. Used when Kafka is disabled.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Message) {}

// Recorder captures notifications in memory for tests.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Notify(_ context.Context, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}
