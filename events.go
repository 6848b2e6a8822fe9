package paydash

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/jingkai27/payments-dashboard/config"
	"github.com/jingkai27/payments-dashboard/model"
)

// TransactionEvent is the lifecycle record published to kafka. It carries
// the full transaction snapshot so consumers never need a read back.
type TransactionEvent struct {
	EventID       string             `json:"event_id"`
	Event         string             `json:"event"`
	TransactionID string             `json:"transaction_id"`
	EmittedAt     time.Time          `json:"emitted_at"`
	Transaction   *model.Transaction `json:"transaction"`
}

// EventPublisher writes lifecycle events to the configured kafka topic.
// Publishing is fire-and-forget: failures are logged, never returned. With
// no brokers configured the publisher carries a nil writer and drops
// everything silently.
type EventPublisher struct {
	writer *kafka.Writer
}

func NewEventPublisher(cfg config.KafkaConfig) *EventPublisher {
	if len(cfg.Brokers) == 0 {
		return &EventPublisher{}
	}

	topic := cfg.TransactionTopic
	if topic == "" {
		topic = "transaction.status"
	}
	return &EventPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			Async:        true,
			RequiredAcks: kafka.RequireOne,
			ErrorLogger:  kafka.LoggerFunc(logrus.Errorf),
		},
	}
}

// Publish emits one lifecycle event keyed by transaction id, which keeps
// per-transaction ordering within a partition.
func (p *EventPublisher) Publish(ctx context.Context, event string, txn *model.Transaction) {
	if p == nil || p.writer == nil {
		return
	}

	value, err := json.Marshal(TransactionEvent{
		EventID:       model.GenerateUUIDWithSuffix("evt"),
		Event:         event,
		TransactionID: txn.TransactionID,
		EmittedAt:     time.Now(),
		Transaction:   txn,
	})
	if err != nil {
		logrus.Errorf("failed to marshal transaction event: %v", err)
		return
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(txn.TransactionID),
		Value: value,
	}); err != nil {
		logrus.Errorf("failed to publish %s for %s: %v", event, txn.TransactionID, err)
	}
}

func (p *EventPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
