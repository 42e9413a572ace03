// Package events publishes order lifecycle events for downstream consumers.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/models"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// OrderEvent is emitted once per applied terminal transition.
type OrderEvent struct {
	OrderID         string    `json:"order_id"`
	MerchantID      string    `json:"merchant_id"`
	MerchantOrderID string    `json:"merchant_order_id"`
	Type            string    `json:"type"`
	Status          string    `json:"status"`
	Channel         string    `json:"channel"`
	Amount          string    `json:"amount"`
	Fee             string    `json:"fee"`
	Net             string    `json:"net"`
	SettlementRef   string    `json:"settlement_ref,omitempty"`
	Source          string    `json:"source"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Publisher delivers order events. Delivery is best effort; callers log and
// move on when it fails.
type Publisher interface {
	PublishOrder(ctx context.Context, ev OrderEvent) error
	Close() error
}

// NewOrderEvent snapshots order for publication.
func NewOrderEvent(order models.Order, source string, at time.Time) OrderEvent {
	return OrderEvent{
		OrderID:         order.ID.String(),
		MerchantID:      order.MerchantID.String(),
		MerchantOrderID: order.MerchantOrderID,
		Type:            string(order.Type),
		Status:          string(order.Status),
		Channel:         order.ServingChannel(),
		Amount:          domain.FormatAmount(order.AmountMicros),
		Fee:             domain.FormatAmount(order.FeeMicros),
		Net:             domain.FormatAmount(order.NetAmountMicros),
		SettlementRef:   order.SettlementRef,
		Source:          source,
		OccurredAt:      at.UTC(),
	}
}

// KafkaPublisher writes events to a single topic keyed by order id, so every
// event of one order lands on the same partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher dials brokers with a synchronous, fully acknowledged producer.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic), nil
}

func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) PublishOrder(ctx context.Context, ev OrderEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode order event: %w", err)
	}
	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.OrderID),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte("order." + ev.Status)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	zap.L().Debug("order event published",
		zap.String("order_id", ev.OrderID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// NopPublisher drops every event. It is used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) PublishOrder(context.Context, OrderEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
