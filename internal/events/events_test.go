package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/models"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func settledOrder() models.Order {
	return models.Order{
		ID:              uuid.New(),
		MerchantID:      uuid.New(),
		MerchantOrderID: "M-1",
		Channel:         "smart",
		ActualChannel:   "hp-upi",
		Type:            domain.OrderTypePayin,
		Status:          domain.StatusSuccess,
		AmountMicros:    1000 * domain.MicrosPerUnit,
		FeeMicros:       50 * domain.MicrosPerUnit,
		NetAmountMicros: 950 * domain.MicrosPerUnit,
		SettlementRef:   "UTR1",
	}
}

func TestNewOrderEventUsesServingChannel(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := NewOrderEvent(settledOrder(), "callback", at)

	assert.Equal(t, "hp-upi", ev.Channel)
	assert.Equal(t, "1000.00", ev.Amount)
	assert.Equal(t, "50.00", ev.Fee)
	assert.Equal(t, "950.00", ev.Net)
	assert.Equal(t, at, ev.OccurredAt)
}

func TestKafkaPublisherSendsKeyedMessage(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	order := settledOrder()

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != order.ID.String() {
			return errors.New("unexpected key " + string(key))
		}
		raw, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var ev OrderEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		if ev.Status != "success" || ev.MerchantOrderID != "M-1" {
			return errors.New("unexpected payload")
		}
		return nil
	})

	pub := NewKafkaPublisherWithProducer(producer, "order-events")
	require.NoError(t, pub.PublishOrder(context.Background(), NewOrderEvent(order, "callback", time.Now())))
	require.NoError(t, pub.Close())
}

func TestKafkaPublisherSurfacesSendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := NewKafkaPublisherWithProducer(producer, "order-events")
	err := pub.PublishOrder(context.Background(), NewOrderEvent(settledOrder(), "callback", time.Now()))
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, pub.Close())
}
