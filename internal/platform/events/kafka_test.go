package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	domain "github.com/mittalrahul074/picklist/internal/domain"
	"github.com/mittalrahul074/picklist/internal/platform/observability"
	"github.com/mittalrahul074/picklist/internal/services"
)

func sampleEvent() services.OrderEvent {
	return services.OrderEvent{
		ID:         "01HZX",
		Type:       "orders.allocated",
		SKU:        "ABC",
		OrderIDs:   []string{"o-1", "o-3"},
		Quantity:   5,
		From:       domain.StatusNew,
		To:         domain.StatusPicked,
		ActorID:    "alice",
		OccurredAt: time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisherSendsEncodedEvent(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var msg Message
		if err := json.Unmarshal(value, &msg); err != nil {
			return err
		}
		if msg.SKU != "ABC" || msg.Quantity != 5 || msg.To != "picked" {
			return errors.New("unexpected payload")
		}
		if len(msg.OrderIDs) != 2 {
			return errors.New("expected two order ids")
		}
		return nil
	})

	publisher, err := NewKafkaPublisher(producer, "order-events", nil, nil)
	require.NoError(t, err)
	require.NoError(t, publisher.PublishOrderEvent(context.Background(), sampleEvent()))
	require.NoError(t, publisher.Close())
}

func TestKafkaPublisherCountsFailures(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	metrics := observability.NewMetrics()
	publisher, err := NewKafkaPublisher(producer, "order-events", metrics, nil)
	require.NoError(t, err)

	err = publisher.PublishOrderEvent(context.Background(), sampleEvent())
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)

	count, err := testutil.GatherAndCount(metrics.Registry(), "picklist_event_publish_failures_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.NoError(t, publisher.Close())
}

func TestNewKafkaPublisherValidation(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "topic", nil, nil)
	require.Error(t, err)

	producer := mocks.NewSyncProducer(t, nil)
	_, err = NewKafkaPublisher(producer, " ", nil, nil)
	require.Error(t, err)
	require.NoError(t, producer.Close())

	_, err = DialKafka(nil, nil)
	require.Error(t, err)
}

func TestNewKafkaConfigIsIdempotent(t *testing.T) {
	cfg := NewKafkaConfig()
	require.True(t, cfg.Producer.Idempotent)
	require.True(t, cfg.Producer.Return.Successes)
	require.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	require.NoError(t, cfg.Validate())
}
