package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/mittalrahul074/picklist/internal/platform/observability"
	"github.com/mittalrahul074/picklist/internal/services"
)

// KafkaPublisher publishes order events to a Kafka topic keyed by SKU.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	metrics  *observability.Metrics
	logger   *zap.Logger
}

var _ services.OrderEventPublisher = (*KafkaPublisher)(nil)

// NewKafkaConfig returns the producer configuration used for order events.
func NewKafkaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "picklist"
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Timeout = 5 * time.Second
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// DialKafka connects a SyncProducer and routes sarama's own logging through logger.
func DialKafka(brokers []string, logger *zap.Logger) (sarama.SyncProducer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka publisher: brokers are required")
	}
	if logger != nil {
		sarama.Logger = observability.NewPrintfAdapter(logger.Named("sarama"))
	}
	producer, err := sarama.NewSyncProducer(brokers, NewKafkaConfig())
	if err != nil {
		return nil, fmt.Errorf("kafka publisher: connect: %w", err)
	}
	return producer, nil
}

// NewKafkaPublisher wraps producer. metrics and logger may be nil.
func NewKafkaPublisher(producer sarama.SyncProducer, topic string, metrics *observability.Metrics, logger *zap.Logger) (*KafkaPublisher, error) {
	if producer == nil {
		return nil, errors.New("kafka publisher: producer is required")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("kafka publisher: topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{producer: producer, topic: topic, metrics: metrics, logger: logger.Named("kafka")}, nil
}

// PublishOrderEvent implements services.OrderEventPublisher.
func (p *KafkaPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(event)
	if err != nil {
		return err
	}

	headers := make([]sarama.RecordHeader, 0, 3)
	for key, value := range attributes(event) {
		headers = append(headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
	}
	msg := &sarama.ProducerMessage{
		Topic:   p.topic,
		Key:     sarama.StringEncoder(event.SKU),
		Value:   sarama.ByteEncoder(data),
		Headers: headers,
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.metrics.IncEventPublishFailure(event.Type)
		return fmt.Errorf("publish order event: %w", err)
	}
	p.logger.Debug("order event published",
		zap.String("topic", p.topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.String("event_id", event.ID),
	)
	return nil
}

// Close shuts the producer down.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
