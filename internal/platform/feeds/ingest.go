package feeds

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	domain "github.com/mittalrahul074/picklist/internal/domain"
)

// Batch is the message body published by the upload service.
type Batch struct {
	Platform string              `json:"platform"`
	Rows     []domain.OrderInput `json:"rows"`
}

// Ingester creates orders from rows. services.IngestionService satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, rows []domain.OrderInput, platform string) (int, error)
}

// Counter records settlements. observability.Metrics satisfies it.
type Counter interface {
	IncFeedMessage(result string)
}

// NewIngestHandler decodes batches and ingests them. Ingestion skips existing order IDs, so a
// failed batch is requeued once and rejected when it fails again after redelivery.
func NewIngestHandler(ingester Ingester, counter Counter, logger *zap.Logger) HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("feeds")

	return func(ctx context.Context, delivery amqp091.Delivery) Result {
		result := handleBatch(ctx, ingester, logger, delivery)
		if counter != nil {
			counter.IncFeedMessage(string(result))
		}
		return result
	}
}

func handleBatch(ctx context.Context, ingester Ingester, logger *zap.Logger, delivery amqp091.Delivery) Result {
	var batch Batch
	if err := json.Unmarshal(delivery.Body, &batch); err != nil {
		logger.Warn("discarding malformed batch", zap.String("message_id", delivery.MessageId), zap.Error(err))
		return ResultReject
	}
	if len(batch.Rows) == 0 {
		return ResultAck
	}

	inserted, err := ingester.Ingest(ctx, batch.Rows, batch.Platform)
	if err == nil {
		logger.Info("feed batch ingested",
			zap.String("message_id", delivery.MessageId),
			zap.String("platform", batch.Platform),
			zap.Int("rows", len(batch.Rows)),
			zap.Int("inserted", inserted),
		)
		return ResultAck
	}

	fields := []zap.Field{
		zap.String("message_id", delivery.MessageId),
		zap.Int("inserted", inserted),
		zap.Bool("redelivered", delivery.Redelivered),
		zap.Error(err),
	}
	if errors.Is(err, context.Canceled) || !delivery.Redelivered {
		logger.Warn("feed batch failed, requeueing", fields...)
		return ResultRequeue
	}
	logger.Error("feed batch failed after redelivery, rejecting", fields...)
	return ResultReject
}
