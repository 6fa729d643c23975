package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	domain "github.com/mittalrahul074/picklist/internal/domain"
	"github.com/mittalrahul074/picklist/internal/repositories"
)

// maxOrderQuantity is the largest quantity every store backend can persist.
const maxOrderQuantity = math.MaxInt32

var dispatchDateLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"02/01/2006",
	"2006/01/02",
	time.RFC3339,
}

// IngestionServiceDeps bundles the collaborators required to construct an ingestion service.
type IngestionServiceDeps struct {
	Orders repositories.OrderRepository
	// BatchSize caps rows per write. It is clamped to the store's MaxBatchSize.
	BatchSize int
	Metrics   AllocationMetrics
	Logger    *zap.Logger
	Clock     func() time.Time
}

type ingestionService struct {
	orders    repositories.OrderRepository
	batchSize int
	metrics   AllocationMetrics
	logger    *zap.Logger
	clock     func() time.Time
}

var _ IngestionService = (*ingestionService)(nil)

// NewIngestionService wires dependencies into a concrete IngestionService implementation.
func NewIngestionService(deps IngestionServiceDeps) (IngestionService, error) {
	if deps.Orders == nil {
		return nil, errors.New("ingestion service: order repository is required")
	}

	batch := deps.Orders.MaxBatchSize()
	if deps.BatchSize > 0 && (batch <= 0 || deps.BatchSize < batch) {
		batch = deps.BatchSize
	}
	if batch <= 0 {
		return nil, errors.New("ingestion service: batch size must be positive")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ingestionService{
		orders:    deps.Orders,
		batchSize: batch,
		metrics:   deps.Metrics,
		logger:    logger.Named("ingestion"),
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (s *ingestionService) Ingest(ctx context.Context, rows []OrderInput, platform string) (int, error) {
	platform = strings.TrimSpace(platform)

	ctx, span := tracer.Start(ctx, "services.Ingest")
	defer span.End()
	span.SetAttributes(attribute.Int("picklist.rows", len(rows)), attribute.String("picklist.platform", platform))

	now := s.clock()
	seen := make(map[string]struct{}, len(rows))
	pending := make([]Order, 0, len(rows))
	for i, row := range rows {
		orderID := strings.TrimSpace(row.OrderID)
		sku := domain.NormalizeSKU(row.SKU)
		if orderID == "" || sku == "" {
			s.logger.Warn("skipping incomplete row", zap.Int("row", i), zap.String("order_id", orderID))
			continue
		}
		qty, ok := parseQuantity(row.Quantity)
		if !ok {
			s.logger.Warn("skipping row with oversized quantity", zap.Int("row", i), zap.String("order_id", orderID), zap.String("quantity", row.Quantity))
			continue
		}
		if _, dup := seen[orderID]; dup {
			continue
		}
		seen[orderID] = struct{}{}

		exists, err := s.orders.Exists(ctx, orderID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "existence check failed")
			return 0, mapRepositoryError(err, nil)
		}
		if exists {
			continue
		}

		pending = append(pending, Order{
			ID:           orderID,
			SKU:          sku,
			Quantity:     qty,
			Status:       domain.StatusNew,
			Platform:     platform,
			CreatedAt:    now,
			UpdatedAt:    now,
			DispatchDate: parseDispatchDate(row.DispatchDate),
		})
	}

	inserted := 0
	for start := 0; start < len(pending); start += s.batchSize {
		end := start + s.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		created, err := s.orders.InsertBatch(ctx, pending[start:end])
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "batch insert failed")
			s.logger.Error("ingestion batch failed",
				zap.Int("inserted", inserted),
				zap.Int("batch_start", start),
				zap.String("platform", platform),
				zap.Error(err),
			)
			s.record(platform, inserted)
			return inserted, fmt.Errorf("%w: %d rows committed before failure: %w", ErrIngestionPartialFailure, inserted, mapRepositoryError(err, nil))
		}
		inserted += created
	}

	s.record(platform, inserted)
	s.logger.Info("ingested orders",
		zap.Int("rows", len(rows)),
		zap.Int("inserted", inserted),
		zap.String("platform", platform),
	)
	return inserted, nil
}

func (s *ingestionService) record(platform string, n int) {
	if s.metrics != nil && n > 0 {
		s.metrics.AddIngested(platform, n)
	}
}

// parseQuantity defaults to 1 when raw is missing, malformed or below 1. It reports false when raw
// is a whole number above maxOrderQuantity.
func parseQuantity(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 1, true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 1 || f != math.Trunc(f) {
		return 1, true
	}
	if f > maxOrderQuantity {
		return 0, false
	}
	return int(f), true
}

func parseDispatchDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dispatchDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			// The civil date as written, even when an offset is present.
			y, m, d := t.Date()
			day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
			return &day
		}
	}
	return nil
}
