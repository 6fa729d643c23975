package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	domain "github.com/mittalrahul074/picklist/internal/domain"
	"github.com/mittalrahul074/picklist/internal/repositories"
)

// OutOfStockServiceDeps bundles the collaborators required to construct an out-of-stock service.
type OutOfStockServiceDeps struct {
	Reports repositories.OutOfStockRepository
	Logger  *zap.Logger
	Clock   func() time.Time
}

type outOfStockService struct {
	reports repositories.OutOfStockRepository
	logger  *zap.Logger
	clock   func() time.Time
}

var _ OutOfStockService = (*outOfStockService)(nil)

// NewOutOfStockService wires dependencies into a concrete OutOfStockService implementation.
func NewOutOfStockService(deps OutOfStockServiceDeps) (OutOfStockService, error) {
	if deps.Reports == nil {
		return nil, errors.New("out of stock service: report repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &outOfStockService{
		reports: deps.Reports,
		logger:  logger.Named("out_of_stock"),
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// Report records a pending report, replacing an earlier one for the same SKU.
func (s *outOfStockService) Report(ctx context.Context, sku string, actorID string) (OutOfStockReport, error) {
	sku = domain.NormalizeSKU(sku)
	if sku == "" {
		return OutOfStockReport{}, fmt.Errorf("%w: sku is required", ErrInvalidInput)
	}
	report := OutOfStockReport{
		SKU:        sku,
		Status:     domain.OutOfStockPending,
		ReportedBy: strings.TrimSpace(actorID),
		ReportedAt: s.clock(),
	}
	if err := s.reports.Upsert(ctx, report); err != nil {
		return OutOfStockReport{}, mapRepositoryError(err, nil)
	}
	s.logger.Info("out of stock reported", zap.String("sku", sku), zap.String("actor_id", report.ReportedBy))
	return report, nil
}

func (s *outOfStockService) ListPending(ctx context.Context) ([]OutOfStockReport, error) {
	reports, err := s.reports.ListByStatus(ctx, domain.OutOfStockPending)
	if err != nil {
		return nil, mapRepositoryError(err, nil)
	}
	if reports == nil {
		reports = []OutOfStockReport{}
	}
	return reports, nil
}

// Acknowledge closes the pending report for sku. Missing and already acknowledged reports both
// yield ErrOutOfStockNotFound; a transaction that keeps conflicting yields ErrTransactionAborted.
func (s *outOfStockService) Acknowledge(ctx context.Context, sku string, actorID string) (OutOfStockReport, error) {
	sku = domain.NormalizeSKU(sku)
	if sku == "" {
		return OutOfStockReport{}, fmt.Errorf("%w: sku is required", ErrInvalidInput)
	}
	actor := strings.TrimSpace(actorID)
	report, err := s.reports.Acknowledge(ctx, sku, actor, s.clock())
	if err != nil {
		if errors.Is(err, repositories.ErrNotPending) {
			return OutOfStockReport{}, fmt.Errorf("%w: %v", ErrOutOfStockNotFound, err)
		}
		return OutOfStockReport{}, mapRepositoryError(err, ErrOutOfStockNotFound)
	}
	s.logger.Info("out of stock acknowledged", zap.String("sku", sku), zap.String("actor_id", actor))
	return report, nil
}
