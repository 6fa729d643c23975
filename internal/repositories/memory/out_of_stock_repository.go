package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "github.com/mittalrahul074/picklist/internal/domain"
	"github.com/mittalrahul074/picklist/internal/repositories"
)

// OutOfStockRepository keeps out-of-stock reports keyed by SKU.
type OutOfStockRepository struct {
	mu      sync.Mutex
	reports map[string]domain.OutOfStockReport
}

var _ repositories.OutOfStockRepository = (*OutOfStockRepository)(nil)

// NewOutOfStockRepository constructs an empty repository.
func NewOutOfStockRepository() *OutOfStockRepository {
	return &OutOfStockRepository{reports: make(map[string]domain.OutOfStockReport)}
}

// Upsert implements repositories.OutOfStockRepository.
func (r *OutOfStockRepository) Upsert(ctx context.Context, report domain.OutOfStockReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports[report.SKU] = report
	return nil
}

// ListByStatus implements repositories.OutOfStockRepository.
func (r *OutOfStockRepository) ListByStatus(ctx context.Context, status domain.OutOfStockStatus) ([]domain.OutOfStockReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.OutOfStockReport, 0)
	for _, report := range r.reports {
		if report.Status == status {
			out = append(out, report)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReportedAt.Equal(out[j].ReportedAt) {
			return out[i].ReportedAt.Before(out[j].ReportedAt)
		}
		return out[i].SKU < out[j].SKU
	})
	return out, nil
}

// Acknowledge implements repositories.OutOfStockRepository.
func (r *OutOfStockRepository) Acknowledge(ctx context.Context, sku string, actorID string, at time.Time) (domain.OutOfStockReport, error) {
	if err := ctx.Err(); err != nil {
		return domain.OutOfStockReport{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	report, ok := r.reports[sku]
	if !ok {
		return domain.OutOfStockReport{}, repositories.NewNotFoundError("memory.out_of_stock.ack", "no report for "+sku)
	}
	if report.Status != domain.OutOfStockPending {
		return domain.OutOfStockReport{}, repositories.NewConflictError("memory.out_of_stock.ack", "report for "+sku+" is "+string(report.Status), repositories.ErrNotPending)
	}
	report.Status = domain.OutOfStockAcknowledged
	report.AcknowledgedBy = actorID
	ackAt := at
	report.AcknowledgedAt = &ackAt
	r.reports[sku] = report
	return report, nil
}
