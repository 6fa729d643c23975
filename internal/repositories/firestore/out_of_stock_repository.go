package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/mittalrahul074/picklist/internal/domain"
	pfirestore "github.com/mittalrahul074/picklist/internal/platform/firestore"
	"github.com/mittalrahul074/picklist/internal/repositories"
)

const outOfStockCollection = "out_of_stock"

// OutOfStockRepository stores one report document per SKU.
type OutOfStockRepository struct {
	provider *pfirestore.Provider
	reports  *pfirestore.BaseRepository[outOfStockDocument]
	txOpts   []pfirestore.TxOption
}

var _ repositories.OutOfStockRepository = (*OutOfStockRepository)(nil)

// NewOutOfStockRepository constructs the repository.
func NewOutOfStockRepository(provider *pfirestore.Provider, txOpts ...pfirestore.TxOption) (*OutOfStockRepository, error) {
	if provider == nil {
		return nil, errors.New("out of stock repository requires firestore provider")
	}
	return &OutOfStockRepository{
		provider: provider,
		reports:  pfirestore.NewBaseRepository[outOfStockDocument](provider, outOfStockCollection),
		txOpts:   txOpts,
	}, nil
}

// Upsert implements repositories.OutOfStockRepository.
func (r *OutOfStockRepository) Upsert(ctx context.Context, report domain.OutOfStockReport) error {
	if err := r.reports.Set(ctx, safeDocID(report.SKU), newOutOfStockDocument(report)); err != nil {
		return wrapOrderError("out_of_stock.upsert", err)
	}
	return nil
}

// ListByStatus implements repositories.OutOfStockRepository.
func (r *OutOfStockRepository) ListByStatus(ctx context.Context, st domain.OutOfStockStatus) ([]domain.OutOfStockReport, error) {
	docs, err := r.reports.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("status", "==", string(st))
	})
	if err != nil {
		return nil, wrapOrderError("out_of_stock.list", err)
	}
	out := make([]domain.OutOfStockReport, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain())
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
	ref, err := r.reports.DocumentRef(ctx, safeDocID(sku))
	if err != nil {
		return domain.OutOfStockReport{}, wrapOrderError("out_of_stock.ack", err)
	}

	var updated domain.OutOfStockReport
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewNotFoundError("", fmt.Sprintf("no report for %s", sku))
			}
			return err
		}
		var doc outOfStockDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode out of stock %s: %w", snap.Ref.ID, err)
		}
		if doc.Status != string(domain.OutOfStockPending) {
			return repositories.NewConflictError("", fmt.Sprintf("report for %s is %s", sku, doc.Status), repositories.ErrNotPending)
		}

		ackAt := at.UTC()
		doc.Status = string(domain.OutOfStockAcknowledged)
		doc.AcknowledgedBy = actorID
		doc.AcknowledgedAt = &ackAt
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain()
		return nil
	}, r.txOpts...)
	if err != nil {
		return domain.OutOfStockReport{}, wrapOrderError("out_of_stock.ack", err)
	}
	return updated, nil
}

// safeDocID maps a SKU to a document ID. Firestore forbids '/' in IDs.
func safeDocID(sku string) string {
	return strings.ReplaceAll(sku, "/", "_")
}

type outOfStockDocument struct {
	SKU            string     `firestore:"sku"`
	Status         string     `firestore:"status"`
	ReportedBy     string     `firestore:"reported_by"`
	ReportedAt     time.Time  `firestore:"reported_at"`
	AcknowledgedBy string     `firestore:"acknowledged_by"`
	AcknowledgedAt *time.Time `firestore:"acknowledged_at"`
}

func newOutOfStockDocument(report domain.OutOfStockReport) outOfStockDocument {
	return outOfStockDocument{
		SKU:            report.SKU,
		Status:         string(report.Status),
		ReportedBy:     report.ReportedBy,
		ReportedAt:     report.ReportedAt.UTC(),
		AcknowledgedBy: report.AcknowledgedBy,
		AcknowledgedAt: report.AcknowledgedAt,
	}
}

func (d outOfStockDocument) toDomain() domain.OutOfStockReport {
	return domain.OutOfStockReport{
		SKU:            d.SKU,
		Status:         domain.OutOfStockStatus(d.Status),
		ReportedBy:     d.ReportedBy,
		ReportedAt:     d.ReportedAt,
		AcknowledgedBy: d.AcknowledgedBy,
		AcknowledgedAt: d.AcknowledgedAt,
	}
}
