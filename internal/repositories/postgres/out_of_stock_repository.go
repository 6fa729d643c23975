package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	domain "github.com/mittalrahul074/picklist/internal/domain"
	ppostgres "github.com/mittalrahul074/picklist/internal/platform/postgres"
	"github.com/mittalrahul074/picklist/internal/platform/retry"
	"github.com/mittalrahul074/picklist/internal/repositories"
)

const outOfStockTable = "out_of_stock"

var outOfStockColumns = []string{"sku", "status", "reported_by", "reported_at", "acknowledged_by", "acknowledged_at"}

// OutOfStockRepository keeps one row per SKU.
type OutOfStockRepository struct {
	db     *ppostgres.DB
	policy retry.Policy
}

var _ repositories.OutOfStockRepository = (*OutOfStockRepository)(nil)

// NewOutOfStockRepository constructs the repository.
func NewOutOfStockRepository(db *ppostgres.DB, policy retry.Policy) (*OutOfStockRepository, error) {
	if db == nil || db.Pool == nil {
		return nil, errors.New("out of stock repository requires postgres pool")
	}
	return &OutOfStockRepository{db: db, policy: policy}, nil
}

// Upsert implements repositories.OutOfStockRepository.
func (r *OutOfStockRepository) Upsert(ctx context.Context, report domain.OutOfStockReport) error {
	query, args, err := r.db.Builder.Insert(outOfStockTable).
		Columns(outOfStockColumns...).
		Values(report.SKU, string(report.Status), report.ReportedBy, report.ReportedAt.UTC(), report.AcknowledgedBy, utcPtr(report.AcknowledgedAt)).
		Suffix(`ON CONFLICT (sku) DO UPDATE SET
			status = EXCLUDED.status,
			reported_by = EXCLUDED.reported_by,
			reported_at = EXCLUDED.reported_at,
			acknowledged_by = EXCLUDED.acknowledged_by,
			acknowledged_at = EXCLUDED.acknowledged_at`).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := r.db.Pool.Exec(ctx, query, args...); err != nil {
		return wrapError("out_of_stock.upsert", err)
	}
	return nil
}

// ListByStatus implements repositories.OutOfStockRepository.
func (r *OutOfStockRepository) ListByStatus(ctx context.Context, status domain.OutOfStockStatus) ([]domain.OutOfStockReport, error) {
	query, args, err := r.db.Builder.Select(outOfStockColumns...).
		From(outOfStockTable).
		Where(sq.Eq{"status": string(status)}).
		OrderBy("reported_at ASC", "sku ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapError("out_of_stock.list", err)
	}
	defer rows.Close()

	var out []domain.OutOfStockReport
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, wrapError("out_of_stock.list", err)
		}
		out = append(out, report)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("out_of_stock.list", err)
	}
	return out, nil
}

// Acknowledge implements repositories.OutOfStockRepository.
func (r *OutOfStockRepository) Acknowledge(ctx context.Context, sku string, actorID string, at time.Time) (domain.OutOfStockReport, error) {
	selectSQL, selectArgs, err := r.db.Builder.Select(outOfStockColumns...).
		From(outOfStockTable).
		Where(sq.Eq{"sku": sku}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return domain.OutOfStockReport{}, err
	}
	ackAt := at.UTC()
	updateSQL, updateArgs, err := r.db.Builder.Update(outOfStockTable).
		Set("status", string(domain.OutOfStockAcknowledged)).
		Set("acknowledged_by", actorID).
		Set("acknowledged_at", ackAt).
		Where(sq.Eq{"sku": sku}).
		ToSql()
	if err != nil {
		return domain.OutOfStockReport{}, err
	}

	var updated domain.OutOfStockReport
	err = retry.Do(ctx, r.policy, isRetryable, func(ctx context.Context) error {
		return pgx.BeginTxFunc(ctx, r.db.Pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
			report, err := scanReport(tx.QueryRow(ctx, selectSQL, selectArgs...))
			if errors.Is(err, pgx.ErrNoRows) {
				return repositories.NewNotFoundError("", fmt.Sprintf("no report for %s", sku))
			}
			if err != nil {
				return err
			}
			if report.Status != domain.OutOfStockPending {
				return repositories.NewConflictError("", fmt.Sprintf("report for %s is %s", sku, report.Status), repositories.ErrNotPending)
			}
			if _, err := tx.Exec(ctx, updateSQL, updateArgs...); err != nil {
				return err
			}
			report.Status = domain.OutOfStockAcknowledged
			report.AcknowledgedBy = actorID
			report.AcknowledgedAt = &ackAt
			updated = report
			return nil
		})
	})
	if err != nil {
		return domain.OutOfStockReport{}, wrapError("out_of_stock.ack", err)
	}
	return updated, nil
}

func scanReport(row rowScanner) (domain.OutOfStockReport, error) {
	var (
		report domain.OutOfStockReport
		status string
	)
	if err := row.Scan(&report.SKU, &status, &report.ReportedBy, &report.ReportedAt, &report.AcknowledgedBy, &report.AcknowledgedAt); err != nil {
		return domain.OutOfStockReport{}, err
	}
	report.Status = domain.OutOfStockStatus(status)
	report.ReportedAt = report.ReportedAt.UTC()
	report.AcknowledgedAt = utcPtr(report.AcknowledgedAt)
	return report, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
