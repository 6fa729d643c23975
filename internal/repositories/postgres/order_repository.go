package postgres

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	domain "github.com/mittalrahul074/picklist/internal/domain"
	ppostgres "github.com/mittalrahul074/picklist/internal/platform/postgres"
	"github.com/mittalrahul074/picklist/internal/platform/retry"
	"github.com/mittalrahul074/picklist/internal/repositories"
)

const (
	ordersTable = "orders"
	// Keeps a single multi-row INSERT well under the 65535 bind parameter limit.
	maxInsertBatch = 1000
)

var orderColumns = []string{
	"id", "sku", "quantity", "status", "picked_by", "validated_by", "accepted_by",
	"platform", "created_at", "updated_at", "dispatch_date",
}

// OrderRepository runs every transaction at SERIALIZABLE and re-runs it on serialization failures.
type OrderRepository struct {
	db     *ppostgres.DB
	policy retry.Policy
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs the repository.
func NewOrderRepository(db *ppostgres.DB, policy retry.Policy) (*OrderRepository, error) {
	if db == nil || db.Pool == nil {
		return nil, errors.New("order repository requires postgres pool")
	}
	return &OrderRepository{db: db, policy: policy}, nil
}

// MaxBatchSize implements repositories.OrderRepository.
func (r *OrderRepository) MaxBatchSize() int {
	return maxInsertBatch
}

// RunInTx implements repositories.OrderRepository.
func (r *OrderRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repositories.OrderTx) error) error {
	if fn == nil {
		return errors.New("postgres: transaction function is nil")
	}
	err := r.serializable(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &orderTx{builder: r.db.Builder, tx: tx})
	})
	return wrapError("orders.tx", err)
}

func (r *OrderRepository) serializable(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return retry.Do(ctx, r.policy, isRetryable, func(ctx context.Context) error {
		return pgx.BeginTxFunc(ctx, r.db.Pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
			return fn(ctx, tx)
		})
	})
}

// InsertBatch implements repositories.OrderRepository.
func (r *OrderRepository) InsertBatch(ctx context.Context, orders []domain.Order) (int, error) {
	if len(orders) == 0 {
		return 0, nil
	}
	if len(orders) > maxInsertBatch {
		return 0, fmt.Errorf("orders.insert_batch: %d orders exceeds limit %d", len(orders), maxInsertBatch)
	}

	query, args, err := insertOrdersSQL(r.db.Builder, orders)
	if err != nil {
		return 0, err
	}

	var created int
	err = r.serializable(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		created = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, wrapError("orders.insert_batch", err)
	}
	return created, nil
}

func insertOrdersSQL(b sq.StatementBuilderType, orders []domain.Order) (string, []any, error) {
	stmt := b.Insert(ordersTable).Columns(orderColumns...)
	for _, o := range orders {
		stmt = stmt.Values(
			o.ID, o.SKU, o.Quantity, string(o.Status), o.PickedBy, o.ValidatedBy, o.AcceptedBy,
			o.Platform, o.CreatedAt.UTC(), o.UpdatedAt.UTC(), utcPtr(o.DispatchDate),
		)
	}
	return stmt.Suffix("ON CONFLICT (id) DO NOTHING").ToSql()
}

// Exists implements repositories.OrderRepository.
func (r *OrderRepository) Exists(ctx context.Context, orderID string) (bool, error) {
	query, args, err := r.db.Builder.Select("1").From(ordersTable).Where(sq.Eq{"id": orderID}).Prefix("SELECT EXISTS (").Suffix(")").ToSql()
	if err != nil {
		return false, err
	}
	var exists bool
	if err := r.db.Pool.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, wrapError("orders.exists", err)
	}
	return exists, nil
}

// FindByID implements repositories.OrderRepository.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	query, args, err := r.db.Builder.Select(orderColumns...).From(ordersTable).Where(sq.Eq{"id": orderID}).ToSql()
	if err != nil {
		return domain.Order{}, err
	}
	order, err := scanOrder(r.db.Pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, repositories.NewNotFoundError("orders.find", fmt.Sprintf("order %s not found", orderID))
	}
	if err != nil {
		return domain.Order{}, wrapError("orders.find", err)
	}
	return order, nil
}

// List implements repositories.OrderRepository.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	query, args, err := listOrdersSQL(r.db.Builder, filter)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapError("orders.list", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, wrapError("orders.list", err)
	}
	return orders, nil
}

func listOrdersSQL(b sq.StatementBuilderType, filter repositories.OrderListFilter) (string, []any, error) {
	stmt := b.Select(orderColumns...).From(ordersTable)
	if filter.Status != nil {
		stmt = stmt.Where(sq.Eq{"status": string(*filter.Status)})
	}
	if filter.SKU != "" {
		stmt = stmt.Where(sq.Eq{"sku": filter.SKU})
	}
	if filter.Platform != "" {
		stmt = stmt.Where(sq.Expr("lower(platform) = lower(?)", filter.Platform))
	}
	if filter.CreatedAfter != nil {
		stmt = stmt.Where(sq.GtOrEq{"created_at": filter.CreatedAfter.UTC()})
	}
	return stmt.OrderBy("created_at ASC", "id ASC").ToSql()
}

type orderTx struct {
	builder sq.StatementBuilderType
	tx      pgx.Tx
}

func (t *orderTx) ListCandidates(ctx context.Context, sku string, status domain.OrderStatus) ([]domain.Order, error) {
	query, args, err := candidatesSQL(t.builder, sku, status)
	if err != nil {
		return nil, err
	}
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func candidatesSQL(b sq.StatementBuilderType, sku string, status domain.OrderStatus) (string, []any, error) {
	return b.Select(orderColumns...).
		From(ordersTable).
		Where(sq.Eq{"sku": sku, "status": string(status)}).
		OrderBy("created_at ASC", "id ASC").
		Suffix("FOR UPDATE").
		ToSql()
}

func (t *orderTx) Get(ctx context.Context, orderID string) (domain.Order, error) {
	query, args, err := t.builder.Select(orderColumns...).From(ordersTable).Where(sq.Eq{"id": orderID}).Suffix("FOR UPDATE").ToSql()
	if err != nil {
		return domain.Order{}, err
	}
	order, err := scanOrder(t.tx.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, repositories.NewNotFoundError("", fmt.Sprintf("order %s not found", orderID))
	}
	return order, err
}

func (t *orderTx) ApplyTransition(ctx context.Context, update repositories.OrderTransitionUpdate) error {
	query, args, err := transitionSQL(t.builder, update)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repositories.NewConflictError("", fmt.Sprintf("order %s is no longer %s", update.OrderID, update.From), nil)
	}
	return nil
}

func transitionSQL(b sq.StatementBuilderType, update repositories.OrderTransitionUpdate) (string, []any, error) {
	stmt := b.Update(ordersTable).
		Set("status", string(update.To)).
		Set("updated_at", update.UpdatedAt.UTC())
	if column := stampColumn(update.Set); column != "" {
		stmt = stmt.Set(column, update.ActorID)
	}
	if column := stampColumn(update.Clear); column != "" {
		stmt = stmt.Set(column, "")
	}
	return stmt.Where(sq.Eq{"id": update.OrderID, "status": string(update.From)}).ToSql()
}

func stampColumn(stamp domain.Stamp) string {
	switch stamp {
	case domain.StampPickedBy, domain.StampValidatedBy, domain.StampAcceptedBy:
		return string(stamp)
	}
	return ""
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o      domain.Order
		status string
	)
	if err := row.Scan(
		&o.ID, &o.SKU, &o.Quantity, &status, &o.PickedBy, &o.ValidatedBy, &o.AcceptedBy,
		&o.Platform, &o.CreatedAt, &o.UpdatedAt, &o.DispatchDate,
	); err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(status)
	if !o.Status.Valid() {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", o.ID, domain.ErrUnknownStatus)
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	o.DispatchDate = utcPtr(o.DispatchDate)
	return o, nil
}

func collectOrders(rows pgx.Rows) ([]domain.Order, error) {
	defer rows.Close()
	var out []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
