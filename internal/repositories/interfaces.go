package repositories

import (
	"context"
	"time"

	domain "github.com/mittalrahul074/picklist/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository is the transactional order store. Implementations retry conflicting transactions
// according to their configured retry policy before surfacing a conflict error.
type OrderRepository interface {
	// RunInTx runs fn in a serializable transaction. fn may be invoked more than once and must not
	// leak state between attempts. Nothing is written unless fn returns nil.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx OrderTx) error) error
	// InsertBatch creates the orders that do not exist yet and reports how many were created.
	// A batch is all-or-nothing and must not exceed MaxBatchSize.
	InsertBatch(ctx context.Context, orders []domain.Order) (int, error)
	Exists(ctx context.Context, orderID string) (bool, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
	MaxBatchSize() int
}

// OrderTx is the view of the store inside RunInTx. Reads register the documents in the
// transaction read set so concurrent claims on the same orders conflict.
type OrderTx interface {
	// ListCandidates returns the orders of sku in status ordered by CreatedAt then ID.
	ListCandidates(ctx context.Context, sku string, status domain.OrderStatus) ([]domain.Order, error)
	Get(ctx context.Context, orderID string) (domain.Order, error)
	ApplyTransition(ctx context.Context, update OrderTransitionUpdate) error
}

// OrderTransitionUpdate describes the write for one order moving along a status edge.
type OrderTransitionUpdate struct {
	OrderID   string
	From      domain.OrderStatus
	To        domain.OrderStatus
	Set       domain.Stamp
	Clear     domain.Stamp
	ActorID   string
	UpdatedAt time.Time
}

// NewTransitionUpdate builds the update for moving orderID along t.
func NewTransitionUpdate(orderID string, t domain.Transition, actorID string, now time.Time) OrderTransitionUpdate {
	return OrderTransitionUpdate{
		OrderID:   orderID,
		From:      t.From,
		To:        t.To,
		Set:       t.Set,
		Clear:     t.Clear,
		ActorID:   actorID,
		UpdatedAt: now,
	}
}

// OrderListFilter narrows order reads. Zero values mean no constraint.
type OrderListFilter struct {
	Status       *domain.OrderStatus
	SKU          string
	Platform     string
	CreatedAfter *time.Time
}

// OutOfStockRepository stores operator out-of-stock reports keyed by SKU.
type OutOfStockRepository interface {
	// Upsert records a pending report, replacing any previous report for the SKU.
	Upsert(ctx context.Context, report domain.OutOfStockReport) error
	ListByStatus(ctx context.Context, status domain.OutOfStockStatus) ([]domain.OutOfStockReport, error)
	// Acknowledge transactionally flips a pending report. Missing reports yield a not-found error
	// and reports that are not pending yield a conflict wrapping ErrNotPending.
	Acknowledge(ctx context.Context, sku string, actorID string, at time.Time) (domain.OutOfStockReport, error)
}

// HealthRepository evaluates backend dependencies for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
