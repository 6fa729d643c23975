package services

import (
	"context"
	"time"

	domain "github.com/mittalrahul074/picklist/internal/domain"
	"github.com/mittalrahul074/picklist/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	OrderInput         = domain.OrderInput
	OrderStatus        = domain.OrderStatus
	SkuGroup           = domain.SkuGroup
	DispatchQuantity   = domain.DispatchQuantity
	OutOfStockReport   = domain.OutOfStockReport
	SystemHealthReport = domain.SystemHealthReport
	OrderListFilter    = repositories.OrderListFilter
)

// InsufficientQuantity is the ProcessedQty reported when a request cannot be covered exactly.
const InsufficientQuantity = -1

// AllocateCommand asks the engine to move Quantity units of SKU into Target.
type AllocateCommand struct {
	SKU      string
	Quantity int
	Target   OrderStatus
	ActorID  string
}

// AllocationResult reports the outcome of an allocation. ProcessedQty is either the requested
// quantity or InsufficientQuantity, in which case OrderIDs is nil and nothing was written.
type AllocationResult struct {
	ProcessedQty int
	OrderIDs     []string
	Source       OrderStatus
	Target       OrderStatus
}

// Insufficient reports whether the allocation hit the insufficiency sentinel.
func (r AllocationResult) Insufficient() bool {
	return r.ProcessedQty == InsufficientQuantity
}

// TransitionOrderCommand moves a single order along any edge of the status table.
type TransitionOrderCommand struct {
	OrderID string
	Target  OrderStatus
	ActorID string
	// ExpectedStatus, when set, must match the stored status or the call fails with ErrOrderConflict.
	ExpectedStatus *OrderStatus
}

// AllocationService is the only mutation entry point for order status.
type AllocationService interface {
	Allocate(ctx context.Context, cmd AllocateCommand) (AllocationResult, error)
	TransitionOrder(ctx context.Context, cmd TransitionOrderCommand) (Order, error)
}

// IngestionService creates new orders from upstream rows.
type IngestionService interface {
	Ingest(ctx context.Context, rows []OrderInput, platform string) (int, error)
}

// OrderQueryService serves read-only order views.
type OrderQueryService interface {
	List(ctx context.Context, filter OrderListFilter) ([]Order, error)
	Get(ctx context.Context, orderID string) (Order, error)
	Counts(ctx context.Context, filter OrderListFilter) (map[OrderStatus]int, error)
}

// OutOfStockService tracks operator reports of SKUs with no physical stock.
type OutOfStockService interface {
	Report(ctx context.Context, sku string, actorID string) (OutOfStockReport, error)
	ListPending(ctx context.Context) ([]OutOfStockReport, error)
	Acknowledge(ctx context.Context, sku string, actorID string) (OutOfStockReport, error)
}

// ReportService exports aggregated picklists.
type ReportService interface {
	ExportPicklist(ctx context.Context, status *OrderStatus) (PicklistExport, error)
}

// PicklistExport describes an exported picklist object.
type PicklistExport struct {
	ID          string
	Bucket      string
	Object      string
	Groups      int
	GeneratedAt time.Time
	// DownloadURL is a signed link, empty when URL signing is not configured.
	DownloadURL  string
	URLExpiresAt *time.Time
}

// SystemService exposes operational metadata such as health.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEvent is emitted after a committed status change.
type OrderEvent struct {
	ID         string
	Type       string
	SKU        string
	OrderIDs   []string
	Quantity   int
	From       OrderStatus
	To         OrderStatus
	ActorID    string
	OccurredAt time.Time
}

// OrderEventPublisher delivers order events to other operator sessions.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// AllocationMetrics records allocation and ingestion outcomes. observability.Metrics satisfies it.
type AllocationMetrics interface {
	ObserveAllocation(target, outcome string, quantity int, latency time.Duration)
	AddIngested(platform string, n int)
}
