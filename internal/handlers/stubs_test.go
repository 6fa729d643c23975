package handlers

import (
	"context"
	"net/http"

	"github.com/mittalrahul074/picklist/internal/platform/requestctx"
	"github.com/mittalrahul074/picklist/internal/services"
)

type stubAllocationService struct {
	allocateFunc   func(ctx context.Context, cmd services.AllocateCommand) (services.AllocationResult, error)
	transitionFunc func(ctx context.Context, cmd services.TransitionOrderCommand) (services.Order, error)
}

func (s *stubAllocationService) Allocate(ctx context.Context, cmd services.AllocateCommand) (services.AllocationResult, error) {
	if s.allocateFunc == nil {
		return services.AllocationResult{}, nil
	}
	return s.allocateFunc(ctx, cmd)
}

func (s *stubAllocationService) TransitionOrder(ctx context.Context, cmd services.TransitionOrderCommand) (services.Order, error) {
	if s.transitionFunc == nil {
		return services.Order{}, nil
	}
	return s.transitionFunc(ctx, cmd)
}

type stubOrderQueryService struct {
	listFunc   func(ctx context.Context, filter services.OrderListFilter) ([]services.Order, error)
	getFunc    func(ctx context.Context, orderID string) (services.Order, error)
	countsFunc func(ctx context.Context, filter services.OrderListFilter) (map[services.OrderStatus]int, error)
}

func (s *stubOrderQueryService) List(ctx context.Context, filter services.OrderListFilter) ([]services.Order, error) {
	if s.listFunc == nil {
		return nil, nil
	}
	return s.listFunc(ctx, filter)
}

func (s *stubOrderQueryService) Get(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFunc == nil {
		return services.Order{}, services.ErrOrderNotFound
	}
	return s.getFunc(ctx, orderID)
}

func (s *stubOrderQueryService) Counts(ctx context.Context, filter services.OrderListFilter) (map[services.OrderStatus]int, error) {
	if s.countsFunc == nil {
		return map[services.OrderStatus]int{}, nil
	}
	return s.countsFunc(ctx, filter)
}

type stubIngestionService struct {
	ingestFunc func(ctx context.Context, rows []services.OrderInput, platform string) (int, error)
}

func (s *stubIngestionService) Ingest(ctx context.Context, rows []services.OrderInput, platform string) (int, error) {
	return s.ingestFunc(ctx, rows, platform)
}

type stubOutOfStockService struct {
	reportFunc func(ctx context.Context, sku, actorID string) (services.OutOfStockReport, error)
	listFunc   func(ctx context.Context) ([]services.OutOfStockReport, error)
	ackFunc    func(ctx context.Context, sku, actorID string) (services.OutOfStockReport, error)
}

func (s *stubOutOfStockService) Report(ctx context.Context, sku, actorID string) (services.OutOfStockReport, error) {
	return s.reportFunc(ctx, sku, actorID)
}

func (s *stubOutOfStockService) ListPending(ctx context.Context) ([]services.OutOfStockReport, error) {
	return s.listFunc(ctx)
}

func (s *stubOutOfStockService) Acknowledge(ctx context.Context, sku, actorID string) (services.OutOfStockReport, error) {
	return s.ackFunc(ctx, sku, actorID)
}

type stubReportService struct {
	exportFunc func(ctx context.Context, status *services.OrderStatus) (services.PicklistExport, error)
}

func (s *stubReportService) ExportPicklist(ctx context.Context, status *services.OrderStatus) (services.PicklistExport, error) {
	return s.exportFunc(ctx, status)
}

type stubSnapshot struct {
	orders      []services.Order
	err         error
	invalidated int
}

func (s *stubSnapshot) Orders(context.Context) ([]services.Order, error) {
	return s.orders, s.err
}

func (s *stubSnapshot) Invalidate() {
	s.invalidated++
}

func asActor(req *http.Request, actor string) *http.Request {
	return req.WithContext(requestctx.WithActor(req.Context(), actor))
}

var (
	_ services.AllocationService = (*stubAllocationService)(nil)
	_ services.OrderQueryService = (*stubOrderQueryService)(nil)
	_ services.IngestionService  = (*stubIngestionService)(nil)
	_ services.OutOfStockService = (*stubOutOfStockService)(nil)
	_ services.ReportService     = (*stubReportService)(nil)
	_ OrderSnapshot              = (*stubSnapshot)(nil)
)
