package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	domain "github.com/mittalrahul074/picklist/internal/domain"
	"github.com/mittalrahul074/picklist/internal/platform/observability"
	"github.com/mittalrahul074/picklist/internal/repositories"
)

const (
	eventOrdersAllocated    = "orders.allocated"
	eventOrdersTransitioned = "orders.transitioned"
)

var tracer = otel.Tracer("github.com/mittalrahul074/picklist/internal/services")

// AllocationServiceDeps bundles the collaborators required to construct an allocation service.
type AllocationServiceDeps struct {
	Orders      repositories.OrderRepository
	Events      OrderEventPublisher
	Metrics     AllocationMetrics
	Logger      *zap.Logger
	Clock       func() time.Time
	IDGenerator func() string
}

type allocationService struct {
	orders  repositories.OrderRepository
	events  OrderEventPublisher
	metrics AllocationMetrics
	logger  *zap.Logger
	clock   func() time.Time
	newID   func() string
}

var _ AllocationService = (*allocationService)(nil)

// NewAllocationService wires dependencies into a concrete AllocationService implementation.
func NewAllocationService(deps AllocationServiceDeps) (AllocationService, error) {
	if deps.Orders == nil {
		return nil, errors.New("allocation service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &allocationService{
		orders:  deps.Orders,
		events:  deps.Events,
		metrics: deps.Metrics,
		logger:  logger.Named("allocation"),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID: idGen,
	}, nil
}

func (s *allocationService) Allocate(ctx context.Context, cmd AllocateCommand) (AllocationResult, error) {
	started := time.Now()
	sku := domain.NormalizeSKU(cmd.SKU)
	actor := strings.TrimSpace(cmd.ActorID)

	if sku == "" {
		return AllocationResult{}, fmt.Errorf("%w: sku is required", ErrInvalidInput)
	}
	if cmd.Quantity < 1 {
		return AllocationResult{}, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidInput)
	}
	edge, err := domain.SourceFor(cmd.Target)
	if err != nil {
		s.observe(string(cmd.Target), observability.OutcomeRejected, 0, started)
		return AllocationResult{}, err
	}

	ctx, span := tracer.Start(ctx, "services.Allocate")
	defer span.End()
	span.SetAttributes(
		attribute.String("picklist.sku", sku),
		attribute.Int("picklist.quantity", cmd.Quantity),
		attribute.String("picklist.source", string(edge.From)),
		attribute.String("picklist.target", string(edge.To)),
	)

	var result AllocationResult
	err = s.orders.RunInTx(ctx, func(ctx context.Context, tx repositories.OrderTx) error {
		// The function may run several times; nothing from a failed attempt survives.
		result = AllocationResult{Source: edge.From, Target: edge.To}

		candidates, err := tx.ListCandidates(ctx, sku, edge.From)
		if err != nil {
			return err
		}
		selected, ok := selectOrders(candidates, cmd.Quantity)
		if !ok {
			result.ProcessedQty = InsufficientQuantity
			return nil
		}

		now := s.clock()
		ids := make([]string, 0, len(selected))
		for _, order := range selected {
			if err := tx.ApplyTransition(ctx, repositories.NewTransitionUpdate(order.ID, edge, actor, now)); err != nil {
				return err
			}
			ids = append(ids, order.ID)
		}
		result.ProcessedQty = cmd.Quantity
		result.OrderIDs = ids
		return nil
	})
	if err != nil {
		mapped := mapRepositoryError(err, nil)
		span.RecordError(mapped)
		span.SetStatus(codes.Error, "allocation failed")
		s.observe(string(edge.To), observability.OutcomeFailed, 0, started)
		s.logger.Error("allocation failed",
			zap.String("sku", sku),
			zap.Int("quantity", cmd.Quantity),
			zap.String("target", string(edge.To)),
			zap.Error(err),
		)
		return AllocationResult{}, mapped
	}

	if result.Insufficient() {
		span.SetAttributes(attribute.Bool("picklist.insufficient", true))
		s.observe(string(edge.To), observability.OutcomeInsufficient, 0, started)
		s.logger.Info("insufficient quantity",
			zap.String("sku", sku),
			zap.Int("quantity", cmd.Quantity),
			zap.String("source", string(edge.From)),
			zap.String("actor_id", actor),
		)
		return result, nil
	}

	s.observe(string(edge.To), observability.OutcomeAllocated, result.ProcessedQty, started)
	s.logger.Info("allocated",
		zap.String("sku", sku),
		zap.Int("quantity", result.ProcessedQty),
		zap.Strings("order_ids", result.OrderIDs),
		zap.String("target", string(edge.To)),
		zap.String("actor_id", actor),
	)
	s.publish(ctx, OrderEvent{
		Type:     eventOrdersAllocated,
		SKU:      sku,
		OrderIDs: result.OrderIDs,
		Quantity: result.ProcessedQty,
		From:     edge.From,
		To:       edge.To,
		ActorID:  actor,
	})
	return result, nil
}

func (s *allocationService) TransitionOrder(ctx context.Context, cmd TransitionOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	actor := strings.TrimSpace(cmd.ActorID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	if !hasEdgeInto(cmd.Target) {
		return Order{}, fmt.Errorf("%w: no transition into %q", ErrInvalidTransition, cmd.Target)
	}
	if cmd.ExpectedStatus != nil {
		if _, err := domain.LookupTransition(*cmd.ExpectedStatus, cmd.Target); err != nil {
			return Order{}, err
		}
	}

	ctx, span := tracer.Start(ctx, "services.TransitionOrder")
	defer span.End()
	span.SetAttributes(attribute.String("picklist.order_id", orderID), attribute.String("picklist.target", string(cmd.Target)))

	var updated Order
	var edge domain.Transition
	err := s.orders.RunInTx(ctx, func(ctx context.Context, tx repositories.OrderTx) error {
		current, err := tx.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if cmd.ExpectedStatus != nil && current.Status != *cmd.ExpectedStatus {
			return fmt.Errorf("%w: order %s is %s, expected %s", ErrOrderConflict, orderID, current.Status, *cmd.ExpectedStatus)
		}
		edge, err = domain.LookupTransition(current.Status, cmd.Target)
		if err != nil {
			return err
		}
		now := s.clock()
		if err := tx.ApplyTransition(ctx, repositories.NewTransitionUpdate(orderID, edge, actor, now)); err != nil {
			return err
		}
		edge.Apply(&current, actor, now)
		updated = current
		return nil
	})
	if err != nil {
		mapped := mapRepositoryError(err, ErrOrderNotFound)
		span.RecordError(mapped)
		if !errors.Is(mapped, ErrInvalidTransition) && !errors.Is(mapped, ErrOrderConflict) && !errors.Is(mapped, ErrOrderNotFound) {
			span.SetStatus(codes.Error, "transition failed")
			s.logger.Error("order transition failed", zap.String("order_id", orderID), zap.String("target", string(cmd.Target)), zap.Error(err))
		}
		return Order{}, mapped
	}

	s.logger.Info("order transitioned",
		zap.String("order_id", orderID),
		zap.String("from", string(edge.From)),
		zap.String("to", string(edge.To)),
		zap.String("actor_id", actor),
	)
	s.publish(ctx, OrderEvent{
		Type:     eventOrdersTransitioned,
		SKU:      updated.SKU,
		OrderIDs: []string{orderID},
		Quantity: updated.Quantity,
		From:     edge.From,
		To:       edge.To,
		ActorID:  actor,
	})
	return updated, nil
}

// publish is best effort: the status change is already committed.
func (s *allocationService) publish(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	event.ID = s.newID()
	event.OccurredAt = s.clock()
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger.Warn("publish order event failed", zap.String("event_type", event.Type), zap.Error(err))
	}
}

func (s *allocationService) observe(target, outcome string, quantity int, started time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveAllocation(target, outcome, quantity, time.Since(started))
}

func hasEdgeInto(target OrderStatus) bool {
	for _, t := range domain.Transitions() {
		if t.To == target {
			return true
		}
	}
	return false
}
