package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	domain "github.com/mittalrahul074/picklist/internal/domain"
	"github.com/mittalrahul074/picklist/internal/repositories"
)

const (
	defaultRecentWindow = 7 * 24 * time.Hour
	snapshotLoadTimeout = 30 * time.Second
)

// OrderQueryServiceDeps bundles the collaborators required to construct an order query service.
type OrderQueryServiceDeps struct {
	Orders repositories.OrderRepository
	// RecentWindow bounds List when the filter carries no creation bound.
	RecentWindow time.Duration
	Clock        func() time.Time
}

type orderQueryService struct {
	orders repositories.OrderRepository
	window time.Duration
	clock  func() time.Time
}

var _ OrderQueryService = (*orderQueryService)(nil)

// NewOrderQueryService wires dependencies into a concrete OrderQueryService implementation.
func NewOrderQueryService(deps OrderQueryServiceDeps) (OrderQueryService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order query service: order repository is required")
	}
	window := deps.RecentWindow
	if window <= 0 {
		window = defaultRecentWindow
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &orderQueryService{
		orders: deps.Orders,
		window: window,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (s *orderQueryService) List(ctx context.Context, filter OrderListFilter) ([]Order, error) {
	if filter.SKU != "" {
		filter.SKU = domain.NormalizeSKU(filter.SKU)
	}
	if strings.EqualFold(strings.TrimSpace(filter.Platform), "all") {
		filter.Platform = ""
	}
	if filter.CreatedAfter == nil {
		since := s.clock().Add(-s.window)
		filter.CreatedAfter = &since
	}
	orders, err := s.orders.List(ctx, filter)
	if err != nil {
		return nil, mapRepositoryError(err, nil)
	}
	if orders == nil {
		orders = []Order{}
	}
	return orders, nil
}

func (s *orderQueryService) Get(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	return order, nil
}

func (s *orderQueryService) Counts(ctx context.Context, filter OrderListFilter) (map[OrderStatus]int, error) {
	filter.Status = nil
	orders, err := s.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return CountByStatus(orders), nil
}

// OrderSnapshotCache is a caller-owned read-through view of recent orders. It is never consulted by
// the allocation engine. Callers invalidate it after every successful mutation and entries expire
// after the TTL regardless.
type OrderSnapshotCache struct {
	query OrderQueryService
	ttl   time.Duration
	clock func() time.Time

	group singleflight.Group

	mu       sync.RWMutex
	orders   []Order
	loadedAt time.Time
	valid    bool
	gen      uint64
}

// NewOrderSnapshotCache constructs a cache over query. A non-positive ttl disables caching.
func NewOrderSnapshotCache(query OrderQueryService, ttl time.Duration, clock func() time.Time) (*OrderSnapshotCache, error) {
	if query == nil {
		return nil, errors.New("order snapshot cache: query service is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &OrderSnapshotCache{query: query, ttl: ttl, clock: clock}, nil
}

// Orders returns a copy of the cached snapshot, loading it when missing or expired. The load is
// shared by concurrent callers and outlives any one of them giving up.
func (c *OrderSnapshotCache) Orders(ctx context.Context) ([]Order, error) {
	c.mu.RLock()
	if c.valid && c.ttl > 0 && c.clock().Sub(c.loadedAt) < c.ttl {
		orders := slices.Clone(c.orders)
		c.mu.RUnlock()
		return orders, nil
	}
	gen := c.gen
	c.mu.RUnlock()

	ch := c.group.DoChan(fmt.Sprintf("orders-%d", gen), func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotLoadTimeout)
		defer cancel()
		orders, err := c.query.List(loadCtx, OrderListFilter{})
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		// An Invalidate that raced with the load wins.
		if c.gen == gen {
			c.orders = orders
			c.loadedAt = c.clock()
			c.valid = true
		}
		c.mu.Unlock()
		return orders, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]Order)), nil
	}
}

// Invalidate drops the snapshot so the next read reloads it.
func (c *OrderSnapshotCache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.orders = nil
	c.gen++
	c.mu.Unlock()
}
