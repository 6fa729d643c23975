package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/mittalrahul074/picklist/internal/domain"
	"github.com/mittalrahul074/picklist/internal/repositories"
	"github.com/mittalrahul074/picklist/internal/repositories/memory"
)

var fixtureNow = time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixtureNow }

func newOrder(id, sku string, qty int, status OrderStatus, offset time.Duration) Order {
	return Order{
		ID:        id,
		SKU:       sku,
		Quantity:  qty,
		Status:    status,
		Platform:  "meesho",
		CreatedAt: fixtureNow.Add(offset),
		UpdatedAt: fixtureNow.Add(offset),
	}
}

func seededRepo(t *testing.T, orders ...Order) *memory.OrderRepository {
	t.Helper()
	repo := memory.NewOrderRepository()
	created, err := repo.InsertBatch(context.Background(), orders)
	require.NoError(t, err)
	require.Equal(t, len(orders), created)
	return repo
}

func statusOf(t *testing.T, repo repositories.OrderRepository, id string) Order {
	t.Helper()
	order, err := repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return order
}

// countingRepository records every store call so tests can assert nothing was touched.
type countingRepository struct {
	repositories.OrderRepository
	mu    sync.Mutex
	calls int
}

func (c *countingRepository) touch() {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func (c *countingRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repositories.OrderTx) error) error {
	c.touch()
	return c.OrderRepository.RunInTx(ctx, fn)
}

func (c *countingRepository) InsertBatch(ctx context.Context, orders []domain.Order) (int, error) {
	c.touch()
	return c.OrderRepository.InsertBatch(ctx, orders)
}

func (c *countingRepository) Exists(ctx context.Context, orderID string) (bool, error) {
	c.touch()
	return c.OrderRepository.Exists(ctx, orderID)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Events() []OrderEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]OrderEvent(nil), p.events...)
}

type allocationObservation struct {
	target   string
	outcome  string
	quantity int
}

type recordingMetrics struct {
	mu          sync.Mutex
	allocations []allocationObservation
	ingested    map[string]int
}

func (m *recordingMetrics) ObserveAllocation(target, outcome string, quantity int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocations = append(m.allocations, allocationObservation{target: target, outcome: outcome, quantity: quantity})
}

func (m *recordingMetrics) AddIngested(platform string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ingested == nil {
		m.ingested = make(map[string]int)
	}
	m.ingested[platform] += n
}
