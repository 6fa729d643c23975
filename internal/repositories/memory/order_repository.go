// Package memory provides in-process store implementations for local runs and tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	domain "github.com/mittalrahul074/picklist/internal/domain"
	"github.com/mittalrahul074/picklist/internal/repositories"
)

const defaultMaxBatchSize = 500

// OrderRepository keeps orders in a map. Transactions are serialised by a single mutex and staged
// so a failing transaction function leaves no trace.
type OrderRepository struct {
	mu           sync.Mutex
	orders       map[string]domain.Order
	maxBatchSize int
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// Option customises the memory repository.
type Option func(*OrderRepository)

// WithMaxBatchSize overrides the ingestion batch cap.
func WithMaxBatchSize(size int) Option {
	return func(r *OrderRepository) {
		if size > 0 {
			r.maxBatchSize = size
		}
	}
}

// NewOrderRepository constructs an empty repository.
func NewOrderRepository(opts ...Option) *OrderRepository {
	repo := &OrderRepository{
		orders:       make(map[string]domain.Order),
		maxBatchSize: defaultMaxBatchSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo
}

// MaxBatchSize implements repositories.OrderRepository.
func (r *OrderRepository) MaxBatchSize() int {
	return r.maxBatchSize
}

// RunInTx implements repositories.OrderRepository.
func (r *OrderRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repositories.OrderTx) error) error {
	if fn == nil {
		return errors.New("memory: transaction function is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &orderTx{repo: r, staged: make(map[string]domain.Order)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	// A deadline that passed while fn ran aborts the commit.
	if err := ctx.Err(); err != nil {
		return err
	}
	for id, order := range tx.staged {
		r.orders[id] = order
	}
	return nil
}

// InsertBatch implements repositories.OrderRepository.
func (r *OrderRepository) InsertBatch(ctx context.Context, orders []domain.Order) (int, error) {
	if len(orders) > r.maxBatchSize {
		return 0, repositories.NewStoreError("memory.orders.insert_batch", errors.New("batch exceeds max size"))
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	created := 0
	for _, order := range orders {
		if _, exists := r.orders[order.ID]; exists {
			continue
		}
		r.orders[order.ID] = cloneOrder(order)
		created++
	}
	return created, nil
}

// Exists implements repositories.OrderRepository.
func (r *OrderRepository) Exists(ctx context.Context, orderID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.orders[orderID]
	return ok, nil
}

// FindByID implements repositories.OrderRepository.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("memory.orders.find", "order "+orderID+" not found")
	}
	return cloneOrder(order), nil
}

// List implements repositories.OrderRepository.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if matches(order, filter) {
			out = append(out, cloneOrder(order))
		}
	}
	sortFIFO(out)
	return out, nil
}

type orderTx struct {
	repo   *OrderRepository
	staged map[string]domain.Order
}

func (t *orderTx) lookup(id string) (domain.Order, bool) {
	if order, ok := t.staged[id]; ok {
		return order, true
	}
	order, ok := t.repo.orders[id]
	return order, ok
}

func (t *orderTx) ListCandidates(ctx context.Context, sku string, status domain.OrderStatus) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.Order
	for id := range t.repo.orders {
		order, _ := t.lookup(id)
		if order.SKU == sku && order.Status == status {
			out = append(out, cloneOrder(order))
		}
	}
	sortFIFO(out)
	return out, nil
}

func (t *orderTx) Get(ctx context.Context, orderID string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	order, ok := t.lookup(orderID)
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("memory.orders.tx_get", "order "+orderID+" not found")
	}
	return cloneOrder(order), nil
}

func (t *orderTx) ApplyTransition(ctx context.Context, update repositories.OrderTransitionUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	order, ok := t.lookup(update.OrderID)
	if !ok {
		return repositories.NewNotFoundError("memory.orders.apply", "order "+update.OrderID+" not found")
	}
	if order.Status != update.From {
		return repositories.NewConflictError("memory.orders.apply", "order "+update.OrderID+" is "+string(order.Status), nil)
	}
	domain.Transition{From: update.From, To: update.To, Set: update.Set, Clear: update.Clear}.Apply(&order, update.ActorID, update.UpdatedAt)
	t.staged[update.OrderID] = order
	return nil
}

func matches(order domain.Order, filter repositories.OrderListFilter) bool {
	if filter.Status != nil && order.Status != *filter.Status {
		return false
	}
	if filter.SKU != "" && order.SKU != filter.SKU {
		return false
	}
	if filter.Platform != "" && !strings.EqualFold(order.Platform, filter.Platform) {
		return false
	}
	if filter.CreatedAfter != nil && order.CreatedAt.Before(*filter.CreatedAfter) {
		return false
	}
	return true
}

func sortFIFO(orders []domain.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
}

func cloneOrder(order domain.Order) domain.Order {
	if order.DispatchDate != nil {
		date := *order.DispatchDate
		order.DispatchDate = &date
	}
	return order
}
