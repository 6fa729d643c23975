package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	domain "github.com/mittalrahul074/picklist/internal/domain"
	"github.com/mittalrahul074/picklist/internal/platform/observability"
	"github.com/mittalrahul074/picklist/internal/repositories"
	"github.com/mittalrahul074/picklist/internal/repositories/memory"
)

func newAllocationServiceForTest(t *testing.T, repo repositories.OrderRepository, events OrderEventPublisher, metrics AllocationMetrics) AllocationService {
	t.Helper()
	svc, err := NewAllocationService(AllocationServiceDeps{
		Orders:      repo,
		Events:      events,
		Metrics:     metrics,
		Clock:       fixedClock,
		IDGenerator: func() string { return "evt-1" },
	})
	require.NoError(t, err)
	return svc
}

func TestSelectOrders(t *testing.T) {
	orders := func(qtys ...int) []Order {
		out := make([]Order, len(qtys))
		for i, q := range qtys {
			out[i] = Order{ID: string(rune('a' + i)), Quantity: q}
		}
		return out
	}
	ids := func(selected []Order) []string {
		out := make([]string, 0, len(selected))
		for _, o := range selected {
			out = append(out, o.ID)
		}
		return out
	}

	cases := []struct {
		name      string
		qtys      []int
		requested int
		want      []string
		ok        bool
	}{
		{name: "multi unit first", qtys: []int{3, 1, 2}, requested: 5, want: []string{"a", "c"}, ok: true},
		{name: "fills with singles", qtys: []int{3, 1, 2}, requested: 4, want: []string{"a", "b"}, ok: true},
		{name: "exact total", qtys: []int{3, 1, 2}, requested: 6, want: []string{"a", "c", "b"}, ok: true},
		{name: "fifo among singles", qtys: []int{1, 1, 1}, requested: 2, want: []string{"a", "b"}, ok: true},
		{name: "not enough units", qtys: []int{2, 1}, requested: 4, ok: false},
		{name: "greedy gap", qtys: []int{3, 3, 2, 2}, requested: 4, ok: false},
		{name: "no candidates", qtys: nil, requested: 1, ok: false},
		{name: "zero request", qtys: []int{1}, requested: 0, ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			selected, ok := selectOrders(orders(tc.qtys...), tc.requested)
			require.Equal(t, tc.ok, ok)
			if !tc.ok {
				require.Empty(t, selected)
				return
			}
			require.Equal(t, tc.want, ids(selected))
		})
	}
}

func TestAllocatePicksExactQuantityInFIFOOrder(t *testing.T) {
	repo := seededRepo(t,
		newOrder("1", "ABC", 3, domain.StatusNew, 0),
		newOrder("2", "ABC", 1, domain.StatusNew, time.Minute),
		newOrder("3", "ABC", 2, domain.StatusNew, 2*time.Minute),
		newOrder("4", "XYZ", 5, domain.StatusNew, 0),
	)
	events := &recordingPublisher{}
	metrics := &recordingMetrics{}
	svc := newAllocationServiceForTest(t, repo, events, metrics)

	result, err := svc.Allocate(context.Background(), AllocateCommand{SKU: " abc ", Quantity: 5, Target: domain.StatusPicked, ActorID: "alice"})
	require.NoError(t, err)
	require.Equal(t, 5, result.ProcessedQty)
	require.Equal(t, []string{"1", "3"}, result.OrderIDs)
	require.Equal(t, domain.StatusNew, result.Source)
	require.False(t, result.Insufficient())

	for _, id := range []string{"1", "3"} {
		order := statusOf(t, repo, id)
		require.Equal(t, domain.StatusPicked, order.Status)
		require.Equal(t, "alice", order.PickedBy)
		require.Equal(t, fixtureNow, order.UpdatedAt)
	}
	require.Equal(t, domain.StatusNew, statusOf(t, repo, "2").Status)
	require.Equal(t, domain.StatusNew, statusOf(t, repo, "4").Status)

	published := events.Events()
	require.Len(t, published, 1)
	require.Equal(t, eventOrdersAllocated, published[0].Type)
	require.Equal(t, "evt-1", published[0].ID)
	require.Equal(t, "ABC", published[0].SKU)
	require.Equal(t, []string{"1", "3"}, published[0].OrderIDs)

	require.Equal(t, []allocationObservation{{target: "picked", outcome: observability.OutcomeAllocated, quantity: 5}}, metrics.allocations)
}

func TestAllocateInsufficientLeavesOrdersUntouched(t *testing.T) {
	repo := seededRepo(t,
		newOrder("1", "ABC", 3, domain.StatusNew, 0),
		newOrder("2", "ABC", 3, domain.StatusNew, time.Minute),
		newOrder("3", "ABC", 2, domain.StatusNew, 2*time.Minute),
		newOrder("4", "ABC", 2, domain.StatusNew, 3*time.Minute),
	)
	events := &recordingPublisher{}
	metrics := &recordingMetrics{}
	svc := newAllocationServiceForTest(t, repo, events, metrics)

	for _, qty := range []int{4, 11} {
		result, err := svc.Allocate(context.Background(), AllocateCommand{SKU: "ABC", Quantity: qty, Target: domain.StatusPicked, ActorID: "alice"})
		require.NoError(t, err)
		require.True(t, result.Insufficient())
		require.Equal(t, InsufficientQuantity, result.ProcessedQty)
		require.Nil(t, result.OrderIDs)
	}

	for _, id := range []string{"1", "2", "3", "4"} {
		order := statusOf(t, repo, id)
		require.Equal(t, domain.StatusNew, order.Status)
		require.Empty(t, order.PickedBy)
	}
	require.Empty(t, events.Events())
	require.Len(t, metrics.allocations, 2)
	require.Equal(t, observability.OutcomeInsufficient, metrics.allocations[0].outcome)
}

func TestAllocateValidatesFromPicked(t *testing.T) {
	repo := seededRepo(t,
		newOrder("1", "ABC", 2, domain.StatusPicked, 0),
		newOrder("2", "ABC", 1, domain.StatusNew, time.Minute),
	)
	svc := newAllocationServiceForTest(t, repo, nil, nil)

	result, err := svc.Allocate(context.Background(), AllocateCommand{SKU: "ABC", Quantity: 2, Target: domain.StatusValidated, ActorID: "bob"})
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, result.OrderIDs)
	require.Equal(t, domain.StatusPicked, result.Source)

	order := statusOf(t, repo, "1")
	require.Equal(t, domain.StatusValidated, order.Status)
	require.Equal(t, "bob", order.ValidatedBy)

	result, err = svc.Allocate(context.Background(), AllocateCommand{SKU: "ABC", Quantity: 1, Target: domain.StatusValidated, ActorID: "bob"})
	require.NoError(t, err)
	require.True(t, result.Insufficient())
}

func TestAllocateRejectsBeforeTouchingStore(t *testing.T) {
	repo := &countingRepository{OrderRepository: memory.NewOrderRepository()}
	metrics := &recordingMetrics{}
	svc := newAllocationServiceForTest(t, repo, nil, metrics)

	cases := []struct {
		name string
		cmd  AllocateCommand
		want error
	}{
		{name: "return flag target", cmd: AllocateCommand{SKU: "ABC", Quantity: 1, Target: domain.StatusPendingReturn}, want: ErrInvalidTransition},
		{name: "cancel flag target", cmd: AllocateCommand{SKU: "ABC", Quantity: 1, Target: domain.StatusPendingCancel}, want: ErrInvalidTransition},
		{name: "unknown target", cmd: AllocateCommand{SKU: "ABC", Quantity: 1, Target: "shipped"}, want: ErrInvalidTransition},
		{name: "empty sku", cmd: AllocateCommand{SKU: "  ", Quantity: 1, Target: domain.StatusPicked}, want: ErrInvalidInput},
		{name: "zero quantity", cmd: AllocateCommand{SKU: "ABC", Quantity: 0, Target: domain.StatusPicked}, want: ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Allocate(context.Background(), tc.cmd)
			require.ErrorIs(t, err, tc.want)
		})
	}
	require.Zero(t, repo.calls)
}

func TestAllocateConcurrentClaimsNeverDoubleProcess(t *testing.T) {
	var orders []Order
	for i := 0; i < 10; i++ {
		orders = append(orders, newOrder(string(rune('a'+i)), "ABC", 1, domain.StatusNew, time.Duration(i)*time.Second))
	}
	repo := seededRepo(t, orders...)
	svc := newAllocationServiceForTest(t, repo, nil, nil)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = make(map[string]string)
		total   int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(actor string) {
			defer wg.Done()
			result, err := svc.Allocate(context.Background(), AllocateCommand{SKU: "ABC", Quantity: 2, Target: domain.StatusPicked, ActorID: actor})
			if err != nil || result.Insufficient() {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			total += result.ProcessedQty
			for _, id := range result.OrderIDs {
				if prev, dup := claimed[id]; dup {
					t.Errorf("order %s claimed by %s and %s", id, prev, actor)
				}
				claimed[id] = actor
			}
		}(string(rune('A' + w)))
	}
	wg.Wait()

	require.Equal(t, 10, total)
	require.Len(t, claimed, 10)
	for id, actor := range claimed {
		require.Equal(t, actor, statusOf(t, repo, id).PickedBy)
	}
}

func TestAllocateMapsExhaustedConflicts(t *testing.T) {
	repo := &failingTxRepository{
		OrderRepository: memory.NewOrderRepository(),
		err:             repositories.NewConflictError("tx", "contention", nil),
	}
	metrics := &recordingMetrics{}
	svc := newAllocationServiceForTest(t, repo, nil, metrics)

	_, err := svc.Allocate(context.Background(), AllocateCommand{SKU: "ABC", Quantity: 1, Target: domain.StatusPicked})
	require.ErrorIs(t, err, ErrTransactionAborted)
	require.Equal(t, observability.OutcomeFailed, metrics.allocations[0].outcome)

	repo.err = repositories.NewUnavailableError("tx", errors.New("dial"))
	_, err = svc.Allocate(context.Background(), AllocateCommand{SKU: "ABC", Quantity: 1, Target: domain.StatusPicked})
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestAllocatePublishFailureDoesNotFailAllocation(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	repo := seededRepo(t, newOrder("1", "ABC", 1, domain.StatusNew, 0))
	svc, err := NewAllocationService(AllocationServiceDeps{
		Orders: repo,
		Events: &recordingPublisher{err: errors.New("broker down")},
		Logger: zap.New(core),
		Clock:  fixedClock,
	})
	require.NoError(t, err)

	result, err := svc.Allocate(context.Background(), AllocateCommand{SKU: "ABC", Quantity: 1, Target: domain.StatusPicked, ActorID: "alice"})
	require.NoError(t, err)
	require.Equal(t, 1, result.ProcessedQty)
	require.Equal(t, domain.StatusPicked, statusOf(t, repo, "1").Status)
	require.Equal(t, 1, logs.FilterMessage("publish order event failed").Len())
}

func TestTransitionOrderRejectClearsPickedBy(t *testing.T) {
	order := newOrder("1", "ABC", 4, domain.StatusPicked, 0)
	order.PickedBy = "alice"
	repo := seededRepo(t, order)
	events := &recordingPublisher{}
	svc := newAllocationServiceForTest(t, repo, events, nil)

	updated, err := svc.TransitionOrder(context.Background(), TransitionOrderCommand{OrderID: "1", Target: domain.StatusNew, ActorID: "bob"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusNew, updated.Status)
	require.Empty(t, updated.PickedBy)
	require.Equal(t, 4, updated.Quantity)
	require.Equal(t, "ABC", updated.SKU)

	stored := statusOf(t, repo, "1")
	require.Equal(t, domain.StatusNew, stored.Status)
	require.Empty(t, stored.PickedBy)
	require.Equal(t, 4, stored.Quantity)

	published := events.Events()
	require.Len(t, published, 1)
	require.Equal(t, eventOrdersTransitioned, published[0].Type)
	require.Equal(t, domain.StatusPicked, published[0].From)
	require.Equal(t, domain.StatusNew, published[0].To)
}

func TestTransitionOrderRaisesFlag(t *testing.T) {
	repo := seededRepo(t, newOrder("1", "ABC", 1, domain.StatusValidated, 0))
	svc := newAllocationServiceForTest(t, repo, nil, nil)

	updated, err := svc.TransitionOrder(context.Background(), TransitionOrderCommand{OrderID: "1", Target: domain.StatusPendingReturn, ActorID: "feed"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPendingReturn, updated.Status)

	updated, err = svc.TransitionOrder(context.Background(), TransitionOrderCommand{OrderID: "1", Target: domain.StatusReturnAccepted, ActorID: "carol"})
	require.NoError(t, err)
	require.Equal(t, "carol", updated.AcceptedBy)
}

func TestTransitionOrderErrors(t *testing.T) {
	repo := seededRepo(t, newOrder("1", "ABC", 1, domain.StatusNew, 0))
	counting := &countingRepository{OrderRepository: repo}
	svc := newAllocationServiceForTest(t, counting, nil, nil)
	picked := domain.StatusPicked
	validated := domain.StatusValidated

	_, err := svc.TransitionOrder(context.Background(), TransitionOrderCommand{OrderID: "1", Target: "shipped"})
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.TransitionOrder(context.Background(), TransitionOrderCommand{OrderID: "1", Target: domain.StatusPicked, ExpectedStatus: &validated})
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.TransitionOrder(context.Background(), TransitionOrderCommand{Target: domain.StatusPicked})
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Zero(t, counting.calls)

	_, err = svc.TransitionOrder(context.Background(), TransitionOrderCommand{OrderID: "1", Target: domain.StatusValidated})
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.TransitionOrder(context.Background(), TransitionOrderCommand{OrderID: "missing", Target: domain.StatusPicked})
	require.ErrorIs(t, err, ErrOrderNotFound)

	_, err = svc.TransitionOrder(context.Background(), TransitionOrderCommand{OrderID: "1", Target: domain.StatusNew, ExpectedStatus: &picked})
	require.ErrorIs(t, err, ErrOrderConflict)
	require.Equal(t, domain.StatusNew, statusOf(t, repo, "1").Status)
}

type failingTxRepository struct {
	repositories.OrderRepository
	err error
}

func (f *failingTxRepository) RunInTx(context.Context, func(ctx context.Context, tx repositories.OrderTx) error) error {
	return f.err
}
