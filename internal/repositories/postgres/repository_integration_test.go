//go:build integration

package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	domain "github.com/mittalrahul074/picklist/internal/domain"
	"github.com/mittalrahul074/picklist/internal/platform/config"
	ppostgres "github.com/mittalrahul074/picklist/internal/platform/postgres"
	"github.com/mittalrahul074/picklist/internal/platform/retry"
	"github.com/mittalrahul074/picklist/internal/repositories"
)

type RepositorySuite struct {
	suite.Suite
	db     *ppostgres.DB
	orders *OrderRepository
	oos    *OutOfStockRepository
}

func TestRepositorySuite(t *testing.T) {
	dsn := os.Getenv("PICKLIST_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PICKLIST_TEST_POSTGRES_DSN not set")
	}
	suite.Run(t, &RepositorySuite{})
}

func (s *RepositorySuite) SetupSuite() {
	ctx := context.Background()
	db, err := ppostgres.Open(ctx, config.PostgresConfig{DSN: os.Getenv("PICKLIST_TEST_POSTGRES_DSN"), MaxConns: 8})
	s.Require().NoError(err)
	s.Require().NoError(db.Migrate(ctx))
	s.db = db

	policy := retry.Policy{MaxAttempts: 20, InitialBackoff: 5 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}
	s.orders, err = NewOrderRepository(db, policy)
	s.Require().NoError(err)
	s.oos, err = NewOutOfStockRepository(db, policy)
	s.Require().NoError(err)
}

func (s *RepositorySuite) SetupTest() {
	_, err := s.db.Pool.Exec(context.Background(), "TRUNCATE orders, out_of_stock")
	s.Require().NoError(err)
}

func (s *RepositorySuite) TearDownSuite() {
	_ = s.db.Close(context.Background())
}

func (s *RepositorySuite) TestInsertAndTransition() {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	created, err := s.orders.InsertBatch(ctx, []domain.Order{
		{ID: "o-2", SKU: "TEE", Quantity: 2, Status: domain.StatusNew, Platform: "meesho", CreatedAt: base.Add(time.Minute), UpdatedAt: base},
		{ID: "o-1", SKU: "TEE", Quantity: 1, Status: domain.StatusNew, Platform: "Meesho", CreatedAt: base, UpdatedAt: base},
	})
	s.Require().NoError(err)
	s.Require().Equal(2, created)

	created, err = s.orders.InsertBatch(ctx, []domain.Order{{ID: "o-1", SKU: "TEE", Quantity: 5, Status: domain.StatusNew, CreatedAt: base, UpdatedAt: base}})
	s.Require().NoError(err)
	s.Require().Zero(created)

	pick, err := domain.SourceFor(domain.StatusPicked)
	s.Require().NoError(err)
	err = s.orders.RunInTx(ctx, func(ctx context.Context, tx repositories.OrderTx) error {
		candidates, err := tx.ListCandidates(ctx, "TEE", domain.StatusNew)
		if err != nil {
			return err
		}
		s.Require().Len(candidates, 2)
		s.Require().Equal("o-1", candidates[0].ID)
		return tx.ApplyTransition(ctx, repositories.NewTransitionUpdate("o-1", pick, "p1", base.Add(time.Hour)))
	})
	s.Require().NoError(err)

	order, err := s.orders.FindByID(ctx, "o-1")
	s.Require().NoError(err)
	s.Require().Equal(domain.StatusPicked, order.Status)
	s.Require().Equal("p1", order.PickedBy)

	listed, err := s.orders.List(ctx, repositories.OrderListFilter{Platform: "MEESHO"})
	s.Require().NoError(err)
	s.Require().Len(listed, 2)

	_, err = s.orders.FindByID(ctx, "missing")
	repoErr, ok := repositories.Classify(err)
	s.Require().True(ok)
	s.Require().True(repoErr.IsNotFound())
}

func (s *RepositorySuite) TestConcurrentClaimsDoNotOverlap() {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	_, err := s.orders.InsertBatch(ctx, []domain.Order{{ID: "c-1", SKU: "MUG", Quantity: 1, Status: domain.StatusNew, CreatedAt: base, UpdatedAt: base}})
	s.Require().NoError(err)

	pick, err := domain.SourceFor(domain.StatusPicked)
	s.Require().NoError(err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var won bool
			err := s.orders.RunInTx(ctx, func(ctx context.Context, tx repositories.OrderTx) error {
				won = false
				candidates, err := tx.ListCandidates(ctx, "MUG", domain.StatusNew)
				if err != nil || len(candidates) == 0 {
					return err
				}
				won = true
				return tx.ApplyTransition(ctx, repositories.NewTransitionUpdate(candidates[0].ID, pick, "p", time.Now()))
			})
			if err == nil && won {
				mu.Lock()
				claimed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Require().Equal(1, claimed)
}

func (s *RepositorySuite) TestOutOfStockAcknowledge() {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s.Require().NoError(s.oos.Upsert(ctx, domain.OutOfStockReport{SKU: "BAG", Status: domain.OutOfStockPending, ReportedBy: "p1", ReportedAt: now}))

	acked, err := s.oos.Acknowledge(ctx, "BAG", "admin", now.Add(time.Hour))
	s.Require().NoError(err)
	s.Require().Equal(domain.OutOfStockAcknowledged, acked.Status)

	_, err = s.oos.Acknowledge(ctx, "BAG", "admin", now)
	repoErr, ok := repositories.Classify(err)
	s.Require().True(ok)
	s.Require().True(repoErr.IsConflict())

	pending, err := s.oos.ListByStatus(ctx, domain.OutOfStockPending)
	s.Require().NoError(err)
	s.Require().Empty(pending)
}
