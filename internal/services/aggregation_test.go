package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/mittalrahul074/picklist/internal/domain"
)

func dated(order Order, y int, m time.Month, d int) Order {
	day := time.Date(y, m, d, 15, 0, 0, 0, time.UTC)
	order.DispatchDate = &day
	return order
}

func TestAggregateGroupsBySKU(t *testing.T) {
	orders := []Order{
		dated(newOrder("1", "B", 2, domain.StatusNew, 0), 2025, 3, 6),
		dated(newOrder("2", "B", 1, domain.StatusNew, 0), 2025, 3, 5),
		dated(newOrder("3", "B", 3, domain.StatusNew, 0), 2025, 3, 6),
		newOrder("4", "B", 4, domain.StatusNew, 0),
		dated(newOrder("5", "A", 1, domain.StatusPicked, 0), 2025, 3, 5),
	}

	groups := Aggregate(orders, nil)
	require.Len(t, groups, 2)
	require.Equal(t, "A", groups[0].SKU)

	b := groups[1]
	require.Equal(t, "B", b.SKU)
	require.Equal(t, 10, b.TotalQuantity)
	require.Equal(t, 4, b.OrderCount)
	require.Equal(t, 4, b.UndatedQuantity)
	require.Equal(t, []DispatchQuantity{
		{Date: time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC), Quantity: 1},
		{Date: time.Date(2025, 3, 6, 0, 0, 0, 0, time.UTC), Quantity: 5},
	}, b.DispatchBreakdown)
}

func TestAggregateAppliesStatusFilter(t *testing.T) {
	orders := []Order{
		newOrder("1", "A", 2, domain.StatusNew, 0),
		newOrder("2", "A", 1, domain.StatusPicked, 0),
		newOrder("3", "C", 1, domain.StatusPicked, 0),
	}
	picked := domain.StatusPicked

	groups := Aggregate(orders, &picked)
	require.Len(t, groups, 2)
	require.Equal(t, 1, groups[0].TotalQuantity)
	require.Equal(t, 1, groups[0].OrderCount)
	require.Empty(t, groups[0].DispatchBreakdown)
	require.NotNil(t, groups[0].DispatchBreakdown)
}

func TestAggregateCountsDistinctOrders(t *testing.T) {
	orders := []Order{
		newOrder("1", "A", 2, domain.StatusNew, 0),
		newOrder("1", "A", 2, domain.StatusNew, 0),
	}
	groups := Aggregate(orders, nil)
	require.Equal(t, 1, groups[0].OrderCount)
	require.Equal(t, 4, groups[0].TotalQuantity)
}

func TestAggregateEmpty(t *testing.T) {
	groups := Aggregate(nil, nil)
	require.NotNil(t, groups)
	require.Empty(t, groups)
}

func TestCountByStatus(t *testing.T) {
	counts := CountByStatus([]Order{
		newOrder("1", "A", 1, domain.StatusPicked, 0),
		newOrder("2", "A", 1, domain.StatusPicked, 0),
		newOrder("3", "A", 1, domain.StatusWrong, 0),
	})
	require.Equal(t, map[OrderStatus]int{
		domain.StatusNew:       0,
		domain.StatusPicked:    2,
		domain.StatusValidated: 0,
		domain.StatusWrong:     1,
	}, counts)
}

func TestFilterByPlatform(t *testing.T) {
	a := newOrder("1", "A", 1, domain.StatusNew, 0)
	a.Platform = "Meesho"
	b := newOrder("2", "A", 1, domain.StatusNew, 0)
	b.Platform = "Flipkart"
	orders := []Order{a, b}

	require.Len(t, FilterByPlatform(orders, ""), 2)
	require.Len(t, FilterByPlatform(orders, "ALL"), 2)
	filtered := FilterByPlatform(orders, "meesho")
	require.Len(t, filtered, 1)
	require.Equal(t, "1", filtered[0].ID)
}
