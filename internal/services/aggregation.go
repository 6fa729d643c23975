package services

import (
	"sort"
	"strings"
	"time"

	domain "github.com/mittalrahul074/picklist/internal/domain"
)

// Aggregate groups orders by SKU. When statusFilter is set only orders in that status are counted.
// Orders without a dispatch date count towards the totals and UndatedQuantity but not towards
// DispatchBreakdown. Groups are sorted by SKU.
func Aggregate(orders []Order, statusFilter *OrderStatus) []SkuGroup {
	type accumulator struct {
		group    SkuGroup
		ids      map[string]struct{}
		byDate   map[time.Time]int
		dateKeys []time.Time
	}

	bySKU := make(map[string]*accumulator)
	for _, order := range orders {
		if statusFilter != nil && order.Status != *statusFilter {
			continue
		}
		acc, ok := bySKU[order.SKU]
		if !ok {
			acc = &accumulator{
				group:  SkuGroup{SKU: order.SKU},
				ids:    make(map[string]struct{}),
				byDate: make(map[time.Time]int),
			}
			bySKU[order.SKU] = acc
		}

		acc.group.TotalQuantity += order.Quantity
		if _, seen := acc.ids[order.ID]; !seen {
			acc.ids[order.ID] = struct{}{}
			acc.group.OrderCount++
		}

		if order.DispatchDate == nil {
			acc.group.UndatedQuantity += order.Quantity
			continue
		}
		day := civilDate(*order.DispatchDate)
		if _, seen := acc.byDate[day]; !seen {
			acc.dateKeys = append(acc.dateKeys, day)
		}
		acc.byDate[day] += order.Quantity
	}

	groups := make([]SkuGroup, 0, len(bySKU))
	for _, acc := range bySKU {
		sort.Slice(acc.dateKeys, func(i, j int) bool { return acc.dateKeys[i].Before(acc.dateKeys[j]) })
		breakdown := make([]DispatchQuantity, 0, len(acc.dateKeys))
		for _, day := range acc.dateKeys {
			breakdown = append(breakdown, DispatchQuantity{Date: day, Quantity: acc.byDate[day]})
		}
		acc.group.DispatchBreakdown = breakdown
		groups = append(groups, acc.group)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].SKU < groups[j].SKU })
	return groups
}

// CountByStatus counts orders per status. The new, picked and validated keys are always present.
func CountByStatus(orders []Order) map[OrderStatus]int {
	counts := map[OrderStatus]int{
		domain.StatusNew:       0,
		domain.StatusPicked:    0,
		domain.StatusValidated: 0,
	}
	for _, order := range orders {
		counts[order.Status]++
	}
	return counts
}

// FilterByPlatform keeps orders from platform, ignoring case. An empty platform or "all" keeps everything.
func FilterByPlatform(orders []Order, platform string) []Order {
	platform = strings.TrimSpace(platform)
	if platform == "" || strings.EqualFold(platform, "all") {
		return orders
	}
	out := make([]Order, 0, len(orders))
	for _, order := range orders {
		if strings.EqualFold(order.Platform, platform) {
			out = append(out, order)
		}
	}
	return out
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
