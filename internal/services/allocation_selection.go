package services

// selectOrders picks candidates whose quantities sum exactly to requested. Candidates must be in
// FIFO order. Multi-unit orders are considered before single-unit ones and an order is taken whole
// when it still fits in the remainder. The walk is greedy, so some exact combinations are missed.
// ok is false when the candidates cannot cover requested under that rule.
func selectOrders(candidates []Order, requested int) (selected []Order, ok bool) {
	if requested < 1 {
		return nil, false
	}

	var high, low []Order
	available := 0
	for _, order := range candidates {
		available += order.Quantity
		if order.Quantity > 1 {
			high = append(high, order)
		} else {
			low = append(low, order)
		}
	}
	if available < requested {
		return nil, false
	}

	remaining := requested
	for _, pool := range [][]Order{high, low} {
		for _, order := range pool {
			if remaining == 0 {
				break
			}
			if order.Quantity <= remaining {
				selected = append(selected, order)
				remaining -= order.Quantity
			}
		}
	}
	if remaining != 0 {
		return nil, false
	}
	return selected, true
}
