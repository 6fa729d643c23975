package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/mittalrahul074/picklist/internal/domain"
	"github.com/mittalrahul074/picklist/internal/platform/httpx"
	"github.com/mittalrahul074/picklist/internal/services"
)

const maxAllocationBodySize = 4 * 1024

// OrderSnapshot is the cached order view shared by read endpoints. Mutating handlers invalidate it.
type OrderSnapshot interface {
	Orders(ctx context.Context) ([]services.Order, error)
	Invalidate()
}

// SKUHandlers serves the per-SKU aggregate and the allocation endpoint.
type SKUHandlers struct {
	allocations services.AllocationService
	snapshot    OrderSnapshot
	limiter     rateLimiter
}

// SKUOption customises SKUHandlers.
type SKUOption func(*SKUHandlers)

// WithAllocationRateLimit caps allocations per operator and SKU at limit per window.
func WithAllocationRateLimit(limit int, window time.Duration, clock func() time.Time) SKUOption {
	return func(h *SKUHandlers) {
		h.limiter = newAllocationLimiter(limit, window, clock)
	}
}

// NewSKUHandlers constructs SKU handlers.
func NewSKUHandlers(allocations services.AllocationService, snapshot OrderSnapshot, opts ...SKUOption) *SKUHandlers {
	h := &SKUHandlers{allocations: allocations, snapshot: snapshot}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /skus endpoints onto the provided router.
func (h *SKUHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listGroups)
	r.Post("/{sku}/allocations", h.allocate)
}

type allocationRequest struct {
	Quantity int    `json:"quantity"`
	Target   string `json:"target"`
}

type allocationResponse struct {
	SKU          string   `json:"sku"`
	ProcessedQty int      `json:"processedQty"`
	OrderIDs     []string `json:"orderIds"`
	Source       string   `json:"source"`
	Target       string   `json:"target"`
}

func (h *SKUHandlers) allocate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.allocations == nil {
		serviceUnavailable(ctx, w, "allocation")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	sku := domain.NormalizeSKU(chi.URLParam(r, "sku"))
	if h.limiter != nil && !h.limiter.Allow(actor, sku) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many allocation requests", http.StatusTooManyRequests))
		return
	}

	var req allocationRequest
	if err := httpx.DecodeJSON(w, r, maxAllocationBodySize, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	// Unknown targets are rejected by the engine as invalid transitions.
	target := services.OrderStatus(strings.ToLower(strings.TrimSpace(req.Target)))

	result, err := h.allocations.Allocate(ctx, services.AllocateCommand{
		SKU:      sku,
		Quantity: req.Quantity,
		Target:   target,
		ActorID:  actor,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if result.Insufficient() {
		// The caller likely acted on a stale view.
		if h.snapshot != nil {
			h.snapshot.Invalidate()
		}
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_quantity", "not enough matching units to cover the request exactly", http.StatusConflict).
			WithDetails(map[string]any{"processedQty": services.InsufficientQuantity, "sku": sku}))
		return
	}
	if h.snapshot != nil {
		h.snapshot.Invalidate()
	}

	ids := result.OrderIDs
	if ids == nil {
		ids = []string{}
	}
	httpx.WriteJSON(w, http.StatusOK, allocationResponse{
		SKU:          sku,
		ProcessedQty: result.ProcessedQty,
		OrderIDs:     ids,
		Source:       string(result.Source),
		Target:       string(result.Target),
	})
}

func (h *SKUHandlers) listGroups(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.snapshot == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}

	var status *services.OrderStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, err := domain.ParseOrderStatus(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		status = &parsed
	}

	orders, err := h.snapshot.Orders(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	orders = services.FilterByPlatform(orders, r.URL.Query().Get("platform"))
	groups := services.Aggregate(orders, status)

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"groups": buildSkuGroupPayloads(groups),
	})
}
