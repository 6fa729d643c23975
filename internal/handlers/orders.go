package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/mittalrahul074/picklist/internal/domain"
	"github.com/mittalrahul074/picklist/internal/platform/httpx"
	"github.com/mittalrahul074/picklist/internal/services"
)

const (
	maxTransitionBodySize = 4 * 1024
	maxIngestBodySize     = 8 << 20
)

// OrderHandlers serves order queries, single-order transitions and bulk ingestion.
type OrderHandlers struct {
	query       services.OrderQueryService
	allocations services.AllocationService
	ingestion   services.IngestionService
	snapshot    OrderSnapshot
	ingestGuard []func(http.Handler) http.Handler
}

// OrderOption customises OrderHandlers.
type OrderOption func(*OrderHandlers)

// WithIngestMiddleware guards only the bulk ingestion route, e.g. with signature verification.
func WithIngestMiddleware(mw ...func(http.Handler) http.Handler) OrderOption {
	return func(h *OrderHandlers) {
		for _, m := range mw {
			if m != nil {
				h.ingestGuard = append(h.ingestGuard, m)
			}
		}
	}
}

// NewOrderHandlers constructs order handlers. snapshot may be nil.
func NewOrderHandlers(query services.OrderQueryService, allocations services.AllocationService, ingestion services.IngestionService, snapshot OrderSnapshot, opts ...OrderOption) *OrderHandlers {
	h := &OrderHandlers{
		query:       query,
		allocations: allocations,
		ingestion:   ingestion,
		snapshot:    snapshot,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listOrders)
	r.With(h.ingestGuard...).Post("/", h.ingestOrders)
	r.Get("/counts", h.countOrders)
	r.Get("/{orderId}", h.getOrder)
	r.Post("/{orderId}/transitions", h.transitionOrder)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.query == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	filter, err := parseOrderFilter(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	orders, err := h.query.List(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"orders": buildOrderPayloads(orders),
	})
}

func (h *OrderHandlers) countOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.query == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	filter, err := parseOrderFilter(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	counts, err := h.query.Counts(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	out := make(map[string]int, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"counts": out})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.query == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	order, err := h.query.Get(ctx, chi.URLParam(r, "orderId"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

type transitionRequest struct {
	Target         string  `json:"target"`
	ExpectedStatus *string `json:"expectedStatus,omitempty"`
}

func (h *OrderHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.allocations == nil {
		serviceUnavailable(ctx, w, "allocation")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if err := httpx.DecodeJSON(w, r, maxTransitionBodySize, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	cmd := services.TransitionOrderCommand{
		OrderID: chi.URLParam(r, "orderId"),
		Target:  services.OrderStatus(strings.ToLower(strings.TrimSpace(req.Target))),
		ActorID: actor,
	}
	if req.ExpectedStatus != nil {
		expected, err := domain.ParseOrderStatus(*req.ExpectedStatus)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		cmd.ExpectedStatus = &expected
	}

	order, err := h.allocations.TransitionOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if h.snapshot != nil {
		h.snapshot.Invalidate()
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

type ingestRequest struct {
	Platform string                `json:"platform"`
	Rows     []services.OrderInput `json:"rows"`
}

func (h *OrderHandlers) ingestOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ingestion == nil {
		serviceUnavailable(ctx, w, "ingestion")
		return
	}
	if _, ok := requireActor(w, r); !ok {
		return
	}
	var req ingestRequest
	if err := httpx.DecodeJSON(w, r, maxIngestBodySize, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}

	inserted, err := h.ingestion.Ingest(ctx, req.Rows, req.Platform)
	if inserted > 0 && h.snapshot != nil {
		h.snapshot.Invalidate()
	}
	if err != nil {
		if errors.Is(err, services.ErrIngestionPartialFailure) {
			logFailure(ctx, "ingestion partially failed", err)
			httpx.WriteError(ctx, w, httpx.NewError("ingestion_partial_failure", "some rows were not ingested, retry the upload", http.StatusBadGateway).
				WithDetails(map[string]any{"inserted": inserted}))
			return
		}
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"received": len(req.Rows),
		"inserted": inserted,
	})
}

func parseOrderFilter(r *http.Request) (services.OrderListFilter, error) {
	q := r.URL.Query()
	filter := services.OrderListFilter{
		SKU:      q.Get("sku"),
		Platform: q.Get("platform"),
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := domain.ParseOrderStatus(raw)
		if err != nil {
			return filter, err
		}
		filter.Status = &status
	}
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errors.New("since must be an RFC3339 timestamp")
		}
		since = since.UTC()
		filter.CreatedAfter = &since
	}
	return filter, nil
}
