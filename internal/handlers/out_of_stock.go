package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mittalrahul074/picklist/internal/platform/httpx"
	"github.com/mittalrahul074/picklist/internal/services"
)

const maxOutOfStockBodySize = 1024

// OutOfStockHandlers lets pickers flag SKUs with no stock and supervisors clear them.
type OutOfStockHandlers struct {
	reports services.OutOfStockService
}

// NewOutOfStockHandlers constructs out-of-stock handlers.
func NewOutOfStockHandlers(reports services.OutOfStockService) *OutOfStockHandlers {
	return &OutOfStockHandlers{reports: reports}
}

// Routes wires the /out-of-stock endpoints onto the provided router.
func (h *OutOfStockHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listPending)
	r.Post("/", h.report)
	r.Post("/{sku}/acknowledge", h.acknowledge)
}

func (h *OutOfStockHandlers) listPending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reports == nil {
		serviceUnavailable(ctx, w, "out_of_stock")
		return
	}
	reports, err := h.reports.ListPending(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]outOfStockPayload, 0, len(reports))
	for _, report := range reports {
		items = append(items, buildOutOfStockPayload(report))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"reports": items})
}

func (h *OutOfStockHandlers) report(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reports == nil {
		serviceUnavailable(ctx, w, "out_of_stock")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req struct {
		SKU string `json:"sku"`
	}
	if err := httpx.DecodeJSON(w, r, maxOutOfStockBodySize, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	report, err := h.reports.Report(ctx, req.SKU, actor)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"report": buildOutOfStockPayload(report)})
}

func (h *OutOfStockHandlers) acknowledge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reports == nil {
		serviceUnavailable(ctx, w, "out_of_stock")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	report, err := h.reports.Acknowledge(ctx, chi.URLParam(r, "sku"), actor)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"report": buildOutOfStockPayload(report)})
}
