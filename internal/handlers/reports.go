package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/mittalrahul074/picklist/internal/domain"
	"github.com/mittalrahul074/picklist/internal/platform/httpx"
	"github.com/mittalrahul074/picklist/internal/services"
)

// ReportHandlers exports picklists to object storage.
type ReportHandlers struct {
	reports services.ReportService
}

// NewReportHandlers constructs report handlers.
func NewReportHandlers(reports services.ReportService) *ReportHandlers {
	return &ReportHandlers{reports: reports}
}

// Routes wires the /reports endpoints onto the provided router.
func (h *ReportHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/picklists", h.exportPicklist)
}

func (h *ReportHandlers) exportPicklist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reports == nil {
		serviceUnavailable(ctx, w, "report")
		return
	}
	if _, ok := requireActor(w, r); !ok {
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

	export, err := h.reports.ExportPicklist(ctx, status)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := map[string]any{
		"id":          export.ID,
		"bucket":      export.Bucket,
		"object":      export.Object,
		"groups":      export.Groups,
		"generatedAt": formatTime(export.GeneratedAt),
	}
	if export.DownloadURL != "" {
		payload["downloadUrl"] = export.DownloadURL
	}
	if export.URLExpiresAt != nil {
		payload["downloadUrlExpiresAt"] = formatTime(*export.URLExpiresAt)
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"export": payload})
}
