package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mittalrahul074/picklist/internal/platform/httpx"
	"github.com/mittalrahul074/picklist/internal/platform/requestctx"
	"github.com/mittalrahul074/picklist/internal/services"
)

// writeServiceError maps service sentinels onto HTTP errors.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOutOfStockNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock_not_found", "no pending report for sku", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order status changed", http.StatusConflict))
	case errors.Is(err, services.ErrTransactionAborted):
		httpx.WriteError(ctx, w, httpx.NewError("transaction_aborted", "too much contention, retry the request", http.StatusConflict))
	case errors.Is(err, services.ErrStoreUnavailable):
		logFailure(ctx, "order store unavailable", err)
		httpx.WriteError(ctx, w, httpx.NewError("store_unavailable", "order store is unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrExportUnavailable):
		logFailure(ctx, "export unavailable", err)
		httpx.WriteError(ctx, w, httpx.NewError("export_unavailable", "picklist export is unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
	case errors.Is(err, context.Canceled):
		httpx.WriteError(ctx, w, httpx.NewError("request_cancelled", "request cancelled", http.StatusServiceUnavailable))
	default:
		logFailure(ctx, "unhandled service error", err)
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}

func writeDecodeError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, httpx.ErrBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

// requireActor returns the operator identity or writes a 401.
func requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := strings.TrimSpace(requestctx.Actor(r.Context()))
	if actor == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "operator identity is required", http.StatusUnauthorized))
		return "", false
	}
	return actor, true
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service is unavailable", http.StatusServiceUnavailable))
}

func logFailure(ctx context.Context, msg string, err error) {
	requestctx.Logger(ctx).Error(msg, zap.Error(err))
}
