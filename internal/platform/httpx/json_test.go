package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mittalrahul074/picklist/internal/platform/requestctx"
)

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		SKU string `json:"sku"`
	}

	var dst payload
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"sku":"ABC"}`))
	require.NoError(t, DecodeJSON(httptest.NewRecorder(), req, 0, &dst))
	require.Equal(t, "ABC", dst.SKU)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	require.ErrorIs(t, DecodeJSON(httptest.NewRecorder(), req, 0, &dst), ErrEmptyBody)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"sku":"`+strings.Repeat("A", 64)+`"}`))
	require.ErrorIs(t, DecodeJSON(httptest.NewRecorder(), req, 16, &dst), ErrBodyTooLarge)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"sku":"A","extra":1}`))
	require.Error(t, DecodeJSON(httptest.NewRecorder(), req, 0, &dst))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"sku":"A"}{"sku":"B"}`))
	require.Error(t, DecodeJSON(httptest.NewRecorder(), req, 0, &dst))
}

func TestWriteErrorIncludesTraceID(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rr := httptest.NewRecorder()

	WriteError(ctx, rr, NewError("order_not_found", "order\nnot found", http.StatusNotFound).WithDetails(map[string]any{"orderId": "o-1"}))

	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "order_not_found", body["error"])
	require.Equal(t, "order not found", body["message"])
	require.Equal(t, "trace-1", body["trace_id"])
	require.Equal(t, "o-1", body["orderId"])
}
