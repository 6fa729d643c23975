package idempotency

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mittalrahul074/picklist/internal/platform/requestctx"
)

var fixedNow = time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC)

func allocate(t *testing.T, handler http.Handler, actor, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/skus/SKU-1/allocations", strings.NewReader(body))
	if key != "" {
		req.Header.Set(HeaderKey, key)
	}
	if actor != "" {
		req = req.WithContext(requestctx.WithActor(req.Context(), actor))
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"processedQty":2}`))
	})
}

func TestMiddlewareWithoutKeyPassesThrough(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := Middleware(store)(countingHandler(&calls, http.StatusOK))

	allocate(t, handler, "picker", "", `{"quantity":2}`)
	allocate(t, handler, "picker", "", `{"quantity":2}`)

	assert.Equal(t, 2, calls)
	assert.Zero(t, store.Len())
}

func TestMiddlewareReplaysCompletedResponse(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := Middleware(store, WithClock(func() time.Time { return fixedNow }))(countingHandler(&calls, http.StatusOK))

	first := allocate(t, handler, "picker", "retry-1", `{"quantity":2}`)
	second := allocate(t, handler, "picker", "retry-1", `{"quantity":2}`)

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(HeaderReplay))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Empty(t, first.Header().Get(HeaderReplay))
}

func TestMiddlewareScopesKeysByActor(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := Middleware(store)(countingHandler(&calls, http.StatusOK))

	allocate(t, handler, "picker-a", "shared", `{"quantity":2}`)
	allocate(t, handler, "picker-b", "shared", `{"quantity":2}`)

	assert.Equal(t, 2, calls)
}

func TestMiddlewareRejectsReusedKey(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := Middleware(store)(countingHandler(&calls, http.StatusOK))

	allocate(t, handler, "picker", "k", `{"quantity":2}`)
	rr := allocate(t, handler, "picker", "k", `{"quantity":3}`)

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), "idempotency_key_reused")
}

func TestMiddlewarePendingKeyConflicts(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store, WithClock(func() time.Time { return fixedNow }))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run while the key is held")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/skus/SKU-1/allocations", strings.NewReader(`{"quantity":2}`))
	_, _, err := store.Reserve(context.Background(), scopeKey("picker", "busy"), fingerprintRequest(req, []byte(`{"quantity":2}`)), fixedNow, time.Hour)
	require.NoError(t, err)

	rr := allocate(t, handler, "picker", "busy", `{"quantity":2}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "idempotency_in_progress")
}

func TestMiddlewareDoesNotCacheServerErrors(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := Middleware(store)(countingHandler(&calls, http.StatusServiceUnavailable))

	allocate(t, handler, "picker", "k", `{"quantity":2}`)
	rr := allocate(t, handler, "picker", "k", `{"quantity":2}`)

	assert.Equal(t, 2, calls)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Zero(t, store.Len())
}

func TestMiddlewareCachesClientErrors(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := Middleware(store)(countingHandler(&calls, http.StatusConflict))

	allocate(t, handler, "picker", "k", `{"quantity":9}`)
	rr := allocate(t, handler, "picker", "k", `{"quantity":9}`)

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestMiddlewareReleasesWhenCompleteFails(t *testing.T) {
	store := &failingStore{}
	var calls int
	handler := Middleware(store)(countingHandler(&calls, http.StatusOK))

	rr := allocate(t, handler, "picker", "k", `{"quantity":2}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, store.released)
}

func TestMiddlewareStoreUnavailable(t *testing.T) {
	store := &failingStore{reserveErr: errors.New("down")}
	var calls int
	handler := Middleware(store)(countingHandler(&calls, http.StatusOK))

	rr := allocate(t, handler, "picker", "k", `{"quantity":2}`)

	assert.Zero(t, calls)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMiddlewareRejectsOversizedBody(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := Middleware(store, WithMaxBody(8))(countingHandler(&calls, http.StatusOK))

	rr := allocate(t, handler, "picker", "k", `{"quantity":200000}`)

	assert.Zero(t, calls)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestMemoryStoreExpiresEntries(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	state, _, err := store.Reserve(ctx, "k", "fp", fixedNow, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StateNew, state)
	require.NoError(t, store.Complete(ctx, "k", "fp", Response{Status: http.StatusOK}, fixedNow, time.Minute))

	state, entry, err := store.Reserve(ctx, "k", "fp", fixedNow.Add(30*time.Second), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state)
	assert.Equal(t, http.StatusOK, entry.Status)

	state, _, err = store.Reserve(ctx, "k", "other", fixedNow.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StateNew, state)
}

type failingStore struct {
	reserveErr error
	released   bool
}

func (s *failingStore) Reserve(context.Context, string, string, time.Time, time.Duration) (State, Entry, error) {
	if s.reserveErr != nil {
		return 0, Entry{}, s.reserveErr
	}
	return StateNew, Entry{}, nil
}

func (s *failingStore) Complete(context.Context, string, string, Response, time.Time, time.Duration) error {
	return errors.New("write failed")
}

func (s *failingStore) Release(context.Context, string) error {
	s.released = true
	return nil
}
