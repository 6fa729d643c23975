package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/mittalrahul074/picklist/internal/domain"
	pstorage "github.com/mittalrahul074/picklist/internal/platform/storage"
)

type staticSnapshot []Order

func (s staticSnapshot) Orders(context.Context) ([]Order, error) { return s, nil }

type memoryWriter struct {
	objects map[string][]byte
	err     error
}

func (w *memoryWriter) PutJSON(_ context.Context, object string, body []byte) (pstorage.ExportedObject, error) {
	if w.err != nil {
		return pstorage.ExportedObject{}, w.err
	}
	if w.objects == nil {
		w.objects = make(map[string][]byte)
	}
	w.objects[object] = body
	return pstorage.ExportedObject{
		Bucket:   "exports",
		Object:   object,
		Download: pstorage.SignedURL{URL: "https://signed/" + object, ExpiresAt: fixtureNow.Add(10 * time.Minute)},
	}, nil
}

func TestExportPicklistWritesAggregatedGroups(t *testing.T) {
	writer := &memoryWriter{}
	snapshot := staticSnapshot{
		dated(newOrder("1", "A", 2, domain.StatusPicked, 0), 2025, 3, 6),
		newOrder("2", "A", 1, domain.StatusPicked, 0),
		newOrder("3", "B", 1, domain.StatusNew, 0),
	}
	svc, err := NewReportService(ReportServiceDeps{
		Orders:      snapshot,
		Writer:      writer,
		Clock:       fixedClock,
		IDGenerator: func() string { return "exp-1" },
	})
	require.NoError(t, err)

	picked := domain.StatusPicked
	export, err := svc.ExportPicklist(context.Background(), &picked)
	require.NoError(t, err)
	require.Equal(t, "exports/picklists/2025-03-04/picked/exp-1.json", export.Object)
	require.Equal(t, "exports", export.Bucket)
	require.Equal(t, 1, export.Groups)
	require.Equal(t, "https://signed/"+export.Object, export.DownloadURL)
	require.NotNil(t, export.URLExpiresAt)

	var doc struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Groups []struct {
			SKU             string `json:"sku"`
			TotalQuantity   int    `json:"totalQuantity"`
			UndatedQuantity int    `json:"undatedQuantity"`
			Dispatch        []struct {
				Date     string `json:"date"`
				Quantity int    `json:"quantity"`
			} `json:"dispatch"`
		} `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(writer.objects[export.Object], &doc))
	require.Equal(t, "exp-1", doc.ID)
	require.Equal(t, "picked", doc.Status)
	require.Len(t, doc.Groups, 1)
	require.Equal(t, 3, doc.Groups[0].TotalQuantity)
	require.Equal(t, 1, doc.Groups[0].UndatedQuantity)
	require.Equal(t, "2025-03-06", doc.Groups[0].Dispatch[0].Date)
}

func TestExportPicklistErrors(t *testing.T) {
	svc, err := NewReportService(ReportServiceDeps{Orders: staticSnapshot{}, Clock: fixedClock})
	require.NoError(t, err)
	_, err = svc.ExportPicklist(context.Background(), nil)
	require.ErrorIs(t, err, ErrExportUnavailable)

	svc, err = NewReportService(ReportServiceDeps{Orders: staticSnapshot{}, Writer: &memoryWriter{err: errors.New("precondition failed")}, Clock: fixedClock})
	require.NoError(t, err)
	_, err = svc.ExportPicklist(context.Background(), nil)
	require.ErrorIs(t, err, ErrExportUnavailable)

	bogus := OrderStatus("shipped")
	_, err = svc.ExportPicklist(context.Background(), &bogus)
	require.ErrorIs(t, err, ErrInvalidInput)
}
