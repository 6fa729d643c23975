package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	pstorage "github.com/mittalrahul074/picklist/internal/platform/storage"
)

// OrderSnapshot supplies the orders a picklist is built from. OrderSnapshotCache satisfies it.
type OrderSnapshot interface {
	Orders(ctx context.Context) ([]Order, error)
}

// PicklistWriter persists an encoded picklist. *storage.Exporter satisfies it.
type PicklistWriter interface {
	PutJSON(ctx context.Context, object string, body []byte) (pstorage.ExportedObject, error)
}

// ReportServiceDeps bundles the collaborators required to construct a report service.
type ReportServiceDeps struct {
	Orders OrderSnapshot
	// Writer may be nil, in which case exports fail with ErrExportUnavailable.
	Writer      PicklistWriter
	Logger      *zap.Logger
	Clock       func() time.Time
	IDGenerator func() string
}

type reportService struct {
	orders OrderSnapshot
	writer PicklistWriter
	logger *zap.Logger
	clock  func() time.Time
	newID  func() string
}

var _ ReportService = (*reportService)(nil)

// NewReportService wires dependencies into a concrete ReportService implementation.
func NewReportService(deps ReportServiceDeps) (ReportService, error) {
	if deps.Orders == nil {
		return nil, errors.New("report service: order snapshot is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &reportService{
		orders: deps.Orders,
		writer: deps.Writer,
		logger: logger.Named("reports"),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID: idGen,
	}, nil
}

type picklistDocument struct {
	ID          string          `json:"id"`
	Status      string          `json:"status,omitempty"`
	GeneratedAt time.Time       `json:"generatedAt"`
	Groups      []picklistGroup `json:"groups"`
}

type picklistGroup struct {
	SKU             string             `json:"sku"`
	TotalQuantity   int                `json:"totalQuantity"`
	OrderCount      int                `json:"orderCount"`
	UndatedQuantity int                `json:"undatedQuantity"`
	Dispatch        []picklistDispatch `json:"dispatch"`
}

type picklistDispatch struct {
	Date     string `json:"date"`
	Quantity int    `json:"quantity"`
}

func (s *reportService) ExportPicklist(ctx context.Context, status *OrderStatus) (PicklistExport, error) {
	if s.writer == nil {
		return PicklistExport{}, fmt.Errorf("%w: exports bucket not configured", ErrExportUnavailable)
	}
	if status != nil && !status.Valid() {
		return PicklistExport{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *status)
	}

	ctx, span := tracer.Start(ctx, "services.ExportPicklist")
	defer span.End()

	orders, err := s.orders.Orders(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load orders failed")
		return PicklistExport{}, err
	}
	groups := Aggregate(orders, status)

	now := s.clock()
	id := s.newID()
	doc := picklistDocument{ID: id, GeneratedAt: now, Groups: make([]picklistGroup, 0, len(groups))}
	statusLabel := ""
	if status != nil {
		statusLabel = string(*status)
		doc.Status = statusLabel
	}
	for _, g := range groups {
		group := picklistGroup{
			SKU:             g.SKU,
			TotalQuantity:   g.TotalQuantity,
			OrderCount:      g.OrderCount,
			UndatedQuantity: g.UndatedQuantity,
			Dispatch:        make([]picklistDispatch, 0, len(g.DispatchBreakdown)),
		}
		for _, d := range g.DispatchBreakdown {
			group.Dispatch = append(group.Dispatch, picklistDispatch{Date: d.Date.Format("2006-01-02"), Quantity: d.Quantity})
		}
		doc.Groups = append(doc.Groups, group)
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return PicklistExport{}, fmt.Errorf("report service: encode picklist: %w", err)
	}
	object, err := pstorage.PicklistObjectPath(statusLabel, now, id)
	if err != nil {
		return PicklistExport{}, fmt.Errorf("report service: %w", err)
	}
	span.SetAttributes(attribute.String("picklist.object", object), attribute.Int("picklist.groups", len(groups)))

	written, err := s.writer.PutJSON(ctx, object, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write picklist failed")
		s.logger.Error("picklist export failed", zap.String("object", object), zap.Error(err))
		return PicklistExport{}, fmt.Errorf("%w: %v", ErrExportUnavailable, err)
	}

	export := PicklistExport{
		ID:          id,
		Bucket:      written.Bucket,
		Object:      written.Object,
		Groups:      len(groups),
		GeneratedAt: now,
		DownloadURL: written.Download.URL,
	}
	if !written.Download.ExpiresAt.IsZero() {
		expires := written.Download.ExpiresAt.UTC()
		export.URLExpiresAt = &expires
	}
	s.logger.Info("picklist exported",
		zap.String("bucket", export.Bucket),
		zap.String("object", export.Object),
		zap.Int("groups", export.Groups),
	)
	return export, nil
}
