package handlers

import (
	"time"

	"github.com/mittalrahul074/picklist/internal/services"
)

const dispatchDateLayout = "2006-01-02"

type orderPayload struct {
	ID           string  `json:"id"`
	SKU          string  `json:"sku"`
	Quantity     int     `json:"quantity"`
	Status       string  `json:"status"`
	Platform     string  `json:"platform,omitempty"`
	PickedBy     string  `json:"pickedBy,omitempty"`
	ValidatedBy  string  `json:"validatedBy,omitempty"`
	AcceptedBy   string  `json:"acceptedBy,omitempty"`
	DispatchDate *string `json:"dispatchDate,omitempty"`
	CreatedAt    string  `json:"createdAt"`
	UpdatedAt    string  `json:"updatedAt"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		SKU:         order.SKU,
		Quantity:    order.Quantity,
		Status:      string(order.Status),
		Platform:    order.Platform,
		PickedBy:    order.PickedBy,
		ValidatedBy: order.ValidatedBy,
		AcceptedBy:  order.AcceptedBy,
		CreatedAt:   formatTime(order.CreatedAt),
		UpdatedAt:   formatTime(order.UpdatedAt),
	}
	if order.DispatchDate != nil {
		date := order.DispatchDate.Format(dispatchDateLayout)
		payload.DispatchDate = &date
	}
	return payload
}

func buildOrderPayloads(orders []services.Order) []orderPayload {
	out := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		out = append(out, buildOrderPayload(order))
	}
	return out
}

type dispatchPayload struct {
	Date     string `json:"date"`
	Quantity int    `json:"quantity"`
}

type skuGroupPayload struct {
	SKU             string            `json:"sku"`
	TotalQuantity   int               `json:"totalQuantity"`
	OrderCount      int               `json:"orderCount"`
	UndatedQuantity int               `json:"undatedQuantity"`
	Dispatch        []dispatchPayload `json:"dispatch"`
}

func buildSkuGroupPayloads(groups []services.SkuGroup) []skuGroupPayload {
	out := make([]skuGroupPayload, 0, len(groups))
	for _, group := range groups {
		dispatch := make([]dispatchPayload, 0, len(group.DispatchBreakdown))
		for _, entry := range group.DispatchBreakdown {
			dispatch = append(dispatch, dispatchPayload{Date: entry.Date.Format(dispatchDateLayout), Quantity: entry.Quantity})
		}
		out = append(out, skuGroupPayload{
			SKU:             group.SKU,
			TotalQuantity:   group.TotalQuantity,
			OrderCount:      group.OrderCount,
			UndatedQuantity: group.UndatedQuantity,
			Dispatch:        dispatch,
		})
	}
	return out
}

type outOfStockPayload struct {
	SKU            string  `json:"sku"`
	Status         string  `json:"status"`
	ReportedBy     string  `json:"reportedBy"`
	ReportedAt     string  `json:"reportedAt"`
	AcknowledgedBy string  `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt *string `json:"acknowledgedAt,omitempty"`
}

func buildOutOfStockPayload(report services.OutOfStockReport) outOfStockPayload {
	payload := outOfStockPayload{
		SKU:            report.SKU,
		Status:         string(report.Status),
		ReportedBy:     report.ReportedBy,
		ReportedAt:     formatTime(report.ReportedAt),
		AcknowledgedBy: report.AcknowledgedBy,
	}
	if report.AcknowledgedAt != nil {
		at := formatTime(*report.AcknowledgedAt)
		payload.AcknowledgedAt = &at
	}
	return payload
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
