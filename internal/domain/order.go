package domain

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Order is the fulfilment unit tracked by the picklist. Quantity and Platform are fixed at ingestion;
// Status and the operator stamps only change through a transition.
type Order struct {
	ID           string
	SKU          string
	Quantity     int
	Status       OrderStatus
	PickedBy     string
	ValidatedBy  string
	AcceptedBy   string
	Platform     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DispatchDate *time.Time
}

// OrderInput is a raw ingestion row as delivered by the upload collaborator. Quantity and
// DispatchDate are kept as text so malformed values can be defaulted rather than rejected.
type OrderInput struct {
	OrderID      string `json:"orderId"`
	SKU          string `json:"sku"`
	Quantity     string `json:"quantity"`
	DispatchDate string `json:"dispatchDate"`
}

// SkuGroup summarises the orders of one SKU.
type SkuGroup struct {
	SKU               string
	TotalQuantity     int
	OrderCount        int
	DispatchBreakdown []DispatchQuantity
	// UndatedQuantity counts units whose order carries no usable dispatch date. These units are
	// part of TotalQuantity but absent from DispatchBreakdown.
	UndatedQuantity int
}

// DispatchQuantity is the quantity due on one civil dispatch date.
type DispatchQuantity struct {
	Date     time.Time
	Quantity int
}

// OutOfStockStatus tracks an operator report through acknowledgement.
type OutOfStockStatus string

const (
	OutOfStockPending      OutOfStockStatus = "pending"
	OutOfStockAcknowledged OutOfStockStatus = "acknowledged"
)

// OutOfStockReport records that a picker could not find stock for a SKU.
type OutOfStockReport struct {
	SKU            string
	Status         OutOfStockStatus
	ReportedBy     string
	ReportedAt     time.Time
	AcknowledgedBy string
	AcknowledgedAt *time.Time
}

// NormalizeSKU returns the canonical upper-case form of a SKU.
func NormalizeSKU(sku string) string {
	trimmed := strings.TrimSpace(sku)
	if trimmed == "" {
		return ""
	}
	// Casers carry state and must not be shared between goroutines.
	return cases.Upper(language.Und).String(trimmed)
}
