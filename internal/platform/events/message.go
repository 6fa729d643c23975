// Package events publishes committed order status changes to other operator sessions.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mittalrahul074/picklist/internal/services"
)

// Message is the wire form of services.OrderEvent.
type Message struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	SKU        string    `json:"sku"`
	OrderIDs   []string  `json:"orderIds"`
	Quantity   int       `json:"quantity"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	ActorID    string    `json:"actorId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

func encode(event services.OrderEvent) ([]byte, error) {
	data, err := json.Marshal(Message{
		ID:         event.ID,
		Type:       event.Type,
		SKU:        event.SKU,
		OrderIDs:   event.OrderIDs,
		Quantity:   event.Quantity,
		From:       string(event.From),
		To:         string(event.To),
		ActorID:    event.ActorID,
		OccurredAt: event.OccurredAt.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal order event: %w", err)
	}
	return data, nil
}

func attributes(event services.OrderEvent) map[string]string {
	attrs := make(map[string]string, 3)
	setAttr(attrs, "eventId", event.ID)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "sku", event.SKU)
	return attrs
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
