package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// OrderStatus is the closed set of fulfilment states.
type OrderStatus string

const (
	StatusNew               OrderStatus = "new"
	StatusPicked            OrderStatus = "picked"
	StatusValidated         OrderStatus = "validated"
	StatusCancelled         OrderStatus = "cancelled"
	StatusWrong             OrderStatus = "wrong"
	StatusPendingCancel     OrderStatus = "pending_cancel"
	StatusCancelledAccepted OrderStatus = "cancelled_accepted"
	StatusPendingReturn     OrderStatus = "pending_return"
	StatusReturnAccepted    OrderStatus = "return_accepted"
)

var (
	// ErrUnknownStatus is returned when text does not name a status.
	ErrUnknownStatus = errors.New("domain: unknown order status")
	// ErrInvalidTransition is returned when no edge exists between two statuses.
	ErrInvalidTransition = errors.New("domain: invalid status transition")
)

var allStatuses = []OrderStatus{
	StatusNew,
	StatusPicked,
	StatusValidated,
	StatusCancelled,
	StatusWrong,
	StatusPendingCancel,
	StatusCancelledAccepted,
	StatusPendingReturn,
	StatusReturnAccepted,
}

// OrderStatuses lists every status in lifecycle order.
func OrderStatuses() []OrderStatus {
	out := make([]OrderStatus, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseOrderStatus converts text to a status. Matching ignores case and surrounding space.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	candidate := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	for _, status := range allStatuses {
		if status == candidate {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
}

// Valid reports whether s is a member of the enum.
func (s OrderStatus) Valid() bool {
	for _, status := range allStatuses {
		if status == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no allocatable edge leaves s.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusValidated, StatusCancelledAccepted, StatusWrong, StatusReturnAccepted:
		return true
	}
	return false
}

func (s OrderStatus) String() string { return string(s) }

// Stamp names an operator attribution field on Order.
type Stamp string

const (
	StampNone        Stamp = ""
	StampPickedBy    Stamp = "picked_by"
	StampValidatedBy Stamp = "validated_by"
	StampAcceptedBy  Stamp = "accepted_by"
)

// Transition is one edge of the status graph.
type Transition struct {
	From OrderStatus
	To   OrderStatus
	// Set is written with the acting operator.
	Set Stamp
	// Clear is reset to empty.
	Clear Stamp
	// Allocatable edges may be driven by SKU allocation. The others are flags raised per order
	// by the cancellation and returns feeds.
	Allocatable bool
}

var transitions = []Transition{
	{From: StatusNew, To: StatusPicked, Set: StampPickedBy, Allocatable: true},
	{From: StatusPicked, To: StatusValidated, Set: StampValidatedBy, Allocatable: true},
	{From: StatusPicked, To: StatusNew, Clear: StampPickedBy, Allocatable: true},
	{From: StatusPicked, To: StatusCancelled, Set: StampValidatedBy, Allocatable: true},
	{From: StatusPicked, To: StatusWrong, Set: StampValidatedBy, Allocatable: true},
	{From: StatusPendingReturn, To: StatusReturnAccepted, Set: StampAcceptedBy, Allocatable: true},
	{From: StatusPendingCancel, To: StatusCancelledAccepted, Set: StampAcceptedBy, Allocatable: true},

	{From: StatusNew, To: StatusPendingCancel},
	{From: StatusPicked, To: StatusPendingCancel},
	{From: StatusValidated, To: StatusPendingCancel},
	{From: StatusValidated, To: StatusPendingReturn},
}

// Transitions returns a copy of the full edge table.
func Transitions() []Transition {
	out := make([]Transition, len(transitions))
	copy(out, transitions)
	return out
}

// SourceFor returns the allocatable edge whose target is to. Every allocatable target has exactly
// one source, which is what lets allocation infer the source from the requested target.
func SourceFor(to OrderStatus) (Transition, error) {
	for _, t := range transitions {
		if t.Allocatable && t.To == to {
			return t, nil
		}
	}
	return Transition{}, fmt.Errorf("%w: no allocatable transition to %q", ErrInvalidTransition, to)
}

// LookupTransition returns the edge from -> to, allocatable or not.
func LookupTransition(from, to OrderStatus) (Transition, error) {
	for _, t := range transitions {
		if t.From == from && t.To == to {
			return t, nil
		}
	}
	return Transition{}, fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, to)
}

// Apply moves order along the edge, stamping actor and now. It does not check order.Status;
// callers resolve the edge from the stored status first.
func (t Transition) Apply(order *Order, actor string, now time.Time) {
	order.Status = t.To
	order.UpdatedAt = now
	setStamp(order, t.Set, actor)
	setStamp(order, t.Clear, "")
}

func setStamp(order *Order, stamp Stamp, value string) {
	switch stamp {
	case StampPickedBy:
		order.PickedBy = value
	case StampValidatedBy:
		order.ValidatedBy = value
	case StampAcceptedBy:
		order.AcceptedBy = value
	}
}
