package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseOrderStatus(t *testing.T) {
	got, err := ParseOrderStatus("  Pending_Cancel ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != StatusPendingCancel {
		t.Fatalf("expected pending_cancel, got %s", got)
	}

	if _, err := ParseOrderStatus("shipped"); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
	if OrderStatus("shipped").Valid() {
		t.Fatalf("shipped must not be valid")
	}
}

func TestSourceForAllocatableTargets(t *testing.T) {
	cases := map[OrderStatus]OrderStatus{
		StatusPicked:            StatusNew,
		StatusValidated:         StatusPicked,
		StatusNew:               StatusPicked,
		StatusCancelled:         StatusPicked,
		StatusWrong:             StatusPicked,
		StatusReturnAccepted:    StatusPendingReturn,
		StatusCancelledAccepted: StatusPendingCancel,
	}
	for target, wantSource := range cases {
		tr, err := SourceFor(target)
		if err != nil {
			t.Fatalf("SourceFor(%s): %v", target, err)
		}
		if tr.From != wantSource {
			t.Fatalf("SourceFor(%s) = %s, want %s", target, tr.From, wantSource)
		}
	}

	for _, target := range []OrderStatus{StatusPendingCancel, StatusPendingReturn, OrderStatus("bogus")} {
		if _, err := SourceFor(target); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("SourceFor(%s): expected ErrInvalidTransition, got %v", target, err)
		}
	}
}

func TestAllocatableTargetsHaveUniqueSource(t *testing.T) {
	seen := map[OrderStatus]OrderStatus{}
	for _, tr := range Transitions() {
		if !tr.Allocatable {
			continue
		}
		if prev, ok := seen[tr.To]; ok {
			t.Fatalf("target %s reachable from %s and %s", tr.To, prev, tr.From)
		}
		seen[tr.To] = tr.From
	}
}

func TestTerminalStatusesHaveNoAllocatableExit(t *testing.T) {
	for _, tr := range Transitions() {
		if tr.Allocatable && tr.From.IsTerminal() {
			t.Fatalf("terminal status %s has allocatable edge to %s", tr.From, tr.To)
		}
	}
	if !StatusValidated.IsTerminal() || StatusPicked.IsTerminal() {
		t.Fatalf("unexpected terminal classification")
	}
}

func TestLookupTransition(t *testing.T) {
	tr, err := LookupTransition(StatusValidated, StatusPendingReturn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Allocatable {
		t.Fatalf("return flag must not be allocatable")
	}
	if _, err := LookupTransition(StatusCancelled, StatusNew); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTransitionApplyStampsAndClears(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	order := Order{ID: "o-1", Status: StatusNew}

	pick, _ := SourceFor(StatusPicked)
	pick.Apply(&order, "picker-a", now)
	if order.Status != StatusPicked || order.PickedBy != "picker-a" || !order.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected order after pick: %+v", order)
	}

	reject, _ := SourceFor(StatusNew)
	later := now.Add(time.Minute)
	reject.Apply(&order, "validator-b", later)
	if order.Status != StatusNew || order.PickedBy != "" {
		t.Fatalf("reject must clear picked_by: %+v", order)
	}
	if order.ValidatedBy != "" {
		t.Fatalf("reject must not stamp validated_by: %+v", order)
	}
	if !order.UpdatedAt.Equal(later) {
		t.Fatalf("expected updated at %s, got %s", later, order.UpdatedAt)
	}
}

func TestNormalizeSKU(t *testing.T) {
	if got := NormalizeSKU("  abc-12x "); got != "ABC-12X" {
		t.Fatalf("unexpected sku %q", got)
	}
	if got := NormalizeSKU("   "); got != "" {
		t.Fatalf("expected empty sku, got %q", got)
	}
}
