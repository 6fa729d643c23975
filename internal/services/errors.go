package services

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/mittalrahul074/picklist/internal/domain"
	"github.com/mittalrahul074/picklist/internal/platform/retry"
	"github.com/mittalrahul074/picklist/internal/repositories"
)

var (
	// ErrInvalidTransition indicates the requested target has no edge from the relevant source.
	ErrInvalidTransition = domain.ErrInvalidTransition
	// ErrInvalidInput signals the caller provided invalid arguments.
	ErrInvalidInput = errors.New("picklist: invalid input")
	// ErrStoreUnavailable indicates the order store could not be reached.
	ErrStoreUnavailable = errors.New("picklist: store unavailable")
	// ErrTransactionAborted indicates the store gave up after exhausting its retry budget.
	ErrTransactionAborted = errors.New("picklist: transaction aborted")
	// ErrIngestionPartialFailure indicates some ingestion batches committed before a failure.
	ErrIngestionPartialFailure = errors.New("picklist: ingestion partially failed")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("picklist: order not found")
	// ErrOrderConflict indicates the order was not in the expected status.
	ErrOrderConflict = errors.New("picklist: order status conflict")
	// ErrOutOfStockNotFound indicates no pending out-of-stock report exists for the SKU.
	ErrOutOfStockNotFound = errors.New("picklist: out of stock report not found")
	// ErrExportUnavailable indicates the export destination is not configured.
	ErrExportUnavailable = errors.New("picklist: export unavailable")
)

// mapRepositoryError converts store failures into service sentinels. notFound is used for
// missing records so each caller can name what was missing.
func mapRepositoryError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// Sentinels raised inside a transaction function come back wrapped by the store.
	for _, sentinel := range []error{ErrInvalidTransition, ErrInvalidInput, ErrOrderConflict, ErrOrderNotFound, ErrOutOfStockNotFound} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return fmt.Errorf("%w: %v", ErrTransactionAborted, err)
	}

	if repoErr, ok := repositories.Classify(err); ok {
		switch {
		case repoErr.IsNotFound() && notFound != nil:
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrTransactionAborted, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
