// Package ledger is the device's view of the remote ledger: the contract the
// commit and void protocols depend on, the error taxonomy they classify into,
// and an HTTP implementation.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker/v2"

	"kasirinaja/ledger/internal/domain"
)

var (
	// ErrValidation is a local precondition failure. Nothing was sent.
	ErrValidation = errors.New("validation failed")
	// ErrTransient means the ledger could not be reached or did not answer.
	// Retrying with the same reference is safe.
	ErrTransient = errors.New("ledger unavailable")
	// ErrRejected is a definitive business rejection from the ledger.
	ErrRejected     = errors.New("rejected by ledger")
	ErrVoidConflict = errors.New("sale cannot be voided")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
)

type Ledger interface {
	// CommitSale atomically records payload, decrements stock and applies any
	// credit balance change. Replaying a reference returns the original sale
	// with Duplicate set.
	CommitSale(ctx context.Context, payload domain.SalePayload) (domain.CommitResult, error)
	VoidSale(ctx context.Context, saleID string, reason string) (domain.VoidResult, error)
	GetCustomer(ctx context.Context, customerID string) (domain.Customer, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	Ping(ctx context.Context) error
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

var taxonomy = []error{ErrValidation, ErrTransient, ErrRejected, ErrVoidConflict, ErrNotFound, ErrForbidden}

// Classify maps an error from the transport into the taxonomy. Errors already
// in the taxonomy pass through. Anything else means no usable answer arrived
// and is treated as transient.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range taxonomy {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit open: %v", ErrTransient, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: timed out: %v", ErrTransient, err)
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}
