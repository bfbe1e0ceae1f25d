// Package lifecycle guards status transitions of committed sales.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/qmuntal/stateless"

	"kasirinaja/ledger/internal/domain"
)

var ErrVoidConflict = errors.New("void conflict")

const triggerVoid = "void"

func newSaleMachine(status string) *stateless.StateMachine {
	machine := stateless.NewStateMachine(status)
	machine.Configure(domain.SaleStatusCompleted).
		Permit(triggerVoid, domain.SaleStatusVoided)
	machine.Configure(domain.SaleStatusVoided).
		Ignore(triggerVoid)
	return machine
}

// Void fires the void trigger for a sale currently in status and returns the
// resulting status. Voiding a voided sale is a no-op reported through
// alreadyVoided.
func Void(ctx context.Context, status string) (next string, alreadyVoided bool, err error) {
	machine := newSaleMachine(status)
	if err := machine.FireCtx(ctx, triggerVoid); err != nil {
		return status, false, fmt.Errorf("%w: sale in status %q cannot be voided", ErrVoidConflict, status)
	}
	return machine.MustState().(string), status == domain.SaleStatusVoided, nil
}

func CanVoid(status string) bool {
	ok, err := newSaleMachine(status).CanFire(triggerVoid)
	return err == nil && ok
}
