package checkout

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"kasirinaja/ledger/internal/domain"
	"kasirinaja/ledger/internal/ledger"
)

// Void reverses a committed sale. The ledger treats a repeated void as a
// no-op, so transient failures are retried with a linear backoff.
func (p *Protocol) Void(ctx context.Context, session domain.Session, saleID string, reason string) (domain.VoidResult, error) {
	saleID = strings.TrimSpace(saleID)
	reason = strings.TrimSpace(reason)
	if saleID == "" {
		return domain.VoidResult{}, fmt.Errorf("%w: sale id required", ledger.ErrValidation)
	}
	if reason == "" {
		return domain.VoidResult{}, fmt.Errorf("%w: void reason required", ledger.ErrValidation)
	}
	if !session.Privileged() {
		return domain.VoidResult{}, fmt.Errorf("%w: void requires a manager or admin", ledger.ErrForbidden)
	}

	var lastErr error
	for attempt := 1; attempt <= p.voidAttempts; attempt++ {
		result, err := p.ledger.VoidSale(ctx, saleID, reason)
		if err == nil {
			return result, nil
		}
		err = ledger.Classify(err)
		if !ledger.IsTransient(err) {
			return domain.VoidResult{}, err
		}
		lastErr = err
		if attempt == p.voidAttempts {
			break
		}
		log.Printf("[void] sale %s attempt %d failed, retrying: %v", saleID, attempt, err)

		timer := time.NewTimer(p.voidBackoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.VoidResult{}, ledger.Classify(ctx.Err())
		case <-timer.C:
		}
	}
	return domain.VoidResult{}, lastErr
}
