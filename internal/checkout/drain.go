package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/singleflight"

	"kasirinaja/ledger/internal/domain"
	"kasirinaja/ledger/internal/ledger"
)

type DrainReport struct {
	Attempted int
	Synced    int
	Rejected  int
	// Interrupted is set when the pass stopped early because the ledger
	// became unreachable.
	Interrupted bool
	Sales       []domain.CommittedSale
	Failures    error
}

// Drainer replays queued sales against the ledger. Concurrent Drain calls
// share a single pass.
type Drainer struct {
	ledger    ledger.Ledger
	queue     Queue
	group     singleflight.Group
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	wake      chan struct{}
}

func NewDrainer(l ledger.Ledger, q Queue, interval time.Duration, retention time.Duration) *Drainer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &Drainer{
		ledger:    l,
		queue:     q,
		interval:  interval,
		retention: retention,
		now:       time.Now,
		wake:      make(chan struct{}, 1),
	}
}

// Notify signals that connectivity is back. It never blocks.
func (d *Drainer) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Drainer) Drain(ctx context.Context) (DrainReport, error) {
	v, err, _ := d.group.Do("drain", func() (any, error) {
		return d.drainOnce(ctx)
	})
	if err != nil {
		return DrainReport{}, err
	}
	return v.(DrainReport), nil
}

func (d *Drainer) drainOnce(ctx context.Context) (DrainReport, error) {
	pending, err := d.queue.Pending(ctx)
	if err != nil {
		return DrainReport{}, fmt.Errorf("read offline queue: %w", err)
	}

	var (
		report DrainReport
		errs   *multierror.Error
	)
	for _, entry := range pending {
		report.Attempted++
		result, err := d.ledger.CommitSale(ctx, entry.Payload)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("sale %s: %w", entry.LocalID, err))
			if stopsDrain(err) {
				report.Interrupted = true
				break
			}
			report.Rejected++
			continue
		}
		if err := d.queue.MarkSynced(ctx, entry.LocalID); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("mark %s synced: %w", entry.LocalID, err))
			continue
		}
		report.Synced++
		report.Sales = append(report.Sales, result.Sale)
	}

	report.Failures = errs.ErrorOrNil()
	if report.Failures != nil {
		log.Printf("[drain] WARN: synced %d of %d queued sales: %v", report.Synced, report.Attempted, report.Failures)
	} else if report.Synced > 0 {
		log.Printf("[drain] synced %d queued sales", report.Synced)
	}
	return report, nil
}

func stopsDrain(err error) bool {
	return ledger.IsTransient(err) || errors.Is(err, ledger.ErrForbidden)
}

func (d *Drainer) Purge(ctx context.Context) (int64, error) {
	purged, err := d.queue.Purge(ctx, d.now(), d.retention)
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		log.Printf("[drain] purged %d synced entries older than %s", purged, d.retention)
	}
	return purged, nil
}

// Run drains on every wake-up and on every tick where the ledger answers a
// ping, purging old synced entries after each pass. It returns when ctx ends.
func (d *Drainer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	online := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		case <-ticker.C:
			if err := d.ledger.Ping(ctx); err != nil {
				if online {
					log.Printf("[drain] ledger offline: %v", err)
				}
				online = false
				continue
			}
			if !online {
				log.Println("[drain] ledger reachable again")
			}
			online = true
		}
		d.pass(ctx)
	}
}

func (d *Drainer) pass(ctx context.Context) {
	if _, err := d.Drain(ctx); err != nil {
		log.Printf("[drain] WARN: %v", err)
	}
	if _, err := d.Purge(ctx); err != nil {
		log.Printf("[drain] WARN: purge: %v", err)
	}
}
