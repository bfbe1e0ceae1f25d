// Package checkout turns a cart into a committed sale. It talks to the remote
// ledger, falls back to the durable offline queue when the ledger cannot be
// reached, drains that queue later, and issues compensating voids.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"

	"kasirinaja/ledger/internal/cart"
	"kasirinaja/ledger/internal/domain"
	"kasirinaja/ledger/internal/ledger"
)

const (
	StateBuilding      = "building"
	StateSubmitting    = "submitting"
	StateCommitted     = "committed"
	StateQueuedOffline = "queued_offline"
	StateRejected      = "rejected"
	// StateFailed is reached only when the ledger was unreachable and the
	// durable queue also refused the sale.
	StateFailed = "failed"
)

const (
	triggerSubmit = "submit"
	triggerCommit = "commit"
	triggerQueue  = "queue"
	triggerReject = "reject"
	triggerFail   = "fail"
)

// Queue is the durable store a sale falls back to while offline.
type Queue interface {
	Enqueue(ctx context.Context, payload domain.SalePayload) (domain.QueuedSubmission, error)
	Pending(ctx context.Context) ([]domain.QueuedSubmission, error)
	MarkSynced(ctx context.Context, localID string) error
	Purge(ctx context.Context, now time.Time, retention time.Duration) (int64, error)
}

type Request struct {
	PaymentMethod string
	CustomerID    string
}

type Result struct {
	State     string
	Payload   domain.SalePayload
	Sale      *domain.CommittedSale
	Duplicate bool
	Queued    *domain.QueuedSubmission
	// Customer is refreshed from the ledger after a committed credit sale.
	Customer *domain.Customer
	Err      error
}

type Protocol struct {
	ledger       ledger.Ledger
	queue        Queue
	now          func() time.Time
	newReference func() string
	onCommitted  func()
	voidAttempts int
	voidBackoff  time.Duration
}

type Option func(*Protocol)

// WithCommitHook registers fn to run after every sale the ledger accepts.
// The terminal uses it to nudge the drainer once connectivity is back.
func WithCommitHook(fn func()) Option {
	return func(p *Protocol) { p.onCommitted = fn }
}

func WithVoidRetry(attempts int, backoff time.Duration) Option {
	return func(p *Protocol) {
		p.voidAttempts = attempts
		p.voidBackoff = backoff
	}
}

func NewProtocol(l ledger.Ledger, q Queue, opts ...Option) *Protocol {
	p := &Protocol{
		ledger:       l,
		queue:        q,
		now:          time.Now,
		newReference: uuid.NewString,
		voidAttempts: 3,
		voidBackoff:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.voidAttempts < 1 {
		p.voidAttempts = 1
	}
	return p
}

// Submission is one attempted sale moving through the commit state machine.
type Submission struct {
	Payload domain.SalePayload
	version uint64
	machine *stateless.StateMachine
	done    chan struct{}
	result  Result
}

func newSubmissionMachine() *stateless.StateMachine {
	machine := stateless.NewStateMachine(StateBuilding)
	machine.Configure(StateBuilding).
		Permit(triggerSubmit, StateSubmitting)
	machine.Configure(StateSubmitting).
		Permit(triggerCommit, StateCommitted).
		Permit(triggerQueue, StateQueuedOffline).
		Permit(triggerReject, StateRejected).
		Permit(triggerFail, StateFailed)
	return machine
}

func (s *Submission) State() string {
	return s.machine.MustState().(string)
}

func (s *Submission) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the submission reaches a terminal state or ctx ends.
// Giving up on Wait does not stop the submission.
func (s *Submission) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		return s.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Submit validates the cart and session, freezes a payload from a snapshot
// and sends it in the background. Validation failures return immediately
// with ledger.ErrValidation and make no remote call.
func (p *Protocol) Submit(ctx context.Context, session domain.Session, c *cart.Cart, req Request) (*Submission, error) {
	payload, version, err := p.buildPayload(session, c, req)
	if err != nil {
		return nil, err
	}

	sub := &Submission{
		Payload: payload,
		version: version,
		machine: newSubmissionMachine(),
		done:    make(chan struct{}),
	}
	if err := sub.machine.FireCtx(ctx, triggerSubmit); err != nil {
		return nil, err
	}

	go p.run(context.WithoutCancel(ctx), sub)
	return sub, nil
}

// Checkout submits the cart, waits for the outcome and settles the cart:
// committed and queued sales clear it, anything else leaves it intact.
// A queued sale is a soft success and returns no error.
func (p *Protocol) Checkout(ctx context.Context, session domain.Session, c *cart.Cart, req Request) (Result, error) {
	sub, err := p.Submit(ctx, session, c, req)
	if err != nil {
		return Result{State: StateBuilding, Err: err}, err
	}
	result, err := sub.Wait(ctx)
	if err != nil {
		return Result{State: StateSubmitting, Payload: sub.Payload}, err
	}
	Settle(c, sub)
	return result, result.Err
}

// Settle clears c when the submission ended in a state that consumed the
// cart and the cart has not been edited since the snapshot was taken.
func Settle(c *cart.Cart, sub *Submission) bool {
	select {
	case <-sub.done:
	default:
		return false
	}
	switch sub.result.State {
	case StateCommitted, StateQueuedOffline:
		return c.ClearIfVersion(sub.version)
	default:
		return false
	}
}

func (p *Protocol) buildPayload(session domain.Session, c *cart.Cart, req Request) (domain.SalePayload, uint64, error) {
	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	customerID := strings.TrimSpace(req.CustomerID)

	if c == nil || c.IsEmpty() {
		return domain.SalePayload{}, 0, fmt.Errorf("%w: cart is empty", ledger.ErrValidation)
	}
	if !domain.IsSupportedPaymentMethod(method) {
		return domain.SalePayload{}, 0, fmt.Errorf("%w: unsupported payment method %q", ledger.ErrValidation, req.PaymentMethod)
	}
	if method == domain.PaymentCredit && customerID == "" {
		return domain.SalePayload{}, 0, fmt.Errorf("%w: credit sale requires a customer", ledger.ErrValidation)
	}
	if strings.TrimSpace(session.BusinessID) == "" {
		return domain.SalePayload{}, 0, fmt.Errorf("%w: session has no business", ledger.ErrValidation)
	}

	snap := c.Snapshot()
	totals := snap.Totals.Display()
	return domain.SalePayload{
		Reference:     p.newReference(),
		BusinessID:    session.BusinessID,
		DeviceID:      session.DeviceID,
		TotalAmount:   totals.Total,
		TaxAmount:     totals.TaxAmount,
		PaymentMethod: method,
		CustomerID:    customerID,
		StaffID:       session.StaffID,
		StaffName:     session.StaffName,
		LineItems:     snap.Lines,
		CreatedAt:     p.now().UTC(),
	}, snap.Version, nil
}

func (p *Protocol) run(ctx context.Context, sub *Submission) {
	defer close(sub.done)

	result := Result{Payload: sub.Payload}
	committed, err := p.ledger.CommitSale(ctx, sub.Payload)
	switch {
	case err == nil:
		result.Sale = &committed.Sale
		result.Duplicate = committed.Duplicate
		if sub.Payload.PaymentMethod == domain.PaymentCredit {
			result.Customer = p.refreshCustomer(ctx, sub.Payload.CustomerID)
		}
		p.fire(ctx, sub, triggerCommit)
		if p.onCommitted != nil {
			p.onCommitted()
		}
	case ledger.IsTransient(err):
		entry, qerr := p.queue.Enqueue(ctx, sub.Payload)
		if qerr != nil {
			result.Err = fmt.Errorf("ledger unreachable and offline queue failed: %w", errors.Join(err, qerr))
			p.fire(ctx, sub, triggerFail)
			break
		}
		log.Printf("[checkout] sale %s queued offline: %v", sub.Payload.Reference, err)
		result.Queued = &entry
		p.fire(ctx, sub, triggerQueue)
	default:
		result.Err = ledger.Classify(err)
		p.fire(ctx, sub, triggerReject)
	}

	result.State = sub.State()
	sub.result = result
}

func (p *Protocol) fire(ctx context.Context, sub *Submission, trigger string) {
	if err := sub.machine.FireCtx(ctx, trigger); err != nil {
		log.Printf("[checkout] WARN: submission %s: %v", sub.Payload.Reference, err)
	}
}

func (p *Protocol) refreshCustomer(ctx context.Context, customerID string) *domain.Customer {
	customer, err := p.ledger.GetCustomer(ctx, customerID)
	if err != nil {
		log.Printf("[checkout] WARN: refresh customer %s: %v", customerID, err)
		return nil
	}
	return &customer
}
