package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"kasirinaja/ledger/internal/bizday"
	"kasirinaja/ledger/internal/cache"
	"kasirinaja/ledger/internal/domain"
	"kasirinaja/ledger/internal/events"
	"kasirinaja/ledger/internal/store"
	"kasirinaja/ledger/internal/tax"
	"kasirinaja/ledger/internal/xid"
)

const defaultCacheTTL = 10 * time.Minute

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Dependencies are the optional collaborators of the ledger service. Nil
// members fall back to no-op implementations.
type Dependencies struct {
	Cache     cache.SaleCache
	Publisher events.Publisher
	Calendar  bizday.Calendar
	CacheTTL  time.Duration
}

type Service struct {
	repo              store.Repository
	cache             cache.SaleCache
	publisher         events.Publisher
	calendar          bizday.Calendar
	cacheTTL          time.Duration
	validate          *validator.Validate
	defaultBusinessID string
	now               func() time.Time
}

func New(repo store.Repository, deps Dependencies, defaultBusinessID string) *Service {
	if defaultBusinessID == "" {
		defaultBusinessID = "main-store"
	}
	if deps.Cache == nil {
		deps.Cache = cache.NoopSaleCache{}
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NoopPublisher{}
	}
	if deps.CacheTTL <= 0 {
		deps.CacheTTL = defaultCacheTTL
	}

	return &Service{
		repo:              repo,
		cache:             deps.Cache,
		publisher:         deps.Publisher,
		calendar:          deps.Calendar,
		cacheTTL:          deps.CacheTTL,
		validate:          validator.New(validator.WithRequiredStructEnabled()),
		defaultBusinessID: defaultBusinessID,
		now:               time.Now,
	}
}

func (s *Service) ListProducts(ctx context.Context, businessID string) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, defaultString(businessID, s.defaultBusinessID))
}

// CommitSale records a sale exactly once per reference. Replays return the
// stored sale flagged as a duplicate without touching stock again.
func (s *Service) CommitSale(ctx context.Context, payload domain.SalePayload) (domain.CommitResult, error) {
	payload.BusinessID = defaultString(strings.TrimSpace(payload.BusinessID), s.defaultBusinessID)
	payload.PaymentMethod = strings.ToLower(strings.TrimSpace(payload.PaymentMethod))
	payload.CustomerID = strings.TrimSpace(payload.CustomerID)

	if err := s.validate.Struct(payload); err != nil {
		return domain.CommitResult{}, validationError(err)
	}

	if cached, ok, err := s.cache.Get(ctx, payload.Reference); err != nil {
		log.Printf("[cache] WARN: sale lookup %s: %v", payload.Reference, err)
	} else if ok {
		return domain.CommitResult{Sale: *cached, Duplicate: true}, nil
	}

	totals, err := verifyTotals(payload)
	if err != nil {
		return domain.CommitResult{}, err
	}

	actor, _ := ActorFromContext(ctx)
	createdAt := payload.CreatedAt.UTC()
	if payload.CreatedAt.IsZero() {
		createdAt = s.now().UTC()
	}
	lines := make([]domain.LineItem, len(payload.LineItems))
	copy(lines, payload.LineItems)

	sale, duplicate, err := s.repo.CommitSale(ctx, domain.CommittedSale{
		ID:            xid.New("sale"),
		Reference:     payload.Reference,
		BusinessID:    payload.BusinessID,
		DeviceID:      payload.DeviceID,
		Subtotal:      totals.Subtotal,
		TaxAmount:     totals.TaxAmount,
		TotalAmount:   totals.Total,
		PaymentMethod: payload.PaymentMethod,
		CustomerID:    payload.CustomerID,
		StaffID:       defaultString(payload.StaffID, actor.Username),
		StaffName:     defaultString(payload.StaffName, actor.Username),
		CreatedAt:     createdAt,
		LineItems:     lines,
	})
	if err != nil {
		return domain.CommitResult{}, err
	}

	if err := s.cache.Set(ctx, sale, s.cacheTTL); err != nil {
		log.Printf("[cache] WARN: store sale %s: %v", sale.Reference, err)
	}
	if !duplicate {
		s.logAudit(ctx, sale.BusinessID, "commit_sale", "sale", sale.ID,
			fmt.Sprintf("receipt=%d total=%s method=%s", sale.ReceiptNumber, sale.TotalAmount.StringFixed(2), sale.PaymentMethod))
		s.publish(ctx, domain.EventSaleCommitted, *sale)
	}

	return domain.CommitResult{Sale: *sale, Duplicate: duplicate}, nil
}

// verifyTotals recomputes the sale from its lines and requires the declared
// totals to match to the cent.
func verifyTotals(payload domain.SalePayload) (tax.Totals, error) {
	for _, line := range payload.LineItems {
		if line.UnitPrice.IsNegative() {
			return tax.Totals{}, fmt.Errorf("%w: negative unit price for %s", store.ErrInvalidTransaction, line.ProductID)
		}
	}
	computed, err := tax.CartTotals(payload.LineItems)
	if err != nil {
		return tax.Totals{}, fmt.Errorf("%w: %v", store.ErrInvalidTransaction, err)
	}
	display := computed.Display()
	if !payload.TotalAmount.Round(2).Equal(display.Total) || !payload.TaxAmount.Round(2).Equal(display.TaxAmount) {
		return tax.Totals{}, fmt.Errorf("%w: declared total %s tax %s, line items give total %s tax %s",
			store.ErrInvalidTransaction,
			payload.TotalAmount.StringFixed(2), payload.TaxAmount.StringFixed(2),
			display.Total.StringFixed(2), display.TaxAmount.StringFixed(2))
	}
	return display, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.CommittedSale, error) {
	if strings.TrimSpace(id) == "" {
		return domain.CommittedSale{}, store.ErrInvalidTransaction
	}
	sale, err := s.repo.FindSaleByID(ctx, id)
	if err != nil {
		return domain.CommittedSale{}, err
	}
	return *sale, nil
}

func (s *Service) GetSaleByReference(ctx context.Context, reference string) (domain.CommittedSale, error) {
	if strings.TrimSpace(reference) == "" {
		return domain.CommittedSale{}, store.ErrInvalidTransaction
	}
	if cached, ok, err := s.cache.Get(ctx, reference); err == nil && ok {
		return *cached, nil
	}
	sale, err := s.repo.FindSaleByReference(ctx, reference)
	if err != nil {
		return domain.CommittedSale{}, err
	}
	if err := s.cache.Set(ctx, sale, s.cacheTTL); err != nil {
		log.Printf("[cache] WARN: store sale %s: %v", sale.Reference, err)
	}
	return *sale, nil
}

// VoidSale reverses a committed sale. Repeating the void is a successful
// no-op reported through AlreadyVoided.
func (s *Service) VoidSale(ctx context.Context, saleID string, req domain.VoidSaleRequest) (domain.VoidResult, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !domain.IsPrivilegedRole(actor.Role) {
		return domain.VoidResult{}, fmt.Errorf("%w: void requires a manager or admin", store.ErrForbidden)
	}
	saleID = strings.TrimSpace(saleID)
	reason := strings.TrimSpace(req.Reason)
	if saleID == "" {
		return domain.VoidResult{}, fmt.Errorf("%w: sale id required", store.ErrInvalidTransaction)
	}
	if reason == "" {
		return domain.VoidResult{}, fmt.Errorf("%w: void reason required", store.ErrInvalidTransaction)
	}

	sale, alreadyVoided, err := s.repo.VoidSale(ctx, saleID, reason, actor.Username, s.now().UTC())
	if err != nil {
		return domain.VoidResult{}, err
	}

	if err := s.cache.Delete(ctx, sale.Reference); err != nil {
		log.Printf("[cache] WARN: drop sale %s: %v", sale.Reference, err)
	}
	if !alreadyVoided {
		s.logAudit(ctx, sale.BusinessID, "void_sale", "sale", sale.ID, reason)
		s.publish(ctx, domain.EventSaleVoided, *sale)
	}

	return domain.VoidResult{Sale: *sale, AlreadyVoided: alreadyVoided}, nil
}

func (s *Service) GetCustomer(ctx context.Context, customerID string) (domain.Customer, error) {
	if strings.TrimSpace(customerID) == "" {
		return domain.Customer{}, store.ErrInvalidTransaction
	}
	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

// RecordPayment settles part of a customer's credit balance. A repeated
// payment reference returns the original payment unchanged.
func (s *Service) RecordPayment(ctx context.Context, customerID string, req domain.PaymentRequest) (domain.PaymentResult, error) {
	customerID = strings.TrimSpace(customerID)
	reference := strings.TrimSpace(req.Reference)
	if customerID == "" || reference == "" {
		return domain.PaymentResult{}, fmt.Errorf("%w: customer and payment reference required", store.ErrInvalidTransaction)
	}
	if !req.Amount.IsPositive() {
		return domain.PaymentResult{}, fmt.Errorf("%w: payment amount must be positive", store.ErrInvalidTransaction)
	}

	actor, _ := ActorFromContext(ctx)
	payment, customer, duplicate, err := s.repo.RecordPayment(ctx, domain.CustomerPayment{
		ID:         xid.New("pay"),
		CustomerID: customerID,
		Amount:     req.Amount,
		Reference:  reference,
		RecordedBy: actor.Username,
		CreatedAt:  s.now().UTC(),
	})
	if err != nil {
		return domain.PaymentResult{}, err
	}
	if !duplicate {
		s.logAudit(ctx, customer.BusinessID, "record_payment", "customer", customer.ID,
			fmt.Sprintf("amount=%s reference=%s", payment.Amount.StringFixed(2), payment.Reference))
	}
	return domain.PaymentResult{Payment: *payment, Customer: *customer, Duplicate: duplicate}, nil
}

// ReconcileCustomerBalance recomputes a balance from credit sales and
// payments and corrects any drift.
func (s *Service) ReconcileCustomerBalance(ctx context.Context, customerID string) (domain.BalanceReconciliation, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !domain.IsPrivilegedRole(actor.Role) {
		return domain.BalanceReconciliation{}, fmt.Errorf("%w: reconciliation requires a manager or admin", store.ErrForbidden)
	}
	if strings.TrimSpace(customerID) == "" {
		return domain.BalanceReconciliation{}, store.ErrInvalidTransaction
	}

	result, err := s.repo.ReconcileCustomerBalance(ctx, customerID)
	if err != nil {
		return domain.BalanceReconciliation{}, err
	}
	if result.Corrected {
		log.Printf("[reconcile] customer %s balance corrected from %s to %s", customerID, result.Previous, result.Recomputed)
		customer, err := s.repo.GetCustomer(ctx, customerID)
		businessID := s.defaultBusinessID
		if err == nil {
			businessID = customer.BusinessID
		}
		s.logAudit(ctx, businessID, "reconcile_balance", "customer", customerID,
			fmt.Sprintf("previous=%s recomputed=%s", result.Previous.StringFixed(2), result.Recomputed.StringFixed(2)))
	}
	return result, nil
}

// ListSettledSales returns completed, non-voided sales created in [from, to).
func (s *Service) ListSettledSales(ctx context.Context, businessID string, from time.Time, to time.Time) ([]domain.CommittedSale, error) {
	if from.IsZero() || to.IsZero() {
		from, to = s.calendar.Day(s.now())
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: range start must be before its end", store.ErrInvalidTransaction)
	}
	return s.repo.ListSales(ctx, defaultString(businessID, s.defaultBusinessID), from.UTC(), to.UTC())
}

func (s *Service) DailyReport(ctx context.Context, businessID string, date string) (domain.DailyReport, error) {
	businessID = defaultString(businessID, s.defaultBusinessID)

	label, from, to, err := s.calendar.ParseDay(date, s.now())
	if err != nil {
		return domain.DailyReport{}, fmt.Errorf("%w: %v", store.ErrInvalidTransaction, err)
	}

	report, err := s.repo.GetDailyReport(ctx, businessID, from, to)
	if err != nil {
		return domain.DailyReport{}, err
	}
	report.BusinessID = businessID
	report.Date = label
	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, businessID string, date string, limit int) ([]domain.AuditLog, error) {
	businessID = defaultString(businessID, s.defaultBusinessID)
	if limit < 1 {
		limit = 100
	}

	_, from, to, err := s.calendar.ParseDay(date, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidTransaction, err)
	}
	return s.repo.ListAuditLogs(ctx, businessID, from, to, limit)
}

func (s *Service) publish(ctx context.Context, eventType string, sale domain.CommittedSale) {
	event := domain.SaleEvent{Type: eventType, Sale: sale, OccurredAt: s.now().UTC()}
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Printf("[events] WARN: publish %s for sale %s: %v", eventType, sale.ID, err)
	}
}

func (s *Service) logAudit(ctx context.Context, businessID string, action string, entityType string, entityID string, detail string) {
	if businessID == "" {
		businessID = s.defaultBusinessID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		BusinessID:    businessID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", store.ErrInvalidTransaction, err)
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", store.ErrInvalidTransaction, strings.Join(problems, "; "))
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
