package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/ledger/internal/checkout"
	"kasirinaja/ledger/internal/domain"
	"kasirinaja/ledger/internal/ledger"
	"kasirinaja/ledger/internal/offline"
)

type stubLedger struct {
	mu      sync.Mutex
	offline bool
	sales   map[string]domain.CommittedSale
	voided  map[string]bool
}

func newStubLedger() *stubLedger {
	return &stubLedger{sales: map[string]domain.CommittedSale{}, voided: map[string]bool{}}
}

func (s *stubLedger) setOffline(v bool) {
	s.mu.Lock()
	s.offline = v
	s.mu.Unlock()
}

func (s *stubLedger) CommitSale(_ context.Context, payload domain.SalePayload) (domain.CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return domain.CommitResult{}, fmt.Errorf("%w: connection refused", ledger.ErrTransient)
	}
	if existing, ok := s.sales[payload.Reference]; ok {
		return domain.CommitResult{Sale: existing, Duplicate: true}, nil
	}
	sale := domain.CommittedSale{
		ID:            fmt.Sprintf("sale-%d", len(s.sales)+1),
		Reference:     payload.Reference,
		ReceiptNumber: int64(len(s.sales) + 1),
		Subtotal:      payload.TotalAmount.Sub(payload.TaxAmount),
		TaxAmount:     payload.TaxAmount,
		TotalAmount:   payload.TotalAmount,
		PaymentMethod: payload.PaymentMethod,
		Status:        domain.SaleStatusCompleted,
		LineItems:     payload.LineItems,
	}
	s.sales[payload.Reference] = sale
	return domain.CommitResult{Sale: sale}, nil
}

func (s *stubLedger) VoidSale(_ context.Context, saleID string, reason string) (domain.VoidResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sale := range s.sales {
		if sale.ID != saleID {
			continue
		}
		already := s.voided[saleID]
		s.voided[saleID] = true
		sale.Status = domain.SaleStatusVoided
		sale.VoidReason = reason
		return domain.VoidResult{Sale: sale, AlreadyVoided: already}, nil
	}
	return domain.VoidResult{}, fmt.Errorf("%w: sale %s", ledger.ErrNotFound, saleID)
}

func (s *stubLedger) GetCustomer(_ context.Context, customerID string) (domain.Customer, error) {
	return domain.Customer{ID: customerID, Name: "Bu Sari", Balance: decimal.Zero}, nil
}

func (s *stubLedger) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return nil, fmt.Errorf("%w: connection refused", ledger.ErrTransient)
	}
	return []domain.Product{
		{ID: "SKU-KOPI-01", Name: "Kopi Sachet", UnitPrice: decimal.RequireFromString("116.00"), TaxClass: domain.TaxStandard, Active: true, Stock: 10},
		{ID: "SKU-GULA-01", Name: "Gula 1kg", UnitPrice: decimal.RequireFromString("17400"), TaxClass: domain.TaxZeroRated, Active: true, Stock: 10},
	}, nil
}

func (s *stubLedger) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return ledger.ErrTransient
	}
	return nil
}

func newTestConsole(t *testing.T, role string) (*console, *stubLedger, *bytes.Buffer) {
	t.Helper()
	ctx := context.Background()

	queue, err := offline.Open(ctx, filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { _ = queue.Close() })

	l := newStubLedger()
	drainer := checkout.NewDrainer(l, queue, time.Hour, 7*24*time.Hour)
	protocol := checkout.NewProtocol(l, queue, checkout.WithVoidRetry(1, time.Millisecond))
	session := domain.Session{BusinessID: "main-store", DeviceID: "till-1", StaffID: "kasir", StaffName: "Kasir", Role: role}

	out := &bytes.Buffer{}
	c := newConsole(l, protocol, drainer, queue, session, out)
	c.refreshCatalog(ctx)
	return c, l, out
}

func TestConsoleScanAndPay(t *testing.T) {
	c, _, out := newTestConsole(t, domain.RoleCashier)
	ctx := context.Background()

	c.handle(ctx, "scan sku-kopi-01")
	c.handle(ctx, "show")
	if !strings.Contains(out.String(), "subtotal 100.00  tax 16.00  total 116.00") {
		t.Fatalf("expected 116.00 standard line to split 100.00 + 16.00, got:\n%s", out.String())
	}

	out.Reset()
	c.handle(ctx, "pay cash")
	if !strings.Contains(out.String(), "receipt #1") {
		t.Fatalf("expected a receipt, got:\n%s", out.String())
	}
	if !c.cart.IsEmpty() {
		t.Fatalf("committed sale must clear the cart")
	}
}

func TestConsoleCreditWithoutCustomerKeepsCart(t *testing.T) {
	c, l, out := newTestConsole(t, domain.RoleCashier)
	ctx := context.Background()

	c.handle(ctx, "scan SKU-GULA-01")
	out.Reset()
	c.handle(ctx, "pay credit")

	if !strings.Contains(out.String(), "cannot checkout") {
		t.Fatalf("expected validation message, got:\n%s", out.String())
	}
	if c.cart.Quantity("SKU-GULA-01") != 1 {
		t.Fatalf("cart must be unchanged after validation failure")
	}
	if len(l.sales) != 0 {
		t.Fatalf("validation failure must not reach the ledger")
	}
}

func TestConsoleOfflineSaleQueuesAndSyncs(t *testing.T) {
	c, l, out := newTestConsole(t, domain.RoleCashier)
	ctx := context.Background()

	l.setOffline(true)
	c.handle(ctx, "scan SKU-KOPI-01")
	out.Reset()
	c.handle(ctx, "pay qris")
	if !strings.Contains(out.String(), "sale recorded, will sync") {
		t.Fatalf("expected queued message, got:\n%s", out.String())
	}
	if !c.cart.IsEmpty() {
		t.Fatalf("queued sale must clear the cart")
	}

	out.Reset()
	c.handle(ctx, "status")
	if !strings.Contains(out.String(), "1 pending") {
		t.Fatalf("expected one pending sale, got:\n%s", out.String())
	}

	l.setOffline(false)
	out.Reset()
	c.handle(ctx, "sync")
	if !strings.Contains(out.String(), "synced 1 of 1") {
		t.Fatalf("expected drain to sync the queued sale, got:\n%s", out.String())
	}
	if len(l.sales) != 1 {
		t.Fatalf("expected one committed sale, got %d", len(l.sales))
	}
}

func TestConsoleVoidNeedsPrivilegedSession(t *testing.T) {
	cashier, _, out := newTestConsole(t, domain.RoleCashier)
	ctx := context.Background()

	cashier.handle(ctx, "scan SKU-KOPI-01")
	cashier.handle(ctx, "pay cash")
	out.Reset()
	cashier.handle(ctx, "void sale-1 wrong item")
	if !strings.Contains(out.String(), "void refused") {
		t.Fatalf("cashier void must be refused, got:\n%s", out.String())
	}

	manager, _, out := newTestConsole(t, domain.RoleManager)
	manager.handle(ctx, "scan SKU-KOPI-01")
	manager.handle(ctx, "pay cash")
	out.Reset()
	manager.handle(ctx, "void sale-1 wrong item")
	if !strings.Contains(out.String(), "sale sale-1 voided") {
		t.Fatalf("expected void confirmation, got:\n%s", out.String())
	}
	out.Reset()
	manager.handle(ctx, "void sale-1 wrong item")
	if !strings.Contains(out.String(), "already voided: wrong item") {
		t.Fatalf("second void must report the stored state, got:\n%s", out.String())
	}
}

func TestConsoleQuantityAndQuit(t *testing.T) {
	c, _, _ := newTestConsole(t, domain.RoleCashier)
	ctx := context.Background()

	c.handle(ctx, "scan SKU-KOPI-01")
	c.handle(ctx, "qty SKU-KOPI-01 2")
	if got := c.cart.Quantity("SKU-KOPI-01"); got != 3 {
		t.Fatalf("expected quantity 3, got %d", got)
	}
	c.handle(ctx, "qty SKU-KOPI-01 -3")
	if !c.cart.IsEmpty() {
		t.Fatalf("removing every unit must drop the line")
	}
	if !c.handle(ctx, "quit") {
		t.Fatalf("quit must stop the console")
	}
}

type roleStub struct {
	role string
	err  error
}

func (r roleStub) Role(context.Context) (string, error) { return r.role, r.err }

func TestResolveRoleFallsBackToCashier(t *testing.T) {
	if got := resolveRole(context.Background(), roleStub{role: domain.RoleManager}); got != domain.RoleManager {
		t.Fatalf("expected manager, got %q", got)
	}
	if got := resolveRole(context.Background(), roleStub{err: errors.New("offline")}); got != domain.RoleCashier {
		t.Fatalf("expected cashier fallback, got %q", got)
	}
}
