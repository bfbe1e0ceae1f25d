package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"kasirinaja/ledger/internal/domain"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("KASIRINAJA_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set KASIRINAJA_TEST_DATABASE_URL to run postgres integration test")
	}

	s, err := New(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func seedProduct(t *testing.T, s *Store, businessID string, productID string, qty int) {
	t.Helper()
	ctx := context.Background()

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE business_id = $1`, businessID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM receipt_counters WHERE business_id = $1`, businessID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_stocks WHERE business_id = $1`, businessID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, unit_price, tax_class, active)
		VALUES ($1, 'Produk IT', 116, 'standard', true)
	`, productID); err != nil {
		t.Fatalf("insert product: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_stocks (business_id, product_id, qty)
		VALUES ($1, $2, $3)
	`, businessID, productID, qty); err != nil {
		t.Fatalf("seed stock: %v", err)
	}
}

func integrationSale(businessID string, productID string, qty int) domain.CommittedSale {
	total := decimal.NewFromInt(int64(116 * qty))
	return domain.CommittedSale{
		Reference:     uuid.NewString(),
		BusinessID:    businessID,
		DeviceID:      "T-IT",
		Subtotal:      decimal.NewFromInt(int64(100 * qty)),
		TaxAmount:     decimal.NewFromInt(int64(16 * qty)),
		TotalAmount:   total,
		PaymentMethod: domain.PaymentCash,
		StaffName:     "it",
		LineItems: []domain.LineItem{{
			ProductID: productID,
			Name:      "Produk IT",
			UnitPrice: decimal.NewFromInt(116),
			Quantity:  qty,
			TaxClass:  domain.TaxStandard,
		}},
	}
}

func stockQty(t *testing.T, s *Store, businessID string, productID string) int {
	t.Helper()
	var qty int
	if err := s.db.QueryRowContext(context.Background(), `
		SELECT qty FROM inventory_stocks WHERE business_id = $1 AND product_id = $2
	`, businessID, productID).Scan(&qty); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	return qty
}

func TestCommitAndVoidSaleRestocksInventory(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	businessID := fmt.Sprintf("biz-it-%d", stamp)
	productID := fmt.Sprintf("SKU-IT-%d", stamp)
	seedProduct(t, s, businessID, productID, 10)

	sale := integrationSale(businessID, productID, 2)
	committed, duplicate, err := s.CommitSale(ctx, sale)
	if err != nil || duplicate {
		t.Fatalf("commit sale: duplicate=%v err=%v", duplicate, err)
	}
	if committed.ReceiptNumber != 1 {
		t.Fatalf("expected first receipt number 1, got %d", committed.ReceiptNumber)
	}
	if qty := stockQty(t, s, businessID, productID); qty != 8 {
		t.Fatalf("expected stock 8 after commit, got %d", qty)
	}

	replayed, duplicate, err := s.CommitSale(ctx, sale)
	if err != nil || !duplicate || replayed.ID != committed.ID {
		t.Fatalf("replay must return the original sale: duplicate=%v err=%v", duplicate, err)
	}

	at := time.Now().UTC()
	voided, already, err := s.VoidSale(ctx, committed.ID, "integration test void", "manager", at)
	if err != nil || already {
		t.Fatalf("void sale: already=%v err=%v", already, err)
	}
	if voided.Status != domain.SaleStatusVoided {
		t.Fatalf("expected status voided, got %s", voided.Status)
	}
	if _, already, err := s.VoidSale(ctx, committed.ID, "again", "manager", at); err != nil || !already {
		t.Fatalf("second void must be a no-op: already=%v err=%v", already, err)
	}
	if qty := stockQty(t, s, businessID, productID); qty != 10 {
		t.Fatalf("expected stock 10 after void restock, got %d", qty)
	}
}

func TestConcurrentCommitsNeverOversell(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	businessID := fmt.Sprintf("biz-race-%d", stamp)
	productID := fmt.Sprintf("SKU-RACE-%d", stamp)
	seedProduct(t, s, businessID, productID, 3)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = s.CommitSale(ctx, integrationSale(businessID, productID, 1))
		}()
	}
	wg.Wait()

	if qty := stockQty(t, s, businessID, productID); qty < 0 {
		t.Fatalf("stock went negative: %d", qty)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sales WHERE business_id = $1`, businessID).Scan(&count); err != nil {
		t.Fatalf("count sales: %v", err)
	}
	if count+stockQty(t, s, businessID, productID) != 3 {
		t.Fatalf("committed sales and remaining stock must add up to 3, got %d sales", count)
	}
}
