package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"kasirinaja/ledger/internal/domain"
	"kasirinaja/ledger/internal/lifecycle"
	"kasirinaja/ledger/internal/store"
	"kasirinaja/ledger/internal/xid"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const serializationRetries = 3

type Store struct {
	db *sql.DB
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not open embedded migrations: %w", err)
	}
	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	defer func() {
		// Releases the migration connection only; the pool stays open.
		_, _ = m.Close()
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not apply migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err == nil {
		log.Printf("[postgres] schema at version %d (dirty=%v)", version, dirty)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context, businessID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.unit_price, p.tax_class, p.active, COALESCE(i.qty, 0)
		FROM products p
		LEFT JOIN inventory_stocks i ON i.product_id = p.id AND i.business_id = $1
		WHERE p.active = true
		ORDER BY p.name
	`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p := domain.Product{BusinessID: businessID}
		var taxClass string
		if err := rows.Scan(&p.ID, &p.Name, &p.UnitPrice, &taxClass, &p.Active, &p.Stock); err != nil {
			return nil, err
		}
		p.TaxClass = domain.TaxClass(taxClass)
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	var customer domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, business_id, name, balance, updated_at
		FROM customers
		WHERE id = $1
	`, customerID).Scan(&customer.ID, &customer.BusinessID, &customer.Name, &customer.Balance, &customer.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	customer.UpdatedAt = customer.UpdatedAt.UTC()
	return &customer, nil
}

func (s *Store) FindSaleByID(ctx context.Context, id string) (*domain.CommittedSale, error) {
	return findSale(ctx, s.db, "id", id)
}

func (s *Store) FindSaleByReference(ctx context.Context, reference string) (*domain.CommittedSale, error) {
	return findSale(ctx, s.db, "reference", reference)
}

const saleColumns = `
	id, reference, receipt_number, business_id, device_id, subtotal, tax_amount,
	total_amount, payment_method, COALESCE(customer_id, ''), staff_id, staff_name,
	status, COALESCE(void_reason, ''), COALESCE(voided_by, ''), voided_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (*domain.CommittedSale, error) {
	var sale domain.CommittedSale
	var voidedAt sql.NullTime
	err := row.Scan(
		&sale.ID,
		&sale.Reference,
		&sale.ReceiptNumber,
		&sale.BusinessID,
		&sale.DeviceID,
		&sale.Subtotal,
		&sale.TaxAmount,
		&sale.TotalAmount,
		&sale.PaymentMethod,
		&sale.CustomerID,
		&sale.StaffID,
		&sale.StaffName,
		&sale.Status,
		&sale.VoidReason,
		&sale.VoidedBy,
		&voidedAt,
		&sale.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if voidedAt.Valid {
		at := voidedAt.Time.UTC()
		sale.VoidedAt = &at
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	return &sale, nil
}

func findSale(ctx context.Context, q queryer, column string, value string) (*domain.CommittedSale, error) {
	if column != "id" && column != "reference" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	sale, err := scanSale(q.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM sales WHERE %s = $1`, saleColumns, column), value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items, err := loadItems(ctx, q, []string{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.LineItems = items[sale.ID]
	return sale, nil
}

func loadItems(ctx context.Context, q queryer, saleIDs []string) (map[string][]domain.LineItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT sale_id, product_id, name, unit_price, quantity, tax_class
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, id ASC
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make(map[string][]domain.LineItem, len(saleIDs))
	for rows.Next() {
		var saleID, taxClass string
		var item domain.LineItem
		if err := rows.Scan(&saleID, &item.ProductID, &item.Name, &item.UnitPrice, &item.Quantity, &taxClass); err != nil {
			return nil, err
		}
		item.TaxClass = domain.TaxClass(taxClass)
		items[saleID] = append(items[saleID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CommitSale(ctx context.Context, sale domain.CommittedSale) (*domain.CommittedSale, bool, error) {
	if sale.Reference == "" || sale.BusinessID == "" || len(sale.LineItems) == 0 {
		return nil, false, store.ErrInvalidTransaction
	}
	for _, item := range sale.LineItems {
		if item.Quantity < 1 || item.ProductID == "" {
			return nil, false, store.ErrInvalidTransaction
		}
	}

	if existing, err := s.FindSaleByReference(ctx, sale.Reference); err == nil {
		return existing, true, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.Status = domain.SaleStatusCompleted

	var (
		committed *domain.CommittedSale
		duplicate bool
	)
	err := s.retrySerializable(ctx, func() error {
		var err error
		committed, duplicate, err = s.commitSale(ctx, sale)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return committed, duplicate, nil
}

func (s *Store) commitSale(ctx context.Context, sale domain.CommittedSale) (*domain.CommittedSale, bool, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = pgTx.Rollback() }()

	required := requiredQuantities(sale.LineItems)
	productIDs := make([]string, 0, len(required))
	for id := range required {
		productIDs = append(productIDs, id)
	}
	slices.Sort(productIDs)

	active, err := activeProducts(ctx, pgTx, productIDs)
	if err != nil {
		return nil, false, err
	}
	stockRows, err := pgTx.QueryContext(ctx, `
		SELECT product_id, qty
		FROM inventory_stocks
		WHERE business_id = $1 AND product_id = ANY($2)
		ORDER BY product_id
		FOR UPDATE
	`, sale.BusinessID, productIDs)
	if err != nil {
		return nil, false, err
	}
	stock := make(map[string]int, len(productIDs))
	for stockRows.Next() {
		var productID string
		var qty int
		if err := stockRows.Scan(&productID, &qty); err != nil {
			_ = stockRows.Close()
			return nil, false, err
		}
		stock[productID] = qty
	}
	if err := stockRows.Err(); err != nil {
		_ = stockRows.Close()
		return nil, false, err
	}
	_ = stockRows.Close()

	for _, productID := range productIDs {
		if !active[productID] {
			return nil, false, fmt.Errorf("%w: product %s unavailable", store.ErrInvalidTransaction, productID)
		}
		if stock[productID] < required[productID] {
			return nil, false, fmt.Errorf("%w: product %s has %d left, %d requested", store.ErrInsufficientStock, productID, stock[productID], required[productID])
		}
	}

	if sale.PaymentMethod == domain.PaymentCredit {
		var businessID string
		err := pgTx.QueryRowContext(ctx, `
			SELECT business_id FROM customers WHERE id = $1 FOR UPDATE
		`, sale.CustomerID).Scan(&businessID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, false, err
		}
		if errors.Is(err, sql.ErrNoRows) || businessID != sale.BusinessID {
			return nil, false, fmt.Errorf("%w: unknown customer %s", store.ErrInvalidTransaction, sale.CustomerID)
		}
	}

	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO receipt_counters (business_id, last_number)
		VALUES ($1, 1)
		ON CONFLICT (business_id)
		DO UPDATE SET last_number = receipt_counters.last_number + 1
		RETURNING last_number
	`, sale.BusinessID).Scan(&sale.ReceiptNumber)
	if err != nil {
		return nil, false, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (
			id, reference, receipt_number, business_id, device_id, subtotal, tax_amount,
			total_amount, payment_method, customer_id, staff_id, staff_name, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, sale.ID, sale.Reference, sale.ReceiptNumber, sale.BusinessID, sale.DeviceID, sale.Subtotal,
		sale.TaxAmount, sale.TotalAmount, sale.PaymentMethod, nullIfEmpty(sale.CustomerID),
		sale.StaffID, sale.StaffName, sale.Status, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			_ = pgTx.Rollback()
			existing, lookupErr := s.FindSaleByReference(ctx, sale.Reference)
			if lookupErr == nil {
				return existing, true, nil
			}
		}
		return nil, false, err
	}

	for _, item := range sale.LineItems {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, name, unit_price, quantity, tax_class)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, sale.ID, item.ProductID, item.Name, item.UnitPrice, item.Quantity, string(item.TaxClass))
		if err != nil {
			return nil, false, err
		}
	}
	for _, productID := range productIDs {
		_, err := pgTx.ExecContext(ctx, `
			UPDATE inventory_stocks
			SET qty = qty - $1, updated_at = now()
			WHERE business_id = $2 AND product_id = $3
		`, required[productID], sale.BusinessID, productID)
		if err != nil {
			return nil, false, err
		}
	}
	if sale.PaymentMethod == domain.PaymentCredit {
		_, err := pgTx.ExecContext(ctx, `
			UPDATE customers
			SET balance = balance + $2, updated_at = $3
			WHERE id = $1
		`, sale.CustomerID, sale.TotalAmount, sale.CreatedAt)
		if err != nil {
			return nil, false, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, false, err
	}
	return &sale, false, nil
}

func activeProducts(ctx context.Context, q queryer, productIDs []string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id FROM products WHERE active = true AND id = ANY($1)
	`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	active := make(map[string]bool, len(productIDs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		active[id] = true
	}
	return active, rows.Err()
}

func (s *Store) VoidSale(ctx context.Context, id string, reason string, voidedBy string, at time.Time) (*domain.CommittedSale, bool, error) {
	var (
		voided        *domain.CommittedSale
		alreadyVoided bool
	)
	err := s.retrySerializable(ctx, func() error {
		var err error
		voided, alreadyVoided, err = s.voidSale(ctx, id, reason, voidedBy, at)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return voided, alreadyVoided, nil
}

func (s *Store) voidSale(ctx context.Context, id string, reason string, voidedBy string, at time.Time) (*domain.CommittedSale, bool, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = pgTx.Rollback() }()

	sale, err := scanSale(pgTx.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM sales WHERE id = $1 FOR UPDATE`, saleColumns), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, store.ErrNotFound
		}
		return nil, false, err
	}
	items, err := loadItems(ctx, pgTx, []string{sale.ID})
	if err != nil {
		return nil, false, err
	}
	sale.LineItems = items[sale.ID]

	next, alreadyVoided, err := lifecycle.Void(ctx, sale.Status)
	if err != nil {
		return nil, false, err
	}
	if alreadyVoided {
		return sale, true, nil
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE sales
		SET status = $2, void_reason = $3, voided_by = $4, voided_at = $5
		WHERE id = $1 AND status = $6
	`, id, next, reason, voidedBy, at, domain.SaleStatusCompleted)
	if err != nil {
		return nil, false, err
	}

	for productID, qty := range requiredQuantities(sale.LineItems) {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO inventory_stocks (business_id, product_id, qty, updated_at)
			VALUES ($1,$2,$3,now())
			ON CONFLICT (business_id, product_id)
			DO UPDATE SET qty = inventory_stocks.qty + EXCLUDED.qty, updated_at = now()
		`, sale.BusinessID, productID, qty)
		if err != nil {
			return nil, false, err
		}
	}
	if sale.PaymentMethod == domain.PaymentCredit && sale.CustomerID != "" {
		_, err := pgTx.ExecContext(ctx, `
			UPDATE customers
			SET balance = balance - $2, updated_at = $3
			WHERE id = $1
		`, sale.CustomerID, sale.TotalAmount, at)
		if err != nil {
			return nil, false, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, false, err
	}

	sale.Status = next
	sale.VoidReason = reason
	sale.VoidedBy = voidedBy
	voidedAt := at.UTC()
	sale.VoidedAt = &voidedAt
	return sale, false, nil
}

func (s *Store) RecordPayment(ctx context.Context, payment domain.CustomerPayment) (*domain.CustomerPayment, *domain.Customer, bool, error) {
	if payment.CustomerID == "" || payment.Reference == "" || !payment.Amount.IsPositive() {
		return nil, nil, false, store.ErrInvalidTransaction
	}
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, false, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var customer domain.Customer
	err = pgTx.QueryRowContext(ctx, `
		SELECT id, business_id, name, balance, updated_at
		FROM customers
		WHERE id = $1
		FOR UPDATE
	`, payment.CustomerID).Scan(&customer.ID, &customer.BusinessID, &customer.Name, &customer.Balance, &customer.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, false, store.ErrNotFound
		}
		return nil, nil, false, err
	}

	var existing domain.CustomerPayment
	err = pgTx.QueryRowContext(ctx, `
		SELECT id, business_id, customer_id, amount, reference, recorded_by, created_at
		FROM customer_payments
		WHERE customer_id = $1 AND reference = $2
	`, payment.CustomerID, payment.Reference).Scan(
		&existing.ID, &existing.BusinessID, &existing.CustomerID, &existing.Amount,
		&existing.Reference, &existing.RecordedBy, &existing.CreatedAt)
	if err == nil {
		existing.CreatedAt = existing.CreatedAt.UTC()
		customer.UpdatedAt = customer.UpdatedAt.UTC()
		return &existing, &customer, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, false, err
	}

	payment.BusinessID = customer.BusinessID
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO customer_payments (id, business_id, customer_id, amount, reference, recorded_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, payment.ID, payment.BusinessID, payment.CustomerID, payment.Amount, payment.Reference, payment.RecordedBy, payment.CreatedAt)
	if err != nil {
		return nil, nil, false, err
	}
	customer.Balance = customer.Balance.Sub(payment.Amount)
	customer.UpdatedAt = payment.CreatedAt
	_, err = pgTx.ExecContext(ctx, `
		UPDATE customers SET balance = $2, updated_at = $3 WHERE id = $1
	`, customer.ID, customer.Balance, customer.UpdatedAt)
	if err != nil {
		return nil, nil, false, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, nil, false, err
	}
	return &payment, &customer, false, nil
}

func (s *Store) ReconcileCustomerBalance(ctx context.Context, customerID string) (domain.BalanceReconciliation, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.BalanceReconciliation{}, err
	}
	defer func() { _ = pgTx.Rollback() }()

	result := domain.BalanceReconciliation{CustomerID: customerID}
	err = pgTx.QueryRowContext(ctx, `
		SELECT balance FROM customers WHERE id = $1 FOR UPDATE
	`, customerID).Scan(&result.Previous)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.BalanceReconciliation{}, store.ErrNotFound
		}
		return domain.BalanceReconciliation{}, err
	}

	var credit, paid decimal.Decimal
	err = pgTx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_amount), 0)
		FROM sales
		WHERE customer_id = $1 AND payment_method = $2 AND status = $3
	`, customerID, domain.PaymentCredit, domain.SaleStatusCompleted).Scan(&credit)
	if err != nil {
		return domain.BalanceReconciliation{}, err
	}
	err = pgTx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM customer_payments WHERE customer_id = $1
	`, customerID).Scan(&paid)
	if err != nil {
		return domain.BalanceReconciliation{}, err
	}

	result.Recomputed = credit.Sub(paid)
	result.Delta = result.Recomputed.Sub(result.Previous)
	if result.Delta.IsZero() {
		return result, nil
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE customers SET balance = $2, updated_at = now() WHERE id = $1
	`, customerID, result.Recomputed)
	if err != nil {
		return domain.BalanceReconciliation{}, err
	}
	if err := pgTx.Commit(); err != nil {
		return domain.BalanceReconciliation{}, err
	}
	result.Corrected = true
	return result, nil
}

func (s *Store) ListSales(ctx context.Context, businessID string, from time.Time, to time.Time) ([]domain.CommittedSale, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM sales
		WHERE business_id = $1
			AND status = $2
			AND created_at >= $3
			AND created_at < $4
		ORDER BY created_at ASC, receipt_number ASC
	`, saleColumns), businessID, domain.SaleStatusCompleted, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.CommittedSale, 0, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return sales, nil
	}

	items, err := loadItems(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].LineItems = items[sales[i].ID]
	}
	return sales, nil
}

func (s *Store) GetDailyReport(ctx context.Context, businessID string, from time.Time, to time.Time) (domain.DailyReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payment_method, status, COUNT(*),
			COALESCE(SUM(subtotal), 0), COALESCE(SUM(tax_amount), 0), COALESCE(SUM(total_amount), 0)
		FROM sales
		WHERE business_id = $1
			AND created_at >= $2
			AND created_at < $3
		GROUP BY payment_method, status
		ORDER BY payment_method ASC
	`, businessID, from, to)
	if err != nil {
		return domain.DailyReport{}, err
	}
	defer rows.Close()

	report := domain.DailyReport{
		BusinessID:  businessID,
		Subtotal:    decimal.Zero,
		TaxAmount:   decimal.Zero,
		TotalAmount: decimal.Zero,
		ByPayment:   make([]domain.DailyReportPayment, 0, 4),
	}
	for rows.Next() {
		var (
			method, status       string
			count                int64
			subtotal, tax, total decimal.Decimal
		)
		if err := rows.Scan(&method, &status, &count, &subtotal, &tax, &total); err != nil {
			return domain.DailyReport{}, err
		}
		if status == domain.SaleStatusVoided {
			report.Voided += count
			continue
		}
		report.Sales += count
		report.Subtotal = report.Subtotal.Add(subtotal)
		report.TaxAmount = report.TaxAmount.Add(tax)
		report.TotalAmount = report.TotalAmount.Add(total)
		report.ByPayment = append(report.ByPayment, domain.DailyReportPayment{
			PaymentMethod: method,
			Sales:         count,
			TotalAmount:   total,
		})
	}
	if err := rows.Err(); err != nil {
		return domain.DailyReport{}, err
	}
	return report, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, business_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.BusinessID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, businessID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, business_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE business_id = $1
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, businessID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.BusinessID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// retrySerializable reruns fn when postgres aborts it with a serialization
// failure. Any other error is returned as is.
func (s *Store) retrySerializable(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= serializationRetries; attempt++ {
		err = fn()
		if err == nil || !isSerializationFailure(err) {
			return err
		}
		log.Printf("[postgres] serialization failure, attempt %d: %v", attempt, err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

func requiredQuantities(items []domain.LineItem) map[string]int {
	required := make(map[string]int, len(items))
	for _, item := range items {
		if item.ProductID == "" {
			continue
		}
		required[item.ProductID] += item.Quantity
	}
	return required
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
