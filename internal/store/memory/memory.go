package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"kasirinaja/ledger/internal/domain"
	"kasirinaja/ledger/internal/lifecycle"
	"kasirinaja/ledger/internal/store"
	"kasirinaja/ledger/internal/xid"
)

const DefaultBusinessID = "main-store"

type Store struct {
	mu               sync.RWMutex
	products         map[string]domain.Product
	inventory        map[string]map[string]int
	salesByID        map[string]*domain.CommittedSale
	salesByReference map[string]*domain.CommittedSale
	receiptCounters  map[string]int64
	customersByID    map[string]domain.Customer
	payments         []domain.CustomerPayment
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and
// SEED_CASHIER_PASSWORD. If unset, hardcoded dev defaults are used with a
// warning. These credentials are never used in production (the ledger uses
// PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"manager", managerPwd, domain.RoleManager},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	products := []domain.Product{
		{ID: "SKU-MIE-01", Name: "Mie Goreng Instan", UnitPrice: decimal.NewFromInt(3500), TaxClass: domain.TaxStandard, Active: true},
		{ID: "SKU-TELUR-01", Name: "Telur 10 Butir", UnitPrice: decimal.NewFromInt(26500), TaxClass: domain.TaxZeroRated, Active: true},
		{ID: "SKU-SUSU-01", Name: "Susu UHT 1L", UnitPrice: decimal.NewFromInt(18900), TaxClass: domain.TaxZeroRated, Active: true},
		{ID: "SKU-ROTI-01", Name: "Roti Tawar", UnitPrice: decimal.NewFromInt(17800), TaxClass: domain.TaxExempt, Active: true},
		{ID: "SKU-KOPI-01", Name: "Kopi Sachet", UnitPrice: decimal.NewFromInt(2600), TaxClass: domain.TaxStandard, Active: true},
		{ID: "SKU-GULA-01", Name: "Gula 1kg", UnitPrice: decimal.NewFromInt(17400), TaxClass: domain.TaxZeroRated, Active: true},
		{ID: "SKU-TEH-01", Name: "Teh Celup", UnitPrice: decimal.NewFromInt(9800), TaxClass: domain.TaxStandard, Active: true},
		{ID: "SKU-AIR-01", Name: "Air Mineral 600ml", UnitPrice: decimal.NewFromInt(3900), TaxClass: domain.TaxStandard, Active: true},
		{ID: "SKU-KERIPIK-01", Name: "Keripik Singkong", UnitPrice: decimal.NewFromInt(12800), TaxClass: domain.TaxStandard, Active: true},
		{ID: "SKU-COKLAT-01", Name: "Coklat Batang", UnitPrice: decimal.NewFromInt(8600), TaxClass: domain.TaxStandard, Active: true},
		{ID: "SKU-SABUN-01", Name: "Sabun Mandi", UnitPrice: decimal.NewFromInt(7400), TaxClass: domain.TaxStandard, Active: true},
		{ID: "SKU-SHAMPOO-01", Name: "Shampoo Sachet", UnitPrice: decimal.NewFromInt(3200), TaxClass: domain.TaxStandard, Active: true},
	}

	productMap := make(map[string]domain.Product, len(products))
	inventory := map[string]map[string]int{DefaultBusinessID: {}}
	for _, p := range products {
		productMap[p.ID] = p
		inventory[DefaultBusinessID][p.ID] = 120
	}

	now := time.Now().UTC()
	customers := map[string]domain.Customer{}
	for _, c := range []domain.Customer{
		{ID: "cust-sari", Name: "Bu Sari"},
		{ID: "cust-joko", Name: "Pak Joko"},
	} {
		c.BusinessID = DefaultBusinessID
		c.Balance = decimal.Zero
		c.UpdatedAt = now
		customers[c.ID] = c
	}

	return &Store{
		products:         productMap,
		inventory:        inventory,
		salesByID:        make(map[string]*domain.CommittedSale),
		salesByReference: make(map[string]*domain.CommittedSale),
		receiptCounters:  make(map[string]int64),
		customersByID:    customers,
		payments:         make([]domain.CustomerPayment, 0, 32),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  seedUsers(),
	}
}

func (s *Store) ListProducts(_ context.Context, businessID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stock := s.inventory[businessID]
	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		p.BusinessID = businessID
		p.Stock = stock[p.ID]
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

// SetStock overwrites the on-hand quantity of one product. Tests use it to
// stage low-stock scenarios.
func (s *Store) SetStock(_ context.Context, businessID string, productID string, qty int) error {
	if productID == "" || qty < 0 {
		return store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[productID]; !exists {
		return fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
	}
	stock, ok := s.inventory[businessID]
	if !ok {
		stock = make(map[string]int)
		s.inventory[businessID] = stock
	}
	stock[productID] = qty
	return nil
}

func (s *Store) GetCustomer(_ context.Context, customerID string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customersByID[customerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) FindSaleByID(_ context.Context, id string) (*domain.CommittedSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) FindSaleByReference(_ context.Context, reference string) (*domain.CommittedSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByReference[reference]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) CommitSale(_ context.Context, sale domain.CommittedSale) (*domain.CommittedSale, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.Reference == "" || sale.BusinessID == "" {
		return nil, false, store.ErrInvalidTransaction
	}
	if existing, ok := s.salesByReference[sale.Reference]; ok {
		return cloneSale(existing), true, nil
	}
	if len(sale.LineItems) == 0 {
		return nil, false, store.ErrInvalidTransaction
	}

	stock, ok := s.inventory[sale.BusinessID]
	if !ok {
		return nil, false, fmt.Errorf("%w: business %s has no inventory", store.ErrInvalidTransaction, sale.BusinessID)
	}

	required := make(map[string]int, len(sale.LineItems))
	for _, item := range sale.LineItems {
		if item.Quantity < 1 {
			return nil, false, store.ErrInvalidTransaction
		}
		product, exists := s.products[item.ProductID]
		if !exists || !product.Active {
			return nil, false, fmt.Errorf("%w: product %s unavailable", store.ErrInvalidTransaction, item.ProductID)
		}
		required[item.ProductID] += item.Quantity
	}
	for productID, qty := range required {
		if stock[productID] < qty {
			return nil, false, fmt.Errorf("%w: product %s has %d left, %d requested", store.ErrInsufficientStock, productID, stock[productID], qty)
		}
	}

	var customer domain.Customer
	if sale.PaymentMethod == domain.PaymentCredit {
		customer, ok = s.customersByID[sale.CustomerID]
		if !ok || customer.BusinessID != sale.BusinessID {
			return nil, false, fmt.Errorf("%w: unknown customer %s", store.ErrInvalidTransaction, sale.CustomerID)
		}
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.Status = domain.SaleStatusCompleted

	for productID, qty := range required {
		stock[productID] -= qty
	}
	s.receiptCounters[sale.BusinessID]++
	sale.ReceiptNumber = s.receiptCounters[sale.BusinessID]
	if sale.PaymentMethod == domain.PaymentCredit {
		customer.Balance = customer.Balance.Add(sale.TotalAmount)
		customer.UpdatedAt = sale.CreatedAt
		s.customersByID[customer.ID] = customer
	}

	saleCopy := cloneSale(&sale)
	s.salesByID[sale.ID] = saleCopy
	s.salesByReference[sale.Reference] = saleCopy
	return cloneSale(saleCopy), false, nil
}

func (s *Store) VoidSale(ctx context.Context, id string, reason string, voidedBy string, at time.Time) (*domain.CommittedSale, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, false, store.ErrNotFound
	}
	next, alreadyVoided, err := lifecycle.Void(ctx, sale.Status)
	if err != nil {
		return nil, false, err
	}
	if alreadyVoided {
		return cloneSale(sale), true, nil
	}

	stock, ok := s.inventory[sale.BusinessID]
	if !ok {
		stock = make(map[string]int)
		s.inventory[sale.BusinessID] = stock
	}
	for _, item := range sale.LineItems {
		stock[item.ProductID] += item.Quantity
	}
	if sale.PaymentMethod == domain.PaymentCredit {
		if customer, ok := s.customersByID[sale.CustomerID]; ok {
			customer.Balance = customer.Balance.Sub(sale.TotalAmount)
			customer.UpdatedAt = at
			s.customersByID[customer.ID] = customer
		}
	}

	sale.Status = next
	sale.VoidReason = reason
	sale.VoidedBy = voidedBy
	sale.VoidedAt = &at
	return cloneSale(sale), false, nil
}

func (s *Store) RecordPayment(_ context.Context, payment domain.CustomerPayment) (*domain.CustomerPayment, *domain.Customer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if payment.CustomerID == "" || payment.Reference == "" || !payment.Amount.IsPositive() {
		return nil, nil, false, store.ErrInvalidTransaction
	}
	customer, ok := s.customersByID[payment.CustomerID]
	if !ok {
		return nil, nil, false, store.ErrNotFound
	}
	for _, existing := range s.payments {
		if existing.CustomerID == payment.CustomerID && existing.Reference == payment.Reference {
			dup := existing
			return &dup, &customer, true, nil
		}
	}

	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	payment.BusinessID = customer.BusinessID
	s.payments = append(s.payments, payment)

	customer.Balance = customer.Balance.Sub(payment.Amount)
	customer.UpdatedAt = payment.CreatedAt
	s.customersByID[customer.ID] = customer
	return &payment, &customer, false, nil
}

func (s *Store) ReconcileCustomerBalance(_ context.Context, customerID string) (domain.BalanceReconciliation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, ok := s.customersByID[customerID]
	if !ok {
		return domain.BalanceReconciliation{}, store.ErrNotFound
	}

	recomputed := decimal.Zero
	for _, sale := range s.salesByID {
		if sale.CustomerID != customerID || sale.PaymentMethod != domain.PaymentCredit {
			continue
		}
		if sale.Status != domain.SaleStatusCompleted {
			continue
		}
		recomputed = recomputed.Add(sale.TotalAmount)
	}
	for _, payment := range s.payments {
		if payment.CustomerID == customerID {
			recomputed = recomputed.Sub(payment.Amount)
		}
	}

	result := domain.BalanceReconciliation{
		CustomerID: customerID,
		Previous:   customer.Balance,
		Recomputed: recomputed,
		Delta:      recomputed.Sub(customer.Balance),
	}
	if !result.Delta.IsZero() {
		result.Corrected = true
		customer.Balance = recomputed
		customer.UpdatedAt = time.Now().UTC()
		s.customersByID[customerID] = customer
	}
	return result, nil
}

func (s *Store) ListSales(_ context.Context, businessID string, from time.Time, to time.Time) ([]domain.CommittedSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CommittedSale, 0, 64)
	for _, sale := range s.salesByID {
		if sale.BusinessID != businessID || sale.Status != domain.SaleStatusCompleted {
			continue
		}
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		result = append(result, *cloneSale(sale))
	}

	slices.SortFunc(result, func(a, b domain.CommittedSale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return int(a.ReceiptNumber - b.ReceiptNumber)
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}

func (s *Store) GetDailyReport(_ context.Context, businessID string, from time.Time, to time.Time) (domain.DailyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := domain.DailyReport{
		BusinessID:  businessID,
		Subtotal:    decimal.Zero,
		TaxAmount:   decimal.Zero,
		TotalAmount: decimal.Zero,
		ByPayment:   make([]domain.DailyReportPayment, 0, 4),
	}
	byPayment := map[string]*domain.DailyReportPayment{}

	for _, sale := range s.salesByID {
		if sale.BusinessID != businessID {
			continue
		}
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		if sale.Status == domain.SaleStatusVoided {
			report.Voided++
			continue
		}

		report.Sales++
		report.Subtotal = report.Subtotal.Add(sale.Subtotal)
		report.TaxAmount = report.TaxAmount.Add(sale.TaxAmount)
		report.TotalAmount = report.TotalAmount.Add(sale.TotalAmount)

		payment := byPayment[sale.PaymentMethod]
		if payment == nil {
			payment = &domain.DailyReportPayment{PaymentMethod: sale.PaymentMethod, TotalAmount: decimal.Zero}
			byPayment[sale.PaymentMethod] = payment
		}
		payment.Sales++
		payment.TotalAmount = payment.TotalAmount.Add(sale.TotalAmount)
	}

	for _, entry := range byPayment {
		report.ByPayment = append(report.ByPayment, *entry)
	}
	slices.SortFunc(report.ByPayment, func(a, b domain.DailyReportPayment) int {
		return strings.Compare(a.PaymentMethod, b.PaymentMethod)
	})
	return report, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, businessID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if businessID != "" && entry.BusinessID != businessID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidTransaction
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneSale(src *domain.CommittedSale) *domain.CommittedSale {
	if src == nil {
		return nil
	}
	dup := *src
	items := make([]domain.LineItem, len(src.LineItems))
	copy(items, src.LineItems)
	dup.LineItems = items
	if src.VoidedAt != nil {
		voidedAt := *src.VoidedAt
		dup.VoidedAt = &voidedAt
	}
	return &dup
}
