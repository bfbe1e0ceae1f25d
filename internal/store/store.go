package store

import (
	"context"
	"errors"
	"time"

	"kasirinaja/ledger/internal/domain"
	"kasirinaja/ledger/internal/lifecycle"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrForbidden          = errors.New("forbidden")
	ErrVoidConflict       = lifecycle.ErrVoidConflict
)

type Repository interface {
	ListProducts(ctx context.Context, businessID string) ([]domain.Product, error)
	GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error)
	FindSaleByID(ctx context.Context, id string) (*domain.CommittedSale, error)
	FindSaleByReference(ctx context.Context, reference string) (*domain.CommittedSale, error)
	// CommitSale atomically checks and decrements stock, assigns the next
	// receipt number, stores the sale and applies a credit sale to the
	// customer balance. A known reference returns the stored sale and true.
	CommitSale(ctx context.Context, sale domain.CommittedSale) (*domain.CommittedSale, bool, error)
	// VoidSale atomically marks a sale voided, restores its stock and
	// reverses any credit balance change. Voiding twice returns the stored
	// sale and true without touching stock.
	VoidSale(ctx context.Context, id string, reason string, voidedBy string, at time.Time) (*domain.CommittedSale, bool, error)
	RecordPayment(ctx context.Context, payment domain.CustomerPayment) (*domain.CustomerPayment, *domain.Customer, bool, error)
	ReconcileCustomerBalance(ctx context.Context, customerID string) (domain.BalanceReconciliation, error)
	ListSales(ctx context.Context, businessID string, from time.Time, to time.Time) ([]domain.CommittedSale, error)
	GetDailyReport(ctx context.Context, businessID string, from time.Time, to time.Time) (domain.DailyReport, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, businessID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
