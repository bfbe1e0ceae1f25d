package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TaxClass string

const (
	TaxStandard  TaxClass = "standard"
	TaxZeroRated TaxClass = "zero_rated"
	TaxExempt    TaxClass = "exempt"
)

func (c TaxClass) Valid() bool {
	switch c {
	case TaxStandard, TaxZeroRated, TaxExempt:
		return true
	default:
		return false
	}
}

type Product struct {
	ID         string          `json:"id"`
	BusinessID string          `json:"business_id"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TaxClass   TaxClass        `json:"tax_class"`
	Active     bool            `json:"active"`
	Stock      int             `json:"stock"`
}

// LineItem is one cart row. UnitPrice is frozen when the product is first
// added and never follows later catalog changes.
type LineItem struct {
	ProductID string          `json:"product_id" validate:"required"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	TaxClass  TaxClass        `json:"tax_class" validate:"oneof=standard zero_rated exempt"`
}

// SalePayload is the immutable description of a sale as sent to the ledger.
// Reference is generated on the device and doubles as the idempotency key.
type SalePayload struct {
	Reference     string          `json:"reference" validate:"required,uuid"`
	BusinessID    string          `json:"business_id" validate:"required"`
	DeviceID      string          `json:"device_id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	PaymentMethod string          `json:"payment_method" validate:"required,oneof=cash card qris ewallet credit"`
	CustomerID    string          `json:"customer_id,omitempty" validate:"required_if=PaymentMethod credit"`
	StaffID       string          `json:"staff_id,omitempty"`
	StaffName     string          `json:"staff_name"`
	LineItems     []LineItem      `json:"line_items" validate:"required,min=1,dive"`
	CreatedAt     time.Time       `json:"created_at"`
}

type CommittedSale struct {
	ID            string          `json:"id"`
	Reference     string          `json:"reference"`
	ReceiptNumber int64           `json:"receipt_number"`
	BusinessID    string          `json:"business_id"`
	DeviceID      string          `json:"device_id,omitempty"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentMethod string          `json:"payment_method"`
	CustomerID    string          `json:"customer_id,omitempty"`
	StaffID       string          `json:"staff_id,omitempty"`
	StaffName     string          `json:"staff_name"`
	Status        string          `json:"status"`
	VoidReason    string          `json:"void_reason,omitempty"`
	VoidedAt      *time.Time      `json:"voided_at,omitempty"`
	VoidedBy      string          `json:"voided_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	LineItems     []LineItem      `json:"line_items"`
}

type CommitResult struct {
	Sale      CommittedSale `json:"sale"`
	Duplicate bool          `json:"duplicate"`
}

type VoidSaleRequest struct {
	Reason string `json:"reason"`
}

type VoidResult struct {
	Sale          CommittedSale `json:"sale"`
	AlreadyVoided bool          `json:"already_voided"`
}

// QueuedSubmission is a sale waiting in the device's durable queue.
// LocalID always equals Payload.Reference.
type QueuedSubmission struct {
	LocalID   string      `json:"local_id"`
	Payload   SalePayload `json:"payload"`
	CreatedAt time.Time   `json:"created_at"`
	Synced    bool        `json:"synced"`
}

type Customer struct {
	ID         string          `json:"id"`
	BusinessID string          `json:"business_id"`
	Name       string          `json:"name"`
	Balance    decimal.Decimal `json:"balance"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type CustomerPayment struct {
	ID         string          `json:"id"`
	BusinessID string          `json:"business_id"`
	CustomerID string          `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Reference  string          `json:"reference"`
	RecordedBy string          `json:"recorded_by"`
	CreatedAt  time.Time       `json:"created_at"`
}

type PaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

type PaymentResult struct {
	Payment   CustomerPayment `json:"payment"`
	Customer  Customer        `json:"customer"`
	Duplicate bool            `json:"duplicate"`
}

type BalanceReconciliation struct {
	CustomerID string          `json:"customer_id"`
	Previous   decimal.Decimal `json:"previous"`
	Recomputed decimal.Decimal `json:"recomputed"`
	Delta      decimal.Decimal `json:"delta"`
	Corrected  bool            `json:"corrected"`
}

// Session identifies who is operating a device. It is passed explicitly to
// the commit and void protocols.
type Session struct {
	BusinessID string
	DeviceID   string
	StaffID    string
	StaffName  string
	Role       string
}

func (s Session) Privileged() bool {
	return IsPrivilegedRole(s.Role)
}

const (
	RoleCashier = "cashier"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

func IsPrivilegedRole(role string) bool {
	return role == RoleManager || role == RoleAdmin
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type DailyReportPayment struct {
	PaymentMethod string          `json:"payment_method"`
	Sales         int64           `json:"sales"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
}

type DailyReport struct {
	BusinessID  string               `json:"business_id"`
	Date        string               `json:"date"`
	Sales       int64                `json:"sales"`
	Voided      int64                `json:"voided"`
	Subtotal    decimal.Decimal      `json:"subtotal"`
	TaxAmount   decimal.Decimal      `json:"tax_amount"`
	TotalAmount decimal.Decimal      `json:"total_amount"`
	ByPayment   []DailyReportPayment `json:"by_payment"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	BusinessID    string    `json:"business_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type SaleEvent struct {
	Type       string        `json:"type"`
	Sale       CommittedSale `json:"sale"`
	OccurredAt time.Time     `json:"occurred_at"`
}

const (
	SaleStatusCompleted = "completed"
	SaleStatusVoided    = "voided"
)

const (
	EventSaleCommitted = "sale.committed"
	EventSaleVoided    = "sale.voided"
)

const (
	PaymentCash    = "cash"
	PaymentCard    = "card"
	PaymentQRIS    = "qris"
	PaymentEWallet = "ewallet"
	PaymentCredit  = "credit"
)

func IsSupportedPaymentMethod(method string) bool {
	switch method {
	case PaymentCash, PaymentCard, PaymentQRIS, PaymentEWallet, PaymentCredit:
		return true
	default:
		return false
	}
}
