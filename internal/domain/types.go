package domain

import (
	"time"
)

// CurrencyVND is the only settlement currency; all amounts are integer dong.
const CurrencyVND = "VND"

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// Cart aggregates the mutable shopping cart state for a user. The cart is a
// single-owner session value: created on first mutation, cleared on
// successful checkout or an explicit clear.
type Cart struct {
	ID            string
	UserID        string
	Currency      string
	CustomerName  string
	CustomerPhone string
	Address       string
	Note          string
	Voucher       *CartVoucher
	Items         []CartItem
	Estimate      *CartEstimate
	Metadata      map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CartVoucher captures the voucher code a user attached to their cart along
// with the last evaluation outcome. The code is re-evaluated at checkout;
// this snapshot is advisory display state only.
type CartVoucher struct {
	Code           string
	DiscountAmount int64
	FreeShipping   bool
	Applied        bool
}

// CartItem stores a single product entry within a cart. StockAtAdd records
// the product stock observed when the line was added; it caps quantity
// increases in the cart but reserves nothing.
type CartItem struct {
	ProductID  string
	Name       string
	UnitPrice  int64
	Quantity   int
	StockAtAdd int
	ImagePath  string
	AddedAt    time.Time
}

// CartEstimate summarizes totals last calculated for the cart.
type CartEstimate struct {
	Subtotal    int64
	Discount    int64
	ShippingFee int64
	Total       int64
}

// VoucherType enumerates the supported discount mechanics.
type VoucherType string

const (
	// VoucherTypePercentage discounts a percentage of the subtotal, optionally capped.
	VoucherTypePercentage VoucherType = "percentage"
	// VoucherTypeFixedAmount discounts a fixed amount, clamped to the subtotal.
	VoucherTypeFixedAmount VoucherType = "fixed_amount"
	// VoucherTypeFreeShipping waives the shipping fee and contributes no discount.
	VoucherTypeFreeShipping VoucherType = "free_shipping"
)

// VoucherStatus enumerates voucher availability states. Vouchers referenced
// by orders are never deleted, only soft-disabled.
type VoucherStatus string

const (
	// VoucherStatusActive marks a voucher as redeemable.
	VoucherStatusActive VoucherStatus = "active"
	// VoucherStatusInactive marks a voucher as soft-disabled.
	VoucherStatusInactive VoucherStatus = "inactive"
)

// Voucher describes a discount code with eligibility constraints.
type Voucher struct {
	ID              string
	Code            string
	Type            VoucherType
	Value           int64
	MinOrderValue   int64
	MaxDiscount     *int64
	TotalUsageLimit *int
	PerUserLimit    int
	UsageCount      int
	StartsAt        time.Time
	EndsAt          time.Time
	Status          VoucherStatus
	Description     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// VoucherGrantSource enumerates how a voucher became associated with a user.
type VoucherGrantSource string

const (
	// VoucherGrantSourceGift marks grants issued by an admin gift action.
	VoucherGrantSourceGift VoucherGrantSource = "gift"
	// VoucherGrantSourcePromotion marks grants issued by an automated promotion.
	VoucherGrantSourcePromotion VoucherGrantSource = "promotion"
	// VoucherGrantSourceRedemption marks usage records created by public-pool redemptions.
	VoucherGrantSourceRedemption VoucherGrantSource = "redemption"
)

// VoucherGrant associates a voucher with a single user and tracks their
// redemption count against the per-user limit.
type VoucherGrant struct {
	ID          string
	UserID      string
	VoucherID   string
	Code        string
	Source      VoucherGrantSource
	GrantedBy   *string
	Redemptions int
	RedeemedAt  *time.Time
	CreatedAt   time.Time
}

// VoucherRejectionReason enumerates reason codes returned by voucher evaluation.
type VoucherRejectionReason string

const (
	// VoucherReasonNotFound indicates no voucher exists for the supplied code.
	VoucherReasonNotFound VoucherRejectionReason = "not_found"
	// VoucherReasonInactive indicates the voucher is soft-disabled.
	VoucherReasonInactive VoucherRejectionReason = "inactive"
	// VoucherReasonNotStarted indicates the voucher window has not opened yet.
	VoucherReasonNotStarted VoucherRejectionReason = "not_started"
	// VoucherReasonExpired indicates the voucher window has closed.
	VoucherReasonExpired VoucherRejectionReason = "expired"
	// VoucherReasonBelowMinimum indicates the subtotal is below the voucher minimum.
	VoucherReasonBelowMinimum VoucherRejectionReason = "below_minimum"
	// VoucherReasonUsageExceeded indicates the total usage cap has been reached.
	VoucherReasonUsageExceeded VoucherRejectionReason = "usage_exceeded"
	// VoucherReasonPerUserExceeded indicates the acting user exhausted their allowance.
	VoucherReasonPerUserExceeded VoucherRejectionReason = "per_user_exceeded"
)

// VoucherDecision is the typed outcome of evaluating a voucher against a
// proposed redemption. Evaluation never mutates state.
type VoucherDecision struct {
	Code         string
	Eligible     bool
	Reason       VoucherRejectionReason
	Type         VoucherType
	Value        int64
	MaxDiscount  *int64
	FreeShipping bool
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits staff confirmation or payment.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates payment or staff review confirmed the order.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusPreparing indicates fulfilment has begun.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusDelivering indicates the order is out for delivery.
	OrderStatusDelivering OrderStatus = "delivering"
	// OrderStatusCompleted indicates the order was delivered and closed.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled indicates the order was cancelled before fulfilment began.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentMethod enumerates supported settlement methods.
type PaymentMethod string

const (
	// PaymentMethodCOD settles in cash on delivery.
	PaymentMethodCOD PaymentMethod = "cod"
	// PaymentMethodBankTransfer settles via manual bank transfer pending admin confirmation.
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	// PaymentMethodCard settles through the configured PSP.
	PaymentMethodCard PaymentMethod = "card"
)

// Order captures an order header with its immutable item snapshot and totals.
type Order struct {
	ID            string
	OrderNumber   string
	UserID        string
	CustomerName  string
	CustomerPhone string
	Address       string
	Note          string
	Items         []OrderItem
	Subtotal      int64
	Discount      int64
	ShippingFee   int64
	Total         int64
	VoucherCode   *string
	PaymentMethod PaymentMethod
	Status        OrderStatus
	CancelReason  *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ConfirmedAt   *time.Time
	CompletedAt   *time.Time
	CancelledAt   *time.Time
}

// OrderItem mirrors a cart line at the time of checkout.
type OrderItem struct {
	ProductID string
	Name      string
	UnitPrice int64
	Quantity  int
	LineTotal int64
}

// PaymentStatus enumerates reconciliation states. Only pending payments are
// mutable by staff action; failed and cancelled are terminal.
type PaymentStatus string

const (
	// PaymentStatusPending awaits settlement evidence and admin action.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusProcessing is set while an external PSP holds the payment.
	PaymentStatusProcessing PaymentStatus = "processing"
	// PaymentStatusSuccess marks a confirmed settlement.
	PaymentStatusSuccess PaymentStatus = "success"
	// PaymentStatusFailed marks a rejected or failed settlement.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusCancelled marks a payment voided before settlement.
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// BankInfo carries the transfer destination shown to bank-transfer customers.
type BankInfo struct {
	BankName      string
	AccountNumber string
	AccountHolder string
	TransferNote  string
}

// Payment encapsulates the settlement record owned by exactly one order.
// Amount equals the owning order's total at creation time and is immutable.
type Payment struct {
	ID             string
	OrderID        string
	OrderNumber    string
	Amount         int64
	Currency       string
	Method         PaymentMethod
	Status         PaymentStatus
	TransactionRef string
	QRCodeURL      *string
	BankInfo       *BankInfo
	FailReason     *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	PaidAt         *time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency check.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
