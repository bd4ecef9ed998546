package services

import (
	"context"
	"time"

	domain "github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Cart               = domain.Cart
	CartItem           = domain.CartItem
	CartVoucher        = domain.CartVoucher
	CartEstimate       = domain.CartEstimate
	Voucher            = domain.Voucher
	VoucherGrant       = domain.VoucherGrant
	VoucherDecision    = domain.VoucherDecision
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	Payment            = domain.Payment
	PaymentStatus      = domain.PaymentStatus
	PaymentMethod      = domain.PaymentMethod
	BankInfo           = domain.BankInfo
	SystemHealthReport = domain.SystemHealthReport
)

// CartService manages the single mutable cart each user owns.
type CartService interface {
	GetCart(ctx context.Context, userID string) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	Clear(ctx context.Context, userID string) error
	ApplyVoucher(ctx context.Context, cmd CartVoucherCommand) (Cart, error)
	RemoveVoucher(ctx context.Context, userID string) (Cart, error)
	SetShippingInfo(ctx context.Context, cmd SetShippingInfoCommand) (Cart, error)
}

// VoucherService validates, redeems, and administers discount vouchers.
type VoucherService interface {
	Evaluate(ctx context.Context, cmd EvaluateVoucherCommand) (VoucherDecision, error)
	Redeem(ctx context.Context, cmd RedeemVoucherCommand) error
	CreateVoucher(ctx context.Context, cmd UpsertVoucherCommand) (Voucher, error)
	UpdateVoucher(ctx context.Context, cmd UpsertVoucherCommand) (Voucher, error)
	DisableVoucher(ctx context.Context, code string, actorID string) (Voucher, error)
	GetVoucher(ctx context.Context, code string) (Voucher, error)
	ListVouchers(ctx context.Context, filter VoucherListFilter) (domain.CursorPage[Voucher], error)
	GrantVoucher(ctx context.Context, cmd GrantVoucherCommand) (VoucherGrant, error)
	ListGrants(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[VoucherGrant], error)
}

// CheckoutService turns a cart into an order plus its initial payment record.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error)
}

// OrderService encapsulates order creation, lifecycle transitions, and queries.
type OrderService interface {
	ReserveOrderNumber(ctx context.Context) (string, error)
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	Advance(ctx context.Context, cmd AdvanceOrderCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	Get(ctx context.Context, orderID string) (Order, error)
	GetByNumber(ctx context.Context, orderNumber string) (Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
}

// PaymentService owns payment records and their reconciliation against orders.
type PaymentService interface {
	CreateForOrder(ctx context.Context, cmd CreatePaymentCommand) (Payment, error)
	Confirm(ctx context.Context, cmd ConfirmPaymentCommand) (Payment, error)
	Reject(ctx context.Context, cmd RejectPaymentCommand) (Payment, error)
	Get(ctx context.Context, paymentID string) (Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]Payment, error)
	List(ctx context.Context, filter PaymentListFilter) (domain.CursorPage[Payment], error)
	RecordWebhookEvent(ctx context.Context, cmd PaymentWebhookCommand) error
}

// SystemService aggregates utility endpoints such as health checks.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// EventPublisher fans order and payment lifecycle events out to subscribers.
type EventPublisher interface {
	PublishLifecycleEvent(ctx context.Context, event LifecycleEvent) (string, error)
}

// LifecycleEvent captures metadata for emitted order/payment domain events.
type LifecycleEvent struct {
	Name           string
	OrderID        string
	OrderNumber    string
	PaymentID      string
	Status         string
	PreviousStatus string
	ActorID        string
	OccurredAt     time.Time
}

// Command and DTO definitions ------------------------------------------------

type AddCartItemCommand struct {
	UserID     string
	ProductID  string
	Name       string
	UnitPrice  int64
	Quantity   int
	StockAtAdd int
	ImagePath  string
}

type UpdateCartItemCommand struct {
	UserID    string
	ProductID string
	Quantity  int
}

type RemoveCartItemCommand struct {
	UserID    string
	ProductID string
}

type CartVoucherCommand struct {
	UserID string
	Code   string
}

type SetShippingInfoCommand struct {
	UserID        string
	CustomerName  string
	CustomerPhone string
	Address       string
	Note          string
}

type EvaluateVoucherCommand struct {
	Code     string
	Subtotal int64
	UserID   string
}

type RedeemVoucherCommand struct {
	Code   string
	UserID string
}

type UpsertVoucherCommand struct {
	Voucher Voucher
	ActorID string
}

type VoucherListFilter = repositories.VoucherListFilter

type GrantVoucherCommand struct {
	UserID  string
	Code    string
	Source  domain.VoucherGrantSource
	ActorID string
}

type PlaceOrderCommand struct {
	UserID        string
	CustomerName  string
	CustomerPhone string
	Address       string
	Note          string
	PaymentMethod PaymentMethod
	VoucherCode   *string
}

// PlaceOrderResult carries the created order plus the initial payment record
// when the method requires one (bank transfer and card; COD has none).
type PlaceOrderResult struct {
	Order   Order
	Payment *Payment
	// RedirectURL points the client at the hosted card payment page when the
	// order was placed with the card method.
	RedirectURL string
}

type CreateOrderCommand struct {
	// OrderNumber, when set, carries a number previously reserved with
	// ReserveOrderNumber. Callers creating the order inside a transaction
	// must reserve the number first; the counter runs its own transaction.
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
	ActorID       string
}

type AdvanceOrderCommand struct {
	OrderID        string
	TargetStatus   OrderStatus
	ActorID        string
	ExpectedStatus *OrderStatus
}

type CancelOrderCommand struct {
	OrderID        string
	ActorID        string
	Reason         string
	ExpectedStatus *OrderStatus
}

type OrderListFilter = repositories.OrderListFilter

type CreatePaymentCommand struct {
	OrderID        string
	Method         PaymentMethod
	TransactionRef string
	QRCodeURL      *string
	BankInfo       *BankInfo
	ActorID        string
}

type ConfirmPaymentCommand struct {
	PaymentID string
	ActorID   string
}

type RejectPaymentCommand struct {
	PaymentID string
	Reason    string
	ActorID   string
}

type PaymentListFilter = repositories.PaymentListFilter

type PaymentWebhookCommand struct {
	Provider string
	Payload  []byte
	Headers  map[string]string
}
