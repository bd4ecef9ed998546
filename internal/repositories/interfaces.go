package repositories

import (
	"context"
	"errors"
	"time"

	domain "github.com/clovermart/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Vouchers() VoucherRepository
	VoucherGrants() VoucherGrantRepository
	Orders() OrderRepository
	Payments() PaymentRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository owns cart header + items persistence with optimistic locking guarantees.
type CartRepository interface {
	UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	ReplaceItems(ctx context.Context, userID string, items []domain.CartItem) (domain.Cart, error)
	DeleteCart(ctx context.Context, userID string) error
}

// ErrVoucherUsageExhausted is returned by RedeemUsage when the total usage
// limit has been reached at commit time.
var ErrVoucherUsageExhausted = errors.New("voucher usage limit reached")

// VoucherRepository maintains voucher definitions keyed by normalised code.
// RedeemUsage must be invoked inside a unit of work so the usage-limit guard
// and the dependent order insert commit or abort together.
type VoucherRepository interface {
	Insert(ctx context.Context, voucher domain.Voucher) error
	Update(ctx context.Context, voucher domain.Voucher) error
	FindByCode(ctx context.Context, code string) (domain.Voucher, error)
	List(ctx context.Context, filter VoucherListFilter) (domain.CursorPage[domain.Voucher], error)
	RedeemUsage(ctx context.Context, req VoucherRedeemRequest) (domain.Voucher, error)
}

// VoucherRedeemRequest carries voucher usage increment parameters enforced transactionally.
type VoucherRedeemRequest struct {
	Code   string
	UserID string
	Now    time.Time
}

// VoucherGrantRepository records per-user voucher associations and redemption counts.
type VoucherGrantRepository interface {
	Insert(ctx context.Context, grant domain.VoucherGrant) (domain.VoucherGrant, error)
	Find(ctx context.Context, voucherID string, userID string) (domain.VoucherGrant, error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.VoucherGrant], error)
	// IncrementRedemptions is write-only so callers inside a Firestore
	// transaction can perform all reads before the first write.
	IncrementRedemptions(ctx context.Context, voucherID string, userID string, now time.Time) error
}

// OrderRepository persists order headers and provides query helpers for users and admins.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// PaymentRepository stores payment records in a top-level collection keyed by payment ID.
type PaymentRepository interface {
	Insert(ctx context.Context, payment domain.Payment) error
	Update(ctx context.Context, payment domain.Payment) error
	FindByID(ctx context.Context, paymentID string) (domain.Payment, error)
	FindByTransactionRef(ctx context.Context, ref string) (domain.Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error)
	List(ctx context.Context, filter PaymentListFilter) (domain.CursorPage[domain.Payment], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type VoucherListFilter struct {
	Status     []string
	Types      []string
	ActiveAt   *time.Time
	Pagination domain.Pagination
}

type OrderListFilter struct {
	UserID     string
	Status     []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type PaymentListFilter struct {
	OrderID    string
	Status     []string
	Methods    []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
