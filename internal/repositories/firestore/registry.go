package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/clovermart/api/internal/platform/firestore"
	"github.com/clovermart/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the repositories.Registry
// contract and provides the shared transactional boundary used by services.
type Registry struct {
	provider *pfirestore.Provider

	carts    *CartRepository
	vouchers *VoucherRepository
	grants   *VoucherGrantRepository
	orders   *OrderRepository
	payments *PaymentRepository
	counters *CounterRepository
	health   repositories.HealthRepository
}

// RegistryDeps carries optional collaborators injected alongside the provider.
type RegistryDeps struct {
	Health repositories.HealthRepository
}

// NewRegistry wires all Firestore repositories against the shared provider.
func NewRegistry(provider *pfirestore.Provider, deps RegistryDeps) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	vouchers, err := NewVoucherRepository(provider)
	if err != nil {
		return nil, err
	}
	grants, err := NewVoucherGrantRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	payments, err := NewPaymentRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider: provider,
		carts:    carts,
		vouchers: vouchers,
		grants:   grants,
		orders:   orders,
		payments: payments,
		counters: counters,
		health:   deps.Health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Carts returns the cart repository.
func (r *Registry) Carts() repositories.CartRepository { return r.carts }

// Vouchers returns the voucher repository.
func (r *Registry) Vouchers() repositories.VoucherRepository { return r.vouchers }

// VoucherGrants returns the voucher grant repository.
func (r *Registry) VoucherGrants() repositories.VoucherGrantRepository { return r.grants }

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Payments returns the payment repository.
func (r *Registry) Payments() repositories.PaymentRepository { return r.payments }

// Counters returns the counter repository.
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// Health returns the dependency health repository when configured.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx executes fn inside a single Firestore transaction. Repository calls
// made with the derived context join the transaction, so guarded mutations
// such as voucher redemption and the dependent order insert commit atomically.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	if fn == nil {
		return errors.New("registry: transaction function is required")
	}
	if _, ok := transactionFromContext(ctx); ok {
		// Already inside a transaction; nesting joins the outer commit.
		return fn(ctx)
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(withTransaction(ctx, tx))
	})
}

var _ repositories.Registry = (*Registry)(nil)
