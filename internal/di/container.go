package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clovermart/api/internal/payments"
	"github.com/clovermart/api/internal/platform/config"
	"github.com/clovermart/api/internal/repositories"
	"github.com/clovermart/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Cart     services.CartService
	Vouchers services.VoucherService
	Checkout services.CheckoutService
	Orders   services.OrderService
	Payments services.PaymentService
	System   services.SystemService
}

// ContainerDeps carries runtime collaborators that live outside the repository
// registry: the event publisher, the card payment provider manager, and the
// structured logger hook handed to each service.
type ContainerDeps struct {
	Events services.EventPublisher
	PSP    *payments.Manager
	Build  services.BuildInfo

	// ServiceLogger returns the logging hook for the named service. A nil
	// factory leaves every service on its no-op default.
	ServiceLogger func(name string) func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring will provide real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps ContainerDeps) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(ctx context.Context, reg repositories.Registry, cfg config.Config, deps ContainerDeps) (Services, error) {
	var svc Services

	logger := deps.ServiceLogger
	if logger == nil {
		logger = func(string) func(context.Context, string, map[string]any) { return nil }
	}

	pricing, err := services.NewPricingEngine(services.PricingConfig{
		ShippingFee:           cfg.Checkout.ShippingFee,
		FreeShippingThreshold: cfg.Checkout.FreeShippingThreshold,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}

	voucherSvc, err := services.NewVoucherService(services.VoucherServiceDeps{
		Vouchers: reg.Vouchers(),
		Grants:   reg.VoucherGrants(),
		Clock:    time.Now,
		Logger:   logger("voucher"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build voucher service: %w", err)
	}
	svc.Vouchers = voucherSvc

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:    reg.Carts(),
		Vouchers: voucherSvc,
		Pricing:  pricing,
		Clock:    time.Now,
		Logger:   logger("cart"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:   reg.Orders(),
		Counters: reg.Counters(),
		Events:   deps.Events,
		Clock:    time.Now,
		Logger:   logger("order"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Payments:   reg.Payments(),
		Orders:     reg.Orders(),
		UnitOfWork: reg,
		Events:     deps.Events,
		PSP:        deps.PSP,
		Clock:      time.Now,
		Logger:     logger("payment"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:      cartSvc,
		Vouchers:   voucherSvc,
		Pricing:    pricing,
		Orders:     orderSvc,
		Payments:   paymentSvc,
		PSP:        deps.PSP,
		UnitOfWork: reg,
		BankTransfer: services.BankTransferConfig{
			BankName:      cfg.Checkout.BankName,
			AccountNumber: cfg.Checkout.BankAccountNumber,
			AccountHolder: cfg.Checkout.BankAccountHolder,
			QRCodeBaseURL: cfg.Checkout.QRCodeBaseURL,
		},
		Card: services.CardCheckoutConfig{
			SuccessURL: cfg.PSP.SuccessURL,
			CancelURL:  cfg.PSP.CancelURL,
		},
		Logger: logger("checkout"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			Health: healthRepo,
			Build:  deps.Build,
			Clock:  time.Now,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
