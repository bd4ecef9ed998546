package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	domain "github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/payments"
	"github.com/clovermart/api/internal/repositories"
)

var (
	// ErrCheckoutInvalidInput signals missing or malformed checkout data.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutEmptyCart indicates the user tried to place an order with no items.
	ErrCheckoutEmptyCart = errors.New("checkout: cart is empty")
	// ErrCheckoutVoucherRejected indicates the attached voucher failed
	// re-evaluation at checkout time.
	ErrCheckoutVoucherRejected = errors.New("checkout: voucher rejected")
)

// BankTransferConfig holds the merchant account details stamped onto bank
// transfer payment records.
type BankTransferConfig struct {
	BankName      string
	AccountNumber string
	AccountHolder string
	QRCodeBaseURL string
}

// CardCheckoutConfig holds the return URLs for hosted card payment sessions.
type CardCheckoutConfig struct {
	SuccessURL string
	CancelURL  string
}

// CheckoutServiceDeps bundles collaborators required to construct the checkout service.
type CheckoutServiceDeps struct {
	Carts        CartService
	Vouchers     VoucherService
	Pricing      *PricingEngine
	Orders       OrderService
	Payments     PaymentService
	PSP          *payments.Manager
	UnitOfWork   repositories.UnitOfWork
	BankTransfer BankTransferConfig
	Card         CardCheckoutConfig
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	carts        CartService
	vouchers     VoucherService
	pricing      *PricingEngine
	orders       OrderService
	payments     PaymentService
	psp          *payments.Manager
	uow          repositories.UnitOfWork
	bankTransfer BankTransferConfig
	card         CardCheckoutConfig
	logger       func(context.Context, string, map[string]any)
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// NewCheckoutService wires dependencies into a concrete CheckoutService implementation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart service is required")
	}
	if deps.Vouchers == nil {
		return nil, errors.New("checkout service: voucher service is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("checkout service: pricing engine is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order service is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment service is required")
	}

	uow := deps.UnitOfWork
	if uow == nil {
		uow = noopUnitOfWork{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		carts:        deps.Carts,
		vouchers:     deps.Vouchers,
		pricing:      deps.Pricing,
		orders:       deps.Orders,
		payments:     deps.Payments,
		psp:          deps.PSP,
		uow:          uow,
		bankTransfer: deps.BankTransfer,
		card:         deps.Card,
		logger:       logger,
	}, nil
}

// PlaceOrder converts the user's cart into a pending order. The order insert
// and the voucher redemption commit atomically; the payment record and the
// cart clear happen after that commit, so a crash in between can leave a
// pending order without a payment record but never a redeemed voucher
// without its order.
func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return PlaceOrderResult{}, fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}

	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return PlaceOrderResult{}, err
	}
	if len(cart.Items) == 0 {
		return PlaceOrderResult{}, ErrCheckoutEmptyCart
	}

	shipping, err := resolveShipping(cmd, cart)
	if err != nil {
		return PlaceOrderResult{}, err
	}
	method, err := resolvePaymentMethod(cmd.PaymentMethod)
	if err != nil {
		return PlaceOrderResult{}, err
	}

	subtotal, err := Subtotal(cart.Items)
	if err != nil {
		return PlaceOrderResult{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}

	var decision *domain.VoucherDecision
	voucherCode := resolveVoucherCode(cmd, cart)
	if voucherCode != "" {
		result, err := s.vouchers.Evaluate(ctx, EvaluateVoucherCommand{
			Code:     voucherCode,
			Subtotal: subtotal,
			UserID:   userID,
		})
		if err != nil {
			return PlaceOrderResult{}, err
		}
		if !result.Eligible {
			return PlaceOrderResult{}, fmt.Errorf("%w: %s (%s)", ErrCheckoutVoucherRejected, voucherCode, result.Reason)
		}
		decision = &result
	}

	quote, err := s.pricing.Quote(cart.Items, decision)
	if err != nil {
		return PlaceOrderResult{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}

	createCmd := CreateOrderCommand{
		UserID:        userID,
		CustomerName:  shipping.CustomerName,
		CustomerPhone: shipping.CustomerPhone,
		Address:       shipping.Address,
		Note:          shipping.Note,
		Items:         orderItemsFromCart(cart.Items),
		Subtotal:      quote.Subtotal,
		Discount:      quote.Discount,
		ShippingFee:   quote.ShippingFee,
		Total:         quote.Total,
		PaymentMethod: method,
		ActorID:       userID,
	}
	if voucherCode != "" {
		createCmd.VoucherCode = &voucherCode
	}

	// The number counter commits in a Firestore transaction of its own, so it
	// must run before the order transaction opens. An abort after this point
	// burns the reserved number.
	orderNumber, err := s.orders.ReserveOrderNumber(ctx)
	if err != nil {
		return PlaceOrderResult{}, err
	}
	createCmd.OrderNumber = orderNumber

	var order Order
	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		if voucherCode != "" {
			if err := s.vouchers.Redeem(txCtx, RedeemVoucherCommand{Code: voucherCode, UserID: userID}); err != nil {
				return err
			}
		}
		created, err := s.orders.Create(txCtx, createCmd)
		if err != nil {
			return err
		}
		order = created
		return nil
	})
	if err != nil {
		return PlaceOrderResult{}, err
	}

	result := PlaceOrderResult{Order: order}
	switch method {
	case domain.PaymentMethodBankTransfer:
		payment, err := s.createBankTransferPayment(ctx, order)
		if err != nil {
			return PlaceOrderResult{}, err
		}
		result.Payment = &payment
	case domain.PaymentMethodCard:
		payment, redirectURL, err := s.createCardPayment(ctx, order)
		if err != nil {
			return PlaceOrderResult{}, err
		}
		result.Payment = &payment
		result.RedirectURL = redirectURL
	}

	if err := s.carts.Clear(ctx, userID); err != nil {
		// The order is already committed; a stale cart is recoverable.
		s.logger(ctx, "checkout.cart_clear.failed", map[string]any{
			"userID":  userID,
			"orderID": order.ID,
			"error":   err.Error(),
		})
	}

	s.logger(ctx, "checkout.order.placed", map[string]any{
		"orderID":     order.ID,
		"orderNumber": order.OrderNumber,
		"userID":      userID,
		"method":      string(method),
		"total":       order.Total,
	})
	return result, nil
}

func (s *checkoutService) createBankTransferPayment(ctx context.Context, order Order) (Payment, error) {
	note := "CLOVERMART " + order.OrderNumber
	cmd := CreatePaymentCommand{
		OrderID: order.ID,
		Method:  domain.PaymentMethodBankTransfer,
		BankInfo: &domain.BankInfo{
			BankName:      s.bankTransfer.BankName,
			AccountNumber: s.bankTransfer.AccountNumber,
			AccountHolder: s.bankTransfer.AccountHolder,
			TransferNote:  note,
		},
	}
	if base := strings.TrimSpace(s.bankTransfer.QRCodeBaseURL); base != "" {
		qr := base + "?" + url.Values{
			"amount": {strconv.FormatInt(order.Total, 10)},
			"memo":   {note},
		}.Encode()
		cmd.QRCodeURL = &qr
	}
	return s.payments.CreateForOrder(ctx, cmd)
}

func (s *checkoutService) createCardPayment(ctx context.Context, order Order) (Payment, string, error) {
	if s.psp == nil {
		return Payment{}, "", fmt.Errorf("%w: card payments are not configured", ErrCheckoutInvalidInput)
	}

	items := make([]payments.CheckoutLineItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, payments.CheckoutLineItem{
			Name:     item.Name,
			Quantity: int64(item.Quantity),
			Amount:   item.UnitPrice,
			Currency: domain.CurrencyVND,
		})
	}

	session, err := s.psp.CreateCheckoutSession(ctx, payments.PaymentContext{}, payments.CheckoutSessionRequest{
		Amount:         order.Total,
		Currency:       domain.CurrencyVND,
		SuccessURL:     s.card.SuccessURL,
		CancelURL:      s.card.CancelURL,
		IdempotencyKey: order.ID,
		Metadata: map[string]string{
			"orderId":     order.ID,
			"orderNumber": order.OrderNumber,
		},
		Items: items,
	})
	if err != nil {
		return Payment{}, "", fmt.Errorf("checkout: card session: %w", err)
	}

	payment, err := s.payments.CreateForOrder(ctx, CreatePaymentCommand{
		OrderID:        order.ID,
		Method:         domain.PaymentMethodCard,
		TransactionRef: session.IntentID,
	})
	if err != nil {
		return Payment{}, "", err
	}
	return payment, session.RedirectURL, nil
}

type shippingInfo struct {
	CustomerName  string
	CustomerPhone string
	Address       string
	Note          string
}

// resolveShipping prefers the values supplied with the command and falls back
// to the contact details stored on the cart.
func resolveShipping(cmd PlaceOrderCommand, cart Cart) (shippingInfo, error) {
	info := shippingInfo{
		CustomerName:  fallbackTrimmed(cmd.CustomerName, cart.CustomerName),
		CustomerPhone: fallbackTrimmed(cmd.CustomerPhone, cart.CustomerPhone),
		Address:       fallbackTrimmed(cmd.Address, cart.Address),
		Note:          fallbackTrimmed(cmd.Note, cart.Note),
	}
	if info.CustomerName == "" {
		return shippingInfo{}, fmt.Errorf("%w: customer name is required", ErrCheckoutInvalidInput)
	}
	if info.CustomerPhone == "" {
		return shippingInfo{}, fmt.Errorf("%w: customer phone is required", ErrCheckoutInvalidInput)
	}
	if info.Address == "" {
		return shippingInfo{}, fmt.Errorf("%w: delivery address is required", ErrCheckoutInvalidInput)
	}
	return info, nil
}

func resolvePaymentMethod(method PaymentMethod) (PaymentMethod, error) {
	switch method {
	case domain.PaymentMethodCOD, domain.PaymentMethodBankTransfer, domain.PaymentMethodCard:
		return method, nil
	case "":
		return "", fmt.Errorf("%w: payment method is required", ErrCheckoutInvalidInput)
	default:
		return "", fmt.Errorf("%w: unsupported payment method %q", ErrCheckoutInvalidInput, method)
	}
}

// resolveVoucherCode prefers an explicit code on the command; a nil pointer
// falls back to the cart's attached voucher, and an explicit empty string
// opts out of the cart voucher.
func resolveVoucherCode(cmd PlaceOrderCommand, cart Cart) string {
	if cmd.VoucherCode != nil {
		return normaliseCode(*cmd.VoucherCode)
	}
	if cart.Voucher != nil {
		return normaliseCode(cart.Voucher.Code)
	}
	return ""
}

func orderItemsFromCart(items []domain.CartItem) []domain.OrderItem {
	out := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		out = append(out, domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.UnitPrice * int64(item.Quantity),
		})
	}
	return out
}

func fallbackTrimmed(primary string, fallback string) string {
	if trimmed := strings.TrimSpace(primary); trimmed != "" {
		return trimmed
	}
	return strings.TrimSpace(fallback)
}
