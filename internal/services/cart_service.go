package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/repositories"
)

var (
	// ErrCartInvalidInput signals a malformed cart mutation.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartItemNotFound indicates the referenced product line is not in the cart.
	ErrCartItemNotFound = errors.New("cart: item not found")
	// ErrCartStockExceeded indicates the requested quantity exceeds the stock
	// observed when the line was added.
	ErrCartStockExceeded = errors.New("cart: quantity exceeds available stock")
	// ErrCartUnavailable indicates the cart store is unreachable.
	ErrCartUnavailable = errors.New("cart: unavailable")
)

// CartServiceDeps bundles collaborators required to construct the cart service.
type CartServiceDeps struct {
	Carts    repositories.CartRepository
	Vouchers VoucherService
	Pricing  *PricingEngine
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	carts    repositories.CartRepository
	vouchers VoucherService
	pricing  *PricingEngine
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewCartService wires dependencies into a concrete CartService implementation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Vouchers == nil {
		return nil, errors.New("cart service: voucher service is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("cart service: pricing engine is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		carts:    deps.Carts,
		vouchers: deps.Vouchers,
		pricing:  deps.Pricing,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// GetCart returns the user's cart, creating an empty one on first access.
func (s *cartService) GetCart(ctx context.Context, userID string) (Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	cart, err := s.carts.GetCart(ctx, uid)
	if err == nil {
		return cart, nil
	}
	if !isNotFound(err) {
		return Cart{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	return s.persist(ctx, Cart{
		ID:        uid,
		UserID:    uid,
		Currency:  domain.CurrencyVND,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// AddItem appends a product line or merges quantity into an existing line for
// the same product. The merged quantity is capped by the stock observed when
// the line was first added.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	if err := validateAddItem(cmd); err != nil {
		return Cart{}, err
	}

	cart, err := s.GetCart(ctx, cmd.UserID)
	if err != nil {
		return Cart{}, err
	}

	merged := false
	for i := range cart.Items {
		if cart.Items[i].ProductID != cmd.ProductID {
			continue
		}
		next := cart.Items[i].Quantity + cmd.Quantity
		if ceiling := cart.Items[i].StockAtAdd; ceiling > 0 && next > ceiling {
			return Cart{}, fmt.Errorf("%w: product %s has %d in stock", ErrCartStockExceeded, cmd.ProductID, ceiling)
		}
		cart.Items[i].Quantity = next
		merged = true
		break
	}
	if !merged {
		if cmd.StockAtAdd > 0 && cmd.Quantity > cmd.StockAtAdd {
			return Cart{}, fmt.Errorf("%w: product %s has %d in stock", ErrCartStockExceeded, cmd.ProductID, cmd.StockAtAdd)
		}
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID:  cmd.ProductID,
			Name:       strings.TrimSpace(cmd.Name),
			UnitPrice:  cmd.UnitPrice,
			Quantity:   cmd.Quantity,
			StockAtAdd: cmd.StockAtAdd,
			ImagePath:  strings.TrimSpace(cmd.ImagePath),
			AddedAt:    s.clock(),
		})
	}

	return s.refreshAndPersist(ctx, cart)
}

// UpdateItemQuantity sets the absolute quantity of an existing line.
func (s *cartService) UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error) {
	if strings.TrimSpace(cmd.UserID) == "" || strings.TrimSpace(cmd.ProductID) == "" {
		return Cart{}, fmt.Errorf("%w: user id and product id are required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 1 {
		return Cart{}, fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}

	cart, err := s.GetCart(ctx, cmd.UserID)
	if err != nil {
		return Cart{}, err
	}

	found := false
	for i := range cart.Items {
		if cart.Items[i].ProductID != cmd.ProductID {
			continue
		}
		if ceiling := cart.Items[i].StockAtAdd; ceiling > 0 && cmd.Quantity > ceiling {
			return Cart{}, fmt.Errorf("%w: product %s has %d in stock", ErrCartStockExceeded, cmd.ProductID, ceiling)
		}
		cart.Items[i].Quantity = cmd.Quantity
		found = true
		break
	}
	if !found {
		return Cart{}, fmt.Errorf("%w: product %s", ErrCartItemNotFound, cmd.ProductID)
	}

	return s.refreshAndPersist(ctx, cart)
}

// RemoveItem deletes a product line from the cart.
func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	if strings.TrimSpace(cmd.UserID) == "" || strings.TrimSpace(cmd.ProductID) == "" {
		return Cart{}, fmt.Errorf("%w: user id and product id are required", ErrCartInvalidInput)
	}

	cart, err := s.GetCart(ctx, cmd.UserID)
	if err != nil {
		return Cart{}, err
	}

	kept := cart.Items[:0]
	removed := false
	for _, item := range cart.Items {
		if item.ProductID == cmd.ProductID {
			removed = true
			continue
		}
		kept = append(kept, item)
	}
	if !removed {
		return Cart{}, fmt.Errorf("%w: product %s", ErrCartItemNotFound, cmd.ProductID)
	}
	cart.Items = kept

	return s.refreshAndPersist(ctx, cart)
}

// Clear drops the cart document entirely. Clearing an absent cart is a no-op.
func (s *cartService) Clear(ctx context.Context, userID string) error {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if err := s.carts.DeleteCart(ctx, uid); err != nil && !isNotFound(err) {
		return s.mapRepositoryError(err)
	}
	return nil
}

// ApplyVoucher attaches a voucher code to the cart and records the evaluation
// outcome. An ineligible voucher still attaches so the client can show the
// reason; the snapshot is advisory and the code is re-evaluated at checkout.
func (s *cartService) ApplyVoucher(ctx context.Context, cmd CartVoucherCommand) (Cart, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	code := normaliseCode(cmd.Code)
	if code == "" {
		return Cart{}, fmt.Errorf("%w: voucher code is required", ErrCartInvalidInput)
	}

	cart, err := s.GetCart(ctx, cmd.UserID)
	if err != nil {
		return Cart{}, err
	}

	cart.Voucher = &domain.CartVoucher{Code: code}
	return s.refreshAndPersist(ctx, cart)
}

// RemoveVoucher detaches the voucher from the cart.
func (s *cartService) RemoveVoucher(ctx context.Context, userID string) (Cart, error) {
	cart, err := s.GetCart(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	cart.Voucher = nil
	return s.refreshAndPersist(ctx, cart)
}

// SetShippingInfo stores the delivery contact details on the cart so checkout
// can prefill them.
func (s *cartService) SetShippingInfo(ctx context.Context, cmd SetShippingInfoCommand) (Cart, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	cart, err := s.GetCart(ctx, cmd.UserID)
	if err != nil {
		return Cart{}, err
	}

	cart.CustomerName = strings.TrimSpace(cmd.CustomerName)
	cart.CustomerPhone = strings.TrimSpace(cmd.CustomerPhone)
	cart.Address = strings.TrimSpace(cmd.Address)
	cart.Note = strings.TrimSpace(cmd.Note)

	return s.persistTouched(ctx, cart)
}

// refreshAndPersist recomputes the estimate snapshot and stores the cart.
func (s *cartService) refreshAndPersist(ctx context.Context, cart Cart) (Cart, error) {
	if err := s.refreshEstimate(ctx, &cart); err != nil {
		return Cart{}, err
	}
	return s.persistTouched(ctx, cart)
}

func (s *cartService) persistTouched(ctx context.Context, cart Cart) (Cart, error) {
	cart.UpdatedAt = s.clock()
	return s.persist(ctx, cart)
}

func (s *cartService) persist(ctx context.Context, cart Cart) (Cart, error) {
	stored, err := s.carts.UpsertCart(ctx, cart)
	if err != nil {
		return Cart{}, s.mapRepositoryError(err)
	}
	return stored, nil
}

// refreshEstimate reprices the cart and refreshes the voucher snapshot. A
// voucher that fails evaluation stays attached with Applied false so the
// client can surface the reason.
func (s *cartService) refreshEstimate(ctx context.Context, cart *Cart) error {
	subtotal, err := Subtotal(cart.Items)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
	}

	var decision *domain.VoucherDecision
	if cart.Voucher != nil {
		result, err := s.vouchers.Evaluate(ctx, EvaluateVoucherCommand{
			Code:     cart.Voucher.Code,
			Subtotal: subtotal,
			UserID:   cart.UserID,
		})
		if err != nil {
			return err
		}
		decision = &result
		cart.Voucher.Applied = result.Eligible
		if !result.Eligible {
			s.logger(ctx, "cart.voucher.rejected", map[string]any{
				"userID": cart.UserID,
				"code":   cart.Voucher.Code,
				"reason": string(result.Reason),
			})
		}
	}

	quote, err := s.pricing.Quote(cart.Items, decision)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
	}

	cart.Estimate = &domain.CartEstimate{
		Subtotal:    quote.Subtotal,
		Discount:    quote.Discount,
		ShippingFee: quote.ShippingFee,
		Total:       quote.Total,
	}
	if cart.Voucher != nil {
		cart.Voucher.DiscountAmount = quote.Discount
		cart.Voucher.FreeShipping = decision != nil && decision.Eligible && decision.FreeShipping
	}
	return nil
}

func validateAddItem(cmd AddCartItemCommand) error {
	if strings.TrimSpace(cmd.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if strings.TrimSpace(cmd.ProductID) == "" {
		return fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if strings.TrimSpace(cmd.Name) == "" {
		return fmt.Errorf("%w: product name is required", ErrCartInvalidInput)
	}
	if cmd.UnitPrice < 0 {
		return fmt.Errorf("%w: unit price must not be negative", ErrCartInvalidInput)
	}
	if cmd.Quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}
	return nil
}

func (s *cartService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCartItemNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
		}
	}
	return err
}
