package services

import (
	"errors"
	"fmt"
	"math"

	domain "github.com/clovermart/api/internal/domain"
)

var (
	// ErrPricingInvalidInput signals bad request data such as negative prices or quantities.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
)

// PricingConfig carries the storefront shipping policy applied to every quote.
type PricingConfig struct {
	ShippingFee           int64
	FreeShippingThreshold int64
}

// Quote is the computed cost breakdown for a set of items.
type Quote struct {
	Subtotal    int64
	ShippingFee int64
	Discount    int64
	Total       int64
}

// PricingEngine computes order totals from items, shipping policy, and an
// optional voucher decision. It is pure: no clock, no store, no side effects.
type PricingEngine struct {
	config PricingConfig
}

// NewPricingEngine constructs a PricingEngine with the given shipping policy.
func NewPricingEngine(config PricingConfig) (*PricingEngine, error) {
	if config.ShippingFee < 0 {
		return nil, fmt.Errorf("%w: shipping fee must not be negative", ErrPricingInvalidInput)
	}
	if config.FreeShippingThreshold < 0 {
		return nil, fmt.Errorf("%w: free shipping threshold must not be negative", ErrPricingInvalidInput)
	}
	return &PricingEngine{config: config}, nil
}

// Quote prices the items under the engine's shipping policy and the voucher
// decision, when one is present and eligible. Eligibility itself is the
// voucher service's concern; the engine only applies an already-approved
// decision and does not re-check order minimums.
func (e *PricingEngine) Quote(items []domain.CartItem, decision *domain.VoucherDecision) (Quote, error) {
	if e == nil {
		return Quote{}, fmt.Errorf("%w: engine not initialised", ErrPricingInvalidInput)
	}
	if len(items) == 0 {
		return Quote{}, nil
	}

	subtotal, err := Subtotal(items)
	if err != nil {
		return Quote{}, err
	}

	shippingFee := e.config.ShippingFee
	if subtotal == 0 {
		// Nothing to ship against a zero-value order.
		shippingFee = 0
	} else if e.config.FreeShippingThreshold > 0 && subtotal >= e.config.FreeShippingThreshold {
		shippingFee = 0
	}

	var discount int64
	if decision != nil && decision.Eligible {
		if decision.FreeShipping {
			// Free shipping zeroes the fee and records no discount amount.
			shippingFee = 0
		} else {
			discount = voucherDiscount(subtotal, decision)
		}
	}

	total := subtotal + shippingFee - discount
	if total < 0 {
		total = 0
	}

	return Quote{
		Subtotal:    subtotal,
		ShippingFee: shippingFee,
		Discount:    discount,
		Total:       total,
	}, nil
}

// Subtotal sums the line totals for the items, guarding against overflow and
// invalid quantities or prices.
func Subtotal(items []domain.CartItem) (int64, error) {
	var subtotal int64
	for _, item := range items {
		if item.Quantity <= 0 {
			return 0, fmt.Errorf("%w: item %s quantity must be positive", ErrPricingInvalidInput, item.ProductID)
		}
		if item.UnitPrice < 0 {
			return 0, fmt.Errorf("%w: item %s unit price must not be negative", ErrPricingInvalidInput, item.ProductID)
		}
		quantity := int64(item.Quantity)
		if item.UnitPrice > 0 && item.UnitPrice > math.MaxInt64/quantity {
			return 0, fmt.Errorf("%w: item %s subtotal overflow", ErrPricingInvalidInput, item.ProductID)
		}
		line := item.UnitPrice * quantity
		if subtotal > math.MaxInt64-line {
			return 0, fmt.Errorf("%w: subtotal overflow", ErrPricingInvalidInput)
		}
		subtotal += line
	}
	return subtotal, nil
}

// voucherDiscount computes the discount amount for percentage and fixed
// vouchers. The cap and the subtotal clamp apply after the raw amount is
// computed: a percentage discount is first limited by maxDiscount, then the
// result is clamped to the subtotal.
func voucherDiscount(subtotal int64, decision *domain.VoucherDecision) int64 {
	var discount int64
	switch decision.Type {
	case domain.VoucherTypePercentage:
		discount = subtotal * decision.Value / 100
		if decision.MaxDiscount != nil && discount > *decision.MaxDiscount {
			discount = *decision.MaxDiscount
		}
	case domain.VoucherTypeFixedAmount:
		discount = decision.Value
	default:
		return 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}
