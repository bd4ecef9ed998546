package services

import (
	"errors"
	"testing"

	domain "github.com/clovermart/api/internal/domain"
)

func testPricingEngine(t *testing.T) *PricingEngine {
	t.Helper()
	engine, err := NewPricingEngine(PricingConfig{
		ShippingFee:           30000,
		FreeShippingThreshold: 500000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return engine
}

func int64Ptr(v int64) *int64 {
	return &v
}

func TestPricingEngineQuoteNoVoucher(t *testing.T) {
	engine := testPricingEngine(t)

	quote, err := engine.Quote([]domain.CartItem{
		{ProductID: "prod-1", UnitPrice: 50000, Quantity: 3},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.Subtotal != 150000 {
		t.Fatalf("expected subtotal 150000, got %d", quote.Subtotal)
	}
	if quote.ShippingFee != 30000 {
		t.Fatalf("expected shipping fee 30000, got %d", quote.ShippingFee)
	}
	if quote.Discount != 0 {
		t.Fatalf("expected no discount, got %d", quote.Discount)
	}
	if quote.Total != 180000 {
		t.Fatalf("expected total 180000, got %d", quote.Total)
	}
}

func TestPricingEngineQuotePercentageCapped(t *testing.T) {
	engine := testPricingEngine(t)

	decision := &domain.VoucherDecision{
		Code:        "SALE20",
		Eligible:    true,
		Type:        domain.VoucherTypePercentage,
		Value:       20,
		MaxDiscount: int64Ptr(20000),
	}

	quote, err := engine.Quote([]domain.CartItem{
		{ProductID: "prod-1", UnitPrice: 150000, Quantity: 1},
	}, decision)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 20% of 150000 is 30000, capped to 20000.
	if quote.Discount != 20000 {
		t.Fatalf("expected discount 20000, got %d", quote.Discount)
	}
	if quote.Total != 160000 {
		t.Fatalf("expected total 160000, got %d", quote.Total)
	}
}

func TestPricingEngineQuotePercentageUncapped(t *testing.T) {
	engine := testPricingEngine(t)

	decision := &domain.VoucherDecision{
		Code:     "SALE10",
		Eligible: true,
		Type:     domain.VoucherTypePercentage,
		Value:    10,
	}

	quote, err := engine.Quote([]domain.CartItem{
		{ProductID: "prod-1", UnitPrice: 100000, Quantity: 2},
	}, decision)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.Discount != 20000 {
		t.Fatalf("expected discount 20000, got %d", quote.Discount)
	}
	if quote.Total != 210000 {
		t.Fatalf("expected total 210000, got %d", quote.Total)
	}
}

func TestPricingEngineQuoteFixedAmountClampedToSubtotal(t *testing.T) {
	engine := testPricingEngine(t)

	decision := &domain.VoucherDecision{
		Code:     "OFF100K",
		Eligible: true,
		Type:     domain.VoucherTypeFixedAmount,
		Value:    100000,
	}

	quote, err := engine.Quote([]domain.CartItem{
		{ProductID: "prod-1", UnitPrice: 40000, Quantity: 2},
	}, decision)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.Discount != 80000 {
		t.Fatalf("expected discount clamped to subtotal 80000, got %d", quote.Discount)
	}
	// Subtotal fully discounted; shipping still owed.
	if quote.Total != 30000 {
		t.Fatalf("expected total 30000, got %d", quote.Total)
	}
}

func TestPricingEngineQuoteFreeShippingVoucher(t *testing.T) {
	engine := testPricingEngine(t)

	decision := &domain.VoucherDecision{
		Code:         "FREESHIP",
		Eligible:     true,
		Type:         domain.VoucherTypeFreeShipping,
		FreeShipping: true,
	}

	quote, err := engine.Quote([]domain.CartItem{
		{ProductID: "prod-1", UnitPrice: 150000, Quantity: 1},
	}, decision)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.ShippingFee != 0 {
		t.Fatalf("expected zero shipping fee, got %d", quote.ShippingFee)
	}
	if quote.Discount != 0 {
		t.Fatalf("free shipping must not record a discount amount, got %d", quote.Discount)
	}
	if quote.Total != 150000 {
		t.Fatalf("expected total 150000, got %d", quote.Total)
	}
}

func TestPricingEngineQuoteFreeShippingThreshold(t *testing.T) {
	engine := testPricingEngine(t)

	quote, err := engine.Quote([]domain.CartItem{
		{ProductID: "prod-1", UnitPrice: 250000, Quantity: 2},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.Subtotal != 500000 {
		t.Fatalf("expected subtotal 500000, got %d", quote.Subtotal)
	}
	if quote.ShippingFee != 0 {
		t.Fatalf("expected threshold to zero shipping fee, got %d", quote.ShippingFee)
	}
	if quote.Total != 500000 {
		t.Fatalf("expected total 500000, got %d", quote.Total)
	}
}

func TestPricingEngineQuoteIneligibleDecisionIgnored(t *testing.T) {
	engine := testPricingEngine(t)

	decision := &domain.VoucherDecision{
		Code:     "EXPIRED",
		Eligible: false,
		Reason:   domain.VoucherReasonExpired,
		Type:     domain.VoucherTypePercentage,
		Value:    50,
	}

	quote, err := engine.Quote([]domain.CartItem{
		{ProductID: "prod-1", UnitPrice: 150000, Quantity: 1},
	}, decision)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.Discount != 0 {
		t.Fatalf("ineligible decision must not discount, got %d", quote.Discount)
	}
	if quote.Total != 180000 {
		t.Fatalf("expected total 180000, got %d", quote.Total)
	}
}

func TestPricingEngineQuoteEmptyCart(t *testing.T) {
	engine := testPricingEngine(t)

	quote, err := engine.Quote(nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote != (Quote{}) {
		t.Fatalf("expected zero quote for empty cart, got %+v", quote)
	}
}

func TestPricingEngineQuoteZeroSubtotalWaivesShipping(t *testing.T) {
	engine := testPricingEngine(t)

	quote, err := engine.Quote([]domain.CartItem{
		{ProductID: "prod-free", UnitPrice: 0, Quantity: 1},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.ShippingFee != 0 {
		t.Fatalf("expected no shipping fee on zero subtotal, got %d", quote.ShippingFee)
	}
	if quote.Total != 0 {
		t.Fatalf("expected zero total, got %d", quote.Total)
	}
}

func TestPricingEngineQuoteRejectsInvalidItems(t *testing.T) {
	engine := testPricingEngine(t)

	_, err := engine.Quote([]domain.CartItem{
		{ProductID: "prod-1", UnitPrice: 1000, Quantity: 0},
	}, nil)
	if !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected ErrPricingInvalidInput, got %v", err)
	}

	_, err = engine.Quote([]domain.CartItem{
		{ProductID: "prod-2", UnitPrice: -5, Quantity: 1},
	}, nil)
	if !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected ErrPricingInvalidInput, got %v", err)
	}
}
