package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/clovermart/api/internal/domain"
)

type stubVoucherService struct {
	VoucherService
	evaluate func(ctx context.Context, cmd EvaluateVoucherCommand) (VoucherDecision, error)
}

func (s *stubVoucherService) Evaluate(ctx context.Context, cmd EvaluateVoucherCommand) (VoucherDecision, error) {
	if s.evaluate == nil {
		return VoucherDecision{}, errors.New("unexpected Evaluate")
	}
	return s.evaluate(ctx, cmd)
}

var cartTestNow = time.Date(2026, time.March, 12, 14, 30, 0, 0, time.UTC)

// memoryCartRepo keeps one cart per user in memory so mutation tests can
// observe the stored result without wiring every stub by hand.
type memoryCartRepo struct {
	carts map[string]domain.Cart
}

func newMemoryCartRepo(seed ...domain.Cart) *memoryCartRepo {
	repo := &memoryCartRepo{carts: map[string]domain.Cart{}}
	for _, cart := range seed {
		repo.carts[cart.UserID] = cart
	}
	return repo
}

func (m *memoryCartRepo) UpsertCart(_ context.Context, cart domain.Cart) (domain.Cart, error) {
	m.carts[cart.UserID] = cart
	return cart, nil
}

func (m *memoryCartRepo) GetCart(_ context.Context, userID string) (domain.Cart, error) {
	cart, ok := m.carts[userID]
	if !ok {
		return domain.Cart{}, stubRepositoryError{notFound: true}
	}
	return cart, nil
}

func (m *memoryCartRepo) ReplaceItems(_ context.Context, userID string, items []domain.CartItem) (domain.Cart, error) {
	cart, ok := m.carts[userID]
	if !ok {
		return domain.Cart{}, stubRepositoryError{notFound: true}
	}
	cart.Items = items
	m.carts[userID] = cart
	return cart, nil
}

func (m *memoryCartRepo) DeleteCart(_ context.Context, userID string) error {
	if _, ok := m.carts[userID]; !ok {
		return stubRepositoryError{notFound: true}
	}
	delete(m.carts, userID)
	return nil
}

func newTestCartService(t *testing.T, repo *memoryCartRepo, vouchers VoucherService) CartService {
	t.Helper()
	if vouchers == nil {
		vouchers = &stubVoucherService{}
	}
	engine, err := NewPricingEngine(PricingConfig{ShippingFee: 30000, FreeShippingThreshold: 500000})
	if err != nil {
		t.Fatalf("NewPricingEngine: %v", err)
	}
	svc, err := NewCartService(CartServiceDeps{
		Carts:    repo,
		Vouchers: vouchers,
		Pricing:  engine,
		Clock:    func() time.Time { return cartTestNow },
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	return svc
}

func TestGetCartCreatesEmptyCartOnFirstAccess(t *testing.T) {
	repo := newMemoryCartRepo()
	svc := newTestCartService(t, repo, nil)

	cart, err := svc.GetCart(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if cart.UserID != "user-1" || cart.ID != "user-1" {
		t.Fatalf("unexpected cart identity %+v", cart)
	}
	if cart.Currency != domain.CurrencyVND {
		t.Fatalf("currency = %q, want VND", cart.Currency)
	}
	if len(cart.Items) != 0 {
		t.Fatalf("expected empty cart, got %d items", len(cart.Items))
	}
	if _, ok := repo.carts["user-1"]; !ok {
		t.Fatal("expected cart to be persisted")
	}
}

func TestAddItemMergesQuantityForSameProduct(t *testing.T) {
	repo := newMemoryCartRepo()
	svc := newTestCartService(t, repo, nil)

	base := AddCartItemCommand{
		UserID:     "user-1",
		ProductID:  "prod-1",
		Name:       "Jasmine Rice 5kg",
		UnitPrice:  125000,
		Quantity:   1,
		StockAtAdd: 3,
	}
	if _, err := svc.AddItem(context.Background(), base); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	cart, err := svc.AddItem(context.Background(), base)
	if err != nil {
		t.Fatalf("AddItem merge: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected single merged line, got %d", len(cart.Items))
	}
	if cart.Items[0].Quantity != 2 {
		t.Fatalf("quantity = %d, want 2", cart.Items[0].Quantity)
	}
	if cart.Estimate == nil || cart.Estimate.Subtotal != 250000 {
		t.Fatalf("unexpected estimate %+v", cart.Estimate)
	}
	if cart.Estimate.Total != 280000 {
		t.Fatalf("total = %d, want 280000", cart.Estimate.Total)
	}
}

func TestAddItemRejectsQuantityBeyondObservedStock(t *testing.T) {
	repo := newMemoryCartRepo()
	svc := newTestCartService(t, repo, nil)

	cmd := AddCartItemCommand{
		UserID:     "user-1",
		ProductID:  "prod-1",
		Name:       "Fish Sauce 500ml",
		UnitPrice:  45000,
		Quantity:   2,
		StockAtAdd: 2,
	}
	if _, err := svc.AddItem(context.Background(), cmd); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	_, err := svc.AddItem(context.Background(), cmd)
	if !errors.Is(err, ErrCartStockExceeded) {
		t.Fatalf("expected ErrCartStockExceeded, got %v", err)
	}
}

func TestUpdateItemQuantity(t *testing.T) {
	repo := newMemoryCartRepo(domain.Cart{
		ID:     "user-1",
		UserID: "user-1",
		Items: []domain.CartItem{
			{ProductID: "prod-1", Name: "Noodles", UnitPrice: 15000, Quantity: 1, StockAtAdd: 5},
		},
	})
	svc := newTestCartService(t, repo, nil)

	cart, err := svc.UpdateItemQuantity(context.Background(), UpdateCartItemCommand{
		UserID:    "user-1",
		ProductID: "prod-1",
		Quantity:  4,
	})
	if err != nil {
		t.Fatalf("UpdateItemQuantity: %v", err)
	}
	if cart.Items[0].Quantity != 4 {
		t.Fatalf("quantity = %d, want 4", cart.Items[0].Quantity)
	}

	_, err = svc.UpdateItemQuantity(context.Background(), UpdateCartItemCommand{
		UserID:    "user-1",
		ProductID: "prod-1",
		Quantity:  6,
	})
	if !errors.Is(err, ErrCartStockExceeded) {
		t.Fatalf("expected ErrCartStockExceeded, got %v", err)
	}

	_, err = svc.UpdateItemQuantity(context.Background(), UpdateCartItemCommand{
		UserID:    "user-1",
		ProductID: "prod-9",
		Quantity:  1,
	})
	if !errors.Is(err, ErrCartItemNotFound) {
		t.Fatalf("expected ErrCartItemNotFound, got %v", err)
	}
}

func TestRemoveItemDropsLine(t *testing.T) {
	repo := newMemoryCartRepo(domain.Cart{
		ID:     "user-1",
		UserID: "user-1",
		Items: []domain.CartItem{
			{ProductID: "prod-1", Name: "Noodles", UnitPrice: 15000, Quantity: 2, StockAtAdd: 5},
			{ProductID: "prod-2", Name: "Tofu", UnitPrice: 12000, Quantity: 1, StockAtAdd: 5},
		},
	})
	svc := newTestCartService(t, repo, nil)

	cart, err := svc.RemoveItem(context.Background(), RemoveCartItemCommand{UserID: "user-1", ProductID: "prod-1"})
	if err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].ProductID != "prod-2" {
		t.Fatalf("unexpected items %+v", cart.Items)
	}

	_, err = svc.RemoveItem(context.Background(), RemoveCartItemCommand{UserID: "user-1", ProductID: "prod-1"})
	if !errors.Is(err, ErrCartItemNotFound) {
		t.Fatalf("expected ErrCartItemNotFound, got %v", err)
	}
}

func TestClearIsIdempotent(t *testing.T) {
	repo := newMemoryCartRepo(domain.Cart{ID: "user-1", UserID: "user-1"})
	svc := newTestCartService(t, repo, nil)

	if err := svc.Clear(context.Background(), "user-1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok := repo.carts["user-1"]; ok {
		t.Fatal("expected cart to be deleted")
	}
	if err := svc.Clear(context.Background(), "user-1"); err != nil {
		t.Fatalf("Clear on absent cart: %v", err)
	}
}

func TestApplyVoucherRecordsEvaluationSnapshot(t *testing.T) {
	repo := newMemoryCartRepo(domain.Cart{
		ID:     "user-1",
		UserID: "user-1",
		Items: []domain.CartItem{
			{ProductID: "prod-1", Name: "Rice", UnitPrice: 100000, Quantity: 2, StockAtAdd: 10},
		},
	})
	vouchers := &stubVoucherService{
		evaluate: func(_ context.Context, cmd EvaluateVoucherCommand) (VoucherDecision, error) {
			if cmd.Subtotal != 200000 || cmd.UserID != "user-1" {
				t.Fatalf("unexpected evaluate command %+v", cmd)
			}
			return domain.VoucherDecision{
				Code:     cmd.Code,
				Eligible: true,
				Type:     domain.VoucherTypePercentage,
				Value:    10,
			}, nil
		},
	}
	svc := newTestCartService(t, repo, vouchers)

	cart, err := svc.ApplyVoucher(context.Background(), CartVoucherCommand{UserID: "user-1", Code: "sale10"})
	if err != nil {
		t.Fatalf("ApplyVoucher: %v", err)
	}
	if cart.Voucher == nil || cart.Voucher.Code != "SALE10" || !cart.Voucher.Applied {
		t.Fatalf("unexpected voucher snapshot %+v", cart.Voucher)
	}
	if cart.Voucher.DiscountAmount != 20000 {
		t.Fatalf("discount = %d, want 20000", cart.Voucher.DiscountAmount)
	}
	if cart.Estimate == nil || cart.Estimate.Total != 210000 {
		t.Fatalf("unexpected estimate %+v", cart.Estimate)
	}
}

func TestApplyVoucherKeepsIneligibleCodeAttached(t *testing.T) {
	repo := newMemoryCartRepo(domain.Cart{
		ID:     "user-1",
		UserID: "user-1",
		Items: []domain.CartItem{
			{ProductID: "prod-1", Name: "Rice", UnitPrice: 50000, Quantity: 1, StockAtAdd: 10},
		},
	})
	vouchers := &stubVoucherService{
		evaluate: func(_ context.Context, cmd EvaluateVoucherCommand) (VoucherDecision, error) {
			return domain.VoucherDecision{
				Code:     cmd.Code,
				Eligible: false,
				Reason:   domain.VoucherReasonBelowMinimum,
			}, nil
		},
	}
	svc := newTestCartService(t, repo, vouchers)

	cart, err := svc.ApplyVoucher(context.Background(), CartVoucherCommand{UserID: "user-1", Code: "SALE10"})
	if err != nil {
		t.Fatalf("ApplyVoucher: %v", err)
	}
	if cart.Voucher == nil || cart.Voucher.Applied {
		t.Fatalf("expected attached but unapplied voucher, got %+v", cart.Voucher)
	}
	if cart.Voucher.DiscountAmount != 0 {
		t.Fatalf("discount = %d, want 0", cart.Voucher.DiscountAmount)
	}
	if cart.Estimate == nil || cart.Estimate.Total != 80000 {
		t.Fatalf("unexpected estimate %+v", cart.Estimate)
	}
}

func TestRemoveVoucherReprices(t *testing.T) {
	repo := newMemoryCartRepo(domain.Cart{
		ID:      "user-1",
		UserID:  "user-1",
		Voucher: &domain.CartVoucher{Code: "SALE10", Applied: true, DiscountAmount: 20000},
		Items: []domain.CartItem{
			{ProductID: "prod-1", Name: "Rice", UnitPrice: 100000, Quantity: 2, StockAtAdd: 10},
		},
	})
	svc := newTestCartService(t, repo, nil)

	cart, err := svc.RemoveVoucher(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("RemoveVoucher: %v", err)
	}
	if cart.Voucher != nil {
		t.Fatalf("expected voucher removed, got %+v", cart.Voucher)
	}
	if cart.Estimate == nil || cart.Estimate.Discount != 0 || cart.Estimate.Total != 230000 {
		t.Fatalf("unexpected estimate %+v", cart.Estimate)
	}
}

func TestSetShippingInfoTrimsFields(t *testing.T) {
	repo := newMemoryCartRepo(domain.Cart{ID: "user-1", UserID: "user-1"})
	svc := newTestCartService(t, repo, nil)

	cart, err := svc.SetShippingInfo(context.Background(), SetShippingInfoCommand{
		UserID:        "user-1",
		CustomerName:  "  Tran Thi B ",
		CustomerPhone: " 0901234567 ",
		Address:       " 12 Nguyen Hue, District 1 ",
		Note:          " leave at reception ",
	})
	if err != nil {
		t.Fatalf("SetShippingInfo: %v", err)
	}
	if cart.CustomerName != "Tran Thi B" || cart.CustomerPhone != "0901234567" {
		t.Fatalf("unexpected contact %+v", cart)
	}
	if cart.Address != "12 Nguyen Hue, District 1" || cart.Note != "leave at reception" {
		t.Fatalf("unexpected address fields %+v", cart)
	}
	if !cart.UpdatedAt.Equal(cartTestNow) {
		t.Fatalf("updatedAt = %v, want %v", cart.UpdatedAt, cartTestNow)
	}
}
