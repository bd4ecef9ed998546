package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clovermart/api/internal/platform/auth"
	"github.com/clovermart/api/internal/services"
)

type stubCartService struct {
	getCartFunc         func(ctx context.Context, userID string) (services.Cart, error)
	addItemFunc         func(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error)
	updateItemFunc      func(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error)
	removeItemFunc      func(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error)
	clearFunc           func(ctx context.Context, userID string) error
	applyVoucherFunc    func(ctx context.Context, cmd services.CartVoucherCommand) (services.Cart, error)
	removeVoucherFunc   func(ctx context.Context, userID string) (services.Cart, error)
	setShippingInfoFunc func(ctx context.Context, cmd services.SetShippingInfoCommand) (services.Cart, error)
}

func (s *stubCartService) GetCart(ctx context.Context, userID string) (services.Cart, error) {
	if s.getCartFunc == nil {
		return services.Cart{}, errors.New("unexpected GetCart")
	}
	return s.getCartFunc(ctx, userID)
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
	if s.addItemFunc == nil {
		return services.Cart{}, errors.New("unexpected AddItem")
	}
	return s.addItemFunc(ctx, cmd)
}

func (s *stubCartService) UpdateItemQuantity(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error) {
	if s.updateItemFunc == nil {
		return services.Cart{}, errors.New("unexpected UpdateItemQuantity")
	}
	return s.updateItemFunc(ctx, cmd)
}

func (s *stubCartService) RemoveItem(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error) {
	if s.removeItemFunc == nil {
		return services.Cart{}, errors.New("unexpected RemoveItem")
	}
	return s.removeItemFunc(ctx, cmd)
}

func (s *stubCartService) Clear(ctx context.Context, userID string) error {
	if s.clearFunc == nil {
		return errors.New("unexpected Clear")
	}
	return s.clearFunc(ctx, userID)
}

func (s *stubCartService) ApplyVoucher(ctx context.Context, cmd services.CartVoucherCommand) (services.Cart, error) {
	if s.applyVoucherFunc == nil {
		return services.Cart{}, errors.New("unexpected ApplyVoucher")
	}
	return s.applyVoucherFunc(ctx, cmd)
}

func (s *stubCartService) RemoveVoucher(ctx context.Context, userID string) (services.Cart, error) {
	if s.removeVoucherFunc == nil {
		return services.Cart{}, errors.New("unexpected RemoveVoucher")
	}
	return s.removeVoucherFunc(ctx, userID)
}

func (s *stubCartService) SetShippingInfo(ctx context.Context, cmd services.SetShippingInfoCommand) (services.Cart, error) {
	if s.setShippingInfoFunc == nil {
		return services.Cart{}, errors.New("unexpected SetShippingInfo")
	}
	return s.setShippingInfoFunc(ctx, cmd)
}

func newCartRequest(t *testing.T, method, target, body, uid string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if uid != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
	}
	return req
}

func serveCart(service services.CartService, req *http.Request) *httptest.ResponseRecorder {
	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestCartHandlersGetCart(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	service := &stubCartService{
		getCartFunc: func(ctx context.Context, userID string) (services.Cart, error) {
			if userID != "user-7" {
				t.Fatalf("unexpected user id %q", userID)
			}
			return services.Cart{
				ID:       "user-7",
				UserID:   "user-7",
				Currency: "VND",
				Items: []services.CartItem{
					{ProductID: "prod-1", Name: "Ceramic Mug", UnitPrice: 120000, Quantity: 2, StockAtAdd: 10, AddedAt: now},
				},
				Voucher: &services.CartVoucher{Code: "SALE20", DiscountAmount: 48000, Applied: true},
				Estimate: &services.CartEstimate{
					Subtotal:    240000,
					Discount:    48000,
					ShippingFee: 30000,
					Total:       222000,
				},
				CreatedAt: now,
				UpdatedAt: now,
			}, nil
		},
	}

	rr := serveCart(service, newCartRequest(t, http.MethodGet, "/cart", "", "user-7"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp cartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Cart.ID != "user-7" {
		t.Fatalf("expected cart id user-7, got %q", resp.Cart.ID)
	}
	if len(resp.Cart.Items) != 1 || resp.Cart.Items[0].ProductID != "prod-1" {
		t.Fatalf("unexpected items %#v", resp.Cart.Items)
	}
	if resp.Cart.Voucher == nil || resp.Cart.Voucher.Code != "SALE20" || !resp.Cart.Voucher.Applied {
		t.Fatalf("unexpected voucher %#v", resp.Cart.Voucher)
	}
	if resp.Cart.Estimate == nil || resp.Cart.Estimate.Total != 222000 {
		t.Fatalf("unexpected estimate %#v", resp.Cart.Estimate)
	}
}

func TestCartHandlersRequireIdentity(t *testing.T) {
	service := &stubCartService{}
	rr := serveCart(service, newCartRequest(t, http.MethodGet, "/cart", "", ""))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestCartHandlersServiceUnavailable(t *testing.T) {
	rr := serveCart(nil, newCartRequest(t, http.MethodGet, "/cart", "", "user-1"))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestCartHandlersAddItem(t *testing.T) {
	service := &stubCartService{
		addItemFunc: func(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
			if cmd.UserID != "user-1" || cmd.ProductID != "prod-9" || cmd.Quantity != 3 {
				t.Fatalf("unexpected command %#v", cmd)
			}
			return services.Cart{ID: "user-1", UserID: "user-1", Currency: "VND"}, nil
		},
	}

	body := `{"product_id":"prod-9","name":"Rice Cooker","unit_price":950000,"quantity":3,"stock_at_add":12}`
	rr := serveCart(service, newCartRequest(t, http.MethodPost, "/cart/items", body, "user-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCartHandlersAddItemStockExceeded(t *testing.T) {
	service := &stubCartService{
		addItemFunc: func(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
			return services.Cart{}, services.ErrCartStockExceeded
		},
	}

	body := `{"product_id":"prod-9","name":"Rice Cooker","unit_price":950000,"quantity":30,"stock_at_add":12}`
	rr := serveCart(service, newCartRequest(t, http.MethodPost, "/cart/items", body, "user-1"))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "cart_stock_exceeded") {
		t.Fatalf("expected cart_stock_exceeded code, got %s", rr.Body.String())
	}
}

func TestCartHandlersAddItemRejectsInvalidJSON(t *testing.T) {
	service := &stubCartService{}
	rr := serveCart(service, newCartRequest(t, http.MethodPost, "/cart/items", "{", "user-1"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCartHandlersUpdateItemNotFound(t *testing.T) {
	service := &stubCartService{
		updateItemFunc: func(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error) {
			if cmd.ProductID != "prod-404" {
				t.Fatalf("unexpected product id %q", cmd.ProductID)
			}
			return services.Cart{}, services.ErrCartItemNotFound
		},
	}

	rr := serveCart(service, newCartRequest(t, http.MethodPatch, "/cart/items/prod-404", `{"quantity":2}`, "user-1"))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestCartHandlersRemoveItem(t *testing.T) {
	service := &stubCartService{
		removeItemFunc: func(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error) {
			if cmd.ProductID != "prod-1" {
				t.Fatalf("unexpected product id %q", cmd.ProductID)
			}
			return services.Cart{ID: "user-1", UserID: "user-1", Currency: "VND"}, nil
		},
	}

	rr := serveCart(service, newCartRequest(t, http.MethodDelete, "/cart/items/prod-1", "", "user-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestCartHandlersClearCart(t *testing.T) {
	cleared := false
	service := &stubCartService{
		clearFunc: func(ctx context.Context, userID string) error {
			cleared = true
			return nil
		},
	}

	rr := serveCart(service, newCartRequest(t, http.MethodDelete, "/cart", "", "user-1"))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if !cleared {
		t.Fatalf("expected Clear to be called")
	}
}

func TestCartHandlersApplyVoucher(t *testing.T) {
	service := &stubCartService{
		applyVoucherFunc: func(ctx context.Context, cmd services.CartVoucherCommand) (services.Cart, error) {
			if cmd.Code != "SALE20" {
				t.Fatalf("unexpected code %q", cmd.Code)
			}
			return services.Cart{
				ID:      "user-1",
				UserID:  "user-1",
				Voucher: &services.CartVoucher{Code: "SALE20", DiscountAmount: 20000, Applied: true},
			}, nil
		},
	}

	rr := serveCart(service, newCartRequest(t, http.MethodPost, "/cart/voucher", `{"code":"SALE20"}`, "user-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp cartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Cart.Voucher == nil || resp.Cart.Voucher.DiscountAmount != 20000 {
		t.Fatalf("unexpected voucher %#v", resp.Cart.Voucher)
	}
}

func TestCartHandlersSetShippingInfo(t *testing.T) {
	service := &stubCartService{
		setShippingInfoFunc: func(ctx context.Context, cmd services.SetShippingInfoCommand) (services.Cart, error) {
			if cmd.CustomerName != "Linh Tran" || cmd.Address != "12 Hang Bac, Hanoi" {
				t.Fatalf("unexpected command %#v", cmd)
			}
			return services.Cart{ID: "user-1", UserID: "user-1", CustomerName: "Linh Tran"}, nil
		},
	}

	body := `{"customer_name":"Linh Tran","customer_phone":"+84901234567","address":"12 Hang Bac, Hanoi"}`
	rr := serveCart(service, newCartRequest(t, http.MethodPut, "/cart/shipping-info", body, "user-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}
