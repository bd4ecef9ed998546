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

	domain "github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/platform/auth"
	"github.com/clovermart/api/internal/services"
)

type stubOrderService struct {
	createFunc      func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error)
	advanceFunc     func(ctx context.Context, cmd services.AdvanceOrderCommand) (services.Order, error)
	cancelFunc      func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error)
	getFunc         func(ctx context.Context, orderID string) (services.Order, error)
	getByNumberFunc func(ctx context.Context, orderNumber string) (services.Order, error)
	listFunc        func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	reserveFunc     func(ctx context.Context) (string, error)
}

func (s *stubOrderService) ReserveOrderNumber(ctx context.Context) (string, error) {
	if s.reserveFunc == nil {
		return "", errors.New("unexpected ReserveOrderNumber")
	}
	return s.reserveFunc(ctx)
}

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFunc == nil {
		return services.Order{}, errors.New("unexpected Create")
	}
	return s.createFunc(ctx, cmd)
}

func (s *stubOrderService) Advance(ctx context.Context, cmd services.AdvanceOrderCommand) (services.Order, error) {
	if s.advanceFunc == nil {
		return services.Order{}, errors.New("unexpected Advance")
	}
	return s.advanceFunc(ctx, cmd)
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFunc == nil {
		return services.Order{}, errors.New("unexpected Cancel")
	}
	return s.cancelFunc(ctx, cmd)
}

func (s *stubOrderService) Get(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFunc == nil {
		return services.Order{}, errors.New("unexpected Get")
	}
	return s.getFunc(ctx, orderID)
}

func (s *stubOrderService) GetByNumber(ctx context.Context, orderNumber string) (services.Order, error) {
	if s.getByNumberFunc == nil {
		return services.Order{}, errors.New("unexpected GetByNumber")
	}
	return s.getByNumberFunc(ctx, orderNumber)
}

func (s *stubOrderService) List(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFunc == nil {
		return domain.CursorPage[services.Order]{}, errors.New("unexpected List")
	}
	return s.listFunc(ctx, filter)
}

func serveOrders(service services.OrderService, req *http.Request) *httptest.ResponseRecorder {
	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func ordersIdentityRequest(method, target, body, uid string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if uid != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
	}
	return req
}

func TestOrderHandlersListScopesToCaller(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	service := &stubOrderService{
		listFunc: func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			if filter.UserID != "user-3" {
				t.Fatalf("expected list scoped to caller, got %q", filter.UserID)
			}
			if filter.Pagination.PageSize != 20 {
				t.Fatalf("expected default page size 20, got %d", filter.Pagination.PageSize)
			}
			return domain.CursorPage[services.Order]{
				Items: []services.Order{
					{ID: "ord_1", OrderNumber: "CM-2026-000010", Status: domain.OrderStatusPending, Total: 150000, PaymentMethod: domain.PaymentMethodCOD, CreatedAt: now},
				},
				NextPageToken: "tok-2",
			}, nil
		},
	}

	rr := serveOrders(service, ordersIdentityRequest(http.MethodGet, "/orders", "", "user-3"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].OrderNumber != "CM-2026-000010" {
		t.Fatalf("unexpected items %#v", resp.Items)
	}
	if resp.NextPageToken != "tok-2" {
		t.Fatalf("unexpected page token %q", resp.NextPageToken)
	}
}

func TestOrderHandlersListRejectsBadPageSize(t *testing.T) {
	rr := serveOrders(&stubOrderService{}, ordersIdentityRequest(http.MethodGet, "/orders?page_size=abc", "", "user-3"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersGetHidesForeignOrder(t *testing.T) {
	service := &stubOrderService{
		getFunc: func(ctx context.Context, orderID string) (services.Order, error) {
			return services.Order{ID: orderID, UserID: "someone-else", Status: domain.OrderStatusPending}, nil
		},
	}

	rr := serveOrders(service, ordersIdentityRequest(http.MethodGet, "/orders/ord_9", "", "user-3"))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for foreign order, got %d", rr.Code)
	}
}

func TestOrderHandlersGetByNumber(t *testing.T) {
	service := &stubOrderService{
		getByNumberFunc: func(ctx context.Context, orderNumber string) (services.Order, error) {
			if orderNumber != "CM-2026-000042" {
				t.Fatalf("unexpected order number %q", orderNumber)
			}
			return services.Order{ID: "ord_42", OrderNumber: orderNumber, UserID: "user-3", Status: domain.OrderStatusConfirmed}, nil
		},
	}

	rr := serveOrders(service, ordersIdentityRequest(http.MethodGet, "/orders/number/CM-2026-000042", "", "user-3"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Order.ID != "ord_42" || resp.Order.Status != "confirmed" {
		t.Fatalf("unexpected order %#v", resp.Order)
	}
}

func TestOrderHandlersCancelPendingOrder(t *testing.T) {
	service := &stubOrderService{
		getFunc: func(ctx context.Context, orderID string) (services.Order, error) {
			return services.Order{ID: orderID, UserID: "user-3", Status: domain.OrderStatusPending}, nil
		},
		cancelFunc: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			if cmd.Reason != "ordered by mistake" {
				t.Fatalf("unexpected reason %q", cmd.Reason)
			}
			if cmd.ExpectedStatus == nil || *cmd.ExpectedStatus != domain.OrderStatusPending {
				t.Fatalf("expected pending guard, got %#v", cmd.ExpectedStatus)
			}
			reason := cmd.Reason
			return services.Order{ID: cmd.OrderID, UserID: "user-3", Status: domain.OrderStatusCancelled, CancelReason: &reason}, nil
		},
	}

	rr := serveOrders(service, ordersIdentityRequest(http.MethodPost, "/orders/ord_5:cancel", `{"reason":"ordered by mistake"}`, "user-3"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Order.Status != "cancelled" {
		t.Fatalf("expected cancelled, got %q", resp.Order.Status)
	}
}

func TestOrderHandlersCancelDefaultsReason(t *testing.T) {
	service := &stubOrderService{
		getFunc: func(ctx context.Context, orderID string) (services.Order, error) {
			return services.Order{ID: orderID, UserID: "user-3", Status: domain.OrderStatusPending}, nil
		},
		cancelFunc: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			if cmd.Reason != "cancelled by customer" {
				t.Fatalf("expected default reason, got %q", cmd.Reason)
			}
			return services.Order{ID: cmd.OrderID, UserID: "user-3", Status: domain.OrderStatusCancelled}, nil
		},
	}

	rr := serveOrders(service, ordersIdentityRequest(http.MethodPost, "/orders/ord_5:cancel", "", "user-3"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestOrderHandlersCancelRejectsConfirmedOrder(t *testing.T) {
	service := &stubOrderService{
		getFunc: func(ctx context.Context, orderID string) (services.Order, error) {
			return services.Order{ID: orderID, UserID: "user-3", Status: domain.OrderStatusConfirmed}, nil
		},
	}

	rr := serveOrders(service, ordersIdentityRequest(http.MethodPost, "/orders/ord_5:cancel", `{"reason":"too slow"}`, "user-3"))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "order_invalid_state") {
		t.Fatalf("expected order_invalid_state code, got %s", rr.Body.String())
	}
}

func TestOrderHandlersMapNotFound(t *testing.T) {
	service := &stubOrderService{
		getFunc: func(ctx context.Context, orderID string) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotFound
		},
	}

	rr := serveOrders(service, ordersIdentityRequest(http.MethodGet, "/orders/ord_missing", "", "user-3"))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}
