package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/repositories"
)

type stubOrderRepo struct {
	insert       func(ctx context.Context, order domain.Order) error
	update       func(ctx context.Context, order domain.Order) error
	findByID     func(ctx context.Context, orderID string) (domain.Order, error)
	findByNumber func(ctx context.Context, orderNumber string) (domain.Order, error)
	list         func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insert == nil {
		return errors.New("unexpected Insert")
	}
	return s.insert(ctx, order)
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if s.update == nil {
		return errors.New("unexpected Update")
	}
	return s.update(ctx, order)
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findByID == nil {
		return domain.Order{}, errors.New("unexpected FindByID")
	}
	return s.findByID(ctx, orderID)
}

func (s *stubOrderRepo) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if s.findByNumber == nil {
		return domain.Order{}, errors.New("unexpected FindByNumber")
	}
	return s.findByNumber(ctx, orderNumber)
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.list == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("unexpected List")
	}
	return s.list(ctx, filter)
}

type stubCounterRepo struct {
	next func(ctx context.Context, counterID string, step int64) (int64, error)
}

func (s *stubCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.next == nil {
		return 0, errors.New("unexpected Next")
	}
	return s.next(ctx, counterID, step)
}

func (s *stubCounterRepo) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	return errors.New("unexpected Configure")
}

type capturingPublisher struct {
	events []LifecycleEvent
	err    error
}

func (p *capturingPublisher) PublishLifecycleEvent(_ context.Context, event LifecycleEvent) (string, error) {
	p.events = append(p.events, event)
	return "msg-1", p.err
}

var orderTestNow = time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)

func validCreateOrderCommand() CreateOrderCommand {
	return CreateOrderCommand{
		UserID:        "user-1",
		CustomerName:  "Tran Thi B",
		CustomerPhone: "0901234567",
		Address:       "12 Nguyen Hue, District 1",
		Items: []domain.OrderItem{
			{ProductID: "prod-1", Name: "Rice", UnitPrice: 100000, Quantity: 2, LineTotal: 200000},
			{ProductID: "prod-2", Name: "Tofu", UnitPrice: 12000, Quantity: 1, LineTotal: 12000},
		},
		Subtotal:      212000,
		Discount:      20000,
		ShippingFee:   30000,
		Total:         222000,
		PaymentMethod: domain.PaymentMethodCOD,
		ActorID:       "user-1",
	}
}

func newTestOrderService(t *testing.T, orders *stubOrderRepo, counters *stubCounterRepo, events EventPublisher) OrderService {
	t.Helper()
	if counters == nil {
		counters = &stubCounterRepo{
			next: func(context.Context, string, int64) (int64, error) { return 42, nil },
		}
	}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:      orders,
		Counters:    counters,
		Events:      events,
		Clock:       func() time.Time { return orderTestNow },
		IDGenerator: func() string { return "01HORDER" },
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return svc
}

func TestCreateOrderAssignsNumberAndPendingStatus(t *testing.T) {
	var stored *domain.Order
	orders := &stubOrderRepo{
		insert: func(_ context.Context, order domain.Order) error {
			stored = &order
			return nil
		},
	}
	counters := &stubCounterRepo{
		next: func(_ context.Context, counterID string, step int64) (int64, error) {
			if counterID != "orders" || step != 1 {
				t.Fatalf("unexpected counter call %s %d", counterID, step)
			}
			return 137, nil
		},
	}
	publisher := &capturingPublisher{}
	svc := newTestOrderService(t, orders, counters, publisher)

	order, err := svc.Create(context.Background(), validCreateOrderCommand())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if stored == nil {
		t.Fatal("expected insert")
	}
	if order.ID != "ord_01HORDER" {
		t.Fatalf("id = %q", order.ID)
	}
	if order.OrderNumber != "CM-2026-000137" {
		t.Fatalf("orderNumber = %q, want CM-2026-000137", order.OrderNumber)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("status = %q, want pending", order.Status)
	}
	if len(publisher.events) != 1 || publisher.events[0].Name != "order.created" {
		t.Fatalf("unexpected events %+v", publisher.events)
	}
}

func TestReserveOrderNumberFormatsSequence(t *testing.T) {
	counters := &stubCounterRepo{
		next: func(_ context.Context, counterID string, step int64) (int64, error) {
			if counterID != "orders" || step != 1 {
				t.Fatalf("unexpected counter call %s %d", counterID, step)
			}
			return 512, nil
		},
	}
	svc := newTestOrderService(t, &stubOrderRepo{}, counters, nil)

	number, err := svc.ReserveOrderNumber(context.Background())
	if err != nil {
		t.Fatalf("ReserveOrderNumber: %v", err)
	}
	if number != "CM-2026-000512" {
		t.Fatalf("number = %q, want CM-2026-000512", number)
	}
}

func TestCreateOrderHonoursReservedNumber(t *testing.T) {
	orders := &stubOrderRepo{
		insert: func(context.Context, domain.Order) error { return nil },
	}
	// The nil next func makes any counter allocation fail the create.
	svc := newTestOrderService(t, orders, &stubCounterRepo{}, nil)

	cmd := validCreateOrderCommand()
	cmd.OrderNumber = "CM-2026-000042"
	order, err := svc.Create(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if order.OrderNumber != "CM-2026-000042" {
		t.Fatalf("orderNumber = %q, want the reserved number", order.OrderNumber)
	}
}

func TestCreateOrderValidatesTotals(t *testing.T) {
	svc := newTestOrderService(t, &stubOrderRepo{}, nil, nil)

	mismatchedSubtotal := validCreateOrderCommand()
	mismatchedSubtotal.Subtotal = 999999

	mismatchedTotal := validCreateOrderCommand()
	mismatchedTotal.Total = 1

	badLine := validCreateOrderCommand()
	badLine.Items[0].LineTotal = 123

	noItems := validCreateOrderCommand()
	noItems.Items = nil
	noItems.Subtotal = 0
	noItems.Total = 10000

	badMethod := validCreateOrderCommand()
	badMethod.PaymentMethod = "cheque"

	cases := []struct {
		name string
		cmd  CreateOrderCommand
	}{
		{name: "subtotal mismatch", cmd: mismatchedSubtotal},
		{name: "total mismatch", cmd: mismatchedTotal},
		{name: "line total mismatch", cmd: badLine},
		{name: "no items", cmd: noItems},
		{name: "unknown payment method", cmd: badMethod},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tc.cmd)
			if !errors.Is(err, ErrOrderInvalidInput) {
				t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
			}
		})
	}
}

func TestAdvanceFollowsLifecycle(t *testing.T) {
	current := domain.Order{
		ID:          "ord_1",
		OrderNumber: "CM-2026-000001",
		Status:      domain.OrderStatusPending,
	}
	var stored *domain.Order
	orders := &stubOrderRepo{
		findByID: func(context.Context, string) (domain.Order, error) {
			return current, nil
		},
		update: func(_ context.Context, order domain.Order) error {
			stored = &order
			return nil
		},
	}
	publisher := &capturingPublisher{}
	svc := newTestOrderService(t, orders, nil, publisher)

	order, err := svc.Advance(context.Background(), AdvanceOrderCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusConfirmed,
		ActorID:      "admin-1",
	})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("status = %q, want confirmed", order.Status)
	}
	if order.ConfirmedAt == nil || !order.ConfirmedAt.Equal(orderTestNow) {
		t.Fatalf("confirmedAt = %v", order.ConfirmedAt)
	}
	if stored == nil {
		t.Fatal("expected update")
	}
	if len(publisher.events) != 1 {
		t.Fatalf("expected one event, got %d", len(publisher.events))
	}
	event := publisher.events[0]
	if event.Name != "order.status.changed" || event.PreviousStatus != "pending" || event.Status != "confirmed" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestAdvanceRejectsIllegalTransition(t *testing.T) {
	orders := &stubOrderRepo{
		findByID: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", Status: domain.OrderStatusPending}, nil
		},
	}
	svc := newTestOrderService(t, orders, nil, nil)

	_, err := svc.Advance(context.Background(), AdvanceOrderCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusDelivering,
	})
	if !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected ErrOrderInvalidTransition, got %v", err)
	}
}

func TestAdvanceExpectedStatusGuard(t *testing.T) {
	orders := &stubOrderRepo{
		findByID: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", Status: domain.OrderStatusConfirmed}, nil
		},
	}
	svc := newTestOrderService(t, orders, nil, nil)

	expected := domain.OrderStatusPending
	_, err := svc.Advance(context.Background(), AdvanceOrderCommand{
		OrderID:        "ord_1",
		TargetStatus:   domain.OrderStatusConfirmed,
		ExpectedStatus: &expected,
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
}

func TestAdvanceRefusesCancelledTarget(t *testing.T) {
	svc := newTestOrderService(t, &stubOrderRepo{}, nil, nil)

	_, err := svc.Advance(context.Background(), AdvanceOrderCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusCancelled,
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestCancelRecordsReasonAndTimestamp(t *testing.T) {
	var stored *domain.Order
	orders := &stubOrderRepo{
		findByID: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", OrderNumber: "CM-2026-000001", Status: domain.OrderStatusConfirmed}, nil
		},
		update: func(_ context.Context, order domain.Order) error {
			stored = &order
			return nil
		},
	}
	publisher := &capturingPublisher{}
	svc := newTestOrderService(t, orders, nil, publisher)

	order, err := svc.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord_1",
		ActorID: "admin-1",
		Reason:  "customer request",
	})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("status = %q, want cancelled", order.Status)
	}
	if order.CancelReason == nil || *order.CancelReason != "customer request" {
		t.Fatalf("cancelReason = %v", order.CancelReason)
	}
	if order.CancelledAt == nil || !order.CancelledAt.Equal(orderTestNow) {
		t.Fatalf("cancelledAt = %v", order.CancelledAt)
	}
	if stored == nil {
		t.Fatal("expected update")
	}
}

func TestCancelRejectedOnceFulfilmentStarted(t *testing.T) {
	orders := &stubOrderRepo{
		findByID: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", Status: domain.OrderStatusPreparing}, nil
		},
	}
	svc := newTestOrderService(t, orders, nil, nil)

	_, err := svc.Cancel(context.Background(), CancelOrderCommand{OrderID: "ord_1", Reason: "too late"})
	if !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected ErrOrderInvalidTransition, got %v", err)
	}
}

func TestGetMapsNotFound(t *testing.T) {
	orders := &stubOrderRepo{
		findByID: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, stubRepositoryError{notFound: true}
		},
	}
	svc := newTestOrderService(t, orders, nil, nil)

	_, err := svc.Get(context.Background(), "ord_missing")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestPublishFailureDoesNotFailTransition(t *testing.T) {
	orders := &stubOrderRepo{
		findByID: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", Status: domain.OrderStatusPending}, nil
		},
		update: func(context.Context, domain.Order) error { return nil },
	}
	publisher := &capturingPublisher{err: errors.New("broker down")}
	svc := newTestOrderService(t, orders, nil, publisher)

	order, err := svc.Advance(context.Background(), AdvanceOrderCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusConfirmed,
	})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("status = %q", order.Status)
	}
}
