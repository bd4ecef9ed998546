package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/repositories"
)

const (
	orderIDPrefix      = "ord_"
	orderNumberCounter = "orders"
)

var (
	// ErrOrderInvalidInput signals malformed order data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates a concurrent modification or a failed
	// expected-status guard.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderInvalidTransition indicates the requested status change is not
	// allowed from the order's current status.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderUnavailable indicates the order store is unreachable.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

// orderTransitions maps each status to the statuses it may move to. Cancelled
// is reachable only before fulfilment starts; completed and cancelled are
// terminal.
var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:  {domain.OrderStatusPreparing, domain.OrderStatusCancelled},
	domain.OrderStatusPreparing:  {domain.OrderStatusDelivering},
	domain.OrderStatusDelivering: {domain.OrderStatusCompleted},
	domain.OrderStatusCompleted:  {},
	domain.OrderStatusCancelled:  {},
}

func canTransition(from domain.OrderStatus, to domain.OrderStatus) bool {
	return slices.Contains(orderTransitions[from], to)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Counters    repositories.CounterRepository
	Events      EventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	counters repositories.CounterRepository
	events   EventPublisher
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:   deps.Orders,
		counters: deps.Counters,
		events:   deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Create persists a new pending order. The supplied totals must already be
// consistent; Create verifies the arithmetic but never reprices.
func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if err := validateCreateOrder(cmd); err != nil {
		return Order{}, err
	}

	now := s.clock()
	number := strings.TrimSpace(cmd.OrderNumber)
	if number == "" {
		generated, err := s.generateOrderNumber(ctx, now)
		if err != nil {
			return Order{}, err
		}
		number = generated
	}

	order := domain.Order{
		ID:            orderIDPrefix + s.newID(),
		OrderNumber:   number,
		UserID:        strings.TrimSpace(cmd.UserID),
		CustomerName:  strings.TrimSpace(cmd.CustomerName),
		CustomerPhone: strings.TrimSpace(cmd.CustomerPhone),
		Address:       strings.TrimSpace(cmd.Address),
		Note:          strings.TrimSpace(cmd.Note),
		Items:         slices.Clone(cmd.Items),
		Subtotal:      cmd.Subtotal,
		Discount:      cmd.Discount,
		ShippingFee:   cmd.ShippingFee,
		Total:         cmd.Total,
		PaymentMethod: cmd.PaymentMethod,
		Status:        domain.OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if cmd.VoucherCode != nil {
		code := normaliseCode(*cmd.VoucherCode)
		if code != "" {
			order.VoucherCode = &code
		}
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, LifecycleEvent{
		Name:        "order.created",
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		ActorID:     strings.TrimSpace(cmd.ActorID),
		OccurredAt:  now,
	})
	return order, nil
}

// Advance moves an order one step along its lifecycle. When ExpectedStatus is
// set and the stored status differs, Advance fails with ErrOrderConflict
// without writing.
func (s *orderService) Advance(ctx context.Context, cmd AdvanceOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.TargetStatus == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}
	if cmd.TargetStatus == domain.OrderStatusCancelled {
		return Order{}, fmt.Errorf("%w: use Cancel to cancel an order", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
		return Order{}, fmt.Errorf("%w: order %s is %s, expected %s", ErrOrderConflict, orderID, order.Status, *cmd.ExpectedStatus)
	}
	if !canTransition(order.Status, cmd.TargetStatus) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, cmd.TargetStatus)
	}

	previous := order.Status
	now := s.clock()
	order.Status = cmd.TargetStatus
	order.UpdatedAt = now
	switch cmd.TargetStatus {
	case domain.OrderStatusConfirmed:
		order.ConfirmedAt = &now
	case domain.OrderStatusCompleted:
		order.CompletedAt = &now
	}

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, LifecycleEvent{
		Name:           "order.status.changed",
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Status:         string(order.Status),
		PreviousStatus: string(previous),
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     now,
	})
	return order, nil
}

// Cancel voids an order that has not entered fulfilment. Stock is never
// reserved at checkout, so cancellation restocks nothing.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return Order{}, fmt.Errorf("%w: cancel reason is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
		return Order{}, fmt.Errorf("%w: order %s is %s, expected %s", ErrOrderConflict, orderID, order.Status, *cmd.ExpectedStatus)
	}
	if !canTransition(order.Status, domain.OrderStatusCancelled) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, domain.OrderStatusCancelled)
	}

	previous := order.Status
	now := s.clock()
	order.Status = domain.OrderStatusCancelled
	order.CancelReason = &reason
	order.CancelledAt = &now
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, LifecycleEvent{
		Name:           "order.status.changed",
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Status:         string(order.Status),
		PreviousStatus: string(previous),
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     now,
	})
	return order, nil
}

func (s *orderService) Get(ctx context.Context, orderID string) (Order, error) {
	trimmed := strings.TrimSpace(orderID)
	if trimmed == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, trimmed)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) GetByNumber(ctx context.Context, orderNumber string) (Order, error) {
	trimmed := strings.TrimSpace(orderNumber)
	if trimmed == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByNumber(ctx, trimmed)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// ReserveOrderNumber allocates an order number for a subsequent Create call.
// The counter commits in its own Firestore transaction, so callers that insert
// the order inside a transaction of their own must reserve the number before
// opening it.
func (s *orderService) ReserveOrderNumber(ctx context.Context) (string, error) {
	return s.generateOrderNumber(ctx, s.clock())
}

// generateOrderNumber allocates the next sequence value and renders it as
// CM-YYYY-NNNNNN. Sequence values burned by aborted checkouts leave gaps;
// numbers are unique, not dense.
func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderNumberCounter, 1)
	if err != nil {
		return "", fmt.Errorf("order: allocate number: %w", err)
	}
	return fmt.Sprintf("CM-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) publishEvent(ctx context.Context, event LifecycleEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishLifecycleEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{
			"event":   event.Name,
			"orderID": event.OrderID,
			"error":   err.Error(),
		})
	}
}

func validateCreateOrder(cmd CreateOrderCommand) error {
	if strings.TrimSpace(cmd.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.CustomerName) == "" {
		return fmt.Errorf("%w: customer name is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.CustomerPhone) == "" {
		return fmt.Errorf("%w: customer phone is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.Address) == "" {
		return fmt.Errorf("%w: delivery address is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: order needs at least one item", ErrOrderInvalidInput)
	}
	switch cmd.PaymentMethod {
	case domain.PaymentMethodCOD, domain.PaymentMethodBankTransfer, domain.PaymentMethodCard:
	default:
		return fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	if cmd.Subtotal < 0 || cmd.Discount < 0 || cmd.ShippingFee < 0 || cmd.Total < 0 {
		return fmt.Errorf("%w: money fields must not be negative", ErrOrderInvalidInput)
	}

	var lineSum int64
	for i, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" || strings.TrimSpace(item.Name) == "" {
			return fmt.Errorf("%w: item %d is missing product identity", ErrOrderInvalidInput, i)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: item %d quantity must be at least 1", ErrOrderInvalidInput, i)
		}
		if item.UnitPrice < 0 {
			return fmt.Errorf("%w: item %d unit price must not be negative", ErrOrderInvalidInput, i)
		}
		if item.LineTotal != item.UnitPrice*int64(item.Quantity) {
			return fmt.Errorf("%w: item %d line total mismatch", ErrOrderInvalidInput, i)
		}
		lineSum += item.LineTotal
	}
	if lineSum != cmd.Subtotal {
		return fmt.Errorf("%w: subtotal %d does not match item lines %d", ErrOrderInvalidInput, cmd.Subtotal, lineSum)
	}
	want := cmd.Subtotal + cmd.ShippingFee - cmd.Discount
	if want < 0 {
		want = 0
	}
	if cmd.Total != want {
		return fmt.Errorf("%w: total %d does not match computed %d", ErrOrderInvalidInput, cmd.Total, want)
	}
	return nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}
