package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/payments"
	"github.com/clovermart/api/internal/repositories"
)

const paymentIDPrefix = "pay_"

// webhookActorID marks payment state changes driven by PSP notifications
// rather than staff action.
const webhookActorID = "system:psp"

var (
	// ErrPaymentInvalidInput signals malformed payment data.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates the payment does not exist.
	ErrPaymentNotFound = errors.New("payment: not found")
	// ErrPaymentInvalidState indicates the payment is not in a state that
	// permits the requested action. Only pending payments are mutable.
	ErrPaymentInvalidState = errors.New("payment: invalid state")
	// ErrPaymentConflict indicates a concurrent modification.
	ErrPaymentConflict = errors.New("payment: conflict")
	// ErrPaymentUnavailable indicates the payment store is unreachable.
	ErrPaymentUnavailable = errors.New("payment: unavailable")
)

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Payments    repositories.PaymentRepository
	Orders      repositories.OrderRepository
	UnitOfWork  repositories.UnitOfWork
	Events      EventPublisher
	PSP         *payments.Manager
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	payments repositories.PaymentRepository
	orders   repositories.OrderRepository
	uow      repositories.UnitOfWork
	events   EventPublisher
	psp      *payments.Manager
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Payments == nil {
		return nil, errors.New("payment service: payment repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}

	uow := deps.UnitOfWork
	if uow == nil {
		uow = noopUnitOfWork{}
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

	return &paymentService{
		payments: deps.Payments,
		orders:   deps.Orders,
		uow:      uow,
		events:   deps.Events,
		psp:      deps.PSP,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CreateForOrder opens a pending payment record for the order. The amount is
// always the order total; callers cannot override it.
func (s *paymentService) CreateForOrder(ctx context.Context, cmd CreatePaymentCommand) (Payment, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Payment{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	switch cmd.Method {
	case domain.PaymentMethodCOD, domain.PaymentMethodBankTransfer, domain.PaymentMethodCard:
	default:
		return Payment{}, fmt.Errorf("%w: unsupported payment method %q", ErrPaymentInvalidInput, cmd.Method)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Payment{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	payment := domain.Payment{
		ID:             paymentIDPrefix + s.newID(),
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Amount:         order.Total,
		Currency:       domain.CurrencyVND,
		Method:         cmd.Method,
		Status:         domain.PaymentStatusPending,
		TransactionRef: strings.TrimSpace(cmd.TransactionRef),
		QRCodeURL:      cmd.QRCodeURL,
		BankInfo:       cmd.BankInfo,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.payments.Insert(ctx, payment); err != nil {
		return Payment{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "payment.created", map[string]any{
		"paymentID": payment.ID,
		"orderID":   order.ID,
		"method":    string(cmd.Method),
		"amount":    payment.Amount,
	})
	return payment, nil
}

// Confirm marks a pending payment as settled and advances the owning order
// out of pending in the same transaction, so a paid order can never stay
// unconfirmed.
func (s *paymentService) Confirm(ctx context.Context, cmd ConfirmPaymentCommand) (Payment, error) {
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if paymentID == "" {
		return Payment{}, fmt.Errorf("%w: payment id is required", ErrPaymentInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	now := s.clock()

	var (
		payment       Payment
		order         Order
		orderPrevious domain.OrderStatus
		orderAdvanced bool
	)
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		payment, err = s.payments.FindByID(txCtx, paymentID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if payment.Status != domain.PaymentStatusPending {
			return fmt.Errorf("%w: payment %s is %s", ErrPaymentInvalidState, paymentID, payment.Status)
		}
		order, err = s.orders.FindByID(txCtx, payment.OrderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		payment.Status = domain.PaymentStatusSuccess
		payment.PaidAt = &now
		payment.UpdatedAt = now
		if err := s.payments.Update(txCtx, payment); err != nil {
			return s.mapRepositoryError(err)
		}

		if order.Status == domain.OrderStatusPending {
			orderPrevious = order.Status
			order.Status = domain.OrderStatusConfirmed
			order.ConfirmedAt = &now
			order.UpdatedAt = now
			if err := s.orders.Update(txCtx, order); err != nil {
				return s.mapRepositoryError(err)
			}
			orderAdvanced = true
		}
		return nil
	})
	if err != nil {
		return Payment{}, err
	}

	s.publishEvent(ctx, LifecycleEvent{
		Name:        "payment.status.changed",
		OrderID:     payment.OrderID,
		OrderNumber: payment.OrderNumber,
		PaymentID:   payment.ID,
		Status:      string(payment.Status),
		ActorID:     actor,
		OccurredAt:  now,
	})
	if orderAdvanced {
		s.publishEvent(ctx, LifecycleEvent{
			Name:           "order.status.changed",
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			Status:         string(order.Status),
			PreviousStatus: string(orderPrevious),
			ActorID:        actor,
			OccurredAt:     now,
		})
	}
	return payment, nil
}

// Reject marks a pending payment as failed. The owning order stays as-is;
// staff decide separately whether to cancel it or wait for another attempt.
func (s *paymentService) Reject(ctx context.Context, cmd RejectPaymentCommand) (Payment, error) {
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if paymentID == "" {
		return Payment{}, fmt.Errorf("%w: payment id is required", ErrPaymentInvalidInput)
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return Payment{}, fmt.Errorf("%w: reject reason is required", ErrPaymentInvalidInput)
	}

	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return Payment{}, s.mapRepositoryError(err)
	}
	if payment.Status != domain.PaymentStatusPending {
		return Payment{}, fmt.Errorf("%w: payment %s is %s", ErrPaymentInvalidState, paymentID, payment.Status)
	}

	now := s.clock()
	payment.Status = domain.PaymentStatusFailed
	payment.FailReason = &reason
	payment.UpdatedAt = now

	if err := s.payments.Update(ctx, payment); err != nil {
		return Payment{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, LifecycleEvent{
		Name:        "payment.status.changed",
		OrderID:     payment.OrderID,
		OrderNumber: payment.OrderNumber,
		PaymentID:   payment.ID,
		Status:      string(payment.Status),
		ActorID:     strings.TrimSpace(cmd.ActorID),
		OccurredAt:  now,
	})
	return payment, nil
}

func (s *paymentService) Get(ctx context.Context, paymentID string) (Payment, error) {
	trimmed := strings.TrimSpace(paymentID)
	if trimmed == "" {
		return Payment{}, fmt.Errorf("%w: payment id is required", ErrPaymentInvalidInput)
	}
	payment, err := s.payments.FindByID(ctx, trimmed)
	if err != nil {
		return Payment{}, s.mapRepositoryError(err)
	}
	return payment, nil
}

func (s *paymentService) ListByOrder(ctx context.Context, orderID string) ([]Payment, error) {
	trimmed := strings.TrimSpace(orderID)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	list, err := s.payments.ListByOrder(ctx, trimmed)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return list, nil
}

func (s *paymentService) List(ctx context.Context, filter PaymentListFilter) (domain.CursorPage[Payment], error) {
	page, err := s.payments.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Payment]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// stripeWebhookEvent is the subset of the Stripe event envelope the
// reconciliation flow needs.
type stripeWebhookEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	} `json:"data"`
}

// RecordWebhookEvent reconciles a PSP notification against the matching
// payment record. The intent status is re-fetched from the PSP rather than
// trusted from the payload. Events for unknown intents and states that need
// no action are acknowledged without error so the PSP stops retrying.
func (s *paymentService) RecordWebhookEvent(ctx context.Context, cmd PaymentWebhookCommand) error {
	if s.psp == nil {
		return fmt.Errorf("%w: no payment provider configured", ErrPaymentInvalidInput)
	}

	var event stripeWebhookEvent
	if err := json.Unmarshal(cmd.Payload, &event); err != nil {
		return fmt.Errorf("%w: malformed webhook payload: %v", ErrPaymentInvalidInput, err)
	}
	intentID := strings.TrimSpace(event.Data.Object.ID)
	if intentID == "" {
		return fmt.Errorf("%w: webhook payload has no intent id", ErrPaymentInvalidInput)
	}

	details, err := s.psp.LookupPayment(ctx, payments.PaymentContext{PreferredProvider: cmd.Provider}, payments.LookupRequest{IntentID: intentID})
	if err != nil {
		return fmt.Errorf("payment: lookup intent %s: %w", intentID, err)
	}

	payment, err := s.payments.FindByTransactionRef(ctx, intentID)
	if err != nil {
		if isNotFound(err) {
			s.logger(ctx, "payment.webhook.unmatched", map[string]any{
				"intentID": intentID,
				"type":     event.Type,
			})
			return nil
		}
		return s.mapRepositoryError(err)
	}

	switch details.Status {
	case payments.StatusSucceeded:
		if payment.Status != domain.PaymentStatusPending {
			return nil
		}
		_, err := s.Confirm(ctx, ConfirmPaymentCommand{PaymentID: payment.ID, ActorID: webhookActorID})
		return err
	case payments.StatusFailed:
		if payment.Status != domain.PaymentStatusPending {
			return nil
		}
		reason := details.FailReason
		if reason == "" {
			reason = "payment failed at provider"
		}
		_, err := s.Reject(ctx, RejectPaymentCommand{PaymentID: payment.ID, Reason: reason, ActorID: webhookActorID})
		return err
	default:
		s.logger(ctx, "payment.webhook.ignored", map[string]any{
			"intentID": intentID,
			"status":   string(details.Status),
		})
		return nil
	}
}

func (s *paymentService) publishEvent(ctx context.Context, event LifecycleEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishLifecycleEvent(ctx, event); err != nil {
		s.logger(ctx, "payment.event.publish_failed", map[string]any{
			"event":     event.Name,
			"paymentID": event.PaymentID,
			"error":     err.Error(),
		})
	}
}

func (s *paymentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPaymentNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrPaymentConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
		}
	}
	return err
}
