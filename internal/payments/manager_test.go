package payments

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubProvider struct {
	createFunc func(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	lookupFunc func(ctx context.Context, req LookupRequest) (PaymentDetails, error)
}

func (s *stubProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, req)
	}
	return CheckoutSession{}, errors.New("not implemented")
}

func (s *stubProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	if s.lookupFunc != nil {
		return s.lookupFunc(ctx, req)
	}
	return PaymentDetails{}, errors.New("not implemented")
}

func TestManagerStampsResolvedProviderOnSession(t *testing.T) {
	provider := &stubProvider{
		createFunc: func(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
			if req.Amount != 180000 {
				t.Fatalf("expected amount 180000, got %d", req.Amount)
			}
			return CheckoutSession{ID: "sess_1", IntentID: "pi_1", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}

	manager, err := NewManager(map[string]Provider{"stripe": provider})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	session, err := manager.CreateCheckoutSession(context.Background(), PaymentContext{Currency: "VND"}, CheckoutSessionRequest{
		Amount:   180000,
		Currency: "VND",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.Provider != "stripe" {
		t.Fatalf("expected provider stripe, got %s", session.Provider)
	}
	if session.ID != "sess_1" {
		t.Fatalf("expected session sess_1, got %s", session.ID)
	}
}

func TestManagerRejectsUnknownPreferredProvider(t *testing.T) {
	manager, err := NewManager(map[string]Provider{"stripe": &stubProvider{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = manager.CreateCheckoutSession(context.Background(), PaymentContext{PreferredProvider: "adyen"}, CheckoutSessionRequest{})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestManagerFallsBackToSingleProvider(t *testing.T) {
	provider := &stubProvider{
		lookupFunc: func(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
			if req.IntentID != "pi_9" {
				t.Fatalf("expected intent pi_9, got %s", req.IntentID)
			}
			return PaymentDetails{IntentID: "pi_9", Status: StatusSucceeded}, nil
		},
	}
	manager, err := NewManager(map[string]Provider{"mockpsp": provider}, WithDefaultProvider(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	details, err := manager.LookupPayment(context.Background(), PaymentContext{}, LookupRequest{IntentID: "pi_9"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if details.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", details.Status)
	}
}
