package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/clovermart/api/internal/services"
)

func serveWebhook(payments services.PaymentService, req *http.Request) *httptest.ResponseRecorder {
	handler := NewWebhookHandlers(payments)
	router := chi.NewRouter()
	router.Route("/webhooks", handler.Routes)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestWebhookHandlersForwardsEvent(t *testing.T) {
	var recorded services.PaymentWebhookCommand
	payments := &stubPaymentService{
		webhookFunc: func(ctx context.Context, cmd services.PaymentWebhookCommand) error {
			recorded = cmd
			return nil
		},
	}

	body := `{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_123"}}}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")

	rr := serveWebhook(payments, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if recorded.Provider != "stripe" {
		t.Fatalf("unexpected provider %q", recorded.Provider)
	}
	if string(recorded.Payload) != body {
		t.Fatalf("payload not forwarded verbatim: %s", recorded.Payload)
	}
	if recorded.Headers["Stripe-Signature"] != "t=1,v1=abc" {
		t.Fatalf("expected signature header forwarded, got %#v", recorded.Headers)
	}
}

func TestWebhookHandlersRejectsEmptyBody(t *testing.T) {
	payments := &stubPaymentService{}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(""))

	rr := serveWebhook(payments, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestWebhookHandlersMapsInvalidPayload(t *testing.T) {
	payments := &stubPaymentService{
		webhookFunc: func(ctx context.Context, cmd services.PaymentWebhookCommand) error {
			return services.ErrPaymentInvalidInput
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader("{"))
	rr := serveWebhook(payments, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestWebhookHandlersServiceUnavailable(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader("{}"))
	rr := serveWebhook(nil, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
