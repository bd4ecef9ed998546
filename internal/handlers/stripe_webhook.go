package handlers

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/clovermart/api/internal/platform/httpx"
)

// StripeWebhookVerifier returns a middleware for the webhook route group that
// authenticates deliveries addressed to the stripe provider with Stripe's own
// signature scheme. Deliveries for any other provider pass through to
// fallback, typically the shared HMAC middleware. The verified body is
// re-buffered so the handler can read it again.
func StripeWebhookVerifier(signingSecret string, fallback func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		other := next
		if fallback != nil {
			other = fallback(next)
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if webhookProviderFromPath(r.URL.Path) != "stripe" {
				other.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			if signingSecret == "" {
				httpx.WriteError(ctx, w, httpx.NewError("webhook_not_configured", "stripe webhooks are not configured", http.StatusServiceUnavailable))
				return
			}

			payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
				return
			}
			if int64(len(payload)) > maxWebhookBodySize {
				httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
				return
			}

			// Stripe pins events to the account's API version, which may
			// trail the SDK's. The signature check alone decides authenticity.
			_, err = webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), signingSecret, webhook.ConstructEventOptions{
				IgnoreAPIVersionMismatch: true,
			})
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusUnauthorized))
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(payload))
			next.ServeHTTP(w, r)
		})
	}
}

// webhookProviderFromPath extracts the provider segment from a webhook
// delivery path such as /api/v1/webhooks/stripe.
func webhookProviderFromPath(path string) string {
	const marker = "/webhooks/"
	idx := strings.LastIndex(path, marker)
	if idx < 0 {
		return ""
	}
	rest := path[idx+len(marker):]
	if cut := strings.IndexByte(rest, '/'); cut >= 0 {
		rest = rest[:cut]
	}
	return strings.ToLower(strings.TrimSpace(rest))
}
