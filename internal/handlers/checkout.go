package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/platform/auth"
	"github.com/clovermart/api/internal/platform/httpx"
	"github.com/clovermart/api/internal/services"
)

const maxCheckoutBodySize = 16 * 1024

// CheckoutHandlers exposes checkout endpoints for authenticated users: placing
// an order from the cart and dry-run voucher evaluation.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
	carts    services.CartService
	vouchers services.VoucherService
	limiter  rateLimiter
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase
// authentication. voucherRateLimit caps voucher evaluations per user per
// minute; zero disables the throttle.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, carts services.CartService, vouchers services.VoucherService, voucherRateLimit int) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
		carts:    carts,
		vouchers: vouchers,
		limiter:  newFixedWindowLimiter(voucherRateLimit, time.Minute, nil),
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/orders", h.placeOrder)
	r.Post("/vouchers:evaluate", h.evaluateVoucher)
}

type placeOrderRequest struct {
	CustomerName  string  `json:"customer_name"`
	CustomerPhone string  `json:"customer_phone"`
	Address       string  `json:"address"`
	Note          string  `json:"note"`
	PaymentMethod string  `json:"payment_method"`
	VoucherCode   *string `json:"voucher_code"`
}

type placeOrderResponse struct {
	Order       orderPayload    `json:"order"`
	Payment     *paymentPayload `json:"payment,omitempty"`
	RedirectURL string          `json:"redirect_url,omitempty"`
}

type evaluateVoucherRequest struct {
	Code string `json:"code"`
}

type voucherDecisionPayload struct {
	Code         string `json:"code"`
	Eligible     bool   `json:"eligible"`
	Reason       string `json:"reason,omitempty"`
	Type         string `json:"type,omitempty"`
	Value        int64  `json:"value,omitempty"`
	MaxDiscount  *int64 `json:"max_discount,omitempty"`
	FreeShipping bool   `json:"free_shipping,omitempty"`
}

func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req placeOrderRequest
	if !decodeCheckoutBody(ctx, w, r, &req) {
		return
	}

	result, err := h.checkout.PlaceOrder(ctx, services.PlaceOrderCommand{
		UserID:        strings.TrimSpace(identity.UID),
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		Address:       req.Address,
		Note:          req.Note,
		PaymentMethod: domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		VoucherCode:   cloneStringPointer(req.VoucherCode),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	response := placeOrderResponse{
		Order:       buildOrderPayload(result.Order),
		RedirectURL: strings.TrimSpace(result.RedirectURL),
	}
	if result.Payment != nil {
		payment := buildPaymentPayload(*result.Payment)
		response.Payment = &payment
	}
	writeJSONResponse(w, http.StatusCreated, response)
}

func (h *CheckoutHandlers) evaluateVoucher(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.vouchers == nil || h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	uid := strings.TrimSpace(identity.UID)

	if h.limiter != nil && !h.limiter.Allow(uid) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many voucher checks; slow down", http.StatusTooManyRequests))
		return
	}

	var req evaluateVoucherRequest
	if !decodeCheckoutBody(ctx, w, r, &req) {
		return
	}

	cart, err := h.carts.GetCart(ctx, uid)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	decision, err := h.vouchers.Evaluate(ctx, services.EvaluateVoucherCommand{
		Code:     req.Code,
		Subtotal: cartSubtotal(cart),
		UserID:   uid,
	})
	if err != nil {
		writeVoucherError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildVoucherDecisionPayload(decision))
}

func cartSubtotal(cart services.Cart) int64 {
	if cart.Estimate != nil {
		return cart.Estimate.Subtotal
	}
	var subtotal int64
	for _, item := range cart.Items {
		subtotal += item.UnitPrice * int64(item.Quantity)
	}
	return subtotal
}

func buildVoucherDecisionPayload(decision services.VoucherDecision) voucherDecisionPayload {
	payload := voucherDecisionPayload{
		Code:         strings.ToUpper(strings.TrimSpace(decision.Code)),
		Eligible:     decision.Eligible,
		FreeShipping: decision.FreeShipping,
	}
	if !decision.Eligible {
		payload.Reason = string(decision.Reason)
		return payload
	}
	payload.Type = string(decision.Type)
	payload.Value = decision.Value
	if decision.MaxDiscount != nil {
		capped := *decision.MaxDiscount
		payload.MaxDiscount = &capped
	}
	return payload
}

func decodeCheckoutBody(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := readLimitedBody(r, maxCheckoutBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart has no items to check out", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutVoucherRejected):
		httpx.WriteError(ctx, w, httpx.NewError("voucher_rejected", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrVoucherExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("voucher_exhausted", "voucher is no longer available", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable),
		errors.Is(err, services.ErrOrderUnavailable),
		errors.Is(err, services.ErrPaymentUnavailable),
		errors.Is(err, services.ErrVoucherUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout is temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to place order", http.StatusInternalServerError))
	}
}
