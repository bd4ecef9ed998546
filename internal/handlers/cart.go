package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/clovermart/api/internal/platform/auth"
	"github.com/clovermart/api/internal/platform/httpx"
	"github.com/clovermart/api/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers exposes authenticated cart endpoints for the current user.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs handlers enforcing Firebase authentication before
// invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{productID}", h.updateItem)
	r.Delete("/items/{productID}", h.removeItem)
	r.Post("/voucher", h.applyVoucher)
	r.Delete("/voucher", h.removeVoucher)
	r.Put("/shipping-info", h.setShippingInfo)
}

type addCartItemRequest struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	UnitPrice  int64  `json:"unit_price"`
	Quantity   int    `json:"quantity"`
	StockAtAdd int    `json:"stock_at_add"`
	ImagePath  string `json:"image_path"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

type applyCartVoucherRequest struct {
	Code string `json:"code"`
}

type shippingInfoRequest struct {
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	Address       string `json:"address"`
	Note          string `json:"note"`
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	ID            string               `json:"id"`
	UserID        string               `json:"user_id"`
	Currency      string               `json:"currency"`
	CustomerName  string               `json:"customer_name,omitempty"`
	CustomerPhone string               `json:"customer_phone,omitempty"`
	Address       string               `json:"address,omitempty"`
	Note          string               `json:"note,omitempty"`
	Voucher       *cartVoucherPayload  `json:"voucher,omitempty"`
	Items         []cartItemPayload    `json:"items"`
	Estimate      *cartEstimatePayload `json:"estimate,omitempty"`
	CreatedAt     string               `json:"created_at"`
	UpdatedAt     string               `json:"updated_at,omitempty"`
}

type cartVoucherPayload struct {
	Code           string `json:"code"`
	DiscountAmount int64  `json:"discount_amount"`
	FreeShipping   bool   `json:"free_shipping"`
	Applied        bool   `json:"applied"`
}

type cartItemPayload struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	UnitPrice  int64  `json:"unit_price"`
	Quantity   int    `json:"quantity"`
	StockAtAdd int    `json:"stock_at_add"`
	ImagePath  string `json:"image_path,omitempty"`
	AddedAt    string `json:"added_at,omitempty"`
}

type cartEstimatePayload struct {
	Subtotal    int64 `json:"subtotal"`
	Discount    int64 `json:"discount"`
	ShippingFee int64 `json:"shipping_fee"`
	Total       int64 `json:"total"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	cart, err := h.carts.GetCart(ctx, uid)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	if err := h.carts.Clear(ctx, uid); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	var req addCartItemRequest
	if !decodeCartBody(ctx, w, r, &req) {
		return
	}

	cart, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		UserID:     uid,
		ProductID:  strings.TrimSpace(req.ProductID),
		Name:       strings.TrimSpace(req.Name),
		UnitPrice:  req.UnitPrice,
		Quantity:   req.Quantity,
		StockAtAdd: req.StockAtAdd,
		ImagePath:  strings.TrimSpace(req.ImagePath),
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	var req updateCartItemRequest
	if !decodeCartBody(ctx, w, r, &req) {
		return
	}

	cart, err := h.carts.UpdateItemQuantity(ctx, services.UpdateCartItemCommand{
		UserID:    uid,
		ProductID: productID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.RemoveItem(ctx, services.RemoveCartItemCommand{
		UserID:    uid,
		ProductID: productID,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) applyVoucher(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	var req applyCartVoucherRequest
	if !decodeCartBody(ctx, w, r, &req) {
		return
	}

	cart, err := h.carts.ApplyVoucher(ctx, services.CartVoucherCommand{
		UserID: uid,
		Code:   req.Code,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) removeVoucher(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	cart, err := h.carts.RemoveVoucher(ctx, uid)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) setShippingInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	var req shippingInfoRequest
	if !decodeCartBody(ctx, w, r, &req) {
		return
	}

	cart, err := h.carts.SetShippingInfo(ctx, services.SetShippingInfoCommand{
		UserID:        uid,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		Address:       req.Address,
		Note:          req.Note,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) requireUser(ctx context.Context, w http.ResponseWriter) (string, bool) {
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return strings.TrimSpace(identity.UID), true
}

func decodeCartBody(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := readLimitedBody(r, maxCartBodySize)
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

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		ID:            strings.TrimSpace(cart.ID),
		UserID:        strings.TrimSpace(cart.UserID),
		Currency:      strings.ToUpper(strings.TrimSpace(cart.Currency)),
		CustomerName:  strings.TrimSpace(cart.CustomerName),
		CustomerPhone: strings.TrimSpace(cart.CustomerPhone),
		Address:       strings.TrimSpace(cart.Address),
		Note:          strings.TrimSpace(cart.Note),
		Items:         make([]cartItemPayload, 0, len(cart.Items)),
		CreatedAt:     formatTime(cart.CreatedAt),
		UpdatedAt:     formatTime(cart.UpdatedAt),
	}

	for _, item := range cart.Items {
		payload.Items = append(payload.Items, cartItemPayload{
			ProductID:  strings.TrimSpace(item.ProductID),
			Name:       strings.TrimSpace(item.Name),
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			StockAtAdd: item.StockAtAdd,
			ImagePath:  strings.TrimSpace(item.ImagePath),
			AddedAt:    formatTime(item.AddedAt),
		})
	}

	if cart.Voucher != nil {
		payload.Voucher = &cartVoucherPayload{
			Code:           strings.ToUpper(strings.TrimSpace(cart.Voucher.Code)),
			DiscountAmount: cart.Voucher.DiscountAmount,
			FreeShipping:   cart.Voucher.FreeShipping,
			Applied:        cart.Voucher.Applied,
		}
	}

	if cart.Estimate != nil {
		payload.Estimate = &cartEstimatePayload{
			Subtotal:    cart.Estimate.Subtotal,
			Discount:    cart.Estimate.Discount,
			ShippingFee: cart.Estimate.ShippingFee,
			Total:       cart.Estimate.Total,
		}
	}

	return payload
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartStockExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("cart_stock_exceeded", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable), errors.Is(err, services.ErrVoucherUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart is temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart request", http.StatusInternalServerError))
	}
}
