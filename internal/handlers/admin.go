package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/platform/auth"
	"github.com/clovermart/api/internal/platform/httpx"
	"github.com/clovermart/api/internal/services"
)

const (
	maxAdminBodySize       = 32 * 1024
	defaultAdminPageSize   = 20
	maxAdminPageSize       = 100
	defaultVoucherPageSize = 50
	maxVoucherPageSize     = 200
)

// AdminHandlers exposes the staff surface: order fulfilment, payment
// reconciliation, and voucher administration.
type AdminHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	payments services.PaymentService
	vouchers services.VoucherService
}

// NewAdminHandlers constructs the admin handler set. All routes require a
// staff or admin role.
func NewAdminHandlers(authn *auth.Authenticator, orders services.OrderService, payments services.PaymentService, vouchers services.VoucherService) *AdminHandlers {
	return &AdminHandlers{
		authn:    authn,
		orders:   orders,
		payments: payments,
		vouchers: vouchers,
	}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}

	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Get("/orders/{orderID}/payments", h.listOrderPayments)
	r.Post("/orders/{orderID}:advance", h.advanceOrder)
	r.Post("/orders/{orderID}:cancel", h.cancelOrder)

	r.Get("/payments", h.listPayments)
	r.Get("/payments/{paymentID}", h.getPayment)
	r.Post("/payments/{paymentID}:confirm", h.confirmPayment)
	r.Post("/payments/{paymentID}:reject", h.rejectPayment)

	r.Get("/vouchers", h.listVouchers)
	r.Post("/vouchers", h.createVoucher)
	r.Get("/vouchers/{code}", h.getVoucher)
	r.Put("/vouchers/{code}", h.updateVoucher)
	r.Post("/vouchers/{code}:disable", h.disableVoucher)
	r.Post("/vouchers/{code}:grant", h.grantVoucher)
	r.Get("/users/{userID}/voucher-grants", h.listVoucherGrants)
}

func (h *AdminHandlers) requireStaff(ctx context.Context, w http.ResponseWriter) (string, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return strings.TrimSpace(identity.UID), true
}

func decodeAdminBody(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := readLimitedBody(r, maxAdminBodySize)
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

// Orders ---------------------------------------------------------------------

type advanceOrderRequest struct {
	TargetStatus   string `json:"target_status"`
	ExpectedStatus string `json:"expected_status"`
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireStaff(ctx, w); !ok {
		return
	}

	query := r.URL.Query()
	dateRange, ok := parseDateRange(ctx, w, query.Get("created_after"), query.Get("created_before"))
	if !ok {
		return
	}
	pageSize, err := parsePageSize(query.Get("page_size"), defaultAdminPageSize, maxAdminPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.List(ctx, services.OrderListFilter{
		UserID:    strings.TrimSpace(query.Get("user_id")),
		Status:    parseFilterValues(query["status"]),
		DateRange: dateRange,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireStaff(ctx, w); !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Get(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) advanceOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	actorID, ok := h.requireStaff(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req advanceOrderRequest
	if !decodeAdminBody(ctx, w, r, &req) {
		return
	}

	target, ok := parseOrderStatus(req.TargetStatus)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "target_status must be a valid order status", http.StatusBadRequest))
		return
	}

	cmd := services.AdvanceOrderCommand{
		OrderID:      orderID,
		TargetStatus: target,
		ActorID:      actorID,
	}
	if raw := strings.TrimSpace(req.ExpectedStatus); raw != "" {
		expected, ok := parseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expected_status must be a valid order status", http.StatusBadRequest))
			return
		}
		cmd.ExpectedStatus = &expected
	}

	order, err := h.orders.Advance(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	actorID, ok := h.requireStaff(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	if !decodeAdminBody(ctx, w, r, &req) {
		return
	}

	cmd := services.CancelOrderCommand{
		OrderID: orderID,
		ActorID: actorID,
		Reason:  strings.TrimSpace(req.Reason),
	}
	if raw := strings.TrimSpace(req.ExpectedStatus); raw != "" {
		expected, ok := parseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expected_status must be a valid order status", http.StatusBadRequest))
			return
		}
		cmd.ExpectedStatus = &expected
	}

	order, err := h.orders.Cancel(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

// Payments -------------------------------------------------------------------

type rejectPaymentRequest struct {
	Reason string `json:"reason"`
}

type paymentResponse struct {
	Payment paymentPayload `json:"payment"`
}

type paymentListResponse struct {
	Items         []paymentPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type paymentPayload struct {
	ID             string           `json:"id"`
	OrderID        string           `json:"order_id"`
	OrderNumber    string           `json:"order_number"`
	Amount         int64            `json:"amount"`
	Currency       string           `json:"currency"`
	Method         string           `json:"method"`
	Status         string           `json:"status"`
	TransactionRef string           `json:"transaction_ref,omitempty"`
	QRCodeURL      *string          `json:"qr_code_url,omitempty"`
	BankInfo       *bankInfoPayload `json:"bank_info,omitempty"`
	FailReason     *string          `json:"fail_reason,omitempty"`
	CreatedAt      string           `json:"created_at"`
	UpdatedAt      string           `json:"updated_at,omitempty"`
	PaidAt         string           `json:"paid_at,omitempty"`
}

type bankInfoPayload struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountHolder string `json:"account_holder"`
	TransferNote  string `json:"transfer_note"`
}

func (h *AdminHandlers) listPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireStaff(ctx, w); !ok {
		return
	}

	query := r.URL.Query()
	dateRange, ok := parseDateRange(ctx, w, query.Get("created_after"), query.Get("created_before"))
	if !ok {
		return
	}
	pageSize, err := parsePageSize(query.Get("page_size"), defaultAdminPageSize, maxAdminPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.payments.List(ctx, services.PaymentListFilter{
		OrderID:   strings.TrimSpace(query.Get("order_id")),
		Status:    parseFilterValues(query["status"]),
		Methods:   parseFilterValues(query["method"]),
		DateRange: dateRange,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	items := make([]paymentPayload, 0, len(page.Items))
	for _, payment := range page.Items {
		items = append(items, buildPaymentPayload(payment))
	}
	writeJSONResponse(w, http.StatusOK, paymentListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminHandlers) getPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireStaff(ctx, w); !ok {
		return
	}

	paymentID := strings.TrimSpace(chi.URLParam(r, "paymentID"))
	if paymentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment id is required", http.StatusBadRequest))
		return
	}

	payment, err := h.payments.Get(ctx, paymentID)
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentResponse{Payment: buildPaymentPayload(payment)})
}

func (h *AdminHandlers) listOrderPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireStaff(ctx, w); !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	payments, err := h.payments.ListByOrder(ctx, orderID)
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	items := make([]paymentPayload, 0, len(payments))
	for _, payment := range payments {
		items = append(items, buildPaymentPayload(payment))
	}
	writeJSONResponse(w, http.StatusOK, paymentListResponse{Items: items})
}

func (h *AdminHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	actorID, ok := h.requireStaff(ctx, w)
	if !ok {
		return
	}

	paymentID := strings.TrimSpace(chi.URLParam(r, "paymentID"))
	if paymentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment id is required", http.StatusBadRequest))
		return
	}

	payment, err := h.payments.Confirm(ctx, services.ConfirmPaymentCommand{
		PaymentID: paymentID,
		ActorID:   actorID,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentResponse{Payment: buildPaymentPayload(payment)})
}

func (h *AdminHandlers) rejectPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	actorID, ok := h.requireStaff(ctx, w)
	if !ok {
		return
	}

	paymentID := strings.TrimSpace(chi.URLParam(r, "paymentID"))
	if paymentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment id is required", http.StatusBadRequest))
		return
	}

	var req rejectPaymentRequest
	if !decodeAdminBody(ctx, w, r, &req) {
		return
	}

	payment, err := h.payments.Reject(ctx, services.RejectPaymentCommand{
		PaymentID: paymentID,
		Reason:    strings.TrimSpace(req.Reason),
		ActorID:   actorID,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentResponse{Payment: buildPaymentPayload(payment)})
}

func buildPaymentPayload(payment services.Payment) paymentPayload {
	payload := paymentPayload{
		ID:             strings.TrimSpace(payment.ID),
		OrderID:        strings.TrimSpace(payment.OrderID),
		OrderNumber:    strings.TrimSpace(payment.OrderNumber),
		Amount:         payment.Amount,
		Currency:       strings.ToUpper(strings.TrimSpace(payment.Currency)),
		Method:         string(payment.Method),
		Status:         string(payment.Status),
		TransactionRef: strings.TrimSpace(payment.TransactionRef),
		QRCodeURL:      cloneStringPointer(payment.QRCodeURL),
		FailReason:     cloneStringPointer(payment.FailReason),
		CreatedAt:      formatTime(payment.CreatedAt),
		UpdatedAt:      formatTime(payment.UpdatedAt),
		PaidAt:         formatTime(pointerTime(payment.PaidAt)),
	}
	if payment.BankInfo != nil {
		payload.BankInfo = &bankInfoPayload{
			BankName:      payment.BankInfo.BankName,
			AccountNumber: payment.BankInfo.AccountNumber,
			AccountHolder: payment.BankInfo.AccountHolder,
			TransferNote:  payment.BankInfo.TransferNote,
		}
	}
	return payload
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_found", "payment not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("payment_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentConflict):
		httpx.WriteError(ctx, w, httpx.NewError("payment_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to process payment request", http.StatusInternalServerError))
	}
}

// Vouchers -------------------------------------------------------------------

type upsertVoucherRequest struct {
	Code            string `json:"code"`
	Type            string `json:"type"`
	Value           int64  `json:"value"`
	MinOrderValue   int64  `json:"min_order_value"`
	MaxDiscount     *int64 `json:"max_discount"`
	TotalUsageLimit *int   `json:"total_usage_limit"`
	PerUserLimit    int    `json:"per_user_limit"`
	StartsAt        string `json:"starts_at"`
	EndsAt          string `json:"ends_at"`
	Status          string `json:"status"`
	Description     string `json:"description"`
}

type grantVoucherRequest struct {
	UserID string `json:"user_id"`
	Source string `json:"source"`
}

type voucherResponse struct {
	Voucher voucherPayload `json:"voucher"`
}

type voucherListResponse struct {
	Items         []voucherPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type voucherPayload struct {
	ID              string `json:"id"`
	Code            string `json:"code"`
	Type            string `json:"type"`
	Value           int64  `json:"value"`
	MinOrderValue   int64  `json:"min_order_value"`
	MaxDiscount     *int64 `json:"max_discount,omitempty"`
	TotalUsageLimit *int   `json:"total_usage_limit,omitempty"`
	PerUserLimit    int    `json:"per_user_limit"`
	UsageCount      int    `json:"usage_count"`
	StartsAt        string `json:"starts_at"`
	EndsAt          string `json:"ends_at"`
	Status          string `json:"status"`
	Description     string `json:"description,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

type voucherGrantListResponse struct {
	Items         []voucherGrantPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type voucherGrantPayload struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	VoucherID   string  `json:"voucher_id"`
	Code        string  `json:"code"`
	Source      string  `json:"source"`
	GrantedBy   *string `json:"granted_by,omitempty"`
	Redemptions int     `json:"redemptions"`
	RedeemedAt  string  `json:"redeemed_at,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

func (h *AdminHandlers) listVouchers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.vouchers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("voucher_service_unavailable", "voucher service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireStaff(ctx, w); !ok {
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"), defaultVoucherPageSize, maxVoucherPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.VoucherListFilter{
		Status: parseFilterValues(query["status"]),
		Types:  parseFilterValues(query["type"]),
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}
	if raw := strings.TrimSpace(query.Get("active_at")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "active_at must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.ActiveAt = &ts
	}

	page, err := h.vouchers.ListVouchers(ctx, filter)
	if err != nil {
		writeVoucherError(ctx, w, err)
		return
	}

	items := make([]voucherPayload, 0, len(page.Items))
	for _, voucher := range page.Items {
		items = append(items, buildVoucherPayload(voucher))
	}
	writeJSONResponse(w, http.StatusOK, voucherListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminHandlers) createVoucher(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.vouchers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("voucher_service_unavailable", "voucher service unavailable", http.StatusServiceUnavailable))
		return
	}
	actorID, ok := h.requireStaff(ctx, w)
	if !ok {
		return
	}

	var req upsertVoucherRequest
	if !decodeAdminBody(ctx, w, r, &req) {
		return
	}

	voucher, ok := voucherFromRequest(ctx, w, req)
	if !ok {
		return
	}

	created, err := h.vouchers.CreateVoucher(ctx, services.UpsertVoucherCommand{
		Voucher: voucher,
		ActorID: actorID,
	})
	if err != nil {
		writeVoucherError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, voucherResponse{Voucher: buildVoucherPayload(created)})
}

func (h *AdminHandlers) getVoucher(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.vouchers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("voucher_service_unavailable", "voucher service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireStaff(ctx, w); !ok {
		return
	}

	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "voucher code is required", http.StatusBadRequest))
		return
	}

	voucher, err := h.vouchers.GetVoucher(ctx, code)
	if err != nil {
		writeVoucherError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, voucherResponse{Voucher: buildVoucherPayload(voucher)})
}

func (h *AdminHandlers) updateVoucher(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.vouchers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("voucher_service_unavailable", "voucher service unavailable", http.StatusServiceUnavailable))
		return
	}
	actorID, ok := h.requireStaff(ctx, w)
	if !ok {
		return
	}

	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "voucher code is required", http.StatusBadRequest))
		return
	}

	var req upsertVoucherRequest
	if !decodeAdminBody(ctx, w, r, &req) {
		return
	}
	req.Code = code

	voucher, ok := voucherFromRequest(ctx, w, req)
	if !ok {
		return
	}

	updated, err := h.vouchers.UpdateVoucher(ctx, services.UpsertVoucherCommand{
		Voucher: voucher,
		ActorID: actorID,
	})
	if err != nil {
		writeVoucherError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, voucherResponse{Voucher: buildVoucherPayload(updated)})
}

func (h *AdminHandlers) disableVoucher(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.vouchers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("voucher_service_unavailable", "voucher service unavailable", http.StatusServiceUnavailable))
		return
	}
	actorID, ok := h.requireStaff(ctx, w)
	if !ok {
		return
	}

	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "voucher code is required", http.StatusBadRequest))
		return
	}

	voucher, err := h.vouchers.DisableVoucher(ctx, code, actorID)
	if err != nil {
		writeVoucherError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, voucherResponse{Voucher: buildVoucherPayload(voucher)})
}

func (h *AdminHandlers) grantVoucher(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.vouchers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("voucher_service_unavailable", "voucher service unavailable", http.StatusServiceUnavailable))
		return
	}
	actorID, ok := h.requireStaff(ctx, w)
	if !ok {
		return
	}

	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "voucher code is required", http.StatusBadRequest))
		return
	}

	var req grantVoucherRequest
	if !decodeAdminBody(ctx, w, r, &req) {
		return
	}

	grant, err := h.vouchers.GrantVoucher(ctx, services.GrantVoucherCommand{
		UserID:  strings.TrimSpace(req.UserID),
		Code:    code,
		Source:  domain.VoucherGrantSource(strings.ToLower(strings.TrimSpace(req.Source))),
		ActorID: actorID,
	})
	if err != nil {
		writeVoucherError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]any{"grant": buildVoucherGrantPayload(grant)})
}

func (h *AdminHandlers) listVoucherGrants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.vouchers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("voucher_service_unavailable", "voucher service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireStaff(ctx, w); !ok {
		return
	}

	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "user id is required", http.StatusBadRequest))
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"), defaultVoucherPageSize, maxVoucherPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.vouchers.ListGrants(ctx, userID, services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	})
	if err != nil {
		writeVoucherError(ctx, w, err)
		return
	}

	items := make([]voucherGrantPayload, 0, len(page.Items))
	for _, grant := range page.Items {
		items = append(items, buildVoucherGrantPayload(grant))
	}
	writeJSONResponse(w, http.StatusOK, voucherGrantListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func voucherFromRequest(ctx context.Context, w http.ResponseWriter, req upsertVoucherRequest) (services.Voucher, bool) {
	voucher := services.Voucher{
		Code:            req.Code,
		Type:            domain.VoucherType(strings.ToLower(strings.TrimSpace(req.Type))),
		Value:           req.Value,
		MinOrderValue:   req.MinOrderValue,
		MaxDiscount:     req.MaxDiscount,
		TotalUsageLimit: req.TotalUsageLimit,
		PerUserLimit:    req.PerUserLimit,
		Status:          domain.VoucherStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		Description:     strings.TrimSpace(req.Description),
	}
	if raw := strings.TrimSpace(req.StartsAt); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "starts_at must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return services.Voucher{}, false
		}
		voucher.StartsAt = ts
	}
	if raw := strings.TrimSpace(req.EndsAt); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "ends_at must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return services.Voucher{}, false
		}
		voucher.EndsAt = ts
	}
	return voucher, true
}

func buildVoucherPayload(voucher services.Voucher) voucherPayload {
	payload := voucherPayload{
		ID:            strings.TrimSpace(voucher.ID),
		Code:          strings.ToUpper(strings.TrimSpace(voucher.Code)),
		Type:          string(voucher.Type),
		Value:         voucher.Value,
		MinOrderValue: voucher.MinOrderValue,
		PerUserLimit:  voucher.PerUserLimit,
		UsageCount:    voucher.UsageCount,
		StartsAt:      formatTime(voucher.StartsAt),
		EndsAt:        formatTime(voucher.EndsAt),
		Status:        string(voucher.Status),
		Description:   strings.TrimSpace(voucher.Description),
		CreatedAt:     formatTime(voucher.CreatedAt),
		UpdatedAt:     formatTime(voucher.UpdatedAt),
	}
	if voucher.MaxDiscount != nil {
		capped := *voucher.MaxDiscount
		payload.MaxDiscount = &capped
	}
	if voucher.TotalUsageLimit != nil {
		limit := *voucher.TotalUsageLimit
		payload.TotalUsageLimit = &limit
	}
	return payload
}

func buildVoucherGrantPayload(grant services.VoucherGrant) voucherGrantPayload {
	return voucherGrantPayload{
		ID:          strings.TrimSpace(grant.ID),
		UserID:      strings.TrimSpace(grant.UserID),
		VoucherID:   strings.TrimSpace(grant.VoucherID),
		Code:        strings.ToUpper(strings.TrimSpace(grant.Code)),
		Source:      string(grant.Source),
		GrantedBy:   cloneStringPointer(grant.GrantedBy),
		Redemptions: grant.Redemptions,
		RedeemedAt:  formatTime(pointerTime(grant.RedeemedAt)),
		CreatedAt:   formatTime(grant.CreatedAt),
	}
}

func writeVoucherError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrVoucherInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrVoucherNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("voucher_not_found", "voucher not found", http.StatusNotFound))
	case errors.Is(err, services.ErrVoucherExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("voucher_exhausted", "voucher is no longer available", http.StatusConflict))
	case errors.Is(err, services.ErrVoucherConflict):
		httpx.WriteError(ctx, w, httpx.NewError("voucher_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrVoucherUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("voucher_service_unavailable", "voucher service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("voucher_error", "failed to process voucher request", http.StatusInternalServerError))
	}
}
