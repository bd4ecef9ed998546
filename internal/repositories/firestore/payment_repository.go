package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/clovermart/api/internal/domain"
	pfirestore "github.com/clovermart/api/internal/platform/firestore"
	"github.com/clovermart/api/internal/repositories"
)

const paymentCollection = "payments"

// PaymentRepository persists payment records keyed by payment ID.
type PaymentRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[paymentDocument]
}

// NewPaymentRepository constructs a Firestore-backed payment repository.
func NewPaymentRepository(provider *pfirestore.Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[paymentDocument](provider, paymentCollection)
	return &PaymentRepository{provider: provider, base: base}, nil
}

// Insert creates a payment document. Joins the ambient transaction when active.
func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	if r == nil || r.base == nil {
		return errors.New("payment repository not initialised")
	}
	id := strings.TrimSpace(payment.ID)
	if id == "" {
		return errors.New("payment repository: payment id is required")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	doc := encodePaymentDocument(payment)
	if tx, ok := transactionFromContext(ctx); ok {
		if err := tx.Create(ref, doc); err != nil {
			return pfirestore.WrapError("payments.insert", err)
		}
		return nil
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("payments.insert", err)
	}
	return nil
}

// Update replaces the stored payment state.
func (r *PaymentRepository) Update(ctx context.Context, payment domain.Payment) error {
	if r == nil || r.base == nil {
		return errors.New("payment repository not initialised")
	}
	id := strings.TrimSpace(payment.ID)
	if id == "" {
		return errors.New("payment repository: payment id is required")
	}
	doc := encodePaymentDocument(payment)
	if tx, ok := transactionFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.Set(ref, doc); err != nil {
			return pfirestore.WrapError("payments.update", err)
		}
		return nil
	}
	if _, err := r.base.Set(ctx, id, doc); err != nil {
		return err
	}
	return nil
}

// FindByID loads a payment by document ID.
func (r *PaymentRepository) FindByID(ctx context.Context, id string) (domain.Payment, error) {
	if r == nil || r.base == nil {
		return domain.Payment{}, errors.New("payment repository not initialised")
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return domain.Payment{}, errors.New("payment repository: payment id is required")
	}

	if tx, ok := transactionFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, trimmed)
		if err != nil {
			return domain.Payment{}, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return domain.Payment{}, pfirestore.WrapError("payments.get", err)
		}
		var doc paymentDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Payment{}, fmt.Errorf("payments decode %s: %w", trimmed, err)
		}
		return decodePaymentDocument(trimmed, doc, snap.CreateTime, snap.UpdateTime), nil
	}

	doc, err := r.base.Get(ctx, trimmed)
	if err != nil {
		return domain.Payment{}, err
	}
	return decodePaymentDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// FindByTransactionRef resolves the payment carrying the provider transaction
// reference. Used by webhook reconciliation.
func (r *PaymentRepository) FindByTransactionRef(ctx context.Context, ref string) (domain.Payment, error) {
	if r == nil || r.base == nil {
		return domain.Payment{}, errors.New("payment repository not initialised")
	}
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return domain.Payment{}, errors.New("payment repository: transaction ref is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("transactionRef", "==", trimmed).Limit(1)
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if len(docs) == 0 {
		return domain.Payment{}, pfirestore.WrapError("payments.findByTransactionRef", status.Errorf(codes.NotFound, "payment for ref %s not found", trimmed))
	}
	doc := docs[0]
	return decodePaymentDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// ListByOrder returns every payment attempt for the order, newest first.
func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("payment repository not initialised")
	}
	trimmed := strings.TrimSpace(orderID)
	if trimmed == "" {
		return nil, errors.New("payment repository: order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", trimmed).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
	})
	if err != nil {
		return nil, err
	}

	payments := make([]domain.Payment, 0, len(docs))
	for _, doc := range docs {
		payments = append(payments, decodePaymentDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}
	return payments, nil
}

// List returns payments matching the filter ordered by creation time descending.
func (r *PaymentRepository) List(ctx context.Context, filter repositories.PaymentListFilter) (domain.CursorPage[domain.Payment], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Payment]{}, errors.New("payment repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Payment]{}, fmt.Errorf("payment repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	orderID := strings.TrimSpace(filter.OrderID)
	statusFilters := normaliseFilterValues(filter.Status)
	methodFilters := normaliseFilterValues(filter.Methods)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if orderID != "" {
			q = q.Where("orderId", "==", orderID)
		}
		q = applyInFilter(q, "status", statusFilters)
		q = applyInFilter(q, "method", methodFilters)
		if filter.DateRange.From != nil && !filter.DateRange.From.IsZero() {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil && !filter.DateRange.To.IsZero() {
			q = q.Where("createdAt", "<", filter.DateRange.To.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Payment]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Payment, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodePaymentDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Payment]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type paymentDocument struct {
	OrderID        string            `firestore:"orderId"`
	OrderNumber    string            `firestore:"orderNumber"`
	Amount         int64             `firestore:"amount"`
	Currency       string            `firestore:"currency"`
	Method         string            `firestore:"method"`
	Status         string            `firestore:"status"`
	TransactionRef string            `firestore:"transactionRef,omitempty"`
	QRCodeURL      *string           `firestore:"qrCodeUrl,omitempty"`
	BankInfo       *bankInfoDocument `firestore:"bankInfo,omitempty"`
	FailReason     *string           `firestore:"failReason,omitempty"`
	CreatedAt      time.Time         `firestore:"createdAt"`
	UpdatedAt      time.Time         `firestore:"updatedAt"`
	PaidAt         *time.Time        `firestore:"paidAt,omitempty"`
}

type bankInfoDocument struct {
	BankName      string `firestore:"bankName"`
	AccountNumber string `firestore:"accountNumber"`
	AccountHolder string `firestore:"accountHolder"`
	TransferNote  string `firestore:"transferNote"`
}

func encodePaymentDocument(payment domain.Payment) paymentDocument {
	now := time.Now().UTC()
	createdAt := payment.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := payment.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = now
	}
	var bankInfo *bankInfoDocument
	if payment.BankInfo != nil {
		bankInfo = &bankInfoDocument{
			BankName:      strings.TrimSpace(payment.BankInfo.BankName),
			AccountNumber: strings.TrimSpace(payment.BankInfo.AccountNumber),
			AccountHolder: strings.TrimSpace(payment.BankInfo.AccountHolder),
			TransferNote:  strings.TrimSpace(payment.BankInfo.TransferNote),
		}
	}
	return paymentDocument{
		OrderID:        strings.TrimSpace(payment.OrderID),
		OrderNumber:    strings.TrimSpace(payment.OrderNumber),
		Amount:         payment.Amount,
		Currency:       strings.ToUpper(strings.TrimSpace(payment.Currency)),
		Method:         strings.TrimSpace(string(payment.Method)),
		Status:         strings.TrimSpace(string(payment.Status)),
		TransactionRef: strings.TrimSpace(payment.TransactionRef),
		QRCodeURL:      normalizeStringPointer(payment.QRCodeURL),
		BankInfo:       bankInfo,
		FailReason:     normalizeStringPointer(payment.FailReason),
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
		PaidAt:         normalizeTimePointer(payment.PaidAt),
	}
}

func decodePaymentDocument(id string, doc paymentDocument, createdAt, updatedAt time.Time) domain.Payment {
	var bankInfo *domain.BankInfo
	if doc.BankInfo != nil {
		bankInfo = &domain.BankInfo{
			BankName:      strings.TrimSpace(doc.BankInfo.BankName),
			AccountNumber: strings.TrimSpace(doc.BankInfo.AccountNumber),
			AccountHolder: strings.TrimSpace(doc.BankInfo.AccountHolder),
			TransferNote:  strings.TrimSpace(doc.BankInfo.TransferNote),
		}
	}
	return domain.Payment{
		ID:             strings.TrimSpace(id),
		OrderID:        strings.TrimSpace(doc.OrderID),
		OrderNumber:    strings.TrimSpace(doc.OrderNumber),
		Amount:         doc.Amount,
		Currency:       strings.ToUpper(strings.TrimSpace(doc.Currency)),
		Method:         domain.PaymentMethod(strings.TrimSpace(doc.Method)),
		Status:         domain.PaymentStatus(strings.TrimSpace(doc.Status)),
		TransactionRef: strings.TrimSpace(doc.TransactionRef),
		QRCodeURL:      normalizeStringPointer(doc.QRCodeURL),
		BankInfo:       bankInfo,
		FailReason:     normalizeStringPointer(doc.FailReason),
		CreatedAt:      chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:      chooseTime(doc.UpdatedAt, updatedAt),
		PaidAt:         normalizeTimePointer(doc.PaidAt),
	}
}

var _ repositories.PaymentRepository = (*PaymentRepository)(nil)
