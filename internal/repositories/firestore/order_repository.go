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

const orderCollection = "orders"

// OrderRepository persists orders and supports cursor-paginated listings.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection)
	return &OrderRepository{provider: provider, base: base}, nil
}

// Insert creates the order document. Joins the ambient transaction when one is
// active so order creation and voucher redemption commit atomically.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	doc := encodeOrderDocument(order)
	if tx, ok := transactionFromContext(ctx); ok {
		if err := tx.Create(ref, doc); err != nil {
			return pfirestore.WrapError("orders.insert", err)
		}
		return nil
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the stored order state.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	doc := encodeOrderDocument(order)
	if tx, ok := transactionFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.Set(ref, doc); err != nil {
			return pfirestore.WrapError("orders.update", err)
		}
		return nil
	}
	if _, err := r.base.Set(ctx, id, doc); err != nil {
		return err
	}
	return nil
}

// FindByID loads the order by document ID.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	if tx, ok := transactionFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, trimmed)
		if err != nil {
			return domain.Order{}, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return domain.Order{}, pfirestore.WrapError("orders.get", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Order{}, fmt.Errorf("orders decode %s: %w", trimmed, err)
		}
		return decodeOrderDocument(trimmed, doc, snap.CreateTime, snap.UpdateTime), nil
	}

	doc, err := r.base.Get(ctx, trimmed)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// FindByNumber looks the order up by its human readable order number.
func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	trimmed := strings.TrimSpace(orderNumber)
	if trimmed == "" {
		return domain.Order{}, errors.New("order repository: order number is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderNumber", "==", trimmed).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.findByNumber", status.Errorf(codes.NotFound, "order %s not found", trimmed))
	}
	doc := docs[0]
	return decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// List returns orders matching the filter ordered by creation time descending.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
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
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	userID := strings.TrimSpace(filter.UserID)
	statusFilters := normaliseFilterValues(filter.Status)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID != "" {
			q = q.Where("userId", "==", userID)
		}
		q = applyInFilter(q, "status", statusFilters)
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
		return domain.CursorPage[domain.Order]{}, err
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

	items := make([]domain.Order, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type orderDocument struct {
	OrderNumber   string              `firestore:"orderNumber"`
	UserID        string              `firestore:"userId"`
	CustomerName  string              `firestore:"customerName"`
	CustomerPhone string              `firestore:"customerPhone"`
	Address       string              `firestore:"address"`
	Note          string              `firestore:"note,omitempty"`
	Items         []orderItemDocument `firestore:"items"`
	Subtotal      int64               `firestore:"subtotal"`
	Discount      int64               `firestore:"discount"`
	ShippingFee   int64               `firestore:"shippingFee"`
	Total         int64               `firestore:"total"`
	VoucherCode   *string             `firestore:"voucherCode,omitempty"`
	PaymentMethod string              `firestore:"paymentMethod"`
	Status        string              `firestore:"status"`
	CancelReason  *string             `firestore:"cancelReason,omitempty"`
	CreatedAt     time.Time           `firestore:"createdAt"`
	UpdatedAt     time.Time           `firestore:"updatedAt"`
	ConfirmedAt   *time.Time          `firestore:"confirmedAt,omitempty"`
	CompletedAt   *time.Time          `firestore:"completedAt,omitempty"`
	CancelledAt   *time.Time          `firestore:"cancelledAt,omitempty"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
	LineTotal int64  `firestore:"lineTotal"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	now := time.Now().UTC()
	createdAt := order.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := order.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = now
	}
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		})
	}
	return orderDocument{
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		UserID:        strings.TrimSpace(order.UserID),
		CustomerName:  strings.TrimSpace(order.CustomerName),
		CustomerPhone: strings.TrimSpace(order.CustomerPhone),
		Address:       strings.TrimSpace(order.Address),
		Note:          strings.TrimSpace(order.Note),
		Items:         items,
		Subtotal:      order.Subtotal,
		Discount:      order.Discount,
		ShippingFee:   order.ShippingFee,
		Total:         order.Total,
		VoucherCode:   normalizeStringPointer(order.VoucherCode),
		PaymentMethod: strings.TrimSpace(string(order.PaymentMethod)),
		Status:        strings.TrimSpace(string(order.Status)),
		CancelReason:  normalizeStringPointer(order.CancelReason),
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
		ConfirmedAt:   normalizeTimePointer(order.ConfirmedAt),
		CompletedAt:   normalizeTimePointer(order.CompletedAt),
		CancelledAt:   normalizeTimePointer(order.CancelledAt),
	}
}

func decodeOrderDocument(id string, doc orderDocument, createdAt, updatedAt time.Time) domain.Order {
	items := make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		})
	}
	return domain.Order{
		ID:            strings.TrimSpace(id),
		OrderNumber:   strings.TrimSpace(doc.OrderNumber),
		UserID:        strings.TrimSpace(doc.UserID),
		CustomerName:  strings.TrimSpace(doc.CustomerName),
		CustomerPhone: strings.TrimSpace(doc.CustomerPhone),
		Address:       strings.TrimSpace(doc.Address),
		Note:          strings.TrimSpace(doc.Note),
		Items:         items,
		Subtotal:      doc.Subtotal,
		Discount:      doc.Discount,
		ShippingFee:   doc.ShippingFee,
		Total:         doc.Total,
		VoucherCode:   normalizeStringPointer(doc.VoucherCode),
		PaymentMethod: domain.PaymentMethod(strings.TrimSpace(doc.PaymentMethod)),
		Status:        domain.OrderStatus(strings.TrimSpace(doc.Status)),
		CancelReason:  normalizeStringPointer(doc.CancelReason),
		CreatedAt:     chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:     chooseTime(doc.UpdatedAt, updatedAt),
		ConfirmedAt:   normalizeTimePointer(doc.ConfirmedAt),
		CompletedAt:   normalizeTimePointer(doc.CompletedAt),
		CancelledAt:   normalizeTimePointer(doc.CancelledAt),
	}
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
