package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/clovermart/api/internal/domain"
	pfirestore "github.com/clovermart/api/internal/platform/firestore"
	"github.com/clovermart/api/internal/repositories"
)

const cartCollection = "carts"

// CartRepository persists cart documents keyed by the owning user ID.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection)
	return &CartRepository{base: base}, nil
}

// UpsertCart persists the full cart document, items included, using the user ID
// as document identifier.
func (r *CartRepository) UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}

	cartID := strings.TrimSpace(cartDocumentID(cart))
	if cartID == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	doc := encodeCartDocument(cart)
	result, err := r.base.Set(ctx, cartID, doc)
	if err != nil {
		return domain.Cart{}, err
	}

	saved := decodeCartDocument(cartID, doc, doc.CreatedAt, result.UpdateTime)
	return saved, nil
}

// GetCart loads the cart for the given user ID.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}
	return decodeCartDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// ReplaceItems swaps the item set wholesale and refreshes the updated timestamp.
func (r *CartRepository) ReplaceItems(ctx context.Context, userID string, items []domain.CartItem) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	docs := make([]cartItemDocument, 0, len(items))
	for _, item := range items {
		docs = append(docs, encodeCartItem(item))
	}

	updates := []firestore.Update{
		{Path: "items", Value: docs},
		{Path: "itemsCount", Value: len(docs)},
		{Path: "updatedAt", Value: time.Now().UTC()},
	}
	if _, err := r.base.Update(ctx, uid, updates); err != nil {
		return domain.Cart{}, err
	}
	return r.GetCart(ctx, uid)
}

// DeleteCart removes the cart document. Invoked after a successful checkout.
func (r *CartRepository) DeleteCart(ctx context.Context, userID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return errors.New("cart repository: user id is required")
	}

	ref, err := r.base.DocumentRef(ctx, uid)
	if err != nil {
		return err
	}
	if tx, ok := transactionFromContext(ctx); ok {
		if err := tx.Delete(ref); err != nil {
			return pfirestore.WrapError("carts.delete", err)
		}
		return nil
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("carts.delete", err)
	}
	return nil
}

func cartDocumentID(cart domain.Cart) string {
	if strings.TrimSpace(cart.ID) != "" {
		return strings.TrimSpace(cart.ID)
	}
	return strings.TrimSpace(cart.UserID)
}

type cartDocument struct {
	Currency      string               `firestore:"currency"`
	CustomerName  string               `firestore:"customerName,omitempty"`
	CustomerPhone string               `firestore:"customerPhone,omitempty"`
	Address       string               `firestore:"address,omitempty"`
	Note          string               `firestore:"note,omitempty"`
	Voucher       *cartVoucherDocument `firestore:"voucher,omitempty"`
	Items         []cartItemDocument   `firestore:"items"`
	Estimate      *cartEstimateDoc     `firestore:"estimate,omitempty"`
	Metadata      map[string]any       `firestore:"metadata,omitempty"`
	ItemsCount    int                  `firestore:"itemsCount"`
	CreatedAt     time.Time            `firestore:"createdAt"`
	UpdatedAt     time.Time            `firestore:"updatedAt"`
}

type cartVoucherDocument struct {
	Code           string `firestore:"code"`
	DiscountAmount int64  `firestore:"discountAmount"`
	FreeShipping   bool   `firestore:"freeShipping"`
	Applied        bool   `firestore:"applied"`
}

type cartItemDocument struct {
	ProductID  string    `firestore:"productId"`
	Name       string    `firestore:"name"`
	UnitPrice  int64     `firestore:"unitPrice"`
	Quantity   int       `firestore:"quantity"`
	StockAtAdd int       `firestore:"stockAtAdd"`
	ImagePath  string    `firestore:"imagePath,omitempty"`
	AddedAt    time.Time `firestore:"addedAt"`
}

type cartEstimateDoc struct {
	Subtotal    int64 `firestore:"subtotal"`
	Discount    int64 `firestore:"discount"`
	ShippingFee int64 `firestore:"shippingFee"`
	Total       int64 `firestore:"total"`
}

func encodeCartDocument(cart domain.Cart) cartDocument {
	now := time.Now().UTC()
	updatedAt := cart.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = now
	}
	createdAt := cart.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = updatedAt
	}

	items := make([]cartItemDocument, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, encodeCartItem(item))
	}

	doc := cartDocument{
		Currency:      strings.ToUpper(strings.TrimSpace(cart.Currency)),
		CustomerName:  strings.TrimSpace(cart.CustomerName),
		CustomerPhone: strings.TrimSpace(cart.CustomerPhone),
		Address:       strings.TrimSpace(cart.Address),
		Note:          strings.TrimSpace(cart.Note),
		Items:         items,
		Metadata:      cloneAnyMap(cart.Metadata),
		ItemsCount:    len(items),
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}

	if cart.Voucher != nil {
		doc.Voucher = &cartVoucherDocument{
			Code:           strings.TrimSpace(cart.Voucher.Code),
			DiscountAmount: cart.Voucher.DiscountAmount,
			FreeShipping:   cart.Voucher.FreeShipping,
			Applied:        cart.Voucher.Applied,
		}
	}
	if cart.Estimate != nil {
		doc.Estimate = &cartEstimateDoc{
			Subtotal:    cart.Estimate.Subtotal,
			Discount:    cart.Estimate.Discount,
			ShippingFee: cart.Estimate.ShippingFee,
			Total:       cart.Estimate.Total,
		}
	}
	return doc
}

func encodeCartItem(item domain.CartItem) cartItemDocument {
	addedAt := item.AddedAt.UTC()
	if addedAt.IsZero() {
		addedAt = time.Now().UTC()
	}
	return cartItemDocument{
		ProductID:  strings.TrimSpace(item.ProductID),
		Name:       strings.TrimSpace(item.Name),
		UnitPrice:  item.UnitPrice,
		Quantity:   item.Quantity,
		StockAtAdd: item.StockAtAdd,
		ImagePath:  strings.TrimSpace(item.ImagePath),
		AddedAt:    addedAt,
	}
}

func decodeCartDocument(id string, doc cartDocument, createdAt, updatedAt time.Time) domain.Cart {
	items := make([]domain.CartItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.CartItem{
			ProductID:  strings.TrimSpace(item.ProductID),
			Name:       strings.TrimSpace(item.Name),
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			StockAtAdd: item.StockAtAdd,
			ImagePath:  strings.TrimSpace(item.ImagePath),
			AddedAt:    item.AddedAt.UTC(),
		})
	}

	cart := domain.Cart{
		ID:            strings.TrimSpace(id),
		UserID:        strings.TrimSpace(id),
		Currency:      strings.ToUpper(strings.TrimSpace(doc.Currency)),
		CustomerName:  strings.TrimSpace(doc.CustomerName),
		CustomerPhone: strings.TrimSpace(doc.CustomerPhone),
		Address:       strings.TrimSpace(doc.Address),
		Note:          strings.TrimSpace(doc.Note),
		Items:         items,
		Metadata:      cloneAnyMap(doc.Metadata),
		CreatedAt:     chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:     chooseTime(doc.UpdatedAt, updatedAt),
	}

	if doc.Voucher != nil {
		cart.Voucher = &domain.CartVoucher{
			Code:           strings.TrimSpace(doc.Voucher.Code),
			DiscountAmount: doc.Voucher.DiscountAmount,
			FreeShipping:   doc.Voucher.FreeShipping,
			Applied:        doc.Voucher.Applied,
		}
	}
	if doc.Estimate != nil {
		cart.Estimate = &domain.CartEstimate{
			Subtotal:    doc.Estimate.Subtotal,
			Discount:    doc.Estimate.Discount,
			ShippingFee: doc.Estimate.ShippingFee,
			Total:       doc.Estimate.Total,
		}
	}
	return cart
}

var _ repositories.CartRepository = (*CartRepository)(nil)
