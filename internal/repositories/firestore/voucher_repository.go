package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/clovermart/api/internal/domain"
	pfirestore "github.com/clovermart/api/internal/platform/firestore"
	"github.com/clovermart/api/internal/repositories"
)

const voucherCollection = "vouchers"

// VoucherRepository persists voucher definitions keyed by normalised code.
type VoucherRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[voucherDocument]
}

// NewVoucherRepository constructs a Firestore-backed voucher repository.
func NewVoucherRepository(provider *pfirestore.Provider) (*VoucherRepository, error) {
	if provider == nil {
		return nil, errors.New("voucher repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[voucherDocument](provider, voucherCollection)
	return &VoucherRepository{provider: provider, base: base}, nil
}

// Insert stores a new voucher. The normalised code doubles as the document ID
// so duplicate codes surface as a conflict.
func (r *VoucherRepository) Insert(ctx context.Context, voucher domain.Voucher) error {
	if r == nil || r.base == nil {
		return errors.New("voucher repository not initialised")
	}
	code := normaliseVoucherCode(voucher.Code)
	if code == "" {
		return errors.New("voucher repository: voucher code is required")
	}
	ref, err := r.base.DocumentRef(ctx, code)
	if err != nil {
		return err
	}
	doc := encodeVoucherDocument(voucher)
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("vouchers.insert", err)
	}
	return nil
}

// Update replaces the stored voucher state.
func (r *VoucherRepository) Update(ctx context.Context, voucher domain.Voucher) error {
	if r == nil || r.base == nil {
		return errors.New("voucher repository not initialised")
	}
	code := normaliseVoucherCode(voucher.Code)
	if code == "" {
		return errors.New("voucher repository: voucher code is required")
	}
	doc := encodeVoucherDocument(voucher)
	if _, err := r.base.Set(ctx, code, doc); err != nil {
		return err
	}
	return nil
}

// FindByCode loads the voucher for the given code, normalising case and whitespace.
func (r *VoucherRepository) FindByCode(ctx context.Context, code string) (domain.Voucher, error) {
	if r == nil || r.base == nil {
		return domain.Voucher{}, errors.New("voucher repository not initialised")
	}
	normalised := normaliseVoucherCode(code)
	if normalised == "" {
		return domain.Voucher{}, errors.New("voucher repository: voucher code is required")
	}

	if tx, ok := transactionFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, normalised)
		if err != nil {
			return domain.Voucher{}, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return domain.Voucher{}, pfirestore.WrapError("vouchers.get", err)
		}
		var doc voucherDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Voucher{}, fmt.Errorf("vouchers decode %s: %w", normalised, err)
		}
		return decodeVoucherDocument(normalised, doc, snap.CreateTime, snap.UpdateTime), nil
	}

	doc, err := r.base.Get(ctx, normalised)
	if err != nil {
		return domain.Voucher{}, err
	}
	return decodeVoucherDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// List returns vouchers matching the filter ordered by most recent update.
func (r *VoucherRepository) List(ctx context.Context, filter repositories.VoucherListFilter) (domain.CursorPage[domain.Voucher], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Voucher]{}, errors.New("voucher repository not initialised")
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
			return domain.CursorPage[domain.Voucher]{}, fmt.Errorf("voucher repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	statusFilters := normaliseFilterValues(filter.Status)
	typeFilters := normaliseFilterValues(filter.Types)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = applyInFilter(q, "status", statusFilters)
		q = applyInFilter(q, "type", typeFilters)
		if filter.ActiveAt != nil && !filter.ActiveAt.IsZero() {
			q = q.Where("endsAt", ">=", filter.ActiveAt.UTC())
		}
		q = q.OrderBy("updatedAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Voucher]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.UpdatedAt
		if tokenTime.IsZero() {
			tokenTime = last.UpdateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Voucher, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeVoucherDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Voucher]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// RedeemUsage increments the voucher usage count, re-checking the total limit
// under the transaction so concurrent redemptions of the last slot cannot both
// commit. Requires an ambient transaction started via Registry.RunInTx.
func (r *VoucherRepository) RedeemUsage(ctx context.Context, req repositories.VoucherRedeemRequest) (domain.Voucher, error) {
	if r == nil || r.base == nil {
		return domain.Voucher{}, errors.New("voucher repository not initialised")
	}
	code := normaliseVoucherCode(req.Code)
	if code == "" {
		return domain.Voucher{}, errors.New("voucher repository: voucher code is required")
	}
	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	redeem := func(ctx context.Context, tx *firestore.Transaction) (domain.Voucher, error) {
		ref, err := r.base.DocumentRef(ctx, code)
		if err != nil {
			return domain.Voucher{}, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return domain.Voucher{}, pfirestore.WrapError("vouchers.redeem", err)
		}
		var doc voucherDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Voucher{}, fmt.Errorf("vouchers decode %s: %w", code, err)
		}
		if doc.TotalUsageLimit != nil && doc.UsageCount >= *doc.TotalUsageLimit {
			return domain.Voucher{}, repositories.ErrVoucherUsageExhausted
		}
		doc.UsageCount++
		doc.UpdatedAt = now
		if err := tx.Set(ref, doc); err != nil {
			return domain.Voucher{}, pfirestore.WrapError("vouchers.redeem", err)
		}
		return decodeVoucherDocument(code, doc, snap.CreateTime, now), nil
	}

	if tx, ok := transactionFromContext(ctx); ok {
		return redeem(ctx, tx)
	}

	var redeemed domain.Voucher
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		voucher, err := redeem(ctx, tx)
		if err != nil {
			return err
		}
		redeemed = voucher
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrVoucherUsageExhausted) {
			return domain.Voucher{}, repositories.ErrVoucherUsageExhausted
		}
		return domain.Voucher{}, err
	}
	return redeemed, nil
}

func normaliseVoucherCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type voucherDocument struct {
	Code            string    `firestore:"code"`
	Type            string    `firestore:"type"`
	Value           int64     `firestore:"value"`
	MinOrderValue   int64     `firestore:"minOrderValue"`
	MaxDiscount     *int64    `firestore:"maxDiscount,omitempty"`
	TotalUsageLimit *int      `firestore:"totalUsageLimit,omitempty"`
	PerUserLimit    int       `firestore:"perUserLimit"`
	UsageCount      int       `firestore:"usageCount"`
	StartsAt        time.Time `firestore:"startsAt"`
	EndsAt          time.Time `firestore:"endsAt"`
	Status          string    `firestore:"status"`
	Description     string    `firestore:"description,omitempty"`
	CreatedAt       time.Time `firestore:"createdAt"`
	UpdatedAt       time.Time `firestore:"updatedAt"`
}

func encodeVoucherDocument(voucher domain.Voucher) voucherDocument {
	now := time.Now().UTC()
	createdAt := voucher.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := voucher.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = now
	}
	return voucherDocument{
		Code:            normaliseVoucherCode(voucher.Code),
		Type:            strings.TrimSpace(string(voucher.Type)),
		Value:           voucher.Value,
		MinOrderValue:   voucher.MinOrderValue,
		MaxDiscount:     voucher.MaxDiscount,
		TotalUsageLimit: voucher.TotalUsageLimit,
		PerUserLimit:    voucher.PerUserLimit,
		UsageCount:      voucher.UsageCount,
		StartsAt:        voucher.StartsAt.UTC(),
		EndsAt:          voucher.EndsAt.UTC(),
		Status:          strings.TrimSpace(string(voucher.Status)),
		Description:     strings.TrimSpace(voucher.Description),
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}
}

func decodeVoucherDocument(id string, doc voucherDocument, createdAt, updatedAt time.Time) domain.Voucher {
	code := normaliseVoucherCode(doc.Code)
	if code == "" {
		code = normaliseVoucherCode(id)
	}
	return domain.Voucher{
		ID:              strings.TrimSpace(id),
		Code:            code,
		Type:            domain.VoucherType(strings.TrimSpace(doc.Type)),
		Value:           doc.Value,
		MinOrderValue:   doc.MinOrderValue,
		MaxDiscount:     doc.MaxDiscount,
		TotalUsageLimit: doc.TotalUsageLimit,
		PerUserLimit:    doc.PerUserLimit,
		UsageCount:      doc.UsageCount,
		StartsAt:        doc.StartsAt.UTC(),
		EndsAt:          doc.EndsAt.UTC(),
		Status:          domain.VoucherStatus(strings.TrimSpace(doc.Status)),
		Description:     strings.TrimSpace(doc.Description),
		CreatedAt:       chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:       chooseTime(doc.UpdatedAt, updatedAt),
	}
}

var _ repositories.VoucherRepository = (*VoucherRepository)(nil)
