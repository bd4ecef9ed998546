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

const voucherGrantCollection = "voucherGrants"

// VoucherGrantRepository tracks per-user voucher grants and redemption counts.
// Documents are keyed "<voucherID>_<userID>" so each user holds at most one
// grant record per voucher.
type VoucherGrantRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[voucherGrantDocument]
}

// NewVoucherGrantRepository constructs a Firestore-backed grant repository.
func NewVoucherGrantRepository(provider *pfirestore.Provider) (*VoucherGrantRepository, error) {
	if provider == nil {
		return nil, errors.New("voucher grant repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[voucherGrantDocument](provider, voucherGrantCollection)
	return &VoucherGrantRepository{provider: provider, base: base}, nil
}

// Insert records a new grant and returns the stored state. Duplicate grants
// for the same voucher and user surface as a conflict.
func (r *VoucherGrantRepository) Insert(ctx context.Context, grant domain.VoucherGrant) (domain.VoucherGrant, error) {
	if r == nil || r.base == nil {
		return domain.VoucherGrant{}, errors.New("voucher grant repository not initialised")
	}
	docID, err := voucherGrantDocID(grant.VoucherID, grant.UserID)
	if err != nil {
		return domain.VoucherGrant{}, err
	}
	ref, err := r.base.DocumentRef(ctx, docID)
	if err != nil {
		return domain.VoucherGrant{}, err
	}
	doc := encodeVoucherGrantDocument(grant)
	if tx, ok := transactionFromContext(ctx); ok {
		if err := tx.Create(ref, doc); err != nil {
			return domain.VoucherGrant{}, pfirestore.WrapError("voucherGrants.insert", err)
		}
		return decodeVoucherGrantDocument(docID, doc, doc.CreatedAt), nil
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return domain.VoucherGrant{}, pfirestore.WrapError("voucherGrants.insert", err)
	}
	return decodeVoucherGrantDocument(docID, doc, doc.CreatedAt), nil
}

// Find loads the grant for the voucher and user pair.
func (r *VoucherGrantRepository) Find(ctx context.Context, voucherID, userID string) (domain.VoucherGrant, error) {
	if r == nil || r.base == nil {
		return domain.VoucherGrant{}, errors.New("voucher grant repository not initialised")
	}
	docID, err := voucherGrantDocID(voucherID, userID)
	if err != nil {
		return domain.VoucherGrant{}, err
	}

	if tx, ok := transactionFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, docID)
		if err != nil {
			return domain.VoucherGrant{}, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return domain.VoucherGrant{}, pfirestore.WrapError("voucherGrants.get", err)
		}
		var doc voucherGrantDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.VoucherGrant{}, fmt.Errorf("voucherGrants decode %s: %w", docID, err)
		}
		return decodeVoucherGrantDocument(docID, doc, snap.CreateTime), nil
	}

	doc, err := r.base.Get(ctx, docID)
	if err != nil {
		return domain.VoucherGrant{}, err
	}
	return decodeVoucherGrantDocument(doc.ID, doc.Data, doc.CreateTime), nil
}

// ListByUser returns the user's grants newest first with cursor pagination.
func (r *VoucherGrantRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.VoucherGrant], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.VoucherGrant]{}, errors.New("voucher grant repository not initialised")
	}
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return domain.CursorPage[domain.VoucherGrant]{}, errors.New("voucher grant repository: user id is required")
	}

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.VoucherGrant]{}, fmt.Errorf("voucher grant repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", trimmed).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.VoucherGrant]{}, err
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

	items := make([]domain.VoucherGrant, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeVoucherGrantDocument(doc.ID, doc.Data, doc.CreateTime))
	}

	return domain.CursorPage[domain.VoucherGrant]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// IncrementRedemptions bumps the redemption count and stamps the redemption
// time. The update is write-only so transactional callers can order it after
// their reads; it joins the ambient transaction when one is active.
func (r *VoucherGrantRepository) IncrementRedemptions(ctx context.Context, voucherID, userID string, now time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("voucher grant repository not initialised")
	}
	docID, err := voucherGrantDocID(voucherID, userID)
	if err != nil {
		return err
	}
	stamp := now.UTC()
	if stamp.IsZero() {
		stamp = time.Now().UTC()
	}
	updates := []firestore.Update{
		{Path: "redemptions", Value: firestore.Increment(1)},
		{Path: "redeemedAt", Value: stamp},
	}

	if tx, ok := transactionFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, docID)
		if err != nil {
			return err
		}
		if err := tx.Update(ref, updates); err != nil {
			return pfirestore.WrapError("voucherGrants.redeem", err)
		}
		return nil
	}

	if _, err := r.base.Update(ctx, docID, updates); err != nil {
		return err
	}
	return nil
}

func voucherGrantDocID(voucherID, userID string) (string, error) {
	voucher := strings.TrimSpace(voucherID)
	user := strings.TrimSpace(userID)
	if voucher == "" || user == "" {
		return "", errors.New("voucher grant repository: voucher id and user id are required")
	}
	return voucher + "_" + user, nil
}

type voucherGrantDocument struct {
	UserID      string     `firestore:"userId"`
	VoucherID   string     `firestore:"voucherId"`
	Code        string     `firestore:"code"`
	Source      string     `firestore:"source"`
	GrantedBy   *string    `firestore:"grantedBy,omitempty"`
	Redemptions int        `firestore:"redemptions"`
	RedeemedAt  *time.Time `firestore:"redeemedAt,omitempty"`
	CreatedAt   time.Time  `firestore:"createdAt"`
}

func encodeVoucherGrantDocument(grant domain.VoucherGrant) voucherGrantDocument {
	createdAt := grant.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return voucherGrantDocument{
		UserID:      strings.TrimSpace(grant.UserID),
		VoucherID:   strings.TrimSpace(grant.VoucherID),
		Code:        normaliseVoucherCode(grant.Code),
		Source:      strings.TrimSpace(string(grant.Source)),
		GrantedBy:   normalizeStringPointer(grant.GrantedBy),
		Redemptions: grant.Redemptions,
		RedeemedAt:  normalizeTimePointer(grant.RedeemedAt),
		CreatedAt:   createdAt,
	}
}

func decodeVoucherGrantDocument(id string, doc voucherGrantDocument, createdAt time.Time) domain.VoucherGrant {
	return domain.VoucherGrant{
		ID:          strings.TrimSpace(id),
		UserID:      strings.TrimSpace(doc.UserID),
		VoucherID:   strings.TrimSpace(doc.VoucherID),
		Code:        normaliseVoucherCode(doc.Code),
		Source:      domain.VoucherGrantSource(strings.TrimSpace(doc.Source)),
		GrantedBy:   normalizeStringPointer(doc.GrantedBy),
		Redemptions: doc.Redemptions,
		RedeemedAt:  normalizeTimePointer(doc.RedeemedAt),
		CreatedAt:   chooseTime(doc.CreatedAt, createdAt),
	}
}

var _ repositories.VoucherGrantRepository = (*VoucherGrantRepository)(nil)
