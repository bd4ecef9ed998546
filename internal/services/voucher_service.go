package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/repositories"
)

const (
	voucherGrantIDPrefix = "vgr_"

	defaultPerUserLimit = 1
)

var (
	// ErrVoucherInvalidInput signals the caller provided invalid voucher data.
	ErrVoucherInvalidInput = errors.New("voucher: invalid input")
	// ErrVoucherNotFound indicates the voucher code does not exist.
	ErrVoucherNotFound = errors.New("voucher: not found")
	// ErrVoucherConflict indicates a duplicate code or concurrent modification.
	ErrVoucherConflict = errors.New("voucher: conflict")
	// ErrVoucherUnavailable indicates the voucher store is unreachable.
	ErrVoucherUnavailable = errors.New("voucher: unavailable")
	// ErrVoucherExhausted is returned when a redemption guard fails at commit
	// time because a concurrent checkout consumed the remaining use.
	ErrVoucherExhausted = errors.New("voucher: just ran out")
)

// VoucherServiceDeps bundles collaborators required to construct the voucher service.
type VoucherServiceDeps struct {
	Vouchers    repositories.VoucherRepository
	Grants      repositories.VoucherGrantRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type voucherService struct {
	vouchers repositories.VoucherRepository
	grants   repositories.VoucherGrantRepository
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewVoucherService wires dependencies into a concrete VoucherService implementation.
func NewVoucherService(deps VoucherServiceDeps) (VoucherService, error) {
	if deps.Vouchers == nil {
		return nil, errors.New("voucher service: voucher repository is required")
	}
	if deps.Grants == nil {
		return nil, errors.New("voucher service: grant repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &voucherService{
		vouchers: deps.Vouchers,
		grants:   deps.Grants,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Evaluate checks whether the code can discount an order of the given
// subtotal for the user. Negative outcomes come back as an ineligible
// decision with a reason code, never as an error; errors are reserved for
// store failures. Evaluate has no side effects.
func (s *voucherService) Evaluate(ctx context.Context, cmd EvaluateVoucherCommand) (VoucherDecision, error) {
	code := normaliseCode(cmd.Code)
	if code == "" {
		return VoucherDecision{}, fmt.Errorf("%w: voucher code is required", ErrVoucherInvalidInput)
	}
	if cmd.Subtotal < 0 {
		return VoucherDecision{}, fmt.Errorf("%w: subtotal must not be negative", ErrVoucherInvalidInput)
	}

	voucher, err := s.vouchers.FindByCode(ctx, code)
	if err != nil {
		if isNotFound(err) {
			return rejection(code, domain.VoucherReasonNotFound), nil
		}
		return VoucherDecision{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	if reason, ok := s.staticRejection(voucher, cmd.Subtotal, now); !ok {
		return rejection(code, reason), nil
	}

	if userID := strings.TrimSpace(cmd.UserID); userID != "" {
		grant, err := s.grants.Find(ctx, voucher.ID, userID)
		switch {
		case err == nil:
			if grant.Redemptions >= perUserLimit(voucher) {
				return rejection(code, domain.VoucherReasonPerUserExceeded), nil
			}
		case isNotFound(err):
			// No usage record yet.
		default:
			return VoucherDecision{}, s.mapRepositoryError(err)
		}
	}

	return domain.VoucherDecision{
		Code:         code,
		Eligible:     true,
		Type:         voucher.Type,
		Value:        voucher.Value,
		MaxDiscount:  voucher.MaxDiscount,
		FreeShipping: voucher.Type == domain.VoucherTypeFreeShipping,
	}, nil
}

// Redeem increments the voucher usage count and the user's redemption record.
// The guards are re-checked at write time, so a voucher that ran out between
// evaluation and checkout surfaces as ErrVoucherExhausted. Callers invoke
// Redeem inside the order-creation transaction; all reads happen before the
// first write to satisfy the Firestore transaction ordering rule.
func (s *voucherService) Redeem(ctx context.Context, cmd RedeemVoucherCommand) error {
	code := normaliseCode(cmd.Code)
	if code == "" {
		return fmt.Errorf("%w: voucher code is required", ErrVoucherInvalidInput)
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrVoucherInvalidInput)
	}
	now := s.clock()

	voucher, err := s.vouchers.FindByCode(ctx, code)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: code %s", ErrVoucherNotFound, code)
		}
		return s.mapRepositoryError(err)
	}

	hasGrant := false
	grant, err := s.grants.Find(ctx, voucher.ID, userID)
	switch {
	case err == nil:
		hasGrant = true
		if grant.Redemptions >= perUserLimit(voucher) {
			return fmt.Errorf("%w: per-user limit reached for %s", ErrVoucherExhausted, code)
		}
	case isNotFound(err):
		// First redemption by this user.
	default:
		return s.mapRepositoryError(err)
	}

	if _, err := s.vouchers.RedeemUsage(ctx, repositories.VoucherRedeemRequest{
		Code:   code,
		UserID: userID,
		Now:    now,
	}); err != nil {
		if errors.Is(err, repositories.ErrVoucherUsageExhausted) {
			return fmt.Errorf("%w: usage limit reached for %s", ErrVoucherExhausted, code)
		}
		return s.mapRepositoryError(err)
	}

	if hasGrant {
		if err := s.grants.IncrementRedemptions(ctx, voucher.ID, userID, now); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	}

	if _, err := s.grants.Insert(ctx, domain.VoucherGrant{
		ID:          voucherGrantIDPrefix + s.newID(),
		UserID:      userID,
		VoucherID:   voucher.ID,
		Code:        code,
		Source:      domain.VoucherGrantSourceRedemption,
		Redemptions: 1,
		RedeemedAt:  &now,
		CreatedAt:   now,
	}); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

// CreateVoucher registers a new voucher definition.
func (s *voucherService) CreateVoucher(ctx context.Context, cmd UpsertVoucherCommand) (Voucher, error) {
	voucher, err := s.normaliseVoucher(cmd.Voucher)
	if err != nil {
		return Voucher{}, err
	}

	now := s.clock()
	// Vouchers are stored keyed by code, so the code is the identifier.
	voucher.ID = voucher.Code
	voucher.UsageCount = 0
	voucher.CreatedAt = now
	voucher.UpdatedAt = now
	if voucher.Status == "" {
		voucher.Status = domain.VoucherStatusActive
	}

	if err := s.vouchers.Insert(ctx, voucher); err != nil {
		return Voucher{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "voucher.created", map[string]any{
		"code":  voucher.Code,
		"type":  string(voucher.Type),
		"actor": strings.TrimSpace(cmd.ActorID),
	})
	return voucher, nil
}

// UpdateVoucher replaces the mutable fields of an existing voucher. The usage
// count and creation metadata are preserved.
func (s *voucherService) UpdateVoucher(ctx context.Context, cmd UpsertVoucherCommand) (Voucher, error) {
	incoming, err := s.normaliseVoucher(cmd.Voucher)
	if err != nil {
		return Voucher{}, err
	}

	existing, err := s.vouchers.FindByCode(ctx, incoming.Code)
	if err != nil {
		if isNotFound(err) {
			return Voucher{}, fmt.Errorf("%w: code %s", ErrVoucherNotFound, incoming.Code)
		}
		return Voucher{}, s.mapRepositoryError(err)
	}

	existing.Type = incoming.Type
	existing.Value = incoming.Value
	existing.MinOrderValue = incoming.MinOrderValue
	existing.MaxDiscount = incoming.MaxDiscount
	existing.TotalUsageLimit = incoming.TotalUsageLimit
	existing.PerUserLimit = incoming.PerUserLimit
	existing.StartsAt = incoming.StartsAt
	existing.EndsAt = incoming.EndsAt
	existing.Description = incoming.Description
	if incoming.Status != "" {
		existing.Status = incoming.Status
	}
	existing.UpdatedAt = s.clock()

	if err := s.vouchers.Update(ctx, existing); err != nil {
		return Voucher{}, s.mapRepositoryError(err)
	}
	return existing, nil
}

// DisableVoucher soft-disables the voucher; the record and its usage history stay.
func (s *voucherService) DisableVoucher(ctx context.Context, code string, actorID string) (Voucher, error) {
	normalised := normaliseCode(code)
	if normalised == "" {
		return Voucher{}, fmt.Errorf("%w: voucher code is required", ErrVoucherInvalidInput)
	}

	voucher, err := s.vouchers.FindByCode(ctx, normalised)
	if err != nil {
		if isNotFound(err) {
			return Voucher{}, fmt.Errorf("%w: code %s", ErrVoucherNotFound, normalised)
		}
		return Voucher{}, s.mapRepositoryError(err)
	}

	if voucher.Status == domain.VoucherStatusInactive {
		return voucher, nil
	}

	voucher.Status = domain.VoucherStatusInactive
	voucher.UpdatedAt = s.clock()
	if err := s.vouchers.Update(ctx, voucher); err != nil {
		return Voucher{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "voucher.disabled", map[string]any{
		"code":  voucher.Code,
		"actor": strings.TrimSpace(actorID),
	})
	return voucher, nil
}

func (s *voucherService) GetVoucher(ctx context.Context, code string) (Voucher, error) {
	normalised := normaliseCode(code)
	if normalised == "" {
		return Voucher{}, fmt.Errorf("%w: voucher code is required", ErrVoucherInvalidInput)
	}
	voucher, err := s.vouchers.FindByCode(ctx, normalised)
	if err != nil {
		if isNotFound(err) {
			return Voucher{}, fmt.Errorf("%w: code %s", ErrVoucherNotFound, normalised)
		}
		return Voucher{}, s.mapRepositoryError(err)
	}
	return voucher, nil
}

func (s *voucherService) ListVouchers(ctx context.Context, filter VoucherListFilter) (domain.CursorPage[Voucher], error) {
	page, err := s.vouchers.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Voucher]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// GrantVoucher records a gift or promotional association between a user and a
// voucher. A duplicate grant for the same pair surfaces as a conflict.
func (s *voucherService) GrantVoucher(ctx context.Context, cmd GrantVoucherCommand) (VoucherGrant, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return VoucherGrant{}, fmt.Errorf("%w: user id is required", ErrVoucherInvalidInput)
	}
	code := normaliseCode(cmd.Code)
	if code == "" {
		return VoucherGrant{}, fmt.Errorf("%w: voucher code is required", ErrVoucherInvalidInput)
	}

	voucher, err := s.vouchers.FindByCode(ctx, code)
	if err != nil {
		if isNotFound(err) {
			return VoucherGrant{}, fmt.Errorf("%w: code %s", ErrVoucherNotFound, code)
		}
		return VoucherGrant{}, s.mapRepositoryError(err)
	}

	source := cmd.Source
	if source == "" {
		source = domain.VoucherGrantSourceGift
	}

	grant := domain.VoucherGrant{
		ID:        voucherGrantIDPrefix + s.newID(),
		UserID:    userID,
		VoucherID: voucher.ID,
		Code:      code,
		Source:    source,
		CreatedAt: s.clock(),
	}
	if actor := strings.TrimSpace(cmd.ActorID); actor != "" {
		grant.GrantedBy = &actor
	}

	stored, err := s.grants.Insert(ctx, grant)
	if err != nil {
		return VoucherGrant{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "voucher.granted", map[string]any{
		"code":   code,
		"userID": userID,
		"source": string(source),
	})
	return stored, nil
}

func (s *voucherService) ListGrants(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[VoucherGrant], error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return domain.CursorPage[VoucherGrant]{}, fmt.Errorf("%w: user id is required", ErrVoucherInvalidInput)
	}
	page, err := s.grants.ListByUser(ctx, trimmed, pager)
	if err != nil {
		return domain.CursorPage[VoucherGrant]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// staticRejection applies the user-independent eligibility checks in order.
func (s *voucherService) staticRejection(voucher Voucher, subtotal int64, now time.Time) (domain.VoucherRejectionReason, bool) {
	if voucher.Status != domain.VoucherStatusActive {
		return domain.VoucherReasonInactive, false
	}
	if !voucher.StartsAt.IsZero() && now.Before(voucher.StartsAt) {
		return domain.VoucherReasonNotStarted, false
	}
	if !voucher.EndsAt.IsZero() && now.After(voucher.EndsAt) {
		return domain.VoucherReasonExpired, false
	}
	if subtotal < voucher.MinOrderValue {
		return domain.VoucherReasonBelowMinimum, false
	}
	if voucher.TotalUsageLimit != nil && voucher.UsageCount >= *voucher.TotalUsageLimit {
		return domain.VoucherReasonUsageExceeded, false
	}
	return "", true
}

func (s *voucherService) normaliseVoucher(voucher Voucher) (Voucher, error) {
	voucher.Code = normaliseCode(voucher.Code)
	if voucher.Code == "" {
		return Voucher{}, fmt.Errorf("%w: voucher code is required", ErrVoucherInvalidInput)
	}
	switch voucher.Type {
	case domain.VoucherTypePercentage:
		if voucher.Value < 1 || voucher.Value > 100 {
			return Voucher{}, fmt.Errorf("%w: percentage value must be between 1 and 100", ErrVoucherInvalidInput)
		}
	case domain.VoucherTypeFixedAmount:
		if voucher.Value <= 0 {
			return Voucher{}, fmt.Errorf("%w: fixed amount must be positive", ErrVoucherInvalidInput)
		}
	case domain.VoucherTypeFreeShipping:
		voucher.Value = 0
	default:
		return Voucher{}, fmt.Errorf("%w: unknown voucher type %q", ErrVoucherInvalidInput, voucher.Type)
	}
	if voucher.MinOrderValue < 0 {
		return Voucher{}, fmt.Errorf("%w: minimum order value must not be negative", ErrVoucherInvalidInput)
	}
	if voucher.MaxDiscount != nil && *voucher.MaxDiscount <= 0 {
		return Voucher{}, fmt.Errorf("%w: max discount must be positive", ErrVoucherInvalidInput)
	}
	if voucher.TotalUsageLimit != nil && *voucher.TotalUsageLimit <= 0 {
		return Voucher{}, fmt.Errorf("%w: total usage limit must be positive", ErrVoucherInvalidInput)
	}
	if !voucher.StartsAt.IsZero() && !voucher.EndsAt.IsZero() && !voucher.EndsAt.After(voucher.StartsAt) {
		return Voucher{}, fmt.Errorf("%w: voucher window must end after it starts", ErrVoucherInvalidInput)
	}
	if voucher.PerUserLimit <= 0 {
		voucher.PerUserLimit = defaultPerUserLimit
	}
	voucher.Description = strings.TrimSpace(voucher.Description)
	return voucher, nil
}

func (s *voucherService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrVoucherNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrVoucherConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrVoucherUnavailable, err)
		}
	}
	return err
}

func rejection(code string, reason domain.VoucherRejectionReason) VoucherDecision {
	return domain.VoucherDecision{
		Code:     code,
		Eligible: false,
		Reason:   reason,
	}
}

func perUserLimit(voucher Voucher) int {
	if voucher.PerUserLimit <= 0 {
		return defaultPerUserLimit
	}
	return voucher.PerUserLimit
}

func normaliseCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
