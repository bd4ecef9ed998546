package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/repositories"
)

type stubRepositoryError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepositoryError) Error() string      { return "stub repository error" }
func (e stubRepositoryError) IsNotFound() bool   { return e.notFound }
func (e stubRepositoryError) IsConflict() bool   { return e.conflict }
func (e stubRepositoryError) IsUnavailable() bool { return e.unavailable }

type stubVoucherRepo struct {
	insert      func(ctx context.Context, voucher domain.Voucher) error
	update      func(ctx context.Context, voucher domain.Voucher) error
	findByCode  func(ctx context.Context, code string) (domain.Voucher, error)
	list        func(ctx context.Context, filter repositories.VoucherListFilter) (domain.CursorPage[domain.Voucher], error)
	redeemUsage func(ctx context.Context, req repositories.VoucherRedeemRequest) (domain.Voucher, error)
}

func (s *stubVoucherRepo) Insert(ctx context.Context, voucher domain.Voucher) error {
	if s.insert == nil {
		return errors.New("unexpected Insert")
	}
	return s.insert(ctx, voucher)
}

func (s *stubVoucherRepo) Update(ctx context.Context, voucher domain.Voucher) error {
	if s.update == nil {
		return errors.New("unexpected Update")
	}
	return s.update(ctx, voucher)
}

func (s *stubVoucherRepo) FindByCode(ctx context.Context, code string) (domain.Voucher, error) {
	if s.findByCode == nil {
		return domain.Voucher{}, errors.New("unexpected FindByCode")
	}
	return s.findByCode(ctx, code)
}

func (s *stubVoucherRepo) List(ctx context.Context, filter repositories.VoucherListFilter) (domain.CursorPage[domain.Voucher], error) {
	if s.list == nil {
		return domain.CursorPage[domain.Voucher]{}, errors.New("unexpected List")
	}
	return s.list(ctx, filter)
}

func (s *stubVoucherRepo) RedeemUsage(ctx context.Context, req repositories.VoucherRedeemRequest) (domain.Voucher, error) {
	if s.redeemUsage == nil {
		return domain.Voucher{}, errors.New("unexpected RedeemUsage")
	}
	return s.redeemUsage(ctx, req)
}

type stubVoucherGrantRepo struct {
	insert               func(ctx context.Context, grant domain.VoucherGrant) (domain.VoucherGrant, error)
	find                 func(ctx context.Context, voucherID string, userID string) (domain.VoucherGrant, error)
	listByUser           func(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.VoucherGrant], error)
	incrementRedemptions func(ctx context.Context, voucherID string, userID string, now time.Time) error
}

func (s *stubVoucherGrantRepo) Insert(ctx context.Context, grant domain.VoucherGrant) (domain.VoucherGrant, error) {
	if s.insert == nil {
		return domain.VoucherGrant{}, errors.New("unexpected Insert")
	}
	return s.insert(ctx, grant)
}

func (s *stubVoucherGrantRepo) Find(ctx context.Context, voucherID string, userID string) (domain.VoucherGrant, error) {
	if s.find == nil {
		return domain.VoucherGrant{}, errors.New("unexpected Find")
	}
	return s.find(ctx, voucherID, userID)
}

func (s *stubVoucherGrantRepo) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.VoucherGrant], error) {
	if s.listByUser == nil {
		return domain.CursorPage[domain.VoucherGrant]{}, errors.New("unexpected ListByUser")
	}
	return s.listByUser(ctx, userID, pager)
}

func (s *stubVoucherGrantRepo) IncrementRedemptions(ctx context.Context, voucherID string, userID string, now time.Time) error {
	if s.incrementRedemptions == nil {
		return errors.New("unexpected IncrementRedemptions")
	}
	return s.incrementRedemptions(ctx, voucherID, userID, now)
}

var voucherTestNow = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

func activeTestVoucher() domain.Voucher {
	max := int64(20000)
	limit := 100
	return domain.Voucher{
		ID:              "SALE20",
		Code:            "SALE20",
		Type:            domain.VoucherTypePercentage,
		Value:           20,
		MinOrderValue:   100000,
		MaxDiscount:     &max,
		TotalUsageLimit: &limit,
		PerUserLimit:    2,
		UsageCount:      4,
		StartsAt:        voucherTestNow.Add(-24 * time.Hour),
		EndsAt:          voucherTestNow.Add(24 * time.Hour),
		Status:          domain.VoucherStatusActive,
	}
}

func newTestVoucherService(t *testing.T, vouchers *stubVoucherRepo, grants *stubVoucherGrantRepo) VoucherService {
	t.Helper()
	svc, err := NewVoucherService(VoucherServiceDeps{
		Vouchers:    vouchers,
		Grants:      grants,
		Clock:       func() time.Time { return voucherTestNow },
		IDGenerator: func() string { return "01HTESTULID" },
	})
	if err != nil {
		t.Fatalf("NewVoucherService: %v", err)
	}
	return svc
}

func TestEvaluateReturnsEligibleDecision(t *testing.T) {
	vouchers := &stubVoucherRepo{
		findByCode: func(_ context.Context, code string) (domain.Voucher, error) {
			if code != "SALE20" {
				t.Fatalf("unexpected code %q", code)
			}
			return activeTestVoucher(), nil
		},
	}
	grants := &stubVoucherGrantRepo{
		find: func(context.Context, string, string) (domain.VoucherGrant, error) {
			return domain.VoucherGrant{}, stubRepositoryError{notFound: true}
		},
	}
	svc := newTestVoucherService(t, vouchers, grants)

	decision, err := svc.Evaluate(context.Background(), EvaluateVoucherCommand{
		Code:     "  sale20 ",
		Subtotal: 150000,
		UserID:   "user-1",
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !decision.Eligible {
		t.Fatalf("expected eligible decision, got reason %q", decision.Reason)
	}
	if decision.Code != "SALE20" || decision.Type != domain.VoucherTypePercentage || decision.Value != 20 {
		t.Fatalf("unexpected decision %+v", decision)
	}
	if decision.MaxDiscount == nil || *decision.MaxDiscount != 20000 {
		t.Fatalf("expected max discount 20000, got %+v", decision.MaxDiscount)
	}
}

func TestEvaluateRejectionReasons(t *testing.T) {
	expired := activeTestVoucher()
	expired.EndsAt = voucherTestNow.Add(-time.Hour)

	notStarted := activeTestVoucher()
	notStarted.StartsAt = voucherTestNow.Add(time.Hour)

	inactive := activeTestVoucher()
	inactive.Status = domain.VoucherStatusInactive

	exhausted := activeTestVoucher()
	exhausted.UsageCount = 100

	cases := []struct {
		name     string
		voucher  domain.Voucher
		subtotal int64
		want     domain.VoucherRejectionReason
	}{
		{name: "expired", voucher: expired, subtotal: 150000, want: domain.VoucherReasonExpired},
		{name: "not started", voucher: notStarted, subtotal: 150000, want: domain.VoucherReasonNotStarted},
		{name: "inactive", voucher: inactive, subtotal: 150000, want: domain.VoucherReasonInactive},
		{name: "below minimum", voucher: activeTestVoucher(), subtotal: 99999, want: domain.VoucherReasonBelowMinimum},
		{name: "usage exceeded", voucher: exhausted, subtotal: 150000, want: domain.VoucherReasonUsageExceeded},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			vouchers := &stubVoucherRepo{
				findByCode: func(context.Context, string) (domain.Voucher, error) {
					return tc.voucher, nil
				},
			}
			svc := newTestVoucherService(t, vouchers, &stubVoucherGrantRepo{})

			decision, err := svc.Evaluate(context.Background(), EvaluateVoucherCommand{Code: "SALE20", Subtotal: tc.subtotal})
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if decision.Eligible {
				t.Fatal("expected ineligible decision")
			}
			if decision.Reason != tc.want {
				t.Fatalf("reason = %q, want %q", decision.Reason, tc.want)
			}
		})
	}
}

func TestEvaluateUnknownCodeIsNotAnError(t *testing.T) {
	vouchers := &stubVoucherRepo{
		findByCode: func(context.Context, string) (domain.Voucher, error) {
			return domain.Voucher{}, stubRepositoryError{notFound: true}
		},
	}
	svc := newTestVoucherService(t, vouchers, &stubVoucherGrantRepo{})

	decision, err := svc.Evaluate(context.Background(), EvaluateVoucherCommand{Code: "NOPE", Subtotal: 50000})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision.Eligible || decision.Reason != domain.VoucherReasonNotFound {
		t.Fatalf("unexpected decision %+v", decision)
	}
}

func TestEvaluatePerUserLimitExceeded(t *testing.T) {
	vouchers := &stubVoucherRepo{
		findByCode: func(context.Context, string) (domain.Voucher, error) {
			return activeTestVoucher(), nil
		},
	}
	grants := &stubVoucherGrantRepo{
		find: func(context.Context, string, string) (domain.VoucherGrant, error) {
			return domain.VoucherGrant{Redemptions: 2}, nil
		},
	}
	svc := newTestVoucherService(t, vouchers, grants)

	decision, err := svc.Evaluate(context.Background(), EvaluateVoucherCommand{
		Code:     "SALE20",
		Subtotal: 150000,
		UserID:   "user-1",
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision.Eligible || decision.Reason != domain.VoucherReasonPerUserExceeded {
		t.Fatalf("unexpected decision %+v", decision)
	}
}

func TestRedeemFirstUseCreatesUsageRecord(t *testing.T) {
	var inserted *domain.VoucherGrant
	vouchers := &stubVoucherRepo{
		findByCode: func(context.Context, string) (domain.Voucher, error) {
			return activeTestVoucher(), nil
		},
		redeemUsage: func(_ context.Context, req repositories.VoucherRedeemRequest) (domain.Voucher, error) {
			if req.Code != "SALE20" || req.UserID != "user-1" {
				t.Fatalf("unexpected redeem request %+v", req)
			}
			return activeTestVoucher(), nil
		},
	}
	grants := &stubVoucherGrantRepo{
		find: func(context.Context, string, string) (domain.VoucherGrant, error) {
			return domain.VoucherGrant{}, stubRepositoryError{notFound: true}
		},
		insert: func(_ context.Context, grant domain.VoucherGrant) (domain.VoucherGrant, error) {
			inserted = &grant
			return grant, nil
		},
	}
	svc := newTestVoucherService(t, vouchers, grants)

	if err := svc.Redeem(context.Background(), RedeemVoucherCommand{Code: "sale20", UserID: "user-1"}); err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if inserted == nil {
		t.Fatal("expected usage record insert")
	}
	if inserted.Source != domain.VoucherGrantSourceRedemption {
		t.Fatalf("source = %q, want redemption", inserted.Source)
	}
	if inserted.Redemptions != 1 {
		t.Fatalf("redemptions = %d, want 1", inserted.Redemptions)
	}
	if inserted.ID != "vgr_01HTESTULID" {
		t.Fatalf("unexpected grant id %q", inserted.ID)
	}
}

func TestRedeemExistingGrantIncrementsInPlace(t *testing.T) {
	incremented := false
	vouchers := &stubVoucherRepo{
		findByCode: func(context.Context, string) (domain.Voucher, error) {
			return activeTestVoucher(), nil
		},
		redeemUsage: func(context.Context, repositories.VoucherRedeemRequest) (domain.Voucher, error) {
			return activeTestVoucher(), nil
		},
	}
	grants := &stubVoucherGrantRepo{
		find: func(context.Context, string, string) (domain.VoucherGrant, error) {
			return domain.VoucherGrant{VoucherID: "SALE20", UserID: "user-1", Redemptions: 1}, nil
		},
		incrementRedemptions: func(_ context.Context, voucherID string, userID string, now time.Time) error {
			if voucherID != "SALE20" || userID != "user-1" {
				t.Fatalf("unexpected increment args %s %s", voucherID, userID)
			}
			if !now.Equal(voucherTestNow) {
				t.Fatalf("unexpected timestamp %v", now)
			}
			incremented = true
			return nil
		},
	}
	svc := newTestVoucherService(t, vouchers, grants)

	if err := svc.Redeem(context.Background(), RedeemVoucherCommand{Code: "SALE20", UserID: "user-1"}); err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if !incremented {
		t.Fatal("expected redemption increment")
	}
}

func TestRedeemPerUserLimitReached(t *testing.T) {
	vouchers := &stubVoucherRepo{
		findByCode: func(context.Context, string) (domain.Voucher, error) {
			return activeTestVoucher(), nil
		},
	}
	grants := &stubVoucherGrantRepo{
		find: func(context.Context, string, string) (domain.VoucherGrant, error) {
			return domain.VoucherGrant{Redemptions: 2}, nil
		},
	}
	svc := newTestVoucherService(t, vouchers, grants)

	err := svc.Redeem(context.Background(), RedeemVoucherCommand{Code: "SALE20", UserID: "user-1"})
	if !errors.Is(err, ErrVoucherExhausted) {
		t.Fatalf("expected ErrVoucherExhausted, got %v", err)
	}
}

func TestRedeemTotalUsageRanOut(t *testing.T) {
	vouchers := &stubVoucherRepo{
		findByCode: func(context.Context, string) (domain.Voucher, error) {
			return activeTestVoucher(), nil
		},
		redeemUsage: func(context.Context, repositories.VoucherRedeemRequest) (domain.Voucher, error) {
			return domain.Voucher{}, repositories.ErrVoucherUsageExhausted
		},
	}
	grants := &stubVoucherGrantRepo{
		find: func(context.Context, string, string) (domain.VoucherGrant, error) {
			return domain.VoucherGrant{}, stubRepositoryError{notFound: true}
		},
	}
	svc := newTestVoucherService(t, vouchers, grants)

	err := svc.Redeem(context.Background(), RedeemVoucherCommand{Code: "SALE20", UserID: "user-1"})
	if !errors.Is(err, ErrVoucherExhausted) {
		t.Fatalf("expected ErrVoucherExhausted, got %v", err)
	}
}

func TestCreateVoucherAppliesDefaults(t *testing.T) {
	var stored *domain.Voucher
	vouchers := &stubVoucherRepo{
		insert: func(_ context.Context, voucher domain.Voucher) error {
			stored = &voucher
			return nil
		},
	}
	svc := newTestVoucherService(t, vouchers, &stubVoucherGrantRepo{})

	created, err := svc.CreateVoucher(context.Background(), UpsertVoucherCommand{
		Voucher: domain.Voucher{
			Code:          " welcome10 ",
			Type:          domain.VoucherTypePercentage,
			Value:         10,
			MinOrderValue: 50000,
			StartsAt:      voucherTestNow,
			EndsAt:        voucherTestNow.Add(30 * 24 * time.Hour),
		},
		ActorID: "admin-1",
	})
	if err != nil {
		t.Fatalf("CreateVoucher: %v", err)
	}
	if stored == nil {
		t.Fatal("expected insert")
	}
	if created.ID != "WELCOME10" {
		t.Fatalf("id = %q, want the voucher code", created.ID)
	}
	if stored.ID != stored.Code {
		t.Fatalf("stored id %q does not match code %q", stored.ID, stored.Code)
	}
	if created.Code != "WELCOME10" {
		t.Fatalf("code = %q, want WELCOME10", created.Code)
	}
	if created.PerUserLimit != 1 {
		t.Fatalf("per-user limit = %d, want default 1", created.PerUserLimit)
	}
	if created.Status != domain.VoucherStatusActive {
		t.Fatalf("status = %q, want active", created.Status)
	}
	if !created.CreatedAt.Equal(voucherTestNow) || !created.UpdatedAt.Equal(voucherTestNow) {
		t.Fatalf("unexpected timestamps %+v", created)
	}
}

func TestCreateVoucherRejectsBadInput(t *testing.T) {
	svc := newTestVoucherService(t, &stubVoucherRepo{}, &stubVoucherGrantRepo{})

	cases := []struct {
		name    string
		voucher domain.Voucher
	}{
		{name: "missing code", voucher: domain.Voucher{Type: domain.VoucherTypeFixedAmount, Value: 10000}},
		{name: "percentage over 100", voucher: domain.Voucher{Code: "X", Type: domain.VoucherTypePercentage, Value: 150}},
		{name: "zero fixed amount", voucher: domain.Voucher{Code: "X", Type: domain.VoucherTypeFixedAmount}},
		{name: "unknown type", voucher: domain.Voucher{Code: "X", Type: "mystery", Value: 1}},
		{name: "inverted window", voucher: domain.Voucher{
			Code: "X", Type: domain.VoucherTypeFixedAmount, Value: 1000,
			StartsAt: voucherTestNow, EndsAt: voucherTestNow.Add(-time.Hour),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateVoucher(context.Background(), UpsertVoucherCommand{Voucher: tc.voucher})
			if !errors.Is(err, ErrVoucherInvalidInput) {
				t.Fatalf("expected ErrVoucherInvalidInput, got %v", err)
			}
		})
	}
}

func TestUpdateVoucherPreservesUsageCount(t *testing.T) {
	var stored *domain.Voucher
	existing := activeTestVoucher()
	existing.CreatedAt = voucherTestNow.Add(-72 * time.Hour)
	vouchers := &stubVoucherRepo{
		findByCode: func(context.Context, string) (domain.Voucher, error) {
			return existing, nil
		},
		update: func(_ context.Context, voucher domain.Voucher) error {
			stored = &voucher
			return nil
		},
	}
	svc := newTestVoucherService(t, vouchers, &stubVoucherGrantRepo{})

	updated := activeTestVoucher()
	updated.Value = 25
	updated.UsageCount = 0

	result, err := svc.UpdateVoucher(context.Background(), UpsertVoucherCommand{Voucher: updated})
	if err != nil {
		t.Fatalf("UpdateVoucher: %v", err)
	}
	if stored == nil {
		t.Fatal("expected update")
	}
	if result.Value != 25 {
		t.Fatalf("value = %d, want 25", result.Value)
	}
	if result.UsageCount != existing.UsageCount {
		t.Fatalf("usage count = %d, want preserved %d", result.UsageCount, existing.UsageCount)
	}
	if !result.CreatedAt.Equal(existing.CreatedAt) {
		t.Fatalf("createdAt changed: %v", result.CreatedAt)
	}
	if !result.UpdatedAt.Equal(voucherTestNow) {
		t.Fatalf("updatedAt = %v, want %v", result.UpdatedAt, voucherTestNow)
	}
}

func TestDisableVoucherSoftDisables(t *testing.T) {
	var stored *domain.Voucher
	vouchers := &stubVoucherRepo{
		findByCode: func(context.Context, string) (domain.Voucher, error) {
			return activeTestVoucher(), nil
		},
		update: func(_ context.Context, voucher domain.Voucher) error {
			stored = &voucher
			return nil
		},
	}
	svc := newTestVoucherService(t, vouchers, &stubVoucherGrantRepo{})

	disabled, err := svc.DisableVoucher(context.Background(), "SALE20", "admin-1")
	if err != nil {
		t.Fatalf("DisableVoucher: %v", err)
	}
	if stored == nil {
		t.Fatal("expected update")
	}
	if disabled.Status != domain.VoucherStatusInactive {
		t.Fatalf("status = %q, want inactive", disabled.Status)
	}
	if disabled.UsageCount != 4 {
		t.Fatalf("usage count = %d, want preserved 4", disabled.UsageCount)
	}
}

func TestGrantVoucherDefaultsToGiftSource(t *testing.T) {
	vouchers := &stubVoucherRepo{
		findByCode: func(context.Context, string) (domain.Voucher, error) {
			return activeTestVoucher(), nil
		},
	}
	grants := &stubVoucherGrantRepo{
		insert: func(_ context.Context, grant domain.VoucherGrant) (domain.VoucherGrant, error) {
			return grant, nil
		},
	}
	svc := newTestVoucherService(t, vouchers, grants)

	grant, err := svc.GrantVoucher(context.Background(), GrantVoucherCommand{
		UserID:  "user-1",
		Code:    "sale20",
		ActorID: "admin-1",
	})
	if err != nil {
		t.Fatalf("GrantVoucher: %v", err)
	}
	if grant.Source != domain.VoucherGrantSourceGift {
		t.Fatalf("source = %q, want gift", grant.Source)
	}
	if grant.VoucherID != "SALE20" {
		t.Fatalf("voucherID = %q", grant.VoucherID)
	}
	if grant.GrantedBy == nil || *grant.GrantedBy != "admin-1" {
		t.Fatalf("grantedBy = %+v, want admin-1", grant.GrantedBy)
	}
}

func TestGrantVoucherDuplicateIsConflict(t *testing.T) {
	vouchers := &stubVoucherRepo{
		findByCode: func(context.Context, string) (domain.Voucher, error) {
			return activeTestVoucher(), nil
		},
	}
	grants := &stubVoucherGrantRepo{
		insert: func(context.Context, domain.VoucherGrant) (domain.VoucherGrant, error) {
			return domain.VoucherGrant{}, stubRepositoryError{conflict: true}
		},
	}
	svc := newTestVoucherService(t, vouchers, grants)

	_, err := svc.GrantVoucher(context.Background(), GrantVoucherCommand{UserID: "user-1", Code: "SALE20"})
	if !errors.Is(err, ErrVoucherConflict) {
		t.Fatalf("expected ErrVoucherConflict, got %v", err)
	}
}
