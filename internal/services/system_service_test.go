package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/clovermart/api/internal/domain"
)

type stubHealthRepo struct {
	collect func(ctx context.Context) (domain.SystemHealthReport, error)
}

func (s *stubHealthRepo) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if s.collect == nil {
		return domain.SystemHealthReport{}, errors.New("unexpected Collect")
	}
	return s.collect(ctx)
}

var systemTestNow = time.Date(2026, time.March, 20, 8, 0, 0, 0, time.UTC)

func TestHealthReportStampsBuildMetadata(t *testing.T) {
	health := &stubHealthRepo{
		collect: func(context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK},
				},
			}, nil
		},
	}
	svc, err := NewSystemService(SystemServiceDeps{
		Health: health,
		Build: BuildInfo{
			Version:     "1.4.2",
			Environment: "production",
			StartedAt:   systemTestNow.Add(-2 * time.Hour),
		},
		Clock: func() time.Time { return systemTestNow },
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("status = %q, want ok", report.Status)
	}
	if report.Version != "1.4.2" || report.Environment != "production" {
		t.Fatalf("unexpected build metadata %+v", report)
	}
	if report.Uptime != 2*time.Hour {
		t.Fatalf("uptime = %v, want 2h", report.Uptime)
	}
	if !report.GeneratedAt.Equal(systemTestNow) {
		t.Fatalf("generatedAt = %v", report.GeneratedAt)
	}
}

func TestHealthReportMarksStoreFailureAsError(t *testing.T) {
	health := &stubHealthRepo{
		collect: func(context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusError, Error: "rpc error"},
					"pubsub":    {Status: domain.HealthStatusOK},
				},
			}, nil
		},
	}
	svc, err := NewSystemService(SystemServiceDeps{Health: health})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("status = %q, want error", report.Status)
	}
}

func TestHealthReportCollectFailure(t *testing.T) {
	health := &stubHealthRepo{
		collect: func(context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{}, errors.New("deadline exceeded")
		},
	}
	svc, err := NewSystemService(SystemServiceDeps{Health: health})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, ErrSystemUnavailable) {
		t.Fatalf("expected ErrSystemUnavailable, got %v", err)
	}
}
