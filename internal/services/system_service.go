package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/clovermart/api/internal/domain"
	"github.com/clovermart/api/internal/repositories"
)

// ErrSystemUnavailable indicates health information could not be collected.
var ErrSystemUnavailable = errors.New("system: unavailable")

// BuildInfo carries version metadata stamped at build time.
type BuildInfo struct {
	Version     string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct the system service.
type SystemServiceDeps struct {
	Health repositories.HealthRepository
	Build  BuildInfo
	Clock  func() time.Time
}

type systemService struct {
	health repositories.HealthRepository
	build  BuildInfo
	clock  func() time.Time
}

// NewSystemService wires dependencies into a concrete SystemService implementation.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.Health == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &systemService{
		health: deps.Health,
		build:  deps.Build,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// HealthReport collects dependency checks and stamps build metadata on top.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	report, err := s.health.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
	}

	now := s.clock()
	report.Version = chooseFirstNonEmpty(report.Version, s.build.Version, "dev")
	report.Environment = chooseFirstNonEmpty(report.Environment, s.build.Environment, "local")
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	if !s.build.StartedAt.IsZero() {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Status == "" {
		report.Status = deriveStatus(report)
	}
	return report, nil
}

// deriveStatus folds individual check outcomes into an overall status. Any
// erroring check degrades the report; an erroring critical store marks it down.
func deriveStatus(report SystemHealthReport) string {
	status := domain.HealthStatusOK
	for name, check := range report.Checks {
		if check.Status == domain.HealthStatusOK || check.Status == "" {
			continue
		}
		if strings.HasPrefix(name, "firestore") {
			return domain.HealthStatusError
		}
		status = domain.HealthStatusDegraded
	}
	return status
}

func chooseFirstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
