package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/repositories"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/workflow"
)

// catalogCheckName is the report entry for the embedded requirement catalog.
const catalogCheckName = "requirementDefaults"

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service. DefaultCatalogs
// defaults to the embedded catalog loader.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	DefaultCatalogs  func() (map[domain.Category]domain.RequirementCatalog, error)
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	dependencies repositories.HealthRepository
	catalogs     func() (map[domain.Category]domain.RequirementCatalog, error)
	clock        func() time.Time
	build        BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service behind the readiness endpoint.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	catalogs := deps.DefaultCatalogs
	if catalogs == nil {
		catalogs = workflow.DefaultCatalogs
	}
	svc := &systemService{
		dependencies: deps.HealthRepository,
		catalogs:     catalogs,
		clock:        func() time.Time { return clock().UTC() },
		build:        deps.Build,
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.clock()
	}
	return svc, nil
}

// HealthReport probes the external dependencies and checks that the fallback requirement catalog is
// servable. A broken fallback catalog is an error: the portal cannot render slots without it.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}

	report, err := s.dependencies.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.clock()
	checks := make(map[string]domain.SystemHealthCheck, len(report.Checks)+1)
	for name, check := range report.Checks {
		checks[name] = check
	}
	checks[catalogCheckName] = s.catalogCheck(now)

	report.Checks = checks
	report.Status = worstStatus(report.Status, statusOf(checks))
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	if report.Version == "" {
		report.Version = s.build.Version
	}
	if report.CommitSHA == "" {
		report.CommitSHA = s.build.CommitSHA
	}
	if report.Environment == "" {
		report.Environment = s.build.Environment
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	return report, nil
}

func (s *systemService) catalogCheck(now time.Time) domain.SystemHealthCheck {
	check := domain.SystemHealthCheck{Status: domain.HealthStatusOK, CheckedAt: now}
	catalogs, err := s.catalogs()
	if err != nil {
		check.Status = domain.HealthStatusError
		check.Error = err.Error()
		return check
	}
	if _, ok := catalogs[workflow.DefaultCategory]; !ok {
		check.Status = domain.HealthStatusError
		check.Error = fmt.Sprintf("missing %s catalog", workflow.DefaultCategory)
		return check
	}
	categories := make([]string, 0, len(catalogs))
	for category := range catalogs {
		categories = append(categories, string(category))
	}
	sort.Strings(categories)
	check.Detail = strings.Join(categories, ",")
	return check
}

func statusOf(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		status = worstStatus(status, check.Status)
	}
	return status
}

// worstStatus orders ok < degraded < error. Unknown non-empty values count as degraded.
func worstStatus(a, b string) string {
	rank := func(status string) int {
		switch status {
		case "", domain.HealthStatusOK:
			return 0
		case domain.HealthStatusError:
			return 2
		default:
			return 1
		}
	}
	switch max(rank(a), rank(b)) {
	case 2:
		return domain.HealthStatusError
	case 1:
		return domain.HealthStatusDegraded
	default:
		return domain.HealthStatusOK
	}
}
