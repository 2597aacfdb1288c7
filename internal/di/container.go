package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"

	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/config"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/repositories"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/services"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/workflow"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Audit        services.AuditLogService
	Requirements services.RequirementService
	Portal       services.PortalService
	Uploads      services.UploadOrchestrator
	Evaluation   services.EvaluationService
	System       services.SystemService
}

// Infrastructure carries the non-repository adapters the services talk to. Publisher and Claims may
// be nil; Uploader is required.
type Infrastructure struct {
	Uploader  services.BlobUploader
	Files     services.FileURLResolver
	Claims    services.ClaimSetter
	Publisher services.WorkflowEventPublisher
	Meter     metric.Meter
	Build     services.BuildInfo
	Logger    func(context.Context, string, map[string]any)
	Clock     func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply in-memory registries.
func NewContainer(cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(cfg, reg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close drains in-flight uploads and then releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Services.Uploads != nil {
		if err := c.Services.Uploads.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("upload orchestrator shutdown: %w", err))
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildServices(cfg config.Config, reg repositories.Registry, infra Infrastructure) (Services, error) {
	var svc Services
	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}

	auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
		Repository: reg.AuditLogs(),
		Clock:      clock,
		Logger:     infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build audit log service: %w", err)
	}
	svc.Audit = auditSvc

	requirementSvc, err := services.NewRequirementService(services.RequirementServiceDeps{
		Repository: reg.Requirements(),
		Audit:      auditSvc,
		Clock:      clock,
		Logger:     infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build requirement service: %w", err)
	}
	svc.Requirements = requirementSvc

	submission := SubmissionPolicy(cfg.Workflow)

	portalSvc, err := services.NewPortalService(services.PortalServiceDeps{
		Nominees:     reg.Nominees(),
		Requirements: requirementSvc,
		Audit:        auditSvc,
		Publisher:    infra.Publisher,
		Files:        infra.Files,
		Claims:       infra.Claims,
		Submission:   submission,
		Clock:        clock,
		Logger:       infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build portal service: %w", err)
	}
	svc.Portal = portalSvc

	uploads, err := services.NewUploadOrchestrator(services.UploadOrchestratorDeps{
		Nominees:            reg.Nominees(),
		Requirements:        requirementSvc,
		Uploader:            infra.Uploader,
		Audit:               auditSvc,
		Publisher:           infra.Publisher,
		MaxUploadBytes:      cfg.Storage.MaxUploadBytes,
		EncryptSteps:        cfg.Workflow.EncryptSteps,
		EncryptStepInterval: cfg.Workflow.EncryptStepInterval,
		AttemptRetention:    cfg.Workflow.AttemptRetention,
		Meter:               infra.Meter,
		Clock:               clock,
		Logger:              infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build upload orchestrator: %w", err)
	}
	svc.Uploads = uploads

	evaluationSvc, err := services.NewEvaluationService(services.EvaluationServiceDeps{
		Nominees:     reg.Nominees(),
		Requirements: requirementSvc,
		Audit:        auditSvc,
		Publisher:    infra.Publisher,
		Files:        infra.Files,
		Unlock:       UnlockPolicy(cfg.Workflow),
		Submission:   submission,
		Clock:        clock,
		Logger:       infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build evaluation service: %w", err)
	}
	svc.Evaluation = evaluationSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            infra.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

// SubmissionPolicy converts the configured per-stage thresholds.
func SubmissionPolicy(cfg config.WorkflowConfig) workflow.SubmissionPolicy {
	policy := workflow.SubmissionPolicy{MinProgress: make(map[domain.Stage]int, len(cfg.SubmissionMinProgress))}
	for stage, value := range cfg.SubmissionMinProgress {
		policy.MinProgress[domain.Stage(stage)] = value
	}
	return policy
}

// UnlockPolicy converts the configured evaluator unlock stages.
func UnlockPolicy(cfg config.WorkflowConfig) workflow.UnlockPolicy {
	policy := workflow.UnlockPolicy{}
	for _, stage := range cfg.EvaluatorUnlockStages {
		policy.EvaluatorStages = append(policy.EvaluatorStages, domain.Stage(stage))
	}
	return policy
}
