package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/repositories"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/workflow"
)

const (
	maxRequirementsPerStage = 40

	requirementsReplaceAction = "requirements.replace"
)

var (
	// ErrRequirementInvalidInput indicates a malformed catalog or category.
	ErrRequirementInvalidInput = errors.New("requirements: invalid input")
	// ErrRequirementForbidden indicates the actor may not edit catalogs.
	ErrRequirementForbidden = errors.New("requirements: forbidden")
	// ErrRequirementUnavailable indicates the catalog store could not be written.
	ErrRequirementUnavailable = errors.New("requirements: unavailable")
)

// RequirementServiceDeps bundles collaborators for the requirement service.
type RequirementServiceDeps struct {
	Repository repositories.RequirementRepository
	Defaults   map[domain.Category]domain.RequirementCatalog
	Audit      AuditLogService
	Clock      func() time.Time
	Logger     func(context.Context, string, map[string]any)
}

type requirementService struct {
	repo     repositories.RequirementRepository
	defaults map[domain.Category]domain.RequirementCatalog
	audit    AuditLogService
	clock    func() time.Time
	logger   eventLogger
}

var _ RequirementService = (*requirementService)(nil)

// NewRequirementService constructs the catalog resolver. Defaults fall back to the embedded catalogs.
func NewRequirementService(deps RequirementServiceDeps) (RequirementService, error) {
	if deps.Repository == nil {
		return nil, errors.New("requirement service: repository is required")
	}
	defaults := deps.Defaults
	if defaults == nil {
		loaded, err := workflow.DefaultCatalogs()
		if err != nil {
			return nil, fmt.Errorf("requirement service: load default catalogs: %w", err)
		}
		defaults = loaded
	}
	if _, ok := defaults[workflow.DefaultCategory]; !ok {
		return nil, fmt.Errorf("requirement service: defaults must include %q", workflow.DefaultCategory)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopEventLogger
	}
	return &requirementService{
		repo:     deps.Repository,
		defaults: defaults,
		audit:    deps.Audit,
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// Resolve returns the stored catalog of the category, or the embedded default when nothing is stored
// or the store cannot be read. Unknown categories resolve to the default category. A read failure is
// reported through Notice, never as an error.
func (s *requirementService) Resolve(ctx context.Context, category string) (ResolvedCatalog, error) {
	resolved, ok := workflow.NormalizeCategory(category)
	if !ok {
		resolved = workflow.DefaultCategory
		if strings.TrimSpace(category) != "" {
			s.logger(ctx, "requirements.category.unknown", map[string]any{"category": category})
		}
	}

	stored, err := s.repo.GetByCategory(ctx, resolved)
	if err == nil {
		return ResolvedCatalog{Category: resolved, Catalog: stored, Source: CatalogSourceStored}, nil
	}
	if errors.Is(err, context.Canceled) {
		return ResolvedCatalog{}, err
	}

	fallbackCategory, catalog := workflow.ResolveCatalog(s.defaults, string(resolved))
	out := ResolvedCatalog{Category: fallbackCategory, Catalog: catalog, Source: CatalogSourceDefault}
	if !isRepoNotFound(err) {
		s.logger(ctx, "requirements.resolve.failed", map[string]any{"category": string(resolved), "error": err.Error()})
		out.Notice = &workflow.Notice{
			Level:   workflow.NoticeWarning,
			Code:    workflow.NoticeRequirementsUnavailable,
			Message: "The requirement list could not be loaded. Showing the standard list for now.",
		}
	}
	return out, nil
}

// Replace stores a new catalog for a category. Slot ids are positional, so changing the length of a
// stage list shifts ids of existing documents; that case is logged as a warning.
func (s *requirementService) Replace(ctx context.Context, cmd ReplaceRequirementsCommand) (ResolvedCatalog, error) {
	if !workflow.CanEditCatalog(cmd.Actor.Role) {
		return ResolvedCatalog{}, ErrRequirementForbidden
	}
	category, ok := workflow.NormalizeCategory(cmd.Category)
	if !ok {
		return ResolvedCatalog{}, fmt.Errorf("%w: unknown category %q", ErrRequirementInvalidInput, cmd.Category)
	}
	catalog, err := normalizeCatalog(cmd.Catalog)
	if err != nil {
		return ResolvedCatalog{}, err
	}

	previous, prevErr := s.Resolve(ctx, string(category))
	if prevErr == nil {
		for _, stage := range domain.Stages {
			before, after := len(previous.Catalog.ForStage(stage)), len(catalog.ForStage(stage))
			if before != after {
				s.logger(ctx, "requirements.replace.length_changed", map[string]any{
					"category": string(category),
					"stage":    int(stage),
					"before":   before,
					"after":    after,
				})
			}
		}
	}

	if err := s.repo.Replace(ctx, category, catalog); err != nil {
		return ResolvedCatalog{}, translateRepoError(err, ErrRequirementUnavailable, ErrRequirementUnavailable, ErrRequirementUnavailable)
	}

	if s.audit != nil {
		s.audit.Record(ctx, AuditLogRecord{
			Actor:      cmd.Actor.UID,
			ActorRole:  string(cmd.Actor.Role),
			Action:     requirementsReplaceAction,
			TargetRef:  "/requirements/" + string(category),
			OccurredAt: s.clock(),
			Metadata: map[string]any{
				"stage1": len(catalog.Stage1),
				"stage2": len(catalog.Stage2),
				"stage3": len(catalog.Stage3),
			},
		})
	}
	return ResolvedCatalog{Category: category, Catalog: catalog, Source: CatalogSourceStored}, nil
}

func normalizeCatalog(catalog domain.RequirementCatalog) (domain.RequirementCatalog, error) {
	out := domain.RequirementCatalog{}
	seen := make(map[string]struct{})
	for _, stage := range domain.Stages {
		items := catalog.ForStage(stage)
		if len(items) > maxRequirementsPerStage {
			return domain.RequirementCatalog{}, fmt.Errorf("%w: stage %d lists more than %d requirements", ErrRequirementInvalidInput, stage, maxRequirementsPerStage)
		}
		normalized := make([]domain.Requirement, 0, len(items))
		for i, item := range items {
			req := domain.Requirement{
				ID:       strings.TrimSpace(item.ID),
				Category: sanitizeText(item.Category, 120),
				Label:    sanitizeText(item.Label, 240),
			}
			if req.Label == "" {
				return domain.RequirementCatalog{}, fmt.Errorf("%w: stage %d requirement %d has no label", ErrRequirementInvalidInput, stage, i)
			}
			if req.ID != "" {
				if _, dup := seen[req.ID]; dup {
					return domain.RequirementCatalog{}, fmt.Errorf("%w: duplicate requirement id %q", ErrRequirementInvalidInput, req.ID)
				}
				seen[req.ID] = struct{}{}
			}
			normalized = append(normalized, req)
		}
		switch stage {
		case domain.Stage1:
			out.Stage1 = normalized
		case domain.Stage2:
			out.Stage2 = normalized
		case domain.Stage3:
			out.Stage3 = normalized
		}
	}
	return out, nil
}
