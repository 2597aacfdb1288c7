package repositories

import (
	"context"
	"time"

	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Nominees() NomineeRepository
	Requirements() RequirementRepository
	AuditLogs() AuditLogRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// NomineeRepository persists nominee aggregates. Every mutation touches only the fields it names so
// concurrent staff and nominee writes do not clobber each other; the document list is the exception
// and is rewritten inside a transaction to keep one record per slot.
type NomineeRepository interface {
	Get(ctx context.Context, nomineeID string) (domain.Nominee, error)
	// FindByRegistrationCode returns a RepositoryError with IsNotFound when no nominee carries the code.
	FindByRegistrationCode(ctx context.Context, code string) (domain.Nominee, error)
	List(ctx context.Context, filter domain.NomineeFilter) (domain.CursorPage[domain.Nominee], error)

	// AddDocument upserts record by SlotID and returns the stored document list.
	AddDocument(ctx context.Context, nomineeID string, record domain.DocumentRecord, status domain.NomineeStatus) ([]domain.DocumentRecord, error)
	// UpdateDocumentEvaluation sets verdict (and remarks when non-nil) on the record of slotID. It
	// returns a RepositoryError with IsNotFound when no document occupies the slot.
	UpdateDocumentEvaluation(ctx context.Context, nomineeID, slotID string, verdict domain.Verdict, remarks *string, status domain.NomineeStatus) error
	UpdateStageVerdict(ctx context.Context, nomineeID string, stage domain.Stage, verdict domain.StageVerdict, status domain.NomineeStatus) error
	SetStageUnlock(ctx context.Context, nomineeID string, stage domain.Stage, unlocked bool) error
	RecordSubmission(ctx context.Context, nomineeID string, stage domain.Stage, submission domain.StageSubmission, status domain.NomineeStatus) error
	SetRegionalPass(ctx context.Context, nomineeID string, pass domain.RegionalPass) error
	// BindOwner sets ownerUID when it is empty or already equal to uid; any other owner is a conflict.
	BindOwner(ctx context.Context, nomineeID, uid string, activatedAt time.Time) (domain.Nominee, error)
}

// RequirementRepository stores requirement catalogs keyed by category.
type RequirementRepository interface {
	// GetByCategory returns a RepositoryError with IsNotFound when the category has no stored catalog.
	GetByCategory(ctx context.Context, category domain.Category) (domain.RequirementCatalog, error)
	Replace(ctx context.Context, category domain.Category, catalog domain.RequirementCatalog) error
}

// AuditLogRepository appends and lists audit entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	ListByTarget(ctx context.Context, targetRef string, page domain.Pagination) (domain.CursorPage[domain.AuditLogEntry], error)
}

// HealthRepository gathers dependency probes for readiness reporting.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
