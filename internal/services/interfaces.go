package services

import (
	"context"
	"time"

	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
	pstorage "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/storage"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/workflow"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Nominee            = domain.Nominee
	NomineeFilter      = domain.NomineeFilter
	DocumentRecord     = domain.DocumentRecord
	RequirementCatalog = domain.RequirementCatalog
	SystemHealthReport = domain.SystemHealthReport
	AuditLogEntry      = domain.AuditLogEntry
)

// Actor identifies the authenticated caller. Role is always explicit; services never read it from
// ambient state.
type Actor struct {
	UID       string
	Role      workflow.Role
	NomineeID string
}

// RequirementService resolves requirement catalogs per category and lets admins replace them.
type RequirementService interface {
	Resolve(ctx context.Context, category string) (ResolvedCatalog, error)
	Replace(ctx context.Context, cmd ReplaceRequirementsCommand) (ResolvedCatalog, error)
}

// ResolvedCatalog is the catalog served for a category together with where it came from.
type ResolvedCatalog struct {
	Category domain.Category
	Catalog  RequirementCatalog
	Source   CatalogSource
	Notice   *workflow.Notice
}

// CatalogSource reports whether a catalog was read from the store or served from the embedded defaults.
type CatalogSource string

const (
	CatalogSourceStored  CatalogSource = "stored"
	CatalogSourceDefault CatalogSource = "default"
)

// ReplaceRequirementsCommand stores a new catalog for a category.
type ReplaceRequirementsCommand struct {
	Actor    Actor
	Category string
	Catalog  RequirementCatalog
}

// PortalService backs the nominee portal: rendering, upload dialog checks, consents and submissions.
type PortalService interface {
	Load(ctx context.Context, actor Actor, nomineeID string) (PortalView, error)
	OpenUpload(ctx context.Context, cmd OpenUploadCommand) (UploadDialog, error)
	OpenConsent(ctx context.Context, actor Actor, nomineeID string, stage domain.Stage) (ConsentCheckpoint, error)
	SubmitStage(ctx context.Context, cmd SubmitStageCommand) (SubmissionResult, error)
	Activate(ctx context.Context, cmd ActivateCommand) (Nominee, error)
}

// PortalView is the render state of a nominee together with the catalog notice, if any.
type PortalView struct {
	workflow.View
	CatalogSource CatalogSource
	Notice        *workflow.Notice
}

// OpenUploadCommand asks whether the upload dialog of a slot may open.
type OpenUploadCommand struct {
	Actor     Actor
	NomineeID string
	SlotID    string
}

// UploadDialog is the outcome of opening an upload dialog. When Open is false the dialog stays closed
// and Notice explains why.
type UploadDialog struct {
	Open       bool
	Slot       domain.DocumentSlot
	Gate       workflow.Gate
	Context    workflow.UploadContext
	FilePolicy workflow.FilePolicy
	Notice     *workflow.Notice
}

// ConsentCheckpoint is a freshly opened consent gate plus the submission pre-check for the stage.
type ConsentCheckpoint struct {
	Gate        workflow.ConsentGate
	Progress    int
	MinProgress int
	Notice      *workflow.Notice
}

// SubmitStageCommand finalises a stage with the two acknowledgements.
type SubmitStageCommand struct {
	Actor     Actor
	NomineeID string
	Stage     domain.Stage
	Consent   workflow.Consent
}

// SubmissionResult reports a stage submission. Submitted is false when the attempt was refused, in
// which case Notice carries the reason and nothing was persisted.
type SubmissionResult struct {
	Submitted  bool
	Submission *domain.StageSubmission
	Notice     *workflow.Notice
}

// ActivateCommand binds an invitation registration code to the calling user.
type ActivateCommand struct {
	Actor            Actor
	RegistrationCode string
}

// UploadOrchestrator runs upload attempts through their phases. Start returns as soon as the attempt
// is registered; the phases advance in the background and are observed through Get or Wait.
type UploadOrchestrator interface {
	Start(ctx context.Context, cmd StartUploadCommand) (UploadAttempt, error)
	Get(ctx context.Context, actor Actor, uploadID string) (UploadAttempt, error)
	Wait(ctx context.Context, actor Actor, uploadID string) (UploadAttempt, error)
	Cancel(ctx context.Context, actor Actor, uploadID string) (UploadAttempt, error)
	Shutdown(ctx context.Context) error
}

// StartUploadCommand carries one file destined for a slot.
type StartUploadCommand struct {
	Actor       Actor
	NomineeID   string
	SlotID      string
	FileName    string
	ContentType string
	Body        []byte
	Remarks     string
}

// UploadPhase is the state of an upload attempt.
type UploadPhase string

const (
	UploadPhaseIdle       UploadPhase = "idle"
	UploadPhaseEncrypting UploadPhase = "encrypting"
	UploadPhaseUploading  UploadPhase = "uploading"
	UploadPhaseSuccess    UploadPhase = "success"
	UploadPhaseFailed     UploadPhase = "failed"
	UploadPhaseCancelled  UploadPhase = "cancelled"
)

// Terminal reports whether the phase can no longer change.
func (p UploadPhase) Terminal() bool {
	switch p {
	case UploadPhaseSuccess, UploadPhaseFailed, UploadPhaseCancelled:
		return true
	}
	return false
}

// UploadAttempt is a snapshot of one attempt. Slot reflects the optimistic view: it holds the new
// record once the attempt succeeds and the pre-upload slot otherwise.
type UploadAttempt struct {
	ID        string
	NomineeID string
	SlotID    string
	OwnerUID  string
	FileName  string
	Context   workflow.UploadContext
	Phase     UploadPhase
	Progress  int
	Notice    *workflow.Notice
	Record    *DocumentRecord
	Slot      domain.DocumentSlot
	StartedAt time.Time
	UpdatedAt time.Time
}

// EvaluationService records staff actions against nominees.
type EvaluationService interface {
	ListQueue(ctx context.Context, actor Actor, filter NomineeFilter) (domain.CursorPage[Nominee], error)
	GetNominee(ctx context.Context, actor Actor, nomineeID string) (PortalView, error)
	SetDocumentVerdict(ctx context.Context, cmd DocumentVerdictCommand) (bool, error)
	SetStageVerdict(ctx context.Context, cmd StageVerdictCommand) (bool, error)
	SetStageUnlock(ctx context.Context, cmd StageUnlockCommand) error
	MarkRegionalPass(ctx context.Context, actor Actor, nomineeID string) error
	ListAuditTrail(ctx context.Context, actor Actor, nomineeID string, page Pagination) (domain.CursorPage[AuditLogEntry], error)
}

// DocumentVerdictCommand sets the verdict of one document slot. Remarks is optional; nil leaves the
// stored remarks untouched.
type DocumentVerdictCommand struct {
	Actor     Actor
	NomineeID string
	SlotID    string
	Verdict   domain.Verdict
	Remarks   *string
}

// StageVerdictCommand sets the overall verdict of a stage.
type StageVerdictCommand struct {
	Actor     Actor
	NomineeID string
	Stage     domain.Stage
	Verdict   domain.StageVerdict
}

// StageUnlockCommand toggles the unlock flag of stage 2 or 3.
type StageUnlockCommand struct {
	Actor     Actor
	NomineeID string
	Stage     domain.Stage
	Unlocked  bool
}

// SystemService exposes operational endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// AuditLogService persists and lists audit entries.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord)
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
}

// AuditLogRecord is the input for a new audit entry.
type AuditLogRecord struct {
	Actor      string
	ActorRole  string
	Action     string
	TargetRef  string
	Severity   string
	RequestID  string
	OccurredAt time.Time
	Metadata   map[string]any
}

// AuditLogFilter selects the audit trail of one target.
type AuditLogFilter struct {
	TargetRef  string
	Pagination Pagination
}

// WorkflowEventType names the workflow transitions published to subscribers.
type WorkflowEventType string

const (
	EventDocumentUploaded WorkflowEventType = "document.uploaded"
	EventDocumentVerdict  WorkflowEventType = "document.verdict"
	EventStageVerdict     WorkflowEventType = "stage.verdict"
	EventStageUnlocked    WorkflowEventType = "stage.unlock"
	EventStageSubmitted   WorkflowEventType = "stage.submitted"
	EventRegionalPass     WorkflowEventType = "stage.regional_pass"
	EventNomineeActivated WorkflowEventType = "nominee.activated"
)

// WorkflowEvent is the payload published after a workflow mutation has been persisted.
type WorkflowEvent struct {
	EventID    string            `json:"eventId"`
	Type       WorkflowEventType `json:"type"`
	NomineeID  string            `json:"nomineeId"`
	Stage      domain.Stage      `json:"stage,omitempty"`
	SlotID     string            `json:"slotId,omitempty"`
	ActorUID   string            `json:"actorUid"`
	ActorRole  workflow.Role     `json:"actorRole"`
	Value      string            `json:"value,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// WorkflowEventPublisher delivers workflow events to downstream consumers.
type WorkflowEventPublisher interface {
	PublishWorkflowEvent(ctx context.Context, event WorkflowEvent) (string, error)
}

// BlobUploader is the blob-store transport used by upload attempts.
type BlobUploader interface {
	Upload(ctx context.Context, obj pstorage.UploadObject, onProgress func(sent int64)) (pstorage.UploadResult, error)
	Delete(ctx context.Context, ref string) error
}

// FileURLResolver turns a stored file reference into a URL the browser can open.
type FileURLResolver interface {
	ResolveFileURL(ctx context.Context, ref string) (string, error)
}

// ClaimSetter records the nominee binding on the credential provider.
type ClaimSetter interface {
	SetNomineeClaim(ctx context.Context, uid, nomineeID string) error
}
