package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/pagination"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/textutil"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/repositories"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/workflow"
)

var (
	// ErrEvaluationInvalidInput indicates a malformed evaluator request.
	ErrEvaluationInvalidInput = errors.New("evaluation: invalid input")
	// ErrEvaluationForbidden indicates the role may not perform the action. Nothing was changed.
	ErrEvaluationForbidden = errors.New("evaluation: forbidden")
	// ErrEvaluationNotFound indicates the nominee does not exist.
	ErrEvaluationNotFound = errors.New("evaluation: not found")
	// ErrEvaluationUnavailable indicates the nominee store could not be reached.
	ErrEvaluationUnavailable = errors.New("evaluation: unavailable")
)

// EvaluationServiceDeps bundles collaborators for evaluator actions.
type EvaluationServiceDeps struct {
	Nominees     repositories.NomineeRepository
	Requirements RequirementService
	Audit        AuditLogService
	Publisher    WorkflowEventPublisher
	Files        FileURLResolver
	Unlock       workflow.UnlockPolicy
	Submission   workflow.SubmissionPolicy
	Clock        func() time.Time
	Logger       func(context.Context, string, map[string]any)
}

type evaluationService struct {
	nominees     repositories.NomineeRepository
	requirements RequirementService
	audit        AuditLogService
	files        FileURLResolver
	unlock       workflow.UnlockPolicy
	submission   workflow.SubmissionPolicy
	clock        func() time.Time
	logger       eventLogger
	events       workflowEmitter
}

var _ EvaluationService = (*evaluationService)(nil)

// NewEvaluationService constructs the evaluator side of the workflow.
func NewEvaluationService(deps EvaluationServiceDeps) (EvaluationService, error) {
	if deps.Nominees == nil {
		return nil, errors.New("evaluation service: nominee repository is required")
	}
	if deps.Requirements == nil {
		return nil, errors.New("evaluation service: requirement service is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	utc := func() time.Time { return clock().UTC() }
	logger := deps.Logger
	if logger == nil {
		logger = noopEventLogger
	}
	return &evaluationService{
		nominees:     deps.Nominees,
		requirements: deps.Requirements,
		audit:        deps.Audit,
		files:        deps.Files,
		unlock:       deps.Unlock,
		submission:   deps.Submission,
		clock:        utc,
		logger:       logger,
		events:       newWorkflowEmitter(deps.Audit, deps.Publisher, utc, logger),
	}, nil
}

func (s *evaluationService) ListQueue(ctx context.Context, actor Actor, filter NomineeFilter) (domain.CursorPage[Nominee], error) {
	if !workflow.IsStaff(actor.Role) {
		return domain.CursorPage[Nominee]{}, ErrEvaluationForbidden
	}
	if filter.Category != "" {
		category, ok := workflow.NormalizeCategory(string(filter.Category))
		if !ok {
			return domain.CursorPage[Nominee]{}, fmt.Errorf("%w: unknown category %q", ErrEvaluationInvalidInput, filter.Category)
		}
		filter.Category = category
	}
	filter.Pagination.PageSize = pagination.Normalize(filter.Pagination.PageSize)
	page, err := s.nominees.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Nominee]{}, evaluationError(err)
	}
	return page, nil
}

// GetNominee renders the nominee for staff. Stage visibility follows the role.
func (s *evaluationService) GetNominee(ctx context.Context, actor Actor, nomineeID string) (PortalView, error) {
	if !workflow.IsStaff(actor.Role) {
		return PortalView{}, ErrEvaluationForbidden
	}
	state, err := loadNomineeState(ctx, s.nominees, s.requirements, nomineeID)
	if err != nil {
		return PortalView{}, evaluationError(err)
	}
	view := workflow.BuildView(state.nominee, state.catalog.Category, state.catalog.Catalog, actor.Role, s.submission)
	resolvePreviews(ctx, s.files, &view, s.logger)
	return PortalView{View: view, CatalogSource: state.catalog.Source, Notice: state.catalog.Notice}, nil
}

// SetDocumentVerdict records pass or fail on the document of a slot. It reports false without writing
// when the slot holds no document. Unlock flags are never touched.
func (s *evaluationService) SetDocumentVerdict(ctx context.Context, cmd DocumentVerdictCommand) (bool, error) {
	if !workflow.CanSetVerdict(cmd.Actor.Role, workflow.VerdictScopeDocument) {
		return false, ErrEvaluationForbidden
	}
	if cmd.Verdict != domain.VerdictPass && cmd.Verdict != domain.VerdictFail {
		return false, fmt.Errorf("%w: verdict must be pass or fail", ErrEvaluationInvalidInput)
	}
	stage, _, err := workflow.ParseSlotID(cmd.SlotID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrEvaluationInvalidInput, err)
	}
	if !workflow.CanViewStage(cmd.Actor.Role, stage) {
		return false, ErrEvaluationForbidden
	}

	nominee, err := s.getNominee(ctx, cmd.NomineeID)
	if err != nil {
		return false, err
	}
	if _, ok := workflow.ApplyDocumentVerdict(nominee.Documents, cmd.SlotID, cmd.Verdict, nil); !ok {
		s.logger(ctx, "evaluation.document_verdict.no_document", map[string]any{"nomineeId": nominee.ID, "slotId": cmd.SlotID})
		return false, nil
	}

	var remarks *string
	if cmd.Remarks != nil {
		cleaned := textutil.Remarks(*cmd.Remarks)
		remarks = &cleaned
	}
	if err := s.nominees.UpdateDocumentEvaluation(ctx, nominee.ID, cmd.SlotID, cmd.Verdict, remarks, domain.NomineeStatusUnderReview); err != nil {
		if isRepoNotFound(err) {
			return false, nil
		}
		return false, evaluationError(err)
	}

	metadata := map[string]any{}
	if remarks != nil {
		metadata["remarksLength"] = len(*remarks)
	}
	s.events.emit(ctx, cmd.Actor, WorkflowEvent{
		Type:      EventDocumentVerdict,
		NomineeID: nominee.ID,
		Stage:     stage,
		SlotID:    cmd.SlotID,
		Value:     string(cmd.Verdict),
	}, metadata)
	return true, nil
}

// SetStageVerdict records the overall verdict of a stage. It is independent of the document verdicts
// of that stage. A stage-3 Pass completes the nomination.
func (s *evaluationService) SetStageVerdict(ctx context.Context, cmd StageVerdictCommand) (bool, error) {
	if !workflow.CanSetVerdict(cmd.Actor.Role, workflow.VerdictScopeStage) {
		return false, ErrEvaluationForbidden
	}
	if !cmd.Stage.Valid() {
		return false, fmt.Errorf("%w: stage %d", ErrEvaluationInvalidInput, cmd.Stage)
	}
	if cmd.Verdict != domain.StageVerdictPass && cmd.Verdict != domain.StageVerdictFail {
		return false, fmt.Errorf("%w: verdict must be Pass or Fail", ErrEvaluationInvalidInput)
	}
	nominee, err := s.getNominee(ctx, cmd.NomineeID)
	if err != nil {
		return false, err
	}

	status := domain.NomineeStatusUnderReview
	if cmd.Stage == domain.Stage3 && cmd.Verdict == domain.StageVerdictPass {
		status = domain.NomineeStatusCompleted
	}
	if err := s.nominees.UpdateStageVerdict(ctx, nominee.ID, cmd.Stage, cmd.Verdict, status); err != nil {
		return false, evaluationError(err)
	}
	s.events.emit(ctx, cmd.Actor, WorkflowEvent{
		Type:      EventStageVerdict,
		NomineeID: nominee.ID,
		Stage:     cmd.Stage,
		Value:     string(cmd.Verdict),
	}, nil)
	return true, nil
}

// SetStageUnlock toggles the unlock flag of stage 2 or 3. Stage 1 has no flag.
func (s *evaluationService) SetStageUnlock(ctx context.Context, cmd StageUnlockCommand) error {
	if cmd.Stage != domain.Stage2 && cmd.Stage != domain.Stage3 {
		return fmt.Errorf("%w: only stages 2 and 3 can be unlocked", ErrEvaluationInvalidInput)
	}
	if !workflow.CanUnlockStage(cmd.Actor.Role, cmd.Stage, s.unlock) {
		return ErrEvaluationForbidden
	}
	nominee, err := s.getNominee(ctx, cmd.NomineeID)
	if err != nil {
		return err
	}
	if err := s.nominees.SetStageUnlock(ctx, nominee.ID, cmd.Stage, cmd.Unlocked); err != nil {
		return evaluationError(err)
	}
	s.events.emit(ctx, cmd.Actor, WorkflowEvent{
		Type:      EventStageUnlocked,
		NomineeID: nominee.ID,
		Stage:     cmd.Stage,
		Value:     strconv.FormatBool(cmd.Unlocked),
	}, map[string]any{"previous": nominee.StageUnlocked(cmd.Stage)})
	return nil
}

// MarkRegionalPass flags stage 1 as cleared by the regional unit. Marking again overwrites the
// previous marker.
func (s *evaluationService) MarkRegionalPass(ctx context.Context, actor Actor, nomineeID string) error {
	if !workflow.CanMarkRegionalPass(actor.Role) {
		return ErrEvaluationForbidden
	}
	nominee, err := s.getNominee(ctx, nomineeID)
	if err != nil {
		return err
	}
	pass := domain.RegionalPass{MarkedBy: actor.UID, MarkedAt: s.clock()}
	if err := s.nominees.SetRegionalPass(ctx, nominee.ID, pass); err != nil {
		return evaluationError(err)
	}
	s.events.emit(ctx, actor, WorkflowEvent{
		Type:      EventRegionalPass,
		NomineeID: nominee.ID,
		Stage:     domain.Stage1,
	}, nil)
	return nil
}

func (s *evaluationService) ListAuditTrail(ctx context.Context, actor Actor, nomineeID string, page Pagination) (domain.CursorPage[AuditLogEntry], error) {
	if !workflow.HasCapability(actor.Role, workflow.CapViewAuditLog) {
		return domain.CursorPage[AuditLogEntry]{}, ErrEvaluationForbidden
	}
	if s.audit == nil {
		return domain.CursorPage[AuditLogEntry]{}, fmt.Errorf("%w: audit log not configured", ErrEvaluationUnavailable)
	}
	nominee, err := s.getNominee(ctx, nomineeID)
	if err != nil {
		return domain.CursorPage[AuditLogEntry]{}, err
	}
	page.PageSize = pagination.Normalize(page.PageSize)
	out, err := s.audit.List(ctx, AuditLogFilter{TargetRef: nomineeTarget(nominee.ID), Pagination: page})
	if err != nil {
		return domain.CursorPage[AuditLogEntry]{}, evaluationError(err)
	}
	return out, nil
}

func (s *evaluationService) getNominee(ctx context.Context, nomineeID string) (Nominee, error) {
	nomineeID = strings.TrimSpace(nomineeID)
	if nomineeID == "" {
		return Nominee{}, evaluationError(errInvalidNomineeID)
	}
	nominee, err := s.nominees.Get(ctx, nomineeID)
	if err != nil {
		return Nominee{}, evaluationError(err)
	}
	return nominee, nil
}

func evaluationError(err error) error {
	switch {
	case errors.Is(err, errInvalidNomineeID), errors.Is(err, ErrAuditInvalidInput), errors.Is(err, pagination.ErrInvalidPageToken):
		return fmt.Errorf("%w: %v", ErrEvaluationInvalidInput, err)
	}
	return translateRepoError(err, ErrEvaluationNotFound, ErrEvaluationUnavailable, ErrEvaluationUnavailable)
}
