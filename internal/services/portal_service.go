package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/repositories"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/workflow"
)

var (
	// ErrPortalInvalidInput indicates the caller provided an invalid argument.
	ErrPortalInvalidInput = errors.New("portal: invalid input")
	// ErrPortalForbidden indicates the actor may not act on the nominee.
	ErrPortalForbidden = errors.New("portal: forbidden")
	// ErrPortalNotFound indicates the nominee, slot or registration code does not exist.
	ErrPortalNotFound = errors.New("portal: not found")
	// ErrPortalConflict indicates the invitation is already bound to another user.
	ErrPortalConflict = errors.New("portal: conflict")
	// ErrPortalUnavailable indicates the nominee store could not be reached.
	ErrPortalUnavailable = errors.New("portal: unavailable")
)

// PortalServiceDeps bundles collaborators for the nominee portal.
type PortalServiceDeps struct {
	Nominees     repositories.NomineeRepository
	Requirements RequirementService
	Audit        AuditLogService
	Publisher    WorkflowEventPublisher
	Files        FileURLResolver
	Claims       ClaimSetter
	Submission   workflow.SubmissionPolicy
	Clock        func() time.Time
	Logger       func(context.Context, string, map[string]any)
}

type portalService struct {
	nominees     repositories.NomineeRepository
	requirements RequirementService
	files        FileURLResolver
	claims       ClaimSetter
	submission   workflow.SubmissionPolicy
	clock        func() time.Time
	logger       eventLogger
	events       workflowEmitter
}

var _ PortalService = (*portalService)(nil)

// NewPortalService constructs the nominee portal service.
func NewPortalService(deps PortalServiceDeps) (PortalService, error) {
	if deps.Nominees == nil {
		return nil, errors.New("portal service: nominee repository is required")
	}
	if deps.Requirements == nil {
		return nil, errors.New("portal service: requirement service is required")
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
	return &portalService{
		nominees:     deps.Nominees,
		requirements: deps.Requirements,
		files:        deps.Files,
		claims:       deps.Claims,
		submission:   deps.Submission,
		clock:        utc,
		logger:       logger,
		events:       newWorkflowEmitter(deps.Audit, deps.Publisher, utc, logger),
	}, nil
}

// Load renders the nominee as seen by the actor. Staff roles may read any nominee; nominees only
// their own.
func (s *portalService) Load(ctx context.Context, actor Actor, nomineeID string) (PortalView, error) {
	state, err := loadNomineeState(ctx, s.nominees, s.requirements, nomineeID)
	if err != nil {
		return PortalView{}, portalError(err)
	}
	if !workflow.IsStaff(actor.Role) && !ownsNominee(actor, state.nominee) {
		return PortalView{}, ErrPortalForbidden
	}
	view := workflow.BuildView(state.nominee, state.catalog.Category, state.catalog.Catalog, actor.Role, s.submission)
	resolvePreviews(ctx, s.files, &view, s.logger)
	return PortalView{View: view, CatalogSource: state.catalog.Source, Notice: state.catalog.Notice}, nil
}

// OpenUpload evaluates the gate of a slot. A locked slot is not an error: the dialog stays closed
// and the notice explains the lock.
func (s *portalService) OpenUpload(ctx context.Context, cmd OpenUploadCommand) (UploadDialog, error) {
	if !workflow.CanUpload(cmd.Actor.Role) {
		return UploadDialog{}, ErrPortalForbidden
	}
	if _, _, err := workflow.ParseSlotID(cmd.SlotID); err != nil {
		return UploadDialog{}, fmt.Errorf("%w: %v", ErrPortalInvalidInput, err)
	}
	state, err := s.ownedState(ctx, cmd.Actor, cmd.NomineeID)
	if err != nil {
		return UploadDialog{}, err
	}
	slot, ok := workflow.FindSlot(state.slots, cmd.SlotID)
	if !ok {
		return UploadDialog{}, fmt.Errorf("%w: slot %s", ErrPortalNotFound, cmd.SlotID)
	}
	return uploadDialogFor(state.nominee, slot), nil
}

func uploadDialogFor(nominee domain.Nominee, slot domain.DocumentSlot) UploadDialog {
	gate := workflow.EvaluateGate(workflow.GateInputFor(nominee, slot))
	dialog := UploadDialog{Slot: slot, Gate: gate}
	if !gate.State.Open() {
		dialog.Notice = gate.Notice
		return dialog
	}
	dialog.Open = true
	dialog.Context = workflow.ContextForGate(gate)
	dialog.FilePolicy = workflow.FilePolicyFor(dialog.Context, slot.Round)
	dialog.Notice = workflow.OpenUploadNotice(gate)
	return dialog
}

// OpenConsent opens the consent checkpoint of a stage with both acknowledgements cleared and reports
// whether the stage could be submitted once they are given.
func (s *portalService) OpenConsent(ctx context.Context, actor Actor, nomineeID string, stage domain.Stage) (ConsentCheckpoint, error) {
	if !workflow.CanSubmitStage(actor.Role) {
		return ConsentCheckpoint{}, ErrPortalForbidden
	}
	if !stage.Valid() {
		return ConsentCheckpoint{}, fmt.Errorf("%w: stage %d", ErrPortalInvalidInput, stage)
	}
	state, err := s.ownedState(ctx, actor, nomineeID)
	if err != nil {
		return ConsentCheckpoint{}, err
	}

	var gate workflow.ConsentGate
	gate.Open(stage)
	progress := workflow.Progress(state.slots, stage)
	notice := workflow.CheckSubmission(workflow.SubmissionInput{
		Stage:    stage,
		Unlocked: state.nominee.StageUnlocked(stage),
		Progress: progress,
		Consent:  workflow.Consent{DataPrivacy: true, AuthorityToSubmit: true},
	}, s.submission)
	return ConsentCheckpoint{
		Gate:        gate,
		Progress:    progress,
		MinProgress: s.submission.MinProgressFor(stage),
		Notice:      notice,
	}, nil
}

// SubmitStage records a stage submission. Refusals return a notice and persist nothing. Submitting
// never unlocks the next stage.
func (s *portalService) SubmitStage(ctx context.Context, cmd SubmitStageCommand) (SubmissionResult, error) {
	if !workflow.CanSubmitStage(cmd.Actor.Role) {
		return SubmissionResult{}, ErrPortalForbidden
	}
	if !cmd.Stage.Valid() {
		return SubmissionResult{}, fmt.Errorf("%w: stage %d", ErrPortalInvalidInput, cmd.Stage)
	}
	state, err := s.ownedState(ctx, cmd.Actor, cmd.NomineeID)
	if err != nil {
		return SubmissionResult{}, err
	}

	var gate workflow.ConsentGate
	gate.Accept(cmd.Stage, cmd.Consent)
	progress := workflow.Progress(state.slots, cmd.Stage)
	if notice := workflow.CheckSubmission(workflow.SubmissionInput{
		Stage:    cmd.Stage,
		Unlocked: state.nominee.StageUnlocked(cmd.Stage),
		Progress: progress,
		Consent:  gate.Consent,
	}, s.submission); notice != nil {
		return SubmissionResult{Notice: notice}, nil
	}

	submission := domain.StageSubmission{
		SubmittedAt: s.clock(),
		SubmittedBy: cmd.Actor.UID,
		Progress:    progress,
	}
	if err := s.nominees.RecordSubmission(ctx, state.nominee.ID, cmd.Stage, submission, domain.NomineeStatusSubmitted); err != nil {
		return SubmissionResult{}, portalError(err)
	}
	s.events.emit(ctx, cmd.Actor, WorkflowEvent{
		Type:      EventStageSubmitted,
		NomineeID: state.nominee.ID,
		Stage:     cmd.Stage,
		Value:     strconv.Itoa(progress),
	}, map[string]any{"dataPrivacy": true, "authorityToSubmit": true})

	return SubmissionResult{
		Submitted:  true,
		Submission: &submission,
		Notice:     workflow.SubmittedNotice(cmd.Stage),
	}, nil
}

// Activate binds an invitation registration code to the calling user. Activating twice with the same
// user is a no-op; another user receives ErrPortalConflict.
func (s *portalService) Activate(ctx context.Context, cmd ActivateCommand) (Nominee, error) {
	code := strings.TrimSpace(cmd.RegistrationCode)
	if code == "" {
		return Nominee{}, fmt.Errorf("%w: registration code is required", ErrPortalInvalidInput)
	}
	if strings.TrimSpace(cmd.Actor.UID) == "" {
		return Nominee{}, fmt.Errorf("%w: user id is required", ErrPortalInvalidInput)
	}
	if cmd.Actor.Role != workflow.RoleNominee {
		return Nominee{}, ErrPortalForbidden
	}

	found, err := s.nominees.FindByRegistrationCode(ctx, code)
	if err != nil {
		return Nominee{}, portalError(err)
	}
	nominee, err := s.nominees.BindOwner(ctx, found.ID, cmd.Actor.UID, s.clock())
	if err != nil {
		return Nominee{}, portalError(err)
	}

	if s.claims != nil && cmd.Actor.NomineeID != nominee.ID {
		if err := s.claims.SetNomineeClaim(ctx, cmd.Actor.UID, nominee.ID); err != nil {
			s.logger(ctx, "portal.activation.claims_failed", map[string]any{"nomineeId": nominee.ID, "error": err.Error()})
		}
	}
	if found.OwnerUID == "" {
		s.events.emit(ctx, cmd.Actor, WorkflowEvent{Type: EventNomineeActivated, NomineeID: nominee.ID}, nil)
	}
	return nominee, nil
}

func (s *portalService) ownedState(ctx context.Context, actor Actor, nomineeID string) (nomineeState, error) {
	state, err := loadNomineeState(ctx, s.nominees, s.requirements, nomineeID)
	if err != nil {
		return nomineeState{}, portalError(err)
	}
	if !ownsNominee(actor, state.nominee) {
		return nomineeState{}, ErrPortalForbidden
	}
	return state, nil
}

// nomineeState is a nominee together with its resolved catalog and derived slots.
type nomineeState struct {
	nominee Nominee
	catalog ResolvedCatalog
	slots   []domain.DocumentSlot
}

func loadNomineeState(ctx context.Context, nominees repositories.NomineeRepository, requirements RequirementService, nomineeID string) (nomineeState, error) {
	nomineeID = strings.TrimSpace(nomineeID)
	if nomineeID == "" {
		return nomineeState{}, errInvalidNomineeID
	}
	nominee, err := nominees.Get(ctx, nomineeID)
	if err != nil {
		return nomineeState{}, err
	}
	catalog, err := requirements.Resolve(ctx, string(nominee.Category))
	if err != nil {
		return nomineeState{}, err
	}
	return nomineeState{
		nominee: nominee,
		catalog: catalog,
		slots:   workflow.DeriveSlots(catalog.Catalog, nominee.Documents),
	}, nil
}

var errInvalidNomineeID = errors.New("nominee id is required")

func ownsNominee(actor Actor, nominee Nominee) bool {
	return actor.UID != "" && nominee.OwnerUID == actor.UID
}

func portalError(err error) error {
	if errors.Is(err, errInvalidNomineeID) {
		return fmt.Errorf("%w: %v", ErrPortalInvalidInput, err)
	}
	return translateRepoError(err, ErrPortalNotFound, ErrPortalConflict, ErrPortalUnavailable)
}
