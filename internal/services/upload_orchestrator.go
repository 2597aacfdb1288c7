package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
	pstorage "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/storage"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/textutil"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/repositories"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/workflow"
)

const (
	defaultEncryptSteps        = 10
	defaultEncryptStepInterval = 80 * time.Millisecond
	defaultAttemptRetention    = 10 * time.Minute
	defaultMaxUploadBytes      = 25 << 20

	uploadMeterName = "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/services"
)

var (
	// ErrUploadInvalidInput indicates a malformed upload request.
	ErrUploadInvalidInput = errors.New("upload: invalid input")
	// ErrUploadForbidden indicates the actor may not upload into the nominee.
	ErrUploadForbidden = errors.New("upload: forbidden")
	// ErrUploadNotFound indicates the nominee, slot or attempt does not exist.
	ErrUploadNotFound = errors.New("upload: not found")
	// ErrUploadUnavailable indicates the orchestrator or the nominee store cannot take the upload.
	ErrUploadUnavailable = errors.New("upload: unavailable")
)

// CancelToken is shared by an upload attempt and whoever may cancel it. The flag is checked before
// every state change of the attempt; the stored cancel handle aborts the transfer in flight.
type CancelToken struct {
	mu        sync.Mutex
	cancelled bool
	cancel    context.CancelFunc
}

// Cancel raises the flag and aborts the bound transfer, if any.
func (t *CancelToken) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Bind stores the cancel handle of the transfer. When the token is already cancelled the handle is
// invoked at once and Bind reports false.
func (t *CancelToken) Bind(cancel context.CancelFunc) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		cancel()
		return false
	}
	t.cancel = cancel
	return true
}

// UploadOrchestratorDeps bundles collaborators for upload attempts.
type UploadOrchestratorDeps struct {
	Nominees            repositories.NomineeRepository
	Requirements        RequirementService
	Uploader            BlobUploader
	Audit               AuditLogService
	Publisher           WorkflowEventPublisher
	MaxUploadBytes      int64
	EncryptSteps        int
	EncryptStepInterval time.Duration
	AttemptRetention    time.Duration
	Meter               metric.Meter
	Clock               func() time.Time
	IDGen               func() string
	Logger              func(context.Context, string, map[string]any)
}

type uploadOrchestrator struct {
	nominees     repositories.NomineeRepository
	requirements RequirementService
	uploader     BlobUploader
	events       workflowEmitter
	maxBytes     int64
	steps        int
	interval     time.Duration
	retention    time.Duration
	clock        func() time.Time
	newID        func() string
	logger       eventLogger

	started   metric.Int64Counter
	succeeded metric.Int64Counter
	failed    metric.Int64Counter
	cancelled metric.Int64Counter

	mu       sync.Mutex
	attempts map[string]*uploadAttempt
	closed   bool
	wg       sync.WaitGroup
}

var _ UploadOrchestrator = (*uploadOrchestrator)(nil)

// NewUploadOrchestrator constructs the orchestrator. Attempts live in memory for AttemptRetention after
// they finish so clients can poll the outcome.
func NewUploadOrchestrator(deps UploadOrchestratorDeps) (UploadOrchestrator, error) {
	if deps.Nominees == nil {
		return nil, errors.New("upload orchestrator: nominee repository is required")
	}
	if deps.Requirements == nil {
		return nil, errors.New("upload orchestrator: requirement service is required")
	}
	if deps.Uploader == nil {
		return nil, errors.New("upload orchestrator: uploader is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	utc := func() time.Time { return clock().UTC() }
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopEventLogger
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(uploadMeterName)
	}

	o := &uploadOrchestrator{
		nominees:     deps.Nominees,
		requirements: deps.Requirements,
		uploader:     deps.Uploader,
		events:       newWorkflowEmitter(deps.Audit, deps.Publisher, utc, logger),
		maxBytes:     deps.MaxUploadBytes,
		steps:        deps.EncryptSteps,
		interval:     deps.EncryptStepInterval,
		retention:    deps.AttemptRetention,
		clock:        utc,
		newID:        idGen,
		logger:       logger,
		attempts:     make(map[string]*uploadAttempt),
	}
	if o.maxBytes <= 0 {
		o.maxBytes = defaultMaxUploadBytes
	}
	if o.steps <= 0 {
		o.steps = defaultEncryptSteps
	}
	if o.interval < 0 {
		o.interval = defaultEncryptStepInterval
	}
	if o.retention <= 0 {
		o.retention = defaultAttemptRetention
	}

	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&o.started, "portal.uploads.started", "Upload attempts that passed the gate and file checks"},
		{&o.succeeded, "portal.uploads.succeeded", "Upload attempts persisted as document records"},
		{&o.failed, "portal.uploads.failed", "Upload attempts that failed in transport or persistence"},
		{&o.cancelled, "portal.uploads.cancelled", "Upload attempts cancelled by the nominee"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("upload orchestrator: register %s: %w", c.name, err)
		}
		*c.target = counter
	}
	return o, nil
}

// Start validates the upload and, when accepted, registers an attempt and runs it in the background.
// Gate and file-type refusals return an idle attempt carrying a notice; nothing is registered.
func (o *uploadOrchestrator) Start(ctx context.Context, cmd StartUploadCommand) (UploadAttempt, error) {
	if !workflow.CanUpload(cmd.Actor.Role) {
		return UploadAttempt{}, ErrUploadForbidden
	}
	if _, _, err := workflow.ParseSlotID(cmd.SlotID); err != nil {
		return UploadAttempt{}, fmt.Errorf("%w: %v", ErrUploadInvalidInput, err)
	}
	if len(cmd.Body) == 0 {
		return UploadAttempt{}, fmt.Errorf("%w: file is empty", ErrUploadInvalidInput)
	}

	state, err := loadNomineeState(ctx, o.nominees, o.requirements, cmd.NomineeID)
	if err != nil {
		if errors.Is(err, errInvalidNomineeID) {
			return UploadAttempt{}, fmt.Errorf("%w: %v", ErrUploadInvalidInput, err)
		}
		return UploadAttempt{}, translateRepoError(err, ErrUploadNotFound, ErrUploadUnavailable, ErrUploadUnavailable)
	}
	if !ownsNominee(cmd.Actor, state.nominee) {
		return UploadAttempt{}, ErrUploadForbidden
	}
	slot, ok := workflow.FindSlot(state.slots, cmd.SlotID)
	if !ok {
		return UploadAttempt{}, fmt.Errorf("%w: slot %s", ErrUploadNotFound, cmd.SlotID)
	}

	idle := UploadAttempt{
		NomineeID: state.nominee.ID,
		SlotID:    slot.ID,
		OwnerUID:  cmd.Actor.UID,
		Phase:     UploadPhaseIdle,
		Slot:      slot,
	}
	dialog := uploadDialogFor(state.nominee, slot)
	if !dialog.Open {
		idle.Notice = dialog.Notice
		return idle, nil
	}
	idle.Context = dialog.Context

	fileName := textutil.FileName(cmd.FileName)
	idle.FileName = fileName
	if notice := dialog.FilePolicy.Check(fileName, cmd.ContentType); notice != nil {
		idle.Notice = notice
		return idle, nil
	}
	if int64(len(cmd.Body)) > o.maxBytes {
		idle.Notice = &workflow.Notice{
			Level:   workflow.NoticeWarning,
			Code:    workflow.NoticeFileTooLarge,
			Message: fmt.Sprintf("The file exceeds the %d MB upload limit.", o.maxBytes>>20),
		}
		return idle, nil
	}

	now := o.clock()
	attempt := &uploadAttempt{
		token:     &CancelToken{},
		done:      make(chan struct{}),
		before:    slot,
		documents: state.nominee.Documents,
		catalog:   state.catalog.Catalog,
		state:     idle,
	}
	attempt.state.ID = o.newID()
	attempt.state.Phase = UploadPhaseEncrypting
	attempt.state.StartedAt = now
	attempt.state.UpdatedAt = now

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return UploadAttempt{}, fmt.Errorf("%w: shutting down", ErrUploadUnavailable)
	}
	o.pruneLocked(now)
	o.attempts[attempt.state.ID] = attempt
	o.wg.Add(1)
	o.mu.Unlock()

	attrs := uploadAttrs(dialog.Context, slot.Round)
	o.started.Add(ctx, 1, attrs)
	o.logger(ctx, "uploads.started", map[string]any{
		"uploadId":  attempt.state.ID,
		"nomineeId": state.nominee.ID,
		"slotId":    slot.ID,
		"context":   string(dialog.Context),
		"bytes":     len(cmd.Body),
	})

	snapshot := attempt.snapshot()
	runCtx, runCancel := context.WithCancel(context.WithoutCancel(ctx))
	attempt.token.Bind(runCancel)
	go func() {
		defer o.wg.Done()
		defer runCancel()
		defer close(attempt.done)
		o.run(runCtx, attempt, cmd, dialog)
	}()
	return snapshot, nil
}

func (o *uploadOrchestrator) run(ctx context.Context, a *uploadAttempt, cmd StartUploadCommand, dialog UploadDialog) {
	attrs := uploadAttrs(dialog.Context, a.before.Round)

	// Encrypting is a cosmetic pre-processing phase with a fixed cadence.
	for step := 1; step <= o.steps; step++ {
		if o.interval > 0 {
			timer := time.NewTimer(o.interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		progress := step * 100 / o.steps
		if !a.update(o.clock(), func(s *UploadAttempt) { s.Progress = progress }) {
			return
		}
	}

	rng := workflow.ProgressRangeFor(dialog.Context)
	if !a.update(o.clock(), func(s *UploadAttempt) {
		s.Phase = UploadPhaseUploading
		s.Progress = rng.Min
	}) {
		return
	}

	objectName, err := pstorage.DocumentObject(a.state.NomineeID, a.state.SlotID, a.state.ID, a.state.FileName)
	if err != nil {
		o.fail(ctx, a, attrs, workflow.UploadFailedNotice(""), err)
		return
	}
	contentType := dialog.FilePolicy.ContentTypeFor(a.state.FileName)
	size := int64(len(cmd.Body))
	result, err := o.uploader.Upload(ctx, pstorage.UploadObject{
		Name:        objectName,
		ContentType: contentType,
		Size:        size,
		Body:        bytes.NewReader(cmd.Body),
		Metadata: map[string]string{
			"nomineeId": a.state.NomineeID,
			"slotId":    a.state.SlotID,
			"uploadId":  a.state.ID,
		},
	}, func(sent int64) {
		percent := int(sent * 100 / size)
		a.update(o.clock(), func(s *UploadAttempt) { s.Progress = rng.Clamp(percent) })
	})
	if err != nil {
		if a.token.Cancelled() {
			return
		}
		o.fail(ctx, a, attrs, workflow.UploadFailedNotice(transportDetail(err)), err)
		return
	}

	record := domain.DocumentRecord{
		Name:    a.state.FileName,
		Type:    contentType,
		URL:     result.Ref,
		Date:    o.clock(),
		SlotID:  a.state.SlotID,
		Remarks: textutil.Remarks(cmd.Remarks),
	}

	// From here on the attempt can no longer be cancelled. The slot is merged optimistically before the
	// record is persisted and reconciled with the stored list afterwards.
	if !a.beginCommit(o.clock(), record, a.slotWith(workflow.UpsertDocument(a.documents, record))) {
		o.discard(ctx, result.Ref)
		return
	}

	documents, err := o.nominees.AddDocument(ctx, a.state.NomineeID, record, domain.NomineeStatusInProgress)
	if err != nil {
		o.discard(ctx, result.Ref)
		o.fail(ctx, a, attrs, workflow.UploadFailedNotice("the document could not be saved"), err)
		return
	}

	a.finish(o.clock(), func(s *UploadAttempt) {
		s.Phase = UploadPhaseSuccess
		s.Progress = 100
		s.Slot = a.slotWith(documents)
		s.Notice = &workflow.Notice{
			Level:   workflow.NoticeInfo,
			Code:    workflow.NoticeUploadCompleted,
			Message: fmt.Sprintf("%s uploaded.", record.Name),
		}
	})
	o.succeeded.Add(ctx, 1, attrs)
	o.logger(ctx, "uploads.succeeded", map[string]any{"uploadId": a.state.ID, "ref": result.Ref})
	o.events.emit(ctx, Actor{UID: cmd.Actor.UID, Role: cmd.Actor.Role}, WorkflowEvent{
		Type:      EventDocumentUploaded,
		NomineeID: a.state.NomineeID,
		Stage:     a.before.Round,
		SlotID:    a.state.SlotID,
		Value:     record.Name,
	}, map[string]any{"context": string(dialog.Context)})
}

func (o *uploadOrchestrator) fail(ctx context.Context, a *uploadAttempt, attrs metric.AddOption, notice *workflow.Notice, cause error) {
	a.finish(o.clock(), func(s *UploadAttempt) {
		s.Phase = UploadPhaseFailed
		s.Progress = 0
		s.Record = nil
		s.Slot = a.before
		s.Notice = notice
	})
	o.failed.Add(ctx, 1, attrs)
	o.logger(ctx, "uploads.failed", map[string]any{"uploadId": a.state.ID, "error": cause.Error()})
}

// discard removes a blob whose attempt ended without a document record.
func (o *uploadOrchestrator) discard(ctx context.Context, ref string) {
	if err := o.uploader.Delete(context.WithoutCancel(ctx), ref); err != nil {
		o.logger(ctx, "uploads.discard.failed", map[string]any{"ref": ref, "error": err.Error()})
	}
}

// Get returns the current snapshot of an attempt owned by the actor.
func (o *uploadOrchestrator) Get(_ context.Context, actor Actor, uploadID string) (UploadAttempt, error) {
	a, err := o.lookup(actor, uploadID)
	if err != nil {
		return UploadAttempt{}, err
	}
	return a.snapshot(), nil
}

// Wait blocks until the attempt's background run has exited or ctx is done.
func (o *uploadOrchestrator) Wait(ctx context.Context, actor Actor, uploadID string) (UploadAttempt, error) {
	a, err := o.lookup(actor, uploadID)
	if err != nil {
		return UploadAttempt{}, err
	}
	select {
	case <-a.done:
		return a.snapshot(), nil
	case <-ctx.Done():
		return a.snapshot(), ctx.Err()
	}
}

// Cancel stops an attempt. Cancelling is not a failure: the slot returns to its pre-upload state, no
// notice is attached and no record is written. Finished or committing attempts are returned unchanged.
func (o *uploadOrchestrator) Cancel(ctx context.Context, actor Actor, uploadID string) (UploadAttempt, error) {
	a, err := o.lookup(actor, uploadID)
	if err != nil {
		return UploadAttempt{}, err
	}
	if !a.cancel(o.clock()) {
		return a.snapshot(), nil
	}
	snapshot := a.snapshot()
	o.cancelled.Add(ctx, 1, uploadAttrs(snapshot.Context, a.before.Round))
	o.logger(ctx, "uploads.cancelled", map[string]any{"uploadId": uploadID})
	return snapshot, nil
}

// Shutdown refuses new attempts, cancels running ones that have not started committing and waits for
// every background run to exit.
func (o *uploadOrchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	running := make([]*uploadAttempt, 0, len(o.attempts))
	for _, a := range o.attempts {
		running = append(running, a)
	}
	o.mu.Unlock()

	for _, a := range running {
		a.cancel(o.clock())
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("upload orchestrator: shutdown: %w", ctx.Err())
	}
}

func (o *uploadOrchestrator) lookup(actor Actor, uploadID string) (*uploadAttempt, error) {
	uploadID = strings.TrimSpace(uploadID)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pruneLocked(o.clock())
	a, ok := o.attempts[uploadID]
	if !ok || actor.UID == "" || a.state.OwnerUID != actor.UID {
		return nil, fmt.Errorf("%w: upload %s", ErrUploadNotFound, uploadID)
	}
	return a, nil
}

func (o *uploadOrchestrator) pruneLocked(now time.Time) {
	for id, a := range o.attempts {
		if finished := a.finishedAt(); !finished.IsZero() && now.Sub(finished) > o.retention {
			delete(o.attempts, id)
		}
	}
}

func uploadAttrs(uploadCtx workflow.UploadContext, stage domain.Stage) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("context", string(uploadCtx)),
		attribute.Int("stage", int(stage)),
	)
}

// transportDetail trims a transport error to something that can be shown to the nominee.
func transportDetail(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "the transfer timed out"
	}
	return sanitizeText(err.Error(), 200)
}

// uploadAttempt is the mutable state of one attempt. ID, NomineeID, SlotID, OwnerUID and FileName
// never change after registration.
type uploadAttempt struct {
	mu         sync.Mutex
	state      UploadAttempt
	token      *CancelToken
	committing bool
	finished   time.Time
	done       chan struct{}

	before    domain.DocumentSlot
	documents []domain.DocumentRecord
	catalog   domain.RequirementCatalog
}

// update applies fn unless the attempt was cancelled or has finished.
func (a *uploadAttempt) update(now time.Time, fn func(*UploadAttempt)) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token.Cancelled() || a.state.Phase.Terminal() {
		return false
	}
	fn(&a.state)
	a.state.UpdatedAt = now
	return true
}

func (a *uploadAttempt) beginCommit(now time.Time, record domain.DocumentRecord, slot domain.DocumentSlot) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token.Cancelled() || a.state.Phase.Terminal() {
		return false
	}
	a.committing = true
	a.state.Record = &record
	a.state.Slot = slot
	a.state.Progress = workflow.ProgressRangeFor(a.state.Context).Max
	a.state.UpdatedAt = now
	return true
}

// finish moves the attempt to a terminal phase. Committing attempts finish even though a shutdown
// may have raised the cancel flag meanwhile.
func (a *uploadAttempt) finish(now time.Time, fn func(*UploadAttempt)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.Phase.Terminal() || (a.token.Cancelled() && !a.committing) {
		return
	}
	fn(&a.state)
	a.state.UpdatedAt = now
	a.finished = now
}

func (a *uploadAttempt) cancel(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.Phase.Terminal() || a.committing {
		return false
	}
	a.token.Cancel()
	a.state.Phase = UploadPhaseCancelled
	a.state.Progress = 0
	a.state.Notice = nil
	a.state.Record = nil
	a.state.Slot = a.before
	a.state.UpdatedAt = now
	a.finished = now
	return true
}

func (a *uploadAttempt) finishedAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finished
}

func (a *uploadAttempt) slotWith(documents []domain.DocumentRecord) domain.DocumentSlot {
	slot, ok := workflow.FindSlot(workflow.DeriveSlots(a.catalog, documents), a.before.ID)
	if !ok {
		return a.before
	}
	return slot
}

func (a *uploadAttempt) snapshot() UploadAttempt {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.state
	if a.state.Record != nil {
		record := *a.state.Record
		out.Record = &record
	}
	return out
}
