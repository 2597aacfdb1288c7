package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
	pstorage "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/storage"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/workflow"
)

type fakeUploader struct {
	mu       sync.Mutex
	objects  []pstorage.UploadObject
	deleted  []string
	err      error
	block    chan struct{}
	entered  chan struct{}
	progress []int64
}

func (u *fakeUploader) Upload(ctx context.Context, obj pstorage.UploadObject, onProgress func(sent int64)) (pstorage.UploadResult, error) {
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return pstorage.UploadResult{}, err
	}
	u.mu.Lock()
	u.objects = append(u.objects, obj)
	u.mu.Unlock()

	half := int64(len(data)) / 2
	onProgress(half)
	u.mu.Lock()
	u.progress = append(u.progress, half)
	u.mu.Unlock()

	if u.entered != nil {
		close(u.entered)
	}
	if u.block != nil {
		select {
		case <-u.block:
		case <-ctx.Done():
			return pstorage.UploadResult{}, ctx.Err()
		}
	}
	if u.err != nil {
		return pstorage.UploadResult{}, u.err
	}
	onProgress(int64(len(data)))
	return pstorage.UploadResult{Ref: pstorage.ObjectRef("docs", obj.Name), Bytes: int64(len(data))}, nil
}

func (u *fakeUploader) Delete(_ context.Context, ref string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.deleted = append(u.deleted, ref)
	return nil
}

func (u *fakeUploader) uploadCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.objects)
}

func (u *fakeUploader) deletedRefs() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.deleted...)
}

type uploadFixture struct {
	orchestrator UploadOrchestrator
	repo         *memoryNomineeRepo
	uploader     *fakeUploader
	audit        *recordingAudit
	publisher    *recordingPublisher
	logs         *captureLogger
}

func newUploadFixture(t *testing.T, uploader *fakeUploader, maxBytes int64, nominees ...domain.Nominee) uploadFixture {
	t.Helper()
	fx := uploadFixture{
		repo:      newMemoryNomineeRepo(nominees...),
		uploader:  uploader,
		audit:     &recordingAudit{},
		publisher: &recordingPublisher{},
		logs:      &captureLogger{},
	}
	ids := 0
	orchestrator, err := NewUploadOrchestrator(UploadOrchestratorDeps{
		Nominees:       fx.repo,
		Requirements:   newTestRequirements(nil),
		Uploader:       uploader,
		Audit:          fx.audit,
		Publisher:      fx.publisher,
		MaxUploadBytes: maxBytes,
		EncryptSteps:   4,
		Clock:          func() time.Time { return portalNow },
		IDGen: func() string {
			ids++
			return "upl-" + string(rune('0'+ids))
		},
		Logger: fx.logs.log,
	})
	if err != nil {
		t.Fatalf("NewUploadOrchestrator: %v", err)
	}
	fx.orchestrator = orchestrator
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = orchestrator.Shutdown(ctx)
	})
	return fx
}

func pdfUpload(slotID string) StartUploadCommand {
	return StartUploadCommand{
		Actor:       nomineeActor(),
		NomineeID:   "nom-1",
		SlotID:      slotID,
		FileName:    "registration.pdf",
		ContentType: "application/pdf",
		Body:        []byte("%PDF-1.7 test body"),
		Remarks:     "  signed copy ",
	}
}

func waitAttempt(t *testing.T, o UploadOrchestrator, id string) UploadAttempt {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	attempt, err := o.Wait(ctx, nomineeActor(), id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return attempt
}

func TestUploadOrchestratorPersistsDocument(t *testing.T) {
	fx := newUploadFixture(t, &fakeUploader{}, 0, freshNominee())

	started, err := fx.orchestrator.Start(context.Background(), pdfUpload("r1-0"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if started.ID == "" || started.Phase != UploadPhaseEncrypting {
		t.Fatalf("expected registered encrypting attempt, got %+v", started)
	}
	if started.Context != workflow.UploadContextPortal {
		t.Fatalf("expected portal context, got %q", started.Context)
	}

	done := waitAttempt(t, fx.orchestrator, started.ID)
	if done.Phase != UploadPhaseSuccess || done.Progress != 100 {
		t.Fatalf("expected success at 100, got %s at %d", done.Phase, done.Progress)
	}
	if done.Notice == nil || done.Notice.Code != workflow.NoticeUploadCompleted {
		t.Fatalf("expected completion notice, got %+v", done.Notice)
	}
	if done.Record == nil || done.Record.SlotID != "r1-0" || done.Record.Type != "application/pdf" {
		t.Fatalf("unexpected record %+v", done.Record)
	}
	if done.Record.Remarks != "signed copy" {
		t.Fatalf("expected trimmed remarks, got %q", done.Record.Remarks)
	}
	if done.Slot.Status != domain.SlotStatusUploaded || done.Slot.FileName != "registration.pdf" {
		t.Fatalf("expected uploaded slot, got %+v", done.Slot)
	}

	stored := fx.repo.snapshot("nom-1")
	if len(stored.Documents) != 1 || stored.Documents[0].URL != done.Record.URL {
		t.Fatalf("expected one stored document, got %+v", stored.Documents)
	}
	if !strings.HasPrefix(stored.Documents[0].URL, "gs://docs/nominees/nom-1/") {
		t.Fatalf("unexpected object ref %q", stored.Documents[0].URL)
	}
	if stored.Status != domain.NomineeStatusInProgress {
		t.Fatalf("expected in_progress status, got %s", stored.Status)
	}

	events := fx.publisher.published()
	if len(events) != 1 || events[0].Type != EventDocumentUploaded || events[0].SlotID != "r1-0" {
		t.Fatalf("unexpected events %+v", events)
	}
	if actions := fx.audit.actions(); len(actions) != 1 || actions[0] != string(EventDocumentUploaded) {
		t.Fatalf("unexpected audit actions %v", actions)
	}
}

func TestUploadOrchestratorCancelMidTransfer(t *testing.T) {
	uploader := &fakeUploader{block: make(chan struct{}), entered: make(chan struct{})}
	fx := newUploadFixture(t, uploader, 0, freshNominee())

	started, err := fx.orchestrator.Start(context.Background(), pdfUpload("r1-1"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-uploader.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("upload never reached the transport")
	}

	mid, err := fx.orchestrator.Get(context.Background(), nomineeActor(), started.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if mid.Phase != UploadPhaseUploading || mid.Progress < 5 || mid.Progress > 95 {
		t.Fatalf("expected uploading within the portal range, got %s at %d", mid.Phase, mid.Progress)
	}

	cancelled, err := fx.orchestrator.Cancel(context.Background(), nomineeActor(), started.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Phase != UploadPhaseCancelled || cancelled.Notice != nil || cancelled.Record != nil {
		t.Fatalf("expected silent cancellation, got %+v", cancelled)
	}
	if cancelled.Slot.Status != domain.SlotStatusPending {
		t.Fatalf("expected slot to revert to pending, got %s", cancelled.Slot.Status)
	}

	done := waitAttempt(t, fx.orchestrator, started.ID)
	if done.Phase != UploadPhaseCancelled {
		t.Fatalf("cancelled attempt changed phase to %s", done.Phase)
	}
	if fx.repo.writeCount() != 0 {
		t.Fatalf("expected no repository writes, got %d", fx.repo.writeCount())
	}
	if len(fx.publisher.published()) != 0 {
		t.Fatalf("cancelled upload must not publish")
	}
}

func TestUploadOrchestratorRefusesBeforeTransfer(t *testing.T) {
	stage3 := freshNominee()
	stage3.Round2Unlocked = true
	stage3.Round3Unlocked = true

	cases := []struct {
		name     string
		nominee  domain.Nominee
		maxBytes int64
		mutate   func(*StartUploadCommand)
		code     string
	}{
		{
			name:    "stage 3 accepts pdf only",
			nominee: stage3,
			mutate: func(cmd *StartUploadCommand) {
				cmd.SlotID = "r3-0"
				cmd.FileName = "site-photo.png"
				cmd.ContentType = "image/png"
			},
			code: workflow.NoticeFileTypeRejected,
		},
		{
			name:    "office documents are rejected",
			nominee: freshNominee(),
			mutate: func(cmd *StartUploadCommand) {
				cmd.FileName = "report.docx"
				cmd.ContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
			},
			code: workflow.NoticeFileTypeRejected,
		},
		{
			name:    "stage 2 not reached",
			nominee: freshNominee(),
			mutate:  func(cmd *StartUploadCommand) { cmd.SlotID = "r2-0" },
			code:    workflow.NoticeStageNotReached,
		},
		{
			name:     "file too large",
			nominee:  freshNominee(),
			maxBytes: 4,
			mutate:   func(*StartUploadCommand) {},
			code:     workflow.NoticeFileTooLarge,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uploader := &fakeUploader{}
			fx := newUploadFixture(t, uploader, tc.maxBytes, tc.nominee)
			cmd := pdfUpload("r1-0")
			tc.mutate(&cmd)

			attempt, err := fx.orchestrator.Start(context.Background(), cmd)
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			if attempt.Phase != UploadPhaseIdle || attempt.ID != "" {
				t.Fatalf("expected unregistered idle attempt, got %+v", attempt)
			}
			if attempt.Notice == nil || attempt.Notice.Code != tc.code {
				t.Fatalf("expected notice %s, got %+v", tc.code, attempt.Notice)
			}
			if uploader.uploadCount() != 0 {
				t.Fatalf("transport must not be called")
			}
		})
	}
}

func TestUploadOrchestratorPersistFailureRevertsSlot(t *testing.T) {
	uploader := &fakeUploader{}
	fx := newUploadFixture(t, uploader, 0, freshNominee())
	fx.repo.addErr = repoErr{unavailable: true}

	started, err := fx.orchestrator.Start(context.Background(), pdfUpload("r1-2"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := waitAttempt(t, fx.orchestrator, started.ID)
	if done.Phase != UploadPhaseFailed {
		t.Fatalf("expected failed, got %s", done.Phase)
	}
	if done.Notice == nil || done.Notice.Code != workflow.NoticeUploadFailed {
		t.Fatalf("expected upload failed notice, got %+v", done.Notice)
	}
	if done.Record != nil || done.Slot.Status != domain.SlotStatusPending {
		t.Fatalf("expected reverted slot, got record=%+v slot=%+v", done.Record, done.Slot)
	}
	if refs := uploader.deletedRefs(); len(refs) != 1 || !strings.Contains(refs[0], "/r1-2/") {
		t.Fatalf("expected orphaned blob to be deleted, got %v", refs)
	}
	if !fx.logs.has("uploads.failed") {
		t.Fatalf("expected failure to be logged")
	}
}

func TestUploadOrchestratorTransportFailureNotice(t *testing.T) {
	uploader := &fakeUploader{err: errors.New("connection reset by peer")}
	fx := newUploadFixture(t, uploader, 0, freshNominee())

	started, err := fx.orchestrator.Start(context.Background(), pdfUpload("r1-0"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := waitAttempt(t, fx.orchestrator, started.ID)
	if done.Phase != UploadPhaseFailed || done.Progress != 0 {
		t.Fatalf("expected failed at 0, got %s at %d", done.Phase, done.Progress)
	}
	if done.Notice == nil || !strings.Contains(done.Notice.Message, "connection reset by peer") {
		t.Fatalf("expected transport detail in notice, got %+v", done.Notice)
	}
	if fx.repo.writeCount() != 0 {
		t.Fatalf("failed transfer must not write")
	}
}

func TestUploadOrchestratorDeficiencyCorrection(t *testing.T) {
	nominee := freshNominee()
	nominee.Round2Unlocked = true
	nominee.Round3Unlocked = true
	nominee.Documents = []domain.DocumentRecord{{
		Name:    "old.pdf",
		Type:    "application/pdf",
		URL:     "gs://docs/old.pdf",
		SlotID:  "r1-0",
		Verdict: domain.VerdictFail,
	}}
	fx := newUploadFixture(t, &fakeUploader{}, 0, nominee)

	started, err := fx.orchestrator.Start(context.Background(), pdfUpload("r1-0"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if started.Context != workflow.UploadContextResubmission {
		t.Fatalf("expected resubmission context, got %q", started.Context)
	}
	done := waitAttempt(t, fx.orchestrator, started.ID)
	if done.Phase != UploadPhaseSuccess {
		t.Fatalf("expected success, got %s", done.Phase)
	}
	stored := fx.repo.snapshot("nom-1")
	if len(stored.Documents) != 1 || stored.Documents[0].Name != "registration.pdf" {
		t.Fatalf("expected the corrected document to replace the old one, got %+v", stored.Documents)
	}
	if stored.Documents[0].Verdict != domain.VerdictNone {
		t.Fatalf("replacement must clear the verdict, got %q", stored.Documents[0].Verdict)
	}
}

func TestUploadOrchestratorAccessRules(t *testing.T) {
	fx := newUploadFixture(t, &fakeUploader{}, 0, freshNominee())

	evaluator := pdfUpload("r1-0")
	evaluator.Actor = Actor{UID: "uid-eval", Role: workflow.RoleEvaluator}
	if _, err := fx.orchestrator.Start(context.Background(), evaluator); !errors.Is(err, ErrUploadForbidden) {
		t.Fatalf("expected forbidden for evaluator, got %v", err)
	}

	stranger := pdfUpload("r1-0")
	stranger.Actor = Actor{UID: "uid-other", Role: workflow.RoleNominee}
	if _, err := fx.orchestrator.Start(context.Background(), stranger); !errors.Is(err, ErrUploadForbidden) {
		t.Fatalf("expected forbidden for another nominee, got %v", err)
	}

	badSlot := pdfUpload("stage-one")
	if _, err := fx.orchestrator.Start(context.Background(), badSlot); !errors.Is(err, ErrUploadInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}

	missing := pdfUpload("r1-9")
	if _, err := fx.orchestrator.Start(context.Background(), missing); !errors.Is(err, ErrUploadNotFound) {
		t.Fatalf("expected not found slot, got %v", err)
	}

	empty := pdfUpload("r1-0")
	empty.Body = nil
	if _, err := fx.orchestrator.Start(context.Background(), empty); !errors.Is(err, ErrUploadInvalidInput) {
		t.Fatalf("expected invalid input for empty body, got %v", err)
	}

	started, err := fx.orchestrator.Start(context.Background(), pdfUpload("r1-0"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := fx.orchestrator.Get(context.Background(), Actor{UID: "uid-other", Role: workflow.RoleNominee}, started.ID); !errors.Is(err, ErrUploadNotFound) {
		t.Fatalf("expected attempts of other users to be hidden, got %v", err)
	}
}

func TestUploadOrchestratorShutdownCancelsRunningAttempts(t *testing.T) {
	uploader := &fakeUploader{block: make(chan struct{}), entered: make(chan struct{})}
	fx := newUploadFixture(t, uploader, 0, freshNominee())

	started, err := fx.orchestrator.Start(context.Background(), pdfUpload("r1-0"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-uploader.entered

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fx.orchestrator.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	attempt, err := fx.orchestrator.Get(context.Background(), nomineeActor(), started.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if attempt.Phase != UploadPhaseCancelled {
		t.Fatalf("expected cancelled after shutdown, got %s", attempt.Phase)
	}
	if _, err := fx.orchestrator.Start(context.Background(), pdfUpload("r1-1")); !errors.Is(err, ErrUploadUnavailable) {
		t.Fatalf("expected unavailable after shutdown, got %v", err)
	}
}

func TestCancelTokenBindAfterCancel(t *testing.T) {
	var token CancelToken
	token.Cancel()
	called := false
	if token.Bind(func() { called = true }) {
		t.Fatalf("expected Bind to refuse a cancelled token")
	}
	if !called || !token.Cancelled() {
		t.Fatalf("expected bound cancel to run immediately")
	}
}
