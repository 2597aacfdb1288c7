package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/requestctx"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/repositories"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/workflow"
)

type eventLogger func(context.Context, string, map[string]any)

func noopEventLogger(context.Context, string, map[string]any) {}

// workflowEmitter appends the audit entry and publishes the event that follow every persisted
// workflow mutation. Neither failure is returned: the mutation has already been committed.
type workflowEmitter struct {
	audit     AuditLogService
	publisher WorkflowEventPublisher
	clock     func() time.Time
	newID     func() string
	logger    eventLogger
}

func newWorkflowEmitter(audit AuditLogService, publisher WorkflowEventPublisher, clock func() time.Time, logger eventLogger) workflowEmitter {
	return workflowEmitter{
		audit:     audit,
		publisher: publisher,
		clock:     clock,
		newID:     func() string { return ulid.Make().String() },
		logger:    logger,
	}
}

func (e workflowEmitter) emit(ctx context.Context, actor Actor, event WorkflowEvent, metadata map[string]any) {
	event.EventID = e.newID()
	event.ActorUID = actor.UID
	event.ActorRole = actor.Role
	event.OccurredAt = e.clock()

	if e.audit != nil {
		meta := map[string]any{"eventId": event.EventID}
		if event.Stage > 0 {
			meta["stage"] = int(event.Stage)
		}
		if event.SlotID != "" {
			meta["slotId"] = event.SlotID
		}
		if event.Value != "" {
			meta["value"] = event.Value
		}
		for key, value := range metadata {
			meta[key] = value
		}
		e.audit.Record(ctx, AuditLogRecord{
			Actor:      actor.UID,
			ActorRole:  string(actor.Role),
			Action:     string(event.Type),
			TargetRef:  nomineeTarget(event.NomineeID),
			RequestID:  requestctx.TraceID(ctx),
			OccurredAt: event.OccurredAt,
			Metadata:   meta,
		})
	}

	if e.publisher == nil {
		return
	}
	if _, err := e.publisher.PublishWorkflowEvent(ctx, event); err != nil {
		e.logger(ctx, "workflow.publish.failed", map[string]any{
			"type":      string(event.Type),
			"nomineeId": event.NomineeID,
			"error":     err.Error(),
		})
	}
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// translateRepoError maps repository failures onto the sentinels of the calling service.
func translateRepoError(err error, notFound, conflict, unavailable error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", conflict, err)
		}
	}
	return fmt.Errorf("%w: %v", unavailable, err)
}

// resolvePreviews swaps stored gs:// references for browser URLs. A failed resolution leaves the
// slot without a preview rather than failing the view.
func resolvePreviews(ctx context.Context, resolver FileURLResolver, view *workflow.View, logger eventLogger) {
	if resolver == nil {
		return
	}
	for i := range view.Slots {
		slot := &view.Slots[i].Slot
		if slot.Status != domain.SlotStatusUploaded || slot.PreviewURL == "" {
			continue
		}
		url, err := resolver.ResolveFileURL(ctx, slot.PreviewURL)
		if err != nil {
			logger(ctx, "documents.preview.failed", map[string]any{"slotId": slot.ID, "error": err.Error()})
			slot.PreviewURL = ""
			continue
		}
		slot.PreviewURL = url
	}
}
