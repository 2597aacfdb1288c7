package handlers

import (
	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/services"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/workflow"
)

type noticePayload struct {
	Level   string `json:"level"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newNoticePayload(notice *workflow.Notice) *noticePayload {
	if notice == nil {
		return nil
	}
	return &noticePayload{Level: string(notice.Level), Code: notice.Code, Message: notice.Message}
}

type gatePayload struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

type slotPayload struct {
	ID            string         `json:"id"`
	RequirementID string         `json:"requirementId,omitempty"`
	Label         string         `json:"label"`
	Category      string         `json:"category,omitempty"`
	Round         int            `json:"round"`
	Status        string         `json:"status"`
	FileName      string         `json:"fileName,omitempty"`
	LastUpdated   string         `json:"lastUpdated,omitempty"`
	PreviewURL    string         `json:"previewUrl,omitempty"`
	MimeType      string         `json:"mimeType,omitempty"`
	Remarks       string         `json:"remarks,omitempty"`
	Verdict       string         `json:"verdict,omitempty"`
	Gate          *gatePayload   `json:"gate,omitempty"`
	Notice        *noticePayload `json:"notice,omitempty"`
}

func newSlotPayload(slot domain.DocumentSlot) slotPayload {
	return slotPayload{
		ID:            slot.ID,
		RequirementID: slot.RequirementID,
		Label:         slot.Label,
		Category:      slot.Category,
		Round:         int(slot.Round),
		Status:        string(slot.Status),
		FileName:      slot.FileName,
		LastUpdated:   formatTimePtr(slot.LastUpdated),
		PreviewURL:    slot.PreviewURL,
		MimeType:      slot.MimeType,
		Remarks:       slot.Remarks,
		Verdict:       string(slot.Verdict),
	}
}

func newGatedSlotPayload(view workflow.SlotView) slotPayload {
	payload := newSlotPayload(view.Slot)
	payload.Gate = &gatePayload{State: string(view.Gate.State), Reason: string(view.Gate.Reason)}
	payload.Notice = newNoticePayload(view.Gate.Notice)
	return payload
}

type stagePayload struct {
	Stage        int    `json:"stage"`
	Unlocked     bool   `json:"unlocked"`
	Progress     int    `json:"progress"`
	MinProgress  int    `json:"minProgress"`
	SubmittedAt  string `json:"submittedAt,omitempty"`
	SubmittedBy  string `json:"submittedBy,omitempty"`
	Verdict      string `json:"verdict,omitempty"`
	RegionalPass bool   `json:"regionalPass,omitempty"`
}

type nomineePayload struct {
	ID             string `json:"id"`
	DisplayName    string `json:"displayName,omitempty"`
	Category       string `json:"category"`
	Region         string `json:"region,omitempty"`
	Status         string `json:"status"`
	Round2Unlocked bool   `json:"round2Unlocked"`
	Round3Unlocked bool   `json:"round3Unlocked"`
	Activated      bool   `json:"activated"`
	ActivatedAt    string `json:"activatedAt,omitempty"`
	UpdatedAt      string `json:"updatedAt,omitempty"`
}

func newNomineePayload(nominee domain.Nominee) nomineePayload {
	return nomineePayload{
		ID:             nominee.ID,
		DisplayName:    nominee.DisplayName,
		Category:       string(nominee.Category),
		Region:         nominee.Region,
		Status:         string(nominee.Status),
		Round2Unlocked: nominee.Round2Unlocked,
		Round3Unlocked: nominee.Round3Unlocked,
		Activated:      nominee.OwnerUID != "",
		ActivatedAt:    formatTimePtr(nominee.ActivatedAt),
		UpdatedAt:      formatTime(nominee.UpdatedAt),
	}
}

type viewPayload struct {
	Nominee       nomineePayload `json:"nominee"`
	Category      string         `json:"category"`
	CatalogSource string         `json:"catalogSource"`
	Notice        *noticePayload `json:"notice,omitempty"`
	Slots         []slotPayload  `json:"slots"`
	Stages        []stagePayload `json:"stages"`
}

func newViewPayload(view services.PortalView) viewPayload {
	payload := viewPayload{
		Nominee:       newNomineePayload(view.Nominee),
		Category:      string(view.Category),
		CatalogSource: string(view.CatalogSource),
		Notice:        newNoticePayload(view.Notice),
		Slots:         make([]slotPayload, 0, len(view.Slots)),
		Stages:        make([]stagePayload, 0, len(view.Stages)),
	}
	for _, slot := range view.Slots {
		payload.Slots = append(payload.Slots, newGatedSlotPayload(slot))
	}
	for _, stage := range view.Stages {
		item := stagePayload{
			Stage:        int(stage.Stage),
			Unlocked:     stage.Unlocked,
			Progress:     stage.Progress,
			MinProgress:  stage.MinProgress,
			Verdict:      string(stage.Verdict),
			RegionalPass: stage.RegionalPass,
		}
		if stage.Submitted != nil {
			item.SubmittedAt = formatTime(stage.Submitted.SubmittedAt)
			item.SubmittedBy = stage.Submitted.SubmittedBy
		}
		payload.Stages = append(payload.Stages, item)
	}
	return payload
}

type filePolicyPayload struct {
	Extensions []string `json:"extensions"`
	Label      string   `json:"label"`
}

type uploadDialogPayload struct {
	Open       bool               `json:"open"`
	Slot       slotPayload        `json:"slot"`
	Context    string             `json:"context,omitempty"`
	FilePolicy *filePolicyPayload `json:"filePolicy,omitempty"`
	Notice     *noticePayload     `json:"notice,omitempty"`
}

func newUploadDialogPayload(dialog services.UploadDialog) uploadDialogPayload {
	payload := uploadDialogPayload{
		Open:   dialog.Open,
		Slot:   newGatedSlotPayload(workflow.SlotView{Slot: dialog.Slot, Gate: dialog.Gate}),
		Notice: newNoticePayload(dialog.Notice),
	}
	if dialog.Open {
		payload.Context = string(dialog.Context)
		payload.FilePolicy = &filePolicyPayload{Extensions: dialog.FilePolicy.Extensions, Label: dialog.FilePolicy.Label}
	}
	return payload
}

type uploadAttemptPayload struct {
	ID        string         `json:"id,omitempty"`
	NomineeID string         `json:"nomineeId"`
	SlotID    string         `json:"slotId"`
	FileName  string         `json:"fileName,omitempty"`
	Context   string         `json:"context,omitempty"`
	Phase     string         `json:"phase"`
	Progress  int            `json:"progress"`
	Notice    *noticePayload `json:"notice,omitempty"`
	Slot      slotPayload    `json:"slot"`
	StartedAt string         `json:"startedAt,omitempty"`
	UpdatedAt string         `json:"updatedAt,omitempty"`
}

func newUploadAttemptPayload(attempt services.UploadAttempt) uploadAttemptPayload {
	return uploadAttemptPayload{
		ID:        attempt.ID,
		NomineeID: attempt.NomineeID,
		SlotID:    attempt.SlotID,
		FileName:  attempt.FileName,
		Context:   string(attempt.Context),
		Phase:     string(attempt.Phase),
		Progress:  attempt.Progress,
		Notice:    newNoticePayload(attempt.Notice),
		Slot:      newSlotPayload(attempt.Slot),
		StartedAt: formatTime(attempt.StartedAt),
		UpdatedAt: formatTime(attempt.UpdatedAt),
	}
}

type auditEntryPayload struct {
	ID        string         `json:"id"`
	Actor     string         `json:"actor"`
	ActorRole string         `json:"actorRole,omitempty"`
	Action    string         `json:"action"`
	Severity  string         `json:"severity"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	CreatedAt string         `json:"createdAt"`
}

func newAuditEntryPayload(entry domain.AuditLogEntry) auditEntryPayload {
	return auditEntryPayload{
		ID:        entry.ID,
		Actor:     entry.Actor,
		ActorRole: entry.ActorRole,
		Action:    entry.Action,
		Severity:  entry.Severity,
		Metadata:  entry.Metadata,
		RequestID: entry.RequestID,
		CreatedAt: formatTime(entry.CreatedAt),
	}
}

type requirementPayload struct {
	ID       string `json:"id,omitempty"`
	Category string `json:"category,omitempty"`
	Label    string `json:"label"`
}

type catalogPayload struct {
	Stage1 []requirementPayload `json:"stage1"`
	Stage2 []requirementPayload `json:"stage2"`
	Stage3 []requirementPayload `json:"stage3"`
}

func newCatalogPayload(catalog domain.RequirementCatalog) catalogPayload {
	convert := func(items []domain.Requirement) []requirementPayload {
		out := make([]requirementPayload, 0, len(items))
		for _, item := range items {
			out = append(out, requirementPayload{ID: item.ID, Category: item.Category, Label: item.Label})
		}
		return out
	}
	return catalogPayload{
		Stage1: convert(catalog.Stage1),
		Stage2: convert(catalog.Stage2),
		Stage3: convert(catalog.Stage3),
	}
}

func (p catalogPayload) toDomain() domain.RequirementCatalog {
	convert := func(items []requirementPayload) []domain.Requirement {
		out := make([]domain.Requirement, 0, len(items))
		for _, item := range items {
			out = append(out, domain.Requirement{ID: item.ID, Category: item.Category, Label: item.Label})
		}
		return out
	}
	return domain.RequirementCatalog{
		Stage1: convert(p.Stage1),
		Stage2: convert(p.Stage2),
		Stage3: convert(p.Stage3),
	}
}
