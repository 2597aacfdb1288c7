package workflow

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
)

// ErrInvalidSlotID is returned when a slot identifier does not follow the r{stage}-{index} shape.
var ErrInvalidSlotID = errors.New("workflow: invalid slot id")

// SlotID builds the positional identifier of a slot.
func SlotID(stage domain.Stage, index int) string {
	return fmt.Sprintf("r%d-%d", stage, index)
}

// ParseSlotID splits a slot identifier into its stage and position.
func ParseSlotID(id string) (domain.Stage, int, error) {
	trimmed := strings.TrimSpace(id)
	if !strings.HasPrefix(trimmed, "r") {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidSlotID, id)
	}
	stagePart, indexPart, ok := strings.Cut(trimmed[1:], "-")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidSlotID, id)
	}
	stageValue, err := strconv.Atoi(stagePart)
	if err != nil || !domain.Stage(stageValue).Valid() {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidSlotID, id)
	}
	index, err := strconv.Atoi(indexPart)
	if err != nil || index < 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidSlotID, id)
	}
	return domain.Stage(stageValue), index, nil
}

// DeriveSlots builds one slot per requirement per stage and merges the matching document records.
// The result depends only on its inputs.
func DeriveSlots(catalog domain.RequirementCatalog, documents []domain.DocumentRecord) []domain.DocumentSlot {
	bySlot := make(map[string]domain.DocumentRecord, len(documents))
	for _, record := range documents {
		bySlot[record.SlotID] = record
	}

	var slots []domain.DocumentSlot
	for _, stage := range domain.Stages {
		for index, requirement := range catalog.ForStage(stage) {
			slot := domain.DocumentSlot{
				ID:            SlotID(stage, index),
				RequirementID: requirement.ID,
				Label:         requirement.Label,
				Category:      requirement.Category,
				Round:         stage,
				Status:        domain.SlotStatusPending,
			}
			if record, ok := bySlot[slot.ID]; ok {
				date := record.Date
				slot.Status = domain.SlotStatusUploaded
				slot.FileName = record.Name
				slot.LastUpdated = &date
				slot.PreviewURL = record.URL
				slot.MimeType = record.Type
				slot.Remarks = record.Remarks
				slot.Verdict = record.Verdict
			}
			slots = append(slots, slot)
		}
	}
	return slots
}

// FindSlot returns the slot with the given id.
func FindSlot(slots []domain.DocumentSlot, id string) (domain.DocumentSlot, bool) {
	for _, slot := range slots {
		if slot.ID == id {
			return slot, true
		}
	}
	return domain.DocumentSlot{}, false
}

// Progress is round(100 * uploaded / total) for the stage. A stage without requirements has zero progress.
func Progress(slots []domain.DocumentSlot, stage domain.Stage) int {
	total, uploaded := 0, 0
	for _, slot := range slots {
		if slot.Round != stage {
			continue
		}
		total++
		if slot.Status == domain.SlotStatusUploaded {
			uploaded++
		}
	}
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(uploaded) / float64(total)))
}

// UpsertDocument drops any record bound to the same slot and appends the new one.
// The input slice is not modified.
func UpsertDocument(documents []domain.DocumentRecord, record domain.DocumentRecord) []domain.DocumentRecord {
	out := make([]domain.DocumentRecord, 0, len(documents)+1)
	for _, existing := range documents {
		if existing.SlotID == record.SlotID {
			continue
		}
		out = append(out, existing)
	}
	return append(out, record)
}

// ApplyDocumentVerdict sets the verdict (and remarks when provided) of the record bound to slotID.
// It reports false when no record exists for the slot.
func ApplyDocumentVerdict(documents []domain.DocumentRecord, slotID string, verdict domain.Verdict, remarks *string) ([]domain.DocumentRecord, bool) {
	out := make([]domain.DocumentRecord, len(documents))
	copy(out, documents)
	for i := range out {
		if out[i].SlotID != slotID {
			continue
		}
		out[i].Verdict = verdict
		if remarks != nil {
			out[i].Remarks = *remarks
		}
		return out, true
	}
	return out, false
}
