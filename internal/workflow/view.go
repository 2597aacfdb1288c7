package workflow

import (
	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
)

// SlotView pairs a derived slot with its gate.
type SlotView struct {
	Slot domain.DocumentSlot
	Gate Gate
}

// StageSummary describes one stage as seen by the acting role.
type StageSummary struct {
	Stage        domain.Stage
	Unlocked     bool
	Progress     int
	MinProgress  int
	Submitted    *domain.StageSubmission
	Verdict      domain.StageVerdict
	RegionalPass bool
}

// View is the complete render state of a nominee for one role.
type View struct {
	Nominee  domain.Nominee
	Category domain.Category
	Slots    []SlotView
	Stages   []StageSummary
}

// BuildView derives slots, gates and stage summaries, hiding the stages the role may not see.
func BuildView(nominee domain.Nominee, category domain.Category, catalog domain.RequirementCatalog, role Role, policy SubmissionPolicy) View {
	slots := DeriveSlots(catalog, nominee.Documents)

	view := View{Nominee: nominee, Category: category}
	for _, slot := range slots {
		if !CanViewStage(role, slot.Round) {
			continue
		}
		view.Slots = append(view.Slots, SlotView{
			Slot: slot,
			Gate: EvaluateGate(GateInputFor(nominee, slot)),
		})
	}

	for _, stage := range domain.Stages {
		if !CanViewStage(role, stage) {
			continue
		}
		summary := StageSummary{
			Stage:       stage,
			Unlocked:    nominee.StageUnlocked(stage),
			Progress:    Progress(slots, stage),
			MinProgress: policy.MinProgressFor(stage),
			Verdict:     nominee.StageVerdicts[stage],
		}
		if submission, ok := nominee.StageSubmissions[stage]; ok {
			submission := submission
			summary.Submitted = &submission
		}
		if stage == domain.Stage1 {
			summary.RegionalPass = nominee.RegionalPass != nil
		}
		view.Stages = append(view.Stages, summary)
	}
	return view
}
