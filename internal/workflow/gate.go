package workflow

import (
	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
)

// GateState is the upload state of a single slot.
type GateState string

const (
	GateLockedNotYetReached      GateState = "LOCKED_NOT_YET_REACHED"
	GateOpenForUpload            GateState = "OPEN_FOR_UPLOAD"
	GateLockedAwaitingReview     GateState = "LOCKED_AWAITING_REVIEW"
	GateDeficiencyCorrectionOpen GateState = "DEFICIENCY_CORRECTION_OPEN"
)

// Open reports whether uploads are accepted in this state.
func (s GateState) Open() bool {
	return s == GateOpenForUpload || s == GateDeficiencyCorrectionOpen
}

// LockReason explains why a slot refuses uploads.
type LockReason string

const (
	LockReasonNone                 LockReason = ""
	LockReasonNotReached           LockReason = "not_reached"
	LockReasonStage2Active         LockReason = "stage2_active"
	LockReasonSuperseded           LockReason = "superseded"
	LockReasonNotFlaggedDeficiency LockReason = "not_flagged_deficiency"
)

// GateInput is everything the gate needs to know about one slot.
type GateInput struct {
	Stage          domain.Stage
	Uploaded       bool
	Verdict        domain.Verdict
	Round2Unlocked bool
	Round3Unlocked bool
}

// Gate is the evaluated state of a slot. Notice is set whenever the slot is locked.
type Gate struct {
	State  GateState
	Reason LockReason
	Notice *Notice
}

// GateInputFor assembles the gate input of a derived slot.
func GateInputFor(nominee domain.Nominee, slot domain.DocumentSlot) GateInput {
	return GateInput{
		Stage:          slot.Round,
		Uploaded:       slot.Status == domain.SlotStatusUploaded,
		Verdict:        slot.Verdict,
		Round2Unlocked: nominee.Round2Unlocked,
		Round3Unlocked: nominee.Round3Unlocked,
	}
}

// EvaluateGate returns exactly one state for every input.
//
// Stage 1 is always reachable; an uploaded stage-1 document freezes once stage 2 opens. Stage 2 needs
// round2Unlocked and freezes entirely once stage 3 opens. Stage 3 needs round3Unlocked. While stage 3
// is open, a stage-1 or stage-2 document whose verdict is fail reopens for correction.
func EvaluateGate(in GateInput) Gate {
	switch in.Stage {
	case domain.Stage1:
		if !in.Uploaded || !in.Round2Unlocked {
			return open()
		}
		if in.Round3Unlocked {
			return frozenByStage3(in)
		}
		return locked(GateLockedAwaitingReview, LockReasonStage2Active, in.Stage)
	case domain.Stage2:
		if !in.Round2Unlocked {
			return locked(GateLockedNotYetReached, LockReasonNotReached, in.Stage)
		}
		if in.Round3Unlocked {
			return frozenByStage3(in)
		}
		return open()
	case domain.Stage3:
		if !in.Round3Unlocked {
			return locked(GateLockedNotYetReached, LockReasonNotReached, in.Stage)
		}
		return open()
	default:
		return locked(GateLockedNotYetReached, LockReasonNotReached, in.Stage)
	}
}

func frozenByStage3(in GateInput) Gate {
	switch in.Verdict {
	case domain.VerdictFail:
		return Gate{State: GateDeficiencyCorrectionOpen}
	case domain.VerdictPass:
		return locked(GateLockedAwaitingReview, LockReasonNotFlaggedDeficiency, in.Stage)
	default:
		return locked(GateLockedAwaitingReview, LockReasonSuperseded, in.Stage)
	}
}

func open() Gate {
	return Gate{State: GateOpenForUpload}
}

func locked(state GateState, reason LockReason, stage domain.Stage) Gate {
	return Gate{State: state, Reason: reason, Notice: lockNotice(reason, stage)}
}

func lockNotice(reason LockReason, stage domain.Stage) *Notice {
	switch reason {
	case LockReasonNotReached:
		return newNotice(NoticeInfo, NoticeStageNotReached,
			"Stage %d has not been reached yet. It opens once the evaluators unlock it.", stage)
	case LockReasonStage2Active:
		return newNotice(NoticeInfo, NoticeStage2Active,
			"Locked: stage 2 is active. Stage 1 documents are frozen while they are under review.")
	case LockReasonSuperseded:
		return newNotice(NoticeInfo, NoticeStageSuperseded,
			"Locked: stage %d has been superseded by stage 3.", stage)
	case LockReasonNotFlaggedDeficiency:
		return newNotice(NoticeInfo, NoticeNotFlaggedDeficiency,
			"Locked: only documents flagged as deficient can be replaced during stage 3.")
	default:
		return nil
	}
}

// OpenUploadNotice is shown when a deficiency correction is opened.
func OpenUploadNotice(gate Gate) *Notice {
	if gate.State != GateDeficiencyCorrectionOpen {
		return nil
	}
	return newNotice(NoticeInfo, NoticeDeficiencyCorrection,
		"This document was marked deficient. Upload a corrected PDF to replace it.")
}
