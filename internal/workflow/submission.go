package workflow

import (
	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
)

// DefaultMinProgress is the lenient threshold: at least one document uploaded.
const DefaultMinProgress = 1

// SubmissionPolicy holds the minimum progress per stage required to submit it.
type SubmissionPolicy struct {
	MinProgress map[domain.Stage]int
}

// MinProgressFor returns the threshold of a stage, clamped to [1,100].
func (p SubmissionPolicy) MinProgressFor(stage domain.Stage) int {
	value, ok := p.MinProgress[stage]
	if !ok || value < DefaultMinProgress {
		return DefaultMinProgress
	}
	if value > 100 {
		return 100
	}
	return value
}

// SubmissionInput describes a submission attempt.
type SubmissionInput struct {
	Stage    domain.Stage
	Unlocked bool
	Progress int
	Consent  Consent
}

// CheckSubmission returns a notice when the submission must be refused. It never touches unlock flags:
// opening the next stage is a separate staff action.
func CheckSubmission(in SubmissionInput, policy SubmissionPolicy) *Notice {
	if !in.Unlocked {
		return lockNotice(LockReasonNotReached, in.Stage)
	}
	if minimum := policy.MinProgressFor(in.Stage); in.Progress < minimum {
		if minimum >= 100 {
			return newNotice(NoticeWarning, NoticeSubmissionIncomplete,
				"Upload every stage %d document before submitting.", in.Stage)
		}
		return newNotice(NoticeWarning, NoticeSubmissionIncomplete,
			"Upload at least one stage %d document before submitting.", in.Stage)
	}
	if !in.Consent.Complete() {
		return newNotice(NoticeWarning, NoticeConsentRequired,
			"Accept the data privacy notice and confirm your authority to submit.")
	}
	return nil
}

// SubmittedNotice confirms a stage submission.
func SubmittedNotice(stage domain.Stage) *Notice {
	return newNotice(NoticeInfo, NoticeStageSubmitted,
		"Stage %d documents submitted. The evaluators will review them.", stage)
}
