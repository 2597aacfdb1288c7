// Package workflow holds the pure rules of the stage-gated submission workflow: requirement
// catalogs, slot derivation, stage gates, role capabilities, consents and file policies.
// Nothing in this package performs I/O.
package workflow

import "fmt"

// NoticeLevel classifies a user-facing notice.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice codes surfaced to clients.
const (
	NoticeStageNotReached         = "stage_not_reached"
	NoticeStage2Active            = "stage2_active"
	NoticeStageSuperseded         = "stage_superseded"
	NoticeNotFlaggedDeficiency    = "not_flagged_deficiency"
	NoticeFileTypeRejected        = "file_type_rejected"
	NoticeFileTooLarge            = "file_too_large"
	NoticeSubmissionIncomplete    = "submission_incomplete"
	NoticeConsentRequired         = "consent_required"
	NoticeUploadFailed            = "upload_failed"
	NoticeDeficiencyCorrection    = "deficiency_correction"
	NoticeStageSubmitted          = "stage_submitted"
	NoticeUploadCompleted         = "upload_completed"
	NoticeRequirementsUnavailable = "requirements_unavailable"
)

// Notice is a policy outcome shown to the user. Policy refusals are notices, not errors.
type Notice struct {
	Level   NoticeLevel
	Code    string
	Message string
}

func newNotice(level NoticeLevel, code, format string, args ...any) *Notice {
	return &Notice{Level: level, Code: code, Message: fmt.Sprintf(format, args...)}
}

// UploadFailedNotice wraps a transport failure detail for display.
func UploadFailedNotice(detail string) *Notice {
	if detail == "" {
		return newNotice(NoticeError, NoticeUploadFailed, "Upload failed. Please try again.")
	}
	return newNotice(NoticeError, NoticeUploadFailed, "Upload failed: %s", detail)
}
