package workflow

import (
	"mime"
	"path/filepath"
	"strings"

	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
)

// UploadContext identifies the calling context of an upload; each context has its own file policy.
type UploadContext string

const (
	// UploadContextPortal is the regular portal upload dialog.
	UploadContextPortal UploadContext = "portal"
	// UploadContextResubmission is the deficiency-correction dialog.
	UploadContextResubmission UploadContext = "resubmission"
)

// ContextForGate selects the upload context implied by a gate state.
func ContextForGate(gate Gate) UploadContext {
	if gate.State == GateDeficiencyCorrectionOpen {
		return UploadContextResubmission
	}
	return UploadContextPortal
}

// FilePolicy lists the file types accepted for an upload.
type FilePolicy struct {
	Extensions   []string
	ContentTypes []string
	Label        string
}

var (
	pdfOnlyPolicy = FilePolicy{
		Extensions:   []string{".pdf"},
		ContentTypes: []string{"application/pdf"},
		Label:        "PDF only",
	}
	documentOrImagePolicy = FilePolicy{
		Extensions:   []string{".pdf", ".png", ".jpg", ".jpeg"},
		ContentTypes: []string{"application/pdf", "image/png", "image/jpeg"},
		Label:        "PDF, PNG or JPG only",
	}
)

// FilePolicyFor returns the policy of an upload context and stage. Resubmissions accept PDF only; the
// portal accepts PDF and images except on stage 3, which is PDF only.
func FilePolicyFor(uploadCtx UploadContext, stage domain.Stage) FilePolicy {
	if uploadCtx == UploadContextResubmission || stage == domain.Stage3 {
		return pdfOnlyPolicy
	}
	return documentOrImagePolicy
}

// Check validates a file name and declared content type. A nil notice means the file is accepted.
func (p FilePolicy) Check(fileName, contentType string) *Notice {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(fileName)))
	if !contains(p.Extensions, ext) {
		return p.rejection()
	}
	mediaType := strings.TrimSpace(contentType)
	if mediaType == "" || mediaType == "application/octet-stream" {
		return nil
	}
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}
	if !contains(p.ContentTypes, strings.ToLower(mediaType)) {
		return p.rejection()
	}
	return nil
}

// ContentTypeFor returns the canonical content type for an accepted file name.
func (p FilePolicy) ContentTypeFor(fileName string) string {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

func (p FilePolicy) rejection() *Notice {
	return newNotice(NoticeWarning, NoticeFileTypeRejected, "Unsupported file type. %s.", p.Label)
}

// ProgressRange is the sub-range the upload phase is displayed in.
type ProgressRange struct {
	Min int
	Max int
}

// ProgressRangeFor returns the display range of an upload context.
func ProgressRangeFor(uploadCtx UploadContext) ProgressRange {
	if uploadCtx == UploadContextResubmission {
		return ProgressRange{Min: 10, Max: 99}
	}
	return ProgressRange{Min: 5, Max: 95}
}

// Clamp bounds a transport percentage to the range.
func (r ProgressRange) Clamp(percent int) int {
	if percent < r.Min {
		return r.Min
	}
	if percent > r.Max {
		return r.Max
	}
	return percent
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
