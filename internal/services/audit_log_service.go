package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/repositories"
)

const (
	severityInfo  = "info"
	severityWarn  = "warn"
	severityError = "error"

	maxAuditMetadataKeys = 32
	redactedValue        = "[redacted]"
)

// ErrAuditInvalidInput is returned when a listing request is malformed.
var ErrAuditInvalidInput = errors.New("audit: invalid input")

// Metadata keys containing one of these fragments never reach the audit store.
var sensitiveMetadataKeys = []string{"registrationcode", "token", "password", "secret", "signedurl"}

type auditLogService struct {
	repo   repositories.AuditLogRepository
	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// AuditLogServiceDeps bundles constructor inputs for the audit writer service.
type AuditLogServiceDeps struct {
	Repository repositories.AuditLogRepository
	Clock      func() time.Time
	IDGen      func() string
	Logger     func(context.Context, string, map[string]any)
}

// NewAuditLogService creates the audit trail writer.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("audit log service: repository is required")
	}
	svc := &auditLogService{
		repo:   deps.Repository,
		clock:  time.Now,
		newID:  func() string { return ulid.Make().String() },
		logger: func(context.Context, string, map[string]any) {},
	}
	if deps.Clock != nil {
		svc.clock = deps.Clock
	}
	if deps.IDGen != nil {
		svc.newID = deps.IDGen
	}
	if deps.Logger != nil {
		svc.logger = deps.Logger
	}
	return svc, nil
}

// Record appends an audit entry. The workflow change it describes is already committed, so a
// failed append is logged rather than returned.
func (s *auditLogService) Record(ctx context.Context, record AuditLogRecord) {
	entry := s.entryFor(record)
	fields := map[string]any{"action": entry.Action, "target": entry.TargetRef}
	if entry.Action == "" || entry.TargetRef == "" {
		s.logger(ctx, "audit.record.skipped", fields)
		return
	}
	if err := s.repo.Append(ctx, entry); err != nil {
		fields["error"] = err.Error()
		s.logger(ctx, "audit.record.failed", fields)
	}
}

// List returns the audit trail of one target, newest first.
func (s *auditLogService) List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error) {
	target := sanitizeText(filter.TargetRef, 200)
	if target == "" {
		return domain.CursorPage[AuditLogEntry]{}, fmt.Errorf("%w: target is required", ErrAuditInvalidInput)
	}
	return s.repo.ListByTarget(ctx, target, filter.Pagination)
}

func (s *auditLogService) entryFor(record AuditLogRecord) domain.AuditLogEntry {
	at := record.OccurredAt
	if at.IsZero() {
		at = s.clock()
	}
	metadata := cleanMetadata(record.Metadata)
	action := sanitizeText(record.Action, 120)
	return domain.AuditLogEntry{
		ID:        s.newID(),
		Actor:     sanitizeText(record.Actor, 160),
		ActorRole: strings.ToLower(sanitizeText(record.ActorRole, 40)),
		Action:    action,
		TargetRef: sanitizeText(record.TargetRef, 200),
		Severity:  severityOf(record.Severity, action, metadata),
		RequestID: sanitizeText(record.RequestID, 128),
		Metadata:  metadata,
		CreatedAt: at.UTC(),
	}
}

// severityOf honours an explicit severity. Otherwise failing verdicts, relocked stages and catalog
// replacements are raised to warn so reviewers can filter for them.
func severityOf(explicit, action string, metadata map[string]any) string {
	switch strings.ToLower(strings.TrimSpace(explicit)) {
	case "warn", "warning":
		return severityWarn
	case "error":
		return severityError
	case "info":
		return severityInfo
	}
	value, _ := metadata["value"].(string)
	value = strings.ToLower(value)
	switch action {
	case string(EventDocumentVerdict), string(EventStageVerdict):
		if value == strings.ToLower(string(domain.VerdictFail)) {
			return severityWarn
		}
	case string(EventStageUnlocked):
		if value == "false" {
			return severityWarn
		}
	case requirementsReplaceAction:
		return severityWarn
	}
	return severityInfo
}

func cleanMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]any, min(len(metadata), maxAuditMetadataKeys))
	for key, value := range metadata {
		if len(out) == maxAuditMetadataKeys {
			break
		}
		key = sanitizeText(key, 80)
		if key == "" || value == nil {
			continue
		}
		if isSensitiveKey(key) {
			out[key] = redactedValue
			continue
		}
		switch v := value.(type) {
		case string:
			out[key] = sanitizeText(v, 512)
		case fmt.Stringer:
			out[key] = sanitizeText(v.String(), 512)
		default:
			out[key] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveMetadataKeys {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// sanitizeText trims input, drops control characters other than tab and caps the byte length.
func sanitizeText(input string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	input = strings.TrimSpace(input)
	var b strings.Builder
	for _, r := range input {
		if r < 32 && r != '\t' {
			continue
		}
		if b.Len()+len(string(r)) > limit {
			break
		}
		b.WriteRune(r)
	}
	return b.String()
}

// nomineeTarget is the audit target reference of a nominee.
func nomineeTarget(nomineeID string) string {
	return "/nominees/" + strings.TrimSpace(nomineeID)
}
