package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
	pfirestore "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/firestore"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/pagination"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/repositories"
)

const auditLogCollection = "auditLogs"

// AuditLogRepository appends immutable audit entries.
type AuditLogRepository struct {
	coll *pfirestore.Collection[auditLogDocument]
}

var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)

// NewAuditLogRepository constructs a Firestore-backed audit log repository.
func NewAuditLogRepository(provider *pfirestore.Provider) (*AuditLogRepository, error) {
	if provider == nil {
		return nil, errors.New("audit log repository requires firestore provider")
	}
	return &AuditLogRepository{coll: pfirestore.NewCollection[auditLogDocument](provider, auditLogCollection)}, nil
}

// Append creates the entry under its id; ids are never reused.
func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	if entry.ID == "" {
		return errors.New("audit log entry id is required")
	}
	return r.coll.Create(ctx, entry.ID, auditLogDocument{
		Actor:     entry.Actor,
		ActorRole: entry.ActorRole,
		Action:    entry.Action,
		TargetRef: entry.TargetRef,
		Metadata:  entry.Metadata,
		Severity:  entry.Severity,
		RequestID: entry.RequestID,
		CreatedAt: entry.CreatedAt,
	})
}

// ListByTarget returns entries for one target, newest first.
func (r *AuditLogRepository) ListByTarget(ctx context.Context, targetRef string, page domain.Pagination) (domain.CursorPage[domain.AuditLogEntry], error) {
	scope := pagination.Scope("audit", targetRef)
	cursor, err := pagination.DecodeScopedToken(scope, page.PageToken)
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, err
	}
	size := pagination.Normalize(page.PageSize)

	docs, err := r.coll.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("targetRef", "==", targetRef).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if cursor.ID != "" {
			q = q.StartAfter(cursor.At, cursor.ID)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, err
	}

	result := domain.CursorPage[domain.AuditLogEntry]{}
	if len(docs) > size {
		docs = docs[:size]
		last := docs[len(docs)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{Scope: scope, At: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, err
		}
		result.NextPageToken = token
	}
	for _, doc := range docs {
		result.Items = append(result.Items, domain.AuditLogEntry{
			ID:        doc.ID,
			Actor:     doc.Actor,
			ActorRole: doc.ActorRole,
			Action:    doc.Action,
			TargetRef: doc.TargetRef,
			Metadata:  doc.Metadata,
			Severity:  doc.Severity,
			RequestID: doc.RequestID,
			CreatedAt: doc.CreatedAt,
		})
	}
	return result, nil
}

type auditLogDocument struct {
	ID        string         `firestore:"-"`
	Actor     string         `firestore:"actor"`
	ActorRole string         `firestore:"actorRole"`
	Action    string         `firestore:"action"`
	TargetRef string         `firestore:"targetRef"`
	Metadata  map[string]any `firestore:"metadata,omitempty"`
	Severity  string         `firestore:"severity"`
	RequestID string         `firestore:"requestId,omitempty"`
	CreatedAt time.Time      `firestore:"createdAt"`
}

func (d *auditLogDocument) SetID(id string) { d.ID = id }
