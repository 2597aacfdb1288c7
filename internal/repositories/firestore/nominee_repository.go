package firestore

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
	pfirestore "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/firestore"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/pagination"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/repositories"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/workflow"
)

const nomineeCollection = "nominees"

// NomineeRepository stores nominee aggregates in the nominees collection. Mutations run in
// transactions so the forward-only status rule is applied against the stored value.
type NomineeRepository struct {
	provider *pfirestore.Provider
	coll     *pfirestore.Collection[nomineeDocument]
	now      func() time.Time
}

var _ repositories.NomineeRepository = (*NomineeRepository)(nil)

// NewNomineeRepository constructs a Firestore-backed nominee repository.
func NewNomineeRepository(provider *pfirestore.Provider) (*NomineeRepository, error) {
	if provider == nil {
		return nil, errors.New("nominee repository requires firestore provider")
	}
	return &NomineeRepository{
		provider: provider,
		coll:     pfirestore.NewCollection[nomineeDocument](provider, nomineeCollection),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Get loads one nominee.
func (r *NomineeRepository) Get(ctx context.Context, nomineeID string) (domain.Nominee, error) {
	doc, err := r.coll.Get(ctx, nomineeID)
	if err != nil {
		return domain.Nominee{}, err
	}
	return doc.toDomain(), nil
}

// FindByRegistrationCode looks a nominee up by the invitation code printed on the nomination letter.
func (r *NomineeRepository) FindByRegistrationCode(ctx context.Context, code string) (domain.Nominee, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Nominee{}, pfirestore.NotFound("nominees.by_code", "nominee")
	}
	docs, err := r.coll.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("registrationCode", "==", code).Limit(1)
	})
	if err != nil {
		return domain.Nominee{}, err
	}
	if len(docs) == 0 {
		return domain.Nominee{}, pfirestore.NotFound("nominees.by_code", "nominee")
	}
	return docs[0].toDomain(), nil
}

// List returns the evaluator queue ordered by most recent activity.
func (r *NomineeRepository) List(ctx context.Context, filter domain.NomineeFilter) (domain.CursorPage[domain.Nominee], error) {
	scope := nomineeListScope(filter)
	cursor, err := pagination.DecodeScopedToken(scope, filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Nominee]{}, err
	}
	size := pagination.Normalize(filter.Pagination.PageSize)

	docs, err := r.coll.Query(ctx, func(q firestore.Query) firestore.Query {
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, status := range filter.Status {
				statuses = append(statuses, string(status))
			}
			q = q.Where("status", "in", statuses)
		}
		if filter.Category != "" {
			q = q.Where("category", "==", string(filter.Category))
		}
		q = q.OrderBy("updatedAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if cursor.ID != "" {
			q = q.StartAfter(cursor.At, cursor.ID)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Nominee]{}, err
	}

	page := domain.CursorPage[domain.Nominee]{}
	if len(docs) > size {
		docs = docs[:size]
		last := docs[len(docs)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{Scope: scope, At: last.UpdatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Nominee]{}, err
		}
		page.NextPageToken = token
	}
	for _, doc := range docs {
		page.Items = append(page.Items, doc.toDomain())
	}
	return page, nil
}

// AddDocument upserts the record of its slot.
func (r *NomineeRepository) AddDocument(ctx context.Context, nomineeID string, record domain.DocumentRecord, status domain.NomineeStatus) ([]domain.DocumentRecord, error) {
	var stored []domain.DocumentRecord
	err := r.mutate(ctx, nomineeID, status, func(doc *nomineeDocument) ([]firestore.Update, error) {
		stored = workflow.UpsertDocument(doc.documents(), record)
		return []firestore.Update{{Path: "documents", Value: fromDomainDocuments(stored)}}, nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// UpdateDocumentEvaluation records a per-document verdict.
func (r *NomineeRepository) UpdateDocumentEvaluation(ctx context.Context, nomineeID, slotID string, verdict domain.Verdict, remarks *string, status domain.NomineeStatus) error {
	return r.mutate(ctx, nomineeID, status, func(doc *nomineeDocument) ([]firestore.Update, error) {
		updated, found := workflow.ApplyDocumentVerdict(doc.documents(), slotID, verdict, remarks)
		if !found {
			return nil, pfirestore.NotFound("nominees.document_evaluation", "document for slot "+slotID)
		}
		return []firestore.Update{{Path: "documents", Value: fromDomainDocuments(updated)}}, nil
	})
}

// UpdateStageVerdict records the overall verdict of a stage.
func (r *NomineeRepository) UpdateStageVerdict(ctx context.Context, nomineeID string, stage domain.Stage, verdict domain.StageVerdict, status domain.NomineeStatus) error {
	return r.mutate(ctx, nomineeID, status, func(*nomineeDocument) ([]firestore.Update, error) {
		return []firestore.Update{{FieldPath: firestore.FieldPath{"stageVerdicts", stageKey(stage)}, Value: string(verdict)}}, nil
	})
}

// SetStageUnlock toggles round2Unlocked or round3Unlocked.
func (r *NomineeRepository) SetStageUnlock(ctx context.Context, nomineeID string, stage domain.Stage, unlocked bool) error {
	field := "round2Unlocked"
	if stage == domain.Stage3 {
		field = "round3Unlocked"
	}
	return r.mutate(ctx, nomineeID, "", func(*nomineeDocument) ([]firestore.Update, error) {
		return []firestore.Update{{Path: field, Value: unlocked}}, nil
	})
}

// RecordSubmission stores the submission marker of a stage.
func (r *NomineeRepository) RecordSubmission(ctx context.Context, nomineeID string, stage domain.Stage, submission domain.StageSubmission, status domain.NomineeStatus) error {
	return r.mutate(ctx, nomineeID, status, func(*nomineeDocument) ([]firestore.Update, error) {
		return []firestore.Update{{
			FieldPath: firestore.FieldPath{"stageSubmissions", stageKey(stage)},
			Value: stageSubmissionDocument{
				SubmittedAt: submission.SubmittedAt,
				SubmittedBy: submission.SubmittedBy,
				Progress:    submission.Progress,
			},
		}}, nil
	})
}

// SetRegionalPass marks stage 1 as regionally passed.
func (r *NomineeRepository) SetRegionalPass(ctx context.Context, nomineeID string, pass domain.RegionalPass) error {
	return r.mutate(ctx, nomineeID, "", func(*nomineeDocument) ([]firestore.Update, error) {
		return []firestore.Update{{Path: "regionalPass", Value: regionalPassDocument{MarkedBy: pass.MarkedBy, MarkedAt: pass.MarkedAt}}}, nil
	})
}

// BindOwner links the nominee to the Firebase account that activated it.
func (r *NomineeRepository) BindOwner(ctx context.Context, nomineeID, uid string, activatedAt time.Time) (domain.Nominee, error) {
	var bound nomineeDocument
	err := r.mutate(ctx, nomineeID, "", func(doc *nomineeDocument) ([]firestore.Update, error) {
		if doc.OwnerUID != "" && doc.OwnerUID != uid {
			return nil, pfirestore.Conflict("nominees.bind_owner", "registration code already activated by another account")
		}
		bound = *doc
		if doc.OwnerUID == uid {
			return nil, nil
		}
		bound.OwnerUID = uid
		bound.ActivatedAt = &activatedAt
		return []firestore.Update{
			{Path: "ownerUid", Value: uid},
			{Path: "activatedAt", Value: activatedAt},
		}, nil
	})
	if err != nil {
		return domain.Nominee{}, err
	}
	bound.ID = nomineeID
	return bound.toDomain(), nil
}

// mutate reads the nominee inside a transaction, lets fn compute field updates, and applies them
// together with the advanced status and updatedAt. fn returning no updates skips the write.
func (r *NomineeRepository) mutate(ctx context.Context, nomineeID string, status domain.NomineeStatus, fn func(*nomineeDocument) ([]firestore.Update, error)) error {
	ref, err := r.coll.Doc(ctx, nomineeID)
	if err != nil {
		return err
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError("nominees.mutate", err)
		}
		doc, err := pfirestore.Decode[nomineeDocument](snap)
		if err != nil {
			return err
		}
		updates, err := fn(&doc)
		if err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		if status != "" {
			next := workflow.AdvanceStatus(domain.NomineeStatus(doc.Status), status)
			if string(next) != doc.Status {
				updates = append(updates, firestore.Update{Path: "status", Value: string(next)})
			}
		}
		updates = append(updates, firestore.Update{Path: "updatedAt", Value: r.now()})
		return tx.Update(ref, updates)
	})
}

func stageKey(stage domain.Stage) string {
	return strconv.Itoa(int(stage))
}

func nomineeListScope(filter domain.NomineeFilter) string {
	parts := []string{"nominees", string(filter.Category)}
	for _, status := range filter.Status {
		parts = append(parts, string(status))
	}
	return pagination.Scope(parts...)
}
