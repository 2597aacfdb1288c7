package services

import (
	"context"
	"sync"
	"time"

	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/workflow"
)

type repoErr struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e repoErr) Error() string       { return "repository error" }
func (e repoErr) IsNotFound() bool    { return e.notFound }
func (e repoErr) IsConflict() bool    { return e.conflict }
func (e repoErr) IsUnavailable() bool { return e.unavailable }

type stubRequirementRepo struct {
	catalogs map[domain.Category]domain.RequirementCatalog
	getErr   error
	putErr   error
	replaced map[domain.Category]domain.RequirementCatalog
}

func (s *stubRequirementRepo) GetByCategory(_ context.Context, category domain.Category) (domain.RequirementCatalog, error) {
	if s.getErr != nil {
		return domain.RequirementCatalog{}, s.getErr
	}
	catalog, ok := s.catalogs[category]
	if !ok {
		return domain.RequirementCatalog{}, repoErr{notFound: true}
	}
	return catalog, nil
}

func (s *stubRequirementRepo) Replace(_ context.Context, category domain.Category, catalog domain.RequirementCatalog) error {
	if s.putErr != nil {
		return s.putErr
	}
	if s.replaced == nil {
		s.replaced = map[domain.Category]domain.RequirementCatalog{}
	}
	s.replaced[category] = catalog
	return nil
}

// memoryNomineeRepo is an in-memory NomineeRepository applying the same rules as the Firestore one.
type memoryNomineeRepo struct {
	mu       sync.Mutex
	nominees map[string]domain.Nominee
	err      error
	addErr   error
	writes   int
	list     domain.NomineeFilter
	listErr  error
}

func newMemoryNomineeRepo(nominees ...domain.Nominee) *memoryNomineeRepo {
	repo := &memoryNomineeRepo{nominees: map[string]domain.Nominee{}}
	for _, nominee := range nominees {
		repo.nominees[nominee.ID] = nominee
	}
	return repo
}

func (r *memoryNomineeRepo) Get(_ context.Context, id string) (domain.Nominee, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return domain.Nominee{}, r.err
	}
	nominee, ok := r.nominees[id]
	if !ok {
		return domain.Nominee{}, repoErr{notFound: true}
	}
	return nominee, nil
}

func (r *memoryNomineeRepo) FindByRegistrationCode(_ context.Context, code string) (domain.Nominee, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, nominee := range r.nominees {
		if nominee.RegistrationCode == code {
			return nominee, nil
		}
	}
	return domain.Nominee{}, repoErr{notFound: true}
}

func (r *memoryNomineeRepo) List(_ context.Context, filter domain.NomineeFilter) (domain.CursorPage[domain.Nominee], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = filter
	if r.listErr != nil {
		return domain.CursorPage[domain.Nominee]{}, r.listErr
	}
	var items []domain.Nominee
	for _, nominee := range r.nominees {
		if filter.Category != "" && nominee.Category != filter.Category {
			continue
		}
		items = append(items, nominee)
	}
	return domain.CursorPage[domain.Nominee]{Items: items}, nil
}

func (r *memoryNomineeRepo) mutate(id string, status domain.NomineeStatus, fn func(*domain.Nominee) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	nominee, ok := r.nominees[id]
	if !ok {
		return repoErr{notFound: true}
	}
	if err := fn(&nominee); err != nil {
		return err
	}
	if status != "" {
		nominee.Status = workflow.AdvanceStatus(nominee.Status, status)
	}
	r.writes++
	r.nominees[id] = nominee
	return nil
}

func (r *memoryNomineeRepo) AddDocument(_ context.Context, id string, record domain.DocumentRecord, status domain.NomineeStatus) ([]domain.DocumentRecord, error) {
	if r.addErr != nil {
		return nil, r.addErr
	}
	var docs []domain.DocumentRecord
	err := r.mutate(id, status, func(n *domain.Nominee) error {
		n.Documents = workflow.UpsertDocument(n.Documents, record)
		docs = n.Documents
		return nil
	})
	return docs, err
}

func (r *memoryNomineeRepo) UpdateDocumentEvaluation(_ context.Context, id, slotID string, verdict domain.Verdict, remarks *string, status domain.NomineeStatus) error {
	return r.mutate(id, status, func(n *domain.Nominee) error {
		docs, ok := workflow.ApplyDocumentVerdict(n.Documents, slotID, verdict, remarks)
		if !ok {
			return repoErr{notFound: true}
		}
		n.Documents = docs
		return nil
	})
}

func (r *memoryNomineeRepo) UpdateStageVerdict(_ context.Context, id string, stage domain.Stage, verdict domain.StageVerdict, status domain.NomineeStatus) error {
	return r.mutate(id, status, func(n *domain.Nominee) error {
		if n.StageVerdicts == nil {
			n.StageVerdicts = map[domain.Stage]domain.StageVerdict{}
		}
		n.StageVerdicts[stage] = verdict
		return nil
	})
}

func (r *memoryNomineeRepo) SetStageUnlock(_ context.Context, id string, stage domain.Stage, unlocked bool) error {
	return r.mutate(id, "", func(n *domain.Nominee) error {
		switch stage {
		case domain.Stage2:
			n.Round2Unlocked = unlocked
		case domain.Stage3:
			n.Round3Unlocked = unlocked
		}
		return nil
	})
}

func (r *memoryNomineeRepo) RecordSubmission(_ context.Context, id string, stage domain.Stage, submission domain.StageSubmission, status domain.NomineeStatus) error {
	return r.mutate(id, status, func(n *domain.Nominee) error {
		if n.StageSubmissions == nil {
			n.StageSubmissions = map[domain.Stage]domain.StageSubmission{}
		}
		n.StageSubmissions[stage] = submission
		return nil
	})
}

func (r *memoryNomineeRepo) SetRegionalPass(_ context.Context, id string, pass domain.RegionalPass) error {
	return r.mutate(id, "", func(n *domain.Nominee) error {
		n.RegionalPass = &pass
		return nil
	})
}

func (r *memoryNomineeRepo) BindOwner(_ context.Context, id, uid string, activatedAt time.Time) (domain.Nominee, error) {
	var out domain.Nominee
	err := r.mutate(id, "", func(n *domain.Nominee) error {
		if n.OwnerUID != "" && n.OwnerUID != uid {
			return repoErr{conflict: true}
		}
		if n.OwnerUID == "" {
			n.OwnerUID = uid
			at := activatedAt
			n.ActivatedAt = &at
		}
		out = *n
		return nil
	})
	return out, err
}

func (r *memoryNomineeRepo) snapshot(id string) domain.Nominee {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nominees[id]
}

func (r *memoryNomineeRepo) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

type recordingAudit struct {
	mu      sync.Mutex
	records []AuditLogRecord
	page    domain.CursorPage[domain.AuditLogEntry]
	filter  AuditLogFilter
}

func (a *recordingAudit) Record(_ context.Context, record AuditLogRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, record)
}

func (a *recordingAudit) List(_ context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	a.filter = filter
	return a.page, nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.records))
	for _, record := range a.records {
		out = append(out, record.Action)
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []WorkflowEvent
	err    error
}

func (p *recordingPublisher) PublishWorkflowEvent(_ context.Context, event WorkflowEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	if p.err != nil {
		return "", p.err
	}
	return "msg-" + event.EventID, nil
}

func (p *recordingPublisher) published() []WorkflowEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]WorkflowEvent(nil), p.events...)
}

type stubResolver struct {
	err error
}

func (r stubResolver) ResolveFileURL(_ context.Context, ref string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "https://signed.example/" + ref, nil
}

// testCatalogs returns a small catalog for the micro category with 4/2/1 requirements.
func testCatalogs() map[domain.Category]domain.RequirementCatalog {
	micro := domain.RequirementCatalog{
		Stage1: []domain.Requirement{
			{ID: "m1", Label: "Registration"},
			{ID: "m2", Label: "OSH policy"},
			{ID: "m3", Label: "Safety officer"},
			{ID: "m4", Label: "Accident report"},
		},
		Stage2: []domain.Requirement{{ID: "m5", Label: "OSH program"}, {ID: "m6", Label: "Photos"}},
		Stage3: []domain.Requirement{{ID: "m7", Label: "Best practice"}},
	}
	industry := domain.RequirementCatalog{
		Stage1: []domain.Requirement{{ID: "i1", Label: "Profile"}},
		Stage2: []domain.Requirement{{ID: "i2", Label: "Program"}},
		Stage3: []domain.Requirement{{ID: "i3", Label: "Endorsement"}},
	}
	return map[domain.Category]domain.RequirementCatalog{
		domain.CategoryMicro:    micro,
		domain.CategoryIndustry: industry,
	}
}

func newTestRequirements(repo *stubRequirementRepo) RequirementService {
	if repo == nil {
		repo = &stubRequirementRepo{}
	}
	svc, err := NewRequirementService(RequirementServiceDeps{Repository: repo, Defaults: testCatalogs()})
	if err != nil {
		panic(err)
	}
	return svc
}
