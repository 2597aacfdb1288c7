package firestore

import (
	"context"
	"errors"
	"time"

	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
	pfirestore "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/firestore"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/repositories"
)

const requirementCollection = "requirements"

// RequirementRepository stores one catalog document per category under requirements/{category}.
type RequirementRepository struct {
	coll *pfirestore.Collection[requirementDocument]
	now  func() time.Time
}

var _ repositories.RequirementRepository = (*RequirementRepository)(nil)

// NewRequirementRepository constructs a Firestore-backed requirement repository.
func NewRequirementRepository(provider *pfirestore.Provider) (*RequirementRepository, error) {
	if provider == nil {
		return nil, errors.New("requirement repository requires firestore provider")
	}
	return &RequirementRepository{
		coll: pfirestore.NewCollection[requirementDocument](provider, requirementCollection),
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// GetByCategory loads the catalog of a category.
func (r *RequirementRepository) GetByCategory(ctx context.Context, category domain.Category) (domain.RequirementCatalog, error) {
	doc, err := r.coll.Get(ctx, string(category))
	if err != nil {
		return domain.RequirementCatalog{}, err
	}
	return domain.RequirementCatalog{
		Stage1: toRequirements(doc.Stage1),
		Stage2: toRequirements(doc.Stage2),
		Stage3: toRequirements(doc.Stage3),
	}, nil
}

// Replace overwrites the catalog of a category.
func (r *RequirementRepository) Replace(ctx context.Context, category domain.Category, catalog domain.RequirementCatalog) error {
	return r.coll.Set(ctx, string(category), requirementDocument{
		Stage1:    fromRequirements(catalog.Stage1),
		Stage2:    fromRequirements(catalog.Stage2),
		Stage3:    fromRequirements(catalog.Stage3),
		UpdatedAt: r.now(),
	})
}

type requirementDocument struct {
	Stage1    []requirementItem `firestore:"stage1"`
	Stage2    []requirementItem `firestore:"stage2"`
	Stage3    []requirementItem `firestore:"stage3"`
	UpdatedAt time.Time         `firestore:"updatedAt"`
}

type requirementItem struct {
	ID       string `firestore:"id,omitempty"`
	Category string `firestore:"category"`
	Label    string `firestore:"label"`
}

func toRequirements(items []requirementItem) []domain.Requirement {
	out := make([]domain.Requirement, 0, len(items))
	for _, item := range items {
		out = append(out, domain.Requirement{ID: item.ID, Category: item.Category, Label: item.Label})
	}
	return out
}

func fromRequirements(reqs []domain.Requirement) []requirementItem {
	out := make([]requirementItem, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, requirementItem{ID: req.ID, Category: req.Category, Label: req.Label})
	}
	return out
}
