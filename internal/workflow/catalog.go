package workflow

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
)

// DefaultCategory is served when a nominee category is unknown.
const DefaultCategory = domain.CategoryIndustry

// categoryAliases maps folded display names onto category identifiers.
var categoryAliases = map[string]domain.Category{
	"industry":                 domain.CategoryIndustry,
	"private":                  domain.CategoryIndustry,
	"privatesector":            domain.CategoryIndustry,
	"largeenterprise":          domain.CategoryIndustry,
	"individual":               domain.CategoryIndividual,
	"person":                   domain.CategoryIndividual,
	"micro":                    domain.CategoryMicro,
	"microenterprise":          domain.CategoryMicro,
	"msme":                     domain.CategoryMicro,
	"smallenterprise":          domain.CategoryMicro,
	"government":               domain.CategoryGovernment,
	"governmentagency":         domain.CategoryGovernment,
	"gov":                      domain.CategoryGovernment,
	"publicsector":             domain.CategoryGovernment,
	"localgovernmentunit":      domain.CategoryGovernment,
	"nationalgovernmentagency": domain.CategoryGovernment,
}

// NormalizeCategory folds a category identifier or display name onto a known category.
func NormalizeCategory(raw string) (domain.Category, bool) {
	folded := cases.Fold().String(strings.TrimSpace(raw))
	key := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_', '.', '/':
			return -1
		}
		return r
	}, folded)
	category, ok := categoryAliases[key]
	return category, ok
}

// ResolveCatalog returns the requirement catalog of a category, falling back to the default category
// when the category is unknown or has no catalog. Falling back is policy, not an error.
func ResolveCatalog(catalogs map[domain.Category]domain.RequirementCatalog, raw string) (domain.Category, domain.RequirementCatalog) {
	if category, ok := NormalizeCategory(raw); ok {
		if catalog, found := catalogs[category]; found {
			return category, catalog
		}
	}
	return DefaultCategory, catalogs[DefaultCategory]
}

//go:embed catalog_defaults.yaml
var defaultCatalogYAML []byte

type catalogFile struct {
	Categories map[string]catalogStages `yaml:"categories"`
}

type catalogStages struct {
	Stage1 []catalogRequirement `yaml:"stage1"`
	Stage2 []catalogRequirement `yaml:"stage2"`
	Stage3 []catalogRequirement `yaml:"stage3"`
}

type catalogRequirement struct {
	ID       string `yaml:"id"`
	Category string `yaml:"category"`
	Label    string `yaml:"label"`
}

var loadDefaults = sync.OnceValues(func() (map[domain.Category]domain.RequirementCatalog, error) {
	return ParseCatalogs(defaultCatalogYAML)
})

// DefaultCatalogs returns the catalogs shipped with the service.
func DefaultCatalogs() (map[domain.Category]domain.RequirementCatalog, error) {
	catalogs, err := loadDefaults()
	if err != nil {
		return nil, err
	}
	out := make(map[domain.Category]domain.RequirementCatalog, len(catalogs))
	for key, value := range catalogs {
		out[key] = value
	}
	return out, nil
}

// ParseCatalogs decodes a YAML catalog document keyed by category.
func ParseCatalogs(data []byte) (map[domain.Category]domain.RequirementCatalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("workflow: parse catalog: %w", err)
	}
	out := make(map[domain.Category]domain.RequirementCatalog, len(file.Categories))
	for name, stages := range file.Categories {
		category, ok := NormalizeCategory(name)
		if !ok {
			return nil, fmt.Errorf("workflow: parse catalog: unknown category %q", name)
		}
		out[category] = domain.RequirementCatalog{
			Stage1: toRequirements(stages.Stage1),
			Stage2: toRequirements(stages.Stage2),
			Stage3: toRequirements(stages.Stage3),
		}
	}
	return out, nil
}

func toRequirements(items []catalogRequirement) []domain.Requirement {
	if len(items) == 0 {
		return []domain.Requirement{}
	}
	out := make([]domain.Requirement, 0, len(items))
	for _, item := range items {
		out = append(out, domain.Requirement{
			ID:       strings.TrimSpace(item.ID),
			Category: strings.TrimSpace(item.Category),
			Label:    strings.TrimSpace(item.Label),
		})
	}
	return out
}
