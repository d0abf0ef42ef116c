package classify

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed taxonomy.yaml
var defaultTaxonomyYAML []byte

const defaultMaxSummaryWords = 20

// Guidance holds the two follow-up texts for a category.
type Guidance struct {
	Visit     string `yaml:"visit"`
	Documents string `yaml:"documents"`
}

// Category maps complaint keywords to the agency that handles them.
type Category struct {
	Name     string   `yaml:"name"`
	Agency   string   `yaml:"agency"`
	Keywords []string `yaml:"keywords"`
	Guidance Guidance `yaml:"guidance"`
}

// Taxonomy is the immutable classification table set.
type Taxonomy struct {
	MaxSummaryWords   int        `yaml:"max_summary_words"`
	SummaryConnector  string     `yaml:"summary_connector"`
	Categories        []Category `yaml:"categories"`
	Fallback          Category   `yaml:"fallback"`
	VisitKeywords     []string   `yaml:"visit_keywords"`
	PaperworkKeywords []string   `yaml:"paperwork_keywords"`
}

// DefaultTaxonomy returns the built-in table set.
func DefaultTaxonomy() Taxonomy {
	taxonomy, err := ParseTaxonomy(defaultTaxonomyYAML)
	if err != nil {
		panic(fmt.Sprintf("classify: embedded taxonomy is invalid: %v", err))
	}
	return taxonomy
}

// LoadTaxonomy reads a YAML taxonomy file. An empty path yields the default.
func LoadTaxonomy(path string) (Taxonomy, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultTaxonomy(), nil
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return Taxonomy{}, fmt.Errorf("failed to read taxonomy file %q: %w", path, err)
	}
	taxonomy, err := ParseTaxonomy(contents)
	if err != nil {
		return Taxonomy{}, fmt.Errorf("failed to parse taxonomy file %q: %w", path, err)
	}
	return taxonomy, nil
}

// ParseTaxonomy decodes and validates a YAML taxonomy document.
func ParseTaxonomy(contents []byte) (Taxonomy, error) {
	var taxonomy Taxonomy
	if err := yaml.Unmarshal(contents, &taxonomy); err != nil {
		return Taxonomy{}, err
	}
	if taxonomy.MaxSummaryWords <= 0 {
		taxonomy.MaxSummaryWords = defaultMaxSummaryWords
	}
	if err := taxonomy.Validate(); err != nil {
		return Taxonomy{}, err
	}
	return taxonomy, nil
}

// Validate rejects tables the classifier cannot serve deterministically.
func (t Taxonomy) Validate() error {
	if len(t.Categories) == 0 {
		return errors.New("taxonomy has no categories")
	}
	if strings.TrimSpace(t.Fallback.Name) == "" || strings.TrimSpace(t.Fallback.Agency) == "" {
		return errors.New("taxonomy fallback needs a name and an agency")
	}

	seen := map[string]struct{}{t.Fallback.Name: {}}
	for index, category := range t.Categories {
		name := strings.TrimSpace(category.Name)
		if name == "" {
			return fmt.Errorf("category %d: name is empty", index+1)
		}
		if strings.TrimSpace(category.Agency) == "" {
			return fmt.Errorf("category %q: agency is empty", name)
		}
		if len(category.Keywords) == 0 {
			return fmt.Errorf("category %q: no keywords", name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("category %q: declared twice", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// clone copies every slice so callers cannot mutate the classifier's tables.
func (t Taxonomy) clone() Taxonomy {
	out := t
	out.Categories = make([]Category, len(t.Categories))
	for i, category := range t.Categories {
		category.Keywords = append([]string(nil), category.Keywords...)
		out.Categories[i] = category
	}
	out.Fallback.Keywords = append([]string(nil), t.Fallback.Keywords...)
	out.VisitKeywords = append([]string(nil), t.VisitKeywords...)
	out.PaperworkKeywords = append([]string(nil), t.PaperworkKeywords...)
	return out
}
