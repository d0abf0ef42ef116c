// Package classify maps complaint text to a topic category and the agency that
// handles it, and derives the visit-or-documents follow-up.
package classify

import (
	"strings"

	"minwondesk/internal/domain"
)

const ellipsis = "..."

// Result is the outcome of Classify.
type Result struct {
	Category string
	Agency   string
}

// Classifier is safe for concurrent use; its tables never change after New.
type Classifier struct {
	taxonomy Taxonomy
	index    map[string]Category
}

// New validates the taxonomy and builds a classifier around a private copy.
func New(taxonomy Taxonomy) (*Classifier, error) {
	if taxonomy.MaxSummaryWords <= 0 {
		taxonomy.MaxSummaryWords = defaultMaxSummaryWords
	}
	if err := taxonomy.Validate(); err != nil {
		return nil, err
	}
	owned := taxonomy.clone()
	index := make(map[string]Category, len(owned.Categories)+1)
	for _, category := range owned.Categories {
		index[category.Name] = category
	}
	index[owned.Fallback.Name] = owned.Fallback
	return &Classifier{taxonomy: owned, index: index}, nil
}

// Default returns a classifier over the built-in taxonomy.
func Default() *Classifier {
	c, err := New(DefaultTaxonomy())
	if err != nil {
		panic(err)
	}
	return c
}

// Classify returns the first declared category with a keyword found in text.
func (c *Classifier) Classify(text string) Result {
	for _, category := range c.taxonomy.Categories {
		if containsAny(text, category.Keywords) {
			return Result{Category: category.Name, Agency: category.Agency}
		}
	}
	return Result{Category: c.taxonomy.Fallback.Name, Agency: c.taxonomy.Fallback.Agency}
}

// DeriveVisitNeed decides whether a field visit is needed: visit keywords win,
// then paperwork keywords, then public complaints default to a visit.
func (c *Classifier) DeriveVisitNeed(summary string, group domain.GroupType) bool {
	if containsAny(summary, c.taxonomy.VisitKeywords) {
		return true
	}
	if containsAny(summary, c.taxonomy.PaperworkKeywords) {
		return false
	}
	return group == domain.GroupPublic
}

// Summarize keeps the first MaxSummaryWords tokens of text behind a category prefix.
func (c *Classifier) Summarize(text, category string) string {
	return summarize(text, category, c.taxonomy.SummaryConnector, c.taxonomy.MaxSummaryWords)
}

// Guidance returns the visit or documents text for category.
func (c *Classifier) Guidance(category string, visit bool) string {
	found, ok := c.index[category]
	if !ok {
		found = c.taxonomy.Fallback
	}
	if visit {
		return found.Guidance.Visit
	}
	return found.Guidance.Documents
}

func summarize(text, category, connector string, maxWords int) string {
	words := strings.Fields(text)
	truncated := len(words) > maxWords
	if truncated {
		words = words[:maxWords]
	}

	prefix := strings.TrimSpace(strings.Join([]string{category, connector}, " "))
	body := strings.Join(words, " ")
	if truncated {
		body += ellipsis
	}
	if body == "" {
		return prefix
	}
	return prefix + " " + body
}

func containsAny(text string, keywords []string) bool {
	if text == "" {
		return false
	}
	for _, keyword := range keywords {
		if keyword != "" && strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}
