package relevance

import (
	"sort"
	"strings"
)

type productRule struct {
	category string
	keywords []string
}

// Classifier decides whether a fetched document is in scope and which
// product categories it touches. Both checks are pure text matching over
// the lower-cased title and description, so identical input always yields
// identical output.
type Classifier struct {
	include  []string
	exclude  []string
	products []productRule
}

func NewClassifier(cfg KeywordConfig) *Classifier {
	rules := make([]productRule, 0, len(cfg.Products))
	for category, keywords := range cfg.Products {
		rules = append(rules, productRule{category: category, keywords: lowerAll(keywords)})
	}
	// Map iteration order is random; fix it so Products output is stable.
	sort.Slice(rules, func(i, j int) bool { return rules[i].category < rules[j].category })

	return &Classifier{
		include:  lowerAll(cfg.Include),
		exclude:  lowerAll(cfg.Exclude),
		products: rules,
	}
}

// Relevant reports whether the document should be persisted. Exclude
// keywords take precedence: a generic agency bulletin that mentions both
// "fisheries" and "cannabis" is off-topic noise, not a regulatory signal.
func (c *Classifier) Relevant(title, description string) bool {
	text := strings.ToLower(title + " " + description)
	for _, keyword := range c.exclude {
		if strings.Contains(text, keyword) {
			return false
		}
	}
	for _, keyword := range c.include {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

// Products returns the matching product categories in sorted order. An
// empty result is valid; plenty of in-scope documents name no specific
// product.
func (c *Classifier) Products(title, description string) []string {
	text := strings.ToLower(title + " " + description)
	var matched []string
	for _, rule := range c.products {
		for _, keyword := range rule.keywords {
			if strings.Contains(text, keyword) {
				matched = append(matched, rule.category)
				break
			}
		}
	}
	return matched
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(strings.ToLower(v)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
