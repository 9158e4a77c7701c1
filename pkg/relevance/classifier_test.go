package relevance

import (
	"reflect"
	"testing"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	return NewClassifier(DefaultKeywords())
}

func TestRelevantAcceptsIncludeKeywords(t *testing.T) {
	c := newTestClassifier(t)

	cases := []struct {
		title       string
		description string
	}{
		{"DEA Final Rule on Marijuana Rescheduling", ""},
		{"Hemp Production Requirements", "Updates to the domestic hemp program"},
		{"Import Alert", "Shipments containing kratom detained without examination"},
		{"State Board Notice", "Licensing window for cannabis retailers"},
	}

	for _, tc := range cases {
		if !c.Relevant(tc.title, tc.description) {
			t.Errorf("expected relevant: %q / %q", tc.title, tc.description)
		}
	}
}

func TestRelevantRejectsWithoutIncludeKeyword(t *testing.T) {
	c := newTestClassifier(t)

	if c.Relevant("Quarterly Reporting Requirements for Brokers", "Standard financial disclosures") {
		t.Fatal("expected off-topic document to be rejected")
	}
}

func TestExcludeKeywordsTakePrecedence(t *testing.T) {
	c := newTestClassifier(t)

	if c.Relevant("Endangered Species and Cannabis Habitat Study", "") {
		t.Fatal("exclude keyword must override include match")
	}
	if c.Relevant("Fisheries Notice", "Incidental mention of hemp rope in commercial fisheries gear") {
		t.Fatal("exclude keyword in description must override include match")
	}
}

func TestProductsMatchesMultipleCategories(t *testing.T) {
	c := newTestClassifier(t)

	products := c.Products("Rule covering hemp-derived CBD and delta-8 THC products", "")
	want := []string{"cannabis", "delta8", "hemp"}
	if !reflect.DeepEqual(products, want) {
		t.Fatalf("expected %v, got %v", want, products)
	}
}

func TestProductsEmptyMatchIsValid(t *testing.T) {
	c := newTestClassifier(t)

	products := c.Products("Controlled substance registration fee schedule", "")
	if len(products) != 0 {
		t.Fatalf("expected no product categories, got %v", products)
	}
}

func TestProductsIsDeterministic(t *testing.T) {
	c := newTestClassifier(t)

	first := c.Products("kratom and kava advisory", "nicotine warning letters")
	for i := 0; i < 10; i++ {
		next := c.Products("kratom and kava advisory", "nicotine warning letters")
		if !reflect.DeepEqual(first, next) {
			t.Fatalf("expected deterministic output, got %v then %v", first, next)
		}
	}
}

func TestLoadKeywordsFallsBackToDefaults(t *testing.T) {
	cfg, err := LoadKeywords("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Include) == 0 || len(cfg.Exclude) == 0 || len(cfg.Products) == 0 {
		t.Fatal("default keyword sets must be non-empty")
	}
}
