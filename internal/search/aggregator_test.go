package search

import (
	"context"
	"strings"
	"testing"

	"github.com/deepdive-ai/deepdive/pkg/models"
)

// stubAdapter serves canned results and records the terms it was asked for.
type stubAdapter struct {
	name    string
	results []models.SearchResult
	terms   []string
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Fetch(_ context.Context, term string) []models.SearchResult {
	s.terms = append(s.terms, term)
	return s.results
}

func result(title, url, snippet, source string) models.SearchResult {
	return models.SearchResult{Title: title, URL: url, Snippet: snippet, Source: source}
}

func newTestAggregator(adapters ...EngineAdapter) *Aggregator {
	return NewAggregator(adapters, NewQueryProcessor(nil, ""))
}

func TestSearchEmptyQuery(t *testing.T) {
	ag := newTestAggregator(&stubAdapter{name: "a"})
	got := ag.Search(context.Background(), "  ")
	if len(got.Results) != 0 || len(got.Citations) != 0 {
		t.Errorf("Search(blank) = %+v, want empty outcome", got)
	}
}

func TestSearchDeduplicatesByURL(t *testing.T) {
	a := &stubAdapter{name: "alpha", results: []models.SearchResult{
		result("First take", "https://example.com/x", "", "alpha"),
	}}
	b := &stubAdapter{name: "beta", results: []models.SearchResult{
		result("Second take", "https://example.com/x", "", "beta"),
	}}
	ag := newTestAggregator(a, b)

	got := ag.Search(context.Background(), "dedup")
	if len(got.Results) != 1 {
		t.Fatalf("len(Results) = %d, want 1", len(got.Results))
	}
	// First occurrence in adapter-declaration order wins.
	if got.Results[0].Title != "First take" {
		t.Errorf("kept %q, want the first occurrence", got.Results[0].Title)
	}
}

func TestSearchDeduplicatesByTitleWithinSource(t *testing.T) {
	a := &stubAdapter{name: "alpha", results: []models.SearchResult{
		result("Shared Title", "https://example.com/1", "", "alpha"),
		result("shared title", "https://example.com/2", "", "alpha"),
	}}
	b := &stubAdapter{name: "beta", results: []models.SearchResult{
		result("Shared Title", "https://example.com/3", "", "beta"),
	}}
	ag := newTestAggregator(a, b)

	got := ag.Search(context.Background(), "titles")
	// Case-insensitive repeat within alpha collapses; beta's copy survives
	// because the title key is scoped per engine.
	if len(got.Results) != 2 {
		t.Fatalf("len(Results) = %d, want 2: %+v", len(got.Results), got.Results)
	}
}

func TestSearchRanksByTermRelevance(t *testing.T) {
	a := &stubAdapter{name: "alpha", results: []models.SearchResult{
		result("Unrelated page", "https://example.com/a", "nothing here", "alpha"),
		result("All about kubernetes", "https://example.com/b", "kubernetes deep dive", "alpha"),
		result("Mentions in passing", "https://example.com/c", "a kubernetes footnote", "alpha"),
	}}
	ag := newTestAggregator(a)

	got := ag.Search(context.Background(), "kubernetes")
	want := []string{
		"All about kubernetes", // title + snippet = 3
		"Mentions in passing",  // snippet only = 1
		"Unrelated page",       // 0
	}
	for i, w := range want {
		if got.Results[i].Title != w {
			t.Errorf("Results[%d] = %q, want %q", i, got.Results[i].Title, w)
		}
	}
}

func TestSearchStableOrderForTies(t *testing.T) {
	a := &stubAdapter{name: "alpha", results: []models.SearchResult{
		result("one", "https://example.com/1", "", "alpha"),
		result("two", "https://example.com/2", "", "alpha"),
		result("three", "https://example.com/3", "", "alpha"),
	}}
	ag := newTestAggregator(a)

	got := ag.Search(context.Background(), "unmatched")
	want := []string{"one", "two", "three"}
	for i, w := range want {
		if got.Results[i].Title != w {
			t.Errorf("Results[%d] = %q, want %q (ties keep arrival order)", i, got.Results[i].Title, w)
		}
	}
}

func TestSearchFallsBackWhenAllEnginesEmpty(t *testing.T) {
	ag := newTestAggregator(&stubAdapter{name: "alpha"}, &stubAdapter{name: "beta"})

	got := ag.Search(context.Background(), "bitcoin price news")
	if len(got.Results) == 0 {
		t.Fatal("expected fallback results when every engine is empty")
	}
	for _, r := range got.Results {
		if r.Source != "fallback" {
			t.Errorf("Source = %q, want fallback", r.Source)
		}
	}
	var hasFinance, hasNews bool
	for _, r := range got.Results {
		if strings.Contains(r.URL, "finance.yahoo.com") {
			hasFinance = true
		}
		if strings.Contains(r.URL, "news.google.com") {
			hasNews = true
		}
	}
	if !hasFinance || !hasNews {
		t.Errorf("finance/news surfaces = %v/%v, want both for %q", hasFinance, hasNews, "bitcoin price news")
	}
}

func TestSearchCitationsDedupByURLOnly(t *testing.T) {
	a := &stubAdapter{name: "alpha", results: []models.SearchResult{
		result("Doc A", "https://example.com/doc", "", "alpha"),
		result("Doc B", "", "no link", "alpha"),
	}}
	b := &stubAdapter{name: "beta", results: []models.SearchResult{
		result("Doc A mirrored", "https://example.com/doc", "", "beta"),
	}}
	ag := newTestAggregator(a, b)

	got := ag.Search(context.Background(), "citations")
	if len(got.Citations) != 1 {
		t.Fatalf("len(Citations) = %d, want 1 (URL-less results carry no citation)", len(got.Citations))
	}
	if got.Citations[0].URL != "https://example.com/doc" {
		t.Errorf("Citation URL = %q", got.Citations[0].URL)
	}
}

func TestSearchQueriesEveryAdapterPerTerm(t *testing.T) {
	a := &stubAdapter{name: "alpha"}
	b := &stubAdapter{name: "beta", results: []models.SearchResult{
		result("hit", "https://example.com/hit", "", "beta"),
	}}
	ag := newTestAggregator(a, b)

	// Long query, no generator: manual extraction yields 3 composed terms.
	ag.Search(context.Background(), "durability guarantees of distributed consensus protocols")

	if len(a.terms) != 3 || len(b.terms) != 3 {
		t.Errorf("terms per adapter = %d/%d, want 3 each", len(a.terms), len(b.terms))
	}
	for i := range a.terms {
		if a.terms[i] != b.terms[i] {
			t.Errorf("term %d diverged between adapters: %q vs %q", i, a.terms[i], b.terms[i])
		}
	}
}

func TestSearchIdempotent(t *testing.T) {
	a := &stubAdapter{name: "alpha", results: []models.SearchResult{
		result("stable", "https://example.com/s", "stable snippet", "alpha"),
		result("other", "https://example.com/o", "other snippet", "alpha"),
	}}
	ag := newTestAggregator(a)

	first := ag.Search(context.Background(), "stable")
	second := ag.Search(context.Background(), "stable")
	if len(first.Results) != len(second.Results) {
		t.Fatalf("result counts differ: %d vs %d", len(first.Results), len(second.Results))
	}
	for i := range first.Results {
		if first.Results[i] != second.Results[i] {
			t.Errorf("Results[%d] differ across identical calls", i)
		}
	}
}

func TestFallbackGeneratorBaseLinks(t *testing.T) {
	g := NewFallbackGenerator()
	got := g.Generate("plain topic")
	if len(got) != 3 {
		t.Fatalf("len = %d, want the 3 general engines", len(got))
	}
	for _, r := range got {
		if !strings.Contains(r.URL, "plain+topic") && !strings.Contains(r.URL, "plain%20topic") {
			t.Errorf("URL %q does not embed the escaped query", r.URL)
		}
	}
}
