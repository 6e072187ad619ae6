package search

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/deepdive-ai/deepdive/pkg/models"
)

// maxSearchTerms bounds how many processed terms one aggregate pass spends
// on the engines.
const maxSearchTerms = 3

// Aggregator fans a query out across every engine adapter, merges and ranks
// what comes back, and degrades to manual fallback links when the whole
// engine set is dark. Search never returns an error.
type Aggregator struct {
	adapters  []EngineAdapter
	processor *QueryProcessor
	fallback  *FallbackGenerator
}

func NewAggregator(adapters []EngineAdapter, processor *QueryProcessor) *Aggregator {
	return &Aggregator{
		adapters:  adapters,
		processor: processor,
		fallback:  NewFallbackGenerator(),
	}
}

// Search runs the full pipeline: process the query into terms, fetch each
// term from all adapters in parallel, merge in adapter-declaration order,
// dedup, rank, and derive citations.
func (ag *Aggregator) Search(ctx context.Context, query string) models.SearchOutcome {
	query = strings.TrimSpace(query)
	if query == "" {
		return models.SearchOutcome{}
	}

	processed := ag.processor.Process(ctx, query)
	terms := processed.SearchTerms
	if len(terms) > maxSearchTerms {
		terms = terms[:maxSearchTerms]
	}

	var merged []models.SearchResult
	for _, term := range terms {
		merged = append(merged, ag.fetchAll(ctx, term)...)
	}

	if len(merged) == 0 {
		log.Info().Str("query", query).Msg("All engines empty, generating fallback links")
		merged = ag.fallback.Generate(query)
	}

	results := rankResults(dedupResults(merged), terms)
	return models.SearchOutcome{
		Results:   results,
		Citations: citationsFrom(results),
	}
}

// fetchAll queries every adapter for one term concurrently. Slots are
// preassigned per adapter so the merge order stays the declaration order
// regardless of which engine answers first.
func (ag *Aggregator) fetchAll(ctx context.Context, term string) []models.SearchResult {
	slots := make([][]models.SearchResult, len(ag.adapters))

	var wg sync.WaitGroup
	for i, adapter := range ag.adapters {
		wg.Add(1)
		go func(i int, adapter EngineAdapter) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, engineCallTimeout)
			defer cancel()
			slots[i] = adapter.Fetch(callCtx, term)
		}(i, adapter)
	}
	wg.Wait()

	var out []models.SearchResult
	for _, slot := range slots {
		out = append(out, slot...)
	}
	return out
}

// dedupResults drops later duplicates: a result repeats if its URL was seen
// before, or if the same lowercased title already arrived from the same
// engine. First occurrence wins.
func dedupResults(in []models.SearchResult) []models.SearchResult {
	seenURL := make(map[string]bool)
	seenTitle := make(map[string]bool)

	var out []models.SearchResult
	for _, r := range in {
		titleKey := strings.ToLower(r.Title) + "\x00" + r.Source
		if (r.URL != "" && seenURL[r.URL]) || seenTitle[titleKey] {
			continue
		}
		if r.URL != "" {
			seenURL[r.URL] = true
		}
		seenTitle[titleKey] = true
		out = append(out, r)
	}
	return out
}

// rankResults orders results by term relevance: a term appearing in the
// title scores 2, in the snippet 1. The sort is stable so engine order
// breaks ties.
func rankResults(results []models.SearchResult, terms []string) []models.SearchResult {
	if len(terms) == 0 {
		return results
	}
	score := func(r models.SearchResult) int {
		title := strings.ToLower(r.Title)
		snippet := strings.ToLower(r.Snippet)
		s := 0
		for _, term := range terms {
			t := strings.ToLower(term)
			if strings.Contains(title, t) {
				s += 2
			}
			if strings.Contains(snippet, t) {
				s++
			}
		}
		return s
	}
	sort.SliceStable(results, func(i, j int) bool {
		return score(results[i]) > score(results[j])
	})
	return results
}

// citationsFrom projects results into citations, keeping one per URL.
func citationsFrom(results []models.SearchResult) []models.Citation {
	seen := make(map[string]bool)
	var out []models.Citation
	for _, r := range results {
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		out = append(out, models.CitationOf(r))
	}
	return out
}
