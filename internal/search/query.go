package search

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/deepdive-ai/deepdive/internal/jsonutil"
	"github.com/deepdive-ai/deepdive/pkg/contracts"
	"github.com/deepdive-ai/deepdive/pkg/models"
)

// Short-query bypass thresholds: a query at or under both is already a
// usable search term and skips the model round-trip entirely.
const (
	shortQueryMaxChars = 30
	shortQueryMaxWords = 3
)

// maxStoredTerms caps how many ranked terms a processed query carries.
const maxStoredTerms = 4

// QueryProcessor turns a free-form research question into a small set of
// ranked search terms. It prefers a model round-trip but always has a
// deterministic answer: short queries bypass the model, and any model
// failure falls back to heuristic term extraction.
type QueryProcessor struct {
	generator contracts.Generator
	model     string
}

func NewQueryProcessor(generator contracts.Generator, model string) *QueryProcessor {
	return &QueryProcessor{generator: generator, model: model}
}

const queryAnalysisInstruction = `You extract web search terms from research questions.
Respond with strict JSON only, no prose, matching:
{"search_terms": ["..."], "primary_term": "...", "context": "..."}
search_terms holds 4 to 6 short phrases ordered most to least specific.
primary_term is the single best phrase. context is a one-line summary of intent.`

// Process analyzes the query. The result is always usable; Process never
// returns an error.
func (p *QueryProcessor) Process(ctx context.Context, query string) models.ProcessedQuery {
	query = strings.TrimSpace(query)
	if query == "" {
		return models.ProcessedQuery{}
	}

	if len(query) <= shortQueryMaxChars && len(strings.Fields(query)) <= shortQueryMaxWords {
		return models.ProcessedQuery{
			OriginalQuery: query,
			SearchTerms:   []string{query},
			PrimaryTerm:   query,
			Context:       "direct search",
		}
	}

	if p.generator != nil && p.model != "" {
		if pq, ok := p.analyze(ctx, query); ok {
			return pq
		}
	}
	return p.manual(query)
}

// analyze runs the model round-trip and parses its JSON answer. Missing or
// malformed output resolves to (zero, false) so the caller can fall back.
func (p *QueryProcessor) analyze(ctx context.Context, query string) (models.ProcessedQuery, bool) {
	res, err := p.generator.Generate(ctx, &models.GenerationRequest{
		Model:             p.model,
		Contents:          "Extract search terms for: " + query,
		SystemInstruction: queryAnalysisInstruction,
		JSONOutput:        true,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Query analysis call failed, using manual extraction")
		return models.ProcessedQuery{}, false
	}

	obj, ok := jsonutil.ExtractObject(res.Text)
	if !ok {
		log.Warn().Msg("Query analysis returned no JSON object, using manual extraction")
		return models.ProcessedQuery{}, false
	}

	terms := stringSlice(obj["search_terms"])
	if len(terms) == 0 {
		return models.ProcessedQuery{}, false
	}
	if len(terms) > maxStoredTerms {
		terms = terms[:maxStoredTerms]
	}

	primary, _ := obj["primary_term"].(string)
	if primary == "" {
		primary = terms[0]
	}
	qContext, _ := obj["context"].(string)

	return models.ProcessedQuery{
		OriginalQuery: query,
		SearchTerms:   terms,
		PrimaryTerm:   primary,
		Context:       qContext,
	}, true
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "with": true,
	"that": true, "this": true, "what": true, "how": true, "why": true,
	"when": true, "where": true, "who": true, "which": true, "about": true,
	"does": true, "can": true, "could": true, "should": true, "would": true,
	"from": true, "into": true, "their": true, "there": true, "been": true,
	"was": true, "were": true, "will": true, "has": true, "have": true,
	"had": true, "its": true, "his": true, "her": true, "you": true,
	"your": true, "please": true, "tell": true, "write": true,
	"prepare": true, "give": true, "make": true, "create": true,
}

// manual is the deterministic extraction path: lowercase, strip punctuation,
// drop stopwords and very short tokens, then compose terms from the leading
// keywords.
func (p *QueryProcessor) manual(query string) models.ProcessedQuery {
	var keywords []string
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]{}")
		if len(tok) <= 2 || stopwords[tok] {
			continue
		}
		keywords = append(keywords, tok)
	}

	if len(keywords) == 0 {
		return models.ProcessedQuery{
			OriginalQuery: query,
			SearchTerms:   []string{query},
			PrimaryTerm:   query,
			Context:       "manual extraction",
		}
	}

	terms := []string{keywords[0]}
	if len(keywords) > 1 {
		terms = append(terms, keywords[0]+" "+keywords[1])
	}
	if len(keywords) > 2 {
		terms = append(terms, keywords[0]+" "+keywords[2])
	}

	return models.ProcessedQuery{
		OriginalQuery: query,
		SearchTerms:   terms,
		PrimaryTerm:   terms[0],
		Context:       "manual extraction",
	}
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
