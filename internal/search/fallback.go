package search

import (
	"net/url"
	"strings"

	"github.com/deepdive-ai/deepdive/pkg/models"
)

// FallbackGenerator produces synthetic manual-search links when every live
// engine came back empty. The links are deterministic and require no
// network, so the aggregator can always hand the caller something to act on.
type FallbackGenerator struct{}

func NewFallbackGenerator() *FallbackGenerator { return &FallbackGenerator{} }

var financeKeywords = []string{
	"stock", "price", "market", "trading", "invest", "etf",
	"crypto", "bitcoin", "currency", "exchange rate", "earnings",
}

var newsKeywords = []string{
	"news", "latest", "today", "current", "recent", "update",
	"breaking", "2024", "2025", "2026",
}

// Generate returns manual links for the query: the general engines always,
// plus finance or news surfaces when the query suggests them.
func (g *FallbackGenerator) Generate(query string) []models.SearchResult {
	escaped := url.QueryEscape(query)
	results := []models.SearchResult{
		{
			Title:   "Search Google for: " + query,
			URL:     "https://www.google.com/search?q=" + escaped,
			Snippet: "Run this query on Google directly.",
			Source:  "fallback",
		},
		{
			Title:   "Search Bing for: " + query,
			URL:     "https://www.bing.com/search?q=" + escaped,
			Snippet: "Run this query on Bing directly.",
			Source:  "fallback",
		},
		{
			Title:   "Search DuckDuckGo for: " + query,
			URL:     "https://duckduckgo.com/?q=" + escaped,
			Snippet: "Run this query on DuckDuckGo directly.",
			Source:  "fallback",
		},
	}

	lower := strings.ToLower(query)
	if containsAny(lower, financeKeywords) {
		results = append(results,
			models.SearchResult{
				Title:   "Yahoo Finance: " + query,
				URL:     "https://finance.yahoo.com/lookup?s=" + escaped,
				Snippet: "Quotes, charts and financial data for this query.",
				Source:  "fallback",
			},
			models.SearchResult{
				Title:   "MarketWatch: " + query,
				URL:     "https://www.marketwatch.com/search?q=" + escaped,
				Snippet: "Market news and analysis for this query.",
				Source:  "fallback",
			},
		)
	}
	if containsAny(lower, newsKeywords) {
		results = append(results, models.SearchResult{
			Title:   "Google News: " + query,
			URL:     "https://news.google.com/search?q=" + escaped,
			Snippet: "Recent news coverage for this query.",
			Source:  "fallback",
		})
	}
	return results
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
