// Package search implements the multi-engine web-search aggregation layer:
// one normalizing adapter per external search surface, a query processor
// that focuses free-form queries into search terms, and an aggregator that
// fans out across all adapters in parallel, deduplicates, ranks, and
// degrades to synthetic results when every engine is unreachable.
//
// The cardinal contract of this package is "never return an error": every
// adapter resolves failures (network, parse, timeout) to an empty result
// set so one broken engine cannot abort the aggregate, and the aggregator
// itself always returns a usable outcome.
package search

import (
	"context"
	"net/http"
	"time"

	"github.com/deepdive-ai/deepdive/pkg/models"
)

// Per-call bounds. A timed-out call is treated identically to a failed one.
const (
	// engineCallTimeout is the shared ceiling for one engine × one term.
	engineCallTimeout = 15 * time.Second
	// proxyLegTimeout bounds the relay leg of proxy-fronted adapters.
	proxyLegTimeout = 8 * time.Second
)

// EngineAdapter normalizes one external search surface. Fetch never returns
// an error: any failure yields an empty slice.
type EngineAdapter interface {
	// Name identifies the engine in SearchResult.Source.
	Name() string
	Fetch(ctx context.Context, term string) []models.SearchResult
}

// httpClient is shared by all adapters; per-call deadlines come from the
// context, not the client.
var httpClient = &http.Client{}

// DefaultAdapters returns the production engine set in declaration order,
// which is also the merge order the aggregator's dedup rule depends on.
func DefaultAdapters() []EngineAdapter {
	return []EngineAdapter{
		NewWikipediaAdapter(),
		NewArxivAdapter(),
		NewDuckDuckGoAdapter(),
		NewRedditAdapter(),
		NewQwantAdapter(),
	}
}
