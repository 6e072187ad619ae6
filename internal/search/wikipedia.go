package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/deepdive-ai/deepdive/pkg/models"
	"github.com/rs/zerolog/log"
)

const wikipediaMaxResults = 5

// WikipediaAdapter queries the encyclopedia's opensearch endpoint directly.
// The response is a positional JSON array: [query, titles, snippets, urls].
type WikipediaAdapter struct {
	endpoint string
	client   *http.Client
}

func NewWikipediaAdapter() *WikipediaAdapter {
	return &WikipediaAdapter{
		endpoint: "https://en.wikipedia.org/w/api.php",
		client:   httpClient,
	}
}

func (a *WikipediaAdapter) Name() string { return "wikipedia" }

func (a *WikipediaAdapter) Fetch(ctx context.Context, term string) []models.SearchResult {
	q := url.Values{
		"action":    {"opensearch"},
		"search":    {term},
		"limit":     {"5"},
		"format":    {"json"},
		"origin":    {"*"},
		"redirects": {"resolve"},
	}

	body, ok := fetchBody(ctx, a.client, a.endpoint+"?"+q.Encode())
	if !ok {
		return nil
	}

	var payload []json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil || len(payload) < 4 {
		log.Debug().Str("engine", a.Name()).Msg("Unexpected opensearch payload shape")
		return nil
	}
	var titles, snippets, urls []string
	if json.Unmarshal(payload[1], &titles) != nil ||
		json.Unmarshal(payload[2], &snippets) != nil ||
		json.Unmarshal(payload[3], &urls) != nil {
		return nil
	}

	var out []models.SearchResult
	for i := 0; i < len(titles) && i < len(urls) && i < wikipediaMaxResults; i++ {
		snippet := ""
		if i < len(snippets) {
			snippet = snippets[i]
		}
		if snippet == "" {
			snippet = "Wikipedia article: " + titles[i]
		}
		out = append(out, models.SearchResult{
			Title:   titles[i],
			URL:     urls[i],
			Snippet: snippet,
			Source:  a.Name(),
		})
	}
	return out
}

// fetchBody performs a bounded GET and reads the body. Any failure resolves
// to (nil, false) — adapters never propagate errors.
func fetchBody(ctx context.Context, client *http.Client, rawURL string) ([]byte, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false
	}
	req.Header.Set("Accept", "application/json, application/xml, text/xml")

	resp, err := client.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("url", rawURL).Msg("Engine fetch failed")
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Debug().Int("status", resp.StatusCode).Str("url", rawURL).Msg("Engine fetch non-OK")
		return nil, false
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false
	}
	return body, true
}
