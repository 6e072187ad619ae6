package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/deepdive-ai/deepdive/pkg/models"
	"github.com/rs/zerolog/log"
)

// defaultRelay is the cross-origin relay the proxy-fronted adapters route
// through. Relays of this kind are empirically unreliable, so this adapter
// class carries a stronger contract than the direct ones: on any failure it
// degrades to a single synthetic informational result instead of an empty
// set — never return nothing, never crash.
const defaultRelay = "https://api.allorigins.win/raw?url="

// proxyAdapter is the shared machinery for relay-fronted engines.
type proxyAdapter struct {
	name   string
	relay  string
	client *http.Client

	// target builds the true engine URL for a term.
	target func(term string) string
	// manual builds the direct manual-search URL used by synthetic results.
	manual func(term string) string
	// parse normalizes the engine payload; returning nil triggers degrade.
	parse func(term string, body []byte) []models.SearchResult
}

func (a *proxyAdapter) Name() string { return a.name }

func (a *proxyAdapter) Fetch(ctx context.Context, term string) []models.SearchResult {
	target := a.target(term)

	legCtx, cancel := context.WithTimeout(ctx, proxyLegTimeout)
	defer cancel()

	body, ok := fetchBody(legCtx, a.client, a.relay+url.QueryEscape(target))
	if ok {
		if results := a.parse(term, body); len(results) > 0 {
			return results
		}
	}

	log.Debug().Str("engine", a.name).Str("term", term).Msg("Proxy leg failed, degrading to synthetic result")
	return []models.SearchResult{a.synthetic(target)}
}

// synthetic manufactures the clearly-labeled placeholder result. The query
// is recovered from the target URL's parameters rather than trusted from
// the caller, so the placeholder always reflects what would actually have
// been searched.
func (a *proxyAdapter) synthetic(target string) models.SearchResult {
	term := queryFromURL(target)
	return models.SearchResult{
		Title:   fmt.Sprintf("Search %s for %q", a.name, term),
		URL:     a.manual(term),
		Snippet: fmt.Sprintf("Live retrieval from %s is currently unavailable. Use the link to run this search directly.", a.name),
		Source:  a.name,
	}
}

// queryFromURL extracts the original search term from a target URL's query
// parameters, trying the common parameter names.
func queryFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	values := u.Query()
	for _, k := range []string{"q", "query", "search"} {
		if v := values.Get(k); v != "" {
			return v
		}
	}
	return rawURL
}

// ── DuckDuckGo Instant Answer ────────────────────────────────

// NewDuckDuckGoAdapter wraps the instant-answer endpoint through the relay.
func NewDuckDuckGoAdapter() EngineAdapter {
	return &proxyAdapter{
		name:   "duckduckgo",
		relay:  defaultRelay,
		client: httpClient,
		target: func(term string) string {
			return "https://api.duckduckgo.com/?q=" + url.QueryEscape(term) + "&format=json&no_html=1"
		},
		manual: func(term string) string {
			return "https://duckduckgo.com/?q=" + url.QueryEscape(term)
		},
		parse: parseDuckDuckGo,
	}
}

func parseDuckDuckGo(term string, body []byte) []models.SearchResult {
	var payload struct {
		Heading       string `json:"Heading"`
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		RelatedTopics []struct {
			Text     string `json:"Text"`
			FirstURL string `json:"FirstURL"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}

	var out []models.SearchResult
	if payload.AbstractText != "" && payload.AbstractURL != "" {
		title := payload.Heading
		if title == "" {
			title = term
		}
		out = append(out, models.SearchResult{
			Title:   title,
			URL:     payload.AbstractURL,
			Snippet: payload.AbstractText,
			Source:  "duckduckgo",
		})
	}
	for _, t := range payload.RelatedTopics {
		if len(out) >= 4 {
			break
		}
		if t.Text == "" || t.FirstURL == "" {
			continue
		}
		out = append(out, models.SearchResult{
			Title:   t.Text,
			URL:     t.FirstURL,
			Snippet: t.Text,
			Source:  "duckduckgo",
		})
	}
	return out
}

// ── Reddit forum search ──────────────────────────────────────

// NewRedditAdapter wraps the forum search endpoint through the relay.
func NewRedditAdapter() EngineAdapter {
	return &proxyAdapter{
		name:   "reddit",
		relay:  defaultRelay,
		client: httpClient,
		target: func(term string) string {
			return "https://www.reddit.com/search.json?q=" + url.QueryEscape(term) + "&limit=4"
		},
		manual: func(term string) string {
			return "https://www.reddit.com/search/?q=" + url.QueryEscape(term)
		},
		parse: parseReddit,
	}
}

func parseReddit(_ string, body []byte) []models.SearchResult {
	var payload struct {
		Data struct {
			Children []struct {
				Data struct {
					Title     string `json:"title"`
					Permalink string `json:"permalink"`
					Selftext  string `json:"selftext"`
					Subreddit string `json:"subreddit"`
				} `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}

	var out []models.SearchResult
	for _, c := range payload.Data.Children {
		if len(out) >= 4 {
			break
		}
		d := c.Data
		if d.Title == "" || d.Permalink == "" {
			continue
		}
		snippet := d.Selftext
		if len(snippet) > 200 {
			snippet = snippet[:200] + "…"
		}
		if snippet == "" {
			snippet = "Discussion in r/" + d.Subreddit
		}
		out = append(out, models.SearchResult{
			Title:   d.Title,
			URL:     "https://www.reddit.com" + d.Permalink,
			Snippet: snippet,
			Source:  "reddit",
		})
	}
	return out
}

// ── Qwant regional web search ────────────────────────────────

// NewQwantAdapter wraps the regional engine's JSON API through the relay.
func NewQwantAdapter() EngineAdapter {
	return &proxyAdapter{
		name:   "qwant",
		relay:  defaultRelay,
		client: httpClient,
		target: func(term string) string {
			return "https://api.qwant.com/v3/search/web?q=" + url.QueryEscape(term) + "&count=4&locale=en_US"
		},
		manual: func(term string) string {
			return "https://www.qwant.com/?q=" + url.QueryEscape(term)
		},
		parse: parseQwant,
	}
}

func parseQwant(_ string, body []byte) []models.SearchResult {
	var payload struct {
		Data struct {
			Result struct {
				Items struct {
					Mainline []struct {
						Type  string `json:"type"`
						Items []struct {
							Title string `json:"title"`
							URL   string `json:"url"`
							Desc  string `json:"desc"`
						} `json:"items"`
					} `json:"mainline"`
				} `json:"items"`
			} `json:"result"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}

	var out []models.SearchResult
	for _, block := range payload.Data.Result.Items.Mainline {
		if block.Type != "web" {
			continue
		}
		for _, item := range block.Items {
			if len(out) >= 4 {
				break
			}
			if item.Title == "" || item.URL == "" {
				continue
			}
			out = append(out, models.SearchResult{
				Title:   item.Title,
				URL:     item.URL,
				Snippet: item.Desc,
				Source:  "qwant",
			})
		}
	}
	return out
}
