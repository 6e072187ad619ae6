package search

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/url"
	"strings"

	"github.com/deepdive-ai/deepdive/pkg/models"
)

const arxivMaxResults = 3

// ArxivAdapter queries the academic-preprint Atom feed directly.
type ArxivAdapter struct {
	endpoint string
	client   *http.Client
}

func NewArxivAdapter() *ArxivAdapter {
	return &ArxivAdapter{
		endpoint: "https://export.arxiv.org/api/query",
		client:   httpClient,
	}
}

func (a *ArxivAdapter) Name() string { return "arxiv" }

type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	Title   string `xml:"title"`
	Summary string `xml:"summary"`
	ID      string `xml:"id"`
	Links   []struct {
		Href string `xml:"href,attr"`
		Rel  string `xml:"rel,attr"`
	} `xml:"link"`
}

func (a *ArxivAdapter) Fetch(ctx context.Context, term string) []models.SearchResult {
	q := url.Values{
		"search_query": {"all:" + term},
		"start":        {"0"},
		"max_results":  {"3"},
	}

	body, ok := fetchBody(ctx, a.client, a.endpoint+"?"+q.Encode())
	if !ok {
		return nil
	}

	var feed arxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil
	}

	var out []models.SearchResult
	for i, e := range feed.Entries {
		if i >= arxivMaxResults {
			break
		}
		link := e.ID
		for _, l := range e.Links {
			if l.Rel == "alternate" && l.Href != "" {
				link = l.Href
			}
		}
		snippet := collapseWhitespace(e.Summary)
		if len(snippet) > 300 {
			snippet = snippet[:300] + "…"
		}
		out = append(out, models.SearchResult{
			Title:   collapseWhitespace(e.Title),
			URL:     link,
			Snippet: snippet,
			Source:  a.Name(),
		})
	}
	return out
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
