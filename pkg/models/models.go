// Package models defines the shared data types for the DeepDive core:
// provider requests/results, search results and citations, debate turns,
// planner decisions, research sessions, and user-editable settings.
//
// Everything here is pure data with JSON tags — no behavior beyond small
// normalization helpers — so the types can cross the HTTP boundary and the
// store without translation.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// ── Providers & Credentials ──────────────────────────────────

// ProviderKind identifies which upstream API protocol a base URL speaks.
type ProviderKind string

const (
	// ProviderGemini is the Google Gemini API (generateContent protocol).
	ProviderGemini ProviderKind = "gemini"
	// ProviderOpenRouter is the OpenAI-compatible chat-completions protocol.
	ProviderOpenRouter ProviderKind = "openrouter"
)

// ProviderEndpoint is the active upstream endpoint for a pipeline.
// Exactly one endpoint is active per research session.
type ProviderEndpoint struct {
	BaseURL string       `json:"base_url"`
	Kind    ProviderKind `json:"kind"`
}

// ProviderConfig is the stored provider state: the active endpoint and the
// ordered credential pool. Keys are opaque strings; which provider family a
// key belongs to is inferred from the base URL, never from key contents.
type ProviderConfig struct {
	Endpoint ProviderEndpoint `json:"endpoint"`
	Keys     []string         `json:"keys"`
}

// ── Generation Request / Result ──────────────────────────────

// Part is one piece of turn content: text or an inline binary attachment.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inline_data,omitempty"`
}

// InlineData is an inline binary attachment (image, PDF page, …).
type InlineData struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Turn is one conversational turn in Gemini's contents shape.
// Role is "user" or "model".
type Turn struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// ToolFlags requests provider-side tools for a generation call.
type ToolFlags struct {
	// GoogleSearch asks for search-grounded generation. Gemini supports it
	// natively; OpenRouter approximates it (see the executor).
	GoogleSearch bool `json:"google_search,omitempty"`
}

// GenerationRequest is a provider-agnostic generate-content call.
// It is immutable once built; construct a fresh one per call.
//
// Contents accepts the flexible shapes the pipeline produces upstream:
// a plain string, a single Turn, or a []Turn. Executors normalize it with
// NormalizeContents; unsupported shapes are passed through best-effort with
// a logged warning rather than failing the call.
type GenerationRequest struct {
	Model             string         `json:"model"`
	Contents          any            `json:"contents"`
	SystemInstruction string         `json:"system_instruction,omitempty"`
	ResponseSchema    map[string]any `json:"response_schema,omitempty"`
	JSONOutput        bool           `json:"json_output,omitempty"`
	Temperature       *float32       `json:"temperature,omitempty"`
	MaxOutputTokens   int            `json:"max_output_tokens,omitempty"`
	Tools             ToolFlags      `json:"tools,omitempty"`

	// SearchIntent marks the request as semantically a web-search request,
	// which lets the OpenRouter path prepend aggregated live results.
	SearchIntent bool `json:"search_intent,omitempty"`
}

// NormalizeContents converts the flexible contents shape into Gemini's strict
// turn-array form. The second return is false when the shape was not
// recognized; callers should pass the original value through and log.
func NormalizeContents(contents any) ([]Turn, bool) {
	switch c := contents.(type) {
	case string:
		return []Turn{{Role: "user", Parts: []Part{{Text: c}}}}, true
	case Turn:
		t := c
		if t.Role == "" {
			t.Role = "user"
		}
		return []Turn{t}, true
	case *Turn:
		if c == nil {
			return nil, false
		}
		return NormalizeContents(*c)
	case []Turn:
		out := make([]Turn, len(c))
		for i, t := range c {
			if t.Role == "" {
				t.Role = "user"
			}
			out[i] = t
		}
		return out, true
	default:
		return nil, false
	}
}

// Candidate is one raw structured completion candidate, kept for callers
// that need more than the flattened text.
type Candidate struct {
	Text         string `json:"text,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// GenerationResult is the normalized output of any provider. Callers never
// see provider-specific fields.
type GenerationResult struct {
	Text       string      `json:"text"`
	Candidates []Candidate `json:"candidates,omitempty"`
	Citations  []Citation  `json:"citations,omitempty"`
}

// ── Search ───────────────────────────────────────────────────

// SearchResult is the uniform shape every engine adapter returns.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	// Source identifies which engine found this result (e.g. "wikipedia").
	Source string `json:"source"`
}

// Citation attributes a claim to a retrieved source. It is a projection of
// SearchResult; citations are deduplicated by URL only.
type Citation struct {
	Source string `json:"source"`
	Title  string `json:"title"`
	URL    string `json:"url"`
}

// CitationOf projects a search result into a citation.
func CitationOf(r SearchResult) Citation {
	return Citation{Source: r.Source, Title: r.Title, URL: r.URL}
}

// ProcessedQuery is the output of the query processor: a small ordered set of
// focused search terms derived once per aggregation call.
type ProcessedQuery struct {
	OriginalQuery string `json:"original_query"`
	// SearchTerms is ordered most-specific first and capped at 4 terms.
	SearchTerms []string `json:"search_terms"`
	PrimaryTerm string   `json:"primary_term"`
	Context     string   `json:"context,omitempty"`
}

// SearchOutcome is the aggregator's result/citation pair.
type SearchOutcome struct {
	Results   []SearchResult `json:"results"`
	Citations []Citation     `json:"citations"`
}

// ── Debate ───────────────────────────────────────────────────

// Persona is one of the two fixed debate roles that alternate turns.
type Persona string

const (
	PersonaAlpha Persona = "alpha"
	PersonaBeta  Persona = "beta"
)

// Other returns the opposing persona.
func (p Persona) Other() Persona {
	if p == PersonaAlpha {
		return PersonaBeta
	}
	return PersonaAlpha
}

// DebateTurn is one persona utterance in the debate transcript.
type DebateTurn struct {
	Persona Persona `json:"persona"`
	Thought string  `json:"thought"`
}

// PlannerAction is the decision space of a debate turn.
type PlannerAction string

const (
	ActionSearch         PlannerAction = "search"
	ActionContinueDebate PlannerAction = "continue_debate"
	ActionFinish         PlannerAction = "finish"
)

// PlannerDecision is a sanitized debate decision. Queries is populated only
// for ActionSearch (1–4 non-empty trimmed strings); FinishReason only for
// ActionFinish. A decision is never trusted raw — it is always produced by
// the sanitizer in internal/debate.
type PlannerDecision struct {
	Thought      string        `json:"thought"`
	Action       PlannerAction `json:"action"`
	Queries      []string      `json:"queries,omitempty"`
	FinishReason string        `json:"finish_reason,omitempty"`
}

// ── Research Sessions & Updates ──────────────────────────────

// UpdateKind types the events the core appends to the research log.
type UpdateKind string

const (
	// UpdateThought is a persona reasoning turn.
	UpdateThought UpdateKind = "thought"
	// UpdateSearch records a list of queries about to be executed.
	UpdateSearch UpdateKind = "search"
	// UpdateRead records retrieved content the pipeline ingested.
	UpdateRead UpdateKind = "read"
	// UpdateFinish closes the session with a reason.
	UpdateFinish UpdateKind = "finish"
)

// ResearchUpdate is one typed event in a session's research log.
type ResearchUpdate struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	Kind      UpdateKind `json:"kind"`
	Persona   Persona    `json:"persona,omitempty"`
	Text      string     `json:"text,omitempty"`
	Queries   []string   `json:"queries,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// SessionStatus is the lifecycle of a research session.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionFinished  SessionStatus = "finished"
	SessionCancelled SessionStatus = "cancelled"
	SessionFailed    SessionStatus = "failed"
)

// ResearchSession is one user research run.
type ResearchSession struct {
	ID            string        `json:"id"`
	Query         string        `json:"query"`
	Clarification string        `json:"clarification,omitempty"`
	FileNames     []string      `json:"file_names,omitempty"`
	Status        SessionStatus `json:"status"`
	FinishReason  string        `json:"finish_reason,omitempty"`
	SearchCycles  int           `json:"search_cycles"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ── Settings ─────────────────────────────────────────────────

// Settings are the user-editable pipeline bounds and model overrides.
// Invariant: MinCycles ≤ MaxCycles.
type Settings struct {
	MinCycles       int `json:"min_cycles"`
	MaxCycles       int `json:"max_cycles"`
	MaxDebateRounds int `json:"max_debate_rounds"`

	// ModelOverrides maps a pipeline role (e.g. "planner", "alpha", "beta",
	// "query") to an explicit model name. Absent roles use provider defaults.
	ModelOverrides map[string]string `json:"model_overrides,omitempty"`
}

// Normalize clamps obviously-broken settings rather than rejecting them.
func (s *Settings) Normalize() {
	if s.MinCycles < 0 {
		s.MinCycles = 0
	}
	if s.MaxCycles < s.MinCycles {
		s.MaxCycles = s.MinCycles
	}
	if s.MaxDebateRounds < 1 {
		s.MaxDebateRounds = 1
	}
}

// ── Small helpers ────────────────────────────────────────────

// Stringify renders any JSON-able value as a string. Strings pass through;
// everything else is JSON-encoded. Used when coercing malformed LLM output.
func Stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
