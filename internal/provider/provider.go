// Package provider implements the resilient request executors that turn a
// logical generate-content call into reliable output despite unreliable
// upstream LLM APIs, multiple API keys, and two incompatible protocols.
//
// Two executors exist: GeminiExecutor (Google Gemini via the official genai
// SDK) and OpenRouterExecutor (OpenAI-compatible chat completions via
// go-openai with a custom base URL). Both share the same retry engine:
// every attempt draws the next credential round-robin from the keyring,
// HTTP 429 triggers a linear-in-cycle backoff, anything else logs and moves
// straight to the next attempt, and the whole budget is keyCount × 3.
package provider

import (
	"context"
	"strings"

	"github.com/deepdive-ai/deepdive/internal/keyring"
	"github.com/deepdive-ai/deepdive/pkg/contracts"
	"github.com/deepdive-ai/deepdive/pkg/models"
)

// Default base URLs used when the stored endpoint does not name one.
const (
	DefaultGeminiBaseURL     = "https://generativelanguage.googleapis.com"
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// geminiModelMarker is the substring that routes a model name to the Gemini
// executor. Routing by name is a compatibility behavior, not a negotiated
// capability; it is isolated here so it can be replaced by explicit
// per-request provider tagging without touching callers.
const geminiModelMarker = "gemini"

// KindForModel selects the provider family for a model name.
func KindForModel(model string) models.ProviderKind {
	if strings.Contains(strings.ToLower(model), geminiModelMarker) {
		return models.ProviderGemini
	}
	return models.ProviderOpenRouter
}

// Executor is the public contract of a request executor.
type Executor interface {
	// Generate runs the request through the retry engine and returns a
	// normalized result. It fails with *AllKeysExhaustedError when no
	// attempt across the full budget succeeds, ErrNoCredentials when the
	// key pool is empty, or ErrInvalidRequest for unusable requests.
	Generate(ctx context.Context, req *models.GenerationRequest) (*models.GenerationResult, error)
}

// Searcher supplies live web context for search-intent requests on providers
// without native grounding. Satisfied by the search aggregator.
type Searcher = contracts.Searcher

// Config carries the per-pipeline provider state. It is built from the store
// and passed explicitly so concurrent sessions never share ambient key
// rotation or endpoint selection.
type Config struct {
	Endpoint models.ProviderEndpoint
	Rotator  *keyring.Rotator
}

// NewConfig builds a Config from stored provider state.
func NewConfig(pc models.ProviderConfig) Config {
	return Config{
		Endpoint: pc.Endpoint,
		Rotator:  keyring.New(pc.Keys),
	}
}

// baseURLFor returns the configured base URL when the active endpoint kind
// matches, else the provider default.
func (c Config) baseURLFor(kind models.ProviderKind) string {
	if c.Endpoint.Kind == kind && c.Endpoint.BaseURL != "" {
		return c.Endpoint.BaseURL
	}
	if kind == models.ProviderGemini {
		return DefaultGeminiBaseURL
	}
	return DefaultOpenRouterBaseURL
}

// Dispatcher routes each call to the executor matching the requested model
// name and implements Executor itself.
type Dispatcher struct {
	gemini     Executor
	openrouter Executor
}

// NewDispatcher wires both executors over one shared credential rotator.
// searcher may be nil; it only affects OpenRouter search-intent requests.
func NewDispatcher(cfg Config, searcher Searcher) *Dispatcher {
	return &Dispatcher{
		gemini:     NewGeminiExecutor(cfg),
		openrouter: NewOpenRouterExecutor(cfg, searcher),
	}
}

// Generate routes by model name: names containing the Gemini marker go to
// the Gemini executor, everything else to OpenRouter.
func (d *Dispatcher) Generate(ctx context.Context, req *models.GenerationRequest) (*models.GenerationResult, error) {
	if req == nil || strings.TrimSpace(req.Model) == "" {
		return nil, ErrInvalidRequest
	}
	if KindForModel(req.Model) == models.ProviderGemini {
		return d.gemini.Generate(ctx, req)
	}
	return d.openrouter.Generate(ctx, req)
}
