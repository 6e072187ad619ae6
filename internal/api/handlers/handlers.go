// Package handlers implements the HTTP handlers for the research core. All
// handlers depend on the Store interface; the research pipeline (executor,
// aggregator, planner) is built per session from stored provider state so
// sessions never share ambient key rotation.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/deepdive-ai/deepdive/internal/debate"
	"github.com/deepdive-ai/deepdive/internal/provider"
	"github.com/deepdive-ai/deepdive/internal/research"
	"github.com/deepdive-ai/deepdive/internal/resolver"
	"github.com/deepdive-ai/deepdive/internal/search"
	"github.com/deepdive-ai/deepdive/internal/store"
	"github.com/deepdive-ai/deepdive/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store    store.Store
	Resolver *resolver.Resolver

	// TurnDelay paces debate turns in live sessions.
	TurnDelay time.Duration

	// cancels maps running session IDs to their cancel functions.
	cancels sync.Map
}

// New creates a new Handlers instance with all dependencies.
func New(s store.Store, turnDelay time.Duration) *Handlers {
	return &Handlers{
		Store:     s,
		Resolver:  resolver.NewResolver(s),
		TurnDelay: turnDelay,
	}
}

// searcherRef breaks the construction cycle between the dispatcher (which
// consults the aggregator for search-intent requests) and the aggregator
// (whose query processor calls the dispatcher).
type searcherRef struct {
	target provider.Searcher
}

func (r *searcherRef) Search(ctx context.Context, query string) models.SearchOutcome {
	if r.target == nil {
		return models.SearchOutcome{}
	}
	return r.target.Search(ctx, query)
}

// pipeline is one fully wired research stack.
type pipeline struct {
	dispatcher *provider.Dispatcher
	aggregator *search.Aggregator
	runner     *research.Runner
}

// buildPipeline wires a pipeline from the stored provider configuration.
func (h *Handlers) buildPipeline(ctx context.Context) (*pipeline, error) {
	stored, err := h.Store.GetProviderConfig(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.New("no provider configured")
		}
		return nil, err
	}

	cfg := provider.NewConfig(*stored)
	ref := &searcherRef{}
	dispatcher := provider.NewDispatcher(cfg, ref)

	queryModel, err := h.Resolver.Model(ctx, resolver.RoleQuery)
	if err != nil {
		return nil, err
	}
	aggregator := search.NewAggregator(
		search.DefaultAdapters(),
		search.NewQueryProcessor(dispatcher, queryModel),
	)
	ref.target = aggregator

	plannerModel, err := h.Resolver.Model(ctx, resolver.RolePlanner)
	if err != nil {
		return nil, err
	}
	planner := debate.NewPlanner(dispatcher, aggregator, plannerModel)
	planner.TurnDelay = h.TurnDelay

	return &pipeline{
		dispatcher: dispatcher,
		aggregator: aggregator,
		runner:     research.NewRunner(h.Store, planner, aggregator),
	}, nil
}

// ── Research Handlers ────────────────────────────────────────

type startResearchRequest struct {
	Query         string   `json:"query"`
	Clarification string   `json:"clarification,omitempty"`
	FileNames     []string `json:"file_names,omitempty"`
}

func (h *Handlers) StartResearch(w http.ResponseWriter, r *http.Request) {
	var req startResearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	pipe, err := h.buildPipeline(r.Context())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := pipe.runner.Start(r.Context(), req.Query, req.Clarification, req.FileNames)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The session outlives the HTTP request; it runs on its own cancellable
	// context and is stoppable through the cancel endpoint.
	runCtx, cancel := context.WithCancel(context.Background())
	h.cancels.Store(sess.ID, cancel)
	go func() {
		defer h.cancels.Delete(sess.ID)
		defer cancel()
		if err := pipe.runner.Run(runCtx, sess.ID); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Str("session", sess.ID).Msg("Research run ended with error")
		}
	}()

	log.Info().Str("session", sess.ID).Msg("Research session accepted")
	respondJSON(w, http.StatusAccepted, sess)
}

func (h *Handlers) ListResearch(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Store.ListSessions(r.Context(), 50)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []models.ResearchSession{}
	}
	respondJSON(w, http.StatusOK, sessions)
}

func (h *Handlers) GetResearch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, err := h.Store.GetSession(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (h *Handlers) GetResearchUpdates(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	updates, err := h.Store.ListUpdates(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if updates == nil {
		updates = []models.ResearchUpdate{}
	}
	respondJSON(w, http.StatusOK, updates)
}

func (h *Handlers) CancelResearch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, err := h.Store.GetSession(r.Context(), id); errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Session not found")
		return
	}

	cancel, ok := h.cancels.Load(id)
	if !ok {
		respondError(w, http.StatusConflict, "Session is not running")
		return
	}
	cancel.(context.CancelFunc)()
	log.Info().Str("session", id).Msg("Research session cancel requested")
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// ── Settings Handlers ────────────────────────────────────────

func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Store.GetSettings(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

func (h *Handlers) PutSettings(w http.ResponseWriter, r *http.Request) {
	var settings models.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if settings.MinCycles > settings.MaxCycles {
		respondError(w, http.StatusBadRequest, "min_cycles must not exceed max_cycles")
		return
	}
	if err := h.Store.PutSettings(r.Context(), &settings); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	stored, _ := h.Store.GetSettings(r.Context())
	respondJSON(w, http.StatusOK, stored)
}

// ── Provider Handlers ────────────────────────────────────────

// providerView is the read shape: credentials are never echoed back, only
// counted.
type providerView struct {
	Endpoint models.ProviderEndpoint `json:"endpoint"`
	KeyCount int                     `json:"key_count"`
}

func (h *Handlers) GetProvider(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Store.GetProviderConfig(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "No provider configured")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, providerView{Endpoint: cfg.Endpoint, KeyCount: len(cfg.Keys)})
}

func (h *Handlers) PutProvider(w http.ResponseWriter, r *http.Request) {
	var cfg models.ProviderConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if cfg.Endpoint.Kind != models.ProviderGemini && cfg.Endpoint.Kind != models.ProviderOpenRouter {
		respondError(w, http.StatusBadRequest, "endpoint.kind must be gemini or openrouter")
		return
	}
	if err := h.Store.PutProviderConfig(r.Context(), &cfg); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info().Str("kind", string(cfg.Endpoint.Kind)).Int("keys", len(cfg.Keys)).Msg("Provider configuration updated")
	respondJSON(w, http.StatusOK, providerView{Endpoint: cfg.Endpoint, KeyCount: len(cfg.Keys)})
}

func (h *Handlers) GetProviderAdvisory(w http.ResponseWriter, r *http.Request) {
	advisories, err := h.Resolver.Advisories(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if advisories == nil {
		advisories = []resolver.Advisory{}
	}
	respondJSON(w, http.StatusOK, advisories)
}

// ── Direct Pipeline Handlers ─────────────────────────────────

type searchRequest struct {
	Query string `json:"query"`
}

// DirectSearch exposes the aggregator without a debate loop, mainly for the
// UI's manual search box and for smoke-testing engine health.
func (h *Handlers) DirectSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	pipe, err := h.buildPipeline(r.Context())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, pipe.aggregator.Search(r.Context(), req.Query))
}

type generateRequest struct {
	Model             string   `json:"model"`
	Contents          any      `json:"contents"`
	SystemInstruction string   `json:"system_instruction,omitempty"`
	JSONOutput        bool     `json:"json_output,omitempty"`
	Temperature       *float32 `json:"temperature,omitempty"`
	MaxOutputTokens   int      `json:"max_output_tokens,omitempty"`
	SearchIntent      bool     `json:"search_intent,omitempty"`
}

// DirectGenerate exposes the executor for one-shot calls.
func (h *Handlers) DirectGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	pipe, err := h.buildPipeline(r.Context())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := pipe.dispatcher.Generate(r.Context(), &models.GenerationRequest{
		Model:             req.Model,
		Contents:          req.Contents,
		SystemInstruction: req.SystemInstruction,
		JSONOutput:        req.JSONOutput,
		Temperature:       req.Temperature,
		MaxOutputTokens:   req.MaxOutputTokens,
		SearchIntent:      req.SearchIntent,
	})
	switch {
	case errors.Is(err, provider.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, provider.ErrNoCredentials):
		respondError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		respondJSON(w, http.StatusOK, res)
	}
}

// ── Respond helpers ──────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Response encode failed")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
