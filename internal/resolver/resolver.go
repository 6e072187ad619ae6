// Package resolver resolves per-role model names at pipeline-build time.
//
// Every pipeline role (planner personas, query analysis) can carry a
// user-configured model override; absent roles fall back to a per-provider
// default. The resolver also produces a user-facing advisory when an
// override's name format belongs to the provider that is not active —
// a misconfiguration worth surfacing, but not worth failing the pipeline.
package resolver

import (
	"context"
	"fmt"

	"github.com/deepdive-ai/deepdive/internal/provider"
	"github.com/deepdive-ai/deepdive/internal/store"
	"github.com/deepdive-ai/deepdive/pkg/models"
)

// Pipeline roles.
const (
	RolePlanner = "planner"
	RoleAlpha   = "alpha"
	RoleBeta    = "beta"
	RoleQuery   = "query"
)

// Per-provider defaults used when a role has no override.
var providerDefaults = map[models.ProviderKind]string{
	models.ProviderGemini:     "gemini-2.0-flash",
	models.ProviderOpenRouter: "meta-llama/llama-3.3-70b-instruct:free",
}

// Advisory is a non-fatal configuration warning surfaced to the UI.
type Advisory struct {
	Role    string `json:"role"`
	Model   string `json:"model"`
	Message string `json:"message"`
}

// Resolver resolves role models against stored settings and the active
// provider configuration. The accessor is a constructor argument; there is
// no lazy global lookup.
type Resolver struct {
	store store.Store
}

func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// Model resolves the model name for one role.
func (r *Resolver) Model(ctx context.Context, role string) (string, error) {
	settings, err := r.store.GetSettings(ctx)
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}
	if m, ok := settings.ModelOverrides[role]; ok && m != "" {
		return m, nil
	}

	kind := models.ProviderGemini
	if cfg, err := r.store.GetProviderConfig(ctx); err == nil {
		kind = cfg.Endpoint.Kind
	}
	return providerDefaults[kind], nil
}

// Advisories reports overrides whose name format belongs to the inactive
// provider. Routing is by model-name convention, so such an override will
// silently route past the configured endpoint — legal, but almost always a
// mistake.
func (r *Resolver) Advisories(ctx context.Context) ([]Advisory, error) {
	settings, err := r.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	cfg, err := r.store.GetProviderConfig(ctx)
	if err != nil {
		// No provider configured yet means nothing to mismatch.
		return nil, nil
	}

	var out []Advisory
	for _, role := range []string{RolePlanner, RoleAlpha, RoleBeta, RoleQuery} {
		model := settings.ModelOverrides[role]
		if model == "" {
			continue
		}
		kind := provider.KindForModel(model)
		if kind != cfg.Endpoint.Kind {
			out = append(out, Advisory{
				Role:  role,
				Model: model,
				Message: fmt.Sprintf(
					"model %q for role %q looks like a %s model, but the active provider is %s",
					model, role, kind, cfg.Endpoint.Kind),
			})
		}
	}
	return out, nil
}
