// Package contracts defines the collaborator interfaces of the research
// core: what the pipeline consumes from its surroundings (settings,
// credentials) and what it produces into them (research updates). The
// concrete implementations live in internal/; these interfaces exist so an
// embedding application can substitute its own.
package contracts

import (
	"context"

	"github.com/deepdive-ai/deepdive/internal/store"
	"github.com/deepdive-ai/deepdive/pkg/models"
)

// Store is a type alias for the internal Store interface, exposed so an
// embedding application can reference it without importing internal/.
type Store = store.Store

// SettingsProvider exposes the user-editable pipeline bounds.
type SettingsProvider interface {
	GetSettings(ctx context.Context) (*models.Settings, error)
}

// CredentialSource exposes the active provider endpoint and key pool.
type CredentialSource interface {
	GetProviderConfig(ctx context.Context) (*models.ProviderConfig, error)
}

// ResearchSink receives typed update events from a running session. The
// core only appends; it never reads arbitrary state back beyond the log
// tail it needs to reconstruct debate alternation.
type ResearchSink interface {
	AppendUpdate(ctx context.Context, u *models.ResearchUpdate) error
	ListUpdates(ctx context.Context, sessionID string) ([]models.ResearchUpdate, error)
}

// Generator is a request executor as collaborators see it: one logical
// generate call, normalized output, explicit error.
type Generator interface {
	Generate(ctx context.Context, req *models.GenerationRequest) (*models.GenerationResult, error)
}

// Searcher is the aggregated web search surface. The outcome may be empty
// but the call never fails.
type Searcher interface {
	Search(ctx context.Context, query string) models.SearchOutcome
}
