// Package store provides the storage interface and implementations for the
// research core. The in-memory store covers local dev and tests; the
// Postgres store covers production.
package store

import (
	"context"
	"errors"

	"github.com/deepdive-ai/deepdive/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store is the primary storage interface for the core. All handler and
// pipeline code depends on this interface, making it easy to swap between
// in-memory (tests) and PostgreSQL (production) implementations.
type Store interface {
	SettingsStore
	ProviderConfigStore
	ResearchStore

	// Ping checks if the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate prepares the backing schema.
	Migrate(ctx context.Context) error
}

// ── Settings Store ──────────────────────────────────────────

// SettingsStore holds the single user-editable settings record.
type SettingsStore interface {
	GetSettings(ctx context.Context) (*models.Settings, error)
	PutSettings(ctx context.Context, s *models.Settings) error
}

// ── Provider Config Store ───────────────────────────────────

// ProviderConfigStore holds the single active provider configuration
// (endpoint plus credential pool).
type ProviderConfigStore interface {
	GetProviderConfig(ctx context.Context) (*models.ProviderConfig, error)
	PutProviderConfig(ctx context.Context, cfg *models.ProviderConfig) error
}

// ── Research Store ──────────────────────────────────────────

// ResearchStore manages research sessions and their append-only update logs.
type ResearchStore interface {
	CreateSession(ctx context.Context, s *models.ResearchSession) error
	GetSession(ctx context.Context, id string) (*models.ResearchSession, error)
	UpdateSession(ctx context.Context, s *models.ResearchSession) error
	ListSessions(ctx context.Context, limit int) ([]models.ResearchSession, error)

	// AppendUpdate adds one event to a session's log. Append order is the
	// read order.
	AppendUpdate(ctx context.Context, u *models.ResearchUpdate) error
	ListUpdates(ctx context.Context, sessionID string) ([]models.ResearchUpdate, error)
}

// DefaultSettings seeds a fresh store.
func DefaultSettings() *models.Settings {
	return &models.Settings{
		MinCycles:       2,
		MaxCycles:       10,
		MaxDebateRounds: 20,
	}
}
