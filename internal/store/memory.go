// Package store — in-memory Store implementation.
// Used as a fallback when PostgreSQL is not available (local dev, tests).
// Supports file-based snapshot persistence so data survives restarts.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/deepdive-ai/deepdive/pkg/models"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Settings *models.Settings                    `json:"settings"`
	Provider *models.ProviderConfig              `json:"provider"`
	Sessions map[string]*models.ResearchSession  `json:"sessions"`
	Updates  map[string][]*models.ResearchUpdate `json:"updates"` // key: session id, append order
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu       sync.RWMutex
	settings *models.Settings
	provider *models.ProviderConfig
	sessions map[string]*models.ResearchSession
	updates  map[string][]*models.ResearchUpdate // key: session id, append order

	snapshotPath string     // empty = no persistence
	saveMu       sync.Mutex // guards file writes
}

// NewMemoryStore creates a new in-memory store. If dataDir is non-empty,
// state is persisted to a JSON snapshot in that directory and reloaded on
// construction.
func NewMemoryStore(dataDir string) *MemoryStore {
	m := &MemoryStore{
		settings: DefaultSettings(),
		sessions: make(map[string]*models.ResearchSession),
		updates:  make(map[string][]*models.ResearchUpdate),
	}
	if dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "deepdive.json")
		m.load()
	}
	return m
}

func (m *MemoryStore) load() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Snapshot unreadable, starting fresh")
		}
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Snapshot corrupt, starting fresh")
		return
	}
	if snap.Settings != nil {
		m.settings = snap.Settings
	}
	m.provider = snap.Provider
	if snap.Sessions != nil {
		m.sessions = snap.Sessions
	}
	if snap.Updates != nil {
		m.updates = snap.Updates
	}
	log.Info().Str("path", m.snapshotPath).Int("sessions", len(m.sessions)).Msg("✅ Snapshot loaded")
}

// save writes the current state to the snapshot file. Callers must not hold
// m.mu for writing when snapshotting is enabled; save takes a read lock.
func (m *MemoryStore) save() {
	if m.snapshotPath == "" {
		return
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.RLock()
	snap := snapshot{
		Settings: m.settings,
		Provider: m.provider,
		Sessions: m.sessions,
		Updates:  m.updates,
	}
	data, err := json.Marshal(snap)
	m.mu.RUnlock()
	if err != nil {
		log.Warn().Err(err).Msg("Snapshot marshal failed")
		return
	}

	if err := os.MkdirAll(filepath.Dir(m.snapshotPath), 0o755); err != nil {
		log.Warn().Err(err).Msg("Snapshot dir create failed")
		return
	}
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Warn().Err(err).Msg("Snapshot write failed")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Warn().Err(err).Msg("Snapshot rename failed")
	}
}

// ── Settings ────────────────────────────────────────────────

func (m *MemoryStore) GetSettings(_ context.Context) (*models.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := *m.settings
	return &cp, nil
}

func (m *MemoryStore) PutSettings(_ context.Context, s *models.Settings) error {
	m.mu.Lock()
	cp := *s
	cp.Normalize()
	m.settings = &cp
	m.mu.Unlock()
	m.save()
	return nil
}

// ── Provider Config ─────────────────────────────────────────

func (m *MemoryStore) GetProviderConfig(_ context.Context) (*models.ProviderConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.provider == nil {
		return nil, ErrNotFound
	}
	cp := *m.provider
	cp.Keys = append([]string(nil), m.provider.Keys...)
	return &cp, nil
}

func (m *MemoryStore) PutProviderConfig(_ context.Context, cfg *models.ProviderConfig) error {
	m.mu.Lock()
	cp := *cfg
	cp.Keys = append([]string(nil), cfg.Keys...)
	m.provider = &cp
	m.mu.Unlock()
	m.save()
	return nil
}

// ── Research Sessions ───────────────────────────────────────

func (m *MemoryStore) CreateSession(_ context.Context, s *models.ResearchSession) error {
	m.mu.Lock()
	cp := *s
	m.sessions[s.ID] = &cp
	m.mu.Unlock()
	m.save()
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*models.ResearchSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, s *models.ResearchSession) error {
	m.mu.Lock()
	if _, ok := m.sessions[s.ID]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	cp := *s
	cp.UpdatedAt = time.Now().UTC()
	m.sessions[s.ID] = &cp
	m.mu.Unlock()
	m.save()
	return nil
}

func (m *MemoryStore) ListSessions(_ context.Context, limit int) ([]models.ResearchSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ResearchSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	// Newest first.
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) AppendUpdate(_ context.Context, u *models.ResearchUpdate) error {
	m.mu.Lock()
	if _, ok := m.sessions[u.SessionID]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	cp := *u
	cp.Queries = append([]string(nil), u.Queries...)
	m.updates[u.SessionID] = append(m.updates[u.SessionID], &cp)
	m.mu.Unlock()
	m.save()
	return nil
}

func (m *MemoryStore) ListUpdates(_ context.Context, sessionID string) ([]models.ResearchUpdate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	list := m.updates[sessionID]
	out := make([]models.ResearchUpdate, 0, len(list))
	for _, u := range list {
		out = append(out, *u)
	}
	return out, nil
}

// ── Lifecycle ───────────────────────────────────────────────

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error {
	m.save()
	return nil
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }
