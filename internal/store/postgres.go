package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/deepdive-ai/deepdive/pkg/models"
)

// PostgresStore implements Store on PostgreSQL via pgxpool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and prepares the schema. The
// initial connection is retried with exponential backoff so the core can
// start before the database is ready (container orchestration ordering).
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = 30 * time.Second
	err = backoff.Retry(func() error {
		return pool.Ping(ctx)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("✅ Postgres store initialized")
	return s, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS dd_singletons (
			name       TEXT PRIMARY KEY,
			payload    JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS dd_sessions (
			id            TEXT PRIMARY KEY,
			query         TEXT NOT NULL,
			clarification TEXT NOT NULL DEFAULT '',
			file_names    JSONB NOT NULL DEFAULT '[]',
			status        TEXT NOT NULL,
			finish_reason TEXT NOT NULL DEFAULT '',
			search_cycles INT NOT NULL DEFAULT 0,
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS dd_updates (
			seq        BIGSERIAL PRIMARY KEY,
			id         TEXT NOT NULL,
			session_id TEXT NOT NULL REFERENCES dd_sessions(id) ON DELETE CASCADE,
			kind       TEXT NOT NULL,
			persona    TEXT NOT NULL DEFAULT '',
			body       TEXT NOT NULL DEFAULT '',
			queries    JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS dd_updates_session_idx ON dd_updates (session_id, seq);
	`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// ── Singleton records (settings, provider config) ───────────

func (s *PostgresStore) getSingleton(ctx context.Context, name string, out any) error {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM dd_singletons WHERE name = $1`, name).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", name, err)
	}
	return json.Unmarshal(payload, out)
}

func (s *PostgresStore) putSingleton(ctx context.Context, name string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO dd_singletons (name, payload, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET payload = $2, updated_at = NOW()`,
		name, payload)
	if err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	return nil
}

func (s *PostgresStore) GetSettings(ctx context.Context) (*models.Settings, error) {
	var settings models.Settings
	err := s.getSingleton(ctx, "settings", &settings)
	if errors.Is(err, ErrNotFound) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *PostgresStore) PutSettings(ctx context.Context, settings *models.Settings) error {
	cp := *settings
	cp.Normalize()
	return s.putSingleton(ctx, "settings", &cp)
}

func (s *PostgresStore) GetProviderConfig(ctx context.Context) (*models.ProviderConfig, error) {
	var cfg models.ProviderConfig
	if err := s.getSingleton(ctx, "provider", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *PostgresStore) PutProviderConfig(ctx context.Context, cfg *models.ProviderConfig) error {
	return s.putSingleton(ctx, "provider", cfg)
}

// ── Research Sessions ───────────────────────────────────────

func (s *PostgresStore) CreateSession(ctx context.Context, sess *models.ResearchSession) error {
	fileNames, err := json.Marshal(sess.FileNames)
	if err != nil {
		return fmt.Errorf("marshal file names: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO dd_sessions (id, query, clarification, file_names, status,
			finish_reason, search_cycles, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sess.ID, sess.Query, sess.Clarification, fileNames, sess.Status,
		sess.FinishReason, sess.SearchCycles, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*models.ResearchSession, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, query, clarification, file_names, status, finish_reason,
			search_cycles, created_at, updated_at
		FROM dd_sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) UpdateSession(ctx context.Context, sess *models.ResearchSession) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE dd_sessions
		SET status = $2, finish_reason = $3, search_cycles = $4, updated_at = NOW()
		WHERE id = $1`,
		sess.ID, sess.Status, sess.FinishReason, sess.SearchCycles)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, limit int) ([]models.ResearchSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, query, clarification, file_names, status, finish_reason,
			search_cycles, created_at, updated_at
		FROM dd_sessions ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []models.ResearchSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func scanSession(row pgx.Row) (*models.ResearchSession, error) {
	var sess models.ResearchSession
	var fileNames []byte
	err := row.Scan(&sess.ID, &sess.Query, &sess.Clarification, &fileNames,
		&sess.Status, &sess.FinishReason, &sess.SearchCycles,
		&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fileNames, &sess.FileNames); err != nil {
		return nil, fmt.Errorf("unmarshal file names: %w", err)
	}
	return &sess, nil
}

// ── Research Updates ────────────────────────────────────────

func (s *PostgresStore) AppendUpdate(ctx context.Context, u *models.ResearchUpdate) error {
	queries, err := json.Marshal(u.Queries)
	if err != nil {
		return fmt.Errorf("marshal queries: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO dd_updates (id, session_id, kind, persona, body, queries, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.SessionID, u.Kind, u.Persona, u.Text, queries, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("append update: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListUpdates(ctx context.Context, sessionID string) ([]models.ResearchUpdate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, kind, persona, body, queries, created_at
		FROM dd_updates WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list updates: %w", err)
	}
	defer rows.Close()

	var out []models.ResearchUpdate
	for rows.Next() {
		var u models.ResearchUpdate
		var queries []byte
		if err := rows.Scan(&u.ID, &u.SessionID, &u.Kind, &u.Persona,
			&u.Text, &queries, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan update: %w", err)
		}
		if err := json.Unmarshal(queries, &u.Queries); err != nil {
			return nil, fmt.Errorf("unmarshal queries: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ── Lifecycle ───────────────────────────────────────────────

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
