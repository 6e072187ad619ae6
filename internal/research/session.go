// Package research orchestrates one research session: it alternates the
// debate planner with search execution, appends every observable event to
// the session's update log, and enforces the session-level cycle budget.
package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/deepdive-ai/deepdive/internal/debate"
	"github.com/deepdive-ai/deepdive/internal/store"
	"github.com/deepdive-ai/deepdive/pkg/contracts"
	"github.com/deepdive-ai/deepdive/pkg/models"
)

// maxCyclesReason is reported when the search-cycle ceiling forces a finish.
const maxCyclesReason = "Search cycle budget exhausted; concluding with the evidence gathered so far."

// historyCharLimit bounds the evidence text handed back to the planner.
const historyCharLimit = 6000

// Planner is the debate loop as the orchestrator sees it.
type Planner interface {
	Run(ctx context.Context, in debate.Input, record debate.RecordFunc) (debate.Outcome, error)
}

// Runner drives research sessions to completion.
type Runner struct {
	store    store.Store
	planner  Planner
	searcher contracts.Searcher
}

func NewRunner(st store.Store, planner Planner, searcher contracts.Searcher) *Runner {
	return &Runner{store: st, planner: planner, searcher: searcher}
}

// Start creates a new running session and returns it. The caller launches
// Run separately (the HTTP layer runs it in a goroutine with the session's
// cancellable context).
func (r *Runner) Start(ctx context.Context, query, clarification string, fileNames []string) (*models.ResearchSession, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}
	now := time.Now().UTC()
	sess := &models.ResearchSession{
		ID:            uuid.NewString(),
		Query:         query,
		Clarification: clarification,
		FileNames:     fileNames,
		Status:        models.SessionRunning,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// Run executes the session loop until a terminal state. Cancellation via
// ctx marks the session cancelled; any other failure marks it failed.
func (r *Runner) Run(ctx context.Context, sessionID string) error {
	sess, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	settings, err := r.store.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	settings.Normalize()

	log.Info().Str("session", sess.ID).Str("query", sess.Query).Msg("Research session starting")

	err = r.loop(ctx, sess, settings)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		r.close(sess, models.SessionCancelled, "Cancelled by the user.")
		return ctx.Err()
	default:
		log.Error().Err(err).Str("session", sess.ID).Msg("Research session failed")
		r.close(sess, models.SessionFailed, err.Error())
		return err
	}
}

func (r *Runner) loop(ctx context.Context, sess *models.ResearchSession, settings *models.Settings) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		transcript, history, err := r.reconstruct(ctx, sess.ID)
		if err != nil {
			return err
		}

		outcome, err := r.planner.Run(ctx, debate.Input{
			Query:         sess.Query,
			Clarification: sess.Clarification,
			FileNames:     sess.FileNames,
			History:       history,
			Transcript:    transcript,
			SearchCycles:  sess.SearchCycles,
			Settings:      *settings,
		}, func(turn models.DebateTurn) {
			r.append(ctx, sess.ID, &models.ResearchUpdate{
				Kind:    models.UpdateThought,
				Persona: turn.Persona,
				Text:    turn.Thought,
			})
		})
		if err != nil {
			return err
		}

		switch outcome.State {
		case debate.StateFinished, debate.StateTimedOut:
			r.append(ctx, sess.ID, &models.ResearchUpdate{
				Kind: models.UpdateFinish,
				Text: outcome.FinishReason,
			})
			r.close(sess, models.SessionFinished, outcome.FinishReason)
			return nil

		case debate.StateSearching:
			if err := ctx.Err(); err != nil {
				return err
			}
			r.append(ctx, sess.ID, &models.ResearchUpdate{
				Kind:    models.UpdateSearch,
				Queries: outcome.Queries,
			})
			digest := r.executeSearches(ctx, outcome.Queries)
			r.append(ctx, sess.ID, &models.ResearchUpdate{
				Kind: models.UpdateRead,
				Text: digest,
			})

			sess.SearchCycles++
			if err := r.store.UpdateSession(ctx, sess); err != nil {
				return fmt.Errorf("persist cycle count: %w", err)
			}
			if sess.SearchCycles >= settings.MaxCycles {
				log.Info().Str("session", sess.ID).Int("cycles", sess.SearchCycles).Msg("Cycle ceiling reached, forcing finish")
				r.append(ctx, sess.ID, &models.ResearchUpdate{
					Kind: models.UpdateFinish,
					Text: maxCyclesReason,
				})
				r.close(sess, models.SessionFinished, maxCyclesReason)
				return nil
			}

		default:
			return fmt.Errorf("planner ended in non-terminal state %q", outcome.State)
		}
	}
}

// executeSearches runs every query through the aggregator and renders the
// combined evidence as a readable digest.
func (r *Runner) executeSearches(ctx context.Context, queries []string) string {
	var b strings.Builder
	for _, q := range queries {
		if ctx.Err() != nil {
			break
		}
		outcome := r.searcher.Search(ctx, q)
		fmt.Fprintf(&b, "Results for %q:\n", q)
		if len(outcome.Results) == 0 {
			b.WriteString("- (nothing found)\n")
			continue
		}
		for _, res := range outcome.Results {
			fmt.Fprintf(&b, "- %s — %s (%s)\n", res.Title, res.Snippet, res.URL)
		}
	}
	return b.String()
}

// reconstruct rebuilds the debate transcript and the evidence history from
// the session's update log.
func (r *Runner) reconstruct(ctx context.Context, sessionID string) ([]models.DebateTurn, string, error) {
	updates, err := r.store.ListUpdates(ctx, sessionID)
	if err != nil {
		return nil, "", fmt.Errorf("list updates: %w", err)
	}

	var transcript []models.DebateTurn
	var history strings.Builder
	for _, u := range updates {
		switch u.Kind {
		case models.UpdateThought:
			transcript = append(transcript, models.DebateTurn{Persona: u.Persona, Thought: u.Text})
		case models.UpdateRead:
			history.WriteString(u.Text)
			history.WriteString("\n")
		}
	}

	h := history.String()
	if len(h) > historyCharLimit {
		h = h[len(h)-historyCharLimit:]
	}
	return transcript, h, nil
}

// append records one update. Log failures are reported but never abort the
// session: losing an observability event is better than losing the run.
func (r *Runner) append(ctx context.Context, sessionID string, u *models.ResearchUpdate) {
	u.ID = uuid.NewString()
	u.SessionID = sessionID
	u.CreatedAt = time.Now().UTC()
	if err := r.store.AppendUpdate(ctx, u); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Str("kind", string(u.Kind)).Msg("Update append failed")
	}
}

func (r *Runner) close(sess *models.ResearchSession, status models.SessionStatus, reason string) {
	sess.Status = status
	sess.FinishReason = reason
	// Closing uses a background context so cancellation still persists the
	// terminal state.
	if err := r.store.UpdateSession(context.Background(), sess); err != nil {
		log.Warn().Err(err).Str("session", sess.ID).Msg("Session close persist failed")
	}
	log.Info().Str("session", sess.ID).Str("status", string(status)).Msg("Research session closed")
}
