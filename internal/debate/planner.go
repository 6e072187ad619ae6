package debate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/deepdive-ai/deepdive/internal/jsonutil"
	"github.com/deepdive-ai/deepdive/pkg/contracts"
	"github.com/deepdive-ai/deepdive/pkg/models"
)

// State is the planner's position in its finite-state machine. Debating is
// the only non-terminal state; a Run call always ends in one of the other
// three.
type State string

const (
	StateDebating  State = "debating"
	StateSearching State = "searching"
	StateFinished  State = "finished"
	StateTimedOut  State = "timed_out"
)

// defaultTurnDelay paces the observable turn stream for live listeners. It
// has no correctness effect.
const defaultTurnDelay = 400 * time.Millisecond

// timedOutReason is the fixed reason reported when the round ceiling trips.
const timedOutReason = "Debate timed out before the personas reached a conclusion."

// defaultFinishReason covers finish decisions that carried no reason.
const defaultFinishReason = "The personas agreed the gathered evidence answers the question."

// webSignalsLimit bounds the grounding digest to the top citations.
const webSignalsLimit = 5

// Input is everything one planning run needs from the session.
type Input struct {
	Query         string
	Clarification string
	FileNames     []string
	// History is the accumulated search/read evidence text.
	History string
	// Transcript is the debate tail reconstructed from the research log;
	// the planner derives whose turn is next from it.
	Transcript []models.DebateTurn
	// SearchCycles is how many search cycles the session has completed.
	SearchCycles int
	Settings     models.Settings
}

// Outcome is the terminal result of one planning run.
type Outcome struct {
	State        State
	Queries      []string
	FinishReason string
}

// RecordFunc receives every persona turn the moment it is produced, before
// the planner acts on it.
type RecordFunc func(turn models.DebateTurn)

// Planner drives the alternating-persona loop. searcher supplies the
// optional web-signals digest and may be nil.
type Planner struct {
	generator contracts.Generator
	searcher  contracts.Searcher
	model     string

	// TurnDelay paces successive turns. Zero disables pacing.
	TurnDelay time.Duration

	sleep func(ctx context.Context, d time.Duration)
}

func NewPlanner(generator contracts.Generator, searcher contracts.Searcher, model string) *Planner {
	return &Planner{
		generator: generator,
		searcher:  searcher,
		model:     model,
		TurnDelay: defaultTurnDelay,
		sleep:     sleepCtx,
	}
}

// Run loops persona turns until a terminal state. Every turn is handed to
// record before its action is evaluated, so the transcript is complete even
// if the caller's context dies mid-round. The loop is bounded by
// MaxDebateRounds and therefore always terminates.
func (p *Planner) Run(ctx context.Context, in Input, record RecordFunc) (Outcome, error) {
	settings := in.Settings
	settings.Normalize()

	transcript := append([]models.DebateTurn(nil), in.Transcript...)
	finishStreak := 0

	for round := 1; round <= settings.MaxDebateRounds; round++ {
		if err := ctx.Err(); err != nil {
			return Outcome{State: StateDebating}, err
		}

		persona := nextPersona(transcript)
		digest := p.webSignals(ctx, in.Query)

		res, err := p.generator.Generate(ctx, &models.GenerationRequest{
			Model:             p.model,
			Contents:          p.buildPrompt(in, persona, transcript, digest),
			SystemInstruction: personaInstruction(persona),
			JSONOutput:        true,
		})
		if err != nil {
			return Outcome{State: StateDebating}, fmt.Errorf("persona %s turn: %w", persona, err)
		}

		decision := p.decide(res.Text)
		turn := models.DebateTurn{Persona: persona, Thought: decision.Thought}
		transcript = append(transcript, turn)
		if record != nil {
			record(turn)
		}
		p.sleep(ctx, p.TurnDelay)

		switch decision.Action {
		case models.ActionFinish:
			finishStreak++
			if in.SearchCycles < settings.MinCycles && finishStreak < 2 {
				log.Debug().
					Int("search_cycles", in.SearchCycles).
					Int("min_cycles", settings.MinCycles).
					Msg("Finish below cycle floor, overriding to continue")
				continue
			}
			reason := decision.FinishReason
			if reason == "" {
				reason = defaultFinishReason
			}
			return Outcome{State: StateFinished, FinishReason: reason}, nil

		case models.ActionSearch:
			finishStreak = 0
			if len(decision.Queries) > 0 {
				return Outcome{State: StateSearching, Queries: decision.Queries}, nil
			}

		default:
			finishStreak = 0
		}
	}

	log.Info().Int("rounds", settings.MaxDebateRounds).Msg("Debate hit its round ceiling")
	if record != nil {
		record(models.DebateTurn{
			Persona: nextPersona(transcript),
			Thought: timedOutReason,
		})
	}
	return Outcome{State: StateTimedOut, FinishReason: timedOutReason}, nil
}

// decide sanitizes raw model text into a decision. Totally malformed output
// becomes the persona's verbatim thought with a forced continue, so the
// loop always makes forward progress.
func (p *Planner) decide(raw string) *models.PlannerDecision {
	if obj, ok := jsonutil.ExtractObject(raw); ok {
		if d := Sanitize(obj); d != nil {
			return d
		}
	}
	log.Warn().Msg("Planner output unusable, treating raw text as the thought")
	return &models.PlannerDecision{
		Thought: strings.TrimSpace(raw),
		Action:  models.ActionContinueDebate,
	}
}

// nextPersona derives whose turn it is from the transcript tail. Alternation
// is enforced here, by construction, never by trusting model output.
func nextPersona(transcript []models.DebateTurn) models.Persona {
	if len(transcript) == 0 {
		return models.PersonaAlpha
	}
	return transcript[len(transcript)-1].Persona.Other()
}

// webSignals fetches a short grounding digest. Failure is non-fatal and
// yields an empty digest.
func (p *Planner) webSignals(ctx context.Context, query string) string {
	if p.searcher == nil || query == "" {
		return ""
	}
	outcome := p.searcher.Search(ctx, query)
	if len(outcome.Citations) == 0 {
		return ""
	}
	var b strings.Builder
	for i, c := range outcome.Citations {
		if i >= webSignalsLimit {
			break
		}
		fmt.Fprintf(&b, "- %s (%s)\n", c.Title, c.URL)
	}
	return b.String()
}

func personaInstruction(persona models.Persona) string {
	role := "You are Researcher Alpha, the evidence gatherer. You push to collect more sources before concluding."
	if persona == models.PersonaBeta {
		role = "You are Researcher Beta, the critical reviewer. You challenge weak evidence and push toward a defensible conclusion."
	}
	return role + `
Respond with strict JSON only, no prose, matching:
{"thought":"...","action":"search|continue_debate|finish","queries":["..."],"reason":"..."}
queries is present only for action=search (1-4 entries). reason only for action=finish.`
}

func (p *Planner) buildPrompt(in Input, persona models.Persona, transcript []models.DebateTurn, digest string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Research question: %s\n", in.Query)
	if in.Clarification != "" {
		fmt.Fprintf(&b, "User clarification: %s\n", in.Clarification)
	}
	if len(in.FileNames) > 0 {
		fmt.Fprintf(&b, "Attached files: %s\n", strings.Join(in.FileNames, ", "))
	}
	fmt.Fprintf(&b, "Search cycles completed: %d (minimum %d, maximum %d)\n",
		in.SearchCycles, in.Settings.MinCycles, in.Settings.MaxCycles)

	if digest != "" {
		b.WriteString("\nCurrent web signals:\n")
		b.WriteString(digest)
	}
	if in.History != "" {
		b.WriteString("\nEvidence gathered so far:\n")
		b.WriteString(in.History)
		b.WriteString("\n")
	}

	if len(transcript) > 0 {
		b.WriteString("\nDebate so far:\n")
		for _, t := range transcript {
			fmt.Fprintf(&b, "[%s] %s\n", t.Persona, t.Thought)
		}
	}

	fmt.Fprintf(&b, "\nIt is %s's turn. Decide the next action.", persona)
	return b.String()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
