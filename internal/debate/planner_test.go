package debate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/deepdive-ai/deepdive/pkg/contracts"
	"github.com/deepdive-ai/deepdive/pkg/models"
)

// scriptedGenerator returns each response in order, repeating the last one
// when the script runs out.
type scriptedGenerator struct {
	responses []string
	err       error
	reqs      []*models.GenerationRequest
}

func (s *scriptedGenerator) Generate(_ context.Context, req *models.GenerationRequest) (*models.GenerationResult, error) {
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return nil, s.err
	}
	i := len(s.reqs) - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return &models.GenerationResult{Text: s.responses[i]}, nil
}

type stubSignals struct {
	outcome models.SearchOutcome
	calls   int
}

func (s *stubSignals) Search(_ context.Context, _ string) models.SearchOutcome {
	s.calls++
	return s.outcome
}

func newTestPlanner(gen contracts.Generator, searcher contracts.Searcher) *Planner {
	p := NewPlanner(gen, searcher, "gemini-2.0-flash")
	p.TurnDelay = 0
	p.sleep = func(context.Context, time.Duration) {}
	return p
}

func collectTurns(turns *[]models.DebateTurn) RecordFunc {
	return func(t models.DebateTurn) { *turns = append(*turns, t) }
}

func TestRunSearchDecisionTerminates(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"thought":"we need data","action":"search","queries":["solar efficiency 2026"]}`,
	}}
	p := newTestPlanner(gen, nil)

	var turns []models.DebateTurn
	out, err := p.Run(context.Background(), Input{
		Query:    "how efficient are solar panels now",
		Settings: models.Settings{MaxDebateRounds: 10},
	}, collectTurns(&turns))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.State != StateSearching {
		t.Fatalf("State = %q, want searching", out.State)
	}
	if len(out.Queries) != 1 || out.Queries[0] != "solar efficiency 2026" {
		t.Errorf("Queries = %v", out.Queries)
	}
	if len(turns) != 1 || turns[0].Persona != models.PersonaAlpha {
		t.Errorf("turns = %+v, want one alpha turn", turns)
	}
}

func TestRunEscapeValveHonorsSecondFinish(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"thought":"I believe we are done","action":"finish","reason":"evidence is sufficient"}`,
		`{"thought":"I concur, we are done","action":"finish","reason":"evidence is sufficient"}`,
	}}
	p := newTestPlanner(gen, nil)

	var turns []models.DebateTurn
	out, err := p.Run(context.Background(), Input{
		Query:        "q",
		SearchCycles: 3,
		Settings:     models.Settings{MinCycles: 7, MaxCycles: 10, MaxDebateRounds: 20},
	}, collectTurns(&turns))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// First finish is overridden by the cycle floor; the second consecutive
	// finish is honored even though 3 < 7.
	if out.State != StateFinished {
		t.Fatalf("State = %q, want finished", out.State)
	}
	if out.FinishReason != "evidence is sufficient" {
		t.Errorf("FinishReason = %q", out.FinishReason)
	}
	if len(gen.reqs) != 2 {
		t.Errorf("model calls = %d, want 2", len(gen.reqs))
	}
	if len(turns) != 2 || turns[0].Persona != models.PersonaAlpha || turns[1].Persona != models.PersonaBeta {
		t.Errorf("turns = %+v, want alternating alpha, beta", turns)
	}
}

func TestRunFinishStreakResetsOnOtherActions(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"thought":"done?","action":"finish"}`,
		`{"thought":"not yet","action":"continue_debate"}`,
		`{"thought":"done now","action":"finish"}`,
		`{"thought":"agreed","action":"finish"}`,
	}}
	p := newTestPlanner(gen, nil)

	out, err := p.Run(context.Background(), Input{
		Query:        "q",
		SearchCycles: 0,
		Settings:     models.Settings{MinCycles: 5, MaxCycles: 5, MaxDebateRounds: 20},
	}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// The continue turn breaks the streak, so finishing takes two more
	// consecutive attempts: 4 calls total.
	if out.State != StateFinished {
		t.Fatalf("State = %q, want finished", out.State)
	}
	if len(gen.reqs) != 4 {
		t.Errorf("model calls = %d, want 4", len(gen.reqs))
	}
}

func TestRunFinishAboveFloorImmediate(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"thought":"wrap up","action":"finish"}`,
	}}
	p := newTestPlanner(gen, nil)

	out, err := p.Run(context.Background(), Input{
		Query:        "q",
		SearchCycles: 2,
		Settings:     models.Settings{MinCycles: 2, MaxCycles: 5, MaxDebateRounds: 20},
	}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.State != StateFinished {
		t.Fatalf("State = %q, want finished on first attempt at the floor", out.State)
	}
	if out.FinishReason != defaultFinishReason {
		t.Errorf("FinishReason = %q, want the default for empty reasons", out.FinishReason)
	}
}

func TestRunTimesOutAfterRoundCeiling(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"thought":"still thinking","action":"continue_debate"}`,
	}}
	p := newTestPlanner(gen, nil)

	var turns []models.DebateTurn
	out, err := p.Run(context.Background(), Input{
		Query:    "q",
		Settings: models.Settings{MaxDebateRounds: 20},
	}, collectTurns(&turns))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.State != StateTimedOut {
		t.Fatalf("State = %q, want timed_out", out.State)
	}
	if out.FinishReason != timedOutReason {
		t.Errorf("FinishReason = %q, want the fixed timeout reason", out.FinishReason)
	}
	if len(gen.reqs) != 20 {
		t.Errorf("model calls = %d, want exactly 20", len(gen.reqs))
	}
	// 20 persona turns plus the explanatory timeout turn.
	if len(turns) != 21 {
		t.Errorf("recorded turns = %d, want 21", len(turns))
	}
	for i := 1; i < len(turns); i++ {
		if turns[i].Persona == turns[i-1].Persona {
			t.Fatalf("turns %d and %d share persona %q", i-1, i, turns[i].Persona)
		}
	}
}

func TestRunAlternationFromTranscriptTail(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"thought":"responding","action":"search","queries":["q1"]}`,
	}}
	p := newTestPlanner(gen, nil)

	var turns []models.DebateTurn
	_, err := p.Run(context.Background(), Input{
		Query: "q",
		Transcript: []models.DebateTurn{
			{Persona: models.PersonaAlpha, Thought: "opening"},
		},
		Settings: models.Settings{MaxDebateRounds: 5},
	}, collectTurns(&turns))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(turns) != 1 || turns[0].Persona != models.PersonaBeta {
		t.Errorf("turns = %+v, want beta to answer alpha's tail", turns)
	}
}

func TestRunMalformedOutputBecomesThought(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		"I simply cannot answer in JSON today.",
		`{"thought":"back on track","action":"search","queries":["q1"]}`,
	}}
	p := newTestPlanner(gen, nil)

	var turns []models.DebateTurn
	out, err := p.Run(context.Background(), Input{
		Query:    "q",
		Settings: models.Settings{MaxDebateRounds: 10},
	}, collectTurns(&turns))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if turns[0].Thought != "I simply cannot answer in JSON today." {
		t.Errorf("turn 0 thought = %q, want the raw text verbatim", turns[0].Thought)
	}
	if out.State != StateSearching {
		t.Errorf("State = %q, want the loop to keep moving after malformed output", out.State)
	}
}

func TestRunSearchWithoutQueriesKeepsDebating(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"thought":"search... for what?","action":"search","queries":[]}`,
		`{"thought":"let me be concrete","action":"search","queries":["real query"]}`,
	}}
	p := newTestPlanner(gen, nil)

	out, err := p.Run(context.Background(), Input{
		Query:    "q",
		Settings: models.Settings{MaxDebateRounds: 10},
	}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.State != StateSearching || len(gen.reqs) != 2 {
		t.Errorf("State = %q after %d calls, want searching after 2", out.State, len(gen.reqs))
	}
}

func TestRunGeneratorErrorPropagates(t *testing.T) {
	wantErr := errors.New("all keys exhausted")
	p := newTestPlanner(&scriptedGenerator{err: wantErr}, nil)

	_, err := p.Run(context.Background(), Input{
		Query:    "q",
		Settings: models.Settings{MaxDebateRounds: 10},
	}, nil)
	if !errors.Is(err, wantErr) {
		t.Errorf("Run() error = %v, want wrapped %v", err, wantErr)
	}
}

func TestRunWebSignalsInPrompt(t *testing.T) {
	searcher := &stubSignals{outcome: models.SearchOutcome{
		Citations: []models.Citation{
			{Title: "Perovskite record", URL: "https://example.com/pv", Source: "arxiv"},
		},
	}}
	gen := &scriptedGenerator{responses: []string{
		`{"thought":"done","action":"finish","reason":"r"}`,
	}}
	p := newTestPlanner(gen, searcher)

	_, err := p.Run(context.Background(), Input{
		Query:    "solar cells",
		Settings: models.Settings{MaxDebateRounds: 5},
	}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	prompt, ok := gen.reqs[0].Contents.(string)
	if !ok {
		t.Fatalf("Contents is %T, want string prompt", gen.reqs[0].Contents)
	}
	if !strings.Contains(prompt, "Perovskite record") {
		t.Error("prompt does not carry the web-signals digest")
	}
	if searcher.calls != 1 {
		t.Errorf("searcher calls = %d, want 1", searcher.calls)
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestPlanner(&scriptedGenerator{responses: []string{"{}"}}, nil)
	_, err := p.Run(ctx, Input{Query: "q", Settings: models.Settings{MaxDebateRounds: 5}}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}
