package provider

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/deepdive-ai/deepdive/internal/keyring"
	"github.com/deepdive-ai/deepdive/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// mockORWire scripts the chat and completion legs.
type mockORWire struct {
	chatErr  error
	chatResp openai.ChatCompletionResponse
	compErr  error
	compResp openai.CompletionResponse

	chatCalls int
	compCalls int
	lastChat  openai.ChatCompletionRequest
}

func (m *mockORWire) chat(_ context.Context, _ string, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.chatCalls++
	m.lastChat = req
	return m.chatResp, m.chatErr
}

func (m *mockORWire) completion(_ context.Context, _ string, _ openai.CompletionRequest) (openai.CompletionResponse, error) {
	m.compCalls++
	return m.compResp, m.compErr
}

func newTestOpenRouter(t *testing.T, wire openRouterWire, searcher Searcher) *OpenRouterExecutor {
	t.Helper()
	cfg := Config{
		Endpoint: models.ProviderEndpoint{Kind: models.ProviderOpenRouter},
		Rotator:  keyring.New([]string{"key-a"}),
	}
	e := NewOpenRouterExecutor(cfg, searcher)
	e.wire = wire
	e.retry.sleep = (&recordingSleep{}).sleep
	return e
}

func chatText(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestGenerateChatSuccess(t *testing.T) {
	wire := &mockORWire{chatResp: chatText("hello")}
	e := newTestOpenRouter(t, wire, nil)

	res, err := e.Generate(context.Background(), &models.GenerationRequest{
		Model:    "qwen/qwen-2.5-72b",
		Contents: "hi",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Text != "hello" {
		t.Errorf("Text = %q, want %q", res.Text, "hello")
	}
	if wire.compCalls != 0 {
		t.Errorf("completion fallback ran %d times, want 0", wire.compCalls)
	}
}

func TestGenerateFallsBackToCompletionEndpoint(t *testing.T) {
	wire := &mockORWire{
		chatErr: errors.New("chat endpoint down"),
		compResp: openai.CompletionResponse{
			Choices: []openai.CompletionChoice{{Text: " fallback text "}},
		},
	}
	e := newTestOpenRouter(t, wire, nil)

	res, err := e.Generate(context.Background(), &models.GenerationRequest{
		Model:    "meta-llama/llama-3-8b",
		Contents: "hi",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Text != "fallback text" {
		t.Errorf("Text = %q, want trimmed fallback text", res.Text)
	}
	if wire.chatCalls != 1 || wire.compCalls != 1 {
		t.Errorf("calls = (chat %d, completion %d), want (1, 1)", wire.chatCalls, wire.compCalls)
	}
}

func TestGenerateBothLegsFailCountsOneAttempt(t *testing.T) {
	wire := &mockORWire{
		chatErr: errors.New("chat down"),
		compErr: errors.New("completion down"),
	}
	e := newTestOpenRouter(t, wire, nil)

	_, err := e.Generate(context.Background(), &models.GenerationRequest{
		Model:    "meta-llama/llama-3-8b",
		Contents: "hi",
	})
	var exhausted *AllKeysExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Generate() error = %v, want *AllKeysExhaustedError", err)
	}
	// One key × 3 attempts, each attempt tries both legs exactly once.
	if wire.chatCalls != 3 || wire.compCalls != 3 {
		t.Errorf("calls = (chat %d, completion %d), want (3, 3)", wire.chatCalls, wire.compCalls)
	}
}

func TestGenerateRateLimitExhaustsBudget(t *testing.T) {
	wire := &mockORWire{
		chatErr: &openai.APIError{HTTPStatusCode: 429, Message: "slow down"},
		compErr: errors.New("completion down"),
	}
	e := newTestOpenRouter(t, wire, nil)

	_, err := e.Generate(context.Background(), &models.GenerationRequest{
		Model:    "meta-llama/llama-3-8b",
		Contents: "hi",
	})
	var exhausted *AllKeysExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Generate() error = %v, want *AllKeysExhaustedError", err)
	}
	var httpErr *HTTPError
	if !errors.As(exhausted.Last, &httpErr) || httpErr.Status != 429 {
		t.Errorf("exhausted.Last = %v, want *HTTPError with status 429", exhausted.Last)
	}
}

func TestGenerateMissingModel(t *testing.T) {
	e := newTestOpenRouter(t, &mockORWire{}, nil)

	_, err := e.Generate(context.Background(), &models.GenerationRequest{Contents: "hi"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Generate() error = %v, want ErrInvalidRequest", err)
	}
}

type stubSearcher struct {
	outcome models.SearchOutcome
	queries []string
}

func (s *stubSearcher) Search(_ context.Context, q string) models.SearchOutcome {
	s.queries = append(s.queries, q)
	return s.outcome
}

func TestGenerateSearchIntentPrependsContext(t *testing.T) {
	wire := &mockORWire{chatResp: chatText("ok")}
	searcher := &stubSearcher{outcome: models.SearchOutcome{
		Results: []models.SearchResult{
			{Title: "Gold hits record", URL: "https://example.com/gold", Snippet: "price news", Source: "wikipedia"},
		},
	}}
	e := newTestOpenRouter(t, wire, searcher)

	_, err := e.Generate(context.Background(), &models.GenerationRequest{
		Model:        "meta-llama/llama-3-8b",
		Contents:     "what is the gold price",
		SearchIntent: true,
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(searcher.queries) != 1 {
		t.Fatalf("searcher called %d times, want 1", len(searcher.queries))
	}
	user := wire.lastChat.Messages[len(wire.lastChat.Messages)-1]
	if !strings.Contains(user.Content, "Live web search results:") ||
		!strings.Contains(user.Content, "https://example.com/gold") {
		t.Errorf("last user message missing labeled context block: %q", user.Content)
	}
	if !strings.HasSuffix(user.Content, "what is the gold price") {
		t.Errorf("original prompt text should follow the context block: %q", user.Content)
	}
}

func TestBuildChatMessagesJSONContract(t *testing.T) {
	schema := map[string]any{"type": "object", "properties": map[string]any{"pad": strings.Repeat("x", 3000)}}
	msgs := buildChatMessages(&models.GenerationRequest{
		Model:             "meta-llama/llama-3-8b",
		Contents:          "plan something",
		SystemInstruction: "You are a planner.",
		JSONOutput:        true,
		ResponseSchema:    schema,
	})

	if len(msgs) != 3 {
		t.Fatalf("message count = %d, want 3 (system, json contract, user)", len(msgs))
	}
	if msgs[0].Role != openai.ChatMessageRoleSystem || msgs[0].Content != "You are a planner." {
		t.Errorf("msgs[0] = %+v, want original system instruction", msgs[0])
	}
	if !strings.Contains(msgs[1].Content, "single valid JSON object only") {
		t.Errorf("JSON contract not injected: %q", msgs[1].Content)
	}
	// Schema hint is truncated to its first 2000 characters.
	idx := strings.Index(msgs[1].Content, "schema:\n")
	if idx < 0 {
		t.Fatalf("schema hint missing: %q", msgs[1].Content)
	}
	hint := msgs[1].Content[idx+len("schema:\n"):]
	if len(hint) != schemaHintLimit {
		t.Errorf("schema hint length = %d, want %d", len(hint), schemaHintLimit)
	}
}

func TestBuildChatMessagesRolesAndGroundingRewrite(t *testing.T) {
	msgs := buildChatMessages(&models.GenerationRequest{
		Model: "meta-llama/llama-3-8b",
		Contents: []models.Turn{
			{Role: "user", Parts: []models.Part{{Text: "first question"}}},
			{Role: "model", Parts: []models.Part{{Text: "first answer"}}},
			{Role: "user", Parts: []models.Part{{Text: "latest news on fusion?"}}},
		},
		Tools: models.ToolFlags{GoogleSearch: true},
	})

	if len(msgs) != 3 {
		t.Fatalf("message count = %d, want 3", len(msgs))
	}
	if msgs[1].Role != openai.ChatMessageRoleAssistant {
		t.Errorf("model turn mapped to %q, want assistant", msgs[1].Role)
	}
	last := msgs[2]
	if !strings.Contains(last.Content, "comprehensive knowledge-based answer") {
		t.Errorf("grounding rewrite missing from last user turn: %q", last.Content)
	}
	if !strings.Contains(last.Content, "latest news on fusion?") {
		t.Errorf("original question dropped by rewrite: %q", last.Content)
	}
	if strings.Contains(msgs[0].Content, "knowledge-based") {
		t.Errorf("rewrite applied to earlier user turn: %q", msgs[0].Content)
	}
}

func TestFlattenMessages(t *testing.T) {
	got := flattenMessages([]openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: "be brief"},
		{Role: openai.ChatMessageRoleUser, Content: "hello"},
	})
	if !strings.Contains(got, "SYSTEM: be brief") || !strings.Contains(got, "USER: hello") {
		t.Errorf("flattenMessages() = %q, want role-labeled turns", got)
	}
	if !strings.HasSuffix(got, "ASSISTANT:") {
		t.Errorf("flattenMessages() should end with the assistant cue: %q", got)
	}
}

func TestKindForModel(t *testing.T) {
	tests := []struct {
		model string
		want  models.ProviderKind
	}{
		{"gemini-2.0-flash", models.ProviderGemini},
		{"models/Gemini-Pro", models.ProviderGemini},
		{"meta-llama/llama-3-8b", models.ProviderOpenRouter},
		{"gpt-4o-mini", models.ProviderOpenRouter},
		{"", models.ProviderOpenRouter},
	}
	for _, tt := range tests {
		if got := KindForModel(tt.model); got != tt.want {
			t.Errorf("KindForModel(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}
}
