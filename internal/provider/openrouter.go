package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/deepdive-ai/deepdive/pkg/models"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// schemaHintLimit caps the schema excerpt injected into the JSON-enforcement
// system message.
const schemaHintLimit = 2000

// jsonOnlyInstruction is injected when the request wants strict JSON output,
// since OpenRouter models have no native response-schema contract.
const jsonOnlyInstruction = "Respond with a single valid JSON object only. Do not wrap it in markdown code fences and do not add any text before or after the object."

// knowledgeAnswerRewrite replaces a grounding request on providers without a
// native search tool. A known approximation, not a guarantee of freshness.
const knowledgeAnswerRewrite = "Provide a comprehensive knowledge-based answer using everything you know about the following. Be explicit about uncertainty where your knowledge may be out of date.\n\n"

// openRouterWire performs the two OpenRouter call shapes with a specific
// credential. Tests substitute a mock to exercise the retry and fallback
// behavior without the network.
type openRouterWire interface {
	chat(ctx context.Context, key string, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	completion(ctx context.Context, key string, req openai.CompletionRequest) (openai.CompletionResponse, error)
}

// OpenRouterExecutor speaks the OpenAI-compatible protocol. Gemini-style
// requests are translated into a chat-message list; if the primary
// chat-completions call fails, one fallback attempt is made against the
// lower-level completion endpoint before the attempt counts as failed.
type OpenRouterExecutor struct {
	cfg      Config
	retry    *retrier
	wire     openRouterWire
	searcher Searcher
}

// NewOpenRouterExecutor creates the OpenRouter-side executor. searcher may
// be nil; when present it supplies live web context for search-intent calls.
func NewOpenRouterExecutor(cfg Config, searcher Searcher) *OpenRouterExecutor {
	e := &OpenRouterExecutor{
		cfg:      cfg,
		retry:    newRetrier(string(models.ProviderOpenRouter), cfg.Rotator),
		searcher: searcher,
	}
	e.wire = &openRouterSDKWire{baseURL: cfg.baseURLFor(models.ProviderOpenRouter)}
	return e
}

// Generate implements Executor.
func (e *OpenRouterExecutor) Generate(ctx context.Context, req *models.GenerationRequest) (*models.GenerationResult, error) {
	if req == nil || req.Model == "" {
		return nil, ErrInvalidRequest
	}

	msgs := buildChatMessages(req)

	// Search-intent requests get live results prepended as a labeled context
	// block before the chat call. Aggregation never fails; an empty outcome
	// just leaves the prompt untouched.
	if req.SearchIntent && e.searcher != nil {
		if q := lastUserContent(msgs); q != "" {
			outcome := e.searcher.Search(ctx, q)
			if block := searchContextBlock(outcome.Results); block != "" {
				prependToLastUser(msgs, block)
			}
		}
	}

	return e.retry.do(ctx, func(ctx context.Context, key string) (*models.GenerationResult, error) {
		return e.attempt(ctx, key, req, msgs)
	})
}

// attempt runs the primary chat call, then the single completion-endpoint
// fallback. Only when both legs fail does the attempt count against the
// outer retry budget, and the primary error is the one reported.
func (e *OpenRouterExecutor) attempt(ctx context.Context, key string, req *models.GenerationRequest, msgs []openai.ChatCompletionMessage) (*models.GenerationResult, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: msgs,
	}
	if req.Temperature != nil {
		chatReq.Temperature = *req.Temperature
	}
	if req.MaxOutputTokens > 0 {
		chatReq.MaxTokens = req.MaxOutputTokens
	}

	resp, chatErr := e.wire.chat(ctx, key, chatReq)
	if chatErr == nil {
		return resultFromChat(resp), nil
	}

	log.Warn().
		Err(chatErr).
		Str("model", req.Model).
		Msg("Chat completions failed, trying completion endpoint fallback")

	compResp, compErr := e.wire.completion(ctx, key, openai.CompletionRequest{
		Model:     req.Model,
		Prompt:    flattenMessages(msgs),
		MaxTokens: chatReq.MaxTokens,
	})
	if compErr == nil {
		return resultFromCompletion(compResp), nil
	}

	return nil, classifyOpenAIError(chatErr)
}

// ── Request mapping ──────────────────────────────────────────

// buildChatMessages translates a Gemini-style request into the chat-message
// list OpenRouter expects: system instruction first, then user/assistant
// turns derived from conversation roles, with the JSON contract and the
// grounding rewrite applied where requested.
func buildChatMessages(req *models.GenerationRequest) []openai.ChatCompletionMessage {
	var msgs []openai.ChatCompletionMessage

	if req.SystemInstruction != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemInstruction,
		})
	}

	if req.JSONOutput || len(req.ResponseSchema) > 0 {
		content := jsonOnlyInstruction
		if len(req.ResponseSchema) > 0 {
			if hint, err := json.Marshal(req.ResponseSchema); err == nil {
				h := string(hint)
				if len(h) > schemaHintLimit {
					h = h[:schemaHintLimit]
				}
				content += "\nThe object must match this schema:\n" + h
			}
		}
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: content,
		})
	}

	turns, ok := models.NormalizeContents(req.Contents)
	if !ok {
		log.Warn().
			Str("model", req.Model).
			Msg("Unrecognized contents shape, passing through as text")
		turns = []models.Turn{{Role: "user", Parts: []models.Part{{Text: models.Stringify(req.Contents)}}}}
	}
	for _, t := range turns {
		role := openai.ChatMessageRoleUser
		if t.Role == "model" || t.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		var text strings.Builder
		for _, p := range t.Parts {
			if p.Text == "" {
				continue
			}
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString(p.Text)
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: text.String()})
	}

	// No native search grounding: rewrite the last user turn to ask for a
	// knowledge-based answer instead.
	if req.Tools.GoogleSearch {
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Role == openai.ChatMessageRoleUser {
				msgs[i].Content = knowledgeAnswerRewrite + msgs[i].Content
				break
			}
		}
	}

	return msgs
}

func lastUserContent(msgs []openai.ChatCompletionMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == openai.ChatMessageRoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

func prependToLastUser(msgs []openai.ChatCompletionMessage, block string) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == openai.ChatMessageRoleUser {
			msgs[i].Content = block + "\n\n" + msgs[i].Content
			return
		}
	}
}

// searchContextBlock renders aggregated results as a labeled context block.
func searchContextBlock(results []models.SearchResult) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Live web search results:")
	for _, r := range results {
		fmt.Fprintf(&b, "\n- %s (%s): %s", r.Title, r.URL, r.Snippet)
	}
	return b.String()
}

// flattenMessages synthesizes a single prompt for the legacy completion
// endpoint by concatenating role-labeled turns.
func flattenMessages(msgs []openai.ChatCompletionMessage) string {
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n\n", strings.ToUpper(m.Role), m.Content)
	}
	b.WriteString("ASSISTANT:")
	return b.String()
}

// ── Response mapping ─────────────────────────────────────────

func resultFromChat(resp openai.ChatCompletionResponse) *models.GenerationResult {
	out := &models.GenerationResult{}
	for _, c := range resp.Choices {
		out.Candidates = append(out.Candidates, models.Candidate{
			Text:         c.Message.Content,
			FinishReason: string(c.FinishReason),
		})
	}
	if len(out.Candidates) > 0 {
		out.Text = out.Candidates[0].Text
	}
	return out
}

func resultFromCompletion(resp openai.CompletionResponse) *models.GenerationResult {
	out := &models.GenerationResult{}
	for _, c := range resp.Choices {
		out.Candidates = append(out.Candidates, models.Candidate{
			Text:         c.Text,
			FinishReason: c.FinishReason,
		})
	}
	if len(out.Candidates) > 0 {
		out.Text = strings.TrimSpace(out.Candidates[0].Text)
	}
	return out
}

// classifyOpenAIError converts go-openai errors into *HTTPError so the retry
// loop can recognize rate limiting. Errors that are already ours or are not
// API errors pass through unchanged.
func classifyOpenAIError(err error) error {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &HTTPError{Status: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &HTTPError{Status: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return err
}

// ── SDK wire ─────────────────────────────────────────────────

type openRouterSDKWire struct {
	baseURL string
}

func (w *openRouterSDKWire) client(key string) *openai.Client {
	cfg := openai.DefaultConfig(key)
	cfg.BaseURL = w.baseURL
	return openai.NewClientWithConfig(cfg)
}

func (w *openRouterSDKWire) chat(ctx context.Context, key string, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return w.client(key).CreateChatCompletion(ctx, req)
}

func (w *openRouterSDKWire) completion(ctx context.Context, key string, req openai.CompletionRequest) (openai.CompletionResponse, error) {
	return w.client(key).CreateCompletion(ctx, req)
}
