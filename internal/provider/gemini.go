package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/deepdive-ai/deepdive/pkg/models"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// geminiWire performs one Gemini API call with a specific credential.
// It exists so tests can exercise the retry engine without the network.
type geminiWire interface {
	generate(ctx context.Context, key string, req *models.GenerationRequest) (*models.GenerationResult, error)
}

// GeminiExecutor speaks the Gemini generateContent protocol through the
// official genai SDK, one client per attempt with the drawn key.
type GeminiExecutor struct {
	cfg   Config
	retry *retrier
	wire  geminiWire
}

// NewGeminiExecutor creates the Gemini-side executor.
func NewGeminiExecutor(cfg Config) *GeminiExecutor {
	e := &GeminiExecutor{
		cfg:   cfg,
		retry: newRetrier(string(models.ProviderGemini), cfg.Rotator),
	}
	e.wire = &geminiSDKWire{baseURL: cfg.baseURLFor(models.ProviderGemini)}
	return e
}

// Generate implements Executor.
func (e *GeminiExecutor) Generate(ctx context.Context, req *models.GenerationRequest) (*models.GenerationResult, error) {
	if req == nil || req.Model == "" {
		return nil, ErrInvalidRequest
	}
	return e.retry.do(ctx, func(ctx context.Context, key string) (*models.GenerationResult, error) {
		return e.wire.generate(ctx, key, req)
	})
}

// ── SDK wire ─────────────────────────────────────────────────

type geminiSDKWire struct {
	baseURL string
}

func (w *geminiSDKWire) generate(ctx context.Context, key string, req *models.GenerationRequest) (*models.GenerationResult, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: key,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: w.baseURL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	contents := buildGeminiContents(req)
	cfg := buildGeminiConfig(req)

	res, err := client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, classifyGeminiError(err)
	}
	return resultFromGenAI(res), nil
}

// buildGeminiContents translates the flexible contents shape into the
// provider's strict turn-array form. Unrecognized shapes degrade to their
// string rendering with a logged warning — best-effort delivery is preferred
// over hard failure for malformed input.
func buildGeminiContents(req *models.GenerationRequest) []*genai.Content {
	turns, ok := models.NormalizeContents(req.Contents)
	if !ok {
		log.Warn().
			Str("model", req.Model).
			Msg("Unrecognized contents shape, passing through as text")
		return []*genai.Content{{
			Role:  "user",
			Parts: []*genai.Part{{Text: models.Stringify(req.Contents)}},
		}}
	}

	out := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		parts := make([]*genai.Part, 0, len(t.Parts))
		for _, p := range t.Parts {
			switch {
			case p.InlineData != nil:
				parts = append(parts, &genai.Part{InlineData: &genai.Blob{
					MIMEType: p.InlineData.MIMEType,
					Data:     p.InlineData.Data,
				}})
			default:
				parts = append(parts, &genai.Part{Text: p.Text})
			}
		}
		out = append(out, &genai.Content{Role: t.Role, Parts: parts})
	}
	return out
}

// buildGeminiConfig splits the system instruction and generation-config
// fields into their respective top-level request fields.
func buildGeminiConfig(req *models.GenerationRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemInstruction}},
		}
	}
	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr[float32](*req.Temperature)
	}
	if req.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if req.JSONOutput || len(req.ResponseSchema) > 0 {
		cfg.ResponseMIMEType = "application/json"
		if len(req.ResponseSchema) > 0 {
			cfg.ResponseJsonSchema = req.ResponseSchema
		}
	}
	if req.Tools.GoogleSearch {
		cfg.Tools = append(cfg.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	return cfg
}

// resultFromGenAI normalizes the SDK response. Text parts are concatenated
// with newlines; grounding chunks become citations.
func resultFromGenAI(res *genai.GenerateContentResponse) *models.GenerationResult {
	out := &models.GenerationResult{}
	if res == nil {
		return out
	}
	for _, cand := range res.Candidates {
		c := models.Candidate{FinishReason: string(cand.FinishReason)}
		if cand.Content != nil {
			for _, p := range cand.Content.Parts {
				if p.Text == "" {
					continue
				}
				if c.Text != "" {
					c.Text += "\n"
				}
				c.Text += p.Text
			}
		}
		out.Candidates = append(out.Candidates, c)

		if gm := cand.GroundingMetadata; gm != nil {
			for _, chunk := range gm.GroundingChunks {
				if chunk.Web == nil || chunk.Web.URI == "" {
					continue
				}
				out.Citations = append(out.Citations, models.Citation{
					Source: "google_search",
					Title:  chunk.Web.Title,
					URL:    chunk.Web.URI,
				})
			}
		}
	}
	if len(out.Candidates) > 0 {
		out.Text = out.Candidates[0].Text
	}
	return out
}

// classifyGeminiError converts SDK errors into *HTTPError so the retry loop
// can recognize rate limiting and honor RetryInfo delays.
func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	httpErr := &HTTPError{Status: apiErr.Code, Body: apiErr.Message}
	for _, d := range apiErr.Details {
		delay, ok := d["retryDelay"].(string)
		if !ok {
			continue
		}
		if hint, ok := parseRetryDelay(`"retryDelay": "` + delay + `"`); ok {
			httpErr.RetryAfter = hint
		}
	}
	return httpErr
}
