package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/deepdive-ai/deepdive/internal/config"
	"github.com/deepdive-ai/deepdive/internal/store"
	"github.com/deepdive-ai/deepdive/pkg/models"
)

func newTestRouter(t *testing.T) (http.Handler, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore("")
	cfg := &config.Config{Version: "test"}
	return NewRouter(cfg, st), st
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := doJSON(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != "healthy" {
		t.Errorf("status = %q", payload["status"])
	}
}

func TestVersionEndpoint(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := doJSON(t, h, http.MethodGet, "/version", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "test") {
		t.Errorf("GET /version = %d %q", rec.Code, rec.Body.String())
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/settings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET settings = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPut, "/api/v1/settings",
		`{"min_cycles":1,"max_cycles":4,"max_debate_rounds":15}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT settings = %d: %s", rec.Code, rec.Body.String())
	}

	var settings models.Settings
	rec = doJSON(t, h, http.MethodGet, "/api/v1/settings", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &settings); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if settings.MaxDebateRounds != 15 {
		t.Errorf("MaxDebateRounds = %d, want 15", settings.MaxDebateRounds)
	}
}

func TestSettingsRejectInvertedBounds(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := doJSON(t, h, http.MethodPut, "/api/v1/settings",
		`{"min_cycles":9,"max_cycles":2,"max_debate_rounds":15}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("PUT inverted bounds = %d, want 400", rec.Code)
	}
}

func TestProviderLifecycle(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/provider", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET provider before config = %d, want 404", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPut, "/api/v1/provider",
		`{"endpoint":{"kind":"gemini"},"keys":["k1","k2","k3"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT provider = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/provider", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET provider = %d", rec.Code)
	}
	var view struct {
		Endpoint models.ProviderEndpoint `json:"endpoint"`
		KeyCount int                     `json:"key_count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.KeyCount != 3 {
		t.Errorf("key_count = %d, want 3", view.KeyCount)
	}
	// Raw keys never echo back.
	if strings.Contains(rec.Body.String(), "k1") {
		t.Error("provider view leaked a credential")
	}
}

func TestProviderRejectsUnknownKind(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := doJSON(t, h, http.MethodPut, "/api/v1/provider",
		`{"endpoint":{"kind":"anthropic"},"keys":["k"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("PUT unknown kind = %d, want 400", rec.Code)
	}
}

func TestStartResearchWithoutProvider(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := doJSON(t, h, http.MethodPost, "/api/v1/research", `{"query":"anything"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("POST research without provider = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "no provider configured") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestGetResearchNotFound(t *testing.T) {
	h, _ := newTestRouter(t)
	if rec := doJSON(t, h, http.MethodGet, "/api/v1/research/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET unknown session = %d, want 404", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, "/api/v1/research/nope/updates", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET unknown session updates = %d, want 404", rec.Code)
	}
}

func TestCancelNonRunningSession(t *testing.T) {
	h, st := newTestRouter(t)
	st.CreateSession(context.Background(), &models.ResearchSession{
		ID:     "s1",
		Query:  "q",
		Status: models.SessionFinished,
	})

	rec := doJSON(t, h, http.MethodPost, "/api/v1/research/s1/cancel", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("cancel finished session = %d, want 409", rec.Code)
	}
}

func TestResearchUpdatesReadBack(t *testing.T) {
	h, st := newTestRouter(t)
	ctx := context.Background()
	st.CreateSession(ctx, &models.ResearchSession{ID: "s1", Query: "q", Status: models.SessionRunning})
	st.AppendUpdate(ctx, &models.ResearchUpdate{ID: "u1", SessionID: "s1", Kind: models.UpdateThought, Persona: models.PersonaAlpha, Text: "opening"})
	st.AppendUpdate(ctx, &models.ResearchUpdate{ID: "u2", SessionID: "s1", Kind: models.UpdateSearch, Queries: []string{"q1"}})

	rec := doJSON(t, h, http.MethodGet, "/api/v1/research/s1/updates", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET updates = %d", rec.Code)
	}
	var updates []models.ResearchUpdate
	if err := json.Unmarshal(rec.Body.Bytes(), &updates); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(updates) != 2 || updates[0].Kind != models.UpdateThought || updates[1].Kind != models.UpdateSearch {
		t.Errorf("updates = %+v, want thought then search", updates)
	}
}
