package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaProvider_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "llama3.1:8b" {
			t.Errorf("model = %q, want llama3.1:8b", req.Model)
		}
		if req.Stream {
			t.Error("expected stream=false")
		}
		resp := ollamaResponse{
			Model:           req.Model,
			Response:        "nic_salt\nconfidence: 0.85",
			Done:            true,
			PromptEvalCount: 40,
			EvalCount:       10,
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	provider, err := NewOllamaProvider(Config{BaseURL: server.URL, Model: "llama3.1:8b"})
	if err != nil {
		t.Fatalf("NewOllamaProvider() error: %v", err)
	}

	resp, err := provider.Generate(context.Background(), GenerateRequest{Prompt: "Which nicotine type?"})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if resp.Text != "nic_salt\nconfidence: 0.85" {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.TokensUsed != 50 {
		t.Errorf("TokensUsed = %d, want 50", resp.TokensUsed)
	}
}

func TestOllamaProvider_GenerateAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(ollamaError{Error: "model not found"})
	}))
	defer server.Close()

	provider, err := NewOllamaProvider(Config{BaseURL: server.URL, Model: "missing"})
	if err != nil {
		t.Fatalf("NewOllamaProvider() error: %v", err)
	}

	if _, err := provider.Generate(context.Background(), GenerateRequest{Prompt: "x"}); err == nil {
		t.Error("expected error from API failure")
	}
}

func TestOllamaProvider_GenerateMissingModel(t *testing.T) {
	provider, err := NewOllamaProvider(Config{})
	if err != nil {
		t.Fatalf("NewOllamaProvider() error: %v", err)
	}
	if _, err := provider.Generate(context.Background(), GenerateRequest{Prompt: "x"}); err == nil {
		t.Error("expected error when no model configured")
	}
}

func TestOllamaProvider_IsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	provider, _ := NewOllamaProvider(Config{BaseURL: server.URL})
	if !provider.IsAvailable(context.Background()) {
		t.Error("expected provider to be available")
	}

	server.Close()
	if provider.IsAvailable(context.Background()) {
		t.Error("expected provider to be unavailable after server close")
	}
}

func TestNewProvider(t *testing.T) {
	if p, err := NewProvider(Config{}); err != nil || p != nil {
		t.Errorf("empty provider should disable escalation, got (%v, %v)", p, err)
	}
	if _, err := NewProvider(Config{Provider: "ollama"}); err != nil {
		t.Errorf("ollama provider: %v", err)
	}
	if _, err := NewProvider(Config{Provider: "openai", APIKey: "sk-test"}); err != nil {
		t.Errorf("openai provider: %v", err)
	}
	if _, err := NewProvider(Config{Provider: "openai"}); err == nil {
		t.Error("openai without key should fail")
	}
	if _, err := NewProvider(Config{Provider: "carrier-pigeon"}); err == nil {
		t.Error("unknown provider should fail")
	}
}
