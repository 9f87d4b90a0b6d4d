// Package llm abstracts the external model service behind a single
// request/response capability. The rest of the pipeline treats the model as
// an untrusted, best-effort collaborator: responses are always normalized and
// re-validated before anything is tagged.
package llm

import (
	"context"

	"github.com/shand-j/tagforge/internal/model"
)

// Provider defines the interface for external model providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Generate answers a single targeted prompt
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// GenerateRequest is one targeted escalation prompt
type GenerateRequest struct {
	// Prompt is the fully rendered dimension-specific prompt
	Prompt string

	// Model overrides the provider's configured model (used by the
	// second-opinion tier)
	Model string

	// MaxTokens limits the response length
	MaxTokens int
}

// GenerateResponse is the raw model output before normalization
type GenerateResponse struct {
	// Text is the model's answer, untrimmed
	Text string

	// Model is the model that generated the response
	Model string

	// TokensUsed tracks token consumption
	TokensUsed int
}

// systemPrompt keeps the output space small: escalation prompts enumerate
// the allowed values and the model picks exactly one.
const systemPrompt = "You are a product catalog tagging assistant. " +
	"Answer with a single value chosen from the allowed list, followed by an optional line \"confidence: <0-1>\". " +
	"Never invent values outside the list."

// Config holds provider configuration
type Config struct {
	// Provider name: "openai", "ollama", ""
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI
	APIKey string

	// BaseURL for custom endpoints (e.g. Ollama)
	BaseURL string

	// Timeout for API requests, seconds
	Timeout int

	// MaxTokens for response generation
	MaxTokens int

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:  "", // Disabled by default
		Timeout:   60,
		MaxTokens: 256,
	}
}

// ConfigFromModel converts model.LLMConfig to llm.Config
func ConfigFromModel(c model.LLMConfig) Config {
	return Config{
		Provider:  c.Provider,
		Model:     c.Model,
		APIKey:    c.APIKey,
		BaseURL:   c.BaseURL,
		Timeout:   c.Timeout,
		MaxTokens: c.MaxTokens,
	}
}
