package llm

import "time"

const (
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Config holds settings shared by the provider clients.
type Config struct {
	// Provider selects the backend: "anthropic" or "ollama".
	Provider string `yaml:"provider" json:"provider"`
	// BaseURL is the HTTP endpoint of the backend.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// APIKey authenticates against hosted backends. Unused by ollama.
	APIKey string `yaml:"api_key" json:"-"`
	// Model is the model identifier requests are sent to.
	Model string `yaml:"model" json:"model"`
	// MaxTokens bounds the completion length.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`
	// Timeout is the per-request timeout.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// CircuitFailureThreshold opens the circuit after this many consecutive failures
	CircuitFailureThreshold int `yaml:"circuit_failure_threshold" json:"circuit_failure_threshold"`
	// CircuitReset is the duration after which the circuit attempts to half-open
	CircuitReset time.Duration `yaml:"circuit_reset" json:"circuit_reset"`
}

// DefaultConfig returns a sensible default configuration for the hosted backend.
func DefaultConfig() Config {
	return Config{
		Provider:                ProviderAnthropic,
		BaseURL:                 "https://api.anthropic.com",
		Model:                   "claude-sonnet-4-20250514",
		MaxTokens:               8192,
		Timeout:                 120 * time.Second,
		CircuitFailureThreshold: 5,
		CircuitReset:            30 * time.Second,
	}
}

// DefaultOllamaConfig returns defaults for a local Ollama backend.
func DefaultOllamaConfig() Config {
	cfg := DefaultConfig()
	cfg.Provider = ProviderOllama
	cfg.BaseURL = "http://localhost:11434"
	cfg.Model = "llama3"
	return cfg
}
