package config

import "os"

// ExplanationConfig configures the explanation model provider
// ("openai", "gemini" or "template").
type ExplanationConfig struct {
	Provider   string `mapstructure:"provider"`     // Provider type: "openai", "gemini", "template"
	Model      string `mapstructure:"model"`        // Model name/ID
	APIKey     string `mapstructure:"api_key"`      // API key (can be set directly or via env var)
	APIKeyEnv  string `mapstructure:"api_key_env"`  // Environment variable name for API key
	BaseURL    string `mapstructure:"base_url"`     // Base URL for OpenAI-compatible APIs
	BaseURLEnv string `mapstructure:"base_url_env"` // Environment variable name for base URL
	Timeout    int    `mapstructure:"timeout"`      // Request timeout in seconds
	MaxTokens  int    `mapstructure:"max_tokens"`   // Completion token limit
}

// ResolveEnvVars fills APIKey and BaseURL from the named environment variables.
// Direct values take precedence if already set.
func (c *ExplanationConfig) ResolveEnvVars() {
	if c.APIKeyEnv != "" && c.APIKey == "" {
		if val := os.Getenv(c.APIKeyEnv); val != "" {
			c.APIKey = val
		}
	}
	if c.BaseURLEnv != "" && c.BaseURL == "" {
		if val := os.Getenv(c.BaseURLEnv); val != "" {
			c.BaseURL = val
		}
	}
}

// UsesLLM reports whether the provider calls an external model.
func (c *ExplanationConfig) UsesLLM() bool {
	return c.Provider == "openai" || c.Provider == "gemini"
}
