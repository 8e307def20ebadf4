package explain

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/timmy/bloodcell/internal/prompts"
)

// OpenAI calls an OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	client    *resty.Client
	model     string
	endpoint  string
	maxTokens int
}

// NewOpenAI creates an OpenAI-compatible explainer.
// Parameters:
//   - cfg: model, API key, optional base URL, timeout and token limit.
//
// Returns:
//   - *OpenAI: initialized client wrapper.
func NewOpenAI(cfg Config) *OpenAI {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client.SetTimeout(timeout)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 800
	}

	return &OpenAI{
		client:    client,
		model:     model,
		endpoint:  baseURL + "/chat/completions",
		maxTokens: maxTokens,
	}
}

// Name returns the provider name.
func (o *OpenAI) Name() string { return ProviderOpenAI }

// OpenAI-compatible Chat Completion API request/response structures
type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Explain sends the findings (and the conversation for follow-ups) as chat messages.
// Prior exchanges are replayed as alternating user/assistant turns.
func (o *OpenAI) Explain(ctx context.Context, req Request) (string, error) {
	messages := []openAIMessage{{Role: "system", Content: prompts.SystemPrompt}}
	temperature := 0.7
	if req.IsFollowUp() {
		temperature = 0.6
		messages = append(messages, openAIMessage{Role: "user", Content: prompts.BuildExplanationPrompt(req.Result)})
		for _, ex := range req.History {
			if ex.Question != "" {
				messages = append(messages, openAIMessage{Role: "user", Content: ex.Question})
			}
			messages = append(messages, openAIMessage{Role: "assistant", Content: ex.Answer})
		}
		messages = append(messages, openAIMessage{Role: "user", Content: req.Question + "\n\n" + prompts.FollowUpInstructions})
	} else {
		messages = append(messages, openAIMessage{Role: "user", Content: prompts.BuildExplanationPrompt(req.Result)})
	}

	body := openAIRequest{
		Model:       o.model,
		Messages:    messages,
		MaxTokens:   o.maxTokens,
		Temperature: temperature,
	}

	var resp openAIResponse
	httpResp, err := o.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&resp).
		SetError(&resp).
		Post(o.endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to call chat completions API: %w", err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		if resp.Error != nil {
			return "", fmt.Errorf("chat completions API returned HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		}
		return "", fmt.Errorf("chat completions API returned HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
	}
	if resp.Error != nil {
		return "", fmt.Errorf("chat completions API error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response (status: %d)", httpResp.StatusCode())
	}

	return resp.Choices[0].Message.Content, nil
}
