package explain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/timmy/bloodcell/internal/prompts"
)

// Gemini calls the Google Gemini API. The client is dialed on first use and
// shared by later calls until Close.
type Gemini struct {
	apiKey    string
	model     string
	maxTokens int32

	mu sync.Mutex
	cl *genai.Client
}

// NewGemini creates a Gemini explainer.
func NewGemini(cfg Config) *Gemini {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	maxTokens := int32(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 800
	}
	return &Gemini{apiKey: strings.TrimSpace(cfg.APIKey), model: model, maxTokens: maxTokens}
}

// Name returns the provider name.
func (g *Gemini) Name() string { return ProviderGemini }

// Explain renders one prompt (findings plus history for follow-ups) and returns the first text part.
func (g *Gemini) Explain(ctx context.Context, req Request) (string, error) {
	cl, err := g.client()
	if err != nil {
		return "", err
	}

	m := cl.GenerativeModel(g.model)
	if m == nil {
		return "", fmt.Errorf("gemini: model is nil")
	}
	temperature := float32(0.7)
	prompt := prompts.BuildExplanationPrompt(req.Result)
	if req.IsFollowUp() {
		temperature = 0.6
		prompt = prompts.BuildFollowUpPrompt(req.Result, req.History, req.Question)
	}
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:     &temperature,
		MaxOutputTokens: &g.maxTokens,
	}
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(prompts.SystemPrompt)},
	}

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	txt := firstText(resp)
	if txt == "" {
		return "", fmt.Errorf("gemini: empty response")
	}
	return txt, nil
}

// client returns the shared client, dialing it if needed. The client outlives
// any single request, so it is not bound to a request context.
func (g *Gemini) client() (*genai.Client, error) {
	if g.apiKey == "" {
		return nil, errors.New("gemini api key is empty")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cl != nil {
		return g.cl, nil
	}
	cl, err := genai.NewClient(context.Background(), option.WithAPIKey(g.apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	g.cl = cl
	return cl, nil
}

// Close releases the shared client. A later Explain dials a new one.
func (g *Gemini) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cl == nil {
		return nil
	}
	err := g.cl.Close()
	g.cl = nil
	return err
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}
