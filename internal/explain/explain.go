// Package explain produces natural-language explanations of completed analyses.
package explain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/timmy/bloodcell/internal/domain"
)

// Request carries everything an explainer needs for one call.
// An empty Question asks for the initial explanation.
type Request struct {
	Result   domain.AnalysisResult
	History  domain.ConversationContext
	Question string
}

// IsFollowUp reports whether the request carries a question.
func (r Request) IsFollowUp() bool { return strings.TrimSpace(r.Question) != "" }

// Explainer wraps an external text-generation model.
type Explainer interface {
	Explain(ctx context.Context, req Request) (string, error)
	Name() string
}

// Provider names accepted by New.
const (
	ProviderOpenAI   = "openai"
	ProviderGemini   = "gemini"
	ProviderTemplate = "template"
)

// Config selects and configures an explanation provider.
type Config struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string
	Timeout   int // seconds
	MaxTokens int
}

// New builds the configured explainer. Every error it returns at call time wraps
// domain.ErrExplanationUnavailable.
// Parameters:
//   - cfg: provider selection and credentials.
//
// Returns:
//   - Explainer: ready explainer.
//   - error: non-nil for unknown providers or missing credentials.
func New(cfg Config) (Explainer, error) {
	var inner Explainer
	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("explanation api_key is required for the openai provider")
		}
		inner = NewOpenAI(cfg)
	case ProviderGemini:
		if cfg.APIKey == "" {
			return nil, errors.New("explanation api_key is required for the gemini provider")
		}
		inner = NewGemini(cfg)
	case ProviderTemplate, "":
		inner = NewTemplate()
	default:
		return nil, fmt.Errorf("unknown explanation provider: %s", cfg.Provider)
	}
	return Guard(inner), nil
}

type guarded struct {
	inner Explainer
}

// Guard wraps e so that failures and empty answers surface as domain.ErrExplanationUnavailable.
func Guard(e Explainer) Explainer {
	return &guarded{inner: e}
}

func (g *guarded) Name() string { return g.inner.Name() }

// Close releases the wrapped provider's resources, if it holds any.
func (g *guarded) Close() error {
	if c, ok := g.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (g *guarded) Explain(ctx context.Context, req Request) (string, error) {
	text, err := g.inner.Explain(ctx, req)
	if err != nil {
		if errors.Is(err, domain.ErrExplanationUnavailable) {
			return "", err
		}
		return "", domain.ExplanationUnavailable(fmt.Sprintf("%s explanation failed", g.inner.Name()), err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.ExplanationUnavailable(fmt.Sprintf("%s returned an empty explanation", g.inner.Name()), nil)
	}
	return text, nil
}
