package explain

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/bloodcell/internal/domain"
	"github.com/timmy/bloodcell/internal/inference"
)

func sampleResult() domain.AnalysisResult {
	counts := domain.CellCounts{Neutrophils: 80, Lymphocytes: 12, Monocytes: 5, Eosinophils: 2, Basophils: 1, Platelets: 250000, RBCs: 4700000}
	out := inference.Default.Infer(counts)
	return domain.AnalysisResult{
		AnalysisID:    "a1",
		CellCounts:    counts,
		Diseases:      out.Findings,
		Abnormalities: out.Notes,
		Confidence:    0.9,
	}
}

func TestTemplate_Report(t *testing.T) {
	e, err := New(Config{Provider: ProviderTemplate})
	require.NoError(t, err)

	text, err := e.Explain(context.Background(), Request{Result: sampleResult()})
	require.NoError(t, err)
	assert.Contains(t, text, "bacterial infection")
	assert.Contains(t, text, "Elevated neutrophil percentage (80%)")
	assert.Contains(t, text, "above the normal range 50-70%")

	again, _ := e.Explain(context.Background(), Request{Result: sampleResult()})
	assert.Equal(t, text, again)
}

func TestTemplate_FollowUpRouting(t *testing.T) {
	e := NewTemplate()
	tests := []struct {
		question string
		contains string
	}{
		{"Why are my neutrophils elevated?", "bacterial infection"},
		{"Should I worry about this?", "temporary"},
		{"What are the next steps?", "repeat blood work"},
		{"What is the normal range?", "150,000-450,000"},
		{"Can I drink coffee?", defaultAnswer},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			text, err := e.Explain(context.Background(), Request{Result: sampleResult(), Question: tt.question})
			require.NoError(t, err)
			assert.Contains(t, text, tt.contains)
		})
	}
}

func TestOpenAI_SendsHistory(t *testing.T) {
	var got openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  It means infection.  "}}]}`))
	}))
	defer srv.Close()

	e, err := New(Config{Provider: ProviderOpenAI, APIKey: "k", BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)

	history := domain.ConversationContext{
		{Answer: "initial explanation"},
		{Question: "first?", Answer: "first answer"},
	}
	text, err := e.Explain(context.Background(), Request{Result: sampleResult(), History: history, Question: "second?"})
	require.NoError(t, err)
	assert.Equal(t, "It means infection.", text)

	require.Len(t, got.Messages, 6)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "assistant", got.Messages[2].Role)
	assert.Equal(t, "initial explanation", got.Messages[2].Content)
	assert.Equal(t, "first?", got.Messages[3].Content)
	assert.Contains(t, got.Messages[5].Content, "second?")
	assert.Equal(t, "m", got.Model)
}

func TestOpenAI_FailureIsExplanationUnavailable(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"rate limit","type":"requests"}}`},
		{"no choices", http.StatusOK, `{"choices":[]}`},
		{"empty content", http.StatusOK, `{"choices":[{"message":{"content":"   "}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			e, err := New(Config{Provider: ProviderOpenAI, APIKey: "k", BaseURL: srv.URL})
			require.NoError(t, err)

			_, err = e.Explain(context.Background(), Request{Result: sampleResult()})
			assert.ErrorIs(t, err, domain.ErrExplanationUnavailable)
		})
	}
}

type stubExplainer struct{ err error }

func (s stubExplainer) Name() string { return "stub" }
func (s stubExplainer) Explain(context.Context, Request) (string, error) {
	return "", s.err
}

func TestGuard_KeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	_, err := Guard(stubExplainer{err: cause}).Explain(context.Background(), Request{})
	assert.ErrorIs(t, err, domain.ErrExplanationUnavailable)
	assert.ErrorIs(t, err, cause)
}

type closingExplainer struct {
	stubExplainer
	closed int
}

func (c *closingExplainer) Close() error {
	c.closed++
	return nil
}

func TestGuard_ClosesInner(t *testing.T) {
	inner := &closingExplainer{}
	g := Guard(inner)
	closer, ok := g.(io.Closer)
	require.True(t, ok)
	require.NoError(t, closer.Close())
	assert.Equal(t, 1, inner.closed)

	// providers without resources close as a no-op
	assert.NoError(t, Guard(stubExplainer{}).(io.Closer).Close())
}

func TestGemini_ReusesClient(t *testing.T) {
	g := NewGemini(Config{APIKey: "test-key"})

	first, err := g.client()
	require.NoError(t, err)
	second, err := g.client()
	require.NoError(t, err)
	assert.Same(t, first, second)

	require.NoError(t, g.Close())
	assert.NoError(t, g.Close())

	_, err = NewGemini(Config{}).client()
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Provider: ProviderOpenAI})
	assert.Error(t, err)
	_, err = New(Config{Provider: ProviderGemini})
	assert.Error(t, err)
	_, err = New(Config{Provider: "llama"})
	assert.Error(t, err)

	e, err := New(Config{Provider: ProviderGemini, APIKey: "x"})
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, e.Name())
}
