// Package classifier adapts external cell-classification models to canonical cell counts.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/timmy/bloodcell/internal/domain"
	"github.com/timmy/bloodcell/internal/preprocess"
)

// Classification is the canonical model output.
type Classification struct {
	Counts     domain.CellCounts  `json:"cell_counts"`
	Confidence float64            `json:"confidence"`
	PerClass   map[string]float64 `json:"class_confidences,omitempty"`
}

// Classifier turns a preprocessed tensor into cell counts.
type Classifier interface {
	Classify(ctx context.Context, tensor *preprocess.Tensor) (*Classification, error)
	Name() string
}

// Provider names accepted by New.
const (
	ProviderRemote = "remote"
	ProviderFixed  = "fixed"
)

// DefaultWBCTolerance is the allowed distance between the white-cell percentage sum and 100.
const DefaultWBCTolerance = 5.0

// Config selects and configures a classifier provider.
type Config struct {
	Provider     string
	Endpoint     string
	APIKey       string
	Timeout      int // seconds
	WBCTolerance float64
	Reference    *Classification
}

// New builds the configured classifier wrapped with output validation.
// Parameters:
//   - cfg: provider selection and settings.
//
// Returns:
//   - Classifier: validated classifier.
//   - error: non-nil for unknown providers or missing settings.
func New(cfg Config) (Classifier, error) {
	var inner Classifier
	switch cfg.Provider {
	case ProviderRemote:
		if cfg.Endpoint == "" {
			return nil, errors.New("classifier endpoint is required for the remote provider")
		}
		inner = NewRemote(RemoteConfig{Endpoint: cfg.Endpoint, APIKey: cfg.APIKey, Timeout: cfg.Timeout})
	case ProviderFixed, "":
		inner = NewFixed(cfg.Reference)
	default:
		return nil, fmt.Errorf("unknown classifier provider: %s", cfg.Provider)
	}
	return WithValidation(inner, cfg.WBCTolerance), nil
}

type validating struct {
	inner     Classifier
	tolerance float64
}

// WithValidation wraps c so that every output is range-checked and every
// failure surfaces as domain.ErrModelInference. A tolerance <= 0 uses DefaultWBCTolerance.
func WithValidation(c Classifier, tolerance float64) Classifier {
	if tolerance <= 0 {
		tolerance = DefaultWBCTolerance
	}
	return &validating{inner: c, tolerance: tolerance}
}

func (v *validating) Name() string { return v.inner.Name() }

func (v *validating) Classify(ctx context.Context, tensor *preprocess.Tensor) (*Classification, error) {
	if tensor == nil || len(tensor.Data) != tensor.Channels*tensor.Height*tensor.Width || len(tensor.Data) == 0 {
		return nil, domain.ModelInference("corrupt input tensor", nil)
	}
	out, err := v.inner.Classify(ctx, tensor)
	if err != nil {
		if errors.Is(err, domain.ErrModelInference) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, domain.ModelInference(fmt.Sprintf("%s classifier failed", v.inner.Name()), err)
	}
	if out == nil {
		return nil, domain.ModelInference("classifier returned no output", nil)
	}
	if err := out.Counts.Validate(v.tolerance); err != nil {
		return nil, domain.ModelInference("classifier returned invalid cell counts", err)
	}
	if math.IsNaN(out.Confidence) || out.Confidence < 0 || out.Confidence > 1 {
		return nil, domain.ModelInference(fmt.Sprintf("classifier confidence %.3f outside [0,1]", out.Confidence), nil)
	}
	return out, nil
}
