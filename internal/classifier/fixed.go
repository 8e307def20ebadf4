package classifier

import (
	"context"

	"github.com/timmy/bloodcell/internal/domain"
	"github.com/timmy/bloodcell/internal/preprocess"
)

// ReferenceDifferential is a typical differential with neutrophils near the
// top of their range, used when no reference is configured.
var ReferenceDifferential = Classification{
	Counts: domain.CellCounts{
		Neutrophils: 68,
		Lymphocytes: 22,
		Monocytes:   7,
		Eosinophils: 2,
		Basophils:   1,
		Platelets:   320000,
		RBCs:        4600000,
	},
	Confidence: 0.94,
	PerClass: map[string]float64{
		"cell_classification": 0.92,
		"morphology":          0.96,
	},
}

// Fixed returns the same classification for every image.
// It is meant for local runs and demos where no model server is available.
type Fixed struct {
	ref Classification
}

// NewFixed creates a fixed classifier. A nil ref selects ReferenceDifferential.
func NewFixed(ref *Classification) *Fixed {
	if ref == nil {
		ref = &ReferenceDifferential
	}
	return &Fixed{ref: *ref}
}

// Name returns the provider name.
func (f *Fixed) Name() string { return ProviderFixed }

// Classify returns a copy of the reference classification.
func (f *Fixed) Classify(ctx context.Context, _ *preprocess.Tensor) (*Classification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := f.ref
	if f.ref.PerClass != nil {
		out.PerClass = make(map[string]float64, len(f.ref.PerClass))
		for k, v := range f.ref.PerClass {
			out.PerClass[k] = v
		}
	}
	return &out, nil
}
