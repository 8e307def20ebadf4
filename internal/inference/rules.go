package inference

import (
	"math"

	"github.com/timmy/bloodcell/internal/domain"
)

// Disease names in the catalog.
const (
	DiseaseBacterialInfection = "Bacterial Infection"
	DiseaseViralInfection     = "Viral Infection"
	DiseaseAnemia             = "Anemia"
	DiseaseLeukocytosis       = "Leukocytosis"
	DiseaseThrombocytopenia   = "Thrombocytopenia"
)

// LeukocytosisNeutrophilThreshold is the neutrophil percentage used as the
// total white-count proxy for leukocytosis.
const LeukocytosisNeutrophilThreshold = 75

// Rule is one entry of the disease catalog.
// Confidence is only called when Predicate holds; its result is clamped by the engine.
type Rule struct {
	Name       string
	Predicate  func(c domain.CellCounts, r RangeTable) bool
	Confidence func(c domain.CellCounts, r RangeTable) float64
	Severity   func(confidence int) domain.Severity
}

// Catalog is the ordered rule list. Order is the tie-break for equal confidence.
var Catalog = []Rule{
	{
		Name: DiseaseBacterialInfection,
		Predicate: func(c domain.CellCounts, r RangeTable) bool {
			return r[domain.CellNeutrophils].Above(c.Neutrophils)
		},
		Confidence: func(c domain.CellCounts, r RangeTable) float64 {
			excess := c.Neutrophils - r[domain.CellNeutrophils].Max
			lymphopenia := math.Max(0, 25-c.Lymphocytes)
			return math.Min(95, 50+excess*2+lymphopenia*1.5)
		},
		Severity: SeverityFor,
	},
	{
		Name: DiseaseViralInfection,
		Predicate: func(c domain.CellCounts, r RangeTable) bool {
			return r[domain.CellLymphocytes].Above(c.Lymphocytes)
		},
		Confidence: func(c domain.CellCounts, r RangeTable) float64 {
			excess := c.Lymphocytes - r[domain.CellLymphocytes].Max
			neutropenia := math.Max(0, 50-c.Neutrophils)
			return math.Min(90, 40+excess*2+neutropenia*1.5)
		},
		Severity: SeverityFor,
	},
	{
		Name: DiseaseAnemia,
		Predicate: func(c domain.CellCounts, r RangeTable) bool {
			return r[domain.CellRBCs].Below(float64(c.RBCs))
		},
		Confidence: func(c domain.CellCounts, r RangeTable) float64 {
			return math.Min(85, 30+deficitPercent(float64(c.RBCs), r[domain.CellRBCs].Min)*2)
		},
		Severity: SeverityFor,
	},
	{
		Name: DiseaseLeukocytosis,
		Predicate: func(c domain.CellCounts, _ RangeTable) bool {
			return c.Neutrophils >= LeukocytosisNeutrophilThreshold
		},
		Confidence: func(c domain.CellCounts, _ RangeTable) float64 {
			return math.Min(80, 40+(c.Neutrophils-LeukocytosisNeutrophilThreshold)*3)
		},
		Severity: SeverityFor,
	},
	{
		Name: DiseaseThrombocytopenia,
		Predicate: func(c domain.CellCounts, r RangeTable) bool {
			return r[domain.CellPlatelets].Below(float64(c.Platelets))
		},
		Confidence: func(c domain.CellCounts, r RangeTable) float64 {
			return math.Min(90, 50+deficitPercent(float64(c.Platelets), r[domain.CellPlatelets].Min)*1.5)
		},
		Severity: SeverityFor,
	},
}

// deficitPercent is how far v lies under floor, as a percentage of floor.
func deficitPercent(v, floor float64) float64 {
	if floor <= 0 || v >= floor {
		return 0
	}
	return (floor - v) / floor * 100
}

// SeverityFor maps a clamped confidence onto its band.
// 50 is the first medium value and 80 the first high value.
func SeverityFor(confidence int) domain.Severity {
	switch {
	case confidence >= 80:
		return domain.SeverityHigh
	case confidence >= 50:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// ClampConfidence bounds a raw score to [0,100] and truncates it to an integer.
func ClampConfidence(v float64) int {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 100 {
		return 100
	}
	return int(v)
}
