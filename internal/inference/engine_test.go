package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/bloodcell/internal/domain"
)

func normalCounts() domain.CellCounts {
	return domain.CellCounts{
		Neutrophils: 62,
		Lymphocytes: 28,
		Monocytes:   6,
		Eosinophils: 3,
		Basophils:   1,
		Platelets:   350000,
		RBCs:        4800000,
	}
}

func TestInfer_Scenarios(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *domain.CellCounts)
		findings []domain.DiseaseFinding
		notes    []string
	}{
		{
			name:     "all within range",
			mutate:   func(c *domain.CellCounts) {},
			findings: []domain.DiseaseFinding{},
			notes:    []string{},
		},
		{
			name:   "neutrophilia",
			mutate: func(c *domain.CellCounts) { c.Neutrophils = 80 },
			findings: []domain.DiseaseFinding{
				{Name: DiseaseBacterialInfection, Confidence: 70, Severity: domain.SeverityMedium},
				{Name: DiseaseLeukocytosis, Confidence: 55, Severity: domain.SeverityMedium},
			},
			notes: []string{"Elevated neutrophil percentage (80%)"},
		},
		{
			name:   "low platelets",
			mutate: func(c *domain.CellCounts) { c.Platelets = 100000 },
			findings: []domain.DiseaseFinding{
				{Name: DiseaseThrombocytopenia, Confidence: 90, Severity: domain.SeverityHigh},
			},
			notes: []string{"Low platelet count (100,000/µL)"},
		},
		{
			name:   "low red cells",
			mutate: func(c *domain.CellCounts) { c.RBCs = 3780000 },
			findings: []domain.DiseaseFinding{
				{Name: DiseaseAnemia, Confidence: 50, Severity: domain.SeverityMedium},
			},
			notes: []string{"Low red blood cell count (3,780,000/µL)"},
		},
		{
			name: "viral pattern",
			mutate: func(c *domain.CellCounts) {
				c.Neutrophils = 40
				c.Lymphocytes = 50
			},
			findings: []domain.DiseaseFinding{
				{Name: DiseaseViralInfection, Confidence: 75, Severity: domain.SeverityMedium},
			},
			notes: []string{
				"Reduced neutrophil percentage (40%)",
				"Elevated lymphocyte percentage (50%)",
			},
		},
		{
			name:     "abnormal field without a disease rule",
			mutate:   func(c *domain.CellCounts) { c.Eosinophils = 6.5 },
			findings: []domain.DiseaseFinding{},
			notes:    []string{"Elevated eosinophil percentage (6.5%)"},
		},
		{
			name:     "high red cells",
			mutate:   func(c *domain.CellCounts) { c.RBCs = 6000000 },
			findings: []domain.DiseaseFinding{},
			notes:    []string{"High red blood cell count (6,000,000/µL)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := normalCounts()
			tt.mutate(&c)
			out := Default.Infer(c)
			assert.Equal(t, tt.findings, out.Findings)
			assert.Equal(t, tt.notes, out.Notes)
		})
	}
}

func TestInfer_Deterministic(t *testing.T) {
	c := normalCounts()
	c.Neutrophils = 88
	c.Lymphocytes = 8
	c.Platelets = 90000
	c.RBCs = 3000000

	first := Default.Infer(c)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Default.Infer(c))
	}
	require.Len(t, first.Findings, 4)
	for i := 1; i < len(first.Findings); i++ {
		assert.GreaterOrEqual(t, first.Findings[i-1].Confidence, first.Findings[i].Confidence)
	}
}

func constRule(name string, conf float64) Rule {
	return Rule{
		Name:       name,
		Predicate:  func(domain.CellCounts, RangeTable) bool { return true },
		Confidence: func(domain.CellCounts, RangeTable) float64 { return conf },
	}
}

func TestInfer_StableTieBreak(t *testing.T) {
	engine := NewEngine([]Rule{
		constRule("first", 60),
		constRule("second", 60),
		constRule("third", 70),
		constRule("fourth", 60),
	}, nil)

	out := engine.Infer(normalCounts())
	names := make([]string, len(out.Findings))
	for i, f := range out.Findings {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"third", "first", "second", "fourth"}, names)
}

func TestInfer_ClampsConfidence(t *testing.T) {
	engine := NewEngine([]Rule{constRule("over", 250), constRule("under", -10)}, nil)

	out := engine.Infer(normalCounts())
	require.Len(t, out.Findings, 2)
	assert.Equal(t, 100, out.Findings[0].Confidence)
	assert.Equal(t, domain.SeverityHigh, out.Findings[0].Severity)
	assert.Equal(t, 0, out.Findings[1].Confidence)
	assert.Equal(t, domain.SeverityLow, out.Findings[1].Severity)
}

func TestSeverityFor_Bands(t *testing.T) {
	tests := []struct {
		conf int
		want domain.Severity
	}{
		{0, domain.SeverityLow},
		{49, domain.SeverityLow},
		{50, domain.SeverityMedium},
		{79, domain.SeverityMedium},
		{80, domain.SeverityHigh},
		{100, domain.SeverityHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SeverityFor(tt.conf), "confidence %d", tt.conf)
	}
}

func TestCatalog_RulesInIsolation(t *testing.T) {
	byName := map[string]Rule{}
	for _, r := range Catalog {
		byName[r.Name] = r
	}

	c := normalCounts()
	for _, r := range Catalog {
		assert.False(t, r.Predicate(c, DefaultRanges), "%s fired on normal counts", r.Name)
	}

	c.Neutrophils = 100
	c.Lymphocytes = 0
	conf := byName[DiseaseBacterialInfection].Confidence(c, DefaultRanges)
	assert.Equal(t, 95.0, conf)

	c = normalCounts()
	c.Neutrophils = 75
	assert.True(t, byName[DiseaseLeukocytosis].Predicate(c, DefaultRanges))
	assert.Equal(t, 40.0, byName[DiseaseLeukocytosis].Confidence(c, DefaultRanges))

	c.RBCs = 0
	assert.Equal(t, 85.0, byName[DiseaseAnemia].Confidence(c, DefaultRanges))
}

func TestRangeTable_Profile(t *testing.T) {
	p := DefaultRanges.Profile(normalCounts())
	require.Len(t, p, 7)
	for i, v := range p {
		assert.GreaterOrEqual(t, v, float32(0), "field %s", domain.CellTypes[i])
		assert.LessOrEqual(t, v, float32(1), "field %s", domain.CellTypes[i])
	}
}

func TestGroupThousands(t *testing.T) {
	assert.Equal(t, "0", groupThousands(0))
	assert.Equal(t, "999", groupThousands(999))
	assert.Equal(t, "1,000", groupThousands(1000))
	assert.Equal(t, "4,600,000", groupThousands(4600000))
	assert.Equal(t, "-12,345", groupThousands(-12345))
}
