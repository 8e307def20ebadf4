// Package inference derives disease hypotheses and abnormality notes from cell counts.
// Everything in this package is pure and safe for concurrent use.
package inference

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/timmy/bloodcell/internal/domain"
)

// Output is the result of one inference pass.
type Output struct {
	Findings []domain.DiseaseFinding
	Notes    []string
}

// Engine evaluates a rule catalog against a range table.
type Engine struct {
	rules  []Rule
	ranges RangeTable
}

// NewEngine creates an engine over the given catalog and ranges.
// Nil arguments select Catalog and DefaultRanges.
func NewEngine(rules []Rule, ranges RangeTable) *Engine {
	if rules == nil {
		rules = Catalog
	}
	if ranges == nil {
		ranges = DefaultRanges
	}
	return &Engine{rules: rules, ranges: ranges}
}

// Default is the engine over the built-in catalog.
var Default = NewEngine(nil, nil)

// Infer runs every rule in catalog order and every field check in field order.
// Parameters:
//   - counts: validated classifier output.
//
// Returns:
//   - Output: findings sorted by confidence descending, ties in catalog order;
//     notes in field evaluation order. Both slices are non-nil.
func (e *Engine) Infer(counts domain.CellCounts) Output {
	findings := make([]domain.DiseaseFinding, 0, len(e.rules))
	for _, rule := range e.rules {
		if !rule.Predicate(counts, e.ranges) {
			continue
		}
		conf := ClampConfidence(rule.Confidence(counts, e.ranges))
		severity := SeverityFor
		if rule.Severity != nil {
			severity = rule.Severity
		}
		findings = append(findings, domain.DiseaseFinding{
			Name:       rule.Name,
			Confidence: conf,
			Severity:   severity(conf),
		})
	}
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Confidence > findings[j].Confidence
	})

	return Output{Findings: findings, Notes: e.Notes(counts)}
}

// Notes returns one note per field outside its reference band.
func (e *Engine) Notes(counts domain.CellCounts) []string {
	notes := make([]string, 0)
	for _, c := range domain.CellTypes {
		r, ok := e.ranges[c]
		if !ok {
			continue
		}
		v := counts.Get(c)
		switch {
		case r.Below(v):
			notes = append(notes, noteFor(c, v, false))
		case r.Above(v):
			notes = append(notes, noteFor(c, v, true))
		}
	}
	return notes
}

func noteFor(c domain.CellType, v float64, high bool) string {
	if c.IsPercentage() {
		word := "Reduced"
		if high {
			word = "Elevated"
		}
		return fmt.Sprintf("%s %s percentage (%s%%)", word, c.Label(), strconv.FormatFloat(v, 'f', -1, 64))
	}
	word := "Low"
	if high {
		word = "High"
	}
	return fmt.Sprintf("%s %s count (%s/µL)", word, c.Label(), groupThousands(int64(v)))
}

// groupThousands formats n with comma separators.
func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := false
	if n < 0 {
		neg = true
		s = s[1:]
	}
	out := make([]byte, 0, len(s)+len(s)/3)
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
