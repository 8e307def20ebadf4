package explain

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/timmy/bloodcell/internal/domain"
	"github.com/timmy/bloodcell/internal/inference"
)

// Template produces deterministic explanations without calling a model.
type Template struct {
	ranges inference.RangeTable
}

// NewTemplate creates the offline explainer.
func NewTemplate() *Template {
	return &Template{ranges: inference.DefaultRanges}
}

// Name returns the provider name.
func (t *Template) Name() string { return ProviderTemplate }

// Explain renders a report for the initial request and a canned answer for follow-ups.
func (t *Template) Explain(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.IsFollowUp() {
		return t.answer(req.Question), nil
	}
	return t.report(req.Result), nil
}

type cannedAnswer struct {
	all    []string
	any    []string
	answer string
}

// cannedAnswers are checked in order; the first match wins.
var cannedAnswers = []cannedAnswer{
	{
		all:    []string{"neutrophil", "elevated"},
		answer: "An elevated neutrophil count typically indicates that the body is fighting a bacterial infection or responding to inflammation. This is a normal immune response, but the underlying cause should be identified and treated appropriately.",
	},
	{
		any:    []string{"concerned", "worry"},
		answer: "While some findings may be outside normal ranges, many variations are temporary or related to recent illness, stress or other factors. The most important step is to discuss these results with your healthcare provider, who can evaluate them in the context of your symptoms and medical history.",
	},
	{
		any:    []string{"follow-up", "next"},
		answer: "Based on these results, your doctor may recommend repeat blood work in a few weeks, additional tests to investigate specific findings, or treatment if an active condition is identified. The specific follow-up depends on your symptoms and clinical presentation.",
	},
	{
		all:    []string{"normal", "range"},
		answer: "Normal ranges vary slightly between laboratories, but generally neutrophils should be 50-70%, lymphocytes 20-40%, and platelets 150,000-450,000/µL. Your results are compared against these reference ranges.",
	},
}

const defaultAnswer = "That's a good question. For specific medical advice about your results, please discuss this directly with your healthcare provider, who can give personalized guidance based on your complete medical picture."

func (t *Template) answer(question string) string {
	q := strings.ToLower(question)
	for _, c := range cannedAnswers {
		if matchesAll(q, c.all) && matchesAny(q, c.any) {
			return c.answer
		}
	}
	return defaultAnswer
}

func matchesAll(q string, words []string) bool {
	for _, w := range words {
		if !strings.Contains(q, w) {
			return false
		}
	}
	return true
}

func matchesAny(q string, words []string) bool {
	if len(words) == 0 {
		return true
	}
	for _, w := range words {
		if strings.Contains(q, w) {
			return true
		}
	}
	return false
}

func (t *Template) report(r domain.AnalysisResult) string {
	c := r.CellCounts
	var b strings.Builder

	b.WriteString("Blood Cell Analysis Report\n\n")
	b.WriteString("White Blood Cell Differential:\n")
	for _, ct := range domain.CellTypes {
		if !ct.IsPercentage() {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s%% (%s)\n", ct.Label(), strconv.FormatFloat(c.Get(ct), 'f', -1, 64), t.position(ct, c.Get(ct)))
	}

	b.WriteString("\nRed Blood Cells and Platelets:\n")
	fmt.Fprintf(&b, "- Red blood cell count of %d/µL %s.\n", c.RBCs, t.position(domain.CellRBCs, float64(c.RBCs)))
	fmt.Fprintf(&b, "- Platelet count of %d/µL %s.\n", c.Platelets, t.position(domain.CellPlatelets, float64(c.Platelets)))

	b.WriteString("\nClinical Interpretation:\n")
	if len(r.Diseases) == 0 {
		b.WriteString("The sample shows no significant abnormalities. No disease pattern was matched by the automated rules.\n")
	} else {
		primary := r.Diseases[0]
		fmt.Fprintf(&b, "The strongest pattern is %s with %d%% confidence (%s severity).", strings.ToLower(primary.Name), primary.Confidence, primary.Severity)
		switch primary.Name {
		case inference.DiseaseBacterialInfection:
			b.WriteString(" An elevated neutrophil percentage, especially with relative lymphopenia, is a classic hallmark of acute bacterial infection.")
		case inference.DiseaseAnemia:
			b.WriteString(" This is consistent with the reduced red cell count and may warrant investigation of iron deficiency, chronic disease or blood loss.")
		case inference.DiseaseThrombocytopenia:
			b.WriteString(" A reduced platelet count may increase bleeding risk and should be confirmed on repeat testing.")
		}
		b.WriteString("\n")
		for _, d := range r.Diseases[1:] {
			fmt.Fprintf(&b, "- Also matched: %s (%d%%, %s)\n", d.Name, d.Confidence, d.Severity)
		}
	}

	if len(r.Abnormalities) > 0 {
		b.WriteString("\nObserved Abnormalities:\n")
		for _, a := range r.Abnormalities {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}

	b.WriteString("\nRecommendations:\n")
	b.WriteString("1. Interpret these findings together with symptoms, history and physical examination.\n")
	if c.Neutrophils > t.ranges[domain.CellNeutrophils].Max {
		b.WriteString("2. Consider blood culture and inflammatory markers (ESR, CRP) if infection is suspected.\n")
	} else {
		b.WriteString("2. Repeat the complete blood count if clinically indicated.\n")
	}
	fmt.Fprintf(&b, "\nOverall classifier confidence: %.1f%%.\n", r.Confidence*100)
	b.WriteString("This automated analysis is a heuristic aid, not a diagnosis. Findings must be confirmed by a qualified healthcare professional.")
	return b.String()
}

func (t *Template) position(ct domain.CellType, v float64) string {
	r, ok := t.ranges[ct]
	if !ok {
		return "no reference range"
	}
	bounds := fmt.Sprintf("%s-%s%s", strconv.FormatFloat(r.Min, 'f', -1, 64), strconv.FormatFloat(r.Max, 'f', -1, 64), r.Unit)
	switch {
	case r.Below(v):
		return "below the normal range " + bounds
	case r.Above(v):
		return "above the normal range " + bounds
	default:
		return "within the normal range " + bounds
	}
}
