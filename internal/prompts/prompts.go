package prompts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/timmy/bloodcell/internal/domain"
)

// ============================================================================
// Explanation Prompts
// ============================================================================

// SystemPrompt defines the role and rules for the explanation model.
const SystemPrompt = `You are a medical AI assistant specializing in hematology. You explain automated blood smear analysis results to clinicians and patients.

Rules:
- Base every statement on the counts, abnormalities and conditions provided. Do not invent measurements.
- The conditions are heuristic pattern matches over cell-count thresholds, not validated diagnoses. Say so.
- Recommend clinical correlation and follow-up with a qualified healthcare professional.
- Use plain language and short paragraphs.`

// ExplanationInstructions is appended after the structured findings.
const ExplanationInstructions = `Please provide a detailed medical interpretation including:
1. Analysis of the white blood cell differential
2. Assessment of red blood cell and platelet counts
3. Clinical significance of findings
4. Potential underlying conditions
5. Recommended follow-up actions

Medical Interpretation:`

// FollowUpInstructions frames a follow-up question.
const FollowUpInstructions = `Answer the patient's question in a few sentences, consistent with the results and the previous answers above. If the question cannot be answered from these results, say so and recommend discussing it with a healthcare provider.`

// BuildExplanationPrompt renders the structured findings for the initial explanation.
// Parameters:
//   - r: completed analysis result.
//
// Returns:
//   - string: user prompt text.
func BuildExplanationPrompt(r domain.AnalysisResult) string {
	var b strings.Builder
	b.WriteString("Analyze the following blood cell analysis results and provide a comprehensive medical explanation.\n\n")
	writeFindings(&b, r)
	b.WriteString("\n")
	b.WriteString(ExplanationInstructions)
	return b.String()
}

// BuildFollowUpPrompt renders the findings, prior exchanges and the new question.
// Parameters:
//   - r: completed analysis result.
//   - history: prior exchanges, oldest first.
//   - question: new question.
//
// Returns:
//   - string: user prompt text.
func BuildFollowUpPrompt(r domain.AnalysisResult, history domain.ConversationContext, question string) string {
	var b strings.Builder
	b.WriteString("Based on the blood analysis results showing:\n\n")
	writeFindings(&b, r)

	if len(history) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, ex := range history {
			if ex.Question == "" {
				fmt.Fprintf(&b, "Assistant (initial explanation): %s\n", ex.Answer)
				continue
			}
			fmt.Fprintf(&b, "Patient: %s\nAssistant: %s\n", ex.Question, ex.Answer)
		}
	}

	fmt.Fprintf(&b, "\nPatient Question: %s\n\n%s\n\nMedical Response:", question, FollowUpInstructions)
	return b.String()
}

func writeFindings(b *strings.Builder, r domain.AnalysisResult) {
	c := r.CellCounts
	b.WriteString("Blood Cell Differential Count:\n")
	for _, t := range domain.CellTypes {
		if !t.IsPercentage() {
			continue
		}
		fmt.Fprintf(b, "- %s: %s%%\n", titleCase(string(t)), strconv.FormatFloat(c.Get(t), 'f', -1, 64))
	}
	b.WriteString("\nAbsolute Counts:\n")
	fmt.Fprintf(b, "- Platelets: %d/µL\n", c.Platelets)
	fmt.Fprintf(b, "- Red Blood Cells: %d/µL\n", c.RBCs)

	b.WriteString("\nDetected Abnormalities:\n")
	if len(r.Abnormalities) == 0 {
		b.WriteString("- None\n")
	}
	for _, a := range r.Abnormalities {
		fmt.Fprintf(b, "- %s\n", a)
	}

	b.WriteString("\nPotential Conditions Identified:\n")
	if len(r.Diseases) == 0 {
		b.WriteString("- None\n")
	}
	for _, d := range r.Diseases {
		fmt.Fprintf(b, "- %s (confidence: %d%%, severity: %s)\n", d.Name, d.Confidence, d.Severity)
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
