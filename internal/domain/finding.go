package domain

import "time"

// Severity is the coarse band a finding's confidence falls into.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// DiseaseFinding is one disease hypothesis produced by the inference engine.
type DiseaseFinding struct {
	Name       string   `json:"name"`
	Confidence int      `json:"confidence"`
	Severity   Severity `json:"severity"`
}

// AnalysisResult is the terminal output of a completed job.
type AnalysisResult struct {
	AnalysisID    string           `json:"analysis_id"`
	CellCounts    CellCounts       `json:"cell_counts"`
	Diseases      []DiseaseFinding `json:"diseases"`
	Abnormalities []string         `json:"abnormalities"`
	Confidence    float64          `json:"confidence"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Clone returns a copy that shares no slices with r.
func (r AnalysisResult) Clone() AnalysisResult {
	cp := r
	cp.Diseases = append([]DiseaseFinding{}, r.Diseases...)
	cp.Abnormalities = append([]string{}, r.Abnormalities...)
	return cp
}

// Exchange is one question/answer turn with the explanation model.
// The initial explanation is stored with an empty Question.
type Exchange struct {
	Question string    `json:"question,omitempty"`
	Answer   string    `json:"answer"`
	At       time.Time `json:"at"`
}

// ConversationContext is the ordered history of exchanges for one analysis.
type ConversationContext []Exchange

// Explanation returns the most recent initial explanation, if one was produced.
func (c ConversationContext) Explanation() (string, bool) {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i].Question == "" {
			return c[i].Answer, true
		}
	}
	return "", false
}

// FollowUps returns only the exchanges that answered a user question.
func (c ConversationContext) FollowUps() []Exchange {
	out := make([]Exchange, 0, len(c))
	for _, ex := range c {
		if ex.Question != "" {
			out = append(out, ex)
		}
	}
	return out
}
